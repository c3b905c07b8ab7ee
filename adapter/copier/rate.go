package copier

import (
	"errors"
	"io"
	"sync"
	"time"
)

// rateLimiter tracks how many bytes a copy has moved and makes sure
// copies stay under a configured bandwidth cap. Credits accumulate in a
// pool at a fixed interval; a copy's reads remove credits from the pool,
// and a reader blocks whenever the pool has gone negative.
type rateLimiter struct {
	c       chan struct{}
	stop    chan struct{}
	m       sync.Mutex
	credits int64
}

const rateInterval = 1 * time.Minute

// newRateLimiter returns a rateLimiter that admits bytesPerSecond on
// average, refilled in one lump sum every rateInterval.
func newRateLimiter(bytesPerSecond float64) *rateLimiter {
	amount := int64(bytesPerSecond * rateInterval.Seconds())
	r := &rateLimiter{
		c:       make(chan struct{}),
		stop:    make(chan struct{}),
		credits: amount,
	}
	go r.adder(amount)
	return r
}

func (r *rateLimiter) use(n int64) {
	r.m.Lock()
	r.credits -= n
	r.m.Unlock()
}

func (r *rateLimiter) ok() <-chan struct{} {
	return r.c
}

// stopLimiter ends the background refill goroutine. Panics if called
// twice.
func (r *rateLimiter) stopLimiter() {
	close(r.stop)
}

func (r *rateLimiter) adder(amount int64) {
	tick := time.NewTicker(rateInterval)
	defer tick.Stop()
	for {
		var signal chan struct{}
		r.m.Lock()
		if r.credits > 0 {
			signal = r.c
		}
		r.m.Unlock()
		select {
		case <-tick.C:
			r.use(-amount)
		case signal <- struct{}{}:
		case <-r.stop:
			close(r.c)
			return
		}
	}
}

// errRateLimiterStopped is returned by a wrapped reader once its
// governing rateLimiter has been stopped mid-copy.
var errRateLimiterStopped = errors.New("copier: rate limiter stopped")

// wrap returns a reader that blocks on reads until the rate limiter says
// current usage is OK, to bound the copy's effective bandwidth.
func (r *rateLimiter) wrap(reader io.Reader) io.Reader {
	return rateLimitedReader{reader: reader, limiter: r}
}

type rateLimitedReader struct {
	reader  io.Reader
	limiter *rateLimiter
}

func (r rateLimitedReader) Read(p []byte) (int, error) {
	_, ok := <-r.limiter.ok()
	if !ok {
		return 0, errRateLimiterStopped
	}
	n, err := r.reader.Read(p)
	r.limiter.use(int64(n))
	return n, err
}
