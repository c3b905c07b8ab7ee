// Package copier implements the asynchronous file-copy utility spec.md
// §4.8 describes as an external collaborator: "the core does not await
// the copy" (§9's Coroutine control flow design note). Submit enqueues a
// copy and returns immediately; a fixed-size worker pool performs the
// actual data movement and invokes the caller's reply once done.
package copier

import (
	"bytes"
	"context"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/ndcache/filecache/adapter"
)

// Copier moves bytes from a cached object's source path to a copy
// destination without blocking the submitting goroutine. The source is
// read through a read-only mmap: a zero-copy view over a file too large
// to want to buffer wholesale. Concurrency is bounded by a gate so a
// burst of copy requests cannot exhaust file descriptors or
// memory-mapped regions; bandwidth is optionally bounded by a
// rateLimiter.
type Copier struct {
	gate    gate
	limiter *rateLimiter
	queue   chan job
	done    chan struct{}
}

type job struct {
	ctx   context.Context
	req   adapter.CopyRequest
	reply func(adapter.CopyResult)
}

// Options configures a Copier.
type Options struct {
	// MaxConcurrent bounds how many copies run at once. Defaults to 4.
	MaxConcurrent int
	// MaxBytesPerSecond, if nonzero, bounds aggregate copy bandwidth.
	MaxBytesPerSecond float64
	// QueueDepth bounds how many pending Submit calls are buffered
	// before Submit itself starts blocking. Defaults to 64.
	QueueDepth int
}

// New creates a Copier and starts its background workers. Call Close to
// stop them.
func New(opts Options) *Copier {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 64
	}
	c := &Copier{
		gate:  newGate(opts.MaxConcurrent),
		queue: make(chan job, opts.QueueDepth),
		done:  make(chan struct{}),
	}
	if opts.MaxBytesPerSecond > 0 {
		c.limiter = newRateLimiter(opts.MaxBytesPerSecond)
	}
	go c.dispatch()
	return c
}

// Submit implements adapter.Copier. It never blocks on the copy itself;
// it only enqueues the job, returning ArgumentError-free as long as the
// queue has room (a full queue applies natural backpressure by
// blocking the caller until a slot frees up).
func (c *Copier) Submit(ctx context.Context, req adapter.CopyRequest, reply func(adapter.CopyResult)) error {
	select {
	case c.queue <- job{ctx: ctx, req: req, reply: reply}:
		return nil
	case <-c.done:
		return context.Canceled
	}
}

// Close stops accepting new work and returns without waiting. Copies
// already running keep going and still reply; jobs still queued are not
// started. With MaxBytesPerSecond set, Close also stops the rate limiter,
// so running copies fail their next read with errRateLimiterStopped.
func (c *Copier) Close() {
	close(c.done)
	if c.limiter != nil {
		c.limiter.stopLimiter()
	}
}

func (c *Copier) dispatch() {
	for {
		select {
		case j := <-c.queue:
			c.gate.enter()
			go c.run(j)
		case <-c.done:
			return
		}
	}
}

func (c *Copier) run(j job) {
	defer c.gate.leave()
	err := c.copyOne(j.req)
	if j.reply != nil {
		j.reply(adapter.CopyResult{Destination: j.req.Destination, Err: err})
	}
}

func (c *Copier) copyOne(req adapter.CopyRequest) error {
	src, err := os.Open(req.SourcePath)
	if err != nil {
		return err
	}
	defer src.Close()

	fi, err := src.Stat()
	if err != nil {
		return err
	}

	var reader io.Reader
	if fi.Size() > 0 {
		m, err := mmap.Map(src, mmap.RDONLY, 0)
		if err != nil {
			return err
		}
		defer m.Unmap()
		reader = bytes.NewReader([]byte(m))
	} else {
		reader = src
	}
	if c.limiter != nil {
		reader = c.limiter.wrap(reader)
	}

	dst, err := os.Create(req.Destination)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, reader); err != nil {
		return err
	}
	return dst.Sync()
}
