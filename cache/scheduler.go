package cache

import (
	"time"

	"github.com/benbjohnson/clock"
)

// WorkerInterval is how often the subscribed-object validation task
// runs, per spec.md §4.7.
const WorkerInterval = 15 * time.Second

// CleanerInterval is how often the dirType cleanup task runs, per
// spec.md §4.7.
const CleanerInterval = 120 * time.Second

// DirTypeIdleThreshold is how long a dirType object may go without
// being accessed (its lastAccessAt) before CleanupDirTypes removes it.
// Implementation-chosen, like spec.md §5's MaxUniqueFileIndex.
const DirTypeIdleThreshold = 10 * time.Minute

// Scheduler runs the two repeating maintenance tasks of spec.md §4.7.
// It is cooperative in spirit: each tick calls straight into Set, whose
// own per-type locking is what actually serializes maintenance against
// concurrent request handling (the engine has no single giant lock to
// hold across a tick, unlike the C++ original's single-threaded
// reactor). Runs two independent periods off an injected clock.Clock so
// tests can advance time instead of sleeping.
type Scheduler struct {
	set   *Set
	clock clock.Clock
	done  chan struct{}
}

// NewScheduler creates a Scheduler for set. Call Start to begin running
// tasks, Stop to end them.
func NewScheduler(set *Set, clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{set: set, clock: clk, done: make(chan struct{})}
}

// Start launches the background goroutines for both tasks.
func (s *Scheduler) Start() {
	go s.runWorker()
	go s.runCleaner()
}

// Stop ends both background goroutines. Safe to call once.
func (s *Scheduler) Stop() {
	close(s.done)
}

// runWorker is the 15s WorkerHandler: CleanupOrphans, then validate
// every currently subscribed object.
func (s *Scheduler) runWorker() {
	t := s.clock.Ticker(WorkerInterval)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			s.set.CleanupOrphans()
			s.set.ValidateSubscribed()
		}
	}
}

// runCleaner is the 120s CleanerHandler: CleanupDirTypes.
func (s *Scheduler) runCleaner() {
	t := s.clock.Ticker(CleanerInterval)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			s.set.CleanupDirTypes(DirTypeIdleThreshold)
		}
	}
}

// RunWorkerOnce runs the 15s task's body immediately, for tests.
func (s *Scheduler) RunWorkerOnce() {
	s.set.CleanupOrphans()
	s.set.ValidateSubscribed()
}

// RunCleanerOnce runs the 120s task's body immediately.
func (s *Scheduler) RunCleanerOnce() {
	s.set.CleanupDirTypes(DirTypeIdleThreshold)
}
