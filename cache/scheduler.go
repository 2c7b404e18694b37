package cache

import (
	"context"
	"sync"
	"time"
)

// scheduler runs sweep on a fixed interval until its parent context is done.
// It has its own lock and never touches the Manager's.
type scheduler struct {
	parent context.Context
	sweep  func()

	mu       sync.Mutex
	interval time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func newScheduler(parent context.Context, sweep func()) *scheduler {
	return &scheduler{parent: parent, sweep: sweep}
}

// reset stops the running loop, waiting for an in-flight sweep to complete,
// and starts a new one at interval d. d <= 0 leaves the scheduler stopped.
func (s *scheduler) reset(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.interval = d
	if d <= 0 || s.parent.Err() != nil {
		return
	}
	ctx, cancel := context.WithCancel(s.parent)
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx, d)
}

func (s *scheduler) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.interval = 0
}

func (s *scheduler) stopLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.wg.Wait()
}

func (s *scheduler) current() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

func (s *scheduler) run(ctx context.Context, d time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}
