package services

import (
	"sync"
	"sync/atomic"
	"time"

	"peerlink/internal/core/ports"
)

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// LoopScheduler fires callbacks through post, which hands them to the
// client event loop. A timer stopped on the loop never runs its callback,
// even if the underlying timer already fired and the callback is queued.
type LoopScheduler struct {
	post func(func())
}

func NewLoopScheduler(post func(func())) *LoopScheduler {
	return &LoopScheduler{post: post}
}

type loopTimer struct {
	stopped atomic.Bool
	once    sync.Once
	cancel  func()
}

func (t *loopTimer) Stop() bool {
	wasActive := !t.stopped.Swap(true)
	t.once.Do(t.cancel)
	return wasActive
}

func (s *LoopScheduler) AfterFunc(d time.Duration, fn func()) ports.Timer {
	lt := &loopTimer{}
	timer := time.AfterFunc(d, func() {
		s.post(func() {
			if lt.stopped.Swap(true) {
				return
			}
			fn()
		})
	})
	lt.cancel = func() { timer.Stop() }
	return lt
}

func (s *LoopScheduler) Every(d time.Duration, fn func()) ports.Timer {
	lt := &loopTimer{}
	done := make(chan struct{})
	ticker := time.NewTicker(d)
	lt.cancel = func() {
		ticker.Stop()
		close(done)
	}

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				s.post(func() {
					if !lt.stopped.Load() {
						fn()
					}
				})
			}
		}
	}()
	return lt
}
