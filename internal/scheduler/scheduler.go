// Package scheduler implements the FIFO admission policy that keeps
// at most MAX_CONCURRENT_DOWNLOADS entries in the `downloading` state,
// promoting queued entries in registration order as slots free up.
package scheduler

import (
	"sync"

	"github.com/mkoru/multifetch/internal/registry"
)

// Starter begins downloading a single queued entry. It is the
// Supervisor's Start method in production; tests supply a fake.
type Starter func(entry *registry.Entry)

// Scheduler runs the admission algorithm on demand. It holds no
// background goroutine of its own: the engine calls Tick after every
// transition that could free or consume a slot (a download finishing,
// erroring, being paused, or a new one being queued), per the
// event-driven design note.
type Scheduler struct {
	reg           *registry.Registry
	maxConcurrent int
	start         Starter

	mu sync.Mutex // serializes Tick so two concurrent callers can't both admit into the same freed slot
}

// New creates a Scheduler bounded by maxConcurrent simultaneous
// downloads.
func New(reg *registry.Registry, maxConcurrent int, start Starter) *Scheduler {
	return &Scheduler{
		reg:           reg,
		maxConcurrent: maxConcurrent,
		start:         start,
	}
}

// Tick admits as many queued entries as there are free slots,
// earliest-registered first.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	free := s.maxConcurrent - s.reg.CountByStatus(registry.StatusDownloading)
	if free <= 0 {
		return
	}

	for _, id := range s.reg.QueuedInOrder() {
		if free <= 0 {
			break
		}
		entry, ok := s.reg.Get(id)
		if !ok {
			continue
		}
		s.start(entry)
		free--
	}
}

// SetMaxConcurrent adjusts the admission bound, taking effect on the
// next Tick.
func (s *Scheduler) SetMaxConcurrent(max int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxConcurrent = max
}
