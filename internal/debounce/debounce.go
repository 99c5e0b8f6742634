// Package debounce coalesces bursts of triggers into one delayed action per key.
package debounce

import (
	"sync"
	"time"
)

type pending struct {
	timer  *time.Timer
	gen    uint64
	action func()
}

// Scheduler runs at most one pending action per key. Scheduling under a key
// that already has a pending action cancels it and re-arms with the new
// action, so a burst produces a single run once the key goes quiet. Keys are
// independent: activity on one never delays another.
type Scheduler struct {
	mu      sync.Mutex
	gen     uint64
	pending map[string]*pending
	stopped bool
}

func New() *Scheduler {
	return &Scheduler{pending: make(map[string]*pending)}
}

// Schedule arms action to run after delay unless key is scheduled again first.
func (s *Scheduler) Schedule(key string, delay time.Duration, action func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if prev, ok := s.pending[key]; ok {
		prev.timer.Stop()
	}
	s.gen++
	gen := s.gen
	entry := &pending{gen: gen, action: action}
	entry.timer = time.AfterFunc(delay, func() { s.fire(key, gen) })
	s.pending[key] = entry
}

// fire runs the action only if it is still the current one for key. A timer
// that was stopped too late to prevent its callback loses here.
func (s *Scheduler) fire(key string, gen uint64) {
	s.mu.Lock()
	entry, ok := s.pending[key]
	if !ok || entry.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.pending, key)
	s.mu.Unlock()
	entry.action()
}

// Cancel drops the pending action for key. It reports whether one was pending.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.pending[key]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(s.pending, key)
	return true
}

func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[key]
	return ok
}

// Flush runs every pending action now, synchronously, in no particular order.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	actions := make([]func(), 0, len(s.pending))
	for key, entry := range s.pending {
		entry.timer.Stop()
		actions = append(actions, entry.action)
		delete(s.pending, key)
	}
	s.mu.Unlock()
	for _, action := range actions {
		action()
	}
}

// Stop cancels everything and refuses further scheduling.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for key, entry := range s.pending {
		entry.timer.Stop()
		delete(s.pending, key)
	}
}
