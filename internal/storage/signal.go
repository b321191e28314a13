package storage

import (
	"sync"
	"sync/atomic"
)

// signals fans a change notification out to subscribers without blocking.
// A full subscriber already has a pending signal, so dropping is harmless.
type signals struct {
	mu   sync.RWMutex
	subs map[uint64]chan struct{}
	seq  atomic.Uint64
}

func (s *signals) subscribe(buffer int) (<-chan struct{}, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan struct{}, buffer)
	id := s.seq.Add(1)

	s.mu.Lock()
	if s.subs == nil {
		s.subs = map[uint64]chan struct{}{}
	}
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(ch)
			}
		})
	}
}

func (s *signals) notify() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *signals) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
}
