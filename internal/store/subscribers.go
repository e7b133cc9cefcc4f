package store

import "sync"

// subscribers is the in-process observable UI consumers attach to. It is
// deliberately separate from the cross-node watch path: storage
// notifications only ever trigger a reload, while subscriber ticks only ever
// follow an in-memory state change.
type subscribers struct {
	mu   sync.Mutex
	next int
	chs  map[int]chan struct{}
}

// add registers a listener and returns its channel plus a cancel func.
// Channels are buffered with one pending tick; a listener that has not yet
// drained the previous tick coalesces rather than queues.
func (s *subscribers) add() (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.chs == nil {
		s.chs = make(map[int]chan struct{})
	}
	id := s.next
	s.next++
	ch := make(chan struct{}, 1)
	s.chs[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.chs[id]; ok {
			delete(s.chs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// notify ticks every listener without blocking.
func (s *subscribers) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.chs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
