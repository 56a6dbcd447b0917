package engine

import (
	"context"
	"sync"
)

// serializer runs functions for the same key strictly one at a time in
// arrival order, while different keys proceed in parallel. Each caller
// chains behind the previous tail channel for its key.
type serializer struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

func newSerializer() *serializer {
	return &serializer{tails: make(map[string]chan struct{})}
}

func (s *serializer) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	prev := s.tails[key]
	done := make(chan struct{})
	s.tails[key] = done
	s.mu.Unlock()

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			// A cancelled waiter still owns a link in the chain. Its
			// baton may only pass once the predecessor has finished,
			// otherwise the successor would enter the critical section
			// while the predecessor is still inside it.
			go func() {
				<-prev
				s.release(key, done)
			}()
			return ctx.Err()
		}
	}

	defer s.release(key, done)
	return fn(ctx)
}

// release passes the baton and retires the tail entry if no later
// caller has chained behind it.
func (s *serializer) release(key string, done chan struct{}) {
	close(done)
	s.mu.Lock()
	if s.tails[key] == done {
		delete(s.tails, key)
	}
	s.mu.Unlock()
}
