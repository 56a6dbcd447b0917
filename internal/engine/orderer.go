package engine

import (
	"context"
	"sync"
)

// orderer hands out per-key tickets at arrival time and releases
// waiters in ticket order. Message extraction runs concurrently, but
// results are applied in the order the messages arrived.
type orderer struct {
	mu    sync.Mutex
	lanes map[string]*lane
}

type lane struct {
	next    uint64 // next ticket to hand out
	serving uint64 // ticket currently allowed to proceed
	done    map[uint64]bool
	waiters map[uint64]chan struct{}
}

func newOrderer() *orderer {
	return &orderer{lanes: make(map[string]*lane)}
}

// Take reserves the caller's position in the key's lane. It must be
// called before any concurrent work whose results need ordering.
func (o *orderer) Take(key string) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	l := o.lanes[key]
	if l == nil {
		l = &lane{done: make(map[uint64]bool), waiters: make(map[uint64]chan struct{})}
		o.lanes[key] = l
	}
	t := l.next
	l.next++
	return t
}

// Wait blocks until the ticket is first in line.
func (o *orderer) Wait(ctx context.Context, key string, ticket uint64) error {
	o.mu.Lock()
	l := o.lanes[key]
	if l == nil || ticket <= l.serving {
		o.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	l.waiters[ticket] = ch
	o.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		o.mu.Lock()
		if cur := o.lanes[key]; cur != nil {
			delete(cur.waiters, ticket)
		}
		o.mu.Unlock()
		return ctx.Err()
	}
}

// Done releases the ticket's slot. Every Take must be paired with a
// Done, including failure paths, or the lane stalls. A ticket finished
// out of turn stays buffered; serving advances only through the
// longest consecutive run of completed tickets, so an early failure on
// a later ticket never jumps the queue past in-flight earlier ones.
func (o *orderer) Done(key string, ticket uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	l := o.lanes[key]
	if l == nil {
		return
	}
	l.done[ticket] = true
	for l.done[l.serving] {
		delete(l.done, l.serving)
		l.serving++
		if ch, ok := l.waiters[l.serving]; ok {
			close(ch)
			delete(l.waiters, l.serving)
		}
	}
	if l.serving == l.next && len(l.waiters) == 0 && len(l.done) == 0 {
		delete(o.lanes, key)
	}
}
