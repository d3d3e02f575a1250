package stream

import (
	"sync"

	"loom/internal/types"
)

type stateSubscriber struct {
	id int
	ch chan *types.StreamState
}

// stateHub fans post-transition snapshots out to subscribers. Delivery is
// non-blocking: a subscriber that falls behind misses intermediate snapshots,
// never stalls the event path.
type stateHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*stateSubscriber
}

func newStateHub() *stateHub {
	return &stateHub{
		subs: make(map[int]*stateSubscriber),
	}
}

func (h *stateHub) Add() (<-chan *types.StreamState, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	ch := make(chan *types.StreamState, 64)
	h.subs[id] = &stateSubscriber{id: id, ch: ch}
	cancel := func() {
		h.mu.Lock()
		sub, ok := h.subs[id]
		if ok {
			delete(h.subs, id)
		}
		h.mu.Unlock()
		if ok {
			close(sub.ch)
		}
	}
	return ch, cancel
}

func (h *stateHub) Broadcast(state *types.StreamState) {
	if state == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		select {
		case sub.ch <- state:
		default:
		}
	}
}
