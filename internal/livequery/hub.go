// Package livequery re-runs subscribed queries whenever the store reports a
// change under their key and pushes the fresh result to the subscriber.
package livequery

import (
	"context"
	"strings"
	"sync"
)

type Result[T any] struct {
	Value T
	Err   error
}

// Hub tracks subscriptions by key. A key is a document path or a collection
// path; Notify on a document path also wakes subscribers of its collection.
type Hub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*subscriber
}

type subscriber struct {
	key  string
	wake chan struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*subscriber)}
}

// Notify schedules a re-run of every subscription whose key is path or a
// parent of path. Notifications coalesce: a subscriber busy delivering a
// result re-runs once afterwards however many changes arrived meanwhile.
func (h *Hub) Notify(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs {
		if s.key == path || strings.HasPrefix(path, s.key+"/") {
			select {
			case s.wake <- struct{}{}:
			default:
			}
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) add(key string) (uint64, *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	s := &subscriber{key: key, wake: make(chan struct{}, 1)}
	h.subs[h.nextID] = s
	return h.nextID, s
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

// Subscribe runs fetch immediately and again after every Notify matching key,
// sending each result on the returned channel. The channel is closed once ctx
// is done.
func Subscribe[T any](ctx context.Context, h *Hub, key string, fetch func(context.Context) (T, error)) <-chan Result[T] {
	id, sub := h.add(key)
	out := make(chan Result[T])

	go func() {
		defer close(out)
		defer h.remove(id)
		for {
			v, err := fetch(ctx)
			if ctx.Err() != nil {
				return
			}
			select {
			case out <- Result[T]{Value: v, Err: err}:
			case <-ctx.Done():
				return
			}
			select {
			case <-sub.wake:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
