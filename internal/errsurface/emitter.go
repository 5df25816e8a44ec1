package errsurface

import "sync"

type Event string

const EventPermissionError Event = "permission-error"

type Handler func(*PermissionError)

type subscription struct {
	id uint64
	h  Handler
}

// Emitter is a named-event publish/subscribe channel. Construct one per
// application and pass it to producers and consumers explicitly.
type Emitter struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[Event][]subscription
}

func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[Event][]subscription)}
}

// On registers h for ev and returns a func that removes it. Calling the
// returned func more than once is harmless.
func (e *Emitter) On(ev Event, h Handler) (off func()) {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.handlers[ev] = append(e.handlers[ev], subscription{id: id, h: h})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { e.off(ev, id) })
	}
}

func (e *Emitter) off(ev Event, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	subs := e.handlers[ev]
	for i, s := range subs {
		if s.id == id {
			e.handlers[ev] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(e.handlers[ev]) == 0 {
		delete(e.handlers, ev)
	}
}

// Emit calls every handler registered for ev, in registration order, on the
// caller's goroutine. It returns the number of handlers called.
func (e *Emitter) Emit(ev Event, err *PermissionError) int {
	e.mu.RLock()
	subs := append([]subscription(nil), e.handlers[ev]...)
	e.mu.RUnlock()

	for _, s := range subs {
		s.h(err)
	}
	return len(subs)
}

func (e *Emitter) Listeners(ev Event) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers[ev])
}
