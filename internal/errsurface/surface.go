package errsurface

import (
	"log/slog"
	"sync"
)

type State int

const (
	StateIdle State = iota
	StateError
)

func (s State) String() string {
	if s == StateError {
		return "error"
	}
	return "idle"
}

// Surface is the consumer side of the channel for one UI session. It moves
// to StateError when a permission error arrives and back to StateIdle only
// when the user acknowledges it. A newer error replaces the one on display.
type Surface struct {
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	current  *PermissionError
	received uint64
	changed  chan struct{}
	unmount  func()
	mount    uint64
}

func NewSurface(logger *slog.Logger) *Surface {
	return &Surface{logger: logger, changed: make(chan struct{})}
}

// Mount subscribes the surface to em. Mounting again first unmounts the
// previous subscription. The returned func unsubscribes.
func (s *Surface) Mount(em *Emitter) (unmount func()) {
	off := em.On(EventPermissionError, s.handle)

	s.mu.Lock()
	prev := s.unmount
	s.mount++
	gen := s.mount
	s.unmount = off
	s.mu.Unlock()

	if prev != nil {
		prev()
	}
	return func() {
		off()
		s.mu.Lock()
		if s.mount == gen {
			s.unmount = nil
		}
		s.mu.Unlock()
	}
}

func (s *Surface) handle(err *PermissionError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateError {
		s.logger.Warn("replacing unacknowledged permission error", "previous_path", s.current.Path, "path", err.Path)
	}
	s.state = StateError
	s.current = err
	s.received++
	s.notifyLocked()
}

// Current returns the state and, in StateError, the payload on display.
func (s *Surface) Current() (State, *PermissionError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.current
}

// Received counts permission errors delivered since the surface was created.
func (s *Surface) Received() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received
}

// Acknowledge clears the error. It reports whether there was one.
func (s *Surface) Acknowledge() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle {
		return false
	}
	s.state = StateIdle
	s.current = nil
	s.notifyLocked()
	return true
}

// Changed returns a channel that is closed on the next state transition.
func (s *Surface) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

func (s *Surface) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}
