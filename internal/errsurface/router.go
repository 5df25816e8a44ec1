package errsurface

import (
	"log/slog"
	"sync"
)

// Router keeps one Surface per principal and hands each permission error to
// the surface of the principal whose request was denied. Errors without a
// principal go to the surface for the empty user id.
type Router struct {
	logger *slog.Logger

	mu       sync.Mutex
	surfaces map[string]*Surface
}

func NewRouter(logger *slog.Logger) *Router {
	return &Router{logger: logger, surfaces: make(map[string]*Surface)}
}

// Mount subscribes the router to em and returns the unsubscribe func.
func (r *Router) Mount(em *Emitter) (unmount func()) {
	return em.On(EventPermissionError, r.route)
}

func (r *Router) route(err *PermissionError) {
	uid := ""
	if err.Principal != nil {
		uid = err.Principal.UserID
	}
	r.For(uid).handle(err)
}

// For returns the surface for userID, creating it on first use.
func (r *Router) For(userID string) *Surface {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.surfaces[userID]
	if !ok {
		s = NewSurface(r.logger.With("user_id", userID))
		r.surfaces[userID] = s
	}
	return s
}
