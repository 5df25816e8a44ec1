package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/vbonduro/buildtrack/internal/auth"
	"github.com/vbonduro/buildtrack/internal/errsurface"
)

type errorState struct {
	State    string           `json:"state"`
	Received uint64           `json:"received"`
	Error    *permissionError `json:"error,omitempty"`
}

type permissionError struct {
	Message   string               `json:"message"`
	Path      string               `json:"path"`
	Operation errsurface.Operation `json:"operation"`
	Request   json.RawMessage      `json:"request"`
}

func (s *Server) surfaceFor(r *http.Request) *errsurface.Surface {
	uid := ""
	if p := auth.FromContext(r.Context()); p != nil {
		uid = p.UserID
	}
	return s.errors.For(uid)
}

func snapshot(sf *errsurface.Surface) errorState {
	state, cur := sf.Current()
	out := errorState{State: state.String(), Received: sf.Received()}
	if cur != nil {
		out.Error = &permissionError{
			Message:   cur.Error(),
			Path:      cur.Path,
			Operation: cur.Operation,
			Request:   cur.Request(),
		}
	}
	return out
}

// handleGetError reports the caller's error surface. With ?wait=<duration>
// and an idle surface it holds the request until an error arrives or the
// wait elapses.
func (s *Server) handleGetError(w http.ResponseWriter, r *http.Request) {
	sf := s.surfaceFor(r)

	if raw := r.URL.Query().Get("wait"); raw != "" {
		wait, err := time.ParseDuration(raw)
		if err != nil || wait < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid wait duration"})
			return
		}
		wait = min(wait, s.pollWait)
		changed := sf.Changed()
		if state, _ := sf.Current(); state == errsurface.StateIdle {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-changed:
			case <-timer.C:
			case <-r.Context().Done():
				return
			}
		}
	}
	writeJSON(w, http.StatusOK, snapshot(sf))
}

func (s *Server) handleAckError(w http.ResponseWriter, r *http.Request) {
	acknowledged := s.surfaceFor(r).Acknowledge()
	writeJSON(w, http.StatusOK, map[string]bool{"acknowledged": acknowledged})
}
