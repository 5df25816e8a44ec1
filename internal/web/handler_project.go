package web

import (
	"encoding/json"
	"net/http"

	"github.com/vbonduro/buildtrack/internal/domain"
	"github.com/vbonduro/buildtrack/internal/service"
)

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.service.ListProjects(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var in service.NewProject
	if !decodeBody(w, r, &in) {
		return
	}
	p, err := s.service.CreateProject(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/projects/"+p.ID)
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.service.GetProject(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteProject(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Mutation handlers answer with the optimistic snapshot: the write may still
// be queued, and a later denial arrives on /errors instead of here.

func (s *Server) handleAdvancePhase(w http.ResponseWriter, r *http.Request) {
	p, err := s.service.AdvancePhase(r.Context(), r.PathValue("id"), r.PathValue("phaseID"))
	s.writeSnapshot(w, r, p, err)
}

func (s *Server) handleAdvanceCheckpoint(w http.ResponseWriter, r *http.Request) {
	p, err := s.service.AdvanceCheckpoint(r.Context(), r.PathValue("id"), r.PathValue("phaseID"), r.PathValue("checkpointID"))
	s.writeSnapshot(w, r, p, err)
}

func (s *Server) handleSetNotes(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Notes string `json:"notes"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	p, err := s.service.SetCheckpointNotes(r.Context(), r.PathValue("id"), r.PathValue("phaseID"), r.PathValue("checkpointID"), body.Notes)
	s.writeSnapshot(w, r, p, err)
}

func (s *Server) handleSetFieldValue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Value domain.Value `json:"value"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	p, err := s.service.SetFieldValue(r.Context(), r.PathValue("id"), r.PathValue("phaseID"), r.PathValue("checkpointID"), r.PathValue("fieldID"), body.Value)
	s.writeSnapshot(w, r, p, err)
}

func (s *Server) handleSetTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Completed bool `json:"completed"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	p, err := s.service.SetTaskCompleted(r.Context(), r.PathValue("id"), r.PathValue("taskID"), body.Completed)
	s.writeSnapshot(w, r, p, err)
}

func (s *Server) handleSetPhotoComment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Comment string `json:"comment"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	p, err := s.service.SetPhotoComment(r.Context(), r.PathValue("id"), r.PathValue("photoID"), body.Comment)
	s.writeSnapshot(w, r, p, err)
}

func (s *Server) handleDeletePhoto(w http.ResponseWriter, r *http.Request) {
	p, err := s.service.DeletePhoto(r.Context(), r.PathValue("id"), r.PathValue("photoID"))
	s.writeSnapshot(w, r, p, err)
}

func (s *Server) handleAddSubcontractor(w http.ResponseWriter, r *http.Request) {
	var in service.NewSubcontractor
	if !decodeBody(w, r, &in) {
		return
	}
	sub, err := s.service.AddSubcontractor(r.Context(), r.PathValue("id"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleDeleteSubcontractor(w http.ResponseWriter, r *http.Request) {
	p, err := s.service.DeleteSubcontractor(r.Context(), r.PathValue("id"), r.PathValue("subcontractorID"))
	s.writeSnapshot(w, r, p, err)
}

func (s *Server) writeSnapshot(w http.ResponseWriter, r *http.Request, p *domain.Project, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleWatchProject streams the project as server-sent events, one "data:"
// event per change. A failed read is sent as an "error" event and ends the
// stream.
func (s *Server) handleWatchProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	updates, err := s.service.WatchProject(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher, canFlush := w.(http.Flusher)

	for u := range updates {
		if r.Context().Err() != nil {
			return
		}
		if u.Err != nil {
			msg, _ := json.Marshal(errorBody{Error: u.Err.Error()})
			if _, err := w.Write([]byte("event: error\ndata: " + string(msg) + "\n\n")); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
			s.logger.Warn("watch stream ended", "project_id", id, "error", u.Err)
			return
		}
		data, err := json.Marshal(u.Value)
		if err != nil {
			s.logger.Error("encode project event failed", "project_id", id, "error", err)
			return
		}
		if _, err := w.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}
}
