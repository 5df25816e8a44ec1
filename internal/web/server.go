package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vbonduro/buildtrack/internal/auth"
	"github.com/vbonduro/buildtrack/internal/errsurface"
	"github.com/vbonduro/buildtrack/internal/gateway"
	"github.com/vbonduro/buildtrack/internal/metrics"
	"github.com/vbonduro/buildtrack/internal/service"
)

// AuthConfig controls principal lookup. Requests without a bearer token act
// as Fallback, which may be nil to require a token.
type AuthConfig struct {
	Secret   string
	Fallback *auth.Principal
}

type Server struct {
	service  *service.ProjectService
	errors   *errsurface.Router
	auth     AuthConfig
	mux      *http.ServeMux
	logger   *slog.Logger
	handler  http.Handler
	pollWait time.Duration
}

func NewServer(svc *service.ProjectService, errs *errsurface.Router, authCfg AuthConfig, logger *slog.Logger) *Server {
	s := &Server{
		service:  svc,
		errors:   errs,
		auth:     authCfg,
		mux:      http.NewServeMux(),
		logger:   logger,
		pollWait: 30 * time.Second,
	}
	s.registerRoutes()
	s.handler = requestLogger(logger, securityHeaders(
		auth.Middleware(authCfg.Secret, authCfg.Fallback, logger)(instrument(s.mux)),
	))
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	s.mux.Handle("GET /metrics", promhttp.Handler())

	s.mux.HandleFunc("GET /projects", s.handleListProjects)
	s.mux.HandleFunc("POST /projects", s.handleCreateProject)
	s.mux.HandleFunc("GET /projects/{id}", s.handleGetProject)
	s.mux.HandleFunc("DELETE /projects/{id}", s.handleDeleteProject)
	s.mux.HandleFunc("GET /projects/{id}/events", s.handleWatchProject)
	s.mux.HandleFunc("POST /projects/{id}/phases/{phaseID}/advance", s.handleAdvancePhase)
	s.mux.HandleFunc("POST /projects/{id}/phases/{phaseID}/checkpoints/{checkpointID}/advance", s.handleAdvanceCheckpoint)
	s.mux.HandleFunc("PUT /projects/{id}/phases/{phaseID}/checkpoints/{checkpointID}/notes", s.handleSetNotes)
	s.mux.HandleFunc("PUT /projects/{id}/phases/{phaseID}/checkpoints/{checkpointID}/fields/{fieldID}", s.handleSetFieldValue)
	s.mux.HandleFunc("PUT /projects/{id}/tasks/{taskID}", s.handleSetTask)
	s.mux.HandleFunc("POST /projects/{id}/photos", s.handleUploadPhoto)
	s.mux.HandleFunc("PUT /projects/{id}/photos/{photoID}/comment", s.handleSetPhotoComment)
	s.mux.HandleFunc("DELETE /projects/{id}/photos/{photoID}", s.handleDeletePhoto)
	s.mux.HandleFunc("POST /projects/{id}/files", s.handleUploadFile)
	s.mux.HandleFunc("GET /projects/{id}/files/{key}", s.handleGetFile)
	s.mux.HandleFunc("POST /projects/{id}/subcontractors", s.handleAddSubcontractor)
	s.mux.HandleFunc("DELETE /projects/{id}/subcontractors/{subcontractorID}", s.handleDeleteSubcontractor)

	s.mux.HandleFunc("GET /errors", s.handleGetError)
	s.mux.HandleFunc("POST /errors/ack", s.handleAckError)
}

// securityHeaders adds defensive HTTP response headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", "default-src 'none'; img-src 'self'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the written status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush lets streaming handlers flush through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// instrument records request latency labelled by the matched route pattern,
// which the mux stores on the request it is handed.
func instrument(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		mux.ServeHTTP(rec, r)
		pattern := r.Pattern
		if pattern == "" {
			pattern = "unmatched"
		}
		metrics.RecordHTTPRequestDuration(r.Method, pattern, strconv.Itoa(rec.status), time.Since(start))
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.logger.Info("starting server", "addr", addr)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 0, // event streams stay open
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps service errors to status codes. Unexpected errors are
// logged and reported without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrProjectNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidProject), errors.Is(err, service.ErrInvalidValue),
		errors.Is(err, service.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, gateway.ErrPermissionDenied):
		status = http.StatusForbidden
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, status, errorBody{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}
