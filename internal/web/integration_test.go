package web_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/buildtrack/internal/auth"
	"github.com/vbonduro/buildtrack/internal/catalog"
	"github.com/vbonduro/buildtrack/internal/db"
	"github.com/vbonduro/buildtrack/internal/docref"
	"github.com/vbonduro/buildtrack/internal/domain"
	"github.com/vbonduro/buildtrack/internal/errsurface"
	"github.com/vbonduro/buildtrack/internal/filestore/local"
	"github.com/vbonduro/buildtrack/internal/gateway"
	"github.com/vbonduro/buildtrack/internal/livequery"
	"github.com/vbonduro/buildtrack/internal/progress"
	"github.com/vbonduro/buildtrack/internal/service"
	"github.com/vbonduro/buildtrack/internal/store"
	"github.com/vbonduro/buildtrack/internal/web"
)

const testSecret = "integration-secret"

// minimalJPEG is 512 bytes with the JPEG magic bytes header followed by zeros.
// http.DetectContentType identifies JPEG from the leading 0xFF 0xD8 bytes.
var minimalJPEG = func() []byte {
	b := make([]byte, 512)
	b[0] = 0xFF
	b[1] = 0xD8
	b[2] = 0xFF
	b[3] = 0xE0
	return b
}()

// updateDenier refuses every update, like a rules deployment that lags
// behind the client.
type updateDenier struct {
	gateway.Backend
}

func (d updateDenier) Update(_ context.Context, ref docref.Ref, _ func(map[string]json.RawMessage) error) error {
	return fmt.Errorf("%s: %w", ref.Path(), gateway.ErrPermissionDenied)
}

// ownerOnly denies access to documents outside the caller's own scope, the
// way the remote store's row-level security does.
type ownerOnly struct {
	gateway.Backend
}

func (o ownerOnly) Get(ctx context.Context, ref docref.Ref) (*gateway.Document, error) {
	if p := auth.FromContext(ctx); p == nil || p.UserID != ref.Scope {
		return nil, fmt.Errorf("%s: %w", ref.Path(), gateway.ErrPermissionDenied)
	}
	return o.Backend.Get(ctx, ref)
}

type testEnv struct {
	srv *httptest.Server
	gw  *gateway.Gateway
}

// newTestServer wires a real web.Server over in-memory SQLite. Anonymous
// requests act as user "u1".
func newTestServer(t *testing.T, wrap func(gateway.Backend) gateway.Backend) *testEnv {
	t.Helper()
	database, err := db.OpenForTesting()
	require.NoError(t, err)

	hub := livequery.NewHub()
	var backend gateway.Backend = store.NewDocumentStore(database, hub)
	if wrap != nil {
		backend = wrap(backend)
	}
	em := errsurface.NewEmitter()
	router := errsurface.NewRouter(slog.Default())
	unmount := router.Mount(em)
	gw := gateway.New(backend, hub, em, slog.Default())

	cat, err := catalog.Default()
	require.NoError(t, err)
	files, err := local.New(t.TempDir())
	require.NoError(t, err)
	svc := service.NewProjectService(gw, progress.NewEngine(progress.PolicyDerivedRollup), cat, files, slog.Default())

	srv := httptest.NewServer(web.NewServer(svc, router, web.AuthConfig{
		Secret:   testSecret,
		Fallback: &auth.Principal{UserID: "u1"},
	}, slog.Default()))
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = gw.Close(ctx)
		unmount()
		_ = database.Close()
	})
	return &testEnv{srv: srv, gw: gw}
}

func (e *testEnv) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.gw.Flush(ctx))
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *testEnv) createProject(t *testing.T) *domain.Project {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/projects", map[string]any{"name": "Harbour Tower", "projectType": "commercial"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	p := decode[*domain.Project](t, resp)
	assert.Equal(t, "/projects/"+p.ID, resp.Header.Get("Location"))
	e.flush(t)
	return p
}

func checkboxPath(t *testing.T, p *domain.Project) string {
	t.Helper()
	return fieldPath(t, p, domain.FieldCheckbox)
}

func fieldPath(t *testing.T, p *domain.Project, typ domain.FieldType) string {
	t.Helper()
	for _, ph := range p.Phases {
		for _, cp := range ph.Checkpoints {
			for _, f := range cp.Fields {
				if f.Type == typ {
					return fmt.Sprintf("/projects/%s/phases/%s/checkpoints/%s/fields/%s", p.ID, ph.ID, cp.ID, f.ID)
				}
			}
		}
	}
	t.Fatalf("no %s field in catalog", typ)
	return ""
}

func TestIntegration_ProjectLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	env := newTestServer(t, nil)
	p := env.createProject(t)

	resp := env.do(t, http.MethodGet, "/projects", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]map[string]any](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, p.ID, list[0]["id"])
	assert.Contains(t, list[0], "progress")

	resp = env.do(t, http.MethodGet, "/projects/"+p.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Harbour Tower", decode[*domain.Project](t, resp).Name)

	resp = env.do(t, http.MethodDelete, "/projects/"+p.ID, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	env.flush(t)

	resp = env.do(t, http.MethodGet, "/projects/"+p.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIntegration_CreateProjectValidation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	env := newTestServer(t, nil)

	resp := env.do(t, http.MethodPost, "/projects", map[string]any{"name": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/projects", strings.NewReader("{not json"))
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestIntegration_FieldAndStatusMutations(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	env := newTestServer(t, nil)
	p := env.createProject(t)
	checkbox := checkboxPath(t, p)

	resp := env.do(t, http.MethodPut, checkbox, map[string]any{"value": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodPut, checkbox, map[string]any{"value": "yes"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "checkbox rejects strings")

	datePath := fieldPath(t, p, domain.FieldDate)
	for _, bad := range []any{map[string]any{}, map[string]any{"foo": 1}, map[string]any{"timestamp": nil}} {
		resp = env.do(t, http.MethodPut, datePath, map[string]any{"value": bad})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "date rejects %v", bad)
	}
	resp = env.do(t, http.MethodPut, datePath, map[string]any{"value": map[string]any{"timestamp": "2025-03-01T09:00:00Z"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ph := p.Phases[0]
	resp = env.do(t, http.MethodPost, fmt.Sprintf("/projects/%s/phases/%s/checkpoints/%s/advance", p.ID, ph.ID, ph.Checkpoints[0].ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decode[*domain.Project](t, resp)
	assert.Equal(t, domain.StatusInProgress, snap.Phases[0].Status)

	resp = env.do(t, http.MethodPut, fmt.Sprintf("/projects/%s/phases/%s/checkpoints/%s/notes", p.ID, ph.ID, ph.Checkpoints[0].ID),
		map[string]any{"notes": "formwork checked"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env.flush(t)

	resp = env.do(t, http.MethodGet, "/projects/"+p.ID, nil)
	stored := decode[*domain.Project](t, resp)
	assert.Equal(t, domain.StatusInProgress, stored.Phases[0].Status)
	assert.Equal(t, "formwork checked", stored.Phases[0].Checkpoints[0].Notes)
}

func buildMultipartBody(t *testing.T, field, filename string, data []byte, extra map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range extra {
		require.NoError(t, w.WriteField(k, v))
	}
	fw, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func TestIntegration_PhotoUploadAndDownload(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	env := newTestServer(t, nil)
	p := env.createProject(t)

	body, ct := buildMultipartBody(t, "image", "slab.jpg", minimalJPEG, map[string]string{"hint": "slab"})
	resp, err := http.Post(env.srv.URL+"/projects/"+p.ID+"/photos", ct, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	photo := decode[domain.Photo](t, resp)
	require.True(t, strings.HasPrefix(photo.URL, "/projects/"+p.ID+"/files/"))

	file, err := http.Get(env.srv.URL + photo.URL)
	require.NoError(t, err)
	defer file.Body.Close()
	require.Equal(t, http.StatusOK, file.StatusCode)
	assert.Equal(t, "image/jpeg", file.Header.Get("Content-Type"))
	got, err := io.ReadAll(file.Body)
	require.NoError(t, err)
	assert.Equal(t, minimalJPEG, got)

	env.flush(t)
	stored := decode[*domain.Project](t, env.do(t, http.MethodGet, "/projects/"+p.ID, nil))
	require.Len(t, stored.Photos, 1)
	assert.Equal(t, "slab", stored.Photos[0].Hint)

	body, ct = buildMultipartBody(t, "image", "report.pdf", []byte("%PDF-1.4 not an image"), nil)
	resp2, err := http.Post(env.srv.URL+"/projects/"+p.ID+"/photos", ct, body)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)

	body, ct = buildMultipartBody(t, "file", "report.pdf", []byte("%PDF-1.4 soil report"), map[string]string{"phase": "Foundation"})
	resp3, err := http.Post(env.srv.URL+"/projects/"+p.ID+"/files", ct, body)
	require.NoError(t, err)
	defer resp3.Body.Close()
	require.Equal(t, http.StatusCreated, resp3.StatusCode)
	attachment := decode[domain.FileAttachment](t, resp3)
	assert.Equal(t, "report.pdf", attachment.Name)
	assert.Equal(t, "pdf", attachment.FileType)

	missing, err := http.Get(env.srv.URL + "/projects/" + p.ID + "/files/" + p.ID + "_nothing.jpg")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func bearer(t *testing.T, uid string) string {
	t.Helper()
	token, err := auth.IssueToken(auth.Principal{UserID: uid}, testSecret, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func getAs(t *testing.T, url, authz string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestIntegration_FileDownloadChecksProjectAccess(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	env := newTestServer(t, func(b gateway.Backend) gateway.Backend { return ownerOnly{Backend: b} })
	p := env.createProject(t) // owned by u1
	other := env.createProject(t)

	body, ct := buildMultipartBody(t, "image", "slab.jpg", minimalJPEG, nil)
	resp, err := http.Post(env.srv.URL+"/projects/"+p.ID+"/photos", ct, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	photo := decode[domain.Photo](t, resp)
	key := photo.URL[strings.LastIndex(photo.URL, "/")+1:]

	owner := getAs(t, env.srv.URL+photo.URL, bearer(t, "u1"))
	assert.Equal(t, http.StatusOK, owner.StatusCode)

	// u2 reads through u1's path and is denied by the backend.
	intruder := getAs(t, env.srv.URL+photo.URL, bearer(t, "u2"))
	assert.Equal(t, http.StatusForbidden, intruder.StatusCode)

	state := decode[map[string]any](t, getAs(t, env.srv.URL+"/errors", bearer(t, "u2")))
	require.Equal(t, "error", state["state"])
	perr := state["error"].(map[string]any)
	assert.Equal(t, "get", perr["operation"])

	// The key is bound to its project: another project's URL does not serve it.
	crossed := getAs(t, env.srv.URL+"/projects/"+other.ID+"/files/"+key, bearer(t, "u1"))
	assert.Equal(t, http.StatusNotFound, crossed.StatusCode)

	// Without the rules layer the project is simply invisible to u2.
	plain := newTestServer(t, nil)
	q := plain.createProject(t)
	body, ct = buildMultipartBody(t, "image", "slab.jpg", minimalJPEG, nil)
	resp2, err := http.Post(plain.srv.URL+"/projects/"+q.ID+"/photos", ct, body)
	require.NoError(t, err)
	defer resp2.Body.Close()
	qPhoto := decode[domain.Photo](t, resp2)
	assert.Equal(t, http.StatusNotFound, getAs(t, plain.srv.URL+qPhoto.URL, bearer(t, "u2")).StatusCode)
}

func TestIntegration_PhotoEditsAndSubcontractors(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	env := newTestServer(t, nil)
	p := env.createProject(t)

	body, ct := buildMultipartBody(t, "image", "slab.jpg", minimalJPEG, nil)
	resp, err := http.Post(env.srv.URL+"/projects/"+p.ID+"/photos", ct, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	photo := decode[domain.Photo](t, resp)
	env.flush(t)

	resp = env.do(t, http.MethodPut, "/projects/"+p.ID+"/photos/"+photo.ID+"/comment", map[string]any{"comment": "north wall"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "north wall", decode[*domain.Project](t, resp).Photos[0].Comment)
	env.flush(t)

	resp = env.do(t, http.MethodDelete, "/projects/"+p.ID+"/photos/"+photo.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[*domain.Project](t, resp).Photos)
	env.flush(t)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, photo.URL, nil).StatusCode, "image removed with the photo")

	resp = env.do(t, http.MethodPost, "/projects/"+p.ID+"/subcontractors", map[string]any{"name": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/projects/"+p.ID+"/subcontractors", map[string]any{"name": "Volt Electric", "trade": "electrical"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sub := decode[domain.Subcontractor](t, resp)
	env.flush(t)

	stored := decode[*domain.Project](t, env.do(t, http.MethodGet, "/projects/"+p.ID, nil))
	require.Len(t, stored.Subcontractors, 1)
	assert.Equal(t, "Volt Electric", stored.Subcontractors[0].Name)

	resp = env.do(t, http.MethodDelete, "/projects/"+p.ID+"/subcontractors/"+sub.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env.flush(t)
	stored = decode[*domain.Project](t, env.do(t, http.MethodGet, "/projects/"+p.ID, nil))
	assert.Empty(t, stored.Subcontractors)
}

func TestIntegration_DeniedWriteSurfacesError(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	env := newTestServer(t, func(b gateway.Backend) gateway.Backend { return updateDenier{Backend: b} })
	p := env.createProject(t)

	idle := decode[map[string]any](t, env.do(t, http.MethodGet, "/errors", nil))
	assert.Equal(t, "idle", idle["state"])

	resp := env.do(t, http.MethodPut, checkboxPath(t, p), map[string]any{"value": true})
	require.Equal(t, http.StatusOK, resp.StatusCode, "the write is accepted optimistically")

	state := decode[map[string]any](t, env.do(t, http.MethodGet, "/errors?wait=2s", nil))
	require.Equal(t, "error", state["state"])
	perr := state["error"].(map[string]any)
	assert.Equal(t, "users/u1/projects/"+p.ID, perr["path"])
	assert.Equal(t, "update", perr["operation"])
	assert.Contains(t, perr["message"], "missing or insufficient permissions")

	ack := decode[map[string]bool](t, env.do(t, http.MethodPost, "/errors/ack", nil))
	assert.True(t, ack["acknowledged"])

	state = decode[map[string]any](t, env.do(t, http.MethodGet, "/errors", nil))
	assert.Equal(t, "idle", state["state"])
	assert.Equal(t, float64(1), state["received"])
}

func TestIntegration_BearerTokens(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	env := newTestServer(t, nil)
	env.createProject(t) // owned by the fallback user u1

	token, err := auth.IssueToken(auth.Principal{UserID: "u2"}, testSecret, time.Hour)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/projects", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]map[string]any](t, resp), "u2 sees none of u1's projects")

	req.Header.Set("Authorization", "Bearer not-a-token")
	bad, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, bad.StatusCode)
}

func TestIntegration_WatchProject(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	env := newTestServer(t, nil)
	p := env.createProject(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.srv.URL+"/projects/"+p.ID+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan *domain.Project, 4)
	go func() {
		defer close(events)
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for sc.Scan() {
			line, ok := strings.CutPrefix(sc.Text(), "data: ")
			if !ok {
				continue
			}
			var proj domain.Project
			if json.Unmarshal([]byte(line), &proj) == nil {
				events <- &proj
			}
		}
	}()

	first := <-events
	require.NotNil(t, first)
	assert.Equal(t, domain.StatusNotStarted, first.Phases[0].Status)

	env.do(t, http.MethodPost, fmt.Sprintf("/projects/%s/phases/%s/advance", p.ID, p.Phases[0].ID), nil)
	second := <-events
	require.NotNil(t, second)
	assert.Equal(t, domain.StatusInProgress, second.Phases[0].Status)
}

func TestIntegration_HealthAndMetrics(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	env := newTestServer(t, nil)

	resp := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	env.do(t, http.MethodGet, "/projects", nil)
	resp = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "buildtrack_http_request_duration_seconds")
}
