package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vbonduro/buildtrack/internal/auth"
	"github.com/vbonduro/buildtrack/internal/catalog"
	"github.com/vbonduro/buildtrack/internal/docref"
	"github.com/vbonduro/buildtrack/internal/domain"
	"github.com/vbonduro/buildtrack/internal/filestore"
	"github.com/vbonduro/buildtrack/internal/gateway"
	"github.com/vbonduro/buildtrack/internal/livequery"
	"github.com/vbonduro/buildtrack/internal/progress"
)

const projectsCollection = "projects"

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrInvalidProject  = errors.New("invalid project")
	ErrInvalidValue    = errors.New("value not accepted by field")
	ErrInvalidInput    = errors.New("invalid input")
)

// documentGateway is the subset of gateway.Gateway that ProjectService requires.
type documentGateway interface {
	Get(ctx context.Context, ref docref.Ref) (*gateway.Document, error)
	List(ctx context.Context, col docref.CollectionRef) ([]gateway.Document, error)
	Set(ctx context.Context, ref docref.Ref, doc any)
	Update(ctx context.Context, ref docref.Ref, patch gateway.Patch)
	Delete(ctx context.Context, ref docref.Ref)
	Subscribe(ctx context.Context, ref docref.Ref) <-chan livequery.Result[*gateway.Document]
}

// ProjectService reads projects through the gateway and writes them back
// optimistically: every mutation returns the new snapshot right away while
// the write is still queued. A mutation replaces the whole array it touched,
// so two edits computed from the same stale snapshot keep only the later one.
type ProjectService struct {
	docs    documentGateway
	engine  progress.Engine
	catalog *catalog.Catalog
	files   filestore.FileStore
	logger  *slog.Logger
	newID   func() string
	now     func() time.Time
}

func NewProjectService(
	docs documentGateway,
	engine progress.Engine,
	cat *catalog.Catalog,
	files filestore.FileStore,
	logger *slog.Logger,
) *ProjectService {
	return &ProjectService{
		docs:    docs,
		engine:  engine,
		catalog: cat,
		files:   files,
		logger:  logger,
		newID:   uuid.NewString,
		now:     time.Now,
	}
}

type NewProject struct {
	Name           string             `json:"name"`
	Address        string             `json:"address"`
	Client         string             `json:"client"`
	StartDate      time.Time          `json:"startDate"`
	ProjectType    domain.ProjectType `json:"projectType"`
	CoverPhotoURL  string             `json:"coverPhotoUrl"`
	CoverPhotoHint string             `json:"coverPhotoHint"`
}

type ProjectSummary struct {
	*domain.Project
	Progress progress.Summary `json:"progress"`
}

func projectsOf(ctx context.Context) (docref.CollectionRef, error) {
	p := auth.FromContext(ctx)
	if p == nil || p.UserID == "" {
		return docref.CollectionRef{}, auth.ErrUnauthenticated
	}
	return docref.Collection(p.UserID, projectsCollection), nil
}

func projectRef(ctx context.Context, projectID string) (docref.Ref, error) {
	col, err := projectsOf(ctx)
	if err != nil {
		return docref.Ref{}, err
	}
	return col.Doc(projectID), nil
}

// CreateProject seeds a new project with the full phase tree from the catalog.
func (s *ProjectService) CreateProject(ctx context.Context, in NewProject) (*domain.Project, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidProject)
	}
	if in.ProjectType == "" {
		in.ProjectType = domain.ProjectResidential
	}
	if !in.ProjectType.Valid() {
		return nil, fmt.Errorf("%w: unknown project type %q", ErrInvalidProject, in.ProjectType)
	}
	col, err := projectsOf(ctx)
	if err != nil {
		return nil, err
	}
	if in.StartDate.IsZero() {
		in.StartDate = s.now()
	}

	ref := col.Doc(s.newID())
	project := &domain.Project{
		ID:             ref.ID,
		Name:           strings.TrimSpace(in.Name),
		Address:        in.Address,
		Client:         in.Client,
		StartDate:      in.StartDate.UTC(),
		ProjectType:    in.ProjectType,
		CoverPhotoURL:  in.CoverPhotoURL,
		CoverPhotoHint: in.CoverPhotoHint,
		Phases:         s.catalog.Seed(s.newID),
		Tasks:          []domain.Task{},
		Photos:         []domain.Photo{},
		Visits:         []domain.Visit{},
		Files:          []domain.FileAttachment{},
		Subcontractors: []domain.Subcontractor{},
	}
	s.docs.Set(ctx, ref, project)
	s.logger.Info("project created", "path", ref.Path(), "phases", len(project.Phases))
	return project, nil
}

func decodeProject(doc *gateway.Document) (*domain.Project, error) {
	var p domain.Project
	if err := doc.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode project %s: %w", doc.Ref.Path(), err)
	}
	p.ID = doc.Ref.ID
	return &p, nil
}

func (s *ProjectService) ListProjects(ctx context.Context) ([]ProjectSummary, error) {
	col, err := projectsOf(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := s.docs.List(ctx, col)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	summaries := make([]ProjectSummary, 0, len(docs))
	for i := range docs {
		p, err := decodeProject(&docs[i])
		if err != nil {
			s.logger.Error("skipping unreadable project", "path", docs[i].Ref.Path(), "error", err)
			continue
		}
		summaries = append(summaries, ProjectSummary{Project: p, Progress: progress.Summarize(p.Phases)})
	}
	return summaries, nil
}

func (s *ProjectService) GetProject(ctx context.Context, projectID string) (*domain.Project, error) {
	p, _, err := s.load(ctx, projectID)
	return p, err
}

func (s *ProjectService) load(ctx context.Context, projectID string) (*domain.Project, docref.Ref, error) {
	ref, err := projectRef(ctx, projectID)
	if err != nil {
		return nil, ref, err
	}
	doc, err := s.docs.Get(ctx, ref)
	if errors.Is(err, gateway.ErrNotFound) {
		return nil, ref, fmt.Errorf("%s: %w", projectID, ErrProjectNotFound)
	}
	if err != nil {
		return nil, ref, fmt.Errorf("failed to get project: %w", err)
	}
	p, err := decodeProject(doc)
	return p, ref, err
}

// DeleteProject removes the project document and, best effort, the files
// its photos and attachments point at.
func (s *ProjectService) DeleteProject(ctx context.Context, projectID string) error {
	p, ref, err := s.load(ctx, projectID)
	if err != nil {
		return err
	}
	s.docs.Delete(ctx, ref)

	for _, ph := range p.Photos {
		s.removeFile(ctx, projectID, ph.URL)
	}
	for _, f := range p.Files {
		s.removeFile(ctx, projectID, f.URL)
	}
	s.logger.Info("project deleted", "path", ref.Path())
	return nil
}

// mutatePhases applies fn to the current phases and queues the replacement
// of the whole phases array.
func (s *ProjectService) mutatePhases(ctx context.Context, projectID string, fn func([]domain.Phase) ([]domain.Phase, error)) (*domain.Project, error) {
	p, ref, err := s.load(ctx, projectID)
	if err != nil {
		return nil, err
	}
	next, err := fn(p.Phases)
	if err != nil {
		return nil, err
	}
	p.Phases = next
	s.docs.Update(ctx, ref, gateway.Patch{"phases": next})
	return p, nil
}

// SetFieldValue rejects values the field cannot hold. Unknown ids are not an
// error; the snapshot comes back unchanged.
func (s *ProjectService) SetFieldValue(ctx context.Context, projectID, phaseID, checkpointID, fieldID string, v domain.Value) (*domain.Project, error) {
	return s.mutatePhases(ctx, projectID, func(phases []domain.Phase) ([]domain.Phase, error) {
		if pi, ci, fi := progress.FindField(phases, phaseID, checkpointID, fieldID); fi >= 0 {
			f := phases[pi].Checkpoints[ci].Fields[fi]
			if !f.Accepts(v) {
				return nil, fmt.Errorf("%w: %s field %q cannot hold %s", ErrInvalidValue, f.Type, f.Label, v.Kind())
			}
		}
		return s.engine.SetFieldValue(phases, phaseID, checkpointID, fieldID, v), nil
	})
}

func (s *ProjectService) AdvanceCheckpoint(ctx context.Context, projectID, phaseID, checkpointID string) (*domain.Project, error) {
	return s.mutatePhases(ctx, projectID, func(phases []domain.Phase) ([]domain.Phase, error) {
		return s.engine.AdvanceCheckpointStatus(phases, phaseID, checkpointID), nil
	})
}

func (s *ProjectService) AdvancePhase(ctx context.Context, projectID, phaseID string) (*domain.Project, error) {
	return s.mutatePhases(ctx, projectID, func(phases []domain.Phase) ([]domain.Phase, error) {
		return s.engine.AdvancePhaseStatus(phases, phaseID), nil
	})
}

func (s *ProjectService) SetCheckpointNotes(ctx context.Context, projectID, phaseID, checkpointID, notes string) (*domain.Project, error) {
	return s.mutatePhases(ctx, projectID, func(phases []domain.Phase) ([]domain.Phase, error) {
		return s.engine.SetCheckpointNotes(phases, phaseID, checkpointID, notes), nil
	})
}

func (s *ProjectService) SetTaskCompleted(ctx context.Context, projectID, taskID string, completed bool) (*domain.Project, error) {
	p, ref, err := s.load(ctx, projectID)
	if err != nil {
		return nil, err
	}
	tasks := domain.CloneTasks(p.Tasks)
	for i := range tasks {
		if tasks[i].ID == taskID {
			tasks[i].Completed = completed
			break
		}
	}
	p.Tasks = tasks
	s.docs.Update(ctx, ref, gateway.Patch{"tasks": tasks})
	return p, nil
}

// SetPhotoComment replaces the comment on one photo. An unknown photo id
// leaves the photos unchanged.
func (s *ProjectService) SetPhotoComment(ctx context.Context, projectID, photoID, comment string) (*domain.Project, error) {
	p, ref, err := s.load(ctx, projectID)
	if err != nil {
		return nil, err
	}
	photos := domain.ClonePhotos(p.Photos)
	for i := range photos {
		if photos[i].ID == photoID {
			photos[i].Comment = comment
			break
		}
	}
	p.Photos = photos
	s.docs.Update(ctx, ref, gateway.Patch{"photos": photos})
	return p, nil
}

// DeletePhoto drops the photo from the project and removes its stored image.
func (s *ProjectService) DeletePhoto(ctx context.Context, projectID, photoID string) (*domain.Project, error) {
	p, ref, err := s.load(ctx, projectID)
	if err != nil {
		return nil, err
	}
	photos := make([]domain.Photo, 0, len(p.Photos))
	var removed *domain.Photo
	for _, ph := range p.Photos {
		if ph.ID == photoID && removed == nil {
			removed = &ph
			continue
		}
		photos = append(photos, ph)
	}
	if removed == nil {
		return p, nil
	}
	p.Photos = photos
	s.docs.Update(ctx, ref, gateway.Patch{"photos": photos})
	s.removeFile(ctx, projectID, removed.URL)
	return p, nil
}

type NewSubcontractor struct {
	Name    string `json:"name"`
	Trade   string `json:"trade"`
	Contact string `json:"contact"`
}

// AddSubcontractor appends a subcontractor with a fresh id.
func (s *ProjectService) AddSubcontractor(ctx context.Context, projectID string, in NewSubcontractor) (*domain.Subcontractor, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: subcontractor name is required", ErrInvalidInput)
	}
	p, ref, err := s.load(ctx, projectID)
	if err != nil {
		return nil, err
	}
	sub := domain.Subcontractor{
		ID:      s.newID(),
		Name:    strings.TrimSpace(in.Name),
		Trade:   in.Trade,
		Contact: in.Contact,
	}
	subs := append(domain.CloneSubcontractors(p.Subcontractors), sub)
	s.docs.Update(ctx, ref, gateway.Patch{"subcontractors": subs})
	return &sub, nil
}

func (s *ProjectService) DeleteSubcontractor(ctx context.Context, projectID, subcontractorID string) (*domain.Project, error) {
	p, ref, err := s.load(ctx, projectID)
	if err != nil {
		return nil, err
	}
	subs := make([]domain.Subcontractor, 0, len(p.Subcontractors))
	for _, sc := range p.Subcontractors {
		if sc.ID != subcontractorID {
			subs = append(subs, sc)
		}
	}
	p.Subcontractors = subs
	s.docs.Update(ctx, ref, gateway.Patch{"subcontractors": subs})
	return p, nil
}

type Upload struct {
	Name     string
	MIMEType string
	Body     io.Reader
}

// AddPhoto stores the image and appends it to the project's photos.
func (s *ProjectService) AddPhoto(ctx context.Context, projectID, hint, comment string, up Upload) (*domain.Photo, error) {
	_, ref, err := s.load(ctx, projectID)
	if err != nil {
		return nil, err
	}
	key, err := s.files.Save(ctx, projectID, up.MIMEType, up.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to save photo: %w", err)
	}
	photo := domain.Photo{
		ID:         s.newID(),
		URL:        fileURL(projectID, key),
		Hint:       hint,
		Comment:    comment,
		CapturedAt: s.now().UTC(),
	}
	s.docs.Update(ctx, ref, gateway.Patch{"photos": gateway.ArrayUnion(photo)})
	s.logger.Debug("photo added", "path", ref.Path(), "storage_key", key)
	return &photo, nil
}

// AddFile stores an attachment and appends it to the project's files,
// optionally tagged with the phase it documents.
func (s *ProjectService) AddFile(ctx context.Context, projectID, phase string, up Upload) (*domain.FileAttachment, error) {
	_, ref, err := s.load(ctx, projectID)
	if err != nil {
		return nil, err
	}
	key, err := s.files.Save(ctx, projectID, up.MIMEType, up.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to save file: %w", err)
	}
	name := up.Name
	if name == "" {
		name = key
	}
	file := domain.FileAttachment{
		ID:         s.newID(),
		Name:       name,
		URL:        fileURL(projectID, key),
		FileType:   fileType(up.MIMEType),
		UploadedAt: s.now().UTC(),
		Phase:      phase,
	}
	s.docs.Update(ctx, ref, gateway.Patch{"files": gateway.ArrayUnion(file)})
	return &file, nil
}

func fileType(mimeType string) string {
	switch {
	case mimeType == "application/pdf":
		return "pdf"
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	case strings.HasSuffix(mimeType, "spreadsheetml.sheet"), mimeType == "text/csv":
		return "spreadsheet"
	default:
		return "document"
	}
}

// fileURL is where the API serves an attachment. Keys start with the
// owning project's id.
func fileURL(projectID, key string) string {
	return "/projects/" + projectID + "/files/" + key
}

func ownsKey(projectID, key string) bool {
	return strings.HasPrefix(key, projectID+"_")
}

// removeFile deletes the stored bytes behind url, best effort.
func (s *ProjectService) removeFile(ctx context.Context, projectID, url string) {
	key, ok := strings.CutPrefix(url, fileURL(projectID, ""))
	if !ok || !ownsKey(projectID, key) {
		return
	}
	if err := s.files.Delete(ctx, key); err != nil && !errors.Is(err, filestore.ErrNotFound) {
		s.logger.Warn("failed to delete attachment", "key", key, "error", err)
	}
}

// OpenFile returns an attachment of the project. The project is read first,
// so a caller who may not see the project cannot read its files either.
func (s *ProjectService) OpenFile(ctx context.Context, projectID, key string) (io.ReadCloser, string, error) {
	if !ownsKey(projectID, key) {
		return nil, "", fmt.Errorf("%s: %w", key, filestore.ErrNotFound)
	}
	if _, _, err := s.load(ctx, projectID); err != nil {
		return nil, "", err
	}
	return s.files.Get(ctx, key)
}

// WatchProject streams the project every time its document changes. The
// channel closes when ctx is done.
func (s *ProjectService) WatchProject(ctx context.Context, projectID string) (<-chan livequery.Result[*domain.Project], error) {
	ref, err := projectRef(ctx, projectID)
	if err != nil {
		return nil, err
	}
	in := s.docs.Subscribe(ctx, ref)
	out := make(chan livequery.Result[*domain.Project])
	go func() {
		defer close(out)
		for r := range in {
			var res livequery.Result[*domain.Project]
			switch {
			case errors.Is(r.Err, gateway.ErrNotFound):
				res.Err = fmt.Errorf("%s: %w", projectID, ErrProjectNotFound)
			case r.Err != nil:
				res.Err = r.Err
			default:
				res.Value, res.Err = decodeProject(r.Value)
			}
			select {
			case out <- res:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
