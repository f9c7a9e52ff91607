package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/caflow/cma-engine/internal/model"
)

// ErrNotFound is returned when a requested row does not exist in the caller's
// firm scope.
var ErrNotFound = eris.New("store: not found")

// ErrProcessing is returned when a project is already locked by a running
// pipeline.
var ErrProcessing = eris.New("store: project is already processing")

// ProjectFilter specifies criteria for listing projects.
type ProjectFilter struct {
	FirmID string              `json:"firm_id"`
	Status model.ProjectStatus `json:"status,omitempty"`
	Limit  int                 `json:"limit,omitempty"`
	Offset int                 `json:"offset,omitempty"`
}

// ReviewFilter specifies criteria for listing review queue items.
type ReviewFilter struct {
	FirmID    string             `json:"firm_id"`
	ProjectID string             `json:"project_id,omitempty"`
	Status    model.ReviewStatus `json:"status,omitempty"`
	Limit     int                `json:"limit,omitempty"`
	Offset    int                `json:"offset,omitempty"`
}

// Store defines the persistence interface for the CMA preparation pipeline.
// Every read and write is scoped to a firm; no method crosses firm boundaries
// except global precedent lookups.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, p *model.Project) error
	GetProject(ctx context.Context, firmID, projectID string) (*model.Project, error)
	UpdateProject(ctx context.Context, p *model.Project) error
	ListProjects(ctx context.Context, filter ProjectFilter) ([]model.Project, error)

	// AcquireProcessing atomically sets is_processing on an idle project.
	// Returns ErrProcessing if another pipeline run holds the lock.
	AcquireProcessing(ctx context.Context, firmID, projectID string) error
	ReleaseProcessing(ctx context.Context, firmID, projectID string) error

	// Uploaded files
	CreateUploadedFile(ctx context.Context, f *model.UploadedFile) error
	GetUploadedFile(ctx context.Context, firmID, fileID string) (*model.UploadedFile, error)
	ListUploadedFiles(ctx context.Context, firmID, projectID string) ([]model.UploadedFile, error)
	UpdateUploadedFile(ctx context.Context, f *model.UploadedFile) error

	// Generated files
	CreateGeneratedFile(ctx context.Context, f *model.GeneratedFile) error
	ListGeneratedFiles(ctx context.Context, firmID, projectID string) ([]model.GeneratedFile, error)
	MaxGeneratedVersion(ctx context.Context, firmID, projectID string) (int, error)

	// Review queue. Upsert keys on (project_id, item_id) so repeated
	// classification runs refresh suggestions instead of duplicating rows.
	UpsertReviewItem(ctx context.Context, item *model.ReviewItem) error
	GetReviewItem(ctx context.Context, firmID, reviewID string) (*model.ReviewItem, error)
	ListReviewItems(ctx context.Context, filter ReviewFilter) ([]model.ReviewItem, error)
	UpdateReviewItem(ctx context.Context, item *model.ReviewItem) error

	// Precedents. Upsert keys on (scope, firm_id, source_term, entity_type).
	UpsertPrecedent(ctx context.Context, p *model.Precedent) error
	ListPrecedents(ctx context.Context, firmID string, entityType model.EntityType) ([]model.Precedent, error)
	ImportPrecedents(ctx context.Context, precedents []model.Precedent) (int64, error)

	// Audit and usage logs. Failures here must never fail the caller's
	// operation; callers log and continue.
	AppendAudit(ctx context.Context, entry *model.AuditEntry) error
	LogLLMUsage(ctx context.Context, rec *model.LLMUsage) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
