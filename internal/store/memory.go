package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/caflow/cma-engine/internal/model"
)

// MemoryStore is an in-process Store used by tests and the memory driver.
// Everything is copied on the way in and out so callers cannot mutate
// stored state through shared pointers.
type MemoryStore struct {
	mu sync.RWMutex

	projects       map[string]*model.Project
	uploadedFiles  map[string]*model.UploadedFile
	generatedFiles map[string]*model.GeneratedFile
	reviewItems    map[string]*model.ReviewItem
	precedents     map[string]*model.Precedent
	auditLog       []model.AuditEntry
	llmUsage       []model.LLMUsage
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		projects:       make(map[string]*model.Project),
		uploadedFiles:  make(map[string]*model.UploadedFile),
		generatedFiles: make(map[string]*model.GeneratedFile),
		reviewItems:    make(map[string]*model.ReviewItem),
		precedents:     make(map[string]*model.Precedent),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error    { return nil }
func (s *MemoryStore) Migrate(ctx context.Context) error { return nil }
func (s *MemoryStore) Close() error                      { return nil }

func copyProject(p *model.Project) *model.Project {
	cp := *p
	if p.PipelineSteps != nil {
		cp.PipelineSteps = make(model.PipelineSteps, len(p.PipelineSteps))
		for k, v := range p.PipelineSteps {
			cp.PipelineSteps[k] = v
		}
	}
	cp.ExtractedData = deepCopy(p.ExtractedData)
	cp.Classification = deepCopy(p.Classification)
	return &cp
}

// deepCopy round-trips the embedded JSONB payloads so a caller mutating a
// returned project cannot reach into stored state.
func deepCopy[T any](v *T) *T {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	out := new(T)
	if err := json.Unmarshal(b, out); err != nil {
		return v
	}
	return out
}

// Projects

func (s *MemoryStore) CreateProject(ctx context.Context, p *model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = model.StatusDraft
	}
	if p.PipelineSteps == nil {
		p.PipelineSteps = model.NewPipelineSteps()
	}
	s.projects[p.ID] = copyProject(p)
	return nil
}

func (s *MemoryStore) GetProject(ctx context.Context, firmID, projectID string) (*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[projectID]
	if !ok || p.FirmID != firmID {
		return nil, eris.Wrapf(ErrNotFound, "project %s", projectID)
	}
	return copyProject(p), nil
}

func (s *MemoryStore) UpdateProject(ctx context.Context, p *model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.projects[p.ID]
	if !ok || existing.FirmID != p.FirmID {
		return eris.Wrapf(ErrNotFound, "project %s", p.ID)
	}
	p.UpdatedAt = time.Now().UTC()
	p.CreatedAt = existing.CreatedAt
	s.projects[p.ID] = copyProject(p)
	return nil
}

func (s *MemoryStore) ListProjects(ctx context.Context, filter ProjectFilter) ([]model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var projects []model.Project
	for _, p := range s.projects {
		if p.FirmID != filter.FirmID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		projects = append(projects, *copyProject(p))
	}
	sort.Slice(projects, func(i, j int) bool {
		return projects[i].CreatedAt.After(projects[j].CreatedAt)
	})
	return paginate(projects, filter.Limit, filter.Offset), nil
}

func (s *MemoryStore) AcquireProcessing(ctx context.Context, firmID, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok || p.FirmID != firmID {
		return eris.Wrapf(ErrNotFound, "project %s", projectID)
	}
	if p.IsProcessing {
		return eris.Wrapf(ErrProcessing, "project %s", projectID)
	}
	p.IsProcessing = true
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ReleaseProcessing(ctx context.Context, firmID, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok || p.FirmID != firmID {
		return nil
	}
	p.IsProcessing = false
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Uploaded files

func (s *MemoryStore) CreateUploadedFile(ctx context.Context, f *model.UploadedFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	f.CreatedAt = time.Now().UTC()
	if f.ExtractionStatus == "" {
		f.ExtractionStatus = model.ExtractionPending
	}
	cp := *f
	s.uploadedFiles[f.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUploadedFile(ctx context.Context, firmID, fileID string) (*model.UploadedFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.uploadedFiles[fileID]
	if !ok || f.FirmID != firmID {
		return nil, eris.Wrapf(ErrNotFound, "uploaded file %s", fileID)
	}
	cp := *f
	return &cp, nil
}

func (s *MemoryStore) ListUploadedFiles(ctx context.Context, firmID, projectID string) ([]model.UploadedFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var files []model.UploadedFile
	for _, f := range s.uploadedFiles {
		if f.FirmID != firmID || f.ProjectID != projectID || f.ExtractionStatus == model.ExtractionDeleted {
			continue
		}
		files = append(files, *f)
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].CreatedAt.Before(files[j].CreatedAt)
	})
	return files, nil
}

func (s *MemoryStore) UpdateUploadedFile(ctx context.Context, f *model.UploadedFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.uploadedFiles[f.ID]
	if !ok || existing.FirmID != f.FirmID {
		return eris.Wrapf(ErrNotFound, "uploaded file %s", f.ID)
	}
	cp := *f
	cp.CreatedAt = existing.CreatedAt
	s.uploadedFiles[f.ID] = &cp
	return nil
}

// Generated files

func (s *MemoryStore) CreateGeneratedFile(ctx context.Context, f *model.GeneratedFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	f.CreatedAt = time.Now().UTC()
	cp := *f
	s.generatedFiles[f.ID] = &cp
	return nil
}

func (s *MemoryStore) ListGeneratedFiles(ctx context.Context, firmID, projectID string) ([]model.GeneratedFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var files []model.GeneratedFile
	for _, f := range s.generatedFiles {
		if f.FirmID != firmID || f.ProjectID != projectID {
			continue
		}
		files = append(files, *f)
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Version > files[j].Version
	})
	return files, nil
}

func (s *MemoryStore) MaxGeneratedVersion(ctx context.Context, firmID, projectID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	max := 0
	for _, f := range s.generatedFiles {
		if f.FirmID == firmID && f.ProjectID == projectID && f.Version > max {
			max = f.Version
		}
	}
	return max, nil
}

// Review queue

func (s *MemoryStore) UpsertReviewItem(ctx context.Context, item *model.ReviewItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.Status == "" {
		item.Status = model.ReviewPending
	}

	// Conflict key is (project_id, item_id).
	for _, existing := range s.reviewItems {
		if existing.ProjectID == item.ProjectID && existing.ItemID == item.ItemID {
			existing.SourceItemName = item.SourceItemName
			existing.SourceItemAmount = item.SourceItemAmount
			existing.SuggestedRow = item.SuggestedRow
			existing.SuggestedSheet = item.SuggestedSheet
			existing.SuggestedLabel = item.SuggestedLabel
			existing.Confidence = item.Confidence
			existing.Reasoning = item.Reasoning
			existing.Source = item.Source
			existing.Alternatives = append([]model.Alternative(nil), item.Alternatives...)
			item.ID = existing.ID
			item.Status = existing.Status
			item.CreatedAt = existing.CreatedAt
			return nil
		}
	}

	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	cp := *item
	cp.Alternatives = append([]model.Alternative(nil), item.Alternatives...)
	s.reviewItems[item.ID] = &cp
	return nil
}

func (s *MemoryStore) GetReviewItem(ctx context.Context, firmID, reviewID string) (*model.ReviewItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.reviewItems[reviewID]
	if !ok || item.FirmID != firmID {
		return nil, eris.Wrapf(ErrNotFound, "review item %s", reviewID)
	}
	cp := *item
	return &cp, nil
}

func (s *MemoryStore) ListReviewItems(ctx context.Context, filter ReviewFilter) ([]model.ReviewItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var items []model.ReviewItem
	for _, item := range s.reviewItems {
		if item.FirmID != filter.FirmID {
			continue
		}
		if filter.ProjectID != "" && item.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		items = append(items, *item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Confidence != items[j].Confidence {
			return items[i].Confidence < items[j].Confidence
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return paginate(items, filter.Limit, filter.Offset), nil
}

func (s *MemoryStore) UpdateReviewItem(ctx context.Context, item *model.ReviewItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.reviewItems[item.ID]
	if !ok || existing.FirmID != item.FirmID {
		return eris.Wrapf(ErrNotFound, "review item %s", item.ID)
	}
	existing.Status = item.Status
	existing.ResolvedRow = item.ResolvedRow
	existing.ResolvedSheet = item.ResolvedSheet
	existing.ResolvedBy = item.ResolvedBy
	existing.ResolvedAt = item.ResolvedAt
	return nil
}

// Precedents

func precedentKey(p *model.Precedent) string {
	return strings.Join([]string{string(p.Scope), p.FirmID, p.SourceTerm, string(p.EntityType)}, "|")
}

func (s *MemoryStore) UpsertPrecedent(ctx context.Context, p *model.Precedent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Scope == "" {
		p.Scope = model.ScopeFirm
	}
	now := time.Now().UTC()
	key := precedentKey(p)

	if existing, ok := s.precedents[key]; ok {
		existing.TargetRow = p.TargetRow
		existing.TargetSheet = p.TargetSheet
		existing.ProjectID = p.ProjectID
		existing.CreatedBy = p.CreatedBy
		existing.UpdatedAt = now
		p.ID = existing.ID
		return nil
	}

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	cp := *p
	s.precedents[key] = &cp
	return nil
}

func (s *MemoryStore) ListPrecedents(ctx context.Context, firmID string, entityType model.EntityType) ([]model.Precedent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var precedents []model.Precedent
	for _, p := range s.precedents {
		if p.FirmID != firmID && p.Scope != model.ScopeGlobal {
			continue
		}
		if p.EntityType != "" && entityType != "" && p.EntityType != entityType {
			continue
		}
		precedents = append(precedents, *p)
	}
	// Firm precedents before global ones.
	sort.Slice(precedents, func(i, j int) bool {
		if precedents[i].Scope != precedents[j].Scope {
			return precedents[i].Scope == model.ScopeFirm
		}
		return precedents[i].UpdatedAt.After(precedents[j].UpdatedAt)
	})
	return precedents, nil
}

func (s *MemoryStore) ImportPrecedents(ctx context.Context, precedents []model.Precedent) (int64, error) {
	var n int64
	for i := range precedents {
		p := precedents[i]
		if err := s.UpsertPrecedent(ctx, &p); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Audit and usage

func (s *MemoryStore) AppendAudit(ctx context.Context, entry *model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.CreatedAt = time.Now().UTC()
	s.auditLog = append(s.auditLog, *entry)
	return nil
}

func (s *MemoryStore) LogLLMUsage(ctx context.Context, rec *model.LLMUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.CreatedAt = time.Now().UTC()
	s.llmUsage = append(s.llmUsage, *rec)
	return nil
}

// AuditEntries returns a snapshot of the audit log. Test helper.
func (s *MemoryStore) AuditEntries() []model.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.AuditEntry(nil), s.auditLog...)
}

// UsageRecords returns a snapshot of logged LLM usage. Test helper.
func (s *MemoryStore) UsageRecords() []model.LLMUsage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.LLMUsage(nil), s.llmUsage...)
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
