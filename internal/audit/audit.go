// Package audit writes action records through the store. Audit writes are
// best effort and never fail the operation being audited.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/caflow/cma-engine/internal/model"
	"github.com/caflow/cma-engine/internal/store"
)

// Recorder appends audit entries.
type Recorder struct {
	store store.Store
	now   func() time.Time
}

func New(st store.Store) *Recorder {
	return &Recorder{store: st, now: time.Now}
}

// Record appends one entry. Failures are logged and swallowed.
func (r *Recorder) Record(ctx context.Context, firmID, action, entityType, entityID string, metadata map[string]any) {
	entry := &model.AuditEntry{
		FirmID:     firmID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Metadata:   metadata,
		CreatedAt:  r.now().UTC(),
	}
	if err := r.store.AppendAudit(ctx, entry); err != nil {
		zap.L().Warn("audit: append failed",
			zap.String("action", action),
			zap.String("entity_id", entityID),
			zap.Error(err))
	}
}

// Project records a project-scoped action.
func (r *Recorder) Project(ctx context.Context, project *model.Project, action string, metadata map[string]any) {
	r.Record(ctx, project.FirmID, action, "project", project.ID, metadata)
}
