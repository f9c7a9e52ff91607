package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/caflow/cma-engine/internal/audit"
	"github.com/caflow/cma-engine/internal/model"
	"github.com/caflow/cma-engine/internal/notify"
)

// Hooks emit audit rows and notifications around pipeline events. Every
// call is best effort; hook failures never reach the run itself.
type Hooks struct {
	audit    *audit.Recorder
	notifier notify.Notifier
}

// NewHooks builds the hook set. Either dependency may be nil.
func NewHooks(recorder *audit.Recorder, notifier notify.Notifier) *Hooks {
	return &Hooks{audit: recorder, notifier: notifier}
}

// NopHooks returns hooks that do nothing.
func NopHooks() *Hooks {
	return &Hooks{}
}

func (h *Hooks) StepStarted(ctx context.Context, project *model.Project, step model.StepName) {
	h.record(ctx, project, "pipeline.step_started", map[string]any{"step": string(step)})
}

func (h *Hooks) StepCompleted(ctx context.Context, project *model.Project, step model.StepName) {
	h.record(ctx, project, "pipeline.step_completed", map[string]any{"step": string(step)})
}

func (h *Hooks) StepFailed(ctx context.Context, project *model.Project, step model.StepName, err error) {
	h.record(ctx, project, "pipeline.step_failed", map[string]any{
		"step":  string(step),
		"error": err.Error(),
	})
}

// ReviewNeeded fires when a run pauses on the review gate.
func (h *Hooks) ReviewNeeded(ctx context.Context, project *model.Project, pending int, opts Options) {
	h.record(ctx, project, "pipeline.awaiting_review", map[string]any{"pending": pending})
	if !opts.NotifyOnReview {
		return
	}
	h.send(ctx, opts.Recipients,
		fmt.Sprintf("Review needed: %s", project.ClientName),
		fmt.Sprintf("%d classification(s) for %s (FY %s) are waiting for review.",
			pending, project.ClientName, project.FinancialYear))
}

// PipelineCompleted fires after the final step succeeds.
func (h *Hooks) PipelineCompleted(ctx context.Context, project *model.Project, opts Options) {
	h.record(ctx, project, "pipeline.completed", nil)
	h.send(ctx, opts.Recipients,
		fmt.Sprintf("CMA ready: %s", project.ClientName),
		fmt.Sprintf("The CMA package for %s (FY %s) is ready for download.",
			project.ClientName, project.FinancialYear))
}

func (h *Hooks) record(ctx context.Context, project *model.Project, action string, metadata map[string]any) {
	if h.audit == nil {
		return
	}
	h.audit.Project(ctx, project, action, metadata)
}

func (h *Hooks) send(ctx context.Context, recipients []string, subject, body string) {
	if h.notifier == nil || len(recipients) == 0 {
		return
	}
	if err := h.notifier.Notify(ctx, recipients, subject, body); err != nil {
		zap.L().Warn("pipeline: notification failed",
			zap.String("subject", subject), zap.Error(err))
	}
}
