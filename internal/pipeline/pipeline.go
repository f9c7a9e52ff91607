// Package pipeline orchestrates the CMA preparation run: extract, classify,
// review, validate, generate. Steps execute in fixed order with per-step
// state tracked on the project; the review step can pause the run until a
// reviewer clears the queue.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/caflow/cma-engine/internal/config"
	"github.com/caflow/cma-engine/internal/generate"
	"github.com/caflow/cma-engine/internal/model"
	"github.com/caflow/cma-engine/internal/resilience"
	"github.com/caflow/cma-engine/internal/review"
	"github.com/caflow/cma-engine/internal/store"
	"github.com/caflow/cma-engine/internal/validate"
)

// ErrAlreadyCompleted is returned when a run is requested on a completed
// project without force-reprocess. Regenerating a delivered workbook has to
// be an explicit choice.
var ErrAlreadyCompleted = eris.New("pipeline: project is already completed; use force_reprocess to run again")

// Extractor runs document extraction for a project.
type Extractor interface {
	ExtractProject(ctx context.Context, project *model.Project) error
}

// Classifier runs the classification cascade.
type Classifier interface {
	Classify(ctx context.Context, project *model.Project, precedents []*model.Precedent) (*model.ClassificationResult, error)
}

// WorkbookGenerator renders the final CMA workbook.
type WorkbookGenerator interface {
	Generate(ctx context.Context, project *model.Project, skipValidation bool) (*generate.Result, error)
}

// Pipeline drives a project through the preparation steps.
type Pipeline struct {
	cfg       config.PipelineConfig
	store     store.Store
	extractor Extractor
	cascade   Classifier
	reviews   *review.Queue
	generator WorkbookGenerator
	hooks     *Hooks
	now       func() time.Time
}

// New creates a Pipeline with all dependencies.
func New(
	cfg config.PipelineConfig,
	st store.Store,
	extractor Extractor,
	cascade Classifier,
	reviews *review.Queue,
	generator WorkbookGenerator,
	hooks *Hooks,
) *Pipeline {
	if hooks == nil {
		hooks = NopHooks()
	}
	return &Pipeline{
		cfg:       cfg,
		store:     st,
		extractor: extractor,
		cascade:   cascade,
		reviews:   reviews,
		generator: generator,
		hooks:     hooks,
		now:       time.Now,
	}
}

// Run executes the pipeline for one project. The project's is_processing
// flag is held for the duration and always released.
func (p *Pipeline) Run(ctx context.Context, firmID, projectID string, opts Options) (*RunResult, error) {
	if opts.AutoApproveAbove <= 0 {
		opts.AutoApproveAbove = model.ReviewThreshold
	}

	project, err := p.store.GetProject(ctx, firmID, projectID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load project")
	}
	if project.Status == model.StatusCompleted && !opts.ForceReprocess && opts.StartFrom == "" {
		return nil, ErrAlreadyCompleted
	}

	if err := p.store.AcquireProcessing(ctx, firmID, projectID); err != nil {
		return nil, err
	}
	// Project updates write the whole row; keep the lock flag set until the
	// deferred release clears it.
	project.IsProcessing = true
	defer func() {
		releaseCtx := context.WithoutCancel(ctx)
		if relErr := p.store.ReleaseProcessing(releaseCtx, firmID, projectID); relErr != nil {
			zap.L().Error("pipeline: release processing lock",
				zap.String("project_id", projectID), zap.Error(relErr))
		}
	}()

	log := zap.L().With(zap.String("project_id", projectID), zap.String("firm_id", firmID))
	log.Info("pipeline: run starting", zap.String("status", string(project.Status)))

	if project.PipelineSteps == nil {
		project.PipelineSteps = model.NewPipelineSteps()
	}
	project.ErrorMessage = ""

	start := p.resolveStart(project, opts)
	p.markSkippedBefore(project, start)

	result := &RunResult{ProjectID: projectID}
	var classification *model.ClassificationResult

	for i := start; i < len(model.StepOrder); i++ {
		step := model.StepOrder[i]
		if err := p.markRunning(ctx, project, step); err != nil {
			return nil, err
		}
		p.hooks.StepStarted(ctx, project, step)
		result.StepsRun = append(result.StepsRun, step)
		stepStart := p.now()

		var stepErr error
		switch step {
		case model.StepExtract:
			stepErr = p.runExtract(ctx, project)
		case model.StepClassify:
			classification, stepErr = p.runClassify(ctx, project)
		case model.StepReview:
			var pending int
			pending, stepErr = p.runReview(ctx, project, classification, opts)
			if stepErr == nil && pending > 0 {
				p.pauseForReview(ctx, project, pending, opts)
				result.Status = project.Status
				result.Progress = project.PipelineProgress
				result.StoppedReason = StopAwaitingReview
				result.PendingReview = pending
				return result, nil
			}
		case model.StepValidate:
			stepErr = p.runValidate(ctx, project, opts)
		case model.StepGenerate:
			stepErr = p.runGenerate(ctx, project, opts)
		}

		if stepErr != nil {
			p.failStep(ctx, project, step, stepStart, stepErr)
			p.hooks.StepFailed(ctx, project, step, stepErr)
			result.Status = project.Status
			result.Progress = project.PipelineProgress
			result.StoppedReason = failureReason(step)
			result.Error = stepErr.Error()
			return result, nil
		}

		if err := p.completeStep(ctx, project, step, stepStart); err != nil {
			return nil, err
		}
		p.hooks.StepCompleted(ctx, project, step)
	}

	log.Info("pipeline: run complete")
	p.hooks.PipelineCompleted(ctx, project, opts)

	result.Status = project.Status
	result.Progress = project.PipelineProgress
	return result, nil
}

// resolveStart picks the first step to execute.
func (p *Pipeline) resolveStart(project *model.Project, opts Options) int {
	if opts.StartFrom != "" {
		if idx := model.StepIndex(opts.StartFrom); idx >= 0 {
			return idx
		}
	}
	if opts.ForceReprocess {
		return 0
	}
	return model.StepIndex(model.NextStepFor(project.Status))
}

func (p *Pipeline) markSkippedBefore(project *model.Project, start int) {
	for i := 0; i < start; i++ {
		step := model.StepOrder[i]
		state := project.PipelineSteps[step]
		if state.Status == model.StepPending {
			state.Status = model.StepSkipped
			project.PipelineSteps[step] = state
		}
	}
}

func (p *Pipeline) markRunning(ctx context.Context, project *model.Project, step model.StepName) error {
	now := p.now().UTC()
	project.PipelineSteps[step] = model.StepState{Status: model.StepRunning, StartedAt: &now}
	project.Status = runningStatus[step]
	project.PipelineProgress = stepProgress[step].start
	if err := p.store.UpdateProject(ctx, project); err != nil {
		return eris.Wrapf(err, "pipeline: mark step %s running", step)
	}
	return nil
}

func (p *Pipeline) completeStep(ctx context.Context, project *model.Project, step model.StepName, started time.Time) error {
	now := p.now().UTC()
	state := project.PipelineSteps[step]
	state.Status = model.StepCompleted
	state.CompletedAt = &now
	state.DurationMS = now.Sub(started.UTC()).Milliseconds()
	project.PipelineSteps[step] = state

	project.Status = completedStatus[step]
	project.PipelineProgress = stepProgress[step].end
	if err := p.store.UpdateProject(ctx, project); err != nil {
		return eris.Wrapf(err, "pipeline: mark step %s complete", step)
	}
	return nil
}

func (p *Pipeline) failStep(ctx context.Context, project *model.Project, step model.StepName, started time.Time, stepErr error) {
	now := p.now().UTC()
	state := project.PipelineSteps[step]
	state.Status = model.StepFailed
	state.CompletedAt = &now
	state.DurationMS = now.Sub(started.UTC()).Milliseconds()
	state.Error = stepErr.Error()
	project.PipelineSteps[step] = state

	if step == model.StepValidate {
		project.Status = model.StatusValidationFailed
	} else {
		project.Status = model.StatusError
	}
	project.ErrorMessage = stepErr.Error()

	if err := p.store.UpdateProject(ctx, project); err != nil {
		zap.L().Error("pipeline: persist step failure",
			zap.String("project_id", project.ID),
			zap.String("step", string(step)),
			zap.Error(err))
	}
	zap.L().Error("pipeline: step failed",
		zap.String("project_id", project.ID),
		zap.String("step", string(step)),
		zap.Error(stepErr))
}

// pauseForReview parks the run in reviewing state; the review step stays
// pending so a resume re-enters it.
func (p *Pipeline) pauseForReview(ctx context.Context, project *model.Project, pending int, opts Options) {
	state := project.PipelineSteps[model.StepReview]
	state.Status = model.StepPending
	project.PipelineSteps[model.StepReview] = state
	project.Status = model.StatusReviewing
	project.PipelineProgress = stepProgress[model.StepReview].start
	if err := p.store.UpdateProject(ctx, project); err != nil {
		zap.L().Error("pipeline: persist review pause",
			zap.String("project_id", project.ID), zap.Error(err))
	}

	zap.L().Info("pipeline: paused for review",
		zap.String("project_id", project.ID),
		zap.Int("pending", pending))
	p.hooks.ReviewNeeded(ctx, project, pending, opts)
}

func (p *Pipeline) runExtract(ctx context.Context, project *model.Project) error {
	cfg := resilience.RetryConfig{
		MaxAttempts:    p.cfg.ExtractAttempts,
		InitialBackoff: time.Duration(p.cfg.ExtractBackoffSecs) * time.Second,
		OnRetry:        resilience.RetryLogger("pipeline: extract"),
	}
	err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
		return p.extractor.ExtractProject(ctx, project)
	})
	if err != nil {
		return err
	}
	return eris.Wrap(p.store.UpdateProject(ctx, project), "pipeline: persist extraction")
}

func (p *Pipeline) runClassify(ctx context.Context, project *model.Project) (*model.ClassificationResult, error) {
	precedents, err := p.store.ListPrecedents(ctx, project.FirmID, project.EntityType)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load precedents")
	}
	refs := make([]*model.Precedent, len(precedents))
	for i := range precedents {
		refs[i] = &precedents[i]
	}

	cfg := resilience.RetryConfig{
		MaxAttempts:    p.cfg.ClassifyAttempts,
		InitialBackoff: time.Duration(p.cfg.ClassifyBackoffSecs) * time.Second,
		OnRetry:        resilience.RetryLogger("pipeline: classify"),
	}
	result, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*model.ClassificationResult, error) {
		return p.cascade.Classify(ctx, project, refs)
	})
	if err != nil {
		return nil, err
	}

	project.Classification = result.Data(p.now().UTC())
	if err := p.store.UpdateProject(ctx, project); err != nil {
		return nil, eris.Wrap(err, "pipeline: persist classification")
	}
	return result, nil
}

// runReview populates the queue, auto-approves what policy allows, and
// reports how many items still need a human. Zero pending means resolutions
// are folded back and the run continues.
func (p *Pipeline) runReview(ctx context.Context, project *model.Project, classification *model.ClassificationResult, opts Options) (int, error) {
	if classification == nil {
		// Resumed run; rebuild from the persisted classification.
		if project.Classification == nil {
			return 0, eris.New("pipeline: review step without classification data")
		}
		classification = &model.ClassificationResult{Items: project.Classification.Items}
	}

	if _, err := p.reviews.Populate(ctx, project, classification); err != nil {
		return 0, err
	}

	minConfidence := opts.AutoApproveAbove
	if opts.SkipReview {
		minConfidence = 0
	}
	bulk, err := p.reviews.ApproveAll(ctx, project.FirmID, project, "pipeline", minConfidence)
	if err != nil {
		return 0, err
	}
	if bulk.Failed > 0 {
		zap.L().Warn("pipeline: some auto-approvals failed",
			zap.String("project_id", project.ID),
			zap.Int("failed", bulk.Failed))
	}

	pending, err := p.reviews.PendingCount(ctx, project.FirmID, project.ID)
	if err != nil {
		return 0, err
	}
	if pending > 0 && !opts.SkipReview {
		return pending, nil
	}

	if _, err := p.reviews.ApplyResolutions(ctx, project); err != nil {
		return 0, err
	}
	if err := p.store.UpdateProject(ctx, project); err != nil {
		return 0, eris.Wrap(err, "pipeline: persist reviewed classification")
	}
	return 0, nil
}

func (p *Pipeline) runValidate(ctx context.Context, project *model.Project, opts Options) error {
	if opts.SkipValidation {
		zap.L().Warn("pipeline: validation skipped by request",
			zap.String("project_id", project.ID))
		return nil
	}
	if project.Classification == nil {
		return eris.New("pipeline: validate step without classification data")
	}
	result := validate.Run(project.Classification, project.EntityType, p.now().UTC())
	if !result.CanGenerate {
		return eris.Errorf("pipeline: validation failed with %d error(s)", result.Errors)
	}
	return nil
}

func (p *Pipeline) runGenerate(ctx context.Context, project *model.Project, opts Options) error {
	result, err := p.generator.Generate(ctx, project, opts.SkipValidation)
	if err != nil {
		return err
	}
	if !result.Success {
		return eris.New("pipeline: generation refused by validation gate")
	}
	return nil
}
