package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/caflow/cma-engine/internal/audit"
	"github.com/caflow/cma-engine/internal/blob"
	"github.com/caflow/cma-engine/internal/classify"
	"github.com/caflow/cma-engine/internal/cost"
	"github.com/caflow/cma-engine/internal/extract"
	"github.com/caflow/cma-engine/internal/generate"
	"github.com/caflow/cma-engine/internal/notify"
	"github.com/caflow/cma-engine/internal/pipeline"
	"github.com/caflow/cma-engine/internal/review"
	"github.com/caflow/cma-engine/internal/store"
	"github.com/caflow/cma-engine/pkg/llm"
)

// env holds the wired application services shared by the serve and process
// commands.
type env struct {
	Store     store.Store
	Blob      blob.Store
	Reviews   *review.Queue
	Generator *generate.Generator
	Pipeline  *pipeline.Pipeline
}

// initEnv builds every service from configuration. The caller owns Close.
func initEnv(ctx context.Context) (*env, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	bl, err := openBlob(ctx)
	if err != nil {
		st.Close()
		return nil, err
	}

	client := llm.NewClient(cfg.Anthropic.Key, cfg.Anthropic.RequestsPerMin)
	calc := cost.NewCalculator(pricingRates())

	extractor := extract.New(st, bl, client, calc, extract.Options{
		Model:         cfg.Anthropic.Model,
		VisionModel:   cfg.Anthropic.VisionModel,
		MaxTokens:     int64(cfg.Anthropic.MaxTokens),
		PdfToTextPath: cfg.Extract.PdfToTextPath,
	})

	loader := classify.NewRuleLoader(cfg.Classify.RulesPath,
		time.Duration(cfg.Classify.RulesTTLSecs)*time.Second)
	cascade := classify.NewCascade(loader, client, calc, classify.Options{
		Model:           cfg.Anthropic.Model,
		MaxTokens:       int64(cfg.Anthropic.MaxTokens),
		AIBatchSize:     cfg.Classify.AIBatchSize,
		ReviewThreshold: cfg.Classify.ReviewThreshold,
	})

	reviews := review.NewQueue(st, loader)
	generator := generate.New(st, bl)

	notifier := notify.FromConfig(cfg.Notify.Enabled, cfg.Notify.WebhookURL)
	hooks := pipeline.NewHooks(audit.New(st), notifier)

	p := pipeline.New(cfg.Pipeline, st, extractor, cascade, reviews, generator, hooks)

	return &env{
		Store:     st,
		Blob:      bl,
		Reviews:   reviews,
		Generator: generator,
		Pipeline:  p,
	}, nil
}

func (e *env) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		return store.NewMemory(), nil
	case "postgres", "":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "open postgres store")
		}
		return st, nil
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func openBlob(ctx context.Context) (blob.Store, error) {
	switch cfg.Blob.Driver {
	case "memory":
		return blob.NewMemory(), nil
	case "minio", "":
		bl, err := blob.NewMinio(ctx, cfg.Blob.Endpoint, cfg.Blob.AccessKey,
			cfg.Blob.SecretKey, cfg.Blob.Bucket, cfg.Blob.UseSSL)
		if err != nil {
			return nil, eris.Wrap(err, "open minio store")
		}
		return bl, nil
	default:
		return nil, eris.Errorf("unknown blob driver %q", cfg.Blob.Driver)
	}
}

// pricingRates converts configured pricing to calculator rates, or nil for
// the built-in defaults.
func pricingRates() map[string]cost.ModelRate {
	if len(cfg.Pricing.Anthropic) == 0 {
		return nil
	}
	rates := make(map[string]cost.ModelRate, len(cfg.Pricing.Anthropic))
	for model, p := range cfg.Pricing.Anthropic {
		rates[model] = cost.ModelRate{Input: p.Input, Output: p.Output}
	}
	return rates
}
