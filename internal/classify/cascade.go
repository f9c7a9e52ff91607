package classify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/caflow/cma-engine/internal/cost"
	"github.com/caflow/cma-engine/internal/model"
	"github.com/caflow/cma-engine/pkg/llm"
)

// Options configures the classification cascade.
type Options struct {
	Model           string
	MaxTokens       int64
	AIBatchSize     int
	ReviewThreshold float64
}

func (o Options) withDefaults() Options {
	if o.MaxTokens <= 0 {
		o.MaxTokens = 4096
	}
	if o.AIBatchSize <= 0 {
		o.AIBatchSize = 20
	}
	if o.ReviewThreshold <= 0 {
		o.ReviewThreshold = model.ReviewThreshold
	}
	return o
}

// Cascade classifies extracted line items through three tiers: firm
// precedents first, then the static rule set, then the model for whatever is
// left. Each tier only sees what the previous one could not settle.
type Cascade struct {
	loader *RuleLoader
	client llm.Client
	calc   *cost.Calculator
	opts   Options
}

// NewCascade builds a cascade. client may be nil, which disables the AI tier
// and leaves unmatched items unclassified.
func NewCascade(loader *RuleLoader, client llm.Client, calc *cost.Calculator, opts Options) *Cascade {
	return &Cascade{
		loader: loader,
		client: client,
		calc:   cost.OrDefault(calc),
		opts:   opts.withDefaults(),
	}
}

// Classify runs the cascade over a project's merged extraction data.
// precedents is the firm-visible precedent list from the store.
func (c *Cascade) Classify(ctx context.Context, project *model.Project, precedents []*model.Precedent) (*model.ClassificationResult, error) {
	if project.ExtractedData == nil {
		return nil, eris.New("classify: project has no extracted data")
	}

	items := collectItems(project.ExtractedData)
	if len(items) == 0 {
		return nil, eris.New("classify: no line items to classify")
	}

	rs, err := c.loader.Get()
	if err != nil {
		return nil, err
	}
	idx := NewPrecedentIndex(precedents)

	result := &model.ClassificationResult{}
	var pending []model.ClassifiedItem

	for _, item := range items {
		if m := idx.Match(item.ItemName, project.EntityType); m != nil {
			item.TargetRow = intPtr(m.Precedent.TargetRow)
			item.TargetSheet = m.Precedent.TargetSheet
			item.TargetLabel = DisplayTerm(m.Precedent.SourceTerm)
			item.Confidence = m.Score
			item.Source = model.SourcePrecedent
			item.MatchedPrecedentID = m.Precedent.ID
			result.Items = append(result.Items, item)
			continue
		}
		if m := MatchRule(rs, item.ItemName, string(project.EntityType), string(item.DocumentType)); m != nil {
			item.TargetRow = intPtr(m.Rule.TargetRow)
			item.TargetSheet = m.Rule.TargetSheet
			item.TargetLabel = m.Rule.TargetLabel
			item.Confidence = m.Score
			item.Source = model.SourceRule
			item.MatchedRuleID = m.Rule.ID
			result.Items = append(result.Items, item)
			continue
		}
		pending = append(pending, item)
	}

	if len(pending) > 0 {
		classified := c.classifyWithAI(ctx, rs, pending, project.EntityType, result)
		result.Items = append(result.Items, classified...)
	}

	for i := range result.Items {
		if result.Items[i].Confidence < c.opts.ReviewThreshold {
			result.Items[i].NeedsReview = true
		}
	}

	result.Summarize()
	zap.L().Info("classify: cascade complete",
		zap.String("project_id", project.ID),
		zap.Int("total", result.TotalItems),
		zap.Int("by_precedent", result.ByPrecedent),
		zap.Int("by_rule", result.ByRule),
		zap.Int("by_ai", result.ByAI),
		zap.Int("unclassified", result.Unclassified),
		zap.Int("needs_review", result.NeedsReview))
	return result, nil
}

// collectItems flattens the merged documents into classifiable items,
// skipping totals and group headings. ItemID is assigned here and stays
// stable through review and generation.
func collectItems(data *model.ExtractedData) []model.ClassifiedItem {
	var items []model.ClassifiedItem
	for _, dt := range model.MergeableDocumentTypes {
		doc := data.Document(dt)
		if doc == nil {
			continue
		}
		for _, li := range doc.LineItems {
			if li.IsTotal || li.Name == "" {
				continue
			}
			items = append(items, model.ClassifiedItem{
				ItemID:       uuid.NewString(),
				ItemName:     li.Name,
				ItemAmount:   li.Amount,
				DocumentType: dt,
			})
		}
	}
	return items
}

// aiClassification is the per-item shape the model returns.
type aiClassification struct {
	Index       int     `json:"index"`
	TargetRow   *int    `json:"target_row"`
	TargetSheet string  `json:"target_sheet"`
	TargetLabel string  `json:"target_label"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning"`
}

// classifyWithAI sends the pending items to the model in fixed-size batches.
// A failed batch marks its items unclassified and moves on; one bad batch
// must not sink the whole run.
func (c *Cascade) classifyWithAI(ctx context.Context, rs *RuleSet, pending []model.ClassifiedItem, entityType model.EntityType, result *model.ClassificationResult) []model.ClassifiedItem {
	out := make([]model.ClassifiedItem, 0, len(pending))

	for start := 0; start < len(pending); start += c.opts.AIBatchSize {
		end := start + c.opts.AIBatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		classified, err := c.classifyBatch(ctx, rs, batch, entityType, result)
		if err != nil {
			zap.L().Warn("classify: ai batch failed, marking items unclassified",
				zap.Int("batch_start", start),
				zap.Int("batch_size", len(batch)),
				zap.Error(err))
			for _, item := range batch {
				item.Source = model.SourceUnclassified
				item.Confidence = 0
				out = append(out, item)
			}
			continue
		}
		out = append(out, classified...)
	}
	return out
}

func (c *Cascade) classifyBatch(ctx context.Context, rs *RuleSet, batch []model.ClassifiedItem, entityType model.EntityType, result *model.ClassificationResult) ([]model.ClassifiedItem, error) {
	if c.client == nil {
		return nil, eris.New("classify: no model client configured")
	}

	started := time.Now()
	resp, err := c.client.CreateMessage(ctx, llm.MessageRequest{
		Model:     c.opts.Model,
		MaxTokens: c.opts.MaxTokens,
		System:    classifySystem,
		Messages: []llm.Message{
			{Role: "user", Content: buildClassifyPrompt(rs, batch, entityType)},
		},
	})
	if err != nil {
		return nil, err
	}

	result.LLMTokensUsed += resp.Usage.InputTokens + resp.Usage.OutputTokens
	result.LLMCostUSD += c.calc.Claude(resp.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	zap.L().Debug("classify: ai batch done",
		zap.Int("items", len(batch)),
		zap.Duration("took", time.Since(started)),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens))

	var decisions []aiClassification
	if err := json.Unmarshal([]byte(llm.CleanJSON(resp.Text)), &decisions); err != nil {
		return nil, eris.Wrap(err, "classify: parse model response")
	}

	byIndex := make(map[int]aiClassification, len(decisions))
	for _, d := range decisions {
		byIndex[d.Index] = d
	}

	out := make([]model.ClassifiedItem, 0, len(batch))
	for i, item := range batch {
		d, ok := byIndex[i+1]
		if !ok || d.TargetRow == nil {
			item.Source = model.SourceUnclassified
			item.Confidence = 0
			if ok {
				item.Reasoning = d.Reasoning
			}
			out = append(out, item)
			continue
		}
		item.TargetRow = d.TargetRow
		item.TargetSheet = d.TargetSheet
		item.TargetLabel = d.TargetLabel
		item.Confidence = clamp01(d.Confidence)
		item.Source = model.SourceAI
		item.Reasoning = d.Reasoning
		out = append(out, item)
	}
	return out, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func intPtr(v int) *int { return &v }
