package extract

import (
	"context"
	"encoding/base64"
	"io"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/caflow/cma-engine/internal/blob"
	"github.com/caflow/cma-engine/internal/cost"
	"github.com/caflow/cma-engine/internal/model"
	"github.com/caflow/cma-engine/internal/store"
	"github.com/caflow/cma-engine/pkg/llm"
)

// maxConcurrentFiles bounds parallel file extraction within one project.
const maxConcurrentFiles = 4

// Options configures an Extractor.
type Options struct {
	Model         string
	VisionModel   string
	MaxTokens     int64
	PdfToTextPath string
}

// Extractor turns a project's uploaded files into merged canonical data.
type Extractor struct {
	store  store.Store
	blob   blob.Store
	client llm.Client
	pdf    *PdfToText
	calc   *cost.Calculator
	opts   Options
}

// New creates an Extractor.
func New(st store.Store, bl blob.Store, client llm.Client, calc *cost.Calculator, opts Options) *Extractor {
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 8192
	}
	if opts.VisionModel == "" {
		opts.VisionModel = opts.Model
	}
	return &Extractor{
		store:  st,
		blob:   bl,
		client: client,
		pdf:    NewPdfToText(opts.PdfToTextPath),
		calc:   cost.OrDefault(calc),
		opts:   opts,
	}
}

// ExtractProject processes every pending uploaded file and merges the
// results onto the project. Each file is isolated: one bad file marks only
// itself failed. The whole step errors only when no file yields data.
func (e *Extractor) ExtractProject(ctx context.Context, project *model.Project) error {
	files, err := e.store.ListUploadedFiles(ctx, project.FirmID, project.ID)
	if err != nil {
		return eris.Wrap(err, "extract: list uploaded files")
	}
	if len(files) == 0 {
		return eris.New("extract: project has no uploaded files")
	}

	// Files extract in parallel but each failure stays scoped to its own
	// file. Results keep upload order so merging is deterministic.
	results := make([]*model.CanonicalDocument, len(files))
	var failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFiles)
	for i := range files {
		g.Go(func() error {
			f := &files[i]

			f.ExtractionStatus = model.ExtractionProcessing
			if err := e.store.UpdateUploadedFile(gctx, f); err != nil {
				return eris.Wrap(err, "extract: mark file processing")
			}

			doc, err := e.extractFile(gctx, project, f)
			if err != nil {
				failed.Add(1)
				f.ExtractionStatus = model.ExtractionFailed
				f.ExtractionError = err.Error()
				zap.L().Warn("file extraction failed",
					zap.String("project_id", project.ID),
					zap.String("file", f.FileName),
					zap.Error(err))
			} else {
				f.ExtractionStatus = model.ExtractionCompleted
				f.ExtractionError = ""
				f.ExtractedData = doc
				results[i] = doc
			}
			if err := e.store.UpdateUploadedFile(gctx, f); err != nil {
				return eris.Wrap(err, "extract: update file after extraction")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var docs []*model.CanonicalDocument
	for _, doc := range results {
		if doc != nil {
			docs = append(docs, doc)
		}
	}
	if len(docs) == 0 {
		return eris.Errorf("extract: all %d files failed extraction", failed.Load())
	}

	project.ExtractedData = Merge(docs, time.Now().UTC())
	if project.FinancialYear == "" {
		project.FinancialYear = FinancialYearOf(docs)
	}

	zap.L().Info("extraction merged",
		zap.String("project_id", project.ID),
		zap.Int("files_ok", len(docs)),
		zap.Int64("files_failed", failed.Load()),
		zap.Int("line_items", project.ExtractedData.Metadata.TotalLineItems))
	return nil
}

func (e *Extractor) extractFile(ctx context.Context, project *model.Project, f *model.UploadedFile) (*model.CanonicalDocument, error) {
	rc, err := e.blob.Download(ctx, f.StoragePath)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: download %s", f.FileName)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: read %s", f.FileName)
	}

	ext := strings.ToLower(filepath.Ext(f.FileName))
	switch ext {
	case ".xlsx", ".xls":
		doc, err := ParseExcel(data, f.FileName)
		return e.applyHint(doc, f), err
	case ".csv":
		doc, err := ParseCSV(data, f.FileName)
		return e.applyHint(doc, f), err
	case ".pdf":
		return e.extractPDF(ctx, project, f, data)
	case ".png", ".jpg", ".jpeg":
		return e.extractImage(ctx, project, f, data, ext)
	default:
		return nil, eris.Errorf("extract: unsupported file type %s", ext)
	}
}

func (e *Extractor) extractPDF(ctx context.Context, project *model.Project, f *model.UploadedFile, data []byte) (*model.CanonicalDocument, error) {
	text, err := e.pdf.ExtractText(ctx, data)
	if err != nil {
		return nil, err
	}
	if IsScanned(text) {
		// No usable text layer; let the vision model read the pages.
		zap.L().Info("scanned pdf, extracting via vision",
			zap.String("project_id", project.ID),
			zap.String("file", f.FileName))
		start := time.Now()
		doc, usage, err := ParseScannedPDF(ctx, e.client, e.opts.VisionModel, e.opts.MaxTokens,
			base64.StdEncoding.EncodeToString(data), f.FileName)
		e.logUsage(ctx, project, "vision_extraction", e.opts.VisionModel, usage, time.Since(start), err)
		if err != nil {
			return nil, err
		}
		return e.applyHint(doc, f), nil
	}

	start := time.Now()
	doc, usage, err := ParsePDFText(ctx, e.client, e.opts.Model, e.opts.MaxTokens, text, f.FileName)
	e.logUsage(ctx, project, "pdf_extraction", e.opts.Model, usage, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return e.applyHint(doc, f), nil
}

func (e *Extractor) extractImage(ctx context.Context, project *model.Project, f *model.UploadedFile, data []byte, ext string) (*model.CanonicalDocument, error) {
	mediaType := "image/png"
	if ext == ".jpg" || ext == ".jpeg" {
		mediaType = "image/jpeg"
	}

	start := time.Now()
	doc, usage, err := ParseImage(ctx, e.client, e.opts.VisionModel, e.opts.MaxTokens,
		[]llm.Image{{MediaType: mediaType, Data: base64.StdEncoding.EncodeToString(data)}}, f.FileName)
	e.logUsage(ctx, project, "vision_extraction", e.opts.VisionModel, usage, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return e.applyHint(doc, f), nil
}

// applyHint lets an explicit per-file document type override detection.
func (e *Extractor) applyHint(doc *model.CanonicalDocument, f *model.UploadedFile) *model.CanonicalDocument {
	if doc == nil {
		return nil
	}
	if f.DocumentTypeHint != "" {
		doc.DocumentType = model.DocumentType(f.DocumentTypeHint)
	}
	return doc
}

func (e *Extractor) logUsage(ctx context.Context, project *model.Project, taskType, modelID string, usage llm.TokenUsage, latency time.Duration, callErr error) {
	rec := &model.LLMUsage{
		FirmID:    project.FirmID,
		ProjectID: project.ID,
		Model:     modelID,
		TaskType:  taskType,
		Usage:     model.TokenUsage{InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens},
		CostUSD:   e.calc.Claude(modelID, usage.InputTokens, usage.OutputTokens),
		LatencyMS: latency.Milliseconds(),
		Success:   callErr == nil,
	}
	if callErr != nil {
		rec.ErrorMessage = callErr.Error()
	}
	if err := e.store.LogLLMUsage(ctx, rec); err != nil {
		zap.L().Warn("usage logging failed", zap.Error(err))
	}
}
