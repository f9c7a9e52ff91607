// Package generate renders the final CMA workbook: validation gate,
// aggregation, computed rows, versioned upload, and the generated-file
// record.
package generate

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/caflow/cma-engine/internal/blob"
	"github.com/caflow/cma-engine/internal/cma"
	"github.com/caflow/cma-engine/internal/model"
	"github.com/caflow/cma-engine/internal/store"
	"github.com/caflow/cma-engine/internal/validate"
)

// Result is the outcome of one generation attempt. Success false with a
// populated Validation means the gate refused; no file was written.
type Result struct {
	Success    bool                    `json:"success"`
	File       *model.GeneratedFile    `json:"file,omitempty"`
	Version    int                     `json:"version,omitempty"`
	Validation *model.ValidationResult `json:"validation,omitempty"`
	Warnings   []string                `json:"warnings,omitempty"`
}

// Generator builds and stores CMA workbooks.
type Generator struct {
	store store.Store
	blob  blob.Store
	now   func() time.Time
}

func New(st store.Store, bl blob.Store) *Generator {
	return &Generator{store: st, blob: bl, now: time.Now}
}

// Generate runs the validation gate and, when it passes, writes the next
// version of the project's CMA workbook. skipValidation bypasses the gate
// for explicit operator overrides.
func (g *Generator) Generate(ctx context.Context, project *model.Project, skipValidation bool) (*Result, error) {
	if project.Classification == nil {
		return nil, eris.New("generate: project has no classification data")
	}

	result := &Result{}
	if !skipValidation {
		validation := validate.Run(project.Classification, project.EntityType, g.now().UTC())
		result.Validation = validation
		for _, c := range validation.Checks {
			if c.Status == model.CheckFailed && c.Severity == model.SeverityWarning {
				result.Warnings = append(result.Warnings, c.Message)
			}
		}
		if !validation.CanGenerate {
			zap.L().Warn("generate: validation gate refused",
				zap.String("project_id", project.ID),
				zap.Int("errors", validation.Errors))
			return result, nil
		}
	}

	s := cma.BuildStatement(project.Classification)
	s.ApplyComputedRows()

	data, err := writeWorkbook(project, s)
	if err != nil {
		return nil, err
	}

	maxVersion, err := g.store.MaxGeneratedVersion(ctx, project.FirmID, project.ID)
	if err != nil {
		return nil, eris.Wrap(err, "generate: resolve next version")
	}
	version := maxVersion + 1

	fileName := workbookFileName(project, version)
	storagePath := fmt.Sprintf("%s/%s/generated/%s", project.FirmID, project.ID, fileName)
	if err := g.blob.Upload(ctx, storagePath, bytes.NewReader(data), int64(len(data)),
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"); err != nil {
		return nil, eris.Wrap(err, "generate: upload workbook")
	}

	gf := &model.GeneratedFile{
		FirmID:        project.FirmID,
		ProjectID:     project.ID,
		FileName:      fileName,
		StoragePath:   storagePath,
		Version:       version,
		FileSizeBytes: int64(len(data)),
		CreatedAt:     g.now().UTC(),
	}
	if err := g.store.CreateGeneratedFile(ctx, gf); err != nil {
		return nil, eris.Wrap(err, "generate: record generated file")
	}

	project.Status = model.StatusCompleted
	project.PipelineProgress = 100
	if err := g.store.UpdateProject(ctx, project); err != nil {
		return nil, eris.Wrap(err, "generate: mark project completed")
	}

	zap.L().Info("generate: workbook written",
		zap.String("project_id", project.ID),
		zap.String("file", fileName),
		zap.Int("version", version),
		zap.Int("bytes", len(data)))

	result.Success = true
	result.File = gf
	result.Version = version
	return result, nil
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

func workbookFileName(project *model.Project, version int) string {
	client := unsafeNameChars.ReplaceAllString(strings.ReplaceAll(project.ClientName, " ", "_"), "")
	if client == "" {
		client = project.ClientID
	}
	fy := strings.ReplaceAll(project.FinancialYear, "–", "-")
	if fy == "" {
		fy = "unknown"
	}
	return fmt.Sprintf("CMA_%s_%s_v%d.xlsx", client, fy, version)
}
