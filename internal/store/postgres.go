package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/caflow/cma-engine/internal/db"
	"github.com/caflow/cma-engine/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS projects (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	firm_id        TEXT NOT NULL,
	client_id      TEXT NOT NULL,
	client_name    TEXT NOT NULL,
	entity_type    TEXT NOT NULL,
	financial_year TEXT,
	status         TEXT NOT NULL DEFAULT 'draft',
	progress       INTEGER NOT NULL DEFAULT 0,
	pipeline_steps JSONB NOT NULL DEFAULT '{}'::jsonb,
	is_processing  BOOLEAN NOT NULL DEFAULT FALSE,
	extracted_data JSONB,
	classification JSONB,
	error_message  TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_projects_firm ON projects(firm_id);
CREATE INDEX IF NOT EXISTS idx_projects_firm_status ON projects(firm_id, status);

CREATE TABLE IF NOT EXISTS uploaded_files (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	firm_id           TEXT NOT NULL,
	project_id        TEXT NOT NULL REFERENCES projects(id),
	file_name         TEXT NOT NULL,
	file_type         TEXT NOT NULL,
	storage_path      TEXT NOT NULL,
	document_type     TEXT,
	extraction_status TEXT NOT NULL DEFAULT 'pending',
	extracted_data    JSONB,
	extraction_error  TEXT,
	file_size_bytes   BIGINT NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_uploaded_files_project ON uploaded_files(project_id);

CREATE TABLE IF NOT EXISTS generated_files (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	firm_id         TEXT NOT NULL,
	project_id      TEXT NOT NULL REFERENCES projects(id),
	file_name       TEXT NOT NULL,
	storage_path    TEXT NOT NULL,
	version         INTEGER NOT NULL,
	file_size_bytes BIGINT NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_generated_files_project ON generated_files(project_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_generated_files_version ON generated_files(project_id, version);

CREATE TABLE IF NOT EXISTS review_queue (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	firm_id            TEXT NOT NULL,
	project_id         TEXT NOT NULL REFERENCES projects(id),
	item_id            TEXT NOT NULL,
	source_item_name   TEXT NOT NULL,
	source_item_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
	suggested_row      INTEGER,
	suggested_sheet    TEXT,
	suggested_label    TEXT,
	confidence         DOUBLE PRECISION NOT NULL DEFAULT 0,
	reasoning          TEXT,
	source             TEXT NOT NULL,
	alternatives       JSONB,
	status             TEXT NOT NULL DEFAULT 'pending',
	resolved_row       INTEGER,
	resolved_sheet     TEXT,
	resolved_by        TEXT,
	resolved_at        TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (project_id, item_id)
);

CREATE INDEX IF NOT EXISTS idx_review_queue_project_status ON review_queue(project_id, status);
CREATE INDEX IF NOT EXISTS idx_review_queue_firm ON review_queue(firm_id);

CREATE TABLE IF NOT EXISTS precedents (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	firm_id      TEXT NOT NULL DEFAULT '',
	source_term  TEXT NOT NULL,
	target_row   INTEGER NOT NULL,
	target_sheet TEXT NOT NULL,
	entity_type  TEXT NOT NULL DEFAULT '',
	scope        TEXT NOT NULL DEFAULT 'firm',
	project_id   TEXT,
	created_by   TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (scope, firm_id, source_term, entity_type)
);

CREATE INDEX IF NOT EXISTS idx_precedents_firm ON precedents(firm_id);
CREATE INDEX IF NOT EXISTS idx_precedents_term ON precedents(source_term);

CREATE TABLE IF NOT EXISTS audit_log (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	firm_id     TEXT NOT NULL,
	action      TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	metadata    JSONB,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_audit_log_entity ON audit_log(entity_type, entity_id);

CREATE TABLE IF NOT EXISTS llm_usage (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	firm_id       TEXT NOT NULL,
	project_id    TEXT,
	model         TEXT NOT NULL,
	task_type     TEXT NOT NULL,
	input_tokens  BIGINT NOT NULL DEFAULT 0,
	output_tokens BIGINT NOT NULL DEFAULT 0,
	cost_usd      DOUBLE PRECISION NOT NULL DEFAULT 0,
	latency_ms    BIGINT NOT NULL DEFAULT 0,
	success       BOOLEAN NOT NULL DEFAULT TRUE,
	error_message TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_llm_usage_project ON llm_usage(project_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Projects

func (s *PostgresStore) CreateProject(ctx context.Context, p *model.Project) error {
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

	stepsJSON, err := json.Marshal(p.PipelineSteps)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal pipeline steps")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO projects (id, firm_id, client_id, client_name, entity_type, financial_year, status, progress, pipeline_steps, is_processing, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.FirmID, p.ClientID, p.ClientName, string(p.EntityType), p.FinancialYear,
		string(p.Status), p.PipelineProgress, stepsJSON, p.IsProcessing, now, now,
	)
	return eris.Wrap(err, "postgres: insert project")
}

const projectColumns = `id, firm_id, client_id, client_name, entity_type, financial_year, status, progress, pipeline_steps, is_processing, extracted_data, classification, error_message, created_at, updated_at`

func scanProject(row pgx.Row) (*model.Project, error) {
	var p model.Project
	var stepsJSON []byte
	var extractedJSON, classificationJSON *[]byte
	var financialYear, errorMessage *string

	err := row.Scan(&p.ID, &p.FirmID, &p.ClientID, &p.ClientName, &p.EntityType,
		&financialYear, &p.Status, &p.PipelineProgress, &stepsJSON, &p.IsProcessing,
		&extractedJSON, &classificationJSON, &errorMessage, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if financialYear != nil {
		p.FinancialYear = *financialYear
	}
	if errorMessage != nil {
		p.ErrorMessage = *errorMessage
	}
	if len(stepsJSON) > 0 {
		if err := json.Unmarshal(stepsJSON, &p.PipelineSteps); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal pipeline steps")
		}
	}
	if extractedJSON != nil {
		p.ExtractedData = &model.ExtractedData{}
		if err := json.Unmarshal(*extractedJSON, p.ExtractedData); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal extracted data")
		}
	}
	if classificationJSON != nil {
		p.Classification = &model.ClassificationData{}
		if err := json.Unmarshal(*classificationJSON, p.Classification); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal classification")
		}
	}
	return &p, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, firmID, projectID string) (*model.Project, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1 AND firm_id = $2`,
		projectID, firmID,
	)
	p, err := scanProject(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "project %s", projectID)
		}
		return nil, eris.Wrapf(err, "postgres: get project %s", projectID)
	}
	return p, nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, p *model.Project) error {
	p.UpdatedAt = time.Now().UTC()

	stepsJSON, err := json.Marshal(p.PipelineSteps)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal pipeline steps")
	}
	var extractedJSON, classificationJSON []byte
	if p.ExtractedData != nil {
		if extractedJSON, err = json.Marshal(p.ExtractedData); err != nil {
			return eris.Wrap(err, "postgres: marshal extracted data")
		}
	}
	if p.Classification != nil {
		if classificationJSON, err = json.Marshal(p.Classification); err != nil {
			return eris.Wrap(err, "postgres: marshal classification")
		}
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE projects SET status = $1, progress = $2, pipeline_steps = $3, is_processing = $4,
		 extracted_data = $5, classification = $6, error_message = $7, financial_year = $8, updated_at = $9
		 WHERE id = $10 AND firm_id = $11`,
		string(p.Status), p.PipelineProgress, stepsJSON, p.IsProcessing,
		extractedJSON, classificationJSON, p.ErrorMessage, p.FinancialYear, p.UpdatedAt,
		p.ID, p.FirmID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update project %s", p.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "project %s", p.ID)
	}
	return nil
}

func (s *PostgresStore) ListProjects(ctx context.Context, filter ProjectFilter) ([]model.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE firm_id = $1`
	args := []any{filter.FirmID}
	argIdx := 2

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list projects")
	}
	defer rows.Close()

	var projects []model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan project")
		}
		projects = append(projects, *p)
	}
	return projects, eris.Wrap(rows.Err(), "postgres: list projects iterate")
}

func (s *PostgresStore) AcquireProcessing(ctx context.Context, firmID, projectID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE projects SET is_processing = TRUE, updated_at = now()
		 WHERE id = $1 AND firm_id = $2 AND is_processing = FALSE`,
		projectID, firmID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: acquire processing %s", projectID)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish missing project from held lock.
		if _, getErr := s.GetProject(ctx, firmID, projectID); getErr != nil {
			return getErr
		}
		return eris.Wrapf(ErrProcessing, "project %s", projectID)
	}
	return nil
}

func (s *PostgresStore) ReleaseProcessing(ctx context.Context, firmID, projectID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE projects SET is_processing = FALSE, updated_at = now()
		 WHERE id = $1 AND firm_id = $2`,
		projectID, firmID,
	)
	return eris.Wrapf(err, "postgres: release processing %s", projectID)
}

// Uploaded files

func (s *PostgresStore) CreateUploadedFile(ctx context.Context, f *model.UploadedFile) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	f.CreatedAt = time.Now().UTC()
	if f.ExtractionStatus == "" {
		f.ExtractionStatus = model.ExtractionPending
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO uploaded_files (id, firm_id, project_id, file_name, file_type, storage_path, document_type, extraction_status, file_size_bytes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		f.ID, f.FirmID, f.ProjectID, f.FileName, f.FileType, f.StoragePath,
		f.DocumentTypeHint, string(f.ExtractionStatus), f.FileSizeBytes, f.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert uploaded file")
}

const uploadedFileColumns = `id, firm_id, project_id, file_name, file_type, storage_path, document_type, extraction_status, extracted_data, extraction_error, file_size_bytes, created_at`

func scanUploadedFile(row pgx.Row) (*model.UploadedFile, error) {
	var f model.UploadedFile
	var docType, extractionError *string
	var extractedJSON *[]byte

	err := row.Scan(&f.ID, &f.FirmID, &f.ProjectID, &f.FileName, &f.FileType,
		&f.StoragePath, &docType, &f.ExtractionStatus, &extractedJSON,
		&extractionError, &f.FileSizeBytes, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	if docType != nil {
		f.DocumentTypeHint = *docType
	}
	if extractionError != nil {
		f.ExtractionError = *extractionError
	}
	if extractedJSON != nil {
		f.ExtractedData = &model.CanonicalDocument{}
		if err := json.Unmarshal(*extractedJSON, f.ExtractedData); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal extracted document")
		}
	}
	return &f, nil
}

func (s *PostgresStore) GetUploadedFile(ctx context.Context, firmID, fileID string) (*model.UploadedFile, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+uploadedFileColumns+` FROM uploaded_files WHERE id = $1 AND firm_id = $2`,
		fileID, firmID,
	)
	f, err := scanUploadedFile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "uploaded file %s", fileID)
		}
		return nil, eris.Wrapf(err, "postgres: get uploaded file %s", fileID)
	}
	return f, nil
}

func (s *PostgresStore) ListUploadedFiles(ctx context.Context, firmID, projectID string) ([]model.UploadedFile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+uploadedFileColumns+` FROM uploaded_files
		 WHERE project_id = $1 AND firm_id = $2 AND extraction_status != 'deleted'
		 ORDER BY created_at ASC`,
		projectID, firmID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list uploaded files")
	}
	defer rows.Close()

	var files []model.UploadedFile
	for rows.Next() {
		f, err := scanUploadedFile(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan uploaded file")
		}
		files = append(files, *f)
	}
	return files, eris.Wrap(rows.Err(), "postgres: list uploaded files iterate")
}

func (s *PostgresStore) UpdateUploadedFile(ctx context.Context, f *model.UploadedFile) error {
	var extractedJSON []byte
	var err error
	if f.ExtractedData != nil {
		if extractedJSON, err = json.Marshal(f.ExtractedData); err != nil {
			return eris.Wrap(err, "postgres: marshal extracted document")
		}
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE uploaded_files SET extraction_status = $1, extracted_data = $2, extraction_error = $3, document_type = $4
		 WHERE id = $5 AND firm_id = $6`,
		string(f.ExtractionStatus), extractedJSON, f.ExtractionError, f.DocumentTypeHint,
		f.ID, f.FirmID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update uploaded file %s", f.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "uploaded file %s", f.ID)
	}
	return nil
}

// Generated files

func (s *PostgresStore) CreateGeneratedFile(ctx context.Context, f *model.GeneratedFile) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	f.CreatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO generated_files (id, firm_id, project_id, file_name, storage_path, version, file_size_bytes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		f.ID, f.FirmID, f.ProjectID, f.FileName, f.StoragePath, f.Version, f.FileSizeBytes, f.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert generated file")
}

func (s *PostgresStore) ListGeneratedFiles(ctx context.Context, firmID, projectID string) ([]model.GeneratedFile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, firm_id, project_id, file_name, storage_path, version, file_size_bytes, created_at
		 FROM generated_files WHERE project_id = $1 AND firm_id = $2 ORDER BY version DESC`,
		projectID, firmID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list generated files")
	}
	defer rows.Close()

	var files []model.GeneratedFile
	for rows.Next() {
		var f model.GeneratedFile
		if err := rows.Scan(&f.ID, &f.FirmID, &f.ProjectID, &f.FileName, &f.StoragePath,
			&f.Version, &f.FileSizeBytes, &f.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan generated file")
		}
		files = append(files, f)
	}
	return files, eris.Wrap(rows.Err(), "postgres: list generated files iterate")
}

func (s *PostgresStore) MaxGeneratedVersion(ctx context.Context, firmID, projectID string) (int, error) {
	var version int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM generated_files WHERE project_id = $1 AND firm_id = $2`,
		projectID, firmID,
	).Scan(&version)
	return version, eris.Wrap(err, "postgres: max generated version")
}

// Review queue

func (s *PostgresStore) UpsertReviewItem(ctx context.Context, item *model.ReviewItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if item.Status == "" {
		item.Status = model.ReviewPending
	}

	altJSON, err := json.Marshal(item.Alternatives)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal alternatives")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO review_queue
		 (id, firm_id, project_id, item_id, source_item_name, source_item_amount, suggested_row, suggested_sheet, suggested_label, confidence, reasoning, source, alternatives, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (project_id, item_id) DO UPDATE SET
		   source_item_name = $5, source_item_amount = $6, suggested_row = $7, suggested_sheet = $8,
		   suggested_label = $9, confidence = $10, reasoning = $11, source = $12, alternatives = $13`,
		item.ID, item.FirmID, item.ProjectID, item.ItemID, item.SourceItemName, item.SourceItemAmount,
		item.SuggestedRow, item.SuggestedSheet, item.SuggestedLabel, item.Confidence,
		item.Reasoning, string(item.Source), altJSON, string(item.Status), item.CreatedAt,
	)
	return eris.Wrap(err, "postgres: upsert review item")
}

const reviewColumns = `id, firm_id, project_id, item_id, source_item_name, source_item_amount, suggested_row, suggested_sheet, suggested_label, confidence, reasoning, source, alternatives, status, resolved_row, resolved_sheet, resolved_by, resolved_at, created_at`

func scanReviewItem(row pgx.Row) (*model.ReviewItem, error) {
	var item model.ReviewItem
	var suggestedSheet, suggestedLabel, reasoning, resolvedSheet, resolvedBy *string
	var altJSON *[]byte

	err := row.Scan(&item.ID, &item.FirmID, &item.ProjectID, &item.ItemID,
		&item.SourceItemName, &item.SourceItemAmount, &item.SuggestedRow,
		&suggestedSheet, &suggestedLabel, &item.Confidence, &reasoning,
		&item.Source, &altJSON, &item.Status, &item.ResolvedRow,
		&resolvedSheet, &resolvedBy, &item.ResolvedAt, &item.CreatedAt)
	if err != nil {
		return nil, err
	}
	if suggestedSheet != nil {
		item.SuggestedSheet = *suggestedSheet
	}
	if suggestedLabel != nil {
		item.SuggestedLabel = *suggestedLabel
	}
	if reasoning != nil {
		item.Reasoning = *reasoning
	}
	if resolvedSheet != nil {
		item.ResolvedSheet = *resolvedSheet
	}
	if resolvedBy != nil {
		item.ResolvedBy = *resolvedBy
	}
	if altJSON != nil {
		if err := json.Unmarshal(*altJSON, &item.Alternatives); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal alternatives")
		}
	}
	return &item, nil
}

func (s *PostgresStore) GetReviewItem(ctx context.Context, firmID, reviewID string) (*model.ReviewItem, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+reviewColumns+` FROM review_queue WHERE id = $1 AND firm_id = $2`,
		reviewID, firmID,
	)
	item, err := scanReviewItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "review item %s", reviewID)
		}
		return nil, eris.Wrapf(err, "postgres: get review item %s", reviewID)
	}
	return item, nil
}

func (s *PostgresStore) ListReviewItems(ctx context.Context, filter ReviewFilter) ([]model.ReviewItem, error) {
	query := `SELECT ` + reviewColumns + ` FROM review_queue WHERE firm_id = $1`
	args := []any{filter.FirmID}
	argIdx := 2

	if filter.ProjectID != "" {
		query += fmt.Sprintf(` AND project_id = $%d`, argIdx)
		args = append(args, filter.ProjectID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY confidence ASC, created_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list review items")
	}
	defer rows.Close()

	var items []model.ReviewItem
	for rows.Next() {
		item, err := scanReviewItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan review item")
		}
		items = append(items, *item)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list review items iterate")
}

func (s *PostgresStore) UpdateReviewItem(ctx context.Context, item *model.ReviewItem) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE review_queue SET status = $1, resolved_row = $2, resolved_sheet = $3, resolved_by = $4, resolved_at = $5
		 WHERE id = $6 AND firm_id = $7`,
		string(item.Status), item.ResolvedRow, item.ResolvedSheet, item.ResolvedBy, item.ResolvedAt,
		item.ID, item.FirmID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update review item %s", item.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "review item %s", item.ID)
	}
	return nil
}

// Precedents

func (s *PostgresStore) UpsertPrecedent(ctx context.Context, p *model.Precedent) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Scope == "" {
		p.Scope = model.ScopeFirm
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO precedents (id, firm_id, source_term, target_row, target_sheet, entity_type, scope, project_id, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (scope, firm_id, source_term, entity_type) DO UPDATE SET
		   target_row = $4, target_sheet = $5, project_id = $8, created_by = $9, updated_at = $11`,
		p.ID, p.FirmID, p.SourceTerm, p.TargetRow, p.TargetSheet, string(p.EntityType),
		string(p.Scope), p.ProjectID, p.CreatedBy, p.CreatedAt, p.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: upsert precedent")
}

func (s *PostgresStore) ListPrecedents(ctx context.Context, firmID string, entityType model.EntityType) ([]model.Precedent, error) {
	// Firm precedents plus global ones; entity filter includes rows with no
	// entity restriction.
	rows, err := s.pool.Query(ctx,
		`SELECT id, firm_id, source_term, target_row, target_sheet, entity_type, scope, project_id, created_by, created_at, updated_at
		 FROM precedents
		 WHERE (firm_id = $1 OR scope = 'global') AND (entity_type = $2 OR entity_type = '')
		 ORDER BY scope ASC, updated_at DESC`,
		firmID, string(entityType),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list precedents")
	}
	defer rows.Close()

	var precedents []model.Precedent
	for rows.Next() {
		var p model.Precedent
		var projectID, createdBy *string
		if err := rows.Scan(&p.ID, &p.FirmID, &p.SourceTerm, &p.TargetRow, &p.TargetSheet,
			&p.EntityType, &p.Scope, &projectID, &createdBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan precedent")
		}
		if projectID != nil {
			p.ProjectID = *projectID
		}
		if createdBy != nil {
			p.CreatedBy = *createdBy
		}
		precedents = append(precedents, p)
	}
	return precedents, eris.Wrap(rows.Err(), "postgres: list precedents iterate")
}

func (s *PostgresStore) ImportPrecedents(ctx context.Context, precedents []model.Precedent) (int64, error) {
	if len(precedents) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([][]any, 0, len(precedents))
	for _, p := range precedents {
		id := p.ID
		if id == "" {
			id = uuid.New().String()
		}
		scope := p.Scope
		if scope == "" {
			scope = model.ScopeFirm
		}
		rows = append(rows, []any{
			id, p.FirmID, p.SourceTerm, p.TargetRow, p.TargetSheet,
			string(p.EntityType), string(scope), p.ProjectID, p.CreatedBy, now, now,
		})
	}

	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "precedents",
		Columns:      []string{"id", "firm_id", "source_term", "target_row", "target_sheet", "entity_type", "scope", "project_id", "created_by", "created_at", "updated_at"},
		ConflictKeys: []string{"scope", "firm_id", "source_term", "entity_type"},
		UpdateCols:   []string{"target_row", "target_sheet", "project_id", "created_by", "updated_at"},
	}, rows)
}

// Audit and usage

func (s *PostgresStore) AppendAudit(ctx context.Context, entry *model.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.CreatedAt = time.Now().UTC()

	var metaJSON []byte
	var err error
	if entry.Metadata != nil {
		if metaJSON, err = json.Marshal(entry.Metadata); err != nil {
			return eris.Wrap(err, "postgres: marshal audit metadata")
		}
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_log (id, firm_id, action, entity_type, entity_id, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.FirmID, entry.Action, entry.EntityType, entry.EntityID, metaJSON, entry.CreatedAt,
	)
	return eris.Wrap(err, "postgres: append audit")
}

func (s *PostgresStore) LogLLMUsage(ctx context.Context, rec *model.LLMUsage) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.CreatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO llm_usage (id, firm_id, project_id, model, task_type, input_tokens, output_tokens, cost_usd, latency_ms, success, error_message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.FirmID, rec.ProjectID, rec.Model, rec.TaskType,
		rec.Usage.InputTokens, rec.Usage.OutputTokens, rec.CostUSD, rec.LatencyMS,
		rec.Success, rec.ErrorMessage, rec.CreatedAt,
	)
	return eris.Wrap(err, "postgres: log llm usage")
}
