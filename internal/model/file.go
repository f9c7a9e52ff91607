package model

import "time"

// ExtractionStatus is the per-file extraction outcome.
type ExtractionStatus string

const (
	ExtractionPending    ExtractionStatus = "pending"
	ExtractionProcessing ExtractionStatus = "processing"
	ExtractionCompleted  ExtractionStatus = "completed"
	ExtractionFailed     ExtractionStatus = "failed"
	ExtractionDeleted    ExtractionStatus = "deleted"
)

// UploadedFile is one client document uploaded against a project.
type UploadedFile struct {
	ID               string             `json:"id"`
	FirmID           string             `json:"firm_id"`
	ProjectID        string             `json:"project_id"`
	FileName         string             `json:"file_name"`
	FileType         string             `json:"file_type"`
	StoragePath      string             `json:"storage_path"`
	DocumentTypeHint string             `json:"document_type,omitempty"`
	ExtractionStatus ExtractionStatus   `json:"extraction_status"`
	ExtractedData    *CanonicalDocument `json:"extracted_data,omitempty"`
	ExtractionError  string             `json:"extraction_error,omitempty"`
	FileSizeBytes    int64              `json:"file_size_bytes,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
}

// GeneratedFile is one rendered CMA workbook.
type GeneratedFile struct {
	ID            string    `json:"id"`
	FirmID        string    `json:"firm_id"`
	ProjectID     string    `json:"project_id"`
	FileName      string    `json:"file_name"`
	StoragePath   string    `json:"storage_path"`
	Version       int       `json:"version"`
	FileSizeBytes int64     `json:"file_size_bytes"`
	CreatedAt     time.Time `json:"created_at"`
}
