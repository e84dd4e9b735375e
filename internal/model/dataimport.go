package model

import (
	"encoding/json"
	"time"
)

// ImportStatus is the lifecycle state of an import run.
type ImportStatus string

const (
	StatusPending    ImportStatus = "pending"
	StatusProcessing ImportStatus = "processing"
	StatusCompleted  ImportStatus = "completed"
	StatusFailed     ImportStatus = "failed"
)

// DefaultDataSource tags imports that do not name their provenance.
const DefaultDataSource = "kaggle-import"

// DataImport is the persisted record of one ingestion job, shared by all of its
// attempts through ImportID.
type DataImport struct {
	ID                    int64           `json:"id"`
	ImportID              string          `json:"import_id"`
	FilePath              string          `json:"file_path"`
	DataSource            string          `json:"data_source"`
	Status                ImportStatus    `json:"status"`
	Options               json.RawMessage `json:"options,omitempty"`
	Stats                 json.RawMessage `json:"stats,omitempty"`
	ErrorMessage          string          `json:"error_message,omitempty"`
	TotalRows             int64           `json:"total_rows"`
	ProcessedRows         int64           `json:"processed_rows"`
	ProductsCreated       int64           `json:"products_created"`
	PriceHistoriesCreated int64           `json:"price_histories_created"`
	ErrorsCount           int64           `json:"errors_count"`
	StartedAt             *time.Time      `json:"started_at,omitempty"`
	CompletedAt           *time.Time      `json:"completed_at,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// SuccessRate is (processed-errors)/processed*100, or nil when nothing was
// processed.
func (d DataImport) SuccessRate() *float64 {
	if d.ProcessedRows == 0 {
		return nil
	}
	v := float64(d.ProcessedRows-d.ErrorsCount) / float64(d.ProcessedRows) * 100
	return &v
}

// DurationSeconds is completed_at-started_at, or nil until both are set.
func (d DataImport) DurationSeconds() *float64 {
	if d.StartedAt == nil || d.CompletedAt == nil {
		return nil
	}
	v := d.CompletedAt.Sub(*d.StartedAt).Seconds()
	return &v
}

// ImportView is the read-only projection exposed to dashboards and the CLI.
type ImportView struct {
	DataImport
	SuccessRate     *float64 `json:"success_rate"`
	DurationSeconds *float64 `json:"duration_seconds"`
}

func (d DataImport) View() ImportView {
	return ImportView{
		DataImport:      d,
		SuccessRate:     d.SuccessRate(),
		DurationSeconds: d.DurationSeconds(),
	}
}
