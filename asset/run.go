package asset

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TriggerManual is the default trigger source when a run reports none.
const TriggerManual = "manual"

// ResultSummary is the opaque structured result payload reported with a run.
type ResultSummary map[string]interface{}

// Value implements driver.Valuer for database storage.
func (r ResultSummary) Value() (driver.Value, error) {
	if r == nil {
		r = ResultSummary{}
	}
	return json.Marshal(r)
}

// Scan implements sql.Scanner for database retrieval.
func (r *ResultSummary) Scan(value interface{}) error {
	return scanJSON(value, r)
}

// TestRun records one externally reported execution of a version's script.
// Runs are append-only and reference (but do not own) their version.
type TestRun struct {
	ID            uuid.UUID     `json:"id" gorm:"type:char(36);primaryKey"`
	CaseVersionID uuid.UUID     `json:"case_version_id" gorm:"type:char(36);not null;index:idx_runs_version_id"`
	Trigger       string        `json:"trigger" gorm:"column:trigger_source;not null"`
	Status        string        `json:"status" gorm:"not null"`
	StartedAt     time.Time     `json:"started_at" gorm:"not null;index:idx_runs_started_at"`
	FinishedAt    *time.Time    `json:"finished_at"`
	DurationMS    *int64        `json:"duration_ms" gorm:"column:duration_ms"`
	ResultSummary ResultSummary `json:"result_summary" gorm:"type:json;not null"`
	ReportURL     string        `json:"report_url" gorm:"column:report_url"`
}

// TableName overrides the GORM default to match the migration schema.
func (TestRun) TableName() string {
	return "test_runs"
}

// BeforeCreate hook to generate a UUID before inserting a new run.
func (r *TestRun) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
