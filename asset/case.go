package asset

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrCaseNotFound is returned when a case is not found.
	ErrCaseNotFound = errors.New("case not found")

	// ErrVersionNotFound is returned when a case version is not found.
	ErrVersionNotFound = errors.New("case version not found")

	// ErrRunNotFound is returned when a test run is not found.
	ErrRunNotFound = errors.New("test run not found")

	// ErrNoVersions is returned when a case exists but has no versions yet.
	ErrNoVersions = errors.New("case has no versions")

	// ErrCaseNameRequired is returned when a case name is empty after trimming.
	ErrCaseNameRequired = errors.New("case name is required")

	// ErrStoreIntegrity signals that a row written in the current transaction
	// could not be read back. It indicates a bug or storage corruption and is
	// never translated to an ordinary caller-facing error.
	ErrStoreIntegrity = errors.New("asset store integrity violation")
)

// StatusDraft is the default status assigned to newly created cases.
const StatusDraft = "draft"

// Tags is an ordered list of tag strings stored as a JSON column.
type Tags []string

// Value implements driver.Valuer for database storage.
func (t Tags) Value() (driver.Value, error) {
	if t == nil {
		t = Tags{}
	}
	return json.Marshal(t)
}

// Scan implements sql.Scanner for database retrieval.
func (t *Tags) Scan(value interface{}) error {
	return scanJSON(value, t)
}

// Contains reports whether the exact tag is present. Matching is
// case-sensitive; tags are not indexed or normalized at the storage layer.
func (t Tags) Contains(tag string) bool {
	for _, candidate := range t {
		if candidate == tag {
			return true
		}
	}
	return false
}

// Case is a named, mutable container for one test intent. It accumulates
// immutable versions; updated_at is refreshed whenever any version under it
// is created or finalized.
type Case struct {
	ID           uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	Name         string    `json:"name" gorm:"not null"`
	Module       string    `json:"module" gorm:"index:idx_cases_module"`
	Tags         Tags      `json:"tags" gorm:"type:json;not null"`
	Status       string    `json:"status" gorm:"not null;default:'draft'"`
	SourceDomain string    `json:"source_domain"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName overrides the GORM default to match the migration schema.
func (Case) TableName() string {
	return "test_case_assets"
}

// BeforeCreate hook to generate a UUID before inserting a new case.
func (c *Case) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// CaseSummary is a case enriched with derived version and run information
// used by list and detail reads.
type CaseSummary struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Module          string    `json:"module"`
	Tags            Tags      `json:"tags" gorm:"type:json"`
	Status          string    `json:"status"`
	SourceDomain    string    `json:"source_domain"`
	CreatedBy       string    `json:"created_by"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	LatestVersionNo *int      `json:"latest_version_no"`
	LatestTestName  *string   `json:"latest_test_name"`
	LatestRunStatus *string   `json:"latest_run_status"`
}

// scanJSON decodes a JSON-encoded TEXT/BLOB column into dest.
func scanJSON(value interface{}, dest interface{}) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return errors.New("unsupported JSON column type")
	}
}
