package asset

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CaseFilter narrows ListCases results. Empty fields are ignored. Tag
// filtering is applied in memory after the enriched read; it is exact and
// case-sensitive (tags are not indexed).
type CaseFilter struct {
	Module       string
	Status       string
	SourceDomain string
	Tag          string
}

// VersionParams carries the optional metadata recorded with a new version.
type VersionParams struct {
	ChangeNote      string
	PromptSnapshot  string
	Model           string
	Temperature     *float64
	GeneratedScript string
	TestName        string
}

// CreateCaseParams describes a new case plus its version 1.
type CreateCaseParams struct {
	Name         string
	Module       string
	Tags         []string
	Status       string
	SourceDomain string
	CreatedBy    string
	Annotations  []Annotation
	Version      VersionParams
}

// RunParams describes an externally reported execution result.
type RunParams struct {
	CaseVersionID uuid.UUID
	Trigger       string
	Status        string
	StartedAt     *time.Time
	FinishedAt    *time.Time
	DurationMS    *int64
	ResultSummary ResultSummary
	ReportURL     string
}

// Store is the persistence contract for cases, versions, steps and runs.
// Every operation runs as a single transaction: concurrent callers observe
// all-or-nothing effects and never a half-written version/steps pair.
type Store interface {
	// ListCases returns cases ordered by updated_at descending, enriched with
	// the latest version number, latest test name, and most recent run status.
	ListCases(ctx context.Context, filter CaseFilter) ([]CaseSummary, error)

	// GetCase returns the enriched case plus all versions (version_no
	// descending) with their full step lists attached.
	GetCase(ctx context.Context, id uuid.UUID) (*CaseSummary, []CaseVersion, error)

	// CreateCase atomically inserts the case row and its version 1.
	CreateCase(ctx context.Context, params CreateCaseParams) (*CaseSummary, *CaseVersion, error)

	// CreateVersion appends the next version to an existing case, deriving its
	// steps from the annotation snapshot. version_no assignment is gap-free
	// and duplicate-free even under concurrent callers.
	CreateVersion(ctx context.Context, caseID uuid.UUID, annotations []Annotation, params VersionParams) (*CaseVersion, error)

	// LatestAnnotationSnapshot returns the snapshot of the highest version_no
	// for the case. Returns ErrNoVersions when the case exists but has no
	// versions, distinct from ErrCaseNotFound.
	LatestAnnotationSnapshot(ctx context.Context, caseID uuid.UUID) (Annotations, error)

	// UpdateVersionScript is the single post-creation mutation point: it trims
	// the script, recomputes script_sha256, replaces the stored script
	// unconditionally, replaces test_name only when a non-blank value is
	// supplied, and touches the parent case's updated_at.
	UpdateVersionScript(ctx context.Context, versionID uuid.UUID, script, testName string) (*CaseVersion, error)

	// CreateRun records a run after verifying the referenced version exists.
	CreateRun(ctx context.Context, params RunParams) (*TestRun, error)

	// GetRun retrieves a run by its ID.
	GetRun(ctx context.Context, id uuid.UUID) (*TestRun, error)

	// DeleteCase removes a case together with its versions, their steps, and
	// the runs referencing those versions, in one transaction.
	DeleteCase(ctx context.Context, id uuid.UUID) error
}
