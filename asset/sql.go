package asset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/flowmarker/flowmarker/logger"
)

// createVersionAttempts bounds the retry loop on version_no collisions. Two
// transactions racing on the same case compute the same next version_no; the
// unique index on (case_id, version_no) fails one of them and it retries with
// a fresh read, so duplicates are impossible and neither racer is lost.
// SQLite reports the same race as a busy/locked error when the second writer
// cannot acquire the write lock, so those retry on the same loop.
const createVersionAttempts = 5

// enrichedCaseColumns is the shared projection for case reads: the case row
// plus its latest version number, latest test name, and the status of the
// most recently started run across all of its versions.
const enrichedCaseColumns = `
	c.id, c.name, c.module, c.tags, c.status, c.source_domain, c.created_by,
	c.created_at, c.updated_at,
	(
		SELECT MAX(v.version_no)
		FROM test_case_versions v
		WHERE v.case_id = c.id
	) AS latest_version_no,
	(
		SELECT v.test_name
		FROM test_case_versions v
		WHERE v.case_id = c.id
		ORDER BY v.version_no DESC
		LIMIT 1
	) AS latest_test_name,
	(
		SELECT r.status
		FROM test_runs r
		JOIN test_case_versions v ON v.id = r.case_version_id
		WHERE v.case_id = c.id
		ORDER BY r.started_at DESC
		LIMIT 1
	) AS latest_run_status`

// SQLStore implements the Store interface using GORM. It works against the
// embedded SQLite database used in production as well as MySQL.
type SQLStore struct {
	db     *gorm.DB
	logger logger.Logger
}

// NewSQLStore creates a new GORM-backed asset store.
func NewSQLStore(db *gorm.DB, log logger.Logger) *SQLStore {
	return &SQLStore{
		db:     db,
		logger: log,
	}
}

// ListCases returns enriched case summaries ordered by updated_at descending.
func (s *SQLStore) ListCases(ctx context.Context, filter CaseFilter) ([]CaseSummary, error) {
	var whereParts []string
	var args []interface{}
	if filter.Module != "" {
		whereParts = append(whereParts, "c.module = ?")
		args = append(args, filter.Module)
	}
	if filter.Status != "" {
		whereParts = append(whereParts, "c.status = ?")
		args = append(args, filter.Status)
	}
	if filter.SourceDomain != "" {
		whereParts = append(whereParts, "c.source_domain = ?")
		args = append(args, filter.SourceDomain)
	}

	whereSQL := ""
	if len(whereParts) > 0 {
		whereSQL = "WHERE " + strings.Join(whereParts, " AND ")
	}

	query := fmt.Sprintf(
		"SELECT %s FROM test_case_assets c %s ORDER BY c.updated_at DESC",
		enrichedCaseColumns, whereSQL,
	)

	var summaries []CaseSummary
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&summaries).Error; err != nil {
		s.logger.Error(ctx, "failed to list cases", logger.Fields{
			"error": err.Error(),
		})
		return nil, err
	}

	// Tag filtering happens after the enriched read: tags live in a JSON
	// column and are not indexed.
	if filter.Tag != "" {
		filtered := summaries[:0]
		for _, summary := range summaries {
			if summary.Tags.Contains(filter.Tag) {
				filtered = append(filtered, summary)
			}
		}
		summaries = filtered
	}

	if summaries == nil {
		summaries = []CaseSummary{}
	}
	return summaries, nil
}

// GetCase returns the enriched case and all of its versions, newest first,
// with each version's steps attached.
func (s *SQLStore) GetCase(ctx context.Context, id uuid.UUID) (*CaseSummary, []CaseVersion, error) {
	var summary CaseSummary
	versions := []CaseVersion{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := fmt.Sprintf(
			"SELECT %s FROM test_case_assets c WHERE c.id = ?",
			enrichedCaseColumns,
		)
		result := tx.Raw(query, id).Scan(&summary)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrCaseNotFound
		}

		if err := tx.
			Where("case_id = ?", id).
			Order("version_no DESC").
			Find(&versions).Error; err != nil {
			return err
		}

		for i := range versions {
			steps, err := loadSteps(tx, versions[i].ID)
			if err != nil {
				return err
			}
			versions[i].Steps = steps
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrCaseNotFound) {
			s.logger.Error(ctx, "failed to get case", logger.Fields{
				"error":   err.Error(),
				"case_id": id.String(),
			})
		}
		return nil, nil, err
	}

	return &summary, versions, nil
}

// CreateCase atomically inserts the case row and its version 1 with derived
// steps.
func (s *SQLStore) CreateCase(ctx context.Context, params CreateCaseParams) (*CaseSummary, *CaseVersion, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, nil, ErrCaseNameRequired
	}

	status := params.Status
	if status == "" {
		status = StatusDraft
	}

	now := time.Now().UTC()
	c := Case{
		Name:         name,
		Module:       strings.TrimSpace(params.Module),
		Tags:         Tags(params.Tags),
		Status:       status,
		SourceDomain: strings.TrimSpace(params.SourceDomain),
		CreatedBy:    strings.TrimSpace(params.CreatedBy),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if c.Tags == nil {
		c.Tags = Tags{}
	}

	var version *CaseVersion
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&c).Error; err != nil {
			return err
		}

		created, err := insertVersion(tx, c.ID, params.Annotations, params.Version)
		if err != nil {
			return err
		}
		version = created
		return nil
	})
	if err != nil {
		s.logger.Error(ctx, "failed to create case", logger.Fields{
			"error": err.Error(),
			"name":  name,
		})
		return nil, nil, err
	}

	s.logger.Info(ctx, "case created", logger.Fields{
		"case_id":    c.ID.String(),
		"version_id": version.ID.String(),
	})

	versionNo := version.VersionNo
	summary := &CaseSummary{
		ID:              c.ID,
		Name:            c.Name,
		Module:          c.Module,
		Tags:            c.Tags,
		Status:          c.Status,
		SourceDomain:    c.SourceDomain,
		CreatedBy:       c.CreatedBy,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       version.CreatedAt,
		LatestVersionNo: &versionNo,
		LatestTestName:  version.TestName,
	}
	return summary, version, nil
}

// CreateVersion appends the next version to an existing case. Collisions on
// the (case_id, version_no) unique index are retried with a fresh
// transaction so concurrent creations for the same case serialize.
func (s *SQLStore) CreateVersion(ctx context.Context, caseID uuid.UUID, annotations []Annotation, params VersionParams) (*CaseVersion, error) {
	var version *CaseVersion
	var err error

	for attempt := 1; attempt <= createVersionAttempts; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var count int64
			if err := tx.Model(&Case{}).Where("id = ?", caseID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrCaseNotFound
			}

			created, txErr := insertVersion(tx, caseID, annotations, params)
			if txErr != nil {
				return txErr
			}
			version = created
			return nil
		})
		if err == nil || !isRetryableConflict(err) {
			break
		}
		s.logger.Warn(ctx, "version insert conflict, retrying", logger.Fields{
			"case_id": caseID.String(),
			"attempt": attempt,
			"error":   err.Error(),
		})
	}
	if err != nil {
		if !errors.Is(err, ErrCaseNotFound) {
			s.logger.Error(ctx, "failed to create case version", logger.Fields{
				"error":   err.Error(),
				"case_id": caseID.String(),
			})
		}
		return nil, err
	}

	s.logger.Info(ctx, "case version created", logger.Fields{
		"case_id":    caseID.String(),
		"version_id": version.ID.String(),
		"version_no": version.VersionNo,
	})
	return version, nil
}

// LatestAnnotationSnapshot returns the snapshot of the highest-numbered
// version for the case.
func (s *SQLStore) LatestAnnotationSnapshot(ctx context.Context, caseID uuid.UUID) (Annotations, error) {
	var version CaseVersion
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Case{}).Where("id = ?", caseID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrCaseNotFound
		}

		err := tx.
			Where("case_id = ?", caseID).
			Order("version_no DESC").
			First(&version).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNoVersions
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return version.AnnotationSnapshot, nil
}

// UpdateVersionScript attaches the finalized script to a version. The script
// is trimmed and its sha256 recomputed; test_name is replaced only when a
// non-blank value is supplied. The parent case's updated_at is touched in the
// same transaction.
func (s *SQLStore) UpdateVersionScript(ctx context.Context, versionID uuid.UUID, script, testName string) (*CaseVersion, error) {
	trimmed := strings.TrimSpace(script)
	digest := hashScript(trimmed)

	var updated CaseVersion
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var version CaseVersion
		if err := tx.First(&version, "id = ?", versionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrVersionNotFound
			}
			return err
		}

		updates := map[string]interface{}{
			"generated_script": trimmed,
			"script_sha256":    digest,
		}
		if name := strings.TrimSpace(testName); name != "" {
			updates["test_name"] = name
		}
		if err := tx.Model(&CaseVersion{}).Where("id = ?", versionID).UpdateColumns(updates).Error; err != nil {
			return err
		}

		if err := touchCase(tx, version.CaseID, time.Now().UTC()); err != nil {
			return err
		}

		if err := tx.First(&updated, "id = ?", versionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: version %s vanished after update", ErrStoreIntegrity, versionID)
			}
			return err
		}
		steps, err := loadSteps(tx, versionID)
		if err != nil {
			return err
		}
		updated.Steps = steps
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrVersionNotFound) {
			s.logger.Error(ctx, "failed to update version script", logger.Fields{
				"error":      err.Error(),
				"version_id": versionID.String(),
			})
		}
		return nil, err
	}

	s.logger.Info(ctx, "version script updated", logger.Fields{
		"version_id":    versionID.String(),
		"script_sha256": digest,
	})
	return &updated, nil
}

// CreateRun records an externally reported execution result after verifying
// the referenced version exists.
func (s *SQLStore) CreateRun(ctx context.Context, params RunParams) (*TestRun, error) {
	trigger := strings.TrimSpace(params.Trigger)
	if trigger == "" {
		trigger = TriggerManual
	}

	startedAt := time.Now().UTC()
	if params.StartedAt != nil {
		startedAt = *params.StartedAt
	}

	summary := params.ResultSummary
	if summary == nil {
		summary = ResultSummary{}
	}

	run := TestRun{
		CaseVersionID: params.CaseVersionID,
		Trigger:       trigger,
		Status:        params.Status,
		StartedAt:     startedAt,
		FinishedAt:    params.FinishedAt,
		DurationMS:    params.DurationMS,
		ResultSummary: summary,
		ReportURL:     strings.TrimSpace(params.ReportURL),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&CaseVersion{}).Where("id = ?", params.CaseVersionID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrVersionNotFound
		}
		return tx.Create(&run).Error
	})
	if err != nil {
		if !errors.Is(err, ErrVersionNotFound) {
			s.logger.Error(ctx, "failed to create test run", logger.Fields{
				"error":           err.Error(),
				"case_version_id": params.CaseVersionID.String(),
			})
		}
		return nil, err
	}

	s.logger.Info(ctx, "test run recorded", logger.Fields{
		"run_id":          run.ID.String(),
		"case_version_id": run.CaseVersionID.String(),
		"status":          run.Status,
	})
	return &run, nil
}

// GetRun retrieves a run by its ID.
func (s *SQLStore) GetRun(ctx context.Context, id uuid.UUID) (*TestRun, error) {
	var run TestRun
	err := s.db.WithContext(ctx).First(&run, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		s.logger.Error(ctx, "failed to get test run", logger.Fields{
			"error":  err.Error(),
			"run_id": id.String(),
		})
		return nil, err
	}
	return &run, nil
}

// DeleteCase removes a case and everything hanging off it in one
// transaction: runs referencing its versions, the versions' steps, the
// versions, and finally the case row.
func (s *SQLStore) DeleteCase(ctx context.Context, id uuid.UUID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		versionIDs := tx.Model(&CaseVersion{}).Select("id").Where("case_id = ?", id)

		if err := tx.Where("case_version_id IN (?)", versionIDs).Delete(&TestRun{}).Error; err != nil {
			return err
		}
		if err := tx.Where("case_version_id IN (?)", versionIDs).Delete(&Step{}).Error; err != nil {
			return err
		}
		if err := tx.Where("case_id = ?", id).Delete(&CaseVersion{}).Error; err != nil {
			return err
		}

		result := tx.Where("id = ?", id).Delete(&Case{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrCaseNotFound
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrCaseNotFound) {
			s.logger.Error(ctx, "failed to delete case", logger.Fields{
				"error":   err.Error(),
				"case_id": id.String(),
			})
		}
		return err
	}

	s.logger.Info(ctx, "case deleted", logger.Fields{
		"case_id": id.String(),
	})
	return nil
}

// insertVersion runs the version-insertion sequence inside the supplied
// transaction: compute the next version_no, freeze the annotation snapshot,
// hash any supplied script, insert the version and its derived steps, and
// touch the parent case with the same timestamp as the version's created_at.
func insertVersion(tx *gorm.DB, caseID uuid.UUID, annotations []Annotation, params VersionParams) (*CaseVersion, error) {
	var versionNo int
	err := tx.Model(&CaseVersion{}).
		Where("case_id = ?", caseID).
		Select("COALESCE(MAX(version_no), 0) + 1").
		Scan(&versionNo).Error
	if err != nil {
		return nil, err
	}

	snapshot := normalizeAnnotations(annotations)
	now := time.Now().UTC()

	version := CaseVersion{
		CaseID:             caseID,
		VersionNo:          versionNo,
		ChangeNote:         strings.TrimSpace(params.ChangeNote),
		AnnotationSnapshot: snapshot,
		PromptSnapshot:     params.PromptSnapshot,
		Model:              strings.TrimSpace(params.Model),
		Temperature:        params.Temperature,
		CreatedAt:          now,
	}
	if script := strings.TrimSpace(params.GeneratedScript); script != "" {
		digest := hashScript(script)
		version.GeneratedScript = &script
		version.ScriptSHA256 = &digest
	}
	if name := strings.TrimSpace(params.TestName); name != "" {
		version.TestName = &name
	}

	if err := tx.Create(&version).Error; err != nil {
		return nil, err
	}

	steps := deriveSteps(version.ID, snapshot)
	if len(steps) > 0 {
		if err := tx.Create(&steps).Error; err != nil {
			return nil, err
		}
	}

	if err := touchCase(tx, caseID, now); err != nil {
		return nil, err
	}

	var created CaseVersion
	if err := tx.First(&created, "id = ?", version.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: version %s vanished after insert", ErrStoreIntegrity, version.ID)
		}
		return nil, err
	}
	created.Steps = steps
	return &created, nil
}

// touchCase refreshes the case's updated_at without firing model hooks.
func touchCase(tx *gorm.DB, caseID uuid.UUID, at time.Time) error {
	return tx.Model(&Case{}).Where("id = ?", caseID).UpdateColumn("updated_at", at).Error
}

// loadSteps returns a version's steps ordered by order_no.
func loadSteps(tx *gorm.DB, versionID uuid.UUID) ([]Step, error) {
	steps := []Step{}
	err := tx.
		Where("case_version_id = ?", versionID).
		Order("order_no ASC").
		Find(&steps).Error
	if err != nil {
		return nil, err
	}
	return steps, nil
}

// hashScript returns the hex sha256 of the trimmed script text.
func hashScript(script string) string {
	sum := sha256.Sum256([]byte(script))
	return hex.EncodeToString(sum[:])
}

// isRetryableConflict reports whether a failed version insert lost a race and
// should be retried with a fresh transaction: a unique constraint violation on
// (case_id, version_no), or SQLite failing to take the write lock.
func isRetryableConflict(err error) bool {
	return isDuplicateKey(err) || isBusy(err)
}

// isDuplicateKey detects unique constraint violations across MySQL and SQLite.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry")
}

// isBusy detects SQLite busy/locked errors. These occur when a transaction
// that began with a read cannot upgrade to the write lock because another
// writer holds it; the transaction must restart, it cannot wait.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}
