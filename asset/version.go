package asset

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Annotation is one externally supplied record describing a page element,
// a comment/intent, and selector metadata. Unknown fields are passed through
// untouched, so the whole record stays an open map.
type Annotation map[string]interface{}

// Annotations is the ordered annotation snapshot frozen into a version,
// stored as a JSON column.
type Annotations []Annotation

// Value implements driver.Valuer for database storage.
func (a Annotations) Value() (driver.Value, error) {
	if a == nil {
		a = Annotations{}
	}
	return json.Marshal(a)
}

// Scan implements sql.Scanner for database retrieval.
func (a *Annotations) Scan(value interface{}) error {
	return scanJSON(value, a)
}

// SelectorList is an ordered list of opaque selector descriptors.
type SelectorList []interface{}

// Value implements driver.Valuer for database storage.
func (s SelectorList) Value() (driver.Value, error) {
	if s == nil {
		s = SelectorList{}
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner for database retrieval.
func (s *SelectorList) Scan(value interface{}) error {
	return scanJSON(value, s)
}

// ElementProfile is an opaque structured descriptor of the annotated element.
type ElementProfile map[string]interface{}

// Value implements driver.Valuer for database storage.
func (p ElementProfile) Value() (driver.Value, error) {
	if p == nil {
		p = ElementProfile{}
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner for database retrieval.
func (p *ElementProfile) Scan(value interface{}) error {
	return scanJSON(value, p)
}

// CaseVersion is one immutable generation attempt under a case. Once created
// it is mutated at most once more, when the finalized trace-stamped script is
// attached via UpdateVersionScript.
type CaseVersion struct {
	ID                 uuid.UUID   `json:"id" gorm:"type:char(36);primaryKey"`
	CaseID             uuid.UUID   `json:"case_id" gorm:"type:char(36);not null;uniqueIndex:idx_case_version_no,priority:1;index:idx_versions_case_id"`
	VersionNo          int         `json:"version_no" gorm:"not null;uniqueIndex:idx_case_version_no,priority:2"`
	ChangeNote         string      `json:"change_note" gorm:"type:text"`
	AnnotationSnapshot Annotations `json:"annotation_snapshot" gorm:"type:json;not null"`
	PromptSnapshot     string      `json:"prompt_snapshot" gorm:"type:text"`
	Model              string      `json:"model"`
	Temperature        *float64    `json:"temperature"`
	GeneratedScript    *string     `json:"generated_script" gorm:"type:text"`
	ScriptSHA256       *string     `json:"script_sha256" gorm:"column:script_sha256;type:char(64)"`
	TestName           *string     `json:"test_name"`
	CreatedAt          time.Time   `json:"created_at"`
	Steps              []Step      `json:"steps" gorm:"-"`
}

// TableName overrides the GORM default to match the migration schema.
func (CaseVersion) TableName() string {
	return "test_case_versions"
}

// BeforeCreate hook to generate a UUID before inserting a new version.
func (v *CaseVersion) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}

// Step is one derived, ordered action extracted from a single annotation in a
// version's snapshot. Steps are never mutated after creation.
type Step struct {
	ID                 uuid.UUID      `json:"id" gorm:"type:char(36);primaryKey"`
	CaseVersionID      uuid.UUID      `json:"case_version_id" gorm:"type:char(36);not null;index:idx_steps_version_id"`
	OrderNo            int            `json:"order_no" gorm:"not null"`
	Action             string         `json:"action"`
	Expected           *string        `json:"expected"`
	SelectorCandidates SelectorList   `json:"selector_candidates" gorm:"type:json;not null"`
	ElementProfile     ElementProfile `json:"element_profile" gorm:"type:json;not null"`
}

// TableName overrides the GORM default to match the migration schema.
func (Step) TableName() string {
	return "test_steps"
}

// BeforeCreate hook to generate a UUID before inserting a new step.
func (s *Step) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// normalizeAnnotations copies the supplied list into plain records, passing
// unknown fields through. A nil list becomes an empty snapshot.
func normalizeAnnotations(annotations []Annotation) Annotations {
	normalized := make(Annotations, 0, len(annotations))
	for _, annotation := range annotations {
		record := make(Annotation, len(annotation))
		for key, value := range annotation {
			record[key] = value
		}
		normalized = append(normalized, record)
	}
	return normalized
}

// deriveSteps maps each annotation in the snapshot to exactly one step. The
// result is a pure function of the snapshot: the same snapshot always yields
// the same steps in the same order (step IDs aside).
func deriveSteps(versionID uuid.UUID, annotations Annotations) []Step {
	steps := make([]Step, 0, len(annotations))
	for index, annotation := range annotations {
		selectors := SelectorList{}
		if raw, ok := annotation["playwrightTopSelectors"].([]interface{}); ok {
			selectors = SelectorList(raw)
		}

		var profile ElementProfile
		if raw, ok := annotation["playwrightElementInfo"].(map[string]interface{}); ok {
			profile = ElementProfile(raw)
		} else {
			profile = ElementProfile{
				"element":     annotation["element"],
				"elementPath": annotation["elementPath"],
				"fullPath":    annotation["fullPath"],
			}
		}

		action := ""
		if comment, ok := annotation["comment"].(string); ok {
			action = strings.TrimSpace(comment)
		}
		if action == "" {
			action = fmt.Sprintf("Step %d", index+1)
		}

		var expected *string
		if raw, ok := annotation["expected"].(string); ok {
			if trimmed := strings.TrimSpace(raw); trimmed != "" {
				expected = &trimmed
			}
		}

		steps = append(steps, Step{
			ID:                 uuid.New(),
			CaseVersionID:      versionID,
			OrderNo:            index + 1,
			Action:             action,
			Expected:           expected,
			SelectorCandidates: selectors,
			ElementProfile:     profile,
		})
	}
	return steps
}
