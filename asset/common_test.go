package asset

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/flowmarker/flowmarker/logger"
	"github.com/flowmarker/flowmarker/testutil"
)

// setupTestStore creates a test database and asset store for testing.
func setupTestStore(t *testing.T) (*gorm.DB, *SQLStore) {
	db := testutil.SetupTestDB(t)
	testutil.AutoMigrate(t, db, &Case{}, &CaseVersion{}, &Step{}, &TestRun{})

	log := logger.NewTestLogger()
	store := NewSQLStore(db, log)

	return db, store
}

// setupFileTestStore builds a store on a file-backed database with the
// default connection pool, matching the production sqlite engine.
func setupFileTestStore(t *testing.T) *SQLStore {
	t.Helper()

	db := testutil.SetupTestFileDB(t)
	testutil.AutoMigrate(t, db, &Case{}, &CaseVersion{}, &Step{}, &TestRun{})

	return NewSQLStore(db, logger.NewTestLogger())
}

// sampleAnnotations returns a three-step annotation capture with the fields
// the browser extension emits.
func sampleAnnotations() []Annotation {
	return []Annotation{
		{
			"comment":                "Open the login form",
			"element":                "BUTTON",
			"elementPath":            "div.nav > button",
			"fullPath":               "html > body > div.nav > button",
			"playwrightTopSelectors": []interface{}{"role=button[name='Log in']", "text=Log in"},
		},
		{
			"comment": "Fill the email field",
			"playwrightElementInfo": map[string]interface{}{
				"tag":  "input",
				"type": "email",
			},
			"playwrightTopSelectors": []interface{}{"#email"},
		},
		{
			"comment":  "",
			"element":  "BUTTON",
			"expected": "  Dashboard is visible  ",
		},
	}
}

// createTestCase creates a case with the sample annotations frozen into
// version 1.
func createTestCase(t *testing.T, store *SQLStore, name string) (*CaseSummary, *CaseVersion) {
	t.Helper()

	summary, version, err := store.CreateCase(context.Background(), CreateCaseParams{
		Name:        name,
		Module:      "checkout",
		Tags:        []string{"smoke"},
		Annotations: sampleAnnotations(),
	})
	require.NoError(t, err)
	return summary, version
}
