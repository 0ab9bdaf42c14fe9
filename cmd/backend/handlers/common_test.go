package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/flowmarker/flowmarker/asset"
	"github.com/flowmarker/flowmarker/generation"
	"github.com/flowmarker/flowmarker/logger"
	"github.com/flowmarker/flowmarker/storage"
	"github.com/flowmarker/flowmarker/testutil"
)

const generatedOutput = "```python\n" +
	"from playwright.sync_api import Page\n\n\n" +
	"def test_checkout_smoke(page: Page):\n" +
	"    page.goto(\"https://shop.example.com\")\n" +
	"    page.get_by_role(\"button\", name=\"Checkout\").click()\n" +
	"```"

// scriptedGenerator returns canned results so handler tests never talk to a
// real LLM.
type scriptedGenerator struct {
	result *generation.Result
	err    error
	delay  time.Duration
}

func (g *scriptedGenerator) Generate(ctx context.Context, messages []generation.Message, model string, temperature *float64) (*generation.Result, error) {
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	return g.result, nil
}

func (g *scriptedGenerator) DefaultTimeout() time.Duration {
	return time.Minute
}

func passingGenerator() *scriptedGenerator {
	return &scriptedGenerator{result: &generation.Result{
		Text:      generatedOutput,
		ModelName: "gpt-4.1-mini",
		Usage:     map[string]interface{}{"total_tokens": float64(812)},
	}}
}

// testEnv wires handlers against an in-memory store, a scripted generator and
// local blob storage.
type testEnv struct {
	router *mux.Router
	store  *asset.SQLStore
	blobs  storage.BlobStorage
}

func setupTestEnv(t *testing.T, gen generation.Generator) *testEnv {
	t.Helper()

	db := testutil.SetupTestDB(t)
	testutil.AutoMigrate(t, db, &asset.Case{}, &asset.CaseVersion{}, &asset.Step{}, &asset.TestRun{})

	log := logger.NewTestLogger()
	store := asset.NewSQLStore(db, log)

	blobs, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	orchestrator := generation.NewOrchestrator(gen, generation.TimeoutPolicy{}, log)

	assetHandler := NewAssetHandler(store, log)
	generationHandler := NewGenerationHandler(store, orchestrator, blobs, log)

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/assets/cases", assetHandler.ListCases).Methods("GET")
	api.HandleFunc("/assets/cases", assetHandler.CreateCase).Methods("POST")
	api.HandleFunc("/assets/cases/{case_id}", assetHandler.GetCase).Methods("GET")
	api.HandleFunc("/assets/cases/{case_id}", assetHandler.DeleteCase).Methods("DELETE")
	api.HandleFunc("/assets/cases/{case_id}/generate", generationHandler.GenerateForCase).Methods("POST")
	api.HandleFunc("/generate/scripts/playwright-python", generationHandler.GenerateStandalone).Methods("POST")
	api.HandleFunc("/assets/runs", assetHandler.CreateRun).Methods("POST")
	api.HandleFunc("/assets/runs/{run_id}", assetHandler.GetRun).Methods("GET")

	return &testEnv{router: router, store: store, blobs: blobs}
}

// doJSON performs a request with a JSON body and returns the recorder.
func (e *testEnv) doJSON(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	e.router.ServeHTTP(recorder, req)
	return recorder
}

// decode unmarshals a recorded JSON response body.
func decode(t *testing.T, recorder *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), dest))
}

// createCaseViaAPI creates a case through the HTTP surface and returns the
// response payload.
func createCaseViaAPI(t *testing.T, env *testEnv, name string) CaseCreatedResponse {
	t.Helper()

	recorder := env.doJSON(t, http.MethodPost, "/api/v1/assets/cases", map[string]interface{}{
		"name":     name,
		"module":   "checkout",
		"tags":     []string{"smoke"},
		"page_url": "https://shop.example.com/checkout",
		"annotations": []map[string]interface{}{
			{
				"comment":                "Open the checkout page",
				"playwrightTopSelectors": []interface{}{"role=link[name='Checkout']"},
			},
			{
				"comment":  "Submit the order",
				"expected": "Confirmation number is shown",
			},
		},
	})
	require.Equal(t, http.StatusCreated, recorder.Code, recorder.Body.String())

	var created CaseCreatedResponse
	decode(t, recorder, &created)
	return created
}
