package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/flowmarker/flowmarker/asset"
	"github.com/flowmarker/flowmarker/logger"
)

// AssetHandler handles case, version and run asset requests.
type AssetHandler struct {
	store  asset.Store
	logger logger.Logger
}

// NewAssetHandler creates an asset handler with the given store.
func NewAssetHandler(store asset.Store, log logger.Logger) *AssetHandler {
	return &AssetHandler{store: store, logger: log}
}

// CreateCaseRequest represents a request to create a case together with its
// first version.
type CreateCaseRequest struct {
	Name           string             `json:"name"`
	Module         string             `json:"module"`
	Tags           []string           `json:"tags"`
	Status         string             `json:"status"`
	SourceDomain   string             `json:"source_domain"`
	CreatedBy      string             `json:"created_by"`
	PageURL        string             `json:"page_url"`
	OutputMarkdown string             `json:"output_markdown"`
	Annotations    []asset.Annotation `json:"annotations"`
	ChangeNote     string             `json:"change_note"`
	Model          string             `json:"model"`
	Temperature    *float64           `json:"temperature"`
}

// CaseDetailResponse bundles an enriched case with its full version history.
type CaseDetailResponse struct {
	Case     *asset.CaseSummary  `json:"case"`
	Versions []asset.CaseVersion `json:"versions"`
}

// CaseCreatedResponse returns the new case and its version 1.
type CaseCreatedResponse struct {
	Case    *asset.CaseSummary `json:"case"`
	Version *asset.CaseVersion `json:"version"`
}

// ListCasesResponse wraps the enriched case list.
type ListCasesResponse struct {
	Cases []asset.CaseSummary `json:"cases"`
	Count int                 `json:"count"`
}

// ListCases returns all cases, newest activity first, optionally filtered by
// module, status, source_domain or tag query parameters.
func (h *AssetHandler) ListCases(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := asset.CaseFilter{
		Module:       query.Get("module"),
		Status:       query.Get("status"),
		SourceDomain: query.Get("source_domain"),
		Tag:          query.Get("tag"),
	}

	cases, err := h.store.ListCases(r.Context(), filter)
	if err != nil {
		h.logger.Error(r.Context(), "failed to list cases", logger.Fields{
			"error": err.Error(),
		})
		respondError(w, http.StatusInternalServerError, "failed to list cases")
		return
	}

	respondJSON(w, http.StatusOK, ListCasesResponse{Cases: cases, Count: len(cases)})
}

// GetCase returns one case with all versions and their steps.
func (h *AssetHandler) GetCase(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDOrRespond(w, r, "case_id", "case")
	if !ok {
		return
	}

	summary, versions, err := h.store.GetCase(r.Context(), id)
	if err != nil {
		h.respondStoreError(w, r, err, "failed to get case")
		return
	}

	respondJSON(w, http.StatusOK, CaseDetailResponse{Case: summary, Versions: versions})
}

// CreateCase creates a case and freezes the supplied annotations into its
// first version. When source_domain is omitted it is derived from the page
// URL's hostname.
func (h *AssetHandler) CreateCase(w http.ResponseWriter, r *http.Request) {
	var req CreateCaseRequest
	if err := parseJSON(r, &req, h.logger); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sourceDomain := req.SourceDomain
	if sourceDomain == "" {
		sourceDomain = hostnameOf(req.PageURL)
	}

	summary, version, err := h.store.CreateCase(r.Context(), asset.CreateCaseParams{
		Name:         req.Name,
		Module:       req.Module,
		Tags:         req.Tags,
		Status:       req.Status,
		SourceDomain: sourceDomain,
		CreatedBy:    req.CreatedBy,
		Annotations:  req.Annotations,
		Version: asset.VersionParams{
			ChangeNote:     req.ChangeNote,
			PromptSnapshot: promptSnapshot(req.PageURL, req.OutputMarkdown),
			Model:          req.Model,
			Temperature:    req.Temperature,
		},
	})
	if err != nil {
		h.respondStoreError(w, r, err, "failed to create case")
		return
	}

	h.logger.Info(r.Context(), "case created", logger.Fields{
		"case_id":    summary.ID.String(),
		"version_no": version.VersionNo,
	})
	respondJSON(w, http.StatusCreated, CaseCreatedResponse{Case: summary, Version: version})
}

// DeleteCase removes a case with all of its versions, steps and runs.
func (h *AssetHandler) DeleteCase(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDOrRespond(w, r, "case_id", "case")
	if !ok {
		return
	}

	if err := h.store.DeleteCase(r.Context(), id); err != nil {
		h.respondStoreError(w, r, err, "failed to delete case")
		return
	}

	h.logger.Info(r.Context(), "case deleted", logger.Fields{
		"case_id": id.String(),
	})
	w.WriteHeader(http.StatusNoContent)
}

// CreateRunRequest reports one execution result against a specific version.
type CreateRunRequest struct {
	CaseVersionID string                 `json:"case_version_id"`
	Trigger       string                 `json:"trigger"`
	Status        string                 `json:"status"`
	StartedAt     *time.Time             `json:"started_at"`
	FinishedAt    *time.Time             `json:"finished_at"`
	DurationMS    *int64                 `json:"duration_ms"`
	ResultSummary map[string]interface{} `json:"result_summary"`
	ReportURL     string                 `json:"report_url"`
}

// CreateRun records an externally executed test run.
func (h *AssetHandler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := parseJSON(r, &req, h.logger); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	versionID, err := uuid.Parse(req.CaseVersionID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid case_version_id: must be a valid UUID")
		return
	}
	if req.Status == "" {
		respondError(w, http.StatusUnprocessableEntity, "status is required")
		return
	}

	run, err := h.store.CreateRun(r.Context(), asset.RunParams{
		CaseVersionID: versionID,
		Trigger:       req.Trigger,
		Status:        req.Status,
		StartedAt:     req.StartedAt,
		FinishedAt:    req.FinishedAt,
		DurationMS:    req.DurationMS,
		ResultSummary: asset.ResultSummary(req.ResultSummary),
		ReportURL:     req.ReportURL,
	})
	if err != nil {
		h.respondStoreError(w, r, err, "failed to create run")
		return
	}

	h.logger.Info(r.Context(), "run recorded", logger.Fields{
		"run_id":          run.ID.String(),
		"case_version_id": run.CaseVersionID.String(),
		"status":          run.Status,
	})
	respondJSON(w, http.StatusCreated, run)
}

// GetRun retrieves a recorded run by ID.
func (h *AssetHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDOrRespond(w, r, "run_id", "run")
	if !ok {
		return
	}

	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		h.respondStoreError(w, r, err, "failed to get run")
		return
	}

	respondJSON(w, http.StatusOK, run)
}

// respondStoreError maps store sentinel errors to HTTP status codes; anything
// unrecognized is logged and reported as an internal error.
func (h *AssetHandler) respondStoreError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, asset.ErrCaseNotFound),
		errors.Is(err, asset.ErrVersionNotFound),
		errors.Is(err, asset.ErrRunNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, asset.ErrNoVersions):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, asset.ErrCaseNameRequired):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.Error(r.Context(), fallback, logger.Fields{
			"error": err.Error(),
		})
		respondError(w, http.StatusInternalServerError, fallback)
	}
}

// hostnameOf extracts the hostname from a page URL, or "" when the URL is
// absent or unparseable.
func hostnameOf(pageURL string) string {
	if pageURL == "" {
		return ""
	}
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}

// promptSnapshot preserves the page context supplied at creation time so the
// version records what the annotations were taken against.
func promptSnapshot(pageURL, outputMarkdown string) string {
	if pageURL == "" && outputMarkdown == "" {
		return ""
	}
	snapshot, err := json.Marshal(map[string]string{
		"page_url":        pageURL,
		"output_markdown": outputMarkdown,
	})
	if err != nil {
		return ""
	}
	return string(snapshot)
}
