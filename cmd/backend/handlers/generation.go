package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/flowmarker/flowmarker/asset"
	"github.com/flowmarker/flowmarker/generation"
	"github.com/flowmarker/flowmarker/logger"
	"github.com/flowmarker/flowmarker/script"
	"github.com/flowmarker/flowmarker/storage"
)

// GenerationHandler handles script generation requests, both standalone and
// case-scoped.
type GenerationHandler struct {
	store        asset.Store
	orchestrator *generation.Orchestrator
	blobs        storage.BlobStorage
	logger       logger.Logger
}

// NewGenerationHandler creates a generation handler. blobs may be nil, in
// which case finalized scripts are not exported as artifacts.
func NewGenerationHandler(store asset.Store, orchestrator *generation.Orchestrator, blobs storage.BlobStorage, log logger.Logger) *GenerationHandler {
	return &GenerationHandler{
		store:        store,
		orchestrator: orchestrator,
		blobs:        blobs,
		logger:       log,
	}
}

// GenerationOptions tunes a single generation request.
type GenerationOptions struct {
	Style           string `json:"style"`
	IncludeComments *bool  `json:"include_comments"`
	TimeoutMS       *int   `json:"timeout_ms"`
}

// GenerateScriptRequest describes one generation request. For case-scoped
// generation a nil Annotations field means "reuse the latest snapshot",
// distinct from an explicitly supplied empty list.
type GenerateScriptRequest struct {
	PageURL        string              `json:"page_url"`
	OutputMarkdown string              `json:"output_markdown"`
	Annotations    *[]asset.Annotation `json:"annotations"`
	Model          string              `json:"model"`
	Temperature    *float64            `json:"temperature"`
	ChangeNote     string              `json:"change_note"`
	Options        *GenerationOptions  `json:"generation_options"`
}

// AssetRef points at the version a generation was persisted into.
type AssetRef struct {
	CaseID    string `json:"case_id"`
	VersionID string `json:"version_id"`
	VersionNo int    `json:"version_no"`
}

// GenerateScriptMetadata carries provenance alongside the script itself.
type GenerateScriptMetadata struct {
	Model      string                 `json:"model"`
	Warnings   []string               `json:"warnings"`
	TokenUsage map[string]interface{} `json:"token_usage,omitempty"`
	Asset      *AssetRef              `json:"asset,omitempty"`
}

// GenerateScriptResponse is the canonical generation result. Script carries
// the stored form of the script, which is trimmed of surrounding whitespace;
// the exported artifact adds a single trailing newline that the response body
// does not have.
type GenerateScriptResponse struct {
	Script   string                 `json:"script"`
	TestName string                 `json:"test_name"`
	Metadata GenerateScriptMetadata `json:"metadata"`
}

// GenerateStandalone generates a script from the supplied annotations without
// touching the asset store. Absent or empty annotations are allowed; the model
// is asked for a best-effort script from the page context alone.
func (h *GenerationHandler) GenerateStandalone(w http.ResponseWriter, r *http.Request) {
	var req GenerateScriptRequest
	if err := parseJSON(r, &req, h.logger); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !h.checkStyle(w, req.Options) {
		return
	}

	var annotations []asset.Annotation
	if req.Annotations != nil {
		annotations = *req.Annotations
	}

	out, err := h.orchestrator.Generate(r.Context(), generationParams(req, annotations))
	if err != nil {
		h.respondGenerationError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, GenerateScriptResponse{
		Script:   out.Script,
		TestName: out.TestName,
		Metadata: GenerateScriptMetadata{
			Model:      out.ModelName,
			Warnings:   []string{},
			TokenUsage: out.TokenUsage,
		},
	})
}

// GenerateForCase generates a script for an existing case and persists it as
// the case's next version. When the request carries no annotations the latest
// stored snapshot is reused.
func (h *GenerationHandler) GenerateForCase(w http.ResponseWriter, r *http.Request) {
	caseID, ok := parseUUIDOrRespond(w, r, "case_id", "case")
	if !ok {
		return
	}

	var req GenerateScriptRequest
	if err := parseJSON(r, &req, h.logger); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !h.checkStyle(w, req.Options) {
		return
	}

	var annotations []asset.Annotation
	if req.Annotations != nil {
		annotations = *req.Annotations
	} else {
		snapshot, err := h.store.LatestAnnotationSnapshot(r.Context(), caseID)
		if err != nil {
			h.respondStoreError(w, r, err, "failed to load annotation snapshot")
			return
		}
		annotations = snapshot
	}

	out, err := h.orchestrator.Generate(r.Context(), generationParams(req, annotations))
	if err != nil {
		h.respondGenerationError(w, r, err)
		return
	}

	// Persist only after a valid script exists. If the case vanished in the
	// meantime the generated content is discarded with a 404.
	version, err := h.store.CreateVersion(r.Context(), caseID, annotations, asset.VersionParams{
		ChangeNote:     req.ChangeNote,
		PromptSnapshot: promptSnapshot(req.PageURL, req.OutputMarkdown),
		Model:          out.ModelName,
		Temperature:    req.Temperature,
	})
	if err != nil {
		h.respondStoreError(w, r, err, "failed to create version")
		return
	}

	stamped := script.Stamp(out.Script, caseID.String(), version.VersionNo, out.ModelName, time.Now().UTC())
	final, err := h.store.UpdateVersionScript(r.Context(), version.ID, stamped, out.TestName)
	if err != nil {
		h.respondStoreError(w, r, err, "failed to finalize version script")
		return
	}

	warnings := []string{}
	if h.blobs != nil && final.GeneratedScript != nil {
		path := storage.ScriptPath(caseID.String(), final.VersionNo)
		if err := h.blobs.Upload(r.Context(), path, strings.NewReader(*final.GeneratedScript)); err != nil {
			h.logger.Warn(r.Context(), "script artifact export failed", logger.Fields{
				"path":  path,
				"error": err.Error(),
			})
			warnings = append(warnings, "script artifact export failed")
		}
	}

	h.logger.Info(r.Context(), "version generated", logger.Fields{
		"case_id":    caseID.String(),
		"version_no": final.VersionNo,
		"model":      out.ModelName,
	})

	respondJSON(w, http.StatusOK, GenerateScriptResponse{
		Script:   deref(final.GeneratedScript),
		TestName: out.TestName,
		Metadata: GenerateScriptMetadata{
			Model:      out.ModelName,
			Warnings:   warnings,
			TokenUsage: out.TokenUsage,
			Asset: &AssetRef{
				CaseID:    caseID.String(),
				VersionID: final.ID.String(),
				VersionNo: final.VersionNo,
			},
		},
	})
}

// checkStyle rejects any target style other than the supported one. The bool
// result reports whether the request may proceed.
func (h *GenerationHandler) checkStyle(w http.ResponseWriter, opts *GenerationOptions) bool {
	if opts == nil || opts.Style == "" || opts.Style == generation.StylePytestSync {
		return true
	}
	respondError(w, http.StatusUnprocessableEntity, generation.ErrUnsupportedStyle.Error())
	return false
}

// respondGenerationError translates orchestrator failures into the response
// contract: 422 for rejected input or output, 504 for timeouts, 502 for
// transport failures.
func (h *GenerationHandler) respondGenerationError(w http.ResponseWriter, r *http.Request, err error) {
	var timeoutErr *generation.TimeoutError
	var transportErr *generation.TransportError

	switch {
	case errors.Is(err, generation.ErrInvalidTimeout),
		errors.Is(err, generation.ErrUnsupportedStyle),
		errors.Is(err, script.ErrMissingPlaywrightImport),
		errors.Is(err, script.ErrNoTestFunction):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &timeoutErr):
		respondError(w, http.StatusGatewayTimeout, timeoutErr.Error())
	case errors.As(err, &transportErr):
		respondError(w, http.StatusBadGateway, transportErr.Error())
	default:
		h.logger.Error(r.Context(), "generation failed", logger.Fields{
			"error": err.Error(),
		})
		respondError(w, http.StatusInternalServerError, "generation failed")
	}
}

// respondStoreError mirrors the asset handler's sentinel mapping for the
// store calls made during case-scoped generation.
func (h *GenerationHandler) respondStoreError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, asset.ErrCaseNotFound),
		errors.Is(err, asset.ErrVersionNotFound),
		errors.Is(err, asset.ErrNoVersions):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error(r.Context(), fallback, logger.Fields{
			"error": err.Error(),
		})
		respondError(w, http.StatusInternalServerError, fallback)
	}
}

// generationParams maps the request onto orchestrator parameters.
func generationParams(req GenerateScriptRequest, annotations []asset.Annotation) generation.Params {
	records := make([]map[string]interface{}, 0, len(annotations))
	for _, annotation := range annotations {
		records = append(records, map[string]interface{}(annotation))
	}

	var timeoutMS *int
	if req.Options != nil {
		timeoutMS = req.Options.TimeoutMS
	}

	return generation.Params{
		PageURL:       req.PageURL,
		OutputContext: req.OutputMarkdown,
		Annotations:   records,
		Model:         req.Model,
		Temperature:   req.Temperature,
		TimeoutMS:     timeoutMS,
	}
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
