package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"veracity/internal/archive"
	"veracity/internal/broadcast"
	"veracity/internal/pipeline"
	"veracity/internal/session"
	"veracity/internal/types"
)

// AnalysisHandler serves the REST surface of the pipeline.
type AnalysisHandler struct {
	Store   *session.Store
	Runner  *pipeline.Runner
	Bus     *broadcast.Broadcaster
	Archive archive.Store
	Model   string
}

type analyzeRequest struct {
	Type              string            `json:"type,omitempty"`
	Text              string            `json:"text,omitempty"`
	URL               string            `json:"url,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	AnalysisMode      string            `json:"analysis_mode,omitempty"`
	EnrichmentEnabled *bool             `json:"enrichment_enabled,omitempty"`
}

// HandleAnalyze starts a new analysis session and launches its pipeline.
func (h *AnalysisHandler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" && strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "text or url is required")
		return
	}

	input := types.AnalysisInput{
		Type:     types.InputType(req.Type),
		Text:     req.Text,
		URL:      req.URL,
		Metadata: req.Metadata,
	}
	if input.Type == "" && input.URL != "" {
		input.Type = types.InputURL
	}

	enrichment := true
	if req.EnrichmentEnabled != nil {
		enrichment = *req.EnrichmentEnabled
	}

	sess, err := h.Store.Create(input, req.AnalysisMode, enrichment)
	if err != nil {
		log.Printf("create session: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	h.Runner.Launch(sess.ID)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"session_id": sess.ID,
		"status":     sess.Status,
	})
}

// HandleSession routes /api/sessions/{id}[...].
// Supported:
//
//	GET  /api/sessions/{id}
//	POST /api/sessions/{id}/reset
//	GET  /api/sessions/{id}/stages/{stage}
func (h *AnalysisHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "session id required")
		return
	}
	id := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.getSession(w, id)
	case len(parts) == 2 && parts[1] == "reset" && r.Method == http.MethodPost:
		h.resetSession(w, id)
	case len(parts) == 3 && parts[1] == "stages" && r.Method == http.MethodGet:
		h.getStage(w, id, parts[2])
	default:
		writeError(w, http.StatusNotFound, "unknown route")
	}
}

func (h *AnalysisHandler) getSession(w http.ResponseWriter, id string) {
	sess, err := h.Store.Get(id)
	if errors.Is(err, session.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *AnalysisHandler) resetSession(w http.ResponseWriter, id string) {
	h.Runner.Cancel(id)
	fresh, err := h.Store.Reset(id)
	if errors.Is(err, session.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": fresh.ID,
		"status":     fresh.Status,
	})
}

func (h *AnalysisHandler) getStage(w http.ResponseWriter, id, stageName string) {
	stage := session.Stage(stageName)
	switch stage {
	case session.StageScreening, session.StageClassify, session.StagePerspectives,
		session.StageEnrichment, session.StageDebate, session.StageVerdict:
	default:
		writeError(w, http.StatusBadRequest, "unknown stage "+stageName)
		return
	}

	sess, err := h.Store.Get(id)
	if errors.Is(err, session.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status, _ := pipeline.SlotStatus(h.Store, id, stage)
	out := map[string]any{
		"session_id": id,
		"stage":      stage,
		"status":     status,
	}
	switch stage {
	case session.StageScreening:
		out["result"] = sess.Screening
	case session.StageClassify:
		out["result"] = sess.Classification
	case session.StagePerspectives:
		out["result"] = sess.Perspectives
	case session.StageEnrichment:
		out["result"] = sess.Enrichment
	case session.StageDebate:
		out["result"] = sess.Debate
	case session.StageVerdict:
		out["result"] = sess.Verdict
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleReport serves the archived report for a completed session:
// GET /api/reports/{id} returns a presigned download link.
func (h *AnalysisHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	if h.Archive == nil {
		writeError(w, http.StatusNotFound, "report archive not configured")
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/reports/"), "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "session id required")
		return
	}

	names, err := h.Archive.List(r.Context(), id)
	if err != nil || len(names) == 0 {
		writeError(w, http.StatusNotFound, "no archived report for session")
		return
	}
	url, err := h.Archive.URL(r.Context(), id, "report.json")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"reports":    names,
		"url":        url,
	})
}

// HandleHealth reports service liveness.
func (h *AnalysisHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"model":  h.Model,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
