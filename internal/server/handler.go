package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ipforge/decision-engine/pkg/auth"
	"github.com/ipforge/decision-engine/pkg/engine"
	"github.com/ipforge/decision-engine/pkg/export"
	"github.com/ipforge/decision-engine/pkg/session"
)

// Handler provides the decision engine REST API.
type Handler struct {
	mux       *http.ServeMux
	service   *session.Service
	registry  *engine.Registry
	exporter  *export.Exporter
	listLimit int
}

// NewHandler creates the API handler.
func NewHandler(service *session.Service, registry *engine.Registry, listLimit int) *Handler {
	h := &Handler{
		mux:       http.NewServeMux(),
		service:   service,
		registry:  registry,
		exporter:  export.NewExporter(),
		listLimit: listLimit,
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// registerRoutes registers all API routes.
func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("POST /v1/sessions", h.createSession)
	h.mux.HandleFunc("GET /v1/sessions", h.listSessions)
	h.mux.HandleFunc("GET /v1/sessions/{id}", h.getSession)
	h.mux.HandleFunc("POST /v1/sessions/{id}/steps/{step}", h.submitStep)
	h.mux.HandleFunc("POST /v1/sessions/{id}/recommendation", h.generateRecommendation)
	h.mux.HandleFunc("POST /v1/sessions/{id}/abandon", h.abandonSession)
	h.mux.HandleFunc("GET /v1/sessions/{id}/export", h.exportSession)
	h.mux.HandleFunc("GET /v1/engines", h.listEngines)
	h.mux.HandleFunc("GET /v1/engines/{id}", h.getEngine)
	h.mux.HandleFunc("GET /v1/engines/{id}/stats", h.engineStats)
}

type createSessionRequest struct {
	EngineID string `json:"engine_id"`
	UserID   string `json:"user_id,omitempty"`
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.EngineID == "" {
		writeError(w, http.StatusBadRequest, "engine_id is required")
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = callerID(r)
	}

	sess, err := h.service.Create(r.Context(), req.EngineID, userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = callerID(r)
	}

	limit := h.listLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	sessions, err := h.service.ListRecent(r.Context(), userID, limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*session.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type submitStepRequest struct {
	Answers map[string]any `json:"answers"`
}

func (h *Handler) submitStep(w http.ResponseWriter, r *http.Request) {
	step, err := strconv.Atoi(r.PathValue("step"))
	if err != nil || step < 0 {
		writeError(w, http.StatusBadRequest, "step must be a non-negative integer")
		return
	}

	var req submitStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Answers == nil {
		req.Answers = map[string]any{}
	}

	sess, err := h.service.SubmitStep(r.Context(), r.PathValue("id"), step, req.Answers)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) generateRecommendation(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.GenerateRecommendation(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) abandonSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Abandon(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) exportSession(w http.ResponseWriter, r *http.Request) {
	format := export.Format(r.URL.Query().Get("format"))
	if format == "" {
		format = export.FormatJSON
	}

	sess, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	artifact, err := h.exporter.Export(sess, format)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+artifact.Filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(artifact.Data)
}

// engineSummary is the catalog view of an engine definition: metadata
// and shape, without the template internals.
type engineSummary struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Category         string   `json:"category"`
	Description      string   `json:"description"`
	Purpose          string   `json:"purpose,omitempty"`
	TargetPersonas   []string `json:"target_personas,omitempty"`
	EstimatedMinutes int      `json:"estimated_minutes,omitempty"`
	TotalSteps       int      `json:"total_steps"`
	Verdicts         []string `json:"verdicts"`
}

func summarize(def *engine.Definition) engineSummary {
	return engineSummary{
		ID:               def.ID,
		Name:             def.Name,
		Category:         def.Category,
		Description:      def.Description,
		Purpose:          def.Purpose,
		TargetPersonas:   def.TargetPersonas,
		EstimatedMinutes: def.EstimatedMinutes,
		TotalSteps:       def.TotalSteps(),
		Verdicts:         def.Verdicts,
	}
}

func (h *Handler) listEngines(w http.ResponseWriter, _ *http.Request) {
	defs := h.registry.All()
	summaries := make([]engineSummary, 0, len(defs))
	for _, def := range defs {
		summaries = append(summaries, summarize(def))
	}
	writeJSON(w, http.StatusOK, map[string]any{"engines": summaries})
}

func (h *Handler) getEngine(w http.ResponseWriter, r *http.Request) {
	def, err := h.registry.Lookup(r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	// The full definition, steps and questions included, so clients can
	// render the workflow.
	writeJSON(w, http.StatusOK, def)
}

func (h *Handler) engineStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// callerID returns the authenticated user id, or "anonymous".
func callerID(r *http.Request) string {
	if id := auth.IdentityFrom(r.Context()); id != nil {
		return id.UserID
	}
	return "anonymous"
}

// writeServiceError maps the session error taxonomy onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var (
		outOfOrder *session.StepOutOfOrderError
		validation *session.ValidationError
	)

	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "validation failed",
			"step":   validation.Step,
			"fields": validation.Fields,
		})
	case errors.As(err, &outOfOrder):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":    "step out of order",
			"expected": outOfOrder.Expected,
			"got":      outOfOrder.Got,
		})
	case errors.Is(err, engine.ErrUnknownEngine),
		errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrNotActive),
		errors.Is(err, session.ErrNotCompleted),
		errors.Is(err, session.ErrVersionConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, export.ErrUnknownFormat):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
