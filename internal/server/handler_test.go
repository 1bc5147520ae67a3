package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipforge/decision-engine/pkg/engine"
	"github.com/ipforge/decision-engine/pkg/export"
	"github.com/ipforge/decision-engine/pkg/session"
)

func testRegistry(t *testing.T) *engine.Registry {
	t.Helper()

	def := &engine.Definition{
		ID:       "quick-screen",
		Name:     "Quick Screen",
		Category: "patent",
		Steps: []engine.StepDefinition{
			{
				Title: "Disclosure",
				Questions: []engine.QuestionSpec{
					{ID: "summary", Text: "Summary", Type: engine.QuestionText, Required: true},
					{ID: "importance", Text: "Importance", Type: engine.QuestionScale, Required: true},
				},
			},
			{
				Title: "Market",
				Questions: []engine.QuestionSpec{
					{ID: "market", Text: "Market size", Type: engine.QuestionSelect, Required: true,
						Options: []engine.Option{
							{Value: "large", Label: "Large"},
							{Value: "small", Label: "Small"},
						}},
				},
			},
		},
		Verdicts: []string{"Go", "Lean go", "Hold", "No go"},
		Signals: engine.Signals{
			ScoreQuestions: []string{"importance"},
			CommercialFlag: engine.FlagRule{Question: "market", Exclude: []string{"small"}},
			MeritFlag:      engine.FlagRule{Question: "summary"},
		},
		Template: engine.Template{
			Reasoning: []string{"Screened."},
			NextSteps: []string{"Review with counsel"},
		},
	}

	reg, err := engine.NewRegistry(def)
	require.NoError(t, err)
	return reg
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	registry := testRegistry(t)
	service := session.NewService(registry, session.NewMemoryStore())
	return NewHandler(service, registry, 50)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeSession(t *testing.T, rec *httptest.ResponseRecorder) *session.Session {
	t.Helper()
	var sess session.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	return &sess
}

func createTestSession(t *testing.T, h *Handler) *session.Session {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/v1/sessions",
		map[string]string{"engine_id": "quick-screen", "user_id": "user-1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	return decodeSession(t, rec)
}

func TestCreateSession(t *testing.T) {
	h := newTestHandler(t)

	sess := createTestSession(t, h)
	assert.Equal(t, "quick-screen", sess.EngineID)
	assert.Equal(t, "user-1", sess.UserID)
	assert.Equal(t, session.StatusActive, sess.Status)
	assert.Equal(t, 2, sess.TotalSteps)
}

func TestCreateSession_BadRequests(t *testing.T) {
	h := newTestHandler(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/sessions", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/sessions", map[string]string{"engine_id": "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewBufferString("{broken"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSession_NotFound(t *testing.T) {
	h := newTestHandler(t)

	rec := doJSON(t, h, http.MethodGet, "/v1/sessions/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitStep_FullWorkflow(t *testing.T) {
	h := newTestHandler(t)
	sess := createTestSession(t, h)

	rec := doJSON(t, h, http.MethodPost, fmt.Sprintf("/v1/sessions/%s/steps/0", sess.ID),
		map[string]any{"answers": map[string]any{"summary": "A new alloy", "importance": 4}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeSession(t, rec).CurrentStep)

	rec = doJSON(t, h, http.MethodPost, fmt.Sprintf("/v1/sessions/%s/steps/1", sess.ID),
		map[string]any{"answers": map[string]any{"market": "large"}})
	require.Equal(t, http.StatusOK, rec.Code)

	completed := decodeSession(t, rec)
	assert.Equal(t, session.StatusCompleted, completed.Status)
	require.NotNil(t, completed.Recommendation)
	assert.NotEmpty(t, completed.Recommendation.Verdict)
}

func TestSubmitStep_OutOfOrder(t *testing.T) {
	h := newTestHandler(t)
	sess := createTestSession(t, h)

	rec := doJSON(t, h, http.MethodPost, fmt.Sprintf("/v1/sessions/%s/steps/1", sess.ID),
		map[string]any{"answers": map[string]any{"market": "large"}})
	require.Equal(t, http.StatusConflict, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(0), body["expected"])
	assert.Equal(t, float64(1), body["got"])
}

func TestSubmitStep_ValidationErrorsListEveryField(t *testing.T) {
	h := newTestHandler(t)
	sess := createTestSession(t, h)

	rec := doJSON(t, h, http.MethodPost, fmt.Sprintf("/v1/sessions/%s/steps/0", sess.ID),
		map[string]any{"answers": map[string]any{"importance": 99}})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body struct {
		Error  string `json:"error"`
		Step   int    `json:"step"`
		Fields []struct {
			Question string `json:"question"`
			Message  string `json:"message"`
		} `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 0, body.Step)
	assert.Len(t, body.Fields, 2)
}

func TestSubmitStep_BadStepValue(t *testing.T) {
	h := newTestHandler(t)
	sess := createTestSession(t, h)

	rec := doJSON(t, h, http.MethodPost, fmt.Sprintf("/v1/sessions/%s/steps/abc", sess.ID),
		map[string]any{"answers": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateRecommendation_Incomplete(t *testing.T) {
	h := newTestHandler(t)
	sess := createTestSession(t, h)

	rec := doJSON(t, h, http.MethodPost, fmt.Sprintf("/v1/sessions/%s/recommendation", sess.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAbandonSession(t *testing.T) {
	h := newTestHandler(t)
	sess := createTestSession(t, h)

	rec := doJSON(t, h, http.MethodPost, fmt.Sprintf("/v1/sessions/%s/abandon", sess.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, session.StatusAbandoned, decodeSession(t, rec).Status)

	// Terminal sessions reject further steps.
	rec = doJSON(t, h, http.MethodPost, fmt.Sprintf("/v1/sessions/%s/steps/0", sess.ID),
		map[string]any{"answers": map[string]any{"summary": "x", "importance": 3}})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func completeTestSession(t *testing.T, h *Handler) *session.Session {
	t.Helper()
	sess := createTestSession(t, h)

	rec := doJSON(t, h, http.MethodPost, fmt.Sprintf("/v1/sessions/%s/steps/0", sess.ID),
		map[string]any{"answers": map[string]any{"summary": "A new alloy", "importance": 4}})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, h, http.MethodPost, fmt.Sprintf("/v1/sessions/%s/steps/1", sess.ID),
		map[string]any{"answers": map[string]any{"market": "large"}})
	require.Equal(t, http.StatusOK, rec.Code)
	return decodeSession(t, rec)
}

func TestExportSession_JSON(t *testing.T) {
	h := newTestHandler(t)
	sess := completeTestSession(t, h)

	rec := doJSON(t, h, http.MethodGet, fmt.Sprintf("/v1/sessions/%s/export?format=json", sess.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), sess.ID)

	doc, err := export.Parse(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, sess.ID, doc.Session.ID)
	assert.NotNil(t, doc.Recommendation)
}

func TestExportSession_Document(t *testing.T) {
	h := newTestHandler(t)
	sess := completeTestSession(t, h)

	rec := doJSON(t, h, http.MethodGet, fmt.Sprintf("/v1/sessions/%s/export?format=document", sess.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/markdown", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "# Recommendation Report")
}

func TestExportSession_Rejections(t *testing.T) {
	h := newTestHandler(t)
	sess := createTestSession(t, h)

	// Active session has nothing to export.
	rec := doJSON(t, h, http.MethodGet, fmt.Sprintf("/v1/sessions/%s/export", sess.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	done := completeTestSession(t, h)
	rec = doJSON(t, h, http.MethodGet, fmt.Sprintf("/v1/sessions/%s/export?format=pdf", done.ID), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListSessions(t *testing.T) {
	h := newTestHandler(t)
	createTestSession(t, h)
	createTestSession(t, h)

	rec := doJSON(t, h, http.MethodGet, "/v1/sessions?user_id=user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Sessions []*session.Session `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Sessions, 2)

	rec = doJSON(t, h, http.MethodGet, "/v1/sessions?user_id=user-1&limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Sessions, 1)

	rec = doJSON(t, h, http.MethodGet, "/v1/sessions?limit=-2", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListEngines(t *testing.T) {
	h := newTestHandler(t)

	rec := doJSON(t, h, http.MethodGet, "/v1/engines", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Engines []engineSummary `json:"engines"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Engines, 1)
	assert.Equal(t, "quick-screen", body.Engines[0].ID)
	assert.Equal(t, 2, body.Engines[0].TotalSteps)
	assert.Len(t, body.Engines[0].Verdicts, 4)
}

func TestGetEngine(t *testing.T) {
	h := newTestHandler(t)

	rec := doJSON(t, h, http.MethodGet, "/v1/engines/quick-screen", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var def engine.Definition
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &def))
	assert.Len(t, def.Steps, 2)

	rec = doJSON(t, h, http.MethodGet, "/v1/engines/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEngineStats(t *testing.T) {
	h := newTestHandler(t)
	completeTestSession(t, h)
	createTestSession(t, h)

	rec := doJSON(t, h, http.MethodGet, "/v1/engines/quick-screen/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats session.EngineStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Active)
}
