package server

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipforge/decision-engine/pkg/config"
	"github.com/ipforge/decision-engine/pkg/session"
)

func TestNew_ServesBuiltinEngines(t *testing.T) {
	cfg := config.Default()
	srv, err := New(cfg)
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()

	// Liveness is always up; readiness waits for Run.
	rec := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// The built-in engine catalog is served anonymously by default.
	rec = httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/engines", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Engines []engineSummary `json:"engines"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Engines)

	ids := make([]string, 0, len(body.Engines))
	for _, e := range body.Engines {
		ids = append(ids, e.ID)
	}
	assert.Contains(t, ids, "patentability")
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Mode = "redis"

	_, err := New(cfg)
	assert.Error(t, err)
}

func TestBuildLogger(t *testing.T) {
	_, err := buildLogger(config.LoggingConfig{Level: "debug", Format: "json"})
	assert.NoError(t, err)

	_, err = buildLogger(config.LoggingConfig{Level: "loud", Format: "text"})
	assert.Error(t, err)

	_, err = buildLogger(config.LoggingConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestBuildStore(t *testing.T) {
	cfg := config.Default()
	store, tier, err := buildStore(cfg)
	require.NoError(t, err)
	assert.Nil(t, tier)
	assert.IsType(t, &session.MemoryStore{}, store)

	cfg.Store.Mode = "file"
	cfg.Store.FallbackDir = t.TempDir()
	store, tier, err = buildStore(cfg)
	require.NoError(t, err)
	assert.Nil(t, tier)
	assert.IsType(t, &session.FileStore{}, store)

	cfg.Store.Mode = "unknown"
	_, _, err = buildStore(cfg)
	assert.Error(t, err)
}

func TestBuildAuthenticator(t *testing.T) {
	authCfg := config.AuthConfig{AllowAnonymous: true}
	_, err := buildAuthenticator(authCfg)
	assert.NoError(t, err)

	authCfg.JWT.Enabled = true
	authCfg.JWT.SigningKey = "!!! not base64 !!!"
	_, err = buildAuthenticator(authCfg)
	assert.Error(t, err)

	authCfg.JWT.SigningKey = base64.StdEncoding.EncodeToString([]byte("secret"))
	_, err = buildAuthenticator(authCfg)
	assert.NoError(t, err)
}
