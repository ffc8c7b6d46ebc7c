// pkg/api/server_test.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/releasegate/releasegate/orchestrator"
	"github.com/releasegate/releasegate/pkg/actions"
	"github.com/releasegate/releasegate/pkg/config"
	"github.com/releasegate/releasegate/pkg/events"
	"github.com/releasegate/releasegate/pkg/metrics"
	"github.com/releasegate/releasegate/pkg/storage"
	"github.com/releasegate/releasegate/pkg/types"
)

func newTestServer(t *testing.T) (*Server, *metrics.StaticProvider) {
	t.Helper()
	logger := zap.NewNop()
	cfg := &config.Config{
		Server:  config.ServerConfig{Port: "0"},
		Logging: config.LoggingConfig{Level: "info", Path: "stderr"},
		Storage: config.StorageConfig{Type: "memory"},
		Metrics: config.MetricsConfig{Provider: "static", FetchTimeout: time.Second},
		Rollout: config.RolloutConfig{
			InitialPercentage: 5,
			IncrementInterval: time.Hour,
			Criteria:          types.SuccessCriteria{MaxErrorRate: 5, MaxResponseTime: 500},
		},
		Triggers:   config.TriggersConfig{PollInterval: time.Hour},
		Automation: config.AutomationConfig{MaxAttempts: 1},
		Rollback: config.RollbackConfig{
			Strategy:    types.StrategyImmediate,
			Steps:       []types.RollbackStep{{Name: "restore_traffic", Action: "restore_traffic"}},
			StepTimeout: time.Minute,
		},
		Actions: config.ActionsConfig{Timeout: time.Second},
		Events:  config.EventsConfig{BufferSize: 16},
	}

	provider := metrics.NewStaticProvider()
	bus := events.NewBus(16, logger, events.NewMemorySink())
	ctrl, err := orchestrator.New(cfg, storage.NewMemoryStore(), provider,
		actions.NewRecordingExecutor(), actions.NewRecordingActuator(), bus, nil, logger)
	require.NoError(t, err)
	require.NoError(t, ctrl.Start(context.Background()))

	server := NewServer(cfg, ctrl, logger)
	server.SetupRoutes()
	return server, provider
}

func doRequest(server *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	w := doRequest(server, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestFlagEndpoints(t *testing.T) {
	server, _ := newTestServer(t)

	flag := map[string]interface{}{
		"key":  "standalone",
		"name": "Standalone",
		"variations": []map[string]interface{}{
			{"key": "on", "value": true},
			{"key": "off", "value": false},
		},
		"fallthrough":      map[string]interface{}{"variation": "on"},
		"defaultVariation": "off",
	}
	w := doRequest(server, http.MethodPost, "/api/v1/flags", flag)
	assert.Equal(t, http.StatusCreated, w.Code)

	// Duplicate key is refused.
	w = doRequest(server, http.MethodPost, "/api/v1/flags", flag)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(server, http.MethodGet, "/api/v1/flags/standalone", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(server, http.MethodPost, "/api/v1/flags/standalone/evaluate",
		map[string]interface{}{"userId": "u1"})
	assert.Equal(t, http.StatusOK, w.Code)
	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "on", result["variation"])

	// Evaluation requires a user id.
	w = doRequest(server, http.MethodPost, "/api/v1/flags/standalone/evaluate",
		map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Update rewires the fallthrough and evaluation follows.
	flag["fallthrough"] = map[string]interface{}{"variation": "off"}
	w = doRequest(server, http.MethodPut, "/api/v1/flags/standalone", flag)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(server, http.MethodPost, "/api/v1/flags/standalone/evaluate",
		map[string]interface{}{"userId": "u1"})
	assert.Equal(t, http.StatusOK, w.Code)
	result = map[string]interface{}{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "off", result["variation"])

	w = doRequest(server, http.MethodGet, "/api/v1/flags/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(server, http.MethodPut, "/api/v1/flags/missing", flag)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(server, http.MethodDelete, "/api/v1/flags/standalone", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestDeploymentEndpoints(t *testing.T) {
	server, provider := newTestServer(t)
	provider.Set("dep-1", &types.DeploymentMetrics{ErrorRate: 0.1})

	w := doRequest(server, http.MethodPost, "/api/v1/deployments", map[string]interface{}{
		"id":       "dep-1",
		"app":      "checkout",
		"version":  "v2",
		"flagKeys": []string{"checkout-v2"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doRequest(server, http.MethodGet, "/api/v1/deployments/dep-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(server, http.MethodGet, "/api/v1/deployments/dep-1/triggers", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Manual rollback, then its archived execution shows in history.
	w = doRequest(server, http.MethodPost, "/api/v1/deployments/dep-1/rollback",
		map[string]interface{}{"reason": "bad release"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doRequest(server, http.MethodGet, "/api/v1/deployments/dep-1/rollbacks", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "bad release")

	// Missing required fields are rejected.
	w = doRequest(server, http.MethodPost, "/api/v1/deployments", map[string]interface{}{"id": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(server, http.MethodGet, "/api/v1/deployments/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRolloutEndpoints(t *testing.T) {
	server, _ := newTestServer(t)

	w := doRequest(server, http.MethodPost, "/api/v1/rollouts", map[string]interface{}{
		"deploymentId": "dep-1",
		"flagKey":      "checkout-v2",
		"flagName":     "Checkout v2",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	rolloutID := created["rolloutId"]
	require.NotEmpty(t, rolloutID)

	w = doRequest(server, http.MethodGet, "/api/v1/rollouts/"+rolloutID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(server, http.MethodPost, "/api/v1/rollouts/"+rolloutID+"/pause", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(server, http.MethodPost, "/api/v1/rollouts/"+rolloutID+"/resume", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(server, http.MethodGet, "/api/v1/rollouts/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
