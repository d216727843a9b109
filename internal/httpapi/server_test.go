package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upmon/upmon/internal/domain/check"
	"github.com/upmon/upmon/internal/repository/memory"
	"github.com/upmon/upmon/internal/services/checks"
	"github.com/upmon/upmon/internal/services/dispatcher"
	"github.com/upmon/upmon/internal/services/ping"
)

func newTestServer(t *testing.T) (*memory.Store, *httptest.Server) {
	t.Helper()
	store := memory.New()
	log := zap.NewNop()
	disp := dispatcher.New(log, store.Notifications(), store, store.Outbox(), nil)
	srv := NewServer(ServerConfig{},
		log,
		ping.NewUC(store, disp, store, nil, log),
		checks.NewUC(store, store.Notifications(), nil, log),
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return store, ts
}

func TestPingEndpoint(t *testing.T) {
	store, ts := newTestServer(t)

	store.PutCheck(&check.Check{
		ID: 1, PingKey: "abc", Name: "job", Status: check.StatusCreated,
		Schedule: check.Schedule{
			Type:           check.ScheduleSimple,
			PingPeriod:     5,
			PingPeriodUnit: check.UnitMinutes,
		},
		Version: 1,
	})

	resp, err := http.Get(ts.URL + "/ping/abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	c, err := store.GetByID(t.Context(), 1)
	require.NoError(t, err)
	assert.Equal(t, check.StatusUp, c.Status)

	resp, err = http.Get(ts.URL + "/ping/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCheckLifecycleOverHTTP(t *testing.T) {
	_, ts := newTestServer(t)

	body, _ := json.Marshal(map[string]any{
		"name": "nightly-etl",
		"schedule": map[string]any{
			"type":             "SIMPLE",
			"ping_period":      30,
			"ping_period_unit": "MINUTES",
		},
		"grace_period":      5,
		"grace_period_unit": "MINUTES",
	})
	resp, err := http.Post(ts.URL+"/api/v1/checks", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created check.Check
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	assert.NotEmpty(t, created.PingKey)

	resp, err = http.Post(ts.URL+"/api/v1/checks/1/pause", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/v1/checks/1/resume", "application/json", nil)
	require.NoError(t, err)
	var resumed check.Check
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&resumed))
	resp.Body.Close()
	assert.Equal(t, check.StatusCreated, resumed.Status)

	// resuming a running check conflicts
	resp, err = http.Post(ts.URL+"/api/v1/checks/1/resume", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	body, _ = json.Marshal(map[string]any{
		"type":        "WEBHOOK",
		"url":         "https://hooks.example.com/x",
		"max_retries": 2,
	})
	resp, err = http.Post(ts.URL+"/api/v1/checks/1/notifications", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/v1/checks/1/rotate-key", "application/json", nil)
	require.NoError(t, err)
	var rotated map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rotated))
	resp.Body.Close()
	assert.NotEqual(t, created.PingKey, rotated["ping_key"])

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/checks/1", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/v1/checks/1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateCheckRejectsBadSchedule(t *testing.T) {
	_, ts := newTestServer(t)

	body, _ := json.Marshal(map[string]any{
		"name":     "bad",
		"schedule": map[string]any{"type": "CRON", "cron_expression": "not a cron"},
	})
	resp, err := http.Post(ts.URL+"/api/v1/checks", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
