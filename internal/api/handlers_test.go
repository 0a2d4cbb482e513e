package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"plantwatch-backend/internal/monitor"
	"plantwatch-backend/internal/monitor/memstore"
)

type stubMatcher struct {
	mu    sync.Mutex
	calls int
}

func (m *stubMatcher) MatchSchemes(context.Context, monitor.Profile, string) ([]monitor.Scheme, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return []monitor.Scheme{{Name: "ZED Certification", Ministry: "MSME"}}, nil
}

type stubClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stubClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type stubPuller struct {
	machineID string
}

func (p *stubPuller) Pull(_ context.Context, machineID string) (monitor.IngestResult, error) {
	p.machineID = machineID
	return monitor.IngestResult{MachineID: machineID, Stored: 2}, nil
}

type testServer struct {
	srv     *httptest.Server
	handler *Handler
	clock   *stubClock
	matcher *stubMatcher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		clock:   &stubClock{t: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)},
		matcher: &stubMatcher{},
	}
	engine := monitor.NewEngine(monitor.Options{
		Store:   memstore.New(),
		Matcher: ts.matcher,
		Clock:   ts.clock.Now,
		Logger:  zap.NewNop(),
	})
	ts.handler = NewHandler(engine, nil, nil, 5*time.Second, zap.NewNop())
	ts.srv = httptest.NewServer(ts.handler.Router())
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		payload, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (ts *testServer) seed(t *testing.T) (plantID, machineID string) {
	t.Helper()
	status, plant := ts.do(t, http.MethodPost, "/plants", map[string]any{"name": "Pune Works", "industry": "Auto components", "location": "Pune"})
	require.Equal(t, http.StatusCreated, status)
	plantID = plant["id"].(string)
	status, machine := ts.do(t, http.MethodPost, "/plants/"+plantID+"/machines", map[string]any{
		"name":                 "CNC-01",
		"type":                 "CNC lathe",
		"department":           "Machining",
		"hourly_downtime_cost": 5000,
		"sensors": []map[string]any{
			{"sensor_type": "temperature", "unit": "C", "normal_min": 20, "normal_max": 75, "critical_max": 90},
		},
	})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "Idle", machine["status"])
	return plantID, machine["id"].(string)
}

func TestIncidentLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	plantID, machineID := ts.seed(t)

	status, ingest := ts.do(t, http.MethodPost, "/machines/"+machineID+"/readings", map[string]any{
		"readings": []map[string]any{{"sensor_type": "temperature", "value": 95}},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, ingest["downtime_triggered"])
	assert.Equal(t, "Down", ingest["machine_status"])
	assert.Equal(t, float64(75), ingest["plant_health"])
	eventID := ingest["downtime_event_id"].(string)

	status, list := ts.do(t, http.MethodGet, "/plants/"+plantID+"/alerts?status=active", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, list["alerts"], 1)

	status, downtime := ts.do(t, http.MethodGet, "/plants/"+plantID+"/downtime?status=ongoing", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, downtime["downtime"], 1)

	ts.clock.Advance(3 * time.Hour)
	status, cost := ts.do(t, http.MethodGet, "/downtime/"+eventID+"/cost", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, cost["ongoing"])
	assert.Equal(t, float64(15000), cost["production_loss"])

	status, repair := ts.do(t, http.MethodPost, "/downtime/"+eventID+"/repair", map[string]any{
		"repair_cost": 40000, "description": "replaced spindle bearing", "cause": "bearing wear",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, repair["scheme_triggered"])
	analysis := repair["cost_analysis"].(map[string]any)
	assert.Equal(t, float64(55000), analysis["total_loss"])
	assert.Equal(t, 1, ts.matcher.calls)

	status, again := ts.do(t, http.MethodPost, "/downtime/"+eventID+"/repair", map[string]any{"repair_cost": 10})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", again["code"])

	status, event := ts.do(t, http.MethodGet, "/downtime/"+eventID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "resolved", event["status"])
	assert.Equal(t, true, event["scheme_triggered"])

	status, machine := ts.do(t, http.MethodGet, "/machines/"+machineID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Active", machine["status"])
}

func TestAlertTransitionsOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	plantID, machineID := ts.seed(t)

	status, _ := ts.do(t, http.MethodPost, "/machines/"+machineID+"/readings", map[string]any{
		"readings": []map[string]any{{"sensor_type": "temperature", "value": 80}},
	})
	require.Equal(t, http.StatusOK, status)
	_, list := ts.do(t, http.MethodGet, "/plants/"+plantID+"/alerts", nil)
	alerts := list["alerts"].([]any)
	require.Len(t, alerts, 1)
	alertID := alerts[0].(map[string]any)["id"].(string)

	status, update := ts.do(t, http.MethodPost, "/alerts/"+alertID+"/acknowledge", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "acknowledged", update["alert"].(map[string]any)["status"])

	status, _ = ts.do(t, http.MethodPost, "/alerts/"+alertID+"/resolve", nil)
	require.Equal(t, http.StatusOK, status)

	status, body := ts.do(t, http.MethodPost, "/alerts/"+alertID+"/dismiss", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, false, body["ok"])

	status, alert := ts.do(t, http.MethodGet, "/alerts/"+alertID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "resolved", alert["status"])
}

func TestValidationAndNotFound(t *testing.T) {
	ts := newTestServer(t)
	plantID, machineID := ts.seed(t)

	status, body := ts.do(t, http.MethodPost, "/machines/"+machineID+"/readings", map[string]any{"readings": []any{}})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_failed", body["code"])

	status, body = ts.do(t, http.MethodPost, "/machines/"+machineID+"/readings", `{"readings":[],"extra":1}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_request", body["code"])

	status, _ = ts.do(t, http.MethodGet, "/machines/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = ts.do(t, http.MethodPost, "/downtime/missing/repair", map[string]any{"repair_cost": 1})
	assert.Equal(t, http.StatusNotFound, status)

	status, body = ts.do(t, http.MethodPut, "/machines/"+machineID+"/status", map[string]any{"status": "Exploded"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_failed", body["code"])

	status, body = ts.do(t, http.MethodGet, "/machines/"+machineID+"/readings/history?hours=abc", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	details := body["details"].([]any)
	assert.Equal(t, "hours", details[0].(map[string]any)["field"])

	status, _ = ts.do(t, http.MethodGet, "/machines/"+machineID+"/readings/history?hours=721", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = ts.do(t, http.MethodGet, "/plants/"+plantID+"/alerts?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = ts.do(t, http.MethodPost, "/machines/"+machineID+"/historian/pull", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "historian is not configured", body["message"])
}

func TestOperatorStatusSimulateAndReset(t *testing.T) {
	ts := newTestServer(t)
	plantID, machineID := ts.seed(t)

	status, machine := ts.do(t, http.MethodPut, "/machines/"+machineID+"/status", map[string]any{"status": "Maintenance"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Maintenance", machine["status"])

	status, sim := ts.do(t, http.MethodPost, "/machines/"+machineID+"/simulate", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), sim["stored"])

	status, reset := ts.do(t, http.MethodPost, "/machines/"+machineID+"/reset", map[string]any{"sensor_type": "temperature"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Active", reset["machine_status"])

	status, _ = ts.do(t, http.MethodPost, "/machines/"+machineID+"/reset", nil)
	require.Equal(t, http.StatusOK, status)

	status, latest := ts.do(t, http.MethodGet, "/machines/"+machineID+"/readings/latest", nil)
	require.Equal(t, http.StatusOK, status)
	readings := latest["readings"].([]any)
	require.Len(t, readings, 1)
	assert.Equal(t, 47.5, readings[0].(map[string]any)["value"])

	status, history := ts.do(t, http.MethodGet, "/machines/"+machineID+"/readings/history?sensor_type=temperature", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(defaultHistoryHours), history["hours"])
	assert.Len(t, history["readings"], 3)

	status, diag := ts.do(t, http.MethodPost, "/plants/"+plantID+"/diagnostics", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(100), diag["plant_health"])

	status, plant := ts.do(t, http.MethodGet, "/plants/"+plantID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "stable", plant["status"])
}

func TestHistorianPullDelegates(t *testing.T) {
	ts := newTestServer(t)
	puller := &stubPuller{}
	ts.handler.Historian = puller
	status, body := ts.do(t, http.MethodPost, "/machines/m-7/historian/pull", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "m-7", puller.machineID)
	assert.Equal(t, float64(2), body["stored"])
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	status, body := ts.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	ts.handler.Checks = []Check{
		{Name: "postgres", Probe: func(context.Context) error { return nil }},
		{Name: "redis", Probe: func(context.Context) error { return errors.New("connection refused") }},
	}
	status, body = ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "degraded", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["postgres"])
	assert.Equal(t, "connection refused", checks["redis"])
}

type recordingStream struct {
	plantID string
}

func (s *recordingStream) ServeWS(w http.ResponseWriter, _ *http.Request, plantID string) {
	s.plantID = plantID
	writeJSON(w, http.StatusOK, map[string]string{"subscribed": plantID})
}

func TestStreamRouteChecksPlant(t *testing.T) {
	ts := newTestServer(t)
	stream := &recordingStream{}
	ts.handler.Stream = stream
	srv := httptest.NewServer(ts.handler.Router())
	defer srv.Close()
	ts.srv = srv
	plantID, _ := ts.seed(t)

	status, _ := ts.do(t, http.MethodGet, "/ws/plants/unknown", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Empty(t, stream.plantID)

	status, body := ts.do(t, http.MethodGet, "/ws/plants/"+plantID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, plantID, body["subscribed"])
}
