package net

import (
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"towerdefense/server"
	"towerdefense/server/internal/observability"
)

type stubStatus struct {
	status server.Status
	diag   server.Diagnostics
}

func (s stubStatus) Status() server.Status { return s.status }

func (s stubStatus) Diagnostics() server.Diagnostics { return s.diag }

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func serve(handler nethttp.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func TestHealth(t *testing.T) {
	handler := NewHTTPHandler(stubStatus{}, HTTPHandlerConfig{})
	resp := serve(handler, nethttp.MethodGet, "/health")
	assert.Equal(t, nethttp.StatusOK, resp.Code)
	assert.Equal(t, "ok", resp.Body.String())
}

func TestStatusSummarizesRooms(t *testing.T) {
	hub := stubStatus{status: server.Status{Rooms: 2, Players: 5, Online: 3, Connections: 4, Tick: 99}}
	handler := NewHTTPHandler(hub, HTTPHandlerConfig{})

	resp := serve(handler, nethttp.MethodGet, "/status")
	require.Equal(t, nethttp.StatusOK, resp.Code)
	assert.Equal(t, "application/json; charset=utf-8", resp.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"rooms":2,"players":5,"online":3}`, resp.Body.String())
}

func TestDiagnosticsIncludesCounters(t *testing.T) {
	hub := stubStatus{diag: server.Diagnostics{
		Status:          server.Status{Rooms: 1},
		Counters:        map[string]uint64{"send_drops_total": 7},
		PendingCommands: 3,
	}}
	fixed := time.UnixMilli(1_700_000_000_000)
	handler := NewHTTPHandler(hub, HTTPHandlerConfig{Clock: func() time.Time { return fixed }})

	resp := serve(handler, nethttp.MethodGet, "/diagnostics")
	require.Equal(t, nethttp.StatusOK, resp.Code)

	var payload struct {
		Status      string `json:"status"`
		ServerTime  int64  `json:"serverTime"`
		Diagnostics struct {
			Status          server.Status     `json:"status"`
			Counters        map[string]uint64 `json:"counters"`
			PendingCommands int               `json:"pendingCommands"`
		} `json:"diagnostics"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	assert.Equal(t, "ok", payload.Status)
	assert.Equal(t, fixed.UnixMilli(), payload.ServerTime)
	assert.Equal(t, 1, payload.Diagnostics.Status.Rooms)
	assert.Equal(t, uint64(7), payload.Diagnostics.Counters["send_drops_total"])
	assert.Equal(t, 3, payload.Diagnostics.PendingCommands)
}

func TestWebSocketRouteIsMounted(t *testing.T) {
	called := false
	handler := NewHTTPHandler(stubStatus{}, HTTPHandlerConfig{
		WebSocket: func(w nethttp.ResponseWriter, r *nethttp.Request) {
			called = true
			w.WriteHeader(nethttp.StatusSwitchingProtocols)
		},
	})
	serve(handler, nethttp.MethodGet, "/ws")
	assert.True(t, called)

	bare := NewHTTPHandler(stubStatus{}, HTTPHandlerConfig{})
	assert.Equal(t, nethttp.StatusNotFound, serve(bare, nethttp.MethodGet, "/ws").Code)
}

func TestPprofIsOptIn(t *testing.T) {
	off := NewHTTPHandler(stubStatus{}, HTTPHandlerConfig{})
	assert.Equal(t, nethttp.StatusNotFound, serve(off, nethttp.MethodGet, "/debug/pprof/").Code)

	on := NewHTTPHandler(stubStatus{}, HTTPHandlerConfig{Observability: observability.Config{EnablePprof: true}})
	assert.Equal(t, nethttp.StatusOK, serve(on, nethttp.MethodGet, "/debug/pprof/").Code)
	assert.Equal(t, nethttp.StatusOK, serve(on, nethttp.MethodGet, "/debug/pprof/goroutine").Code)
}

func TestClientDirServesStaticFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("<h1>td</h1>"), 0o644))
	handler := NewHTTPHandler(stubStatus{}, HTTPHandlerConfig{ClientDir: dir})

	resp := serve(handler, nethttp.MethodGet, "/app.js")
	require.Equal(t, nethttp.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "<h1>td</h1>")
}
