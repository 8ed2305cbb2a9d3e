package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/akzios/bpsr-tools-sub002/internal/combat"
	"github.com/akzios/bpsr-tools-sub002/internal/decode"
)

func newTestServer() (*Server, *combat.Dispatcher) {
	d := combat.NewDispatcher(combat.DefaultConfig(), nil, zap.NewNop())
	s := NewServer(d, zap.NewNop())

	return s, d
}

func TestSnapshotAllHandler(t *testing.T) {
	s, d := newTestServer()
	d.SetName(1, "A")
	d.Apply([]decode.Event{decode.Damage{Actor: 1, Skill: 1, Value: 50}})

	req := httptest.NewRequest(http.MethodGet, "/snapshot", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"total":50`)
}

func TestControlClearHandler(t *testing.T) {
	s, d := newTestServer()
	d.SetName(1, "A")
	d.Apply([]decode.Event{decode.Damage{Actor: 1, Skill: 1, Value: 50}})

	body := bytes.NewBufferString(`{"op":"Clear"}`)
	req := httptest.NewRequest(http.MethodPost, "/control", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, d.Snapshot())
}

func TestControlUnknownOpRejected(t *testing.T) {
	s, _ := newTestServer()

	body := bytes.NewBufferString(`{"op":"Nonsense"}`)
	req := httptest.NewRequest(http.MethodPost, "/control", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSnapshotSkillsHandler(t *testing.T) {
	s, d := newTestServer()
	d.SetName(1, "A")
	d.Apply([]decode.Event{decode.Damage{Actor: 1, Skill: 77, Value: 30}})

	req := httptest.NewRequest(http.MethodGet, "/snapshot/skills/1", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"skillId":77`)
}

func TestMetricsEndpointServesPrometheusText(t *testing.T) {
	s, d := newTestServer()
	// labeled counters only appear once a reason has been counted; an
	// unrecognized event increments the advisory counter.
	d.Apply([]decode.Event{decode.Other{Kind: 0xBEEF}})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "pulsewatch_")
}
