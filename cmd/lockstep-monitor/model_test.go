package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-lockstep/pkg/session"
)

func sampleStatus(frame uint64) session.Status {
	return session.Status{
		NodeID:    "node_0",
		SessionID: "3f1c",
		Mode:      "cluster",
		Role:      "primary",
		Transport: "tcp",
		Failover:  "drop_secondary_on_fail",
		Running:   true,
		Frame:     frame,
		Nodes: []session.NodeStatus{
			{ID: "node_0", Host: "10.0.0.1", Role: "primary", Active: true, Connected: true},
			{ID: "node_1", Host: "10.0.0.2", Role: "secondary", Active: false},
		},
		Gates:    map[string]string{"SwapSync": "Ok", "FrameStart": "Timeout", "Custom": "Ok"},
		Timeouts: map[string][]string{"FrameStart": {"node_1"}},
	}
}

func TestStatusClient_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(sampleStatus(42))
	}))
	defer srv.Close()

	st, err := newStatusClient(srv.URL+"/status", time.Second).fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), st.Frame)
	assert.Len(t, st.Nodes, 2)

	_, err = newStatusClient(srv.URL+"/missing", time.Second).fetch(context.Background())
	assert.ErrorContains(t, err, "404")
}

func newTestModel() model {
	m := initialModel(newStatusClient("http://localhost:8090/status", time.Second), time.Second)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return next.(model)
}

func TestModel_FrameRateAcrossPolls(t *testing.T) {
	m := newTestModel()
	at := time.Now()

	next, cmd := m.Update(statusMsg{status: sampleStatus(100), at: at})
	m = next.(model)
	assert.NotNil(t, cmd, "a poll schedules the next tick")
	assert.Zero(t, m.fps)

	next, _ = m.Update(statusMsg{status: sampleStatus(130), at: at.Add(500 * time.Millisecond)})
	m = next.(model)
	assert.InDelta(t, 60, m.fps, 1e-9)

	restarted := sampleStatus(2)
	restarted.SessionID = "9a0b"
	next, _ = m.Update(statusMsg{status: restarted, at: at.Add(time.Second)})
	m = next.(model)
	assert.Zero(t, m.fps, "a new session resets the rate")
}

func TestModel_PollErrorKeepsLastStatus(t *testing.T) {
	m := newTestModel()
	next, _ := m.Update(statusMsg{status: sampleStatus(7), at: time.Now()})
	next, _ = next.(model).Update(statusMsg{err: errors.New("connection refused")})
	m = next.(model)

	assert.Equal(t, uint64(7), m.status.Frame)
	out := m.View()
	assert.Contains(t, out, "connection refused")
	assert.Contains(t, out, "node_0")
}

func TestModel_Views(t *testing.T) {
	m := newTestModel()
	assert.Contains(t, m.View(), "Waiting for")

	next, _ := m.Update(statusMsg{status: sampleStatus(5), at: time.Now()})
	m = next.(model)
	assert.Contains(t, m.View(), "1/2 active")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = next.(model)
	assert.Equal(t, nodesView, m.currentView)
	assert.Contains(t, m.View(), "10.0.0.2")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = next.(model)
	assert.Equal(t, gatesView, m.currentView)
	assert.Contains(t, m.View(), "last timeout: node_1")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyShiftTab})
	m = next.(model)
	assert.Equal(t, nodesView, m.currentView)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestGateOrder(t *testing.T) {
	got := gateOrder(map[string]string{"SwapSync": "Ok", "Custom": "Ok", "FrameStart": "Ok", "Alpha": "Ok"})
	assert.Equal(t, []string{"FrameStart", "SwapSync", "Alpha", "Custom"}, got)
}
