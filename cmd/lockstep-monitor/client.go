package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dd0wney/cluso-lockstep/pkg/session"
)

// statusMsg carries one poll of a node's /status endpoint
type statusMsg struct {
	status session.Status
	at     time.Time
	err    error
}

type tickMsg time.Time

func tickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// statusClient polls a single node
type statusClient struct {
	url  string
	http *http.Client
}

func newStatusClient(url string, timeout time.Duration) *statusClient {
	return &statusClient{url: url, http: &http.Client{Timeout: timeout}}
}

func (c *statusClient) fetch(ctx context.Context) (session.Status, error) {
	var st session.Status

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return st, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return st, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return st, fmt.Errorf("GET %s: %s", c.url, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}

func (c *statusClient) fetchCmd() tea.Cmd {
	return func() tea.Msg {
		st, err := c.fetch(context.Background())
		return statusMsg{status: st, at: time.Now(), err: err}
	}
}
