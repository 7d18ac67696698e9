package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"saferoute/pkg/apisession"
	"saferoute/pkg/auth"
	"saferoute/pkg/model"
	"saferoute/pkg/session"
	"saferoute/pkg/tracker"
)

// gatedAnalyzer answers once release is closed, or immediately when nil.
type gatedAnalyzer struct {
	release chan struct{}
	result  *model.AnalysisResult
	err     error
}

func (g *gatedAnalyzer) Analyze(ctx context.Context, _ *model.AnalysisRequest) (*model.AnalysisResult, error) {
	if g.release != nil {
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.result, g.err
}

type testEnv struct {
	srv      *httptest.Server
	sessions *apisession.Store[session.Machine]
	provider *auth.Memory
	tracker  *tracker.Tracker
	stats    *StatsHandler
}

func newTestEnv(t *testing.T, analyzer session.Analyzer) *testEnv {
	t.Helper()
	provider := auth.NewMemory(bcrypt.MinCost)
	sessions := apisession.New(time.Hour, func(id string) *session.Machine {
		return session.NewMachine(analyzer, session.Options{Timeout: 2 * time.Second})
	})
	sessions.OnEvict(func(_ string, m *session.Machine) { m.Close() })

	tr := tracker.New()
	stats := NewStatsHandler(tr, sessions.Len)
	srv := httptest.NewServer(NewServer("", NewAuthHandler(provider, sessions), NewSessionHandler(provider, sessions), stats).Handler)
	t.Cleanup(func() {
		srv.Close()
		sessions.Close()
	})
	return &testEnv{srv: srv, sessions: sessions, provider: provider, tracker: tr, stats: stats}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) signUp(t *testing.T) string {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email": "driver@example.com", "password": "hunter22",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var s auth.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&s))
	require.NotEmpty(t, s.Token)
	return s.Token
}

func (e *testEnv) machine(t *testing.T, token string) *session.Machine {
	t.Helper()
	m, ok := e.sessions.Lookup(token)
	require.True(t, ok, "expected a session for token")
	return m
}

// snapshotView mirrors the JSON of session.Snapshot for decoding.
type snapshotView struct {
	Phase  string                `json:"phase"`
	Route  *model.RouteDetails   `json:"route"`
	Result *model.AnalysisResult `json:"result"`
	Error  *model.ErrorInfo      `json:"error"`
	Story  *struct {
		TotalSegmentsEstimate int      `json:"total_segments_estimate"`
		Outline               []string `json:"outline"`
		Segments              []struct {
			Index    int    `json:"index"`
			Text     string `json:"text"`
			HasAudio bool   `json:"has_audio"`
		} `json:"segments"`
	} `json:"story"`
}

func decodeSnapshot(t *testing.T, resp *http.Response) snapshotView {
	t.Helper()
	var v snapshotView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}
