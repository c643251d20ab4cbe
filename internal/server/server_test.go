package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/scrollfeed/internal/testutil"
	"github.com/Sternrassler/scrollfeed/pkg/pagination"
	"github.com/Sternrassler/scrollfeed/pkg/source"
	"github.com/Sternrassler/scrollfeed/pkg/view"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	srv    *Server
	http   *httptest.Server
	mock   *testutil.MockSource
	clock  *testutil.FakeClock
	client *http.Client
}

func newTestEnv(t *testing.T, records int, mutate func(*Config)) *testEnv {
	t.Helper()

	mock := testutil.NewMockSource(testutil.Records(records))
	t.Cleanup(mock.Close)

	srcCfg := source.DefaultConfig()
	srcCfg.URL = mock.URL()
	src, err := source.New(srcCfg)
	require.NoError(t, err)

	clk := testutil.NewFakeClock()
	cfg := DefaultConfig()
	cfg.Clock = clk
	if mutate != nil {
		mutate(&cfg)
	}

	srv := New(src, cfg)
	t.Cleanup(srv.Close)

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)

	return &testEnv{srv: srv, http: hs, mock: mock, clock: clk, client: hs.Client()}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.http.URL+path, rd)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (e *testEnv) createSession(t *testing.T) string {
	t.Helper()

	resp, body := e.do(t, http.MethodPost, "/api/sessions", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var created map[string]string
	require.NoError(t, json.Unmarshal(body, &created))
	_, err := uuid.Parse(created["id"])
	require.NoError(t, err)
	return created["id"]
}

func (e *testEnv) view(t *testing.T, id string) view.Model {
	t.Helper()

	resp, body := e.do(t, http.MethodGet, "/api/sessions/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var m view.Model
	require.NoError(t, json.Unmarshal(body, &m))
	return m
}

func (e *testEnv) waitLoaded(t *testing.T, id string) view.Model {
	t.Helper()

	var m view.Model
	require.Eventually(t, func() bool {
		m = e.view(t, id)
		return m.Status != view.StatusInitialLoading
	}, 5*time.Second, 10*time.Millisecond)
	return m
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, 0, nil)

	resp, body := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, 3, nil)
	env.waitLoaded(t, env.createSession(t))

	resp, body := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := string(body)
	assert.Contains(t, out, "# TYPE feed_sessions_active gauge")
	assert.Contains(t, out, "feed_source_requests_total")
}

func TestSession_ScrollThroughAllRecords(t *testing.T) {
	env := newTestEnv(t, 12, nil)
	id := env.createSession(t)

	m := env.waitLoaded(t, id)
	assert.Equal(t, view.StatusMoreAvailable, m.Status)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, testutil.IDs(m.Rows))
	assert.Equal(t, 12, m.Total)
	assert.Equal(t, 7, m.Remaining)

	resp, body := env.do(t, http.MethodPost, "/api/sessions/"+id+"/visibility", `{"ratio": 0.75}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	var reported view.Model
	require.NoError(t, json.Unmarshal(body, &reported))
	assert.Equal(t, view.StatusLoadingMore, reported.Status)

	// No further report: the sentinel is still in view after each reveal.
	for _, want := range []int{10, 12} {
		env.clock.Advance(pagination.RevealDelay)
		assert.Equal(t, want, env.view(t, id).Shown)
	}

	m = env.view(t, id)
	assert.Equal(t, view.StatusAllLoaded, m.Status)
	assert.Equal(t, 100, m.Percent)
	assert.Equal(t, 1, env.mock.GetRequestCount(), "one upstream fetch per session")
}

func TestSession_BelowThresholdDoesNotAdvance(t *testing.T) {
	env := newTestEnv(t, 12, nil)
	id := env.createSession(t)
	env.waitLoaded(t, id)

	resp, body := env.do(t, http.MethodPost, "/api/sessions/"+id+"/visibility", `{"ratio": 0.3}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var m view.Model
	require.NoError(t, json.Unmarshal(body, &m))
	assert.Equal(t, view.StatusMoreAvailable, m.Status)
	assert.Equal(t, 0, env.clock.Pending())
}

func TestSession_UpstreamFailure(t *testing.T) {
	env := newTestEnv(t, 0, nil)
	env.mock.SetResponse(testutil.NewServerErrorResponse())

	id := env.createSession(t)
	m := env.waitLoaded(t, id)

	assert.Equal(t, view.StatusFailed, m.Status)
	assert.Contains(t, m.Error, "server")
	assert.Empty(t, m.Rows)
}

func TestSession_Fragment(t *testing.T) {
	env := newTestEnv(t, 7, nil)
	id := env.createSession(t)
	env.waitLoaded(t, id)

	resp, body := env.do(t, http.MethodGet, "/api/sessions/"+id+"/fragment", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Contains(t, string(body), "Infinite Scroll Posts (5 of 7)")
	assert.Contains(t, string(body), `id="feed-sentinel"`)
}

func TestVisibility_InvalidBody(t *testing.T) {
	env := newTestEnv(t, 12, nil)
	id := env.createSession(t)
	env.waitLoaded(t, id)

	tests := []struct {
		name string
		body string
	}{
		{"not json", "ratio=1"},
		{"missing ratio", `{}`},
		{"ratio above one", `{"ratio": 1.5}`},
		{"negative ratio", `{"ratio": -0.1}`},
		{"ratio as string", `{"ratio": "0.5"}`},
		{"unknown field", `{"ratio": 0.5, "extra": true}`},
		{"oversized", `{"ratio": 0.5, "pad": "` + strings.Repeat("x", 2048) + `"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, "/api/sessions/"+id+"/visibility", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var er errorResponse
			require.NoError(t, json.Unmarshal(body, &er))
			assert.NotEmpty(t, er.Error)
		})
	}

	assert.Equal(t, 5, env.view(t, id).Shown)
}

func TestUnknownSession(t *testing.T) {
	env := newTestEnv(t, 0, nil)
	id := uuid.NewString()

	for _, path := range []string{"/api/sessions/" + id, "/api/sessions/" + id + "/fragment"} {
		resp, body := env.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)

		var er errorResponse
		require.NoError(t, json.Unmarshal(body, &er))
		assert.Equal(t, "session not found", er.Error)
		assert.NotEmpty(t, er.RequestID)
	}

	resp, _ := env.do(t, http.MethodPost, "/api/sessions/"+id+"/visibility", `{"ratio": 1}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteSession(t *testing.T) {
	env := newTestEnv(t, 12, nil)
	id := env.createSession(t)
	env.waitLoaded(t, id)

	resp, _ := env.do(t, http.MethodPost, "/api/sessions/"+id+"/visibility", `{"ratio": 1}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = env.do(t, http.MethodDelete, "/api/sessions/"+id, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, env.srv.SessionCount())

	// The pending reveal belongs to a disposed feed.
	env.clock.Advance(pagination.RevealDelay)

	resp, _ = env.do(t, http.MethodGet, "/api/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodDelete, "/api/sessions/"+id, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode, "delete is idempotent")
}

func TestSessionLimit(t *testing.T) {
	env := newTestEnv(t, 3, func(c *Config) { c.MaxSessions = 2 })

	env.createSession(t)
	env.createSession(t)

	resp, body := env.do(t, http.MethodPost, "/api/sessions", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), ErrSessionLimit.Error())

	resp, _ = env.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, 2, env.srv.SessionCount())
}

func TestIndexPage(t *testing.T) {
	env := newTestEnv(t, 3, nil)

	resp, body := env.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(body), "IntersectionObserver")
	assert.Contains(t, string(body), `data-threshold="0.5"`)
	assert.Equal(t, 1, env.srv.SessionCount(), "page load mounts a session")
}

func TestReapIdle(t *testing.T) {
	env := newTestEnv(t, 3, func(c *Config) { c.SessionIdleTTL = time.Minute })

	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	env.srv.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	stale := env.createSession(t)
	fresh := env.createSession(t)
	env.waitLoaded(t, stale)

	advance(45 * time.Second)
	env.view(t, fresh)
	advance(30 * time.Second)

	assert.Equal(t, 1, env.srv.ReapIdle())
	assert.Equal(t, 1, env.srv.SessionCount())

	resp, _ := env.do(t, http.MethodGet, "/api/sessions/"+stale, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	env.view(t, fresh)
}

func TestClose(t *testing.T) {
	env := newTestEnv(t, 12, nil)
	id := env.createSession(t)
	env.waitLoaded(t, id)

	env.srv.StartReaper()
	env.srv.Close()
	env.srv.Close()

	assert.Equal(t, 0, env.srv.SessionCount())

	_, err := env.srv.CreateSession()
	assert.ErrorIs(t, err, ErrServerClosed)

	resp, _ := env.do(t, http.MethodPost, "/api/sessions", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
