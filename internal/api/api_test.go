package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/fragline/internal/config"
	"github.com/energizer-project/fragline/internal/db"
	"github.com/energizer-project/fragline/internal/download"
	"github.com/energizer-project/fragline/internal/events"
	"github.com/energizer-project/fragline/internal/filter"
	"github.com/energizer-project/fragline/internal/health"
	"github.com/energizer-project/fragline/internal/session"
	"github.com/energizer-project/fragline/internal/snapshot"
)

const testToken = "secret-token"

type fakeGame struct {
	mu       sync.Mutex
	sessions map[int]session.Info
	kicked   map[int]string
	stuffed  map[int][]string
	policy   download.Policy
	cs       *snapshot.ConfigStrings
	filters  *filter.List
	down     bool

	filterPath string
}

func newFakeGame(t *testing.T) *fakeGame {
	path := filepath.Join(t.TempDir(), "filters.toml")
	cs := snapshot.NewConfigStrings()
	require.NoError(t, cs.Set(0, "fragline test"))
	require.NoError(t, cs.Set(33, "maps/q2dm1.bsp"))
	return &fakeGame{
		sessions: map[int]session.Info{
			0: {Slot: 0, Name: "alice", Address: "10.0.0.1:27901", Dialect: "q2pro", State: session.StateSpawned},
			2: {Slot: 2, Name: "bob", Address: "10.0.0.2:27901", Dialect: "r1q2", State: session.StatePrimed},
		},
		kicked:  map[int]string{},
		stuffed: map[int][]string{},
		cs:      cs,
		filters: filter.NewList(path),

		filterPath: path,
	}
}

var errLoopDown = errors.New("server loop stopped")

func (g *fakeGame) Status(ctx context.Context) (session.Status, error) {
	if g.down {
		return session.Status{}, errLoopDown
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return session.Status{Hostname: "fragline test", MapName: "q2dm1", Clients: len(g.sessions), MaxClients: 8}, nil
}

func (g *fakeGame) Sessions(ctx context.Context) ([]session.Info, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []session.Info
	for slot := 0; slot < 8; slot++ {
		if info, ok := g.sessions[slot]; ok {
			out = append(out, info)
		}
	}
	return out, nil
}

func (g *fakeGame) SessionInfo(ctx context.Context, slot int) (session.Info, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	info, ok := g.sessions[slot]
	if !ok {
		return info, session.ErrNoSession
	}
	return info, nil
}

func (g *fakeGame) Kick(ctx context.Context, slot int, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.sessions[slot]; !ok {
		return session.ErrNoSession
	}
	g.kicked[slot] = reason
	delete(g.sessions, slot)
	return nil
}

func (g *fakeGame) StuffText(ctx context.Context, slot int, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.sessions[slot]; !ok {
		return session.ErrNoSession
	}
	g.stuffed[slot] = append(g.stuffed[slot], text)
	return nil
}

func (g *fakeGame) SetPolicy(ctx context.Context, p download.Policy) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.policy = p
	return nil
}

func (g *fakeGame) ConfigStrings() *snapshot.ConfigStrings { return g.cs }
func (g *fakeGame) Filters() *filter.List                  { return g.filters }

type fakeAudit struct {
	query  db.AuditQuery
	limit  int
	alerts []db.Alert
	acked  []int64
}

func (a *fakeAudit) Recent(limit int, q db.AuditQuery) ([]db.AuditEntry, error) {
	a.limit, a.query = limit, q
	return []db.AuditEntry{{ID: 1, Type: "session_dropped", Name: q.Name}}, nil
}

func (a *fakeAudit) GetUnacknowledgedAlerts() ([]db.Alert, error) { return a.alerts, nil }

func (a *fakeAudit) AcknowledgeAlert(id int64) error {
	for _, al := range a.alerts {
		if al.ID == id {
			a.acked = append(a.acked, id)
			return nil
		}
	}
	return fmt.Errorf("alert %d not found", id)
}

type testAPI struct {
	*Server
	game  *fakeGame
	audit *fakeAudit
	bus   *events.EventBus
	cfg   *config.Config
}

func newTestAPI(t *testing.T, tweak func(*config.ApplicationData)) *testAPI {
	t.Helper()
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	ad := cfg.GetApplicationData()
	ad.Security.AuthDisabled = false
	ad.API.Token = testToken
	ad.Logging.Directory = t.TempDir()
	if tweak != nil {
		tweak(&ad)
	}
	cfg.SetApplicationData(ad)

	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)

	game := newFakeGame(t)
	audit := &fakeAudit{alerts: []db.Alert{{ID: 7, Type: "lag", Level: "warning", Message: "alice lags"}}}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "fragline_active_sessions 2")
	})

	s := NewServer(cfg, bus, game, Options{Audit: audit, Metrics: metrics, Version: "test"})
	return &testAPI{Server: s, game: game, audit: audit, bus: bus, cfg: cfg}
}

func (a *testAPI) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestPublicEndpointsNeedNoToken(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/public/ping", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fragline", decode(t, rec)["service"])

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/public/server_info", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode(t, rec)
	assert.Equal(t, "q2dm1", info["map"])
	assert.Equal(t, float64(2), info["clients"])

	a.game.down = true
	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/public/server_info", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTokenAuth(t *testing.T) {
	a := newTestAPI(t, nil)

	cases := []struct {
		name   string
		header string
		query  string
		code   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + testToken, "", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", "", http.StatusUnauthorized},
		{"bearer", "Bearer " + testToken, "", http.StatusOK},
		{"query", "", "?token=" + testToken, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/monitor/sessions"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			a.Handler().ServeHTTP(rec, req)
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestAuthDisabled(t *testing.T) {
	a := newTestAPI(t, func(ad *config.ApplicationData) {
		ad.Security.AuthDisabled = true
	})
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/monitor/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMonitorSessions(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(t, "GET", "/api/monitor/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(2), body["total"])
	first := body["sessions"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "alice", first["name"])
	assert.Equal(t, "spawned", first["state"])

	rec = a.do(t, "GET", "/api/monitor/sessions/2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bob", decode(t, rec)["name"])

	assert.Equal(t, http.StatusNotFound, a.do(t, "GET", "/api/monitor/sessions/5", "").Code)
	assert.Equal(t, http.StatusBadRequest, a.do(t, "GET", "/api/monitor/sessions/x", "").Code)
}

func TestMonitorConfigStrings(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(t, "GET", "/api/monitor/configstrings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode(t, rec)["total"])

	rec = a.do(t, "GET", "/api/monitor/configstrings?index=33", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "maps/q2dm1.bsp", decode(t, rec)["value"])

	assert.Equal(t, http.StatusBadRequest, a.do(t, "GET", "/api/monitor/configstrings?index=-1", "").Code)
}

func TestMonitorAuditAndAlerts(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(t, "GET", "/api/monitor/audit?name=alice&limit=5000&since=2026-01-02T03:04:05Z", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1000, a.audit.limit, "limit is capped")
	assert.Equal(t, "alice", a.audit.query.Name)
	assert.Equal(t, 2026, a.audit.query.Since.Year())

	assert.Equal(t, http.StatusBadRequest, a.do(t, "GET", "/api/monitor/audit?since=yesterday", "").Code)

	rec = a.do(t, "GET", "/api/monitor/alerts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["alerts"], 1)

	assert.Equal(t, http.StatusOK, a.do(t, "POST", "/api/control/alerts/7/ack", "").Code)
	assert.Equal(t, []int64{7}, a.audit.acked)
	assert.Equal(t, http.StatusNotFound, a.do(t, "POST", "/api/control/alerts/8/ack", "").Code)
}

func TestControlKickAndStuff(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(t, "POST", "/api/control/kick/2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultKickReason, a.game.kicked[2])

	rec = a.do(t, "POST", "/api/control/kick/0", `{"reason":"camping"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "camping", a.game.kicked[0])

	assert.Equal(t, http.StatusNotFound, a.do(t, "POST", "/api/control/kick/0", "").Code)

	a.game.sessions[1] = session.Info{Slot: 1, Name: "carol"}
	rec = a.do(t, "POST", "/api/control/stuff/1", `{"command":"say hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"say hi"}, a.game.stuffed[1])

	assert.Equal(t, http.StatusBadRequest, a.do(t, "POST", "/api/control/stuff/1", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(t, "POST", "/api/control/stuff/1", `{"command":"a\nb"}`).Code)
	assert.Equal(t, http.StatusNotFound, a.do(t, "POST", "/api/control/stuff/6", `{"command":"x"}`).Code)
}

func TestConfigureFilters(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(t, "GET", "/api/configure/filters", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec)["filters"])

	rec = a.do(t, "PUT", "/api/configure/filters",
		`{"filters":[{"match":"kill","action":"print","comment":"no suicide"},{"match":"wave"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	all := a.game.filters.All()
	require.Len(t, all, 2)
	assert.Equal(t, filter.ActionPrint, all[0].Action)
	assert.Equal(t, filter.ActionIgnore, all[1].Action)

	reloaded := filter.NewList(a.game.filterPath)
	require.NoError(t, reloaded.Load())
	assert.Len(t, reloaded.All(), 2)

	rec = a.do(t, "PUT", "/api/configure/filters", `{"filters":[{"match":"x","action":"explode"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, a.game.filters.All(), 2, "a rejected list leaves the old one")
}

func TestConfigurePolicyAndFields(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(t, "POST", "/api/configure/policy", `{"enabled":true,"maps":2,"sounds":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, a.game.policy.Maps)
	assert.True(t, a.game.policy.Sounds)
	assert.False(t, a.game.policy.Players)
	assert.Equal(t, 2, a.cfg.GetServerData().Downloads.Maps)

	assert.Equal(t, http.StatusBadRequest, a.do(t, "POST", "/api/configure/policy", `{"maps":3}`).Code)

	rec = a.do(t, "POST", "/api/configure/server_field", `{"key":"hostname","value":"renamed"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "renamed", a.cfg.GetServerData().Hostname)

	rec = a.do(t, "POST", "/api/configure/server_field", `{"key":"frame_rate","value":500}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 10, a.cfg.GetServerData().FrameRate, "invalid values are rolled back")

	assert.Equal(t, http.StatusBadRequest, a.do(t, "POST", "/api/configure/server_field", `{"key":"bogus","value":1}`).Code)

	rec = a.do(t, "GET", "/api/configure/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	ad := decode(t, rec)["application_data"].(map[string]interface{})
	assert.Equal(t, "********", ad["api"].(map[string]interface{})["token"])
}

func TestMetricsEndpoint(t *testing.T) {
	a := newTestAPI(t, nil)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fragline_active_sessions")

	b := newTestAPI(t, func(ad *config.ApplicationData) { ad.Metrics.Enabled = false })
	rec = httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLogEntries(t *testing.T) {
	a := newTestAPI(t, nil)
	dir := a.cfg.GetApplicationData().Logging.Directory
	lines := `{"level":"info","time":"2026-05-01T10:00:00Z","message":"first","slot":1}
not json
{"level":"warn","time":"2026-05-01T10:00:01Z","message":"last","app":"fragline"}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fragline_2026-05-01.log"), []byte(lines), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fragline_2026-04-30.log"), []byte(`{"message":"old"}`+"\n"), 0644))

	entries, err := readRecentLogEntries(dir, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "not json", entries[0].Message)
	assert.Equal(t, "last", entries[1].Message)
	assert.Equal(t, "warn", entries[1].Level)
	assert.Nil(t, entries[1].Fields, "known keys are not repeated")

	rec := a.do(t, "GET", "/api/monitor/log_entries?count=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), decode(t, rec)["count"])
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"), "burst of two spent")
	assert.True(t, rl.Allow("b"), "buckets are per client")

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("a"))

	now = now.Add(limiterIdle + time.Second)
	rl.Allow("c")
	rl.mu.Lock()
	_, kept := rl.clients["a"]
	rl.mu.Unlock()
	assert.False(t, kept, "idle clients are forgotten")

	assert.True(t, NewRateLimiter(0).Allow("x"))
}

func TestEventFeed(t *testing.T) {
	a := newTestAPI(t, nil)
	ts := httptest.NewServer(a.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/monitor/events?types=session_dropped&token=" + testToken
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return a.feed.Count() == 1 }, time.Second, 10*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, a.bus.EmitSync(ctx, events.Event{Type: events.EventSessionSpawned, Source: "session"}))
	require.NoError(t, a.bus.EmitSync(ctx, events.Event{
		Type:    events.EventSessionDropped,
		Source:  "session",
		Payload: events.SessionDroppedPayload{Kind: events.DropKicked, Reason: "bye"},
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "session_dropped", got["type"], "the filtered type is skipped")
	assert.Equal(t, "kicked", got["payload"].(map[string]interface{})["kind"])

	conn.Close()
	require.Eventually(t, func() bool { return a.feed.Count() == 0 }, time.Second, 10*time.Millisecond)
}

func TestEventFeedRejectsUnknownType(t *testing.T) {
	a := newTestAPI(t, nil)
	rec := a.do(t, "GET", "/api/monitor/events?types=nope", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeHealth struct{ results []health.Result }

func (h fakeHealth) Results() []health.Result { return h.results }

func TestMonitorHealth(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(t, http.MethodGet, "/api/monitor/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	a.health = fakeHealth{results: []health.Result{
		{Name: "session_loop", Healthy: true},
		{Name: "udp_listener", Healthy: true},
	}}
	rec = a.do(t, http.MethodGet, "/api/monitor/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	a.health = fakeHealth{results: []health.Result{
		{Name: "disk_utilization", Level: "critical", Message: "Disk usage at 97.0%"},
	}}
	rec = a.do(t, http.MethodGet, "/api/monitor/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Healthy bool            `json:"healthy"`
		Checks  []health.Result `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Healthy)
	require.Len(t, body.Checks, 1)
	assert.Equal(t, "critical", body.Checks[0].Level)
}

func TestDashboardServed(t *testing.T) {
	a := newTestAPI(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/dashboard/", rec.Header().Get("Location"))

	req = httptest.NewRequest(http.MethodGet, "/dashboard/", nil)
	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<title>fragline</title>")
}
