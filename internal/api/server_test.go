package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zily-project/zily/internal/config"
	"github.com/zily-project/zily/internal/db"
	"github.com/zily-project/zily/internal/events"
	intnet "github.com/zily-project/zily/internal/network"
	"github.com/zily-project/zily/internal/protocol"
	"github.com/zily-project/zily/internal/session"
)

const testToken = "s3cret"

type consoleLines struct {
	mu  sync.Mutex
	got []string
}

func (c *consoleLines) Write(text string) error {
	if text == "boom" {
		return errors.New("boom")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, text)
	return nil
}

func (c *consoleLines) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.got...)
}

type fixture struct {
	server   *Server
	handler  http.Handler
	registry *intnet.SessionRegistry
	journal  *db.Journal
	bus      *events.EventBus
	client   *session.Client
	console  *consoleLines
	cfg      *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.SetPath(filepath.Join(dir, "config.json"))
	appData := cfg.GetApplicationData()
	appData.Security.APIToken = testToken
	appData.Security.RateLimitRPS = 0
	appData.Logging.Directory = filepath.Join(dir, "logs")
	cfg.SetApplicationData(appData)

	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)

	journal, err := db.NewJournal(filepath.Join(dir, "journal.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })
	journal.Subscribe(bus)

	local, err := protocol.NewSide("zily", protocol.APIVersion, "daemon")
	require.NoError(t, err)

	registry := intnet.NewSessionRegistry()
	listener := intnet.NewSessionListener(intnet.ListenerConfig{
		Kind:    intnet.KindTCP,
		Address: "127.0.0.1:0",
		Local:   local,
		Options: session.Options{Notifier: events.NewSessionNotifier(bus)},
	}, registry)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, listener.Bind(ctx))
	go listener.Serve(ctx)

	dialCtx, dialCancel := context.WithTimeout(ctx, 5*time.Second)
	defer dialCancel()
	conn, err := intnet.Dial(dialCtx, intnet.KindTCP, listener.Addr().String())
	require.NoError(t, err)

	clientSide, err := protocol.NewSide("zily", protocol.APIVersion, "client")
	require.NoError(t, err)
	console := &consoleLines{}
	client := session.NewClient(conn, clientSide, session.Options{Console: console})
	require.NoError(t, client.Connect(dialCtx))
	t.Cleanup(func() { client.Close() })
	go client.Listen(ctx)

	require.Eventually(t, func() bool { return registry.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	server := NewServer(cfg, bus, registry, journal)
	return &fixture{
		server:   server,
		handler:  server.Handler(),
		registry: registry,
		journal:  journal,
		bus:      bus,
		client:   client,
		console:  console,
		cfg:      cfg,
	}
}

func (f *fixture) sessionID(t *testing.T) string {
	t.Helper()
	all := f.registry.All()
	require.Len(t, all, 1)
	return all[0].ID()
}

func (f *fixture) do(t *testing.T, method, path, body string, auth bool) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	}
	return rec, decoded
}

func TestPublicEndpoints(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodGet, "/api/public/ping", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec, body = f.do(t, http.MethodGet, "/api/public/version", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2.0", body["protocol_version"])

	rec, body = f.do(t, http.MethodGet, "/api/public/host", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["sessions"])
}

func TestTokenRequired(t *testing.T) {
	f := newFixture(t)

	rec, _ := f.do(t, http.MethodGet, "/api/sessions", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	wrong := httptest.NewRecorder()
	f.handler.ServeHTTP(wrong, req)
	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
}

func TestListAndGetSessions(t *testing.T) {
	f := newFixture(t)
	id := f.sessionID(t)

	rec, body := f.do(t, http.MethodGet, "/api/sessions", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["total"])

	rec, body = f.do(t, http.MethodGet, "/api/sessions/"+id, "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, body["id"])
	assert.Equal(t, "online", body["status"])
	peer := body["peer"].(map[string]interface{})
	assert.Equal(t, "client", peer["name"])

	rec, _ = f.do(t, http.MethodGet, "/api/sessions/missing", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWriteToPeer(t *testing.T) {
	f := newFixture(t)
	id := f.sessionID(t)

	rec, body := f.do(t, http.MethodPost, "/api/sessions/"+id+"/write", `{"text":"hi"}`, true)
	require.Equal(t, http.StatusOK, rec.Code, body)
	assert.Equal(t, "written", body["status"])
	assert.Equal(t, []string{"hi"}, f.console.Lines())

	rec, body = f.do(t, http.MethodPost, "/api/sessions/"+id+"/write", `{"text":"boom"}`, true)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "boom", body["remote"])

	rec, _ = f.do(t, http.MethodPost, "/api/sessions/"+id+"/write", `{}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/api/sessions/missing/write", `{"text":"hi"}`, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueryPeerVersion(t *testing.T) {
	f := newFixture(t)
	id := f.sessionID(t)

	rec, body := f.do(t, http.MethodPost, "/api/sessions/"+id+"/version", "", true)
	require.Equal(t, http.StatusOK, rec.Code, body)
	assert.Equal(t, "2.0", body["version"])
	assert.Equal(t, true, body["compatible"])
}

func TestCloseSession(t *testing.T) {
	f := newFixture(t)
	id := f.sessionID(t)

	rec, _ := f.do(t, http.MethodDelete, "/api/sessions/"+id, "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, f.registry.Count())
	require.Eventually(t, func() bool {
		return f.client.Status() == session.StatusOffline
	}, 2*time.Second, 5*time.Millisecond)
}

func TestJournalEndpoints(t *testing.T) {
	f := newFixture(t)
	id := f.sessionID(t)

	rec, _ := f.do(t, http.MethodPost, "/api/sessions/"+id+"/write", `{"text":"hi"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		msgs, err := f.journal.Messages(context.Background(), id, 10)
		return err == nil && len(msgs) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	rec, body := f.do(t, http.MethodGet, "/api/journal/sessions?limit=5", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])

	rec, body = f.do(t, http.MethodGet, "/api/journal/sessions/"+id+"/messages", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.GreaterOrEqual(t, body["count"], float64(2))
}

func TestJournalDisabled(t *testing.T) {
	f := newFixture(t)
	f.server = NewServer(f.cfg, f.bus, f.registry, nil)
	f.handler = f.server.Handler()

	rec, _ := f.do(t, http.MethodGet, "/api/journal/sessions", "", true)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestConfigEndpoints(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodGet, "/api/config", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	appData := body["application_data"].(map[string]interface{})
	security := appData["security"].(map[string]interface{})
	assert.Equal(t, redacted, security["api_token"])

	// Round-tripping the masked document keeps the token.
	raw, err := json.Marshal(appData)
	require.NoError(t, err)
	rec, _ = f.do(t, http.MethodPost, "/api/config/app_data", string(raw), true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, testToken, f.cfg.GetApplicationData().Security.APIToken)
	_, err = os.Stat(f.cfg.Path())
	assert.NoError(t, err)

	rec, _ = f.do(t, http.MethodPost, "/api/config/app_data/journal",
		`{"enabled":true,"path":"x.db","retention_days":0,"record_text":true}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 7, f.cfg.GetApplicationData().Journal.RetentionDays)

	rec, _ = f.do(t, http.MethodPost, "/api/config/app_data/journal",
		`{"enabled":true,"path":"x.db","retention_days":3,"record_text":false}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, f.cfg.GetApplicationData().Journal.RetentionDays)

	rec, _ = f.do(t, http.MethodPost, "/api/config/app_data/nope", `{}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogEntries(t *testing.T) {
	f := newFixture(t)
	logDir := f.cfg.GetApplicationData().Logging.Directory
	require.NoError(t, os.MkdirAll(logDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(logDir, "zily_2024-01-01.log"),
		[]byte(`{"level":"info","time":"t1","message":"old"}`+"\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(logDir, "zily_2024-01-02.log"),
		[]byte(`{"level":"info","time":"t2","message":"first","session":"x"}`+"\nnot json\n"), 0644))

	rec, body := f.do(t, http.MethodGet, "/api/logs?count=10", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := body["entries"].([]interface{})
	require.Len(t, entries, 2)
	first := entries[0].(map[string]interface{})
	assert.Equal(t, "first", first["message"])
	assert.Equal(t, "x", first["fields"].(map[string]interface{})["session"])
	assert.Equal(t, "not json", entries[1].(map[string]interface{})["message"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadGateway, statusFor(&protocol.RemoteError{Message: "boom"}))
	assert.Equal(t, http.StatusConflict, statusFor(session.ErrRequestPending))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, statusFor(&protocol.ProtocolError{Flag: 250, Reason: "x"}))
}

func TestRateLimiter(t *testing.T) {
	f := newFixture(t)
	appData := f.cfg.GetApplicationData()
	appData.Security.RateLimitRPS = 1
	f.cfg.SetApplicationData(appData)
	f.handler = NewServer(f.cfg, f.bus, f.registry, f.journal).Handler()

	codes := map[int]int{}
	for i := 0; i < 5; i++ {
		rec, _ := f.do(t, http.MethodGet, "/api/public/ping", "", false)
		codes[rec.Code]++
	}
	assert.Equal(t, 2, codes[http.StatusOK])
	assert.Equal(t, 3, codes[http.StatusTooManyRequests])
}

func TestRateLimiterRefillAndSweep(t *testing.T) {
	rl := NewRateLimiter(2)
	now := time.Unix(1000, 0)

	for i := 0; i < 4; i++ {
		ok, _ := rl.allow("10.0.0.1", now)
		require.True(t, ok)
	}
	ok, wait := rl.allow("10.0.0.1", now)
	assert.False(t, ok)
	assert.Equal(t, 500*time.Millisecond, wait)

	ok, _ = rl.allow("10.0.0.2", now)
	assert.True(t, ok, "buckets are per client")

	ok, _ = rl.allow("10.0.0.1", now.Add(time.Second))
	assert.True(t, ok)

	rl.allow("10.0.0.3", now.Add(bucketTTL+2*time.Second))
	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Len(t, rl.buckets, 1)
}
