package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/vertextoedge/transferd/internal/adapter/filesystem"
	"github.com/vertextoedge/transferd/internal/domain"
	"github.com/vertextoedge/transferd/internal/service/manager"
	"github.com/vertextoedge/transferd/internal/service/observer"
)

// mockDownloads implements Downloads for testing
type mockDownloads struct {
	mu       sync.Mutex
	views    map[string]*manager.View
	calls    []string
	opErr    error
	restarts []bool
	events   chan manager.Event
}

func newMockDownloads() *mockDownloads {
	return &mockDownloads{
		views:  make(map[string]*manager.View),
		events: make(chan manager.Event, 8),
	}
}

func (m *mockDownloads) put(id string, status domain.Status) *manager.View {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := &manager.View{ID: id, Snapshot: observer.Snapshot{URL: "http://example.com/" + id, Status: status}}
	m.views[id] = v
	return v
}

func (m *mockDownloads) record(call string) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
}

func (m *mockDownloads) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockDownloads) Add(url, dest, id string) (*manager.View, error) {
	m.record("add")
	if !strings.HasPrefix(url, "http") {
		return nil, fmt.Errorf("%w: bad url", domain.ErrInvalidInput)
	}
	if filepath.IsAbs(dest) || strings.HasPrefix(filepath.Clean(dest), "..") {
		return nil, fmt.Errorf("%w: destination outside the download directory", domain.ErrInvalidInput)
	}
	if id == "" {
		id = "generated"
	}
	return m.put(id, domain.StatusQueued), nil
}

func (m *mockDownloads) op(name, id string) error {
	m.record(name + ":" + id)
	if m.opErr != nil {
		return m.opErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.views[id]; !ok {
		return domain.ErrNotFound
	}
	return nil
}

func (m *mockDownloads) StartDownload(id string) error { return m.op("start", id) }
func (m *mockDownloads) Pause(id string) error         { return m.op("pause", id) }
func (m *mockDownloads) Resume(id string) error        { return m.op("resume", id) }
func (m *mockDownloads) Cancel(id string) error        { return m.op("cancel", id) }

func (m *mockDownloads) Remove(id string, purge bool) error {
	return m.op(fmt.Sprintf("remove(%v)", purge), id)
}

func (m *mockDownloads) Get(id string) (*manager.View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.views[id]
	if !ok {
		return nil, fmt.Errorf("%w: download %s", domain.ErrNotFound, id)
	}
	return v, nil
}

func (m *mockDownloads) List() []manager.View {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]manager.View, 0, len(m.views))
	for _, v := range m.views {
		out = append(out, *v)
	}
	return out
}

func (m *mockDownloads) ResolveRestart(id string, approve bool) error {
	m.mu.Lock()
	m.restarts = append(m.restarts, approve)
	m.mu.Unlock()
	return m.op("restart", id)
}

func (m *mockDownloads) Subscribe() (<-chan manager.Event, func()) {
	return m.events, func() {}
}

// mockStore implements port.Store for health checks
type mockStore struct {
	pingErr error
}

func (s *mockStore) Ping() error  { return s.pingErr }
func (s *mockStore) Close() error { return nil }
func (s *mockStore) CreateDownload(d *domain.Download) error {
	return nil
}
func (s *mockStore) GetDownload(id string) (*domain.Download, error)      { return nil, nil }
func (s *mockStore) ListDownloads() ([]*domain.Download, error)           { return nil, nil }
func (s *mockStore) SaveDownload(d *domain.Download) error                { return nil }
func (s *mockStore) DeleteDownload(id string) error                       { return nil }
func (s *mockStore) MarkActiveInterrupted() (int, error)                  { return 0, nil }
func (s *mockStore) CleanupFinished(olderThan time.Duration) (int, error) { return 0, nil }
func (s *mockStore) GetStats() (*domain.DownloadStats, error)             { return nil, nil }

type mockDisk struct{}

func (mockDisk) GetDiskUsage() (*filesystem.DiskUsage, error) {
	return &filesystem.DiskUsage{Total: 1000, Used: 400, Free: 600, UsedPct: 40}, nil
}

func newTestServer(t *testing.T, cfg *Config, deps Deps) *Server {
	t.Helper()
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.NewRegistry()
	}
	s := New(cfg, deps, zap.NewNop())
	t.Cleanup(s.Close)
	return s
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	tests := []struct {
		name       string
		store      *mockStore
		wantStatus int
	}{
		{"healthy", &mockStore{}, http.StatusOK},
		{"database down", &mockStore{pingErr: errors.New("closed")}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil, Deps{Downloads: newMockDownloads(), Store: tt.store})
			rec := do(t, s, http.MethodGet, "/health", "")
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestServer_AddStartsByDefault(t *testing.T) {
	downloads := newMockDownloads()
	s := newTestServer(t, nil, Deps{Downloads: downloads})

	rec := do(t, s, http.MethodPost, "/api/downloads", `{"url":"http://example.com/a.bin","id":"a"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var v manager.View
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	if v.ID != "a" {
		t.Errorf("id = %q, want a", v.ID)
	}

	rec = do(t, s, http.MethodPost, "/api/downloads", `{"url":"http://example.com/b.bin","id":"b","start":false}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}

	calls := downloads.Calls()
	want := []string{"add", "start:a", "add"}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestServer_AddErrors(t *testing.T) {
	s := newTestServer(t, nil, Deps{Downloads: newMockDownloads()})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{`, http.StatusBadRequest},
		{"invalid url", `{"url":"ftp://x"}`, http.StatusBadRequest},
		{"dest escapes root", `{"url":"http://example.com/a.bin","dest":"../../escape.bin"}`, http.StatusBadRequest},
		{"absolute dest", `{"url":"http://example.com/a.bin","dest":"/etc/passwd"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/downloads", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
	if n := len(s.deps.Downloads.List()); n != 0 {
		t.Errorf("rejected requests created %d downloads", n)
	}
}

func TestServer_Actions(t *testing.T) {
	downloads := newMockDownloads()
	downloads.put("x", domain.StatusDownloading)
	s := newTestServer(t, nil, Deps{Downloads: downloads})

	tests := []struct {
		method string
		path   string
		body   string
		opErr  error
		want   int
	}{
		{http.MethodGet, "/api/downloads", "", nil, http.StatusOK},
		{http.MethodGet, "/api/downloads/x", "", nil, http.StatusOK},
		{http.MethodGet, "/api/downloads/missing", "", nil, http.StatusNotFound},
		{http.MethodPost, "/api/downloads/x/pause", "", nil, http.StatusOK},
		{http.MethodPost, "/api/downloads/x/resume", "", nil, http.StatusOK},
		{http.MethodPost, "/api/downloads/x/cancel", "", nil, http.StatusOK},
		{http.MethodPost, "/api/downloads/x/start", "", domain.ErrAlreadyActive, http.StatusConflict},
		{http.MethodPost, "/api/downloads/x/pause", "", domain.ErrNotActive, http.StatusConflict},
		{http.MethodPost, "/api/downloads/x/cancel", "", errors.New("disk on fire"), http.StatusInternalServerError},
		{http.MethodPost, "/api/downloads/missing/start", "", nil, http.StatusNotFound},
		{http.MethodPost, "/api/downloads/x/restart", `{"approve":true}`, nil, http.StatusOK},
		{http.MethodPost, "/api/downloads/x/restart", `{}`, nil, http.StatusBadRequest},
		{http.MethodPost, "/api/downloads/x/restart", `{"approve":false}`, domain.ErrNoPendingRestart, http.StatusConflict},
		{http.MethodDelete, "/api/downloads/x?purge=maybe", "", nil, http.StatusBadRequest},
		{http.MethodDelete, "/api/downloads/x?purge=true", "", nil, http.StatusNoContent},
		{http.MethodPut, "/api/downloads/x", "", nil, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			downloads.mu.Lock()
			downloads.opErr = tt.opErr
			downloads.mu.Unlock()

			rec := do(t, s, tt.method, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
		})
	}

	calls := downloads.Calls()
	if !contains(calls, "remove(true):x") {
		t.Errorf("purge flag not passed, calls = %v", calls)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestServer_Stats(t *testing.T) {
	downloads := newMockDownloads()
	downloads.put("a", domain.StatusCompleted).DownloadedBytes = 2048
	downloads.put("b", domain.StatusFailed)
	s := newTestServer(t, nil, Deps{Downloads: downloads, Disk: mockDisk{}})

	rec := do(t, s, http.MethodGet, "/api/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var stats map[string]any
	json.NewDecoder(rec.Body).Decode(&stats)
	if stats["total"] != float64(2) {
		t.Errorf("total = %v, want 2", stats["total"])
	}
	if stats["disk_free_bytes"] != float64(600) {
		t.Errorf("disk_free_bytes = %v, want 600", stats["disk_free_bytes"])
	}
}

func TestServer_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "poster.png")
	payload := bytes.Repeat([]byte("z"), 1000)
	os.WriteFile(path, payload, 0644)

	downloads := newMockDownloads()
	done := downloads.put("done", domain.StatusCompleted)
	done.ActiveFilePath = path
	downloads.put("running", domain.StatusDownloading)
	s := newTestServer(t, nil, Deps{Downloads: downloads})

	rec := do(t, s, http.MethodGet, "/api/downloads/done/file", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), payload) {
		t.Error("body mismatch")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/downloads/done/file", nil)
	req.Header.Set("Range", "bytes=10-19")
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	if rr.Code != http.StatusPartialContent || rr.Body.Len() != 10 {
		t.Errorf("range request = %d with %d bytes", rr.Code, rr.Body.Len())
	}

	if rec := do(t, s, http.MethodGet, "/api/downloads/running/file", ""); rec.Code != http.StatusConflict {
		t.Errorf("incomplete download status = %d, want 409", rec.Code)
	}
}

func TestServer_BasicAuth(t *testing.T) {
	s := newTestServer(t, &Config{Username: "admin", Password: "secret"}, Deps{Downloads: newMockDownloads()})

	if rec := do(t, s, http.MethodGet, "/api/downloads", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no credentials status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/downloads", nil)
	req.SetBasicAuth("admin", "wrong")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/downloads", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid credentials status = %d, want 200", rec.Code)
	}

	// Health stays open for probes
	if rec := do(t, s, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}
}

func TestServer_RateLimit(t *testing.T) {
	s := newTestServer(t, &Config{RateLimitRPS: 0.001, RateLimitBurst: 2}, Deps{Downloads: newMockDownloads()})

	for i := 0; i < 2; i++ {
		if rec := do(t, s, http.MethodGet, "/api/downloads", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}
	rec := do(t, s, http.MethodGet, "/api/downloads", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
	if rec := do(t, s, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health should bypass the limiter, got %d", rec.Code)
	}
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "transferd_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	s := newTestServer(t, nil, Deps{Downloads: newMockDownloads(), Gatherer: reg})
	rec := do(t, s, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "transferd_test_total 1") {
		t.Errorf("metrics status = %d body = %s", rec.Code, rec.Body)
	}
}

func TestNormalizeRoute(t *testing.T) {
	tests := map[string]string{
		"/health":                    "/health",
		"/api/downloads":             "/api/downloads",
		"/api/downloads/abc":         "/api/downloads/:id",
		"/api/downloads/abc/pause":   "/api/downloads/:id/pause",
		"/api/downloads/abc/restart": "/api/downloads/:id/restart",
		"/favicon.ico":               "/other",
	}
	for path, want := range tests {
		if got := normalizeRoute(path); got != want {
			t.Errorf("normalizeRoute(%q) = %q, want %q", path, got, want)
		}
	}
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	resp.Body.Close()
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read ws message: %v", err)
	}
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal ws message: %v (raw: %s)", err, data)
	}
	return msg
}

func TestServer_WebSocket(t *testing.T) {
	downloads := newMockDownloads()
	downloads.put("x", domain.StatusDownloading)
	s := newTestServer(t, &Config{BroadcastInterval: time.Hour}, Deps{Downloads: downloads})

	srv := httptest.NewServer(s)
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()

	if msg := readWS(t, conn); msg.Type != "downloads" {
		t.Fatalf("first message type = %q, want downloads", msg.Type)
	}

	downloads.events <- manager.Event{Type: manager.EventRestartRequired, ID: "x", Reason: "origin ignored range"}

	msg := readWS(t, conn)
	if msg.Type != manager.EventRestartRequired {
		t.Fatalf("message type = %q, want %q", msg.Type, manager.EventRestartRequired)
	}
	data, _ := msg.Data.(map[string]any)
	if data["id"] != "x" || data["reason"] != "origin ignored range" {
		t.Errorf("event data = %v", msg.Data)
	}
}

func TestServer_WebSocketPeriodicSnapshot(t *testing.T) {
	downloads := newMockDownloads()
	downloads.put("x", domain.StatusDownloading)
	s := newTestServer(t, &Config{BroadcastInterval: 20 * time.Millisecond}, Deps{Downloads: downloads})

	srv := httptest.NewServer(s)
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()

	// Greeting plus at least one tick
	for i := 0; i < 2; i++ {
		msg := readWS(t, conn)
		if msg.Type != "downloads" {
			t.Fatalf("message %d type = %q, want downloads", i, msg.Type)
		}
		list, _ := msg.Data.([]any)
		if len(list) != 1 {
			t.Errorf("message %d carries %d downloads, want 1", i, len(list))
		}
	}
}

func TestWSHub_CloseDisconnectsClients(t *testing.T) {
	s := newTestServer(t, &Config{BroadcastInterval: time.Hour}, Deps{Downloads: newMockDownloads()})
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()
	readWS(t, conn)

	s.Close()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected the connection to close after hub shutdown")
	}
}
