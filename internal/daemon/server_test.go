package daemon

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"chainwatch/internal/app"
	"chainwatch/internal/config"
	"chainwatch/internal/paths"
	"chainwatch/internal/registry"
	"chainwatch/internal/scheduler"
	"chainwatch/internal/slogutil"
	"chainwatch/internal/sweep"
)

type staticFetcher map[string][]string

func (f staticFetcher) Mentions(_ context.Context, username string) ([]string, error) {
	return f[username], nil
}

// newTestDaemon wires a daemon on a temp data dir without starting it.
func newTestDaemon(t *testing.T, mutate func(*config.Config)) *Daemon {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Anchor = "1"
	if mutate != nil {
		mutate(cfg)
	}

	a, err := app.Open(cfg, paths.Layout{Root: t.TempDir()}, app.Options{
		Logger:  slogutil.NewDiscardLogger(),
		Fetcher: staticFetcher{"bob": {"alice"}, "carol": {"bob"}},
	})
	if err != nil {
		t.Fatalf("app.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	_, err = a.Engine.ImportSeed(context.Background(), &registry.Seed{Participants: []registry.Participant{
		{ID: "1", Username: "alice"},
		{ID: "2", Username: "bob"},
		{ID: "3", Username: "carol"},
	}})
	if err != nil {
		t.Fatal(err)
	}

	d, err := New(a)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(d.cancel)
	return d
}

func serve(d *Daemon, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set(AuthHeader, AuthScheme+token)
	}
	rec := httptest.NewRecorder()
	d.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNew_RegistersSchedules(t *testing.T) {
	d := newTestDaemon(t, nil)

	var kinds []scheduler.TaskType
	for _, s := range d.scheduler.List() {
		kinds = append(kinds, s.TaskType)
	}
	// No webhooks are configured, so delivery retries are not scheduled.
	if len(kinds) != 2 || kinds[0] != scheduler.TaskTypeSweep || kinds[1] != scheduler.TaskTypeBackup {
		t.Errorf("schedules = %v, want [sweep backup]", kinds)
	}
}

func TestHandleHealth(t *testing.T) {
	d := newTestDaemon(t, nil)

	rec := serve(d, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "healthy" || resp.Checks["database"] != "ok" {
		t.Errorf("unexpected health response %+v", resp)
	}
}

func TestSweepThenChain(t *testing.T) {
	d := newTestDaemon(t, nil)

	rec := serve(d, http.MethodPost, "/api/v1/sweep", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /sweep status = %d: %s", rec.Code, rec.Body.String())
	}
	var report sweep.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
	if report.Scanned != 3 {
		t.Errorf("Scanned = %d, want 3", report.Scanned)
	}

	rec = serve(d, http.MethodGet, "/api/v1/chain", "")
	var view sweep.View
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatal(err)
	}
	if len(view.Best) != 3 || !view.BestValid {
		t.Errorf("view = %+v, want a valid chain of 3", view)
	}

	rec = serve(d, http.MethodGet, "/api/v1/chain/text", "")
	if got := rec.Body.String(); got != "Chain length: 3\n\n@carol → @bob → @alice\n" {
		t.Errorf("chain text = %q", got)
	}

	st := d.State()
	if st.LastSweep == nil || st.LastSweep.Length != 3 {
		t.Errorf("State().LastSweep = %+v", st.LastSweep)
	}

	rec = serve(d, http.MethodGet, "/api/v1/sweeps?limit=5", "")
	if !strings.Contains(rec.Body.String(), report.ID) {
		t.Errorf("sweep history missing %s: %s", report.ID, rec.Body.String())
	}
}

func TestHandleDiagnostics(t *testing.T) {
	d := newTestDaemon(t, nil)

	rec := serve(d, http.MethodGet, "/api/v1/diagnostics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp DiagnosticsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	// Nothing has been scanned yet: the chain is just the anchor.
	if resp.Notices == nil || len(resp.Notices) != 0 {
		t.Errorf("notices = %+v, want empty list", resp.Notices)
	}
}

func TestHandleParticipant(t *testing.T) {
	d := newTestDaemon(t, nil)

	rec := serve(d, http.MethodGet, "/api/v1/participants/@bob", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"id":"2"`) {
		t.Errorf("lookup bob: %d %s", rec.Code, rec.Body.String())
	}

	rec = serve(d, http.MethodGet, "/api/v1/participants/nobody", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Code != "PARTICIPANT_NOT_FOUND" {
		t.Errorf("error = %+v", resp.Error)
	}

	rec = serve(d, http.MethodGet, "/api/v1/participants", "")
	if !strings.Contains(rec.Body.String(), "carol") {
		t.Errorf("participants list missing carol: %s", rec.Body.String())
	}
}

func TestAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	d := newTestDaemon(t, func(c *config.Config) {
		c.Daemon.Auth.Enabled = true
		c.Daemon.Auth.TokenHash = string(hash)
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic s3cret", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "Bearer s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
			if tt.header != "" {
				req.Header.Set(AuthHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			d.Handler().ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	// Health and metrics stay open.
	if rec := serve(d, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("/health status = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	d := newTestDaemon(t, nil)
	serve(d, http.MethodPost, "/api/v1/sweep", "")
	serve(d, http.MethodGet, "/api/v1/chain", "")

	rec := serve(d, http.MethodGet, "/metrics", "")
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"chainwatch_chain_length 3",
		`chainwatch_sweeps_total{result="ok"} 1`,
		`route="/api/v1/chain"`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestStartStop(t *testing.T) {
	d := newTestDaemon(t, nil)
	// Listen on an ephemeral port instead of the configured one.
	d.addr = "127.0.0.1:0"

	if err := d.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	running, pid, err := IsRunning(d.app.Layout)
	if err != nil || !running || pid != os.Getpid() {
		t.Errorf("IsRunning() = %v, %d, %v", running, pid, err)
	}

	resp, err := http.Get("http://" + d.Address() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	if err := d.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if running, _, _ := IsRunning(d.app.Layout); running {
		t.Error("PID file should be released")
	}
}

func TestClient_Status(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	d := newTestDaemon(t, func(c *config.Config) {
		c.Daemon.Auth.Enabled = true
		c.Daemon.Auth.TokenHash = string(hash)
	})
	srv := httptest.NewServer(d.Handler())
	defer srv.Close()
	addr := strings.TrimPrefix(srv.URL, "http://")

	st, err := NewClient(addr, "s3cret").Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.PID != os.Getpid() || len(st.Schedules) != 2 {
		t.Errorf("Status() = %+v", st)
	}

	_, err = NewClient(addr, "wrong").Status(context.Background())
	if err == nil || !strings.Contains(err.Error(), "UNAUTHORIZED") {
		t.Errorf("expected UNAUTHORIZED error, got %v", err)
	}
}
