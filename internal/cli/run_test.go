package cli

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/spotwalk/internal/autolog"
	"github.com/SmitUplenchwar2687/spotwalk/internal/clock"
	"github.com/SmitUplenchwar2687/spotwalk/internal/config"
	"github.com/SmitUplenchwar2687/spotwalk/internal/recorder"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeBackend serves one spot at (48.0, 11.0) and accepts every log.
type fakeBackend struct {
	logs atomic.Int32
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/spots/nearby":
		w.Write([]byte(`[{"id": 7, "name": "Fountain", "latitude": 48.0, "longitude": 11.0, "is_permanent": true, "is_loot": false, "created_at": "2024-01-01T00:00:00"}]`))
	case r.Method == http.MethodPost && r.URL.Path == "/api/logs/":
		n := b.logs.Add(1)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"id": n, "user_id": 42, "spot_id": 7, "distance": 1.5, "is_auto": true,
			"xp_gained": 10, "claim_points": 5, "timestamp": "2024-01-01T12:00:00",
		})
	case r.Method == http.MethodGet && r.URL.Path == "/api/logs/me":
		w.Write([]byte(`[]`))
	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"not found"}`))
	}
}

func testSessionConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.API.BaseURL = baseURL
	cfg.API.Token = testToken(t, "42", time.Now().Add(time.Hour))
	cfg.AutoLog.TickInterval = 10 * time.Millisecond
	cfg.Registry.CheckInterval = 10 * time.Millisecond
	cfg.Live.Enabled = false
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Record.File = filepath.Join(t.TempDir(), "events.json")
	return cfg
}

func TestSession_LogsSpotAtStartPosition(t *testing.T) {
	backend := &fakeBackend{}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	cfg := testSessionConfig(t, srv.URL)
	in := sessionInputs{start: &autolog.Position{Latitude: 48.0, Longitude: 11.0}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := newSession(ctx, cfg, in, clock.NewRealClock(), quiet)
	if err != nil {
		t.Fatalf("newSession() error = %v", err)
	}
	if s.server == nil || s.feed != nil {
		t.Fatalf("server = %v, feed = %v; want server only", s.server, s.feed)
	}

	go func() {
		for ctx.Err() == nil && s.recorder.Len() == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		cancel()
	}()

	if err := s.run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	events, err := recorder.LoadJSON(mustOpen(t, cfg.Record.File))
	if err != nil {
		t.Fatalf("loading exported events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("exported %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Type != autolog.EventLogSucceeded || ev.TargetID != "7" || ev.Reward == nil || ev.Reward.XPGained != 10 {
		t.Errorf("event = %+v", ev)
	}
	if got := backend.logs.Load(); got != 1 {
		t.Errorf("backend received %d logs, want 1 within the suppression window", got)
	}
	if st := s.ctrl.Stats(); st.Running || st.Successes != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestSession_StateKeyUsesTokenSubject(t *testing.T) {
	srv := httptest.NewServer(&fakeBackend{})
	defer srv.Close()

	cfg := testSessionConfig(t, srv.URL)
	cfg.Server.Enabled = false
	cfg.Record.File = ""

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := newSession(ctx, cfg, sessionInputs{start: &autolog.Position{Latitude: 48.0, Longitude: 11.0}}, clock.NewRealClock(), quiet)
	if err != nil {
		t.Fatalf("newSession() error = %v", err)
	}
	store := s.store

	go func() {
		for ctx.Err() == nil && s.recorder.Len() == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		cancel()
	}()
	if err := s.run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	data, err := store.Get(context.Background(), autolog.DefaultStateKey+":42")
	if err != nil || data == nil {
		t.Errorf("state under %q = %s, %v; want a saved snapshot", autolog.DefaultStateKey+":42", data, err)
	}
}

func TestNewSession_BadMailConfig(t *testing.T) {
	cfg := testSessionConfig(t, "http://localhost:8000")
	cfg.Notify.Enabled = true

	if _, err := newSession(context.Background(), cfg, sessionInputs{}, clock.NewRealClock(), quiet); err == nil {
		t.Error("expected error for notifications without mail settings")
	}
}

func TestRunCmd_RequiresToken(t *testing.T) {
	t.Setenv(config.TokenEnv, "")
	if _, err := execute(t, "run", "--no-live", "--no-server"); err == nil {
		t.Error("expected error without a token")
	}
}

func TestRunOptions_Apply(t *testing.T) {
	opts := &runOptions{}
	cmd := &cobra.Command{Use: "run"}
	cmd.Flags().StringVar(&opts.token, "token", "", "")
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "", "")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "")
	cmd.Flags().StringVar(&opts.record, "record", "", "")
	cmd.Flags().BoolVar(&opts.noServer, "no-server", false, "")
	cmd.Flags().BoolVar(&opts.noLive, "no-live", false, "")
	cmd.Flags().BoolVar(&opts.energySaving, "energy-saving", false, "")
	opts.autolog.addFlags(cmd)
	opts.storage.addFlags(cmd)
	if err := cmd.ParseFlags([]string{"--token", "tok", "--no-live", "--energy-saving", "--tick", "2s"}); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	if err := opts.apply(cmd, &cfg); err != nil {
		t.Fatalf("apply() error = %v", err)
	}
	if cfg.API.Token != "tok" || cfg.Live.Enabled || !cfg.Live.EnergySaving || cfg.AutoLog.TickInterval != 2*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
	if !cfg.Server.Enabled {
		t.Error("server should stay enabled without --no-server")
	}

	cfg = config.Default()
	cfg.API.BaseURL = "ftp://nope"
	if err := opts.apply(cmd, &cfg); err == nil {
		t.Error("expected validation error for a bad base url")
	}
}
