package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/spotwalk/internal/api"
	"github.com/SmitUplenchwar2687/spotwalk/internal/autolog"
	"github.com/SmitUplenchwar2687/spotwalk/internal/clock"
	"github.com/SmitUplenchwar2687/spotwalk/internal/config"
	"github.com/SmitUplenchwar2687/spotwalk/internal/live"
	"github.com/SmitUplenchwar2687/spotwalk/internal/notifier"
	"github.com/SmitUplenchwar2687/spotwalk/internal/position"
	"github.com/SmitUplenchwar2687/spotwalk/internal/recorder"
	"github.com/SmitUplenchwar2687/spotwalk/internal/registry"
	"github.com/SmitUplenchwar2687/spotwalk/internal/server"
	"github.com/SmitUplenchwar2687/spotwalk/internal/storage"
)

const (
	shutdownTimeout = 5 * time.Second
	startupLogLimit = 100
)

type runOptions struct {
	token        string
	baseURL      string
	track        string
	speed        float64
	at           string
	addr         string
	record       string
	noServer     bool
	noLive       bool
	energySaving bool
	autolog      autologOptions
	storage      storageOptions
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Log nearby spots automatically",
		Long: `Runs an auto-log session against the backend.

Positions come from a recorded track (--track), a fixed point (--at),
or POST /api/position on the local status server. Every tick the
controller logs spots within the trigger radius, backs off when the
server rate limits, and never logs a spot twice within the
suppression window. Stop with Ctrl+C.`,
		Example: `  spotwalk run --token $JWT --at 48.137,11.575
  spotwalk run --config spotwalk.json --track walk.json --speed 10
  spotwalk run --storage redis --redis-host localhost:6379`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load(cmd)
			if err != nil {
				return err
			}
			if err := opts.apply(cmd, &cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			in, err := opts.inputs()
			if err != nil {
				return err
			}
			s, err := newSession(ctx, cfg, in, clock.NewRealClock(), logger)
			if err != nil {
				return err
			}
			return s.run(ctx)
		},
	}

	cmd.Flags().StringVar(&opts.token, "token", "", "API bearer token (default $"+config.TokenEnv+")")
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "", "backend base URL")
	cmd.Flags().StringVar(&opts.track, "track", "", "play positions from a recorded track JSON file")
	cmd.Flags().Float64Var(&opts.speed, "speed", 1, "track playback speed (1=real-time, 10=10x)")
	cmd.Flags().StringVar(&opts.at, "at", "", "start at a fixed position \"lat,lng\"")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "status server address")
	cmd.Flags().StringVar(&opts.record, "record", "", "write auto-log events to this JSON file on exit")
	cmd.Flags().BoolVar(&opts.noServer, "no-server", false, "disable the local status server")
	cmd.Flags().BoolVar(&opts.noLive, "no-live", false, "disable the live WebSocket feed")
	cmd.Flags().BoolVar(&opts.energySaving, "energy-saving", false, "report positions at the energy-saving interval")
	opts.autolog.addFlags(cmd)
	opts.storage.addFlags(cmd)

	return cmd
}

// apply overrides cfg with explicitly set flags and validates the result.
func (o *runOptions) apply(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("token") {
		cfg.API.Token = o.token
	}
	if cmd.Flags().Changed("base-url") {
		cfg.API.BaseURL = o.baseURL
	}
	if cmd.Flags().Changed("addr") {
		cfg.Server.Addr = o.addr
	}
	if cmd.Flags().Changed("record") {
		cfg.Record.File = o.record
	}
	if o.noServer {
		cfg.Server.Enabled = false
	}
	if o.noLive {
		cfg.Live.Enabled = false
	}
	if cmd.Flags().Changed("energy-saving") {
		cfg.Live.EnergySaving = o.energySaving
	}
	o.autolog.apply(cmd, &cfg.AutoLog)
	if err := o.storage.apply(cmd, &cfg.Storage); err != nil {
		return err
	}

	cfg.ResolveToken()
	if cfg.API.Token == "" {
		return fmt.Errorf("no API token: pass --token, set api.token in the config file or $%s", config.TokenEnv)
	}
	return cfg.Validate()
}

func (o *runOptions) inputs() (sessionInputs, error) {
	var in sessionInputs
	if o.track != "" {
		track, err := position.LoadTrackFile(o.track)
		if err != nil {
			return in, err
		}
		in.track = track
		in.speed = o.speed
	}
	if o.at != "" {
		lat, lng, err := parseLatLng(o.at)
		if err != nil {
			return in, err
		}
		in.start = &autolog.Position{Latitude: lat, Longitude: lng}
	}
	return in, nil
}

// parseLatLng parses "lat,lng".
func parseLatLng(s string) (float64, float64, error) {
	latStr, lngStr, ok := strings.Cut(s, ",")
	if !ok {
		return 0, 0, fmt.Errorf("invalid position %q: want \"lat,lng\"", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid latitude in %q: %w", s, err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngStr), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid longitude in %q: %w", s, err)
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return 0, 0, fmt.Errorf("position %q out of range", s)
	}
	return lat, lng, nil
}

// sessionInputs are the position sources for a session.
type sessionInputs struct {
	track position.Track
	speed float64
	start *autolog.Position
}

// session is one wired-up auto-log run.
type session struct {
	cfg    config.Config
	logger *slog.Logger
	clock  clock.Clock
	start  *autolog.Position

	client    *api.Client
	tracker   *position.Tracker
	player    *position.Player
	registry  *registry.Registry
	refresher *registry.Refresher
	recorder  *recorder.Recorder
	server    *server.Server
	notifier  *notifier.Notifier
	store     storage.Storage
	ctrl      *autolog.Controller
	feed      *live.Client
}

func newSession(ctx context.Context, cfg config.Config, in sessionInputs, clk clock.Clock, logger *slog.Logger) (_ *session, err error) {
	s := &session{cfg: cfg, logger: logger, clock: clk, start: in.start}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	s.client, err = api.New(cfg.API.BaseURL, cfg.API.Token,
		api.WithTimeout(cfg.API.Timeout),
		api.WithClock(clk),
		api.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	stateKey := cfg.Storage.StateKey
	if info, terr := api.InspectToken(cfg.API.Token); terr != nil {
		logger.Warn("token is not a readable JWT", "error", terr)
	} else {
		if info.Expired(clk.Now()) {
			logger.Warn("token has expired", "expires_at", info.ExpiresAt)
		}
		if info.Subject != "" {
			stateKey += ":" + info.Subject
		}
	}

	s.tracker = position.NewTracker(clk)
	if len(in.track) > 0 {
		s.player = position.NewPlayer(in.track, s.tracker, clk, in.speed)
	}
	s.registry = registry.New(clk, cfg.Registry.LootTTL)
	s.refresher = registry.NewRefresher(s.client, s.registry, s.tracker, clk, cfg.Registry.RefreshConfig(), logger)
	s.recorder = recorder.New(nil)

	sinks := autolog.MultiSink{s.recorder}
	var hub *server.Hub
	if cfg.Server.Enabled {
		hub = server.NewHub(logger)
		sinks = append(sinks, hub)
	}

	if cfg.Notify.Enabled {
		sender, nerr := notifier.NewMailSender(cfg.Notify.Mail)
		if nerr != nil {
			return nil, nerr
		}
		nopts := []notifier.Option{notifier.WithLogger(logger)}
		if cfg.Notify.Failures {
			nopts = append(nopts, notifier.WithFailures())
		}
		s.notifier = notifier.New(sender, nopts...)
		sinks = append(sinks, s.notifier)
	}

	s.store, err = openStorage(ctx, cfg.Storage, clk)
	if err != nil {
		return nil, fmt.Errorf("opening %s storage: %w", cfg.Storage.Backend, err)
	}

	s.ctrl, err = autolog.New(cfg.AutoLog, s.tracker, s.registry, s.client, clk,
		autolog.WithSink(sinks),
		autolog.WithStateStore(autolog.NewStorageStateStore(s.store, stateKey, cfg.AutoLog)),
		autolog.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	src := server.Sources{
		Controller: s.ctrl,
		Targets:    s.registry,
		Events:     s.recorder,
		Positions:  s.tracker,
		Updater:    s.tracker,
		Radius:     cfg.AutoLog.TriggerRadius,
	}
	if cfg.Live.Enabled {
		lopts := []live.Option{live.WithRegistry(s.registry), live.WithLogger(logger)}
		if hub != nil {
			lopts = append(lopts, live.WithHandler(hub.Forward))
		}
		s.feed, err = live.New(cfg.Live.ClientConfig(live.URLFromBase(s.client.BaseURL()), cfg.API.Token), s.tracker, clk, lopts...)
		if err != nil {
			return nil, err
		}
		src.Feed = s.feed
		src.Energy = s.feed
	}

	if hub != nil {
		s.server = server.New(cfg.Server.Addr, src, clk, logger, server.WithHub(hub))
	}

	return s, nil
}

// run blocks until ctx is cancelled or a component fails, then shuts
// everything down.
func (s *session) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.logHistory(ctx)

	if s.start != nil {
		p := *s.start
		p.ObservedAt = s.clock.Now()
		s.tracker.Update(p)
	}
	s.ctrl.Start(ctx)
	s.logger.Debug("auto-log state storage", "backend", s.cfg.Storage.Backend)

	var wg sync.WaitGroup
	errCh := make(chan error, 4)
	spawn := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	spawn("refresher", func() error {
		s.refresher.Run(ctx)
		return nil
	})
	if s.player != nil {
		spawn("track", func() error {
			err := s.player.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			if err == nil {
				s.logger.Info("track finished")
			}
			return err
		})
	}
	if s.feed != nil {
		spawn("live feed", func() error { return s.feed.Run(ctx) })
	}
	if s.server != nil {
		spawn("status server", func() error {
			if err := s.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutting down")
	case runErr = <-errCh:
		s.logger.Error("stopping after failure", "error", runErr)
	}
	cancel()

	s.ctrl.Stop()
	s.ctrl.Wait()

	var errs []error
	if s.server != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down status server: %w", err))
		}
		done()
	}
	wg.Wait()

	stats := s.ctrl.Stats()
	s.logger.Info("auto-log stopped",
		"ticks", stats.Ticks,
		"successes", stats.Successes,
		"rate_limited", stats.RateLimited,
		"failures", stats.Failures,
	)

	if s.cfg.Record.File != "" {
		if err := s.recorder.ExportFile(s.cfg.Record.File); err != nil {
			errs = append(errs, err)
		} else {
			s.logger.Info("events exported", "file", s.cfg.Record.File, "count", s.recorder.Len())
		}
	}
	s.close()

	return errors.Join(append([]error{runErr}, errs...)...)
}

// logHistory logs a summary of the player's recent logs. Failures are not
// fatal.
func (s *session) logHistory(ctx context.Context) {
	logs, err := s.client.MyLogs(ctx, startupLogLimit)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			s.logger.Error("backend rejected the token", "error", err)
			return
		}
		s.logger.Warn("could not load recent logs", "error", err)
		return
	}
	var auto, xp int
	for _, l := range logs {
		if l.IsAuto {
			auto++
		}
		xp += l.XPGained
	}
	s.logger.Info("recent logs", "count", len(logs), "auto", auto, "xp", xp)
}

// close releases resources. Safe on a partially built session.
func (s *session) close() {
	if s.notifier != nil {
		s.notifier.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("closing storage", "error", err)
		}
	}
}
