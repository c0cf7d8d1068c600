package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/SmitUplenchwar2687/spotwalk/internal/api"
	"github.com/SmitUplenchwar2687/spotwalk/internal/autolog"
	"github.com/SmitUplenchwar2687/spotwalk/internal/clock"
	"github.com/SmitUplenchwar2687/spotwalk/internal/spatial"
)

// SpotLoader lists spots around a point. *api.Client implements it.
type SpotLoader interface {
	NearbySpots(ctx context.Context, lat, lng, radius float64) ([]api.Spot, error)
}

// RefreshConfig controls when nearby spots are reloaded.
type RefreshConfig struct {
	Radius          float64       `json:"nearby_radius"`    // meters queried around the player
	RefreshDistance float64       `json:"refresh_distance"` // reload after moving this far
	RefreshInterval time.Duration `json:"refresh_interval"` // reload at least this often
	CheckInterval   time.Duration `json:"-"`
}

// DefaultRefreshConfig mirrors the radius the game client queries with.
func DefaultRefreshConfig() RefreshConfig {
	return RefreshConfig{
		Radius:          1000,
		RefreshDistance: 250,
		RefreshInterval: 5 * time.Minute,
		CheckInterval:   5 * time.Second,
	}
}

// Refresher reloads the registry from the backend when the player has moved
// far enough from the last load point, or when the last load is too old.
type Refresher struct {
	loader    SpotLoader
	registry  *Registry
	positions autolog.PositionSource
	clock     clock.Clock
	cfg       RefreshConfig
	logger    *slog.Logger

	mu       sync.Mutex
	loaded   bool
	lastLat  float64
	lastLng  float64
	lastLoad time.Time
}

// NewRefresher creates a Refresher. Zero config fields take their defaults.
func NewRefresher(loader SpotLoader, reg *Registry, positions autolog.PositionSource, clk clock.Clock, cfg RefreshConfig, logger *slog.Logger) *Refresher {
	def := DefaultRefreshConfig()
	if cfg.Radius <= 0 {
		cfg.Radius = def.Radius
	}
	if cfg.RefreshDistance <= 0 {
		cfg.RefreshDistance = def.RefreshDistance
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = def.RefreshInterval
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if clk == nil {
		clk = clock.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		loader:    loader,
		registry:  reg,
		positions: positions,
		clock:     clk,
		cfg:       cfg,
		logger:    logger,
	}
}

// Refresh reloads spots if needed and reports whether a load happened.
// Without a position nothing is loaded. Expired loot is dropped either way.
func (r *Refresher) Refresh(ctx context.Context) (bool, error) {
	r.registry.Expire()

	pos := r.positions.Latest()
	if pos == nil {
		return false, nil
	}
	now := r.clock.Now()

	r.mu.Lock()
	due := !r.loaded ||
		now.Sub(r.lastLoad) >= r.cfg.RefreshInterval ||
		spatial.HaversineDistance(r.lastLat, r.lastLng, pos.Latitude, pos.Longitude) >= r.cfg.RefreshDistance
	r.mu.Unlock()
	if !due {
		return false, nil
	}

	spots, err := r.loader.NearbySpots(ctx, pos.Latitude, pos.Longitude, r.cfg.Radius)
	if err != nil {
		return false, err
	}
	r.registry.ReplaceSpots(spots)

	r.mu.Lock()
	r.loaded = true
	r.lastLat, r.lastLng = pos.Latitude, pos.Longitude
	r.lastLoad = now
	r.mu.Unlock()

	r.logger.Debug("nearby spots loaded", "count", len(spots), "lat", pos.Latitude, "lng", pos.Longitude)
	return true, nil
}

// Run calls Refresh every CheckInterval until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.cfg.CheckInterval)
	defer ticker.Stop()

	r.refreshLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			r.refreshLogged(ctx)
		}
	}
}

func (r *Refresher) refreshLogged(ctx context.Context) {
	if _, err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
		r.logger.Warn("refreshing nearby spots", "error", err)
	}
}
