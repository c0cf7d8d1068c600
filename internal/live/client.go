// Package live maintains the WebSocket session with the game backend: it
// reports the player's position, keeps the connection alive and turns
// incoming loot spawns into auto-log targets.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SmitUplenchwar2687/spotwalk/internal/api"
	"github.com/SmitUplenchwar2687/spotwalk/internal/autolog"
	"github.com/SmitUplenchwar2687/spotwalk/internal/clock"
	"github.com/SmitUplenchwar2687/spotwalk/internal/registry"
)

const writeWait = 10 * time.Second

// Config controls the live session.
type Config struct {
	URL                  string        `json:"url"`
	Token                string        `json:"-"`
	PositionInterval     time.Duration `json:"position_interval"`
	EnergySavingInterval time.Duration `json:"energy_saving_interval"`
	EnergySaving         bool          `json:"energy_saving"`
	ReconnectDelay       time.Duration `json:"reconnect_delay"`
	PingInterval         time.Duration `json:"ping_interval"`
}

// DefaultConfig matches the game client's timings.
func DefaultConfig() Config {
	return Config{
		PositionInterval:     3 * time.Second,
		EnergySavingInterval: 10 * time.Second,
		ReconnectDelay:       5 * time.Second,
		PingInterval:         30 * time.Second,
	}
}

// URLFromBase derives the WebSocket endpoint from the REST base URL.
func URLFromBase(base *url.URL) string {
	u := *base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = ""
	return u.String()
}

// Handler observes every incoming frame after built-in handling.
type Handler func(Envelope)

// Option customizes a Client.
type Option func(*Client)

// WithRegistry upserts loot spawns into reg.
func WithRegistry(reg *registry.Registry) Option {
	return func(c *Client) { c.registry = reg }
}

// WithHandler adds a frame observer. Handlers run on the read goroutine.
func WithHandler(h Handler) Option {
	return func(c *Client) { c.handlers = append(c.handlers, h) }
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client is a reconnecting WebSocket client.
type Client struct {
	cfg       Config
	positions autolog.PositionSource
	clock     clock.Clock
	dialer    *websocket.Dialer
	registry  *registry.Registry
	handlers  []Handler
	logger    *slog.Logger

	intervalChanged chan struct{}

	mu             sync.Mutex
	energySaving   bool
	connected      bool
	activeInterval time.Duration
	connects       int
	sent           int
	received       int
}

// New creates a Client. Zero durations in cfg take their defaults.
func New(cfg Config, positions autolog.PositionSource, clk clock.Clock, opts ...Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("live: url is required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("live: parsing url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("live: url %q: scheme must be ws or wss", cfg.URL)
	}

	def := DefaultConfig()
	if cfg.PositionInterval <= 0 {
		cfg.PositionInterval = def.PositionInterval
	}
	if cfg.EnergySavingInterval <= 0 {
		cfg.EnergySavingInterval = def.EnergySavingInterval
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if clk == nil {
		clk = clock.NewRealClock()
	}

	c := &Client{
		cfg:             cfg,
		positions:       positions,
		clock:           clk,
		dialer:          websocket.DefaultDialer,
		energySaving:    cfg.EnergySaving,
		intervalChanged: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// SetEnergySaving switches between the normal and the energy-saving
// position interval. Takes effect immediately on a live session.
func (c *Client) SetEnergySaving(on bool) {
	c.mu.Lock()
	changed := c.energySaving != on
	c.energySaving = on
	c.mu.Unlock()

	if changed {
		select {
		case c.intervalChanged <- struct{}{}:
		default:
		}
	}
}

// PositionInterval returns the position interval for the current mode.
func (c *Client) PositionInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.energySaving {
		return c.cfg.EnergySavingInterval
	}
	return c.cfg.PositionInterval
}

// Stats is a snapshot of the session counters. ActiveInterval is the
// position interval of the open session, zero while disconnected.
type Stats struct {
	Connected      bool          `json:"connected"`
	ActiveInterval time.Duration `json:"active_interval"`
	Connects       int           `json:"connects"`
	Sent           int           `json:"sent"`
	Received       int           `json:"received"`
}

// Stats returns the current counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Connected:      c.connected,
		ActiveInterval: c.activeInterval,
		Connects:       c.connects,
		Sent:           c.sent,
		Received:       c.received,
	}
}

func (c *Client) newPositionTicker() clock.Ticker {
	d := c.PositionInterval()
	t := c.clock.NewTicker(d)
	c.mu.Lock()
	c.activeInterval = d
	c.mu.Unlock()
	return t
}

// Run keeps a session open until ctx is cancelled, reconnecting after
// ReconnectDelay whenever the connection drops. A rejected token stops
// reconnection and is returned.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, api.ErrUnauthorized) {
			return err
		}
		c.logger.Warn("live feed disconnected", "error", err, "retry_in", c.cfg.ReconnectDelay)

		select {
		case <-ctx.Done():
			return nil
		case <-c.clock.After(c.cfg.ReconnectDelay):
		}
	}
}

func (c *Client) dialURL() string {
	u, _ := url.Parse(c.cfg.URL)
	q := u.Query()
	q.Set("token", c.cfg.Token)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) session(ctx context.Context) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.dialURL(), nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("dialing live feed: %w", api.ErrUnauthorized)
		}
		return fmt.Errorf("dialing live feed: %w", err)
	}

	c.mu.Lock()
	c.connected = true
	c.connects++
	c.mu.Unlock()
	c.logger.Info("live feed connected")

	defer func() {
		conn.Close()
		c.mu.Lock()
		c.connected = false
		c.activeInterval = 0
		c.mu.Unlock()
	}()

	readErr := make(chan error, 1)
	go func() { readErr <- c.readLoop(conn) }()

	posTicker := c.newPositionTicker()
	defer func() { posTicker.Stop() }()
	pingTicker := c.clock.NewTicker(c.cfg.PingInterval)
	defer pingTicker.Stop()

	fail := func(err error) error {
		conn.Close()
		<-readErr
		return err
	}

	if err := c.sendPosition(conn); err != nil {
		return fail(err)
	}

	for {
		select {
		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return fail(ctx.Err())

		case err := <-readErr:
			return err

		case <-posTicker.C():
			if err := c.sendPosition(conn); err != nil {
				return fail(err)
			}

		case <-pingTicker.C():
			if err := c.write(conn, Envelope{EventType: EventPing, Data: json.RawMessage(`{}`)}); err != nil {
				return fail(err)
			}

		case <-c.intervalChanged:
			posTicker.Stop()
			posTicker = c.newPositionTicker()
		}
	}
}

func (c *Client) sendPosition(conn *websocket.Conn) error {
	if c.positions == nil {
		return nil
	}
	pos := c.positions.Latest()
	if pos == nil {
		return nil
	}
	env, err := newEnvelope(EventPositionUpdate, PositionReport{
		Latitude:  pos.Latitude,
		Longitude: pos.Longitude,
		Heading:   pos.Heading,
	})
	if err != nil {
		return err
	}
	return c.write(conn, env)
}

func (c *Client) write(conn *websocket.Conn, env Envelope) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("writing %s: %w", env.EventType, err)
	}
	c.mu.Lock()
	c.sent++
	c.mu.Unlock()
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("reading live feed: %w", err)
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Debug("ignoring malformed frame", "error", err)
			continue
		}

		c.mu.Lock()
		c.received++
		c.mu.Unlock()

		c.dispatch(env)
	}
}

func (c *Client) dispatch(env Envelope) {
	switch env.EventType {
	case EventConnected:
		var m Connected
		if err := env.Decode(&m); err == nil {
			c.logger.Debug("live feed greeting", "user", m.Username, "message", m.Message)
		}

	case EventLootSpawn:
		var spawn LootSpawn
		if err := env.Decode(&spawn); err != nil {
			c.logger.Warn("decoding loot spawn", "error", err)
			break
		}
		if c.registry != nil {
			c.registry.Upsert(spawn.Entry())
		}
		c.logger.Info("loot spawned", "spot", spawn.SpotID, "xp", spawn.XP)

	case EventPositionUpdate:
		var m PlayerPosition
		if err := env.Decode(&m); err == nil {
			c.logger.Debug("player moved", "user", m.Username, "lat", m.Latitude, "lng", m.Longitude)
		}

	case EventLogEvent:
		var m LogEvent
		if err := env.Decode(&m); err == nil {
			c.logger.Debug("spot logged", "user", m.Username, "spot", m.SpotName, "auto", m.IsAuto, "xp", m.XPGained)
		}

	case EventClaimUpdate:
		var m ClaimUpdate
		if err := env.Decode(&m); err == nil {
			c.logger.Debug("claim updated", "spot", m.SpotID, "user", m.Username, "dominance", m.Dominance)
		}

	case EventError:
		var m ErrorMessage
		if err := env.Decode(&m); err == nil {
			c.logger.Warn("live feed error", "message", m.Message)
		}
	}

	for _, h := range c.handlers {
		h(env)
	}
}
