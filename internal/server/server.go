package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/SmitUplenchwar2687/spotwalk/internal/autolog"
	"github.com/SmitUplenchwar2687/spotwalk/internal/clock"
	"github.com/SmitUplenchwar2687/spotwalk/internal/live"
	"github.com/SmitUplenchwar2687/spotwalk/internal/registry"
	"github.com/SmitUplenchwar2687/spotwalk/internal/spatial"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
)

// ControllerStatus reports auto-log counters.
type ControllerStatus interface {
	Stats() autolog.Stats
}

// FeedStatus reports live feed counters.
type FeedStatus interface {
	Stats() live.Stats
}

// TargetLister lists the known spots.
type TargetLister interface {
	Entries() []registry.Entry
}

// EventLog returns the most recent auto-log events.
type EventLog interface {
	Recent(n int) []autolog.Event
}

// PositionUpdater accepts position reports.
type PositionUpdater interface {
	Update(autolog.Position)
}

// EnergySaver switches the live feed's position interval.
type EnergySaver interface {
	SetEnergySaving(on bool)
	PositionInterval() time.Duration
}

// Sources are the components the status server reports on. Nil fields are
// left out of responses.
type Sources struct {
	Controller ControllerStatus
	Feed       FeedStatus
	Targets    TargetLister
	Events     EventLog
	Positions  autolog.PositionSource
	Updater    PositionUpdater
	Energy     EnergySaver
	Radius     float64 // trigger radius for TargetView.InRange
}

// Status is the body of GET /api/status.
type Status struct {
	Time       time.Time         `json:"time"`
	Controller *autolog.Stats    `json:"controller,omitempty"`
	Feed       *live.Stats       `json:"feed,omitempty"`
	Position   *autolog.Position `json:"position,omitempty"`
	Targets    int               `json:"targets"`
	Viewers    int               `json:"viewers"`
}

// TargetView is a spot as seen from the current position. Distance and
// bearing are omitted while the position is unknown.
type TargetView struct {
	registry.Entry
	DistanceM  *float64 `json:"distance_m,omitempty"`
	BearingDeg *float64 `json:"bearing_deg,omitempty"`
	InRange    bool     `json:"in_range"`
}

// Server is the local status server for a running auto-log session.
type Server struct {
	httpServer *http.Server
	src        Sources
	clock      clock.Clock
	hub        *Hub
	logger     *slog.Logger
	mux        *http.ServeMux
}

// Option customizes a Server.
type Option func(*Server)

// WithHub makes the server serve an existing hub on /ws, so events can be
// broadcast to it before the server is built.
func WithHub(h *Hub) Option {
	return func(s *Server) { s.hub = h }
}

// New creates a status server. A nil logger means slog.Default.
func New(addr string, src Sources, clk clock.Clock, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		src:    src,
		clock:  clk,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hub == nil {
		s.hub = NewHub(logger)
	}
	s.routes()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           LoggingMiddleware(s.mux, logger, clk),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Hub returns the WebSocket hub. It is an autolog.Sink.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the server's routes wrapped in middleware.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/targets", s.handleTargets)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/position", s.handlePosition)
	s.mux.HandleFunc("/api/energy-saving", s.handleEnergySaving)
	s.mux.HandleFunc("/ws", s.hub.HandleWebSocket)
	s.mux.HandleFunc("/dashboard/", s.handleDashboard)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "spotwalk",
		"status":  "running",
		"time":    s.clock.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	st := Status{Time: s.clock.Now(), Viewers: s.hub.ClientCount()}
	if s.src.Controller != nil {
		cs := s.src.Controller.Stats()
		st.Controller = &cs
	}
	if s.src.Feed != nil {
		fs := s.src.Feed.Stats()
		st.Feed = &fs
	}
	if s.src.Positions != nil {
		st.Position = s.src.Positions.Latest()
	}
	if s.src.Targets != nil {
		st.Targets = len(s.src.Targets.Entries())
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleTargets(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	views := []TargetView{}
	if s.src.Targets == nil {
		writeJSON(w, http.StatusOK, views)
		return
	}
	var pos *autolog.Position
	if s.src.Positions != nil {
		pos = s.src.Positions.Latest()
	}
	for _, e := range s.src.Targets.Entries() {
		v := TargetView{Entry: e}
		if pos != nil {
			d := spatial.HaversineDistance(pos.Latitude, pos.Longitude, e.Target.Latitude, e.Target.Longitude)
			b := spatial.Bearing(pos.Latitude, pos.Longitude, e.Target.Latitude, e.Target.Longitude)
			v.DistanceM, v.BearingDeg = &d, &b
			v.InRange = s.src.Radius > 0 &&
				spatial.Within(pos.Latitude, pos.Longitude, e.Target.Latitude, e.Target.Longitude, s.src.Radius)
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

// handleEvents serves the most recent events.
// Query: ?limit=N (default 50, max 1000)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxEventLimit)
	}
	events := []autolog.Event{}
	if s.src.Events != nil {
		events = append(events, s.src.Events.Recent(limit)...)
	}
	writeJSON(w, http.StatusOK, events)
}

// handlePosition accepts a position report from a phone or browser.
// Body: {"latitude": .., "longitude": .., "heading": .., "accuracy": ..}
func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if s.src.Updater == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "position updates are not enabled"})
		return
	}

	var body struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		Heading   *float64 `json:"heading"`
		Accuracy  float64  `json:"accuracy"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if body.Latitude == nil || body.Longitude == nil ||
		*body.Latitude < -90 || *body.Latitude > 90 ||
		*body.Longitude < -180 || *body.Longitude > 180 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "latitude and longitude are required and must be in range"})
		return
	}

	s.src.Updater.Update(autolog.Position{
		Latitude:   *body.Latitude,
		Longitude:  *body.Longitude,
		Heading:    body.Heading,
		Accuracy:   body.Accuracy,
		ObservedAt: s.clock.Now(),
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleEnergySaving reports or switches the live feed's energy-saving mode.
// Body for POST: {"enabled": true}
func (s *Server) handleEnergySaving(w http.ResponseWriter, r *http.Request) {
	if s.src.Energy == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "live feed is not enabled"})
		return
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead:
	case http.MethodPost:
		var body struct {
			Enabled *bool `json:"enabled"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&body); err != nil || body.Enabled == nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be {\"enabled\": true|false}"})
			return
		}
		s.src.Energy.SetEnergySaving(*body.Enabled)
		s.logger.Info("energy saving switched", "enabled", *body.Enabled)
	default:
		w.Header().Set("Allow", "GET, HEAD, POST")
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"position_interval": s.src.Energy.PositionInterval().String(),
	})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(DashboardHTML))
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", "GET, HEAD")
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	return false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// Start begins listening. It blocks until the server is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.StartOnListener(ln)
}

// StartOnListener begins serving on the provided listener.
func (s *Server) StartOnListener(ln net.Listener) error {
	s.logger.Info("status server listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown closes viewer connections and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}
