package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SmitUplenchwar2687/spotwalk/internal/autolog"
	"github.com/SmitUplenchwar2687/spotwalk/internal/clock"
	"github.com/SmitUplenchwar2687/spotwalk/internal/live"
	"github.com/SmitUplenchwar2687/spotwalk/internal/position"
	"github.com/SmitUplenchwar2687/spotwalk/internal/recorder"
	"github.com/SmitUplenchwar2687/spotwalk/internal/registry"
)

var (
	epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	quiet = slog.New(slog.NewTextHandler(io.Discard, nil))
)

type fakeController struct{ stats autolog.Stats }

func (f fakeController) Stats() autolog.Stats { return f.stats }

type fakeFeed struct{ stats live.Stats }

func (f fakeFeed) Stats() live.Stats { return f.stats }

func startTestServer(t *testing.T, src Sources, clk clock.Clock) (string, *Server) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := New(ln.Addr().String(), src, clk, quiet)
	go srv.StartOnListener(ln)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return "http://" + ln.Addr().String(), srv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out: %s", msg)
}

func TestServer_Root(t *testing.T) {
	baseURL, _ := startTestServer(t, Sources{}, clock.NewVirtualClock(epoch))

	var body map[string]string
	if code := getJSON(t, baseURL+"/", &body); code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}
	if body["service"] != "spotwalk" {
		t.Errorf("service = %q, want %q", body["service"], "spotwalk")
	}
	if body["time"] != "2024-01-01T00:00:00Z" {
		t.Errorf("time = %q, want virtual clock time", body["time"])
	}
}

func TestServer_Health(t *testing.T) {
	baseURL, _ := startTestServer(t, Sources{}, clock.NewVirtualClock(epoch))
	if code := getJSON(t, baseURL+"/health", nil); code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}
}

func TestServer_NotFound(t *testing.T) {
	baseURL, _ := startTestServer(t, Sources{}, clock.NewVirtualClock(epoch))
	resp, err := http.Get(baseURL + "/nonexistent")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestServer_Status(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	tracker := position.NewTracker(vc)
	tracker.Update(autolog.Position{Latitude: 48.1, Longitude: 11.5})
	reg := registry.New(vc, 0)
	reg.Upsert(registry.Entry{Target: autolog.Target{ID: "1", Latitude: 48.1, Longitude: 11.5}})
	reg.Upsert(registry.Entry{Target: autolog.Target{ID: "2", Latitude: 48.2, Longitude: 11.6}})

	baseURL, _ := startTestServer(t, Sources{
		Controller: fakeController{autolog.Stats{Running: true, Attempts: 3, Successes: 2}},
		Feed:       fakeFeed{live.Stats{Connected: true, Connects: 1}},
		Targets:    reg,
		Positions:  tracker,
	}, vc)

	var st Status
	if code := getJSON(t, baseURL+"/api/status", &st); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if st.Controller == nil || st.Controller.Attempts != 3 || st.Controller.Successes != 2 {
		t.Errorf("controller = %+v", st.Controller)
	}
	if st.Feed == nil || !st.Feed.Connected {
		t.Errorf("feed = %+v", st.Feed)
	}
	if st.Position == nil || st.Position.Latitude != 48.1 {
		t.Errorf("position = %+v", st.Position)
	}
	if st.Targets != 2 {
		t.Errorf("targets = %d, want 2", st.Targets)
	}
}

func TestServer_StatusOmitsMissingSources(t *testing.T) {
	baseURL, _ := startTestServer(t, Sources{}, clock.NewVirtualClock(epoch))

	var raw map[string]any
	getJSON(t, baseURL+"/api/status", &raw)
	for _, key := range []string{"controller", "feed", "position"} {
		if _, ok := raw[key]; ok {
			t.Errorf("status has %q without a source", key)
		}
	}
}

func TestServer_StatusRejectsPost(t *testing.T) {
	baseURL, _ := startTestServer(t, Sources{}, clock.NewVirtualClock(epoch))
	resp, err := http.Post(baseURL+"/api/status", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestServer_Targets(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	reg := registry.New(vc, 0)
	reg.Upsert(registry.Entry{Target: autolog.Target{ID: "9", Latitude: 48.0, Longitude: 11.0}, Name: "Fountain"})

	baseURL, _ := startTestServer(t, Sources{Targets: reg}, vc)

	var views []TargetView
	getJSON(t, baseURL+"/api/targets", &views)
	if len(views) != 1 || views[0].Name != "Fountain" {
		t.Fatalf("targets = %+v", views)
	}
	if views[0].DistanceM != nil || views[0].InRange {
		t.Errorf("target without position = %+v, want no distance", views[0])
	}

	emptyURL, _ := startTestServer(t, Sources{}, vc)
	var none []TargetView
	getJSON(t, emptyURL+"/api/targets", &none)
	if none == nil || len(none) != 0 {
		t.Errorf("targets without registry = %v, want []", none)
	}
}

func TestServer_TargetsFromPosition(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	reg := registry.New(vc, 0)
	reg.Upsert(registry.Entry{Target: autolog.Target{ID: "near", Latitude: 48.0001, Longitude: 11.0}})
	reg.Upsert(registry.Entry{Target: autolog.Target{ID: "far", Latitude: 48.0, Longitude: 11.01}})
	tracker := position.NewTracker(vc)
	tracker.Update(autolog.Position{Latitude: 48.0, Longitude: 11.0})

	baseURL, _ := startTestServer(t, Sources{Targets: reg, Positions: tracker, Radius: 20}, vc)

	var views []TargetView
	getJSON(t, baseURL+"/api/targets", &views)
	byID := make(map[string]TargetView)
	for _, v := range views {
		byID[v.Target.ID] = v
	}

	near, far := byID["near"], byID["far"]
	if near.DistanceM == nil || *near.DistanceM < 10 || *near.DistanceM > 12 || !near.InRange {
		t.Errorf("near = %+v, want about 11 m and in range", near)
	}
	if near.BearingDeg == nil || *near.BearingDeg > 0.1 {
		t.Errorf("near bearing = %v, want north", near.BearingDeg)
	}
	if far.DistanceM == nil || *far.DistanceM < 700 || far.InRange {
		t.Errorf("far = %+v, want about 744 m and out of range", far)
	}
	if far.BearingDeg == nil || *far.BearingDeg < 89 || *far.BearingDeg > 91 {
		t.Errorf("far bearing = %v, want east", far.BearingDeg)
	}
}

type fakeEnergy struct {
	mu sync.Mutex
	on bool
}

func (f *fakeEnergy) SetEnergySaving(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.on = on
}

func (f *fakeEnergy) PositionInterval() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.on {
		return 10 * time.Second
	}
	return 3 * time.Second
}

func TestServer_EnergySaving(t *testing.T) {
	energy := &fakeEnergy{}
	baseURL, _ := startTestServer(t, Sources{Energy: energy}, clock.NewVirtualClock(epoch))

	var body map[string]string
	if code := getJSON(t, baseURL+"/api/energy-saving", &body); code != http.StatusOK || body["position_interval"] != "3s" {
		t.Errorf("GET = %d %v, want 200 and 3s", code, body)
	}

	resp, err := http.Post(baseURL+"/api/energy-saving", "application/json", strings.NewReader(`{"enabled": true}`))
	if err != nil {
		t.Fatal(err)
	}
	body = nil
	json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || body["position_interval"] != "10s" {
		t.Errorf("POST = %d %v, want 200 and 10s", resp.StatusCode, body)
	}

	for _, raw := range []string{`{}`, `nope`} {
		resp, err := http.Post(baseURL+"/api/energy-saving", "application/json", strings.NewReader(raw))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("POST %s = %d, want 400", raw, resp.StatusCode)
		}
	}

	offURL, _ := startTestServer(t, Sources{}, clock.NewVirtualClock(epoch))
	if code := getJSON(t, offURL+"/api/energy-saving", nil); code != http.StatusNotImplemented {
		t.Errorf("without feed = %d, want 501", code)
	}
}

func TestServer_Events(t *testing.T) {
	rec := recorder.New(nil)
	for _, id := range []string{"a", "b", "c"} {
		rec.Record(autolog.Event{ID: id, Type: autolog.EventLogFailed, TargetID: "1", Reason: "x", Time: epoch})
	}
	baseURL, _ := startTestServer(t, Sources{Events: rec}, clock.NewVirtualClock(epoch))

	var events []autolog.Event
	getJSON(t, baseURL+"/api/events?limit=2", &events)
	if len(events) != 2 || events[0].ID != "b" || events[1].ID != "c" {
		t.Errorf("events = %+v", events)
	}

	events = nil
	getJSON(t, baseURL+"/api/events", &events)
	if len(events) != 3 {
		t.Errorf("default limit returned %d events, want 3", len(events))
	}

	if code := getJSON(t, baseURL+"/api/events?limit=zero", nil); code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", code)
	}
}

func TestServer_Dashboard(t *testing.T) {
	baseURL, _ := startTestServer(t, Sources{}, clock.NewVirtualClock(epoch))
	resp, err := http.Get(baseURL + "/dashboard/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(string(body), "<title>Spotwalk</title>") {
		t.Error("dashboard body missing title")
	}
}

func TestHub_BroadcastsEventsAndFeed(t *testing.T) {
	baseURL, srv := startTestServer(t, Sources{}, clock.NewVirtualClock(epoch))

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(baseURL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	hub := srv.Hub()
	waitFor(t, func() bool { return hub.ClientCount() == 1 }, "viewer registered")

	var sink autolog.Sink = hub
	sink.Emit(autolog.Event{ID: "e1", Type: autolog.EventLogSucceeded, TargetID: "7", Time: epoch})
	hub.Forward(live.Envelope{EventType: live.EventLootSpawn, Data: json.RawMessage(`{"spot_id":7}`)})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first struct {
		Kind string        `json:"kind"`
		Data autolog.Event `json:"data"`
	}
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatal(err)
	}
	if first.Kind != KindEvent || first.Data.TargetID != "7" {
		t.Errorf("first message = %+v", first)
	}

	var second struct {
		Kind string        `json:"kind"`
		Data live.Envelope `json:"data"`
	}
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatal(err)
	}
	if second.Kind != KindFeed || second.Data.EventType != live.EventLootSpawn {
		t.Errorf("second message = %+v", second)
	}

	conn.Close()
	waitFor(t, func() bool { return hub.ClientCount() == 0 }, "viewer removed after close")
}

func TestHub_ShutdownClosesViewers(t *testing.T) {
	baseURL, srv := startTestServer(t, Sources{}, clock.NewVirtualClock(epoch))
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(baseURL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	waitFor(t, func() bool { return srv.Hub().ClientCount() == 1 }, "viewer registered")

	srv.Shutdown(context.Background())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("ReadMessage() error = nil, want closed connection")
	}
}

func TestServer_Position(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	tracker := position.NewTracker(vc)
	baseURL, _ := startTestServer(t, Sources{Positions: tracker, Updater: tracker}, vc)

	resp, err := http.Post(baseURL+"/api/position", "application/json",
		strings.NewReader(`{"latitude": 48.1, "longitude": 11.5, "heading": 45, "accuracy": 8}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}

	pos := tracker.Latest()
	if pos == nil || pos.Latitude != 48.1 || pos.Heading == nil || *pos.Heading != 45 || !pos.ObservedAt.Equal(epoch) {
		t.Errorf("tracker position = %+v", pos)
	}

	for _, body := range []string{
		`{"latitude": 91, "longitude": 0}`,
		`{"longitude": 11}`,
		`not json`,
	} {
		resp, err := http.Post(baseURL+"/api/position", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("POST %s: status = %d, want 400", body, resp.StatusCode)
		}
	}

	if code := getJSON(t, baseURL+"/api/position", nil); code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", code)
	}
}

func TestServer_PositionWithoutUpdater(t *testing.T) {
	baseURL, _ := startTestServer(t, Sources{}, clock.NewVirtualClock(epoch))
	resp, err := http.Post(baseURL+"/api/position", "application/json", strings.NewReader(`{"latitude": 1, "longitude": 1}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", resp.StatusCode)
	}
}

func TestServer_WithHub(t *testing.T) {
	hub := NewHub(quiet)
	srv := New("127.0.0.1:0", Sources{}, clock.NewVirtualClock(epoch), quiet, WithHub(hub))
	if srv.Hub() != hub {
		t.Error("Hub() should return the hub passed with WithHub")
	}
}
