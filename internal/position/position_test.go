package position

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/SmitUplenchwar2687/spotwalk/internal/autolog"
	"github.com/SmitUplenchwar2687/spotwalk/internal/clock"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestTracker_LatestEmpty(t *testing.T) {
	tr := NewTracker(clock.NewVirtualClock(epoch))
	if got := tr.Latest(); got != nil {
		t.Errorf("Latest() = %+v, want nil", got)
	}
}

func TestTracker_UpdateStampsAndCopies(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	tr := NewTracker(vc)

	heading := 90.0
	tr.Update(autolog.Position{Latitude: 1, Longitude: 2, Heading: &heading})

	got := tr.Latest()
	if got == nil {
		t.Fatal("Latest() = nil")
	}
	if !got.ObservedAt.Equal(epoch) {
		t.Errorf("ObservedAt = %v, want %v", got.ObservedAt, epoch)
	}

	heading = 180
	got.Latitude = 99
	*got.Heading = 270

	again := tr.Latest()
	if again.Latitude != 1 || *again.Heading != 90 {
		t.Errorf("Latest() leaked internal state: %+v heading=%v", again, *again.Heading)
	}
	if tr.Updates() != 1 {
		t.Errorf("Updates() = %d, want 1", tr.Updates())
	}

	tr.Clear()
	if tr.Latest() != nil {
		t.Error("Latest() after Clear should be nil")
	}
}

func TestTracker_KeepsExplicitTimestamp(t *testing.T) {
	tr := NewTracker(clock.NewVirtualClock(epoch))
	at := epoch.Add(-time.Minute)
	tr.Update(autolog.Position{ObservedAt: at})
	if got := tr.Latest().ObservedAt; !got.Equal(at) {
		t.Errorf("ObservedAt = %v, want %v", got, at)
	}
}

func TestLoadTrack_SortsByTimestamp(t *testing.T) {
	input := `[
		{"timestamp": "2024-01-01T00:00:10Z", "latitude": 48.1, "longitude": 11.5},
		{"timestamp": "2024-01-01T00:00:00Z", "latitude": 48.0, "longitude": 11.4, "heading": 45}
	]`
	track, err := LoadTrack(strings.NewReader(input))
	if err != nil {
		t.Fatalf("LoadTrack() error = %v", err)
	}
	if len(track) != 2 {
		t.Fatalf("len = %d, want 2", len(track))
	}
	if track[0].Latitude != 48.0 || track[0].Heading == nil || *track[0].Heading != 45 {
		t.Errorf("first fix = %+v", track[0])
	}
	if got := track.Duration(); got != 10*time.Second {
		t.Errorf("Duration() = %v, want 10s", got)
	}
}

func TestLoadTrack_RejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"not json":      `{`,
		"bad latitude":  `[{"timestamp": "2024-01-01T00:00:00Z", "latitude": 91, "longitude": 0}]`,
		"bad longitude": `[{"timestamp": "2024-01-01T00:00:00Z", "latitude": 0, "longitude": -181}]`,
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadTrack(strings.NewReader(input)); err == nil {
				t.Error("LoadTrack() error = nil, want error")
			}
		})
	}
}

func TestLoadTrackFile_Missing(t *testing.T) {
	if _, err := LoadTrackFile("/nonexistent/track.json"); err == nil {
		t.Error("LoadTrackFile() error = nil, want error")
	}
}

func TestPlayer_FeedsTrackOnClock(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	tr := NewTracker(vc)
	track := Track{
		{Timestamp: epoch, Latitude: 1, Longitude: 1},
		{Timestamp: epoch.Add(4 * time.Second), Latitude: 2, Longitude: 2},
		{Timestamp: epoch.Add(6 * time.Second), Latitude: 3, Longitude: 3},
	}
	p := NewPlayer(track, tr, vc, 2)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	waitFor(t, func() bool { return vc.PendingWaiters() == 1 })
	if got := tr.Latest(); got == nil || got.Latitude != 1 {
		t.Fatalf("first fix not delivered: %+v", got)
	}

	// Speed 2 halves the 4s gap.
	vc.Advance(2 * time.Second)
	waitFor(t, func() bool { return tr.Updates() == 2 && vc.PendingWaiters() == 1 })
	if got := tr.Latest(); got.Latitude != 2 || !got.ObservedAt.Equal(epoch.Add(2*time.Second)) {
		t.Errorf("second fix = %+v", got)
	}

	vc.Advance(time.Second)
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := tr.Latest(); got.Latitude != 3 {
		t.Errorf("last fix = %+v", got)
	}
}

func TestPlayer_Cancel(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	track := Track{
		{Timestamp: epoch},
		{Timestamp: epoch.Add(time.Hour)},
	}
	p := NewPlayer(track, NewTracker(vc), vc, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	waitFor(t, func() bool { return vc.PendingWaiters() == 1 })
	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestPlayer_EmptyTrack(t *testing.T) {
	p := NewPlayer(nil, NewTracker(nil), nil, 1)
	if err := p.Run(context.Background()); err == nil {
		t.Error("Run() error = nil, want error")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}
