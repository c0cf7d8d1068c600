package position

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"time"

	"github.com/SmitUplenchwar2687/spotwalk/internal/autolog"
)

// Fix is one recorded point of a GPS track.
type Fix struct {
	Timestamp time.Time `json:"timestamp"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Heading   *float64  `json:"heading,omitempty"`
	Accuracy  float64   `json:"accuracy,omitempty"`
}

// Position converts the fix into a controller position observed at the given time.
func (f Fix) Position(observedAt time.Time) autolog.Position {
	return autolog.Position{
		Latitude:   f.Latitude,
		Longitude:  f.Longitude,
		Heading:    f.Heading,
		Accuracy:   f.Accuracy,
		ObservedAt: observedAt,
	}
}

// Track is a time-ordered list of fixes.
type Track []Fix

// Duration returns the time between the first and last fix.
func (t Track) Duration() time.Duration {
	if len(t) < 2 {
		return 0
	}
	return t[len(t)-1].Timestamp.Sub(t[0].Timestamp)
}

// LoadTrack reads a JSON array of fixes, validates the coordinates and
// sorts them by timestamp.
func LoadTrack(r io.Reader) (Track, error) {
	var track Track
	if err := json.NewDecoder(r).Decode(&track); err != nil {
		return nil, fmt.Errorf("decoding track: %w", err)
	}
	for i, f := range track {
		if err := validCoordinate(f.Latitude, f.Longitude); err != nil {
			return nil, fmt.Errorf("fix %d: %w", i, err)
		}
	}
	sort.SliceStable(track, func(i, j int) bool {
		return track[i].Timestamp.Before(track[j].Timestamp)
	})
	return track, nil
}

// LoadTrackFile reads a track from a JSON file.
func LoadTrackFile(path string) (Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening track file: %w", err)
	}
	defer f.Close()
	return LoadTrack(f)
}

func validCoordinate(lat, lng float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("latitude %v out of range", lat)
	}
	if math.IsNaN(lng) || lng < -180 || lng > 180 {
		return fmt.Errorf("longitude %v out of range", lng)
	}
	return nil
}
