package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/SmitUplenchwar2687/spotwalk/internal/autolog"
)

// Timestamp decodes the backend's datetimes, which may or may not carry a
// zone offset. Zone-less values are taken as UTC.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognized format %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// Spot is a loggable location as returned by the backend.
type Spot struct {
	ID            int        `json:"id"`
	Name          string     `json:"name"`
	Description   string     `json:"description,omitempty"`
	Latitude      float64    `json:"latitude"`
	Longitude     float64    `json:"longitude"`
	IsPermanent   bool       `json:"is_permanent"`
	IsLoot        bool       `json:"is_loot"`
	CreatedAt     Timestamp  `json:"created_at"`
	CreatorID     *int       `json:"creator_id,omitempty"`
	LootExpiresAt *Timestamp `json:"loot_expires_at,omitempty"`
	LootXP        *int       `json:"loot_xp,omitempty"`
}

// TargetID is the spot id in the form the auto-log controller keys on.
func (s Spot) TargetID() string {
	return strconv.Itoa(s.ID)
}

// Target converts the spot into an auto-log target.
func (s Spot) Target() autolog.Target {
	return autolog.Target{ID: s.TargetID(), Latitude: s.Latitude, Longitude: s.Longitude}
}

// LogEntry is one log as returned by the backend.
type LogEntry struct {
	ID          int       `json:"id"`
	UserID      int       `json:"user_id"`
	SpotID      int       `json:"spot_id"`
	Distance    float64   `json:"distance"`
	IsAuto      bool      `json:"is_auto"`
	XPGained    int       `json:"xp_gained"`
	ClaimPoints int       `json:"claim_points"`
	Timestamp   Timestamp `json:"timestamp"`
	PhotoURL    *string   `json:"photo_url,omitempty"`
	Notes       *string   `json:"notes,omitempty"`
}

// Reward converts the entry into the controller's reward type.
func (l LogEntry) Reward() *autolog.Reward {
	return &autolog.Reward{
		LogID:       l.ID,
		XPGained:    l.XPGained,
		ClaimPoints: l.ClaimPoints,
		Distance:    l.Distance,
		Timestamp:   l.Timestamp.Time,
	}
}

type logRequest struct {
	SpotID    int     `json:"spot_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}
