package live

import (
	"encoding/json"
	"strconv"

	"github.com/SmitUplenchwar2687/spotwalk/internal/api"
	"github.com/SmitUplenchwar2687/spotwalk/internal/autolog"
	"github.com/SmitUplenchwar2687/spotwalk/internal/registry"
)

// Event types carried in the envelope's event_type field.
const (
	EventConnected      = "connected"
	EventPositionUpdate = "position_update"
	EventPing           = "ping"
	EventPong           = "pong"
	EventLogEvent       = "log_event"
	EventLootSpawn      = "loot_spawn"
	EventClaimUpdate    = "claim_update"
	EventTrackingUpdate = "tracking_update"
	EventError          = "error"
)

// Envelope is the frame format in both directions.
type Envelope struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

func newEnvelope(eventType string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{EventType: eventType, Data: raw}, nil
}

// PositionReport is what the client sends about itself.
type PositionReport struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Heading   *float64 `json:"heading"`
}

// Connected greets a new session.
type Connected struct {
	UserID   int    `json:"user_id"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

// PlayerPosition is another player's position broadcast.
type PlayerPosition struct {
	UserID    int           `json:"user_id"`
	Username  string        `json:"username"`
	Latitude  float64       `json:"latitude"`
	Longitude float64       `json:"longitude"`
	Heading   *float64      `json:"heading"`
	Timestamp api.Timestamp `json:"timestamp"`
}

// LogEvent announces a log by any player.
type LogEvent struct {
	LogID       int    `json:"log_id"`
	UserID      int    `json:"user_id"`
	Username    string `json:"username"`
	SpotName    string `json:"spot_name"`
	XPGained    int    `json:"xp_gained"`
	ClaimPoints int    `json:"claim_points"`
	IsAuto      bool   `json:"is_auto"`
}

// LootSpawn is a personal loot spot that appeared near the player.
type LootSpawn struct {
	SpotID    int            `json:"spot_id"`
	Latitude  float64        `json:"latitude"`
	Longitude float64        `json:"longitude"`
	XP        int            `json:"xp"`
	ItemName  *string        `json:"item_name"`
	ExpiresAt *api.Timestamp `json:"expires_at"`
}

// Entry converts the spawn into a registry entry. A missing expiry is filled
// in by the registry's loot TTL on upsert.
func (l LootSpawn) Entry() registry.Entry {
	e := registry.Entry{
		Target: autolog.Target{
			ID:        strconv.Itoa(l.SpotID),
			Latitude:  l.Latitude,
			Longitude: l.Longitude,
		},
		Loot: true,
		XP:   l.XP,
	}
	if l.ItemName != nil {
		e.Name = *l.ItemName
	}
	if l.ExpiresAt != nil {
		e.ExpiresAt = l.ExpiresAt.Time
	}
	return e
}

// ClaimUpdate reports a change in spot dominance.
type ClaimUpdate struct {
	SpotID     int     `json:"spot_id"`
	UserID     int     `json:"user_id"`
	Username   string  `json:"username"`
	ClaimValue float64 `json:"claim_value"`
	Dominance  float64 `json:"dominance"`
}

// ErrorMessage is sent by the backend for frames it could not handle.
type ErrorMessage struct {
	Message string `json:"message"`
}
