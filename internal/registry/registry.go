// Package registry keeps the set of spots the auto-log controller may target.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/SmitUplenchwar2687/spotwalk/internal/api"
	"github.com/SmitUplenchwar2687/spotwalk/internal/autolog"
	"github.com/SmitUplenchwar2687/spotwalk/internal/clock"
)

// DefaultLootTTL applies to loot spots that arrive without an expiry.
const DefaultLootTTL = 30 * time.Minute

// Entry is one spot known to the registry.
type Entry struct {
	Target    autolog.Target `json:"target"`
	Name      string         `json:"name,omitempty"`
	Loot      bool           `json:"loot,omitempty"`
	XP        int            `json:"xp,omitempty"`
	ExpiresAt time.Time      `json:"expires_at,omitzero"` // zero for permanent spots
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Registry is a thread-safe spot set. It implements autolog.TargetRegistry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	clock   clock.Clock
	lootTTL time.Duration
}

// New creates an empty Registry. A non-positive lootTTL uses DefaultLootTTL.
func New(clk clock.Clock, lootTTL time.Duration) *Registry {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	if lootTTL <= 0 {
		lootTTL = DefaultLootTTL
	}
	return &Registry{
		entries: make(map[string]Entry),
		clock:   clk,
		lootTTL: lootTTL,
	}
}

// FromSpot converts a backend spot into a registry entry. Loot spots without
// an expiry expire lootTTL after now.
func FromSpot(s api.Spot, lootTTL time.Duration, now time.Time) Entry {
	e := Entry{Target: s.Target(), Name: s.Name, Loot: s.IsLoot}
	if s.LootXP != nil {
		e.XP = *s.LootXP
	}
	if s.IsLoot {
		if s.LootExpiresAt != nil && !s.LootExpiresAt.IsZero() {
			e.ExpiresAt = s.LootExpiresAt.Time
		} else {
			e.ExpiresAt = now.Add(lootTTL)
		}
	}
	return e
}

// Snapshot returns the targets that have not expired, ordered by id.
func (r *Registry) Snapshot() []autolog.Target {
	now := r.clock.Now()

	r.mu.RLock()
	out := make([]autolog.Target, 0, len(r.entries))
	for _, e := range r.entries {
		if !e.expired(now) {
			out = append(out, e.Target)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Entries returns a copy of every live entry, ordered by id.
func (r *Registry) Entries() []Entry {
	now := r.clock.Now()

	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if !e.expired(now) {
			out = append(out, e)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Target.ID < out[j].Target.ID })
	return out
}

// Get returns the entry for id if it is known and live.
func (r *Registry) Get(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok || e.expired(r.clock.Now()) {
		return Entry{}, false
	}
	return e, true
}

// Replace swaps in a freshly loaded spot set. Loot spots missing from the
// new set survive until they expire.
func (r *Registry) Replace(entries []Entry) {
	now := r.clock.Now()

	next := make(map[string]Entry, len(entries))
	for _, e := range entries {
		next[e.Target.ID] = e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.entries {
		if _, ok := next[id]; ok {
			continue
		}
		if e.Loot && !e.expired(now) {
			next[id] = e
		}
	}
	r.entries = next
}

// ReplaceSpots converts backend spots and replaces the set with them.
func (r *Registry) ReplaceSpots(spots []api.Spot) {
	now := r.clock.Now()
	entries := make([]Entry, 0, len(spots))
	for _, s := range spots {
		entries = append(entries, FromSpot(s, r.lootTTL, now))
	}
	r.Replace(entries)
}

// Upsert adds or replaces a single entry.
func (r *Registry) Upsert(e Entry) {
	if e.Loot && e.ExpiresAt.IsZero() {
		e.ExpiresAt = r.clock.Now().Add(r.lootTTL)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.Target.ID] = e
}

// Expire drops expired entries and returns how many were removed.
func (r *Registry) Expire() int {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, e := range r.entries {
		if e.expired(now) {
			delete(r.entries, id)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired ones included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
