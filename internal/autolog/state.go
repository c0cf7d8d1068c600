package autolog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/SmitUplenchwar2687/spotwalk/internal/storage"
)

// DefaultStateKey is the storage key of the persisted controller state.
const DefaultStateKey = "autolog:state"

// Snapshot is the part of the controller state that survives a restart.
type Snapshot struct {
	SavedAt       time.Time            `json:"saved_at"`
	CooldownUntil time.Time            `json:"cooldown_until,omitempty"`
	LastSuccess   map[string]time.Time `json:"last_success,omitempty"`
}

// StateStore loads and saves controller snapshots.
type StateStore interface {
	// Load returns nil, nil when nothing has been stored yet.
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

// StorageStateStore keeps the snapshot as a single JSON document in a
// storage.Storage, expiring it once neither a suppression window nor the
// cooldown it holds is still active.
type StorageStateStore struct {
	store       storage.Storage
	key         string
	ttl         time.Duration // floor
	suppression time.Duration
}

// NewStorageStateStore builds a StateStore for cfg on top of s.
func NewStorageStateStore(s storage.Storage, key string, cfg Config) *StorageStateStore {
	if key == "" {
		key = DefaultStateKey
	}
	ttl := cfg.SuppressionWindow
	if cfg.GlobalCooldown > ttl {
		ttl = cfg.GlobalCooldown
	}
	return &StorageStateStore{store: s, key: key, ttl: ttl, suppression: cfg.SuppressionWindow}
}

func (s *StorageStateStore) Load(ctx context.Context) (*Snapshot, error) {
	data, err := s.store.Get(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("loading auto-log state: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decoding auto-log state: %w", err)
	}
	return &snap, nil
}

func (s *StorageStateStore) Save(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding auto-log state: %w", err)
	}
	if err := s.store.Set(ctx, s.key, data, s.expiry(snap)); err != nil {
		return fmt.Errorf("saving auto-log state: %w", err)
	}
	return nil
}

// expiry is how long snap stays relevant after it was taken: until the last
// of its deadlines, but never less than the configured floor.
func (s *StorageStateStore) expiry(snap Snapshot) time.Duration {
	if snap.SavedAt.IsZero() {
		return s.ttl
	}
	latest := snap.CooldownUntil
	for _, at := range snap.LastSuccess {
		if until := at.Add(s.suppression); until.After(latest) {
			latest = until
		}
	}
	if ttl := latest.Sub(snap.SavedAt); ttl > s.ttl {
		return ttl
	}
	return s.ttl
}

// snapshotLocked captures state that is still relevant at now.
// Must be called with c.mu held.
func (c *Controller) snapshotLocked(now time.Time) Snapshot {
	snap := Snapshot{SavedAt: now, LastSuccess: make(map[string]time.Time)}
	if now.Before(c.cooldownUntil) {
		snap.CooldownUntil = c.cooldownUntil
	}
	for id, st := range c.states {
		if c.suppressed(st, now) {
			snap.LastSuccess[id] = st.lastSuccess
		}
	}
	return snap
}

// persist writes the current snapshot. Writes are serialized so that the
// last one to land is always the most recent state.
func (c *Controller) persist() {
	if c.store == nil {
		return
	}
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.mu.Lock()
	snap := c.snapshotLocked(c.clock.Now())
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.store.Save(ctx, snap); err != nil {
		c.logger.Warn("auto-log state not saved", "error", err)
	}
}

// restore merges a stored snapshot into the in-memory state, keeping
// whichever deadline is later.
func (c *Controller) restore(ctx context.Context) {
	if c.store == nil {
		return
	}
	snap, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("auto-log state not restored", "error", err)
		return
	}
	if snap == nil {
		return
	}

	now := c.clock.Now()
	restored := 0

	c.mu.Lock()
	if snap.CooldownUntil.After(c.cooldownUntil) {
		c.cooldownUntil = snap.CooldownUntil
	}
	for id, at := range snap.LastSuccess {
		if now.Sub(at) >= c.cfg.SuppressionWindow {
			continue
		}
		st, ok := c.states[id]
		if !ok {
			st = &targetState{}
			c.states[id] = st
		}
		if at.After(st.lastSuccess) {
			st.lastSuccess = at
		}
		restored++
	}
	cooldownUntil := c.cooldownUntil
	c.mu.Unlock()

	c.logger.Info("auto-log state restored", "targets", restored, "cooldown_until", cooldownUntil)
}
