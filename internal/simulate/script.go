package simulate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/SmitUplenchwar2687/spotwalk/internal/autolog"
	"github.com/SmitUplenchwar2687/spotwalk/internal/clock"
	"github.com/SmitUplenchwar2687/spotwalk/internal/limiter"
	"github.com/SmitUplenchwar2687/spotwalk/internal/registry"
	"github.com/SmitUplenchwar2687/spotwalk/internal/spatial"
)

// Rewards the backend grants for an automatic log.
const (
	AutoLogXP          = 10
	AutoLogClaimPoints = 5
)

// ErrScriptedFailure is the error carried by scripted failures.
var ErrScriptedFailure = errors.New("scripted failure")

// Outcome names a scripted attempt result.
type Outcome string

const (
	Success     Outcome = "success"
	RateLimited Outcome = "rate_limited"
	Failure     Outcome = "failure"
)

func (o Outcome) valid() bool {
	return o == Success || o == RateLimited || o == Failure
}

// Script decides the outcome of each attempt per spot. The n-th attempt on a
// spot takes Spots[id][n]; once a list is exhausted its last entry repeats.
// Spots without a list use Default, which is Success when empty.
//
// Attempts the script lets succeed are then checked against Limits, which
// model the backend's own rate limits.
type Script struct {
	Default    Outcome
	RetryAfter time.Duration
	Spots      map[string][]Outcome
	Limits     limiter.Limits
}

func (s Script) outcome(id string, n int) Outcome {
	if list := s.Spots[id]; len(list) > 0 {
		return list[min(n, len(list)-1)]
	}
	if s.Default != "" {
		return s.Default
	}
	return Success
}

// Validate rejects unknown outcome names.
func (s Script) Validate() error {
	if s.Default != "" && !s.Default.valid() {
		return fmt.Errorf("unknown default outcome %q", s.Default)
	}
	if s.RetryAfter < 0 {
		return errors.New("retry_after must not be negative")
	}
	for id, list := range s.Spots {
		for i, o := range list {
			if !o.valid() {
				return fmt.Errorf("spot %s outcome %d: unknown outcome %q", id, i, o)
			}
		}
	}
	if err := s.Limits.Validate(); err != nil {
		return fmt.Errorf("limits: %w", err)
	}
	return nil
}

type scriptJSON struct {
	Default    Outcome              `json:"default,omitempty"`
	RetryAfter string               `json:"retry_after,omitempty"`
	Spots      map[string][]Outcome `json:"spots,omitempty"`
	Limits     *limitsJSON          `json:"limits,omitempty"`
}

type limitsJSON struct {
	SpotCooldown string `json:"spot_cooldown"`
	Rate         int    `json:"rate"`
	Window       string `json:"window"`
	Burst        int    `json:"burst"`
}

type durationField struct {
	name  string
	value string
	dst   *time.Duration
}

func (f durationField) parse() error {
	if f.value == "" {
		return nil
	}
	d, err := time.ParseDuration(f.value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", f.name, f.value, err)
	}
	*f.dst = d
	return nil
}

// LoadScript reads a script from JSON. Durations are Go duration strings.
//
//	{
//	  "default": "success",
//	  "retry_after": "90s",
//	  "spots": {"12": ["rate_limited", "success"]},
//	  "limits": {"spot_cooldown": "5m", "rate": 20, "window": "1h"}
//	}
func LoadScript(r io.Reader) (Script, error) {
	var raw scriptJSON
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return Script{}, fmt.Errorf("decoding script: %w", err)
	}
	s := Script{Default: raw.Default, Spots: raw.Spots}
	fields := []durationField{{"retry_after", raw.RetryAfter, &s.RetryAfter}}
	if raw.Limits != nil {
		s.Limits.Rate = raw.Limits.Rate
		s.Limits.Burst = raw.Limits.Burst
		fields = append(fields,
			durationField{"limits.spot_cooldown", raw.Limits.SpotCooldown, &s.Limits.SpotCooldown},
			durationField{"limits.window", raw.Limits.Window, &s.Limits.Window},
		)
	}
	for _, f := range fields {
		if err := f.parse(); err != nil {
			return Script{}, err
		}
	}
	if err := s.Validate(); err != nil {
		return Script{}, err
	}
	return s, nil
}

// LoadScriptFile reads a script from a JSON file.
func LoadScriptFile(path string) (Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return Script{}, fmt.Errorf("opening script file: %w", err)
	}
	defer f.Close()
	return LoadScript(f)
}

// ScriptedLogs is an in-process autolog.LogService that answers from a
// Script. Every successful auto log earns the flat AutoLogXP and
// AutoLogClaimPoints, loot spots included.
type ScriptedLogs struct {
	script   Script
	registry *registry.Registry
	clock    clock.Clock
	limits   *limiter.Backend // nil when the script has no limits

	mu     sync.Mutex
	calls  map[string]int
	nextID int
}

// NewScriptedLogs creates a scripted log service over the spots in reg.
func NewScriptedLogs(script Script, reg *registry.Registry, clk clock.Clock) *ScriptedLogs {
	s := &ScriptedLogs{
		script:   script,
		registry: reg,
		clock:    clk,
		calls:    make(map[string]int),
	}
	if script.Limits.Enabled() {
		s.limits = limiter.NewBackend(script.Limits, clk)
	}
	return s
}

// Attempt implements autolog.LogService.
func (s *ScriptedLogs) Attempt(ctx context.Context, targetID string, lat, lng float64) autolog.Result {
	s.mu.Lock()
	n := s.calls[targetID]
	s.calls[targetID]++
	outcome := s.script.outcome(targetID, n)
	s.mu.Unlock()

	switch outcome {
	case RateLimited:
		return autolog.Throttled(s.script.RetryAfter)
	case Failure:
		return autolog.Failed(fmt.Errorf("spot %s: %w", targetID, ErrScriptedFailure))
	}

	e, ok := s.registry.Get(targetID)
	if !ok {
		return autolog.Failed(fmt.Errorf("spot %s not found", targetID))
	}
	if s.limits != nil {
		if d := s.limits.Allow(ctx, targetID); !d.Allowed {
			return autolog.Throttled(d.RetryAfter(s.clock.Now()))
		}
	}

	s.mu.Lock()
	s.nextID++
	logID := s.nextID
	s.mu.Unlock()

	return autolog.Succeeded(&autolog.Reward{
		LogID:       logID,
		XPGained:    AutoLogXP,
		ClaimPoints: AutoLogClaimPoints,
		Distance:    spatial.HaversineDistance(lat, lng, e.Target.Latitude, e.Target.Longitude),
		Timestamp:   s.clock.Now(),
	})
}

// Calls returns how many attempts targetID received.
func (s *ScriptedLogs) Calls(targetID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[targetID]
}
