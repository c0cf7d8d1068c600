package autolog

import (
	"fmt"
	"time"
)

// Defaults mirror the game's backend settings for automatic logs.
const (
	DefaultTriggerRadius     = 20.0 // meters
	DefaultTickInterval      = time.Second
	DefaultSuppressionWindow = time.Minute
	DefaultGlobalCooldown    = 5 * time.Minute
)

// Config holds the controller parameters.
type Config struct {
	TriggerRadius     float64       `json:"trigger_radius"`     // meters, inclusive
	TickInterval      time.Duration `json:"tick_interval"`      // evaluation period
	SuppressionWindow time.Duration `json:"suppression_window"` // per-target quiet period after a success
	GlobalCooldown    time.Duration `json:"global_cooldown"`    // all-target pause after a rate limit
	MaxPositionAge    time.Duration `json:"max_position_age"`   // 0 disables the staleness check
}

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() Config {
	return Config{
		TriggerRadius:     DefaultTriggerRadius,
		TickInterval:      DefaultTickInterval,
		SuppressionWindow: DefaultSuppressionWindow,
		GlobalCooldown:    DefaultGlobalCooldown,
	}
}

// Validate checks that the config is usable. Every error wraps ErrInvalidConfiguration.
func (c Config) Validate() error {
	if !(c.TriggerRadius > 0) {
		return fmt.Errorf("%w: trigger radius must be positive, got %v", ErrInvalidConfiguration, c.TriggerRadius)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("%w: tick interval must be positive, got %s", ErrInvalidConfiguration, c.TickInterval)
	}
	if c.SuppressionWindow <= 0 {
		return fmt.Errorf("%w: suppression window must be positive, got %s", ErrInvalidConfiguration, c.SuppressionWindow)
	}
	if c.GlobalCooldown <= 0 {
		return fmt.Errorf("%w: global cooldown must be positive, got %s", ErrInvalidConfiguration, c.GlobalCooldown)
	}
	if c.MaxPositionAge < 0 {
		return fmt.Errorf("%w: max position age must not be negative, got %s", ErrInvalidConfiguration, c.MaxPositionAge)
	}
	return nil
}
