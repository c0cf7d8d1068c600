package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/SmitUplenchwar2687/spotwalk/internal/api"
	"github.com/SmitUplenchwar2687/spotwalk/internal/autolog"
	"github.com/SmitUplenchwar2687/spotwalk/internal/live"
	"github.com/SmitUplenchwar2687/spotwalk/internal/notifier"
	"github.com/SmitUplenchwar2687/spotwalk/internal/registry"
	"github.com/SmitUplenchwar2687/spotwalk/internal/storage"
)

// TokenEnv names the environment variable that supplies the bearer token.
const TokenEnv = "SPOTWALK_TOKEN"

// Config is the top-level configuration for a spotwalk session.
type Config struct {
	API      APIConfig      `json:"api"`
	AutoLog  autolog.Config `json:"autolog"`
	Registry RegistryConfig `json:"registry"`
	Live     LiveConfig     `json:"live"`
	Storage  StorageConfig  `json:"storage"`
	Server   ServerConfig   `json:"server"`
	Notify   NotifyConfig   `json:"notify"`
	Record   RecordConfig   `json:"record"`
	Log      LogConfig      `json:"log"`
}

// APIConfig holds backend connection settings.
type APIConfig struct {
	BaseURL string        `json:"base_url"`
	Token   string        `json:"-"`
	Timeout time.Duration `json:"timeout"`
}

// RegistryConfig controls nearby spot loading.
type RegistryConfig struct {
	NearbyRadius    float64       `json:"nearby_radius"`
	RefreshDistance float64       `json:"refresh_distance"`
	RefreshInterval time.Duration `json:"refresh_interval"`
	CheckInterval   time.Duration `json:"check_interval"`
	LootTTL         time.Duration `json:"loot_ttl"`
}

// RefreshConfig converts the section into the refresher's settings.
func (c RegistryConfig) RefreshConfig() registry.RefreshConfig {
	return registry.RefreshConfig{
		Radius:          c.NearbyRadius,
		RefreshDistance: c.RefreshDistance,
		RefreshInterval: c.RefreshInterval,
		CheckInterval:   c.CheckInterval,
	}
}

// LiveConfig controls the WebSocket feed.
type LiveConfig struct {
	Enabled              bool          `json:"enabled"`
	PositionInterval     time.Duration `json:"position_interval"`
	EnergySavingInterval time.Duration `json:"energy_saving_interval"`
	EnergySaving         bool          `json:"energy_saving"`
	ReconnectDelay       time.Duration `json:"reconnect_delay"`
	PingInterval         time.Duration `json:"ping_interval"`
}

// ClientConfig converts the section into a live.Config for the given
// endpoint and token.
func (c LiveConfig) ClientConfig(wsURL, token string) live.Config {
	return live.Config{
		URL:                  wsURL,
		Token:                token,
		PositionInterval:     c.PositionInterval,
		EnergySavingInterval: c.EnergySavingInterval,
		EnergySaving:         c.EnergySaving,
		ReconnectDelay:       c.ReconnectDelay,
		PingInterval:         c.PingInterval,
	}
}

// StorageConfig selects where auto-log state survives restarts.
type StorageConfig struct {
	Backend  string             `json:"backend"`
	StateKey string             `json:"state_key"`
	Redis    StorageRedisConfig `json:"redis"`
}

// StorageRedisConfig holds Redis connection settings.
type StorageRedisConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	Password     string        `json:"password"`
	DB           int           `json:"db"`
	Cluster      bool          `json:"cluster"`
	ClusterNodes []string      `json:"cluster_nodes"`
	PoolSize     int           `json:"pool_size"`
	MaxRetries   int           `json:"max_retries"`
	DialTimeout  time.Duration `json:"dial_timeout"`
}

// RedisConfig converts the section into the storage package's form.
func (c StorageRedisConfig) RedisConfig() *storage.RedisConfig {
	return &storage.RedisConfig{
		Host:         c.Host,
		Port:         c.Port,
		Password:     c.Password,
		DB:           c.DB,
		Cluster:      c.Cluster,
		ClusterNodes: append([]string(nil), c.ClusterNodes...),
		PoolSize:     c.PoolSize,
		MaxRetries:   c.MaxRetries,
		DialTimeout:  c.DialTimeout,
	}
}

// ServerConfig holds local status server settings.
type ServerConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// NotifyConfig controls mail notifications.
type NotifyConfig struct {
	Enabled  bool                `json:"enabled"`
	Failures bool                `json:"failures"`
	Mail     notifier.MailConfig `json:"mail"`
}

// RecordConfig controls event recording.
type RecordConfig struct {
	File string `json:"file"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	refresh := registry.DefaultRefreshConfig()
	feed := live.DefaultConfig()
	return Config{
		API: APIConfig{
			BaseURL: "http://localhost:8000",
			Timeout: api.DefaultTimeout,
		},
		AutoLog: autolog.DefaultConfig(),
		Registry: RegistryConfig{
			NearbyRadius:    refresh.Radius,
			RefreshDistance: refresh.RefreshDistance,
			RefreshInterval: refresh.RefreshInterval,
			CheckInterval:   refresh.CheckInterval,
			LootTTL:         registry.DefaultLootTTL,
		},
		Live: LiveConfig{
			Enabled:              true,
			PositionInterval:     feed.PositionInterval,
			EnergySavingInterval: feed.EnergySavingInterval,
			ReconnectDelay:       feed.ReconnectDelay,
			PingInterval:         feed.PingInterval,
		},
		Storage: StorageConfig{
			Backend:  storage.BackendMemory,
			StateKey: autolog.DefaultStateKey,
			Redis: StorageRedisConfig{
				Host:        "localhost",
				Port:        6379,
				PoolSize:    10,
				MaxRetries:  3,
				DialTimeout: 5 * time.Second,
			},
		},
		Server: ServerConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8080",
		},
		Notify: NotifyConfig{
			Mail: notifier.MailConfig{Port: 587},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks that the config is valid.
func (c Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api.base_url must be an http(s) URL, got %q", c.API.BaseURL)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive, got %s", c.API.Timeout)
	}
	if err := c.AutoLog.Validate(); err != nil {
		return fmt.Errorf("autolog: %w", err)
	}
	if c.Registry.NearbyRadius <= 0 || c.Registry.NearbyRadius > api.MaxNearbyRadius {
		return fmt.Errorf("registry.nearby_radius must be in (0, %v], got %v", api.MaxNearbyRadius, c.Registry.NearbyRadius)
	}
	if c.Registry.RefreshDistance <= 0 {
		return fmt.Errorf("registry.refresh_distance must be positive, got %v", c.Registry.RefreshDistance)
	}
	if c.Registry.RefreshInterval <= 0 || c.Registry.CheckInterval <= 0 || c.Registry.LootTTL <= 0 {
		return errors.New("registry intervals and loot_ttl must be positive")
	}
	if c.Live.Enabled && (c.Live.PositionInterval <= 0 || c.Live.EnergySavingInterval <= 0 ||
		c.Live.ReconnectDelay <= 0 || c.Live.PingInterval <= 0) {
		return errors.New("live intervals must be positive")
	}
	switch c.Storage.Backend {
	case storage.BackendMemory:
	case storage.BackendRedis:
		if c.Storage.Redis.Cluster {
			if len(c.Storage.Redis.ClusterNodes) == 0 {
				return errors.New("storage.redis.cluster_nodes is required when cluster=true")
			}
		} else if c.Storage.Redis.Host == "" || c.Storage.Redis.Port <= 0 {
			return errors.New("storage.redis.host and storage.redis.port are required")
		}
	default:
		return fmt.Errorf("unknown storage backend %q, must be one of: memory, redis", c.Storage.Backend)
	}
	if c.Storage.StateKey == "" {
		return errors.New("storage.state_key is required")
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		return errors.New("server.addr is required when the server is enabled")
	}
	if c.Notify.Enabled {
		if err := c.Notify.Mail.Validate(); err != nil {
			return fmt.Errorf("notify.mail: %w", err)
		}
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q, must be one of: text, json", c.Log.Format)
	}
	return nil
}

// LoadFile reads a JSON config file and merges it with defaults.
// Fields not specified in the file retain their default values.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	// Use a raw intermediate struct to handle duration parsing.
	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}
	if err := raw.merge(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ResolveToken fills in the bearer token from the environment when unset.
func (c *Config) ResolveToken() {
	if c.API.Token == "" {
		c.API.Token = os.Getenv(TokenEnv)
	}
}

// rawConfig is the JSON-friendly representation with string durations.
// Pointers distinguish an explicit false or zero from an absent field.
type rawConfig struct {
	API struct {
		BaseURL string `json:"base_url"`
		Token   string `json:"token"`
		Timeout string `json:"timeout"`
	} `json:"api"`
	AutoLog struct {
		TriggerRadius     float64 `json:"trigger_radius"`
		TickInterval      string  `json:"tick_interval"`
		SuppressionWindow string  `json:"suppression_window"`
		GlobalCooldown    string  `json:"global_cooldown"`
		MaxPositionAge    string  `json:"max_position_age"`
	} `json:"autolog"`
	Registry struct {
		NearbyRadius    float64 `json:"nearby_radius"`
		RefreshDistance float64 `json:"refresh_distance"`
		RefreshInterval string  `json:"refresh_interval"`
		CheckInterval   string  `json:"check_interval"`
		LootTTL         string  `json:"loot_ttl"`
	} `json:"registry"`
	Live struct {
		Enabled              *bool  `json:"enabled"`
		PositionInterval     string `json:"position_interval"`
		EnergySavingInterval string `json:"energy_saving_interval"`
		EnergySaving         *bool  `json:"energy_saving"`
		ReconnectDelay       string `json:"reconnect_delay"`
		PingInterval         string `json:"ping_interval"`
	} `json:"live"`
	Storage struct {
		Backend  string `json:"backend"`
		StateKey string `json:"state_key"`
		Redis    struct {
			Host         string   `json:"host"`
			Port         int      `json:"port"`
			Password     string   `json:"password"`
			DB           int      `json:"db"`
			Cluster      *bool    `json:"cluster"`
			ClusterNodes []string `json:"cluster_nodes"`
			PoolSize     int      `json:"pool_size"`
			MaxRetries   int      `json:"max_retries"`
			DialTimeout  string   `json:"dial_timeout"`
		} `json:"redis"`
	} `json:"storage"`
	Server struct {
		Enabled *bool  `json:"enabled"`
		Addr    string `json:"addr"`
	} `json:"server"`
	Notify struct {
		Enabled  *bool               `json:"enabled"`
		Failures *bool               `json:"failures"`
		Mail     notifier.MailConfig `json:"mail"`
	} `json:"notify"`
	Record RecordConfig `json:"record"`
	Log    LogConfig    `json:"log"`
}

func (raw *rawConfig) merge(cfg *Config) error {
	durations := []struct {
		name string
		val  string
		dst  *time.Duration
	}{
		{"api.timeout", raw.API.Timeout, &cfg.API.Timeout},
		{"autolog.tick_interval", raw.AutoLog.TickInterval, &cfg.AutoLog.TickInterval},
		{"autolog.suppression_window", raw.AutoLog.SuppressionWindow, &cfg.AutoLog.SuppressionWindow},
		{"autolog.global_cooldown", raw.AutoLog.GlobalCooldown, &cfg.AutoLog.GlobalCooldown},
		{"autolog.max_position_age", raw.AutoLog.MaxPositionAge, &cfg.AutoLog.MaxPositionAge},
		{"registry.refresh_interval", raw.Registry.RefreshInterval, &cfg.Registry.RefreshInterval},
		{"registry.check_interval", raw.Registry.CheckInterval, &cfg.Registry.CheckInterval},
		{"registry.loot_ttl", raw.Registry.LootTTL, &cfg.Registry.LootTTL},
		{"live.position_interval", raw.Live.PositionInterval, &cfg.Live.PositionInterval},
		{"live.energy_saving_interval", raw.Live.EnergySavingInterval, &cfg.Live.EnergySavingInterval},
		{"live.reconnect_delay", raw.Live.ReconnectDelay, &cfg.Live.ReconnectDelay},
		{"live.ping_interval", raw.Live.PingInterval, &cfg.Live.PingInterval},
		{"storage.redis.dial_timeout", raw.Storage.Redis.DialTimeout, &cfg.Storage.Redis.DialTimeout},
	}
	for _, d := range durations {
		if d.val == "" {
			continue
		}
		v, err := time.ParseDuration(d.val)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", d.name, err)
		}
		*d.dst = v
	}

	setString(&cfg.API.BaseURL, raw.API.BaseURL)
	setString(&cfg.API.Token, raw.API.Token)
	setFloat(&cfg.AutoLog.TriggerRadius, raw.AutoLog.TriggerRadius)
	setFloat(&cfg.Registry.NearbyRadius, raw.Registry.NearbyRadius)
	setFloat(&cfg.Registry.RefreshDistance, raw.Registry.RefreshDistance)
	setBool(&cfg.Live.Enabled, raw.Live.Enabled)
	setBool(&cfg.Live.EnergySaving, raw.Live.EnergySaving)

	setString(&cfg.Storage.Backend, raw.Storage.Backend)
	setString(&cfg.Storage.StateKey, raw.Storage.StateKey)
	r := raw.Storage.Redis
	setString(&cfg.Storage.Redis.Host, r.Host)
	setInt(&cfg.Storage.Redis.Port, r.Port)
	setString(&cfg.Storage.Redis.Password, r.Password)
	setInt(&cfg.Storage.Redis.DB, r.DB)
	setBool(&cfg.Storage.Redis.Cluster, r.Cluster)
	if len(r.ClusterNodes) > 0 {
		cfg.Storage.Redis.ClusterNodes = r.ClusterNodes
	}
	setInt(&cfg.Storage.Redis.PoolSize, r.PoolSize)
	setInt(&cfg.Storage.Redis.MaxRetries, r.MaxRetries)

	setBool(&cfg.Server.Enabled, raw.Server.Enabled)
	setString(&cfg.Server.Addr, raw.Server.Addr)

	setBool(&cfg.Notify.Enabled, raw.Notify.Enabled)
	setBool(&cfg.Notify.Failures, raw.Notify.Failures)
	m := raw.Notify.Mail
	setString(&cfg.Notify.Mail.Host, m.Host)
	setInt(&cfg.Notify.Mail.Port, m.Port)
	setString(&cfg.Notify.Mail.User, m.User)
	setString(&cfg.Notify.Mail.Password, m.Password)
	setString(&cfg.Notify.Mail.From, m.From)
	if len(m.To) > 0 {
		cfg.Notify.Mail.To = m.To
	}

	setString(&cfg.Record.File, raw.Record.File)
	setString(&cfg.Log.Level, raw.Log.Level)
	setString(&cfg.Log.Format, raw.Log.Format)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if v > 0 {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

// WriteExample writes an example config file to the given path.
func WriteExample(path string) error {
	example := `{
  "api": {
    "base_url": "http://localhost:8000",
    "timeout": "10s"
  },
  "autolog": {
    "trigger_radius": 20,
    "tick_interval": "1s",
    "suppression_window": "1m",
    "global_cooldown": "5m",
    "max_position_age": "0s"
  },
  "registry": {
    "nearby_radius": 1000,
    "refresh_distance": 250,
    "refresh_interval": "5m",
    "check_interval": "5s",
    "loot_ttl": "30m"
  },
  "live": {
    "enabled": true,
    "position_interval": "3s",
    "energy_saving_interval": "10s",
    "energy_saving": false,
    "reconnect_delay": "5s",
    "ping_interval": "30s"
  },
  "storage": {
    "backend": "memory",
    "state_key": "autolog:state",
    "redis": {
      "host": "localhost",
      "port": 6379,
      "db": 0
    }
  },
  "server": {
    "enabled": true,
    "addr": "127.0.0.1:8080"
  },
  "notify": {
    "enabled": false,
    "failures": false,
    "mail": {
      "smtp_host": "smtp.example.com",
      "smtp_port": 587,
      "smtp_user": "",
      "smtp_password": "",
      "from": "spotwalk@example.com",
      "to": ["me@example.com"]
    }
  },
  "record": {
    "file": ""
  },
  "log": {
    "level": "info",
    "format": "text"
  }
}
`
	return os.WriteFile(path, []byte(example), 0o644)
}
