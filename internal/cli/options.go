package cli

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/spotwalk/internal/autolog"
	"github.com/SmitUplenchwar2687/spotwalk/internal/clock"
	"github.com/SmitUplenchwar2687/spotwalk/internal/config"
	"github.com/SmitUplenchwar2687/spotwalk/internal/storage"
)

// autologOptions are the controller tuning flags shared by run and simulate.
type autologOptions struct {
	radius         float64
	tick           time.Duration
	suppression    time.Duration
	cooldown       time.Duration
	maxPositionAge time.Duration
}

func (o *autologOptions) addFlags(cmd *cobra.Command) {
	def := autolog.DefaultConfig()
	cmd.Flags().Float64Var(&o.radius, "radius", def.TriggerRadius, "trigger radius in meters")
	cmd.Flags().DurationVar(&o.tick, "tick", def.TickInterval, "evaluation interval")
	cmd.Flags().DurationVar(&o.suppression, "suppression", def.SuppressionWindow, "minimum time between logs of the same spot")
	cmd.Flags().DurationVar(&o.cooldown, "cooldown", def.GlobalCooldown, "pause after the server rate limits a log")
	cmd.Flags().DurationVar(&o.maxPositionAge, "max-position-age", def.MaxPositionAge, "ignore positions older than this (0 disables)")
}

// apply overrides cfg with the flags the user set explicitly.
func (o *autologOptions) apply(cmd *cobra.Command, cfg *autolog.Config) {
	if cmd.Flags().Changed("radius") {
		cfg.TriggerRadius = o.radius
	}
	if cmd.Flags().Changed("tick") {
		cfg.TickInterval = o.tick
	}
	if cmd.Flags().Changed("suppression") {
		cfg.SuppressionWindow = o.suppression
	}
	if cmd.Flags().Changed("cooldown") {
		cfg.GlobalCooldown = o.cooldown
	}
	if cmd.Flags().Changed("max-position-age") {
		cfg.MaxPositionAge = o.maxPositionAge
	}
}

// storageOptions select where auto-log state is persisted.
type storageOptions struct {
	backend           string
	stateKey          string
	redisHost         string
	redisPort         int
	redisPassword     string
	redisDB           int
	redisCluster      bool
	redisClusterNodes []string
}

func (o *storageOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.backend, "storage", storage.BackendMemory, "state storage backend (memory, redis)")
	cmd.Flags().StringVar(&o.stateKey, "state-key", autolog.DefaultStateKey, "key under which auto-log state is stored")
	cmd.Flags().StringVar(&o.redisHost, "redis-host", "localhost", "redis host (or host:port)")
	cmd.Flags().IntVar(&o.redisPort, "redis-port", 6379, "redis port")
	cmd.Flags().StringVar(&o.redisPassword, "redis-password", "", "redis password")
	cmd.Flags().IntVar(&o.redisDB, "redis-db", 0, "redis database index")
	cmd.Flags().BoolVar(&o.redisCluster, "redis-cluster", false, "enable redis cluster mode")
	cmd.Flags().StringSliceVar(&o.redisClusterNodes, "redis-cluster-nodes", nil, "redis cluster nodes host:port list")
}

// apply overrides cfg with the flags the user set explicitly and splits a
// host:port redis host.
func (o *storageOptions) apply(cmd *cobra.Command, cfg *config.StorageConfig) error {
	if cmd.Flags().Changed("storage") {
		cfg.Backend = o.backend
	}
	if cmd.Flags().Changed("state-key") {
		cfg.StateKey = o.stateKey
	}
	if cmd.Flags().Changed("redis-host") {
		cfg.Redis.Host = o.redisHost
	}
	if cmd.Flags().Changed("redis-port") {
		cfg.Redis.Port = o.redisPort
	}
	if cmd.Flags().Changed("redis-password") {
		cfg.Redis.Password = o.redisPassword
	}
	if cmd.Flags().Changed("redis-db") {
		cfg.Redis.DB = o.redisDB
	}
	if cmd.Flags().Changed("redis-cluster") {
		cfg.Redis.Cluster = o.redisCluster
	}
	if cmd.Flags().Changed("redis-cluster-nodes") {
		cfg.Redis.ClusterNodes = append([]string(nil), o.redisClusterNodes...)
	}

	if cfg.Backend != storage.BackendRedis || cfg.Redis.Cluster {
		return nil
	}
	host, port, err := normalizeRedisHostPort(cfg.Redis.Host, cfg.Redis.Port)
	if err != nil {
		return err
	}
	cfg.Redis.Host = host
	cfg.Redis.Port = port
	return nil
}

// openStorage connects the configured state backend.
func openStorage(ctx context.Context, cfg config.StorageConfig, clk clock.Clock) (storage.Storage, error) {
	switch cfg.Backend {
	case "", storage.BackendMemory:
		return storage.NewMemoryStorage(clk), nil
	case storage.BackendRedis:
		rs, err := storage.NewRedisStorage(ctx, cfg.Redis.RedisConfig())
		if err != nil {
			return nil, err
		}
		return rs, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func normalizeRedisHostPort(host string, port int) (string, int, error) {
	if strings.Contains(host, ":") {
		h, p, err := net.SplitHostPort(host)
		if err != nil {
			return "", 0, fmt.Errorf("invalid --redis-host value %q: %w", host, err)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", 0, fmt.Errorf("invalid redis port in --redis-host %q: %w", host, err)
		}
		host = h
		port = n
	}

	if host == "" {
		return "", 0, fmt.Errorf("redis host cannot be empty")
	}
	if port <= 0 {
		return "", 0, fmt.Errorf("redis port must be positive, got %d", port)
	}

	return host, port, nil
}
