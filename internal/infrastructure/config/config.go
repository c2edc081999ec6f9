package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Port      string `env:"PORT,      default=8080"`
	Env       string `env:"ENV,       default=development"`
	JWTSecret string `env:"JWT_SECRET, required"`
	LogLevel  string `env:"LOG_LEVEL, default=info"`

	// AdminEmails is the allowlist of identities granted admin without a
	// profile record. Matched case-insensitively.
	AdminEmails []string `env:"ADMIN_EMAILS"`

	Session  SessionConfig
	Realtime RealtimeConfig
	Mongo    MongoConfig
	Redis    RedisConfig
}

type SessionConfig struct {
	ResolutionTimeout  time.Duration `env:"RESOLUTION_TIMEOUT,   default=8s"`
	RecoveryDebounce   time.Duration `env:"RECOVERY_DEBOUNCE,    default=2s"`
	RoleCacheTTL       time.Duration `env:"ROLE_CACHE_TTL,       default=30m"`
	ReconcileMarkerTTL time.Duration `env:"RECONCILE_MARKER_TTL, default=1h"`
}

type RealtimeConfig struct {
	Workers int      `env:"REALTIME_WORKERS, default=8"`
	Tables  []string `env:"REALTIME_TABLES,  default=jobs,quotes,messages"`
}

type MongoConfig struct {
	URI      string `env:"MONGO_URI, default=mongodb://localhost:27017"`
	Database string `env:"MONGO_DB,  default=marketplace"`
}

type RedisConfig struct {
	Addr string `env:"REDIS_ADDR, default=localhost:6379"`
	DB   int    `env:"REDIS_DB,   default=0"`
}

// Load reads configuration from environment variables using go-envconfig.
func Load(ctx context.Context) (*Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.AdminEmails = normalizeEmails(cfg.AdminEmails)
	return &cfg, nil
}

// HasTable reports whether table may be streamed over the realtime endpoint.
func (c RealtimeConfig) HasTable(table string) bool {
	for _, t := range c.Tables {
		if t == table {
			return true
		}
	}
	return false
}

func normalizeEmails(in []string) []string {
	out := make([]string, 0, len(in))
	for _, e := range in {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			out = append(out, e)
		}
	}
	return out
}
