package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the reelforge server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Engine   EngineConfig
	Auth     AuthConfig
}

type ServerConfig struct {
	Port           int
	Env            string
	AllowedOrigins []string
	HistoryLimit   int

	// TrustProxyHeaders enables X-Forwarded-For for client addressing.
	TrustProxyHeaders bool
}

type DatabaseConfig struct {
	Driver          string
	URL             string
	SQLitePath      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig is optional; an empty URL disables caching and rate limiting.
type RedisConfig struct {
	URL string
}

// EngineConfig locates the execution engine. It is built once at startup and
// handed to the engine client; nothing mutates it afterwards.
type EngineConfig struct {
	BaseURL         string
	WSURL           string
	MetadataTimeout time.Duration
	SubmitTimeout   time.Duration
	QueueTimeout    time.Duration
	ArtifactTimeout time.Duration
	StatsTimeout    time.Duration

	// MaxArtifactBytes caps how much of one artifact is buffered.
	MaxArtifactBytes int64
}

type AuthConfig struct {
	APIKeyHashes   []string
	RequestsPerMin int
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Load reads configuration from .env files and environment variables and
// returns a validated Config. Variables already set in the environment win
// over .env values.
func Load() (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	cfg := &Config{
		Server: ServerConfig{
			Port:           envInt("REELFORGE_PORT", 8001),
			Env:            envString("REELFORGE_ENV", "development"),
			AllowedOrigins: envList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			HistoryLimit:   envInt("HISTORY_LIMIT", 50),

			TrustProxyHeaders: envBool("TRUST_PROXY_HEADERS", false),
		},
		Database: DatabaseConfig{
			Driver:          envString("DATABASE_DRIVER", DriverPostgres),
			URL:             os.Getenv("DATABASE_URL"),
			SQLitePath:      envString("SQLITE_PATH", "reelforge.db"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Engine: EngineConfig{
			BaseURL:         strings.TrimRight(envString("ENGINE_BASE_URL", "http://127.0.0.1:8188"), "/"),
			WSURL:           os.Getenv("ENGINE_WS_URL"),
			MetadataTimeout: envDuration("ENGINE_METADATA_TIMEOUT", 10*time.Second),
			SubmitTimeout:   envDuration("ENGINE_SUBMIT_TIMEOUT", 10*time.Second),
			QueueTimeout:    envDuration("ENGINE_QUEUE_TIMEOUT", 5*time.Second),
			ArtifactTimeout: envDuration("ENGINE_ARTIFACT_TIMEOUT", 10*time.Second),
			StatsTimeout:    envDuration("ENGINE_STATS_TIMEOUT", 5*time.Second),

			MaxArtifactBytes: int64(envInt("ENGINE_MAX_ARTIFACT_MB", 256)) << 20,
		},
		Auth: AuthConfig{
			APIKeyHashes:   envList("API_KEY_HASHES", nil),
			RequestsPerMin: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
	}

	if cfg.Engine.WSURL == "" {
		cfg.Engine.WSURL = DeriveWSURL(cfg.Engine.BaseURL)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DeriveWSURL maps an http(s) engine URL to its websocket endpoint.
func DeriveWSURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://") + "/ws"
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://") + "/ws"
	default:
		return baseURL + "/ws"
	}
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when DATABASE_DRIVER is postgres")
		}
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when DATABASE_DRIVER is sqlite")
		}
	default:
		return fmt.Errorf("DATABASE_DRIVER must be one of postgres, sqlite; got %q", c.Database.Driver)
	}

	if !strings.HasPrefix(c.Engine.BaseURL, "http://") && !strings.HasPrefix(c.Engine.BaseURL, "https://") {
		return fmt.Errorf("ENGINE_BASE_URL must start with http:// or https://, got %q", c.Engine.BaseURL)
	}

	for name, d := range map[string]time.Duration{
		"ENGINE_METADATA_TIMEOUT": c.Engine.MetadataTimeout,
		"ENGINE_SUBMIT_TIMEOUT":   c.Engine.SubmitTimeout,
		"ENGINE_QUEUE_TIMEOUT":    c.Engine.QueueTimeout,
		"ENGINE_ARTIFACT_TIMEOUT": c.Engine.ArtifactTimeout,
		"ENGINE_STATS_TIMEOUT":    c.Engine.StatsTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if c.Engine.MaxArtifactBytes <= 0 {
		return fmt.Errorf("ENGINE_MAX_ARTIFACT_MB must be positive")
	}

	if c.Server.HistoryLimit < 1 || c.Server.HistoryLimit > 100 {
		return fmt.Errorf("HISTORY_LIMIT must be between 1 and 100, got %d", c.Server.HistoryLimit)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// envList splits a comma-separated variable, dropping empty entries.
func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
