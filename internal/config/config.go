package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Exact tester backends.
const (
	ExactTesterPlanar  = "planar"
	ExactTesterPostGIS = "postgis"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	CORS     CORSConfig
	Index    IndexConfig
	Query    QueryConfig
	Redis    RedisConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string
	PoolMin  int
	PoolMax  int
	// Migrate applies embedded schema migrations on startup.
	Migrate bool
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	Origins []string
}

// IndexConfig controls containment index builds.
type IndexConfig struct {
	CellSize     float64
	MaxCells     int64
	BuildWorkers int
	// AutoBuild rebuilds a missing index on first query instead of failing.
	AutoBuild   bool
	CheckSimple bool
}

// QueryConfig controls batch containment queries.
type QueryConfig struct {
	ChunkSize   int
	Workers     int
	MaxPoints   int
	ExactTester string
}

// RedisConfig holds the index cache connection. An empty Addr disables the
// cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Enabled reports whether a redis address is configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// LoadDotEnv loads a .env file into the process environment if one exists.
// Variables already set are left alone.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables.
// It uses viper to read values and provides sensible defaults for development.
func Load() (*Config, error) {
	v := viper.New()

	// Server
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "")

	// Database
	v.SetDefault("DB_HOST", "host.docker.internal")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "areaindex")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_POOL_MIN", 2)
	v.SetDefault("DB_POOL_MAX", 10)
	v.SetDefault("DB_MIGRATE", true)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:3001")

	// Index builds
	v.SetDefault("INDEX_CELL_SIZE", 0.01)
	v.SetDefault("INDEX_MAX_CELLS", 5_000_000)
	v.SetDefault("INDEX_BUILD_WORKERS", 0)
	v.SetDefault("INDEX_AUTO_BUILD", true)
	v.SetDefault("INDEX_CHECK_SIMPLE", false)

	// Queries
	v.SetDefault("QUERY_CHUNK_SIZE", 5000)
	v.SetDefault("QUERY_WORKERS", 0)
	v.SetDefault("QUERY_MAX_POINTS", 1_000_000)
	v.SetDefault("QUERY_EXACT_TESTER", ExactTesterPlanar)

	// Index cache
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_TTL", "24h")

	// Bind environment variables
	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port:     v.GetString("PORT"),
			Env:      v.GetString("ENV"),
			LogLevel: v.GetString("LOG_LEVEL"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			Name:     v.GetString("DB_NAME"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			SSLMode:  v.GetString("DB_SSLMODE"),
			PoolMin:  v.GetInt("DB_POOL_MIN"),
			PoolMax:  v.GetInt("DB_POOL_MAX"),
			Migrate:  v.GetBool("DB_MIGRATE"),
		},
		CORS: CORSConfig{
			Origins: parseOrigins(v.GetString("CORS_ORIGINS")),
		},
		Index: IndexConfig{
			CellSize:     v.GetFloat64("INDEX_CELL_SIZE"),
			MaxCells:     v.GetInt64("INDEX_MAX_CELLS"),
			BuildWorkers: v.GetInt("INDEX_BUILD_WORKERS"),
			AutoBuild:    v.GetBool("INDEX_AUTO_BUILD"),
			CheckSimple:  v.GetBool("INDEX_CHECK_SIMPLE"),
		},
		Query: QueryConfig{
			ChunkSize:   v.GetInt("QUERY_CHUNK_SIZE"),
			Workers:     v.GetInt("QUERY_WORKERS"),
			MaxPoints:   v.GetInt("QUERY_MAX_POINTS"),
			ExactTester: strings.ToLower(v.GetString("QUERY_EXACT_TESTER")),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
			TTL:      v.GetDuration("REDIS_TTL"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if c.Database.Port == "" {
		return fmt.Errorf("DB_PORT is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("DB_USER is required")
	}
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.Database.PoolMin < 0 {
		return fmt.Errorf("DB_POOL_MIN must be non-negative")
	}
	if c.Database.PoolMax < 1 {
		return fmt.Errorf("DB_POOL_MAX must be at least 1")
	}
	if c.Database.PoolMin > c.Database.PoolMax {
		return fmt.Errorf("DB_POOL_MIN must be less than or equal to DB_POOL_MAX")
	}

	if len(c.CORS.Origins) == 0 {
		return fmt.Errorf("CORS_ORIGINS is required")
	}

	if !(c.Index.CellSize > 0) {
		return fmt.Errorf("INDEX_CELL_SIZE must be positive, got %v", c.Index.CellSize)
	}
	if c.Index.BuildWorkers < 0 {
		return fmt.Errorf("INDEX_BUILD_WORKERS must be non-negative")
	}

	if c.Query.ChunkSize < 1 {
		return fmt.Errorf("QUERY_CHUNK_SIZE must be at least 1")
	}
	if c.Query.Workers < 0 {
		return fmt.Errorf("QUERY_WORKERS must be non-negative")
	}
	if c.Query.MaxPoints < 1 {
		return fmt.Errorf("QUERY_MAX_POINTS must be at least 1")
	}
	switch c.Query.ExactTester {
	case ExactTesterPlanar, ExactTesterPostGIS:
	default:
		return fmt.Errorf("QUERY_EXACT_TESTER must be %q or %q, got %q",
			ExactTesterPlanar, ExactTesterPostGIS, c.Query.ExactTester)
	}

	if c.Redis.Enabled() && c.Redis.TTL < 0 {
		return fmt.Errorf("REDIS_TTL must be non-negative")
	}

	return nil
}

// parseOrigins splits a comma-separated string of origins into a slice.
func parseOrigins(origins string) []string {
	if origins == "" {
		return []string{}
	}

	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
