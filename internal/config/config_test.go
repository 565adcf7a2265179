package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_WithDefaults(t *testing.T) {
	clearConfigEnvVars()

	// Password has no default
	os.Setenv("DB_PASSWORD", "testpass")
	defer os.Unsetenv("DB_PASSWORD")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.Env != "development" {
		t.Errorf("Expected env development, got %s", cfg.Server.Env)
	}
	if cfg.Database.Name != "areaindex" {
		t.Errorf("Expected db name areaindex, got %s", cfg.Database.Name)
	}
	if cfg.Database.PoolMin != 2 || cfg.Database.PoolMax != 10 {
		t.Errorf("Expected pool 2..10, got %d..%d", cfg.Database.PoolMin, cfg.Database.PoolMax)
	}
	if !cfg.Database.Migrate {
		t.Error("Expected migrations to be enabled by default")
	}
	if len(cfg.CORS.Origins) != 2 {
		t.Errorf("Expected 2 CORS origins, got %d", len(cfg.CORS.Origins))
	}
	if cfg.Index.CellSize != 0.01 {
		t.Errorf("Expected cell size 0.01, got %v", cfg.Index.CellSize)
	}
	if cfg.Index.MaxCells != 5_000_000 {
		t.Errorf("Expected max cells 5000000, got %d", cfg.Index.MaxCells)
	}
	if !cfg.Index.AutoBuild {
		t.Error("Expected auto build to be enabled by default")
	}
	if cfg.Query.ChunkSize != 5000 {
		t.Errorf("Expected chunk size 5000, got %d", cfg.Query.ChunkSize)
	}
	if cfg.Query.ExactTester != ExactTesterPlanar {
		t.Errorf("Expected planar exact tester, got %s", cfg.Query.ExactTester)
	}
	if cfg.Redis.Enabled() {
		t.Error("Expected redis cache to be disabled without REDIS_ADDR")
	}
	if cfg.Redis.TTL != 24*time.Hour {
		t.Errorf("Expected redis TTL 24h, got %v", cfg.Redis.TTL)
	}
}

func TestLoad_WithEnvironmentVariables(t *testing.T) {
	clearConfigEnvVars()
	os.Setenv("PORT", "9090")
	os.Setenv("ENV", "production")
	os.Setenv("LOG_LEVEL", "warn")
	os.Setenv("DB_HOST", "localhost")
	os.Setenv("DB_PASSWORD", "testpass")
	os.Setenv("DB_MIGRATE", "false")
	os.Setenv("CORS_ORIGINS", "http://example.com,https://app.example.com")
	os.Setenv("INDEX_CELL_SIZE", "250")
	os.Setenv("INDEX_BUILD_WORKERS", "4")
	os.Setenv("INDEX_AUTO_BUILD", "false")
	os.Setenv("QUERY_CHUNK_SIZE", "1000")
	os.Setenv("QUERY_EXACT_TESTER", "PostGIS")
	os.Setenv("REDIS_ADDR", "localhost:6379")
	os.Setenv("REDIS_DB", "2")
	os.Setenv("REDIS_TTL", "90m")
	defer clearConfigEnvVars()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.LogLevel != "warn" {
		t.Errorf("Expected log level warn, got %s", cfg.Server.LogLevel)
	}
	if cfg.Database.Migrate {
		t.Error("Expected migrations to be disabled")
	}
	if cfg.CORS.Origins[0] != "http://example.com" {
		t.Errorf("Expected first origin http://example.com, got %s", cfg.CORS.Origins[0])
	}
	if cfg.Index.CellSize != 250 {
		t.Errorf("Expected cell size 250, got %v", cfg.Index.CellSize)
	}
	if cfg.Index.BuildWorkers != 4 {
		t.Errorf("Expected 4 build workers, got %d", cfg.Index.BuildWorkers)
	}
	if cfg.Index.AutoBuild {
		t.Error("Expected auto build to be disabled")
	}
	if cfg.Query.ChunkSize != 1000 {
		t.Errorf("Expected chunk size 1000, got %d", cfg.Query.ChunkSize)
	}
	if cfg.Query.ExactTester != ExactTesterPostGIS {
		t.Errorf("Expected postgis exact tester, got %s", cfg.Query.ExactTester)
	}
	if !cfg.Redis.Enabled() || cfg.Redis.DB != 2 || cfg.Redis.TTL != 90*time.Minute {
		t.Errorf("Unexpected redis config: %+v", cfg.Redis)
	}
}

func TestLoad_MissingPassword(t *testing.T) {
	clearConfigEnvVars()

	_, err := Load()
	if err == nil {
		t.Error("Expected error when DB_PASSWORD is missing")
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearConfigEnvVars()
	defer clearConfigEnvVars()

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("DB_PASSWORD=fromfile\nQUERY_CHUNK_SIZE=42\n"), 0o600); err != nil {
		t.Fatalf("Failed to write env file: %v", err)
	}

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv() failed: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Database.Password != "fromfile" {
		t.Errorf("Expected password from .env, got %s", cfg.Database.Password)
	}
	if cfg.Query.ChunkSize != 42 {
		t.Errorf("Expected chunk size 42, got %d", cfg.Query.ChunkSize)
	}
}

func TestLoadDotEnv_MissingFileIsIgnored(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("Expected missing .env to be ignored, got %v", err)
	}
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", Env: "development"},
		Database: DatabaseConfig{
			Host: "localhost", Port: "5432", Name: "areaindex",
			User: "postgres", Password: "postgres", PoolMin: 2, PoolMax: 10,
		},
		CORS:  CORSConfig{Origins: []string{"http://localhost:3000"}},
		Index: IndexConfig{CellSize: 0.01, MaxCells: 1000},
		Query: QueryConfig{ChunkSize: 5000, MaxPoints: 100, ExactTester: ExactTesterPlanar},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing port", func(c *Config) { c.Server.Port = "" }, true},
		{"missing db host", func(c *Config) { c.Database.Host = "" }, true},
		{"missing db password", func(c *Config) { c.Database.Password = "" }, true},
		{"negative pool min", func(c *Config) { c.Database.PoolMin = -1 }, true},
		{"zero pool max", func(c *Config) { c.Database.PoolMin, c.Database.PoolMax = 0, 0 }, true},
		{"pool min greater than max", func(c *Config) { c.Database.PoolMin = 15 }, true},
		{"missing CORS origins", func(c *Config) { c.CORS.Origins = []string{} }, true},
		{"zero cell size", func(c *Config) { c.Index.CellSize = 0 }, true},
		{"negative build workers", func(c *Config) { c.Index.BuildWorkers = -2 }, true},
		{"zero chunk size", func(c *Config) { c.Query.ChunkSize = 0 }, true},
		{"zero max points", func(c *Config) { c.Query.MaxPoints = 0 }, true},
		{"unknown exact tester", func(c *Config) { c.Query.ExactTester = "geos" }, true},
		{"postgis exact tester", func(c *Config) { c.Query.ExactTester = ExactTesterPostGIS }, false},
		{"negative redis ttl", func(c *Config) { c.Redis = RedisConfig{Addr: "x:6379", TTL: -time.Second} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseOrigins(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect []string
	}{
		{"single origin", "http://localhost:3000", []string{"http://localhost:3000"}},
		{"multiple origins", "http://localhost:3000,http://localhost:3001", []string{"http://localhost:3000", "http://localhost:3001"}},
		{"origins with spaces", " http://localhost:3000 , http://localhost:3001 ", []string{"http://localhost:3000", "http://localhost:3001"}},
		{"empty string", "", []string{}},
		{"only commas", ",,,", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseOrigins(tt.input)
			if len(result) != len(tt.expect) {
				t.Errorf("Expected %d origins, got %d", len(tt.expect), len(result))
				return
			}
			for i, origin := range result {
				if origin != tt.expect[i] {
					t.Errorf("Expected origin %s at index %d, got %s", tt.expect[i], i, origin)
				}
			}
		})
	}
}

// clearConfigEnvVars unsets every variable Load reads.
func clearConfigEnvVars() {
	for _, key := range []string{
		"PORT", "ENV", "LOG_LEVEL",
		"DB_HOST", "DB_PORT", "DB_NAME", "DB_USER", "DB_PASSWORD", "DB_SSLMODE",
		"DB_POOL_MIN", "DB_POOL_MAX", "DB_MIGRATE", "CORS_ORIGINS",
		"INDEX_CELL_SIZE", "INDEX_MAX_CELLS", "INDEX_BUILD_WORKERS", "INDEX_AUTO_BUILD", "INDEX_CHECK_SIMPLE",
		"QUERY_CHUNK_SIZE", "QUERY_WORKERS", "QUERY_MAX_POINTS", "QUERY_EXACT_TESTER",
		"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "REDIS_TTL",
	} {
		os.Unsetenv(key)
	}
}
