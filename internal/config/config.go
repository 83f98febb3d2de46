package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds application configuration
type Config struct {
	// Database settings. Driver is "mysql" for deployments and
	// "sqlite3" for single-node / local use.
	DBDriver   string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPath     string // sqlite3 only

	// Server settings
	ServerPort string
	Env        string

	// CORS settings
	AllowedOrigins []string

	// Tiling settings
	TileSize     int
	MaxTiles     int // per viewport request
	SnapshotRoot string

	// Room bootstrap cache
	BootstrapTTLSeconds int
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// Load loads configuration from environment variables
func Load() Config {
	cfg := Config{
		DBDriver:   envOr("DB_DRIVER", "mysql"),
		DBHost:     envOr("DB_HOST", "localhost"),
		DBPort:     envOr("DB_PORT", "3306"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBPath:     envOr("DB_PATH", "tileboard.db"),

		ServerPort: envOr("SERVER_PORT", "8080"),
		Env:        envOr("ENV", "development"),

		TileSize:     envIntOr("TILE_SIZE", 512),
		MaxTiles:     envIntOr("MAX_TILES_PER_REQUEST", 100),
		SnapshotRoot: envOr("SNAPSHOT_ROOT", "snapshots"),

		BootstrapTTLSeconds: envIntOr("BOOTSTRAP_CACHE_TTL_SEC", 10),
	}

	allowedOrigins := envOr("ALLOWED_ORIGINS", "http://localhost:3000,http://127.0.0.1:3000")
	cfg.AllowedOrigins = strings.Split(allowedOrigins, ",")
	for i := range cfg.AllowedOrigins {
		cfg.AllowedOrigins[i] = strings.TrimSpace(cfg.AllowedOrigins[i])
	}

	return cfg
}
