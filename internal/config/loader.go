package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PARI_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PARI_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStr(&cfg.Engine.Treasury, "PARI_ENGINE_TREASURY")
	setStr(&cfg.Engine.Admin, "PARI_ENGINE_ADMIN")

	// ── Oracle ──
	setStringSlice(&cfg.Oracle.Operators, "PARI_ORACLE_OPERATORS")
	setStr(&cfg.Oracle.Salt, "PARI_ORACLE_SALT")

	// ── Relay ──
	setBool(&cfg.Relay.Enabled, "PARI_RELAY_ENABLED")
	setStr(&cfg.Relay.PrivateKey, "PARI_RELAY_PRIVATE_KEY")
	setStr(&cfg.Relay.EncryptedKeyPath, "PARI_RELAY_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Relay.KeyPassword, "PARI_RELAY_KEY_PASSWORD")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "PARI_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "PARI_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PARI_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PARI_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PARI_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PARI_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PARI_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PARI_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PARI_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PARI_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PARI_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PARI_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PARI_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PARI_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PARI_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PARI_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PARI_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PARI_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PARI_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PARI_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PARI_S3_REGION")
	setStr(&cfg.S3.Bucket, "PARI_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PARI_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PARI_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PARI_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PARI_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "PARI_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PARI_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PARI_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "PARI_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "PARI_SERVER_RATE_WINDOW")

	// ── Top-level ──
	setStr(&cfg.Mode, "PARI_MODE")
	setStr(&cfg.LogLevel, "PARI_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
