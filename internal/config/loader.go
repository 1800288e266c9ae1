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
// built-in defaults, applies NFTMARKET_* environment variable overrides, and
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

// applyEnvOverrides reads well-known NFTMARKET_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStr(&cfg.Engine.Treasury, "NFTMARKET_ENGINE_TREASURY")
	setInt(&cfg.Engine.FeeBps, "NFTMARKET_ENGINE_FEE_BPS")
	setInt(&cfg.Engine.JournalBuffer, "NFTMARKET_ENGINE_JOURNAL_BUFFER")
	setDuration(&cfg.Engine.SweepInterval, "NFTMARKET_ENGINE_SWEEP_INTERVAL")

	// ── Admin ──
	setStringSlice(&cfg.Admin.Admins, "NFTMARKET_ADMIN_ADMINS")
	setStringSlice(&cfg.Admin.PaymentTokens, "NFTMARKET_ADMIN_PAYMENT_TOKENS")
	setStringSlice(&cfg.Admin.NFTContracts, "NFTMARKET_ADMIN_NFT_CONTRACTS")
	setBool(&cfg.Admin.MembershipRequired, "NFTMARKET_ADMIN_MEMBERSHIP_REQUIRED")

	// ── Operator ──
	setStr(&cfg.Operator.ApiKey, "NFTMARKET_OPERATOR_API_KEY")
	setStr(&cfg.Operator.EncryptedKeyPath, "NFTMARKET_OPERATOR_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Operator.KeyPassword, "NFTMARKET_OPERATOR_KEY_PASSWORD")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "NFTMARKET_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "NFTMARKET_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "NFTMARKET_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "NFTMARKET_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "NFTMARKET_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "NFTMARKET_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "NFTMARKET_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "NFTMARKET_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "NFTMARKET_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "NFTMARKET_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "NFTMARKET_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "NFTMARKET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "NFTMARKET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "NFTMARKET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "NFTMARKET_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "NFTMARKET_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "NFTMARKET_REDIS_TLS_ENABLED")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "NFTMARKET_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "NFTMARKET_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "NFTMARKET_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimitPerMin, "NFTMARKET_SERVER_RATE_LIMIT_PER_MIN")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NFTMARKET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NFTMARKET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NFTMARKET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NFTMARKET_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "NFTMARKET_MODE")
	setStr(&cfg.LogLevel, "NFTMARKET_LOG_LEVEL")
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
