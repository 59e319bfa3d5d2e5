// Package config defines all configuration for the signal relay.
// Tunables carry defaults and may be set from an optional YAML file with
// RELAY_* environment overrides; credentials and deploy-varying values are
// read from the unprefixed environment keys listed on Load.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration, constructed once at startup and
// passed down; nothing mutates it mid-run.
type Config struct {
	Production bool           `mapstructure:"production"`
	Database   DatabaseConfig `mapstructure:"database"`
	Queue      QueueConfig    `mapstructure:"queue"`
	AI         AIConfig       `mapstructure:"ai"`
	Feed       FeedConfig     `mapstructure:"feed"`
	Extract    ExtractConfig  `mapstructure:"extract"`
	Server     ServerConfig   `mapstructure:"server"`
	Logging    LoggingConfig  `mapstructure:"logging"`
}

// DatabaseConfig holds the relational store settings. The pool pings
// connections on acquire and recycles them after MaxConnLifetime.
type DatabaseConfig struct {
	URL                   string        `mapstructure:"url"`
	MaxConns              int           `mapstructure:"max_conns"`
	MaxConnLifetime       time.Duration `mapstructure:"max_conn_lifetime"`
	CreateTablesOnStartup bool          `mapstructure:"create_tables_on_startup"`
}

// QueueConfig holds the session / pending-queue store settings.
//
//   - Namespace: optional key prefix, applied as "<ns>:" when non-empty.
//   - SessionTTL: lifetime of a session record, reset on every poll.
//   - Retries/RetryBackoff: transient-error retry policy (exponential).
//   - ScanCount/MGetBatch: cursor and batch sizes for bulk reads.
//   - JanitorInterval: how often dead tokens are pruned from the
//     copy-setup reverse index.
type QueueConfig struct {
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	Namespace       string        `mapstructure:"namespace"`
	SessionTTL      time.Duration `mapstructure:"session_ttl"`
	Retries         int           `mapstructure:"retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	ScanCount       int64         `mapstructure:"scan_count"`
	MGetBatch       int           `mapstructure:"mget_batch"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
}

// AIConfig holds the model-assisted extractor settings. Retries apply only
// to transient failures (rate limit, timeouts, 5xx); auth and bad-request
// errors fail fast.
type AIConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Model        string        `mapstructure:"model"`
	Retries      int           `mapstructure:"retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RatePerSec   float64       `mapstructure:"rate_per_sec"`
	RateBurst    float64       `mapstructure:"rate_burst"`
}

// FeedConfig holds the chat-source adapter settings. APIID and APIHash
// authenticate against the bridge; SessionName keys the local resume state
// so a restart continues from the last confirmed event.
type FeedConfig struct {
	URL         string `mapstructure:"url"`
	APIID       string `mapstructure:"api_id"`
	APIHash     string `mapstructure:"api_hash"`
	SessionName string `mapstructure:"session_name"`
	StateDir    string `mapstructure:"state_dir"`
}

// ExtractConfig tunes the extraction pipeline. MaxErrorsForAI is the
// validation-error threshold below which the model-assisted fallback runs:
// a message failing with fewer errors looked signal-ish but incomplete.
type ExtractConfig struct {
	MaxErrorsForAI int `mapstructure:"max_errors_for_ai"`
}

// ServerConfig controls the HTTP polling surface.
type ServerConfig struct {
	Port    int    `mapstructure:"port"`
	AdminPW string `mapstructure:"admin_pw"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load builds the configuration from defaults, an optional YAML file, and
// the environment. Recognized unprefixed keys: DATABASE_URL, OPENAI_KEY,
// CHAT_API_ID, CHAT_API_HASH, CHAT_SESSION_NAME, ADMIN_PW,
// CREATE_TABLES_ON_STARTUP, MAX_EXCEPTIONS_FOR_AI_SIGNAL_EXTRACTION,
// PRODUCTION. Everything else is overridable as RELAY_<section>_<key>.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Credentials and deploy-varying values from the environment
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if key := os.Getenv("OPENAI_KEY"); key != "" {
		cfg.AI.APIKey = key
	}
	if id := os.Getenv("CHAT_API_ID"); id != "" {
		cfg.Feed.APIID = id
	}
	if hash := os.Getenv("CHAT_API_HASH"); hash != "" {
		cfg.Feed.APIHash = hash
	}
	if name := os.Getenv("CHAT_SESSION_NAME"); name != "" {
		cfg.Feed.SessionName = name
	}
	if pw := os.Getenv("ADMIN_PW"); pw != "" {
		cfg.Server.AdminPW = pw
	}
	if s := os.Getenv("CREATE_TABLES_ON_STARTUP"); s != "" {
		cfg.Database.CreateTablesOnStartup = envBool(s)
	}
	if s := os.Getenv("MAX_EXCEPTIONS_FOR_AI_SIGNAL_EXTRACTION"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("MAX_EXCEPTIONS_FOR_AI_SIGNAL_EXTRACTION: %w", err)
		}
		cfg.Extract.MaxErrorsForAI = n
	}
	if s := os.Getenv("PRODUCTION"); s != "" {
		cfg.Production = envBool(s)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("production", false)

	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("database.create_tables_on_startup", false)

	v.SetDefault("queue.addr", "127.0.0.1:6379")
	v.SetDefault("queue.db", 0)
	v.SetDefault("queue.namespace", "")
	v.SetDefault("queue.session_ttl", time.Hour)
	v.SetDefault("queue.retries", 3)
	v.SetDefault("queue.retry_backoff", 120*time.Millisecond)
	v.SetDefault("queue.scan_count", 512)
	v.SetDefault("queue.mget_batch", 512)
	v.SetDefault("queue.janitor_interval", 10*time.Minute)

	v.SetDefault("ai.base_url", "https://api.openai.com/v1")
	v.SetDefault("ai.model", "gpt-4o")
	v.SetDefault("ai.retries", 2)
	v.SetDefault("ai.retry_backoff", 750*time.Millisecond)
	v.SetDefault("ai.timeout", 30*time.Second)
	v.SetDefault("ai.rate_per_sec", 2)
	v.SetDefault("ai.rate_burst", 4)

	v.SetDefault("feed.url", "ws://127.0.0.1:8090/updates")
	v.SetDefault("feed.session_name", "relay")
	v.SetDefault("feed.state_dir", "data")

	v.SetDefault("extract.max_errors_for_ai", 3)

	v.SetDefault("server.port", 8000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// envBool treats 1/true/yes/on (any case) as true, everything else as false.
func envBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required (set DATABASE_URL)")
	}
	if c.AI.APIKey == "" {
		return fmt.Errorf("ai.api_key is required (set OPENAI_KEY)")
	}
	if c.Feed.APIID == "" || c.Feed.APIHash == "" {
		return fmt.Errorf("feed credentials are required (set CHAT_API_ID and CHAT_API_HASH)")
	}
	if c.Feed.SessionName == "" {
		return fmt.Errorf("feed.session_name must not be empty (set CHAT_SESSION_NAME)")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535]")
	}
	if c.Queue.SessionTTL <= 0 {
		return fmt.Errorf("queue.session_ttl must be > 0")
	}
	if c.Queue.Retries < 0 {
		return fmt.Errorf("queue.retries must be >= 0")
	}
	if c.Extract.MaxErrorsForAI < 1 {
		return fmt.Errorf("extract.max_errors_for_ai must be >= 1")
	}
	if c.AI.Timeout <= 0 {
		return fmt.Errorf("ai.timeout must be > 0")
	}
	return nil
}
