package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissingCredentials is the only configuration error that stops the
// process before any cycle runs.
var ErrMissingCredentials = errors.New("config: missing required credentials")

// Config holds all application configuration loaded from environment variables.
type Config struct {
	SourceBaseURL    string
	SourceSearchPath string
	FetchMode        string
	ChromeBin        string

	RequestTimeout  time.Duration
	MaxRetries      int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	RequestDelayMin time.Duration
	RequestDelayMax time.Duration

	MaxResults     int
	CheckResults   int
	SearchResults  int
	MaxConcurrency int
	SendInterval   time.Duration

	SeenCapacity      int
	PriceHistoryLimit int
	DataDir           string
	LockTTL           time.Duration

	NotifyChannel       string
	TelegramBotToken    string
	AdminIDs            []string
	TelegramPoll        bool
	TelegramPollTimeout time.Duration

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPSender   string

	SeenBackend   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PostgresDSN   string
	CSVExportPath string
	NATSURL       string
	MetricsAddr   string

	DaemonMinInterval time.Duration
	DaemonMaxInterval time.Duration
	DefaultQueries    []string
	TopQueries        int

	LogLevel    string
	LogEncoding string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		SourceBaseURL:    strings.TrimRight(getEnv("SOURCE_BASE_URL", "https://www.avito.ru"), "/"),
		SourceSearchPath: getEnv("SOURCE_SEARCH_PATH", "/rossiya"),
		FetchMode:        strings.ToLower(getEnv("FETCH_MODE", "http")),
		ChromeBin:        getEnv("CHROME_BIN", ""),

		RequestTimeout:  getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		MaxRetries:      getEnvInt("MAX_RETRIES", 3),
		RetryBaseDelay:  getEnvDuration("RETRY_BASE_DELAY", 4*time.Second),
		RetryMaxDelay:   getEnvDuration("RETRY_MAX_DELAY", 10*time.Second),
		RequestDelayMin: getEnvDuration("REQUEST_DELAY_MIN", time.Second),
		RequestDelayMax: getEnvDuration("REQUEST_DELAY_MAX", 4*time.Second),

		MaxResults:     getEnvInt("MAX_RESULTS", 10),
		CheckResults:   getEnvInt("CHECK_RESULTS", 3),
		SearchResults:  getEnvInt("SEARCH_RESULTS", 5),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 1),
		SendInterval:   getEnvDuration("SEND_INTERVAL", 300*time.Millisecond),

		SeenCapacity:      getEnvInt("SEEN_CAPACITY", 1000),
		PriceHistoryLimit: getEnvInt("PRICE_HISTORY_LIMIT", 100),
		DataDir:           getEnv("DATA_DIR", "./data"),
		LockTTL:           getEnvDuration("LOCK_TTL", 30*time.Minute),

		NotifyChannel:       strings.ToLower(getEnv("NOTIFY_CHANNEL", "telegram")),
		TelegramBotToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
		AdminIDs:            getEnvList("TELEGRAM_ADMIN_IDS", nil),
		TelegramPoll:        getEnvBool("TELEGRAM_POLL", true),
		TelegramPollTimeout: getEnvDuration("TELEGRAM_POLL_TIMEOUT", 30*time.Second),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvInt("SMTP_PORT", 587),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPSender:   getEnv("SMTP_SENDER", ""),

		SeenBackend:   strings.ToLower(getEnv("SEEN_BACKEND", "file")),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		PostgresDSN:   getEnv("POSTGRES_DSN", ""),
		CSVExportPath: getEnv("CSV_EXPORT_PATH", ""),
		NATSURL:       getEnv("NATS_URL", ""),
		MetricsAddr:   getEnv("METRICS_ADDR", ""),

		DaemonMinInterval: getEnvDuration("DAEMON_MIN_INTERVAL", 25*time.Minute),
		DaemonMaxInterval: getEnvDuration("DAEMON_MAX_INTERVAL", 35*time.Minute),
		DefaultQueries:    getEnvList("DEFAULT_QUERIES", []string{"iphone 13", "macbook", "ps5", "велосипед", "диван"}),
		TopQueries:        getEnvInt("TOP_QUERIES", 5),

		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogEncoding: getEnv("LOG_ENCODING", "console"),
	}
}

// Validate reports missing credentials for the selected notification channel.
func (c *Config) Validate() error {
	switch c.NotifyChannel {
	case "telegram":
		if c.TelegramBotToken == "" {
			return fmt.Errorf("%w: TELEGRAM_BOT_TOKEN is not set", ErrMissingCredentials)
		}
	case "email":
		if c.SMTPHost == "" || c.SMTPSender == "" {
			return fmt.Errorf("%w: SMTP_HOST and SMTP_SENDER are required", ErrMissingCredentials)
		}
	case "log":
	default:
		return fmt.Errorf("config: unknown NOTIFY_CHANNEL %q", c.NotifyChannel)
	}
	return nil
}

// Path joins elements under the data directory.
func (c *Config) Path(elem ...string) string {
	return filepath.Join(append([]string{c.DataDir}, elem...)...)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
