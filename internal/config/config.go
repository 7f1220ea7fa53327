package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

type Config struct {
	Environment string
	Port        string
	CORSOrigins string

	// Upstream platform
	APIBaseURL   string
	FeedURL      string
	DiscussionID string
	APIToken     string
	HTTPTimeout  time.Duration

	// Direct database source (optional, replaces the REST source when set)
	DatabaseURL string
	TablePrefix string

	// Bootstrap payload (JSON or YAML) seeding the current user and preferences
	BootstrapFile string

	// Batching and windowing
	BatchThreshold int
	WorkerLifetime time.Duration
	MaxWindowSize  int
	PageSize       int

	// Logging
	LogDir      string
	LogMaxFiles int

	// Debug flags
	Debug bool
}

func Load() *Config {
	env := getEnv("ENVIRONMENT", "dev")

	return &Config{
		Environment:    env,
		Port:           getEnv("PORT", "8080"),
		CORSOrigins:    getEnv("CORS_ORIGINS", "http://localhost:3000"),
		APIBaseURL:     getEnv("API_BASE_URL", "http://localhost:6543"),
		FeedURL:        getEnv("FEED_URL", ""),
		DiscussionID:   getEnv("DISCUSSION_ID", ""),
		APIToken:       getEnv("API_TOKEN", ""),
		HTTPTimeout:    getDuration("HTTP_TIMEOUT", 30*time.Second),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		TablePrefix:    getTablePrefix(env),
		BootstrapFile:  getEnv("BOOTSTRAP_FILE", ""),
		BatchThreshold: getInt("BATCH_THRESHOLD", BatchThreshold),
		WorkerLifetime: getDuration("WORKER_LIFETIME", WorkerLifetime),
		MaxWindowSize:  getInt("MAX_WINDOW_SIZE", MaxWindowSize),
		PageSize:       getInt("PAGE_SIZE", PageSize),
		LogDir:         getEnv("LOG_DIR", ""),
		LogMaxFiles:    getInt("LOG_MAX_FILES", 10),
		// default to true in dev/test, false in production
		Debug: getEnv("DEBUG", getDefaultDebug(env)) == "true",
	}
}

// Validate checks the values that would otherwise fail late and obscurely
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Environment, validation.Required, validation.In("dev", "test", "prod")),
		validation.Field(&c.Port, validation.Required, is.Port),
		validation.Field(&c.DiscussionID, validation.Required),
		validation.Field(&c.APIBaseURL,
			validation.When(c.DatabaseURL == "", validation.Required, is.URL),
		),
		validation.Field(&c.FeedURL, is.URL),
		validation.Field(&c.BatchThreshold, validation.Required, validation.Min(1), validation.Max(BatchThreshold)),
		validation.Field(&c.WorkerLifetime, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.PageSize, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxWindowSize, validation.Required, validation.Min(c.PageSize)),
		validation.Field(&c.LogMaxFiles, validation.Min(1)),
	)
}

// CORSOriginList splits the comma separated origin list
func (c *Config) CORSOriginList() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// getDefaultDebug returns the default debug setting based on environment
func getDefaultDebug(env string) string {
	if env == "prod" {
		return "false"
	}
	return "true"
}

// getTablePrefix returns the table prefix based on environment
func getTablePrefix(env string) string {
	// Allow manual override via TABLE_PREFIX env var
	if prefix, ok := os.LookupEnv("TABLE_PREFIX"); ok {
		return prefix
	}

	switch env {
	case "prod":
		return ""
	case "test":
		return "test_"
	default:
		return "dev_"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}
