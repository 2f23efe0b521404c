package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"trading-scanner/internal/model"
	"trading-scanner/internal/scan"
)

// Analysis types. Each selects a default analysis column.
const (
	AnalysisFund  = "fund"
	AnalysisStock = "stock"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheEnabled  bool
	CacheTTL      time.Duration
	SQLitePath    string
	MetricsAddr   string
	LogLevel      string
	LogFormat     string

	// Scan
	Analysis      string   // "fund" or "stock"
	Column        string   // empty: default column of Analysis
	CriteriaPath  string   // YAML criteria; empty: built-in defaults
	Workers       int
	MinThreshold  float64  // floor applied to both criteria thresholds
	LookbackDays  int
	Instruments   []string // explicit ids; empty: every instrument of Analysis
	Include       []string // name keywords, any must match
	Exclude       []string // name keywords, none may match
	CaseSensitive bool

	// Schedule (empty ScanCron: run once and exit)
	ScanCron string
	Timezone string
	Holidays string // comma-separated YYYY-MM-DD

	// Alerts
	AlertMinScore    float64
	WebhookURL       string
	TelegramBotToken string
	TelegramChatID   string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		CacheEnabled:  getEnvBool("CACHE_ENABLED", true),
		CacheTTL:      getEnvDuration("CACHE_TTL", 6*time.Hour),
		SQLitePath:    getEnv("SQLITE_PATH", "data/scanner.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "json"),

		Analysis:      strings.ToLower(getEnv("ANALYSIS", AnalysisStock)),
		Column:        getEnv("SCAN_COLUMN", ""),
		CriteriaPath:  getEnv("CRITERIA_PATH", ""),
		Workers:       getEnvInt("SCAN_WORKERS", 4),
		MinThreshold:  getEnvFloat("MIN_THRESHOLD", 0.0),
		LookbackDays:  getEnvInt("LOOKBACK_DAYS", 400),
		Instruments:   ParseList(getEnv("INSTRUMENTS", "")),
		Include:       ParseList(getEnv("INCLUDE_KEYWORDS", "")),
		Exclude:       ParseList(getEnv("EXCLUDE_KEYWORDS", "")),
		CaseSensitive: getEnvBool("CASE_SENSITIVE", false),

		ScanCron: getEnv("SCAN_CRON", ""),
		Timezone: getEnv("TIMEZONE", "UTC"),
		Holidays: getEnv("HOLIDAYS", ""),

		AlertMinScore:    getEnvFloat("ALERT_MIN_SCORE", 1.0),
		WebhookURL:       getEnv("ALERT_WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	if c.Analysis != AnalysisFund && c.Analysis != AnalysisStock {
		errs = append(errs, fmt.Errorf("ANALYSIS must be %q or %q, got %q", AnalysisFund, AnalysisStock, c.Analysis))
	}
	if c.SQLitePath == "" {
		errs = append(errs, errors.New("SQLITE_PATH is required"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("SCAN_WORKERS must be >= 1, got %d", c.Workers))
	}
	if c.MinThreshold < 0 {
		errs = append(errs, fmt.Errorf("MIN_THRESHOLD must be >= 0, got %v", c.MinThreshold))
	}
	if c.LookbackDays <= 0 {
		errs = append(errs, fmt.Errorf("LOOKBACK_DAYS must be positive, got %d", c.LookbackDays))
	}
	if c.ScanCron != "" {
		if _, err := cron.ParseStandard(c.ScanCron); err != nil {
			errs = append(errs, fmt.Errorf("SCAN_CRON: %w", err))
		}
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("TIMEZONE: %w", err))
	}
	if _, err := c.ParseHolidays(); err != nil {
		errs = append(errs, err)
	}
	if (c.TelegramBotToken == "") != (c.TelegramChatID == "") {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together"))
	}
	return errors.Join(errs...)
}

// AnalysisColumn returns the configured column, or the default column of
// the analysis type: nav for funds, close for stocks.
func (c *Config) AnalysisColumn() string {
	if c.Column != "" {
		return c.Column
	}
	if c.Analysis == AnalysisFund {
		return model.ColNAV
	}
	return model.ColClose
}

// Location returns the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// ParseHolidays parses the Holidays list into dates.
func (c *Config) ParseHolidays() ([]time.Time, error) {
	var out []time.Time
	for _, p := range ParseList(c.Holidays) {
		d, err := time.Parse(model.DateLayout, p)
		if err != nil {
			return nil, fmt.Errorf("HOLIDAYS: invalid date %q: %w", p, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// DefaultCriteria returns the built-in criteria: an equal-weight blend of
// the oscillators and trend filters with ±1.0 thresholds.
func DefaultCriteria(column string) *scan.Criteria {
	return &scan.Criteria{
		Column: column,
		Weights: map[string]float64{
			"rsi":        1.0,
			"macd":       1.0,
			"adx":        1.0,
			"momentum":   1.0,
			"ema_regime": 1.0,
		},
		BuyThreshold:  1.0,
		SellThreshold: 1.0,
	}
}

// LoadCriteria reads scan criteria from a YAML file. An empty path returns
// DefaultCriteria. A criteria file without a column uses column.
func LoadCriteria(path, column string) (*scan.Criteria, error) {
	if path == "" {
		return DefaultCriteria(column), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read criteria: %w", err)
	}
	c := &scan.Criteria{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse criteria: %w", err)
	}
	if c.Column == "" {
		c.Column = column
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("criteria %s: %w", path, err)
	}
	return c, nil
}

// ParseList splits a comma-separated value, trimming blanks.
func ParseList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
