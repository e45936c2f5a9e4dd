// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/cbr-rates-crawler/internal/crawler"
)

// EnvPrefix prefixes every environment override, e.g. CBR_DB_DSN.
const EnvPrefix = "CBR"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Source  SourceConfig  `mapstructure:"source"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	DB      DBConfig      `mapstructure:"db"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// SourceConfig describes the rates page and how to reach it.
type SourceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	UserAgent      string        `mapstructure:"user_agent"`
	ProxyURL       string        `mapstructure:"proxy_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateBurst      int           `mapstructure:"rate_burst"`
}

// RetryConfig configures fetch retries.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// CrawlerConfig governs the date range and wave size. Dates are YYYY-MM-DD;
// an empty DateTo means today.
type CrawlerConfig struct {
	MinDate        string `mapstructure:"min_date"`
	DateFrom       string `mapstructure:"date_from"`
	DateTo         string `mapstructure:"date_to"`
	Resume         bool   `mapstructure:"resume"`
	MaxConcurrency int    `mapstructure:"max_concurrency"`
	Cron           string `mapstructure:"cron"`
	Location       string `mapstructure:"location"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// ServerConfig controls the ops HTTP server; an empty Addr disables it.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from .env, an optional file, and the environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source.base_url", "https://www.cbr.ru/currency_base/daily/")
	v.SetDefault("source.user_agent", "cbr-rates-crawler/1.0")
	v.SetDefault("source.proxy_url", "")
	v.SetDefault("source.request_timeout", 30*time.Second)
	v.SetDefault("source.rate_limit", 0.0)
	v.SetDefault("source.rate_burst", 1)
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.base_delay", 200*time.Millisecond)
	v.SetDefault("retry.max_delay", 3*time.Second)
	v.SetDefault("crawler.min_date", crawler.MinDate.Format(crawler.DateLayout))
	v.SetDefault("crawler.date_from", "")
	v.SetDefault("crawler.date_to", "")
	v.SetDefault("crawler.resume", true)
	v.SetDefault("crawler.max_concurrency", 1000)
	v.SetDefault("crawler.cron", "0 12 * * *")
	v.SetDefault("crawler.location", "Europe/Moscow")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 16)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("server.addr", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.MaxConcurrency <= 0 {
		return fmt.Errorf("crawler.max_concurrency must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Retry.BaseDelay <= 0 {
		return fmt.Errorf("retry.base_delay must be > 0")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry.max_delay must be >= retry.base_delay")
	}
	if c.Source.RequestTimeout <= 0 {
		return fmt.Errorf("source.request_timeout must be > 0")
	}
	if c.Source.RateLimit < 0 || c.Source.RateBurst < 0 {
		return fmt.Errorf("source.rate_limit and source.rate_burst must be >= 0")
	}
	if c.DB.MaxConns < 0 || c.DB.MinConns < 0 || (c.DB.MaxConns > 0 && c.DB.MinConns > c.DB.MaxConns) {
		return fmt.Errorf("db.min_conns must be between 0 and db.max_conns")
	}
	minDate, err := c.Crawler.MinDateValue()
	if err != nil {
		return err
	}
	from, to, err := c.Crawler.Bounds()
	if err != nil {
		return err
	}
	if !from.IsZero() && from.Before(minDate) {
		return fmt.Errorf("crawler.date_from must not be before crawler.min_date")
	}
	if to != nil && !from.IsZero() && from.After(*to) {
		return fmt.Errorf("crawler.date_from must not be after crawler.date_to")
	}
	if _, err := c.Crawler.TimeLocation(); err != nil {
		return err
	}
	return nil
}

// RetryPolicy converts the retry settings into a crawler.RetryPolicy.
func (c Config) RetryPolicy() crawler.RetryPolicy {
	return crawler.RetryPolicy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay,
		MaxDelay:    c.Retry.MaxDelay,
	}
}

// MinDateValue parses crawler.min_date.
func (c CrawlerConfig) MinDateValue() (time.Time, error) {
	if c.MinDate == "" {
		return crawler.MinDate, nil
	}
	d, err := crawler.ParseDate(c.MinDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("crawler.min_date: %w", err)
	}
	return d, nil
}

// Bounds parses crawler.date_from and crawler.date_to. A zero from and a
// nil to mean the defaults.
func (c CrawlerConfig) Bounds() (time.Time, *time.Time, error) {
	var from time.Time
	if c.DateFrom != "" {
		d, err := crawler.ParseDate(c.DateFrom)
		if err != nil {
			return time.Time{}, nil, fmt.Errorf("crawler.date_from: %w", err)
		}
		from = d
	}
	if c.DateTo == "" {
		return from, nil, nil
	}
	to, err := crawler.ParseDate(c.DateTo)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("crawler.date_to: %w", err)
	}
	return from, &to, nil
}

// TimeLocation loads crawler.location for cron scheduling.
func (c CrawlerConfig) TimeLocation() (*time.Location, error) {
	if c.Location == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Location)
	if err != nil {
		return nil, fmt.Errorf("crawler.location: %w", err)
	}
	return loc, nil
}
