package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration. Values come from an optional
// YAML file, then environment variables, then defaults.
type Config struct {
	Feed      FeedConfig      `yaml:"feed"`
	Sentiment SentimentConfig `yaml:"sentiment"`
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	LogLevel  string          `yaml:"log_level"`
}

// FeedConfig describes the simulated instrument.
type FeedConfig struct {
	Symbol       string        `yaml:"symbol"`
	BasePrice    float64       `yaml:"base_price"`
	WindowSize   int           `yaml:"window_size"`
	TickInterval time.Duration `yaml:"tick_interval"`
	Seed         int64         `yaml:"seed"` // 0 = seed from wall clock
	StartLive    *bool         `yaml:"start_live"`
}

// SentimentConfig sets the gauge and traffic-light periods.
type SentimentConfig struct {
	GaugeInterval     time.Duration `yaml:"gauge_interval"`
	ConditionInterval time.Duration `yaml:"condition_interval"`
}

// ServerConfig holds listen addresses.
type ServerConfig struct {
	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// RedisConfig enables the redis fan-out when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// Enabled reports whether a redis address is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// Live reports whether the feed should start ticking immediately.
func (f FeedConfig) Live() bool { return f.StartLive == nil || *f.StartLive }

// Default returns the dashboard's out-of-the-box configuration.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads path (if non-empty and present), applies environment overrides
// and defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("FEED_SYMBOL"); v != "" {
		c.Feed.Symbol = v
	}
	if v, ok := envFloat("FEED_BASE_PRICE"); ok {
		c.Feed.BasePrice = v
	}
	if v, ok := envInt("FEED_WINDOW_SIZE"); ok {
		c.Feed.WindowSize = v
	}
	if v, ok := envMillis("FEED_TICK_INTERVAL_MS"); ok {
		c.Feed.TickInterval = v
	}
	if v, ok := envInt("FEED_SEED"); ok {
		c.Feed.Seed = int64(v)
	}
	if v := os.Getenv("FEED_START_LIVE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Feed.StartLive = &b
		} else {
			log.Printf("[config] ignoring invalid FEED_START_LIVE: %q", v)
		}
	}
	if v, ok := envMillis("GAUGE_INTERVAL_MS"); ok {
		c.Sentiment.GaugeInterval = v
	}
	if v, ok := envMillis("CONDITION_INTERVAL_MS"); ok {
		c.Sentiment.ConditionInterval = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.Server.HTTPAddr = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		c.Server.MetricsAddr = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("REDIS_CHANNEL"); v != "" {
		c.Redis.Channel = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func (c *Config) applyDefaults() {
	if c.Feed.Symbol == "" {
		c.Feed.Symbol = "XAU/USD"
	}
	if c.Feed.BasePrice == 0 {
		c.Feed.BasePrice = 2640
	}
	if c.Feed.WindowSize == 0 {
		c.Feed.WindowSize = 24
	}
	if c.Feed.TickInterval == 0 {
		c.Feed.TickInterval = 3 * time.Second
	}
	if c.Sentiment.GaugeInterval == 0 {
		c.Sentiment.GaugeInterval = 5 * time.Second
	}
	if c.Sentiment.ConditionInterval == 0 {
		c.Sentiment.ConditionInterval = 10 * time.Second
	}
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Server.MetricsAddr == "" {
		c.Server.MetricsAddr = ":9090"
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = ChannelFor(c.Feed.Symbol)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.Feed.Symbol == "" {
		return fmt.Errorf("feed.symbol must not be empty")
	}
	// the symbol is written unescaped into websocket envelope channels
	if strings.ContainsFunc(c.Feed.Symbol, func(r rune) bool { return r == '"' || r == '\\' || r < 0x20 }) {
		return fmt.Errorf("feed.symbol %q contains a quote, backslash or control character", c.Feed.Symbol)
	}
	if c.Feed.BasePrice <= 0 {
		return fmt.Errorf("feed.base_price must be positive")
	}
	if c.Feed.WindowSize <= 0 {
		return fmt.Errorf("feed.window_size must be positive")
	}
	if c.Feed.TickInterval <= 0 {
		return fmt.Errorf("feed.tick_interval must be positive")
	}
	if c.Sentiment.GaugeInterval <= 0 || c.Sentiment.ConditionInterval <= 0 {
		return fmt.Errorf("sentiment intervals must be positive")
	}
	return nil
}

// ChannelFor returns the default redis channel for a symbol:
// "synthfeed:candles:XAUUSD".
func ChannelFor(symbol string) string {
	clean := strings.Map(func(r rune) rune {
		if r == '/' || r == ' ' || r == ':' {
			return -1
		}
		return r
	}, strings.ToUpper(symbol))
	return "synthfeed:candles:" + clean
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] ignoring invalid %s: %q", key, v)
		return 0, false
	}
	return n, true
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] ignoring invalid %s: %q", key, v)
		return 0, false
	}
	return f, true
}

func envMillis(key string) (time.Duration, bool) {
	n, ok := envInt(key)
	if !ok {
		return 0, false
	}
	return time.Duration(n) * time.Millisecond, true
}
