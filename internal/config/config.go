// Package config loads the gateway configuration from YAML with environment
// overrides for deployment-specific values.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Database       DatabaseConfig       `yaml:"database"`
	Redis          RedisConfig          `yaml:"redis"`
	Broadcast      BroadcastConfig      `yaml:"broadcast"`
	Cache          CacheConfig          `yaml:"cache"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

type BroadcastConfig struct {
	DeadlineMs      int        `yaml:"deadline_ms"`
	ShutdownGraceMs int        `yaml:"shutdown_grace_ms"`
	Pool            PoolConfig `yaml:"pool"`
}

type PoolConfig struct {
	CoreWorkers int `yaml:"core_workers"`
	MaxWorkers  int `yaml:"max_workers"`
	QueueSize   int `yaml:"queue_size"`
}

type CacheConfig struct {
	MaxSize    int `yaml:"max_size"`
	TTLMinutes int `yaml:"ttl_minutes"`
}

type CircuitBreakerConfig struct {
	SlidingWindowSize      int     `yaml:"sliding_window_size"`
	MinimumCalls           int     `yaml:"minimum_calls"`
	FailureRateThreshold   float64 `yaml:"failure_rate_threshold"`
	SlowCallRateThreshold  float64 `yaml:"slow_call_rate_threshold"`
	SlowCallThresholdMs    int     `yaml:"slow_call_threshold_ms"`
	OpenStateDurationMs    int     `yaml:"open_state_duration_ms"`
	HalfOpenMaxCalls       int     `yaml:"half_open_max_calls"`
	EvictionThresholdHours int     `yaml:"eviction_threshold_hours"`
	SweepIntervalMinutes   int     `yaml:"sweep_interval_minutes"`
}

type RateLimitConfig struct {
	MaxCallsPerMinute int `yaml:"max_calls_per_minute"`
	BurstSize         int `yaml:"burst_size"`
}

// Default returns the built-in configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", Env: "dev"},
		Broadcast: BroadcastConfig{
			DeadlineMs:      5000,
			ShutdownGraceMs: 5000,
			Pool:            PoolConfig{CoreWorkers: 10, MaxWorkers: 50, QueueSize: 100},
		},
		Cache: CacheConfig{MaxSize: 100, TTLMinutes: 30},
		CircuitBreaker: CircuitBreakerConfig{
			SlidingWindowSize:      10,
			MinimumCalls:           5,
			FailureRateThreshold:   0.5,
			SlowCallRateThreshold:  0.5,
			SlowCallThresholdMs:    2000,
			OpenStateDurationMs:    10000,
			HalfOpenMaxCalls:       3,
			EvictionThresholdHours: 24,
			SweepIntervalMinutes:   60,
		},
		RateLimit: RateLimitConfig{MaxCallsPerMinute: 300, BurstSize: 600},
	}
}

// LoadConfig reads a YAML file on top of the defaults and then applies
// environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	return cfg, nil
}

// LoadConfigOrDefault behaves like LoadConfig but falls back to defaults
// (plus environment overrides) when the file does not exist.
func LoadConfigOrDefault(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if os.IsNotExist(err) {
		cfg = Default()
		cfg.applyEnv()
		return cfg, nil
	}
	return cfg, err
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = db
		}
	}
}

// BroadcastDeadline is the global budget for one fan-out.
func (c *Config) BroadcastDeadline() time.Duration {
	return time.Duration(c.Broadcast.DeadlineMs) * time.Millisecond
}

// ShutdownGrace is how long teardown waits for in-flight work.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Broadcast.ShutdownGraceMs) * time.Millisecond
}

// CacheTTL is the partner cache time-to-live from write.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMinutes) * time.Minute
}
