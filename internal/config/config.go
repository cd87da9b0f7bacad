package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	HomeAssistant HomeAssistantConfig `mapstructure:"home_assistant"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
	Mode string `mapstructure:"mode"`
}

type HomeAssistantConfig struct {
	URL            string          `mapstructure:"url"`
	Token          string          `mapstructure:"token"`
	VerifyTLS      bool            `mapstructure:"verify_tls"`
	RequestTimeout string          `mapstructure:"request_timeout"`
	WebSocket      WebSocketConfig `mapstructure:"websocket"`
	SSE            SSEConfig       `mapstructure:"sse"`
}

// WebSocketConfig controls the persistent hub session.
type WebSocketConfig struct {
	RequestTimeout   string `mapstructure:"request_timeout"`
	ReconnectMinWait string `mapstructure:"reconnect_min_wait"`
	ReconnectMaxWait string `mapstructure:"reconnect_max_wait"`
	PendingMaxWait   string `mapstructure:"pending_max_wait"`
}

// SSEConfig controls the best-effort event stream subscriber.
type SSEConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Path          string `mapstructure:"path"`
	ReconnectWait string `mapstructure:"reconnect_wait"`
}

type CacheConfig struct {
	Backend       string            `mapstructure:"backend"` // "memory" or "redis"
	MaxEntries    int               `mapstructure:"max_entries"`
	DefaultTTL    string            `mapstructure:"default_ttl"`
	TTLOverrides  map[string]string `mapstructure:"ttl_overrides"`  // per operation
	SweepSchedule string            `mapstructure:"sweep_schedule"` // cron spec, memory backend only
}

type RedisConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
	UseTLS    bool   `mapstructure:"use_tls"`
	PoolSize  int    `mapstructure:"pool_size"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ConfigError marks a configuration problem that is fatal at startup.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.AutomaticEnv()

	// Override specific values from env
	viper.BindEnv("home_assistant.url", "HOME_ASSISTANT_URL")
	viper.BindEnv("home_assistant.token", "HOME_ASSISTANT_TOKEN")
	viper.BindEnv("home_assistant.verify_tls", "HOME_ASSISTANT_VERIFY_TLS")
	viper.BindEnv("server.port", "PORT")
	viper.BindEnv("logging.level", "LOG_LEVEL")
	viper.BindEnv("cache.backend", "CACHE_BACKEND")
	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.use_tls", "REDIS_USE_TLS")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8099)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.mode", "production")

	viper.SetDefault("home_assistant.verify_tls", true)
	viper.SetDefault("home_assistant.request_timeout", "30s")
	viper.SetDefault("home_assistant.websocket.request_timeout", "10s")
	viper.SetDefault("home_assistant.websocket.reconnect_min_wait", "1s")
	viper.SetDefault("home_assistant.websocket.reconnect_max_wait", "30s")
	viper.SetDefault("home_assistant.websocket.pending_max_wait", "15s")
	viper.SetDefault("home_assistant.sse.enabled", false)
	viper.SetDefault("home_assistant.sse.path", "/api/stream")
	viper.SetDefault("home_assistant.sse.reconnect_wait", "5s")

	viper.SetDefault("cache.backend", "memory")
	viper.SetDefault("cache.max_entries", 4096)
	viper.SetDefault("cache.default_ttl", "5m")
	viper.SetDefault("cache.sweep_schedule", "@every 1m")
	viper.SetDefault("cache.ttl_overrides", map[string]string{
		"get_all_entities":        "3s",
		"get_entity_state":        "2s",
		"get_all_areas":           "1h",
		"get_area_devices":        "30m",
		"get_entities_by_area":    "30m",
		"get_all_sensors":         "3s",
		"get_sensors_by_category": "3s",
		"get_hub_config":          "1h",
	})

	viper.SetDefault("redis.host", "")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.key_prefix", "pma:hub:")
	viper.SetDefault("redis.pool_size", 10)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// Validate checks the configuration for fatal problems.
func (c *Config) Validate() error {
	if c.HomeAssistant.URL == "" {
		return &ConfigError{Field: "home_assistant.url", Reason: "hub URL is required"}
	}
	if c.HomeAssistant.Token == "" {
		return &ConfigError{Field: "home_assistant.token", Reason: "access token is required"}
	}
	if c.Cache.Backend != "memory" && c.Cache.Backend != "redis" {
		return &ConfigError{Field: "cache.backend", Reason: "must be \"memory\" or \"redis\""}
	}
	if c.Cache.Backend == "redis" && c.Redis.Host == "" {
		return &ConfigError{Field: "redis.host", Reason: "required when cache.backend is \"redis\""}
	}
	if _, err := time.ParseDuration(c.Cache.DefaultTTL); err != nil {
		return &ConfigError{Field: "cache.default_ttl", Reason: err.Error()}
	}
	for op, ttl := range c.Cache.TTLOverrides {
		if _, err := time.ParseDuration(ttl); err != nil {
			return &ConfigError{Field: "cache.ttl_overrides." + op, Reason: err.Error()}
		}
	}
	return nil
}

// RequestTimeoutDuration parses the REST request timeout with a safe default.
func (c *HomeAssistantConfig) RequestTimeoutDuration() time.Duration {
	return parseDurationOr(c.RequestTimeout, 30*time.Second)
}

// Duration helpers for the WebSocket session settings.
func (c *WebSocketConfig) RequestTimeoutDuration() time.Duration {
	return parseDurationOr(c.RequestTimeout, 10*time.Second)
}

func (c *WebSocketConfig) ReconnectMinWaitDuration() time.Duration {
	return parseDurationOr(c.ReconnectMinWait, time.Second)
}

func (c *WebSocketConfig) ReconnectMaxWaitDuration() time.Duration {
	return parseDurationOr(c.ReconnectMaxWait, 30*time.Second)
}

func (c *WebSocketConfig) PendingMaxWaitDuration() time.Duration {
	return parseDurationOr(c.PendingMaxWait, 15*time.Second)
}

// ReconnectWaitDuration parses the SSE reconnect delay.
func (c *SSEConfig) ReconnectWaitDuration() time.Duration {
	return parseDurationOr(c.ReconnectWait, 5*time.Second)
}

// DefaultTTLDuration parses the default cache TTL.
func (c *CacheConfig) DefaultTTLDuration() time.Duration {
	return parseDurationOr(c.DefaultTTL, 5*time.Minute)
}

// TTLFor returns the TTL for an operation, falling back to the default.
func (c *CacheConfig) TTLFor(operation string) time.Duration {
	if raw, ok := c.TTLOverrides[operation]; ok {
		return parseDurationOr(raw, c.DefaultTTLDuration())
	}
	return c.DefaultTTLDuration()
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
