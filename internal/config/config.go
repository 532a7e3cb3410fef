package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	AppEnv       string `mapstructure:"APP_ENV"`
	AppPort      int    `mapstructure:"APP_PORT"`
	DBURL        string `mapstructure:"DB_URL"`
	RedisAddr    string `mapstructure:"REDIS_ADDR"`
	MQTTBroker   string `mapstructure:"MQTT_BROKER"`
	MQTTClientID string `mapstructure:"MQTT_CLIENT_ID"`
	LogLevel     string `mapstructure:"LOG_LEVEL"`
	JWTSecret    string `mapstructure:"JWT_SECRET"`

	DedupWindow          time.Duration `mapstructure:"DEDUP_WINDOW"`
	CommandTTL           time.Duration `mapstructure:"COMMAND_TTL"`
	OfflineThreshold     time.Duration `mapstructure:"OFFLINE_THRESHOLD"`
	OfflineSweepInterval time.Duration `mapstructure:"OFFLINE_SWEEP_INTERVAL"`

	MDNSEnabled   bool   `mapstructure:"MDNS_ENABLED"`
	MDNSLocalName string `mapstructure:"MDNS_LOCAL_NAME"`

	RemoteAccessEnabled    bool          `mapstructure:"REMOTE_ACCESS_ENABLED"`
	RemoteAccessPublicWS   string        `mapstructure:"REMOTE_ACCESS_PUBLIC_WS"`
	RemoteAccessRetryDelay time.Duration `mapstructure:"REMOTE_ACCESS_RETRY_DELAY"`
	AgentID                string        `mapstructure:"AGENT_ID"`
	RelayAddr              string        `mapstructure:"RELAY_ADDR"`
}

// Production reports whether internal error details must be hidden
func (c *Config) Production() bool {
	return c.AppEnv == "production"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_PORT", 8080)
	v.SetDefault("DB_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("MQTT_BROKER", "")
	v.SetDefault("MQTT_CLIENT_ID", "gardenhub")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("DEDUP_WINDOW", "1s")
	v.SetDefault("COMMAND_TTL", "0s")
	v.SetDefault("OFFLINE_THRESHOLD", "2m")
	v.SetDefault("OFFLINE_SWEEP_INTERVAL", "30s")
	v.SetDefault("MDNS_ENABLED", false)
	v.SetDefault("MDNS_LOCAL_NAME", "smart-garden.local")
	v.SetDefault("REMOTE_ACCESS_ENABLED", false)
	v.SetDefault("REMOTE_ACCESS_PUBLIC_WS", "")
	v.SetDefault("REMOTE_ACCESS_RETRY_DELAY", "5s")
	v.SetDefault("AGENT_ID", "")
	v.SetDefault("RELAY_ADDR", ":9090")
}

// LoadConfig reads configuration from .env, config.yaml in dir, and env vars,
// later sources winning.
func LoadConfig(dir string) (*Config, error) {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.DedupWindow <= 0 {
		return fmt.Errorf("DEDUP_WINDOW must be positive, got %s", c.DedupWindow)
	}
	if c.CommandTTL < 0 {
		return fmt.Errorf("COMMAND_TTL must not be negative, got %s", c.CommandTTL)
	}
	if c.OfflineThreshold <= 0 || c.OfflineSweepInterval <= 0 {
		return errors.New("OFFLINE_THRESHOLD and OFFLINE_SWEEP_INTERVAL must be positive")
	}
	if c.CommandTTL > 0 && c.RedisAddr == "" {
		return errors.New("COMMAND_TTL requires REDIS_ADDR for the expiry queue")
	}
	if c.RemoteAccessEnabled && (c.RemoteAccessPublicWS == "" || c.AgentID == "") {
		return errors.New("REMOTE_ACCESS_ENABLED requires REMOTE_ACCESS_PUBLIC_WS and AGENT_ID")
	}
	return nil
}
