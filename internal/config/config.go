package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Twitch  TwitchConfig  `mapstructure:"twitch"`
	Tracker TrackerConfig `mapstructure:"tracker"`
	Watcher WatcherConfig `mapstructure:"watcher"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Games   []string      `mapstructure:"games"`
}

type TwitchConfig struct {
	ClientID      string `mapstructure:"client_id"`
	Token         string `mapstructure:"token"`
	APIURL        string `mapstructure:"api_url"`
	AuthURL       string `mapstructure:"auth_url"`
	PubSubURL     string `mapstructure:"pubsub_url"`
	RatePerSecond int    `mapstructure:"rate_per_second"`
	TimeoutSec    int    `mapstructure:"timeout_sec"`
	RetryCount    int    `mapstructure:"retry_count"`
	RetryDelaySec int    `mapstructure:"retry_delay_sec"`
}

type TrackerConfig struct {
	Mode                           string `mapstructure:"mode"` // "realtime", "polling" or "hybrid"
	MaxSockets                     int    `mapstructure:"max_sockets"`
	MaxTrackedTopics               int    `mapstructure:"max_tracked_topics"`
	RefreshSec                     int    `mapstructure:"refresh_sec"`
	FallbackRefreshSec             int    `mapstructure:"fallback_refresh_sec"`
	FallbackAfterReconnectAttempts int    `mapstructure:"fallback_after_reconnect_attempts"`
	FallbackCooldownMin            int    `mapstructure:"fallback_cooldown_min"`
	OfflineGraceMin                int    `mapstructure:"offline_grace_min"`
}

type WatcherConfig struct {
	Enabled                  bool     `mapstructure:"enabled"`
	AuthSyncSec              int      `mapstructure:"auth_sync_sec"`
	AllowedNotificationTypes []string `mapstructure:"allowed_notification_types"`
}

type NotifyConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Server   string `mapstructure:"server"`
	Topic    string `mapstructure:"topic"`
	Token    string `mapstructure:"token"`
	Priority string `mapstructure:"priority"`
	Tags     string `mapstructure:"tags"`
}

type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    string `mapstructure:"port"`
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("twitch.api_url", "https://api.twitch.tv/helix")
	v.SetDefault("twitch.auth_url", "https://id.twitch.tv")
	v.SetDefault("twitch.pubsub_url", "wss://pubsub-edge.twitch.tv/v1")
	v.SetDefault("twitch.rate_per_second", 2)
	v.SetDefault("twitch.timeout_sec", 30)
	v.SetDefault("twitch.retry_count", 3)
	v.SetDefault("twitch.retry_delay_sec", 2)
	v.SetDefault("tracker.mode", "hybrid")
	v.SetDefault("tracker.max_sockets", 3)
	v.SetDefault("tracker.max_tracked_topics", 120)
	v.SetDefault("tracker.refresh_sec", 120)
	v.SetDefault("tracker.fallback_refresh_sec", 30)
	v.SetDefault("tracker.fallback_after_reconnect_attempts", 8)
	v.SetDefault("tracker.fallback_cooldown_min", 30)
	v.SetDefault("tracker.offline_grace_min", 3)
	v.SetDefault("watcher.enabled", true)
	v.SetDefault("watcher.auth_sync_sec", 20)
	v.SetDefault("watcher.allowed_notification_types", []string{"user_drop_reward_reminder_notification"})
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.server", "https://ntfy.sh")
	v.SetDefault("notify.priority", "default")
	v.SetDefault("notify.tags", "dropscout")
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", "8930")
	v.SetDefault("logging.enabled", true)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")

	// Environment variable support
	v.SetEnvPrefix("DROPSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Explicitly bind nested keys to env vars
	_ = v.BindEnv("twitch.token", "DROPSCOUT_TWITCH_TOKEN")
	_ = v.BindEnv("twitch.client_id", "DROPSCOUT_TWITCH_CLIENT_ID")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Twitch.Token == "" {
		return fmt.Errorf("twitch token is required (set DROPSCOUT_TWITCH_TOKEN env var)")
	}
	if c.Twitch.ClientID == "" {
		return fmt.Errorf("twitch client_id is required (set DROPSCOUT_TWITCH_CLIENT_ID env var)")
	}
	switch c.Tracker.Mode {
	case "realtime", "polling", "hybrid":
	default:
		return fmt.Errorf("tracker mode must be realtime, polling or hybrid, got %q", c.Tracker.Mode)
	}
	if c.Tracker.MaxSockets < 1 {
		return fmt.Errorf("max_sockets must be >= 1")
	}
	if c.Tracker.MaxTrackedTopics < 1 {
		return fmt.Errorf("max_tracked_topics must be >= 1")
	}
	if c.Tracker.MaxTrackedTopics > c.Tracker.MaxSockets*50 {
		return fmt.Errorf("max_tracked_topics %d exceeds socket capacity %d (max_sockets x 50)",
			c.Tracker.MaxTrackedTopics, c.Tracker.MaxSockets*50)
	}
	if c.Notify.Enabled && c.Notify.Topic == "" {
		return fmt.Errorf("notify topic is required when notifications are enabled")
	}
	return nil
}

// Timeout returns the HTTP client timeout as a duration.
func (c *TwitchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// RetryDelay returns the base retry delay as a duration.
func (c *TwitchConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySec) * time.Second
}
