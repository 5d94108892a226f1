// Package config provides configuration types and loading for zapfluxo.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the root configuration struct.
// Top-level groups: Paths, HTTP, Pending, Cleanup, OpenAI, Channels.
type Config struct {
	Paths    PathsConfig    `json:"paths"`
	HTTP     HTTPConfig     `json:"http"`
	Pending  PendingConfig  `json:"pending"`
	Cleanup  CleanupConfig  `json:"cleanup"`
	OpenAI   OpenAIConfig   `json:"openai"`
	Channels ChannelsConfig `json:"channels"`
}

// PathsConfig groups filesystem path settings.
type PathsConfig struct {
	DBPath string `json:"dbPath" envconfig:"DB_PATH"`
}

// HTTPConfig configures the admin HTTP surface.
type HTTPConfig struct {
	Addr string `json:"addr" envconfig:"HTTP_ADDR"`
}

// PendingConfig groups pending-confirmation settings.
type PendingConfig struct {
	TTLSeconds int `json:"ttlSeconds" envconfig:"PENDING_CONFIRMATION_TTL_SECONDS"`
}

// CleanupConfig groups expiry-sweep settings. When KafkaBrokers is set the
// cleaner runs in distributed mode, consuming sweep ticks from the topic;
// otherwise it runs on a local timer.
type CleanupConfig struct {
	IntervalSeconds int    `json:"intervalSeconds" envconfig:"CLEANUP_INTERVAL_SECONDS"`
	KafkaBrokers    string `json:"kafkaBrokers" envconfig:"CLEANUP_KAFKA_BROKERS"`
	KafkaTopic      string `json:"kafkaTopic" envconfig:"CLEANUP_KAFKA_TOPIC"`
	ConsumerGroup   string `json:"consumerGroup" envconfig:"CLEANUP_CONSUMER_GROUP"`
}

// OpenAIConfig configures the text-generation collaborator.
type OpenAIConfig struct {
	APIKey  string `json:"apiKey" envconfig:"OPENAI_API_KEY"`
	BaseURL string `json:"baseUrl" envconfig:"OPENAI_BASE_URL"`
	Model   string `json:"model" envconfig:"OPENAI_MODEL"`
}

// ChannelsConfig contains all channel configurations.
type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Slack    SlackConfig    `json:"slack"`
}

// WhatsAppConfig configures the WhatsApp delivery channel.
type WhatsAppConfig struct {
	Enabled   bool   `json:"enabled" envconfig:"WHATSAPP_ENABLED"`
	StorePath string `json:"storePath" envconfig:"WHATSAPP_STORE_PATH"`
}

// SlackConfig configures the Slack channel used for agent handoff
// notifications.
type SlackConfig struct {
	Enabled      bool   `json:"enabled" envconfig:"SLACK_ENABLED"`
	BotToken     string `json:"botToken" envconfig:"SLACK_BOT_TOKEN"`
	AgentChannel string `json:"agentChannel" envconfig:"SLACK_AGENT_CHANNEL"`
}

// Default returns a config with sensible defaults applied.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Paths: PathsConfig{
			DBPath: filepath.Join(home, ".zapfluxo", "zapfluxo.db"),
		},
		HTTP: HTTPConfig{
			Addr: "127.0.0.1:8870",
		},
		Pending: PendingConfig{
			TTLSeconds: 3600,
		},
		Cleanup: CleanupConfig{
			IntervalSeconds: 60,
			KafkaTopic:      "zapfluxo.cleanup.ticks",
			ConsumerGroup:   "zapfluxo-cleaner",
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{
				StorePath: filepath.Join(home, ".zapfluxo", "whatsapp.db"),
			},
		},
	}
}

// Load returns the default config with ZAPFLUXO_* environment overrides
// applied.
func Load() (*Config, error) {
	cfg := Default()
	if err := envconfig.Process("ZAPFLUXO", cfg); err != nil {
		return nil, err
	}
	if cfg.Pending.TTLSeconds <= 0 {
		cfg.Pending.TTLSeconds = 3600
	}
	if cfg.Cleanup.IntervalSeconds <= 0 {
		cfg.Cleanup.IntervalSeconds = 60
	}
	return cfg, nil
}

// PendingTTL returns the default pending-confirmation TTL as a duration.
func (c *Config) PendingTTL() time.Duration {
	return time.Duration(c.Pending.TTLSeconds) * time.Second
}

// CleanupInterval returns the sweep interval as a duration.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Cleanup.IntervalSeconds) * time.Second
}
