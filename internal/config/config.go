// Package config provides configuration types and loading for valet.
package config

// Config is the root configuration struct.
type Config struct {
	UserID    string          `json:"userId" envconfig:"USER_ID"`
	Paths     PathsConfig     `json:"paths"`
	Model     ModelConfig     `json:"model"`
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	Gateway   GatewayConfig   `json:"gateway"`
	Tools     ToolsConfig     `json:"tools"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
	Memory    MemoryConfig    `json:"memory"`
	Subagents SubagentsConfig `json:"subagents"`
	Audit     AuditConfig     `json:"audit"`
}

// PathsConfig groups filesystem path settings.
type PathsConfig struct {
	DataDir string `json:"dataDir" envconfig:"DATA_DIR"`
}

// ModelConfig groups LLM model and agent-loop settings.
type ModelConfig struct {
	Name         string  `json:"name" envconfig:"MODEL"`
	MaxTokens    int     `json:"maxTokens" envconfig:"MAX_TOKENS"`
	Temperature  float64 `json:"temperature" envconfig:"TEMPERATURE"`
	MaxRounds    int     `json:"maxRounds" envconfig:"MAX_ROUNDS"`
	SystemPrompt string  `json:"systemPrompt"`
}

// ChannelsConfig contains all channel adapter configurations.
type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Slack    SlackConfig    `json:"slack"`
}

// WhatsAppConfig configures the native WhatsApp channel.
type WhatsAppConfig struct {
	Enabled bool `json:"enabled" envconfig:"WHATSAPP_ENABLED"`
}

// SlackConfig configures the Slack Socket Mode channel.
type SlackConfig struct {
	Enabled   bool   `json:"enabled" envconfig:"SLACK_ENABLED"`
	BotToken  string `json:"botToken" envconfig:"SLACK_BOT_TOKEN"`
	AppToken  string `json:"appToken" envconfig:"SLACK_APP_TOKEN"`
	BotUserID string `json:"botUserId" envconfig:"SLACK_BOT_USER_ID"`
	// BroadcastChannel is where heartbeat broadcasts land before any
	// conversation has been seen, e.g. the owner's DM channel ID.
	BroadcastChannel string `json:"broadcastChannel" envconfig:"SLACK_BROADCAST_CHANNEL"`
}

// ProvidersConfig contains LLM provider configurations.
type ProvidersConfig struct {
	OpenAI     ProviderConfig `json:"openai"`
	OpenRouter ProviderConfig `json:"openrouter"`
}

// ProviderConfig contains settings for a single LLM provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey" envconfig:"API_KEY"`
	APIBase string `json:"apiBase,omitempty" envconfig:"API_BASE"`
}

// GatewayConfig contains gateway server settings.
type GatewayConfig struct {
	Host      string `json:"host" envconfig:"HOST"`
	Port      int    `json:"port" envconfig:"PORT"`
	AuthToken string `json:"authToken" envconfig:"AUTH_TOKEN"`
}

// ToolsConfig contains tool-specific settings.
type ToolsConfig struct {
	SearchAPIKey  string `json:"searchApiKey" envconfig:"SEARCH_API_KEY"`
	SearchAPIBase string `json:"searchApiBase" envconfig:"SEARCH_API_BASE"`
}

// HeartbeatConfig contains the default proactive-outreach settings. The
// per-user row in the store overrides these once written.
type HeartbeatConfig struct {
	Enabled     bool   `json:"enabled" envconfig:"HEARTBEAT_ENABLED"`
	Interval    string `json:"interval" envconfig:"HEARTBEAT_INTERVAL"`
	Prompt      string `json:"prompt"`
	ActiveStart string `json:"activeStart" envconfig:"HEARTBEAT_ACTIVE_START"`
	ActiveEnd   string `json:"activeEnd" envconfig:"HEARTBEAT_ACTIVE_END"`
	Timezone    string `json:"timezone" envconfig:"HEARTBEAT_TIMEZONE"`
}

// MemoryConfig contains memory buffer settings.
type MemoryConfig struct {
	FlushIntervalSec int `json:"flushIntervalSec" envconfig:"MEMORY_FLUSH_INTERVAL_SEC"`
}

// SubagentsConfig contains sub-agent engine settings.
type SubagentsConfig struct {
	MaxConcurrent int    `json:"maxConcurrent" envconfig:"SUBAGENT_MAX_CONCURRENT"`
	MaxSteps      int    `json:"maxSteps" envconfig:"SUBAGENT_MAX_STEPS"`
	Model         string `json:"model" envconfig:"SUBAGENT_MODEL"`
}

// AuditConfig contains settings for the optional Kafka audit exporter.
type AuditConfig struct {
	Enabled      bool   `json:"enabled" envconfig:"AUDIT_ENABLED"`
	KafkaBrokers string `json:"kafkaBrokers" envconfig:"AUDIT_KAFKA_BROKERS"`
	Topic        string `json:"topic" envconfig:"AUDIT_TOPIC"`
}
