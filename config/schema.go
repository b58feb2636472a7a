package config

import "time"

// Config is the whole dashboard configuration.
type Config struct {
	Azure   AzureConfig   `mapstructure:"azure" json:"azure" yaml:"azure"`
	Gateway GatewayConfig `mapstructure:"gateway" json:"gateway" yaml:"gateway"`
	Log     LogConfig     `mapstructure:"log" json:"log" yaml:"log"`
	Notify  NotifyConfig  `mapstructure:"notify" json:"notify" yaml:"notify"`
	Audit   AuditConfig   `mapstructure:"audit" json:"audit" yaml:"audit"`
}

// AzureConfig points at the release service.
type AzureConfig struct {
	Organization string `mapstructure:"organization" json:"organization" yaml:"organization"`
	Project      string `mapstructure:"project" json:"project" yaml:"project"`
	// PAT is the base64 encoding of "user:token", sent as Basic auth.
	PAT string `mapstructure:"pat" json:"pat,omitempty" yaml:"pat,omitempty"`
	// BearerToken replaces PAT when set.
	BearerToken             string        `mapstructure:"bearer_token" json:"bearer_token,omitempty" yaml:"bearer_token,omitempty"`
	BaseURL                 string        `mapstructure:"base_url" json:"base_url,omitempty" yaml:"base_url,omitempty"`
	APIVersion              string        `mapstructure:"api_version" json:"api_version" yaml:"api_version"`
	APIVersionPatchRelease  string        `mapstructure:"api_version_patch_release" json:"api_version_patch_release" yaml:"api_version_patch_release"`
	APIVersionPatchApproval string        `mapstructure:"api_version_patch_approval" json:"api_version_patch_approval" yaml:"api_version_patch_approval"`
	Timeout                 time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
}

// GatewayConfig configures the HTTP API.
type GatewayConfig struct {
	Host            string        `mapstructure:"host" json:"host" yaml:"host"`
	Port            int           `mapstructure:"port" json:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" json:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level       string `mapstructure:"level" json:"level" yaml:"level"`
	Development bool   `mapstructure:"development" json:"development" yaml:"development"`
}

// NotifyConfig groups outbound notifiers.
type NotifyConfig struct {
	Slack SlackConfig `mapstructure:"slack" json:"slack" yaml:"slack"`
}

// SlackConfig configures the Slack incoming webhook.
type SlackConfig struct {
	Enabled    bool          `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	WebhookURL string        `mapstructure:"webhook_url" json:"webhook_url,omitempty" yaml:"webhook_url,omitempty"`
	Channel    string        `mapstructure:"channel" json:"channel,omitempty" yaml:"channel,omitempty"`
	Username   string        `mapstructure:"username" json:"username,omitempty" yaml:"username,omitempty"`
	IconEmoji  string        `mapstructure:"icon_emoji" json:"icon_emoji,omitempty" yaml:"icon_emoji,omitempty"`
	Events     []string      `mapstructure:"events" json:"events,omitempty" yaml:"events,omitempty"`
	Timeout    time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
}

// AuditConfig configures the SQLite audit log.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" json:"path" yaml:"path"`
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	const mask = "********"
	if c.Azure.PAT != "" {
		c.Azure.PAT = mask
	}
	if c.Azure.BearerToken != "" {
		c.Azure.BearerToken = mask
	}
	if c.Notify.Slack.WebhookURL != "" {
		c.Notify.Slack.WebhookURL = mask
	}
	return c
}
