package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix prefixes every environment override, e.g.
	// RELEASEDASH_AZURE_PAT for azure.pat.
	EnvPrefix = "RELEASEDASH"

	configDirName = ".releasedash"
)

var globalConfig *Config

// Load reads configPath, or config.{json,yaml} from ~/.releasedash and the
// working directory when configPath is empty. A missing default file is not
// an error: defaults and environment variables still apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		v.AddConfigPath(filepath.Join(home, configDirName))
		v.AddConfigPath(".")
		v.SetConfigName("config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	globalConfig = &cfg
	return &cfg, nil
}

// setDefaults registers every key so that AutomaticEnv can override keys
// that are absent from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("azure.organization", "")
	v.SetDefault("azure.project", "")
	v.SetDefault("azure.pat", "")
	v.SetDefault("azure.bearer_token", "")
	v.SetDefault("azure.base_url", "")
	v.SetDefault("azure.api_version", "7.1")
	v.SetDefault("azure.api_version_patch_release", "7.1-preview.7")
	v.SetDefault("azure.api_version_patch_approval", "7.1-preview.3")
	v.SetDefault("azure.timeout", 30*time.Second)

	v.SetDefault("gateway.host", "localhost")
	v.SetDefault("gateway.port", 8080)
	v.SetDefault("gateway.read_timeout", 30*time.Second)
	v.SetDefault("gateway.write_timeout", 30*time.Second)
	v.SetDefault("gateway.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("notify.slack.enabled", false)
	v.SetDefault("notify.slack.webhook_url", "")
	v.SetDefault("notify.slack.channel", "")
	v.SetDefault("notify.slack.username", "releasedash")
	v.SetDefault("notify.slack.icon_emoji", ":rocket:")
	v.SetDefault("notify.slack.timeout", 10*time.Second)

	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.path", defaultAuditPath())
}

func defaultAuditPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(configDirName, "audit.db")
	}
	return filepath.Join(home, configDirName, "audit.db")
}

// Save writes cfg to path as JSON, or YAML when path ends in .yaml/.yml.
func Save(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := Marshal(cfg, formatOf(path))
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Marshal encodes cfg as "json" or "yaml".
func Marshal(cfg *Config, format string) ([]byte, error) {
	switch format {
	case "yaml", "yml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal config: %w", err)
		}
		return data, nil
	case "json", "":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal config: %w", err)
		}
		return append(data, '\n'), nil
	default:
		return nil, fmt.Errorf("unknown config format %q", format)
	}
}

func formatOf(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "yml" {
		return "yaml"
	}
	return ext
}

// Get returns the last loaded configuration.
func Get() *Config {
	return globalConfig
}

// GetDefaultConfigPath returns ~/.releasedash/config.json.
func GetDefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, configDirName, "config.json"), nil
}

// Validate checks cfg with a strict validator.
func Validate(cfg *Config) error {
	return NewValidator(true).Validate(cfg)
}
