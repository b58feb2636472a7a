package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/smallnest/releasedash/errors"
	"github.com/smallnest/releasedash/internal/logger"
)

var knownEvents = []string{
	"message.processed",
	"message.canceled",
	"command.executed",
	"snapshot.refreshed",
	"worker.stopped",
}

// Validator provides configuration validation
type Validator struct {
	// strictMode also requires the credentials needed to reach the
	// release service.
	strictMode bool
}

// NewValidator creates a new configuration validator
func NewValidator(strict bool) *Validator {
	return &Validator{
		strictMode: strict,
	}
}

// Validate performs comprehensive configuration validation
func (v *Validator) Validate(cfg *Config) error {
	if cfg == nil {
		return errors.InvalidConfig("configuration cannot be nil")
	}

	validators := []func(*Config) error{
		v.validateAzure,
		v.validateGateway,
		v.validateLog,
		v.validateSlack,
		v.validateAudit,
	}

	for _, validator := range validators {
		if err := validator(cfg); err != nil {
			return err
		}
	}

	return nil
}

// validateAzure validates the release service connection
func (v *Validator) validateAzure(cfg *Config) error {
	az := &cfg.Azure

	if v.strictMode {
		if strings.TrimSpace(az.Organization) == "" && az.BaseURL == "" {
			return errors.InvalidConfig("azure organization cannot be empty")
		}
		if strings.TrimSpace(az.Project) == "" && az.BaseURL == "" {
			return errors.InvalidConfig("azure project cannot be empty")
		}
		if az.PAT == "" && az.BearerToken == "" {
			return errors.InvalidConfig("azure pat or bearer_token is required")
		}
	}

	for name, secret := range map[string]string{"pat": az.PAT, "bearer_token": az.BearerToken} {
		if secret != "" && strings.ContainsAny(secret, " \t\n") {
			return errors.InvalidConfig(fmt.Sprintf("azure %s cannot contain whitespace", name))
		}
	}

	if az.BaseURL != "" {
		if err := validateHTTPURL(az.BaseURL); err != nil {
			return errors.Wrap(err, errors.ErrCodeInvalidConfig, "invalid azure base_url")
		}
	}

	if az.Timeout < 0 || az.Timeout > 10*time.Minute {
		return errors.InvalidConfig("azure timeout must be between 0 and 10m")
	}

	return nil
}

// validateGateway validates gateway configuration
func (v *Validator) validateGateway(cfg *Config) error {
	if cfg.Gateway.Port < 1 || cfg.Gateway.Port > 65535 {
		return errors.InvalidConfig("gateway port must be between 1 and 65535")
	}
	if cfg.Gateway.Port < 1024 {
		logger.Warn("Gateway port is privileged")
	}

	if cfg.Gateway.ReadTimeout < time.Second || cfg.Gateway.ReadTimeout > 5*time.Minute {
		return errors.InvalidConfig("gateway read_timeout must be between 1s and 5m")
	}

	// Zero disables the write timeout.
	if cfg.Gateway.WriteTimeout < 0 || cfg.Gateway.WriteTimeout > 5*time.Minute {
		return errors.InvalidConfig("gateway write_timeout must be between 0 and 5m")
	}

	if cfg.Gateway.ShutdownTimeout < 0 || cfg.Gateway.ShutdownTimeout > 5*time.Minute {
		return errors.InvalidConfig("gateway shutdown_timeout must be between 0 and 5m")
	}

	return nil
}

// validateLog validates the log level
func (v *Validator) validateLog(cfg *Config) error {
	if _, err := logger.ParseLevel(cfg.Log.Level); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidConfig, "invalid log level")
	}
	return nil
}

// validateSlack validates the Slack notifier
func (v *Validator) validateSlack(cfg *Config) error {
	slack := &cfg.Notify.Slack
	if !slack.Enabled {
		return nil
	}

	if slack.WebhookURL == "" {
		return errors.InvalidConfig("slack webhook_url is required when slack is enabled")
	}
	if err := validateHTTPURL(slack.WebhookURL); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidConfig, "invalid slack webhook_url")
	}

	for _, ev := range slack.Events {
		if !slices.Contains(knownEvents, ev) {
			return errors.InvalidConfig(fmt.Sprintf("unknown slack event: %s", ev))
		}
	}

	return nil
}

// validateAudit validates the audit log
func (v *Validator) validateAudit(cfg *Config) error {
	if !cfg.Audit.Enabled {
		return nil
	}

	path := strings.TrimSpace(cfg.Audit.Path)
	if path == "" {
		return errors.InvalidConfig("audit path cannot be empty when audit is enabled")
	}
	if path != ":memory:" && !filepath.IsAbs(path) && v.strictMode {
		return errors.InvalidConfig("audit path must be absolute")
	}

	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
