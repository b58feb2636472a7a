package cli

import (
	"github.com/smallnest/releasedash/config"
	"github.com/smallnest/releasedash/devops"
	"github.com/smallnest/releasedash/gateway"
	"github.com/smallnest/releasedash/notify"
)

func newDevopsClient(cfg *config.Config) (*devops.Client, error) {
	az := cfg.Azure
	return devops.NewClient(devops.Options{
		Organization:            az.Organization,
		Project:                 az.Project,
		PAT:                     az.PAT,
		BearerToken:             az.BearerToken,
		BaseURL:                 az.BaseURL,
		APIVersion:              az.APIVersion,
		APIVersionPatchRelease:  az.APIVersionPatchRelease,
		APIVersionPatchApproval: az.APIVersionPatchApproval,
		Timeout:                 az.Timeout,
	})
}

func gatewayConfig(cfg *config.Config) gateway.Config {
	g := cfg.Gateway
	return gateway.Config{
		Host:            g.Host,
		Port:            g.Port,
		ReadTimeout:     g.ReadTimeout,
		WriteTimeout:    g.WriteTimeout,
		ShutdownTimeout: g.ShutdownTimeout,
	}
}

func slackConfig(cfg *config.Config) notify.SlackConfig {
	s := cfg.Notify.Slack
	return notify.SlackConfig{
		WebhookURL: s.WebhookURL,
		Channel:    s.Channel,
		Username:   s.Username,
		IconEmoji:  s.IconEmoji,
		Events:     s.Events,
		Timeout:    s.Timeout,
	}
}
