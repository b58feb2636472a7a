// Package notify posts worker outcomes to chat.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/smallnest/releasedash/bus"
	"github.com/smallnest/releasedash/devops"
	"github.com/smallnest/releasedash/errors"
	"github.com/smallnest/releasedash/internal/logger"
	"go.uber.org/zap"
)

const (
	colorGood    = "good"
	colorWarning = "warning"
	colorDanger  = "danger"
)

// DefaultEvents are posted when SlackConfig.Events is empty.
var DefaultEvents = []string{
	string(bus.EventCommandExecuted),
	string(bus.EventWorkerStopped),
}

// SlackConfig configures the incoming webhook.
type SlackConfig struct {
	WebhookURL string        `mapstructure:"webhook_url" json:"webhook_url"`
	Channel    string        `mapstructure:"channel" json:"channel"`
	Username   string        `mapstructure:"username" json:"username"`
	IconEmoji  string        `mapstructure:"icon_emoji" json:"icon_emoji"`
	Events     []string      `mapstructure:"events" json:"events"`
	Timeout    time.Duration `mapstructure:"timeout" json:"timeout"`
}

// SlackNotifier posts bus events to a Slack incoming webhook.
type SlackNotifier struct {
	cfg    SlackConfig
	client *http.Client
	events []string
	log    *logger.FieldLogger
}

// NewSlackNotifier validates cfg and creates the notifier.
func NewSlackNotifier(cfg SlackConfig) (*SlackNotifier, error) {
	if cfg.WebhookURL == "" {
		return nil, errors.InvalidConfig("slack webhook_url is required")
	}
	u, err := url.Parse(cfg.WebhookURL)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return nil, errors.InvalidConfig("slack webhook_url must be an http(s) URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	events := cfg.Events
	if len(events) == 0 {
		events = DefaultEvents
	}

	return &SlackNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		events: events,
		log:    logger.Component("notify").With(zap.String("channel", "slack")),
	}, nil
}

// Wants reports whether ev is one of the configured event types.
func (n *SlackNotifier) Wants(ev *bus.Event) bool {
	return ev != nil && slices.Contains(n.events, string(ev.Type))
}

// Notify posts one event.
func (n *SlackNotifier) Notify(ctx context.Context, ev *bus.Event) error {
	msg := FormatEvent(ev)
	msg.Channel = n.cfg.Channel
	msg.Username = n.cfg.Username
	msg.IconEmoji = n.cfg.IconEmoji

	if err := slack.PostWebhookCustomHTTPContext(ctx, n.cfg.WebhookURL, n.client, msg); err != nil {
		if ctx.Err() != nil {
			return errors.Canceled("post slack message", context.Cause(ctx))
		}
		return errors.BackendFailed("post slack message", err)
	}
	return nil
}

// Run posts every wanted event from sub until the subscription closes or
// ctx is done. Failed posts are logged and dropped.
func (n *SlackNotifier) Run(ctx context.Context, sub *bus.Subscription) error {
	n.log.Info("Slack notifier started", zap.Strings("events", n.events))
	defer n.log.Info("Slack notifier stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			if !n.Wants(ev) {
				continue
			}
			// A worker failure is still reported while the process stops.
			postCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.cfg.Timeout)
			err := n.Notify(postCtx, ev)
			cancel()
			if err != nil {
				n.log.Warn("Failed to post event",
					zap.String("event_id", ev.ID),
					zap.String("type", string(ev.Type)),
					zap.Error(err))
			}
		}
	}
}

// FormatEvent renders ev as a webhook message with one attachment.
func FormatEvent(ev *bus.Event) *slack.WebhookMessage {
	att := slack.Attachment{
		Color:  colorGood,
		Footer: "releasedash",
		Ts:     json.Number(strconv.FormatInt(ev.Timestamp.Unix(), 10)),
	}

	switch ev.Type {
	case bus.EventCommandExecuted:
		att.Title = commandTitle(ev)
		att.Fields = payloadFields(ev.Payload)
	case bus.EventWorkerStopped:
		att.Color = colorDanger
		att.Title = "Release worker stopped"
		att.Text = ev.Error
	case bus.EventMessageCanceled:
		att.Color = colorWarning
		att.Title = fmt.Sprintf("Request %s canceled", ev.Kind)
	default:
		att.Title = string(ev.Type)
		if ev.Kind != "" {
			att.Title += ": " + ev.Kind
		}
	}
	if ev.Error != "" && ev.Type != bus.EventWorkerStopped {
		att.Color = colorDanger
		att.Text = ev.Error
	}
	if ev.DurationMs > 0 {
		att.Fields = append(att.Fields, slack.AttachmentField{
			Title: "Duration",
			Value: (time.Duration(ev.DurationMs) * time.Millisecond).String(),
			Short: true,
		})
	}

	return &slack.WebhookMessage{
		Text:        att.Title,
		Attachments: []slack.Attachment{att},
	}
}

func commandTitle(ev *bus.Event) string {
	switch p := ev.Payload.(type) {
	case devops.StartReleaseRequest:
		if p.ScheduledTime != nil || p.Status == devops.EnvStatusInProgress {
			return fmt.Sprintf("Scheduled release %d", p.ReleaseID)
		}
		return fmt.Sprintf("Started release %d", p.ReleaseID)
	case devops.CancelReleaseRequest:
		return fmt.Sprintf("Canceled release %d", p.ReleaseID)
	case devops.UpdateAgentSpecRequest:
		return fmt.Sprintf("Updated agent on pipeline %d", p.PipelineID)
	case map[string]int:
		return fmt.Sprintf("Approved approval %d", p["approvalId"])
	}
	return "Executed " + strings.ReplaceAll(ev.Kind, "-", " ")
}

func payloadFields(payload any) []slack.AttachmentField {
	short := func(title string, v any) slack.AttachmentField {
		return slack.AttachmentField{Title: title, Value: fmt.Sprint(v), Short: true}
	}

	switch p := payload.(type) {
	case devops.StartReleaseRequest:
		fields := []slack.AttachmentField{
			short("Release", p.ReleaseID),
			short("Environment", p.EnvironmentID),
			short("Status", p.Status),
		}
		if p.ScheduledTime != nil {
			fields = append(fields, short("Scheduled", p.ScheduledTime.UTC().Format(time.RFC3339)))
		}
		return fields
	case devops.CancelReleaseRequest:
		fields := []slack.AttachmentField{
			short("Release", p.ReleaseID),
			short("Environment", p.EnvironmentID),
		}
		if p.Comment != "" {
			fields = append(fields, slack.AttachmentField{Title: "Comment", Value: p.Comment})
		}
		return fields
	case devops.UpdateAgentSpecRequest:
		return []slack.AttachmentField{
			short("Pipeline", p.PipelineID),
			short("Environment", p.EnvironmentID),
			short("Agent", p.NewAgentSpec),
		}
	case map[string]int:
		return []slack.AttachmentField{short("Approval", p["approvalId"])}
	}
	return nil
}
