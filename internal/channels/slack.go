package channels

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"

	"github.com/zapfluxo/zapfluxo/internal/bus"
	"github.com/zapfluxo/zapfluxo/internal/config"
)

// SlackChannel posts engine messages to Slack. It is outbound-only and is
// used to notify human agents about delegated conversations.
type SlackChannel struct {
	BaseChannel
	config config.SlackConfig
	client *slack.Client
}

// NewSlackChannel creates the channel.
func NewSlackChannel(cfg config.SlackConfig, messageBus *bus.MessageBus) *SlackChannel {
	return &SlackChannel{
		BaseChannel: BaseChannel{Bus: messageBus},
		config:      cfg,
	}
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	c.client = slack.New(c.config.BotToken)

	c.Bus.Subscribe(c.Name(), func(msg *bus.OutboundMessage) {
		if err := c.Send(ctx, msg); err != nil {
			slog.Error("slack send failed", "chat_id", msg.ChatID, "error", err)
		}
	})
	return nil
}

func (c *SlackChannel) Stop() error { return nil }

// Send posts a message. An empty ChatID falls back to the configured agent
// channel.
func (c *SlackChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	if c.client == nil {
		return fmt.Errorf("client not initialized")
	}
	target := msg.ChatID
	if target == "" {
		target = c.config.AgentChannel
	}
	if target == "" {
		return fmt.Errorf("no slack channel to post to")
	}
	_, _, err := c.client.PostMessageContext(ctx, target, slack.MsgOptionText(msg.Content, false))
	return err
}
