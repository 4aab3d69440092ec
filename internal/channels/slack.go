package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/valet-ai/valet/internal/bus"
	"github.com/valet-ai/valet/internal/config"
)

// SlackChannel is a Slack adapter over Socket Mode.
type SlackChannel struct {
	BaseChannel
	cfg       config.SlackConfig
	api       *slack.Client
	sock      *socketmode.Client
	connected atomic.Bool
	cancel    context.CancelFunc
	log       *slog.Logger
}

// NewSlackChannel creates a Slack adapter.
func NewSlackChannel(cfg config.SlackConfig, messageBus *bus.MessageBus) *SlackChannel {
	return &SlackChannel{
		BaseChannel: BaseChannel{Bus: messageBus},
		cfg:         cfg,
		log:         slog.With("component", "slack"),
	}
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) Start(ctx context.Context) error {
	if strings.TrimSpace(c.cfg.BotToken) == "" || strings.TrimSpace(c.cfg.AppToken) == "" {
		return fmt.Errorf("slack requires botToken and appToken")
	}
	c.api = slack.New(c.cfg.BotToken, slack.OptionAppLevelToken(c.cfg.AppToken))
	c.sock = socketmode.New(c.api)

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	go c.eventLoop()
	go func() {
		if err := c.sock.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			c.log.Error("socket mode stopped", "error", err)
		}
		c.connected.Store(false)
	}()

	c.Bus.Subscribe(c.Name(), func(msg *bus.OutboundMessage) {
		go func() {
			if err := c.Send(context.Background(), msg); err != nil {
				c.log.Error("send failed", "chat", msg.ChatID, "error", err)
			}
		}()
	})
	return nil
}

func (c *SlackChannel) eventLoop() {
	for evt := range c.sock.Events {
		switch evt.Type {
		case socketmode.EventTypeConnected:
			c.connected.Store(true)
			c.log.Info("connected")
		case socketmode.EventTypeDisconnect:
			c.connected.Store(false)
		case socketmode.EventTypeEventsAPI:
			if evt.Request != nil {
				c.sock.Ack(*evt.Request)
			}
			ev, ok := evt.Data.(slackevents.EventsAPIEvent)
			if !ok || ev.Type != slackevents.CallbackEvent {
				continue
			}
			c.handleCallback(ev)
		}
	}
}

func (c *SlackChannel) handleCallback(ev slackevents.EventsAPIEvent) {
	switch in := ev.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		if in == nil || in.BotID != "" || in.User == "" {
			return
		}
		if in.User == c.cfg.BotUserID {
			return
		}
		// Only direct messages reach the assistant; group chatter is ignored
		// unless the bot is mentioned.
		if in.ChannelType != "im" && !strings.Contains(in.Text, "<@"+c.cfg.BotUserID+">") {
			return
		}
		text := strings.TrimSpace(strings.ReplaceAll(in.Text, "<@"+c.cfg.BotUserID+">", ""))
		if text == "" {
			return
		}
		c.RememberChat(in.Channel)
		c.Bus.PublishInbound(&bus.InboundMessage{
			Channel:  c.Name(),
			SenderID: in.User,
			ChatID:   in.Channel,
			Content:  text,
		})
	case *slackevents.AppMentionEvent:
		if in == nil || in.User == "" || in.User == c.cfg.BotUserID {
			return
		}
		text := strings.TrimSpace(strings.ReplaceAll(in.Text, "<@"+c.cfg.BotUserID+">", ""))
		if text == "" {
			return
		}
		c.RememberChat(in.Channel)
		c.Bus.PublishInbound(&bus.InboundMessage{
			Channel:  c.Name(),
			SenderID: in.User,
			ChatID:   in.Channel,
			Content:  text,
		})
	}
}

func (c *SlackChannel) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.connected.Store(false)
	return nil
}

func (c *SlackChannel) Connected() bool {
	return c.connected.Load()
}

func (c *SlackChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	if c.api == nil {
		return fmt.Errorf("client not initialized")
	}
	channelID, err := c.targetChannel(msg)
	if err != nil {
		return err
	}
	_, _, err = c.api.PostMessageContext(ctx, channelID,
		slack.MsgOptionText(msg.Content, false))
	return err
}

// targetChannel resolves the destination conversation. Broadcasts without an
// explicit chat go to the last active conversation, falling back to the
// configured broadcast channel.
func (c *SlackChannel) targetChannel(msg *bus.OutboundMessage) (string, error) {
	if msg.ChatID != "" {
		return msg.ChatID, nil
	}
	if !msg.Broadcast {
		return "", fmt.Errorf("no destination chat")
	}
	if last := c.LastChat(); last != "" {
		return last, nil
	}
	if c.cfg.BroadcastChannel != "" {
		return c.cfg.BroadcastChannel, nil
	}
	return "", fmt.Errorf("no broadcast destination: set channels.slack.broadcastChannel or message the bot first")
}
