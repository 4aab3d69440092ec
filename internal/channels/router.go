package channels

import (
	"context"
	"log/slog"

	"github.com/valet-ai/valet/internal/agent"
	"github.com/valet-ai/valet/internal/bus"
	"github.com/valet-ai/valet/internal/skills"
	"github.com/valet-ai/valet/internal/trust"
)

// Router connects channel adapters to the agent: it trust-gates inbound
// messages, maps them to session keys, and dispatches replies back to the
// owning adapter via the bus.
type Router struct {
	bus      *bus.MessageBus
	trust    *trust.Engine
	loop     *agent.Loop
	skills   *skills.Manager
	userID   string
	adapters []Channel
	log      *slog.Logger
}

// NewRouter creates a router for the given adapters.
func NewRouter(b *bus.MessageBus, tr *trust.Engine, loop *agent.Loop, sk *skills.Manager, userID string, adapters ...Channel) *Router {
	return &Router{
		bus:      b,
		trust:    tr,
		loop:     loop,
		skills:   sk,
		userID:   userID,
		adapters: adapters,
		log:      slog.With("component", "router"),
	}
}

// Start starts every adapter and the outbound dispatcher. Adapters that fail
// to start are logged and skipped; one broken surface does not take down the
// rest.
func (r *Router) Start(ctx context.Context) {
	for _, ch := range r.adapters {
		if err := ch.Start(ctx); err != nil {
			r.log.Error("channel start failed", "channel", ch.Name(), "error", err)
		}
	}
	go func() {
		if err := r.bus.DispatchOutbound(ctx); err != nil && ctx.Err() == nil {
			r.log.Error("outbound dispatcher stopped", "error", err)
		}
	}()
}

// Stop stops every adapter.
func (r *Router) Stop() {
	for _, ch := range r.adapters {
		if err := ch.Stop(); err != nil {
			r.log.Warn("channel stop failed", "channel", ch.Name(), "error", err)
		}
	}
}

// Run consumes inbound messages until ctx is cancelled. Each message is
// handled in its own goroutine; the session manager serializes turns that
// share a key.
func (r *Router) Run(ctx context.Context) error {
	r.log.Info("router started")
	for {
		msg, err := r.bus.ConsumeInbound(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.log.Error("consume inbound failed", "error", err)
			continue
		}
		go r.HandleInbound(ctx, msg)
	}
}

// HandleInbound runs the trust gate and the agent turn for one message.
// Unauthorized senders are dropped silently; the denial is audited by the
// trust engine.
func (r *Router) HandleInbound(ctx context.Context, msg *bus.InboundMessage) {
	authorized, err := r.trust.IsAuthorized(ctx, r.userID, msg.Channel, msg.SenderID)
	if err != nil {
		r.log.Error("trust check failed", "channel", msg.Channel, "sender", msg.SenderID, "error", err)
		return
	}
	if !authorized {
		r.log.Info("sender not authorized", "channel", msg.Channel, "sender", msg.SenderID)
		return
	}

	sessionKey := msg.Channel + ":" + msg.SenderID
	reply := r.loop.HandleMessage(ctx, sessionKey, msg.Content)
	if reply == "" {
		return
	}

	chatID := msg.ChatID
	if chatID == "" {
		chatID = msg.SenderID
	}
	r.bus.PublishOutbound(&bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  chatID,
		Content: reply,
	})
}

// ConnectionStatus reports each adapter's connection state.
func (r *Router) ConnectionStatus() map[string]bool {
	status := make(map[string]bool, len(r.adapters))
	for _, ch := range r.adapters {
		status[ch.Name()] = ch.Connected()
	}
	return status
}

// ReloadSkills re-reads the enabled-skill flags from settings.
func (r *Router) ReloadSkills(ctx context.Context) error {
	return r.skills.Reload(ctx)
}
