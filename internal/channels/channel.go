// Package channels contains the messaging-surface adapters and the router
// that connects them to the agent through the bus.
package channels

import (
	"context"
	"sync"

	"github.com/valet-ai/valet/internal/bus"
)

// Channel defines the interface for messaging surfaces (WhatsApp, Slack, ...).
type Channel interface {
	// Name returns the channel type (e.g. "whatsapp").
	Name() string
	// Start connects the adapter and begins delivering inbound messages to
	// the bus. Non-blocking; background goroutines run until Stop.
	Start(ctx context.Context) error
	// Stop disconnects the adapter.
	Stop() error
	// Send delivers one outbound message.
	Send(ctx context.Context, msg *bus.OutboundMessage) error
	// Connected reports whether the adapter currently holds a live connection.
	Connected() bool
}

// BaseChannel provides common functionality for channels: the bus handle and
// the most recent inbound chat, which broadcast sends target by default.
type BaseChannel struct {
	Bus *bus.MessageBus

	mu       sync.Mutex
	lastChat string
}

// RememberChat records the chat of an inbound message so later broadcasts
// have a destination.
func (b *BaseChannel) RememberChat(chatID string) {
	if chatID == "" {
		return
	}
	b.mu.Lock()
	b.lastChat = chatID
	b.mu.Unlock()
}

// LastChat returns the most recently seen inbound chat ID, or "".
func (b *BaseChannel) LastChat() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastChat
}
