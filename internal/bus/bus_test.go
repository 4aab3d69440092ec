package bus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestInboundRoundTrip(t *testing.T) {
	b := NewMessageBus()
	b.PublishInbound(&InboundMessage{Channel: "slack", SenderID: "u1", Content: "hi"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := b.ConsumeInbound(ctx)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if msg.Channel != "slack" || msg.Content != "hi" {
		t.Errorf("unexpected message: %+v", msg)
	}
	if msg.Timestamp.IsZero() {
		t.Error("timestamp not defaulted")
	}
}

func TestConsumeInboundCancel(t *testing.T) {
	b := NewMessageBus()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.ConsumeInbound(ctx); err == nil {
		t.Error("consume on cancelled context returned nil error")
	}
}

func TestDispatchRoutesByChannel(t *testing.T) {
	b := NewMessageBus()

	var mu sync.Mutex
	got := make(map[string][]string)
	record := func(channel string) func(*OutboundMessage) {
		return func(m *OutboundMessage) {
			mu.Lock()
			got[channel] = append(got[channel], m.Content)
			mu.Unlock()
		}
	}
	b.Subscribe("slack", record("slack"))
	b.Subscribe("whatsapp", record("whatsapp"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	b.PublishOutbound(&OutboundMessage{Channel: "slack", ChatID: "c1", Content: "routed"})
	b.PublishOutbound(&OutboundMessage{Content: "everyone", Broadcast: true})

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		slackN, waN := len(got["slack"]), len(got["whatsapp"])
		mu.Unlock()
		if slackN == 2 && waN == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("dispatch incomplete: slack=%d whatsapp=%d", slackN, waN)
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if got["slack"][0] != "routed" {
		t.Errorf("slack first message = %q", got["slack"][0])
	}
	if got["whatsapp"][0] != "everyone" {
		t.Errorf("whatsapp message = %q, want broadcast only", got["whatsapp"][0])
	}
}
