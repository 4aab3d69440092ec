package channels

import (
	"testing"

	"github.com/valet-ai/valet/internal/bus"
)

func TestWhatsAppTargetJID(t *testing.T) {
	c := NewWhatsAppChannel(bus.NewMessageBus(), t.TempDir())

	// Unpaired and no conversation seen: a broadcast has nowhere to go.
	if _, err := c.targetJID(&bus.OutboundMessage{Broadcast: true}); err == nil {
		t.Error("broadcast without any destination accepted")
	}

	c.RememberChat("14155550100@s.whatsapp.net")
	jid, err := c.targetJID(&bus.OutboundMessage{Broadcast: true})
	if err != nil {
		t.Fatalf("resolve broadcast: %v", err)
	}
	if jid.User != "14155550100" {
		t.Errorf("broadcast jid = %v, want last active chat", jid)
	}

	// An explicit chat always wins over the remembered one.
	jid, err = c.targetJID(&bus.OutboundMessage{Broadcast: true, ChatID: "14155550199@s.whatsapp.net"})
	if err != nil {
		t.Fatalf("resolve explicit: %v", err)
	}
	if jid.User != "14155550199" {
		t.Errorf("jid = %v, want explicit chat", jid)
	}
}

func TestWhatsAppSendRequiresChat(t *testing.T) {
	c := NewWhatsAppChannel(bus.NewMessageBus(), t.TempDir())
	if _, err := c.targetJID(&bus.OutboundMessage{Content: "hi"}); err == nil {
		t.Error("directed send without a chat accepted")
	}
}
