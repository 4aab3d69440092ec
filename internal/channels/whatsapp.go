package channels

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "modernc.org/sqlite"

	"github.com/valet-ai/valet/internal/bus"
)

// WhatsAppChannel is a native WhatsApp adapter built on whatsmeow. Pairing
// happens via a QR code written to the data directory on first start.
type WhatsAppChannel struct {
	BaseChannel
	dataDir   string
	client    *whatsmeow.Client
	container *sqlstore.Container
	log       *slog.Logger
}

// NewWhatsAppChannel creates a WhatsApp adapter storing its device state
// under dataDir.
func NewWhatsAppChannel(messageBus *bus.MessageBus, dataDir string) *WhatsAppChannel {
	return &WhatsAppChannel{
		BaseChannel: BaseChannel{Bus: messageBus},
		dataDir:     dataDir,
		log:         slog.With("component", "whatsapp"),
	}
}

func (c *WhatsAppChannel) Name() string { return "whatsapp" }

func (c *WhatsAppChannel) Start(ctx context.Context) error {
	dbLog := waLog.Stdout("Database", "WARN", true)
	clientLog := waLog.Stdout("Client", "WARN", true)

	dbPath := filepath.Join(c.dataDir, "whatsapp.db")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	container, err := sqlstore.New(ctx, "sqlite",
		"file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbLog)
	if err != nil {
		return fmt.Errorf("init whatsapp device store: %w", err)
	}
	c.container = container

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("get device: %w", err)
	}

	c.client = whatsmeow.NewClient(deviceStore, clientLog)
	c.client.AddEventHandler(c.eventHandler)

	if c.client.Store.ID == nil {
		qrChan, _ := c.client.GetQRChannel(context.Background())
		if err := c.client.Connect(); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		go c.handlePairing(qrChan)
	} else {
		if err := c.client.Connect(); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		c.log.Info("connected")
	}

	c.Bus.Subscribe(c.Name(), func(msg *bus.OutboundMessage) {
		go c.handleOutbound(msg)
	})
	return nil
}

// handlePairing writes each QR code to a PNG so the user can scan it.
func (c *WhatsAppChannel) handlePairing(qrChan <-chan whatsmeow.QRChannelItem) {
	qrPath := filepath.Join(c.dataDir, "whatsapp-qr.png")
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			if err := qrcode.WriteFile(evt.Code, qrcode.Medium, 512, qrPath); err != nil {
				c.log.Error("write pairing QR", "error", err)
				continue
			}
			c.log.Info("scan pairing QR with your phone", "path", qrPath)
		case "success":
			c.log.Info("paired")
			os.Remove(qrPath)
		default:
			c.log.Info("pairing event", "event", evt.Event)
		}
	}
}

func (c *WhatsAppChannel) Stop() error {
	if c.client != nil {
		c.client.Disconnect()
	}
	if c.container != nil {
		c.container.Close()
	}
	return nil
}

func (c *WhatsAppChannel) Connected() bool {
	return c.client != nil && c.client.IsConnected()
}

func (c *WhatsAppChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	if c.client == nil {
		return fmt.Errorf("client not initialized")
	}
	jid, err := c.targetJID(msg)
	if err != nil {
		return err
	}
	waMsg := &waE2E.Message{
		Conversation: proto.String(msg.Content),
	}
	_, err = c.client.SendMessage(ctx, jid, waMsg)
	return err
}

// targetJID resolves the destination chat. Broadcasts without an explicit
// chat go to the last active chat, or to the paired account's own chat
// ("message yourself") when nothing has been seen yet.
func (c *WhatsAppChannel) targetJID(msg *bus.OutboundMessage) (types.JID, error) {
	chatID := msg.ChatID
	if chatID == "" && msg.Broadcast {
		if last := c.LastChat(); last != "" {
			chatID = last
		} else if c.client != nil && c.client.Store.ID != nil {
			return c.client.Store.ID.ToNonAD(), nil
		}
	}
	if chatID == "" {
		return types.EmptyJID, fmt.Errorf("no destination chat")
	}
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return types.EmptyJID, fmt.Errorf("invalid JID %q: %w", chatID, err)
	}
	return jid, nil
}

func (c *WhatsAppChannel) handleOutbound(msg *bus.OutboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.Send(ctx, msg); err != nil {
		c.log.Error("send failed", "chat", msg.ChatID, "error", err)
	}
}

func (c *WhatsAppChannel) eventHandler(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		if v.Info.IsFromMe || v.Info.IsGroup {
			return
		}
		content := v.Message.GetConversation()
		if content == "" {
			content = v.Message.GetExtendedTextMessage().GetText()
		}
		if content == "" {
			return
		}
		c.RememberChat(v.Info.Chat.String())
		c.Bus.PublishInbound(&bus.InboundMessage{
			Channel:   c.Name(),
			SenderID:  "+" + v.Info.Sender.User,
			ChatID:    v.Info.Chat.String(),
			Content:   content,
			Timestamp: v.Info.Timestamp,
		})
	case *events.Disconnected:
		c.log.Warn("disconnected")
	case *events.LoggedOut:
		c.log.Warn("logged out, re-pairing required")
	}
}
