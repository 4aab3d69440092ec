package heartbeat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/valet-ai/valet/internal/agent"
	"github.com/valet-ai/valet/internal/bus"
	"github.com/valet-ai/valet/internal/config"
	"github.com/valet-ai/valet/internal/provider"
	"github.com/valet-ai/valet/internal/session"
	"github.com/valet-ai/valet/internal/store"
	"github.com/valet-ai/valet/internal/tools"
)

type fixedProvider struct {
	content string
	err     error
}

func (p *fixedProvider) Chat(context.Context, *provider.ChatRequest) (*provider.ChatResponse, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &provider.ChatResponse{Content: p.content}, nil
}

func (p *fixedProvider) DefaultModel() string { return "test-model" }

func newTestScheduler(t *testing.T, p provider.LLMProvider) (*Scheduler, *store.Store, *bus.MessageBus) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	loop := agent.NewLoop(agent.LoopOptions{
		Provider: p,
		Tools:    tools.NewRegistry(),
		Sessions: session.NewManager(),
	})
	b := bus.NewMessageBus()
	defaults := config.HeartbeatConfig{
		Enabled:     true,
		Interval:    "1h",
		Prompt:      "Anything I should surface for the user?",
		ActiveStart: "08:00",
		ActiveEnd:   "22:00",
		Timezone:    "UTC",
	}
	return NewScheduler(st, loop, b, defaults, "u1"), st, b
}

func atClock(hour, minute int) func() time.Time {
	return func() time.Time {
		return time.Date(2025, 6, 2, hour, minute, 0, 0, time.UTC)
	}
}

func TestFireWithinActiveHours(t *testing.T) {
	s, _, b := newTestScheduler(t, &fixedProvider{content: "Morning! Two reminders today."})
	s.now = atClock(9, 0)

	cfg, err := s.loadConfig(context.Background())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	s.fire(cfg)

	if b.OutboundSize() != 1 {
		t.Fatalf("outbound size = %d, want 1", b.OutboundSize())
	}
}

func TestFireOutsideActiveHoursSkips(t *testing.T) {
	s, _, b := newTestScheduler(t, &fixedProvider{content: "should not be sent"})
	s.now = atClock(23, 0)

	cfg, _ := s.loadConfig(context.Background())
	s.fire(cfg)

	if b.OutboundSize() != 0 {
		t.Errorf("outbound size = %d, want 0 outside active hours", b.OutboundSize())
	}
}

func TestFireBroadcasts(t *testing.T) {
	s, _, b := newTestScheduler(t, &fixedProvider{content: "hello everyone"})
	s.now = atClock(12, 0)

	cfg, _ := s.loadConfig(context.Background())
	s.fire(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	delivered := make(chan string, 2)
	b.Subscribe("whatsapp", func(m *bus.OutboundMessage) { delivered <- "whatsapp:" + m.Content })
	b.Subscribe("slack", func(m *bus.OutboundMessage) { delivered <- "slack:" + m.Content })
	go b.DispatchOutbound(ctx)

	seen := make(map[string]bool)
	for i := 0; i < 2; i++ {
		select {
		case got := <-delivered:
			seen[got] = true
		case <-time.After(2 * time.Second):
			t.Fatal("broadcast did not reach both channels")
		}
	}
	if !seen["whatsapp:hello everyone"] || !seen["slack:hello everyone"] {
		t.Errorf("deliveries = %v", seen)
	}
}

func TestMidnightWrapWindow(t *testing.T) {
	s, st, _ := newTestScheduler(t, &fixedProvider{content: "x"})
	row := &store.HeartbeatRow{
		UserID: "u1", Enabled: true, Interval: "1h",
		ActiveStart: "22:00", ActiveEnd: "06:00", Timezone: "UTC",
	}
	if err := st.UpsertHeartbeat(context.Background(), row); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	cases := []struct {
		hour, minute int
		want         bool
	}{
		{23, 0, true},
		{2, 30, true},
		{12, 0, false},
		{6, 0, false},  // end is exclusive
		{22, 0, true},  // start is inclusive
		{21, 59, false},
	}
	for _, tc := range cases {
		s.now = atClock(tc.hour, tc.minute)
		got, err := s.withinActiveHours(row)
		if err != nil {
			t.Fatalf("withinActiveHours at %02d:%02d: %v", tc.hour, tc.minute, err)
		}
		if got != tc.want {
			t.Errorf("withinActiveHours(%02d:%02d) = %v, want %v", tc.hour, tc.minute, got, tc.want)
		}
	}
}

func TestTriggerNowBypassesActiveHours(t *testing.T) {
	s, _, b := newTestScheduler(t, &fixedProvider{content: "manual check-in"})
	s.now = atClock(3, 0) // outside the 08:00-22:00 default window

	s.TriggerNow(context.Background())
	if b.OutboundSize() != 1 {
		t.Errorf("outbound size = %d, want 1 after manual trigger", b.OutboundSize())
	}
}

func TestApologyNotBroadcast(t *testing.T) {
	s, _, b := newTestScheduler(t, &fixedProvider{err: errors.New("provider down")})
	s.now = atClock(12, 0)

	cfg, _ := s.loadConfig(context.Background())
	s.fire(cfg)
	if b.OutboundSize() != 0 {
		t.Error("apology reply was broadcast")
	}
}

func TestStartDisabledIsNoop(t *testing.T) {
	s, st, _ := newTestScheduler(t, &fixedProvider{content: "x"})
	row := &store.HeartbeatRow{
		UserID: "u1", Enabled: false, Interval: "1h",
		ActiveStart: "08:00", ActiveEnd: "22:00", Timezone: "UTC",
	}
	if err := st.UpsertHeartbeat(context.Background(), row); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start disabled: %v", err)
	}
	s.mu.Lock()
	armed := s.ticker != nil
	s.mu.Unlock()
	if armed {
		t.Error("disabled heartbeat armed a ticker")
	}
}

func TestRestartKeepsSingleTicker(t *testing.T) {
	s, _, _ := newTestScheduler(t, &fixedProvider{content: "x"})
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.Restart(ctx); err != nil {
			t.Fatalf("restart %d: %v", i, err)
		}
	}
	s.Stop()
	s.mu.Lock()
	armed := s.ticker != nil
	s.mu.Unlock()
	if armed {
		t.Error("ticker survived Stop")
	}
}

func TestParseClock(t *testing.T) {
	good := map[string]int{"08:00": 480, "00:00": 0, "23:59": 1439}
	for in, want := range good {
		got, err := parseClock(in)
		if err != nil {
			t.Errorf("parseClock(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("parseClock(%q) = %d, want %d", in, got, want)
		}
	}
	for _, in := range []string{"24:00", "08:60", "eight", ""} {
		if _, err := parseClock(in); err == nil {
			t.Errorf("parseClock(%q) succeeded", in)
		}
	}
}

func TestInvalidIntervalRejected(t *testing.T) {
	s, st, _ := newTestScheduler(t, &fixedProvider{content: "x"})
	row := &store.HeartbeatRow{
		UserID: "u1", Enabled: true, Interval: "7m",
		ActiveStart: "08:00", ActiveEnd: "22:00", Timezone: "UTC",
	}
	if err := st.UpsertHeartbeat(context.Background(), row); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		s.Stop()
		t.Error("invalid interval accepted")
	}
}
