// Package heartbeat schedules proactive outreach: on a fixed interval the
// agent is prompted without user input and the reply is broadcast to every
// connected channel, gated by configured active hours.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/valet-ai/valet/internal/agent"
	"github.com/valet-ai/valet/internal/bus"
	"github.com/valet-ai/valet/internal/config"
	"github.com/valet-ai/valet/internal/store"
)

// SessionKey is the synthetic session key heartbeat turns run under.
const SessionKey = "heartbeat"

var intervals = map[string]time.Duration{
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"12h": 12 * time.Hour,
}

// Scheduler owns the single heartbeat ticker. Configuration is read from the
// store at (re)arm time; call Restart after changing it.
type Scheduler struct {
	store    *store.Store
	loop     *agent.Loop
	bus      *bus.MessageBus
	defaults config.HeartbeatConfig
	userID   string
	now      func() time.Time
	log      *slog.Logger

	mu     sync.Mutex
	ticker *time.Ticker
	stop   chan struct{}
}

// NewScheduler creates a heartbeat scheduler. defaults apply until the user
// saves a per-user row.
func NewScheduler(st *store.Store, loop *agent.Loop, b *bus.MessageBus, defaults config.HeartbeatConfig, userID string) *Scheduler {
	return &Scheduler{
		store:    st,
		loop:     loop,
		bus:      b,
		defaults: defaults,
		userID:   userID,
		now:      time.Now,
		log:      slog.With("component", "heartbeat"),
	}
}

// Start arms the ticker from the current configuration. A disabled heartbeat
// is not an error; Start just leaves the timer unarmed.
func (s *Scheduler) Start(ctx context.Context) error {
	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return err
	}
	if !cfg.Enabled {
		s.log.Info("disabled")
		return nil
	}
	interval, ok := intervals[cfg.Interval]
	if !ok {
		return fmt.Errorf("invalid heartbeat interval: %q", cfg.Interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
	s.ticker = time.NewTicker(interval)
	s.stop = make(chan struct{})
	go s.run(s.ticker, s.stop, cfg)

	s.log.Info("armed", "interval", cfg.Interval, "active", cfg.ActiveStart+"-"+cfg.ActiveEnd, "tz", cfg.Timezone)
	return nil
}

// Stop clears the timer. Safe to call when unarmed.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

// Restart re-reads configuration and re-arms. The old timer is always
// cleared first, so there is never more than one ticker.
func (s *Scheduler) Restart(ctx context.Context) error {
	s.Stop()
	return s.Start(ctx)
}

func (s *Scheduler) clearLocked() {
	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.ticker = nil
		s.stop = nil
	}
}

func (s *Scheduler) run(ticker *time.Ticker, stop chan struct{}, cfg *store.HeartbeatRow) {
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.fire(cfg)
		}
	}
}

// fire runs one heartbeat if within active hours. Outside them it is a no-op
// and the timer stays armed.
func (s *Scheduler) fire(cfg *store.HeartbeatRow) {
	within, err := s.withinActiveHours(cfg)
	if err != nil {
		s.log.Error("active-hours check failed", "error", err)
		return
	}
	if !within {
		s.log.Debug("outside active hours, skipping")
		return
	}
	s.Trigger(context.Background(), cfg.Prompt)
}

// TriggerNow fires a heartbeat immediately, bypassing the active-hours gate.
// Used by the control plane.
func (s *Scheduler) TriggerNow(ctx context.Context) {
	cfg, err := s.loadConfig(ctx)
	if err != nil {
		s.log.Error("load config failed", "error", err)
		return
	}
	s.Trigger(ctx, cfg.Prompt)
}

// Trigger runs one heartbeat turn and broadcasts a non-empty reply to every
// connected channel.
func (s *Scheduler) Trigger(ctx context.Context, prompt string) {
	if prompt == "" {
		prompt = s.defaults.Prompt
	}
	s.log.Info("heartbeat firing")
	reply := s.loop.HandleMessage(ctx, SessionKey, prompt)
	if reply == "" || reply == agent.Apology {
		s.log.Warn("heartbeat produced no usable reply")
		return
	}
	s.bus.PublishOutbound(&bus.OutboundMessage{
		Content:   reply,
		Broadcast: true,
	})
}

// withinActiveHours evaluates the local clock in the configured timezone.
// Windows may wrap midnight (e.g. 22:00-06:00).
func (s *Scheduler) withinActiveHours(cfg *store.HeartbeatRow) (bool, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return false, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	startMin, err := parseClock(cfg.ActiveStart)
	if err != nil {
		return false, err
	}
	endMin, err := parseClock(cfg.ActiveEnd)
	if err != nil {
		return false, err
	}

	now := s.now().In(loc)
	nowMin := now.Hour()*60 + now.Minute()
	if startMin <= endMin {
		return nowMin >= startMin && nowMin < endMin, nil
	}
	return nowMin >= startMin || nowMin < endMin, nil
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock string %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock string %q", s)
	}
	return h*60 + m, nil
}

// loadConfig returns the persisted row, or one synthesized from defaults.
func (s *Scheduler) loadConfig(ctx context.Context) (*store.HeartbeatRow, error) {
	row, err := s.store.GetHeartbeat(ctx, s.userID)
	if err == nil {
		return row, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load heartbeat config: %w", err)
	}
	return &store.HeartbeatRow{
		UserID:      s.userID,
		Enabled:     s.defaults.Enabled,
		Interval:    s.defaults.Interval,
		Prompt:      s.defaults.Prompt,
		ActiveStart: s.defaults.ActiveStart,
		ActiveEnd:   s.defaults.ActiveEnd,
		Timezone:    s.defaults.Timezone,
	}, nil
}
