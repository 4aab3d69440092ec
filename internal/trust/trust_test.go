package trust

import (
	"context"
	"errors"
	"testing"

	"github.com/valet-ai/valet/internal/store"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		channel string
		raw     string
		want    string
	}{
		{"whatsapp", "+14155550100", "+14155550100"},
		{"whatsapp", "+1 (415) 555-0100", "+14155550100"},
		{"whatsapp", "WhatsApp: +1 (415) 555-0100", "+14155550100"},
		{"whatsapp", "tel:+14155550100", "+14155550100"},
		{"whatsapp", "0044 20 7946 0958", "+442079460958"},
		{"whatsapp", "415+555+0100", "4155550100"},
		{"slack", "U0123ABCD", "u0123abcd"},
		{"slack", "@alice", "alice"},
		{"slack", "@@alice", "alice"},
		{"slack", "user:alice", "alice"},
		{"telegram", " @Bob_42 ", "bob_42"},
		{"email", " Alice@Example.COM ", "alice@example.com"},
	}
	for _, tc := range tests {
		got := Normalize(tc.channel, tc.raw)
		if got != tc.want {
			t.Errorf("Normalize(%q, %q) = %q, want %q", tc.channel, tc.raw, got, tc.want)
		}
		// Canonical form must be a fixed point.
		if again := Normalize(tc.channel, got); again != got {
			t.Errorf("Normalize(%q, %q) not idempotent: %q -> %q", tc.channel, tc.raw, got, again)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		channel string
		id      string
		ok      bool
	}{
		{"whatsapp", "+14155550100", true},
		{"whatsapp", "4155550100", true},
		{"whatsapp", "abc", false},
		{"whatsapp", "+1", false},
		{"slack", "u0123abcd", true},
		{"slack", "x", false},
		{"slack", "has space", false},
		{"email", "alice@example.com", true},
		{"email", "not-an-email", false},
		{"other", "anything", true},
		{"other", "", false},
	}
	for _, tc := range tests {
		err := Validate(tc.channel, tc.id)
		if tc.ok && err != nil {
			t.Errorf("Validate(%q, %q) = %v, want nil", tc.channel, tc.id, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidIdentifier) {
			t.Errorf("Validate(%q, %q) = %v, want ErrInvalidIdentifier", tc.channel, tc.id, err)
		}
	}
}

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewEngine(st), st
}

func TestOwnerOnlyDefault(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	ok, err := eng.IsAuthorized(ctx, "u1", "whatsapp", "+14155550100")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if ok {
		t.Error("unknown sender authorized under default owner_only")
	}

	if _, err := eng.AddContact(ctx, "u1", "whatsapp", "+1 (415) 555-0100", "me", true); err != nil {
		t.Fatalf("add owner: %v", err)
	}
	ok, err = eng.IsAuthorized(ctx, "u1", "whatsapp", "WhatsApp: +1 (415) 555-0100")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !ok {
		t.Error("owner denied; normalization should match the stored identifier")
	}
}

func TestAllowlistMode(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.AddContact(ctx, "u1", "whatsapp", "+14155550100", "", true); err != nil {
		t.Fatalf("add owner: %v", err)
	}
	if _, err := eng.AddContact(ctx, "u1", "slack", "@alice", "", false); err != nil {
		t.Fatalf("add contact: %v", err)
	}
	if err := eng.SetMode(ctx, "u1", store.ModeAllowlist); err != nil {
		t.Fatalf("set mode: %v", err)
	}

	ok, _ := eng.IsAuthorized(ctx, "u1", "slack", "alice")
	if !ok {
		t.Error("allowlisted non-owner denied in allowlist mode")
	}
	ok, _ = eng.IsAuthorized(ctx, "u1", "slack", "mallory")
	if ok {
		t.Error("unlisted sender authorized in allowlist mode")
	}

	// The same non-owner is denied once the mode tightens.
	if err := eng.SetMode(ctx, "u1", store.ModeOwnerOnly); err != nil {
		t.Fatalf("tighten mode: %v", err)
	}
	ok, _ = eng.IsAuthorized(ctx, "u1", "slack", "alice")
	if ok {
		t.Error("non-owner authorized in owner_only mode")
	}
}

func TestOpenModeStillValidates(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if err := eng.SetMode(ctx, "u1", store.ModeOpen); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	ok, _ := eng.IsAuthorized(ctx, "u1", "whatsapp", "+14155550100")
	if !ok {
		t.Error("valid sender denied in open mode")
	}
	ok, _ = eng.IsAuthorized(ctx, "u1", "whatsapp", "not a phone")
	if ok {
		t.Error("malformed identifier authorized in open mode")
	}
}

func TestOwnerOnlyRequiresOwner(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if err := eng.SetMode(ctx, "u1", store.ModeOpen); err != nil {
		t.Fatalf("set open: %v", err)
	}
	if err := eng.SetMode(ctx, "u1", store.ModeOwnerOnly); err == nil {
		t.Error("owner_only accepted with zero owners")
	}

	if _, err := eng.AddContact(ctx, "u1", "whatsapp", "+14155550100", "", true); err != nil {
		t.Fatalf("add owner: %v", err)
	}
	if err := eng.SetMode(ctx, "u1", store.ModeOwnerOnly); err != nil {
		t.Errorf("owner_only with an owner: %v", err)
	}
}

func TestSetModeRejectsUnknown(t *testing.T) {
	eng, _ := newTestEngine(t)
	if err := eng.SetMode(context.Background(), "u1", "everyone"); !errors.Is(err, ErrInvalidMode) {
		t.Errorf("err = %v, want ErrInvalidMode", err)
	}
}

func TestAddContactRejectsInvalid(t *testing.T) {
	eng, _ := newTestEngine(t)
	if _, err := eng.AddContact(context.Background(), "u1", "whatsapp", "abc", "", false); !errors.Is(err, ErrInvalidIdentifier) {
		t.Errorf("err = %v, want ErrInvalidIdentifier", err)
	}
}

func TestRemoveLastOwnerBlocked(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.AddContact(ctx, "u1", "whatsapp", "+14155550100", "", true); err != nil {
		t.Fatalf("add owner: %v", err)
	}
	if err := eng.RemoveContact(ctx, "u1", "whatsapp", "+14155550100"); !errors.Is(err, store.ErrLastOwner) {
		t.Errorf("err = %v, want ErrLastOwner", err)
	}
}

func TestDecisionsAreAudited(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.AddContact(ctx, "u1", "whatsapp", "+14155550100", "", true); err != nil {
		t.Fatalf("add owner: %v", err)
	}
	if _, err := eng.IsAuthorized(ctx, "u1", "whatsapp", "+14155550100"); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if _, err := eng.IsAuthorized(ctx, "u1", "whatsapp", "+15550000000"); err != nil {
		t.Fatalf("authorize: %v", err)
	}

	events, err := st.ListTrustEvents(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	actions := make(map[string]int)
	for _, ev := range events {
		actions[ev.Action]++
	}
	if actions[ActionContactAdd] != 1 {
		t.Errorf("contact_added events = %d, want 1", actions[ActionContactAdd])
	}
	if actions[ActionAuthorized] != 1 {
		t.Errorf("authorized events = %d, want 1", actions[ActionAuthorized])
	}
	if actions[ActionDenied] != 1 {
		t.Errorf("denied events = %d, want 1", actions[ActionDenied])
	}
}

type recordingObserver struct {
	events []*store.TrustEvent
}

func (r *recordingObserver) TrustEvent(ev *store.TrustEvent) {
	r.events = append(r.events, ev)
}

func TestObserverSeesEveryEvent(t *testing.T) {
	eng, _ := newTestEngine(t)
	obs := &recordingObserver{}
	eng.SetObserver(obs)
	ctx := context.Background()

	if _, err := eng.AddContact(ctx, "u1", "whatsapp", "+14155550100", "", true); err != nil {
		t.Fatalf("add owner: %v", err)
	}
	if _, err := eng.IsAuthorized(ctx, "u1", "whatsapp", "+14155550100"); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if _, err := eng.IsAuthorized(ctx, "u1", "whatsapp", "+15550000000"); err != nil {
		t.Fatalf("authorize: %v", err)
	}

	if len(obs.events) != 3 {
		t.Fatalf("observed %d events, want 3", len(obs.events))
	}
	got := []string{obs.events[0].Action, obs.events[1].Action, obs.events[2].Action}
	want := []string{ActionContactAdd, ActionAuthorized, ActionDenied}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d action = %q, want %q", i, got[i], want[i])
		}
	}
	if obs.events[1].NormalizedID != "+14155550100" {
		t.Errorf("normalized id = %q", obs.events[1].NormalizedID)
	}
}
