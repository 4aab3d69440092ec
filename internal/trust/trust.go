// Package trust implements per-user sender authorization: identifier
// normalization, per-channel validation, and the owner_only/allowlist/open
// policy modes. Every decision and mutation leaves an audit event.
package trust

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/valet-ai/valet/internal/store"
)

// ErrInvalidIdentifier is returned when an identifier fails shape validation
// for its channel.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// ErrInvalidMode is returned for an unknown policy mode.
var ErrInvalidMode = errors.New("invalid trust mode")

// Audit action tags.
const (
	ActionAuthorized  = "authorized"
	ActionDenied      = "denied"
	ActionContactAdd  = "contact_added"
	ActionContactDel  = "contact_removed"
	ActionOwnerSet    = "owner_set"
	ActionOwnerUnset  = "owner_unset"
	ActionModeChanged = "mode_changed"
)

var (
	phoneChannels  = map[string]bool{"whatsapp": true, "sms": true, "phone": true}
	handleChannels = map[string]bool{"slack": true, "telegram": true, "discord": true}

	nonPhoneRe = regexp.MustCompile(`[^0-9+]`)
	phoneRe    = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
	handleRe   = regexp.MustCompile(`^[a-z0-9._-]{2,64}$`)
	emailRe    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// AuditObserver receives every trust event the engine records, in addition to
// the sqlite audit trail.
type AuditObserver interface {
	TrustEvent(ev *store.TrustEvent)
}

// Engine evaluates trust policy against the persisted contact set.
type Engine struct {
	store    *store.Store
	observer AuditObserver
	log      *slog.Logger
}

// NewEngine creates a trust engine backed by the store.
func NewEngine(st *store.Store) *Engine {
	return &Engine{store: st, log: slog.With("component", "trust")}
}

// SetObserver registers an observer for trust events, e.g. the Kafka audit
// exporter. Call before the engine starts taking decisions.
func (e *Engine) SetObserver(obs AuditObserver) {
	e.observer = obs
}

// Normalize converts a raw sender identifier into its canonical form for the
// channel. Idempotent: normalizing an already-normalized identifier is a no-op.
func Normalize(channelType, raw string) string {
	s := strings.TrimSpace(raw)

	// Channel prefixes like "WhatsApp: +1..." or "slack:U123" arrive from
	// some transports; strip one leading "<word>:" label.
	if idx := strings.Index(s, ":"); idx > 0 {
		prefix := strings.ToLower(strings.TrimSpace(s[:idx]))
		if prefix == strings.ToLower(channelType) || prefix == "tel" || prefix == "user" {
			s = strings.TrimSpace(s[idx+1:])
		}
	}

	switch {
	case phoneChannels[channelType]:
		s = nonPhoneRe.ReplaceAllString(s, "")
		// Interior '+' signs are punctuation noise; only a leading one counts.
		if len(s) > 1 {
			s = s[:1] + strings.ReplaceAll(s[1:], "+", "")
		}
		if strings.HasPrefix(s, "00") {
			s = "+" + s[2:]
		}
		return s
	case handleChannels[channelType]:
		s = strings.ToLower(s)
		return strings.TrimLeft(s, "@")
	default:
		return strings.ToLower(s)
	}
}

// Validate checks a normalized identifier against the channel's shape rules.
func Validate(channelType, normalized string) error {
	switch {
	case phoneChannels[channelType]:
		if !phoneRe.MatchString(normalized) {
			return fmt.Errorf("%w: %q is not a phone number", ErrInvalidIdentifier, normalized)
		}
	case handleChannels[channelType]:
		if !handleRe.MatchString(normalized) {
			return fmt.Errorf("%w: %q is not a valid handle", ErrInvalidIdentifier, normalized)
		}
	case channelType == "email":
		if !emailRe.MatchString(normalized) {
			return fmt.Errorf("%w: %q is not an email address", ErrInvalidIdentifier, normalized)
		}
	default:
		if normalized == "" {
			return fmt.Errorf("%w: empty identifier", ErrInvalidIdentifier)
		}
	}
	return nil
}

// IsAuthorized decides whether a sender may reach the user's assistant.
// Malformed identifiers are denied outright. The decision is audited either way.
func (e *Engine) IsAuthorized(ctx context.Context, userID, channelType, raw string) (bool, error) {
	normalized := Normalize(channelType, raw)

	decide := func(ok bool) (bool, error) {
		action := ActionDenied
		if ok {
			action = ActionAuthorized
		}
		e.audit(ctx, userID, channelType, raw, normalized, action)
		return ok, nil
	}

	if err := Validate(channelType, normalized); err != nil {
		e.log.Debug("identifier rejected", "channel", channelType, "raw", raw, "error", err)
		return decide(false)
	}

	mode, err := e.store.GetTrustMode(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("read trust mode: %w", err)
	}
	if mode == store.ModeOpen {
		return decide(true)
	}

	contact, err := e.store.GetContact(ctx, userID, channelType, normalized)
	if errors.Is(err, store.ErrNotFound) {
		return decide(false)
	}
	if err != nil {
		return false, fmt.Errorf("lookup contact: %w", err)
	}

	switch mode {
	case store.ModeAllowlist:
		return decide(true)
	case store.ModeOwnerOnly:
		return decide(contact.IsOwner)
	default:
		return false, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
}

// SetMode changes the user's policy mode. Switching to owner_only requires at
// least one owner contact so the user cannot lock themselves out.
func (e *Engine) SetMode(ctx context.Context, userID, mode string) error {
	switch mode {
	case store.ModeOwnerOnly, store.ModeAllowlist, store.ModeOpen:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	if mode == store.ModeOwnerOnly {
		owners, err := e.store.CountOwners(ctx, userID)
		if err != nil {
			return err
		}
		if owners == 0 {
			return fmt.Errorf("owner_only requires at least one owner contact")
		}
	}
	if err := e.store.SetTrustMode(ctx, userID, mode); err != nil {
		return err
	}
	e.audit(ctx, userID, "", mode, mode, ActionModeChanged)
	return nil
}

// Mode returns the user's current policy mode.
func (e *Engine) Mode(ctx context.Context, userID string) (string, error) {
	return e.store.GetTrustMode(ctx, userID)
}

// AddContact normalizes, validates, and upserts a contact.
func (e *Engine) AddContact(ctx context.Context, userID, channelType, raw, label string, isOwner bool) (*store.TrustedContact, error) {
	normalized := Normalize(channelType, raw)
	if err := Validate(channelType, normalized); err != nil {
		return nil, err
	}
	c := &store.TrustedContact{
		UserID:      userID,
		ChannelType: channelType,
		Identifier:  normalized,
		Label:       label,
		IsOwner:     isOwner,
	}
	if err := e.store.UpsertContact(ctx, c); err != nil {
		return nil, err
	}
	e.audit(ctx, userID, channelType, raw, normalized, ActionContactAdd)
	return c, nil
}

// RemoveContact deletes a contact. Removing the last owner fails with
// store.ErrLastOwner.
func (e *Engine) RemoveContact(ctx context.Context, userID, channelType, raw string) error {
	normalized := Normalize(channelType, raw)
	if err := e.store.RemoveContact(ctx, userID, channelType, normalized); err != nil {
		return err
	}
	e.audit(ctx, userID, channelType, raw, normalized, ActionContactDel)
	return nil
}

// SetOwner promotes or demotes a contact. Demoting the last owner fails with
// store.ErrLastOwner.
func (e *Engine) SetOwner(ctx context.Context, userID, channelType, raw string, isOwner bool) error {
	normalized := Normalize(channelType, raw)
	if err := e.store.SetContactOwner(ctx, userID, channelType, normalized, isOwner); err != nil {
		return err
	}
	action := ActionOwnerUnset
	if isOwner {
		action = ActionOwnerSet
	}
	e.audit(ctx, userID, channelType, raw, normalized, action)
	return nil
}

// ListContacts returns the user's contact set.
func (e *Engine) ListContacts(ctx context.Context, userID string) ([]*store.TrustedContact, error) {
	return e.store.ListContacts(ctx, userID)
}

// audit appends a trust event. Audit failures are logged, never propagated:
// the decision already happened.
func (e *Engine) audit(ctx context.Context, userID, channelType, raw, normalized, action string) {
	ev := &store.TrustEvent{
		UserID:       userID,
		ChannelType:  channelType,
		RawID:        raw,
		NormalizedID: normalized,
		Action:       action,
	}
	if err := e.store.AppendTrustEvent(ctx, ev); err != nil {
		e.log.Warn("trust audit write failed", "action", action, "error", err)
	}
	if e.observer != nil {
		e.observer.TrustEvent(ev)
	}
}
