// Package session holds in-memory conversation state, keyed by
// "<channelType>:<senderId>" (or synthetic keys like "heartbeat").
package session

import (
	"sync"
	"time"
)

// MaxHistory bounds a session's message history. Oldest entries are dropped,
// not summarized.
const MaxHistory = 50

// Message is one history entry.
type Message struct {
	Role       string     `json:"role"` // user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall records a tool invocation requested by the assistant, kept in
// history so later turns replay a coherent conversation.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON-encoded
}

// Session is the bounded conversational state for one key. Not safe for
// concurrent use on its own; the Manager serializes turns per key.
type Session struct {
	Key        string
	History    []Message
	CreatedAt  time.Time
	LastActive time.Time
}

// Append adds a message and enforces the history cap.
func (s *Session) Append(msg Message) {
	s.History = append(s.History, msg)
	if len(s.History) > MaxHistory {
		s.History = s.History[len(s.History)-MaxHistory:]
	}
	s.LastActive = time.Now()
}

// SessionInfo is a read-only snapshot for listings.
type SessionInfo struct {
	Key        string    `json:"key"`
	Messages   int       `json:"messages"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// Manager owns all sessions plus a per-key lock, so concurrent turns on the
// same key serialize instead of interleaving history writes.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	locks    map[string]*sync.Mutex
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		locks:    make(map[string]*sync.Mutex),
	}
}

// Acquire locks the key and returns its session, creating it on first use.
// The caller must call Release(key) when the turn is done.
func (m *Manager) Acquire(key string) *Session {
	m.mu.Lock()
	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	m.mu.Unlock()

	lock.Lock()

	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[key]
	if !ok {
		now := time.Now()
		sess = &Session{Key: key, CreatedAt: now, LastActive: now}
		m.sessions[key] = sess
	}
	return sess
}

// Release unlocks the key after a turn.
func (m *Manager) Release(key string) {
	m.mu.Lock()
	lock, ok := m.locks[key]
	m.mu.Unlock()
	if ok {
		lock.Unlock()
	}
}

// Clear removes a session's state. The per-key lock stays, so an in-flight
// turn on the old session finishes safely.
func (m *Manager) Clear(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[key]
	delete(m.sessions, key)
	return ok
}

// ClearAll drops every session and returns how many were removed. Like Clear,
// the per-key locks stay so in-flight turns finish safely.
func (m *Manager) ClearAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.sessions)
	m.sessions = make(map[string]*Session)
	return n
}

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// List returns a snapshot of every session, unordered.
func (m *Manager) List() []SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, SessionInfo{
			Key:        s.Key,
			Messages:   len(s.History),
			CreatedAt:  s.CreatedAt,
			LastActive: s.LastActive,
		})
	}
	return out
}
