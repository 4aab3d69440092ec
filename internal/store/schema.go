package store

import (
	"time"
)

// MemoryEntry is a durable extracted fact, immutable once written.
type MemoryEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	Category  string    `json:"category"` // general, preference, task, fact
	CreatedAt time.Time `json:"created_at"`
}

// Memory categories.
const (
	CategoryGeneral    = "general"
	CategoryPreference = "preference"
	CategoryTask       = "task"
	CategoryFact       = "fact"
)

// TrustedContact is an identity allowed to reach the assistant on a channel.
type TrustedContact struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id"`
	ChannelType string    `json:"channel_type"`
	Identifier  string    `json:"identifier"` // normalized form
	Label       string    `json:"label"`
	IsOwner     bool      `json:"is_owner"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TrustEvent is an append-only audit record of trust decisions and mutations.
type TrustEvent struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"user_id"`
	ChannelType  string    `json:"channel_type"`
	RawID        string    `json:"raw_identifier"`
	NormalizedID string    `json:"normalized_identifier"`
	Action       string    `json:"action"`
	CreatedAt    time.Time `json:"created_at"`
}

// Trust modes.
const (
	ModeOwnerOnly = "owner_only"
	ModeAllowlist = "allowlist"
	ModeOpen      = "open"
)

// SubagentTask is a background multi-step task record.
type SubagentTask struct {
	TaskID         string         `json:"task_id"`
	UserID         string         `json:"user_id"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Task           string         `json:"task"`
	Model          string         `json:"model"`
	Status         string         `json:"status"`
	TotalTokens    int            `json:"total_tokens"`
	Result         string         `json:"result,omitempty"`
	ErrorText      string         `json:"error_text,omitempty"`
	Steps          []SubagentStep `json:"steps,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// SubagentStep is one entry in a task's ordered step log.
type SubagentStep struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	StepNo    int       `json:"step_no"`
	Action    string    `json:"action"`
	Result    string    `json:"result"`
	CreatedAt time.Time `json:"created_at"`
}

// Sub-agent task statuses. Running is the only non-terminal state.
const (
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
	TaskCancelled = "cancelled"
)

// HeartbeatRow is the persisted per-user heartbeat configuration.
type HeartbeatRow struct {
	UserID      string    `json:"user_id"`
	Enabled     bool      `json:"enabled"`
	Interval    string    `json:"interval"` // 15m, 30m, 1h, 4h, 12h
	Prompt      string    `json:"prompt"`
	ActiveStart string    `json:"active_start"` // "08:00"
	ActiveEnd   string    `json:"active_end"`   // "22:00"
	Timezone    string    `json:"timezone"`     // IANA name
	UpdatedAt   time.Time `json:"updated_at"`
}

const Schema = `
CREATE TABLE IF NOT EXISTS memory_entries (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	content TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT 'general',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_memory_user ON memory_entries(user_id);
CREATE INDEX IF NOT EXISTS idx_memory_created ON memory_entries(created_at);

CREATE TABLE IF NOT EXISTS trusted_contacts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	channel_type TEXT NOT NULL,
	identifier TEXT NOT NULL,
	label TEXT DEFAULT '',
	is_owner BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(user_id, channel_type, identifier)
);
CREATE INDEX IF NOT EXISTS idx_contacts_user ON trusted_contacts(user_id, channel_type);

CREATE TABLE IF NOT EXISTS trust_policy (
	user_id TEXT PRIMARY KEY,
	mode TEXT NOT NULL DEFAULT 'owner_only',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS trust_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	channel_type TEXT NOT NULL,
	raw_identifier TEXT NOT NULL DEFAULT '',
	normalized_identifier TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_trust_events_user ON trust_events(user_id);
CREATE INDEX IF NOT EXISTS idx_trust_events_created ON trust_events(created_at);

CREATE TABLE IF NOT EXISTS subagent_tasks (
	task_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	conversation_id TEXT DEFAULT '',
	task TEXT NOT NULL,
	model TEXT DEFAULT '',
	status TEXT NOT NULL DEFAULT 'running',
	total_tokens INTEGER NOT NULL DEFAULT 0,
	result TEXT DEFAULT '',
	error_text TEXT DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	completed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_subagent_user_status ON subagent_tasks(user_id, status);

CREATE TABLE IF NOT EXISTS subagent_steps (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT NOT NULL,
	step_no INTEGER NOT NULL,
	action TEXT NOT NULL,
	result TEXT DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_subagent_steps_task ON subagent_steps(task_id, step_no);

CREATE TABLE IF NOT EXISTS heartbeat_config (
	user_id TEXT PRIMARY KEY,
	enabled BOOLEAN NOT NULL DEFAULT 0,
	interval TEXT NOT NULL DEFAULT '1h',
	prompt TEXT DEFAULT '',
	active_start TEXT NOT NULL DEFAULT '08:00',
	active_end TEXT NOT NULL DEFAULT '22:00',
	timezone TEXT NOT NULL DEFAULT 'UTC',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT,
	updated_at DATETIME
);
`
