// Package store provides sqlite persistence for valet's durable state:
// memory entries, trust data, sub-agent tasks, and heartbeat configuration.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrLastOwner is returned when a mutation would leave a user with no owner.
var ErrLastOwner = errors.New("cannot remove or demote the last owner")

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path and applies the
// schema. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc's driver is not safe for concurrent writes on one connection
	// pool beyond sqlite's own locking; a single connection avoids SQLITE_BUSY
	// churn under WAL.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	s := &Store{db: db}
	s.migrate()
	return s, nil
}

// migrate applies additive migrations for rows created by older builds.
// Best-effort: duplicate-column errors are expected and ignored.
func (s *Store) migrate() {
	stmts := []string{
		`ALTER TABLE subagent_tasks ADD COLUMN total_tokens INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE trusted_contacts ADD COLUMN label TEXT DEFAULT ''`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			slog.Debug("migration skipped", "stmt", stmt, "error", err)
		}
	}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for components that manage their own
// statements (e.g. the whatsmeow device store shares the file, not the handle).
func (s *Store) DB() *sql.DB {
	return s.db
}

// --- settings ---

// GetSetting returns the value for key, or "" if unset.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting stores a key/value pair, replacing any previous value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// --- memory entries ---

// InsertMemory persists one extracted memory entry.
func (s *Store) InsertMemory(ctx context.Context, e *MemoryEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Category == "" {
		e.Category = CategoryGeneral
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_entries (id, user_id, content, category, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Content, e.Category, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert memory entry: %w", err)
	}
	return nil
}

// ListMemory returns the most recent entries for a user, newest first.
func (s *Store) ListMemory(ctx context.Context, userID string, limit int) ([]*MemoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, content, category, created_at
		FROM memory_entries WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list memory entries: %w", err)
	}
	defer rows.Close()

	var entries []*MemoryEntry
	for rows.Next() {
		e := &MemoryEntry{}
		if err := rows.Scan(&e.ID, &e.UserID, &e.Content, &e.Category, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountMemory returns the number of stored entries for a user.
func (s *Store) CountMemory(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_entries WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count memory entries: %w", err)
	}
	return n, nil
}

// --- trust policy ---

// GetTrustMode returns the user's policy mode, defaulting to owner_only.
func (s *Store) GetTrustMode(ctx context.Context, userID string) (string, error) {
	var mode string
	err := s.db.QueryRowContext(ctx, `SELECT mode FROM trust_policy WHERE user_id = ?`, userID).Scan(&mode)
	if errors.Is(err, sql.ErrNoRows) {
		return ModeOwnerOnly, nil
	}
	if err != nil {
		return "", fmt.Errorf("get trust mode: %w", err)
	}
	return mode, nil
}

// SetTrustMode stores the user's policy mode.
func (s *Store) SetTrustMode(ctx context.Context, userID, mode string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trust_policy (user_id, mode, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET mode = excluded.mode, updated_at = excluded.updated_at`,
		userID, mode, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set trust mode: %w", err)
	}
	return nil
}

// --- trusted contacts ---

// UpsertContact inserts or updates a contact identified by
// (user_id, channel_type, identifier). Identifier must already be normalized.
func (s *Store) UpsertContact(ctx context.Context, c *TrustedContact) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trusted_contacts (user_id, channel_type, identifier, label, is_owner, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, channel_type, identifier) DO UPDATE SET
			label = excluded.label, is_owner = excluded.is_owner, updated_at = excluded.updated_at`,
		c.UserID, c.ChannelType, c.Identifier, c.Label, c.IsOwner, now, now)
	if err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}
	return nil
}

// GetContact looks up a contact by normalized identifier.
func (s *Store) GetContact(ctx context.Context, userID, channelType, identifier string) (*TrustedContact, error) {
	c := &TrustedContact{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, channel_type, identifier, label, is_owner, created_at, updated_at
		FROM trusted_contacts WHERE user_id = ? AND channel_type = ? AND identifier = ?`,
		userID, channelType, identifier).
		Scan(&c.ID, &c.UserID, &c.ChannelType, &c.Identifier, &c.Label, &c.IsOwner, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

// ListContacts returns all contacts for a user, owners first.
func (s *Store) ListContacts(ctx context.Context, userID string) ([]*TrustedContact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, channel_type, identifier, label, is_owner, created_at, updated_at
		FROM trusted_contacts WHERE user_id = ?
		ORDER BY is_owner DESC, channel_type, identifier`, userID)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*TrustedContact
	for rows.Next() {
		c := &TrustedContact{}
		if err := rows.Scan(&c.ID, &c.UserID, &c.ChannelType, &c.Identifier, &c.Label, &c.IsOwner, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// RemoveContact deletes a contact. Removing the last remaining owner fails
// with ErrLastOwner; the check and the delete run in one transaction.
func (s *Store) RemoveContact(ctx context.Context, userID, channelType, identifier string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var isOwner bool
	err = tx.QueryRowContext(ctx, `
		SELECT is_owner FROM trusted_contacts
		WHERE user_id = ? AND channel_type = ? AND identifier = ?`,
		userID, channelType, identifier).Scan(&isOwner)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup contact: %w", err)
	}
	if isOwner {
		var owners int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM trusted_contacts WHERE user_id = ? AND is_owner = 1`,
			userID).Scan(&owners); err != nil {
			return fmt.Errorf("count owners: %w", err)
		}
		if owners <= 1 {
			return ErrLastOwner
		}
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM trusted_contacts
		WHERE user_id = ? AND channel_type = ? AND identifier = ?`,
		userID, channelType, identifier); err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	return tx.Commit()
}

// SetContactOwner promotes or demotes a contact. Demoting the last owner
// fails with ErrLastOwner.
func (s *Store) SetContactOwner(ctx context.Context, userID, channelType, identifier string, isOwner bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var current bool
	err = tx.QueryRowContext(ctx, `
		SELECT is_owner FROM trusted_contacts
		WHERE user_id = ? AND channel_type = ? AND identifier = ?`,
		userID, channelType, identifier).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup contact: %w", err)
	}
	if current && !isOwner {
		var owners int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM trusted_contacts WHERE user_id = ? AND is_owner = 1`,
			userID).Scan(&owners); err != nil {
			return fmt.Errorf("count owners: %w", err)
		}
		if owners <= 1 {
			return ErrLastOwner
		}
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE trusted_contacts SET is_owner = ?, updated_at = ?
		WHERE user_id = ? AND channel_type = ? AND identifier = ?`,
		isOwner, time.Now().UTC(), userID, channelType, identifier); err != nil {
		return fmt.Errorf("update contact: %w", err)
	}
	return tx.Commit()
}

// CountOwners returns the number of owner contacts for a user.
func (s *Store) CountOwners(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM trusted_contacts WHERE user_id = ? AND is_owner = 1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count owners: %w", err)
	}
	return n, nil
}

// AppendTrustEvent writes one audit record. Failures are the caller's to log;
// audit writes never block the decision they record.
func (s *Store) AppendTrustEvent(ctx context.Context, ev *TrustEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trust_events (user_id, channel_type, raw_identifier, normalized_identifier, action, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.UserID, ev.ChannelType, ev.RawID, ev.NormalizedID, ev.Action, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append trust event: %w", err)
	}
	return nil
}

// ListTrustEvents returns recent audit records, newest first.
func (s *Store) ListTrustEvents(ctx context.Context, userID string, limit int) ([]*TrustEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, channel_type, raw_identifier, normalized_identifier, action, created_at
		FROM trust_events WHERE user_id = ?
		ORDER BY id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list trust events: %w", err)
	}
	defer rows.Close()

	var events []*TrustEvent
	for rows.Next() {
		ev := &TrustEvent{}
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.ChannelType, &ev.RawID, &ev.NormalizedID, &ev.Action, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trust event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- sub-agent tasks ---

// CreateTaskIfCapacity inserts a new running task only if the user currently
// has fewer than maxRunning running tasks. The count and the insert execute
// in a single statement, so concurrent spawns cannot both slip under the cap.
// Returns false when the cap is full.
func (s *Store) CreateTaskIfCapacity(ctx context.Context, t *SubagentTask, maxRunning int) (bool, error) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	t.Status = TaskRunning
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO subagent_tasks (task_id, user_id, conversation_id, task, model, status, created_at)
		SELECT ?, ?, ?, ?, ?, 'running', ?
		WHERE (SELECT COUNT(*) FROM subagent_tasks WHERE user_id = ? AND status = 'running') < ?`,
		t.TaskID, t.UserID, t.ConversationID, t.Task, t.Model, t.CreatedAt, t.UserID, maxRunning)
	if err != nil {
		return false, fmt.Errorf("create task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create task: %w", err)
	}
	return n == 1, nil
}

// FinishTask moves a task to a terminal status. The guard on status='running'
// makes the transition happen at most once: the first finisher wins, later
// calls return false.
func (s *Store) FinishTask(ctx context.Context, taskID, status, result, errorText string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE subagent_tasks SET status = ?, result = ?, error_text = ?, completed_at = ?
		WHERE task_id = ? AND status = 'running'`,
		status, result, errorText, time.Now().UTC(), taskID)
	if err != nil {
		return false, fmt.Errorf("finish task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("finish task: %w", err)
	}
	return n == 1, nil
}

// AddTaskTokens accumulates provider token usage onto a task.
func (s *Store) AddTaskTokens(ctx context.Context, taskID string, tokens int) error {
	if tokens <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE subagent_tasks SET total_tokens = total_tokens + ? WHERE task_id = ?`,
		tokens, taskID)
	if err != nil {
		return fmt.Errorf("add task tokens: %w", err)
	}
	return nil
}

// AppendStep persists one step-log entry for a task.
func (s *Store) AppendStep(ctx context.Context, step *SubagentStep) error {
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subagent_steps (task_id, step_no, action, result, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		step.TaskID, step.StepNo, step.Action, step.Result, step.CreatedAt)
	if err != nil {
		return fmt.Errorf("append step: %w", err)
	}
	return nil
}

// GetTask returns a task with its ordered step log.
func (s *Store) GetTask(ctx context.Context, taskID string) (*SubagentTask, error) {
	t := &SubagentTask{}
	var completedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT task_id, user_id, conversation_id, task, model, status, total_tokens, result, error_text, created_at, completed_at
		FROM subagent_tasks WHERE task_id = ?`, taskID).
		Scan(&t.TaskID, &t.UserID, &t.ConversationID, &t.Task, &t.Model, &t.Status,
			&t.TotalTokens, &t.Result, &t.ErrorText, &t.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, step_no, action, result, created_at
		FROM subagent_steps WHERE task_id = ? ORDER BY step_no`, taskID)
	if err != nil {
		return nil, fmt.Errorf("get task steps: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		step := SubagentStep{}
		if err := rows.Scan(&step.ID, &step.TaskID, &step.StepNo, &step.Action, &step.Result, &step.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		t.Steps = append(t.Steps, step)
	}
	return t, rows.Err()
}

// ListTasks returns a user's tasks, newest first, without step logs.
func (s *Store) ListTasks(ctx context.Context, userID string, limit int) ([]*SubagentTask, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, user_id, conversation_id, task, model, status, total_tokens, result, error_text, created_at, completed_at
		FROM subagent_tasks WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*SubagentTask
	for rows.Next() {
		t := &SubagentTask{}
		var completedAt sql.NullTime
		if err := rows.Scan(&t.TaskID, &t.UserID, &t.ConversationID, &t.Task, &t.Model, &t.Status,
			&t.TotalTokens, &t.Result, &t.ErrorText, &t.CreatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if completedAt.Valid {
			t.CompletedAt = &completedAt.Time
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// CountRunningTasks returns the number of running tasks for a user.
func (s *Store) CountRunningTasks(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM subagent_tasks WHERE user_id = ? AND status = 'running'`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count running tasks: %w", err)
	}
	return n, nil
}

// --- heartbeat config ---

// GetHeartbeat returns the persisted heartbeat config, or ErrNotFound when
// the user has never saved one (callers fall back to config defaults).
func (s *Store) GetHeartbeat(ctx context.Context, userID string) (*HeartbeatRow, error) {
	h := &HeartbeatRow{}
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, enabled, interval, prompt, active_start, active_end, timezone, updated_at
		FROM heartbeat_config WHERE user_id = ?`, userID).
		Scan(&h.UserID, &h.Enabled, &h.Interval, &h.Prompt, &h.ActiveStart, &h.ActiveEnd, &h.Timezone, &h.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get heartbeat config: %w", err)
	}
	return h, nil
}

// UpsertHeartbeat stores the per-user heartbeat configuration.
func (s *Store) UpsertHeartbeat(ctx context.Context, h *HeartbeatRow) error {
	h.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO heartbeat_config (user_id, enabled, interval, prompt, active_start, active_end, timezone, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			enabled = excluded.enabled, interval = excluded.interval, prompt = excluded.prompt,
			active_start = excluded.active_start, active_end = excluded.active_end,
			timezone = excluded.timezone, updated_at = excluded.updated_at`,
		h.UserID, h.Enabled, h.Interval, h.Prompt, h.ActiveStart, h.ActiveEnd, h.Timezone, h.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert heartbeat config: %w", err)
	}
	return nil
}
