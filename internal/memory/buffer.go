// Package memory buffers extracted facts and flushes them to the store in
// batches on a fixed interval.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/valet-ai/valet/internal/store"
)

// Buffer queues memory entries for periodic persistence. Add never blocks;
// entries sit in memory until the next flush and are lost on process exit.
type Buffer struct {
	store    *store.Store
	userID   string
	interval time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	pending []*store.MemoryEntry
}

// NewBuffer creates a memory buffer flushing every interval.
func NewBuffer(st *store.Store, userID string, interval time.Duration) *Buffer {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Buffer{
		store:    st,
		userID:   userID,
		interval: interval,
		log:      slog.With("component", "memory"),
	}
}

// Add queues one entry. Safe to call from any goroutine; never blocks.
func (b *Buffer) Add(content, category string) {
	entry := &store.MemoryEntry{
		ID:        uuid.NewString(),
		UserID:    b.userID,
		Content:   content,
		Category:  category,
		CreatedAt: time.Now().UTC(),
	}
	b.mu.Lock()
	b.pending = append(b.pending, entry)
	b.mu.Unlock()
}

// Size returns the number of entries awaiting flush.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Run flushes on the configured interval until ctx is cancelled, then makes
// a final flush so a clean shutdown does not drop the queue.
func (b *Buffer) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.Flush(context.Background())
			return
		case <-ticker.C:
			b.Flush(ctx)
		}
	}
}

// Flush drains the whole queue. Rows that fail to insert are logged and
// dropped; one bad row does not hold the rest of the queue hostage.
func (b *Buffer) Flush(ctx context.Context) int {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return 0
	}
	saved := 0
	for _, entry := range batch {
		if err := b.store.InsertMemory(ctx, entry); err != nil {
			b.log.Warn("memory entry dropped", "id", entry.ID, "category", entry.Category, "error", err)
			continue
		}
		saved++
	}
	b.log.Debug("memory flush", "batch", len(batch), "saved", saved)
	return saved
}
