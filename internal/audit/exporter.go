// Package audit optionally exports trust events and terminal sub-agent task
// records to a Kafka topic for external retention. There is no consumer in
// this process.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/valet-ai/valet/internal/store"
)

// Exporter publishes audit records. A nil Exporter is valid and does nothing,
// so callers never need to branch on whether audit is configured.
type Exporter struct {
	writer *kafka.Writer
	log    *slog.Logger
}

// NewExporter creates an exporter for the given brokers (comma-separated)
// and topic. Returns nil when brokers is empty.
func NewExporter(brokers, topic string) *Exporter {
	brokers = strings.TrimSpace(brokers)
	if brokers == "" {
		return nil
	}
	if topic == "" {
		topic = "valet.audit"
	}
	return &Exporter{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(strings.Split(brokers, ",")...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
		},
		log: slog.With("component", "audit"),
	}
}

// Close flushes and closes the writer.
func (e *Exporter) Close() error {
	if e == nil {
		return nil
	}
	return e.writer.Close()
}

// TaskFinished publishes a terminal sub-agent task record. Implements
// subagent.TerminalObserver.
func (e *Exporter) TaskFinished(task *store.SubagentTask) {
	if e == nil {
		return
	}
	e.publish("subagent.task", task.TaskID, map[string]any{
		"kind":         "subagent_task",
		"task_id":      task.TaskID,
		"user_id":      task.UserID,
		"status":       task.Status,
		"total_tokens": task.TotalTokens,
		"steps":        len(task.Steps),
		"created_at":   task.CreatedAt,
		"completed_at": task.CompletedAt,
	})
}

// TrustEvent publishes one trust audit record.
func (e *Exporter) TrustEvent(ev *store.TrustEvent) {
	if e == nil {
		return
	}
	e.publish("trust.event", fmt.Sprintf("%s/%s", ev.UserID, ev.ChannelType), map[string]any{
		"kind":       "trust_event",
		"user_id":    ev.UserID,
		"channel":    ev.ChannelType,
		"identifier": ev.NormalizedID,
		"action":     ev.Action,
		"created_at": ev.CreatedAt,
	})
}

func (e *Exporter) publish(eventType, key string, payload map[string]any) {
	value, err := json.Marshal(payload)
	if err != nil {
		e.log.Warn("marshal failed", "type", eventType, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = e.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
		},
		Time: time.Now(),
	})
	if err != nil {
		// Export is best-effort; the sqlite rows remain the source of truth.
		e.log.Warn("publish failed", "type", eventType, "error", err)
	}
}
