package audit

import (
	"testing"

	"github.com/valet-ai/valet/internal/store"
)

func TestNewExporterEmptyBrokers(t *testing.T) {
	if e := NewExporter("", "topic"); e != nil {
		t.Error("exporter created without brokers")
	}
	if e := NewExporter("   ", ""); e != nil {
		t.Error("exporter created from whitespace brokers")
	}
}

func TestNilExporterIsSafe(t *testing.T) {
	var e *Exporter
	// Nil receivers must be no-ops so callers never branch on configuration.
	e.TaskFinished(&store.SubagentTask{TaskID: "t1", Status: store.TaskCompleted})
	e.TrustEvent(&store.TrustEvent{UserID: "u1", Action: "denied"})
	if err := e.Close(); err != nil {
		t.Errorf("nil close: %v", err)
	}
}

func TestNewExporterDefaults(t *testing.T) {
	e := NewExporter("localhost:9092,localhost:9093", "")
	if e == nil {
		t.Fatal("exporter not created")
	}
	defer e.Close()
	if e.writer.Topic != "valet.audit" {
		t.Errorf("topic = %q, want default", e.writer.Topic)
	}
}
