package session

import (
	"fmt"
	"sync"
	"testing"
)

func TestAppendCap(t *testing.T) {
	s := &Session{Key: "k"}
	for i := 0; i < MaxHistory+10; i++ {
		s.Append(Message{Role: "user", Content: fmt.Sprintf("msg %d", i)})
	}
	if len(s.History) != MaxHistory {
		t.Fatalf("history length = %d, want %d", len(s.History), MaxHistory)
	}
	// Oldest entries are dropped; the newest survives.
	if got := s.History[len(s.History)-1].Content; got != fmt.Sprintf("msg %d", MaxHistory+9) {
		t.Errorf("last entry = %q", got)
	}
	if got := s.History[0].Content; got != "msg 10" {
		t.Errorf("first entry = %q, want msg 10", got)
	}
}

func TestAcquireCreatesOnce(t *testing.T) {
	m := NewManager()
	s1 := m.Acquire("slack:alice")
	m.Release("slack:alice")
	s2 := m.Acquire("slack:alice")
	m.Release("slack:alice")
	if s1 != s2 {
		t.Error("same key returned different sessions")
	}
	if m.Count() != 1 {
		t.Errorf("count = %d, want 1", m.Count())
	}
}

func TestPerKeySerialization(t *testing.T) {
	m := NewManager()
	const workers = 8
	const perWorker = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				sess := m.Acquire("shared")
				n := len(sess.History)
				sess.Append(Message{Role: "user", Content: "x"})
				if len(sess.History) != n+1 && len(sess.History) != MaxHistory {
					t.Errorf("append raced: %d -> %d", n, len(sess.History))
				}
				m.Release("shared")
			}
		}()
	}
	wg.Wait()

	sess := m.Acquire("shared")
	defer m.Release("shared")
	if len(sess.History) != MaxHistory {
		t.Errorf("history = %d, want capped at %d", len(sess.History), MaxHistory)
	}
}

func TestClear(t *testing.T) {
	m := NewManager()
	m.Acquire("k")
	m.Release("k")

	if !m.Clear("k") {
		t.Error("clear of existing session returned false")
	}
	if m.Clear("k") {
		t.Error("clear of missing session returned true")
	}
	if m.Count() != 0 {
		t.Errorf("count = %d, want 0", m.Count())
	}
}

func TestClearAll(t *testing.T) {
	m := NewManager()
	m.Acquire("a")
	m.Release("a")
	m.Acquire("b")
	m.Release("b")

	if n := m.ClearAll(); n != 2 {
		t.Errorf("cleared = %d, want 2", n)
	}
	if m.Count() != 0 {
		t.Errorf("count = %d, want 0", m.Count())
	}
	if n := m.ClearAll(); n != 0 {
		t.Errorf("cleared on empty manager = %d, want 0", n)
	}

	// Keys stay usable after a wipe.
	sess := m.Acquire("a")
	m.Release("a")
	if sess == nil || m.Count() != 1 {
		t.Error("session not recreated after clear-all")
	}
}

func TestList(t *testing.T) {
	m := NewManager()
	sess := m.Acquire("a")
	sess.Append(Message{Role: "user", Content: "hi"})
	sess.Append(Message{Role: "assistant", Content: "hello"})
	m.Release("a")
	m.Acquire("b")
	m.Release("b")

	infos := m.List()
	if len(infos) != 2 {
		t.Fatalf("got %d sessions, want 2", len(infos))
	}
	byKey := make(map[string]SessionInfo)
	for _, info := range infos {
		byKey[info.Key] = info
	}
	if byKey["a"].Messages != 2 {
		t.Errorf("session a messages = %d, want 2", byKey["a"].Messages)
	}
	if byKey["b"].Messages != 0 {
		t.Errorf("session b messages = %d, want 0", byKey["b"].Messages)
	}
}
