package gateway

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/valet-ai/valet/internal/agent"
	"github.com/valet-ai/valet/internal/bus"
	"github.com/valet-ai/valet/internal/channels"
	"github.com/valet-ai/valet/internal/config"
	"github.com/valet-ai/valet/internal/heartbeat"
	"github.com/valet-ai/valet/internal/memory"
	"github.com/valet-ai/valet/internal/provider"
	"github.com/valet-ai/valet/internal/session"
	"github.com/valet-ai/valet/internal/skills"
	"github.com/valet-ai/valet/internal/store"
	"github.com/valet-ai/valet/internal/subagent"
	"github.com/valet-ai/valet/internal/tools"
	"github.com/valet-ai/valet/internal/trust"
)

type fixedProvider struct{ content string }

func (p *fixedProvider) Chat(context.Context, *provider.ChatRequest) (*provider.ChatResponse, error) {
	return &provider.ChatResponse{Content: p.content}, nil
}

func (p *fixedProvider) DefaultModel() string { return "test-model" }

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	prov := &fixedProvider{content: "canned reply"}
	sessions := session.NewManager()
	buffer := memory.NewBuffer(st, "u1", time.Minute)

	registry := tools.NewRegistry()
	registry.Register(tools.NewCalculatorTool())
	skillMgr := skills.NewManager(registry, st)
	if err := skillMgr.Reload(context.Background()); err != nil {
		t.Fatalf("reload skills: %v", err)
	}

	loop := agent.NewLoop(agent.LoopOptions{
		Provider: prov,
		Tools:    skillMgr,
		Sessions: sessions,
	})
	messageBus := bus.NewMessageBus()
	trustEngine := trust.NewEngine(st)
	router := channels.NewRouter(messageBus, trustEngine, loop, skillMgr, "u1")
	hb := heartbeat.NewScheduler(st, loop, messageBus, config.HeartbeatConfig{
		Interval: "1h", ActiveStart: "08:00", ActiveEnd: "22:00", Timezone: "UTC",
	}, "u1")
	engine := subagent.NewEngine(subagent.Options{Store: st, Provider: prov, MaxSteps: 1})
	t.Cleanup(engine.Shutdown)

	srv := NewServer(Options{
		UserID:    "u1",
		Loop:      loop,
		Sessions:  sessions,
		Memory:    buffer,
		Skills:    skillMgr,
		Router:    router,
		Heartbeat: hb,
		Subagents: engine,
	})
	return srv, st
}

func TestDispatchChat(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	resp := srv.dispatch(ctx, &Frame{Type: "chat", ID: "1", Message: "hello"})
	if resp.Type != "chat" || resp.ID != "1" {
		t.Errorf("response envelope = %+v", resp)
	}
	if resp.Content != "canned reply" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Session != "default" {
		t.Errorf("session = %q, want default", resp.Session)
	}

	resp = srv.dispatch(ctx, &Frame{Type: "chat", ID: "2", Content: "hello"})
	if resp.Type != "chat" || resp.Content != "canned reply" {
		t.Errorf("content field response = %+v", resp)
	}

	resp = srv.dispatch(ctx, &Frame{Type: "chat", ID: "3", Message: "  "})
	if resp.Type != "error" || resp.ID != "3" {
		t.Errorf("blank message response = %+v", resp)
	}
}

func TestDispatchUnknownType(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := srv.dispatch(context.Background(), &Frame{Type: "bogus", ID: "9"})
	if resp.Type != "error" {
		t.Fatalf("response type = %q, want error", resp.Type)
	}
	if !strings.Contains(resp.Message, "unknown frame type: bogus") {
		t.Errorf("message = %q", resp.Message)
	}
	if resp.ID != "9" {
		t.Errorf("id = %q, want echoed", resp.ID)
	}
}

func TestDispatchMemoryAdd(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	resp := srv.dispatch(ctx, &Frame{Type: "memory.add", Content: "likes tea", Category: "preference"})
	if resp.Type != "memory.add" {
		t.Fatalf("response = %+v", resp)
	}
	if srv.opts.Memory.Size() != 1 {
		t.Errorf("buffer size = %d, want 1", srv.opts.Memory.Size())
	}

	resp = srv.dispatch(ctx, &Frame{Type: "memory.add", Content: ""})
	if resp.Type != "error" {
		t.Error("blank content accepted")
	}
}

func TestDispatchSessions(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	srv.dispatch(ctx, &Frame{Type: "chat", Message: "hi", Session: "s1"})

	resp := srv.dispatch(ctx, &Frame{Type: "session.list"})
	infos, ok := resp.Data.([]session.SessionInfo)
	if !ok {
		t.Fatalf("session.list data = %T", resp.Data)
	}
	if len(infos) != 1 || infos[0].Key != "s1" {
		t.Errorf("sessions = %+v", infos)
	}

	resp = srv.dispatch(ctx, &Frame{Type: "session.clear", Session: "s1"})
	if cleared := resp.Data.(map[string]bool)["cleared"]; !cleared {
		t.Error("session not cleared")
	}
}

func TestDispatchSessionClearAll(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	srv.dispatch(ctx, &Frame{Type: "chat", Message: "hi", Session: "s1"})
	srv.dispatch(ctx, &Frame{Type: "chat", Message: "hi", Session: "s2"})

	resp := srv.dispatch(ctx, &Frame{Type: "session.clear"})
	if resp.Type != "session.clear" {
		t.Fatalf("clear-all response = %+v", resp)
	}
	if n := resp.Data.(map[string]int)["cleared"]; n != 2 {
		t.Errorf("cleared = %d, want 2", n)
	}
	if count := srv.opts.Sessions.Count(); count != 0 {
		t.Errorf("sessions remaining = %d", count)
	}
}

func TestDispatchSkillToggle(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	off := false
	resp := srv.dispatch(ctx, &Frame{Type: "skill.toggle", Skill: "calculator", Enabled: &off})
	if resp.Type != "skill.toggle" {
		t.Fatalf("response = %+v", resp)
	}

	resp = srv.dispatch(ctx, &Frame{Type: "skill.list"})
	listed, ok := resp.Data.([]skills.Skill)
	if !ok {
		t.Fatalf("skill.list data = %T", resp.Data)
	}
	if len(listed) != 1 || listed[0].Enabled {
		t.Errorf("skills = %+v", listed)
	}

	resp = srv.dispatch(ctx, &Frame{Type: "skill.toggle", Skill: "calculator"})
	if resp.Type != "error" {
		t.Error("toggle without enabled flag accepted")
	}
	on := true
	resp = srv.dispatch(ctx, &Frame{Type: "skill.toggle", Skill: "nope", Enabled: &on})
	if resp.Type != "error" {
		t.Error("unknown skill accepted")
	}
}

func TestDispatchSubagent(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	resp := srv.dispatch(ctx, &Frame{Type: "subagent.spawn", Task: "look something up"})
	if resp.Type != "subagent.spawn" {
		t.Fatalf("spawn response = %+v", resp)
	}
	task, ok := resp.Data.(*store.SubagentTask)
	if !ok {
		t.Fatalf("spawn data = %T", resp.Data)
	}

	resp = srv.dispatch(ctx, &Frame{Type: "subagent.get", TaskID: task.TaskID})
	if resp.Type != "subagent.get" {
		t.Errorf("get response = %+v", resp)
	}
	resp = srv.dispatch(ctx, &Frame{Type: "subagent.get"})
	if resp.Type != "error" {
		t.Error("missing task_id accepted")
	}

	resp = srv.dispatch(ctx, &Frame{Type: "subagent.spawn"})
	if resp.Type != "error" {
		t.Error("blank task accepted")
	}

	resp = srv.dispatch(ctx, &Frame{Type: "subagent.list"})
	if resp.Type != "subagent.list" {
		t.Errorf("list response = %+v", resp)
	}
}

func TestDispatchStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := srv.dispatch(context.Background(), &Frame{Type: "status", ID: "s"})
	data, ok := resp.Data.(map[string]any)
	if !ok {
		t.Fatalf("status data = %T", resp.Data)
	}
	for _, key := range []string{"uptime_sec", "active_sessions", "buffered_memory", "channels", "skills"} {
		if _, ok := data[key]; !ok {
			t.Errorf("status missing %q", key)
		}
	}
}

func TestDispatchReload(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	resp := srv.dispatch(ctx, &Frame{Type: "config.reload"})
	if resp.Type != "error" {
		t.Error("reload without handler should error")
	}

	called := false
	srv.opts.Reload = func(context.Context) error { called = true; return nil }
	resp = srv.dispatch(ctx, &Frame{Type: "config.reload"})
	if resp.Type != "config.reload" || !called {
		t.Errorf("reload response = %+v, called = %v", resp, called)
	}
}

func TestAuthorization(t *testing.T) {
	srv, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, "/ws", nil)
	if !srv.authorized(req) {
		t.Error("no-token server should allow all")
	}

	srv.opts.AuthToken = "secret"
	if srv.authorized(req) {
		t.Error("missing credential accepted")
	}
	req.Header.Set("Authorization", "Bearer secret")
	if !srv.authorized(req) {
		t.Error("bearer header rejected")
	}
	req.Header.Del("Authorization")
	req, _ = http.NewRequest(http.MethodGet, "/ws?token=secret", nil)
	if !srv.authorized(req) {
		t.Error("query token rejected")
	}
	req, _ = http.NewRequest(http.MethodGet, "/ws?token=wrong", nil)
	if srv.authorized(req) {
		t.Error("wrong query token accepted")
	}
}
