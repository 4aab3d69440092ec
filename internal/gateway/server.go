// Package gateway exposes the control plane: a WebSocket endpoint speaking
// JSON frames plus a plain health endpoint.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/valet-ai/valet/internal/agent"
	"github.com/valet-ai/valet/internal/channels"
	"github.com/valet-ai/valet/internal/heartbeat"
	"github.com/valet-ai/valet/internal/memory"
	"github.com/valet-ai/valet/internal/session"
	"github.com/valet-ai/valet/internal/skills"
	"github.com/valet-ai/valet/internal/subagent"
)

// Frame is the control-plane message envelope. Every frame carries a type;
// requests may carry an id that is echoed on the response.
type Frame struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
	Session string `json:"session,omitempty"`
	Content string `json:"content,omitempty"`

	Category string `json:"category,omitempty"`
	Skill    string `json:"skill,omitempty"`
	Enabled  *bool  `json:"enabled,omitempty"`
	Task     string `json:"task,omitempty"`
	TaskID   string `json:"task_id,omitempty"`

	Data any `json:"data,omitempty"`
}

// Options wires the gateway to the runtime components.
type Options struct {
	Host      string
	Port      int
	AuthToken string
	UserID    string

	Loop      *agent.Loop
	Sessions  *session.Manager
	Memory    *memory.Buffer
	Skills    *skills.Manager
	Router    *channels.Router
	Heartbeat *heartbeat.Scheduler
	Subagents *subagent.Engine

	Reload func(ctx context.Context) error
}

// Server is the control-plane HTTP/WebSocket server.
type Server struct {
	opts     Options
	upgrader websocket.Upgrader
	httpSrv  *http.Server
	started  time.Time
	log      *slog.Logger
}

// NewServer creates a gateway server.
func NewServer(opts Options) *Server {
	return &Server{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The gateway binds to loopback by default; cross-origin browser
			// clients are not a supported surface.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		started: time.Now(),
		log:     slog.With("component", "gateway"),
	}
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWS)

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutCtx)
	}()

	s.log.Info("listening", "addr", addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway listen: %w", err)
	}
	return nil
}

func (s *Server) authorized(r *http.Request) bool {
	token := s.opts.AuthToken
	if token == "" {
		return true
	}
	if h := r.Header.Get("Authorization"); strings.TrimPrefix(h, "Bearer ") == token {
		return true
	}
	return r.URL.Query().Get("token") == token
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":          "ok",
		"uptime_sec":      int(time.Since(s.started).Seconds()),
		"active_sessions": s.opts.Sessions.Count(),
		"buffered_memory": s.opts.Memory.Size(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	s.log.Info("client connected", "remote", r.RemoteAddr)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.log.Debug("client disconnected", "error", err)
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.write(conn, errorFrame("", "malformed frame: not valid JSON"))
			continue
		}
		resp := s.dispatch(r.Context(), &frame)
		s.write(conn, resp)
	}
}

func (s *Server) write(conn *websocket.Conn, frame *Frame) {
	if err := conn.WriteJSON(frame); err != nil {
		s.log.Warn("write failed", "error", err)
	}
}

func errorFrame(id, msg string) *Frame {
	return &Frame{Type: "error", ID: id, Message: msg}
}

// dispatch handles one control frame. Unknown types and bad input produce
// error frames; the connection stays open.
func (s *Server) dispatch(ctx context.Context, f *Frame) *Frame {
	switch f.Type {
	case "chat":
		return s.handleChat(ctx, f)
	case "status":
		return s.handleStatus(f)
	case "memory.add":
		return s.handleMemoryAdd(f)
	case "session.list":
		return &Frame{Type: "session.list", ID: f.ID, Data: s.opts.Sessions.List()}
	case "session.clear":
		// No session key means clear everything.
		if f.Session == "" {
			n := s.opts.Sessions.ClearAll()
			return &Frame{Type: "session.clear", ID: f.ID, Data: map[string]int{"cleared": n}}
		}
		cleared := s.opts.Sessions.Clear(f.Session)
		return &Frame{Type: "session.clear", ID: f.ID, Data: map[string]bool{"cleared": cleared}}
	case "skill.list":
		return &Frame{Type: "skill.list", ID: f.ID, Data: s.opts.Skills.Skills()}
	case "skill.toggle":
		return s.handleSkillToggle(ctx, f)
	case "channel.status":
		return &Frame{Type: "channel.status", ID: f.ID, Data: s.opts.Router.ConnectionStatus()}
	case "heartbeat.trigger":
		go s.opts.Heartbeat.TriggerNow(context.Background())
		return &Frame{Type: "heartbeat.trigger", ID: f.ID, Message: "triggered"}
	case "config.reload":
		if s.opts.Reload == nil {
			return errorFrame(f.ID, "reload not available")
		}
		if err := s.opts.Reload(ctx); err != nil {
			return errorFrame(f.ID, "reload failed: "+err.Error())
		}
		return &Frame{Type: "config.reload", ID: f.ID, Message: "reloaded"}
	case "subagent.spawn":
		return s.handleSubagentSpawn(ctx, f)
	case "subagent.list":
		tasks, err := s.opts.Subagents.List(ctx, s.opts.UserID, 20)
		if err != nil {
			return errorFrame(f.ID, err.Error())
		}
		return &Frame{Type: "subagent.list", ID: f.ID, Data: tasks}
	case "subagent.get":
		if f.TaskID == "" {
			return errorFrame(f.ID, "task_id is required")
		}
		task, err := s.opts.Subagents.Get(ctx, f.TaskID)
		if err != nil {
			return errorFrame(f.ID, err.Error())
		}
		return &Frame{Type: "subagent.get", ID: f.ID, Data: task}
	case "subagent.cancel":
		if f.TaskID == "" {
			return errorFrame(f.ID, "task_id is required")
		}
		ok := s.opts.Subagents.Cancel(f.TaskID)
		return &Frame{Type: "subagent.cancel", ID: f.ID, Data: map[string]bool{"cancelled": ok}}
	default:
		return errorFrame(f.ID, "unknown frame type: "+f.Type)
	}
}

func (s *Server) handleChat(ctx context.Context, f *Frame) *Frame {
	// Input lives in "content"; "message" stays accepted as an alias.
	text := strings.TrimSpace(f.Content)
	if text == "" {
		text = strings.TrimSpace(f.Message)
	}
	if text == "" {
		return errorFrame(f.ID, "content is required")
	}
	sessionKey := f.Session
	if sessionKey == "" {
		sessionKey = "default"
	}
	reply := s.opts.Loop.HandleMessage(ctx, sessionKey, text)
	return &Frame{Type: "chat", ID: f.ID, Session: sessionKey, Content: reply}
}

func (s *Server) handleStatus(f *Frame) *Frame {
	return &Frame{Type: "status", ID: f.ID, Data: map[string]any{
		"uptime_sec":      int(time.Since(s.started).Seconds()),
		"active_sessions": s.opts.Sessions.Count(),
		"buffered_memory": s.opts.Memory.Size(),
		"channels":        s.opts.Router.ConnectionStatus(),
		"skills":          s.opts.Skills.EnabledNames(),
	}}
}

func (s *Server) handleMemoryAdd(f *Frame) *Frame {
	if strings.TrimSpace(f.Content) == "" {
		return errorFrame(f.ID, "content is required")
	}
	category := f.Category
	if category == "" {
		category = "general"
	}
	s.opts.Memory.Add(f.Content, category)
	return &Frame{Type: "memory.add", ID: f.ID, Message: "buffered"}
}

func (s *Server) handleSkillToggle(ctx context.Context, f *Frame) *Frame {
	if f.Skill == "" || f.Enabled == nil {
		return errorFrame(f.ID, "skill and enabled are required")
	}
	if err := s.opts.Skills.Toggle(ctx, f.Skill, *f.Enabled); err != nil {
		return errorFrame(f.ID, err.Error())
	}
	return &Frame{Type: "skill.toggle", ID: f.ID, Data: map[string]any{"skill": f.Skill, "enabled": *f.Enabled}}
}

func (s *Server) handleSubagentSpawn(ctx context.Context, f *Frame) *Frame {
	if strings.TrimSpace(f.Task) == "" {
		return errorFrame(f.ID, "task is required")
	}
	task, err := s.opts.Subagents.Spawn(ctx, s.opts.UserID, f.Session, f.Task)
	if err != nil {
		return errorFrame(f.ID, err.Error())
	}
	return &Frame{Type: "subagent.spawn", ID: f.ID, Data: task}
}
