// Package agent implements the bounded AI+tool round-trip for live
// conversations.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/valet-ai/valet/internal/provider"
	"github.com/valet-ai/valet/internal/session"
	"github.com/valet-ai/valet/internal/tools"
)

// Apology is returned to the user when a turn fails internally. HandleMessage
// never surfaces raw errors to a channel.
const Apology = "Sorry, I ran into a problem handling that. Please try again."

// toolTimeout bounds a single tool execution within a turn.
const toolTimeout = 10 * time.Second

// ToolSource supplies the tools available to a turn. *tools.Registry
// satisfies it directly; the skills manager satisfies it with enable/disable
// gating on top.
type ToolSource interface {
	List() []tools.Tool
	Run(ctx context.Context, name string, params map[string]any) string
}

// LoopOptions configures the agent loop.
type LoopOptions struct {
	Provider     provider.LLMProvider
	Tools        ToolSource
	Sessions     *session.Manager
	Model        string
	MaxRounds    int
	MaxTokens    int
	Temperature  float64
	SystemPrompt string
	// SkillNames supplies the currently enabled skill list for the system
	// prompt. May be nil.
	SkillNames func() []string
}

// Loop runs one bounded model/tool round-trip per incoming message.
type Loop struct {
	provider     provider.LLMProvider
	tools        ToolSource
	sessions     *session.Manager
	model        string
	maxRounds    int
	maxTokens    int
	temperature  float64
	systemPrompt string
	skillNames   func() []string
	log          *slog.Logger
}

// NewLoop creates an agent loop.
func NewLoop(opts LoopOptions) *Loop {
	maxRounds := opts.MaxRounds
	if maxRounds <= 0 {
		maxRounds = 3
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	prompt := opts.SystemPrompt
	if prompt == "" {
		prompt = "You are a helpful personal assistant. Be concise and direct."
	}
	return &Loop{
		provider:     opts.Provider,
		tools:        opts.Tools,
		sessions:     opts.Sessions,
		model:        opts.Model,
		maxRounds:    maxRounds,
		maxTokens:    maxTokens,
		temperature:  opts.Temperature,
		systemPrompt: prompt,
		skillNames:   opts.SkillNames,
		log:          slog.With("component", "agent"),
	}
}

// HandleMessage runs one conversational turn and always returns reply text.
// Internal failures are logged and degrade to the fixed apology string.
func (l *Loop) HandleMessage(ctx context.Context, sessionKey, text string) string {
	sess := l.sessions.Acquire(sessionKey)
	defer l.sessions.Release(sessionKey)

	sess.Append(session.Message{Role: "user", Content: text})

	reply, err := l.runTurn(ctx, sess)
	if err != nil {
		l.log.Error("turn failed", "session", sessionKey, "error", err)
		reply = Apology
	}
	sess.Append(session.Message{Role: "assistant", Content: reply})
	return reply
}

// runTurn drives up to maxRounds model calls. A round that requests tools
// executes them and loops; a plain-text answer ends the turn. When every
// round asked for tools, one final tool-free call forces an answer.
func (l *Loop) runTurn(ctx context.Context, sess *session.Session) (string, error) {
	messages := l.buildMessages(sess)
	toolDefs := l.toolDefinitions()

	for round := 0; round < l.maxRounds; round++ {
		resp, err := l.provider.Chat(ctx, &provider.ChatRequest{
			Messages:    messages,
			Tools:       toolDefs,
			Model:       l.model,
			MaxTokens:   l.maxTokens,
			Temperature: l.temperature,
		})
		if err != nil {
			return "", fmt.Errorf("model call (round %d): %w", round+1, err)
		}

		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		l.log.Debug("tool round", "round", round+1, "calls", len(resp.ToolCalls))
		assistant := provider.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		}
		messages = append(messages, assistant)
		sess.Append(toSessionAssistant(assistant))

		for _, tc := range resp.ToolCalls {
			result := l.executeTool(ctx, tc)
			toolMsg := provider.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
			}
			messages = append(messages, toolMsg)
			sess.Append(session.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
				Name:       tc.Name,
			})
		}
	}

	// Rounds exhausted: ask once more without tools so the model must answer.
	resp, err := l.provider.Chat(ctx, &provider.ChatRequest{
		Messages:    messages,
		Model:       l.model,
		MaxTokens:   l.maxTokens,
		Temperature: l.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("final completion: %w", err)
	}
	return resp.Content, nil
}

// executeTool runs one tool call with its own timeout. The result is always
// a JSON string; failures come back as {"error": ...} payloads.
func (l *Loop) executeTool(ctx context.Context, tc provider.ToolCall) string {
	toolCtx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	start := time.Now()
	result := l.tools.Run(toolCtx, tc.Name, tc.Arguments)
	l.log.Debug("tool executed", "tool", tc.Name, "duration_ms", time.Since(start).Milliseconds())
	return result
}

// buildMessages assembles system prompt plus replayed history.
func (l *Loop) buildMessages(sess *session.Session) []provider.Message {
	messages := []provider.Message{{Role: "system", Content: l.buildSystemPrompt()}}
	for _, msg := range sess.History {
		pm := provider.Message{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if tc.Arguments != "" {
				_ = json.Unmarshal([]byte(tc.Arguments), &args)
			}
			pm.ToolCalls = append(pm.ToolCalls, provider.ToolCall{
				ID:        tc.ID,
				Name:      tc.Name,
				Arguments: args,
			})
		}
		messages = append(messages, pm)
	}
	return messages
}

func (l *Loop) buildSystemPrompt() string {
	var b strings.Builder
	b.WriteString(l.systemPrompt)
	if l.skillNames != nil {
		if names := l.skillNames(); len(names) > 0 {
			b.WriteString("\n\nAvailable skills: ")
			b.WriteString(strings.Join(names, ", "))
			b.WriteString(".")
		}
	}
	b.WriteString("\nCurrent date: ")
	b.WriteString(time.Now().Format("Monday, 2 January 2006"))
	return b.String()
}

func (l *Loop) toolDefinitions() []provider.ToolDefinition {
	var defs []provider.ToolDefinition
	for _, t := range l.tools.List() {
		defs = append(defs, provider.ToolDefinition{
			Type: "function",
			Function: provider.FunctionDef{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

func toSessionAssistant(m provider.Message) session.Message {
	out := session.Message{Role: m.Role, Content: m.Content}
	for _, tc := range m.ToolCalls {
		args, _ := json.Marshal(tc.Arguments)
		out.ToolCalls = append(out.ToolCalls, session.ToolCall{
			ID:        tc.ID,
			Name:      tc.Name,
			Arguments: string(args),
		})
	}
	return out
}
