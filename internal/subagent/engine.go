// Package subagent runs concurrency-limited, cancellable, multi-step
// background tasks against the LLM and tool capabilities. Sub-agents do not
// share live session state.
package subagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/valet-ai/valet/internal/provider"
	"github.com/valet-ai/valet/internal/store"
	"github.com/valet-ai/valet/internal/tools"
)

// ErrCapacity is returned when a user already has the maximum number of
// running tasks.
var ErrCapacity = errors.New("sub-agent capacity reached")

// Completion markers honored as a fallback for models that answer in plain
// text instead of calling the finish tool.
const (
	markerComplete = "TASK_COMPLETE:"
	markerFailed   = "TASK_FAILED:"
)

const (
	stepResultMax   = 500
	toolTimeout     = 10 * time.Second
	defaultMaxSteps = 15
	defaultMaxConc  = 3
)

// TerminalObserver is notified once per task when it reaches a terminal
// status. Used by the audit exporter; may be nil.
type TerminalObserver interface {
	TaskFinished(task *store.SubagentTask)
}

// Options configures the engine.
type Options struct {
	Store         *store.Store
	Provider      provider.LLMProvider
	SearchAPIKey  string
	SearchAPIBase string
	Model         string
	MaxConcurrent int
	MaxSteps      int
	Observer      TerminalObserver
}

// Engine owns the lifecycle of sub-agent tasks.
type Engine struct {
	store         *store.Store
	provider      provider.LLMProvider
	model         string
	maxConcurrent int
	maxSteps      int
	observer      TerminalObserver
	registry      *tools.Registry
	log           *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewEngine creates a sub-agent engine.
func NewEngine(opts Options) *Engine {
	maxConc := opts.MaxConcurrent
	if maxConc <= 0 {
		maxConc = defaultMaxConc
	}
	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}
	registry := tools.NewRegistry()
	registry.Register(tools.NewWebSearchTool(opts.SearchAPIKey, opts.SearchAPIBase))
	registry.Register(tools.NewWebFetchTool())

	return &Engine{
		store:         opts.Store,
		provider:      opts.Provider,
		model:         opts.Model,
		maxConcurrent: maxConc,
		maxSteps:      maxSteps,
		observer:      opts.Observer,
		registry:      registry,
		log:           slog.With("component", "subagent"),
	}
}

// Spawn reserves a task slot and starts the background run. The slot
// reservation is a single conditional insert, so two concurrent spawns
// cannot both slip under the cap; when no row is created Spawn returns
// ErrCapacity and nothing is persisted.
func (e *Engine) Spawn(ctx context.Context, userID, conversationID, task string) (*store.SubagentTask, error) {
	if strings.TrimSpace(task) == "" {
		return nil, fmt.Errorf("task must not be empty")
	}
	model := e.model
	if model == "" {
		model = e.provider.DefaultModel()
	}
	record := &store.SubagentTask{
		TaskID:         uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		Task:           task,
		Model:          model,
		CreatedAt:      time.Now().UTC(),
	}

	created, err := e.store.CreateTaskIfCapacity(ctx, record, e.maxConcurrent)
	if err != nil {
		return nil, fmt.Errorf("reserve task slot: %w", err)
	}
	if !created {
		return nil, fmt.Errorf("%w: %d tasks already running", ErrCapacity, e.maxConcurrent)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	if e.cancels == nil {
		e.cancels = make(map[string]context.CancelFunc)
	}
	e.cancels[record.TaskID] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run(runCtx, record)

	e.log.Info("task spawned", "task_id", record.TaskID, "user", userID)
	return record, nil
}

// Cancel requests cancellation of a running task. Returns false when the
// task is unknown or already terminal.
func (e *Engine) Cancel(taskID string) bool {
	e.mu.Lock()
	cancel, ok := e.cancels[taskID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// Get returns a task with its step log.
func (e *Engine) Get(ctx context.Context, taskID string) (*store.SubagentTask, error) {
	return e.store.GetTask(ctx, taskID)
}

// List returns a user's tasks, newest first.
func (e *Engine) List(ctx context.Context, userID string, limit int) ([]*store.SubagentTask, error) {
	return e.store.ListTasks(ctx, userID, limit)
}

// Shutdown waits for in-flight tasks to finish their current step and stop.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	for _, cancel := range e.cancels {
		cancel()
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// run executes the step loop for one task. It is the only writer of the
// task's terminal status; the guarded update in the store makes the
// transition happen at most once even if cancel races completion.
func (e *Engine) run(ctx context.Context, task *store.SubagentTask) {
	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		delete(e.cancels, task.TaskID)
		e.mu.Unlock()
	}()

	var finished bool
	var finishStatus, finishResult string
	finishTool := tools.NewFinishTool(func(status, result string) {
		finished = true
		finishStatus = status
		finishResult = result
	})
	registry := tools.NewRegistry()
	for _, t := range e.registry.List() {
		registry.Register(t)
	}
	registry.Register(finishTool)

	messages := []provider.Message{
		{Role: "system", Content: e.systemPrompt()},
		{Role: "user", Content: task.Task},
	}
	toolDefs := definitions(registry)

	lastText := ""
	for step := 1; step <= e.maxSteps; step++ {
		if ctx.Err() != nil {
			e.finalize(task, store.TaskCancelled, "", "cancelled")
			return
		}

		resp, err := e.provider.Chat(ctx, &provider.ChatRequest{
			Messages:    messages,
			Tools:       toolDefs,
			Model:       task.Model,
			MaxTokens:   4096,
			Temperature: 0.7,
		})
		if err != nil {
			if ctx.Err() != nil {
				e.finalize(task, store.TaskCancelled, "", "cancelled")
				return
			}
			e.logStep(task.TaskID, step, "model call", "error: "+err.Error())
			e.finalize(task, store.TaskFailed, "", fmt.Sprintf("model call failed at step %d: %v", step, err))
			return
		}
		if resp.Usage.TotalTokens > 0 {
			if err := e.store.AddTaskTokens(context.Background(), task.TaskID, resp.Usage.TotalTokens); err != nil {
				e.log.Warn("token accounting failed", "task_id", task.TaskID, "error", err)
			}
		}

		if len(resp.ToolCalls) == 0 {
			lastText = resp.Content
			e.logStep(task.TaskID, step, "model response", resp.Content)

			if status, result, ok := parseMarker(resp.Content); ok {
				if status == store.TaskFailed {
					e.finalize(task, status, "", result)
				} else {
					e.finalize(task, status, result, "")
				}
				return
			}
			// No marker: nudge the model toward a terminal declaration and
			// keep going; step 15 exhaustion is handled leniently below.
			messages = append(messages,
				provider.Message{Role: "assistant", Content: resp.Content},
				provider.Message{Role: "user", Content: "If the task is done, call the finish tool with the final result. Otherwise continue."},
			)
			continue
		}

		assistant := provider.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls}
		messages = append(messages, assistant)

		for _, tc := range resp.ToolCalls {
			toolCtx, cancel := context.WithTimeout(ctx, toolTimeout)
			result := registry.Run(toolCtx, tc.Name, tc.Arguments)
			cancel()

			e.logStep(task.TaskID, step, "tool: "+tc.Name, result)
			messages = append(messages, provider.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
			})

			if finished {
				status := store.TaskCompleted
				if finishStatus == "failed" {
					status = store.TaskFailed
				}
				if status == store.TaskFailed {
					e.finalize(task, status, "", finishResult)
				} else {
					e.finalize(task, status, finishResult, "")
				}
				return
			}
		}
	}

	// Step budget exhausted without a completion marker: finalize as
	// completed with the last raw text rather than failing the task.
	if lastText == "" {
		lastText = "(no final output)"
	}
	e.finalize(task, store.TaskCompleted, lastText, "")
}

// finalize writes the terminal status exactly once and notifies the observer.
func (e *Engine) finalize(task *store.SubagentTask, status, result, errorText string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	won, err := e.store.FinishTask(ctx, task.TaskID, status, result, errorText)
	if err != nil {
		e.log.Error("terminal update failed", "task_id", task.TaskID, "status", status, "error", err)
		return
	}
	if !won {
		// Another path already finalized (e.g. cancel raced completion).
		return
	}
	e.log.Info("task finished", "task_id", task.TaskID, "status", status)

	if e.observer != nil {
		if final, err := e.store.GetTask(ctx, task.TaskID); err == nil {
			e.observer.TaskFinished(final)
		}
	}
}

// logStep persists one step-log entry, truncating long results.
func (e *Engine) logStep(taskID string, stepNo int, action, result string) {
	if len(result) > stepResultMax {
		result = result[:stepResultMax]
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.AppendStep(ctx, &store.SubagentStep{
		TaskID: taskID,
		StepNo: stepNo,
		Action: action,
		Result: result,
	}); err != nil {
		e.log.Warn("step log write failed", "task_id", taskID, "step", stepNo, "error", err)
	}
}

func (e *Engine) systemPrompt() string {
	return "You are a background research agent working on a single task. " +
		"Use the available tools to gather what you need, then call the finish tool " +
		"exactly once with status and the final result. If you answer in plain text, " +
		"prefix the final answer with " + markerComplete + " or report failure with " + markerFailed + "."
}

// parseMarker detects the text fallback completion markers.
func parseMarker(content string) (status, result string, ok bool) {
	trimmed := strings.TrimSpace(content)
	if idx := strings.Index(trimmed, markerComplete); idx >= 0 {
		return store.TaskCompleted, strings.TrimSpace(trimmed[idx+len(markerComplete):]), true
	}
	if idx := strings.Index(trimmed, markerFailed); idx >= 0 {
		return store.TaskFailed, strings.TrimSpace(trimmed[idx+len(markerFailed):]), true
	}
	return "", "", false
}

func definitions(r *tools.Registry) []provider.ToolDefinition {
	var defs []provider.ToolDefinition
	for _, t := range r.List() {
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
