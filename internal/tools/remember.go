package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Remember is the sink the memory tools feed. The memory buffer implements it.
type Remember func(content, category string)

// RememberTool stores a fact, preference, or note in long-term memory.
type RememberTool struct {
	remember Remember
}

// NewRememberTool creates a remember tool backed by the given sink.
func NewRememberTool(remember Remember) *RememberTool {
	return &RememberTool{remember: remember}
}

func (t *RememberTool) Name() string { return "remember" }

func (t *RememberTool) Description() string {
	return "Store a fact, preference, or note about the user in long-term memory."
}

func (t *RememberTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type":        "string",
				"description": "The fact to remember, phrased as a standalone statement.",
			},
			"category": map[string]any{
				"type":        "string",
				"description": "Category of the memory.",
				"enum":        []string{"general", "preference", "task", "fact"},
			},
		},
		"required": []string{"content"},
	}
}

func (t *RememberTool) Execute(_ context.Context, params map[string]any) (string, error) {
	content := strings.TrimSpace(GetString(params, "content", ""))
	if content == "" {
		return "", fmt.Errorf("content is required")
	}
	category := GetString(params, "category", "general")
	switch category {
	case "general", "preference", "task", "fact":
	default:
		category = "general"
	}
	t.remember(content, category)
	out, _ := json.Marshal(map[string]string{
		"status":   "remembered",
		"category": category,
	})
	return string(out), nil
}

// ReminderTool captures a reminder or to-do as a task memory.
type ReminderTool struct {
	remember Remember
}

// NewReminderTool creates a reminder capture tool backed by the given sink.
func NewReminderTool(remember Remember) *ReminderTool {
	return &ReminderTool{remember: remember}
}

func (t *ReminderTool) Name() string { return "set_reminder" }

func (t *ReminderTool) Description() string {
	return "Capture a reminder or to-do item for the user, with an optional due description."
}

func (t *ReminderTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{
				"type":        "string",
				"description": "What to remind the user about.",
			},
			"when": map[string]any{
				"type":        "string",
				"description": "When it is due, in the user's words (e.g. 'tomorrow 9am').",
			},
		},
		"required": []string{"text"},
	}
}

func (t *ReminderTool) Execute(_ context.Context, params map[string]any) (string, error) {
	text := strings.TrimSpace(GetString(params, "text", ""))
	if text == "" {
		return "", fmt.Errorf("text is required")
	}
	when := strings.TrimSpace(GetString(params, "when", ""))
	content := "Reminder: " + text
	if when != "" {
		content += " (due: " + when + ")"
	}
	t.remember(content, "task")
	out, _ := json.Marshal(map[string]string{
		"status": "reminder_set",
		"text":   text,
		"when":   when,
	})
	return string(out), nil
}
