package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// FinishTool lets a sub-agent report its terminal outcome in a structured
// way. It is registered only for sub-agent runs, never in the chat loop.
type FinishTool struct {
	onFinish func(status, result string)
}

// NewFinishTool creates a finish tool. onFinish receives the declared status
// ("completed" or "failed") and the result text.
func NewFinishTool(onFinish func(status, result string)) *FinishTool {
	return &FinishTool{onFinish: onFinish}
}

func (t *FinishTool) Name() string { return "finish" }

func (t *FinishTool) Description() string {
	return "Declare the task finished. Call exactly once, with the final result or the reason for failure."
}

func (t *FinishTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"status": map[string]any{
				"type":        "string",
				"description": "Outcome of the task.",
				"enum":        []string{"completed", "failed"},
			},
			"result": map[string]any{
				"type":        "string",
				"description": "The final answer, or the reason the task failed.",
			},
		},
		"required": []string{"status", "result"},
	}
}

func (t *FinishTool) Execute(_ context.Context, params map[string]any) (string, error) {
	status := strings.TrimSpace(GetString(params, "status", ""))
	if status != "completed" && status != "failed" {
		return "", fmt.Errorf("status must be completed or failed")
	}
	result := GetString(params, "result", "")
	if t.onFinish != nil {
		t.onFinish(status, result)
	}
	out, _ := json.Marshal(map[string]string{"status": status})
	return string(out), nil
}
