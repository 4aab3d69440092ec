package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// DatetimeTool reports the current date and time, optionally in a timezone.
type DatetimeTool struct {
	now func() time.Time
}

// NewDatetimeTool creates a current-datetime tool.
func NewDatetimeTool() *DatetimeTool {
	return &DatetimeTool{now: time.Now}
}

func (t *DatetimeTool) Name() string { return "current_datetime" }

func (t *DatetimeTool) Description() string {
	return "Get the current date and time. Optionally pass an IANA timezone name."
}

func (t *DatetimeTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"timezone": map[string]any{
				"type":        "string",
				"description": "IANA timezone, e.g. 'Europe/Berlin'. Defaults to the server's local zone.",
			},
		},
	}
}

func (t *DatetimeTool) Execute(_ context.Context, params map[string]any) (string, error) {
	now := t.now()
	tz := GetString(params, "timezone", "")
	if tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return "", fmt.Errorf("unknown timezone: %s", tz)
		}
		now = now.In(loc)
	}
	out, _ := json.Marshal(map[string]string{
		"datetime": now.Format(time.RFC3339),
		"weekday":  now.Weekday().String(),
		"timezone": now.Location().String(),
	})
	return string(out), nil
}
