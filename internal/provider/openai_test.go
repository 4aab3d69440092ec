package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestChatParsesToolCalls(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("auth header = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_abc",
						"type": "function",
						"function": {"name": "web_search", "arguments": "{\"query\":\"golang\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("test-key", srv.URL, "gpt-4o")
	resp, err := p.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: "user", Content: "search golang"}},
		Tools: []ToolDefinition{{
			Type:     "function",
			Function: FunctionDef{Name: "web_search"},
		}},
		MaxTokens: 100,
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	if len(resp.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "call_abc" || tc.Name != "web_search" {
		t.Errorf("tool call = %+v", tc)
	}
	if tc.Arguments["query"] != "golang" {
		t.Errorf("arguments = %v", tc.Arguments)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("finish reason = %q", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("total tokens = %d", resp.Usage.TotalTokens)
	}

	if gotBody["model"] != "gpt-4o" {
		t.Errorf("request model = %v", gotBody["model"])
	}
	if gotBody["tool_choice"] != "auto" {
		t.Errorf("tool_choice = %v", gotBody["tool_choice"])
	}
}

func TestChatPlainContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["tools"]; ok {
			t.Error("tools sent on a tool-free request")
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],"usage":{}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("k", srv.URL, "")
	resp, err := p.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("content = %q", resp.Content)
	}
}

func TestChatAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("k", srv.URL, "")
	if _, err := p.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	}); err == nil {
		t.Error("non-200 response did not error")
	}
}

func TestChatEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[],"usage":{}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("k", srv.URL, "")
	if _, err := p.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	}); err == nil {
		t.Error("empty choices did not error")
	}
}

func TestConvertMessagesToolTurn(t *testing.T) {
	p := NewOpenAIProvider("k", "", "")
	converted := p.convertMessages([]Message{
		{Role: "assistant", ToolCalls: []ToolCall{
			{ID: "c1", Name: "echo", Arguments: map[string]any{"q": "x"}},
		}},
		{Role: "tool", Content: `{"ok":true}`, ToolCallID: "c1"},
	})

	calls, ok := converted[0]["tool_calls"].([]map[string]any)
	if !ok || len(calls) != 1 {
		t.Fatalf("tool_calls = %v", converted[0]["tool_calls"])
	}
	fn := calls[0]["function"].(map[string]any)
	if fn["name"] != "echo" || fn["arguments"] != `{"q":"x"}` {
		t.Errorf("function = %v", fn)
	}
	if converted[1]["tool_call_id"] != "c1" {
		t.Errorf("tool message = %v", converted[1])
	}
}

func TestDefaultModelFallbacks(t *testing.T) {
	p := NewOpenAIProvider("k", "", "")
	if p.DefaultModel() != "gpt-4o" {
		t.Errorf("default model = %q", p.DefaultModel())
	}
}
