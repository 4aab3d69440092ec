package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// WebSearchTool searches the web. It tries the configured primary provider
// (Brave-compatible API) first and falls back to DuckDuckGo's instant-answer
// API when the primary fails or is not configured.
type WebSearchTool struct {
	apiKey     string
	apiBase    string
	httpClient *http.Client
}

// NewWebSearchTool creates a web search tool. apiKey may be empty; the
// fallback provider needs no credentials.
func NewWebSearchTool(apiKey, apiBase string) *WebSearchTool {
	if apiBase == "" {
		apiBase = "https://api.search.brave.com/res/v1/web/search"
	}
	return &WebSearchTool{
		apiKey:  apiKey,
		apiBase: apiBase,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web for current information. Returns a list of results with title, URL, and snippet."
}

func (t *WebSearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query.",
			},
			"count": map[string]any{
				"type":        "integer",
				"description": "Number of results to return (default 5, max 10).",
			},
		},
		"required": []string{"query"},
	}
}

type searchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

func (t *WebSearchTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	query := strings.TrimSpace(GetString(params, "query", ""))
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	count := GetInt(params, "count", 5)
	if count < 1 {
		count = 1
	}
	if count > 10 {
		count = 10
	}

	if t.apiKey != "" {
		results, err := t.searchPrimary(ctx, query, count)
		if err == nil {
			return marshalResults(query, "primary", results)
		}
		// Primary failed; chain to the fallback provider.
		results, ferr := t.searchFallback(ctx, query, count)
		if ferr != nil {
			return "", fmt.Errorf("search failed: %v (fallback: %v)", err, ferr)
		}
		return marshalResults(query, "fallback", results)
	}

	results, err := t.searchFallback(ctx, query, count)
	if err != nil {
		return "", fmt.Errorf("search failed: %w", err)
	}
	return marshalResults(query, "fallback", results)
}

func marshalResults(query, provider string, results []searchResult) (string, error) {
	out, err := json.Marshal(map[string]any{
		"query":    query,
		"provider": provider,
		"results":  results,
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (t *WebSearchTool) searchPrimary(ctx context.Context, query string, count int) ([]searchResult, error) {
	u := fmt.Sprintf("%s?q=%s&count=%d", t.apiBase, url.QueryEscape(query), count)
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.apiKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("primary provider status %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parse primary response: %w", err)
	}
	var results []searchResult
	for _, r := range parsed.Web.Results {
		results = append(results, searchResult{Title: r.Title, URL: r.URL, Snippet: r.Description})
		if len(results) >= count {
			break
		}
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("primary provider returned no results")
	}
	return results, nil
}

func (t *WebSearchTool) searchFallback(ctx context.Context, query string, count int) ([]searchResult, error) {
	u := "https://api.duckduckgo.com/?format=json&no_html=1&q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fallback provider status %d", resp.StatusCode)
	}

	var parsed struct {
		AbstractText  string `json:"AbstractText"`
		AbstractURL   string `json:"AbstractURL"`
		Heading       string `json:"Heading"`
		RelatedTopics []struct {
			Text     string `json:"Text"`
			FirstURL string `json:"FirstURL"`
		} `json:"RelatedTopics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parse fallback response: %w", err)
	}

	var results []searchResult
	if parsed.AbstractText != "" {
		results = append(results, searchResult{
			Title:   parsed.Heading,
			URL:     parsed.AbstractURL,
			Snippet: parsed.AbstractText,
		})
	}
	for _, topic := range parsed.RelatedTopics {
		if topic.Text == "" || topic.FirstURL == "" {
			continue
		}
		results = append(results, searchResult{Title: topic.Text, URL: topic.FirstURL})
		if len(results) >= count {
			break
		}
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no results for %q", query)
	}
	return results, nil
}
