// Package web implements the network tools: webSearch against the
// DuckDuckGo instant answer API and webFetch with readability extraction.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/coworklabs/cowork/internal/tools"
)

const defaultResultCount = 5

// SearchTool answers webSearch calls.
type SearchTool struct {
	client *http.Client
}

// NewSearchTool builds the search tool with a bounded HTTP client.
func NewSearchTool() *SearchTool {
	return &SearchTool{client: &http.Client{Timeout: 15 * time.Second}}
}

type searchArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"maxResults"`
}

// SearchResult is one entry of the search response.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

type searchResponse struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

func (t *SearchTool) Name() string { return "webSearch" }

func (t *SearchTool) Description() string {
	return "Search the web and return result titles, URLs and snippets."
}

func (t *SearchTool) Schema() json.RawMessage {
	return tools.Schema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search query",
			},
			"maxResults": map[string]any{
				"type":        "integer",
				"description": "Maximum number of results (default 5)",
			},
		},
		"required": []string{"query"},
	})
}

func (t *SearchTool) Execute(ctx context.Context, tc *tools.Context, raw json.RawMessage) (*tools.Result, error) {
	var args searchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return tools.ErrorResult("invalid arguments: %v", err), nil
	}
	if args.Query == "" {
		return tools.ErrorResult("query must not be empty"), nil
	}
	maxResults := args.MaxResults
	if maxResults <= 0 {
		maxResults = defaultResultCount
	}

	endpoint := fmt.Sprintf("https://api.duckduckgo.com/?q=%s&format=json&no_html=1",
		url.QueryEscape(args.Query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return tools.ErrorResult("build request: %v", err), nil
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; CoworkBot/1.0)")

	resp, err := t.client.Do(req)
	if err != nil {
		return tools.ErrorResult("search request failed: %v", err), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return tools.ErrorResult("search backend returned status %d", resp.StatusCode), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return tools.ErrorResult("read search response: %v", err), nil
	}

	var ddg struct {
		AbstractText  string `json:"AbstractText"`
		AbstractURL   string `json:"AbstractURL"`
		Heading       string `json:"Heading"`
		RelatedTopics []struct {
			FirstURL string `json:"FirstURL"`
			Text     string `json:"Text"`
		} `json:"RelatedTopics"`
	}
	if err := json.Unmarshal(body, &ddg); err != nil {
		return tools.ErrorResult("parse search response: %v", err), nil
	}

	results := make([]SearchResult, 0, maxResults)
	if ddg.AbstractText != "" && ddg.AbstractURL != "" {
		results = append(results, SearchResult{
			Title:   ddg.Heading,
			URL:     ddg.AbstractURL,
			Snippet: ddg.AbstractText,
		})
	}
	for _, topic := range ddg.RelatedTopics {
		if len(results) >= maxResults {
			break
		}
		if topic.FirstURL == "" || topic.Text == "" {
			continue
		}
		title := topic.Text
		if len(title) > 100 {
			title = title[:100]
		}
		results = append(results, SearchResult{
			Title:   title,
			URL:     topic.FirstURL,
			Snippet: topic.Text,
		})
	}

	return tools.JSONResult(searchResponse{Query: args.Query, Results: results}), nil
}
