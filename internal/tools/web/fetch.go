package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/coworklabs/cowork/internal/tools"
)

const (
	maxFetchBytes   = 4 << 20
	defaultMaxChars = 20_000
)

// FetchTool downloads a page and extracts its readable text.
type FetchTool struct {
	client *http.Client
	// allowPrivate is set by tests to reach local listeners.
	allowPrivate bool
}

// NewFetchTool builds the fetch tool with a bounded HTTP client.
func NewFetchTool() *FetchTool {
	return &FetchTool{client: &http.Client{Timeout: 30 * time.Second}}
}

type fetchArgs struct {
	URL      string `json:"url"`
	MaxChars int    `json:"maxChars"`
}

func (t *FetchTool) Name() string { return "webFetch" }

func (t *FetchTool) Description() string {
	return "Fetch a URL and return the readable text content of the page."
}

func (t *FetchTool) Schema() json.RawMessage {
	return tools.Schema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "HTTP or HTTPS URL to fetch",
			},
			"maxChars": map[string]any{
				"type":        "integer",
				"description": "Truncate the extracted text to this many characters (default 20000)",
			},
		},
		"required": []string{"url"},
	})
}

func (t *FetchTool) Execute(ctx context.Context, tc *tools.Context, raw json.RawMessage) (*tools.Result, error) {
	var args fetchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return tools.ErrorResult("invalid arguments: %v", err), nil
	}

	target, err := url.Parse(args.URL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
		return tools.ErrorResult("url must be http or https"), nil
	}
	if !t.allowPrivate {
		if err := rejectPrivateHost(target.Hostname()); err != nil {
			return tools.ErrorResult("%v", err), nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return tools.ErrorResult("build request: %v", err), nil
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; CoworkBot/1.0)")

	resp, err := t.client.Do(req)
	if err != nil {
		return tools.ErrorResult("fetch %s: %v", args.URL, err), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return tools.ErrorResult("fetch %s: status %d", args.URL, resp.StatusCode), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return tools.ErrorResult("read %s: %v", args.URL, err), nil
	}

	text := string(body)
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/html") || looksLikeHTML(text) {
		article, err := readability.FromReader(strings.NewReader(text), target)
		if err == nil && strings.TrimSpace(article.TextContent) != "" {
			if article.Title != "" {
				text = article.Title + "\n\n" + article.TextContent
			} else {
				text = article.TextContent
			}
		}
	}

	maxChars := args.MaxChars
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}
	if len(text) > maxChars {
		text = text[:maxChars] + "\n(content truncated)"
	}
	return &tools.Result{Content: text}, nil
}

func looksLikeHTML(s string) bool {
	head := strings.ToLower(s[:min(len(s), 512)])
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}

// rejectPrivateHost blocks fetches that would reach loopback or private
// address space.
func rejectPrivateHost(host string) error {
	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return fmt.Errorf("refusing to fetch private address %s", ip)
		}
	}
	return nil
}
