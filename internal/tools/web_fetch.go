package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	fetchMaxChars     = 50000
	fetchMaxRedirects = 3
	fetchTimeout      = 30 * time.Second
)

// WebFetchTool retrieves one URL and converts it to model-readable text.
// Oversized pages spill to the session workspace so the model can report
// a path instead of flooding its context, matching the worker directive.
type WebFetchTool struct {
	maxChars int
	cache    *webCache
	client   *http.Client
}

// WebFetchConfig holds configuration for the web fetch tool.
type WebFetchConfig struct {
	MaxChars int
	CacheTTL time.Duration
}

func NewWebFetchTool(cfg WebFetchConfig) *WebFetchTool {
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = fetchMaxChars
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &WebFetchTool{
		maxChars: maxChars,
		cache:    newWebCache(defaultCacheMaxEntries, ttl),
		client: &http.Client{
			Timeout: fetchTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= fetchMaxRedirects {
					return fmt.Errorf("stopped after %d redirects", fetchMaxRedirects)
				}
				// Redirect targets go through the same address guard
				// as the original URL.
				return checkSSRF(req.URL.String())
			},
		},
	}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Description() string {
	return "Fetch a URL and return its content as markdown or plain text. Pages larger than the inline limit are saved to the workspace and reported by path."
}

func (t *WebFetchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "HTTP or HTTPS URL to fetch",
			},
			"mode": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"markdown", "text"},
				"description": "Conversion mode for HTML pages; default markdown",
			},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return ErrorResult("url is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid url: %v", err))
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ErrorResult("only http and https URLs are supported")
	}
	if err := checkSSRF(rawURL); err != nil {
		return ErrorResult(fmt.Sprintf("address blocked: %v", err)).WithError(err)
	}

	mode := "markdown"
	if m, ok := args["mode"].(string); ok && (m == "markdown" || m == "text") {
		mode = m
	}

	cacheKey := mode + "|" + rawURL
	if hit, ok := t.cache.get(cacheKey); ok {
		return NewResult(hit)
	}

	report, err := t.fetch(ctx, rawURL, mode)
	if err != nil {
		return ErrorResult(fmt.Sprintf("fetch %s: %v", rawURL, err)).WithError(err)
	}
	t.cache.set(cacheKey, report)
	return NewResult(report)
}

func (t *WebFetchTool) fetch(ctx context.Context, rawURL, mode string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	// Read at most 4x the inline limit; HTML markup shrinks a lot during
	// conversion.
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(t.maxChars*4)))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	finalURL := resp.Request.URL.String()

	var text string
	switch {
	case strings.Contains(contentType, "application/json"):
		text = prettyJSON(body)
	case strings.Contains(contentType, "text/html"),
		strings.Contains(contentType, "application/xhtml"):
		if mode == "text" {
			text = htmlToText(string(body))
		} else {
			text = htmlToMarkdown(string(body))
		}
	default:
		text = string(body)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\nStatus: %d\n", finalURL, resp.StatusCode)
	if len(text) > t.maxChars {
		if path := t.spill(WorkspaceFromCtx(ctx), finalURL, text); path != "" {
			fmt.Fprintf(&b, "Full copy: %s\n", path)
		}
		text = text[:t.maxChars]
		fmt.Fprintf(&b, "Truncated: inline content capped at %d chars\n", t.maxChars)
	}
	b.WriteString("\n")
	b.WriteString(wrapExternalContent(text, finalURL, false))
	return b.String(), nil
}

// spill writes the full page under <workspace>/web/ and returns the
// path, or "" when no workspace is bound or the write fails.
func (t *WebFetchTool) spill(workspace, pageURL, text string) string {
	if workspace == "" {
		return ""
	}
	dir := filepath.Join(workspace, "web")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ""
	}
	sum := sha256.Sum256([]byte(pageURL))
	path := filepath.Join(dir, hex.EncodeToString(sum[:6])+".md")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return ""
	}
	return path
}
