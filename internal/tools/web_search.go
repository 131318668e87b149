package tools

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

const (
	searchDefaultHits = 5
	searchMaxHits     = 10
	searchTimeout     = 30 * time.Second
)

// searchBackend is one search engine the tool can query. Backends are
// tried in order; the first that answers wins.
type searchBackend interface {
	name() string
	search(ctx context.Context, query string, count int, freshness string) ([]searchHit, error)
}

type searchHit struct {
	Title   string
	URL     string
	Snippet string
}

// WebSearchTool answers "what is out there" queries. Brave runs first
// when a key is configured; the DuckDuckGo HTML endpoint is the keyless
// fallback, so the tool always has at least one backend.
type WebSearchTool struct {
	backends []searchBackend
	cache    *webCache
}

// WebSearchConfig holds configuration for the web search tool.
type WebSearchConfig struct {
	BraveAPIKey string
	CacheTTL    time.Duration
}

func NewWebSearchTool(cfg WebSearchConfig) *WebSearchTool {
	var backends []searchBackend
	if cfg.BraveAPIKey != "" {
		backends = append(backends, newBraveBackend(cfg.BraveAPIKey))
	}
	backends = append(backends, newDDGBackend())

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &WebSearchTool{
		backends: backends,
		cache:    newWebCache(defaultCacheMaxEntries, ttl),
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web for current information. Returns titles, URLs, and snippets."
}

func (t *WebSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Search query",
			},
			"count": map[string]interface{}{
				"type":        "number",
				"description": fmt.Sprintf("Number of results (1-%d, default %d)", searchMaxHits, searchDefaultHits),
			},
			"freshness": map[string]interface{}{
				"type":        "string",
				"description": "Limit result age: pd (day), pw (week), pm (month), py (year), or YYYY-MM-DDtoYYYY-MM-DD",
			},
		},
		"required": []string{"query"},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return ErrorResult("query is required")
	}
	count := searchDefaultHits
	if c, ok := args["count"].(float64); ok && int(c) >= 1 && int(c) <= searchMaxHits {
		count = int(c)
	}
	freshness := ""
	if f, ok := args["freshness"].(string); ok {
		freshness = normalizeFreshness(f)
	}

	cacheKey := fmt.Sprintf("%s|%d|%s", query, count, freshness)
	if hit, ok := t.cache.get(cacheKey); ok {
		return NewResult(hit)
	}

	var lastErr error
	for _, backend := range t.backends {
		hits, err := backend.search(ctx, query, count, freshness)
		if err != nil {
			slog.Warn("search backend failed", "backend", backend.name(), "error", err)
			lastErr = err
			continue
		}
		report := wrapExternalContent(formatHits(query, backend.name(), hits), "web_search", false)
		t.cache.set(cacheKey, report)
		return NewResult(report)
	}
	return ErrorResult(fmt.Sprintf("all search backends failed: %v", lastErr)).WithError(lastErr)
}

func formatHits(query, backend string, hits []searchHit) string {
	if len(hits) == 0 {
		return fmt.Sprintf("No results for: %s", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Results for %q (via %s):\n\n", query, backend)
	for i, h := range hits {
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, h.Title, h.URL)
		if h.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", h.Snippet)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

var freshnessRange = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})to(\d{4}-\d{2}-\d{2})$`)

// normalizeFreshness validates the age filter; anything malformed is
// dropped rather than sent upstream.
func normalizeFreshness(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	switch v {
	case "":
		return ""
	case "pd", "pw", "pm", "py":
		return v
	}
	m := freshnessRange.FindStringSubmatch(v)
	if m == nil {
		return ""
	}
	from, errF := time.Parse("2006-01-02", m[1])
	to, errT := time.Parse("2006-01-02", m[2])
	if errF != nil || errT != nil || from.After(to) {
		return ""
	}
	return v
}
