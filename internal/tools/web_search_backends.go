package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

type braveBackend struct {
	apiKey string
	client *http.Client
}

func newBraveBackend(apiKey string) *braveBackend {
	return &braveBackend{apiKey: apiKey, client: &http.Client{Timeout: searchTimeout}}
}

func (b *braveBackend) name() string { return "brave" }

func (b *braveBackend) search(ctx context.Context, query string, count int, freshness string) ([]searchHit, error) {
	q := url.Values{"q": {query}, "count": {fmt.Sprint(count)}}
	if freshness != "" {
		q.Set("freshness", freshness)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", braveEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave returned %d: %s", resp.StatusCode, clip(string(body), 200))
	}

	var decoded struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("parse brave response: %w", err)
	}

	hits := make([]searchHit, 0, len(decoded.Web.Results))
	for _, r := range decoded.Web.Results {
		hits = append(hits, searchHit{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return hits, nil
}

// ddgBackend scrapes the DuckDuckGo HTML endpoint. No key, no quota;
// the freshness filter is unsupported there and ignored.
type ddgBackend struct {
	client *http.Client
}

func newDDGBackend() *ddgBackend {
	return &ddgBackend{client: &http.Client{Timeout: searchTimeout}}
}

func (b *ddgBackend) name() string { return "duckduckgo" }

var (
	ddgResultRe  = regexp.MustCompile(`<a[^>]*class="[^"]*result__a[^"]*"[^>]*href="([^"]+)"[^>]*>([\s\S]*?)</a>`)
	ddgSnippetRe = regexp.MustCompile(`<a class="result__snippet[^"]*".*?>([\s\S]*?)</a>`)
)

func (b *ddgBackend) search(ctx context.Context, query string, count int, _ string) ([]searchHit, error) {
	endpoint := "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return parseDDGResults(string(body), count), nil
}

func parseDDGResults(page string, count int) []searchHit {
	links := ddgResultRe.FindAllStringSubmatch(page, count)
	snippets := ddgSnippetRe.FindAllStringSubmatch(page, count)

	hits := make([]searchHit, 0, len(links))
	for i, m := range links {
		hit := searchHit{
			URL:   unwrapDDGRedirect(m[1]),
			Title: strings.TrimSpace(stripTags(m[2])),
		}
		if i < len(snippets) {
			hit.Snippet = strings.TrimSpace(stripTags(snippets[i][1]))
		}
		hits = append(hits, hit)
	}
	return hits
}

// unwrapDDGRedirect resolves DuckDuckGo's /l/?uddg=<target> indirection
// back to the target URL.
func unwrapDDGRedirect(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return raw
}
