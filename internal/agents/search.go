package agents

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"edutrack/internal/logging"
)

// maxSearchPageBytes caps the search result page read.
const maxSearchPageBytes = 1 << 20

// DuckDuckGoSearch is the production search backend. It scrapes the
// DuckDuckGo HTML endpoint, which needs no API key, and HEAD-validates
// every hit so the scout never ranks a dead link.
type DuckDuckGoSearch struct {
	client    *http.Client
	userAgent string
	endpoint  string
	validate  bool
}

// NewDuckDuckGoSearch builds the search backend with the given per-query
// timeout.
func NewDuckDuckGoSearch(timeout time.Duration) *DuckDuckGoSearch {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DuckDuckGoSearch{
		client:    &http.Client{Timeout: timeout},
		userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		endpoint:  "https://html.duckduckgo.com/html/",
		validate:  true,
	}
}

// Search runs one query and returns up to limit validated results.
func (s *DuckDuckGoSearch) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 5
	}

	req, err := http.NewRequestWithContext(ctx, "GET", s.endpoint+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSearchPageBytes))
	if err != nil {
		return nil, fmt.Errorf("reading search page: %w", err)
	}

	results, err := ParseSearchPage(string(body), limit*2)
	if err != nil {
		return nil, err
	}

	if !s.validate {
		if len(results) > limit {
			results = results[:limit]
		}
		return results, nil
	}

	validated := make([]SearchResult, 0, limit)
	for _, r := range results {
		if len(validated) >= limit {
			break
		}
		if s.headOK(ctx, r.URL) {
			validated = append(validated, r)
		} else {
			logging.ScoutWarn("Dropping unreachable search hit: %s", r.URL)
		}
	}
	return validated, nil
}

// headOK probes a result URL. Servers that reject HEAD outright still pass;
// only a confirmed client error or network failure drops the hit.
func (s *DuckDuckGoSearch) headOK(ctx context.Context, target string) bool {
	req, err := http.NewRequestWithContext(ctx, "HEAD", target, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", s.userAgent)
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusMethodNotAllowed {
		return true
	}
	return resp.StatusCode < 400
}

// ParseSearchPage extracts results from the DuckDuckGo HTML result page.
// Result blocks are divs with both "result" and "results_links" classes.
func ParseSearchPage(page string, limit int) ([]SearchResult, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parsing search page: %w", err)
	}

	var results []SearchResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(results) >= limit {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" {
			class := attrValue(n, "class")
			if strings.Contains(class, "result") && strings.Contains(class, "results_links") {
				r := extractSearchResult(n)
				if r.URL != "" && r.Title != "" {
					results = append(results, r)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results, nil
}

func extractSearchResult(n *html.Node) SearchResult {
	var r SearchResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			class := attrValue(n, "class")
			switch {
			case strings.Contains(class, "result__a"):
				r.URL = resolveRedirect(attrValue(n, "href"))
				r.Title = textContent(n)
			case strings.Contains(class, "result__snippet"):
				r.Snippet = textContent(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return r
}

// resolveRedirect unwraps the DuckDuckGo click-tracking redirect.
func resolveRedirect(href string) string {
	const marker = "duckduckgo.com/l/?uddg="
	idx := strings.Index(href, marker)
	if idx < 0 {
		return href
	}
	decoded, err := url.QueryUnescape(href[idx+len(marker):])
	if err != nil {
		return href
	}
	if amp := strings.Index(decoded, "&"); amp > 0 {
		decoded = decoded[:amp]
	}
	return decoded
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(strings.TrimSpace(n.Data))
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}
