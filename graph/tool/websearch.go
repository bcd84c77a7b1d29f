package tool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// DefaultSearchEndpoint is DuckDuckGo's JavaScript-free results page.
const DefaultSearchEndpoint = "https://html.duckduckgo.com/html/"

// DefaultMaxResults bounds a search when the caller gives no limit.
const DefaultMaxResults = 5

// SearchResult is one ranked web search hit.
type SearchResult struct {
	Rank    int    `json:"rank"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebSearch queries DuckDuckGo's HTML endpoint and scrapes the results.
// It holds no per-call state and is safe for concurrent use.
type WebSearch struct {
	endpoint  string
	client    *http.Client
	userAgent string
}

// WebSearchOption configures a WebSearch.
type WebSearchOption func(*WebSearch)

// WithSearchEndpoint points the tool at another results page, such as an
// httptest server.
func WithSearchEndpoint(endpoint string) WebSearchOption {
	return func(w *WebSearch) { w.endpoint = endpoint }
}

// WithSearchClient sets the HTTP client.
func WithSearchClient(c *http.Client) WebSearchOption {
	return func(w *WebSearch) { w.client = c }
}

// NewWebSearch creates a WebSearch tool.
func NewWebSearch(opts ...WebSearchOption) *WebSearch {
	w := &WebSearch{
		endpoint:  DefaultSearchEndpoint,
		client:    &http.Client{Timeout: 20 * time.Second},
		userAgent: "Mozilla/5.0 (compatible; agentflow/1.0)",
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name implements Tool.
func (w *WebSearch) Name() string {
	return "web_search"
}

// Description implements Describer.
func (w *WebSearch) Description() string {
	return "Search the web and return ranked results with titles, URLs and snippets"
}

// Call implements Tool. Input: "query" (or "value"), "max_results".
// Output: "query", "results_count", "results" and a text "summary".
func (w *WebSearch) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	query := stringInput(input, "query", "value")
	if query == "" {
		return nil, fmt.Errorf("%w: query", ErrMissingInput)
	}
	results, err := w.Search(ctx, query, intInput(input, "max_results", DefaultMaxResults))
	if err != nil {
		return nil, err
	}

	items := make([]interface{}, len(results))
	for i, r := range results {
		items[i] = map[string]interface{}{
			"rank":    r.Rank,
			"title":   r.Title,
			"url":     r.URL,
			"snippet": r.Snippet,
		}
	}
	return map[string]interface{}{
		"query":         query,
		"results_count": len(results),
		"results":       items,
		"summary":       FormatResults(query, results),
	}, nil
}

// Search returns at most limit results for query.
func (w *WebSearch) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = DefaultMaxResults
	}

	u, err := url.Parse(w.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid search endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("User-Agent", w.userAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search endpoint returned status %d", resp.StatusCode)
	}
	return parseResults(io.LimitReader(resp.Body, 4<<20), limit)
}

// parseResults walks a DuckDuckGo results page. Titles and links come from
// a.result__a anchors; the following .result__snippet element supplies the
// snippet.
func parseResults(r io.Reader, limit int) ([]SearchResult, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}

	var results []SearchResult
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "a" && hasClass(n, "result__a"):
				if len(results) == limit {
					return false
				}
				results = append(results, SearchResult{
					Rank:  len(results) + 1,
					Title: textContent(n),
					URL:   resolveLink(attr(n, "href")),
				})
				return true
			case hasClass(n, "result__snippet"):
				if len(results) > 0 && results[len(results)-1].Snippet == "" {
					results[len(results)-1].Snippet = textContent(n)
				}
				return true
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !walk(c) {
				return false
			}
		}
		return true
	}
	walk(doc)
	return results, nil
}

// resolveLink unwraps DuckDuckGo's redirect links (/l/?uddg=<target>).
func resolveLink(href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

func hasClass(n *html.Node, class string) bool {
	for _, f := range strings.Fields(attr(n, "class")) {
		if f == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

// FormatResults renders results as the human-readable summary that the
// web_search node returns as its data.
func FormatResults(query string, results []SearchResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Search Results for: %s\n\n", query)
	for _, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n", r.Rank, r.Title)
		if r.Snippet != "" {
			fmt.Fprintf(&sb, "   %s\n", r.Snippet)
		}
		fmt.Fprintf(&sb, "   URL: %s\n\n", r.URL)
	}
	return strings.TrimRight(sb.String(), "\n")
}
