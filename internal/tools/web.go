package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sync"

	"github.com/haasonsaas/outie/internal/kinderr"
)

// WebSearcher is the out-of-scope-per-spec §1 search backend. Only its
// request/response contract is specified here; the caller supplies a
// concrete implementation (a plain HTTP client against a search API).
type WebSearcher interface {
	Search(ctx context.Context, query string) ([]SearchHit, error)
	SearchNews(ctx context.Context, query string) ([]SearchHit, error)
}

type SearchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// AllowedURLs tracks the URLs that have entered via user text or a search
// result (spec §3 AllowedUrl, §4.7: fetch_page may only fetch a URL that
// entered one of those two ways). It is intentionally process-lifetime
// only and not persisted to the Store — matching the source behavior this
// spec was distilled from, where the allow-list resets on restart rather
// than outliving the process (spec §9 Open Questions).
type AllowedURLs struct {
	mu  sync.Mutex
	set map[string]bool
}

func NewAllowedURLs() *AllowedURLs {
	return &AllowedURLs{set: make(map[string]bool)}
}

// Allow adds urls to the allow-list; called with web_search/news_search
// result URLs and with URLs extracted from inbound trigger text.
func (a *AllowedURLs) Allow(urls ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, u := range urls {
		a.set[u] = true
	}
}

func (a *AllowedURLs) IsAllowed(u string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.set[u]
}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"'` + "`" + `]+`)

// ExtractURLs pulls http(s) URLs out of free text, for populating
// AllowedUrl from inbound user messages (spec §3, §4.7).
func ExtractURLs(text string) []string {
	return urlPattern.FindAllString(text, -1)
}

// RegisterWebTools wires web_search, news_search and fetch_page (spec
// §4.7) into r. fetch_page refuses any URL not on allowed, to keep the
// page-fetch tool from becoming a general SSRF-capable proxy.
func RegisterWebTools(r *Registry, allowed *AllowedURLs, searcher WebSearcher, httpClient *http.Client) {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if allowed == nil {
		allowed = NewAllowedURLs()
	}

	searchHandler := func(name string, run func(ctx context.Context, query string) ([]SearchHit, error)) Handler {
		return func(ctx context.Context, args json.RawMessage) (Result, error) {
			var in struct{ Query string }
			if err := json.Unmarshal(args, &in); err != nil {
				return Result{}, kinderr.New(kinderr.InputInvalid, name, err)
			}
			if searcher == nil {
				return ErrorResult("no web search backend configured"), nil
			}
			hits, err := run(ctx, in.Query)
			if err != nil {
				return ErrorResult(err.Error()), nil
			}
			urls := make([]string, len(hits))
			for i, h := range hits {
				urls[i] = h.URL
			}
			allowed.Allow(urls...)
			return jsonResult(hits)
		}
	}

	r.Register(Tool{
		Name:        "web_search",
		Description: "Search the web for a query and return titles, URLs and snippets.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"required": ["query"],
			"properties": {"query": {"type": "string", "minLength": 1}}
		}`),
		Handler: searchHandler("web_search", searcher.Search),
	})

	r.Register(Tool{
		Name:        "news_search",
		Description: "Search recent news for a query and return titles, URLs and snippets.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"required": ["query"],
			"properties": {"query": {"type": "string", "minLength": 1}}
		}`),
		Handler: searchHandler("news_search", searcher.SearchNews),
	})

	r.Register(Tool{
		Name:        "fetch_page",
		Description: "Fetch the text content of a URL previously surfaced by web_search, news_search or a user message.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"required": ["url"],
			"properties": {"url": {"type": "string", "minLength": 1}}
		}`),
		Handler: func(ctx context.Context, args json.RawMessage) (Result, error) {
			var in struct{ URL string }
			if err := json.Unmarshal(args, &in); err != nil {
				return Result{}, kinderr.New(kinderr.InputInvalid, "fetch_page", err)
			}
			if _, err := url.ParseRequestURI(in.URL); err != nil {
				return ErrorResult(fmt.Sprintf("invalid url: %v", err)), nil
			}
			if !allowed.IsAllowed(in.URL) {
				return ErrorResult(fmt.Sprintf("BLOCKED: URL %s not in allowlist.", in.URL)), nil
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.URL, nil)
			if err != nil {
				return ErrorResult(err.Error()), nil
			}
			resp, err := httpClient.Do(req)
			if err != nil {
				return ErrorResult(err.Error()), nil
			}
			defer resp.Body.Close()
			if resp.StatusCode >= 400 {
				return ErrorResult(fmt.Sprintf("fetch failed: status %d", resp.StatusCode)), nil
			}

			const maxBody = 200_000
			body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
			if err != nil {
				return ErrorResult(err.Error()), nil
			}
			return TextResult(string(body)), nil
		},
	})
}
