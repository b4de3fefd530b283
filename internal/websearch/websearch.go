// Package websearch implements tools.WebSearcher (spec §4.7, "web_search /
// news_search are out-of-scope search backends behind an interface"). It is
// adapted from the teacher's internal/tools/websearch.WebSearchTool,
// narrowed from a multi-backend cached tool (SearXNG/DuckDuckGo/Brave,
// content extraction, an in-memory result cache) down to the two backends
// that need no local infrastructure: Brave Search when an API key is
// configured, DuckDuckGo's Instant Answer API as the no-key fallback.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/haasonsaas/outie/internal/tools"
)

// Config configures the search backend.
type Config struct {
	BraveAPIKey string // when empty, falls back to DuckDuckGo
}

// Client implements tools.WebSearcher.
type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{cfg: cfg, http: httpClient}
}

func (c *Client) Search(ctx context.Context, query string) ([]tools.SearchHit, error) {
	if c.cfg.BraveAPIKey != "" {
		hits, err := c.searchBrave(ctx, "/web/search", query)
		if err == nil {
			return hits, nil
		}
	}
	return c.searchDuckDuckGo(ctx, query)
}

func (c *Client) SearchNews(ctx context.Context, query string) ([]tools.SearchHit, error) {
	if c.cfg.BraveAPIKey != "" {
		return c.searchBrave(ctx, "/news/search", query)
	}
	return c.searchDuckDuckGo(ctx, query)
}

func (c *Client) searchBrave(ctx context.Context, endpoint, query string) ([]tools.SearchHit, error) {
	searchURL, err := url.Parse("https://api.search.brave.com/res/v1" + endpoint)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("q", query)
	searchURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.cfg.BraveAPIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave search returned status %d", resp.StatusCode)
	}

	var out struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}

	results := out.Web.Results
	if len(results) == 0 {
		results = out.Results
	}
	hits := make([]tools.SearchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, tools.SearchHit{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return hits, nil
}

func (c *Client) searchDuckDuckGo(ctx context.Context, query string) ([]tools.SearchHit, error) {
	instantURL := fmt.Sprintf("https://api.duckduckgo.com/?q=%s&format=json&no_html=1", url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, instantURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; OutieBot/1.0)")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
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
		return nil, err
	}

	var hits []tools.SearchHit
	if ddg.AbstractText != "" && ddg.AbstractURL != "" {
		hits = append(hits, tools.SearchHit{Title: ddg.Heading, URL: ddg.AbstractURL, Snippet: ddg.AbstractText})
	}
	for _, topic := range ddg.RelatedTopics {
		if topic.FirstURL == "" || topic.Text == "" {
			continue
		}
		title := topic.Text
		if len(title) > 100 {
			title = title[:100]
		}
		hits = append(hits, tools.SearchHit{Title: title, URL: topic.FirstURL, Snippet: topic.Text})
	}
	return hits, nil
}
