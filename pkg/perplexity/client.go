// Package perplexity is a minimal client for Perplexity's Sonar models,
// returning the answer together with the web sources it was grounded on.
package perplexity

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/brand-radar/internal/resilience"
)

const (
	defaultBaseURL = "https://api.perplexity.ai"
	defaultModel   = "sonar-pro"
)

// Client asks Sonar a single question.
type Client interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
}

// SearchRequest is one user question. Empty fields fall back to the client's
// configuration.
type SearchRequest struct {
	Model       string
	Query       string
	Temperature *float64
	// ContextSize is "low", "medium" or "high".
	ContextSize string
	// Recency is "day", "week", "month" or "year".
	Recency string
}

// SearchResponse is a flattened completion.
type SearchResponse struct {
	ID      string
	Model   string
	Answer  string
	Sources []Source
	Usage   Usage
}

// Source is a web page the answer was grounded on. Title is empty when the
// API only returned a bare citation URL.
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Date  string `json:"date,omitempty"`
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type webSearchOptions struct {
	SearchContextSize string `json:"search_context_size"`
}

type chatRequest struct {
	Model               string            `json:"model"`
	Messages            []chatMessage     `json:"messages"`
	Temperature         *float64          `json:"temperature,omitempty"`
	SearchRecencyFilter string            `json:"search_recency_filter,omitempty"`
	WebSearchOptions    *webSearchOptions `json:"web_search_options,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage         Usage    `json:"usage"`
	Citations     []string `json:"citations"`
	SearchResults []Source `json:"search_results"`
}

// flatten takes the first choice and merges search results with bare
// citations, deduplicated by URL in first-seen order. Search results come
// first because they carry titles.
func (r *chatResponse) flatten() *SearchResponse {
	out := &SearchResponse{ID: r.ID, Model: r.Model, Usage: r.Usage}
	if len(r.Choices) > 0 {
		out.Answer = r.Choices[0].Message.Content
	}
	seen := make(map[string]bool, len(r.SearchResults)+len(r.Citations))
	add := func(s Source) {
		if s.URL == "" || seen[s.URL] {
			return
		}
		seen[s.URL] = true
		out.Sources = append(out.Sources, s)
	}
	for _, s := range r.SearchResults {
		add(s)
	}
	for _, u := range r.Citations {
		add(Source{URL: u})
	}
	return out
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *httpClient) {
		if model != "" {
			c.model = model
		}
	}
}

// WithSearchContextSize sets the default search depth for every request.
func WithSearchContextSize(size string) Option {
	return func(c *httpClient) {
		c.contextSize = size
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey      string
	baseURL     string
	model       string
	contextSize string
	http        *http.Client
}

// NewClient creates a Perplexity API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   defaultModel,
		http: &http.Client{
			Timeout: 90 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) buildRequest(req SearchRequest) chatRequest {
	body := chatRequest{
		Model:               req.Model,
		Messages:            []chatMessage{{Role: "user", Content: req.Query}},
		Temperature:         req.Temperature,
		SearchRecencyFilter: req.Recency,
	}
	if body.Model == "" {
		body.Model = c.model
	}
	size := req.ContextSize
	if size == "" {
		size = c.contextSize
	}
	if size != "" {
		body.WebSearchOptions = &webSearchOptions{SearchContextSize: size}
	}
	return body
}

func (c *httpClient) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	payload, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return nil, eris.Wrap(err, "perplexity: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "perplexity: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		wrapped := eris.Wrap(err, "perplexity: send request")
		if ctx.Err() != nil {
			return nil, wrapped
		}
		return nil, resilience.NewTransientError(wrapped, 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "perplexity: read response"), resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resilience.FromHTTPResponse(
			eris.Errorf("perplexity: status %d: %s", resp.StatusCode, truncateBody(respBody)),
			resp,
		)
	}

	var decoded chatResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, eris.Wrap(err, "perplexity: decode response")
	}
	return decoded.flatten(), nil
}

// truncateBody keeps error messages readable when a proxy returns HTML.
func truncateBody(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
