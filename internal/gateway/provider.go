package gateway

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/sells-group/brand-radar/internal/model"
	"github.com/sells-group/brand-radar/pkg/anthropic"
	"github.com/sells-group/brand-radar/pkg/perplexity"
)

// Provider answers one prompt. Implementations fill Raw, Model, Citations
// and Usage; the gateway owns Failed, Error and DurationMs.
type Provider interface {
	Name() string
	Ask(ctx context.Context, prompt string) (model.ProviderAnswer, error)
}

// Provider names as persisted on raw responses.
const (
	ProviderAnthropic  = "anthropic"
	ProviderPerplexity = "perplexity"
)

type anthropicProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropic adapts an Anthropic client into a Provider. Claude returns no
// structured citations, so URLs written into the answer are collected.
func NewAnthropic(client anthropic.Client, modelName string, maxTokens int64) Provider {
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &anthropicProvider{client: client, model: modelName, maxTokens: maxTokens}
}

func (p *anthropicProvider) Name() string { return ProviderAnthropic }

func (p *anthropicProvider) Ask(ctx context.Context, prompt string) (model.ProviderAnswer, error) {
	resp, err := p.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		Prompt:    prompt,
	})
	if err != nil {
		return model.ProviderAnswer{Model: p.model}, err
	}
	text := resp.Text
	ans := model.ProviderAnswer{
		Model: p.model,
		Raw:   text,
		Usage: model.TokenUsage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}
	for _, u := range ExtractURLs(text) {
		ans.Citations = append(ans.Citations, model.Citation{URL: u, Domain: hostOf(u)})
	}
	return ans, nil
}

type perplexityProvider struct {
	client perplexity.Client
	model  string
}

// NewPerplexity adapts a Perplexity client into a Provider.
func NewPerplexity(client perplexity.Client, modelName string) Provider {
	return &perplexityProvider{client: client, model: modelName}
}

func (p *perplexityProvider) Name() string { return ProviderPerplexity }

func (p *perplexityProvider) Ask(ctx context.Context, prompt string) (model.ProviderAnswer, error) {
	resp, err := p.client.Search(ctx, perplexity.SearchRequest{Model: p.model, Query: prompt})
	if err != nil {
		return model.ProviderAnswer{Model: p.model}, err
	}
	name := resp.Model
	if name == "" {
		name = p.model
	}
	ans := model.ProviderAnswer{
		Model: name,
		Raw:   resp.Answer,
		Usage: model.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, s := range resp.Sources {
		ans.Citations = append(ans.Citations, model.Citation{URL: s.URL, Title: s.Title, Domain: hostOf(s.URL)})
	}
	return ans, nil
}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"'()\[\]{}]+`)

// ExtractURLs returns the distinct http(s) URLs in text, in order of first
// appearance. Trailing punctuation is trimmed.
func ExtractURLs(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range urlPattern.FindAllString(text, -1) {
		m = strings.TrimRight(m, ".,;:!?")
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
