// Package anthropic wraps the official SDK behind a small interface that the
// gateway, classifier and brand grouper share.
package anthropic

import (
	"context"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"

	"github.com/sells-group/brand-radar/internal/resilience"
)

// systemCacheTTL is how long cached instructions live on the API side.
const systemCacheTTL = "5m"

// Client sends single-turn prompts to the Messages API.
type Client interface {
	CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
}

// MessageRequest is one user turn, optionally preceded by instructions.
// Instructions are always marked for prompt caching since every caller
// repeats them verbatim across calls.
type MessageRequest struct {
	Model       string
	MaxTokens   int64
	System      string
	Prompt      string
	Temperature *float64
}

// MessageResponse carries the joined text of a reply.
type MessageResponse struct {
	ID         string
	Model      string
	Text       string
	StopReason string
	Usage      TokenUsage
}

// Truncated reports whether the reply stopped at the token limit.
func (r *MessageResponse) Truncated() bool {
	return r != nil && r.StopReason == "max_tokens"
}

// TokenUsage tracks token consumption, including prompt-cache traffic.
type TokenUsage struct {
	InputTokens      int64
	OutputTokens     int64
	CacheWriteTokens int64
	CacheReadTokens  int64
}

type sdkClient struct {
	client sdk.Client
}

// NewClient creates a Client backed by the SDK. SDK-level retries are
// disabled; callers decide whether to retry.
func NewClient(apiKey string, opts ...option.RequestOption) Client {
	all := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, opts...)
	return &sdkClient{client: sdk.NewClient(all...)}
}

func (c *sdkClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	msg, err := c.client.Messages.New(ctx, buildParams(req))
	if err != nil {
		return nil, classifyError(err, eris.Wrap(err, "anthropic: create message"))
	}
	return readMessage(msg), nil
}

func buildParams(req MessageRequest) sdk.MessageNewParams {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt))},
	}
	if req.System != "" {
		cache := sdk.NewCacheControlEphemeralParam()
		cache.TTL = sdk.CacheControlEphemeralTTL(systemCacheTTL)
		params.System = []sdk.TextBlockParam{{Text: req.System, CacheControl: cache}}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	return params
}

// classifyError marks wrapped as transient when the SDK error carries a
// retryable status, keeping any Retry-After hint.
func classifyError(raw, wrapped error) error {
	var apiErr *sdk.Error
	switch {
	case !errors.As(raw, &apiErr):
		return wrapped
	case apiErr.Response != nil:
		return resilience.FromHTTPResponse(wrapped, apiErr.Response)
	default:
		return resilience.FromHTTPStatus(wrapped, apiErr.StatusCode)
	}
}

// readMessage keeps text blocks only; tool and thinking blocks are dropped.
func readMessage(msg *sdk.Message) *MessageResponse {
	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &MessageResponse{
		ID:         msg.ID,
		Model:      string(msg.Model),
		Text:       text.String(),
		StopReason: string(msg.StopReason),
		Usage: TokenUsage{
			InputTokens:      msg.Usage.InputTokens,
			OutputTokens:     msg.Usage.OutputTokens,
			CacheWriteTokens: msg.Usage.CacheCreationInputTokens,
			CacheReadTokens:  msg.Usage.CacheReadInputTokens,
		},
	}
}
