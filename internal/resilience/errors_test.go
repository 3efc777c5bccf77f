package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("invalid api key"), false},
		{"explicit", NewTransientError(errors.New("503"), 503), true},
		{"wrapped", eris.Wrap(NewTransientError(errors.New("429"), 429), "classify"), true},
		{"conn reset", fmt.Errorf("post: %w", syscall.ECONNRESET), true},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"overloaded text", errors.New("Anthropic API is Overloaded"), true},
		{"io timeout text", errors.New("read tcp: i/o timeout"), true},
		{"canceled", fmt.Errorf("call: %w", context.Canceled), false},
		{"canceled inside transient", NewTransientError(context.Canceled, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504, 529} {
		assert.True(t, IsTransientHTTPStatus(code), "%d", code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 422, 501} {
		assert.False(t, IsTransientHTTPStatus(code), "%d", code)
	}
}

func TestFromHTTPStatus(t *testing.T) {
	base := errors.New("status error")
	assert.NoError(t, FromHTTPStatus(nil, 503))
	assert.Same(t, base, FromHTTPStatus(base, 400))

	var te *TransientError
	require.ErrorAs(t, FromHTTPStatus(base, 429), &te)
	assert.Equal(t, 429, te.StatusCode)
	assert.ErrorIs(t, te, base)
}

func TestFromHTTPResponse_RetryAfter(t *testing.T) {
	base := errors.New("rate limited")
	resp := func(status int, retryAfter string) *http.Response {
		h := http.Header{}
		if retryAfter != "" {
			h.Set("Retry-After", retryAfter)
		}
		return &http.Response{StatusCode: status, Header: h}
	}

	assert.Equal(t, 12*time.Second, RetryAfter(FromHTTPResponse(base, resp(429, "12"))))
	assert.Zero(t, RetryAfter(FromHTTPResponse(base, resp(503, ""))))
	assert.Zero(t, RetryAfter(FromHTTPResponse(base, resp(429, "soon"))))
	assert.Same(t, base, FromHTTPResponse(base, resp(401, "30")))
	assert.Same(t, base, FromHTTPResponse(base, nil))
	assert.Zero(t, RetryAfter(base))
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 90*time.Second, parseRetryAfter(" 90 ", now))
	assert.Equal(t, 2*time.Minute, parseRetryAfter(now.Add(2*time.Minute).Format(http.TimeFormat), now))
	assert.Zero(t, parseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
	assert.Zero(t, parseRetryAfter("-5", now))
	assert.Zero(t, parseRetryAfter("", now))
}
