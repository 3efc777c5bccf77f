package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fast(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestRetry(t *testing.T) {
	transient := NewTransientError(errors.New("429"), 429)
	permanent := errors.New("invalid api key")

	tests := []struct {
		name      string
		attempts  int
		errs      []error
		wantCalls int
		wantErr   error
	}{
		{name: "first try", attempts: 3, errs: []error{nil}, wantCalls: 1},
		{name: "recovers", attempts: 3, errs: []error{transient, transient, nil}, wantCalls: 3},
		{name: "exhausted", attempts: 2, errs: []error{transient, transient, nil}, wantCalls: 2, wantErr: transient},
		{name: "permanent stops", attempts: 5, errs: []error{permanent, nil}, wantCalls: 1, wantErr: permanent},
		{name: "single attempt", attempts: 1, errs: []error{transient, nil}, wantCalls: 1, wantErr: transient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			got, err := Retry(context.Background(), fast(tt.attempts), func(context.Context) (string, error) {
				e := tt.errs[calls]
				calls++
				if e != nil {
					return "partial", e
				}
				return "ok", nil
			})
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "ok", got)
		})
	}
}

func TestRetry_StopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	cfg := RetryConfig{MaxAttempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour}
	cfg.OnRetry = func(int, error) { cancel() }

	_, err := Retry(ctx, cfg, func(context.Context) (int, error) {
		calls++
		return 0, NewTransientError(errors.New("503"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_OnRetryCountsAttempts(t *testing.T) {
	var seen []int
	cfg := fast(3)
	cfg.OnRetry = func(attempt int, _ error) { seen = append(seen, attempt) }

	_, _ = Retry(context.Background(), cfg, func(context.Context) (int, error) {
		return 0, NewTransientError(errors.New("overloaded"), 529)
	})
	assert.Equal(t, []int{1, 2}, seen)
}

func TestBackoff(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}.withDefaults()

	for attempt, full := range []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, time.Second, time.Second} {
		d := cfg.backoff(attempt, 0)
		assert.GreaterOrEqual(t, d, full/2, "attempt %d", attempt)
		assert.LessOrEqual(t, d, full, "attempt %d", attempt)
	}

	assert.Equal(t, 800*time.Millisecond, cfg.backoff(0, 800*time.Millisecond), "server hint wins")
	assert.Equal(t, time.Second, cfg.backoff(0, time.Minute), "hint is capped")
	assert.Equal(t, time.Second, cfg.backoff(200, time.Minute), "large attempts do not overflow")
}

func TestRetryConfig_Defaults(t *testing.T) {
	cfg := RetryConfig{}.withDefaults()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 30*time.Second, cfg.MaxBackoff)
}

func TestRetryLogger(t *testing.T) {
	log := RetryLogger("anthropic", "classify")
	assert.NotPanics(t, func() { log(1, errors.New("boom")) })
}
