// Package gateway asks every configured model provider the same question
// concurrently. Provider failures are recorded on the answer and never
// returned as errors, so one provider going down only thins the data.
package gateway

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/brand-radar/internal/model"
	"github.com/sells-group/brand-radar/internal/resilience"
)

// Limit is a per-provider token bucket.
type Limit struct {
	PerSec float64
	Burst  int
}

// Options configures a Gateway.
type Options struct {
	// Timeout bounds each provider call. Zero means 90s.
	Timeout time.Duration
	// Limits keyed by provider name. Providers without an entry are not
	// rate limited.
	Limits  map[string]Limit
	Circuit resilience.CircuitBreakerConfig
	Metrics *Metrics
}

// Gateway fans a question out to its providers.
type Gateway struct {
	providers []Provider
	limiters  map[string]*rate.Limiter
	breakers  *resilience.Breakers
	timeout   time.Duration
	metrics   *Metrics
}

// New creates a Gateway. Provider order is preserved in every answer list.
func New(providers []Provider, opts Options) *Gateway {
	if opts.Timeout <= 0 {
		opts.Timeout = 90 * time.Second
	}
	g := &Gateway{
		providers: providers,
		limiters:  make(map[string]*rate.Limiter, len(providers)),
		timeout:   opts.Timeout,
		metrics:   opts.Metrics,
	}
	for _, p := range providers {
		if l, ok := opts.Limits[p.Name()]; ok && l.PerSec > 0 {
			burst := l.Burst
			if burst <= 0 {
				burst = 1
			}
			g.limiters[p.Name()] = rate.NewLimiter(rate.Limit(l.PerSec), burst)
		}
	}

	circuit := opts.Circuit
	circuit.ShouldTrip = func(err error) bool { return !errors.Is(err, context.Canceled) }
	g.breakers = resilience.NewBreakers(circuit, func(name string, from, to resilience.CircuitState) {
		zap.L().Warn("gateway: circuit state change",
			zap.String("provider", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
		g.metrics.setCircuit(name, to)
	})
	return g
}

// Providers returns the provider names in call order.
func (g *Gateway) Providers() []string {
	names := make([]string, len(g.providers))
	for i, p := range g.providers {
		names[i] = p.Name()
	}
	return names
}

// CircuitStates reports the breaker state of each provider that has been
// called at least once.
func (g *Gateway) CircuitStates() map[string]resilience.CircuitState {
	return g.breakers.States()
}

// AskAll sends prompt to every provider at once and returns one answer per
// provider, in provider order.
func (g *Gateway) AskAll(ctx context.Context, prompt string) []model.ProviderAnswer {
	answers := make([]model.ProviderAnswer, len(g.providers))
	var eg errgroup.Group
	for i, p := range g.providers {
		eg.Go(func() error {
			answers[i] = g.ask(ctx, p, prompt)
			return nil
		})
	}
	_ = eg.Wait()
	return answers
}

func (g *Gateway) ask(ctx context.Context, p Provider, prompt string) model.ProviderAnswer {
	name := p.Name()
	start := time.Now()

	ans, err := g.call(ctx, p, prompt)
	ans.Provider = name
	ans.DurationMs = time.Since(start).Milliseconds()

	outcome := "ok"
	if err != nil {
		ans.Failed = true
		ans.Error = err.Error()
		ans.Raw = ""
		outcome = "error"
		if errors.Is(err, resilience.ErrCircuitOpen) {
			outcome = "circuit_open"
		}
		zap.L().Warn("gateway: provider call failed",
			zap.String("provider", name),
			zap.Int64("duration_ms", ans.DurationMs),
			zap.Error(err),
		)
	}
	g.metrics.observe(name, outcome, time.Since(start).Seconds(), ans.Usage.InputTokens, ans.Usage.OutputTokens)
	return ans
}

func (g *Gateway) call(ctx context.Context, p Provider, prompt string) (model.ProviderAnswer, error) {
	if lim := g.limiters[p.Name()]; lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return model.ProviderAnswer{}, err
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return resilience.Guard(callCtx, g.breakers.Get(p.Name()), func(ctx context.Context) (model.ProviderAnswer, error) {
		return p.Ask(ctx, prompt)
	})
}
