// Package resilience provides the retry, transient-error and circuit breaker
// primitives used around model provider calls.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState is a breaker position.
type CircuitState int

const (
	// CircuitClosed lets calls through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the cooldown has elapsed.
	CircuitOpen
	// CircuitHalfOpen admits a single probe call.
	CircuitHalfOpen
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s CircuitState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// ErrCircuitOpen rejects a call without reaching the provider.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls a breaker. Zero values take defaults.
type CircuitBreakerConfig struct {
	// FailureThreshold is the run of consecutive failures that opens the
	// circuit. Default 5.
	FailureThreshold int
	// ResetTimeout is the cooldown before a probe is admitted. Default 30s.
	ResetTimeout time.Duration
	// ShouldTrip filters which errors count. Nil counts all of them.
	ShouldTrip func(err error) bool
	// OnStateChange runs on every transition while the breaker lock is held.
	OnStateChange func(from, to CircuitState)
}

// CircuitFromSettings builds a config from integer settings.
func CircuitFromSettings(failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: failureThreshold,
		ResetTimeout:     time.Duration(resetTimeoutSecs) * time.Second,
	}
}

// CircuitBreaker guards a single provider. After the cooldown exactly one
// probe is let through; everything else keeps failing fast until the probe
// reports back.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	probing  bool
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Guard runs fn through cb, failing fast with ErrCircuitOpen when the
// circuit is open or a probe is already in flight.
func Guard[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	probe, err := cb.admit()
	if err != nil {
		var zero T
		return zero, err
	}
	val, err := fn(ctx)
	cb.report(probe, err)
	return val, err
}

// State returns the current position. An open circuit whose cooldown has
// elapsed reports half-open.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return false, nil
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		cb.setState(CircuitHalfOpen)
	}
	if cb.probing {
		return false, ErrCircuitOpen
	}
	cb.probing = true
	return true, nil
}

func (cb *CircuitBreaker) report(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probing = false
	}
	tripped := err != nil && (cb.cfg.ShouldTrip == nil || cb.cfg.ShouldTrip(err))

	switch {
	case !tripped && probe:
		cb.failures = 0
		cb.setState(CircuitClosed)
	case !tripped:
		if cb.state == CircuitClosed {
			cb.failures = 0
		}
	case probe:
		cb.open()
	case cb.state == CircuitClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.open()
		}
	}
}

func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.now()
	cb.setState(CircuitOpen)
}

func (cb *CircuitBreaker) setState(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}

// Breakers holds one breaker per provider name.
type Breakers struct {
	cfg      CircuitBreakerConfig
	onChange func(name string, from, to CircuitState)

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewBreakers creates a per-provider registry. onChange may be nil.
func NewBreakers(cfg CircuitBreakerConfig, onChange func(name string, from, to CircuitState)) *Breakers {
	return &Breakers{cfg: cfg, onChange: onChange, breakers: make(map[string]*CircuitBreaker)}
}

// Get returns the breaker for name, creating it on first use.
func (b *Breakers) Get(name string) *CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb := b.breakers[name]; cb != nil {
		return cb
	}
	cfg := b.cfg
	if b.onChange != nil {
		cfg.OnStateChange = func(from, to CircuitState) { b.onChange(name, from, to) }
	}
	cb := NewCircuitBreaker(cfg)
	b.breakers[name] = cb
	return cb
}

// States snapshots every breaker created so far.
func (b *Breakers) States() map[string]CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]CircuitState, len(b.breakers))
	for name, cb := range b.breakers {
		out[name] = cb.State()
	}
	return out
}
