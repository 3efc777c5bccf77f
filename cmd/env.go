package main

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/brand-radar/internal/aggregate"
	"github.com/sells-group/brand-radar/internal/classify"
	"github.com/sells-group/brand-radar/internal/config"
	"github.com/sells-group/brand-radar/internal/cost"
	"github.com/sells-group/brand-radar/internal/gateway"
	"github.com/sells-group/brand-radar/internal/insights"
	"github.com/sells-group/brand-radar/internal/pipeline"
	"github.com/sells-group/brand-radar/internal/progress"
	"github.com/sells-group/brand-radar/internal/questions"
	"github.com/sells-group/brand-radar/internal/resilience"
	"github.com/sells-group/brand-radar/internal/store"
	anthropicpkg "github.com/sells-group/brand-radar/pkg/anthropic"
	"github.com/sells-group/brand-radar/pkg/perplexity"
)

// pipelineEnv holds the store, the pipeline and everything the analyze,
// resume and serve commands share.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Gateway  *gateway.Gateway
	Hub      *progress.Hub
	Registry *prometheus.Registry
	nats     *nats.Conn
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Hub != nil {
		pe.Hub.Close()
	}
	if pe.nats != nil {
		if err := pe.nats.Drain(); err != nil {
			zap.L().Warn("nats: drain failed", zap.Error(err))
		}
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initStore opens the configured store backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "brand-radar.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore validates read-mode config, opens the store and migrates it.
// Callers should defer Close.
func openStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate(config.ModeRead); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initPipeline sets up the store, provider clients, classifier, grouper and
// progress sinks, and builds the Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if err := cfg.Validate(config.ModeAnalyze); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	qs, err := questions.Load(cfg.Pipeline.TemplatesPath)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var anthropicClient anthropicpkg.Client
	if cfg.Anthropic.Key != "" {
		anthropicClient = anthropicpkg.NewClient(cfg.Anthropic.Key)
	}

	gw := gateway.New(buildProviders(cfg, anthropicClient), gateway.Options{
		Timeout: time.Duration(cfg.Gateway.TimeoutSecs) * time.Second,
		Limits: map[string]gateway.Limit{
			gateway.ProviderAnthropic:  {PerSec: cfg.Anthropic.RatePerSec, Burst: cfg.Anthropic.Burst},
			gateway.ProviderPerplexity: {PerSec: cfg.Perplexity.RatePerSec, Burst: cfg.Perplexity.Burst},
		},
		Circuit: resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.Gateway.CircuitFailureThreshold,
			ResetTimeout:     time.Duration(cfg.Gateway.CircuitResetSecs) * time.Second,
		},
		Metrics: gateway.NewMetrics(reg),
	})

	classifier := classify.New(anthropicClient, classify.Options{
		Model:       cfg.Anthropic.ClassifierModel,
		BatchSize:   cfg.Classifier.BatchSize,
		Concurrency: cfg.Classifier.Concurrency,
		Retry: resilience.RetryConfig{
			MaxAttempts:    cfg.Classifier.RetryAttempts,
			InitialBackoff: time.Duration(cfg.Classifier.RetryInitialBackoffMs) * time.Millisecond,
			MaxBackoff:     time.Duration(cfg.Classifier.RetryMaxBackoffMs) * time.Millisecond,
		},
		Metrics: classify.NewMetrics(reg),
	})

	var grouper aggregate.Grouper = aggregate.SubstringGrouper{}
	if anthropicClient != nil {
		grouper = aggregate.NewModelGrouper(anthropicClient, cfg.Anthropic.ClassifierModel)
	}

	analyzer := pipeline.NewAnalyzer(st, classifier, grouper,
		insights.New(cfg.Insights), cost.NewCalculator(cfg.Pricing.Rates()))

	env := &pipelineEnv{
		Store:    st,
		Gateway:  gw,
		Hub:      progress.NewHub(cfg.Progress.Buffer),
		Registry: reg,
	}

	sinks := progress.Multi{env.Hub}
	if cfg.Progress.NATSURL != "" {
		ns, nc, err := progress.Connect(cfg.Progress.NATSURL, cfg.Progress.SubjectPrefix)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.nats = nc
		sinks = append(sinks, ns)
	}

	env.Pipeline = pipeline.New(st, gw, qs, analyzer, sinks, pipeline.Options{
		BatchSize: cfg.Pipeline.BatchSize,
		Metrics:   pipeline.NewMetrics(reg),
	})

	zap.L().Info("pipeline environment ready",
		zap.Strings("providers", gw.Providers()),
		zap.String("store", cfg.Store.Driver),
		zap.Bool("model_classifier", anthropicClient != nil),
		zap.Bool("nats", env.nats != nil),
	)
	return env, nil
}

// buildProviders returns gateway providers in configured order. Validate has
// already rejected unknown names and missing keys.
func buildProviders(c *config.Config, anthropicClient anthropicpkg.Client) []gateway.Provider {
	var providers []gateway.Provider
	for _, name := range c.Gateway.Providers {
		switch name {
		case gateway.ProviderAnthropic:
			providers = append(providers, gateway.NewAnthropic(anthropicClient, c.Anthropic.Model, c.Anthropic.MaxTokens))
		case gateway.ProviderPerplexity:
			pc := perplexity.NewClient(c.Perplexity.Key,
				perplexity.WithBaseURL(c.Perplexity.BaseURL),
				perplexity.WithModel(c.Perplexity.Model),
				perplexity.WithSearchContextSize(c.Perplexity.SearchContextSize))
			providers = append(providers, gateway.NewPerplexity(pc, c.Perplexity.Model))
		}
	}
	return providers
}
