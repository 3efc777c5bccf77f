package config

import (
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/brand-radar/internal/cost"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Gateway    GatewayConfig    `yaml:"gateway" mapstructure:"gateway"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Classifier ClassifierConfig `yaml:"classifier" mapstructure:"classifier"`
	Insights   InsightsConfig   `yaml:"insights" mapstructure:"insights"`
	Progress   ProgressConfig   `yaml:"progress" mapstructure:"progress"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings. Model answers the question
// battery; ClassifierModel serves source classification and brand grouping.
type AnthropicConfig struct {
	Key             string  `yaml:"key" mapstructure:"key"`
	Model           string  `yaml:"model" mapstructure:"model"`
	ClassifierModel string  `yaml:"classifier_model" mapstructure:"classifier_model"`
	MaxTokens       int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RatePerSec      float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst           int     `yaml:"burst" mapstructure:"burst"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key        string  `yaml:"key" mapstructure:"key"`
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url"`
	Model      string  `yaml:"model" mapstructure:"model"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst      int     `yaml:"burst" mapstructure:"burst"`
	// SearchContextSize is "low", "medium" or "high"; empty uses the API default.
	SearchContextSize string `yaml:"search_context_size" mapstructure:"search_context_size"`
}

// GatewayConfig configures provider fan-out.
type GatewayConfig struct {
	Providers               []string `yaml:"providers" mapstructure:"providers"`
	TimeoutSecs             int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	CircuitFailureThreshold int      `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetSecs        int      `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// PipelineConfig configures job execution.
type PipelineConfig struct {
	BatchSize     int    `yaml:"batch_size" mapstructure:"batch_size"`
	TemplatesPath string `yaml:"templates_path" mapstructure:"templates_path"`
}

// ClassifierConfig configures source classification.
type ClassifierConfig struct {
	BatchSize             int `yaml:"batch_size" mapstructure:"batch_size"`
	Concurrency           int `yaml:"concurrency" mapstructure:"concurrency"`
	RetryAttempts         int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryInitialBackoffMs int `yaml:"retry_initial_backoff_ms" mapstructure:"retry_initial_backoff_ms"`
	RetryMaxBackoffMs     int `yaml:"retry_max_backoff_ms" mapstructure:"retry_max_backoff_ms"`
}

// InsightsConfig holds the opportunity noise thresholds.
type InsightsConfig struct {
	MinReputationSeverity float64 `yaml:"min_reputation_severity" mapstructure:"min_reputation_severity"`
	MinCompetitiveImpact  float64 `yaml:"min_competitive_impact" mapstructure:"min_competitive_impact"`
	MinSourceCitations    int     `yaml:"min_source_citations" mapstructure:"min_source_citations"`
	MinSourceImpact       float64 `yaml:"min_source_impact" mapstructure:"min_source_impact"`
}

// ProgressConfig configures progress delivery.
type ProgressConfig struct {
	Buffer        int    `yaml:"buffer" mapstructure:"buffer"`
	NATSURL       string `yaml:"nats_url" mapstructure:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix" mapstructure:"subject_prefix"`
}

// ServerConfig configures the operator HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	Recover     bool     `yaml:"recover" mapstructure:"recover"`
}

// MonitoringConfig configures the alert checker run by serve.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	StaleAfterMins       int     `yaml:"stale_after_mins" mapstructure:"stale_after_mins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// PricingConfig overrides the built-in provider rates.
type PricingConfig struct {
	Anthropic  map[string]cost.ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity cost.PerplexityRate       `yaml:"perplexity" mapstructure:"perplexity"`
}

// Rates merges configured pricing over the defaults.
func (p PricingConfig) Rates() cost.Rates {
	rates := cost.DefaultRates()
	for name, r := range p.Anthropic {
		rates.Anthropic[name] = r
	}
	if p.Perplexity.PerQuery > 0 || p.Perplexity.Input > 0 || p.Perplexity.Output > 0 {
		rates.Perplexity = p.Perplexity
	}
	return rates
}

// Mode selects which keys Validate requires.
type Mode string

const (
	// ModeRead needs only the store.
	ModeRead Mode = "read"
	// ModeAnalyze also needs credentials for every enabled provider.
	ModeAnalyze Mode = "analyze"
)

// Validate checks that the keys needed by mode are present. All problems
// are reported together.
func (c *Config) Validate(mode Mode) error {
	var problems []string

	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		problems = append(problems, "store.driver must be postgres or sqlite")
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}

	if mode == ModeAnalyze {
		if len(c.Gateway.Providers) == 0 {
			problems = append(problems, "gateway.providers must name at least one provider")
		}
		for _, p := range c.Gateway.Providers {
			switch p {
			case "anthropic":
				if c.Anthropic.Key == "" {
					problems = append(problems, "anthropic.key is required")
				}
			case "perplexity":
				if c.Perplexity.Key == "" {
					problems = append(problems, "perplexity.key is required")
				}
				switch c.Perplexity.SearchContextSize {
				case "", "low", "medium", "high":
				default:
					problems = append(problems, "perplexity.search_context_size must be low, medium or high")
				}
			default:
				problems = append(problems, "unknown provider "+p)
			}
		}
		if c.Pipeline.BatchSize <= 0 {
			problems = append(problems, "pipeline.batch_size must be positive")
		}
		if !slices.Contains(c.Gateway.Providers, "anthropic") && c.Anthropic.Key == "" {
			zap.L().Warn("config: anthropic.key unset, classification and brand grouping use heuristics only")
		}
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BRAND_RADAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "brand-radar.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.recover", true)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.classifier_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("anthropic.rate_per_sec", 5.0)
	v.SetDefault("anthropic.burst", 5)
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("perplexity.rate_per_sec", 3.0)
	v.SetDefault("perplexity.burst", 3)
	v.SetDefault("gateway.providers", []string{"anthropic", "perplexity"})
	v.SetDefault("gateway.timeout_secs", 90)
	v.SetDefault("gateway.circuit_failure_threshold", 5)
	v.SetDefault("gateway.circuit_reset_secs", 30)
	v.SetDefault("pipeline.batch_size", 5)
	v.SetDefault("classifier.batch_size", 20)
	v.SetDefault("classifier.concurrency", 4)
	v.SetDefault("classifier.retry_attempts", 3)
	v.SetDefault("classifier.retry_initial_backoff_ms", 500)
	v.SetDefault("classifier.retry_max_backoff_ms", 8000)
	v.SetDefault("insights.min_reputation_severity", 0.3)
	v.SetDefault("insights.min_competitive_impact", 0.2)
	v.SetDefault("insights.min_source_citations", 3)
	v.SetDefault("insights.min_source_impact", 0.3)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.stale_after_mins", 60)
	v.SetDefault("progress.buffer", 32)
	v.SetDefault("progress.subject_prefix", "brandradar.jobs")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
