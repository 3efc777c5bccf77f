package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/brand-radar/internal/config"
	"github.com/sells-group/brand-radar/internal/model"
	anthropicpkg "github.com/sells-group/brand-radar/pkg/anthropic"
)

func TestBuildProviders_KeepsConfiguredOrder(t *testing.T) {
	c := &config.Config{
		Anthropic:  config.AnthropicConfig{Key: "sk-test", Model: "claude-sonnet-4-5-20250929", MaxTokens: 1024},
		Perplexity: config.PerplexityConfig{Key: "pplx-test", BaseURL: "http://localhost", Model: "sonar-pro"},
		Gateway:    config.GatewayConfig{Providers: []string{"perplexity", "anthropic"}},
	}

	providers := buildProviders(c, anthropicpkg.NewClient(c.Anthropic.Key))
	require.Len(t, providers, 2)
	assert.Equal(t, "perplexity", providers[0].Name())
	assert.Equal(t, "anthropic", providers[1].Name())
}

func TestOpenStore_SQLite(t *testing.T) {
	prev := cfg
	t.Cleanup(func() { cfg = prev })
	cfg = &config.Config{Store: config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "open.db")}}

	st, err := openStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	jobs, err := st.ListJobs(context.Background(), model.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestOpenStore_RejectsUnknownDriver(t *testing.T) {
	prev := cfg
	t.Cleanup(func() { cfg = prev })
	cfg = &config.Config{Store: config.StoreConfig{Driver: "mysql", DatabaseURL: "x"}}

	_, err := openStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}
