package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/brand-radar/internal/cost"
	"github.com/sells-group/brand-radar/internal/model"
	"github.com/sells-group/brand-radar/internal/resilience"
)

// mockStore implements JobReader for testing.
type mockStore struct {
	jobs    []model.Job
	raws    map[string][]model.RawResponse
	listErr error
	rawErr  error
}

func (m *mockStore) ListJobs(_ context.Context, filter model.JobFilter) ([]model.Job, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := m.jobs
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *mockStore) ListRawResponses(_ context.Context, jobID string) ([]model.RawResponse, error) {
	if m.rawErr != nil {
		return nil, m.rawErr
	}
	return m.raws[jobID], nil
}

type mockCircuits map[string]resilience.CircuitState

func (m mockCircuits) CircuitStates() map[string]resilience.CircuitState { return m }

var fixedNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestCollector(st JobReader, circuits CircuitReporter) *Collector {
	calc := cost.NewCalculator(cost.Rates{
		Anthropic:  map[string]cost.ModelRate{"claude-test": {Input: 1, Output: 1}},
		Perplexity: cost.PerplexityRate{PerQuery: 0.5},
	})
	c := NewCollector(st, circuits, calc, 30*time.Minute)
	c.now = func() time.Time { return fixedNow }
	return c
}

func TestCollector_Collect(t *testing.T) {
	st := &mockStore{
		// Newest first, as the store lists them.
		jobs: []model.Job{
			{ID: "running-fresh", Status: model.JobStatusProcessing, CreatedAt: fixedNow.Add(-10 * time.Minute), UpdatedAt: fixedNow.Add(-time.Minute)},
			{ID: "running-stale", Status: model.JobStatusProcessing, CreatedAt: fixedNow.Add(-2 * time.Hour), UpdatedAt: fixedNow.Add(-90 * time.Minute)},
			{ID: "done", Status: model.JobStatusCompleted, CreatedAt: fixedNow.Add(-3 * time.Hour)},
			{ID: "failed", Status: model.JobStatusFailed, CreatedAt: fixedNow.Add(-4 * time.Hour)},
			{ID: "old", Status: model.JobStatusFailed, CreatedAt: fixedNow.Add(-48 * time.Hour)},
		},
		raws: map[string][]model.RawResponse{
			"done": {{Answers: []model.ProviderAnswer{
				{Provider: "perplexity", Usage: model.TokenUsage{}},
				{Provider: "perplexity", Usage: model.TokenUsage{}},
			}}},
			"old": {{Answers: []model.ProviderAnswer{{Provider: "perplexity"}}}},
		},
	}
	c := newTestCollector(st, mockCircuits{
		"perplexity": resilience.CircuitOpen,
		"anthropic":  resilience.CircuitClosed,
	})

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 4, snap.JobsTotal)
	assert.Equal(t, 1, snap.JobsCompleted)
	assert.Equal(t, 1, snap.JobsFailed)
	assert.Equal(t, 2, snap.JobsRunning)
	assert.Equal(t, 1, snap.JobsStale)
	assert.Equal(t, []string{"running-stale"}, snap.StaleJobIDs)
	assert.InDelta(t, 0.5, snap.FailRate, 1e-9)
	assert.InDelta(t, 1.0, snap.CostUSD, 1e-9)
	assert.Equal(t, []string{"perplexity"}, snap.OpenCircuits)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Equal(t, fixedNow, snap.CollectedAt)
}

func TestCollector_Empty(t *testing.T) {
	c := newTestCollector(&mockStore{}, nil)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.JobsTotal)
	assert.Zero(t, snap.FailRate)
	assert.Empty(t, snap.OpenCircuits)
}

func TestCollector_ListError(t *testing.T) {
	c := newTestCollector(&mockStore{listErr: errors.New("db down")}, nil)
	_, err := c.Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list jobs")
}

func TestCollector_RawResponseError(t *testing.T) {
	st := &mockStore{
		jobs:   []model.Job{{ID: "j1", Status: model.JobStatusCompleted, CreatedAt: fixedNow}},
		rawErr: errors.New("db down"),
	}
	c := newTestCollector(st, nil)
	_, err := c.Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "j1")
}
