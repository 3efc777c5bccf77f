package monitoring

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/brand-radar/internal/config"
	"github.com/sells-group/brand-radar/internal/model"
	"github.com/sells-group/brand-radar/internal/resilience"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	collector := newTestCollector(&mockStore{}, nil)
	alerter := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.10})
	checker := NewChecker(collector, alerter, config.MonitoringConfig{
		CheckIntervalSecs:   1,
		LookbackWindowHours: 24,
	})

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	collector := newTestCollector(&mockStore{}, nil)
	alerter := NewAlerter(config.MonitoringConfig{})

	checker := NewChecker(collector, alerter, config.MonitoringConfig{})
	assert.Equal(t, 24, checker.lookback())

	// A cancelled context returns before the first check.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}

func TestChecker_CheckSendsAlerts(t *testing.T) {
	rec := &webhookRecorder{}
	ts := httptest.NewServer(rec)
	defer ts.Close()

	st := &mockStore{jobs: []model.Job{
		{ID: "stuck", Status: model.JobStatusProcessing, CreatedAt: fixedNow.Add(-3 * time.Hour), UpdatedAt: fixedNow.Add(-2 * time.Hour)},
	}}
	cfg := config.MonitoringConfig{WebhookURL: ts.URL, LookbackWindowHours: 24}
	checker := NewChecker(newTestCollector(st, mockCircuits{"anthropic": resilience.CircuitHalfOpen}), NewAlerter(cfg), cfg)

	alerts := checker.Check(context.Background())
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertStaleJobs, alerts[0].Type)
	require.Equal(t, 1, rec.count())
	assert.Equal(t, "stale_jobs:stuck", rec.payloads[0].Alerts[0].Key)

	// A second pass sees the same stuck job and stays quiet.
	assert.Len(t, checker.Check(context.Background()), 1)
	assert.Equal(t, 1, rec.count())
}

func TestChecker_CheckCollectError(t *testing.T) {
	st := &mockStore{listErr: assert.AnError}
	cfg := config.MonitoringConfig{}
	checker := NewChecker(newTestCollector(st, nil), NewAlerter(cfg), cfg)
	assert.Nil(t, checker.Check(context.Background()))
}
