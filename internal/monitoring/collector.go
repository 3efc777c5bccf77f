package monitoring

import (
	"context"
	"slices"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/brand-radar/internal/cost"
	"github.com/sells-group/brand-radar/internal/model"
	"github.com/sells-group/brand-radar/internal/resilience"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Jobs created within the lookback window.
	JobsTotal     int     `json:"jobs_total"`
	JobsCompleted int     `json:"jobs_completed"`
	JobsFailed    int     `json:"jobs_failed"`
	JobsRunning   int     `json:"jobs_running"`
	JobsStale     int     `json:"jobs_stale"`
	FailRate      float64 `json:"fail_rate"`
	CostUSD       float64 `json:"cost_usd"`

	StaleJobIDs  []string `json:"stale_job_ids,omitempty"`
	OpenCircuits []string `json:"open_circuits,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// JobReader is the part of the store the collector reads.
type JobReader interface {
	ListJobs(ctx context.Context, filter model.JobFilter) ([]model.Job, error)
	ListRawResponses(ctx context.Context, jobID string) ([]model.RawResponse, error)
}

// CircuitReporter reports per-provider breaker states.
type CircuitReporter interface {
	CircuitStates() map[string]resilience.CircuitState
}

// Collector gathers metrics from the store and the gateway.
type Collector struct {
	store      JobReader
	circuits   CircuitReporter
	calc       *cost.Calculator
	staleAfter time.Duration
	now        func() time.Time
}

// NewCollector creates a new metrics collector. circuits may be nil.
func NewCollector(st JobReader, circuits CircuitReporter, calc *cost.Calculator, staleAfter time.Duration) *Collector {
	if calc == nil {
		calc = cost.NewCalculator(cost.DefaultRates())
	}
	if staleAfter <= 0 {
		staleAfter = time.Hour
	}
	return &Collector{
		store:      st,
		circuits:   circuits,
		calc:       calc,
		staleAfter: staleAfter,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// maxJobs bounds one collection pass.
const maxJobs = 1000

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	// Jobs are listed newest first, so the window ends at the first older job.
	jobs, err := c.store.ListJobs(ctx, model.JobFilter{Limit: maxJobs})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list jobs")
	}

	for _, j := range jobs {
		if j.CreatedAt.Before(cutoff) {
			break
		}
		snap.JobsTotal++
		switch j.Status {
		case model.JobStatusCompleted:
			snap.JobsCompleted++
		case model.JobStatusFailed:
			snap.JobsFailed++
		case model.JobStatusProcessing:
			snap.JobsRunning++
			if now.Sub(j.UpdatedAt) > c.staleAfter {
				snap.JobsStale++
				snap.StaleJobIDs = append(snap.StaleJobIDs, j.ID)
			}
		}

		raws, err := c.store.ListRawResponses(ctx, j.ID)
		if err != nil {
			return nil, eris.Wrapf(err, "monitoring: list raw responses for %s", j.ID)
		}
		snap.CostUSD += c.calc.Summarize(raws).TotalUSD
	}

	if finished := snap.JobsCompleted + snap.JobsFailed; finished > 0 {
		snap.FailRate = float64(snap.JobsFailed) / float64(finished)
	}

	if c.circuits != nil {
		for name, state := range c.circuits.CircuitStates() {
			if state == resilience.CircuitOpen {
				snap.OpenCircuits = append(snap.OpenCircuits, name)
			}
		}
		slices.Sort(snap.OpenCircuits)
	}

	return snap, nil
}
