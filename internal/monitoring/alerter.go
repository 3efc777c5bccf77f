package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/brand-radar/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertJobFailureRate AlertType = "job_failure_rate"
	AlertStaleJobs      AlertType = "stale_jobs"
	AlertCircuitOpen    AlertType = "provider_circuit_open"
	AlertCostOverrun    AlertType = "cost_overrun"
)

// Alert is one breached threshold. Key identifies the condition across
// checks: the same key is only delivered again after it has cleared.
type Alert struct {
	Key       string         `json:"key"`
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// WebhookPayload is the body posted to the webhook, one per check.
type WebhookPayload struct {
	Service string  `json:"service"`
	Alerts  []Alert `json:"alerts"`
}

// minFinishedJobs is the sample size below which the failure rate is noise.
const minFinishedJobs = 5

type rule func(cfg config.MonitoringConfig, snap *MetricsSnapshot) *Alert

var rules = []rule{failureRateRule, staleJobsRule, circuitRule, costRule}

// Alerter turns snapshots into alerts and delivers new ones to a webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client

	mu     sync.Mutex
	active map[string]bool
}

// NewAlerter creates an Alerter for the given thresholds.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		active: make(map[string]bool),
	}
}

// Evaluate checks the snapshot against every rule.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	for _, r := range rules {
		if alert := r(a.cfg, snap); alert != nil {
			alert.Timestamp = snap.CollectedAt
			alerts = append(alerts, *alert)
		}
	}
	return alerts
}

// Notify posts the alerts whose keys were not already firing and returns
// how many were delivered. Keys missing from alerts are cleared so they fire
// again on recurrence. Undelivered alerts stay pending for the next check.
func (a *Alerter) Notify(ctx context.Context, alerts []Alert) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	current := make(map[string]bool, len(alerts))
	var fresh []Alert
	for _, al := range alerts {
		current[al.Key] = true
		if !a.active[al.Key] {
			fresh = append(fresh, al)
		}
	}
	for key := range a.active {
		if !current[key] {
			delete(a.active, key)
		}
	}

	if len(fresh) == 0 || a.cfg.WebhookURL == "" {
		return 0
	}
	if err := a.post(ctx, WebhookPayload{Service: "brand-radar", Alerts: fresh}); err != nil {
		zap.L().Error("monitoring: failed to deliver alerts", zap.Int("alerts", len(fresh)), zap.Error(err))
		return 0
	}
	for _, al := range fresh {
		a.active[al.Key] = true
		zap.L().Info("monitoring: alert sent",
			zap.String("key", al.Key),
			zap.String("severity", al.Severity),
		)
	}
	return len(fresh)
}

func (a *Alerter) post(ctx context.Context, payload WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alerts")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func failureRateRule(cfg config.MonitoringConfig, snap *MetricsSnapshot) *Alert {
	finished := snap.JobsCompleted + snap.JobsFailed
	if finished < minFinishedJobs || cfg.FailureRateThreshold <= 0 || snap.FailRate <= cfg.FailureRateThreshold {
		return nil
	}
	return &Alert{
		Key:      string(AlertJobFailureRate),
		Type:     AlertJobFailureRate,
		Severity: "high",
		Message: fmt.Sprintf("%.1f%% of jobs failed in the last %dh (%d of %d), threshold %.1f%%",
			snap.FailRate*100, snap.LookbackHours, snap.JobsFailed, finished, cfg.FailureRateThreshold*100),
		Details: map[string]any{
			"failure_rate": snap.FailRate,
			"threshold":    cfg.FailureRateThreshold,
			"failed":       snap.JobsFailed,
			"finished":     finished,
		},
	}
}

// staleJobsRule keys on the job set so a newly stuck job alerts again.
func staleJobsRule(_ config.MonitoringConfig, snap *MetricsSnapshot) *Alert {
	if len(snap.StaleJobIDs) == 0 {
		return nil
	}
	ids := slices.Sorted(slices.Values(snap.StaleJobIDs))
	return &Alert{
		Key:      string(AlertStaleJobs) + ":" + strings.Join(ids, ","),
		Type:     AlertStaleJobs,
		Severity: "medium",
		Message:  fmt.Sprintf("%d job(s) processing without progress; run a recovery sweep", len(ids)),
		Details: map[string]any{
			"job_ids": ids,
			"running": snap.JobsRunning,
		},
	}
}

func circuitRule(_ config.MonitoringConfig, snap *MetricsSnapshot) *Alert {
	if len(snap.OpenCircuits) == 0 {
		return nil
	}
	names := strings.Join(snap.OpenCircuits, ", ")
	return &Alert{
		Key:      string(AlertCircuitOpen) + ":" + strings.Join(snap.OpenCircuits, ","),
		Type:     AlertCircuitOpen,
		Severity: "high",
		Message:  "Provider circuit open: " + names,
		Details:  map[string]any{"providers": snap.OpenCircuits},
	}
}

func costRule(cfg config.MonitoringConfig, snap *MetricsSnapshot) *Alert {
	if cfg.CostThresholdUSD <= 0 || snap.CostUSD <= cfg.CostThresholdUSD {
		return nil
	}
	return &Alert{
		Key:      string(AlertCostOverrun),
		Type:     AlertCostOverrun,
		Severity: "high",
		Message: fmt.Sprintf("Provider spend $%.2f exceeds $%.2f over the last %dh",
			snap.CostUSD, cfg.CostThresholdUSD, snap.LookbackHours),
		Details: map[string]any{
			"cost_usd":      snap.CostUSD,
			"threshold_usd": cfg.CostThresholdUSD,
			"jobs_total":    snap.JobsTotal,
		},
	}
}
