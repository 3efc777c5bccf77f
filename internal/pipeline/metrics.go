package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sells-group/brand-radar/internal/model"
)

// Metrics counts job outcomes and persisted responses.
type Metrics struct {
	jobs      *prometheus.CounterVec
	responses *prometheus.CounterVec
}

// NewMetrics registers pipeline collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brand_radar",
			Subsystem: "pipeline",
			Name:      "jobs_total",
			Help:      "Jobs that reached a terminal status.",
		}, []string{"status"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brand_radar",
			Subsystem: "pipeline",
			Name:      "raw_responses_total",
			Help:      "Raw response inserts by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.jobs, m.responses)
	return m
}

func (m *Metrics) job(status model.JobStatus) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) response(inserted bool) {
	if m == nil {
		return
	}
	outcome := "inserted"
	if !inserted {
		outcome = "duplicate"
	}
	m.responses.WithLabelValues(outcome).Inc()
}
