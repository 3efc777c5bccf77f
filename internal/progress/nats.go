package progress

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Publisher is the subset of *nats.Conn the sink needs.
type Publisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSSink publishes events as JSON to <prefix>.<job id>.progress.
type NATSSink struct {
	pub    Publisher
	prefix string
}

// NewNATSSink creates a sink over an established connection.
func NewNATSSink(pub Publisher, prefix string) *NATSSink {
	if prefix == "" {
		prefix = "brandradar.jobs"
	}
	return &NATSSink{pub: pub, prefix: prefix}
}

// Connect dials url and returns a sink plus the connection to drain on
// shutdown.
func Connect(url, prefix string) (*NATSSink, *nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name("brand-radar"))
	if err != nil {
		return nil, nil, eris.Wrapf(err, "progress: connect nats %s", url)
	}
	return NewNATSSink(nc, prefix), nc, nil
}

// Subject returns the subject events for jobID are published on.
func (s *NATSSink) Subject(jobID string) string {
	return s.prefix + "." + jobID + ".progress"
}

// Publish implements Sink. Failures are logged and dropped.
func (s *NATSSink) Publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		zap.L().Warn("progress: marshal event", zap.Error(err))
		return
	}
	if err := s.pub.PublishMsg(&nats.Msg{Subject: s.Subject(ev.JobID), Data: data}); err != nil {
		zap.L().Warn("progress: nats publish failed",
			zap.String("job_id", ev.JobID),
			zap.Error(err),
		)
	}
}
