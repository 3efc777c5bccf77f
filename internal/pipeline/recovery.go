package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/brand-radar/internal/model"
	"github.com/sells-group/brand-radar/internal/progress"
)

// ErrNoUsableResponses fails a recovered job whose providers never answered.
var ErrNoUsableResponses = eris.New("pipeline: no usable responses to recover from")

// RecoveryReport summarises one sweep.
type RecoveryReport struct {
	Candidates int
	Recovered  []string
	Failed     []string
	Skipped    []string
}

// Recover finds interrupted jobs and replays their analysis stage from
// persisted responses. Jobs with complete results are never replayed.
func (p *Pipeline) Recover(ctx context.Context) (*RecoveryReport, error) {
	candidates, err := p.store.ListResumeCandidates(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list resume candidates")
	}

	report := &RecoveryReport{Candidates: len(candidates)}
	for _, c := range candidates {
		if !c.Resumable() {
			report.Skipped = append(report.Skipped, c.JobID)
			continue
		}
		if err := p.Resume(ctx, c.JobID, false); err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failed = append(report.Failed, c.JobID)
			continue
		}
		report.Recovered = append(report.Recovered, c.JobID)
	}

	zap.L().Info("pipeline: recovery sweep complete",
		zap.Int("candidates", report.Candidates),
		zap.Int("recovered", len(report.Recovered)),
		zap.Int("failed", len(report.Failed)),
		zap.Int("skipped", len(report.Skipped)),
	)
	return report, nil
}

// Resume finishes one processing job. With ask set the missing questions are
// asked first, exactly as Run would; otherwise only persisted responses are
// analysed.
func (p *Pipeline) Resume(ctx context.Context, jobID string, ask bool) error {
	if ask {
		return p.Run(ctx, jobID)
	}
	log := zap.L().With(zap.String("job_id", jobID))

	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return eris.Wrap(err, "pipeline: load job")
	}
	if job.Status.Terminal() {
		log.Info("pipeline: job already terminal", zap.String("status", string(job.Status)))
		return nil
	}

	raws, err := p.store.ListRawResponses(ctx, jobID)
	if err != nil {
		return eris.Wrap(err, "pipeline: load raw responses")
	}
	if !anyUsable(raws) {
		return p.fail(ctx, jobID, ErrNoUsableResponses)
	}

	log.Info("pipeline: recovering job", zap.Int("raw_responses", len(raws)))
	p.sink.Publish(progress.Event{
		JobID:    jobID,
		Type:     progress.TypeStage,
		Progress: job.Progress,
		Message:  "recovering from persisted responses",
		At:       time.Now().UTC(),
	})
	return p.finish(ctx, job)
}

func anyUsable(raws []model.RawResponse) bool {
	for _, r := range raws {
		if r.Usable() {
			return true
		}
	}
	return false
}
