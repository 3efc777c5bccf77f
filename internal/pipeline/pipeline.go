// Package pipeline runs analysis jobs: ask every question of every provider,
// persist each raw response as soon as it exists, then classify, aggregate
// and score. Recovery replays the analysis stage from persisted rows only.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/brand-radar/internal/model"
	"github.com/sells-group/brand-radar/internal/progress"
	"github.com/sells-group/brand-radar/internal/questions"
	"github.com/sells-group/brand-radar/internal/store"
)

// Asker fans one prompt out to every configured provider. It records
// provider failures on the returned answers instead of failing.
type Asker interface {
	AskAll(ctx context.Context, prompt string) []model.ProviderAnswer
}

// Options configures a Pipeline.
type Options struct {
	BatchSize int
	Metrics   *Metrics
}

// Pipeline orchestrates analysis jobs.
type Pipeline struct {
	store     store.Store
	asker     Asker
	questions *questions.Set
	analyzer  *Analyzer
	sink      progress.Sink
	batchSize int
	metrics   *Metrics
}

// New creates a Pipeline. A nil sink discards progress events.
func New(st store.Store, asker Asker, qs *questions.Set, analyzer *Analyzer, sink progress.Sink, opts Options) *Pipeline {
	if sink == nil {
		sink = progress.Discard{}
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	return &Pipeline{
		store:     st,
		asker:     asker,
		questions: qs,
		analyzer:  analyzer,
		sink:      sink,
		batchSize: opts.BatchSize,
		metrics:   opts.Metrics,
	}
}

// Submit validates and persists a new job. The job is left in processing
// until Run drives it to a terminal status.
func (p *Pipeline) Submit(ctx context.Context, spec model.JobSpec) (*model.Job, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	job, err := p.store.CreateJob(ctx, spec)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create job")
	}
	zap.L().Info("pipeline: job submitted",
		zap.String("job_id", job.ID),
		zap.String("target", job.Target),
		zap.Int("markets", len(spec.Markets)),
		zap.Int("families", len(spec.Families)),
	)
	return job, nil
}

// Run drives a job to completion. Questions that already have a persisted
// raw response are skipped, so Run also resumes a partially answered job.
// Persistence errors fail the job. Context cancellation leaves the job in
// processing for recovery.
func (p *Pipeline) Run(ctx context.Context, jobID string) error {
	log := zap.L().With(zap.String("job_id", jobID))

	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return eris.Wrap(err, "pipeline: load job")
	}
	if job.Status.Terminal() {
		log.Info("pipeline: job already terminal", zap.String("status", string(job.Status)))
		return nil
	}

	if err := p.collect(ctx, job); err != nil {
		if ctx.Err() != nil {
			log.Warn("pipeline: run interrupted, job left for recovery", zap.Error(err))
			return err
		}
		return p.fail(ctx, job.ID, err)
	}
	return p.finish(ctx, job)
}

// collect asks every pending question and persists each response.
func (p *Pipeline) collect(ctx context.Context, job *model.Job) error {
	log := zap.L().With(zap.String("job_id", job.ID))

	markets, err := p.store.ListMarkets(ctx, job.ID)
	if err != nil {
		return eris.Wrap(err, "pipeline: load markets")
	}
	families, err := p.store.ListCategoryFamilies(ctx, job.ID)
	if err != nil {
		return eris.Wrap(err, "pipeline: load families")
	}
	qs := p.questions.Build(questions.InputFor(job, markets, families))
	total := len(qs)
	if err := p.store.SetJobTotal(ctx, job.ID, total); err != nil {
		return eris.Wrap(err, "pipeline: set total")
	}

	existing, err := p.store.RawResponseKeys(ctx, job.ID)
	if err != nil {
		return eris.Wrap(err, "pipeline: load existing responses")
	}
	var pending []model.Question
	for _, q := range qs {
		if !existing[model.RawKey{QuestionID: q.ID, Kind: q.Kind}] {
			pending = append(pending, q)
		}
	}

	processed := total - len(pending)
	log.Info("pipeline: collecting responses",
		zap.Int("total", total),
		zap.Int("already_persisted", processed),
		zap.Int("batch_size", p.batchSize),
	)

	var mu sync.Mutex
	for start := 0; start < len(pending); start += p.batchSize {
		batch := pending[start:min(start+p.batchSize, len(pending))]

		g, gctx := errgroup.WithContext(ctx)
		for _, q := range batch {
			g.Go(func() error {
				if err := p.answer(gctx, job.ID, q); err != nil {
					return err
				}
				// Reported under the lock so stored and published
				// progress never goes backwards.
				mu.Lock()
				defer mu.Unlock()
				processed++
				p.reportProgress(ctx, job.ID, processed, total)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// answer asks one question and persists the result before anything else
// sees it.
func (p *Pipeline) answer(ctx context.Context, jobID string, q model.Question) error {
	start := time.Now()
	answers := p.asker.AskAll(ctx, q.Text)
	if err := ctx.Err(); err != nil {
		return eris.Wrapf(err, "pipeline: ask %s", q.ID)
	}

	inserted, err := p.store.InsertRawResponse(ctx, model.RawResponse{
		JobID:        jobID,
		QuestionID:   q.ID,
		Kind:         q.Kind,
		QuestionText: q.Text,
		Answers:      answers,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return eris.Wrapf(err, "pipeline: persist response %s", q.ID)
	}
	p.metrics.response(inserted)

	failed := 0
	for _, a := range answers {
		if a.Failed {
			failed++
		}
	}
	zap.L().Debug("pipeline: response persisted",
		zap.String("job_id", jobID),
		zap.String("question_id", q.ID),
		zap.Int("failed_providers", failed),
		zap.Bool("inserted", inserted),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// reportProgress is best effort: errors are logged, never returned.
func (p *Pipeline) reportProgress(ctx context.Context, jobID string, processed, total int) {
	pct := 0
	if total > 0 {
		// 100 is reserved for completed jobs.
		pct = min(processed*100/total, 99)
	}
	if err := p.store.UpdateJobProgress(ctx, jobID, processed, pct); err != nil {
		zap.L().Warn("pipeline: update progress", zap.String("job_id", jobID), zap.Error(err))
	}
	p.sink.Publish(progress.Event{
		JobID:    jobID,
		Type:     progress.TypeProgress,
		Progress: pct,
		Message:  fmt.Sprintf("%d/%d questions answered", processed, total),
		At:       time.Now().UTC(),
	})
}

// finish runs the analysis stage and completes the job.
func (p *Pipeline) finish(ctx context.Context, job *model.Job) error {
	p.sink.Publish(progress.Event{
		JobID:    job.ID,
		Type:     progress.TypeStage,
		Progress: 99,
		Message:  "analyzing responses",
		At:       time.Now().UTC(),
	})

	report, err := p.analyzer.Analyze(ctx, job)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return p.fail(ctx, job.ID, err)
	}
	report.Cost.Log(job.ID)

	if err := p.store.UpdateJobStatus(ctx, job.ID, model.JobStatusCompleted, ""); err != nil {
		return eris.Wrap(err, "pipeline: mark completed")
	}
	p.metrics.job(model.JobStatusCompleted)
	p.sink.Publish(progress.Event{
		JobID:    job.ID,
		Type:     progress.TypeCompleted,
		Progress: 100,
		Message:  fmt.Sprintf("%d opportunities", report.Opportunities),
		At:       time.Now().UTC(),
	})
	zap.L().Info("pipeline: job completed",
		zap.String("job_id", job.ID),
		zap.Int("opportunities", report.Opportunities),
	)
	return nil
}

// fail marks the job failed and returns cause.
func (p *Pipeline) fail(ctx context.Context, jobID string, cause error) error {
	zap.L().Error("pipeline: job failed", zap.String("job_id", jobID), zap.Error(cause))
	if err := p.store.UpdateJobStatus(context.WithoutCancel(ctx), jobID, model.JobStatusFailed, cause.Error()); err != nil {
		zap.L().Error("pipeline: mark failed", zap.String("job_id", jobID), zap.Error(err))
	}
	p.metrics.job(model.JobStatusFailed)
	p.sink.Publish(progress.Event{
		JobID:   jobID,
		Type:    progress.TypeFailed,
		Message: cause.Error(),
		At:      time.Now().UTC(),
	})
	return cause
}
