package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/brand-radar/internal/aggregate"
	"github.com/sells-group/brand-radar/internal/classify"
	"github.com/sells-group/brand-radar/internal/cost"
	"github.com/sells-group/brand-radar/internal/insights"
	"github.com/sells-group/brand-radar/internal/model"
	"github.com/sells-group/brand-radar/internal/store"
)

// Analyzer is the post-collection stage shared by live runs and recovery:
// collect and classify sources, aggregate every scope, score opportunities
// and persist all of it. It reads nothing but persisted rows.
type Analyzer struct {
	store      store.Store
	classifier *classify.Classifier
	grouper    aggregate.Grouper
	engine     *insights.Engine
	costCalc   *cost.Calculator
}

// NewAnalyzer creates an Analyzer. Nil dependencies take their defaults: a
// heuristics-only classifier, the substring grouper and default thresholds.
func NewAnalyzer(st store.Store, classifier *classify.Classifier, grouper aggregate.Grouper, engine *insights.Engine, costCalc *cost.Calculator) *Analyzer {
	if grouper == nil {
		grouper = aggregate.SubstringGrouper{}
	}
	if classifier == nil {
		classifier = classify.New(nil, classify.Options{})
	}
	if engine == nil {
		engine = insights.New(insights.DefaultConfig())
	}
	if costCalc == nil {
		costCalc = cost.NewCalculator(cost.DefaultRates())
	}
	return &Analyzer{store: st, classifier: classifier, grouper: grouper, engine: engine, costCalc: costCalc}
}

// Report summarises one analysis pass.
type Report struct {
	Responses     int
	Usable        int
	Sources       int
	Results       int
	Opportunities int
	Cost          cost.Summary
}

// Analyze runs the analysis stage for a job. Only persistence errors are
// returned.
func (a *Analyzer) Analyze(ctx context.Context, job *model.Job) (*Report, error) {
	log := zap.L().With(zap.String("job_id", job.ID))

	markets, err := a.store.ListMarkets(ctx, job.ID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load markets")
	}
	families, err := a.store.ListCategoryFamilies(ctx, job.ID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load families")
	}
	raws, err := a.store.ListRawResponses(ctx, job.ID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load raw responses")
	}

	report := &Report{Responses: len(raws), Cost: a.costCalc.Summarize(raws)}
	for _, r := range raws {
		if r.Usable() {
			report.Usable++
		}
	}
	providers := providerNames(raws)

	var sources []model.Source
	trackStage(log, "classify", func() error {
		sources = a.classifier.Classify(ctx, classify.Collect(raws), rulesFor(job, families))
		return nil
	})
	if err := a.store.UpsertSources(ctx, job.ID, sources); err != nil {
		return nil, eris.Wrap(err, "pipeline: persist sources")
	}
	report.Sources = len(sources)

	buckets, keys := bucket(raws, markets, families)
	in := insights.Input{Target: job.Target, Providers: providers, Sources: sources}
	now := time.Now().UTC()

	var results []model.AnalysisResult
	aggregated := trackStage(log, "aggregate", func() error {
		for _, key := range keys {
			data, ok := a.aggregateScope(ctx, job, key, buckets[key], providers, &in)
			if !ok {
				continue
			}
			encoded, err := json.Marshal(data)
			if err != nil {
				return eris.Wrapf(err, "pipeline: encode %s result", key.Kind)
			}
			results = append(results, model.AnalysisResult{
				JobID:     job.ID,
				Kind:      key.Kind,
				Market:    key.Market,
				Category:  key.Family,
				Data:      encoded,
				CreatedAt: now,
			})
		}
		return nil
	})
	pass := store.Analysis{Results: results}
	if aggregated {
		pass.Scored = trackStage(log, "score", func() error {
			pass.Opportunities = a.engine.Score(in)
			return nil
		})
	}
	if err := a.store.SaveAnalysis(ctx, job.ID, pass); err != nil {
		return nil, eris.Wrap(err, "pipeline: persist analysis")
	}
	report.Results = len(results)
	if pass.Scored {
		report.Opportunities = len(pass.Opportunities)
	}

	log.Info("pipeline: analysis complete",
		zap.Int("responses", report.Responses),
		zap.Int("usable", report.Usable),
		zap.Int("sources", report.Sources),
		zap.Int("results", report.Results),
		zap.Int("opportunities", report.Opportunities),
	)
	return report, nil
}

// aggregateScope folds one scope and records its summary on in for scoring.
func (a *Analyzer) aggregateScope(ctx context.Context, job *model.Job, key scopeKey, rs []model.RawResponse, providers []string, in *insights.Input) (any, bool) {
	switch key.Kind {
	case model.KindReputation:
		sum := aggregate.Reputation(rs)
		in.Reputation = append(in.Reputation, insights.MarketReputation{Market: key.Market, Summary: sum})
		return sum, true
	case model.KindCategoryDetection:
		return aggregate.Categories(rs, job.Category), true
	case model.KindVisibility, model.KindCompetitive:
		sc := aggregate.Scope{Target: job.Target, Providers: providers, Responses: rs}
		groups, err := a.grouper.Group(ctx, aggregate.EntityNames(sc))
		if err != nil {
			zap.L().Warn("pipeline: brand grouping failed",
				zap.String("job_id", job.ID),
				zap.String("kind", string(key.Kind)),
				zap.Error(err),
			)
			groups = nil
		}
		sum := aggregate.Visibility(sc, groups)
		in.Visibility = append(in.Visibility, insights.ScopeVisibility{Market: key.Market, Family: key.Family, Summary: sum})
		return sum, true
	}
	zap.L().Warn("pipeline: skipping responses of unknown kind",
		zap.String("job_id", job.ID),
		zap.String("kind", string(key.Kind)),
	)
	return nil, false
}

// rulesFor derives ownership rules from the job and every competitor named
// in any market of any family.
func rulesFor(job *model.Job, families []model.CategoryFamily) classify.Rules {
	seen := make(map[string]bool)
	var competitors []string
	add := func(names []string) {
		for _, n := range names {
			if n != "" && !seen[n] {
				seen[n] = true
				competitors = append(competitors, n)
			}
		}
	}
	add(job.Competitors)
	for _, f := range families {
		for _, m := range sortedMapKeys(f.Competitors) {
			add(f.Competitors[m])
		}
	}
	return classify.Rules{Target: job.Target, OwnedDomains: job.OwnedDomains, Competitors: competitors}
}

// trackStage runs fn and reports whether it succeeded. Panics are recovered
// and logged like errors.
func trackStage(log *zap.Logger, name string, fn func() error) bool {
	start := time.Now()
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = eris.Errorf("pipeline: stage %s panicked: %v", name, r)
			}
		}()
		err = fn()
	}()
	duration := time.Since(start).Milliseconds()
	if err != nil {
		log.Error("pipeline: stage failed",
			zap.String("stage", name),
			zap.Int64("duration_ms", duration),
			zap.Error(err),
		)
		return false
	}
	log.Info("pipeline: stage complete",
		zap.String("stage", name),
		zap.Int64("duration_ms", duration),
	)
	return true
}
