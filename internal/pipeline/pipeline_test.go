package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/brand-radar/internal/model"
	"github.com/sells-group/brand-radar/internal/progress"
	"github.com/sells-group/brand-radar/internal/questions"
	"github.com/sells-group/brand-radar/internal/store"
)

// fakeAsker answers by the reply format embedded in the prompt. Every answer
// cites the same review page so source outreach has something to score.
type fakeAsker struct {
	calls   atomic.Int32
	fail    map[string]bool
	onCall  func()
	mu      sync.Mutex
	prompts []string
}

func (f *fakeAsker) AskAll(_ context.Context, prompt string) []model.ProviderAnswer {
	f.calls.Add(1)
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.onCall != nil {
		f.onCall()
	}

	var anthropicRaw, perplexityRaw string
	switch {
	case strings.Contains(prompt, `"sentiment"`):
		anthropicRaw = `{"sentiment":"negative","topics":[{"topic":"Support","sentiment":"negative","severity":0.8,"summary":"slow replies"}]}`
		perplexityRaw = `{"sentiment":"mixed","topics":[{"topic":"support","sentiment":"negative","severity":0.6}]}`
	case strings.Contains(prompt, `"ranking"`):
		anthropicRaw = `{"ranking":[{"name":"Beta","rank":1,"comment":"cheaper pricing"},{"name":"Acme","rank":2}]}`
		perplexityRaw = `{"ranking":[{"name":"Acme","rank":1},{"name":"Beta Cloud","rank":2}]}`
	case strings.Contains(prompt, `"winner"`):
		anthropicRaw = `{"winner":"Beta","candidates":[{"name":"Beta","pros":["better integrations"]},{"name":"Acme"}]}`
		perplexityRaw = `{"winner":"Acme","candidates":[{"name":"Acme"},{"name":"Beta"}]}`
	default:
		anthropicRaw = `{"categories":[{"name":"CRM software","confidence":0.9}]}`
		perplexityRaw = `{"categories":[{"name":"CRM","confidence":0.6}]}`
	}

	cite := []model.Citation{{URL: "https://www.news.example/review?utm_source=x", Domain: "news.example"}}
	out := []model.ProviderAnswer{
		{Provider: "anthropic", Raw: anthropicRaw, Citations: cite, Usage: model.TokenUsage{InputTokens: 100, OutputTokens: 50}},
		{Provider: "perplexity", Raw: perplexityRaw, Citations: cite, Usage: model.TokenUsage{InputTokens: 80, OutputTokens: 40}},
	}
	if f.fail["perplexity"] {
		out[1] = model.ProviderAnswer{Provider: "perplexity", Failed: true, Error: "timeout"}
	}
	if f.fail["anthropic"] {
		out[0] = model.ProviderAnswer{Provider: "anthropic", Failed: true, Error: "overloaded"}
	}
	return out
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testSpec() model.JobSpec {
	return model.JobSpec{
		Target:       "Acme",
		Category:     "CRM software",
		Competitors:  []string{"Beta"},
		OwnedDomains: []string{"acme.com"},
		Markets:      []model.Market{{Code: "us-en", Country: "US", Language: "en", IsPrimary: true}},
		Families: []model.CategoryFamily{{
			ID:          "crm",
			Names:       map[string]string{"us-en": "CRM software"},
			Competitors: map[string][]string{"us-en": {"Beta"}},
		}},
	}
}

func newTestPipeline(t *testing.T, st store.Store, asker Asker, sink progress.Sink) *Pipeline {
	t.Helper()
	return newBatchedPipeline(t, st, asker, sink, 2)
}

func newBatchedPipeline(t *testing.T, st store.Store, asker Asker, sink progress.Sink, batchSize int) *Pipeline {
	t.Helper()
	qs, err := questions.Default()
	require.NoError(t, err)
	return New(st, asker, qs, NewAnalyzer(st, nil, nil, nil, nil), sink, Options{BatchSize: batchSize})
}

func TestRun_CompletesJob(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	hub := progress.NewHub(64)
	p := newTestPipeline(t, st, &fakeAsker{}, hub)

	job, err := p.Submit(ctx, testSpec())
	require.NoError(t, err)
	events, cancel := hub.Subscribe(job.ID)
	defer cancel()

	require.NoError(t, p.Run(ctx, job.ID))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, 9, got.TotalQuestions)
	assert.Equal(t, 9, got.Processed)

	raws, err := st.ListRawResponses(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, raws, 9)

	results, err := st.ListAnalysisResults(ctx, job.ID)
	require.NoError(t, err)
	var keys []string
	for _, r := range results {
		keys = append(keys, string(r.Kind)+"/"+r.Market+"/"+r.Category)
	}
	assert.Equal(t, []string{
		"category_detection/us-en/",
		"competitive/us-en/crm",
		"reputation/us-en/",
		"visibility/us-en/crm",
	}, keys)

	sources, err := st.ListSources(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "https://news.example/review", sources[0].URL)
	assert.Equal(t, 18, sources[0].CitationCount)
	assert.Equal(t, model.ConfidenceLow, sources[0].Confidence)

	opps, err := st.ListOpportunities(ctx, job.ID)
	require.NoError(t, err)
	require.NotEmpty(t, opps)
	types := map[model.OpportunityType]bool{}
	for _, o := range opps {
		types[o.Type] = true
		assert.NotEmpty(t, o.ID)
	}
	assert.True(t, types[model.OpportunityReputation])
	assert.True(t, types[model.OpportunitySource])

	var last progress.Event
	for ev := range events {
		last = ev
	}
	assert.Equal(t, progress.TypeCompleted, last.Type)
	assert.Equal(t, 100, last.Progress)
}

func TestSubmit_RejectsInvalidSpec(t *testing.T) {
	p := newTestPipeline(t, newTestStore(t), &fakeAsker{}, nil)
	_, err := p.Submit(context.Background(), model.JobSpec{})
	assert.Error(t, err)
}

func TestRun_SkipsPersistedQuestions(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	asker := &fakeAsker{}
	p := newTestPipeline(t, st, asker, nil)

	job, err := p.Submit(ctx, testSpec())
	require.NoError(t, err)
	_, err = st.InsertRawResponse(ctx, model.RawResponse{
		JobID:      job.ID,
		QuestionID: "reputation.us-en._.01",
		Kind:       model.KindReputation,
		Answers:    (&fakeAsker{}).AskAll(ctx, `"sentiment"`),
	})
	require.NoError(t, err)

	require.NoError(t, p.Run(ctx, job.ID))
	assert.EqualValues(t, 8, asker.calls.Load())

	raws, err := st.ListRawResponses(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, raws, 9)
}

func TestRun_ProviderFailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	p := newTestPipeline(t, st, &fakeAsker{fail: map[string]bool{"perplexity": true}}, nil)

	job, err := p.Submit(ctx, testSpec())
	require.NoError(t, err)
	require.NoError(t, p.Run(ctx, job.ID))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)

	raws, err := st.ListRawResponses(ctx, job.ID)
	require.NoError(t, err)
	for _, r := range raws {
		require.Len(t, r.Answers, 2)
		assert.True(t, r.Answers[1].Failed)
		assert.Equal(t, "timeout", r.Answers[1].Error)
	}
}

type failingInsertStore struct {
	store.Store
}

func (failingInsertStore) InsertRawResponse(context.Context, model.RawResponse) (bool, error) {
	return false, eris.New("disk full")
}

func TestRun_PersistenceFailureFailsJob(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	hub := progress.NewHub(8)
	p := newTestPipeline(t, failingInsertStore{st}, &fakeAsker{}, hub)

	job, err := p.Submit(ctx, testSpec())
	require.NoError(t, err)
	events, cancel := hub.Subscribe(job.ID)
	defer cancel()

	err = p.Run(ctx, job.ID)
	require.Error(t, err)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Contains(t, got.Error, "disk full")

	var last progress.Event
	for ev := range events {
		last = ev
	}
	assert.Equal(t, progress.TypeFailed, last.Type)
}

func TestRun_CancellationLeavesJobForRecovery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := newTestStore(t)
	p := newTestPipeline(t, st, &fakeAsker{onCall: cancel}, nil)

	job, err := p.Submit(context.Background(), testSpec())
	require.NoError(t, err)
	require.Error(t, p.Run(ctx, job.ID))

	got, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, got.Status)

	raws, err := st.ListRawResponses(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Empty(t, raws)
}

// interruptingStore cancels the run as the analysis pass is being saved, as
// if the process died mid-write.
type interruptingStore struct {
	store.Store
	cancel context.CancelFunc
}

func (s interruptingStore) SaveAnalysis(ctx context.Context, jobID string, a store.Analysis) error {
	s.cancel()
	return s.Store.SaveAnalysis(ctx, jobID, a)
}

func TestRun_InterruptedAnalysisIsRecovered(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := newTestStore(t)
	p := newTestPipeline(t, interruptingStore{Store: st, cancel: cancel}, &fakeAsker{}, nil)

	job, err := p.Submit(context.Background(), testSpec())
	require.NoError(t, err)
	require.Error(t, p.Run(ctx, job.ID))

	bg := context.Background()
	got, err := st.GetJob(bg, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, got.Status)
	assert.Empty(t, resultData(t, st, job.ID), "an interrupted pass leaves no partial results")

	report, err := newTestPipeline(t, st, &fakeAsker{}, nil).Recover(bg)
	require.NoError(t, err)
	assert.Equal(t, []string{job.ID}, report.Recovered)

	got, err = st.GetJob(bg, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Len(t, resultData(t, st, job.ID), 4)
	opps, err := st.ListOpportunities(bg, job.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, opps)
}

func TestRun_BatchSizeDoesNotChangeResults(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	var results []map[string]string
	var opps []string
	for _, size := range []int{1, 3, 50} {
		p := newBatchedPipeline(t, st, &fakeAsker{}, nil, size)
		job, err := p.Submit(ctx, testSpec())
		require.NoError(t, err)
		require.NoError(t, p.Run(ctx, job.ID))
		results = append(results, resultData(t, st, job.ID))
		opps = append(opps, opportunityData(t, st, job.ID))
	}

	require.NotEmpty(t, results[0])
	for i := 1; i < len(results); i++ {
		assert.Equal(t, results[0], results[i])
		assert.Equal(t, opps[0], opps[i])
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingSink) Publish(ev progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func TestRun_ProgressIsMonotonic(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sink := &recordingSink{}
	p := newBatchedPipeline(t, st, &fakeAsker{}, sink, 9)

	job, err := p.Submit(ctx, testSpec())
	require.NoError(t, err)
	require.NoError(t, p.Run(ctx, job.ID))

	var answered []string
	last := 0
	for _, ev := range sink.events {
		if ev.Type != progress.TypeProgress {
			continue
		}
		assert.GreaterOrEqual(t, ev.Progress, last)
		last = ev.Progress
		answered = append(answered, ev.Message)
	}
	require.Len(t, answered, 9)
	for i, msg := range answered {
		assert.Equal(t, fmt.Sprintf("%d/9 questions answered", i+1), msg)
	}
}

func TestRun_TerminalJobIsNoop(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	asker := &fakeAsker{}
	p := newTestPipeline(t, st, asker, nil)

	job, err := p.Submit(ctx, testSpec())
	require.NoError(t, err)
	require.NoError(t, st.UpdateJobStatus(ctx, job.ID, model.JobStatusFailed, "boom"))

	require.NoError(t, p.Run(ctx, job.ID))
	assert.Zero(t, asker.calls.Load())
}

// copyResponses re-creates src's raw responses under a fresh job, as if a
// process had died right after the collection phase.
func copyResponses(t *testing.T, st store.Store, srcJobID string) *model.Job {
	t.Helper()
	ctx := context.Background()
	dst, err := st.CreateJob(ctx, testSpec())
	require.NoError(t, err)
	raws, err := st.ListRawResponses(ctx, srcJobID)
	require.NoError(t, err)
	for _, r := range raws {
		r.JobID = dst.ID
		_, err := st.InsertRawResponse(ctx, r)
		require.NoError(t, err)
	}
	return dst
}

func resultData(t *testing.T, st store.Store, jobID string) map[string]string {
	t.Helper()
	results, err := st.ListAnalysisResults(context.Background(), jobID)
	require.NoError(t, err)
	out := make(map[string]string, len(results))
	for _, r := range results {
		out[string(r.Kind)+"/"+r.Market+"/"+r.Category] = string(r.Data)
	}
	return out
}

func opportunityData(t *testing.T, st store.Store, jobID string) string {
	t.Helper()
	opps, err := st.ListOpportunities(context.Background(), jobID)
	require.NoError(t, err)
	for i := range opps {
		opps[i].JobID = ""
	}
	b, err := json.Marshal(opps)
	require.NoError(t, err)
	return string(b)
}

func TestRecover_MatchesLiveRun(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	asker := &fakeAsker{}
	p := newTestPipeline(t, st, asker, nil)

	live, err := p.Submit(ctx, testSpec())
	require.NoError(t, err)
	require.NoError(t, p.Run(ctx, live.ID))

	replay := copyResponses(t, st, live.ID)
	report, err := p.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{replay.ID}, report.Recovered)
	assert.EqualValues(t, 9, asker.calls.Load(), "recovery never asks providers")

	got, err := st.GetJob(ctx, replay.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)

	assert.Equal(t, resultData(t, st, live.ID), resultData(t, st, replay.ID))
	assert.Equal(t, opportunityData(t, st, live.ID), opportunityData(t, st, replay.ID))
}

func TestRecover_NoUsableResponsesFailsJob(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	p := newTestPipeline(t, st, &fakeAsker{}, nil)

	job, err := st.CreateJob(ctx, testSpec())
	require.NoError(t, err)
	_, err = st.InsertRawResponse(ctx, model.RawResponse{
		JobID:      job.ID,
		QuestionID: "reputation.us-en._.01",
		Kind:       model.KindReputation,
		Answers: []model.ProviderAnswer{
			{Provider: "anthropic", Failed: true, Error: "overloaded"},
			{Provider: "perplexity", Failed: true, Error: "timeout"},
		},
	})
	require.NoError(t, err)

	report, err := p.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{job.ID}, report.Failed)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Contains(t, got.Error, "no usable responses")
}

func TestRecover_SkipsJobsWithCompleteResults(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	p := newTestPipeline(t, st, &fakeAsker{}, nil)

	job, err := st.CreateJob(ctx, testSpec())
	require.NoError(t, err)
	_, err = st.InsertRawResponse(ctx, model.RawResponse{
		JobID:      job.ID,
		QuestionID: "reputation.us-en._.01",
		Kind:       model.KindReputation,
		Answers:    (&fakeAsker{}).AskAll(ctx, `"sentiment"`),
	})
	require.NoError(t, err)
	require.NoError(t, st.UpsertAnalysisResult(ctx, model.AnalysisResult{
		JobID: job.ID, Kind: model.KindReputation, Market: "us-en", Data: json.RawMessage(`{}`),
	}))

	report, err := p.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{job.ID}, report.Skipped)
	assert.Empty(t, report.Recovered)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, got.Status)
}

func TestResume_AskFinishesMissingQuestions(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	asker := &fakeAsker{}
	p := newTestPipeline(t, st, asker, nil)

	job, err := st.CreateJob(ctx, testSpec())
	require.NoError(t, err)
	require.NoError(t, p.Resume(ctx, job.ID, true))
	assert.EqualValues(t, 9, asker.calls.Load())

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
}

func TestBucket(t *testing.T) {
	markets := []model.Market{{Code: "us"}, {Code: "us-es", IsPrimary: true}}
	families := []model.CategoryFamily{{ID: "crm"}}
	raws := []model.RawResponse{
		{QuestionID: "visibility.us-es.crm.01", Kind: model.KindVisibility},
		{QuestionID: "visibility.us.crm.01", Kind: model.KindVisibility},
		{QuestionID: "visibility.us.gone.01", Kind: model.KindVisibility},
		{QuestionID: "reputation.us._.01", Kind: model.KindReputation},
		{QuestionID: "reputation.01", Kind: model.KindReputation},
	}
	buckets, keys := bucket(raws, markets, families)

	assert.Equal(t, []scopeKey{
		{Kind: model.KindReputation, Market: "us"},
		{Kind: model.KindReputation, Market: "us-es"},
		{Kind: model.KindVisibility, Market: "us"},
		{Kind: model.KindVisibility, Market: "us", Family: "crm"},
		{Kind: model.KindVisibility, Market: "us-es", Family: "crm"},
	}, keys)
	assert.Len(t, buckets[scopeKey{Kind: model.KindVisibility, Market: "us"}], 1)
}

func TestProviderNames(t *testing.T) {
	raws := []model.RawResponse{{Answers: []model.ProviderAnswer{{Provider: "perplexity"}, {Provider: "anthropic"}}}}
	assert.Equal(t, []string{"anthropic", "perplexity"}, providerNames(raws))
}
