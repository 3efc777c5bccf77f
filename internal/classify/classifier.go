// Package classify deduplicates the sources providers cite and assigns each
// one a category, confidence and authority.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/brand-radar/internal/answer"
	"github.com/sells-group/brand-radar/internal/model"
	"github.com/sells-group/brand-radar/internal/resilience"
	"github.com/sells-group/brand-radar/pkg/anthropic"
)

// Options configures a Classifier.
type Options struct {
	Model       string
	BatchSize   int
	Concurrency int
	Retry       resilience.RetryConfig
	Metrics     *Metrics
}

// Classifier assigns categories to sources with a model and falls back to
// heuristics when the model is unavailable.
type Classifier struct {
	client  anthropic.Client
	opts    Options
	metrics *Metrics
}

// New creates a Classifier. A nil client classifies by heuristics only.
func New(client anthropic.Client, opts Options) *Classifier {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = resilience.RetryLogger("anthropic", "classify")
	}
	return &Classifier{client: client, opts: opts, metrics: opts.Metrics}
}

// Classify returns sources with Category, Confidence, Reasoning, Competitor,
// Authority and Channel set, in input order. It never fails: batches the
// model cannot classify fall back to heuristics at low confidence.
func (c *Classifier) Classify(ctx context.Context, sources []model.Source, rules Rules) []model.Source {
	out := make([]model.Source, len(sources))
	copy(out, sources)

	var pending []int
	for i := range out {
		if applyOwnership(&out[i], rules) {
			continue
		}
		pending = append(pending, i)
	}

	if c.client == nil {
		for _, i := range pending {
			fallback(&out[i])
		}
	} else {
		c.classifyBatches(ctx, out, pending)
	}

	for i := range out {
		enforceOwnership(&out[i], rules)
		out[i].Authority = authority(out[i].Domain, out[i].Category, out[i].Confidence)
		out[i].Channel = ChannelFor(out[i].URL)
	}
	return out
}

func (c *Classifier) classifyBatches(ctx context.Context, out []model.Source, pending []int) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)

	for start := 0; start < len(pending); start += c.opts.BatchSize {
		end := min(start+c.opts.BatchSize, len(pending))
		idx := pending[start:end]

		g.Go(func() error {
			batch := make([]model.Source, len(idx))
			for j, i := range idx {
				batch[j] = out[i]
			}

			verdicts, err := resilience.Retry(gctx, c.opts.Retry, func(ctx context.Context) (map[int]verdict, error) {
				return c.callModel(ctx, batch)
			})
			if err != nil {
				zap.L().Warn("classify: batch failed, using heuristics",
					zap.Int("batch_size", len(batch)),
					zap.Error(err),
				)
				c.metrics.batch("fallback")
			} else {
				c.metrics.batch("ok")
			}

			mu.Lock()
			defer mu.Unlock()
			for j, i := range idx {
				v, ok := verdicts[j]
				if !ok || !v.apply(&out[i]) {
					fallback(&out[i])
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

type verdict struct {
	Index      int    `json:"i"`
	Category   string `json:"category"`
	Confidence string `json:"confidence"`
	Reasoning  string `json:"reasoning"`
	Competitor string `json:"competitor"`
}

// apply copies a valid verdict onto src. Invalid categories are rejected.
func (v verdict) apply(src *model.Source) bool {
	cat := model.SourceCategory(strings.ToLower(strings.TrimSpace(v.Category)))
	if !cat.IsValid() {
		return false
	}
	conf := model.Confidence(strings.ToLower(strings.TrimSpace(v.Confidence)))
	if !conf.IsValid() {
		conf = model.ConfidenceMedium
	}
	src.Category = cat
	src.Confidence = conf
	src.Reasoning = strings.TrimSpace(v.Reasoning)
	if cat == model.CategoryCompetitorMedia {
		src.Competitor = strings.TrimSpace(v.Competitor)
	}
	return true
}

const systemPrompt = `You classify web sources cited by AI assistants.
Assign every item exactly one category from: journalism, owned_media, competitor_media, social_ugc, aggregator_encyclopedic, government_ngo, academic, paid_advertorial, press_release, other.
Give a confidence of high, medium or low and one sentence of reasoning. For competitor_media name the competitor.
Reply with JSON only: {"results": [{"i": 0, "category": "...", "confidence": "...", "reasoning": "...", "competitor": ""}]}`

type batchItem struct {
	Index  int    `json:"i"`
	URL    string `json:"url"`
	Title  string `json:"title,omitempty"`
	Domain string `json:"domain"`
}

func (c *Classifier) callModel(ctx context.Context, batch []model.Source) (map[int]verdict, error) {
	items := make([]batchItem, len(batch))
	for i, s := range batch {
		items[i] = batchItem{Index: i, URL: s.URL, Title: s.Title, Domain: s.Domain}
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return nil, eris.Wrap(err, "classify: marshal batch")
	}

	temp := 0.0
	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       c.opts.Model,
		MaxTokens:   int64(200 + 120*len(batch)),
		System:      systemPrompt,
		Prompt:      string(payload),
		Temperature: &temp,
	})
	if err != nil {
		return nil, err
	}
	if resp.Truncated() {
		return nil, eris.Errorf("classify: reply truncated at %d output tokens", resp.Usage.OutputTokens)
	}

	var parsed struct {
		Results []verdict `json:"results"`
	}
	if err := json.Unmarshal([]byte(answer.CleanJSON(resp.Text)), &parsed); err != nil {
		return nil, eris.Wrap(err, "classify: parse reply")
	}
	out := make(map[int]verdict, len(parsed.Results))
	for _, v := range parsed.Results {
		if v.Index >= 0 && v.Index < len(batch) {
			out[v.Index] = v
		}
	}
	if len(out) == 0 {
		return nil, eris.New("classify: empty reply")
	}
	return out, nil
}

// applyOwnership assigns owned and competitor media before any model call.
func applyOwnership(src *model.Source, rules Rules) bool {
	if rules.Owned(src.Domain) {
		src.Category = model.CategoryOwnedMedia
		src.Confidence = model.ConfidenceHigh
		src.Reasoning = "domain owned by " + rules.Target
		src.Competitor = ""
		return true
	}
	if name, ok := rules.Competitor(src.Domain); ok {
		src.Category = model.CategoryCompetitorMedia
		src.Confidence = model.ConfidenceHigh
		src.Reasoning = fmt.Sprintf("domain owned by competitor %s", name)
		src.Competitor = name
		return true
	}
	return false
}

// enforceOwnership re-applies ownership after the model replied and strips
// an owned_media verdict the rules do not back.
func enforceOwnership(src *model.Source, rules Rules) {
	if applyOwnership(src, rules) {
		return
	}
	if src.Category == model.CategoryOwnedMedia {
		fallback(src)
	}
}

func fallback(src *model.Source) {
	cat, why := heuristic(*src)
	src.Category = cat
	src.Confidence = model.ConfidenceLow
	src.Reasoning = "heuristic: " + why
	src.Competitor = ""
}

// Metrics counts classifier batch outcomes.
type Metrics struct {
	batches *prometheus.CounterVec
}

// NewMetrics registers classifier collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{batches: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "brand_radar",
		Subsystem: "classifier",
		Name:      "batches_total",
		Help:      "Classification batches by outcome.",
	}, []string{"outcome"})}
	reg.MustRegister(m.batches)
	return m
}

func (m *Metrics) batch(outcome string) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(outcome).Inc()
}
