package insights

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/brand-radar/internal/aggregate"
	"github.com/sells-group/brand-radar/internal/config"
	"github.com/sells-group/brand-radar/internal/model"
)

func defaultThresholds() config.InsightsConfig {
	return DefaultConfig()
}

var providers = []string{"anthropic", "perplexity"}

func TestTierBoundaries(t *testing.T) {
	tests := []struct {
		impact, effort float64
		want           model.Tier
	}{
		{0.70, 0.39, model.TierCritical},
		{0.69, 0.39, model.TierQuickWin},
		{0.70, 0.40, model.TierStrategic},
		{0.69, 0.40, model.TierLowPriority},
		{1.00, 0.00, model.TierCritical},
		{0.00, 1.00, model.TierLowPriority},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TierFor(tt.impact, tt.effort), "impact=%v effort=%v", tt.impact, tt.effort)
	}
}

func TestImpact_RenormalisesOverSuppliedComponents(t *testing.T) {
	assert.Equal(t, 1.0, Impact(map[string]float64{CitationFrequency: 1}))
	assert.Equal(t, 0.5, Impact(map[string]float64{CitationFrequency: 1, ReputationSeverity: 0}))
	assert.Equal(t, 0.6667, Impact(map[string]float64{CitationFrequency: 1, RankGap: 0}))
	assert.Equal(t, 1.0, Impact(map[string]float64{SourceAuthority: 1.4}), "components clamp to 1")
	assert.Zero(t, Impact(nil))
	assert.Zero(t, Impact(map[string]float64{"unknown": 1}))
}

func TestEffortTable(t *testing.T) {
	assert.Equal(t, 0.35, Effort(model.OpportunityReputation, 0, "", false))
	assert.Equal(t, 0.70, Effort(model.OpportunityReputation, 0, "", true))
	assert.Equal(t, 0.30, Effort(model.OpportunityCompetitive, 1, "", false))
	assert.Equal(t, 0.55, Effort(model.OpportunityCompetitive, 1, "", true))
	assert.Equal(t, 0.50, Effort(model.OpportunityCompetitive, 2.5, "", false))
	assert.Equal(t, 0.70, Effort(model.OpportunityCompetitive, 3, "", true))
	assert.Equal(t, 0.80, Effort(model.OpportunityCompetitive, 4, "", false))
	assert.Equal(t, 0.90, Effort(model.OpportunityCompetitive, 4, "", true))
	assert.Equal(t, 0.60, Effort(model.OpportunitySource, 0, model.CategoryJournalism, false))
	assert.Equal(t, 0.25, Effort(model.OpportunitySource, 0, model.CategoryPressRelease, false))
	assert.Equal(t, 0.20, Effort(model.OpportunitySource, 0, model.CategoryOwnedMedia, false))
}

func TestHasKeywords(t *testing.T) {
	assert.True(t, hasKeywords("Their Pricing page is clearer"))
	assert.True(t, hasKeywords("", "better customer service"))
	assert.False(t, hasKeywords("great brand recall"))
}

func source(domain string, citations int, authority float64, cat model.SourceCategory, provs ...string) model.Source {
	return model.Source{
		URL:           "https://" + domain + "/article",
		Domain:        domain,
		Providers:     provs,
		CitationCount: citations,
		Category:      cat,
		Confidence:    model.ConfidenceHigh,
		Authority:     authority,
	}
}

func TestSourceNoiseFilter(t *testing.T) {
	in := Input{
		Target:    "Acme",
		Providers: providers,
		Sources: []model.Source{
			source("news.example", 3, 0.8, model.CategoryJournalism, providers...),
			source("blog.example", 2, 0.8, model.CategoryJournalism, providers...),
		},
	}
	opps := New(defaultThresholds()).Score(in)

	require.Len(t, opps, 1)
	opp := opps[0]
	assert.Equal(t, model.OpportunitySource, opp.Type)
	assert.Equal(t, "news.example", opp.Target)
	assert.Equal(t, 0.9667, opp.Impact)
	assert.Equal(t, 0.60, opp.Effort)
	assert.Equal(t, model.TierStrategic, opp.Tier)
	assert.Equal(t, "STRAT-001", opp.ID)
	assert.Equal(t, []string{"https://news.example/article"}, opp.Sources)
	assert.Equal(t, model.OpportunityOpen, opp.Status)
}

func TestSourceImpactThreshold(t *testing.T) {
	cfg := defaultThresholds()
	cfg.MinSourceImpact = 0.99
	in := Input{
		Providers: providers,
		Sources:   []model.Source{source("news.example", 3, 0.8, model.CategoryJournalism, "anthropic")},
	}
	assert.Empty(t, New(cfg).Score(in))
}

func TestSourceAggregatesByDomain(t *testing.T) {
	a := source("news.example", 2, 0.8, model.CategoryJournalism, "anthropic")
	b := source("news.example", 1, 0.8, model.CategoryJournalism, "perplexity")
	b.URL = "https://news.example/other"
	opps := New(defaultThresholds()).Score(Input{Providers: providers, Sources: []model.Source{a, b}})

	require.Len(t, opps, 1)
	assert.Equal(t, 0.9667, opps[0].Impact, "union of providers earns the bonus")
	assert.Equal(t, []string{"https://news.example/article", "https://news.example/other"}, opps[0].Sources)
}

func TestSourceAggregatesSubdomains(t *testing.T) {
	en := source("en.wikipedia.org", 2, 0.85, model.CategoryAggregatorEncyclopedic, "anthropic", "perplexity")
	de := source("de.wikipedia.org", 2, 0.85, model.CategoryAggregatorEncyclopedic, "anthropic", "perplexity")
	opps := New(defaultThresholds()).Score(Input{Providers: providers, Sources: []model.Source{en, de}})

	require.Len(t, opps, 1, "4 citations on one registrable domain clear the noise floor")
	assert.Equal(t, "wikipedia.org", opps[0].Target)
	assert.Equal(t, []string{"https://de.wikipedia.org/article", "https://en.wikipedia.org/article"}, opps[0].Sources)
}

func TestReputationOpportunities(t *testing.T) {
	in := Input{
		Target: "Acme",
		Reputation: []MarketReputation{{
			Market: "us",
			Summary: aggregate.ReputationSummary{
				Answers: 4,
				Topics: []aggregate.TopicStat{
					{Topic: "Support", Sentiment: "negative", Mentions: 2, Negative: 2, Severity: 0.8, Summaries: []string{"slow replies"}},
					{Topic: "Onboarding", Sentiment: "negative", Mentions: 1, Negative: 1, Severity: 0.2},
					{Topic: "Design", Sentiment: "positive", Mentions: 3, Positive: 3},
				},
			},
		}},
	}
	opps := New(defaultThresholds()).Score(in)

	require.Len(t, opps, 1)
	opp := opps[0]
	assert.Equal(t, model.OpportunityReputation, opp.Type)
	assert.Equal(t, "Support", opp.Target)
	assert.Equal(t, "us", opp.Market)
	assert.Equal(t, 0.65, opp.Impact)
	assert.Equal(t, 0.35, opp.Effort)
	assert.Equal(t, model.TierQuickWin, opp.Tier)
	assert.Equal(t, "QW-001", opp.ID)
	assert.Equal(t, []string{"slow replies"}, opp.Evidence)
}

func TestCompetitiveOpportunities(t *testing.T) {
	in := Input{
		Target:    "Acme",
		Providers: providers,
		Visibility: []ScopeVisibility{{
			Market: "us",
			Family: "crm",
			Summary: aggregate.VisibilitySummary{
				Target:      "Acme",
				Questions:   2,
				Providers:   2,
				TargetStats: aggregate.EntityStat{Name: "Acme", Mentions: 1},
				Families: []aggregate.EntityStat{
					{Name: "Globex", Mentions: 3},
					{Name: "Acme", Mentions: 1},
				},
				Gaps: []aggregate.Gap{{Severity: 1}, {Severity: 1}, {Severity: 1}},
				CompetitorWins: []aggregate.CompetitorWin{
					{Name: "Globex", Wins: 3, AvgSeverity: 1, Evidence: []string{"cheaper pricing"}},
				},
			},
		}},
	}
	opps := New(defaultThresholds()).Score(in)

	require.Len(t, opps, 1)
	opp := opps[0]
	assert.Equal(t, model.OpportunityCompetitive, opp.Type)
	assert.Equal(t, "Globex", opp.Target)
	assert.Equal(t, 0.6905, opp.Impact)
	assert.Equal(t, 0.55, opp.Effort)
	assert.Equal(t, model.TierLowPriority, opp.Tier)
	assert.Equal(t, "LOW-001", opp.ID)

	cfg := defaultThresholds()
	cfg.MinCompetitiveImpact = 0.7
	assert.Empty(t, New(cfg).Score(in))
}

func TestCompetitiveMergesFamiliesWithinMarket(t *testing.T) {
	scope := func(family string) ScopeVisibility {
		return ScopeVisibility{Market: "us", Family: family, Summary: aggregate.VisibilitySummary{
			Questions: 1, Providers: 2,
			Families:       []aggregate.EntityStat{{Name: "Globex", Mentions: 1}},
			Gaps:           []aggregate.Gap{{Severity: 2}},
			CompetitorWins: []aggregate.CompetitorWin{{Name: "Globex", Wins: 1, AvgSeverity: 2}},
		}}
	}
	in := Input{Target: "Acme", Visibility: []ScopeVisibility{scope("crm"), scope("helpdesk")}}
	opps := New(defaultThresholds()).Score(in)

	require.Len(t, opps, 1)
	assert.Contains(t, opps[0].Description, "in 2 answers")
}

func TestRankOrderAndIDs(t *testing.T) {
	opps := []model.Opportunity{
		{Type: model.OpportunitySource, Target: "b", Impact: 0.5, Tier: model.TierLowPriority},
		{Type: model.OpportunitySource, Target: "a", Impact: 0.8, Tier: model.TierStrategic},
		{Type: model.OpportunityReputation, Target: "x", Impact: 0.6, Tier: model.TierQuickWin},
		{Type: model.OpportunityCompetitive, Target: "y", Impact: 0.6, Tier: model.TierQuickWin},
		{Type: model.OpportunityCompetitive, Target: "z", Impact: 0.9, Tier: model.TierCritical},
	}
	Rank(opps)

	var ids []string
	for _, o := range opps {
		ids = append(ids, o.ID+":"+o.Target)
	}
	assert.Equal(t, []string{"CRIT-001:z", "QW-001:y", "QW-002:x", "STRAT-001:a", "LOW-001:b"}, ids)
}
