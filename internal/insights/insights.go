// Package insights turns aggregate summaries into scored, tiered PR
// opportunities.
package insights

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sells-group/brand-radar/internal/aggregate"
	"github.com/sells-group/brand-radar/internal/classify"
	"github.com/sells-group/brand-radar/internal/config"
	"github.com/sells-group/brand-radar/internal/model"
	"github.com/sells-group/brand-radar/internal/names"
)

// MarketReputation is the reputation summary of one market.
type MarketReputation struct {
	Market  string
	Summary aggregate.ReputationSummary
}

// ScopeVisibility is the visibility summary of one (market, family) scope.
type ScopeVisibility struct {
	Market  string
	Family  string
	Summary aggregate.VisibilitySummary
}

// Input is everything the engine scores.
type Input struct {
	Target     string
	Providers  []string
	Reputation []MarketReputation
	Visibility []ScopeVisibility
	Sources    []model.Source
}

// Engine scores opportunities against the configured noise thresholds.
type Engine struct {
	cfg config.InsightsConfig
}

// DefaultConfig returns the default noise thresholds.
func DefaultConfig() config.InsightsConfig {
	return config.InsightsConfig{
		MinReputationSeverity: 0.3,
		MinCompetitiveImpact:  0.2,
		MinSourceCitations:    3,
		MinSourceImpact:       0.3,
	}
}

// New creates an Engine.
func New(cfg config.InsightsConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Score builds reputation, competitive and source outreach opportunities,
// then orders them and assigns ids.
func (e *Engine) Score(in Input) []model.Opportunity {
	var opps []model.Opportunity
	opps = append(opps, e.reputation(in)...)
	opps = append(opps, e.competitive(in)...)
	opps = append(opps, e.sources(in)...)
	Rank(opps)
	return opps
}

func (e *Engine) reputation(in Input) []model.Opportunity {
	var out []model.Opportunity
	for _, mr := range in.Reputation {
		answers := mr.Summary.Answers
		if answers == 0 {
			continue
		}
		for _, t := range mr.Summary.NegativeTopics() {
			if t.Severity < e.cfg.MinReputationSeverity {
				continue
			}
			impact := Impact(map[string]float64{
				CitationFrequency:  float64(t.Mentions) / float64(answers),
				ReputationSeverity: t.Severity,
			})
			effort := Effort(model.OpportunityReputation, 0, "", hasKeywords(append([]string{t.Topic}, t.Summaries...)...))
			out = append(out, newOpportunity(model.OpportunityReputation, mr.Market, t.Topic, impact, effort,
				fmt.Sprintf("Address negative perception of %s", t.Topic),
				fmt.Sprintf("%d of %d answers discussed %s negatively (severity %.2f).", t.Negative, answers, t.Topic, t.Severity),
				t.Summaries, nil))
		}
	}
	return out
}

type marketTotals struct {
	slots          int
	gaps           int
	targetMentions int
	mentions       map[string]int
}

type competitorAcc struct {
	market      string
	name        string
	wins        int
	severitySum float64
	evidence    []string
}

func (e *Engine) competitive(in Input) []model.Opportunity {
	totals := make(map[string]*marketTotals)
	comps := make(map[[2]string]*competitorAcc)
	var order [][2]string

	for _, sv := range in.Visibility {
		mt := totals[sv.Market]
		if mt == nil {
			mt = &marketTotals{mentions: make(map[string]int)}
			totals[sv.Market] = mt
		}
		s := sv.Summary
		mt.slots += s.Questions * s.Providers
		mt.gaps += len(s.Gaps)
		mt.targetMentions += s.TargetStats.Mentions
		for _, f := range s.Families {
			mt.mentions[names.Fold(f.Name)] += f.Mentions
		}

		for _, w := range s.CompetitorWins {
			key := [2]string{sv.Market, names.Fold(w.Name)}
			acc := comps[key]
			if acc == nil {
				acc = &competitorAcc{market: sv.Market, name: w.Name}
				comps[key] = acc
				order = append(order, key)
			}
			acc.wins += w.Wins
			acc.severitySum += w.AvgSeverity * float64(w.Wins)
			acc.evidence = append(acc.evidence, w.Evidence...)
		}
	}

	var out []model.Opportunity
	for _, key := range order {
		acc := comps[key]
		mt := totals[acc.market]
		if mt.slots == 0 || acc.wins == 0 {
			continue
		}
		slots := float64(mt.slots)
		distance := acc.severitySum / float64(acc.wins)
		compVis := clamp01(float64(mt.mentions[key[1]]) / slots)
		targetVis := clamp01(float64(mt.targetMentions) / slots)

		components := map[string]float64{
			CitationFrequency: float64(acc.wins) / slots,
			VisibilityGap:     compVis - targetVis,
			RankGap:           distance / aggregate.ChoiceLossSeverity,
		}
		if mt.gaps > 0 {
			components[CompetitiveLoss] = float64(acc.wins) / float64(mt.gaps)
		}
		impact := Impact(components)
		if impact < e.cfg.MinCompetitiveImpact {
			continue
		}
		evidence := dedupe(acc.evidence)
		effort := Effort(model.OpportunityCompetitive, distance, "", hasKeywords(evidence...))
		out = append(out, newOpportunity(model.OpportunityCompetitive, acc.market, acc.name, impact, effort,
			fmt.Sprintf("Close the gap with %s", acc.name),
			fmt.Sprintf("%s was ranked above %s in %d answers (mean rank gap %.2f).", acc.name, in.Target, acc.wins, distance),
			evidence, nil))
	}
	return out
}

type domainAcc struct {
	domain    string
	citations int
	providers map[string]bool
	urls      []string
	top       model.Source
}

func (e *Engine) sources(in Input) []model.Opportunity {
	domains := make(map[string]*domainAcc)
	var order []string
	maxCitations := 0
	for _, s := range in.Sources {
		if s.Domain == "" {
			continue
		}
		d := classify.RegistrableDomain(s.Domain)
		acc := domains[d]
		if acc == nil {
			acc = &domainAcc{domain: d, providers: make(map[string]bool), top: s}
			domains[d] = acc
			order = append(order, d)
		}
		acc.citations += s.CitationCount
		acc.urls = append(acc.urls, s.URL)
		for _, p := range s.Providers {
			acc.providers[p] = true
		}
		if s.CitationCount > acc.top.CitationCount || (s.CitationCount == acc.top.CitationCount && s.URL < acc.top.URL) {
			acc.top = s
		}
		maxCitations = max(maxCitations, acc.citations)
	}
	if maxCitations == 0 {
		return nil
	}

	shared := map[string]float64{}
	if len(in.Visibility) > 0 {
		var visSum float64
		var gapCount int
		var sevSum float64
		for _, sv := range in.Visibility {
			visSum += sv.Summary.TargetStats.Visibility
			for _, g := range sv.Summary.Gaps {
				gapCount++
				sevSum += float64(g.Severity)
			}
		}
		shared[VisibilityGap] = 1 - visSum/float64(len(in.Visibility))
		if gapCount > 0 {
			shared[RankGap] = sevSum / float64(gapCount) / aggregate.ChoiceLossSeverity
		}
	}

	var out []model.Opportunity
	for _, d := range order {
		acc := domains[d]
		if acc.citations < e.cfg.MinSourceCitations {
			continue
		}
		authority := acc.top.Authority
		if coversAll(acc.providers, in.Providers) {
			authority += BothProvidersBonus
		}
		components := map[string]float64{
			CitationFrequency: float64(acc.citations) / float64(maxCitations),
			SourceAuthority:   authority,
		}
		for k, v := range shared {
			components[k] = v
		}
		impact := Impact(components)
		if impact < e.cfg.MinSourceImpact {
			continue
		}
		cat := acc.top.Category
		sort.Strings(acc.urls)
		var evidence []string
		if acc.top.Reasoning != "" {
			evidence = []string{acc.top.Reasoning}
		}
		out = append(out, newOpportunity(model.OpportunitySource, "", acc.domain, impact,
			Effort(model.OpportunitySource, 0, cat, false),
			sourceTitle(cat, acc.domain, acc.top.Competitor),
			fmt.Sprintf("%s (%s) was cited %d times by %s.", acc.domain, cat, acc.citations, strings.Join(sortedKeys(acc.providers), ", ")),
			evidence, acc.urls))
	}
	return out
}

func sourceTitle(cat model.SourceCategory, domain, competitor string) string {
	switch cat {
	case model.CategoryOwnedMedia:
		return fmt.Sprintf("Strengthen owned content on %s", domain)
	case model.CategoryCompetitorMedia:
		if competitor != "" {
			return fmt.Sprintf("Counter %s content on %s", competitor, domain)
		}
		return fmt.Sprintf("Counter competitor content on %s", domain)
	case model.CategorySocialUGC:
		return fmt.Sprintf("Engage the community on %s", domain)
	default:
		return fmt.Sprintf("Earn coverage on %s", domain)
	}
}

func newOpportunity(typ model.OpportunityType, market, target string, impact, effort float64, title, desc string, evidence, sources []string) model.Opportunity {
	return model.Opportunity{
		Type:        typ,
		Title:       title,
		Description: desc,
		Target:      target,
		Market:      market,
		Impact:      impact,
		Effort:      effort,
		Tier:        TierFor(impact, effort),
		Evidence:    evidence,
		Sources:     sources,
		Status:      model.OpportunityOpen,
	}
}

// Rank sorts opportunities by tier urgency, impact descending, type, target
// and market, then assigns tier-prefixed ids.
func Rank(opps []model.Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		a, b := opps[i], opps[j]
		if a.Tier.Urgency() != b.Tier.Urgency() {
			return a.Tier.Urgency() < b.Tier.Urgency()
		}
		if a.Impact != b.Impact {
			return a.Impact > b.Impact
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		return a.Market < b.Market
	})
	seq := make(map[model.Tier]int)
	for i := range opps {
		seq[opps[i].Tier]++
		opps[i].ID = fmt.Sprintf("%s-%03d", opps[i].Tier.IDPrefix(), seq[opps[i].Tier])
	}
}

func coversAll(have map[string]bool, providers []string) bool {
	if len(providers) == 0 {
		return false
	}
	for _, p := range providers {
		if !have[p] {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
