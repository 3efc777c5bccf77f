package insights

import (
	"math"
	"strings"

	"github.com/sells-group/brand-radar/internal/model"
)

// Impact component names.
const (
	CitationFrequency  = "citation_frequency"
	VisibilityGap      = "visibility_gap"
	CompetitiveLoss    = "competitive_loss"
	ReputationSeverity = "reputation_severity"
	RankGap            = "rank_gap"
	SourceAuthority    = "source_authority"
)

// Weights of each impact component on a 0-100 scale. A family is scored
// only over the components it supplies; the rest drop out of the sum.
var Weights = map[string]float64{
	CitationFrequency:  20,
	VisibilityGap:      20,
	CompetitiveLoss:    20,
	ReputationSeverity: 20,
	RankGap:            10,
	SourceAuthority:    10,
}

// BothProvidersBonus is added to source authority when every provider cited
// the domain.
const BothProvidersBonus = 0.10

var componentOrder = []string{
	CitationFrequency, VisibilityGap, CompetitiveLoss,
	ReputationSeverity, RankGap, SourceAuthority,
}

// Impact combines the supplied components into a 0-1 score rounded to four
// decimals. Components are summed in a fixed order so replays agree to the
// last bit.
func Impact(components map[string]float64) float64 {
	var total, weightSum float64
	for _, name := range componentOrder {
		v, ok := components[name]
		if !ok {
			continue
		}
		total += clamp01(v) * Weights[name]
		weightSum += Weights[name]
	}
	if weightSum == 0 {
		return 0
	}
	return round4(total / weightSum)
}

var effortKeywords = []string{"feature", "price", "pricing", "service"}

// Effort is the rule table estimating how hard an opportunity is to act on.
// distance is the mean rank gap for competitive opportunities; keywords
// reports whether the evidence names product features, prices or service.
func Effort(typ model.OpportunityType, distance float64, category model.SourceCategory, keywords bool) float64 {
	switch typ {
	case model.OpportunityReputation:
		if keywords {
			return 0.70
		}
		return 0.35
	case model.OpportunityCompetitive:
		switch {
		case distance <= 1 && keywords:
			return 0.55
		case distance <= 1:
			return 0.30
		case distance <= 3 && keywords:
			return 0.70
		case distance <= 3:
			return 0.50
		case keywords:
			return 0.90
		default:
			return 0.80
		}
	case model.OpportunitySource:
		return sourceEffort[category]
	}
	return 0.50
}

var sourceEffort = map[model.SourceCategory]float64{
	model.CategoryJournalism:             0.60,
	model.CategoryOwnedMedia:             0.20,
	model.CategoryCompetitorMedia:        0.90,
	model.CategorySocialUGC:              0.30,
	model.CategoryAggregatorEncyclopedic: 0.50,
	model.CategoryGovernmentNGO:          0.80,
	model.CategoryAcademic:               0.80,
	model.CategoryPaidAdvertorial:        0.35,
	model.CategoryPressRelease:           0.25,
	model.CategoryOther:                  0.50,
}

// TierFor buckets an impact/effort pair.
func TierFor(impact, effort float64) model.Tier {
	high := impact >= 0.70
	easy := effort < 0.40
	switch {
	case high && easy:
		return model.TierCritical
	case high:
		return model.TierStrategic
	case easy:
		return model.TierQuickWin
	default:
		return model.TierLowPriority
	}
}

// hasKeywords reports whether any text mentions an effort keyword.
func hasKeywords(texts ...string) bool {
	for _, t := range texts {
		lower := strings.ToLower(t)
		for _, kw := range effortKeywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}
	return false
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
