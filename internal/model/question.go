package model

import (
	"fmt"
	"strings"
)

// AnalysisKind identifies which question battery a question belongs to.
type AnalysisKind string

const (
	KindReputation        AnalysisKind = "reputation"
	KindVisibility        AnalysisKind = "visibility"
	KindCompetitive       AnalysisKind = "competitive"
	KindCategoryDetection AnalysisKind = "category_detection"
)

// AllKinds returns the analysis kinds in flattening order.
func AllKinds() []AnalysisKind {
	return []AnalysisKind{KindReputation, KindVisibility, KindCompetitive, KindCategoryDetection}
}

// Valid reports whether k is a known analysis kind.
func (k AnalysisKind) Valid() bool {
	for _, known := range AllKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// FamilyScoped reports whether questions of this kind are asked per category
// family rather than once per market.
func (k AnalysisKind) FamilyScoped() bool {
	return k == KindVisibility || k == KindCompetitive
}

// BrandFamily is the placeholder family segment for brand-level questions.
const BrandFamily = "_"

// Question is one prompt asked to every provider.
type Question struct {
	ID       string       `json:"id"`
	Kind     AnalysisKind `json:"kind"`
	Text     string       `json:"text"`
	Market   string       `json:"market,omitempty"`
	FamilyID string       `json:"family_id,omitempty"`
}

// QuestionID builds the stable identifier of a question. Market and family
// are embedded so persisted responses can be re-bucketed without any state
// from the run that produced them.
func QuestionID(kind AnalysisKind, market, family string, seq int) string {
	if market == "" && family == "" {
		return fmt.Sprintf("%s.%02d", kind, seq)
	}
	if family == "" {
		family = BrandFamily
	}
	if market == "" {
		market = "default"
	}
	return fmt.Sprintf("%s.%s.%s.%02d", kind, market, family, seq)
}

// KindFromQuestionID returns the kind prefix of a question id.
func KindFromQuestionID(id string) AnalysisKind {
	if idx := strings.IndexByte(id, '.'); idx > 0 {
		return AnalysisKind(id[:idx])
	}
	return AnalysisKind(id)
}
