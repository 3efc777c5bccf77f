// Package answer resolves the unparsed text a provider returned into one of
// the structured reply shapes the aggregators understand.
package answer

import (
	"encoding/json"
	"sort"
	"strings"
)

// Shape tags which variant of Parsed is populated.
type Shape int

const (
	ShapeNone Shape = iota
	ShapeRanking
	ShapeChoice
	ShapeSentiment
	ShapeAssociations
)

func (s Shape) String() string {
	switch s {
	case ShapeRanking:
		return "ranking"
	case ShapeChoice:
		return "choice"
	case ShapeSentiment:
		return "sentiment"
	case ShapeAssociations:
		return "associations"
	default:
		return "none"
	}
}

// RankedEntity is one position of an ordered answer.
type RankedEntity struct {
	Name    string `json:"name"`
	Rank    int    `json:"rank"`
	Comment string `json:"comment,omitempty"`
}

// Candidate is one option weighed in a choice answer.
type Candidate struct {
	Name string   `json:"name"`
	Pros []string `json:"pros,omitempty"`
	Cons []string `json:"cons,omitempty"`
}

// Choice is a single-winner answer.
type Choice struct {
	Winner     string      `json:"winner"`
	Candidates []Candidate `json:"candidates"`
}

// Topic is one theme raised in a sentiment answer.
type Topic struct {
	Topic     string  `json:"topic"`
	Sentiment string  `json:"sentiment"`
	Severity  float64 `json:"severity"`
	Summary   string  `json:"summary,omitempty"`
}

// Sentiment is an overall tone plus the topics behind it.
type Sentiment struct {
	Overall string  `json:"sentiment"`
	Topics  []Topic `json:"topics"`
}

// Association ties the target to a product category.
type Association struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Parsed is the tagged union of reply shapes. Only the field matching Shape
// is set.
type Parsed struct {
	Shape        Shape
	Ranking      []RankedEntity
	Choice       *Choice
	Sentiment    *Sentiment
	Associations []Association
}

// Ranks returns the ordered entity list for ranking and choice answers.
// A choice winner is rank 1 and the remaining candidates follow in the
// order the provider listed them.
func (p Parsed) Ranks() []RankedEntity {
	switch p.Shape {
	case ShapeRanking:
		return p.Ranking
	case ShapeChoice:
		out := []RankedEntity{{Name: p.Choice.Winner, Rank: 1}}
		rank := 2
		for _, c := range p.Choice.Candidates {
			if sameName(c.Name, p.Choice.Winner) {
				continue
			}
			out = append(out, RankedEntity{Name: c.Name, Rank: rank})
			rank++
		}
		return out
	}
	return nil
}

// Top returns the #1 entity of a ranking or choice answer.
func (p Parsed) Top() string {
	ranks := p.Ranks()
	if len(ranks) == 0 {
		return ""
	}
	return ranks[0].Name
}

type envelope struct {
	Ranking    []RankedEntity `json:"ranking"`
	Winner     *string        `json:"winner"`
	Candidates []Candidate    `json:"candidates"`
	Sentiment  *string        `json:"sentiment"`
	Topics     []Topic        `json:"topics"`
	Categories []Association  `json:"categories"`
}

// Parse resolves raw provider output. Anything that is not one of the known
// JSON shapes yields ShapeNone.
func Parse(raw string) Parsed {
	text := CleanJSON(raw)
	if text == "" || text[0] != '{' {
		return Parsed{}
	}
	var env envelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return Parsed{}
	}

	switch {
	case len(env.Ranking) > 0:
		return Parsed{Shape: ShapeRanking, Ranking: normalizeRanking(env.Ranking)}
	case env.Winner != nil && strings.TrimSpace(*env.Winner) != "":
		return Parsed{Shape: ShapeChoice, Choice: &Choice{
			Winner:     strings.TrimSpace(*env.Winner),
			Candidates: cleanCandidates(env.Candidates),
		}}
	case env.Sentiment != nil || len(env.Topics) > 0:
		s := &Sentiment{Overall: normalizeSentiment(deref(env.Sentiment))}
		for _, t := range env.Topics {
			name := strings.TrimSpace(t.Topic)
			if name == "" {
				continue
			}
			s.Topics = append(s.Topics, Topic{
				Topic:     name,
				Sentiment: normalizeSentiment(t.Sentiment),
				Severity:  clamp01(t.Severity),
				Summary:   strings.TrimSpace(t.Summary),
			})
		}
		return Parsed{Shape: ShapeSentiment, Sentiment: s}
	case len(env.Categories) > 0:
		var out []Association
		for _, c := range env.Categories {
			name := strings.TrimSpace(c.Name)
			if name == "" {
				continue
			}
			out = append(out, Association{Name: name, Confidence: clamp01(c.Confidence)})
		}
		if len(out) == 0 {
			return Parsed{}
		}
		return Parsed{Shape: ShapeAssociations, Associations: out}
	}
	return Parsed{}
}

// normalizeRanking drops blank names, fills missing ranks from position and
// orders by rank. Ties keep the provider's order.
func normalizeRanking(in []RankedEntity) []RankedEntity {
	out := make([]RankedEntity, 0, len(in))
	for i, e := range in {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			continue
		}
		rank := e.Rank
		if rank <= 0 {
			rank = i + 1
		}
		out = append(out, RankedEntity{Name: name, Rank: rank, Comment: strings.TrimSpace(e.Comment)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}

func cleanCandidates(in []Candidate) []Candidate {
	out := make([]Candidate, 0, len(in))
	for _, c := range in {
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

func normalizeSentiment(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "positive", "pos":
		return "positive"
	case "negative", "neg":
		return "negative"
	case "mixed":
		return "mixed"
	default:
		return "neutral"
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func sameName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// CleanJSON extracts a JSON object from text that may contain markdown code
// fences or surrounding prose.
func CleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
