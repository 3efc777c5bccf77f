package aggregate

import (
	"sort"

	"github.com/sells-group/brand-radar/internal/answer"
	"github.com/sells-group/brand-radar/internal/model"
	"github.com/sells-group/brand-radar/internal/names"
)

// CategoryStat is one product category the target is associated with.
type CategoryStat struct {
	Name          string   `json:"name"`
	Mentions      int      `json:"mentions"`
	Share         float64  `json:"share"`
	AvgConfidence float64  `json:"avg_confidence"`
	Providers     []string `json:"providers"`
}

// CategorySummary is the result of Categories.
type CategorySummary struct {
	Declared        string         `json:"declared"`
	Questions       int            `json:"questions"`
	Answers         int            `json:"answers"`
	Primary         string         `json:"primary,omitempty"`
	MatchesDeclared bool           `json:"matches_declared"`
	Categories      []CategoryStat `json:"categories"`
}

type categoryAcc struct {
	name      string
	mentions  int
	confSum   float64
	providers map[string]bool
}

// Categories folds category association answers. Share is the fraction of
// usable answers naming the category; Primary is the top category.
func Categories(responses []model.RawResponse, declared string) CategorySummary {
	responses = sortedResponses(responses)
	sum := CategorySummary{Declared: declared, Questions: len(responses)}
	cats := make(map[string]*categoryAcc)

	for _, r := range responses {
		for _, a := range sortedAnswers(r.Answers) {
			if a.Failed {
				continue
			}
			parsed := answer.Parse(a.Raw)
			if parsed.Shape != answer.ShapeAssociations {
				continue
			}
			sum.Answers++
			seen := make(map[string]bool)
			for _, c := range parsed.Associations {
				key := names.Fold(c.Name)
				if key == "" || seen[key] {
					continue
				}
				seen[key] = true
				acc := cats[key]
				if acc == nil {
					acc = &categoryAcc{name: c.Name, providers: make(map[string]bool)}
					cats[key] = acc
				}
				acc.mentions++
				acc.confSum += c.Confidence
				acc.providers[a.Provider] = true
			}
		}
	}

	for _, acc := range cats {
		sum.Categories = append(sum.Categories, CategoryStat{
			Name:          acc.name,
			Mentions:      acc.mentions,
			Share:         round4(float64(acc.mentions) / float64(sum.Answers)),
			AvgConfidence: round4(acc.confSum / float64(acc.mentions)),
			Providers:     sortedKeys(acc.providers),
		})
	}
	sort.Slice(sum.Categories, func(i, j int) bool {
		a, b := sum.Categories[i], sum.Categories[j]
		if a.Mentions != b.Mentions {
			return a.Mentions > b.Mentions
		}
		if a.AvgConfidence != b.AvgConfidence {
			return a.AvgConfidence > b.AvgConfidence
		}
		return a.Name < b.Name
	})

	if len(sum.Categories) > 0 {
		sum.Primary = sum.Categories[0].Name
		sum.MatchesDeclared = declared != "" &&
			(names.Fold(sum.Primary) == names.Fold(declared) ||
				names.Contains(sum.Primary, declared) || names.Contains(declared, sum.Primary))
	}
	return sum
}
