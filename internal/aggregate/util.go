package aggregate

import (
	"math"
	"sort"

	"github.com/sells-group/brand-radar/internal/model"
)

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// sortedResponses orders responses by question id so folds never depend on
// storage order.
func sortedResponses(in []model.RawResponse) []model.RawResponse {
	out := make([]model.RawResponse, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out
}

func sortedAnswers(in []model.ProviderAnswer) []model.ProviderAnswer {
	out := make([]model.ProviderAnswer, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

func maxAnswers(responses []model.RawResponse) int {
	n := 0
	for _, r := range responses {
		n = max(n, len(r.Answers))
	}
	return n
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
