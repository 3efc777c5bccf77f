package pipeline

import (
	"sort"

	"github.com/sells-group/brand-radar/internal/model"
	"github.com/sells-group/brand-radar/internal/questions"
)

// scopeKey addresses one aggregation scope.
type scopeKey struct {
	Kind   model.AnalysisKind
	Market string
	Family string
}

// bucket groups raw responses by kind, market and family using only the
// persisted question ids and the job's persisted markets and families.
// Brand-level kinds always land in the empty family.
func bucket(raws []model.RawResponse, markets []model.Market, families []model.CategoryFamily) (map[scopeKey][]model.RawResponse, []scopeKey) {
	known := make(map[string]bool, len(families))
	for _, f := range families {
		known[f.ID] = true
	}

	out := make(map[scopeKey][]model.RawResponse)
	for _, r := range raws {
		sc := questions.ParseID(r.QuestionID, markets)
		kind := r.Kind
		if kind == "" {
			kind = sc.Kind
		}
		key := scopeKey{Kind: kind, Market: sc.Market}
		if kind.FamilyScoped() && known[sc.Family] {
			key.Family = sc.Family
		}
		out[key] = append(out[key], r)
	}

	keys := make([]scopeKey, 0, len(out))
	for k := range out {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Market != b.Market {
			return a.Market < b.Market
		}
		return a.Family < b.Family
	})
	return out, keys
}

// providerNames lists every provider that appears in the responses, sorted.
func providerNames(raws []model.RawResponse) []string {
	seen := make(map[string]bool)
	for _, r := range raws {
		for _, a := range r.Answers {
			if a.Provider != "" {
				seen[a.Provider] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func sortedMapKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
