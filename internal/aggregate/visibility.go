// Package aggregate folds parsed provider answers into per-scope summary
// statistics. Every function here is pure: the same responses and grouping
// always produce the same summary.
package aggregate

import (
	"math"
	"sort"
	"strings"

	"github.com/sells-group/brand-radar/internal/answer"
	"github.com/sells-group/brand-radar/internal/model"
	"github.com/sells-group/brand-radar/internal/names"
)

// ChoiceLossSeverity is the gap severity of a choice answer the target lost.
const ChoiceLossSeverity = 3

// Scope is the set of responses for one (market, family) visibility or
// competitive scope.
type Scope struct {
	Target    string
	Providers []string
	Responses []model.RawResponse
}

// EntityStat is the visibility of one entity or brand family.
type EntityStat struct {
	Name       string   `json:"name"`
	Mentions   int      `json:"mentions"`
	AvgRank    float64  `json:"avg_rank"`
	Visibility float64  `json:"visibility"`
	SOV        float64  `json:"sov"`
	IsTarget   bool     `json:"is_target,omitempty"`
	Members    []string `json:"members,omitempty"`
}

// Gap is one provider answer where something other than the target was #1.
type Gap struct {
	QuestionID string `json:"question_id"`
	Provider   string `json:"provider"`
	Winner     string `json:"winner"`
	TargetRank int    `json:"target_rank,omitempty"`
	Severity   int    `json:"severity"`
	Shape      string `json:"shape"`
}

// CompetitorWin tallies the gaps one brand family won.
type CompetitorWin struct {
	Name        string   `json:"name"`
	Wins        int      `json:"wins"`
	AvgSeverity float64  `json:"avg_severity"`
	QuestionIDs []string `json:"question_ids"`
	Evidence    []string `json:"evidence,omitempty"`
}

// VisibilitySummary is the result of Visibility.
type VisibilitySummary struct {
	Target         string          `json:"target"`
	Questions      int             `json:"questions"`
	Providers      int             `json:"providers"`
	TargetStats    EntityStat      `json:"target_stats"`
	Entities       []EntityStat    `json:"entities"`
	Families       []EntityStat    `json:"families"`
	RankedFirst    []string        `json:"ranked_first"`
	Gaps           []Gap           `json:"gaps"`
	CompetitorWins []CompetitorWin `json:"competitor_wins"`
}

// VisibilityScore is min(mentions / (questions × providers), 1).
func VisibilityScore(mentions, questions, providers int) float64 {
	if questions <= 0 || providers <= 0 {
		return 0
	}
	return math.Min(float64(mentions)/float64(questions*providers), 1)
}

// ShareOfVoice is visibility × 2/(avgRank+1), or 0 when either input is not
// positive.
func ShareOfVoice(visibility, avgRank float64) float64 {
	if visibility <= 0 || avgRank <= 0 {
		return 0
	}
	return visibility * 2 / (avgRank + 1)
}

type entityAcc struct {
	name     string
	mentions int
	rankSum  int
	members  map[string]bool
}

type winAcc struct {
	name        string
	wins        int
	severitySum int
	questions   map[string]bool
	evidence    []string
}

// Visibility computes entity and family visibility, ranked-first questions,
// gaps and competitor wins for one scope. groups maps entity names to their
// parent brand; names missing from it are their own family.
func Visibility(sc Scope, groups map[string]string) VisibilitySummary {
	responses := sortedResponses(sc.Responses)
	providers := len(sc.Providers)
	if providers == 0 {
		providers = maxAnswers(responses)
	}

	parentOf := func(name string) string {
		if p, ok := groups[name]; ok && p != "" {
			return p
		}
		return name
	}
	targetKey := names.Fold(sc.Target)
	isTarget := func(name string) bool {
		if targetKey == "" {
			return false
		}
		return names.Fold(name) == targetKey ||
			names.Contains(name, sc.Target) ||
			names.Fold(parentOf(name)) == targetKey
	}

	entities := make(map[string]*entityAcc)
	wins := make(map[string]*winAcc)
	sum := VisibilitySummary{Target: sc.Target, Questions: len(responses), Providers: providers}

	for _, r := range responses {
		responding, first := 0, 0
		for _, a := range sortedAnswers(r.Answers) {
			if a.Failed {
				continue
			}
			parsed := answer.Parse(a.Raw)
			ranks := parsed.Ranks()
			if len(ranks) == 0 {
				continue
			}
			responding++

			seen := make(map[string]bool, len(ranks))
			targetRank := 0
			for _, e := range ranks {
				key := names.Fold(e.Name)
				if key == "" || seen[key] {
					continue
				}
				seen[key] = true
				acc := entities[key]
				if acc == nil {
					acc = &entityAcc{name: e.Name}
					entities[key] = acc
				}
				acc.mentions++
				acc.rankSum += e.Rank
				if targetRank == 0 && isTarget(e.Name) {
					targetRank = e.Rank
				}
			}

			top := ranks[0]
			if targetRank > 0 && targetRank == top.Rank {
				first++
				continue
			}

			gap := Gap{
				QuestionID: r.QuestionID,
				Provider:   a.Provider,
				Winner:     top.Name,
				TargetRank: targetRank,
				Shape:      parsed.Shape.String(),
			}
			switch {
			case parsed.Shape == answer.ShapeChoice:
				gap.Severity = ChoiceLossSeverity
			case targetRank > 0:
				gap.Severity = targetRank - 1
			default:
				gap.Severity = max(len(ranks), 1)
			}
			sum.Gaps = append(sum.Gaps, gap)

			parent := parentOf(top.Name)
			wkey := names.Fold(parent)
			w := wins[wkey]
			if w == nil {
				w = &winAcc{name: parent, questions: make(map[string]bool)}
				wins[wkey] = w
			}
			w.wins++
			w.severitySum += gap.Severity
			w.questions[r.QuestionID] = true
			w.evidence = append(w.evidence, winnerEvidence(parsed, top.Name)...)
		}
		if responding > 0 && first == responding {
			sum.RankedFirst = append(sum.RankedFirst, r.QuestionID)
		}
	}

	q := sum.Questions
	families := make(map[string]*entityAcc)
	for _, acc := range entities {
		sum.Entities = append(sum.Entities, entityStat(acc, q, providers, isTarget(acc.name)))

		parent := parentOf(acc.name)
		fkey := names.Fold(parent)
		fam := families[fkey]
		if fam == nil {
			fam = &entityAcc{name: parent, members: make(map[string]bool)}
			families[fkey] = fam
		}
		fam.mentions += acc.mentions
		fam.rankSum += acc.rankSum
		fam.members[acc.name] = true
	}
	for _, fam := range families {
		st := entityStat(fam, q, providers, isTarget(fam.name))
		cur := sum.TargetStats
		if st.IsTarget && (st.Mentions > cur.Mentions || (st.Mentions == cur.Mentions && (cur.Name == "" || st.Name < cur.Name))) {
			sum.TargetStats = st
		}
		sum.Families = append(sum.Families, st)
	}
	if sum.TargetStats.Name == "" {
		sum.TargetStats = EntityStat{Name: sc.Target, IsTarget: true}
	}
	sortStats(sum.Entities)
	sortStats(sum.Families)

	for _, w := range wins {
		cw := CompetitorWin{
			Name:        w.name,
			Wins:        w.wins,
			AvgSeverity: round4(float64(w.severitySum) / float64(w.wins)),
			QuestionIDs: sortedKeys(w.questions),
			Evidence:    dedupe(w.evidence),
		}
		sum.CompetitorWins = append(sum.CompetitorWins, cw)
	}
	sort.Slice(sum.CompetitorWins, func(i, j int) bool {
		a, b := sum.CompetitorWins[i], sum.CompetitorWins[j]
		if a.Wins != b.Wins {
			return a.Wins > b.Wins
		}
		return a.Name < b.Name
	})
	return sum
}

func entityStat(acc *entityAcc, questions, providers int, target bool) EntityStat {
	st := EntityStat{Name: acc.name, Mentions: acc.mentions, IsTarget: target}
	if acc.mentions > 0 {
		avg := float64(acc.rankSum) / float64(acc.mentions)
		vis := VisibilityScore(acc.mentions, questions, providers)
		st.AvgRank = round4(avg)
		st.Visibility = round4(vis)
		st.SOV = round4(ShareOfVoice(vis, avg))
	}
	if len(acc.members) > 0 {
		st.Members = sortedKeys(acc.members)
	}
	return st
}

func winnerEvidence(p answer.Parsed, winner string) []string {
	var out []string
	switch p.Shape {
	case answer.ShapeRanking:
		for _, e := range p.Ranking {
			if e.Name == winner && e.Comment != "" {
				out = append(out, e.Comment)
			}
		}
	case answer.ShapeChoice:
		for _, c := range p.Choice.Candidates {
			if strings.EqualFold(c.Name, winner) {
				out = append(out, c.Pros...)
			}
		}
	}
	return out
}

func sortStats(stats []EntityStat) {
	sort.Slice(stats, func(i, j int) bool {
		a, b := stats[i], stats[j]
		if a.SOV != b.SOV {
			return a.SOV > b.SOV
		}
		if a.Mentions != b.Mentions {
			return a.Mentions > b.Mentions
		}
		return a.Name < b.Name
	})
}
