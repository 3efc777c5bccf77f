package aggregate

import (
	"sort"

	"github.com/sells-group/brand-radar/internal/answer"
	"github.com/sells-group/brand-radar/internal/model"
	"github.com/sells-group/brand-radar/internal/names"
)

// TopicStat aggregates one reputation topic across answers.
type TopicStat struct {
	Topic       string   `json:"topic"`
	Sentiment   string   `json:"sentiment"`
	Mentions    int      `json:"mentions"`
	Positive    int      `json:"positive"`
	Negative    int      `json:"negative"`
	Mixed       int      `json:"mixed"`
	Neutral     int      `json:"neutral"`
	Severity    float64  `json:"severity"`
	Providers   []string `json:"providers"`
	QuestionIDs []string `json:"question_ids"`
	Summaries   []string `json:"summaries,omitempty"`
}

// ReputationSummary is the result of Reputation.
type ReputationSummary struct {
	Questions int            `json:"questions"`
	Answers   int            `json:"answers"`
	Overall   map[string]int `json:"overall"`
	Score     float64        `json:"score"`
	Topics    []TopicStat    `json:"topics"`
}

type topicAcc struct {
	stat        TopicStat
	severitySum float64
	providers   map[string]bool
	questions   map[string]bool
}

// Reputation folds sentiment answers into overall tone counts and per-topic
// statistics. Score is (positive − negative) / answers. A topic's severity
// is the mean severity of its negative mentions.
func Reputation(responses []model.RawResponse) ReputationSummary {
	responses = sortedResponses(responses)
	sum := ReputationSummary{Questions: len(responses), Overall: map[string]int{}}
	topics := make(map[string]*topicAcc)

	for _, r := range responses {
		for _, a := range sortedAnswers(r.Answers) {
			if a.Failed {
				continue
			}
			parsed := answer.Parse(a.Raw)
			if parsed.Shape != answer.ShapeSentiment {
				continue
			}
			sum.Answers++
			sum.Overall[parsed.Sentiment.Overall]++

			for _, t := range parsed.Sentiment.Topics {
				key := names.Fold(t.Topic)
				if key == "" {
					continue
				}
				acc := topics[key]
				if acc == nil {
					acc = &topicAcc{
						stat:      TopicStat{Topic: t.Topic},
						providers: make(map[string]bool),
						questions: make(map[string]bool),
					}
					topics[key] = acc
				}
				acc.stat.Mentions++
				switch t.Sentiment {
				case "positive":
					acc.stat.Positive++
				case "negative":
					acc.stat.Negative++
					acc.severitySum += t.Severity
				case "mixed":
					acc.stat.Mixed++
				default:
					acc.stat.Neutral++
				}
				acc.providers[a.Provider] = true
				acc.questions[r.QuestionID] = true
				if t.Summary != "" {
					acc.stat.Summaries = append(acc.stat.Summaries, t.Summary)
				}
			}
		}
	}

	if sum.Answers > 0 {
		sum.Score = round4(float64(sum.Overall["positive"]-sum.Overall["negative"]) / float64(sum.Answers))
	}

	for _, acc := range topics {
		st := acc.stat
		st.Sentiment = dominant(st)
		if st.Negative > 0 {
			st.Severity = round4(acc.severitySum / float64(st.Negative))
		}
		st.Providers = sortedKeys(acc.providers)
		st.QuestionIDs = sortedKeys(acc.questions)
		st.Summaries = dedupe(st.Summaries)
		sum.Topics = append(sum.Topics, st)
	}
	sort.Slice(sum.Topics, func(i, j int) bool {
		a, b := sum.Topics[i], sum.Topics[j]
		if a.Severity != b.Severity {
			return a.Severity > b.Severity
		}
		if a.Mentions != b.Mentions {
			return a.Mentions > b.Mentions
		}
		return a.Topic < b.Topic
	})
	return sum
}

// dominant picks the most frequent label. Ties resolve negative, mixed,
// positive, neutral so that a contested topic is never reported as fine.
func dominant(st TopicStat) string {
	best, label := st.Negative, "negative"
	for _, c := range []struct {
		n     int
		label string
	}{{st.Mixed, "mixed"}, {st.Positive, "positive"}, {st.Neutral, "neutral"}} {
		if c.n > best {
			best, label = c.n, c.label
		}
	}
	return label
}

// NegativeTopics returns the topics whose dominant sentiment is negative.
func (s ReputationSummary) NegativeTopics() []TopicStat {
	var out []TopicStat
	for _, t := range s.Topics {
		if t.Sentiment == "negative" {
			out = append(out, t)
		}
	}
	return out
}
