package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/brand-radar/internal/model"
	"github.com/sells-group/brand-radar/pkg/anthropic"
)

var providers = []string{"anthropic", "perplexity"}

func ranking(names ...string) string {
	type entry struct {
		Name string `json:"name"`
		Rank int    `json:"rank"`
	}
	out := make([]entry, len(names))
	for i, n := range names {
		out[i] = entry{Name: n, Rank: i + 1}
	}
	b, _ := json.Marshal(map[string]any{"ranking": out})
	return string(b)
}

func resp(id string, answers ...string) model.RawResponse {
	r := model.RawResponse{QuestionID: id, Kind: model.KindFromQuestionID(id)}
	for i, raw := range answers {
		r.Answers = append(r.Answers, model.ProviderAnswer{Provider: providers[i], Raw: raw})
	}
	return r
}

func TestVisibilityScoreAndSOV(t *testing.T) {
	assert.Equal(t, 0.15, VisibilityScore(3, 10, 2))
	assert.Equal(t, 1.0, VisibilityScore(50, 10, 2))
	assert.Zero(t, VisibilityScore(3, 0, 2))
	assert.InDelta(t, 0.128571, ShareOfVoice(0.15, 4.0/3.0), 1e-6)
	assert.Zero(t, ShareOfVoice(0, 1))
	assert.Zero(t, ShareOfVoice(0.5, 0))
}

func TestVisibility_FormulaExample(t *testing.T) {
	var responses []model.RawResponse
	for i := 1; i <= 10; i++ {
		id := fmt.Sprintf("visibility.%d", i)
		switch i {
		case 1:
			responses = append(responses, resp(id, ranking("Acme", "Globex"), ranking("Globex", "Acme")))
		case 2:
			responses = append(responses, resp(id, ranking("Acme"), ranking("Globex")))
		default:
			responses = append(responses, resp(id, ranking("Globex"), ranking("Globex")))
		}
	}

	sum := Visibility(Scope{Target: "Acme", Providers: providers, Responses: responses}, nil)
	assert.Equal(t, 10, sum.Questions)
	assert.Equal(t, "Acme", sum.TargetStats.Name)
	assert.Equal(t, 3, sum.TargetStats.Mentions)
	assert.Equal(t, 0.15, sum.TargetStats.Visibility)
	assert.Equal(t, 1.3333, sum.TargetStats.AvgRank)
	assert.Equal(t, 0.1286, sum.TargetStats.SOV)
	assert.True(t, sum.TargetStats.IsTarget)

	require.NotEmpty(t, sum.Entities)
	assert.Equal(t, "Globex", sum.Entities[0].Name)
	assert.Empty(t, sum.RankedFirst)
}

func TestVisibility_RankedFirstRequiresEveryProvider(t *testing.T) {
	responses := []model.RawResponse{
		resp("visibility.1", ranking("Acme", "Globex"), ranking("Globex", "Acme")),
		resp("visibility.2", ranking("Acme", "Globex"), ranking("Acme Corp", "Globex")),
	}
	sum := Visibility(Scope{Target: "Acme", Providers: providers, Responses: responses}, nil)

	assert.Equal(t, []string{"visibility.2"}, sum.RankedFirst)
	require.Len(t, sum.Gaps, 1)
	gap := sum.Gaps[0]
	assert.Equal(t, "visibility.1", gap.QuestionID)
	assert.Equal(t, "perplexity", gap.Provider)
	assert.Equal(t, "Globex", gap.Winner)
	assert.Equal(t, 2, gap.TargetRank)
	assert.Equal(t, 1, gap.Severity)
}

func TestVisibility_FailedProviderDoesNotBlockRankedFirst(t *testing.T) {
	r := resp("visibility.1", ranking("Acme"), "")
	r.Answers[1].Failed = true
	sum := Visibility(Scope{Target: "Acme", Providers: providers, Responses: []model.RawResponse{r}}, nil)
	assert.Equal(t, []string{"visibility.1"}, sum.RankedFirst)
}

func TestVisibility_GapSeverities(t *testing.T) {
	choice := `{"winner":"Globex","candidates":[{"name":"Globex","pros":["cheaper plans"]},{"name":"Acme"}]}`
	responses := []model.RawResponse{
		resp("competitive.1", choice, ranking("Initech", "Globex", "Hooli")),
	}
	sum := Visibility(Scope{Target: "Acme", Providers: providers, Responses: responses}, nil)

	require.Len(t, sum.Gaps, 2)
	assert.Equal(t, ChoiceLossSeverity, sum.Gaps[0].Severity)
	assert.Equal(t, "choice", sum.Gaps[0].Shape)
	assert.Equal(t, 3, sum.Gaps[1].Severity, "omitted target costs the ranking length")
	assert.Zero(t, sum.Gaps[1].TargetRank)

	require.Len(t, sum.CompetitorWins, 2)
	assert.Equal(t, "Globex", sum.CompetitorWins[0].Name)
	assert.Equal(t, []string{"cheaper plans"}, sum.CompetitorWins[0].Evidence)
	assert.Equal(t, "Initech", sum.CompetitorWins[1].Name)
}

func TestVisibility_FamilyRollup(t *testing.T) {
	responses := []model.RawResponse{
		resp("visibility.1", ranking("Globex One", "Acme"), ranking("Globex", "Acme")),
	}
	groups := map[string]string{"Globex One": "Globex", "Globex": "Globex"}
	sum := Visibility(Scope{Target: "Acme", Providers: providers, Responses: responses}, groups)

	require.Len(t, sum.Families, 2)
	fam := sum.Families[0]
	assert.Equal(t, "Globex", fam.Name)
	assert.Equal(t, 2, fam.Mentions)
	assert.Equal(t, 1.0, fam.AvgRank)
	assert.Equal(t, []string{"Globex", "Globex One"}, fam.Members)

	require.Len(t, sum.CompetitorWins, 1)
	assert.Equal(t, 2, sum.CompetitorWins[0].Wins)
}

func TestVisibility_Deterministic(t *testing.T) {
	responses := []model.RawResponse{
		resp("visibility.2", ranking("Hooli", "Acme", "Initech"), ranking("Initech", "Hooli")),
		resp("visibility.1", ranking("Acme", "Globex"), ranking("Globex", "Acme")),
	}
	reversed := []model.RawResponse{responses[1], responses[0]}

	a, err := json.Marshal(Visibility(Scope{Target: "Acme", Providers: providers, Responses: responses}, nil))
	require.NoError(t, err)
	b, err := json.Marshal(Visibility(Scope{Target: "Acme", Providers: providers, Responses: reversed}, nil))
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestReputation(t *testing.T) {
	responses := []model.RawResponse{
		resp("reputation.1",
			`{"sentiment":"negative","topics":[{"topic":"Support","sentiment":"negative","severity":0.8,"summary":"slow replies"},{"topic":"Pricing","sentiment":"positive"}]}`,
			`{"sentiment":"positive","topics":[{"topic":"support","sentiment":"negative","severity":0.4}]}`),
		resp("reputation.2", `not json`, `{"sentiment":"mixed","topics":[]}`),
	}
	sum := Reputation(responses)

	assert.Equal(t, 2, sum.Questions)
	assert.Equal(t, 3, sum.Answers)
	assert.Equal(t, map[string]int{"negative": 1, "positive": 1, "mixed": 1}, sum.Overall)
	assert.Zero(t, sum.Score)

	require.Len(t, sum.Topics, 2)
	support := sum.Topics[0]
	assert.Equal(t, "Support", support.Topic)
	assert.Equal(t, "negative", support.Sentiment)
	assert.Equal(t, 2, support.Negative)
	assert.Equal(t, 0.6, support.Severity)
	assert.Equal(t, providers, support.Providers)
	assert.Equal(t, []string{"slow replies"}, support.Summaries)

	assert.Equal(t, "positive", sum.Topics[1].Sentiment)
	assert.Len(t, sum.NegativeTopics(), 1)
}

func TestDominantTieBreak(t *testing.T) {
	assert.Equal(t, "negative", dominant(TopicStat{Negative: 1, Positive: 1}))
	assert.Equal(t, "mixed", dominant(TopicStat{Mixed: 2, Positive: 2}))
	assert.Equal(t, "neutral", dominant(TopicStat{Neutral: 3, Positive: 1}))
}

func TestCategories(t *testing.T) {
	responses := []model.RawResponse{
		resp("category_detection.1",
			`{"categories":[{"name":"CRM Software","confidence":0.9},{"name":"Help Desk","confidence":0.5}]}`,
			`{"categories":[{"name":"crm software","confidence":0.7}]}`),
	}
	sum := Categories(responses, "CRM")

	assert.Equal(t, 2, sum.Answers)
	require.Len(t, sum.Categories, 2)
	assert.Equal(t, "CRM Software", sum.Primary)
	assert.Equal(t, 1.0, sum.Categories[0].Share)
	assert.Equal(t, 0.8, sum.Categories[0].AvgConfidence)
	assert.Equal(t, 0.5, sum.Categories[1].Share)
	assert.True(t, sum.MatchesDeclared)

	assert.False(t, Categories(responses, "Payroll").MatchesDeclared)
	assert.Empty(t, Categories(nil, "CRM").Primary)
}

func TestSubstringGrouper(t *testing.T) {
	groups, err := SubstringGrouper{}.Group(context.Background(),
		[]string{"Acme Pro Max", "Acme", "Acme Pro", "Globex", "Acmeville"})
	require.NoError(t, err)
	assert.Equal(t, "Acme", groups["Acme Pro"])
	assert.Equal(t, "Acme", groups["Acme Pro Max"])
	assert.Equal(t, "Acme", groups["Acme"])
	assert.Equal(t, "Acmeville", groups["Acmeville"])
	assert.Equal(t, "Globex", groups["Globex"])
}

type mockClient struct {
	mock.Mock
}

func (m *mockClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func TestModelGrouper(t *testing.T) {
	client := &mockClient{}
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Temperature != nil && *req.Temperature == 0
	})).Return(&anthropic.MessageResponse{
		Text: `{"groups":{"Gmail":"Google","Google":"Google"}}`,
	}, nil).Once()

	groups, err := NewModelGrouper(client, "haiku").Group(context.Background(),
		[]string{"Gmail", "Google", "Acme", "Acme Pro"})
	require.NoError(t, err)
	assert.Equal(t, "Google", groups["Gmail"])
	assert.Equal(t, "Acme", groups["Acme Pro"], "names the model skipped use substring groups")
	client.AssertExpectations(t)
}

func TestModelGrouper_FallsBackOnError(t *testing.T) {
	client := &mockClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("overloaded"))

	groups, err := NewModelGrouper(client, "haiku").Group(context.Background(), []string{"Acme", "Acme Pro"})
	require.NoError(t, err)
	assert.Equal(t, "Acme", groups["Acme Pro"])
}

func TestEntityNames(t *testing.T) {
	sc := Scope{Responses: []model.RawResponse{
		resp("visibility.1", ranking("Globex", "Acme"), `{"winner":"Hooli","candidates":[{"name":"Acme"}]}`),
	}}
	assert.Equal(t, []string{"Acme", "Globex", "Hooli"}, EntityNames(sc))
}
