package aggregate

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/brand-radar/internal/answer"
	"github.com/sells-group/brand-radar/internal/names"
	"github.com/sells-group/brand-radar/pkg/anthropic"
)

// Grouper maps entity names to their parent brand. Names that are their own
// parent may be omitted from the result.
type Grouper interface {
	Group(ctx context.Context, entities []string) (map[string]string, error)
}

// SubstringGrouper groups a name under the shortest other name it contains
// on word boundaries, so "Acme Pro" and "Acme Pro Max" both fold into
// "Acme".
type SubstringGrouper struct{}

// Group implements Grouper. It never fails.
func (SubstringGrouper) Group(_ context.Context, entities []string) (map[string]string, error) {
	return substringGroups(entities), nil
}

func substringGroups(entities []string) map[string]string {
	type entry struct {
		name string
		key  string
	}
	var list []entry
	seen := make(map[string]bool)
	for _, e := range entities {
		k := names.Fold(e)
		if k == "" || seen[e] {
			continue
		}
		seen[e] = true
		list = append(list, entry{name: e, key: k})
	}
	sort.Slice(list, func(i, j int) bool {
		if len(list[i].key) != len(list[j].key) {
			return len(list[i].key) < len(list[j].key)
		}
		if list[i].key != list[j].key {
			return list[i].key < list[j].key
		}
		return list[i].name < list[j].name
	})

	out := make(map[string]string, len(list))
	for i, e := range list {
		parent := e.name
		for _, shorter := range list[:i] {
			if shorter.key == e.key || names.Contains(e.name, shorter.name) {
				parent = out[shorter.name]
				break
			}
		}
		out[e.name] = parent
	}
	return out
}

// ModelGrouper asks a model to cluster names into brand families at
// temperature 0. Names the model leaves out, and every name when the call
// fails, are grouped by SubstringGrouper.
type ModelGrouper struct {
	client anthropic.Client
	model  string
}

// NewModelGrouper creates a ModelGrouper.
func NewModelGrouper(client anthropic.Client, model string) *ModelGrouper {
	return &ModelGrouper{client: client, model: model}
}

const groupPrompt = `You group product and company names into brand families.
You receive a JSON array of names. Reply with JSON only:
{"groups": {"<name>": "<parent brand>"}}
Use the exact input strings as keys. A name that is its own brand maps to itself.
Only group names that belong to the same company or product line.`

// Group implements Grouper. Model failures are logged and degrade to the
// substring fallback; the returned error is always nil.
func (g *ModelGrouper) Group(ctx context.Context, entities []string) (map[string]string, error) {
	fallback := substringGroups(entities)
	if g.client == nil || len(entities) < 2 {
		return fallback, nil
	}

	sorted := append([]string(nil), entities...)
	sort.Strings(sorted)
	payload, err := json.Marshal(sorted)
	if err != nil {
		return fallback, nil
	}

	temp := 0.0
	resp, err := g.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       g.model,
		MaxTokens:   int64(256 + 32*len(sorted)),
		System:      groupPrompt,
		Prompt:      string(payload),
		Temperature: &temp,
	})
	if err != nil {
		zap.L().Warn("aggregate: brand grouping failed, using substring groups", zap.Error(err))
		return fallback, nil
	}

	groups, err := parseGroups(resp.Text)
	if err != nil {
		zap.L().Warn("aggregate: unreadable brand groups, using substring groups", zap.Error(err))
		return fallback, nil
	}

	out := make(map[string]string, len(fallback))
	for name, parent := range fallback {
		if p := strings.TrimSpace(groups[name]); p != "" {
			parent = p
		}
		out[name] = parent
	}
	return out, nil
}

func parseGroups(text string) (map[string]string, error) {
	var reply struct {
		Groups map[string]string `json:"groups"`
	}
	if err := json.Unmarshal([]byte(answer.CleanJSON(text)), &reply); err != nil {
		return nil, eris.Wrap(err, "aggregate: parse groups")
	}
	return reply.Groups, nil
}

// EntityNames lists every distinct entity named by ranking or choice answers.
func EntityNames(sc Scope) []string {
	seen := make(map[string]bool)
	for _, r := range sc.Responses {
		for _, a := range r.Answers {
			if a.Failed {
				continue
			}
			for _, e := range answer.Parse(a.Raw).Ranks() {
				if e.Name != "" {
					seen[e.Name] = true
				}
			}
		}
	}
	return sortedKeys(seen)
}
