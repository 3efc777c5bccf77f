// Package questions builds the question battery of a job from templates and
// maps persisted question ids back to their market and category family.
package questions

import (
	_ "embed"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/brand-radar/internal/model"
)

//go:embed templates.yaml
var defaultTemplates []byte

// Set is a template battery. Templates are keyed by analysis kind; Formats
// holds the reply-format instruction appended to every question of a kind.
type Set struct {
	Templates map[model.AnalysisKind][]string `yaml:"templates"`
	Formats   map[model.AnalysisKind]string   `yaml:"formats"`
}

// Default returns the embedded template set.
func Default() (*Set, error) {
	return parse(defaultTemplates)
}

// Load reads a template set from a YAML file. An empty path yields the
// embedded default.
func Load(path string) (*Set, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "questions: read %s", path)
	}
	return parse(data)
}

func parse(data []byte) (*Set, error) {
	var s Set
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, eris.Wrap(err, "questions: parse templates")
	}
	for kind := range s.Templates {
		if !kind.Valid() {
			return nil, eris.Errorf("questions: unknown kind %q", kind)
		}
	}
	return &s, nil
}

// Input is everything Build needs from a job.
type Input struct {
	Target      string
	Category    string
	Competitors []string
	Markets     []model.Market
	Families    []model.CategoryFamily
}

// InputFor assembles an Input from a persisted job and its scope rows.
func InputFor(job *model.Job, markets []model.Market, families []model.CategoryFamily) Input {
	return Input{
		Target:      job.Target,
		Category:    job.Category,
		Competitors: job.Competitors,
		Markets:     markets,
		Families:    families,
	}
}

// Build flattens the battery into one ordered list: markets in the order
// given, kinds in model.AllKinds order, families in the order given,
// templates in file order. Ids are stable for a given input.
func (s *Set) Build(in Input) []model.Question {
	markets := in.Markets
	if len(markets) == 0 {
		markets = []model.Market{{}}
	}
	families := in.Families
	if len(families) == 0 {
		families = []model.CategoryFamily{{}}
	}

	var out []model.Question
	for _, m := range markets {
		for _, kind := range model.AllKinds() {
			templates := s.Templates[kind]
			if !kind.FamilyScoped() {
				vars := replacer(in, m, in.Category, in.Competitors)
				for i, t := range templates {
					out = append(out, model.Question{
						ID:     model.QuestionID(kind, m.Code, "", i+1),
						Kind:   kind,
						Text:   s.render(kind, t, vars, m),
						Market: m.Code,
					})
				}
				continue
			}
			for _, f := range families {
				category, competitors := in.Category, in.Competitors
				if f.ID != "" {
					category = f.NameFor(m.Code)
					if c := f.CompetitorsFor(m.Code); len(c) > 0 {
						competitors = c
					}
				}
				if kind == model.KindCompetitive && len(competitors) == 0 {
					continue
				}
				vars := replacer(in, m, category, competitors)
				for i, t := range templates {
					out = append(out, model.Question{
						ID:       model.QuestionID(kind, m.Code, f.ID, i+1),
						Kind:     kind,
						Text:     s.render(kind, t, vars, m),
						Market:   m.Code,
						FamilyID: f.ID,
					})
				}
			}
		}
	}
	return out
}

func replacer(in Input, m model.Market, category string, competitors []string) *strings.Replacer {
	return strings.NewReplacer(
		"{target}", in.Target,
		"{category}", category,
		"{competitors}", strings.Join(competitors, ", "),
		"{market}", m.Country,
		"{language}", m.Language,
	)
}

func (s *Set) render(kind model.AnalysisKind, tmpl string, vars *strings.Replacer, m model.Market) string {
	text := vars.Replace(tmpl)
	if m.Country != "" {
		text += " Answer for buyers in " + m.Country + "."
	}
	if m.Language != "" {
		text += " Write the answer in " + m.Language + "."
	}
	if f := strings.TrimSpace(s.Formats[kind]); f != "" {
		text += "\n\n" + f
	}
	return text
}

// Scope is the market and family a persisted question id belongs to.
type Scope struct {
	Kind   model.AnalysisKind
	Market string
	Family string
}

// ParseID re-buckets a question id against a job's persisted markets. The
// longest matching market code wins; an unmatched market falls back to the
// primary market. The brand-level family placeholder maps to "".
func ParseID(id string, markets []model.Market) Scope {
	kind, rest, _ := strings.Cut(id, ".")
	sc := Scope{Kind: model.AnalysisKind(kind)}

	// Drop the sequence number.
	body := ""
	if i := strings.LastIndexByte(rest, '.'); i >= 0 {
		body = rest[:i]
	}

	best := ""
	for _, m := range markets {
		if m.Code == "" || len(m.Code) <= len(best) {
			continue
		}
		if body == m.Code || strings.HasPrefix(body, m.Code+".") {
			best = m.Code
		}
	}

	var family string
	if best != "" {
		sc.Market = best
		family = strings.TrimPrefix(strings.TrimPrefix(body, best), ".")
	} else {
		sc.Market = model.PrimaryMarket(markets).Code
		if i := strings.LastIndexByte(body, '.'); i >= 0 {
			family = body[i+1:]
		}
	}
	if family != model.BrandFamily {
		sc.Family = family
	}
	return sc
}
