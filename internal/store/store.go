package store

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/brand-radar/internal/model"
)

// ErrNotFound is wrapped by lookups that match no row.
var ErrNotFound = eris.New("store: not found")

// OpportunityUpdate carries the user-owned fields of an opportunity. Nil or
// empty fields are left unchanged.
type OpportunityUpdate struct {
	Status *model.OpportunityStatus
	Note   string
	At     time.Time
}

// Analysis is the output of one analysis pass. Opportunities are replaced
// only when Scored is set; a pass whose scoring failed keeps the previous set.
type Analysis struct {
	Results       []model.AnalysisResult
	Opportunities []model.Opportunity
	Scored        bool
}

// Store defines the persistence interface for analysis jobs.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, spec model.JobSpec) (*model.Job, error)
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, filter model.JobFilter) ([]model.Job, error)
	UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus, errMsg string) error
	UpdateJobProgress(ctx context.Context, jobID string, processed, progress int) error
	SetJobTotal(ctx context.Context, jobID string, total int) error
	DeleteJob(ctx context.Context, jobID string) error

	// Scope
	ListMarkets(ctx context.Context, jobID string) ([]model.Market, error)
	ListCategoryFamilies(ctx context.Context, jobID string) ([]model.CategoryFamily, error)

	// Raw responses
	InsertRawResponse(ctx context.Context, r model.RawResponse) (bool, error)
	ListRawResponses(ctx context.Context, jobID string) ([]model.RawResponse, error)
	RawResponseKeys(ctx context.Context, jobID string) (map[model.RawKey]bool, error)

	// Analysis output
	UpsertSources(ctx context.Context, jobID string, sources []model.Source) error
	ListSources(ctx context.Context, jobID string) ([]model.Source, error)
	UpsertAnalysisResult(ctx context.Context, r model.AnalysisResult) error
	ListAnalysisResults(ctx context.Context, jobID string) ([]model.AnalysisResult, error)
	ReplaceOpportunities(ctx context.Context, jobID string, opps []model.Opportunity) error
	// SaveAnalysis writes every result and the opportunity set in one
	// transaction, so complete results imply persisted scoring.
	SaveAnalysis(ctx context.Context, jobID string, a Analysis) error
	ListOpportunities(ctx context.Context, jobID string) ([]model.Opportunity, error)
	UpdateOpportunity(ctx context.Context, jobID, oppID string, upd OpportunityUpdate) error

	// Recovery
	ListResumeCandidates(ctx context.Context) ([]model.ResumeCandidate, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// opportunityKey identifies an opportunity across re-scoring runs so that
// user-owned fields survive replacement.
func opportunityKey(o model.Opportunity) string {
	return string(o.Type) + "\x00" + o.Market + "\x00" + o.Target
}

type opportunityAux struct {
	status        model.OpportunityStatus
	implementedAt *time.Time
	notes         []string
}

// carryAux copies user-owned fields from the previous generation onto the
// freshly scored opportunities.
func carryAux(opps []model.Opportunity, prev map[string]opportunityAux) []model.Opportunity {
	out := make([]model.Opportunity, len(opps))
	for i, o := range opps {
		if aux, ok := prev[opportunityKey(o)]; ok {
			o.Status = aux.status
			o.ImplementedAt = aux.implementedAt
			o.Notes = aux.notes
		}
		if o.Status == "" {
			o.Status = model.OpportunityOpen
		}
		out[i] = o
	}
	return out
}

func applyUpdate(aux opportunityAux, upd OpportunityUpdate) (opportunityAux, error) {
	at := upd.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if upd.Status != nil {
		if !upd.Status.IsValid() {
			return aux, eris.Errorf("store: invalid opportunity status %q", *upd.Status)
		}
		aux.status = *upd.Status
		if *upd.Status == model.OpportunityImplemented && aux.implementedAt == nil {
			aux.implementedAt = &at
		}
	}
	if upd.Note != "" {
		aux.notes = append(aux.notes, upd.Note)
	}
	return aux, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func decodeJobJSON(j *model.Job, competitors, owned []byte) error {
	if len(competitors) > 0 {
		if err := json.Unmarshal(competitors, &j.Competitors); err != nil {
			return eris.Wrap(err, "unmarshal competitors")
		}
	}
	if len(owned) > 0 {
		if err := json.Unmarshal(owned, &j.OwnedDomains); err != nil {
			return eris.Wrap(err, "unmarshal owned domains")
		}
	}
	return nil
}

func decodeSourceJSON(src *model.Source, providers, qids, channel []byte) error {
	if err := json.Unmarshal(providers, &src.Providers); err != nil {
		return eris.Wrap(err, "unmarshal providers")
	}
	if err := json.Unmarshal(qids, &src.QuestionIDs); err != nil {
		return eris.Wrap(err, "unmarshal question ids")
	}
	if len(channel) > 0 {
		src.Channel = &model.ChannelMetadata{}
		if err := json.Unmarshal(channel, src.Channel); err != nil {
			return eris.Wrap(err, "unmarshal channel")
		}
	}
	return nil
}

func decodeOpportunityJSON(o *model.Opportunity, evidence, sources, notes []byte) error {
	if err := json.Unmarshal(evidence, &o.Evidence); err != nil {
		return eris.Wrap(err, "unmarshal evidence")
	}
	if err := json.Unmarshal(sources, &o.Sources); err != nil {
		return eris.Wrap(err, "unmarshal sources")
	}
	if err := json.Unmarshal(notes, &o.Notes); err != nil {
		return eris.Wrap(err, "unmarshal notes")
	}
	return nil
}

// sortOpportunities restores display order: tier urgency, then impact.
func sortOpportunities(opps []model.Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		a, b := opps[i], opps[j]
		if a.Tier.Urgency() != b.Tier.Urgency() {
			return a.Tier.Urgency() < b.Tier.Urgency()
		}
		if a.Impact != b.Impact {
			return a.Impact > b.Impact
		}
		return a.ID < b.ID
	})
}
