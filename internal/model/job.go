package model

import (
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// JobStatus represents the lifecycle state of an analysis job.
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further status transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is one analysis report for a target brand.
type Job struct {
	ID             string    `json:"id"`
	Target         string    `json:"target"`
	Category       string    `json:"category"`
	Competitors    []string  `json:"competitors,omitempty"`
	OwnedDomains   []string  `json:"owned_domains,omitempty"`
	Status         JobStatus `json:"status"`
	Progress       int       `json:"progress"`
	TotalQuestions int       `json:"total_questions"`
	Processed      int       `json:"processed"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Market scopes a sub-run of a job to one locale.
type Market struct {
	JobID     string `json:"job_id,omitempty" yaml:"-"`
	Code      string `json:"code" yaml:"code"`
	Country   string `json:"country" yaml:"country"`
	Language  string `json:"language" yaml:"language"`
	IsPrimary bool   `json:"is_primary" yaml:"is_primary"`
}

// CategoryFamily is a canonical category concept with per-market names and
// competitor lists. Keys of both maps are market codes.
type CategoryFamily struct {
	JobID       string              `json:"job_id,omitempty" yaml:"-"`
	ID          string              `json:"id" yaml:"id"`
	Names       map[string]string   `json:"names" yaml:"names"`
	Competitors map[string][]string `json:"competitors,omitempty" yaml:"competitors"`
}

// NameFor returns the family name translated for a market, falling back to
// the canonical id.
func (f CategoryFamily) NameFor(market string) string {
	if n, ok := f.Names[market]; ok && n != "" {
		return n
	}
	return f.ID
}

// CompetitorsFor returns the competitor list configured for a market.
func (f CategoryFamily) CompetitorsFor(market string) []string {
	return f.Competitors[market]
}

// JobSpec is the input of a job submission.
type JobSpec struct {
	Target       string           `json:"target" yaml:"target"`
	Category     string           `json:"category" yaml:"category"`
	Competitors  []string         `json:"competitors" yaml:"competitors"`
	OwnedDomains []string         `json:"owned_domains" yaml:"owned_domains"`
	Markets      []Market         `json:"markets" yaml:"markets"`
	Families     []CategoryFamily `json:"families" yaml:"families"`
}

// PrimaryMarket returns the market flagged primary. When none is flagged
// the market with the lowest code wins. Legacy jobs return a zero Market.
func PrimaryMarket(markets []Market) Market {
	if len(markets) == 0 {
		return Market{}
	}
	for _, m := range markets {
		if m.IsPrimary {
			return m
		}
	}
	sorted := slices.Clone(markets)
	slices.SortFunc(sorted, func(a, b Market) int {
		switch {
		case a.Code < b.Code:
			return -1
		case a.Code > b.Code:
			return 1
		}
		return 0
	})
	return sorted[0]
}

// Validate checks a submission before anything is persisted. Family ids are
// embedded in question ids, so they may not contain '.'.
func (s JobSpec) Validate() error {
	if strings.TrimSpace(s.Target) == "" {
		return eris.New("job: target is required")
	}
	codes := make(map[string]bool, len(s.Markets))
	primaries := 0
	for _, m := range s.Markets {
		if m.Code == "" {
			return eris.New("job: market code is required")
		}
		if codes[m.Code] {
			return eris.Errorf("job: duplicate market %q", m.Code)
		}
		codes[m.Code] = true
		if m.IsPrimary {
			primaries++
		}
	}
	if primaries > 1 {
		return eris.New("job: at most one primary market")
	}
	ids := make(map[string]bool, len(s.Families))
	for _, f := range s.Families {
		switch {
		case f.ID == "" || f.ID == BrandFamily:
			return eris.Errorf("job: invalid family id %q", f.ID)
		case strings.Contains(f.ID, "."):
			return eris.Errorf("job: family id %q may not contain '.'", f.ID)
		case ids[f.ID]:
			return eris.Errorf("job: duplicate family %q", f.ID)
		}
		ids[f.ID] = true
	}
	return nil
}
