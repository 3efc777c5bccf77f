package model

import "time"

// OpportunityType is the scoring family an opportunity came from.
type OpportunityType string

const (
	OpportunityReputation  OpportunityType = "reputation"
	OpportunityCompetitive OpportunityType = "competitive"
	OpportunitySource      OpportunityType = "source_outreach"
)

// Tier is the priority bucket derived from impact and effort.
type Tier string

const (
	TierCritical    Tier = "Critical"
	TierQuickWin    Tier = "Quick Win"
	TierStrategic   Tier = "Strategic"
	TierLowPriority Tier = "Low Priority"
)

// Urgency orders tiers for display. Lower sorts first.
func (t Tier) Urgency() int {
	switch t {
	case TierCritical:
		return 0
	case TierQuickWin:
		return 1
	case TierStrategic:
		return 2
	default:
		return 3
	}
}

// IDPrefix returns the opportunity id prefix for a tier.
func (t Tier) IDPrefix() string {
	switch t {
	case TierCritical:
		return "CRIT"
	case TierQuickWin:
		return "QW"
	case TierStrategic:
		return "STRAT"
	default:
		return "LOW"
	}
}

// OpportunityStatus is user-owned and never affects scoring.
type OpportunityStatus string

const (
	OpportunityOpen        OpportunityStatus = "open"
	OpportunityInProgress  OpportunityStatus = "in_progress"
	OpportunityImplemented OpportunityStatus = "implemented"
	OpportunityDismissed   OpportunityStatus = "dismissed"
)

// IsValid reports whether s is a known opportunity status.
func (s OpportunityStatus) IsValid() bool {
	switch s {
	case OpportunityOpen, OpportunityInProgress, OpportunityImplemented, OpportunityDismissed:
		return true
	}
	return false
}

// Opportunity is one scored improvement action for the target brand.
type Opportunity struct {
	JobID       string          `json:"job_id,omitempty"`
	ID          string          `json:"id"`
	Type        OpportunityType `json:"type"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Target      string          `json:"target"`
	Market      string          `json:"market,omitempty"`
	Impact      float64         `json:"impact"`
	Effort      float64         `json:"effort"`
	Tier        Tier            `json:"tier"`
	Evidence    []string        `json:"evidence,omitempty"`
	Sources     []string        `json:"sources,omitempty"`

	Status        OpportunityStatus `json:"status"`
	ImplementedAt *time.Time        `json:"implemented_at,omitempty"`
	Notes         []string          `json:"notes,omitempty"`
}
