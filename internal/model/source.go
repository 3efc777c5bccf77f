package model

// SourceCategory is the closed set of categories a cited source can take.
type SourceCategory string

const (
	CategoryJournalism             SourceCategory = "journalism"
	CategoryOwnedMedia             SourceCategory = "owned_media"
	CategoryCompetitorMedia        SourceCategory = "competitor_media"
	CategorySocialUGC              SourceCategory = "social_ugc"
	CategoryAggregatorEncyclopedic SourceCategory = "aggregator_encyclopedic"
	CategoryGovernmentNGO          SourceCategory = "government_ngo"
	CategoryAcademic               SourceCategory = "academic"
	CategoryPaidAdvertorial        SourceCategory = "paid_advertorial"
	CategoryPressRelease           SourceCategory = "press_release"
	CategoryOther                  SourceCategory = "other"
)

// AllSourceCategories returns every defined source category.
func AllSourceCategories() []SourceCategory {
	return []SourceCategory{
		CategoryJournalism,
		CategoryOwnedMedia,
		CategoryCompetitorMedia,
		CategorySocialUGC,
		CategoryAggregatorEncyclopedic,
		CategoryGovernmentNGO,
		CategoryAcademic,
		CategoryPaidAdvertorial,
		CategoryPressRelease,
		CategoryOther,
	}
}

// IsValid reports whether c is one of the defined categories.
func (c SourceCategory) IsValid() bool {
	for _, known := range AllSourceCategories() {
		if c == known {
			return true
		}
	}
	return false
}

// Confidence is the classifier's certainty for a category assignment.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// IsValid reports whether c is a known confidence level.
func (c Confidence) IsValid() bool {
	return c == ConfidenceHigh || c == ConfidenceMedium || c == ConfidenceLow
}

// ChannelMetadata describes the channel behind a video platform URL.
type ChannelMetadata struct {
	Platform  string `json:"platform"`
	ChannelID string `json:"channel_id,omitempty"`
	Handle    string `json:"handle,omitempty"`
	VideoID   string `json:"video_id,omitempty"`
}

// Source is one cited URL, deduplicated per job by its normalised form.
type Source struct {
	JobID         string           `json:"job_id,omitempty"`
	URL           string           `json:"url"`
	Domain        string           `json:"domain"`
	Title         string           `json:"title,omitempty"`
	Providers     []string         `json:"providers"`
	CitationCount int              `json:"citation_count"`
	QuestionIDs   []string         `json:"question_ids"`
	Category      SourceCategory   `json:"category"`
	Confidence    Confidence       `json:"confidence"`
	Reasoning     string           `json:"reasoning,omitempty"`
	Competitor    string           `json:"competitor,omitempty"`
	Authority     float64          `json:"authority"`
	Channel       *ChannelMetadata `json:"channel,omitempty"`
}

// CitedByAll reports whether every given provider cited this source.
func (s Source) CitedByAll(providers []string) bool {
	if len(providers) == 0 {
		return false
	}
	seen := make(map[string]bool, len(s.Providers))
	for _, p := range s.Providers {
		seen[p] = true
	}
	for _, p := range providers {
		if !seen[p] {
			return false
		}
	}
	return true
}
