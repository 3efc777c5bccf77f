package model

import "time"

// Citation is one URL a provider cited in its answer.
type Citation struct {
	URL    string `json:"url"`
	Title  string `json:"title,omitempty"`
	Domain string `json:"domain,omitempty"`
}

// TokenUsage tracks token consumption of one provider call.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates usage from another TokenUsage.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// ProviderAnswer is one provider's half of a RawResponse.
type ProviderAnswer struct {
	Provider   string     `json:"provider"`
	Model      string     `json:"model,omitempty"`
	Raw        string     `json:"raw"`
	Citations  []Citation `json:"citations,omitempty"`
	Usage      TokenUsage `json:"usage"`
	Failed     bool       `json:"failed"`
	Error      string     `json:"error,omitempty"`
	DurationMs int64      `json:"duration_ms"`
}

// RawResponse is the durable record of every provider's answer to one
// question. It is written once and never updated.
type RawResponse struct {
	JobID        string           `json:"job_id"`
	QuestionID   string           `json:"question_id"`
	Kind         AnalysisKind     `json:"kind"`
	QuestionText string           `json:"question_text"`
	Answers      []ProviderAnswer `json:"answers"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Usable reports whether at least one provider answered without error.
func (r RawResponse) Usable() bool {
	for _, a := range r.Answers {
		if !a.Failed && a.Raw != "" {
			return true
		}
	}
	return false
}

// RawKey identifies a RawResponse within a job.
type RawKey struct {
	QuestionID string
	Kind       AnalysisKind
}
