package model

import (
	"encoding/json"
	"time"
)

// AnalysisResult is one aggregator output. (JobID, Kind, Market, Category)
// is the replace key.
type AnalysisResult struct {
	JobID     string          `json:"job_id"`
	Kind      AnalysisKind    `json:"kind"`
	Market    string          `json:"market"`
	Category  string          `json:"category"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// ResumeCandidate summarises what a non-terminal job has persisted.
type ResumeCandidate struct {
	JobID          string `json:"job_id"`
	RawCount       int    `json:"raw_count"`
	KindsAttempted int    `json:"kinds_attempted"`
	ResultCount    int    `json:"result_count"`
}

// Resumable reports whether recovery should replay the analysis stage.
func (c ResumeCandidate) Resumable() bool {
	if c.RawCount < 1 {
		return false
	}
	return c.ResultCount == 0 || c.ResultCount < c.KindsAttempted
}

// JobFilter narrows a job listing.
type JobFilter struct {
	Status JobStatus
	Target string
	Limit  int
	Offset int
}
