package model

import (
	"encoding/json"
	"math"
	"time"
)

// SessionStatus represents the lifecycle state of an analysis session.
type SessionStatus string

const (
	SessionPending    SessionStatus = "pending"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// CanTransition reports whether moving from s to next is a legal forward step.
// Re-asserting the current non-terminal status is allowed.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	switch s {
	case SessionPending:
		return next == SessionPending || next == SessionInProgress || next == SessionFailed
	case SessionInProgress:
		return next == SessionInProgress || next == SessionCompleted || next == SessionFailed
	default:
		return false
	}
}

// Metadata keys written into ProgressRecord.Metadata.
const (
	MetaResults      = "results"
	MetaSuccessRate  = "successRate"
	MetaTotalCostUSD = "totalCostUsd"
)

// AnalysisSession is one batch request to analyze a list of competitors.
type AnalysisSession struct {
	SessionID       string            `json:"session_id" db:"session_id"`
	CompetitorNames []string          `json:"competitor_names" db:"competitor_names"`
	Providers       []string          `json:"providers" db:"providers"`
	Models          map[string]string `json:"models,omitempty" db:"models"`
	Status          SessionStatus     `json:"status" db:"status"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at" db:"updated_at"`
}

// ProgressRecord is the single mutable status object for a session.
type ProgressRecord struct {
	SessionID            string         `json:"session_id"`
	TotalCompetitors     int            `json:"total_competitors"`
	CompletedCompetitors int            `json:"completed_competitors"`
	CurrentCompetitor    *string        `json:"current_competitor"`
	ProgressPercentage   int            `json:"progress_percentage"`
	Status               SessionStatus  `json:"status"`
	ErrorMessage         *string        `json:"error_message"`
	Metadata             map[string]any `json:"metadata"`
	Version              int64          `json:"version"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// Percentage returns round(100*completed/total), 0 when total is 0.
func Percentage(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(completed) / float64(total)))
}

// Clone returns a deep enough copy for handing to observers.
func (r *ProgressRecord) Clone() ProgressRecord {
	out := *r
	if r.CurrentCompetitor != nil {
		v := *r.CurrentCompetitor
		out.CurrentCompetitor = &v
	}
	if r.ErrorMessage != nil {
		v := *r.ErrorMessage
		out.ErrorMessage = &v
	}
	out.Metadata = make(map[string]any, len(r.Metadata))
	for k, v := range r.Metadata {
		if m, ok := v.(map[string]any); ok {
			cp := make(map[string]any, len(m))
			for mk, mv := range m {
				cp[mk] = mv
			}
			v = cp
		}
		out.Metadata[k] = v
	}
	return out
}

// ProviderOutcome records what one provider returned for one competitor.
type ProviderOutcome struct {
	Provider        string  `json:"provider"`
	Model           string  `json:"model,omitempty"`
	Success         bool    `json:"success"`
	ErrorMessage    string  `json:"error_message,omitempty"`
	CostUSD         float64 `json:"cost_usd"`
	ExecutionTimeMs int64   `json:"execution_time_ms"`
}

// CompetitorJobResult is the outcome of one competitor job.
type CompetitorJobResult struct {
	CompetitorName  string            `json:"competitor_name"`
	Success         bool              `json:"success"`
	Payload         map[string]string `json:"payload,omitempty"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	CostUSD         float64           `json:"cost_usd"`
	QualityScore    float64           `json:"quality_score"`
	ExecutionTimeMs int64             `json:"execution_time_ms"`
	Providers       []ProviderOutcome `json:"providers,omitempty"`
	// ProfileID links the competitor to its master profile once analyzed.
	ProfileID string `json:"profile_id,omitempty"`
}

// JobResults decodes Metadata["results"] into typed job results. Records
// loaded from a store carry the results as generic JSON maps.
func (r *ProgressRecord) JobResults() (map[string]CompetitorJobResult, error) {
	raw, ok := r.Metadata[MetaResults]
	if !ok || raw == nil {
		return map[string]CompetitorJobResult{}, nil
	}
	if typed, ok := raw.(map[string]CompetitorJobResult); ok {
		return typed, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	out := make(map[string]CompetitorJobResult)
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
