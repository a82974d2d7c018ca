// Package model defines the shared data types for profile matching and
// analysis sessions.
package model

import "time"

// ValidationStatus describes how far a profile has been verified.
type ValidationStatus string

const (
	ValidationUnvalidated ValidationStatus = "unvalidated"
	ValidationValidated   ValidationStatus = "validated"
	ValidationDisputed    ValidationStatus = "disputed"
)

// Valid reports whether s is a known validation status.
func (s ValidationStatus) Valid() bool {
	switch s {
	case ValidationUnvalidated, ValidationValidated, ValidationDisputed:
		return true
	}
	return false
}

// MatchAlgorithm selects how candidate confidence is computed.
type MatchAlgorithm string

const (
	AlgorithmStandard   MatchAlgorithm = "standard"
	AlgorithmAIEnhanced MatchAlgorithm = "ai_enhanced"
)

// Match strategy names, recorded in MatchCriteria.
const (
	CriteriaExactName    = "exact_name_match"
	CriteriaDomain       = "domain_match"
	CriteriaFuzzyName    = "fuzzy_name_match"
	CriteriaIndustryName = "industry_name_match"
)

// CompanyProfile is the deduplicated master record for a company.
type CompanyProfile struct {
	ID                     string           `json:"id" db:"id"`
	CompanyName            string           `json:"company_name" db:"company_name"`
	NormalizedName         string           `json:"normalized_name" db:"normalized_name"`
	PrimaryDomain          *string          `json:"primary_domain,omitempty" db:"primary_domain"`
	Industry               *string          `json:"industry,omitempty" db:"industry"`
	OverallConfidenceScore float64          `json:"overall_confidence_score" db:"overall_confidence_score"`
	DataCompletenessScore  float64          `json:"data_completeness_score" db:"data_completeness_score"`
	ValidationStatus       ValidationStatus `json:"validation_status" db:"validation_status"`
	CreatedAt              time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time        `json:"updated_at" db:"updated_at"`
}

// Domain returns the primary domain or "".
func (p *CompanyProfile) Domain() string {
	if p.PrimaryDomain == nil {
		return ""
	}
	return *p.PrimaryDomain
}

// IndustryName returns the industry or "".
func (p *CompanyProfile) IndustryName() string {
	if p.Industry == nil {
		return ""
	}
	return *p.Industry
}

// MatchAttempt is an append-only audit row for one match invocation.
type MatchAttempt struct {
	ID                 string         `json:"id" db:"id"`
	CompanyNameQueried string         `json:"company_name_queried" db:"company_name_queried"`
	Website            string         `json:"website,omitempty" db:"website"`
	Industry           string         `json:"industry,omitempty" db:"industry"`
	Algorithm          MatchAlgorithm `json:"algorithm" db:"algorithm"`
	MatchFound         bool           `json:"match_found" db:"match_found"`
	MatchConfidence    float64        `json:"match_confidence" db:"match_confidence"`
	MatchCriteria      []string       `json:"match_criteria" db:"match_criteria"`
	MatchedProfileID   *string        `json:"matched_profile_id,omitempty" db:"matched_profile_id"`
	CreatedAt          time.Time      `json:"created_at" db:"created_at"`
}

// ProfileMatchResult is returned by a successful match.
type ProfileMatchResult struct {
	MasterProfileID string         `json:"master_profile_id"`
	MatchConfidence float64        `json:"match_confidence"`
	MatchCriteria   []string       `json:"match_criteria"`
	ExistingProfile CompanyProfile `json:"existing_profile"`
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
