package matching

import (
	"strings"

	"github.com/sells-group/competitor-intel/internal/model"
	"github.com/sells-group/competitor-intel/internal/resolve"
)

// Scorer turns a candidate into a confidence in [0,1].
type Scorer interface {
	Score(q Query, c Candidate) float64
}

// ScorerFor returns the scorer for an algorithm, standard by default.
func ScorerFor(alg model.MatchAlgorithm) Scorer {
	if alg == model.AlgorithmAIEnhanced {
		return AIEnhancedScorer{}
	}
	return StandardScorer{}
}

// StandardScorer adds profile quality and agreement bonuses to the strategy
// weight.
type StandardScorer struct{}

func (StandardScorer) Score(q Query, c Candidate) float64 {
	score := c.Weight
	p := c.Profile
	if p.OverallConfidenceScore > 80 {
		score += 0.1
	}
	if p.ValidationStatus == model.ValidationValidated {
		score += 0.1
	}
	if domainAgrees(q, p) {
		score += 0.2
	}
	if industryAgrees(q, p) {
		score += 0.1
	}
	return clamp(score)
}

// AIEnhancedScorer replaces the strategy weight with a blend of name
// similarity and field agreement.
type AIEnhancedScorer struct{}

func (AIEnhancedScorer) Score(q Query, c Candidate) float64 {
	p := c.Profile
	score := 0.4 * resolve.Similarity(q.Normalized, resolve.NormalizeName(p.CompanyName))
	if domainAgrees(q, p) {
		score += 0.3
	}
	if industryAgrees(q, p) {
		score += 0.2
	}
	if p.DataCompletenessScore > 70 {
		score += 0.1
	}
	return clamp(score)
}

func domainAgrees(q Query, p model.CompanyProfile) bool {
	return q.Domain != "" && strings.EqualFold(q.Domain, p.Domain())
}

func industryAgrees(q Query, p model.CompanyProfile) bool {
	return q.Industry != "" && strings.EqualFold(q.Industry, strings.TrimSpace(p.IndustryName()))
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
