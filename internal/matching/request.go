// Package matching resolves free-text company identifiers against the master
// profile catalogue using concurrent lookup strategies and a pluggable scorer.
package matching

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sells-group/competitor-intel/internal/apperr"
	"github.com/sells-group/competitor-intel/internal/model"
	"github.com/sells-group/competitor-intel/internal/resolve"
)

// MatchRequest is the input to a profile match.
type MatchRequest struct {
	CompanyName string               `json:"companyName" validate:"required,max=512"`
	Website     string               `json:"website,omitempty" validate:"max=2048"`
	Industry    string               `json:"industry,omitempty" validate:"max=256"`
	Algorithm   model.MatchAlgorithm `json:"matchingAlgorithm,omitempty" validate:"omitempty,oneof=standard ai_enhanced"`
}

var validate = validator.New()

// Validate trims the request in place and checks it.
func (r *MatchRequest) Validate() error {
	r.CompanyName = strings.TrimSpace(r.CompanyName)
	r.Website = strings.TrimSpace(r.Website)
	r.Industry = strings.TrimSpace(r.Industry)
	if err := validate.Struct(r); err != nil {
		return apperr.Validation("matching: invalid request: %v", err)
	}
	if r.Algorithm == "" {
		r.Algorithm = model.AlgorithmStandard
	}
	return nil
}

// Query is a validated request with its derived lookup keys. Domain is empty
// when no website was given or it did not parse.
type Query struct {
	RawName    string
	Normalized string
	Domain     string
	Industry   string
	Algorithm  model.MatchAlgorithm
}

// NewQuery derives lookup keys from a validated request.
func NewQuery(r MatchRequest) Query {
	q := Query{
		RawName:    r.CompanyName,
		Normalized: resolve.NormalizeName(r.CompanyName),
		Industry:   r.Industry,
		Algorithm:  r.Algorithm,
	}
	if r.Website != "" {
		if d, ok := resolve.ExtractDomain(r.Website); ok {
			q.Domain = d
		}
	}
	return q
}
