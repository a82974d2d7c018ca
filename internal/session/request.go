package session

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sells-group/competitor-intel/internal/apperr"
	"github.com/sells-group/competitor-intel/internal/provider"
)

var validate = validator.New()

// StartRequest asks for one analysis run.
type StartRequest struct {
	SessionID         string            `json:"sessionId" validate:"omitempty,max=128"`
	Competitors       []string          `json:"competitors" validate:"required,min=1,dive,required,max=512"`
	ProvidersSelected []string          `json:"providersSelected" validate:"required,min=1,dive,required"`
	Models            map[string]string `json:"models"`
	Industry          string            `json:"industry" validate:"max=256"`
}

// Validate trims input and rejects blank or unknown values. It returns the
// parsed provider names.
func (r *StartRequest) Validate() ([]provider.Name, error) {
	r.SessionID = strings.TrimSpace(r.SessionID)
	r.Industry = strings.TrimSpace(r.Industry)
	for i, c := range r.Competitors {
		r.Competitors[i] = strings.TrimSpace(c)
	}
	if err := validate.Struct(r); err != nil {
		return nil, apperr.Validation("invalid analysis request: %v", err)
	}

	seen := make(map[string]bool, len(r.Competitors))
	for _, c := range r.Competitors {
		if seen[c] {
			return nil, apperr.Validation("duplicate competitor %q", c)
		}
		seen[c] = true
	}

	names := make([]provider.Name, 0, len(r.ProvidersSelected))
	picked := make(map[provider.Name]bool)
	for _, p := range r.ProvidersSelected {
		n, err := provider.ParseName(p)
		if err != nil {
			return nil, err
		}
		if !picked[n] {
			picked[n] = true
			names = append(names, n)
		}
	}
	return names, nil
}
