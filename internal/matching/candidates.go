package matching

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/competitor-intel/internal/model"
	"github.com/sells-group/competitor-intel/internal/resolve"
	"github.com/sells-group/competitor-intel/internal/store"
)

// Strategy base weights.
const (
	WeightExactName    = 1.0
	WeightDomain       = 0.9
	WeightFuzzyName    = 0.7
	WeightIndustryName = 0.6
)

// Candidate is one profile returned by one strategy.
type Candidate struct {
	Profile  model.CompanyProfile
	Strategy string
	Weight   float64
}

// strategy is one independent lookup against the profile store.
type strategy struct {
	name   string
	weight float64
	find   func(ctx context.Context) ([]model.CompanyProfile, error)
}

// strategyResult holds what one strategy produced. Results keep strategy
// priority order regardless of completion order.
type strategyResult struct {
	name       string
	candidates []Candidate
	err        error
}

// strategies returns the applicable strategies for q in priority order.
func strategies(st store.ProfileStore, q Query, limit int) []strategy {
	var out []strategy
	if q.Normalized != "" {
		out = append(out, strategy{
			name: model.CriteriaExactName, weight: WeightExactName,
			find: func(ctx context.Context) ([]model.CompanyProfile, error) {
				return st.FindProfilesByNormalizedName(ctx, q.Normalized, limit)
			},
		})
	}
	if q.Domain != "" {
		out = append(out, strategy{
			name: model.CriteriaDomain, weight: WeightDomain,
			find: func(ctx context.Context) ([]model.CompanyProfile, error) {
				return st.FindProfilesByDomain(ctx, q.Domain, limit)
			},
		})
	}
	out = append(out, strategy{
		name: model.CriteriaFuzzyName, weight: WeightFuzzyName,
		find: func(ctx context.Context) ([]model.CompanyProfile, error) {
			return st.SearchProfilesByName(ctx, q.RawName, limit)
		},
	})
	if q.Industry != "" {
		if token := resolve.FirstToken(q.Normalized); token != "" {
			out = append(out, strategy{
				name: model.CriteriaIndustryName, weight: WeightIndustryName,
				find: func(ctx context.Context) ([]model.CompanyProfile, error) {
					return st.FindProfilesByIndustry(ctx, q.Industry, token, limit)
				},
			})
		}
	}
	return out
}

// generateCandidates runs every strategy concurrently. A failing strategy
// does not cancel its siblings; its error is kept in its result slot.
func generateCandidates(ctx context.Context, strats []strategy) []strategyResult {
	results := make([]strategyResult, len(strats))
	var g errgroup.Group
	for i, s := range strats {
		g.Go(func() error {
			profiles, err := s.find(ctx)
			res := strategyResult{name: s.name, err: err}
			if err == nil {
				res.candidates = make([]Candidate, 0, len(profiles))
				for _, p := range profiles {
					res.candidates = append(res.candidates, Candidate{Profile: p, Strategy: s.name, Weight: s.weight})
				}
			} else {
				zap.L().Warn("matching: strategy failed",
					zap.String("strategy", s.name),
					zap.Error(err),
				)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}
