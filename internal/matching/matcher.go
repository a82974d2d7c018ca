package matching

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/competitor-intel/internal/apperr"
	"github.com/sells-group/competitor-intel/internal/metrics"
	"github.com/sells-group/competitor-intel/internal/model"
	"github.com/sells-group/competitor-intel/internal/resolve"
	"github.com/sells-group/competitor-intel/internal/store"
)

const (
	defaultCandidateLimit  = 10
	defaultEnsureThreshold = 0.9

	// tieEpsilon absorbs float noise when comparing confidences.
	tieEpsilon = 1e-9
)

// Matcher resolves company identifiers against the profile catalogue.
type Matcher struct {
	store           store.ProfileStore
	candidateLimit  int
	ensureThreshold float64
	metrics         *metrics.Metrics
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithCandidateLimit bounds the rows each strategy may return.
func WithCandidateLimit(n int) Option {
	return func(m *Matcher) {
		if n > 0 {
			m.candidateLimit = n
		}
	}
}

// WithEnsureThreshold sets the minimum confidence at which EnsureProfile
// reuses an existing profile instead of creating one.
func WithEnsureThreshold(t float64) Option {
	return func(m *Matcher) {
		if t > 0 && t <= 1 {
			m.ensureThreshold = t
		}
	}
}

// WithMetrics records match outcomes into m.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Matcher) { m.metrics = mt }
}

// NewMatcher creates a Matcher over the given profile store.
func NewMatcher(st store.ProfileStore, opts ...Option) *Matcher {
	m := &Matcher{
		store:           st,
		candidateLimit:  defaultCandidateLimit,
		ensureThreshold: defaultEnsureThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match finds the best existing profile for req. It returns (nil, nil) when
// no strategy produced a candidate. Every completed request appends a match
// attempt; a failure to append it is logged and does not fail the match.
// If every strategy that ran hit a store error the request fails with a
// store error.
func (m *Matcher) Match(ctx context.Context, req MatchRequest) (*model.ProfileMatchResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	q := NewQuery(req)

	strats := strategies(m.store, q, m.candidateLimit)
	results := generateCandidates(ctx, strats)

	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			m.metrics.StrategyError(r.name)
		}
	}
	if failed == len(results) {
		m.metrics.ObserveMatch(string(q.Algorithm), metrics.OutcomeError, 0)
		return nil, apperr.Store(firstErr(results), "matching: all strategies failed")
	}

	best := resolveBest(q, ScorerFor(q.Algorithm), results)

	attempt := &model.MatchAttempt{
		CompanyNameQueried: req.CompanyName,
		Website:            req.Website,
		Industry:           req.Industry,
		Algorithm:          q.Algorithm,
		MatchCriteria:      []string{},
		CreatedAt:          time.Now().UTC(),
	}
	if best != nil {
		attempt.MatchFound = true
		attempt.MatchConfidence = best.confidence
		attempt.MatchCriteria = best.criteria
		id := best.profile.ID
		attempt.MatchedProfileID = &id
	}
	if err := m.store.RecordMatchAttempt(ctx, attempt); err != nil {
		zap.L().Warn("matching: failed to record match attempt",
			zap.String("company", req.CompanyName),
			zap.Error(err),
		)
	}

	if best == nil {
		zap.L().Debug("matching: no candidates", zap.String("company", req.CompanyName))
		m.metrics.ObserveMatch(string(q.Algorithm), metrics.OutcomeNotFound, 0)
		return nil, nil
	}

	zap.L().Debug("matching: resolved",
		zap.String("company", req.CompanyName),
		zap.String("profile_id", best.profile.ID),
		zap.Float64("confidence", best.confidence),
		zap.Strings("criteria", best.criteria),
	)
	m.metrics.ObserveMatch(string(q.Algorithm), metrics.OutcomeFound, best.confidence)

	return &model.ProfileMatchResult{
		MasterProfileID: best.profile.ID,
		MatchConfidence: best.confidence,
		MatchCriteria:   best.criteria,
		ExistingProfile: best.profile,
	}, nil
}

type winner struct {
	profile    model.CompanyProfile
	confidence float64
	criteria   []string
}

// resolveBest folds each strategy's top candidate in priority order. A
// strictly higher confidence replaces the winner and resets the criteria; an
// equal confidence on the same profile adds the strategy to the criteria.
func resolveBest(q Query, scorer Scorer, results []strategyResult) *winner {
	var best *winner
	for _, r := range results {
		if r.err != nil || len(r.candidates) == 0 {
			continue
		}
		top, conf := topCandidate(q, scorer, r.candidates)

		switch {
		case best == nil || conf > best.confidence+tieEpsilon:
			best = &winner{profile: top.Profile, confidence: conf, criteria: []string{r.name}}
		case math.Abs(conf-best.confidence) <= tieEpsilon && top.Profile.ID == best.profile.ID:
			best.criteria = append(best.criteria, r.name)
		}
	}
	return best
}

// topCandidate returns the highest-scoring candidate, the earliest on ties.
func topCandidate(q Query, scorer Scorer, cands []Candidate) (Candidate, float64) {
	top := cands[0]
	topScore := scorer.Score(q, top)
	for _, c := range cands[1:] {
		if s := scorer.Score(q, c); s > topScore+tieEpsilon {
			top, topScore = c, s
		}
	}
	return top, topScore
}

func firstErr(results []strategyResult) error {
	for _, r := range results {
		if r.err != nil {
			return r.err
		}
	}
	return eris.New("matching: no strategies ran")
}

// EnsureProfile returns the catalogue profile for a company, creating an
// unvalidated one when no existing profile matches with at least the ensure
// threshold. The bool reports whether a new profile was created.
func (m *Matcher) EnsureProfile(ctx context.Context, name, website, industry string, quality float64) (*model.CompanyProfile, bool, error) {
	req := MatchRequest{CompanyName: name, Website: website, Industry: industry, Algorithm: model.AlgorithmStandard}
	if err := req.Validate(); err != nil {
		return nil, false, err
	}
	res, err := m.Match(ctx, req)
	if err != nil {
		return nil, false, eris.Wrap(err, "matching: ensure profile")
	}
	if res != nil && res.MatchConfidence >= m.ensureThreshold {
		return &res.ExistingProfile, false, nil
	}

	normalized := resolve.NormalizeName(req.CompanyName)
	if normalized == "" {
		return nil, false, apperr.Validation("matching: %q normalizes to an empty name", name)
	}

	p := &model.CompanyProfile{
		CompanyName:            req.CompanyName,
		NormalizedName:         normalized,
		Industry:               model.StringPtr(req.Industry),
		OverallConfidenceScore: clampScore(quality),
		ValidationStatus:       model.ValidationUnvalidated,
	}
	if d, ok := resolve.ExtractDomain(req.Website); ok {
		p.PrimaryDomain = &d
	}
	p.DataCompletenessScore = Completeness(p)

	stored, err := m.store.CreateProfile(ctx, p)
	if err != nil {
		return nil, false, apperr.Store(err, "matching: create profile")
	}
	created := stored.ID == p.ID
	if created {
		zap.L().Info("matching: created profile",
			zap.String("profile_id", stored.ID),
			zap.String("name", stored.CompanyName),
		)
	}
	return stored, created, nil
}

// Completeness scores how many catalogue fields a profile carries.
func Completeness(p *model.CompanyProfile) float64 {
	score := 50.0
	if p.PrimaryDomain != nil {
		score += 25
	}
	if p.Industry != nil {
		score += 25
	}
	return score
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
