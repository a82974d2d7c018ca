package provider

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/competitor-intel/internal/apperr"
	"github.com/sells-group/competitor-intel/internal/metrics"
	"github.com/sells-group/competitor-intel/internal/model"
	"github.com/sells-group/competitor-intel/internal/resilience"
)

// JobContext carries the per-session choices for a competitor job.
type JobContext struct {
	SessionID string
	Industry  string
	Providers []Name
	// Models overrides the configured model, keyed by provider name.
	Models map[string]string
}

// Pool calls providers on behalf of competitor jobs. Each provider has its
// own throttle, breaker and retry budget.
type Pool struct {
	registry *Registry
	settings Settings
	limiters map[Name]*rate.Limiter
	breakers map[Name]*resilience.Breaker
	policies map[Name]resilience.RetryPolicy
	metrics  *metrics.Metrics
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolMetrics records provider calls.
func WithPoolMetrics(m *metrics.Metrics) PoolOption {
	return func(p *Pool) { p.metrics = m }
}

// WithRetryPolicy replaces the retry policy for every provider.
func WithRetryPolicy(rp resilience.RetryPolicy) PoolOption {
	return func(p *Pool) {
		for n := range p.policies {
			p.policies[n] = rp
		}
	}
}

// WithBackoff applies base's backoff shape to every provider while keeping
// each provider's attempt budget.
func WithBackoff(base resilience.RetryPolicy) PoolOption {
	return func(p *Pool) {
		for n, cur := range p.policies {
			b := base
			b.MaxAttempts = cur.MaxAttempts
			p.policies[n] = b
		}
	}
}

// NewPool builds the per-provider guards from settings.
func NewPool(reg *Registry, settings Settings, opts ...PoolOption) *Pool {
	p := &Pool{
		registry: reg,
		settings: settings,
		limiters: make(map[Name]*rate.Limiter),
		breakers: make(map[Name]*resilience.Breaker),
		policies: make(map[Name]resilience.RetryPolicy),
	}
	for _, n := range Names() {
		s := settings.For(n)
		limit := rate.Inf
		if s.RatePerMinute > 0 {
			limit = rate.Limit(s.RatePerMinute / 60)
		}
		p.limiters[n] = rate.NewLimiter(limit, max(s.Burst, 1))
		p.breakers[n] = resilience.NewBreaker(string(n), resilience.BreakerFromConfig(s.BreakerFails, s.BreakerCoolSec))
		p.policies[n] = resilience.PolicyFromConfig(s.MaxAttempts, 0, 0, 0)
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Registry returns the adapters the pool dispatches to.
func (p *Pool) Registry() *Registry { return p.registry }

// Supports reports whether an adapter is registered for n.
func (p *Pool) Supports(n Name) bool {
	_, ok := p.registry.Get(n)
	return ok
}

// BreakerStates reports each provider's breaker state.
func (p *Pool) BreakerStates() map[string]string {
	out := make(map[string]string, len(p.breakers))
	for n, b := range p.breakers {
		out[string(n)] = b.State().String()
	}
	return out
}

// Run queries every selected provider concurrently for one competitor. It
// never returns an error: each provider failure is recorded in the result.
// The job succeeds when at least one provider replied.
func (p *Pool) Run(ctx context.Context, competitor string, jc JobContext) model.CompetitorJobResult {
	start := time.Now()
	res := model.CompetitorJobResult{CompetitorName: competitor}
	if len(jc.Providers) == 0 {
		res.ErrorMessage = "no providers selected"
		return res
	}

	prompt := BuildPrompt(competitor, jc.Industry)
	outcomes := make([]model.ProviderOutcome, len(jc.Providers))
	texts := make([]string, len(jc.Providers))

	var g errgroup.Group
	for i, name := range jc.Providers {
		g.Go(func() error {
			outcomes[i], texts[i] = p.call(ctx, name, Request{
				Competitor: competitor,
				Industry:   jc.Industry,
				Model:      jc.Models[string(name)],
				Prompt:     prompt,
			})
			return nil
		})
	}
	_ = g.Wait()

	var (
		failures []string
		quality  float64
		ok       int
	)
	for i, o := range outcomes {
		res.CostUSD += o.CostUSD
		if !o.Success {
			failures = append(failures, o.Provider+": "+o.ErrorMessage)
			continue
		}
		if res.Payload == nil {
			res.Payload = make(map[string]string)
		}
		res.Payload[o.Provider] = texts[i]
		quality += QualityScore(texts[i])
		ok++
	}

	res.Providers = outcomes
	res.Success = ok > 0
	if ok > 0 {
		res.QualityScore = quality / float64(ok)
	} else {
		res.ErrorMessage = strings.Join(failures, "; ")
	}
	res.ExecutionTimeMs = time.Since(start).Milliseconds()

	zap.L().Debug("provider: job finished",
		zap.String("session_id", jc.SessionID),
		zap.String("competitor", competitor),
		zap.Bool("success", res.Success),
		zap.Float64("cost_usd", res.CostUSD),
		zap.Int64("execution_time_ms", res.ExecutionTimeMs),
	)
	return res
}

// call runs one provider under its timeout, throttle, breaker and retry
// policy.
func (p *Pool) call(ctx context.Context, name Name, req Request) (model.ProviderOutcome, string) {
	start := time.Now()
	s := p.settings.For(name)
	out := model.ProviderOutcome{Provider: string(name), Model: req.Model}
	if out.Model == "" {
		out.Model = s.Model
	}

	finish := func(err error) (model.ProviderOutcome, string) {
		out.ExecutionTimeMs = time.Since(start).Milliseconds()
		out.ErrorMessage = err.Error()
		p.metrics.ObserveProviderCall(string(name), false, time.Since(start).Seconds(), 0)
		zap.L().Warn("provider: call failed",
			zap.String("provider", string(name)),
			zap.String("competitor", req.Competitor),
			zap.Error(err),
		)
		return out, ""
	}

	adapter, found := p.registry.Get(name)
	if !found {
		return finish(apperr.Provider(errors.New("not configured"), string(name)))
	}

	cctx, cancel := context.WithTimeout(ctx, s.Timeout())
	defer cancel()

	if err := p.limiters[name].Wait(cctx); err != nil {
		return finish(apperr.Timeout(err, string(name)))
	}

	policy := p.policies[name]
	policy.OnRetry = resilience.LogRetries(string(name), "query")
	resp, err := resilience.Retry(cctx, policy, func(ctx context.Context) (*Response, error) {
		return resilience.Call(ctx, p.breakers[name], func(ctx context.Context) (*Response, error) {
			return adapter.Query(ctx, req)
		})
	})
	if err != nil {
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return finish(apperr.Timeout(err, string(name)))
		}
		return finish(apperr.Provider(err, string(name)))
	}

	out.Success = true
	out.Model = resp.Model
	out.CostUSD = resp.CostUSD
	out.ExecutionTimeMs = time.Since(start).Milliseconds()
	p.metrics.ObserveProviderCall(string(name), true, time.Since(start).Seconds(), resp.CostUSD)
	return out, resp.Text
}
