// Package session runs analysis sessions: one job per competitor, fanned out
// to the provider pool, with progress written after every completion.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/competitor-intel/internal/apperr"
	"github.com/sells-group/competitor-intel/internal/matching"
	"github.com/sells-group/competitor-intel/internal/metrics"
	"github.com/sells-group/competitor-intel/internal/model"
	"github.com/sells-group/competitor-intel/internal/progress"
	"github.com/sells-group/competitor-intel/internal/provider"
	"github.com/sells-group/competitor-intel/internal/store"
)

// Runner executes one competitor job. *provider.Pool implements it.
type Runner interface {
	Run(ctx context.Context, competitor string, jc provider.JobContext) model.CompetitorJobResult
	Supports(n provider.Name) bool
}

// Session is a started analysis waiting to run.
type Session struct {
	model.AnalysisSession
	Industry  string
	providers []provider.Name
}

// AnalysisOutcome is the result of a synchronous run.
type AnalysisOutcome struct {
	SessionID string                               `json:"sessionId"`
	Status    model.SessionStatus                  `json:"status"`
	Results   map[string]model.CompetitorJobResult `json:"results"`
}

// Orchestrator drives sessions through pending, in_progress and a terminal
// status.
type Orchestrator struct {
	sessions store.SessionStore
	tracker  *progress.Tracker
	runner   Runner
	matcher  *matching.Matcher
	metrics  *metrics.Metrics

	workers    int
	jobTimeout time.Duration

	bg sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithWorkers bounds concurrent competitor jobs per session.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithJobTimeout bounds each competitor job.
func WithJobTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.jobTimeout = d
		}
	}
}

// WithMatcher links every analyzed competitor to a master profile.
func WithMatcher(m *matching.Matcher) Option {
	return func(o *Orchestrator) { o.matcher = m }
}

// WithMetrics records session and job outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator wires an orchestrator. Defaults: 4 workers, 3 minute job
// timeout.
func NewOrchestrator(sessions store.SessionStore, tracker *progress.Tracker, runner Runner, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sessions:   sessions,
		tracker:    tracker,
		runner:     runner,
		workers:    4,
		jobTimeout: 3 * time.Minute,
	}
	for _, fn := range opts {
		fn(o)
	}
	return o
}

// Start validates req and persists the pending session and its progress
// record. A session id that is already taken is a validation error and the
// existing session is not touched. Any other store failure fails the session
// and returns a store error.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (*Session, error) {
	names, err := req.Validate()
	if err != nil {
		return nil, err
	}
	for _, n := range names {
		if !o.runner.Supports(n) {
			return nil, apperr.Validation("provider %s is not configured", n)
		}
	}

	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	providers := make([]string, len(names))
	for i, n := range names {
		providers[i] = string(n)
	}
	sess := &Session{
		AnalysisSession: model.AnalysisSession{
			SessionID:       id,
			CompetitorNames: req.Competitors,
			Providers:       providers,
			Models:          req.Models,
			Status:          model.SessionPending,
			CreatedAt:       now,
			UpdatedAt:       now,
		},
		Industry:  req.Industry,
		providers: names,
	}

	if err := o.sessions.CreateSession(ctx, &sess.AnalysisSession); err != nil {
		if errors.Is(err, store.ErrSessionExists) {
			return nil, apperr.Validation("session %s already exists", id)
		}
		// the row is not ours, so only announce the failure
		err = apperr.Store(err, "session: create")
		zap.L().Error("session: failed", zap.String("session_id", id), zap.Error(err))
		o.tracker.Abort(ctx, id, len(req.Competitors), err.Error())
		o.metrics.SessionFinished(string(model.SessionFailed))
		return nil, err
	}
	if _, err := o.tracker.Initialize(ctx, id, len(req.Competitors), req.Competitors); err != nil {
		o.fail(ctx, sess, err)
		return nil, err
	}

	zap.L().Info("session: started",
		zap.String("session_id", id),
		zap.Int("competitors", len(req.Competitors)),
		zap.Strings("providers", providers),
	)
	return sess, nil
}

// Run dispatches every competitor job and finalizes the session. Caller
// cancellation is ignored; each job stops at its own timeout. Individual job
// failures never fail the session.
func (o *Orchestrator) Run(ctx context.Context, sess *Session) (map[string]model.CompetitorJobResult, error) {
	ctx = context.WithoutCancel(ctx)
	id := sess.SessionID
	names := sess.CompetitorNames
	log := zap.L().With(zap.String("session_id", id))

	o.metrics.SessionStarted()

	if err := o.sessions.UpdateSessionStatus(ctx, id, model.SessionInProgress); err != nil {
		err = apperr.Store(err, "session: enter in_progress")
		o.fail(ctx, sess, err)
		return nil, err
	}
	if _, err := o.tracker.Update(ctx, id, progress.Patch{
		Status:            model.SessionInProgress,
		SetCurrent:        true,
		CurrentCompetitor: &names[0],
		Metadata:          map[string]any{"industry": sess.Industry},
	}); err != nil {
		o.fail(ctx, sess, err)
		return nil, err
	}

	jc := provider.JobContext{
		SessionID: id,
		Industry:  sess.Industry,
		Providers: sess.providers,
		Models:    sess.Models,
	}

	var (
		mu         sync.Mutex
		results    = make(map[string]model.CompetitorJobResult, len(names))
		dispatched atomic.Int64
		faulted    atomic.Bool
	)

	g := new(errgroup.Group)
	g.SetLimit(o.workers)
	for _, name := range names {
		if faulted.Load() {
			break
		}
		g.Go(func() error {
			if faulted.Load() {
				return nil
			}
			dispatched.Add(1)
			res := o.runJob(ctx, name, jc)

			mu.Lock()
			results[name] = res
			mu.Unlock()

			if _, err := o.tracker.Update(ctx, id, progress.Patch{
				CompletedDelta: 1,
				CurrentFrom: func() *string {
					if i := dispatched.Load(); int(i) < len(names) {
						return &names[i]
					}
					return nil
				},
				Result: &res,
			}); err != nil {
				faulted.Store(true)
				return eris.Wrapf(err, "session: record %s", name)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		o.fail(ctx, sess, err)
		return results, err
	}

	var successes int
	var totalCost float64
	for _, r := range results {
		if r.Success {
			successes++
		}
		totalCost += r.CostUSD
	}
	successRate := 100 * float64(successes) / float64(len(names))

	if _, err := o.tracker.Update(ctx, id, progress.Patch{
		Status: model.SessionCompleted,
		Metadata: map[string]any{
			model.MetaSuccessRate:  successRate,
			model.MetaTotalCostUSD: totalCost,
		},
	}); err != nil {
		o.fail(ctx, sess, err)
		return results, err
	}
	if err := o.sessions.UpdateSessionStatus(ctx, id, model.SessionCompleted); err != nil {
		// progress already carries the terminal status
		log.Error("session: persist completed status", zap.Error(err))
	}

	o.metrics.SessionFinished(string(model.SessionCompleted))
	log.Info("session: completed",
		zap.Int("successes", successes),
		zap.Int("total", len(names)),
		zap.Float64("success_rate", successRate),
		zap.Float64("total_cost_usd", totalCost),
	)
	return results, nil
}

// runJob runs one competitor under the job timeout and links it to a master
// profile when it succeeded.
func (o *Orchestrator) runJob(ctx context.Context, name string, jc provider.JobContext) model.CompetitorJobResult {
	jctx, cancel := context.WithTimeout(ctx, o.jobTimeout)
	defer cancel()

	res := o.runner.Run(jctx, name, jc)
	res.CompetitorName = name
	o.metrics.JobFinished(res.Success)

	if res.Success && o.matcher != nil {
		p, created, err := o.matcher.EnsureProfile(jctx, name, "", jc.Industry, res.QualityScore)
		if err != nil {
			zap.L().Warn("session: link master profile",
				zap.String("session_id", jc.SessionID), zap.String("competitor", name), zap.Error(err))
		} else {
			res.ProfileID = p.ID
			zap.L().Debug("session: linked master profile",
				zap.String("competitor", name), zap.String("profile_id", p.ID), zap.Bool("created", created))
		}
	}
	return res
}

// Analyze starts and runs a session synchronously.
func (o *Orchestrator) Analyze(ctx context.Context, req StartRequest) (*AnalysisOutcome, error) {
	sess, err := o.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	results, err := o.Run(ctx, sess)
	out := &AnalysisOutcome{SessionID: sess.SessionID, Status: model.SessionCompleted, Results: results}
	if err != nil {
		out.Status = model.SessionFailed
		return out, err
	}
	return out, nil
}

// StartAsync starts a session and runs it in the background, returning the
// session id for progress subscription.
func (o *Orchestrator) StartAsync(ctx context.Context, req StartRequest) (string, error) {
	sess, err := o.Start(ctx, req)
	if err != nil {
		return "", err
	}
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		if _, err := o.Run(context.WithoutCancel(ctx), sess); err != nil {
			zap.L().Error("session: run failed", zap.String("session_id", sess.SessionID), zap.Error(err))
		}
	}()
	return sess.SessionID, nil
}

// Wait blocks until every background run has finished.
func (o *Orchestrator) Wait() {
	o.bg.Wait()
}

// fail marks the session failed in both the session row and progress.
func (o *Orchestrator) fail(ctx context.Context, sess *Session, cause error) {
	zap.L().Error("session: failed", zap.String("session_id", sess.SessionID), zap.Error(cause))
	if err := o.sessions.UpdateSessionStatus(ctx, sess.SessionID, model.SessionFailed); err != nil && !apperr.IsNotFound(err) {
		zap.L().Warn("session: persist failed status", zap.String("session_id", sess.SessionID), zap.Error(err))
	}
	o.tracker.Fail(ctx, sess.SessionID, len(sess.CompetitorNames), cause.Error())
	o.metrics.SessionFinished(string(model.SessionFailed))
}
