// Package progress owns the single writer of each session's progress record
// and fans committed records out to subscribers.
package progress

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/competitor-intel/internal/apperr"
	"github.com/sells-group/competitor-intel/internal/metrics"
	"github.com/sells-group/competitor-intel/internal/model"
	"github.com/sells-group/competitor-intel/internal/store"
)

// maxConflictRetries bounds re-reads when another writer bumped the version.
const maxConflictRetries = 3

// ErrTerminal is returned when updating a completed or failed session.
var ErrTerminal = errors.New("progress: session already finished")

// Patch is a partial update. Zero fields leave the record unchanged.
type Patch struct {
	Status         model.SessionStatus
	CompletedDelta int
	// SetCurrent applies CurrentCompetitor, including nil.
	SetCurrent        bool
	CurrentCompetitor *string
	// CurrentFrom, when set, is called under the session lock and its result
	// replaces CurrentCompetitor.
	CurrentFrom  func() *string
	ErrorMessage *string
	// Result is stored under metadata.results keyed by competitor name.
	Result   *model.CompetitorJobResult
	Metadata map[string]any
}

// Tracker serializes progress writes per session. Records are always read
// from the store, never cached between updates.
type Tracker struct {
	store   store.ProgressStore
	bus     Bus
	metrics *metrics.Metrics
	locks   sessionLocks
	now     func() time.Time
}

// NewTracker returns a tracker writing to st and publishing on bus.
func NewTracker(st store.ProgressStore, bus Bus, m *metrics.Metrics) *Tracker {
	return &Tracker{
		store:   st,
		bus:     bus,
		metrics: m,
		locks:   sessionLocks{m: make(map[string]*lockEntry)},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Initialize creates the pending record for a session and publishes it.
func (t *Tracker) Initialize(ctx context.Context, sessionID string, total int, names []string) (*model.ProgressRecord, error) {
	if total < 0 || total != len(names) {
		return nil, apperr.Validation("progress: total %d does not match %d competitors", total, len(names))
	}
	rec := &model.ProgressRecord{
		SessionID:        sessionID,
		TotalCompetitors: total,
		Status:           model.SessionPending,
		Metadata:         map[string]any{"competitors": names},
		Version:          1,
		UpdatedAt:        t.now(),
	}
	if err := t.store.CreateProgress(ctx, rec); err != nil {
		return nil, apperr.Store(err, "progress: initialize")
	}
	t.publish(ctx, rec)
	return rec, nil
}

// Update applies p to the stored record under the session's lock, writes it
// back with the next version and publishes the full record.
func (t *Tracker) Update(ctx context.Context, sessionID string, p Patch) (*model.ProgressRecord, error) {
	unlock := t.locks.lock(sessionID)
	defer unlock()

	for attempt := 1; ; attempt++ {
		rec, err := t.store.GetProgress(ctx, sessionID)
		if err != nil {
			if apperr.IsNotFound(err) {
				return nil, err
			}
			return nil, apperr.Store(err, "progress: read")
		}
		if err := apply(rec, p); err != nil {
			return nil, err
		}
		rec.Version++
		rec.UpdatedAt = t.now()

		err = t.store.SaveProgress(ctx, rec)
		if errors.Is(err, store.ErrVersionConflict) && attempt < maxConflictRetries {
			zap.L().Warn("progress: version conflict, retrying",
				zap.String("session_id", sessionID), zap.Int64("version", rec.Version))
			continue
		}
		if err != nil {
			return nil, apperr.Store(err, "progress: save")
		}
		t.publish(ctx, rec)
		return rec, nil
	}
}

// Fail moves the session to failed with msg. When the store cannot take the
// write, a synthesized failed record is still published so live subscribers
// see the terminal event.
func (t *Tracker) Fail(ctx context.Context, sessionID string, total int, msg string) {
	_, err := t.Update(ctx, sessionID, Patch{Status: model.SessionFailed, ErrorMessage: &msg})
	if err == nil || errors.Is(err, ErrTerminal) {
		return
	}
	zap.L().Error("progress: persist failure status",
		zap.String("session_id", sessionID), zap.String("reason", msg), zap.Error(err))
	t.Abort(ctx, sessionID, total, msg)
}

// Abort publishes a failed record without touching the store. It is for
// sessions whose stored state does not belong to the caller.
func (t *Tracker) Abort(ctx context.Context, sessionID string, total int, msg string) {
	t.publish(ctx, &model.ProgressRecord{
		SessionID:        sessionID,
		TotalCompetitors: total,
		Status:           model.SessionFailed,
		ErrorMessage:     &msg,
		Metadata:         map[string]any{},
		// outranks every stored version so streams never filter it out
		Version:   math.MaxInt64,
		UpdatedAt: t.now(),
	})
}

// Current returns the stored record.
func (t *Tracker) Current(ctx context.Context, sessionID string) (*model.ProgressRecord, error) {
	rec, err := t.store.GetProgress(ctx, sessionID)
	if err != nil && !apperr.IsNotFound(err) {
		return nil, apperr.Store(err, "progress: read")
	}
	return rec, err
}

// Stream delivers the current record and then every newer one, in version
// order, until the terminal record or ctx ends. The channel is closed
// afterwards.
func (t *Tracker) Stream(ctx context.Context, sessionID string) (<-chan model.ProgressRecord, error) {
	// Subscribe before reading so no update between the two is lost.
	sub, err := t.bus.Subscribe(ctx, sessionID)
	if err != nil {
		return nil, eris.Wrap(err, "progress: subscribe")
	}
	rec, err := t.Current(ctx, sessionID)
	if err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan model.ProgressRecord, 1)
	go func() {
		defer close(out)
		defer sub.Close()

		send := func(r model.ProgressRecord) bool {
			select {
			case out <- r:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send(*rec) || rec.Status.IsTerminal() {
			return
		}
		last := rec.Version
		for {
			select {
			case <-ctx.Done():
				return
			case r, ok := <-sub.C():
				if !ok {
					return
				}
				if r.Version <= last {
					continue
				}
				last = r.Version
				if !send(r) || r.Status.IsTerminal() {
					return
				}
			}
		}
	}()
	return out, nil
}

// Subscribe calls fn with each record Stream yields, from a separate
// goroutine. The returned cancel stops delivery.
func (t *Tracker) Subscribe(ctx context.Context, sessionID string, fn func(model.ProgressRecord)) (context.CancelFunc, error) {
	ctx, cancel := context.WithCancel(ctx)
	ch, err := t.Stream(ctx, sessionID)
	if err != nil {
		cancel()
		return nil, err
	}
	go func() {
		for r := range ch {
			fn(r)
		}
	}()
	return cancel, nil
}

func (t *Tracker) publish(ctx context.Context, rec *model.ProgressRecord) {
	if err := t.bus.Publish(ctx, rec.Clone()); err != nil {
		// the store already holds the record; late subscribers still see it
		zap.L().Warn("progress: publish failed",
			zap.String("session_id", rec.SessionID), zap.Int64("version", rec.Version), zap.Error(err))
		return
	}
	t.metrics.ProgressPublished()
}

// apply mutates rec with p and derives the percentage.
func apply(rec *model.ProgressRecord, p Patch) error {
	if rec.Status.IsTerminal() {
		return eris.Wrapf(ErrTerminal, "progress: session %s is %s", rec.SessionID, rec.Status)
	}
	if p.Status != "" && p.Status != rec.Status {
		if !rec.Status.CanTransition(p.Status) {
			return apperr.Validation("progress: illegal transition %s -> %s", rec.Status, p.Status)
		}
		rec.Status = p.Status
	}
	if p.CompletedDelta < 0 {
		return apperr.Validation("progress: completed count cannot decrease")
	}
	if rec.CompletedCompetitors+p.CompletedDelta > rec.TotalCompetitors {
		return apperr.Validation("progress: completed %d exceeds total %d",
			rec.CompletedCompetitors+p.CompletedDelta, rec.TotalCompetitors)
	}
	rec.CompletedCompetitors += p.CompletedDelta

	switch {
	case p.CurrentFrom != nil:
		rec.CurrentCompetitor = p.CurrentFrom()
	case p.SetCurrent:
		rec.CurrentCompetitor = p.CurrentCompetitor
	}
	if p.ErrorMessage != nil {
		rec.ErrorMessage = p.ErrorMessage
	}
	if rec.Metadata == nil {
		rec.Metadata = make(map[string]any)
	}
	for k, v := range p.Metadata {
		rec.Metadata[k] = v
	}
	if p.Result != nil {
		results, err := rec.JobResults()
		if err != nil {
			return eris.Wrap(err, "progress: decode results")
		}
		results[p.Result.CompetitorName] = *p.Result
		rec.Metadata[model.MetaResults] = results
	}

	if rec.Status == model.SessionCompleted {
		rec.ProgressPercentage = 100
		rec.CurrentCompetitor = nil
	} else {
		rec.ProgressPercentage = model.Percentage(rec.CompletedCompetitors, rec.TotalCompetitors)
	}
	return nil
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// sessionLocks hands out one mutex per session, freed when unused.
type sessionLocks struct {
	mu sync.Mutex
	m  map[string]*lockEntry
}

func (l *sessionLocks) lock(id string) func() {
	l.mu.Lock()
	e, ok := l.m[id]
	if !ok {
		e = &lockEntry{}
		l.m[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.m, id)
		}
		l.mu.Unlock()
	}
}
