package progress

import (
	"context"
	"sync"

	"github.com/sells-group/competitor-intel/internal/metrics"
	"github.com/sells-group/competitor-intel/internal/model"
)

// Bus fans committed progress records out to subscribers. It never writes
// progress itself.
type Bus interface {
	Publish(ctx context.Context, rec model.ProgressRecord) error
	Subscribe(ctx context.Context, sessionID string) (Subscription, error)
}

// Subscription receives records for one session until closed.
type Subscription interface {
	C() <-chan model.ProgressRecord
	Close() error
}

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 16

// offer queues rec on ch without blocking. When ch is full the oldest queued
// record is discarded so the newest is always kept. It reports whether a
// record was dropped.
func offer(ch chan model.ProgressRecord, rec model.ProgressRecord) (dropped bool) {
	for {
		select {
		case ch <- rec:
			return dropped
		default:
		}
		select {
		case <-ch:
			dropped = true
		default:
		}
	}
}

// Hub is the in-process Bus.
type Hub struct {
	buffer  int
	metrics *metrics.Metrics

	mu   sync.Mutex
	subs map[string]map[*hubSub]struct{}
}

// NewHub returns a Hub with DefaultBuffer slots per subscriber.
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{buffer: DefaultBuffer, metrics: m, subs: make(map[string]map[*hubSub]struct{})}
}

type hubSub struct {
	hub       *Hub
	sessionID string
	ch        chan model.ProgressRecord
	once      sync.Once
}

func (s *hubSub) C() <-chan model.ProgressRecord { return s.ch }

func (s *hubSub) Close() error {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[s.sessionID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(h.subs, s.sessionID)
			}
		}
		close(s.ch)
	})
	return nil
}

func (h *Hub) Subscribe(_ context.Context, sessionID string) (Subscription, error) {
	s := &hubSub{hub: h, sessionID: sessionID, ch: make(chan model.ProgressRecord, h.buffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[*hubSub]struct{})
		h.subs[sessionID] = set
	}
	set[s] = struct{}{}
	return s, nil
}

func (h *Hub) Publish(_ context.Context, rec model.ProgressRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[rec.SessionID] {
		if offer(s.ch, rec.Clone()) {
			h.metrics.BusDropped()
		}
	}
	return nil
}

// Subscribers returns the number of live subscriptions for a session.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}
