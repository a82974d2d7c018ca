package progress

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/competitor-intel/internal/metrics"
	"github.com/sells-group/competitor-intel/internal/model"
)

// ChannelPrefix namespaces progress channels in Redis.
const ChannelPrefix = "progress:"

// Channel returns the pub/sub channel for a session.
func Channel(sessionID string) string {
	return ChannelPrefix + sessionID
}

// RedisBus fans records out through Redis pub/sub so every instance serving
// a stream sees every update.
type RedisBus struct {
	rdb     redis.UniversalClient
	metrics *metrics.Metrics
}

// NewRedisBus wraps a connected client.
func NewRedisBus(rdb redis.UniversalClient, m *metrics.Metrics) *RedisBus {
	return &RedisBus{rdb: rdb, metrics: m}
}

func (b *RedisBus) Publish(ctx context.Context, rec model.ProgressRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "progress: marshal record")
	}
	if err := b.rdb.Publish(ctx, Channel(rec.SessionID), string(payload)).Err(); err != nil {
		return eris.Wrapf(err, "progress: redis publish %s", rec.SessionID)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, sessionID string) (Subscription, error) {
	ps := b.rdb.Subscribe(ctx, Channel(sessionID))
	// Wait for the subscription to be confirmed so nothing published after
	// this call returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, eris.Wrapf(err, "progress: redis subscribe %s", sessionID)
	}

	s := &redisSub{ps: ps, ch: make(chan model.ProgressRecord, DefaultBuffer)}
	go s.pump(ps.Channel(), b.metrics)
	return s, nil
}

type redisSub struct {
	ps   *redis.PubSub
	ch   chan model.ProgressRecord
	once sync.Once
}

func (s *redisSub) C() <-chan model.ProgressRecord { return s.ch }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() { err = s.ps.Close() })
	return err
}

// pump decodes messages until msgs is closed, which happens when the PubSub
// is closed.
func (s *redisSub) pump(msgs <-chan *redis.Message, m *metrics.Metrics) {
	defer close(s.ch)
	for msg := range msgs {
		var rec model.ProgressRecord
		if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
			zap.L().Warn("progress: bad redis payload", zap.String("channel", msg.Channel), zap.Error(err))
			continue
		}
		if offer(s.ch, rec) {
			m.BusDropped()
		}
	}
}
