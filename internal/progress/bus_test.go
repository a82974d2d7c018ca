package progress

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/competitor-intel/internal/metrics"
	"github.com/sells-group/competitor-intel/internal/model"
)

func TestHub_DeliversPerSession(t *testing.T) {
	hub := NewHub(nil)
	ctx := context.Background()
	a, err := hub.Subscribe(ctx, "a")
	require.NoError(t, err)
	b, err := hub.Subscribe(ctx, "b")
	require.NoError(t, err)

	require.NoError(t, hub.Publish(ctx, model.ProgressRecord{SessionID: "a", Version: 1}))

	select {
	case r := <-a.C():
		assert.Equal(t, "a", r.SessionID)
	case <-time.After(time.Second):
		t.Fatal("no record for a")
	}
	select {
	case r := <-b.C():
		t.Fatalf("b received %v", r)
	default:
	}
	assert.Equal(t, 1, hub.Subscribers("a"))
}

func TestHub_DropsOldestWhenFull(t *testing.T) {
	m := metrics.New()
	hub := NewHub(m)
	hub.buffer = 3
	ctx := context.Background()
	sub, err := hub.Subscribe(ctx, "s")
	require.NoError(t, err)

	for v := int64(1); v <= 5; v++ {
		require.NoError(t, hub.Publish(ctx, model.ProgressRecord{SessionID: "s", Version: v}))
	}

	var got []int64
	for i := 0; i < 3; i++ {
		got = append(got, (<-sub.C()).Version)
	}
	assert.Equal(t, []int64{3, 4, 5}, got)

	n, err := testutil.GatherAndCount(m.Registry(), "compintel_progress_dropped_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHub_CloseIsIdempotent(t *testing.T) {
	hub := NewHub(nil)
	sub, err := hub.Subscribe(context.Background(), "s")
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, 0, hub.Subscribers("s"))

	_, ok := <-sub.C()
	assert.False(t, ok)
	// publishing after close must not panic
	assert.NoError(t, hub.Publish(context.Background(), model.ProgressRecord{SessionID: "s"}))
}

func TestHub_PublishClonesRecord(t *testing.T) {
	hub := NewHub(nil)
	sub, err := hub.Subscribe(context.Background(), "s")
	require.NoError(t, err)

	rec := model.ProgressRecord{SessionID: "s", Metadata: map[string]any{"k": "v"}}
	require.NoError(t, hub.Publish(context.Background(), rec))
	rec.Metadata["k"] = "changed"

	got := <-sub.C()
	assert.Equal(t, "v", got.Metadata["k"])
}

func TestOffer(t *testing.T) {
	ch := make(chan model.ProgressRecord, 1)
	assert.False(t, offer(ch, model.ProgressRecord{Version: 1}))
	assert.True(t, offer(ch, model.ProgressRecord{Version: 2}))
	assert.Equal(t, int64(2), (<-ch).Version)
}

func TestRedisBus_Publish(t *testing.T) {
	db, mock := redismock.NewClientMock()
	bus := NewRedisBus(db, nil)

	rec := model.ProgressRecord{
		SessionID:            "s1",
		TotalCompetitors:     3,
		CompletedCompetitors: 1,
		ProgressPercentage:   33,
		Status:               model.SessionInProgress,
		Version:              3,
		UpdatedAt:            time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	payload, err := json.Marshal(rec)
	require.NoError(t, err)

	mock.ExpectPublish("progress:s1", string(payload)).SetVal(1)
	require.NoError(t, bus.Publish(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisBus_PublishError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	bus := NewRedisBus(db, nil)

	rec := model.ProgressRecord{SessionID: "s1"}
	payload, err := json.Marshal(rec)
	require.NoError(t, err)
	mock.ExpectPublish("progress:s1", string(payload)).SetErr(assert.AnError)

	err = bus.Publish(context.Background(), rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis publish s1")
}

func TestRedisSub_PumpDecodesAndSkipsBadPayloads(t *testing.T) {
	msgs := make(chan *redis.Message, 4)
	for _, v := range []int64{1, 2} {
		payload, err := json.Marshal(model.ProgressRecord{SessionID: "s1", Version: v, Status: model.SessionInProgress})
		require.NoError(t, err)
		msgs <- &redis.Message{Channel: "progress:s1", Payload: string(payload)}
		if v == 1 {
			msgs <- &redis.Message{Channel: "progress:s1", Payload: "{not json"}
		}
	}
	close(msgs)

	s := &redisSub{ch: make(chan model.ProgressRecord, DefaultBuffer)}
	s.pump(msgs, nil)

	var got []int64
	for rec := range s.C() {
		assert.Equal(t, "s1", rec.SessionID)
		got = append(got, rec.Version)
	}
	assert.Equal(t, []int64{1, 2}, got)
}

func TestRedisSub_PumpDropsOldestWhenFull(t *testing.T) {
	msgs := make(chan *redis.Message, 3)
	for v := int64(1); v <= 3; v++ {
		payload, err := json.Marshal(model.ProgressRecord{SessionID: "s1", Version: v})
		require.NoError(t, err)
		msgs <- &redis.Message{Payload: string(payload)}
	}
	close(msgs)

	m := metrics.New()
	s := &redisSub{ch: make(chan model.ProgressRecord, 2)}
	s.pump(msgs, m)

	var got []int64
	for rec := range s.C() {
		got = append(got, rec.Version)
	}
	assert.Equal(t, []int64{2, 3}, got)

	n, err := testutil.GatherAndCount(m.Registry(), "compintel_progress_dropped_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRedisBus_SubscribeUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	rdb := redis.NewClient(&redis.Options{Addr: addr, MaxRetries: -1, DialTimeout: time.Second})
	defer rdb.Close() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub, err := NewRedisBus(rdb, nil).Subscribe(ctx, "s1")
	require.Error(t, err)
	assert.Nil(t, sub)
	assert.Contains(t, err.Error(), "redis subscribe s1")
}

func TestChannel(t *testing.T) {
	assert.Equal(t, "progress:abc", Channel("abc"))
}
