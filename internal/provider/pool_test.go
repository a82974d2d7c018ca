package provider

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/competitor-intel/internal/metrics"
	"github.com/sells-group/competitor-intel/internal/resilience"
)

func testSettings() Settings {
	s := DefaultSettings()
	s.Defaults.TimeoutSecs = 1
	s.Defaults.RatePerMinute = 6000
	s.Defaults.Burst = 10
	for n, ps := range s.Providers {
		ps.RatePerMinute = 0
		s.Providers[n] = ps
	}
	return s
}

func fastRetry() resilience.RetryPolicy {
	return resilience.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1}
}

func newTestPool(adapters ...Adapter) *Pool {
	reg := NewRegistry()
	for _, a := range adapters {
		reg.Register(a)
	}
	return NewPool(reg, testSettings(), WithRetryPolicy(fastRetry()))
}

func TestPool_AllSucceed(t *testing.T) {
	a := &mockAdapter{name: Anthropic}
	a.On("Query", mock.Anything, mock.MatchedBy(func(r Request) bool {
		return r.Competitor == "Acme" && r.Industry == "Retail" && r.Model == "claude-opus-4-6"
	})).Return(&Response{Text: `{"overview":"o","pricing":"p"}`, Model: "claude-opus-4-6", CostUSD: 0.02}, nil)

	g := &mockAdapter{name: Gemini}
	g.On("Query", mock.Anything, mock.MatchedBy(func(r Request) bool { return r.Model == "" })).
		Return(&Response{Text: "plain text answer of some length......", Model: "gemini-2.5-flash", CostUSD: 0.01}, nil)

	res := newTestPool(a, g).Run(context.Background(), "Acme", JobContext{
		Industry:  "Retail",
		Providers: []Name{Anthropic, Gemini},
		Models:    map[string]string{"anthropic": "claude-opus-4-6"},
	})

	assert.True(t, res.Success)
	assert.Equal(t, "Acme", res.CompetitorName)
	assert.Empty(t, res.ErrorMessage)
	assert.InDelta(t, 0.03, res.CostUSD, 1e-9)
	assert.Equal(t, `{"overview":"o","pricing":"p"}`, res.Payload["anthropic"])
	assert.Contains(t, res.Payload, "gemini")
	// anthropic scores 70, gemini 38 chars of text scores 1
	assert.InDelta(t, 35.5, res.QualityScore, 1e-9)
	require.Len(t, res.Providers, 2)
	assert.Equal(t, "anthropic", res.Providers[0].Provider)
	assert.Equal(t, "claude-opus-4-6", res.Providers[0].Model)
	assert.True(t, res.Providers[1].Success)
	a.AssertExpectations(t)
	g.AssertExpectations(t)
}

func TestPool_PartialFailureStillSucceeds(t *testing.T) {
	a := &mockAdapter{name: Anthropic}
	a.On("Query", mock.Anything, mock.Anything).Return(nil, errors.New("invalid request"))
	p := &mockAdapter{name: Perplexity}
	p.On("Query", mock.Anything, mock.Anything).Return(&Response{Text: `{"overview":"o"}`, CostUSD: 0.005}, nil)

	res := newTestPool(a, p).Run(context.Background(), "Acme", JobContext{Providers: []Name{Anthropic, Perplexity}})

	assert.True(t, res.Success)
	assert.Empty(t, res.ErrorMessage)
	assert.NotContains(t, res.Payload, "anthropic")
	assert.Equal(t, 65.0, res.QualityScore)
	assert.False(t, res.Providers[0].Success)
	assert.Contains(t, res.Providers[0].ErrorMessage, "invalid request")
	a.AssertNumberOfCalls(t, "Query", 1)
}

func TestPool_AllFail(t *testing.T) {
	a := &mockAdapter{name: Anthropic}
	a.On("Query", mock.Anything, mock.Anything).Return(nil, errors.New("bad key"))

	res := newTestPool(a).Run(context.Background(), "B", JobContext{Providers: []Name{Anthropic, Gemini}})

	assert.False(t, res.Success)
	assert.Zero(t, res.QualityScore)
	assert.Zero(t, res.CostUSD)
	assert.Nil(t, res.Payload)
	assert.Contains(t, res.ErrorMessage, "anthropic: ")
	assert.Contains(t, res.ErrorMessage, "bad key")
	assert.Contains(t, res.ErrorMessage, "gemini: ")
	assert.Contains(t, res.ErrorMessage, "not configured")
}

func TestPool_NoProviders(t *testing.T) {
	res := newTestPool().Run(context.Background(), "A", JobContext{})
	assert.False(t, res.Success)
	assert.Equal(t, "no providers selected", res.ErrorMessage)
}

func TestPool_RetriesTransient(t *testing.T) {
	a := &mockAdapter{name: Anthropic}
	a.On("Query", mock.Anything, mock.Anything).
		Return(nil, &resilience.StatusError{Service: "anthropic", StatusCode: http.StatusServiceUnavailable}).Once()
	a.On("Query", mock.Anything, mock.Anything).
		Return(&Response{Text: "ok"}, nil).Once()

	res := newTestPool(a).Run(context.Background(), "A", JobContext{Providers: []Name{Anthropic}})

	assert.True(t, res.Success)
	a.AssertNumberOfCalls(t, "Query", 2)
}

func TestPool_TimeoutFailsOnlyThatProvider(t *testing.T) {
	slow := &mockAdapter{name: Gemini}
	slow.On("Query", mock.Anything, mock.Anything).Return(func(ctx context.Context, _ Request) (*Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, nil)
	fast := &mockAdapter{name: Perplexity}
	fast.On("Query", mock.Anything, mock.Anything).Return(&Response{Text: "fine"}, nil)

	start := time.Now()
	res := newTestPool(slow, fast).Run(context.Background(), "A", JobContext{Providers: []Name{Gemini, Perplexity}})

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, res.Success)
	assert.False(t, res.Providers[0].Success)
	assert.Contains(t, res.Providers[0].ErrorMessage, "timed out")
	assert.True(t, res.Providers[1].Success)
}

func TestPool_BreakerOpens(t *testing.T) {
	s := testSettings()
	s.Defaults.BreakerFails = 2
	reg := NewRegistry()
	a := &mockAdapter{name: Anthropic}
	a.On("Query", mock.Anything, mock.Anything).
		Return(nil, &resilience.StatusError{Service: "anthropic", StatusCode: http.StatusBadGateway})
	reg.Register(a)
	rp := fastRetry()
	rp.MaxAttempts = 1
	pool := NewPool(reg, s, WithRetryPolicy(rp))

	jc := JobContext{Providers: []Name{Anthropic}}
	pool.Run(context.Background(), "A", jc)
	pool.Run(context.Background(), "B", jc)
	assert.Equal(t, "open", pool.BreakerStates()["anthropic"])

	res := pool.Run(context.Background(), "C", jc)
	assert.False(t, res.Success)
	assert.Contains(t, res.ErrorMessage, "circuit open")
	a.AssertNumberOfCalls(t, "Query", 2)
}

func TestPool_RecordsMetrics(t *testing.T) {
	m := metrics.New()
	a := &mockAdapter{name: Anthropic}
	a.On("Query", mock.Anything, mock.Anything).Return(&Response{Text: "ok", CostUSD: 0.5}, nil)
	reg := NewRegistry()
	reg.Register(a)

	NewPool(reg, testSettings(), WithPoolMetrics(m)).Run(context.Background(), "A", JobContext{Providers: []Name{Anthropic, Perplexity}})

	n, err := testutil.GatherAndCount(m.Registry(), "compintel_provider_calls_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPool_WithBackoffKeepsAttempts(t *testing.T) {
	s := testSettings()
	ps := s.Providers[Perplexity]
	ps.MaxAttempts = 5
	s.Providers[Perplexity] = ps

	pool := NewPool(NewRegistry(), s, WithBackoff(fastRetry()))
	assert.Equal(t, 5, pool.policies[Perplexity].MaxAttempts)
	assert.Equal(t, s.For(Anthropic).MaxAttempts, pool.policies[Anthropic].MaxAttempts)
	assert.Equal(t, time.Millisecond, pool.policies[Anthropic].InitialBackoff)
}
