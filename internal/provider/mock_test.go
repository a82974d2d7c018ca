package provider

import (
	"context"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type mockAdapter struct {
	mock.Mock
	name Name
}

func (m *mockAdapter) Name() Name { return m.name }

func (m *mockAdapter) Query(ctx context.Context, req Request) (*Response, error) {
	args := m.Called(ctx, req)
	if fn, ok := args.Get(0).(func(context.Context, Request) (*Response, error)); ok {
		return fn(ctx, req)
	}
	var resp *Response
	if r := args.Get(0); r != nil {
		resp = r.(*Response)
	}
	return resp, args.Error(1)
}
