package matching

import (
	"context"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/sells-group/competitor-intel/internal/model"
	"github.com/sells-group/competitor-intel/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// mockProfileStore implements store.ProfileStore for testing.
type mockProfileStore struct {
	mock.Mock
}

func profiles(args mock.Arguments) ([]model.CompanyProfile, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.CompanyProfile), args.Error(1)
}

func (m *mockProfileStore) FindProfilesByNormalizedName(ctx context.Context, normalized string, limit int) ([]model.CompanyProfile, error) {
	return profiles(m.Called(ctx, normalized, limit))
}

func (m *mockProfileStore) FindProfilesByDomain(ctx context.Context, domain string, limit int) ([]model.CompanyProfile, error) {
	return profiles(m.Called(ctx, domain, limit))
}

func (m *mockProfileStore) SearchProfilesByName(ctx context.Context, fragment string, limit int) ([]model.CompanyProfile, error) {
	return profiles(m.Called(ctx, fragment, limit))
}

func (m *mockProfileStore) FindProfilesByIndustry(ctx context.Context, industry, nameToken string, limit int) ([]model.CompanyProfile, error) {
	return profiles(m.Called(ctx, industry, nameToken, limit))
}

func (m *mockProfileStore) GetProfile(ctx context.Context, id string) (*model.CompanyProfile, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CompanyProfile), args.Error(1)
}

func (m *mockProfileStore) CreateProfile(ctx context.Context, p *model.CompanyProfile) (*model.CompanyProfile, error) {
	args := m.Called(ctx, p)
	if fn, ok := args.Get(0).(func(*model.CompanyProfile) *model.CompanyProfile); ok {
		return fn(p), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CompanyProfile), args.Error(1)
}

func (m *mockProfileStore) ImportProfiles(ctx context.Context, ps []model.CompanyProfile) (int64, error) {
	args := m.Called(ctx, ps)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockProfileStore) RecordMatchAttempt(ctx context.Context, a *model.MatchAttempt) error {
	return m.Called(ctx, a).Error(0)
}

func (m *mockProfileStore) ListMatchAttempts(ctx context.Context, filter store.AttemptFilter) ([]model.MatchAttempt, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.MatchAttempt), args.Error(1)
}
