package matching

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/competitor-intel/internal/model"
	"github.com/sells-group/competitor-intel/internal/store"
)

func newSQLiteMatcher(t *testing.T) (*Matcher, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "match.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return NewMatcher(st), st
}

func TestSQLiteMatch_Idempotent(t *testing.T) {
	m, st := newSQLiteMatcher(t)
	ctx := context.Background()

	_, err := st.ImportProfiles(ctx, []model.CompanyProfile{
		{CompanyName: "Acme Technologies", NormalizedName: "acme technologies", PrimaryDomain: model.StringPtr("acme.io")},
		{CompanyName: "Acme Inc", NormalizedName: "acme", OverallConfidenceScore: 90},
		{CompanyName: "Globex", NormalizedName: "globex"},
	})
	require.NoError(t, err)

	req := MatchRequest{CompanyName: "Acme", Website: "acme.io"}
	first, err := m.Match(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := m.Match(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, second)

	assert.Equal(t, first.MasterProfileID, second.MasterProfileID)
	assert.GreaterOrEqual(t, second.MatchConfidence, first.MatchConfidence)

	attempts, err := st.ListMatchAttempts(ctx, store.AttemptFilter{CompanyName: "Acme"})
	require.NoError(t, err)
	assert.Len(t, attempts, 2)
}

func TestSQLiteMatch_ScenarioA(t *testing.T) {
	m, st := newSQLiteMatcher(t)
	ctx := context.Background()

	_, err := st.ImportProfiles(ctx, []model.CompanyProfile{{CompanyName: "Acme Inc", NormalizedName: "acme"}})
	require.NoError(t, err)

	res, err := m.Match(ctx, MatchRequest{CompanyName: "Acme Inc."})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1.0, res.MatchConfidence)
	assert.Equal(t, []string{model.CriteriaExactName}, res.MatchCriteria)
}

func TestSQLiteMatch_ScenarioD(t *testing.T) {
	m, st := newSQLiteMatcher(t)
	ctx := context.Background()

	res, err := m.Match(ctx, MatchRequest{CompanyName: "Nonexistent Widgets"})
	require.NoError(t, err)
	assert.Nil(t, res)

	attempts, err := st.ListMatchAttempts(ctx, store.AttemptFilter{})
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.False(t, attempts[0].MatchFound)
	assert.Nil(t, attempts[0].MatchedProfileID)
}

func TestSQLiteEnsureProfile_CreatesOnceThenReuses(t *testing.T) {
	m, _ := newSQLiteMatcher(t)
	ctx := context.Background()

	p1, created, err := m.EnsureProfile(ctx, "Hooli LLC", "https://www.hooli.xyz", "Software", 72)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "hooli", p1.NormalizedName)
	assert.Equal(t, "hooli.xyz", p1.Domain())

	p2, created, err := m.EnsureProfile(ctx, "Hooli", "", "", 10)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, p1.ID, p2.ID)
}
