package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/competitor-intel/internal/apperr"
	"github.com/sells-group/competitor-intel/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var profileCols = []string{"id", "company_name", "normalized_name", "primary_domain", "industry",
	"overall_confidence_score", "data_completeness_score", "validation_status", "created_at", "updated_at"}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS company_profiles`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindProfilesByDomain(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	domain := "acme.io"

	mock.ExpectQuery(`FROM company_profiles WHERE primary_domain = \$1`).
		WithArgs("acme.io", 10).
		WillReturnRows(pgxmock.NewRows(profileCols).
			AddRow("p1", "Acme Technologies", "acme technologies", &domain, (*string)(nil),
				85.0, 60.0, model.ValidationValidated, now, now))

	got, err := s.FindProfilesByDomain(context.Background(), "acme.io", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].ID)
	assert.Equal(t, "acme.io", got[0].Domain())
	assert.Nil(t, got[0].Industry)
	assert.Equal(t, model.ValidationValidated, got[0].ValidationStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SearchProfilesByName_Pattern(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WHERE company_name ILIKE \$1`).
		WithArgs(`%50\% Off%`, 100).
		WillReturnRows(pgxmock.NewRows(profileCols))

	got, err := s.SearchProfilesByName(context.Background(), "50% Off", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindProfiles_QueryError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WHERE lower\(industry\) = lower\(\$1\)`).
		WithArgs("Software", "%acme%", 10).
		WillReturnError(errors.New("connection reset"))

	_, err := s.FindProfilesByIndustry(context.Background(), "Software", "acme", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "find by industry")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetProfile_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM company_profiles WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetProfile(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateProfile_ReturnsStoredRow(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(`(?s)INSERT INTO company_profiles .*ON CONFLICT \(normalized_name\) DO NOTHING`).
		WithArgs(pgxmock.AnyArg(), "ACME LLC", "acme", (*string)(nil), (*string)(nil),
			0.0, 0.0, "unvalidated", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(`FROM company_profiles WHERE normalized_name = \$1`).
		WithArgs("acme").
		WillReturnRows(pgxmock.NewRows(profileCols).
			AddRow("existing", "Acme Inc", "acme", (*string)(nil), (*string)(nil),
				0.0, 0.0, model.ValidationUnvalidated, now, now))

	got, err := s.CreateProfile(context.Background(), &model.CompanyProfile{CompanyName: "ACME LLC", NormalizedName: "acme"})
	require.NoError(t, err)
	assert.Equal(t, "existing", got.ID)
	assert.Equal(t, "Acme Inc", got.CompanyName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ImportProfiles(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_company_profiles"}, profileCols).WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "company_profiles"`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := s.ImportProfiles(context.Background(), []model.CompanyProfile{
		{CompanyName: "Acme", NormalizedName: "acme"},
		{CompanyName: "Acme Inc", NormalizedName: "acme"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordMatchAttempt(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO match_attempts`).
		WithArgs(pgxmock.AnyArg(), "Nobody", "", "", "standard", false, 0.0, []byte(`[]`), (*string)(nil), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	a := &model.MatchAttempt{CompanyNameQueried: "Nobody", Algorithm: model.AlgorithmStandard}
	require.NoError(t, s.RecordMatchAttempt(context.Background(), a))
	assert.NotEmpty(t, a.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListMatchAttempts(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	pid := "p1"

	mock.ExpectQuery(`FROM match_attempts WHERE true AND company_name_queried = \$1 ORDER BY created_at DESC, id LIMIT \$2`).
		WithArgs("Acme", 5).
		WillReturnRows(pgxmock.NewRows([]string{"id", "company_name_queried", "website", "industry", "algorithm",
			"match_found", "match_confidence", "match_criteria", "matched_profile_id", "created_at"}).
			AddRow("a1", "Acme", "", "", model.AlgorithmStandard, true, 1.0,
				[]byte(`["exact_name_match"]`), &pid, now))

	got, err := s.ListMatchAttempts(context.Background(), AttemptFilter{CompanyName: "Acme", Limit: 5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"exact_name_match"}, got[0].MatchCriteria)
	assert.Equal(t, "p1", *got[0].MatchedProfileID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateSession(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO analysis_sessions`).
		WithArgs("s1", []byte(`["A","B"]`), []byte(`["anthropic"]`), []byte(`{}`), "pending",
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.CreateSession(context.Background(), &model.AnalysisSession{
		SessionID:       "s1",
		CompetitorNames: []string{"A", "B"},
		Providers:       []string{"anthropic"},
		Status:          model.SessionPending,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateSession_Exists(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`(?s)INSERT INTO analysis_sessions .* ON CONFLICT \(session_id\) DO NOTHING`).
		WithArgs("s1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "pending",
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err := s.CreateSession(context.Background(), &model.AnalysisSession{
		SessionID:       "s1",
		CompetitorNames: []string{"A"},
		Providers:       []string{"anthropic"},
		Status:          model.SessionPending,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSession(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM analysis_sessions WHERE session_id = \$1`).
		WithArgs("s1").
		WillReturnRows(pgxmock.NewRows([]string{"session_id", "competitor_names", "providers", "models",
			"status", "created_at", "updated_at"}).
			AddRow("s1", []byte(`["A","B"]`), []byte(`["gemini"]`), []byte(`{"gemini":"gemini-1.5-flash"}`),
				model.SessionInProgress, now, now))

	got, err := s.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, got.CompetitorNames)
	assert.Equal(t, "gemini-1.5-flash", got.Models["gemini"])
	assert.Equal(t, model.SessionInProgress, got.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSession_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM analysis_sessions`).WithArgs("nope").WillReturnError(pgx.ErrNoRows)

	_, err := s.GetSession(context.Background(), "nope")
	assert.True(t, apperr.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateSessionStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE analysis_sessions SET status = \$1`).
		WithArgs("failed", pgxmock.AnyArg(), "nope").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateSessionStatus(context.Background(), "nope", model.SessionFailed)
	assert.True(t, apperr.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetProgress(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	cur := "B"

	mock.ExpectQuery(`FROM progress_records WHERE session_id = \$1`).
		WithArgs("s1").
		WillReturnRows(pgxmock.NewRows([]string{"session_id", "total_competitors", "completed_competitors",
			"current_competitor", "progress_percentage", "status", "error_message", "metadata", "version", "updated_at"}).
			AddRow("s1", 3, 1, &cur, 33, model.SessionInProgress, (*string)(nil),
				[]byte(`{"results":{"A":{"competitor_name":"A","success":true}}}`), int64(2), now))

	rec, err := s.GetProgress(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.CompletedCompetitors)
	assert.Equal(t, "B", *rec.CurrentCompetitor)
	assert.Equal(t, int64(2), rec.Version)
	results, err := rec.JobResults()
	require.NoError(t, err)
	assert.True(t, results["A"].Success)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetProgress_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM progress_records`).WithArgs("nope").WillReturnError(pgx.ErrNoRows)

	_, err := s.GetProgress(context.Background(), "nope")
	assert.True(t, apperr.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveProgress_VersionConflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`(?s)UPDATE progress_records SET .*WHERE session_id = \$1 AND version = \$11`).
		WithArgs("s1", 3, 2, (*string)(nil), 67, "in_progress", (*string)(nil), []byte(`{}`),
			int64(5), pgxmock.AnyArg(), int64(4)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.SaveProgress(context.Background(), &model.ProgressRecord{
		SessionID: "s1", TotalCompetitors: 3, CompletedCompetitors: 2, ProgressPercentage: 67,
		Status: model.SessionInProgress, Version: 5, UpdatedAt: time.Now().UTC(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Ping(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectPing()
	assert.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
