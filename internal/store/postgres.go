package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/competitor-intel/internal/apperr"
	"github.com/sells-group/competitor-intel/internal/db"
	"github.com/sells-group/competitor-intel/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const profileColumns = `id, company_name, normalized_name, primary_domain, industry,
	overall_confidence_score, data_completeness_score, validation_status, created_at, updated_at`

const progressColumns = `session_id, total_competitors, completed_competitors, current_competitor,
	progress_percentage, status, error_message, metadata, version, updated_at`

// preparedStatements lists queries to prepare on each new connection. These
// are the statements every progress cycle and match request hits.
var preparedStatements = map[string]string{
	"get_progress":     `SELECT ` + progressColumns + ` FROM progress_records WHERE session_id = $1`,
	"save_progress":    saveProgressSQL,
	"insert_attempt":   insertAttemptSQL,
	"profile_by_exact": `SELECT ` + profileColumns + ` FROM company_profiles WHERE normalized_name = $1 ORDER BY overall_confidence_score DESC, updated_at DESC, id LIMIT $2`,
}

const saveProgressSQL = `UPDATE progress_records SET total_competitors = $2, completed_competitors = $3,
	current_competitor = $4, progress_percentage = $5, status = $6, error_message = $7,
	metadata = $8, version = $9, updated_at = $10
	WHERE session_id = $1 AND version = $11`

const insertAttemptSQL = `INSERT INTO match_attempts (id, company_name_queried, website, industry, algorithm,
	match_found, match_confidence, match_criteria, matched_profile_id, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				// Tables may not exist before the first migrate.
				if isUndefinedTable(err) {
					continue
				}
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

func isUndefinedTable(err error) bool {
	var pgErr interface{ SQLState() string }
	return errors.As(err, &pgErr) && pgErr.SQLState() == "42P01"
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS company_profiles (
	id                       TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	company_name             TEXT NOT NULL,
	normalized_name          TEXT NOT NULL UNIQUE,
	primary_domain           TEXT,
	industry                 TEXT,
	overall_confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	data_completeness_score  DOUBLE PRECISION NOT NULL DEFAULT 0,
	validation_status        TEXT NOT NULL DEFAULT 'unvalidated',
	created_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at               TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_company_profiles_domain ON company_profiles(primary_domain);
CREATE INDEX IF NOT EXISTS idx_company_profiles_industry ON company_profiles(lower(industry));

CREATE TABLE IF NOT EXISTS match_attempts (
	id                   TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	company_name_queried TEXT NOT NULL,
	website              TEXT NOT NULL DEFAULT '',
	industry             TEXT NOT NULL DEFAULT '',
	algorithm            TEXT NOT NULL DEFAULT 'standard',
	match_found          BOOLEAN NOT NULL,
	match_confidence     DOUBLE PRECISION NOT NULL DEFAULT 0,
	match_criteria       JSONB NOT NULL DEFAULT '[]',
	matched_profile_id   TEXT REFERENCES company_profiles(id),
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_match_attempts_company ON match_attempts(company_name_queried);
CREATE INDEX IF NOT EXISTS idx_match_attempts_created_at ON match_attempts(created_at);

CREATE TABLE IF NOT EXISTS analysis_sessions (
	session_id       TEXT PRIMARY KEY,
	competitor_names JSONB NOT NULL,
	providers        JSONB NOT NULL,
	models           JSONB NOT NULL DEFAULT '{}',
	status           TEXT NOT NULL DEFAULT 'pending',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_analysis_sessions_status ON analysis_sessions(status);

CREATE TABLE IF NOT EXISTS progress_records (
	session_id            TEXT PRIMARY KEY REFERENCES analysis_sessions(session_id),
	total_competitors     INTEGER NOT NULL,
	completed_competitors INTEGER NOT NULL DEFAULT 0,
	current_competitor    TEXT,
	progress_percentage   INTEGER NOT NULL DEFAULT 0,
	status                TEXT NOT NULL DEFAULT 'pending',
	error_message         TEXT,
	metadata              JSONB NOT NULL DEFAULT '{}',
	version               BIGINT NOT NULL DEFAULT 1,
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	CHECK (completed_competitors <= total_competitors)
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Profiles ---

func (s *PostgresStore) FindProfilesByNormalizedName(ctx context.Context, normalized string, limit int) ([]model.CompanyProfile, error) {
	return s.queryProfiles(ctx, "find by normalized name",
		`SELECT `+profileColumns+` FROM company_profiles WHERE normalized_name = $1
		 ORDER BY overall_confidence_score DESC, updated_at DESC, id LIMIT $2`,
		normalized, normalizeLimit(limit))
}

func (s *PostgresStore) FindProfilesByDomain(ctx context.Context, domain string, limit int) ([]model.CompanyProfile, error) {
	return s.queryProfiles(ctx, "find by domain",
		`SELECT `+profileColumns+` FROM company_profiles WHERE primary_domain = $1
		 ORDER BY overall_confidence_score DESC, updated_at DESC, id LIMIT $2`,
		domain, normalizeLimit(limit))
}

func (s *PostgresStore) SearchProfilesByName(ctx context.Context, fragment string, limit int) ([]model.CompanyProfile, error) {
	return s.queryProfiles(ctx, "search by name",
		`SELECT `+profileColumns+` FROM company_profiles WHERE company_name ILIKE $1 ESCAPE '\'
		 ORDER BY overall_confidence_score DESC, updated_at DESC, id LIMIT $2`,
		containsPattern(fragment), normalizeLimit(limit))
}

func (s *PostgresStore) FindProfilesByIndustry(ctx context.Context, industry, nameToken string, limit int) ([]model.CompanyProfile, error) {
	return s.queryProfiles(ctx, "find by industry",
		`SELECT `+profileColumns+` FROM company_profiles
		 WHERE lower(industry) = lower($1) AND normalized_name LIKE $2 ESCAPE '\'
		 ORDER BY overall_confidence_score DESC, updated_at DESC, id LIMIT $3`,
		industry, containsPattern(nameToken), normalizeLimit(limit))
}

func (s *PostgresStore) queryProfiles(ctx context.Context, op, query string, args ...any) ([]model.CompanyProfile, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	defer rows.Close()

	var out []model.CompanyProfile
	for rows.Next() {
		p, err := scanPgProfile(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: %s: scan", op)
		}
		out = append(out, *p)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: %s: iterate", op)
}

func scanPgProfile(row scannable) (*model.CompanyProfile, error) {
	var p model.CompanyProfile
	err := row.Scan(&p.ID, &p.CompanyName, &p.NormalizedName, &p.PrimaryDomain, &p.Industry,
		&p.OverallConfidenceScore, &p.DataCompletenessScore, &p.ValidationStatus, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, id string) (*model.CompanyProfile, error) {
	p, err := scanPgProfile(s.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM company_profiles WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("profile %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get profile %s", id)
	}
	return p, nil
}

func (s *PostgresStore) CreateProfile(ctx context.Context, p *model.CompanyProfile) (*model.CompanyProfile, error) {
	prepareProfile(p)

	_, err := s.pool.Exec(ctx,
		`INSERT INTO company_profiles (`+profileColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (normalized_name) DO NOTHING`,
		p.ID, p.CompanyName, p.NormalizedName, p.PrimaryDomain, p.Industry,
		p.OverallConfidenceScore, p.DataCompletenessScore, string(p.ValidationStatus), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert profile")
	}

	stored, err := scanPgProfile(s.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM company_profiles WHERE normalized_name = $1`, p.NormalizedName))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: reload profile %q", p.NormalizedName)
	}
	return stored, nil
}

// profileImport overwrites everything but id and created_at on a normalized
// name collision.
var profileImport = db.Merge{
	Table: "company_profiles",
	Columns: []string{"id", "company_name", "normalized_name", "primary_domain", "industry",
		"overall_confidence_score", "data_completeness_score", "validation_status", "created_at", "updated_at"},
	Key: []string{"normalized_name"},
	Update: []string{"company_name", "primary_domain", "industry",
		"overall_confidence_score", "data_completeness_score", "validation_status", "updated_at"},
}

// ImportProfiles bulk-upserts profiles keyed on normalized name.
func (s *PostgresStore) ImportProfiles(ctx context.Context, profiles []model.CompanyProfile) (int64, error) {
	profiles = dedupeProfiles(profiles)
	rows := make([][]any, 0, len(profiles))
	for i := range profiles {
		p := &profiles[i]
		prepareProfile(p)
		rows = append(rows, []any{
			p.ID, p.CompanyName, p.NormalizedName, p.PrimaryDomain, p.Industry,
			p.OverallConfidenceScore, p.DataCompletenessScore, string(p.ValidationStatus), p.CreatedAt, p.UpdatedAt,
		})
	}

	n, err := profileImport.Run(ctx, s.pool, rows)
	return n, eris.Wrap(err, "postgres: import profiles")
}

// prepareProfile fills generated fields on a profile about to be written.
func prepareProfile(p *model.CompanyProfile) {
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.ValidationStatus == "" {
		p.ValidationStatus = model.ValidationUnvalidated
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
}

// --- Match attempts ---

func (s *PostgresStore) RecordMatchAttempt(ctx context.Context, a *model.MatchAttempt) error {
	prepareAttempt(a)
	criteriaJSON, err := json.Marshal(a.MatchCriteria)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal match criteria")
	}

	_, err = s.pool.Exec(ctx, insertAttemptSQL,
		a.ID, a.CompanyNameQueried, a.Website, a.Industry, string(a.Algorithm),
		a.MatchFound, a.MatchConfidence, criteriaJSON, a.MatchedProfileID, a.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert match attempt")
}

func prepareAttempt(a *model.MatchAttempt) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.MatchCriteria == nil {
		a.MatchCriteria = []string{}
	}
}

func (s *PostgresStore) ListMatchAttempts(ctx context.Context, filter AttemptFilter) ([]model.MatchAttempt, error) {
	query := `SELECT id, company_name_queried, website, industry, algorithm, match_found,
		match_confidence, match_criteria, matched_profile_id, created_at FROM match_attempts WHERE true`
	args := []any{}
	argIdx := 1

	if filter.CompanyName != "" {
		query += fmt.Sprintf(` AND company_name_queried = $%d`, argIdx)
		args = append(args, filter.CompanyName)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, argIdx)
	args = append(args, normalizeLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list match attempts")
	}
	defer rows.Close()

	var out []model.MatchAttempt
	for rows.Next() {
		var a model.MatchAttempt
		var criteriaJSON []byte
		if err := rows.Scan(&a.ID, &a.CompanyNameQueried, &a.Website, &a.Industry, &a.Algorithm, &a.MatchFound,
			&a.MatchConfidence, &criteriaJSON, &a.MatchedProfileID, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan match attempt")
		}
		if err := json.Unmarshal(criteriaJSON, &a.MatchCriteria); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal match criteria")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list match attempts iterate")
}

// --- Sessions ---

func (s *PostgresStore) CreateSession(ctx context.Context, sess *model.AnalysisSession) error {
	namesJSON, providersJSON, modelsJSON, err := marshalSession(sess)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal session")
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO analysis_sessions (session_id, competitor_names, providers, models, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (session_id) DO NOTHING`,
		sess.SessionID, namesJSON, providersJSON, modelsJSON, string(sess.Status), sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert session %s", sess.SessionID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrSessionExists, "postgres: insert session %s", sess.SessionID)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*model.AnalysisSession, error) {
	var sess model.AnalysisSession
	var namesJSON, providersJSON, modelsJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT session_id, competitor_names, providers, models, status, created_at, updated_at
		 FROM analysis_sessions WHERE session_id = $1`, sessionID,
	).Scan(&sess.SessionID, &namesJSON, &providersJSON, &modelsJSON, &sess.Status, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("session %s", sessionID)
		}
		return nil, eris.Wrapf(err, "postgres: get session %s", sessionID)
	}
	if err := unmarshalSession(&sess, namesJSON, providersJSON, modelsJSON); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal session")
	}
	return &sess, nil
}

func (s *PostgresStore) UpdateSessionStatus(ctx context.Context, sessionID string, status model.SessionStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analysis_sessions SET status = $1, updated_at = $2 WHERE session_id = $3`,
		string(status), time.Now().UTC(), sessionID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update session status %s", sessionID)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("session %s", sessionID)
	}
	return nil
}

// --- Progress ---

func (s *PostgresStore) CreateProgress(ctx context.Context, rec *model.ProgressRecord) error {
	metaJSON, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal progress metadata")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO progress_records (`+progressColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.SessionID, rec.TotalCompetitors, rec.CompletedCompetitors, rec.CurrentCompetitor,
		rec.ProgressPercentage, string(rec.Status), rec.ErrorMessage, metaJSON, rec.Version, rec.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: insert progress %s", rec.SessionID)
}

func (s *PostgresStore) GetProgress(ctx context.Context, sessionID string) (*model.ProgressRecord, error) {
	var rec model.ProgressRecord
	var metaJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT `+progressColumns+` FROM progress_records WHERE session_id = $1`, sessionID,
	).Scan(&rec.SessionID, &rec.TotalCompetitors, &rec.CompletedCompetitors, &rec.CurrentCompetitor,
		&rec.ProgressPercentage, &rec.Status, &rec.ErrorMessage, &metaJSON, &rec.Version, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("progress %s", sessionID)
		}
		return nil, eris.Wrapf(err, "postgres: get progress %s", sessionID)
	}
	if err := unmarshalMetadata(metaJSON, &rec.Metadata); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal progress metadata")
	}
	return &rec, nil
}

func (s *PostgresStore) SaveProgress(ctx context.Context, rec *model.ProgressRecord) error {
	metaJSON, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal progress metadata")
	}

	tag, err := s.pool.Exec(ctx, saveProgressSQL,
		rec.SessionID, rec.TotalCompetitors, rec.CompletedCompetitors, rec.CurrentCompetitor,
		rec.ProgressPercentage, string(rec.Status), rec.ErrorMessage, metaJSON, rec.Version, rec.UpdatedAt,
		rec.Version-1,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save progress %s", rec.SessionID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrVersionConflict, "postgres: save progress %s v%d", rec.SessionID, rec.Version)
	}
	return nil
}

// --- JSON column helpers shared by both backends ---

func marshalSession(sess *model.AnalysisSession) (names, providers, models []byte, err error) {
	if names, err = json.Marshal(sess.CompetitorNames); err != nil {
		return
	}
	if providers, err = json.Marshal(sess.Providers); err != nil {
		return
	}
	m := sess.Models
	if m == nil {
		m = map[string]string{}
	}
	models, err = json.Marshal(m)
	return
}

func unmarshalSession(sess *model.AnalysisSession, names, providers, models []byte) error {
	if err := json.Unmarshal(names, &sess.CompetitorNames); err != nil {
		return err
	}
	if err := json.Unmarshal(providers, &sess.Providers); err != nil {
		return err
	}
	if len(models) > 0 {
		return json.Unmarshal(models, &sess.Models)
	}
	return nil
}

func marshalMetadata(meta map[string]any) ([]byte, error) {
	if meta == nil {
		meta = map[string]any{}
	}
	return json.Marshal(meta)
}

func unmarshalMetadata(b []byte, meta *map[string]any) error {
	*meta = map[string]any{}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, meta)
}
