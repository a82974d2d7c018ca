package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/competitor-intel/internal/apperr"
	"github.com/sells-group/competitor-intel/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One connection serializes writers and keeps in-memory databases shared.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS company_profiles (
	id                       TEXT PRIMARY KEY,
	company_name             TEXT NOT NULL,
	normalized_name          TEXT NOT NULL UNIQUE,
	primary_domain           TEXT,
	industry                 TEXT,
	overall_confidence_score REAL NOT NULL DEFAULT 0,
	data_completeness_score  REAL NOT NULL DEFAULT 0,
	validation_status        TEXT NOT NULL DEFAULT 'unvalidated',
	created_at               DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at               DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_company_profiles_domain ON company_profiles(primary_domain);
CREATE INDEX IF NOT EXISTS idx_company_profiles_industry ON company_profiles(lower(industry));

CREATE TABLE IF NOT EXISTS match_attempts (
	id                   TEXT PRIMARY KEY,
	company_name_queried TEXT NOT NULL,
	website              TEXT NOT NULL DEFAULT '',
	industry             TEXT NOT NULL DEFAULT '',
	algorithm            TEXT NOT NULL DEFAULT 'standard',
	match_found          INTEGER NOT NULL,
	match_confidence     REAL NOT NULL DEFAULT 0,
	match_criteria       TEXT NOT NULL DEFAULT '[]',
	matched_profile_id   TEXT REFERENCES company_profiles(id),
	created_at           DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_match_attempts_company ON match_attempts(company_name_queried);

CREATE TABLE IF NOT EXISTS analysis_sessions (
	session_id       TEXT PRIMARY KEY,
	competitor_names TEXT NOT NULL,
	providers        TEXT NOT NULL,
	models           TEXT NOT NULL DEFAULT '{}',
	status           TEXT NOT NULL DEFAULT 'pending',
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS progress_records (
	session_id            TEXT PRIMARY KEY REFERENCES analysis_sessions(session_id),
	total_competitors     INTEGER NOT NULL,
	completed_competitors INTEGER NOT NULL DEFAULT 0,
	current_competitor    TEXT,
	progress_percentage   INTEGER NOT NULL DEFAULT 0,
	status                TEXT NOT NULL DEFAULT 'pending',
	error_message         TEXT,
	metadata              TEXT NOT NULL DEFAULT '{}',
	version               INTEGER NOT NULL DEFAULT 1,
	updated_at            DATETIME NOT NULL DEFAULT (datetime('now')),
	CHECK (completed_competitors <= total_competitors)
);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Profiles ---

func (s *SQLiteStore) FindProfilesByNormalizedName(ctx context.Context, normalized string, limit int) ([]model.CompanyProfile, error) {
	return s.queryProfiles(ctx, "find by normalized name",
		`SELECT `+profileColumns+` FROM company_profiles WHERE normalized_name = ?
		 ORDER BY overall_confidence_score DESC, updated_at DESC, id LIMIT ?`,
		normalized, normalizeLimit(limit))
}

func (s *SQLiteStore) FindProfilesByDomain(ctx context.Context, domain string, limit int) ([]model.CompanyProfile, error) {
	return s.queryProfiles(ctx, "find by domain",
		`SELECT `+profileColumns+` FROM company_profiles WHERE primary_domain = ?
		 ORDER BY overall_confidence_score DESC, updated_at DESC, id LIMIT ?`,
		domain, normalizeLimit(limit))
}

// SearchProfilesByName relies on SQLite's LIKE being case-insensitive for ASCII.
func (s *SQLiteStore) SearchProfilesByName(ctx context.Context, fragment string, limit int) ([]model.CompanyProfile, error) {
	return s.queryProfiles(ctx, "search by name",
		`SELECT `+profileColumns+` FROM company_profiles WHERE company_name LIKE ? ESCAPE '\'
		 ORDER BY overall_confidence_score DESC, updated_at DESC, id LIMIT ?`,
		containsPattern(fragment), normalizeLimit(limit))
}

func (s *SQLiteStore) FindProfilesByIndustry(ctx context.Context, industry, nameToken string, limit int) ([]model.CompanyProfile, error) {
	return s.queryProfiles(ctx, "find by industry",
		`SELECT `+profileColumns+` FROM company_profiles
		 WHERE lower(industry) = lower(?) AND normalized_name LIKE ? ESCAPE '\'
		 ORDER BY overall_confidence_score DESC, updated_at DESC, id LIMIT ?`,
		industry, containsPattern(nameToken), normalizeLimit(limit))
}

func (s *SQLiteStore) queryProfiles(ctx context.Context, op, query string, args ...any) ([]model.CompanyProfile, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CompanyProfile
	for rows.Next() {
		p, err := scanSQLiteProfile(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: %s: scan", op)
		}
		out = append(out, *p)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: %s: iterate", op)
}

func scanSQLiteProfile(row scannable) (*model.CompanyProfile, error) {
	var p model.CompanyProfile
	var domain, industry sql.NullString
	var status string
	err := row.Scan(&p.ID, &p.CompanyName, &p.NormalizedName, &domain, &industry,
		&p.OverallConfidenceScore, &p.DataCompletenessScore, &status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.PrimaryDomain = nullToPtr(domain)
	p.Industry = nullToPtr(industry)
	p.ValidationStatus = model.ValidationStatus(status)
	return &p, nil
}

func (s *SQLiteStore) GetProfile(ctx context.Context, id string) (*model.CompanyProfile, error) {
	p, err := scanSQLiteProfile(s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM company_profiles WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("profile %s", id)
		}
		return nil, eris.Wrapf(err, "sqlite: get profile %s", id)
	}
	return p, nil
}

func (s *SQLiteStore) CreateProfile(ctx context.Context, p *model.CompanyProfile) (*model.CompanyProfile, error) {
	prepareProfile(p)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO company_profiles (`+profileColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (normalized_name) DO NOTHING`,
		p.ID, p.CompanyName, p.NormalizedName, p.PrimaryDomain, p.Industry,
		p.OverallConfidenceScore, p.DataCompletenessScore, string(p.ValidationStatus), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert profile")
	}

	stored, err := scanSQLiteProfile(s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM company_profiles WHERE normalized_name = ?`, p.NormalizedName))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: reload profile %q", p.NormalizedName)
	}
	return stored, nil
}

func (s *SQLiteStore) ImportProfiles(ctx context.Context, profiles []model.CompanyProfile) (int64, error) {
	profiles = dedupeProfiles(profiles)
	if len(profiles) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import profiles: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO company_profiles (`+profileColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (normalized_name) DO UPDATE SET
		   company_name = excluded.company_name,
		   primary_domain = excluded.primary_domain,
		   industry = excluded.industry,
		   overall_confidence_score = excluded.overall_confidence_score,
		   data_completeness_score = excluded.data_completeness_score,
		   validation_status = excluded.validation_status,
		   updated_at = excluded.updated_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import profiles: prepare")
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
	for i := range profiles {
		p := &profiles[i]
		prepareProfile(p)
		res, err := stmt.ExecContext(ctx,
			p.ID, p.CompanyName, p.NormalizedName, p.PrimaryDomain, p.Industry,
			p.OverallConfidenceScore, p.DataCompletenessScore, string(p.ValidationStatus), p.CreatedAt, p.UpdatedAt,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: import profile %q", p.NormalizedName)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: import profiles: commit")
	}
	return n, nil
}

// --- Match attempts ---

func (s *SQLiteStore) RecordMatchAttempt(ctx context.Context, a *model.MatchAttempt) error {
	prepareAttempt(a)
	criteriaJSON, err := json.Marshal(a.MatchCriteria)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal match criteria")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO match_attempts (id, company_name_queried, website, industry, algorithm,
		 match_found, match_confidence, match_criteria, matched_profile_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.CompanyNameQueried, a.Website, a.Industry, string(a.Algorithm),
		a.MatchFound, a.MatchConfidence, string(criteriaJSON), a.MatchedProfileID, a.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert match attempt")
}

func (s *SQLiteStore) ListMatchAttempts(ctx context.Context, filter AttemptFilter) ([]model.MatchAttempt, error) {
	query := `SELECT id, company_name_queried, website, industry, algorithm, match_found,
		match_confidence, match_criteria, matched_profile_id, created_at FROM match_attempts WHERE 1=1`
	var args []any
	if filter.CompanyName != "" {
		query += ` AND company_name_queried = ?`
		args = append(args, filter.CompanyName)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, normalizeLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list match attempts")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.MatchAttempt
	for rows.Next() {
		var a model.MatchAttempt
		var algorithm, criteriaJSON string
		var matched sql.NullString
		if err := rows.Scan(&a.ID, &a.CompanyNameQueried, &a.Website, &a.Industry, &algorithm, &a.MatchFound,
			&a.MatchConfidence, &criteriaJSON, &matched, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan match attempt")
		}
		a.Algorithm = model.MatchAlgorithm(algorithm)
		a.MatchedProfileID = nullToPtr(matched)
		if err := json.Unmarshal([]byte(criteriaJSON), &a.MatchCriteria); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal match criteria")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list match attempts iterate")
}

// --- Sessions ---

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *model.AnalysisSession) error {
	namesJSON, providersJSON, modelsJSON, err := marshalSession(sess)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal session")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO analysis_sessions (session_id, competitor_names, providers, models, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (session_id) DO NOTHING`,
		sess.SessionID, string(namesJSON), string(providersJSON), string(modelsJSON),
		string(sess.Status), sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert session %s", sess.SessionID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert session %s: rows affected", sess.SessionID)
	}
	if n == 0 {
		return eris.Wrapf(ErrSessionExists, "sqlite: insert session %s", sess.SessionID)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*model.AnalysisSession, error) {
	var sess model.AnalysisSession
	var namesJSON, providersJSON, modelsJSON, status string

	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, competitor_names, providers, models, status, created_at, updated_at
		 FROM analysis_sessions WHERE session_id = ?`, sessionID,
	).Scan(&sess.SessionID, &namesJSON, &providersJSON, &modelsJSON, &status, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("session %s", sessionID)
		}
		return nil, eris.Wrapf(err, "sqlite: get session %s", sessionID)
	}
	sess.Status = model.SessionStatus(status)
	if err := unmarshalSession(&sess, []byte(namesJSON), []byte(providersJSON), []byte(modelsJSON)); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal session")
	}
	return &sess, nil
}

func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, sessionID string, status model.SessionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE analysis_sessions SET status = ?, updated_at = ? WHERE session_id = ?`,
		string(status), time.Now().UTC(), sessionID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update session status %s", sessionID)
	}
	return checkRowsAffected(res, "session", sessionID)
}

// --- Progress ---

func (s *SQLiteStore) CreateProgress(ctx context.Context, rec *model.ProgressRecord) error {
	metaJSON, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal progress metadata")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO progress_records (`+progressColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.TotalCompetitors, rec.CompletedCompetitors, rec.CurrentCompetitor,
		rec.ProgressPercentage, string(rec.Status), rec.ErrorMessage, string(metaJSON), rec.Version, rec.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert progress %s", rec.SessionID)
}

func (s *SQLiteStore) GetProgress(ctx context.Context, sessionID string) (*model.ProgressRecord, error) {
	var rec model.ProgressRecord
	var current, errMsg sql.NullString
	var status, metaJSON string

	err := s.db.QueryRowContext(ctx,
		`SELECT `+progressColumns+` FROM progress_records WHERE session_id = ?`, sessionID,
	).Scan(&rec.SessionID, &rec.TotalCompetitors, &rec.CompletedCompetitors, &current,
		&rec.ProgressPercentage, &status, &errMsg, &metaJSON, &rec.Version, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("progress %s", sessionID)
		}
		return nil, eris.Wrapf(err, "sqlite: get progress %s", sessionID)
	}
	rec.CurrentCompetitor = nullToPtr(current)
	rec.ErrorMessage = nullToPtr(errMsg)
	rec.Status = model.SessionStatus(status)
	if err := unmarshalMetadata([]byte(metaJSON), &rec.Metadata); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal progress metadata")
	}
	return &rec, nil
}

func (s *SQLiteStore) SaveProgress(ctx context.Context, rec *model.ProgressRecord) error {
	metaJSON, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal progress metadata")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE progress_records SET total_competitors = ?, completed_competitors = ?,
		 current_competitor = ?, progress_percentage = ?, status = ?, error_message = ?,
		 metadata = ?, version = ?, updated_at = ?
		 WHERE session_id = ? AND version = ?`,
		rec.TotalCompetitors, rec.CompletedCompetitors, rec.CurrentCompetitor, rec.ProgressPercentage,
		string(rec.Status), rec.ErrorMessage, string(metaJSON), rec.Version, rec.UpdatedAt,
		rec.SessionID, rec.Version-1,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save progress %s", rec.SessionID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrVersionConflict, "sqlite: save progress %s v%d", rec.SessionID, rec.Version)
	}
	return nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return apperr.NotFound("%s %s", entity, id)
	}
	return nil
}

func nullToPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
