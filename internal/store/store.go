// Package store persists company profiles, match attempts, analysis sessions
// and progress records. Postgres is the production backend; SQLite serves the
// CLI and tests.
package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/competitor-intel/internal/model"
)

// ErrVersionConflict is returned by SaveProgress when the stored record is not
// at the version immediately preceding the one being written.
var ErrVersionConflict = eris.New("store: progress version conflict")

// ErrSessionExists is returned by CreateSession when the session id is taken.
// The stored session is left as it was.
var ErrSessionExists = eris.New("store: session already exists")

// AttemptFilter specifies criteria for listing match attempts.
type AttemptFilter struct {
	CompanyName string `json:"company_name,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

// ProfileStore holds the master profile catalogue and the match audit log.
type ProfileStore interface {
	FindProfilesByNormalizedName(ctx context.Context, normalized string, limit int) ([]model.CompanyProfile, error)
	FindProfilesByDomain(ctx context.Context, domain string, limit int) ([]model.CompanyProfile, error)
	SearchProfilesByName(ctx context.Context, fragment string, limit int) ([]model.CompanyProfile, error)
	FindProfilesByIndustry(ctx context.Context, industry, nameToken string, limit int) ([]model.CompanyProfile, error)
	GetProfile(ctx context.Context, id string) (*model.CompanyProfile, error)
	// CreateProfile inserts p unless a profile with the same normalized name
	// exists, and returns whichever row is stored.
	CreateProfile(ctx context.Context, p *model.CompanyProfile) (*model.CompanyProfile, error)
	ImportProfiles(ctx context.Context, profiles []model.CompanyProfile) (int64, error)

	RecordMatchAttempt(ctx context.Context, a *model.MatchAttempt) error
	ListMatchAttempts(ctx context.Context, filter AttemptFilter) ([]model.MatchAttempt, error)
}

// SessionStore persists analysis sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s *model.AnalysisSession) error
	GetSession(ctx context.Context, sessionID string) (*model.AnalysisSession, error)
	UpdateSessionStatus(ctx context.Context, sessionID string, status model.SessionStatus) error
}

// ProgressStore persists the single progress record of each session.
type ProgressStore interface {
	CreateProgress(ctx context.Context, rec *model.ProgressRecord) error
	GetProgress(ctx context.Context, sessionID string) (*model.ProgressRecord, error)
	// SaveProgress writes rec if the stored version is rec.Version-1.
	SaveProgress(ctx context.Context, rec *model.ProgressRecord) error
}

// Store is the full persistence interface.
type Store interface {
	ProfileStore
	SessionStore
	ProgressStore

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

type scannable interface {
	Scan(dest ...any) error
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds a LIKE pattern matching s anywhere, with LIKE
// metacharacters in s escaped by backslash.
func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}

// dedupeProfiles keeps the last profile per normalized name so one batch never
// touches the same row twice.
func dedupeProfiles(profiles []model.CompanyProfile) []model.CompanyProfile {
	idx := make(map[string]int, len(profiles))
	out := make([]model.CompanyProfile, 0, len(profiles))
	for _, p := range profiles {
		if i, ok := idx[p.NormalizedName]; ok {
			out[i] = p
			continue
		}
		idx[p.NormalizedName] = len(out)
		out = append(out, p)
	}
	return out
}
