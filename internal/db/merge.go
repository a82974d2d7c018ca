package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Merge loads rows into Table through a transaction-scoped staging table:
// COPY into the stage, then one INSERT ... ON CONFLICT (Key) DO UPDATE.
// Rows sharing a Key value must be collapsed by the caller first.
type Merge struct {
	Table   string
	Columns []string
	Key     []string
	// Update lists the columns overwritten when Key already exists.
	Update []string
}

func (m Merge) validate() error {
	switch {
	case m.Table == "":
		return eris.New("db: merge: no table")
	case len(m.Columns) == 0:
		return eris.Errorf("db: merge %s: no columns", m.Table)
	case len(m.Key) == 0:
		return eris.Errorf("db: merge %s: no conflict key", m.Table)
	case len(m.Update) == 0:
		return eris.Errorf("db: merge %s: no update columns", m.Table)
	}
	return nil
}

func (m Merge) stage() string {
	return "_stage_" + m.Table
}

func (m Merge) mergeSQL() string {
	cols := quoted(m.Columns)
	sets := make([]string, len(m.Update))
	for i, c := range m.Update {
		q := pgx.Identifier{c}.Sanitize()
		sets[i] = q + " = EXCLUDED." + q
	}
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s",
		pgx.Identifier{m.Table}.Sanitize(), cols, cols,
		pgx.Identifier{m.stage()}.Sanitize(), quoted(m.Key), strings.Join(sets, ", "))
}

// Run executes the merge and returns the rows inserted or updated.
func (m Merge) Run(ctx context.Context, pool Pool, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := m.validate(); err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: begin", m.Table)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	stage := pgx.Identifier{m.stage()}
	create := fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		stage.Sanitize(), pgx.Identifier{m.Table}.Sanitize())
	if _, err := tx.Exec(ctx, create); err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: create stage", m.Table)
	}
	if _, err := tx.CopyFrom(ctx, stage, m.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: copy rows", m.Table)
	}

	tag, err := tx.Exec(ctx, m.mergeSQL())
	if err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: insert on conflict", m.Table)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: commit", m.Table)
	}
	return tag.RowsAffected(), nil
}

func quoted(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(out, ", ")
}
