package main

import (
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Stage is the local SQLite database holding the intermediate representation
// of a migration. It is rebuilt from the statement stream on every run and
// serves as the upstream of record for reconciliation when present.
type Stage struct {
	db   *sql.DB
	path string
}

// openStage creates a fresh staging database, replacing any previous file.
// A removal failure is fatal: reusing a stale stage would feed leftover
// counts into reconciliation.
func openStage(path string) (*Stage, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove previous stage: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open stage: %w", err)
	}
	return &Stage{db: db, path: path}, nil
}

// Apply executes every executable statement of a stream against the stage.
// Comments are skipped; pragma, schema, and data statements run in stream
// order. Returns the number of statements applied.
func (s *Stage) Apply(stmts []Statement) (int, error) {
	applied := 0
	for _, st := range stmts {
		if st.Kind == StmtComment {
			continue
		}
		if _, err := s.db.Exec(st.SQL); err != nil {
			return applied, fmt.Errorf("stage statement %q: %w", truncateSQL(st.SQL), err)
		}
		applied++
	}
	return applied, nil
}

// RowCount returns the staged row count for one table.
func (s *Stage) RowCount(tableName string) (int64, error) {
	var n int64
	err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", ident(tableName))).Scan(&n)
	return n, err
}

func (s *Stage) Close() error {
	return s.db.Close()
}

func truncateSQL(sqlText string) string {
	const max = 120
	if len(sqlText) <= max {
		return sqlText
	}
	return sqlText[:max] + "..."
}
