package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"
	"time"
)

// GenerateResult carries the full statement stream plus the per-table
// outcomes of one generation pass.
type GenerateResult struct {
	Statements   []Statement
	TableRows    map[string]int
	SkippedEmpty []string
	Failed       map[string]error
}

// StatementCount is the liveness signal returned to the caller: the total
// number of emitted statements including pragmas and comments. Zero means
// generation produced nothing and the run must be treated as failed.
func (r *GenerateResult) StatementCount() int {
	return len(r.Statements)
}

func (r *GenerateResult) TotalRows() int {
	total := 0
	for _, n := range r.TableRows {
		total += n
	}
	return total
}

// generateStatements produces the ordered statement stream for a schema:
// a foreign-key pragma, a provenance comment, all CREATE TABLE statements,
// then one INSERT per row, and a trailing summary comment.
//
// A table whose row fetch fails is skipped and recorded; generation
// continues for the remaining tables. Empty tables are skipped silently.
func generateStatements(db *sql.DB, schema *Schema, generatedAt time.Time) *GenerateResult {
	res := &GenerateResult{
		TableRows: make(map[string]int),
		Failed:    make(map[string]error),
	}

	res.Statements = append(res.Statements, Statement{
		SQL:  "PRAGMA foreign_keys=OFF;",
		Kind: StmtPragma,
	})
	res.Statements = append(res.Statements, Statement{
		SQL:  fmt.Sprintf("-- mysql-sqlite-to-d1 export, generated at %s", generatedAt.UTC().Format("2006-01-02 15:04:05")),
		Kind: StmtComment,
	})

	// schema phase: all CREATE TABLE statements precede any insert
	for _, t := range schema.Tables {
		res.Statements = append(res.Statements, Statement{
			SQL:   buildCreateTable(t),
			Kind:  StmtSchema,
			Table: t.Name,
		})
	}

	for _, t := range schema.Tables {
		// buffer per table: a fetch that fails mid-iteration must not leave
		// a partial row set in the stream
		var inserts []Statement
		err := forEachRow(db, t, func(vals []any) error {
			inserts = append(inserts, Statement{
				SQL:   buildInsert(t, vals),
				Kind:  StmtData,
				Table: t.Name,
			})
			return nil
		})
		if err != nil {
			log.Printf("  WARN: skipping table %s: %v", t.Name, err)
			res.Failed[t.Name] = err
			continue
		}
		if len(inserts) == 0 {
			log.Printf("  %s: no rows, skipped", t.Name)
			res.SkippedEmpty = append(res.SkippedEmpty, t.Name)
			continue
		}
		res.Statements = append(res.Statements, inserts...)
		res.TableRows[t.Name] = len(inserts)
		log.Printf("  %s: %d rows", t.Name, len(inserts))
	}

	res.Statements = append(res.Statements, Statement{
		SQL:  fmt.Sprintf("-- %d tables, %d rows", len(schema.Tables), res.TotalRows()),
		Kind: StmtComment,
	})

	return res
}

// buildInsert produces one INSERT statement with columns explicitly named
// and values encoded against each column's declared source type.
func buildInsert(t Table, vals []any) string {
	cols := make([]string, len(t.Columns))
	encoded := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = ident(c.Name)
		encoded[i] = encodeValue(vals[i], c)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s);",
		ident(t.Name), strings.Join(cols, ", "), strings.Join(encoded, ", "))
}

// renderStream joins a statement list into the persisted exchange format:
// UTF-8 text, one statement per line, LF separated.
func renderStream(stmts []Statement) []byte {
	var b strings.Builder
	for _, s := range stmts {
		b.WriteString(s.SQL)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// writeStream persists the statement stream file, the exchange artifact
// between the generation phase and the transport phase.
func writeStream(path string, stmts []Statement) error {
	if err := os.WriteFile(path, renderStream(stmts), 0o644); err != nil {
		return fmt.Errorf("write statement stream: %w", err)
	}
	return nil
}
