package main

import (
	"fmt"
	"strings"
)

// ident returns a double-quoted SQLite identifier.
func ident(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// buildCreateTable produces a CREATE TABLE IF NOT EXISTS statement for one
// table. Column order matches the source catalog; foreign key clauses follow
// all column clauses.
func buildCreateTable(t Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (", ident(t.Name))

	clauses := make([]string, 0, len(t.Columns)+len(t.ForeignKeys))
	for _, col := range t.Columns {
		clauses = append(clauses, buildColumnClause(col))
	}
	for _, fk := range t.ForeignKeys {
		clauses = append(clauses, buildForeignKeyClause(fk))
	}

	b.WriteString(strings.Join(clauses, ", "))
	b.WriteString(");")
	return b.String()
}

func buildColumnClause(col Column) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", ident(col.Name), mapType(col.DataType))
	if !col.Nullable {
		b.WriteString(" NOT NULL")
	}
	if col.PrimaryKey {
		b.WriteString(" PRIMARY KEY")
	}
	if col.AutoIncrement {
		b.WriteString(" AUTOINCREMENT")
	}
	if d := buildDefaultClause(col); d != "" {
		b.WriteString(" DEFAULT ")
		b.WriteString(d)
	}
	return b.String()
}

// buildDefaultClause maps a MySQL column default to a SQLite DEFAULT
// expression. Returns "" when no default should be emitted.
//
// CURRENT_TIMESTAMP defaults on update-tracking columns are dropped: SQLite
// has no ON UPDATE trigger equivalent, so auto-refresh semantics cannot be
// preserved. This is an accepted capability gap, not emulated.
func buildDefaultClause(col Column) string {
	if col.Default == nil {
		return ""
	}
	raw := strings.TrimSpace(*col.Default)
	if raw == "" || strings.EqualFold(raw, "null") {
		return ""
	}

	if isCurrentTimestampDefault(raw) {
		if strings.Contains(strings.ToLower(col.Name), "update") {
			return ""
		}
		return "CURRENT_TIMESTAMP"
	}

	if mapType(col.DataType) == TypeText {
		return quoteEscape(defaultUnquote(raw))
	}
	return raw
}

func isCurrentTimestampDefault(raw string) bool {
	lower := strings.ToLower(raw)
	switch lower {
	case "current_timestamp", "current_timestamp()", "now()", "localtimestamp", "localtimestamp()":
		return true
	}
	return strings.HasPrefix(lower, "current_timestamp(")
}

// defaultUnquote strips MySQL single quotes from a literal default, undoing
// doubled-quote escapes, so the value encoder applies quoting exactly once.
func defaultUnquote(v string) string {
	if len(v) >= 2 && v[0] == '\'' && v[len(v)-1] == '\'' {
		inner := v[1 : len(v)-1]
		return strings.ReplaceAll(inner, "''", "'")
	}
	return v
}

func buildForeignKeyClause(fk ForeignKey) string {
	updateRule := fk.UpdateRule
	if updateRule == "" {
		updateRule = "NO ACTION"
	}
	deleteRule := fk.DeleteRule
	if deleteRule == "" {
		deleteRule = "NO ACTION"
	}
	return fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s) ON UPDATE %s ON DELETE %s",
		ident(fk.Column), ident(fk.RefTable), ident(fk.RefColumn), updateRule, deleteRule)
}
