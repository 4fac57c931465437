package main

import (
	"regexp"
	"strings"
)

// splitStatementLines re-derives statement boundaries from a persisted
// stream, line by line. Blank lines, single-line comments, and pragma lines
// are skipped. Lines accumulate into a pending statement that closes when
// its trimmed text ends with ';'. Multi-line accumulation only applies to
// statements opening with CREATE or INSERT, so a stray unterminated line is
// emitted as-is instead of swallowing the rest of the file. A non-empty
// pending statement is flushed at end of input even without a terminator.
func splitStatementLines(stream string) []string {
	var stmts []string
	var pending []string

	flush := func() {
		joined := strings.TrimSpace(strings.Join(pending, "\n"))
		if joined != "" {
			stmts = append(stmts, joined)
		}
		pending = nil
	}

	for _, line := range strings.Split(stream, "\n") {
		trimmed := strings.TrimSpace(line)
		if len(pending) == 0 {
			if trimmed == "" || strings.HasPrefix(trimmed, "--") || hasPrefixFold(trimmed, "PRAGMA") {
				continue
			}
		}
		pending = append(pending, line)

		joined := strings.TrimSpace(strings.Join(pending, "\n"))
		if strings.HasSuffix(joined, ";") {
			flush()
			continue
		}
		if !hasPrefixFold(joined, "CREATE") && !hasPrefixFold(joined, "INSERT") {
			flush()
		}
	}
	flush()
	return stmts
}

type scanState int

const (
	scanIdle scanState = iota
	scanStatement
	scanQuoted
	scanLineComment
	scanBlockComment
)

// splitStatementsStrict splits SQL text on terminators while tracking
// quoted-string and comment state, so a ';' or comment marker inside a
// string literal is never mistaken for a structural boundary. This variant
// is required when boundaries must be trusted for re-batching.
func splitStatementsStrict(stream string) []string {
	var stmts []string
	var current strings.Builder
	state := scanIdle
	var quoteChar byte

	emit := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			stmts = append(stmts, s)
		}
		current.Reset()
	}

	for i := 0; i < len(stream); i++ {
		c := stream[i]

		switch state {
		case scanLineComment:
			if c == '\n' {
				state = scanIdle
			}

		case scanBlockComment:
			if c == '*' && i+1 < len(stream) && stream[i+1] == '/' {
				i++
				state = scanIdle
			}

		case scanQuoted:
			current.WriteByte(c)
			if c == quoteChar {
				// doubled quote is an escaped quote, stay inside the literal
				if i+1 < len(stream) && stream[i+1] == quoteChar {
					current.WriteByte(quoteChar)
					i++
					continue
				}
				state = scanStatement
			}

		default: // scanIdle, scanStatement
			switch {
			case c == '-' && i+1 < len(stream) && stream[i+1] == '-':
				i++
				state = scanLineComment
			case c == '/' && i+1 < len(stream) && stream[i+1] == '*':
				i++
				state = scanBlockComment
			case c == '\'' || c == '"':
				quoteChar = c
				state = scanQuoted
				current.WriteByte(c)
			case c == ';':
				current.WriteByte(c)
				emit()
				state = scanIdle
			default:
				if state == scanIdle && (c == ' ' || c == '\t' || c == '\n' || c == '\r') {
					continue
				}
				state = scanStatement
				current.WriteByte(c)
			}
		}
	}

	// tolerate a missing final terminator
	emit()
	return stmts
}

var (
	createTableNameRe = regexp.MustCompile("(?i)^CREATE\\s+TABLE\\s+(?:IF\\s+NOT\\s+EXISTS\\s+)?(?:\"([^\"]+)\"|`([^`]+)`|([A-Za-z_][A-Za-z0-9_$]*))")
	insertTableNameRe = regexp.MustCompile("(?i)^INSERT\\s+INTO\\s+(?:\"([^\"]+)\"|`([^`]+)`|([A-Za-z_][A-Za-z0-9_$]*))")
)

// classifyStatement categorizes a parsed statement by its leading keyword.
func classifyStatement(sqlText string) StatementKind {
	t := strings.TrimSpace(sqlText)
	switch {
	case strings.HasPrefix(t, "--"):
		return StmtComment
	case hasPrefixFold(t, "PRAGMA"):
		return StmtPragma
	case createTableNameRe.MatchString(t):
		return StmtSchema
	case insertTableNameRe.MatchString(t):
		return StmtData
	default:
		return StmtOther
	}
}

// statementTable extracts the quoted-or-bare table name following the
// CREATE TABLE or INSERT INTO phrase. Returns "" for other statements.
func statementTable(sqlText string) string {
	t := strings.TrimSpace(sqlText)
	for _, re := range []*regexp.Regexp{createTableNameRe, insertTableNameRe} {
		if m := re.FindStringSubmatch(t); m != nil {
			for _, g := range m[1:] {
				if g != "" {
					return g
				}
			}
		}
	}
	return ""
}

// parseStream runs the strict splitter and classifies every statement,
// the inverse of stream generation. Used when a migration resumes from a
// persisted stream file instead of regenerating it.
func parseStream(stream string) []Statement {
	raw := splitStatementsStrict(stream)
	stmts := make([]Statement, 0, len(raw))
	for _, s := range raw {
		stmts = append(stmts, Statement{
			SQL:   s,
			Kind:  classifyStatement(s),
			Table: statementTable(s),
		})
	}
	return stmts
}

// streamTables returns the ordered union of table names seen in schema and
// data statements, first appearance wins.
func streamTables(stmts []Statement) []string {
	seen := make(map[string]bool)
	var tables []string
	for _, s := range stmts {
		if s.Table == "" {
			continue
		}
		if s.Kind != StmtSchema && s.Kind != StmtData {
			continue
		}
		if !seen[s.Table] {
			seen[s.Table] = true
			tables = append(tables, s.Table)
		}
	}
	return tables
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
