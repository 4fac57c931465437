package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestBatchStatements(t *testing.T) {
	mk := func(n int) []Statement {
		stmts := make([]Statement, n)
		for i := range stmts {
			stmts[i] = Statement{SQL: fmt.Sprintf("INSERT INTO t VALUES (%d);", i), Kind: StmtData}
		}
		return stmts
	}

	tests := []struct {
		n, size     int
		wantBatches int
	}{
		{0, 200, 0},
		{1, 200, 1},
		{200, 200, 1},
		{201, 200, 2},
		{1000, 200, 5},
		{7, 3, 3},
		{5, 1, 5},
	}
	for _, tt := range tests {
		stmts := mk(tt.n)
		batches := batchStatements(stmts, tt.size)
		if len(batches) != tt.wantBatches {
			t.Errorf("batchStatements(%d, %d) = %d batches, want %d", tt.n, tt.size, len(batches), tt.wantBatches)
			continue
		}
		// every batch non-empty, concatenation preserves order
		var flat []Statement
		for _, b := range batches {
			if len(b) == 0 {
				t.Errorf("batchStatements(%d, %d) produced an empty batch", tt.n, tt.size)
			}
			flat = append(flat, b...)
		}
		if len(flat) != tt.n {
			t.Errorf("batchStatements(%d, %d) lost statements: %d", tt.n, tt.size, len(flat))
		}
		for i := range flat {
			if flat[i].SQL != stmts[i].SQL {
				t.Errorf("batchStatements(%d, %d) reordered statement %d", tt.n, tt.size, i)
			}
		}
	}
}

// fakeD1 runs a D1-shaped API over a real in-memory SQLite database so
// transport tests exercise actual statement execution.
type fakeD1 struct {
	db       *sql.DB
	requests int
	failOn   map[int]bool // request numbers that answer with an error envelope
}

func newFakeD1(t *testing.T) *fakeD1 {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open fake destination: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &fakeD1{db: db, failOn: map[int]bool{}}
}

func (f *fakeD1) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.requests++
		if f.failOn[f.requests] {
			writeEnvelope(w, false, nil, d1Error{Code: 7500, Message: "injected failure"})
			return
		}

		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		sqlText, _ := body["sql"].(string)

		if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(sqlText)), "SELECT") {
			rows, err := f.db.Query(sqlText)
			if err != nil {
				writeEnvelope(w, false, nil, d1Error{Code: 7500, Message: err.Error()})
				return
			}
			defer rows.Close()
			cols, _ := rows.Columns()
			var results []map[string]any
			for rows.Next() {
				vals := make([]any, len(cols))
				ptrs := make([]any, len(cols))
				for i := range vals {
					ptrs[i] = &vals[i]
				}
				rows.Scan(ptrs...)
				row := map[string]any{}
				for i, c := range cols {
					row[c] = vals[i]
				}
				results = append(results, row)
			}
			writeEnvelope(w, true, []map[string]any{{"results": results, "success": true}})
			return
		}

		for _, stmt := range splitStatementsStrict(sqlText) {
			if _, err := f.db.Exec(stmt); err != nil {
				writeEnvelope(w, false, nil, d1Error{Code: 7500, Message: err.Error()})
				return
			}
		}
		writeEnvelope(w, true, []map[string]any{{"success": true}})
	}
}

func TestDirectExecutorStrict(t *testing.T) {
	fake := newFakeD1(t)
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	stmts := []Statement{
		{SQL: "-- comment, not transported", Kind: StmtComment},
		{SQL: `CREATE TABLE IF NOT EXISTS "users" ("id" INTEGER PRIMARY KEY, "name" TEXT);`, Kind: StmtSchema, Table: "users"},
		{SQL: `INSERT INTO "users" VALUES (1, 'alice');`, Kind: StmtData, Table: "users"},
		{SQL: `INSERT INTO "users" VALUES (2, 'bob');`, Kind: StmtData, Table: "users"},
	}

	var slept []time.Duration
	exec := &DirectExecutor{
		Client:    newTestD1Client(srv),
		BatchSize: 2,
		Pace:      Pacing{Interval: 100 * time.Millisecond, Sleep: func(d time.Duration) { slept = append(slept, d) }},
	}
	report, err := exec.Run(context.Background(), stmts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.BatchesSent != 2 {
		t.Errorf("BatchesSent = %d, want 2 (3 executable statements, batch size 2)", report.BatchesSent)
	}
	if len(slept) != 1 || slept[0] != 100*time.Millisecond {
		t.Errorf("pacing should wait once between two batches, slept %v", slept)
	}

	var n int
	if err := fake.db.QueryRow(`SELECT COUNT(*) FROM "users"`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("destination has %d rows, want 2", n)
	}
}

func TestDirectExecutorStrictAbortsOnFailure(t *testing.T) {
	fake := newFakeD1(t)
	fake.failOn[1] = true
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	exec := &DirectExecutor{Client: newTestD1Client(srv), BatchSize: 1, Pace: Pacing{Sleep: func(time.Duration) {}}}
	stmts := []Statement{
		{SQL: "CREATE TABLE t (a TEXT);", Kind: StmtSchema},
		{SQL: "INSERT INTO t VALUES ('x');", Kind: StmtData},
	}
	_, err := exec.Run(context.Background(), stmts)
	if err == nil {
		t.Fatal("strict mode must abort on the first failed batch")
	}
	if fake.requests != 1 {
		t.Errorf("strict mode sent %d requests after a failure, want 1", fake.requests)
	}
}

func TestDirectExecutorTolerantContinues(t *testing.T) {
	fake := newFakeD1(t)
	fake.failOn[2] = true
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	exec := &DirectExecutor{
		Client:    newTestD1Client(srv),
		BatchSize: 1,
		Pace:      Pacing{Sleep: func(time.Duration) {}},
		Tolerant:  true,
	}
	stmts := []Statement{
		{SQL: "CREATE TABLE t (a TEXT);", Kind: StmtSchema},
		{SQL: "INSERT INTO t VALUES ('x');", Kind: StmtData},
		{SQL: "INSERT INTO t VALUES ('y');", Kind: StmtData},
	}
	report, err := exec.Run(context.Background(), stmts)
	if err != nil {
		t.Fatalf("tolerant mode should not abort: %v", err)
	}
	if report.BatchesSent != 2 || report.BatchesFailed != 1 {
		t.Errorf("report = %+v, want 2 sent / 1 failed", report)
	}
	// the failed batch must not corrupt ordering of later batches
	var n int
	fake.db.QueryRow("SELECT COUNT(*) FROM t").Scan(&n)
	if n != 1 {
		t.Errorf("destination has %d rows, want 1 (the batch after the failure)", n)
	}
}

func TestCleanDestinationPreservesReservedTable(t *testing.T) {
	fake := newFakeD1(t)
	for _, ddl := range []string{
		"CREATE TABLE old_users (id INTEGER)",
		"CREATE TABLE old_orders (id INTEGER)",
		`CREATE TABLE "_cf_KV" (key TEXT, value BLOB)`,
	} {
		if _, err := fake.db.Exec(ddl); err != nil {
			t.Fatalf("seed destination: %v", err)
		}
	}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	if err := cleanDestination(context.Background(), newTestD1Client(srv)); err != nil {
		t.Fatalf("cleanDestination: %v", err)
	}

	rows, err := fake.db.Query("SELECT name FROM sqlite_master WHERE type='table'")
	if err != nil {
		t.Fatalf("list tables: %v", err)
	}
	defer rows.Close()
	var remaining []string
	for rows.Next() {
		var name string
		rows.Scan(&name)
		remaining = append(remaining, name)
	}
	if len(remaining) != 1 || remaining[0] != reservedTable {
		t.Errorf("remaining tables = %v, want only %s", remaining, reservedTable)
	}
}

// End-to-end: introspected users schema with 2 rows generates 1 CREATE and
// 2 INSERTs, and after direct transport the destination count is 2.
func TestMigrationEndToEnd(t *testing.T) {
	src := openRowSource(t,
		"CREATE TABLE users (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL, email TEXT)",
		"INSERT INTO users (name, email) VALUES ('alice', 'a@example.com')",
		"INSERT INTO users (name, email) VALUES ('bob', 'b@example.com')",
	)
	schema := &Schema{Tables: []Table{{
		Name: "users",
		Columns: []Column{
			{Name: "id", DataType: "int(11)", PrimaryKey: true, AutoIncrement: true},
			{Name: "name", DataType: "varchar(191)"},
			{Name: "email", DataType: "varchar(191)", Nullable: true},
		},
	}}}

	res := generateStatements(src, schema, time.Now())
	var schemas, datas int
	for _, s := range res.Statements {
		switch s.Kind {
		case StmtSchema:
			schemas++
		case StmtData:
			datas++
		}
	}
	if schemas != 1 || datas != 2 {
		t.Fatalf("generated %d schema / %d data statements, want 1 / 2", schemas, datas)
	}

	fake := newFakeD1(t)
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()
	client := newTestD1Client(srv)

	exec := &DirectExecutor{Client: client, BatchSize: 200, Pace: Pacing{Sleep: func(time.Duration) {}}}
	if _, err := exec.Run(context.Background(), res.Statements); err != nil {
		t.Fatalf("transport: %v", err)
	}

	n, err := destinationRowCount(context.Background(), client, "users")
	if err != nil {
		t.Fatalf("destination count: %v", err)
	}
	if n != 2 {
		t.Errorf("destination users count = %d, want 2", n)
	}
}
