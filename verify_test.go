package main

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
)

func seedStage(t *testing.T, stmts ...string) *Stage {
	t.Helper()
	stage, err := openStage(filepath.Join(t.TempDir(), "stage.db"))
	if err != nil {
		t.Fatalf("open stage: %v", err)
	}
	t.Cleanup(func() { stage.Close() })
	for _, s := range stmts {
		if _, err := stage.db.Exec(s); err != nil {
			t.Fatalf("seed stage: %v", err)
		}
	}
	return stage
}

func TestReconcileMatches(t *testing.T) {
	stage := seedStage(t,
		"CREATE TABLE a (id INTEGER)",
		"CREATE TABLE b (id INTEGER)",
		"INSERT INTO a VALUES (1),(2),(3),(4),(5),(6),(7),(8),(9),(10)",
	)

	fake := newFakeD1(t)
	for _, s := range []string{
		"CREATE TABLE a (id INTEGER)",
		"CREATE TABLE b (id INTEGER)",
		"INSERT INTO a VALUES (1),(2),(3),(4),(5),(6),(7),(8),(9),(10)",
	} {
		if _, err := fake.db.Exec(s); err != nil {
			t.Fatalf("seed destination: %v", err)
		}
	}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	report := reconcile(context.Background(), nil, stage, newTestD1Client(srv), []string{"a", "b"})

	if report.Matched != 2 || report.Mismatched != 0 {
		t.Fatalf("report = %d matched / %d mismatched, want 2 / 0", report.Matched, report.Mismatched)
	}
	// a zero-row table still matches when both sides agree
	for _, tc := range report.Tables {
		if tc.Table == "b" && (!tc.Match || tc.Destination != 0) {
			t.Errorf("empty table b should match with 0 rows, got %+v", tc)
		}
	}
}

func TestReconcileMismatchShowsBothCounts(t *testing.T) {
	stage := seedStage(t,
		"CREATE TABLE a (id INTEGER)",
		"INSERT INTO a VALUES (1),(2),(3),(4),(5),(6),(7),(8),(9),(10)",
	)

	fake := newFakeD1(t)
	if _, err := fake.db.Exec("CREATE TABLE a (id INTEGER)"); err != nil {
		t.Fatal(err)
	}
	if _, err := fake.db.Exec("INSERT INTO a VALUES (1),(2),(3),(4),(5),(6),(7),(8),(9)"); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	report := reconcile(context.Background(), nil, stage, newTestD1Client(srv), []string{"a"})

	if report.Mismatched != 1 {
		t.Fatalf("want 1 mismatch, got %+v", report)
	}
	tc := report.Tables[0]
	if tc.Stage != 10 || tc.Destination != 9 {
		t.Errorf("both counts must be visible: stage=%d destination=%d, want 10/9", tc.Stage, tc.Destination)
	}
}

func TestReconcileFetchErrorIsAdvisory(t *testing.T) {
	stage := seedStage(t, "CREATE TABLE a (id INTEGER)")

	fake := newFakeD1(t) // destination has no table "a"
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	report := reconcile(context.Background(), nil, stage, newTestD1Client(srv), []string{"a"})

	// a count-fetch failure is reported, never thrown
	if len(report.Tables) != 1 {
		t.Fatalf("tables = %+v", report.Tables)
	}
	tc := report.Tables[0]
	if tc.Match {
		t.Error("table with an unreadable destination count must not match")
	}
	if len(tc.Notes) == 0 {
		t.Error("count-fetch error should be recorded as a note")
	}
}
