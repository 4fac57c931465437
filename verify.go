package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// reconcile compares row counts per table across source, local stage, and
// destination. A table matches when the destination count equals the
// best-available upstream count (stage when present, source otherwise).
// Count-fetch errors are recorded as notes, never returned: verification is
// advisory, not a migration gate.
func reconcile(ctx context.Context, src *sql.DB, stage *Stage, client *D1Client, tables []string) *ReconcileReport {
	report := &ReconcileReport{}

	for _, table := range tables {
		tc := TableCount{Table: table}

		if src != nil {
			if n, err := sourceRowCount(src, table); err != nil {
				tc.Notes = append(tc.Notes, fmt.Sprintf("source count: %v", err))
			} else {
				tc.Source = n
				tc.HasSource = true
			}
		}

		if stage != nil {
			if n, err := stage.RowCount(table); err != nil {
				tc.Notes = append(tc.Notes, fmt.Sprintf("stage count: %v", err))
			} else {
				tc.Stage = n
				tc.HasStage = true
			}
		}

		n, err := destinationRowCount(ctx, client, table)
		if err != nil {
			tc.Notes = append(tc.Notes, fmt.Sprintf("destination count: %v", err))
		} else {
			tc.Destination = n
		}

		upstream, haveUpstream := tc.Source, tc.HasSource
		if tc.HasStage {
			upstream, haveUpstream = tc.Stage, true
		}
		tc.Match = err == nil && haveUpstream && tc.Destination == upstream

		if tc.Match {
			report.Matched++
		} else {
			report.Mismatched++
		}
		report.Tables = append(report.Tables, tc)
	}
	return report
}

// destinationRowCount fetches a table's row count through the query endpoint.
func destinationRowCount(ctx context.Context, client *D1Client, tableName string) (int64, error) {
	results, err := client.Query(ctx, fmt.Sprintf("SELECT COUNT(*) AS n FROM %s;", ident(tableName)))
	if err != nil {
		return 0, err
	}
	for _, rs := range results {
		for _, row := range rs.Results {
			switch v := row["n"].(type) {
			case float64: // JSON numbers decode as float64
				return int64(v), nil
			case int64:
				return v, nil
			}
		}
	}
	return 0, fmt.Errorf("no count returned for %s", tableName)
}

// Log prints the per-table reconciliation outcome. Mismatches are warnings
// with both counts visible, never errors.
func (r *ReconcileReport) Log() {
	for _, tc := range r.Tables {
		switch {
		case tc.Match:
			log.Printf("  %s: OK (%d rows)", tc.Table, tc.Destination)
		case tc.HasStage:
			log.Printf("  WARN: %s: mismatch, stage=%d destination=%d", tc.Table, tc.Stage, tc.Destination)
		case tc.HasSource:
			log.Printf("  WARN: %s: mismatch, source=%d destination=%d", tc.Table, tc.Source, tc.Destination)
		default:
			log.Printf("  WARN: %s: no upstream count available, destination=%d", tc.Table, tc.Destination)
		}
		for _, note := range tc.Notes {
			log.Printf("    WARN: %s: %s", tc.Table, note)
		}
	}
	log.Printf("verification: %d matched, %d mismatched", r.Matched, r.Mismatched)
}
