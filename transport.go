package main

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"
)

// reservedTable is the engine-owned KV table D1 maintains in every database.
// Cleaning must never drop it.
const reservedTable = "_cf_KV"

// batchStatements partitions stmts into ordered batches of at most size
// statements each. Every batch is non-empty and statement order is preserved
// across the partition.
func batchStatements(stmts []Statement, size int) [][]Statement {
	if size <= 0 {
		size = 1
	}
	var batches [][]Statement
	for start := 0; start < len(stmts); start += size {
		end := start + size
		if end > len(stmts) {
			end = len(stmts)
		}
		batches = append(batches, stmts[start:end])
	}
	return batches
}

// Pacing is the explicit rate-limit policy applied between remote
// submissions: a minimum inter-request interval. The sleep function is
// injectable so tests run without real delays.
type Pacing struct {
	Interval time.Duration
	Sleep    func(time.Duration)
}

func (p Pacing) wait() {
	if p.Interval <= 0 {
		return
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	sleep(p.Interval)
}

// TransportReport records per-batch outcomes of a direct-execution run.
type TransportReport struct {
	BatchesSent   int
	BatchesFailed int
	Failures      []string
}

// DirectExecutor submits statement batches to the raw query endpoint, one
// request per batch. In strict mode the first failed batch aborts the run;
// in tolerant mode failures are recorded and later batches still go out.
// A batch is a transport unit, not a transactional unit: a failed batch
// never disturbs the ordering of the batches after it.
type DirectExecutor struct {
	Client    *D1Client
	BatchSize int
	Pace      Pacing
	Tolerant  bool
}

func (e *DirectExecutor) Run(ctx context.Context, stmts []Statement) (*TransportReport, error) {
	executable := make([]Statement, 0, len(stmts))
	for _, s := range stmts {
		if s.Kind == StmtComment {
			continue
		}
		executable = append(executable, s)
	}

	batches := batchStatements(executable, e.BatchSize)
	report := &TransportReport{}

	for i, batch := range batches {
		if i > 0 {
			e.Pace.wait()
		}
		joined := joinBatch(batch)
		if _, err := e.Client.Raw(ctx, joined); err != nil {
			if !e.Tolerant {
				return report, fmt.Errorf("batch %d/%d: %w", i+1, len(batches), err)
			}
			report.BatchesFailed++
			report.Failures = append(report.Failures, fmt.Sprintf("batch %d/%d: %v", i+1, len(batches), err))
			log.Printf("  WARN: batch %d/%d failed: %v", i+1, len(batches), err)
			continue
		}
		report.BatchesSent++
	}
	return report, nil
}

func joinBatch(batch []Statement) string {
	parts := make([]string, len(batch))
	for i, s := range batch {
		parts[i] = s.SQL
	}
	return strings.Join(parts, "\n")
}

// StagedImporter transfers the whole statement stream in one upload:
// init(checksum) → upload → ingest → poll until a terminal status. The whole
// transfer, upload and poll loop included, is bounded by Deadline; the
// service itself never times out, so an unbounded loop would hang forever on
// a stuck ingestion.
type StagedImporter struct {
	Client       *D1Client
	PollInterval time.Duration
	Deadline     time.Duration
	Sleep        func(time.Duration)
}

func (im *StagedImporter) Run(ctx context.Context, stream []byte) error {
	if im.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, im.Deadline)
		defer cancel()
	}

	sum := md5.Sum(stream)
	etag := hex.EncodeToString(sum[:])

	init, err := im.Client.ImportInit(ctx, etag)
	if err != nil {
		return fmt.Errorf("import init: %w", err)
	}
	log.Printf("  uploading %d bytes...", len(stream))
	if err := im.Client.ImportUpload(ctx, init.UploadURL, stream); err != nil {
		return fmt.Errorf("import upload: %w", err)
	}
	ingest, err := im.Client.ImportIngest(ctx, etag, init.Filename)
	if err != nil {
		return fmt.Errorf("import ingest: %w", err)
	}
	return im.poll(ctx, ingest.Bookmark)
}

func (im *StagedImporter) poll(ctx context.Context, bookmark string) error {
	interval := im.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	sleep := im.Sleep

	for {
		status, err := im.Client.ImportPoll(ctx, bookmark)
		if err != nil {
			return fmt.Errorf("import poll: %w", err)
		}
		switch status.Status {
		case importStatusCompleted:
			return nil
		case importStatusFailed:
			if status.Error != "" {
				return fmt.Errorf("import failed: %s", status.Error)
			}
			return fmt.Errorf("import failed")
		}
		log.Printf("  import status %q, polling...", status.Status)

		if sleep != nil {
			sleep(interval)
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("import poll: %w", err)
			}
			continue
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("import poll: %w", ctx.Err())
		case <-time.After(interval):
		}
	}
}

// cleanDestination drops every destination table except the reserved
// engine-owned table and SQLite-internal tables, so re-running a migration
// is idempotent at the destination. Callers disable foreign-key checking
// around cleaning and loading; D1 may enforce constraints regardless of the
// pragma, a documented environment quirk.
func cleanDestination(ctx context.Context, client *D1Client) error {
	results, err := client.Query(ctx, "SELECT name FROM sqlite_master WHERE type='table'")
	if err != nil {
		return fmt.Errorf("list destination tables: %w", err)
	}

	var names []string
	for _, rs := range results {
		for _, row := range rs.Results {
			name, ok := row["name"].(string)
			if !ok || name == reservedTable || strings.HasPrefix(name, "sqlite_") {
				continue
			}
			names = append(names, name)
		}
	}

	for _, name := range names {
		log.Printf("  dropping %s", name)
		if _, err := client.Query(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s;", ident(name))); err != nil {
			return fmt.Errorf("drop table %s: %w", name, err)
		}
	}
	return nil
}

func setDestinationForeignKeys(ctx context.Context, client *D1Client, enabled bool) error {
	state := "OFF"
	if enabled {
		state = "ON"
	}
	if _, err := client.Query(ctx, fmt.Sprintf("PRAGMA foreign_keys=%s;", state)); err != nil {
		return fmt.Errorf("set foreign_keys %s: %w", state, err)
	}
	return nil
}
