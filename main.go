package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	flagConfig     string
	flagOutput     string
	flagStrategy   string
	flagResumeFrom string
	flagDryRun     bool
	flagTolerant   bool
)

var rootCmd = &cobra.Command{
	Use:   "mysql-sqlite-to-d1",
	Short: "MySQL to Cloudflare D1 migration tool",
	Long: `Migrates a MySQL database to Cloudflare D1 via a SQLite-dialect
statement stream: introspect, translate, stage locally, transport, verify.`,
	RunE: runMigration,
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Compare row counts between MySQL, the local stage, and D1",
	RunE:  runVerify,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("mysql-sqlite-to-d1 v1.0")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to tuning TOML config file")
	rootCmd.Flags().StringVar(&flagOutput, "output", "", "statement stream output path (overrides config)")
	rootCmd.Flags().StringVar(&flagStrategy, "strategy", "", "transport strategy: direct or import (overrides config)")
	rootCmd.Flags().StringVar(&flagResumeFrom, "resume-from", "", "re-parse an existing statement stream file instead of regenerating")
	rootCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "generate and stage only, no destination calls")
	rootCmd.Flags().BoolVar(&flagTolerant, "tolerant", false, "record failed batches and continue instead of aborting")

	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runMigration(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(flagConfig)
	if err != nil {
		return err
	}
	if flagOutput != "" {
		cfg.Tuning.Output = flagOutput
	}
	if flagStrategy != "" {
		cfg.Tuning.Strategy = flagStrategy
		if flagStrategy != "direct" && flagStrategy != "import" {
			return fmt.Errorf("strategy must be one of: direct, import")
		}
	}
	if flagTolerant {
		cfg.Tuning.Tolerant = true
	}

	ctx := context.Background()
	start := time.Now()

	log.Printf("mysql-sqlite-to-d1 — MySQL → D1 migration")
	log.Printf("config: strategy=%s batch_size=%d tolerant=%t output=%s",
		cfg.Tuning.Strategy, cfg.Tuning.BatchSize, cfg.Tuning.Tolerant, cfg.Tuning.Output)

	// 1. Connect to MySQL
	log.Printf("connecting to MySQL %s:%d/%s...", cfg.Source.Host, cfg.Source.Port, cfg.Source.Database)
	srcDB, err := openSource(cfg.Source)
	if err != nil {
		return err
	}
	defer srcDB.Close()
	if err := srcDB.Ping(); err != nil {
		return fmt.Errorf("ping mysql: %w", err)
	}

	// 2. Obtain the statement stream: regenerate, or re-parse a stored file
	var stmts []Statement
	var failed map[string]error
	if flagResumeFrom != "" {
		log.Printf("resuming from %s...", flagResumeFrom)
		data, err := os.ReadFile(flagResumeFrom)
		if err != nil {
			return fmt.Errorf("read stream: %w", err)
		}
		stmts = parseStream(string(data))
		log.Printf("parsed %d statements", len(stmts))
	} else {
		log.Printf("introspecting schema '%s'...", cfg.Source.Database)
		schema, err := introspectSchema(srcDB, cfg.Source.Database, cfg.Tuning.skipSet())
		if err != nil {
			return fmt.Errorf("introspect schema: %w", err)
		}
		log.Printf("found %d tables", len(schema.Tables))

		log.Printf("generating statement stream...")
		res := generateStatements(srcDB, schema, time.Now())
		if res.StatementCount() == 0 {
			return fmt.Errorf("generation produced no statements")
		}
		stmts = res.Statements
		failed = res.Failed
		log.Printf("generated %d statements (%d rows across %d tables)",
			res.StatementCount(), res.TotalRows(), len(res.TableRows))

		if err := writeStream(cfg.Tuning.Output, stmts); err != nil {
			return err
		}
		log.Printf("wrote %s", cfg.Tuning.Output)
	}

	// 3. Stage into the local SQLite intermediate
	log.Printf("staging into %s...", cfg.Tuning.StagePath)
	stage, err := openStage(cfg.Tuning.StagePath)
	if err != nil {
		return err
	}
	defer stage.Close()
	applied, err := stage.Apply(stmts)
	if err != nil {
		return fmt.Errorf("stage: %w", err)
	}
	log.Printf("staged %d statements", applied)

	if flagDryRun {
		log.Printf("dry run, skipping transport (took %s)", time.Since(start).Round(time.Millisecond))
		return nil
	}

	// 4. Transport to D1
	client := newD1Client(cfg.AccountID, cfg.DatabaseID, cfg.APIToken)

	log.Printf("cleaning destination...")
	if err := setDestinationForeignKeys(ctx, client, false); err != nil {
		return err
	}
	if err := cleanDestination(ctx, client); err != nil {
		return err
	}

	log.Printf("transporting via %s strategy...", cfg.Tuning.Strategy)
	switch cfg.Tuning.Strategy {
	case "import":
		importer := &StagedImporter{
			Client:       client,
			PollInterval: cfg.Tuning.pollInterval(),
			Deadline:     cfg.Tuning.importDeadline(),
		}
		if err := importer.Run(ctx, renderStream(stmts)); err != nil {
			return err
		}
	default:
		pace := Pacing{Interval: cfg.Tuning.batchPace()}
		if cfg.Tuning.BatchSize == 1 {
			pace.Interval = cfg.Tuning.statementPace()
		}
		exec := &DirectExecutor{
			Client:    client,
			BatchSize: cfg.Tuning.BatchSize,
			Pace:      pace,
			Tolerant:  cfg.Tuning.Tolerant,
		}
		report, err := exec.Run(ctx, stmts)
		if err != nil {
			return err
		}
		log.Printf("sent %d batches (%d failed)", report.BatchesSent+report.BatchesFailed, report.BatchesFailed)
	}

	if err := setDestinationForeignKeys(ctx, client, true); err != nil {
		return err
	}

	// 5. Verify
	log.Printf("verifying row counts...")
	reconcile(ctx, srcDB, stage, client, streamTables(stmts)).Log()

	for table, ferr := range failed {
		log.Printf("WARN: table %s was skipped during generation: %v", table, ferr)
	}
	log.Printf("migration completed in %s", time.Since(start).Round(time.Millisecond))
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(flagConfig)
	if err != nil {
		return err
	}

	ctx := context.Background()

	srcDB, err := openSource(cfg.Source)
	if err != nil {
		return err
	}
	defer srcDB.Close()

	tables, err := listSourceTables(srcDB, cfg.Source.Database, cfg.Tuning.skipSet())
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}

	client := newD1Client(cfg.AccountID, cfg.DatabaseID, cfg.APIToken)
	reconcile(ctx, srcDB, nil, client, tables).Log()
	return nil
}

func listSourceTables(db *sql.DB, dbName string, skip map[string]bool) ([]string, error) {
	tables, err := introspectTables(db, dbName, skip)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.Name
	}
	return names, nil
}
