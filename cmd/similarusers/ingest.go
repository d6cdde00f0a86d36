package main

import (
	"fmt"
	"time"

	"similarusers/internal/ingest"
	"similarusers/internal/storage"

	"github.com/spf13/cobra"
)

var (
	ingestResourceDir  string
	ingestDBPath       string
	ingestBatchSize    int
	ingestThrottleMs   int
	ingestCreateTables bool
	ingestDryRun       bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load the bulk similarity dataset into the backing store",
	Long: `Load the precomputed similarity dataset (metadata, coedit counts and
temporal buckets, as TSV or gzipped TSV) into the backing store. Each
table is truncated and reloaded; the whole run holds the ingestion
advisory lock, and the serving path rejects queries while it is held.

With --dry-run the sources are read and validated but nothing is
truncated or committed.`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVar(&ingestResourceDir, "resourcedir", "",
		"Directory containing the dataset TSV files (overrides config)")
	ingestCmd.Flags().StringVar(&ingestDBPath, "db", "",
		"Backing store path (overrides config)")
	ingestCmd.Flags().IntVar(&ingestBatchSize, "batch-size", 0,
		"Rows per insert transaction (overrides config)")
	ingestCmd.Flags().IntVar(&ingestThrottleMs, "throttle-ms", -1,
		"Delay in milliseconds before each batch commit (overrides config)")
	ingestCmd.Flags().BoolVar(&ingestCreateTables, "create-tables", false,
		"Drop and recreate the dataset tables before loading (overrides config)")
	ingestCmd.Flags().BoolVar(&ingestDryRun, "dry-run", false,
		"Validate the sources without mutating the store")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if ingestResourceDir != "" {
		cfg.Ingest.ResourceDir = ingestResourceDir
	}
	if ingestDBPath != "" {
		cfg.Database.Path = ingestDBPath
	}
	if ingestBatchSize > 0 {
		cfg.Ingest.BatchSize = ingestBatchSize
	}
	if ingestThrottleMs >= 0 {
		cfg.Ingest.ThrottleMs = ingestThrottleMs
	}
	if ingestCreateTables {
		cfg.Ingest.CreateTables = true
	}
	logger := newLogger(cfg)

	db, err := storage.Open(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to open backing store: %w", err)
	}
	defer db.Close()

	lock, err := newLock(cfg, db, logger)
	if err != nil {
		return err
	}

	if cfg.Ingest.CreateTables && !ingestDryRun {
		if err := db.RecreateDatasetTables(); err != nil {
			return fmt.Errorf("failed to recreate dataset tables: %w", err)
		}
	}

	pipeline := ingest.NewPipeline(db, lock, logger)
	counters, err := pipeline.Run(ingest.Options{
		ResourceDir: cfg.Ingest.ResourceDir,
		BatchSize:   cfg.Ingest.BatchSize,
		Throttle:    time.Duration(cfg.Ingest.ThrottleMs) * time.Millisecond,
		DryRun:      ingestDryRun,
		LockName:    cfg.Database.LockName,
	})
	for _, c := range counters {
		fmt.Printf("%s: deleted=%d read=%d skipped=%d inserted=%d\n",
			c.Source, c.Deleted, c.Read, c.Skipped, c.Inserted)
	}
	if err != nil {
		return err
	}
	return nil
}
