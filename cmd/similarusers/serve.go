package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"similarusers/internal/api"
	"similarusers/internal/augment"
	"similarusers/internal/cache"
	"similarusers/internal/ingest"
	"similarusers/internal/storage"
	"similarusers/internal/version"
	"similarusers/internal/wiki"

	"github.com/spf13/cobra"
)

var (
	serveListen      string
	serveDBPath      string
	serveResourceDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the similarity HTTP API server",
	Long: `Start the similarusers HTTP API server. The server answers similarity
queries from the backing store, augmented per request with the queried
user's live edit history from the wiki API.

With --resourcedir, the bulk dataset is ingested from TSV files before
the server starts accepting requests.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveListen, "listen", "",
		"Address to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveDBPath, "db", "",
		"Backing store path (overrides config)")
	serveCmd.Flags().StringVar(&serveResourceDir, "resourcedir", "",
		"Ingest the bulk dataset from this directory before serving")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Listen = serveListen
	}
	if serveDBPath != "" {
		cfg.Database.Path = serveDBPath
	}
	logger := newLogger(cfg)

	db, err := storage.Open(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to open backing store: %w", err)
	}
	defer db.Close()
	logger.Info("Starting similarusers", map[string]interface{}{
		"version": version.Info(),
		"db":      db.Path(),
	})

	lock, err := newLock(cfg, db, logger)
	if err != nil {
		return err
	}

	if serveResourceDir != "" {
		pipeline := ingest.NewPipeline(db, lock, logger)
		counters, err := pipeline.Run(ingest.Options{
			ResourceDir: serveResourceDir,
			BatchSize:   cfg.Ingest.BatchSize,
			Throttle:    time.Duration(cfg.Ingest.ThrottleMs) * time.Millisecond,
			LockName:    cfg.Database.LockName,
		})
		if err != nil {
			return fmt.Errorf("failed to ingest bulk dataset: %w", err)
		}
		for _, c := range counters {
			logger.Info("Ingested source", map[string]interface{}{
				"source":   c.Source,
				"read":     c.Read,
				"skipped":  c.Skipped,
				"inserted": c.Inserted,
			})
		}
	}

	baseline, err := time.Parse(storage.TimeFormat, cfg.Wiki.BaselineTimestamp)
	if err != nil {
		return fmt.Errorf("invalid wiki.baselineTimestamp: %w", err)
	}

	dataset := storage.NewDataset(db)
	c := cache.New(dataset, cfg.Query.TemporalOffsets, logger)
	client := wiki.NewHTTPClient(cfg.Wiki, logger)
	engine := augment.NewEngine(c, client, cfg.Query, baseline, logger)

	server, err := api.NewServer(cfg, c, engine, client, lock, logger)
	if err != nil {
		return err
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		fmt.Printf("similarusers listening on http://%s\n", cfg.Listen)
		serverErr <- server.Start()
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("Server error", map[string]interface{}{
				"error": err.Error(),
			})
			return err
		}
	case sig := <-shutdown:
		logger.Info("Received shutdown signal", map[string]interface{}{
			"signal": sig.String(),
		})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Error during shutdown", map[string]interface{}{
				"error": err.Error(),
			})
			return err
		}
	}

	return nil
}
