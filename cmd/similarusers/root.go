package main

import (
	"fmt"
	"os"

	"similarusers/internal/config"
	"similarusers/internal/logging"
	"similarusers/internal/storage"
	"similarusers/internal/version"

	"github.com/spf13/cobra"
)

var (
	// configFlag is the CLI --config flag value
	configFlag string
)

var rootCmd = &cobra.Command{
	Use:   "similarusers",
	Short: "Wiki user similarity service",
	Long: `similarusers answers "who edits like this user?" for a wiki: it serves
ranked lists of accounts whose edit history overlaps a queried user's, with
temporal similarity scores, combining a bulk-computed dataset with live
augmentation from the wiki's edit history.`,
	Version: version.Info(),
}

func init() {
	rootCmd.SetVersionTemplate(version.Full() + "\n")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "",
		"Path to YAML config file (optional; env vars and defaults apply without one)")
}

// loadConfig resolves the effective configuration.
// Precedence: SIMILARUSERS_* env var > --config file > default.
func loadConfig() (*config.Config, error) {
	path := configFlag
	if path == "" {
		path = os.Getenv(config.EnvPrefix + "_CONFIG")
	}
	return config.Load(path)
}

// newLogger creates the process logger from configuration.
func newLogger(cfg *config.Config) *logging.Logger {
	return logging.NewLogger(logging.Config{
		Format: logging.Format(cfg.Logging.Format),
		Level:  logging.ParseLevel(cfg.Logging.Level),
	})
}

// newLock selects the advisory-lock implementation from configuration.
func newLock(cfg *config.Config, db *storage.DB, logger *logging.Logger) (storage.Lock, error) {
	switch cfg.Database.AdvisoryLock {
	case "store", "":
		holder := fmt.Sprintf("similarusers-%d", os.Getpid())
		return storage.NewStoreLock(db, holder, logger), nil
	case "noop":
		return storage.NewNoopLock(logger), nil
	default:
		return nil, fmt.Errorf("unknown advisory lock implementation %q", cfg.Database.AdvisoryLock)
	}
}
