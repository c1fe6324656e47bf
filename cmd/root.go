package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cwbudde/badger/internal/config"
	"github.com/cwbudde/badger/internal/db"
	"github.com/cwbudde/badger/internal/logger"
	"github.com/cwbudde/badger/internal/routine"
	"github.com/cwbudde/badger/internal/store"
)

var (
	logLevel   string
	configPath string

	settings  config.Settings
	logCloser = func() error { return nil }
)

var rootCmd = &cobra.Command{
	Use:   "badger",
	Short: "Online optimization runner for accelerator tuning",
	Long: `Badger runs optimization routines against a live machine: a generator
proposes settings, an environment applies them and reads back the
observables, and every evaluation is recorded and archived.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		settings, err = config.Load(configPath)
		if err != nil {
			return err
		}

		level := settings.LoggingLevel
		if cmd.Flags().Changed("log-level") {
			level = logLevel
		}
		_, closer, err := logger.Setup(logger.Options{
			Level:    level,
			File:     settings.LogfilePath,
			Terminal: cmd.ErrOrStderr(),
		})
		if err != nil {
			return err
		}
		logCloser = closer
		slog.Debug("Settings loaded", "config", configPath, "archive_root", settings.ArchiveRoot)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return logCloser()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", fmt.Sprintf("Config file (default %s)", config.DefaultPath()))
}

// registry holds the components routines can name.
func registry() routine.Registry {
	return routine.DefaultRegistry()
}

func openArchive() (*store.FSStore, error) {
	archive, err := store.NewFSStore(settings.ArchiveRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	return archive, nil
}

func openIndex() (*db.SQLiteStore, error) {
	if err := settings.EnsureDirs(); err != nil {
		return nil, err
	}
	index, err := db.Open(settings.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open routine database: %w", err)
	}
	return index, nil
}
