package main

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"autolist/config"
	"autolist/logging"
	"autolist/normalize"
	"autolist/services"
	"autolist/storage"
)

var (
	cfg     *config.Config
	logger  *zap.Logger
	logFile *logging.RotatingWriter
)

var rootCmd = &cobra.Command{
	Use:          "autolist",
	Short:        "Vehicle listing normalization and duplicate detection",
	Long:         "Normalizes scraped vehicle listings (brand, price, mileage, year) and finds probable duplicates across marketplaces.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		l, rw, err := logging.Setup(cfg.Log.Level, cfg.Log.File)
		if err != nil {
			return eris.Wrap(err, "init logger")
		}
		logger, logFile = l, rw
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
		if logFile != nil {
			logFile.Close()
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openStore connects the configured backend. Postgres schemas are migrated
// first; SQLite creates its schema on open.
func openStore(ctx context.Context) (storage.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		s, err := storage.NewSQLiteStore(cfg.Store.DBPath)
		if err != nil {
			return nil, err
		}
		logger.Info("Opened SQLite store", zap.String("path", cfg.Store.DBPath))
		return s, nil
	default:
		if _, err := storage.RunMigrations(cfg.Store.DatabaseURL, logger); err != nil {
			return nil, err
		}
		s, err := storage.NewPostgresStore(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		logger.Info("Connected to Postgres", zap.String("url", logging.MaskConnectionString(cfg.Store.DatabaseURL)))
		return s, nil
	}
}

func newArchiver(ctx context.Context) (storage.RunArchiver, error) {
	if !cfg.S3.Enabled() {
		return storage.NoOpArchiver{}, nil
	}
	a, err := storage.NewS3Archiver(ctx, cfg.S3)
	if err != nil {
		return nil, err
	}
	logger.Info("Archiving run reports to S3", zap.String("bucket", cfg.S3.Bucket))
	return a, nil
}

// engine is the wired set of services a command works with.
type engine struct {
	Store      storage.Store
	Normalizer *services.NormalizationService
	Detector   *services.DetectionService
}

func (e *engine) Close() {
	if err := e.Store.Close(); err != nil {
		logger.Warn("Failed to close store", zap.Error(err))
	}
}

func initEngine(ctx context.Context) (*engine, error) {
	store, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	archiver, err := newArchiver(ctx)
	if err != nil {
		store.Close()
		return nil, err
	}

	dict := normalize.NewBrandDictionary(cfg.Brands)
	logger.Debug("Loaded brand dictionary", zap.Int("brands", dict.Len()))

	return &engine{
		Store:      store,
		Normalizer: services.NewNormalizationService(store, dict, cfg.Engine, archiver, logger),
		Detector:   services.NewDetectionService(store, cfg.Engine, archiver, logger),
	}, nil
}
