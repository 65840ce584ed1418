package cmd

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"todoless/config"
	"todoless/storage"
)

func newInitStorageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-storage",
		Short: "Create tables or apply the schema, and create the export queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := cfg.ValidateStorage(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return initStorage(cmd.Context(), cfg, newLogger(cfg))
		},
	}
}

func initStorage(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	switch cfg.Storage.Driver {
	case storage.DriverTables:
		tables, err := storage.NewTables(cfg.Storage.ConnectionString, storage.TableNames(cfg.Storage.Tables))
		if err != nil {
			return err
		}
		if err := tables.CreateTables(ctx); err != nil {
			return err
		}
		logger.WithField("tables", storage.TableNames(cfg.Storage.Tables).All()).Info("tables ready")
	default:
		db, err := storage.NewSQLite(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		if err := db.Close(); err != nil {
			return err
		}
		logger.WithField("path", cfg.Storage.SQLitePath).Info("schema applied")
	}

	if cfg.Storage.ExportQueue != "" {
		exporter, err := storage.NewQueueExporter(cfg.Storage.ConnectionString, cfg.Storage.ExportQueue)
		if err != nil {
			return err
		}
		if err := exporter.CreateQueue(ctx); err != nil {
			return err
		}
		logger.WithField("queue", cfg.Storage.ExportQueue).Info("export queue ready")
	}
	return nil
}
