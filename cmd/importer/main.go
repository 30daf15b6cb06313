package main

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mychart-explorer/importer/pkg/cda"
	"github.com/mychart-explorer/importer/pkg/common/config"
	"github.com/mychart-explorer/importer/pkg/common/database"
	"github.com/mychart-explorer/importer/pkg/common/logger"
	"github.com/mychart-explorer/importer/pkg/export"
	"github.com/mychart-explorer/importer/pkg/importer"
)

func main() {
	logger.Init()

	rootCmd := &cobra.Command{
		Use:   "mychart-importer",
		Short: "Import C-CDA medical record exports into a relational database",
	}

	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(exportCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func importCmd() *cobra.Command {
	var registryPath string

	cmd := &cobra.Command{
		Use:   "import <db-file> <xml-file>...",
		Short: "Import one or more CDA XML documents into a database",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.OpenSQLite(args[0])
			if err != nil {
				return err
			}
			defer database.Close(db)

			repo := importer.NewRepository(db)
			if err := repo.AutoMigrate(); err != nil {
				return err
			}
			logger.Log.Info("database connection established and schema verified")

			if registryPath == "" {
				registryPath = config.Load().TemplateRegistryPath
			}
			registry, err := cda.LoadRegistry(registryPath)
			if err != nil {
				logger.Log.WithError(err).Warn("falling back to built-in section templates")
			}

			svc := importer.NewService(db, registry)
			batch := svc.ImportBatch(context.Background(), args[1:])

			logger.WithFields(logrus.Fields{
				"succeeded": batch.Succeeded,
				"skipped":   batch.Skipped,
				"failed":    batch.Failed,
			}).Info("import process completed")
			return nil
		},
	}

	cmd.Flags().StringVar(&registryPath, "templates", "", "yaml file overriding section template identifiers")
	return cmd
}

func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <db-file> <json-file>",
		Short: "Export a database to a single JSON file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err != nil {
				logger.Log.Errorf("database file not found at %s", args[0])
				return err
			}
			db, err := database.OpenSQLite(args[0])
			if err != nil {
				return err
			}
			defer database.Close(db)

			return export.WriteFile(context.Background(), db, args[1])
		},
	}
}
