package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"autolist/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Store.Driver == "sqlite" {
			s, err := storage.NewSQLiteStore(cfg.Store.DBPath)
			if err != nil {
				return err
			}
			fmt.Printf("%s SQLite schema ready at %s\n", color.GreenString("ok"), cfg.Store.DBPath)
			return s.Close()
		}

		version, err := storage.RunMigrations(cfg.Store.DatabaseURL, logger)
		if err != nil {
			return err
		}
		fmt.Printf("%s Postgres schema at version %d\n", color.GreenString("ok"), version)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
