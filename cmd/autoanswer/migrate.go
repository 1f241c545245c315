package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/phonginreallife/autoanswer/db"
	"github.com/phonginreallife/autoanswer/internal/config"
)

var migrateDryRun bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Long: `Creates the rule, absence window, outcome and token tables if they do
not exist. Safe to run repeatedly.

Environment Variables Required:
  DATABASE_URL    - PostgreSQL connection string`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if migrateDryRun {
			cmd.Println(db.Schema)
			return nil
		}

		pg, err := openDatabase(config.App.DatabaseURL)
		if err != nil {
			return err
		}
		defer pg.Close()

		log.Println("Running migration...")
		if _, err := pg.ExecContext(cmd.Context(), db.Schema); err != nil {
			return err
		}
		log.Println("Migration applied successfully!")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "Print the schema without applying it")
}
