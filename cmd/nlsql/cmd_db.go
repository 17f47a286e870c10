package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rahul/nlsql/internal/database"
	"github.com/rahul/nlsql/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		version, err := store.Version(a.db)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is at migration version %d\n", a.cfg.Database.Path, version)
		return nil
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema [table]",
	Short: "List tables, or the columns of one table",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		table := ""
		if len(args) == 1 {
			table = args[0]
		}
		fmt.Fprintln(cmd.OutOrStdout(), database.Schema(cmd.Context(), a.db, table))
		return nil
	},
}
