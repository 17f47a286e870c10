package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "nlsql",
	Short: "Answer natural language questions about a SQLite database",
	Long: `nlsql turns natural language questions into SQL with an LLM agent,
runs them against a SQLite database and answers in plain language.
It serves an HTTP API (serve) or answers one question from the shell (ask).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.{json,yaml})")

	rootCmd.AddCommand(serveCmd, askCmd, migrateCmd, schemaCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
