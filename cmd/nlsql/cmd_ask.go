package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer one question and print the result",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringP("output", "o", "json", "output format: json or yaml")
}

func runAsk(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("output")
	if format != "json" && format != "yaml" {
		return fmt.Errorf("unknown output format %q", format)
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	runner, err := a.runner()
	if err != nil {
		return err
	}

	resp, err := runner.Answer(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		return err
	}

	if format == "yaml" {
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(resp)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
