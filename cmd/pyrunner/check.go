package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/pyrunner/internal/app"
)

var checkCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "Run only the static import and call checks",
	Long: `Check a Python file against the allowlist without executing it.
Reads standard input when no file (or "-") is given.

Examples:
  pyrunner check script.py
  echo 'import os' | pyrunner check`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	source, err := readSource(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.New(context.Background(), cfg, logger, app.Options{})
	if err != nil {
		return err
	}

	verdict, err := a.Validator.Validate(cmd.Context(), source)
	if err != nil {
		return err
	}
	if !verdict.Accepted() {
		return fmt.Errorf("rejected: %s", verdict.Reason)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "ok")
	return nil
}
