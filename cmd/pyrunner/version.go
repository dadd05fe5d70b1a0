package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/pyrunner/internal/interp"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and the interpreter in use",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "pyrunner %s\n", version)

		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		info, err := interp.Probe(context.Background(), cfg.Executor.Interpreter)
		if err != nil {
			fmt.Fprintf(out, "interpreter: unavailable (%v)\n", err)
			return nil
		}
		fmt.Fprintf(out, "interpreter: %s (Python %s)\n", info.Path, info.Version)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
