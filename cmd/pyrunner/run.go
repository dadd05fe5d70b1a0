package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/pyrunner/internal/app"
	"github.com/michaelbrown/pyrunner/internal/runner"
	"github.com/michaelbrown/pyrunner/internal/sandbox"
)

var (
	timeoutFlag     int
	memoryFlag      int
	noAutoPrintFlag bool
	jsonFlag        bool
)

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Validate and execute a Python file once",
	Long: `Validate and execute a Python file with the same checks and limits as
the server. Reads standard input when no file (or "-") is given.

The exit status is 0 only when the code ran successfully.

Examples:
  pyrunner run script.py
  echo 'sum(range(10))' | pyrunner run
  pyrunner run --timeout 5 --memory 256 --json script.py`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVar(&timeoutFlag, "timeout", 0, "Timeout in seconds (default from config)")
	runCmd.Flags().IntVar(&memoryFlag, "memory", 0, "Memory limit in MB (default from config)")
	runCmd.Flags().BoolVar(&noAutoPrintFlag, "no-auto-print", false, "Do not print the value of a trailing expression")
	runCmd.Flags().BoolVar(&jsonFlag, "json", false, "Print the full response as JSON")
	rootCmd.AddCommand(runCmd)
}

// readSource reads the named file, or stdin for "" and "-".
func readSource(args []string, stdin io.Reader) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", args[0], err)
	}
	return string(data), nil
}

// buildRequest turns flags into a run request; zero flags mean defaults.
func buildRequest(source string, timeout, memory int, autoPrint bool) runner.Request {
	req := runner.Request{Code: &source, AutoPrint: &autoPrint}
	if timeout != 0 {
		req.Timeout = &timeout
	}
	if memory != 0 {
		req.MemoryLimit = &memory
	}
	return req
}

func runRun(cmd *cobra.Command, args []string) error {
	source, err := readSource(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}

	res, err := a.Service.Handle(ctx, buildRequest(source, timeoutFlag, memoryFlag, !noAutoPrintFlag))
	if err != nil {
		return err
	}
	return printResponse(cmd.OutOrStdout(), cmd.ErrOrStderr(), res.Response, jsonFlag)
}

// printResponse writes the response and returns an error for any status
// other than success.
func printResponse(stdout, stderr io.Writer, resp runner.Response, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return err
		}
	} else {
		fmt.Fprint(stdout, resp.Stdout)
		fmt.Fprint(stderr, resp.Stderr)
	}
	if resp.Status != sandbox.StatusSuccess {
		return fmt.Errorf("execution finished with status %s", resp.Status)
	}
	return nil
}
