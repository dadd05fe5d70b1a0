package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/pyrunner/internal/app"
	"github.com/michaelbrown/pyrunner/internal/runner"
	"github.com/michaelbrown/pyrunner/internal/sandbox"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Run snippets interactively through the sandbox",
	Long: `Start an interactive prompt. Each snippet runs in a fresh sandboxed
interpreter, so no state carries over between snippets.

A line ending in ":" or "\" starts a block; finish it with an empty line.

Examples:
  pyrunner repl
  pyrunner repl --config ./pyrunner.yaml`,
	RunE: runRepl,
}

func init() {
	rootCmd.AddCommand(replCmd)
}

// replSettings are the per-session limits changed with slash commands.
type replSettings struct {
	timeout   int
	memory    int
	autoPrint bool
}

func runRepl(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.New(context.Background(), cfg, logger, app.Options{})
	if err != nil {
		return err
	}

	fmt.Printf("PyRunner - Interactive Sandbox\n")
	fmt.Printf("Interpreter: %s (Python %s)\n", a.Interpreter.Path, a.Interpreter.Version)
	fmt.Printf("Type /help for commands, /quit to exit\n\n")

	// Set up readline for input with history
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36m>>>\033[0m ",
		HistoryFile:     filepath.Join(os.TempDir(), "pyrunner_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	// Per-request cancellation: Ctrl+C stops the running snippet, not the
	// whole app.
	var current interrupter
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			current.interrupt()
		}
	}()

	settings := replSettings{
		timeout:   cfg.Limits.DefaultTimeout,
		memory:    cfg.Limits.DefaultMemoryMB,
		autoPrint: true,
	}

	var block []string
	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			return err
		}

		if block == nil {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}
			if strings.HasPrefix(trimmed, "/") {
				if quit := handleCommand(trimmed, &settings); quit {
					return nil
				}
				continue
			}
			if !startsBlock(line) {
				runSnippet(a, line, settings, &current)
				continue
			}
			block = []string{line}
			rl.SetPrompt("\033[36m...\033[0m ")
			continue
		}

		if strings.TrimSpace(line) != "" {
			block = append(block, line)
			continue
		}
		source := strings.Join(block, "\n")
		block = nil
		rl.SetPrompt("\033[36m>>>\033[0m ")
		runSnippet(a, source, settings, &current)
	}
}

// startsBlock reports whether line opens a multi-line snippet.
func startsBlock(line string) bool {
	l := strings.TrimRight(line, " \t")
	return strings.HasSuffix(l, ":") || strings.HasSuffix(l, `\`)
}

// interrupter holds the cancel func of the snippet being run, if any.
type interrupter struct {
	mu     sync.Mutex
	cancel context.CancelFunc
}

func (i *interrupter) set(cancel context.CancelFunc) {
	i.mu.Lock()
	i.cancel = cancel
	i.mu.Unlock()
}

func (i *interrupter) interrupt() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.cancel != nil {
		i.cancel()
	}
}

func runSnippet(a *app.App, source string, s replSettings, current *interrupter) {
	ctx, cancel := context.WithCancel(context.Background())
	current.set(cancel)
	defer func() {
		cancel()
		current.set(nil)
	}()

	res, err := a.Service.Handle(ctx, buildRequest(source, s.timeout, s.memory, s.autoPrint))
	if err != nil {
		fmt.Printf("\033[31m%s\033[0m\n", err)
		return
	}
	if ctx.Err() != nil {
		fmt.Println("(interrupted)")
		return
	}

	fmt.Print(res.Stdout)
	if res.Stderr != "" {
		fmt.Printf("\033[31m%s\033[0m", res.Stderr)
		if !strings.HasSuffix(res.Stderr, "\n") {
			fmt.Println()
		}
	}
	if res.Status != sandbox.StatusSuccess {
		fmt.Printf("\033[90m[%s]\033[0m\n", res.Status)
	}
	printUsage(res.Response)
}

func printUsage(resp runner.Response) {
	usage := fmt.Sprintf("%.3fs", resp.ExecutionTime)
	if resp.MemoryUsed != nil {
		usage += fmt.Sprintf(", %.2f MB", *resp.MemoryUsed)
	}
	fmt.Printf("\033[90m(%s)\033[0m\n", usage)
}

// handleCommand applies a slash command and reports whether to quit.
func handleCommand(input string, s *replSettings) bool {
	fields := strings.Fields(input)
	switch strings.ToLower(fields[0]) {
	case "/quit", "/exit", "/q":
		fmt.Println("Goodbye!")
		return true
	case "/timeout":
		setInt(fields, &s.timeout, "timeout", "s")
	case "/memory":
		setInt(fields, &s.memory, "memory limit", " MB")
	case "/autoprint":
		s.autoPrint = !s.autoPrint
		fmt.Printf("Auto-print %s.\n\n", map[bool]string{true: "on", false: "off"}[s.autoPrint])
	case "/help":
		fmt.Println("Commands:")
		fmt.Println("  /help          - Show this help")
		fmt.Println("  /timeout N     - Set the timeout in seconds")
		fmt.Println("  /memory N      - Set the memory limit in MB")
		fmt.Println("  /autoprint     - Toggle printing of a trailing expression")
		fmt.Println("  /quit          - Exit")
		fmt.Println()
	default:
		fmt.Printf("Unknown command: %s (try /help)\n\n", input)
	}
	return false
}

func setInt(fields []string, dst *int, name, unit string) {
	if len(fields) != 2 {
		fmt.Printf("Current %s: %d%s\n\n", name, *dst, unit)
		return
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil {
		fmt.Printf("Not a number: %s\n\n", fields[1])
		return
	}
	*dst = n
	fmt.Printf("The %s is now %d%s.\n\n", name, n, unit)
}
