// Command code-runner is an MCP stdio server exposing the sandbox as the
// python_run tool.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/michaelbrown/pyrunner/internal/app"
	"github.com/michaelbrown/pyrunner/internal/config"
	"github.com/michaelbrown/pyrunner/internal/logging"
	"github.com/michaelbrown/pyrunner/internal/rlimit"
	"github.com/michaelbrown/pyrunner/internal/runner"
	"github.com/michaelbrown/pyrunner/internal/sandbox"
)

// maxTextOutput bounds the text content returned to the model.
const maxTextOutput = 4000

type handler interface {
	Handle(ctx context.Context, req runner.Request) (*runner.Result, error)
}

type codeRunner struct {
	runner handler
}

func main() {
	rlimit.Init()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "code-runner: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("PYRUNNER_CONFIG"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	// Stdout carries the protocol; the logger writes to stderr.
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.New(context.Background(), cfg, logger, app.Options{})
	if err != nil {
		return err
	}

	logger.Info("serving MCP on stdio", zap.String("tool", "python_run"))
	return server.ServeStdio(newServer(cfg.Bounds(), a.Service))
}

func newServer(b runner.Bounds, h handler) *server.MCPServer {
	s := server.NewMCPServer("pyrunner-code-runner", "0.1.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	cr := &codeRunner{runner: h}
	s.AddTool(newTool(b), cr.handle)
	return s
}

func newTool(b runner.Bounds) mcp.Tool {
	return mcp.NewTool("python_run",
		mcp.WithDescription("Execute a Python snippet in a sandbox for math and science work. "+
			"Imports are limited to an allowlist (numpy, sympy, pandas, scipy, math and similar); "+
			"no file system, network or process access. The value of a trailing expression is printed."),
		mcp.WithString("code",
			mcp.Required(),
			mcp.Description("Python source to execute"),
		),
		mcp.WithNumber("timeout",
			mcp.Description(fmt.Sprintf("Timeout in seconds (default %d)", b.DefaultTimeout)),
			mcp.Min(float64(b.MinTimeout)),
			mcp.Max(float64(b.MaxTimeout)),
		),
		mcp.WithNumber("memory_limit",
			mcp.Description(fmt.Sprintf("Memory limit in MB (default %d)", b.DefaultMemoryMB)),
			mcp.Min(float64(b.MinMemoryMB)),
			mcp.Max(float64(b.MaxMemoryMB)),
		),
		mcp.WithBoolean("auto_print",
			mcp.Description("Print the value of a trailing expression"),
			mcp.DefaultBool(true),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)
}

// toRequest maps tool arguments onto a run request; absent arguments
// take the service defaults.
func toRequest(request mcp.CallToolRequest) (runner.Request, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return runner.Request{}, err
	}
	req := runner.Request{Code: &code}

	args := request.GetArguments()
	if _, ok := args["timeout"]; ok {
		v, err := request.RequireInt("timeout")
		if err != nil {
			return runner.Request{}, err
		}
		req.Timeout = &v
	}
	if _, ok := args["memory_limit"]; ok {
		v, err := request.RequireInt("memory_limit")
		if err != nil {
			return runner.Request{}, err
		}
		req.MemoryLimit = &v
	}
	if _, ok := args["auto_print"]; ok {
		v, err := request.RequireBool("auto_print")
		if err != nil {
			return runner.Request{}, err
		}
		req.AutoPrint = &v
	}
	return req, nil
}

func (c *codeRunner) handle(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req, err := toRequest(request)
	if err != nil {
		return mcp.NewToolResultError("error: " + err.Error()), nil
	}

	res, err := c.runner.Handle(ctx, req)
	if err != nil {
		return mcp.NewToolResultError("error: " + err.Error()), nil
	}

	result := mcp.NewToolResultStructured(res.Response, formatText(res.Response))
	result.IsError = res.Status != sandbox.StatusSuccess
	return result, nil
}

func formatText(resp runner.Response) string {
	var output strings.Builder
	if resp.Stdout != "" {
		output.WriteString(resp.Stdout)
	}
	if resp.Stderr != "" {
		if output.Len() > 0 {
			output.WriteString("\n")
		}
		output.WriteString("STDERR:\n" + resp.Stderr)
	}
	if resp.Status != sandbox.StatusSuccess {
		output.WriteString(fmt.Sprintf("\nstatus: %s", resp.Status))
	}

	text := output.String()
	if len(text) > maxTextOutput {
		text = text[:maxTextOutput] + "\n... (output truncated)"
	}
	return text
}
