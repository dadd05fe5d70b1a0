package main

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/pyrunner/internal/runner"
	"github.com/michaelbrown/pyrunner/internal/sandbox"
)

type fakeRunner struct {
	got  runner.Request
	resp runner.Response
	err  error
}

func (f *fakeRunner) Handle(_ context.Context, req runner.Request) (*runner.Result, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &runner.Result{ID: "id", Response: f.resp}, nil
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{Params: mcp.CallToolParams{Name: "python_run", Arguments: args}}
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestToRequest(t *testing.T) {
	req, err := toRequest(callRequest(map[string]any{
		"code":         "1 + 1",
		"timeout":      float64(5),
		"memory_limit": float64(256),
		"auto_print":   false,
	}))
	require.NoError(t, err)
	assert.Equal(t, "1 + 1", *req.Code)
	assert.Equal(t, 5, *req.Timeout)
	assert.Equal(t, 256, *req.MemoryLimit)
	assert.False(t, *req.AutoPrint)

	req, err = toRequest(callRequest(map[string]any{"code": "x"}))
	require.NoError(t, err)
	assert.Nil(t, req.Timeout)
	assert.Nil(t, req.MemoryLimit)
	assert.Nil(t, req.AutoPrint)

	_, err = toRequest(callRequest(map[string]any{}))
	assert.Error(t, err)

	_, err = toRequest(callRequest(map[string]any{"code": "x", "auto_print": "yes"}))
	assert.Error(t, err)
}

func TestHandleSuccess(t *testing.T) {
	f := &fakeRunner{resp: runner.Response{Status: sandbox.StatusSuccess, Stdout: "2\n"}}
	res, err := (&codeRunner{runner: f}).handle(context.Background(), callRequest(map[string]any{"code": "1 + 1"}))
	require.NoError(t, err)

	assert.False(t, res.IsError)
	assert.Equal(t, "2\n", text(t, res))
	assert.Equal(t, f.resp, res.StructuredContent)
}

func TestHandleFailureStatus(t *testing.T) {
	f := &fakeRunner{resp: runner.Response{
		Status: sandbox.StatusError,
		Stdout: "partial\n",
		Stderr: "ZeroDivisionError: division by zero",
	}}
	res, err := (&codeRunner{runner: f}).handle(context.Background(), callRequest(map[string]any{"code": "1/0"}))
	require.NoError(t, err)

	assert.True(t, res.IsError)
	assert.Equal(t, "partial\n\nSTDERR:\nZeroDivisionError: division by zero\nstatus: error", text(t, res))
}

func TestHandleInvalidRequest(t *testing.T) {
	verr := &runner.ValidationError{Detail: []runner.FieldError{{
		Loc: []string{"body", "timeout"}, Msg: "Input should be less than or equal to 300", Type: "less_than_equal",
	}}}
	f := &fakeRunner{err: verr}
	res, err := (&codeRunner{runner: f}).handle(context.Background(), callRequest(map[string]any{"code": "1", "timeout": float64(999)}))
	require.NoError(t, err)

	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "body.timeout: Input should be less than or equal to 300")
}

func TestFormatTextTruncates(t *testing.T) {
	out := formatText(runner.Response{Status: sandbox.StatusSuccess, Stdout: strings.Repeat("x", maxTextOutput+10)})
	assert.True(t, strings.HasSuffix(out, "... (output truncated)"))
	assert.Len(t, out, maxTextOutput+len("\n... (output truncated)"))
}

func TestNewTool(t *testing.T) {
	tool := newTool(runner.DefaultBounds())
	assert.Equal(t, "python_run", tool.Name)
	assert.Equal(t, []string{"code"}, tool.InputSchema.Required)
	assert.Contains(t, tool.InputSchema.Properties, "timeout")
	assert.Contains(t, tool.InputSchema.Properties, "memory_limit")
	assert.Contains(t, tool.InputSchema.Properties, "auto_print")
}

func TestMCPRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := &fakeRunner{resp: runner.Response{Status: sandbox.StatusSuccess, Stdout: "5050\n"}}

	c, err := client.NewInProcessClient(newServer(runner.DefaultBounds(), f))
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Start(ctx))

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{Name: "pyrunner-test", Version: "0.1.0"}
	info, err := c.Initialize(ctx, initRequest)
	require.NoError(t, err)
	assert.Equal(t, "pyrunner-code-runner", info.ServerInfo.Name)

	tools, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	require.NoError(t, err)
	require.Len(t, tools.Tools, 1)
	assert.Equal(t, "python_run", tools.Tools[0].Name)

	res, err := c.CallTool(ctx, mcp.CallToolRequest{Params: mcp.CallToolParams{
		Name:      "python_run",
		Arguments: map[string]any{"code": "sum(range(101))", "timeout": 3},
	}})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	require.Len(t, res.Content, 1)
	tc, ok := mcp.AsTextContent(res.Content[0])
	require.True(t, ok)
	assert.Equal(t, "5050\n", tc.Text)

	require.NotNil(t, f.got.Timeout)
	assert.Equal(t, 3, *f.got.Timeout)
	assert.Equal(t, "sum(range(101))", *f.got.Code)
}
