package pyast

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

//go:embed helper.py
var helperSource string

// Mode selects the grammar start symbol.
type Mode string

const (
	// ModeExec parses a module (a sequence of statements).
	ModeExec Mode = "exec"
	// ModeEval parses a single expression.
	ModeEval Mode = "eval"
)

// SyntaxError is a source text the interpreter refused to parse.
type SyntaxError struct {
	Msg    string
	Line   int
	Offset int
}

func (e *SyntaxError) Error() string { return e.Msg }

// Result is the outcome of parsing one source text. Exactly one of Tree
// and Err is set.
type Result struct {
	Tree *Node
	Err  *SyntaxError
}

// Parser turns source text into syntax trees.
type Parser interface {
	// Parse parses one source. A source that does not parse yields a
	// *SyntaxError; any other error means the parser itself failed.
	Parse(ctx context.Context, source string, mode Mode) (*Node, error)

	// ParseAll parses several sources in one go, in order.
	ParseAll(ctx context.Context, sources []string, mode Mode) ([]Result, error)
}

// Interpreter parses with the Python interpreter at Path, so the accepted
// grammar is exactly the one the code will later run under. Parsing never
// executes the submitted code.
type Interpreter struct {
	Path    string
	Timeout time.Duration // per ParseAll call; zero means no limit beyond ctx
}

// DefaultTimeout bounds one ParseAll call. A source of a million
// characters parses and decodes in a few seconds.
const DefaultTimeout = 30 * time.Second

// NewInterpreter returns a parser backed by the interpreter at path.
func NewInterpreter(path string, timeout time.Duration) *Interpreter {
	return &Interpreter{Path: path, Timeout: timeout}
}

// parseRequest carries sources as bytes (base64 in JSON) so the helper
// sees exactly what will be written to disk.
type parseRequest struct {
	Mode    Mode     `json:"mode"`
	Sources [][]byte `json:"sources"`
}

// Parse implements Parser.
func (p *Interpreter) Parse(ctx context.Context, source string, mode Mode) (*Node, error) {
	results, err := p.ParseAll(ctx, []string{source}, mode)
	if err != nil {
		return nil, err
	}
	if results[0].Err != nil {
		return nil, results[0].Err
	}
	return results[0].Tree, nil
}

// ParseAll implements Parser.
func (p *Interpreter) ParseAll(ctx context.Context, sources []string, mode Mode) ([]Result, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	raw := make([][]byte, len(sources))
	for i, src := range sources {
		raw[i] = []byte(src)
	}
	payload, err := json.Marshal(parseRequest{Mode: mode, Sources: raw})
	if err != nil {
		return nil, fmt.Errorf("encoding parse request: %w", err)
	}

	// -I: ignore PYTHON* env and user site, -S: skip site import.
	cmd := exec.CommandContext(ctx, p.Path, "-I", "-S", "-W", "ignore", "-c", helperSource)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("running parser %s: %w: %s", p.Path, err, lastLine(msg))
		}
		return nil, fmt.Errorf("running parser %s: %w", p.Path, err)
	}

	out, err := decodeResults(&stdout)
	if err != nil {
		return nil, fmt.Errorf("decoding parser output: %w", err)
	}
	if len(out) != len(sources) {
		return nil, fmt.Errorf("parser returned %d results for %d sources", len(out), len(sources))
	}
	return out, nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
