// Package autoprint rewrites a script so the value of its final bare
// expression is printed, the way an interactive prompt would show it.
package autoprint

import (
	"context"
	"regexp"
	"strings"

	"github.com/michaelbrown/pyrunner/internal/pyast"
)

// ResultName is the binding the rewritten script stores the value in.
const ResultName = "__auto_print_result"

// DefaultMaxWindows bounds how many line windows are probed for a
// trailing expression that spans several lines.
const DefaultMaxWindows = 64

// Wrapper performs the rewrite. The zero value is not usable; use New.
type Wrapper struct {
	parser     pyast.Parser
	maxWindows int
}

// New returns a Wrapper that parses with p.
func New(p pyast.Parser) *Wrapper {
	return &Wrapper{parser: p, maxWindows: DefaultMaxWindows}
}

// Wrap returns source with its last top-level statement rewritten to
//
//	__auto_print_result = <expression>
//	if __auto_print_result is not None:
//	    print(__auto_print_result)
//
// when that statement is a bare expression other than a print call.
// In every other case, including any failure, source is returned as is.
// A source that declares an encoding other than UTF-8 is never rewritten:
// positions in its tree do not index its bytes.
func (w *Wrapper) Wrap(ctx context.Context, source string) string {
	if strings.TrimSpace(source) == "" || hasLoneCR(source) || declaresForeignEncoding(source) {
		return source
	}

	tree, err := w.parser.Parse(ctx, source, pyast.ModeExec)
	if err != nil {
		return source
	}
	body := tree.Children("body")
	if len(body) == 0 {
		return source
	}
	last := body[len(body)-1]
	if !last.Is("Expr") || last.Pos == nil || isPrintCall(last.Child("value")) {
		return source
	}

	lines := strings.Split(source, "\n")
	start := last.Pos.Line - 1
	if start < 0 || start >= len(lines) || last.Pos.Col > len(lines[start]) {
		return source
	}
	head := lines[start][:last.Pos.Col]

	ends := w.windowEnds(start, last.Pos.EndLine, len(lines))
	windows := make([]string, len(ends))
	for i, end := range ends {
		windows[i] = lines[start][last.Pos.Col:]
		if end > start+1 {
			windows[i] += "\n" + strings.Join(lines[start+1:end], "\n")
		}
	}

	results, err := w.parser.ParseAll(ctx, windows, pyast.ModeEval)
	if err != nil {
		return source
	}
	for i, r := range results {
		if r.Err != nil {
			continue
		}
		out := make([]string, 0, len(lines)+2)
		out = append(out, lines[:start]...)
		out = append(out,
			head+ResultName+" = "+windows[i],
			"if "+ResultName+" is not None:",
			"    print("+ResultName+")",
		)
		out = append(out, lines[ends[i]:]...)
		return strings.Join(out, "\n")
	}
	return source
}

// windowEnds lists the exclusive end line indexes of the candidate
// windows: the first maxWindows growing windows, then the window ending
// at the statement's reported last line if that lies further out.
func (w *Wrapper) windowEnds(start, endLine, total int) []int {
	limit := min(total, start+w.maxWindows)
	ends := make([]int, 0, limit-start+1)
	for end := start + 1; end <= limit; end++ {
		ends = append(ends, end)
	}
	if endLine > limit && endLine <= total {
		ends = append(ends, endLine)
	}
	return ends
}

func isPrintCall(n *pyast.Node) bool {
	return n.Is("Call") && n.Child("func").Is("Name") && n.Child("func").Ident("id") == "print"
}

// hasLoneCR reports a bare carriage return, which the interpreter counts
// as a line break and strings.Split does not.
func hasLoneCR(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '\r' && (i+1 == len(s) || s[i+1] != '\n') {
			return true
		}
	}
	return false
}

// codingDeclaration matches an encoding declaration comment.
var codingDeclaration = regexp.MustCompile(`^[ \t\f]*#.*?coding[:=][ \t]*([-\w.]+)`)

// declaresForeignEncoding reports an encoding declaration on either of the
// first two lines naming anything but UTF-8.
func declaresForeignEncoding(source string) bool {
	lines := strings.SplitN(source, "\n", 3)
	for i := 0; i < len(lines) && i < 2; i++ {
		m := codingDeclaration.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}
		enc := strings.ReplaceAll(strings.ToLower(m[1]), "_", "-")
		return enc != "utf-8" && enc != "utf8" && !strings.HasPrefix(enc, "utf-8-")
	}
	return false
}
