// Package validator statically vets Python source against an allowlist
// policy before anything is executed.
//
// The check walks every node of the interpreter's own syntax tree, so a
// violation inside a function or class body is caught even if that code
// would never run. It only sees direct references: a denied builtin reached
// through an alias (x = eval; x("1")) or through attribute indirection is
// not detected. The resource limits applied at execution time are the
// backstop for what this check cannot see.
package validator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/michaelbrown/pyrunner/internal/policy"
	"github.com/michaelbrown/pyrunner/internal/pyast"
)

// Verdict is the result of validating one source text. The zero value
// means accepted.
type Verdict struct {
	Reason string
}

// Accepted reports whether the source passed validation.
func (v Verdict) Accepted() bool { return v.Reason == "" }

func reject(format string, args ...any) Verdict {
	return Verdict{Reason: fmt.Sprintf(format, args...)}
}

// Validator checks source text against a policy. It holds no per-call
// state and is safe for concurrent use.
type Validator struct {
	policy *policy.Policy
	parser pyast.Parser
}

// New creates a validator. The policy must not be modified afterwards.
func New(p *policy.Policy, parser pyast.Parser) *Validator {
	return &Validator{policy: p, parser: parser}
}

// Policy returns the policy the validator enforces.
func (v *Validator) Policy() *policy.Policy { return v.policy }

// Validate parses source and checks it. A source that does not parse is
// rejected; the returned error is reserved for a parser that could not run.
func (v *Validator) Validate(ctx context.Context, source string) (Verdict, error) {
	if strings.TrimSpace(source) == "" {
		return Verdict{}, nil
	}

	tree, err := v.parser.Parse(ctx, source, pyast.ModeExec)
	if err != nil {
		var se *pyast.SyntaxError
		if errors.As(err, &se) {
			return reject("syntax error: %s", se.Msg), nil
		}
		return Verdict{}, fmt.Errorf("parsing source: %w", err)
	}
	return v.Check(tree), nil
}

// Check walks an already parsed tree and returns the first violation in
// walk order.
func (v *Validator) Check(tree *pyast.Node) Verdict {
	var verdict Verdict
	_ = pyast.Walk(tree, func(n *pyast.Node) error {
		verdict = v.checkNode(n)
		if !verdict.Accepted() {
			return errStop
		}
		return nil
	})
	return verdict
}

var errStop = errors.New("stop")

func (v *Validator) checkNode(n *pyast.Node) Verdict {
	switch n.Type {
	case "Import":
		return v.checkImport(n)
	case "ImportFrom":
		return v.checkImportFrom(n)
	case "Call":
		if fn := n.Child("func"); fn.Is("Name") {
			if name := fn.Ident("id"); v.policy.DeniedBuiltins.Has(name) {
				return reject("call to '%s' is not allowed", name)
			}
		}
	case "Attribute":
		if attr := n.Ident("attr"); v.policy.DeniedAttributes.Has(attr) {
			return reject("access to '%s' is not allowed", attr)
		}
	}
	return Verdict{}
}

// checkImport handles `import a.b.c [as x]`; only the top-level name counts.
func (v *Validator) checkImport(n *pyast.Node) Verdict {
	for _, alias := range n.Children("names") {
		module := topLevel(alias.Ident("name"))
		switch v.policy.Classify(module) {
		case policy.ModuleDenied:
			return reject("import of '%s' is not allowed", module)
		case policy.ModuleGranular:
			return reject("direct import of '%s' is not allowed; use selective import", module)
		case policy.ModuleUnknown:
			return reject("import of '%s' is not in the allowed list", module)
		}
	}
	return Verdict{}
}

// checkImportFrom handles `from a.b import x, y`. Relative imports with no
// module (`from . import x`) carry nothing to check.
func (v *Validator) checkImportFrom(n *pyast.Node) Verdict {
	name := n.Ident("module")
	if name == "" {
		return Verdict{}
	}
	module := topLevel(name)

	switch v.policy.Classify(module) {
	case policy.ModuleDenied:
		return reject("import from '%s' is not allowed", module)
	case policy.ModuleGranular:
		for _, alias := range n.Children("names") {
			symbol := alias.Ident("name")
			if symbol == "*" {
				return reject("wildcard import from '%s' is not allowed", module)
			}
			if !v.policy.AllowsSymbol(module, symbol) {
				return reject("import of '%s' from '%s' is not allowed", symbol, module)
			}
		}
	case policy.ModuleUnknown:
		return reject("import from '%s' is not in the allowed list", module)
	}
	return Verdict{}
}

func topLevel(module string) string {
	if i := strings.IndexByte(module, '.'); i >= 0 {
		return module[:i]
	}
	return module
}
