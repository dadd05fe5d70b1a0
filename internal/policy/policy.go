// Package policy defines which modules, builtins and attributes submitted
// code may use. The built-in default can be overridden by a YAML file.
package policy

import "sort"

// Set is a set of names.
type Set map[string]struct{}

// NewSet builds a Set from the given names.
func NewSet(names ...string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Has reports whether name is in the set.
func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Sorted returns the members in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Policy is the allowlist a submitted program is checked against.
// It is built once at startup and only read afterwards.
type Policy struct {
	DeniedModules    Set
	DeniedBuiltins   Set
	DeniedAttributes Set
	AllowedModules   Set

	// GranularModules maps a partially trusted module to the only names
	// that may be imported from it.
	GranularModules map[string]Set

	// AllowUnderscoreModules lets unknown modules whose name starts with
	// an underscore through the import check.
	AllowUnderscoreModules bool
}

// Default returns the built-in policy for scientific computing workloads.
func Default() *Policy {
	return &Policy{
		DeniedModules: NewSet(
			"os", "subprocess", "sys", "importlib", "eval", "exec",
			"compile", "__import__", "open", "file", "input", "raw_input",
			"socket", "urllib", "httplib", "ftplib", "telnetlib",
			"pickle", "cPickle", "marshal", "shelve",
		),
		DeniedBuiltins: NewSet(
			"eval", "exec", "compile", "__import__", "open", "file",
			"input", "raw_input", "execfile", "reload",
			"getattr", "setattr", "delattr",
		),
		DeniedAttributes: NewSet(
			"__globals__", "__code__", "__class__", "__bases__", "__subclasses__",
		),
		AllowedModules: NewSet(
			"math", "cmath", "decimal", "fractions", "random", "statistics",
			"itertools", "functools", "operator", "collections", "heapq",
			"bisect", "array", "datetime", "calendar", "copy", "pprint",
			"re", "string", "textwrap", "unicodedata", "json", "csv",
			"numpy", "sympy", "pandas", "matplotlib", "scipy", "sklearn",
		),
		GranularModules: map[string]Set{
			"io": NewSet(
				"StringIO", "BytesIO", "TextIOWrapper", "BufferedReader",
				"BufferedWriter", "BufferedRWPair", "BufferedRandom",
				"IOBase", "RawIOBase", "BufferedIOBase", "TextIOBase",
				"DEFAULT_BUFFER_SIZE", "SEEK_SET", "SEEK_CUR", "SEEK_END",
				"UnsupportedOperation", "BlockingIOError", "IncrementalNewlineDecoder",
			),
		},
	}
}

// ModuleClass is how the policy treats a top-level module name.
type ModuleClass int

const (
	ModuleUnknown ModuleClass = iota
	ModuleDenied
	ModuleGranular
	ModuleAllowed
	// ModuleUnderscore is an unknown module let through by
	// AllowUnderscoreModules.
	ModuleUnderscore
)

// Classify reports how the policy treats the top-level module name.
// Denied wins over every other list.
func (p *Policy) Classify(module string) ModuleClass {
	switch {
	case p.DeniedModules.Has(module):
		return ModuleDenied
	case p.GranularModules[module] != nil:
		return ModuleGranular
	case p.AllowedModules.Has(module):
		return ModuleAllowed
	case p.AllowUnderscoreModules && len(module) > 0 && module[0] == '_':
		return ModuleUnderscore
	default:
		return ModuleUnknown
	}
}

// AllowsSymbol reports whether name may be imported from a granular module.
func (p *Policy) AllowsSymbol(module, name string) bool {
	return p.GranularModules[module].Has(name)
}
