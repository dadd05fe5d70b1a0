package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileFormat is the on-disk shape of a policy file. A list present in the
// file replaces the corresponding default list.
type fileFormat struct {
	DeniedModules          []string            `yaml:"denied_modules"`
	DeniedBuiltins         []string            `yaml:"denied_builtins"`
	DeniedAttributes       []string            `yaml:"denied_attributes"`
	AllowedModules         []string            `yaml:"allowed_modules"`
	GranularModules        map[string][]string `yaml:"granular_modules"`
	AllowUnderscoreModules *bool               `yaml:"allow_underscore_modules"`
}

// Load reads a policy file from path. An empty path returns Default().
func Load(path string) (*Policy, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy %s: %w", path, err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing policy %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a YAML policy document on top of Default().
func Parse(data []byte) (*Policy, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	p := Default()
	if f.DeniedModules != nil {
		p.DeniedModules = NewSet(f.DeniedModules...)
	}
	if f.DeniedBuiltins != nil {
		p.DeniedBuiltins = NewSet(f.DeniedBuiltins...)
	}
	if f.DeniedAttributes != nil {
		p.DeniedAttributes = NewSet(f.DeniedAttributes...)
	}
	if f.AllowedModules != nil {
		p.AllowedModules = NewSet(f.AllowedModules...)
	}
	if f.GranularModules != nil {
		p.GranularModules = make(map[string]Set, len(f.GranularModules))
		for module, names := range f.GranularModules {
			p.GranularModules[module] = NewSet(names...)
		}
	}
	if f.AllowUnderscoreModules != nil {
		p.AllowUnderscoreModules = *f.AllowUnderscoreModules
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate rejects policies whose lists overlap in ways that would make
// the import check order-dependent.
func (p *Policy) Validate() error {
	for module := range p.GranularModules {
		if p.AllowedModules.Has(module) {
			return fmt.Errorf("module %q is both fully allowed and granular", module)
		}
		if p.DeniedModules.Has(module) {
			return fmt.Errorf("module %q is both denied and granular", module)
		}
	}
	for module := range p.AllowedModules {
		if p.DeniedModules.Has(module) {
			return fmt.Errorf("module %q is both denied and allowed", module)
		}
	}
	return nil
}
