package derive

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/tidwall/jsonc"
)

// Format selects how a derived output is rendered.
type Format string

const (
	FormatEnv   Format = "env"
	FormatShell Format = "shell"
	FormatYAML  Format = "yaml"
	FormatJSON  Format = "json"
	FormatTOML  Format = "toml"
)

var (
	// ErrInvalidRule is returned when a rule in the table is malformed.
	ErrInvalidRule = errors.New("invalid derived output rule")

	envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Var maps one merged-config path to a named variable.
type Var struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Rule describes one derived output file.
type Rule struct {
	Name   string `json:"name"`
	File   string `json:"file"`
	Format Format `json:"format"`
	// Source is a dotted path to the subtree rendered by the rule.
	Source string `json:"source,omitempty"`
	// Prefix is prepended to variable names flattened from Source.
	Prefix   string `json:"prefix,omitempty"`
	Vars     []Var  `json:"vars,omitempty"`
	Optional bool   `json:"optional,omitempty"`
}

type table struct {
	Outputs []Rule `json:"outputs"`
}

// LoadRules reads a JSONC rules file from disk. Rules may not write to any of
// the reserved file names.
func LoadRules(path string, reserved ...string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	rules, err := ParseRules(data, reserved...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

// ParseRules parses a JSONC rules table ({"outputs": [...]}) and validates it.
func ParseRules(data []byte, reserved ...string) ([]Rule, error) {
	var t table
	if err := json.Unmarshal(jsonc.ToJSON(data), &t); err != nil {
		return nil, fmt.Errorf("parsing rules: %w", err)
	}
	if err := Validate(t.Outputs, reserved...); err != nil {
		return nil, err
	}
	return t.Outputs, nil
}

// Validate checks a rule table for structural problems. A rule whose file
// is one of reserved, such as the merged config itself, is rejected.
func Validate(rules []Rule, reserved ...string) error {
	names := make(map[string]struct{}, len(rules))
	files := make(map[string]struct{}, len(rules))
	taken := make(map[string]struct{}, len(reserved))
	for _, name := range reserved {
		taken[filepath.Clean(name)] = struct{}{}
	}

	for i, r := range rules {
		if r.Name == "" {
			return fmt.Errorf("%w: output %d has no name", ErrInvalidRule, i)
		}
		if _, dup := names[r.Name]; dup {
			return fmt.Errorf("%w: duplicate output name %q", ErrInvalidRule, r.Name)
		}
		names[r.Name] = struct{}{}

		if r.File == "" || !filepath.IsLocal(r.File) {
			return fmt.Errorf("%w: output %q file %q must be a relative path inside the output directory", ErrInvalidRule, r.Name, r.File)
		}
		clean := filepath.Clean(r.File)
		if _, ok := taken[clean]; ok {
			return fmt.Errorf("%w: output %q would overwrite reserved file %q", ErrInvalidRule, r.Name, r.File)
		}
		if _, dup := files[clean]; dup {
			return fmt.Errorf("%w: output %q reuses file %q", ErrInvalidRule, r.Name, r.File)
		}
		files[clean] = struct{}{}

		if err := validateShape(r); err != nil {
			return fmt.Errorf("%w: output %q: %v", ErrInvalidRule, r.Name, err)
		}
	}
	return nil
}

func validateShape(r Rule) error {
	switch r.Format {
	case FormatEnv, FormatShell:
		if r.Source == "" && len(r.Vars) == 0 {
			return errors.New("needs a source or vars")
		}
		for _, v := range r.Vars {
			if !envNamePattern.MatchString(v.Name) {
				return fmt.Errorf("invalid variable name %q", v.Name)
			}
			if v.Path == "" {
				return fmt.Errorf("variable %q has no path", v.Name)
			}
		}
	case FormatYAML, FormatJSON, FormatTOML:
		if r.Source == "" {
			return fmt.Errorf("format %s needs a source", r.Format)
		}
		if len(r.Vars) > 0 || r.Prefix != "" {
			return fmt.Errorf("format %s does not take vars or prefix", r.Format)
		}
	default:
		return fmt.Errorf("unknown format %q", r.Format)
	}
	return nil
}
