package derive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/retina-node/config-merger/internal/tree"
)

var (
	// ErrMissingPath is returned when a rule references a path absent from the merged config.
	ErrMissingPath = errors.New("path not found in merged config")
	// ErrUnsupportedValue is returned when a value has no representation in the target format.
	ErrUnsupportedValue = errors.New("value cannot be rendered")
)

// Output is a rendered derived output ready to be written.
type Output struct {
	Rule Rule
	Data []byte
}

// Render projects the merged config through rule. Errors wrap ErrMissingPath
// when a referenced path is absent.
func Render(rule Rule, root *yaml.Node) ([]byte, error) {
	var source *yaml.Node
	if rule.Source != "" {
		n, ok := tree.Lookup(root, rule.Source)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingPath, rule.Source)
		}
		source = n
	}

	switch rule.Format {
	case FormatEnv:
		return renderEnv(rule, root, source, rawValue)
	case FormatShell:
		return renderEnv(rule, root, source, shellValue)
	case FormatYAML:
		return tree.Encode(source)
	case FormatJSON:
		return renderJSON(source)
	case FormatTOML:
		return renderTOML(source)
	}
	return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidRule, rule.Format)
}

// RenderAll renders every rule in order. Optional rules whose paths are
// missing are skipped. The returned error names the failing rule.
func RenderAll(rules []Rule, root *yaml.Node) ([]Output, error) {
	outputs := make([]Output, 0, len(rules))
	for _, rule := range rules {
		data, err := Render(rule, root)
		if err != nil {
			if rule.Optional && errors.Is(err, ErrMissingPath) {
				continue
			}
			return outputs, &RuleError{Rule: rule, Err: err}
		}
		outputs = append(outputs, Output{Rule: rule, Data: data})
	}
	return outputs, nil
}

// RuleError ties a rendering failure to the rule that produced it.
type RuleError struct {
	Rule Rule
	Err  error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("output %q (%s): %v", e.Rule.Name, e.Rule.File, e.Err)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

func renderJSON(source *yaml.Node) ([]byte, error) {
	v, err := tree.Value(source)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
	}
	return append(data, '\n'), nil
}

func renderTOML(source *yaml.Node) ([]byte, error) {
	if source.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: toml output needs a mapping, got %s", ErrUnsupportedValue, tree.KindName(source))
	}
	v, err := tree.Value(source)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
	}
	return buf.Bytes(), nil
}
