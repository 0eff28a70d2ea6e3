package derive

import (
	"fmt"
	"strings"

	shellquote "github.com/kballard/go-shellquote"
	"gopkg.in/yaml.v3"

	"github.com/retina-node/config-merger/internal/tree"
)

type envVar struct {
	name  string
	value string
}

type quoteFunc func(string) (string, error)

// rawValue writes values verbatim, as docker env-files expect.
func rawValue(v string) (string, error) {
	if strings.ContainsAny(v, "\r\n") {
		return "", fmt.Errorf("%w: env values cannot span lines", ErrUnsupportedValue)
	}
	return v, nil
}

func shellValue(v string) (string, error) {
	return shellquote.Join(v), nil
}

func renderEnv(rule Rule, root, source *yaml.Node, quote quoteFunc) ([]byte, error) {
	var vars []envVar

	if source != nil {
		if source.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("%w: source %s is a %s, not a mapping", ErrUnsupportedValue, rule.Source, tree.KindName(source))
		}
		flat, err := flatten(nil, source)
		if err != nil {
			return nil, err
		}
		for _, v := range flat {
			v.name = envName(rule.Prefix + v.name)
			if v.name == "" {
				return nil, fmt.Errorf("%w: empty key in source %s yields no variable name", ErrUnsupportedValue, rule.Source)
			}
			vars = append(vars, v)
		}
	}

	for _, v := range rule.Vars {
		n, ok := tree.Lookup(root, v.Path)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingPath, v.Path)
		}
		value, err := scalarString(n)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", v.Path, err)
		}
		vars = append(vars, envVar{name: v.Name, value: value})
	}

	seen := make(map[string]struct{}, len(vars))
	var buf strings.Builder
	for _, v := range vars {
		if _, dup := seen[v.name]; dup {
			return nil, fmt.Errorf("%w: variable %s defined twice", ErrUnsupportedValue, v.name)
		}
		seen[v.name] = struct{}{}

		quoted, err := quote(v.value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", v.name, err)
		}
		buf.WriteString(v.name)
		buf.WriteByte('=')
		buf.WriteString(quoted)
		buf.WriteByte('\n')
	}
	return []byte(buf.String()), nil
}

// flatten walks a mapping depth first, joining nested keys with "_".
func flatten(parents []string, m *yaml.Node) ([]envVar, error) {
	var out []envVar
	for i := 0; i+1 < len(m.Content); i += 2 {
		key, value := m.Content[i], m.Content[i+1]
		path := append(append([]string(nil), parents...), key.Value)

		if value.Kind == yaml.MappingNode {
			nested, err := flatten(path, value)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
			continue
		}

		s, err := scalarString(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", strings.Join(path, "."), err)
		}
		out = append(out, envVar{name: strings.Join(path, "_"), value: s})
	}
	return out, nil
}

// scalarString renders a scalar, or a sequence of scalars joined by commas.
// Null renders as the empty string.
func scalarString(n *yaml.Node) (string, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		if tree.IsNull(n) {
			return "", nil
		}
		return n.Value, nil
	case yaml.SequenceNode:
		parts := make([]string, 0, len(n.Content))
		for _, item := range n.Content {
			if item.Kind != yaml.ScalarNode {
				return "", fmt.Errorf("%w: sequence items must be scalars, got %s", ErrUnsupportedValue, tree.KindName(item))
			}
			s, _ := scalarString(item)
			parts = append(parts, s)
		}
		return strings.Join(parts, ","), nil
	}
	return "", fmt.Errorf("%w: %s is not a scalar", ErrUnsupportedValue, tree.KindName(n))
}

// envName upper-cases s and replaces characters that are not valid in an
// environment variable name.
func envName(s string) string {
	var b strings.Builder
	for i, r := range strings.ToUpper(s) {
		switch {
		case r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
