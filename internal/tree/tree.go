package tree

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	maxDepth = 256
	maxNodes = 1 << 20
	mergeTag = "!!merge"
)

var (
	// ErrDuplicateKey is returned when a mapping defines the same key twice.
	ErrDuplicateKey = errors.New("duplicate mapping key")
	// ErrComplexKey is returned for mapping keys that are not scalars.
	ErrComplexKey = errors.New("mapping keys must be scalars")
	// ErrTooLarge is returned when alias expansion exceeds the node budget.
	ErrTooLarge = errors.New("document too large after alias expansion")
)

// NewMapping returns an empty mapping node.
func NewMapping() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

// IsNull reports whether n is absent or an explicit null scalar.
func IsNull(n *yaml.Node) bool {
	if n == nil {
		return true
	}
	return n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null"
}

// IsEmpty reports whether n holds no configuration: nil, null or a mapping
// without keys.
func IsEmpty(n *yaml.Node) bool {
	if IsNull(n) {
		return true
	}
	return n.Kind == yaml.MappingNode && len(n.Content) == 0
}

// KindName returns a human readable name for the node kind.
func KindName(n *yaml.Node) string {
	if n == nil {
		return "nothing"
	}
	switch n.Kind {
	case yaml.DocumentNode:
		return "document"
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		if IsNull(n) {
			return "null"
		}
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	}
	return "unknown"
}

// Normalize turns a decoded document into a self-contained value tree. The
// document wrapper is removed, aliases are replaced by copies of their
// anchored values, << merge keys are applied and anchors are dropped. The
// input is not modified. A document without content yields nil.
func Normalize(doc *yaml.Node) (*yaml.Node, error) {
	if doc == nil {
		return nil, nil
	}
	root := doc
	if doc.Kind == yaml.DocumentNode {
		if len(doc.Content) == 0 {
			return nil, nil
		}
		root = doc.Content[0]
	}
	n := &normalizer{}
	out, err := n.expand(root, 0)
	if err != nil {
		return nil, err
	}
	if doc.Kind == yaml.DocumentNode && out.HeadComment == "" {
		out.HeadComment = doc.HeadComment
	}
	return out, nil
}

type normalizer struct {
	nodes int
}

func (n *normalizer) expand(node *yaml.Node, depth int) (*yaml.Node, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("nesting deeper than %d levels", maxDepth)
	}
	n.nodes++
	if n.nodes > maxNodes {
		return nil, ErrTooLarge
	}

	switch node.Kind {
	case yaml.AliasNode:
		if node.Alias == nil {
			return nil, fmt.Errorf("line %d: unresolved alias %q", node.Line, node.Value)
		}
		return n.expand(node.Alias, depth+1)
	case yaml.MappingNode:
		return n.expandMapping(node, depth)
	case yaml.SequenceNode:
		out := shallowCopy(node)
		out.Content = make([]*yaml.Node, 0, len(node.Content))
		for _, child := range node.Content {
			item, err := n.expand(child, depth+1)
			if err != nil {
				return nil, err
			}
			out.Content = append(out.Content, item)
		}
		return out, nil
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return nil, nil
		}
		return n.expand(node.Content[0], depth+1)
	default:
		return shallowCopy(node), nil
	}
}

func (n *normalizer) expandMapping(node *yaml.Node, depth int) (*yaml.Node, error) {
	explicit := make(map[string]struct{}, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i]
		if isMergeKey(key) {
			continue
		}
		if key.Kind == yaml.AliasNode && key.Alias != nil {
			key = key.Alias
		}
		if key.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: %w", key.Line, ErrComplexKey)
		}
		id := keyID(key)
		if _, dup := explicit[id]; dup {
			return nil, fmt.Errorf("line %d: %w %q", key.Line, ErrDuplicateKey, key.Value)
		}
		explicit[id] = struct{}{}
	}

	out := shallowCopy(node)
	out.Content = make([]*yaml.Node, 0, len(node.Content))
	inherited := make(map[string]struct{})

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if !isMergeKey(key) {
			k, err := n.expand(key, depth+1)
			if err != nil {
				return nil, err
			}
			v, err := n.expand(value, depth+1)
			if err != nil {
				return nil, err
			}
			out.Content = append(out.Content, k, v)
			continue
		}

		sources, err := n.mergeSources(value, depth+1)
		if err != nil {
			return nil, err
		}
		for _, src := range sources {
			for j := 0; j+1 < len(src.Content); j += 2 {
				k := keyID(src.Content[j])
				if _, ok := explicit[k]; ok {
					continue
				}
				if _, ok := inherited[k]; ok {
					continue
				}
				inherited[k] = struct{}{}
				out.Content = append(out.Content, src.Content[j], src.Content[j+1])
			}
		}
	}
	return out, nil
}

// mergeSources expands the value of a << key into the list of mappings it
// names, in priority order.
func (n *normalizer) mergeSources(value *yaml.Node, depth int) ([]*yaml.Node, error) {
	expanded, err := n.expand(value, depth)
	if err != nil {
		return nil, err
	}
	switch expanded.Kind {
	case yaml.MappingNode:
		return []*yaml.Node{expanded}, nil
	case yaml.SequenceNode:
		sources := make([]*yaml.Node, 0, len(expanded.Content))
		for _, item := range expanded.Content {
			if item.Kind != yaml.MappingNode {
				return nil, fmt.Errorf("line %d: merge key sequence must contain mappings, got %s", value.Line, KindName(item))
			}
			sources = append(sources, item)
		}
		return sources, nil
	}
	return nil, fmt.Errorf("line %d: merge key value must be a mapping, got %s", value.Line, KindName(expanded))
}

func isMergeKey(key *yaml.Node) bool {
	return key.Kind == yaml.ScalarNode && key.ShortTag() == mergeTag
}

func shallowCopy(node *yaml.Node) *yaml.Node {
	out := *node
	out.Anchor = ""
	out.Alias = nil
	return &out
}

// Clone returns a deep copy of n.
func Clone(n *yaml.Node) *yaml.Node {
	if n == nil {
		return nil
	}
	out := *n
	if n.Content != nil {
		out.Content = make([]*yaml.Node, len(n.Content))
		for i, child := range n.Content {
			out.Content[i] = Clone(child)
		}
	}
	return &out
}

// keyID identifies a scalar mapping key by its resolved tag and value, so
// that 1 and "1" are distinct keys.
func keyID(key *yaml.Node) string {
	return key.ShortTag() + ":" + key.Value
}

// Get returns the value stored under key in mapping m and the index of its
// key node, or nil and -1. Keys match on their text regardless of tag, which
// suits dotted paths. An alias to a mapping is looked through.
func Get(m *yaml.Node, key string) (*yaml.Node, int) {
	m = resolve(m)
	if m == nil || m.Kind != yaml.MappingNode {
		return nil, -1
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1], i
		}
	}
	return nil, -1
}

// GetKey is like Get but matches key by tag as well as value.
func GetKey(m, key *yaml.Node) (*yaml.Node, int) {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil, -1
	}
	id := keyID(key)
	for i := 0; i+1 < len(m.Content); i += 2 {
		if keyID(m.Content[i]) == id {
			return m.Content[i+1], i
		}
	}
	return nil, -1
}

func resolve(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}

// detach deep-copies n without anchors so the copy can be edited while
// aliases elsewhere keep pointing at the original.
func detach(n *yaml.Node) *yaml.Node {
	out := Clone(resolve(n))
	var strip func(*yaml.Node)
	strip = func(c *yaml.Node) {
		c.Anchor = ""
		for _, child := range c.Content {
			if child.Kind != yaml.AliasNode {
				strip(child)
			}
		}
	}
	strip(out)
	return out
}

// SplitPath splits a dotted key path into its segments.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// Lookup resolves a dotted key path such as "network.node_id". An empty path
// resolves to root.
func Lookup(root *yaml.Node, path string) (*yaml.Node, bool) {
	cur := root
	for _, segment := range SplitPath(path) {
		next, idx := Get(cur, segment)
		if idx < 0 {
			return nil, false
		}
		cur = next
	}
	cur = resolve(cur)
	return cur, cur != nil
}

// SetString stores value as a plain string scalar at path, creating
// intermediate mappings as needed. Non-mapping intermediates are replaced.
// An intermediate alias to a mapping is replaced by an editable copy of its
// target, keeping the inherited keys.
func SetString(root *yaml.Node, path, value string) error {
	segments := SplitPath(path)
	if len(segments) == 0 {
		return errors.New("empty path")
	}
	if root == nil || root.Kind != yaml.MappingNode {
		return fmt.Errorf("cannot set %q on %s", path, KindName(root))
	}

	cur := root
	for _, segment := range segments[:len(segments)-1] {
		next, idx := Get(cur, segment)
		switch {
		case idx < 0:
			next = NewMapping()
			cur.Content = append(cur.Content, stringNode(segment), next)
		case next.Kind == yaml.AliasNode && resolve(next) != nil && resolve(next).Kind == yaml.MappingNode:
			next = detach(next)
			cur.Content[idx+1] = next
		case next.Kind != yaml.MappingNode:
			next = NewMapping()
			cur.Content[idx+1] = next
		}
		cur = next
	}

	last := segments[len(segments)-1]
	if existing, idx := Get(cur, last); idx >= 0 {
		existing.Kind = yaml.ScalarNode
		existing.Tag = "!!str"
		existing.Value = value
		existing.Style = 0
		existing.Alias = nil
		existing.Content = nil
		return nil
	}
	cur.Content = append(cur.Content, stringNode(last), stringNode(value))
	return nil
}

func stringNode(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}

// Encode renders n as a YAML document with two-space indentation.
func Encode(n *yaml.Node) ([]byte, error) {
	if n == nil {
		n = NewMapping()
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(n); err != nil {
		return nil, fmt.Errorf("encode YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode YAML: %w", err)
	}
	return buf.Bytes(), nil
}

// Value decodes n into plain Go values (maps, slices, scalars).
func Value(n *yaml.Node) (any, error) {
	if n == nil {
		return nil, nil
	}
	var v any
	if err := n.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode node: %w", err)
	}
	return v, nil
}
