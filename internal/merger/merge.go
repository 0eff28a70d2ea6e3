package merger

import (
	"gopkg.in/yaml.v3"

	"github.com/retina-node/config-merger/internal/tree"
)

// Overlay applies overlay on top of base and returns the result as a new
// tree; neither input is modified.
//
// Where both sides hold a mapping the keys merge recursively. Anything else
// present in overlay (scalar, sequence, null, or a mapping over a
// non-mapping) replaces the base value at that path. Keys only in base keep
// their position, keys only in overlay are appended in overlay order.
func Overlay(base, overlay *yaml.Node) *yaml.Node {
	if overlay == nil {
		return tree.Clone(base)
	}
	if base == nil || base.Kind != yaml.MappingNode || overlay.Kind != yaml.MappingNode {
		return tree.Clone(overlay)
	}

	merged := make([]*yaml.Node, len(base.Content))
	var extra []*yaml.Node
	for i := 0; i+1 < len(overlay.Content); i += 2 {
		key, value := overlay.Content[i], overlay.Content[i+1]
		baseValue, idx := tree.GetKey(base, key)
		if idx < 0 {
			extra = append(extra, tree.Clone(key), tree.Clone(value))
			continue
		}
		merged[idx+1] = Overlay(baseValue, value)
	}

	out := *base
	out.Content = make([]*yaml.Node, 0, len(base.Content)+len(extra))
	for i := 0; i+1 < len(base.Content); i += 2 {
		value := merged[i+1]
		if value == nil {
			value = tree.Clone(base.Content[i+1])
		}
		out.Content = append(out.Content, tree.Clone(base.Content[i]), value)
	}
	out.Content = append(out.Content, extra...)
	return &out
}

// MergeLayers overlays layers in order, lowest precedence first. Nil layers
// are skipped.
func MergeLayers(layers ...*yaml.Node) *yaml.Node {
	var result *yaml.Node
	for _, layer := range layers {
		if layer == nil {
			continue
		}
		if result == nil {
			result = tree.Clone(layer)
			continue
		}
		result = Overlay(result, layer)
	}
	if result == nil {
		return tree.NewMapping()
	}
	return result
}
