package merger

import (
	"errors"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/retina-node/config-merger/internal/derive"
	"github.com/retina-node/config-merger/internal/storage"
	"github.com/retina-node/config-merger/internal/tree"
)

// Hook runs after the default layer loaded and before the overlays are read.
type Hook func(base *yaml.Node) error

// Merger merges the configuration layers and renders the derived outputs.
type Merger struct {
	layout     Layout
	rules      []derive.Rule
	outputName string
	logger     *zap.Logger
}

// New creates a Merger. outputName is the file name of the merged document
// inside the output directory.
func New(layout Layout, rules []derive.Rule, outputName string, logger *zap.Logger) *Merger {
	return &Merger{
		layout:     layout,
		rules:      rules,
		outputName: outputName,
		logger:     logger,
	}
}

// Layout returns the layer file locations.
func (m *Merger) Layout() Layout {
	return m.layout
}

// Load reads one layer. Absent optional layers yield an empty mapping; an
// absent or empty default layer is ErrMissingRequiredLayer.
func (m *Merger) Load(name LayerName) (*yaml.Node, error) {
	path := m.layout.Path(name)
	root, present, err := ReadLayer(name, path)
	if err != nil {
		return nil, err
	}

	if !present {
		if name == Default {
			return nil, newError(ErrMissingRequiredLayer, string(name), path, nil)
		}
		m.logger.Info("layer not present, treating as empty", zap.String("layer", string(name)), zap.String("path", path))
		return tree.NewMapping(), nil
	}

	if name == Default && tree.IsEmpty(root) {
		return nil, newError(ErrMissingRequiredLayer, string(name), path, errors.New("layer defines no configuration"))
	}

	m.logger.Info("loaded layer",
		zap.String("layer", string(name)),
		zap.String("path", path),
		zap.Int("keys", len(root.Content)/2),
	)
	return root, nil
}

// Merge reads every layer in precedence order and overlays them. Hooks run
// between loading the default layer and loading the overlays.
func (m *Merger) Merge(hooks ...Hook) (*yaml.Node, error) {
	base, err := m.Load(Default)
	if err != nil {
		return nil, err
	}

	for _, hook := range hooks {
		if err := hook(base); err != nil {
			return nil, err
		}
	}

	layers := []*yaml.Node{base}
	for _, name := range Precedence[1:] {
		layer, err := m.Load(name)
		if err != nil {
			return nil, err
		}
		layers = append(layers, layer)
	}

	return MergeLayers(layers...), nil
}

// Render encodes the merged document and every derived output. Nothing is
// written.
func (m *Merger) Render(merged *yaml.Node) (*Result, error) {
	config, err := tree.Encode(merged)
	if err != nil {
		return nil, newError(ErrWrite, m.outputName, "", err)
	}

	outputs, err := derive.RenderAll(m.rules, merged)
	if err != nil {
		var ruleErr *derive.RuleError
		if errors.As(err, &ruleErr) {
			return nil, newError(ErrDerivedOutput, ruleErr.Rule.Name, ruleErr.Rule.File, ruleErr.Err)
		}
		return nil, newError(ErrDerivedOutput, "", "", err)
	}

	return &Result{
		Merged:  merged,
		Config:  config,
		Outputs: outputs,
	}, nil
}

// Run merges the layers and renders all outputs.
func (m *Merger) Run(hooks ...Hook) (*Result, error) {
	merged, err := m.Merge(hooks...)
	if err != nil {
		return nil, err
	}
	return m.Render(merged)
}

// Write persists the merged document and then each derived output.
func (m *Merger) Write(store storage.Store, result *Result) error {
	if err := m.write(store, m.outputName, result.Config); err != nil {
		return newError(ErrWrite, m.outputName, m.outputName, err)
	}
	for _, out := range result.Outputs {
		if err := m.write(store, out.Rule.File, out.Data); err != nil {
			return newError(ErrWrite, out.Rule.Name, out.Rule.File, err)
		}
	}
	return nil
}

func (m *Merger) write(store storage.Store, name string, data []byte) error {
	path, err := store.Write(name, data)
	if err != nil {
		return err
	}
	m.logger.Info("wrote output",
		zap.String("path", path),
		zap.Int("bytes", len(data)),
		zap.String("blake3", storage.Digest(data)),
	)
	return nil
}
