package merger

import (
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/retina-node/config-merger/internal/derive"
)

// LayerName identifies one of the configuration layers.
type LayerName string

const (
	Default LayerName = "default"
	User    LayerName = "user"
	Forced  LayerName = "forced"
)

// Precedence lists the layers from lowest to highest priority.
var Precedence = []LayerName{Default, User, Forced}

const layerExt = ".yml"

// Layout locates the layer files on disk.
type Layout struct {
	Default string
	User    string
	Forced  string
}

// NewLayout returns the layout for a configuration directory. An empty
// userPath places the user layer inside configDir.
func NewLayout(configDir, userPath string) Layout {
	if userPath == "" {
		userPath = filepath.Join(configDir, string(User)+layerExt)
	}
	return Layout{
		Default: filepath.Join(configDir, string(Default)+layerExt),
		User:    userPath,
		Forced:  filepath.Join(configDir, string(Forced)+layerExt),
	}
}

// Path returns the file backing the named layer.
func (l Layout) Path(name LayerName) string {
	switch name {
	case Default:
		return l.Default
	case User:
		return l.User
	case Forced:
		return l.Forced
	}
	return ""
}

// Result is the output of a merge run, fully rendered but not yet written.
type Result struct {
	Merged  *yaml.Node
	Config  []byte
	Outputs []derive.Output
}
