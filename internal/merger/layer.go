package merger

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/retina-node/config-merger/internal/tree"
)

var errMultipleDocuments = errors.New("file holds more than one YAML document")

// ReadLayer reads and parses a layer file. A missing file is reported with
// present == false and no error; the caller decides whether that is fatal.
func ReadLayer(name LayerName, path string) (root *yaml.Node, present bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, newError(ErrRead, string(name), path, err)
	}

	root, err = ParseLayer(data)
	if err != nil {
		return nil, true, newError(ErrParse, string(name), path, err)
	}
	return root, true, nil
}

// ParseLayer parses a single YAML document whose top level is a mapping.
// Empty documents, comment-only documents and explicit nulls yield an empty
// mapping.
func ParseLayer(data []byte) (*yaml.Node, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))

	var doc yaml.Node
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return tree.NewMapping(), nil
		}
		return nil, err
	}

	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err != nil {
			return nil, err
		}
		return nil, errMultipleDocuments
	}

	root, err := tree.Normalize(&doc)
	if err != nil {
		return nil, err
	}
	if tree.IsNull(root) {
		return tree.NewMapping(), nil
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("top level must be a mapping, got %s", tree.KindName(root))
	}
	return root, nil
}
