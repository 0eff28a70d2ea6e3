// Package nodeid derives a radar node's identity from its board serial number
// and records it in the operator's user layer.
//
// Only Raspberry Pi boards are recognised. The node id is "ret" followed by
// the last eight hex digits of the serial reported in /proc/cpuinfo, so a
// board swap shows up as a changed id.
package nodeid

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/retina-node/config-merger/internal/merger"
	"github.com/retina-node/config-merger/internal/storage"
	"github.com/retina-node/config-merger/internal/tree"
)

const (
	// Prefix is prepended to the serial suffix to form the node id.
	Prefix = "ret"
	// Path is where the node id lives in the configuration.
	Path = "network.node_id"

	serialDigits = 8
	zeroSerial   = "0000000000000000"
)

var (
	// ErrNotRaspberryPi is returned when cpuinfo does not describe a Pi board.
	ErrNotRaspberryPi = errors.New("not running on Raspberry Pi hardware")
	// ErrNoSerial is returned when a Pi reports no usable serial number.
	ErrNoSerial = errors.New("no usable board serial")
)

// Probe reads <procRoot>/cpuinfo and returns the node id for this board.
func Probe(procRoot string) (string, error) {
	file, err := os.Open(filepath.Join(procRoot, "cpuinfo"))
	if err != nil {
		return "", fmt.Errorf("read cpuinfo: %w", err)
	}
	defer file.Close()

	return fromCPUInfo(file)
}

func fromCPUInfo(r io.Reader) (string, error) {
	var (
		isPi   bool
		serial string
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "Raspberry Pi") || strings.Contains(line, "BCM") {
			isPi = true
		}
		if strings.HasPrefix(line, "Serial") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				serial = strings.TrimSpace(parts[1])
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan cpuinfo: %w", err)
	}

	if !isPi {
		return "", ErrNotRaspberryPi
	}
	if len(serial) < serialDigits || serial == zeroSerial {
		return "", ErrNoSerial
	}
	return Prefix + serial[len(serial)-serialDigits:], nil
}

// Change reports what Ensure did to the user layer.
type Change struct {
	Previous string
	Updated  bool
}

// Ensure records nodeID under network.node_id in the user layer at path,
// rewriting the file atomically only when the value differs. Other content
// and comments in the file are preserved. A missing file is created. A file
// that is not a single valid mapping document is never rewritten.
func Ensure(path, nodeID string) (Change, error) {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Change{}, fmt.Errorf("read user layer: %w", err)
	}

	// A layer the merge would reject is left for the merge to report.
	if _, err := merger.ParseLayer(data); err != nil {
		return Change{}, fmt.Errorf("parse user layer %s: %w", path, err)
	}

	doc, root, err := parseDocument(data)
	if err != nil {
		return Change{}, fmt.Errorf("parse user layer %s: %w", path, err)
	}

	var change Change
	if current, ok := tree.Lookup(root, Path); ok && current.Kind == yaml.ScalarNode {
		change.Previous = current.Value
		if current.Value == nodeID {
			return change, nil
		}
	}

	if err := tree.SetString(root, Path, nodeID); err != nil {
		return Change{}, err
	}

	out, err := tree.Encode(doc)
	if err != nil {
		return Change{}, err
	}
	if err := storage.WriteFileAtomic(path, out, storage.FileMode); err != nil {
		return Change{}, fmt.Errorf("write user layer: %w", err)
	}

	change.Updated = true
	return change, nil
}

// parseDocument keeps the document node so that comments and anchors
// survive the rewrite.
func parseDocument(data []byte) (doc, root *yaml.Node, err error) {
	doc = &yaml.Node{}
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, err
	}

	if doc.Kind != yaml.DocumentNode {
		doc = &yaml.Node{Kind: yaml.DocumentNode}
	}
	if len(doc.Content) == 0 || tree.IsNull(doc.Content[0]) {
		doc.Content = []*yaml.Node{tree.NewMapping()}
	}

	root = doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, nil, fmt.Errorf("top level must be a mapping, got %s", tree.KindName(root))
	}
	return doc, root, nil
}
