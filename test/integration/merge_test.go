package integration

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/retina-node/config-merger/internal/application"
	"github.com/retina-node/config-merger/internal/config"
)

const (
	defaultLayer = `radar:
  sample_rate: 2000000
  center_freq: 204640000
network:
  node_id: unset
  ip: 0.0.0.0
`
	forcedLayer = "radar:\n  sample_rate: 2000000\n"
	rulesTable  = `{
  // consumed by docker compose
  "outputs": [
    {"name": "node", "file": "node.env", "format": "env",
     "vars": [{"name": "NODE_ID", "path": "network.node_id"}]},
    {"name": "radar", "file": "radar.env", "format": "shell", "source": "radar", "prefix": "RADAR_"},
  ],
}`
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func runOnce(t *testing.T) {
	t.Helper()

	cfg, err := config.Load(nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	app, err := application.New(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("init application: %v", err)
	}
	if _, err := app.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestIntegrationFlow(t *testing.T) {
	root := t.TempDir()
	configDir := filepath.Join(root, "defaults")
	userPath := filepath.Join(root, "data", "user.yml")
	outputDir := filepath.Join(root, "config")

	writeFile(t, filepath.Join(configDir, "default.yml"), defaultLayer)
	writeFile(t, filepath.Join(configDir, "forced.yml"), forcedLayer)
	writeFile(t, filepath.Join(configDir, "outputs.jsonc"), rulesTable)

	t.Setenv("CONFIG_MERGER_CONFIG_DIR", configDir)
	t.Setenv("CONFIG_MERGER_USER_CONFIG", userPath)
	t.Setenv("CONFIG_MERGER_OUTPUT_DIR", outputDir)
	t.Setenv("CONFIG_MERGER_RULES", filepath.Join(configDir, "outputs.jsonc"))
	t.Setenv("CONFIG_MERGER_HARDWARE_NODE_ID", "false")

	// First boot seeds the user layer from the defaults.
	runOnce(t)
	if got := readFile(t, userPath); got != defaultLayer {
		t.Fatalf("expected seeded user layer, got:\n%s", got)
	}
	if got := readFile(t, filepath.Join(outputDir, "node.env")); got != "NODE_ID=unset\n" {
		t.Fatalf("unexpected node.env %q", got)
	}

	// The operator edits the user layer; the forced layer still wins.
	writeFile(t, userPath, "radar:\n  sample_rate: 1000000\n  gain: 40\nnetwork:\n  node_id: ret0042\n")
	runOnce(t)

	want := `radar:
  sample_rate: 2000000
  center_freq: 204640000
  gain: 40
network:
  node_id: ret0042
  ip: 0.0.0.0
`
	if got := readFile(t, filepath.Join(outputDir, "config.yml")); got != want {
		t.Fatalf("unexpected merged config:\n%s\nwant:\n%s", got, want)
	}
	if got := readFile(t, filepath.Join(outputDir, "node.env")); got != "NODE_ID=ret0042\n" {
		t.Fatalf("unexpected node.env %q", got)
	}
	wantRadar := "RADAR_SAMPLE_RATE=2000000\nRADAR_CENTER_FREQ=204640000\nRADAR_GAIN=40\n"
	if got := readFile(t, filepath.Join(outputDir, "radar.env")); got != wantRadar {
		t.Fatalf("unexpected radar.env:\n%s\nwant:\n%s", got, wantRadar)
	}

	// Re-running with unchanged inputs reproduces identical outputs.
	before := readFile(t, filepath.Join(outputDir, "config.yml"))
	runOnce(t)
	if after := readFile(t, filepath.Join(outputDir, "config.yml")); after != before {
		t.Fatalf("merge is not deterministic:\n%s\nvs\n%s", before, after)
	}
}
