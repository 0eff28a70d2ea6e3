package nodeid

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const piCPUInfo = `processor	: 0
BogoMIPS	: 108.00
Features	: fp asimd evtstrm crc32 cpuid
CPU implementer	: 0x41

Hardware	: BCM2835
Revision	: d04170
Serial		: 10000000a1b2c3d4
Model		: Raspberry Pi 5 Model B Rev 1.0
`

func writeSyntheticFile(t *testing.T, root, relative, content string) {
	t.Helper()

	path := filepath.Join(root, relative)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestProbe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cpuinfo string
		want    string
		wantErr error
	}{
		{name: "raspberry pi", cpuinfo: piCPUInfo, want: "reta1b2c3d4"},
		{
			name:    "x86 host",
			cpuinfo: "processor\t: 0\nmodel name\t: AMD EPYC 7763 64-Core Processor\n",
			wantErr: ErrNotRaspberryPi,
		},
		{
			name:    "zero serial",
			cpuinfo: "Hardware\t: BCM2835\nSerial\t\t: 0000000000000000\n",
			wantErr: ErrNoSerial,
		},
		{
			name:    "short serial",
			cpuinfo: "Hardware\t: BCM2835\nSerial\t\t: abc\n",
			wantErr: ErrNoSerial,
		},
		{
			name:    "no serial line",
			cpuinfo: "Model\t\t: Raspberry Pi 4 Model B\n",
			wantErr: ErrNoSerial,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			root := t.TempDir()
			writeSyntheticFile(t, root, "cpuinfo", tc.cpuinfo)

			got, err := Probe(root)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected node id %s, got %s", tc.want, got)
			}
		})
	}
}

func TestProbeMissingCPUInfo(t *testing.T) {
	t.Parallel()

	if _, err := Probe(t.TempDir()); err == nil {
		t.Fatalf("expected error when cpuinfo is absent")
	}
}

func TestEnsure(t *testing.T) {
	t.Parallel()

	t.Run("adds node id and keeps operator content", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "user.yml")
		writeSyntheticFile(t, dir, "user.yml", "# tuned on site\nprocess:\n  pfa: 0.0001\n")

		change, err := Ensure(path, "reta1b2c3d4")
		if err != nil {
			t.Fatalf("Ensure returned error: %v", err)
		}
		if !change.Updated || change.Previous != "" {
			t.Fatalf("unexpected change %+v", change)
		}

		got := readFile(t, path)
		for _, want := range []string{"# tuned on site", "pfa: 0.0001", "node_id: reta1b2c3d4"} {
			if !strings.Contains(got, want) {
				t.Fatalf("expected %q in user layer:\n%s", want, got)
			}
		}
	})

	t.Run("leaves matching id untouched", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "user.yml")
		original := "network:\n    node_id: reta1b2c3d4\n"
		writeSyntheticFile(t, dir, "user.yml", original)

		change, err := Ensure(path, "reta1b2c3d4")
		if err != nil {
			t.Fatalf("Ensure returned error: %v", err)
		}
		if change.Updated {
			t.Fatalf("expected no update")
		}
		if got := readFile(t, path); got != original {
			t.Fatalf("file rewritten although id matched:\n%s", got)
		}
	})

	t.Run("replaces id after board swap", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "user.yml")
		writeSyntheticFile(t, dir, "user.yml", "network:\n  node_id: ret00000001\n  ip: 10.0.0.5\n")

		change, err := Ensure(path, "reta1b2c3d4")
		if err != nil {
			t.Fatalf("Ensure returned error: %v", err)
		}
		if !change.Updated || change.Previous != "ret00000001" {
			t.Fatalf("unexpected change %+v", change)
		}
		if got := readFile(t, path); got != "network:\n  node_id: reta1b2c3d4\n  ip: 10.0.0.5\n" {
			t.Fatalf("unexpected user layer:\n%s", got)
		}
	})

	t.Run("creates missing user layer", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config", "user.yml")

		if _, err := Ensure(path, "reta1b2c3d4"); err != nil {
			t.Fatalf("Ensure returned error: %v", err)
		}
		if got := readFile(t, path); got != "network:\n  node_id: reta1b2c3d4\n" {
			t.Fatalf("unexpected user layer:\n%s", got)
		}
	})

	t.Run("keeps keys inherited through an alias", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "user.yml")
		writeSyntheticFile(t, dir, "user.yml", "base: &b\n  ip: 10.0.0.1\nnetwork: *b\n")

		if _, err := Ensure(path, "reta1b2c3d4"); err != nil {
			t.Fatalf("Ensure returned error: %v", err)
		}
		want := "base: &b\n  ip: 10.0.0.1\nnetwork:\n  ip: 10.0.0.1\n  node_id: reta1b2c3d4\n"
		if got := readFile(t, path); got != want {
			t.Fatalf("unexpected user layer:\n%s\nwant:\n%s", got, want)
		}
	})

	t.Run("refuses to rewrite invalid user layers", func(t *testing.T) {
		for _, original := range []string{
			"a: 1\n---\nb: 2\n",
			"a: 1\na: 2\n",
			"a: [\n",
		} {
			dir := t.TempDir()
			path := filepath.Join(dir, "user.yml")
			writeSyntheticFile(t, dir, "user.yml", original)

			if _, err := Ensure(path, "reta1b2c3d4"); err == nil {
				t.Fatalf("expected error for %q", original)
			}
			if got := readFile(t, path); got != original {
				t.Fatalf("user layer %q was rewritten to %q", original, got)
			}
		}
	})

	t.Run("rejects non-mapping user layer", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "user.yml")
		writeSyntheticFile(t, dir, "user.yml", "- a\n- b\n")

		if _, err := Ensure(path, "reta1b2c3d4"); err == nil {
			t.Fatalf("expected error for sequence user layer")
		}
	})
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}
