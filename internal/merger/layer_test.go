package merger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParseLayerEmptyForms(t *testing.T) {
	t.Parallel()

	for name, src := range map[string]string{
		"empty file":    "",
		"comments only": "# nothing configured yet\n",
		"empty mapping": "{}\n",
		"explicit null": "~\n",
	} {
		t.Run(name, func(t *testing.T) {
			root, err := ParseLayer([]byte(src))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := mustEncode(t, root); got != "{}\n" {
				t.Fatalf("expected empty mapping, got %q", got)
			}
		})
	}
}

func TestParseLayerRejectsInvalidDocuments(t *testing.T) {
	t.Parallel()

	for name, src := range map[string]string{
		"syntax error":       "a: [1, 2\n",
		"top level sequence": "- a\n- b\n",
		"top level scalar":   "just text\n",
		"multiple documents": "a: 1\n---\nb: 2\n",
		"bad indentation":    "a:\n  b: 1\n c: 2\n",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseLayer([]byte(src)); err == nil {
				t.Fatalf("expected error for %q", src)
			}
		})
	}
}

func TestReadLayer(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		root, present, err := ReadLayer(User, filepath.Join(dir, "user.yml"))
		if err != nil || present || root != nil {
			t.Fatalf("expected absent layer, got root=%v present=%v err=%v", root, present, err)
		}
	})

	t.Run("parse error names the file", func(t *testing.T) {
		path := filepath.Join(dir, "forced.yml")
		writeFile(t, path, "a: [\n")

		_, present, err := ReadLayer(Forced, path)
		if !present {
			t.Fatalf("expected layer to be reported present")
		}
		if !errors.Is(err, ErrParse) {
			t.Fatalf("expected ErrParse, got %v", err)
		}
		var mergeErr *Error
		if !errors.As(err, &mergeErr) || mergeErr.Path != path || mergeErr.Subject != "forced" {
			t.Fatalf("expected error naming %s, got %v", path, err)
		}
	})

	t.Run("unreadable path", func(t *testing.T) {
		path := filepath.Join(dir, "as-dir.yml")
		if err := os.Mkdir(path, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}

		if _, _, err := ReadLayer(Default, path); !errors.Is(err, ErrRead) {
			t.Fatalf("expected ErrRead, got %v", err)
		}
	})
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
