package index

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/protokoll-ai/protokoll/internal/log"
)

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("creating directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func newTestLoader(t *testing.T, maxBytes int64) *Loader {
	t.Helper()
	loader, err := NewLoader([]string{".md", "txt"}, maxBytes, log.NewNop())
	if err != nil {
		t.Fatalf("NewLoader() unexpected error: %v", err)
	}
	return loader
}

func TestLoadPath_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.md"), []byte("alpha notes"))
	writeFile(t, filepath.Join(dir, "b.txt"), []byte("bravo notes"))
	writeFile(t, filepath.Join(dir, "skip.pdf"), []byte("%PDF-1.4"))
	writeFile(t, filepath.Join(dir, ".hidden.md"), []byte("hidden file"))
	writeFile(t, filepath.Join(dir, "empty.md"), nil)
	writeFile(t, filepath.Join(dir, "huge.md"), []byte(strings.Repeat("x", 100)))
	writeFile(t, filepath.Join(dir, "binary.md"), []byte{0xff, 0xfe, 0x00, 0x01})
	writeFile(t, filepath.Join(dir, ".git", "ignored.md"), []byte("inside hidden dir"))
	writeFile(t, filepath.Join(dir, "sub", "nested.md"), []byte("nested notes"))

	loader := newTestLoader(t, 64)
	docs, err := loader.LoadPath(dir)
	if err != nil {
		t.Fatalf("LoadPath() unexpected error: %v", err)
	}

	byName := make(map[string]Document, len(docs))
	for _, d := range docs {
		byName[d.Metadata["file_name"]] = d
	}

	for _, name := range []string{"a.md", "b.txt", "nested.md"} {
		if _, ok := byName[name]; !ok {
			t.Errorf("LoadPath() missing %s", name)
		}
	}
	if len(docs) != 3 {
		t.Errorf("LoadPath() loaded %d documents, want 3: %v", len(docs), byName)
	}

	a := byName["a.md"]
	if a.Text != "alpha notes" {
		t.Errorf("a.md text = %q", a.Text)
	}
	if a.Metadata["file_ext"] != ".md" {
		t.Errorf("a.md file_ext = %q, want .md", a.Metadata["file_ext"])
	}
	if a.Metadata["file_size"] != "11" {
		t.Errorf("a.md file_size = %q, want 11", a.Metadata["file_size"])
	}

	wantKey := filepath.ToSlash(filepath.Join(dir, "sub", "nested.md"))
	if got := byName["nested.md"].SourceKey; got != wantKey {
		t.Errorf("nested.md source key = %q, want %q", got, wantKey)
	}
}

func TestLoadPath_ExplicitFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.rst") // extension outside the filter
	writeFile(t, path, []byte("restructured notes"))

	loader := newTestLoader(t, 64)
	docs, err := loader.LoadPath(path)
	if err != nil {
		t.Fatalf("LoadPath() unexpected error: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("LoadPath() loaded %d documents, want 1", len(docs))
	}
	if docs[0].Text != "restructured notes" {
		t.Errorf("document text = %q", docs[0].Text)
	}
}

func TestLoadPath_ExplicitFileErrors(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.md")
	writeFile(t, empty, nil)
	huge := filepath.Join(dir, "huge.md")
	writeFile(t, huge, []byte(strings.Repeat("x", 100)))
	binary := filepath.Join(dir, "binary.md")
	writeFile(t, binary, []byte{0xff, 0xfe})

	loader := newTestLoader(t, 64)
	tests := []struct {
		name string
		path string
	}{
		{name: "empty file", path: empty},
		{name: "oversized file", path: huge},
		{name: "binary file", path: binary},
		{name: "missing file", path: filepath.Join(dir, "nope.md")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := loader.LoadPath(tt.path); err == nil {
				t.Errorf("LoadPath(%s) expected error, got nil", tt.path)
			}
		})
	}
}

func TestLoadPath_SourceKeyStable(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.md"), []byte("alpha"))

	loader := newTestLoader(t, 64)

	plain, err := loader.LoadPath(filepath.Join(dir, "a.md"))
	if err != nil {
		t.Fatalf("LoadPath() unexpected error: %v", err)
	}
	// The same file through an uncleaned path must yield the same key,
	// otherwise re-indexing duplicates instead of replacing.
	dotted, err := loader.LoadPath(dir + string(os.PathSeparator) + "." + string(os.PathSeparator) + "a.md")
	if err != nil {
		t.Fatalf("LoadPath() unexpected error: %v", err)
	}
	if plain[0].SourceKey != dotted[0].SourceKey {
		t.Errorf("source keys differ for the same file: %q vs %q",
			plain[0].SourceKey, dotted[0].SourceKey)
	}
}

func TestNewLoader_Validation(t *testing.T) {
	if _, err := NewLoader(nil, 64, nil); err == nil {
		t.Error("NewLoader(no extensions) expected error, got nil")
	}
	if _, err := NewLoader([]string{"  "}, 64, nil); err == nil {
		t.Error("NewLoader(blank extensions) expected error, got nil")
	}
	if _, err := NewLoader([]string{".md"}, 0, nil); err == nil {
		t.Error("NewLoader(zero max size) expected error, got nil")
	}
}
