package index

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/protokoll-ai/protokoll/internal/log"
)

// Loader reads documents from the filesystem. Directory walks filter
// by extension and size; a file named explicitly bypasses the
// extension filter but still has to be non-empty UTF-8 under the size
// cap.
type Loader struct {
	extensions map[string]bool
	maxBytes   int64
	logger     log.Logger
}

// NewLoader creates a Loader accepting the given extensions (with or
// without the leading dot, case-insensitive) up to maxBytes per file.
func NewLoader(extensions []string, maxBytes int64, logger log.Logger) (*Loader, error) {
	if maxBytes < 1 {
		return nil, fmt.Errorf("max file size must be positive, got %d", maxBytes)
	}
	if logger == nil {
		logger = log.NewNop()
	}

	exts := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		e := strings.ToLower(strings.TrimSpace(ext))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}
	if len(exts) == 0 {
		return nil, errors.New("at least one file extension is required")
	}

	return &Loader{extensions: exts, maxBytes: maxBytes, logger: logger}, nil
}

// LoadPath loads documents from path: directly for a regular file,
// recursively for a directory. Source keys derive from path as given,
// so index from a stable working directory to keep them consistent
// across runs.
func (l *Loader) LoadPath(path string) ([]Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("inspecting %s: %w", path, err)
	}
	if info.IsDir() {
		return l.loadDir(path)
	}
	doc, err := l.loadFile(path, info)
	if err != nil {
		return nil, err
	}
	return []Document{doc}, nil
}

// loadDir walks dir and loads every eligible file. Unreadable or
// unsuitable files are logged and skipped; the walk itself only fails
// when the directory cannot be opened at all. Hidden files and
// directories (.git, .cache, ...) are not descended into.
func (l *Loader) loadDir(dir string) ([]Document, error) {
	// os.OpenRoot confines the walk: symlinks inside dir cannot drag
	// the loader outside of it.
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", dir, err)
	}
	defer root.Close()

	var docs []Document
	err = fs.WalkDir(root.FS(), ".", func(rel string, d fs.DirEntry, err error) error {
		if err != nil {
			l.logger.Warn("skipping unreadable path", "path", rel, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if rel != "." && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if !l.extensions[strings.ToLower(filepath.Ext(d.Name()))] {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			l.logger.Warn("skipping file without metadata", "path", rel, "error", err)
			return nil
		}
		if info.Size() == 0 {
			l.logger.Debug("skipping empty file", "path", rel)
			return nil
		}
		if info.Size() > l.maxBytes {
			l.logger.Warn("skipping file over size limit",
				"path", rel,
				"size", info.Size(),
				"limit", l.maxBytes)
			return nil
		}

		content, err := root.ReadFile(rel)
		if err != nil {
			l.logger.Warn("skipping unreadable file", "path", rel, "error", err)
			return nil
		}
		if !utf8.Valid(content) {
			l.logger.Warn("skipping non-text file", "path", rel)
			return nil
		}

		docs = append(docs, l.document(filepath.Join(dir, filepath.FromSlash(rel)), info, content))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", dir, err)
	}

	l.logger.Info("directory scanned", "dir", dir, "documents", len(docs))
	return docs, nil
}

// loadFile loads one explicitly named file. Unlike the directory walk
// it returns errors instead of skipping: the caller asked for exactly
// this file.
func (l *Loader) loadFile(path string, info fs.FileInfo) (Document, error) {
	if info.Size() == 0 {
		return Document{}, fmt.Errorf("%s is empty", path)
	}
	if info.Size() > l.maxBytes {
		return Document{}, fmt.Errorf("%s is %d bytes, over the %d byte limit", path, info.Size(), l.maxBytes)
	}

	content, err := os.ReadFile(path) // #nosec G304 -- path comes from the operator's own CLI arguments
	if err != nil {
		return Document{}, fmt.Errorf("reading %s: %w", path, err)
	}
	if !utf8.Valid(content) {
		return Document{}, fmt.Errorf("%s is not valid UTF-8 text", path)
	}

	return l.document(path, info, content), nil
}

func (l *Loader) document(path string, info fs.FileInfo, content []byte) Document {
	return Document{
		SourceKey: filepath.ToSlash(filepath.Clean(path)),
		Text:      string(content),
		Metadata: map[string]string{
			"file_name": info.Name(),
			"file_ext":  strings.ToLower(filepath.Ext(info.Name())),
			"file_size": strconv.FormatInt(info.Size(), 10),
		},
	}
}
