package crawler

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"rootcause/internal/knowledge"
)

// Crawler scans a directory for source files worth indexing.
type Crawler struct {
	extensions []string
	filenames  []string
	ignored    []string
	logger     *slog.Logger
}

// NewCrawler creates a new crawler instance. A file is kept when its name ends
// with one of extensions or equals one of filenames.
func NewCrawler(extensions, filenames []string, logger *slog.Logger) *Crawler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Crawler{
		extensions: extensions,
		filenames:  filenames,
		ignored:    []string{".git", "vendor", "node_modules", "target", "build"},
		logger:     logger,
	}
}

// ScanProject walks root in lexical order and streams one Document per matching file.
// SourcePath is relative to root and uses forward slashes.
func (c *Crawler) ScanProject(root string, onDoc func(knowledge.Document)) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("source root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source root %s is not a directory", root)
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		// Skip ignored directories
		if d.IsDir() {
			if path != root && slices.Contains(c.ignored, d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !c.matches(d.Name()) {
			return nil
		}

		content, err := readText(path)
		if err != nil {
			// Log and continue instead of failing the whole scan
			c.logger.Warn("skipping unreadable file", "path", path, "error", err)
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		onDoc(knowledge.Document{Content: content, SourcePath: filepath.ToSlash(rel)})
		return nil
	})
}

// Collect gathers every matching file under root.
func (c *Crawler) Collect(root string) ([]knowledge.Document, error) {
	var docs []knowledge.Document
	err := c.ScanProject(root, func(doc knowledge.Document) {
		docs = append(docs, doc)
	})
	if err != nil {
		return nil, err
	}
	c.logger.Debug("crawl finished", "root", root, "documents", len(docs))
	return docs, nil
}

func (c *Crawler) matches(name string) bool {
	if slices.Contains(c.filenames, name) {
		return true
	}
	for _, ext := range c.extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// readText returns the file as UTF-8, decoding it as Latin-1 when it is not valid UTF-8.
func readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if utf8.Valid(data) {
		return string(data), nil
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decode latin-1: %w", err)
	}
	return string(decoded), nil
}
