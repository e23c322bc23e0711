// Package ingest streams documents from a directory into the indexing
// pipeline. Plain text and markdown are supported; a form feed inside a
// file marks page boundaries of a paginated extraction.
package ingest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"ragqa/internal/domain"
)

// Document is one unit of ingested text. Paginated sources yield one
// Document per page, sharing the DocID with Page set 1-based.
type Document struct {
	Path  string
	DocID string
	Kind  domain.SourceKind
	Page  *int
	Text  string
}

// Walk reads every supported file under root in sorted path order and
// returns the document stream. The doc id is the file name without its
// extension and is stable across rebuilds.
func Walk(root string) ([]Document, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("docs directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("docs directory: %s is not a directory", root)
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if kindForPath(path) == domain.SourceUnknown {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var docs []Document
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		text := string(data)
		docID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		kind := kindForPath(path)

		if strings.Contains(text, "\f") {
			for i, pageText := range strings.Split(text, "\f") {
				page := i + 1
				docs = append(docs, Document{Path: path, DocID: docID, Kind: kind, Page: &page, Text: pageText})
			}
			continue
		}
		docs = append(docs, Document{Path: path, DocID: docID, Kind: kind, Text: text})
	}
	return docs, nil
}

func kindForPath(path string) domain.SourceKind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		return domain.SourceTXT
	case ".md":
		return domain.SourceMD
	default:
		return domain.SourceUnknown
	}
}
