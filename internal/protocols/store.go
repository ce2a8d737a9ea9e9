// Package protocols serves protocol documents from a directory.
package protocols

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"vector/internal/repo"
)

var ErrNotFound = repo.ErrNotFound

type Document struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

type Store struct {
	Root string
}

// Get reads the document named by the final path segment of id. Traversal segments are dropped.
func (s Store) Get(ctx context.Context, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	base := SanitizeID(id)
	if base == "" {
		return Document{}, fmt.Errorf("protocol %q: %w", id, ErrNotFound)
	}
	candidates := []string{base}
	if filepath.Ext(base) == "" {
		candidates = append(candidates, base+".md")
	}
	for _, name := range candidates {
		path := filepath.Join(s.Root, name)
		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
			continue
		}
		if err != nil {
			return Document{}, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return Document{}, err
		}
		return Document{ID: base, Content: string(data)}, nil
	}
	return Document{}, fmt.Errorf("protocol %s: %w", base, ErrNotFound)
}

// SanitizeID reduces id to its base name; "" "." ".." and separators alone yield "".
func SanitizeID(id string) string {
	id = strings.TrimSpace(strings.ReplaceAll(id, `\`, "/"))
	if id == "" {
		return ""
	}
	base := filepath.Base(id)
	switch base {
	case ".", "..", "/":
		return ""
	}
	if base == string(filepath.Separator) {
		return ""
	}
	return base
}
