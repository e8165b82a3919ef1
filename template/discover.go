// Package template discovers workflow templates on disk and resolves a
// graph_name to the compiled graph.Graph that implements it (spec §6
// "Template discovery", §9 fn_map).
package template

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// Template is one discovered .wirl file: id = name = the file's stem,
// matching original_source's list_templates (spec §6).
type Template struct {
	ID   string
	Name string
	Path string
}

// Discover globs dir recursively for files with a .wirl suffix, grounded
// on original_source/apps/backend/backend/workflow_loader.py's
// `glob("**/*.wirl")`.
func Discover(dir string) ([]Template, error) {
	var templates []Template
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".wirl" {
			return nil
		}
		stem := strings.TrimSuffix(filepath.Base(path), ".wirl")
		templates = append(templates, Template{ID: stem, Name: stem, Path: path})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return templates, nil
}
