package template

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestDiscoverFindsWirlFilesRecursively(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "echo.wirl"), "")
	writeFile(t, filepath.Join(dir, "nested", "support-triage.wirl"), "")
	writeFile(t, filepath.Join(dir, "README.md"), "not a template")

	templates, err := Discover(dir)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	var ids []string
	for _, tpl := range templates {
		if tpl.ID != tpl.Name {
			t.Errorf("template %+v: ID and Name should match the file stem", tpl)
		}
		ids = append(ids, tpl.ID)
	}
	sort.Strings(ids)

	want := []string{"echo", "support-triage"}
	if len(ids) != len(want) || ids[0] != want[0] || ids[1] != want[1] {
		t.Fatalf("got ids %v, want %v", ids, want)
	}
}

func TestDiscoverMissingDirErrors(t *testing.T) {
	if _, err := Discover(filepath.Join(t.TempDir(), "does-not-exist")); err == nil {
		t.Fatal("Discover() on a missing directory: want error, got nil")
	}
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll(%q) error = %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile(%q) error = %v", path, err)
	}
}
