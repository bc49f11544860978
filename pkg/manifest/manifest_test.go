package manifest_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/runbox/runbox/pkg/manifest"
	"github.com/runbox/runbox/pkg/model"
)

func writeSuite(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeSuite(t, t.TempDir(), "smoke.yaml", `
name: smoke
files:
  - a_test.go
  - b_test.go
policy: shared
viewport:
  width: 1280
  height: 720
`)

	suite, err := manifest.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if suite.Name != "smoke" {
		t.Errorf("Name = %q, want smoke", suite.Name)
	}
	if len(suite.Files) != 2 {
		t.Errorf("Files = %v, want 2 entries", suite.Files)
	}
	if suite.ParsedPolicy() != model.PolicyShared {
		t.Errorf("policy = %q, want shared", suite.ParsedPolicy())
	}
	if suite.Viewport.Width != 1280 || suite.Viewport.Height != 720 {
		t.Errorf("viewport = %+v, want 1280x720", suite.Viewport)
	}
}

func TestLoadNameDefaultsToFilename(t *testing.T) {
	path := writeSuite(t, t.TempDir(), "nightly.yml", "files: [a_test.go]\n")

	suite, err := manifest.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if suite.Name != "nightly" {
		t.Errorf("Name = %q, want nightly", suite.Name)
	}
	if suite.ParsedPolicy() != model.PolicyIsolated {
		t.Errorf("default policy = %q, want isolated", suite.ParsedPolicy())
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name    string
		content string
	}{
		{"nofiles.yaml", "name: empty\n"},
		{"badpolicy.yaml", "files: [a_test.go]\npolicy: parallel\n"},
		{"halfviewport.yaml", "files: [a_test.go]\nviewport: {width: 100}\n"},
		{"garbage.yaml", "{{not yaml"},
	}
	for _, tc := range cases {
		path := writeSuite(t, dir, tc.name, tc.content)
		if _, err := manifest.Load(path); err == nil {
			t.Errorf("%s: expected error, got nil", tc.name)
		}
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeSuite(t, dir, "one.yaml", "files: [a_test.go]\n")
	writeSuite(t, dir, "two.yml", "files: [b_test.go]\n")
	writeSuite(t, dir, "notes.txt", "ignored\n")

	suites, err := manifest.LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(suites) != 2 {
		t.Fatalf("got %d suites, want 2", len(suites))
	}
}

func TestLoadDirMissingIsEmpty(t *testing.T) {
	suites, err := manifest.LoadDir(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(suites) != 0 {
		t.Errorf("got %d suites, want 0", len(suites))
	}
}
