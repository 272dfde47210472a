package executor

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCollectArtifactsExcludesVCSMetadata(t *testing.T) {
	dir := t.TempDir()

	mustWrite := func(rel string) {
		full := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte("content"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	mustWrite("report.md")
	mustWrite("sub/output.log")
	mustWrite(".git/HEAD")

	artifacts := collectArtifacts(dir)

	if len(artifacts) != 2 {
		t.Fatalf("expected 2 artifacts (VCS metadata excluded), got %d: %+v", len(artifacts), artifacts)
	}

	names := map[string]bool{}
	for _, a := range artifacts {
		names[a.Name] = true
	}
	if !names["report.md"] || !names["output.log"] {
		t.Fatalf("missing expected artifact names, got %+v", names)
	}
}

func TestCollectArtifactsEmptyWorkspace(t *testing.T) {
	dir := t.TempDir()
	artifacts := collectArtifacts(dir)
	if len(artifacts) != 0 {
		t.Fatalf("expected no artifacts in empty workspace, got %d", len(artifacts))
	}
}
