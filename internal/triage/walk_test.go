package triage

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestWalkFilesRespectsDepthAndSymlinks(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{"top.vrm", "a/mid.vrm", "a/b/deep.vrm", "a/b/c/deeper.vrm"} {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(rel), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Symlink(filepath.Join(root, "a"), filepath.Join(root, "loop")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	got, err := walkFiles(root, 3)
	if err != nil {
		t.Fatalf("walkFiles failed: %v", err)
	}
	want := []string{"a/b/deep.vrm", "a/mid.vrm", "top.vrm"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("walkFiles = %v, want %v", got, want)
	}
}

func TestSafeJoinRejectsEscapes(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"../evil.vrm", "a/../../evil.vrm", "/etc/passwd", `..\evil.vrm`} {
		if _, err := safeJoin(root, name); err == nil {
			t.Fatalf("safeJoin(%q) should fail", name)
		}
	}
	got, err := safeJoin(root, "models/ok.vrm")
	if err != nil {
		t.Fatalf("safeJoin failed: %v", err)
	}
	if got != filepath.Join(root, "models", "ok.vrm") {
		t.Fatalf("safeJoin = %q", got)
	}
}

func TestTruncateTextCountsRunes(t *testing.T) {
	if got := truncateText("ありがとうございます", 3); got != "ありが"+truncationMarker {
		t.Fatalf("truncateText = %q", got)
	}
	if got := truncateText("short", 10); got != "short" {
		t.Fatalf("truncateText = %q", got)
	}
}
