package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestCopyTreeMergesWithoutDeleting(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), "new")
	writeFile(t, filepath.Join(src, "d", "b.txt"), "B")
	writeFile(t, filepath.Join(dst, "a.txt"), "old")
	writeFile(t, filepath.Join(dst, "extra.txt"), "keep")

	if err := CopyTree(context.Background(), src, dst); err != nil {
		t.Fatalf("copy tree: %v", err)
	}
	if readFile(t, filepath.Join(dst, "a.txt")) != "new" {
		t.Fatalf("existing file should be overwritten")
	}
	if readFile(t, filepath.Join(dst, "d", "b.txt")) != "B" {
		t.Fatalf("nested file missing")
	}
	if readFile(t, filepath.Join(dst, "extra.txt")) != "keep" {
		t.Fatalf("extra file must be kept")
	}
}

func TestCopyFileKeepsMode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "run.sh")
	writeFile(t, src, "#!/bin/sh\n")
	if err := os.Chmod(src, 0o750); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(dir, "copy.sh")
	if err := CopyFile(src, dst); err != nil {
		t.Fatalf("copy: %v", err)
	}
	fi, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm() != 0o750 {
		t.Fatalf("mode = %v", fi.Mode().Perm())
	}
}

func TestCopyFileMissingSource(t *testing.T) {
	dir := t.TempDir()
	if err := CopyFile(filepath.Join(dir, "nope"), filepath.Join(dir, "out")); err == nil {
		t.Fatalf("expected error")
	}
}
