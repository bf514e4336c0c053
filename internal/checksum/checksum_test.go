package checksum

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/loykin/snapwatch/internal/errs"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestFileDeterministicAndSensitive(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "notes.txt")
	writeFile(t, p, "hello world")

	a, err := File(p)
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	b, err := File(p)
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	if !a.Equal(b) {
		t.Fatalf("same bytes must give same fingerprint")
	}
	if a != Fingerprint(sha256.Sum256([]byte("hello world"))) {
		t.Fatalf("file fingerprint must be the plain sha256 of the content")
	}

	writeFile(t, p, "hello World")
	c, err := File(p)
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	if a.Equal(c) {
		t.Fatalf("one changed byte must change the fingerprint")
	}
}

func TestFileMissing(t *testing.T) {
	_, err := File(filepath.Join(t.TempDir(), "absent"))
	if !errs.Is(err, errs.KindPathNotFound) {
		t.Fatalf("expected path not found, got %v", err)
	}
	_, err = Of(filepath.Join(t.TempDir(), "absent"))
	if !errs.Is(err, errs.KindPathNotFound) {
		t.Fatalf("expected path not found from Of, got %v", err)
	}
}

func TestDirectoryEmptyHashesZeroInput(t *testing.T) {
	fp, err := Directory(t.TempDir())
	if err != nil {
		t.Fatalf("dir: %v", err)
	}
	if fp != Fingerprint(sha256.Sum256(nil)) {
		t.Fatalf("empty directory should hash zero input, got %s", fp)
	}
}

func TestDirectoryIndependentOfCreationOrder(t *testing.T) {
	files := map[string]string{
		"a.txt":         "A",
		"b/c.txt":       "C",
		"b/d/e.txt":     "E",
		"z.txt":         "Z",
		"b/d/aaaa.conf": "conf",
	}
	order1 := []string{"a.txt", "b/c.txt", "b/d/e.txt", "z.txt", "b/d/aaaa.conf"}
	order2 := []string{"z.txt", "b/d/aaaa.conf", "b/d/e.txt", "b/c.txt", "a.txt"}

	d1, d2 := t.TempDir(), t.TempDir()
	for _, rel := range order1 {
		writeFile(t, filepath.Join(d1, rel), files[rel])
	}
	for _, rel := range order2 {
		writeFile(t, filepath.Join(d2, rel), files[rel])
	}
	f1, err := Directory(d1)
	if err != nil {
		t.Fatalf("dir1: %v", err)
	}
	f2, err := Directory(d2)
	if err != nil {
		t.Fatalf("dir2: %v", err)
	}
	if !f1.Equal(f2) {
		t.Fatalf("fingerprints differ for identical trees: %s vs %s", f1, f2)
	}
}

func TestDirectorySensitivity(t *testing.T) {
	build := func(t *testing.T) string {
		d := t.TempDir()
		writeFile(t, filepath.Join(d, "one.txt"), "1")
		writeFile(t, filepath.Join(d, "sub", "two.txt"), "2")
		return d
	}
	base := build(t)
	want, err := Directory(base)
	if err != nil {
		t.Fatalf("dir: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(t *testing.T, d string)
	}{
		{"content", func(t *testing.T, d string) { writeFile(t, filepath.Join(d, "sub", "two.txt"), "3") }},
		{"rename", func(t *testing.T, d string) {
			if err := os.Rename(filepath.Join(d, "one.txt"), filepath.Join(d, "uno.txt")); err != nil {
				t.Fatal(err)
			}
		}},
		{"move", func(t *testing.T, d string) {
			if err := os.Rename(filepath.Join(d, "sub", "two.txt"), filepath.Join(d, "two.txt")); err != nil {
				t.Fatal(err)
			}
		}},
		{"added", func(t *testing.T, d string) { writeFile(t, filepath.Join(d, "new.txt"), "") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := build(t)
			tt.mutate(t, d)
			got, err := Directory(d)
			if err != nil {
				t.Fatalf("dir: %v", err)
			}
			if got.Equal(want) {
				t.Fatalf("expected a different fingerprint after %s", tt.name)
			}
		})
	}
}

func TestEmptySubdirectoriesContributeNothing(t *testing.T) {
	d1 := t.TempDir()
	writeFile(t, filepath.Join(d1, "f.txt"), "x")
	d2 := t.TempDir()
	writeFile(t, filepath.Join(d2, "f.txt"), "x")
	if err := os.MkdirAll(filepath.Join(d2, "empty", "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	f1, _ := Directory(d1)
	f2, _ := Directory(d2)
	if !f1.Equal(f2) {
		t.Fatalf("empty directories must not change the fingerprint")
	}
}

func TestOfDispatches(t *testing.T) {
	d := t.TempDir()
	p := filepath.Join(d, "f.txt")
	writeFile(t, p, "data")

	ff, err := Of(p)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := File(p)
	if !ff.Equal(want) {
		t.Fatalf("Of(file) should equal File")
	}
	fd, err := Of(d)
	if err != nil {
		t.Fatal(err)
	}
	wantDir, _ := Directory(d)
	if !fd.Equal(wantDir) {
		t.Fatalf("Of(dir) should equal Directory")
	}
}

func FuzzFileDeterministic(f *testing.F) {
	f.Add([]byte("seed"))
	f.Add([]byte{})
	f.Fuzz(func(t *testing.T, data []byte) {
		p := filepath.Join(t.TempDir(), "f")
		if err := os.WriteFile(p, data, 0o644); err != nil {
			t.Fatal(err)
		}
		a, err := File(p)
		if err != nil {
			t.Fatal(err)
		}
		if a != Fingerprint(sha256.Sum256(data)) {
			t.Fatalf("mismatch")
		}
	})
}

func TestDirectoryFollowsSymlinkedRoot(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	writeFile(t, filepath.Join(target, "a.txt"), "v1")
	link := filepath.Join(dir, "data")
	if err := os.Symlink(target, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	viaLink, err := Of(link)
	if err != nil {
		t.Fatalf("of link: %v", err)
	}
	direct, err := Directory(target)
	if err != nil {
		t.Fatalf("directory: %v", err)
	}
	if !viaLink.Equal(direct) {
		t.Fatalf("link and target must fingerprint alike")
	}

	writeFile(t, filepath.Join(target, "a.txt"), "v2")
	after, err := Of(link)
	if err != nil {
		t.Fatalf("of link: %v", err)
	}
	if viaLink.Equal(after) {
		t.Fatalf("editing a file behind the link must change the fingerprint")
	}
}
