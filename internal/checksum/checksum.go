package checksum

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/loykin/snapwatch/internal/errs"
)

// Size is the length of a Fingerprint in bytes.
const Size = sha256.Size

// Fingerprint is the SHA-256 digest of a file, or of an ordered directory listing.
type Fingerprint [Size]byte

func (f Fingerprint) Equal(o Fingerprint) bool { return bytes.Equal(f[:], o[:]) }

func (f Fingerprint) String() string { return hex.EncodeToString(f[:]) }

// Of fingerprints path, dispatching on whether it is a file or a directory.
func Of(path string) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, statErr("checksum", path, err)
	}
	if info.IsDir() {
		return Directory(path)
	}
	return File(path)
}

// File returns the SHA-256 digest of the file content.
func File(path string) (Fingerprint, error) {
	var fp Fingerprint
	d, err := fileDigest(path)
	if err != nil {
		return fp, err
	}
	copy(fp[:], d)
	return fp, nil
}

// Directory walks root and hashes every regular file beneath it in lexicographic
// order of the slash-separated relative path. For each file the relative path
// (length prefixed) and the file's raw digest are fed into one running hash.
// Directories contribute nothing themselves, so an empty tree hashes zero input.
func Directory(root string) (Fingerprint, error) {
	var fp Fingerprint
	info, err := os.Stat(root)
	if err != nil {
		return fp, statErr("checksum.directory", root, err)
	}
	if !info.IsDir() {
		return fp, errs.E(errs.KindPathNotFound, "checksum.directory", root, errors.New("not a directory"))
	}

	// WalkDir does not descend into a symlinked root.
	walkRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return fp, statErr("checksum.directory", root, err)
	}
	var rels []string
	err = filepath.WalkDir(walkRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(walkRoot, p)
		if err != nil {
			return err
		}
		rels = append(rels, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return fp, errs.E(errs.KindIOFailure, "checksum.directory", root, err)
	}
	// WalkDir order is lexical per directory, not over the whole path; sort explicitly.
	sort.Strings(rels)

	h := sha256.New()
	var lenBuf [8]byte
	for _, rel := range rels {
		d, err := fileDigest(filepath.Join(walkRoot, filepath.FromSlash(rel)))
		if err != nil {
			return fp, err
		}
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(rel)))
		h.Write(lenBuf[:])
		h.Write([]byte(rel))
		h.Write(d)
	}
	copy(fp[:], h.Sum(nil))
	return fp, nil
}

func fileDigest(path string) ([]byte, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, statErr("checksum.file", path, err)
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, errs.E(errs.KindIOFailure, "checksum.file", path, err)
	}
	return h.Sum(nil), nil
}

func statErr(op, path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return errs.E(errs.KindPathNotFound, op, path, err)
	}
	return errs.E(errs.KindIOFailure, op, path, err)
}
