// Package store provides an atomic, JSON-file-backed persistence primitive
// shared by the preset manager and the OAuth client provider. Every writer
// in this repo that needs "a directory of small JSON files plus an index"
// goes through here instead of re-implementing temp-file-plus-rename.
package store

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Dir is a directory of JSON documents, one file per key, written
// atomically. It carries no in-memory cache; callers that need one layer
// it on top (the preset manager does, for its previousServerList tracking).
type Dir struct {
	root string
	perm os.FileMode
}

// New returns a Dir rooted at path, creating it (and parents) if missing.
func New(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("store: create directory %s: %w", path, err)
	}
	return &Dir{root: path, perm: 0o600}, nil
}

// Root returns the directory's filesystem path.
func (d *Dir) Root() string { return d.root }

// Path resolves a key to its file path, rejecting any key that would escape
// the store root (defense against a sanitized-but-still-adversarial name).
func (d *Dir) Path(key string) (string, error) {
	p := filepath.Join(d.root, key)
	rel, err := filepath.Rel(d.root, p)
	if err != nil || rel == ".." || len(rel) >= 2 && rel[:3] == ".."+string(filepath.Separator) {
		return "", fmt.Errorf("store: key %q escapes store root", key)
	}
	return p, nil
}

// WriteJSON marshals v and writes it to key atomically (temp file in the
// same directory, fsync, rename) so a reader never observes a partial file.
func (d *Dir) WriteJSON(key string, v any) error {
	path, err := d.Path(key)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", key, err)
	}
	return atomicWriteFile(path, data, d.perm)
}

// ReadJSON reads and unmarshals the document at key into v. Returns
// os.ErrNotExist (wrapped) if the key does not exist.
func (d *Dir) ReadJSON(key string, v any) error {
	path, err := d.Path(key)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("store: read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("store: unmarshal %s: %w", key, err)
	}
	return nil
}

// Delete removes the document at key. Deleting a missing key is not an
// error — callers use this for idempotent cleanup sweeps.
func (d *Dir) Delete(key string) error {
	path, err := d.Path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	return nil
}

// Exists reports whether key has a file on disk.
func (d *Dir) Exists(key string) bool {
	path, err := d.Path(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// List returns the base names of every regular file directly under the
// store root, unsorted.
func (d *Dir) List() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", d.root, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// atomicWriteFile writes data to path via temp-file-plus-rename: write to a
// sibling temp file, fsync it, then rename over the target. Readers always
// observe either the old complete file or the new one, never a partial
// write. Rename is atomic on POSIX; on Windows it is best-effort but still
// far safer than truncate-then-write.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return fmt.Errorf("store: generate temp suffix: %w", err)
	}
	suffix := hex.EncodeToString(randBytes)

	dir := filepath.Dir(path)
	tmpPath := filepath.Join(dir, filepath.Base(path)+".tmp."+suffix)

	tmpFile, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("store: sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("store: close temp file: %w", err)
	}
	tmpFile = nil

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: rename temp file: %w", err)
	}
	return nil
}
