// Package bronze is the immutable store of raw external-call results. Every
// HTTP response, downloaded media file and model output lands here exactly
// once, keyed by where it came from, and is never rewritten: when the inputs
// to a call change, the key changes.
package bronze

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrMissing is returned when a key has no artifact.
var ErrMissing = errors.New("bronze: artifact missing")

// A Key addresses one artifact. SourceType and ExternalID place it, Artifact
// names what it is, Ext is the file extension.
type Key struct {
	SourceType string
	ExternalID string
	Artifact   string
	Ext        string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s.%s", k.SourceType, k.ExternalID, k.Artifact, k.Ext)
}

// URLKey derives a request-keyed Key from a URL, hashing it so arbitrary
// URLs map to stable directory names.
func URLKey(sourceType, url, artifact, ext string) Key {
	sum := sha256.Sum256([]byte(url))
	return Key{
		SourceType: sourceType,
		ExternalID: hex.EncodeToString(sum[:])[:16],
		Artifact:   artifact,
		Ext:        ext,
	}
}

// Store is a filesystem-backed artifact store rooted at one directory.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

// Path returns where an artifact for the key lives (whether or not it
// exists yet). Useful for handing file paths to external tools.
func (s *Store) Path(k Key) string {
	return filepath.Join(s.root, k.SourceType, k.ExternalID, k.Artifact+"."+k.Ext)
}

func (s *Store) Exists(k Key) bool {
	_, err := os.Stat(s.Path(k))
	return err == nil
}

func (s *Store) Read(k Key) ([]byte, error) {
	b, err := os.ReadFile(s.Path(k))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrMissing, k)
	}
	if err != nil {
		return nil, fmt.Errorf("error reading artifact %s: %w", k, err)
	}
	return b, nil
}

// Write stores an artifact under the key. The bytes go to a temp file first
// and are renamed into place, so a partial artifact is never visible under
// the final path. Writing to a key that already has an artifact is a no-op:
// bronze entries are immutable.
func (s *Store) Write(k Key, data []byte) error {
	path := s.Path(k)
	if s.Exists(k) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating artifact dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+k.Artifact+"-*")
	if err != nil {
		return fmt.Errorf("error creating temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("error writing artifact %s: %w", k, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("error closing temp artifact: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("error publishing artifact %s: %w", k, err)
	}
	return nil
}

// Scratch creates a temp directory on the store's own filesystem, so a file
// produced there can be Adopted with an atomic same-device rename. The
// caller removes it.
func (s *Store) Scratch(pattern string) (string, error) {
	dir := filepath.Join(s.root, ".scratch")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating scratch root: %w", err)
	}
	return os.MkdirTemp(dir, pattern)
}

// Adopt moves an externally produced file (e.g. a download written by a
// subprocess) under the key, keeping the rename-into-place discipline.
func (s *Store) Adopt(k Key, srcPath string) error {
	path := s.Path(k)
	if s.Exists(k) {
		os.Remove(srcPath)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating artifact dir: %w", err)
	}
	if err := os.Rename(srcPath, path); err != nil {
		return fmt.Errorf("error adopting artifact %s: %w", k, err)
	}
	return nil
}
