package remote

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrBadPath is returned for paths that would leave the store root.
var ErrBadPath = errors.New("invalid file path")

// FileStore is what Handler serves.
type FileStore interface {
	Read(ctx context.Context, path string) (content string, found bool, err error)
	Write(ctx context.Context, path, content, message string) error
}

// DirStore keeps files under a root directory.
type DirStore struct {
	Root string
}

func (d DirStore) resolve(p string) (string, error) {
	if p == "" || strings.Contains(p, "\\") || strings.ContainsRune(p, 0) {
		return "", ErrBadPath
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", ErrBadPath
		}
	}
	clean := path.Clean("/" + p)
	if clean == "/" {
		return "", ErrBadPath
	}
	return filepath.Join(d.Root, filepath.FromSlash(clean)), nil
}

// Read implements FileStore.
func (d DirStore) Read(_ context.Context, p string) (string, bool, error) {
	full, err := d.resolve(p)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

// Write implements FileStore. The message is not kept.
func (d DirStore) Write(_ context.Context, p, content, _ string) error {
	full, err := d.resolve(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, full)
}
