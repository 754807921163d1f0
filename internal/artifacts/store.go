package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Store is a flat namespace of artifact objects.
type Store interface {
	// Name identifies the store in logs and health output.
	Name() string
	// List returns the names of the objects directly under the store root,
	// sorted. A missing root yields an empty list and no error.
	List(ctx context.Context) ([]string, error)
	// Open returns the object's content. Absent objects yield an error
	// wrapping ErrNotExist.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Check reports whether the store root is reachable.
	Check(ctx context.Context) error
}

// FSStore reads artifacts from a local directory.
type FSStore struct {
	dir string
}

// NewFSStore returns a store rooted at dir. The directory is not required to
// exist yet.
func NewFSStore(dir string) *FSStore {
	return &FSStore{dir: dir}
}

// Name returns the health probe name.
func (s *FSStore) Name() string { return "artifact_store_fs" }

// Dir returns the root directory.
func (s *FSStore) Dir() string { return s.dir }

// List returns the regular files in the root directory. Symlinks are followed
// and kept when they resolve to a regular file.
func (s *FSStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s: %w", s.dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !s.isFile(e) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *FSStore) isFile(e fs.DirEntry) bool {
	if e.Type().IsRegular() {
		return true
	}
	if e.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(filepath.Join(s.dir, e.Name()))
	return err == nil && info.Mode().IsRegular()
}

// Open opens one file in the root directory.
func (s *FSStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if name != filepath.Base(name) {
		return nil, fmt.Errorf("object name %q must not contain a path", name)
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", name, ErrNotExist)
		}
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	return f, nil
}

// Check verifies the root is an existing directory.
func (s *FSStore) Check(ctx context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("model folder %s: %w", s.dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("model folder %s is not a directory", s.dir)
	}
	return nil
}
