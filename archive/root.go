package archive

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

var ErrOutsideRoot = errors.New("path is outside the archive root")

// Root is the directory archived messages live under. Queue payloads are
// paths relative to it.
type Root struct {
	dir string
}

func NewRoot(dir string) (Root, error) {
	if strings.TrimSpace(dir) == "" {
		return Root{}, fmt.Errorf("archive root is empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Root{}, fmt.Errorf("archive root: %w", err)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	return Root{dir: filepath.Clean(abs)}, nil
}

func (r Root) Dir() string {
	return r.dir
}

// Resolve turns a queue payload into an absolute path inside the root.
func (r Root) Resolve(rel string) (string, error) {
	rel = strings.TrimLeft(filepath.FromSlash(rel), string(filepath.Separator))
	if rel == "" {
		return "", fmt.Errorf("%w: empty path", ErrOutsideRoot)
	}
	full := filepath.Join(r.dir, rel)
	if !r.contains(full) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, rel)
	}
	return full, nil
}

// Relative converts a path inside the root to the slash-separated form used
// as queue payload and document path.
func (r Root) Relative(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if !r.contains(abs) || abs == r.dir {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	rel, err := filepath.Rel(r.dir, abs)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// Walk calls fn with the relative path of every regular file below subtree,
// which must itself be inside the root. An empty subtree walks everything.
// Dot files, such as messages still being written, are skipped.
func (r Root) Walk(subtree string, fn func(rel string) error) error {
	start := r.dir
	if subtree != "" {
		abs, err := filepath.Abs(subtree)
		if err != nil {
			return err
		}
		if real, err := filepath.EvalSymlinks(abs); err == nil {
			abs = real
		}
		if !r.contains(abs) {
			return fmt.Errorf("%w: %s", ErrOutsideRoot, subtree)
		}
		start = abs
	}

	return filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := r.Relative(path)
		if err != nil {
			return err
		}
		return fn(rel)
	})
}

func (r Root) contains(abs string) bool {
	abs = filepath.Clean(abs)
	if abs == r.dir {
		return true
	}
	return strings.HasPrefix(abs, r.dir+string(filepath.Separator))
}
