package offline

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/comigor/alice-go/internal/logger"
)

// Resolver turns a user-picked model reference (a path or file:// URI) into a
// file inside the private models directory.
type Resolver struct {
	dir string
}

func NewResolver(dir string) *Resolver {
	return &Resolver{dir: dir}
}

// Dir is the private models directory.
func (r *Resolver) Dir() string {
	return r.dir
}

// Resolve validates src and returns the absolute path of its private copy,
// copying it into the models directory when it lives elsewhere. A copy with
// the same name and size is reused.
func (r *Resolver) Resolve(src string) (string, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return "", ErrModelFileNotFound
	}
	if strings.HasPrefix(src, "file://") {
		u, err := url.Parse(src)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrModelFileNotFound, err)
		}
		src = u.Path
	}

	abs, err := filepath.Abs(src)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrModelFileNotFound, err)
	}
	info, err := os.Stat(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "", ErrModelFileNotFound
	case errors.Is(err, fs.ErrPermission):
		return "", ErrPermissionDenied
	case err != nil:
		return "", err
	case info.IsDir():
		return "", ErrModelFileNotFound
	}

	dir, err := filepath.Abs(r.dir)
	if err != nil {
		return "", err
	}
	if filepath.Dir(abs) == dir {
		return abs, nil
	}

	dst := filepath.Join(dir, filepath.Base(abs))
	if existing, err := os.Stat(dst); err == nil && existing.Size() == info.Size() {
		return dst, nil
	}

	if err := copyFile(abs, dst, dir); err != nil {
		return "", err
	}
	logger.L.Info("model copied into private storage", "src", abs, "dst", dst, "bytes", info.Size())
	return dst, nil
}

func copyFile(src, dst, dir string) error {
	in, err := os.Open(src)
	if errors.Is(err, fs.ErrPermission) {
		return ErrPermissionDenied
	}
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create models dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".import-*")
	if err != nil {
		return fmt.Errorf("create temp model file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return fmt.Errorf("copy model: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("copy model: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("install model: %w", err)
	}
	return nil
}
