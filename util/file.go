package util

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// WriteFileAtomic writes through a temporary file in the destination directory and
// renames it over path only after write, sync and close all succeeded. On any failure
// the temporary file is removed and path is left untouched.
func WriteFileAtomic(path string, write func(w io.Writer) error) (err error) {
	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}

	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("could not create temporary destination for %q: %w", path, err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if err = write(tmp); err != nil {
		return fmt.Errorf("could not write temporary destination for %q: %w", path, err)
	}
	if err = tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("could not chmod temporary destination for %q: %w", path, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("could not flush temporary destination for %q: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("could not close temporary destination for %q: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("could not rename destination file %q: %w", path, err)
	}

	committed = true
	return nil
}

// FileExists reports whether path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

// DirExists reports whether path exists and is a directory. Errors other than
// fs.ErrNotExist are returned to the caller.
func DirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

// Slug lower-cases name and joins its words with dashes: "wine glass" -> "wine-glass".
func Slug(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "-")
}
