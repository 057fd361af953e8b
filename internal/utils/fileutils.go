package utils

import (
	"io/fs"
	"os"
	"path/filepath"
)

const tempSuffix = ".selfheal.tmp"

// WriteFileAtomic writes data to a sibling temp file and renames it over path, creating
// parent directories as needed.
func WriteFileAtomic(path string, data []byte, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + tempSuffix
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// FileMode returns the permission bits of path, or fallback when it does not exist.
func FileMode(path string, fallback fs.FileMode) fs.FileMode {
	info, err := os.Stat(path)
	if err != nil {
		return fallback
	}
	return info.Mode().Perm()
}
