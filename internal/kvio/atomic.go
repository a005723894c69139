package kvio

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFileAtomic replaces path with data by writing to a temp file in the
// same directory, fsyncing it, renaming it over the old path, then
// fsyncing the directory so the rename itself is durable. A crash at any
// point before the rename leaves the previous contents of path (or its
// absence) untouched.
func WriteFileAtomic(path string, data []byte) (rerr error) {
	tmpPath := path + ".tmp"

	defer func() {
		if rerr != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	tmpf, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create temp file %q: %w", tmpPath, err)
	}

	if _, err := tmpf.Write(data); err != nil {
		_ = tmpf.Close()
		return fmt.Errorf("write temp file %q: %w", tmpPath, err)
	}
	if err := tmpf.Sync(); err != nil {
		_ = tmpf.Close()
		return fmt.Errorf("sync temp file %q: %w", tmpPath, err)
	}
	if err := tmpf.Close(); err != nil {
		return fmt.Errorf("close temp file %q: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename %q to %q: %w", tmpPath, path, err)
	}

	dir := filepath.Dir(path)
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir %q: %w", dir, err)
	}
	defer d.Close()

	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync dir %q: %w", dir, err)
	}

	return nil
}
