// Package fsx holds the durable-write primitives the journal and pack
// writers share. Everything a verifier later hashes goes through one of
// these two entry points, so partial writes never reach disk.
package fsx

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFileAtomic replaces path with content via a same-directory temp file
// and rename, fsyncing both the file and its directory. Pack artifacts are
// rewritten wholesale on every export; rename is atomic on the POSIX
// filesystems this tool targets, so readers only ever see the old bytes or
// the new ones.
func WriteFileAtomic(path string, content []byte, mode os.FileMode) error {
	parent := filepath.Dir(path)

	tempFile, err := os.CreateTemp(parent, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tempFile.Close()
			_ = os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tempFile.Chmod(mode); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	committed = true

	return syncDir(parent)
}

// syncDir flushes the directory entry so the rename survives a crash. Some
// filesystems refuse Sync on directory handles; that is not worth failing an
// otherwise committed write over.
func syncDir(dir string) error {
	// #nosec G304 -- directory is derived from the caller's destination path.
	handle, err := os.Open(dir)
	if err != nil {
		return nil
	}
	_ = handle.Sync()
	return handle.Close()
}
