// Package fs holds the small filesystem primitives the tile cache relies on
// for atomic publication.
package fs

import (
	"os"
	"syscall"
)

// SyncDir flushes any file renames in dirName to the filesystem.
func SyncDir(dirName string) error {
	dir, err := os.OpenFile(dirName, os.O_RDONLY, os.ModeDir)
	if err != nil {
		return err
	}
	defer dir.Close()

	// Some filesystems (network mounts in particular) do not support fsync
	// on directories and return EINVAL; the rename is still durable enough
	// there, so that error is ignored.
	err = dir.Sync()
	if pe, ok := err.(*os.PathError); ok && pe.Err == syscall.EINVAL {
		err = nil
	} else if err != nil {
		return err
	}
	return dir.Close()
}

// RenameFileWithReplacement replaces any existing file at newpath with the
// contents of oldpath. On POSIX systems the rename is atomic.
func RenameFileWithReplacement(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}
