package cache

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/rasterflow/rasterflow/pkg/fs"
)

// WriteAtomic publishes data under dir/name. The bytes first go to a
// temporary file on the same filesystem, which is fsynced before being
// renamed over the canonical name; the directory is then fsynced so the
// rename is durable. Readers never observe a partial file. On error the
// temporary file is removed.
func WriteAtomic(dir, name string, data []byte) (string, error) {
	final := filepath.Join(dir, name)
	tmp := filepath.Join(dir, TempName(name))

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		return "", errors.Wrap(err, "creating cache temp file")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", errors.Wrap(err, "writing cache temp file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", errors.Wrap(err, "syncing cache temp file")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", errors.Wrap(err, "closing cache temp file")
	}
	if err := fs.RenameFileWithReplacement(tmp, final); err != nil {
		os.Remove(tmp)
		return "", errors.Wrap(err, "publishing cache file")
	}
	if err := fs.SyncDir(dir); err != nil {
		return "", errors.Wrap(err, "syncing cache directory")
	}
	return final, nil
}
