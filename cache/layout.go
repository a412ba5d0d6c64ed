package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
)

// Ext is the cache file extension.
const Ext = "rcl"

var tmpNonce uint32

// FileName returns the canonical cache file name for a tile index and
// fingerprint: <index>.<H>.<ext>.
func FileName(tileIndex int, h uint64) string {
	return fmt.Sprintf("%06d.%016x.%s", tileIndex, h, Ext)
}

// TempName returns a fresh temporary name for the given canonical name,
// unique per process and per call.
func TempName(name string) string {
	n := atomic.AddUint32(&tmpNonce, 1)
	return fmt.Sprintf("%s.tmp.%d.%08x", name, os.Getpid(), n)
}

// IsTemp reports whether name is a leftover temporary file.
func IsTemp(name string) bool {
	return strings.Contains(name, ".tmp.")
}

// ParseFileName extracts the tile index and fingerprint from a canonical
// cache file name.
func ParseFileName(name string) (tileIndex int, h uint64, ok bool) {
	if IsTemp(name) {
		return 0, 0, false
	}
	parts := strings.Split(name, ".")
	if len(parts) != 3 || parts[2] != Ext {
		return 0, 0, false
	}
	idx, err := strconv.Atoi(parts[0])
	if err != nil || idx < 0 {
		return 0, 0, false
	}
	if len(parts[1]) != 16 {
		return 0, 0, false
	}
	fp, err := strconv.ParseUint(parts[1], 16, 64)
	if err != nil {
		return 0, 0, false
	}
	return idx, fp, true
}

// Candidates lists the cache files in dir whose name carries the given tile
// index, whatever their fingerprint. A healthy cache has at most one.
func Candidates(dir string, tileIndex int) ([]string, error) {
	pattern := filepath.Join(dir, fmt.Sprintf("%06d.*.%s", tileIndex, Ext))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	out := matches[:0]
	for _, m := range matches {
		if !IsTemp(filepath.Base(m)) {
			out = append(out, m)
		}
	}
	return out, nil
}
