// Package cache implements the persistent tile cache: content-addressed
// fingerprints, the on-disk tile codec, cache-directory layout, atomic
// publication and validation.
//
// A cache file is immutable once published. Its name embeds the fingerprint
// of the bytes it is expected to hold; publication goes through a temporary
// file, fsync and an atomic rename, so readers only ever observe complete
// files, and two processes writing the same fingerprint write the same
// bytes.
package cache

import (
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/rasterflow/rasterflow/grid"
)

// FormatVersion is the on-disk format version. It participates in the
// fingerprint, so bumping it invalidates every existing cache file.
const FormatVersion = 1

// Fingerprint derives the content address H of a cache tile from everything
// the tile's bytes depend on: the tile's spatial extent, the channel
// ordering, the identity and version of the compute function, the identities
// of upstream dependencies, and the on-disk format version.
//
// The serialization is canonical: floats use the shortest round-trip
// formatting, channels keep their order, upstream identities are sorted.
func Fingerprint(extent grid.Footprint, channels []int, funcID, funcVersion string, upstream []uint64) uint64 {
	d := xxhash.New()
	writeString := func(s string) {
		// xxhash.Digest.WriteString never fails.
		_, _ = d.WriteString(s)
	}
	writeString("extent:")
	writeString(formatFloat(extent.OX))
	writeString(",")
	writeString(formatFloat(extent.OY))
	writeString(",")
	writeString(formatFloat(extent.DX))
	writeString(",")
	writeString(formatFloat(extent.DY))
	writeString(",")
	writeString(strconv.Itoa(extent.W))
	writeString(",")
	writeString(strconv.Itoa(extent.H))
	writeString("|channels:")
	for i, ch := range channels {
		if i > 0 {
			writeString(",")
		}
		writeString(strconv.Itoa(ch))
	}
	writeString("|func:")
	writeString(funcID)
	writeString("@")
	writeString(funcVersion)
	writeString("|upstream:")
	up := append([]uint64(nil), upstream...)
	sort.Slice(up, func(i, j int) bool { return up[i] < up[j] })
	for i, u := range up {
		if i > 0 {
			writeString(",")
		}
		writeString(strconv.FormatUint(u, 16))
	}
	writeString("|format:")
	writeString(strconv.Itoa(FormatVersion))
	return d.Sum64()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
