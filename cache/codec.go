package cache

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/snappy"
	"github.com/pkg/errors"

	"github.com/rasterflow/rasterflow/grid"
)

// Magic marks cache files. The trailing byte doubles as a format generation.
var magic = [4]byte{'R', 'C', 'L', '1'}

// header layout, little endian:
//
//	0   magic            4
//	4   format version   2
//	6   reserved         2
//	8   fingerprint H    8
//	16  extent OX,OY     16
//	32  extent DX,DY     16
//	48  W, H, channels   12
//	60  payload length   4
//	64  payload xxhash   8
//	72  payload          …
const headerSize = 72

// CorruptError reports a cache file whose bytes do not match what its name
// promises. It is recoverable: the caller deletes the file and recomputes.
type CorruptError struct {
	Path   string
	Reason string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt cache file %s: %s", e.Path, e.Reason)
}

// IsCorrupt reports whether err (possibly wrapped) is a CorruptError.
func IsCorrupt(err error) bool {
	var ce *CorruptError
	return errors.As(err, &ce)
}

// Encode serializes a tile array under fingerprint h. The encoding is
// deterministic: equal inputs produce identical bytes.
func Encode(arr *grid.Array, h uint64) []byte {
	raw := make([]byte, 8*len(arr.Pix))
	for i, v := range arr.Pix {
		binary.LittleEndian.PutUint64(raw[8*i:], math.Float64bits(v))
	}
	payload := snappy.Encode(nil, raw)

	buf := make([]byte, headerSize+len(payload))
	copy(buf[0:4], magic[:])
	binary.LittleEndian.PutUint16(buf[4:6], FormatVersion)
	binary.LittleEndian.PutUint64(buf[8:16], h)
	binary.LittleEndian.PutUint64(buf[16:24], math.Float64bits(arr.FP.OX))
	binary.LittleEndian.PutUint64(buf[24:32], math.Float64bits(arr.FP.OY))
	binary.LittleEndian.PutUint64(buf[32:40], math.Float64bits(arr.FP.DX))
	binary.LittleEndian.PutUint64(buf[40:48], math.Float64bits(arr.FP.DY))
	binary.LittleEndian.PutUint32(buf[48:52], uint32(arr.FP.W))
	binary.LittleEndian.PutUint32(buf[52:56], uint32(arr.FP.H))
	binary.LittleEndian.PutUint32(buf[56:60], uint32(arr.Channels))
	binary.LittleEndian.PutUint32(buf[60:64], uint32(len(payload)))
	binary.LittleEndian.PutUint64(buf[64:72], xxhash.Sum64(payload))
	copy(buf[headerSize:], payload)
	return buf
}

// Decode parses an encoded tile, returning the array and the fingerprint
// recorded in the header. Structural damage is reported as CorruptError with
// path as context.
func Decode(b []byte, path string) (*grid.Array, uint64, error) {
	corrupt := func(reason string) (*grid.Array, uint64, error) {
		return nil, 0, &CorruptError{Path: path, Reason: reason}
	}
	if len(b) < headerSize {
		return corrupt("short header")
	}
	if [4]byte{b[0], b[1], b[2], b[3]} != magic {
		return corrupt("bad magic")
	}
	if v := binary.LittleEndian.Uint16(b[4:6]); v != FormatVersion {
		return corrupt(fmt.Sprintf("format version %d", v))
	}
	h := binary.LittleEndian.Uint64(b[8:16])
	fp := grid.Footprint{
		OX: math.Float64frombits(binary.LittleEndian.Uint64(b[16:24])),
		OY: math.Float64frombits(binary.LittleEndian.Uint64(b[24:32])),
		DX: math.Float64frombits(binary.LittleEndian.Uint64(b[32:40])),
		DY: math.Float64frombits(binary.LittleEndian.Uint64(b[40:48])),
		W:  int(binary.LittleEndian.Uint32(b[48:52])),
		H:  int(binary.LittleEndian.Uint32(b[52:56])),
	}
	channels := int(binary.LittleEndian.Uint32(b[56:60]))
	if !fp.Valid() || channels <= 0 {
		return corrupt("bad extent")
	}
	payloadLen := int(binary.LittleEndian.Uint32(b[60:64]))
	payloadHash := binary.LittleEndian.Uint64(b[64:72])
	if len(b) != headerSize+payloadLen {
		return corrupt("truncated payload")
	}
	payload := b[headerSize:]
	if xxhash.Sum64(payload) != payloadHash {
		return corrupt("payload checksum mismatch")
	}
	raw, err := snappy.Decode(nil, payload)
	if err != nil {
		return corrupt("payload decompression failed")
	}
	want := fp.W * fp.H * channels * 8
	if len(raw) != want {
		return corrupt(fmt.Sprintf("payload is %d bytes, want %d", len(raw), want))
	}
	arr := &grid.Array{FP: fp, Channels: channels, Pix: make([]float64, fp.W*fp.H*channels)}
	for i := range arr.Pix {
		arr.Pix[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
	}
	return arr, h, nil
}

// ReadTile reads and decodes the tile at path, checking the header
// fingerprint against expect.
func ReadTile(path string, expect uint64) (*grid.Array, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading cache tile")
	}
	arr, h, err := Decode(b, path)
	if err != nil {
		return nil, err
	}
	if h != expect {
		return nil, &CorruptError{Path: path, Reason: fmt.Sprintf("fingerprint %016x, want %016x", h, expect)}
	}
	return arr, nil
}

// Validate checks the tile at path against the expected fingerprint without
// keeping the decoded pixels. It returns nil for a valid file, CorruptError
// for a damaged or mismatching one, and other errors for I/O failures.
func Validate(path string, expect uint64) error {
	_, err := ReadTile(path, expect)
	return err
}
