package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rasterflow/rasterflow/grid"
)

func testArray(t *testing.T) *grid.Array {
	t.Helper()
	arr := grid.NewArray(grid.NewFootprint(0, 0, 1, 1, 16, 16), 2)
	for i := range arr.Pix {
		arr.Pix[i] = float64(i%97) * 0.5
	}
	return arr
}

func TestFingerprintDeterminism(t *testing.T) {
	fp := grid.NewFootprint(0, 0, 1, 1, 256, 256)
	h := Fingerprint(fp, []int{0, 1}, "slope", "v1", nil)
	assert.Equal(t, h, Fingerprint(fp, []int{0, 1}, "slope", "v1", nil))

	assert.NotEqual(t, h, Fingerprint(fp, []int{1, 0}, "slope", "v1", nil))
	assert.NotEqual(t, h, Fingerprint(fp, []int{0, 1}, "slope", "v2", nil))
	assert.NotEqual(t, h, Fingerprint(fp, []int{0, 1}, "aspect", "v1", nil))
	assert.NotEqual(t, h, Fingerprint(fp.Sub(0, 0, 128, 256), []int{0, 1}, "slope", "v1", nil))
	assert.NotEqual(t, h, Fingerprint(fp, []int{0, 1}, "slope", "v1", []uint64{42}))

	// Upstream identities are order-insensitive.
	assert.Equal(t,
		Fingerprint(fp, []int{0}, "f", "v", []uint64{1, 2}),
		Fingerprint(fp, []int{0}, "f", "v", []uint64{2, 1}))
}

func TestFileNameRoundTrip(t *testing.T) {
	name := FileName(42, 0xdeadbeefcafe1234)
	idx, h, ok := ParseFileName(name)
	require.True(t, ok)
	assert.Equal(t, 42, idx)
	assert.Equal(t, uint64(0xdeadbeefcafe1234), h)

	_, _, ok = ParseFileName(TempName(name))
	assert.False(t, ok)
	_, _, ok = ParseFileName("noise.txt")
	assert.False(t, ok)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	arr := testArray(t)
	h := uint64(0x0123456789abcdef)
	data := Encode(arr, h)

	// Deterministic encoding: same input, same bytes.
	require.Empty(t, cmp.Diff(data, Encode(arr, h)))

	got, gotH, err := Decode(data, "mem")
	require.NoError(t, err)
	assert.Equal(t, h, gotH)
	assert.Equal(t, arr.FP, got.FP)
	assert.Equal(t, arr.Channels, got.Channels)
	require.Empty(t, cmp.Diff(arr.Pix, got.Pix))
}

func TestDecodeCorruption(t *testing.T) {
	arr := testArray(t)
	data := Encode(arr, 7)

	_, _, err := Decode(data[:len(data)-1], "f")
	assert.True(t, IsCorrupt(err))

	bad := append([]byte(nil), data...)
	bad[0] = 'X'
	_, _, err = Decode(bad, "f")
	assert.True(t, IsCorrupt(err))

	flipped := append([]byte(nil), data...)
	flipped[len(flipped)-1] ^= 0xff
	_, _, err = Decode(flipped, "f")
	assert.True(t, IsCorrupt(err))

	_, _, err = Decode(data[:10], "f")
	assert.True(t, IsCorrupt(err))
}

func TestWriteAtomicAndValidate(t *testing.T) {
	dir := t.TempDir()
	arr := testArray(t)
	h := uint64(99)
	name := FileName(0, h)

	path, err := WriteAtomic(dir, name, Encode(arr, h))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, name), path)

	// No temporary leftovers.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, IsTemp(entries[0].Name()))

	require.NoError(t, Validate(path, h))
	assert.True(t, IsCorrupt(Validate(path, h+1)))

	got, err := ReadTile(path, h)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(arr.Pix, got.Pix))
}

func TestValidateTruncatedFile(t *testing.T) {
	dir := t.TempDir()
	arr := testArray(t)
	h := uint64(5)
	path, err := WriteAtomic(dir, FileName(3, h), Encode(arr, h))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-1], 0o666))

	assert.True(t, IsCorrupt(Validate(path, h)))
}

func TestCandidates(t *testing.T) {
	dir := t.TempDir()
	arr := testArray(t)
	path, err := WriteAtomic(dir, FileName(7, 1), Encode(arr, 1))
	require.NoError(t, err)

	// A stray temp file for the same tile is not a candidate.
	require.NoError(t, os.WriteFile(filepath.Join(dir, TempName(FileName(7, 2))), []byte("x"), 0o666))

	got, err := Candidates(dir, 7)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, got)

	got, err = Candidates(dir, 8)
	require.NoError(t, err)
	assert.Empty(t, got)
}
