package storage

import (
	"crypto/sha1"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-dev/torrentcore/metainfo"
)

func singleFileInfo(t *testing.T, payload []byte, pieceLength int64) *metainfo.Info {
	t.Helper()
	var pieces []byte
	for off := int64(0); off < int64(len(payload)); off += pieceLength {
		end := off + pieceLength
		if end > int64(len(payload)) {
			end = int64(len(payload))
		}
		h := sha1.Sum(payload[off:end])
		pieces = append(pieces, h[:]...)
	}
	return &metainfo.Info{Name: "file.bin", PieceLength: pieceLength, Pieces: pieces, Length: int64(len(payload))}
}

func TestWriteBlockAndFinalizeSingleFile(t *testing.T) {
	dir := t.TempDir()
	payload := make([]byte, 32768)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	info := singleFileInfo(t, payload, 16384)
	s, err := Open(dir, info, metainfo.Hash{})
	require.NoError(t, err)

	for p := 0; p < 2; p++ {
		require.NoError(t, s.WriteBlock(p, 0, payload[p*16384:p*16384+16384]))
		res, err := s.TryFinalize(p)
		require.NoError(t, err)
		assert.Equal(t, Verified, res)
	}

	on, err := os.ReadFile(filepath.Join(dir, "file.bin"))
	require.NoError(t, err)
	assert.Equal(t, payload, on)
	assert.True(t, s.HasPiece(0))
	assert.True(t, s.HasPiece(1))
}

func TestLastPieceShortBlock(t *testing.T) {
	dir := t.TempDir()
	payload := make([]byte, 20000)
	info := singleFileInfo(t, payload, 16384)
	s, err := Open(dir, info, metainfo.Hash{})
	require.NoError(t, err)

	require.EqualValues(t, 3616, s.PieceLength(1))
	require.NoError(t, s.WriteBlock(0, 0, payload[:16384]))
	res, err := s.TryFinalize(0)
	require.NoError(t, err)
	assert.Equal(t, Verified, res)

	require.NoError(t, s.WriteBlock(1, 0, payload[16384:]))
	res, err = s.TryFinalize(1)
	require.NoError(t, err)
	assert.Equal(t, Verified, res)

	st, err := os.Stat(filepath.Join(dir, "file.bin"))
	require.NoError(t, err)
	assert.EqualValues(t, 20000, st.Size())
}

func TestHashMismatchDiscardsAndAllowsRedownload(t *testing.T) {
	dir := t.TempDir()
	payload := make([]byte, 16384)
	for i := range payload {
		payload[i] = byte(i)
	}
	info := singleFileInfo(t, payload, 16384)
	s, err := Open(dir, info, metainfo.Hash{})
	require.NoError(t, err)

	bad := append([]byte(nil), payload...)
	bad[len(bad)-1] ^= 0xFF
	require.NoError(t, s.WriteBlock(0, 0, bad))
	res, err := s.TryFinalize(0)
	require.NoError(t, err)
	assert.Equal(t, Mismatch, res)
	assert.False(t, s.HasPiece(0))

	require.NoError(t, s.WriteBlock(0, 0, payload))
	res, err = s.TryFinalize(0)
	require.NoError(t, err)
	assert.Equal(t, Verified, res)
	assert.True(t, s.HasPiece(0))
}

func TestMultiFileStriping(t *testing.T) {
	dir := t.TempDir()
	payload := make([]byte, 20480)
	for i := range payload {
		payload[i] = byte(i % 97)
	}
	var pieces []byte
	for off := int64(0); off < int64(len(payload)); off += 16384 {
		end := off + 16384
		if end > int64(len(payload)) {
			end = int64(len(payload))
		}
		h := sha1.Sum(payload[off:end])
		pieces = append(pieces, h[:]...)
	}
	info := &metainfo.Info{
		Name:        "multi",
		PieceLength: 16384,
		Pieces:      pieces,
		Files: []metainfo.FileInfo{
			{Path: []string{"a.bin"}, Length: 8192},
			{Path: []string{"b.bin"}, Length: 12288},
		},
	}
	s, err := Open(dir, info, metainfo.Hash{})
	require.NoError(t, err)

	require.NoError(t, s.WriteBlock(0, 0, payload[0:16384]))
	res, err := s.TryFinalize(0)
	require.NoError(t, err)
	require.Equal(t, Verified, res)

	require.NoError(t, s.WriteBlock(1, 0, payload[16384:20480]))
	res, err = s.TryFinalize(1)
	require.NoError(t, err)
	require.Equal(t, Verified, res)

	a, err := os.Stat(filepath.Join(dir, "a.bin"))
	require.NoError(t, err)
	assert.EqualValues(t, 8192, a.Size())
	b, err := os.Stat(filepath.Join(dir, "b.bin"))
	require.NoError(t, err)
	assert.EqualValues(t, 12288, b.Size())

	gotA, err := os.ReadFile(filepath.Join(dir, "a.bin"))
	require.NoError(t, err)
	assert.Equal(t, payload[0:8192], gotA)
	gotB, err := os.ReadFile(filepath.Join(dir, "b.bin"))
	require.NoError(t, err)
	assert.Equal(t, payload[8192:20480], gotB)
}

func TestReadAfterVerify(t *testing.T) {
	dir := t.TempDir()
	payload := make([]byte, 16384)
	for i := range payload {
		payload[i] = byte(i)
	}
	info := singleFileInfo(t, payload, 16384)
	s, err := Open(dir, info, metainfo.Hash{})
	require.NoError(t, err)
	require.NoError(t, s.WriteBlock(0, 0, payload))
	_, err = s.TryFinalize(0)
	require.NoError(t, err)

	got, err := s.Read(0, 0, int64(len(payload)))
	require.NoError(t, err)
	sum := sha1.Sum(got)
	assert.Equal(t, info.PieceHash(0), sum)
}
