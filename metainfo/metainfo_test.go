package metainfo

import (
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-dev/torrentcore/bencode"
)

func buildSingleFile(t *testing.T, payload []byte, pieceLength int64) []byte {
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
	info := Info{Name: "file.bin", PieceLength: pieceLength, Pieces: pieces, Length: int64(len(payload))}
	infoBytes, err := bencode.Marshal(info)
	require.NoError(t, err)

	root := bencode.Value{Kind: bencode.KindDict, Dict: &bencode.Dict{Entries: []bencode.DictEntry{
		{Key: []byte("announce"), Val: bencode.Value{Kind: bencode.KindBytes, Bytes: []byte("http://tracker.example/announce")}},
	}}}
	infoVal, err := bencode.DecodeValue(infoBytes)
	require.NoError(t, err)
	root.Dict.Entries = append(root.Dict.Entries, bencode.DictEntry{Key: []byte("info"), Val: infoVal})
	return bencode.EncodeValue(root)
}

func TestParseSingleFileRoundTrip(t *testing.T) {
	payload := make([]byte, 32768)
	for i := range payload {
		payload[i] = byte(i % 128)
	}
	buf := buildSingleFile(t, payload, 16384)

	mi, err := Parse(buf)
	require.NoError(t, err)
	assert.Equal(t, "http://tracker.example/announce", mi.Announce)
	assert.Equal(t, 2, mi.Info.NumPieces())
	assert.EqualValues(t, 32768, mi.Info.TotalLength())

	h := sha1.Sum(mi.InfoBytes)
	assert.Equal(t, Hash(h), mi.InfoHash)
}

func TestParseLastPieceShort(t *testing.T) {
	payload := make([]byte, 20000)
	buf := buildSingleFile(t, payload, 16384)
	mi, err := Parse(buf)
	require.NoError(t, err)
	require.Equal(t, 2, mi.Info.NumPieces())
	assert.EqualValues(t, 3616, mi.Info.PieceLengthOf(1))
}

func TestInfoHashUsesOriginalSpanNotReencoding(t *testing.T) {
	// A hand-written, non-canonical but valid metainfo buffer: the info
	// dict has its keys in non-canonical order. Re-encoding canonically
	// before hashing would change the hash; Parse must not do that.
	info := "d4:name4:abcd6:lengthi4e12:piece lengthi4e6:pieces20:AAAAAAAAAAAAAAAAAAAAe"
	full := "d8:announce15:http://x.test/a4:info" + info + "e"
	mi, err := Parse([]byte(full))
	require.NoError(t, err)
	want := sha1.Sum([]byte(info))
	assert.Equal(t, Hash(want), mi.InfoHash)
}

func TestUpvertedFilesSingle(t *testing.T) {
	info := Info{Name: "solo.bin", Length: 100, PieceLength: 50, Pieces: make([]byte, 40)}
	files := info.UpvertedFiles()
	require.Len(t, files, 1)
	assert.Equal(t, []string{"solo.bin"}, files[0].Path)
	assert.EqualValues(t, 0, files[0].Offset)
}

func TestUpvertedFilesMulti(t *testing.T) {
	info := Info{
		Name:        "multi",
		PieceLength: 16384,
		Pieces:      make([]byte, 40),
		Files: []FileInfo{
			{Path: []string{"a.bin"}, Length: 8192},
			{Path: []string{"sub", "b.bin"}, Length: 12288},
		},
	}
	files := info.UpvertedFiles()
	require.Len(t, files, 2)
	assert.EqualValues(t, 0, files[0].Offset)
	assert.EqualValues(t, 8192, files[1].Offset)
	assert.EqualValues(t, 20480, info.TotalLength())
}

func TestValidateRejectsBadPieceLength(t *testing.T) {
	info := Info{Name: "x", PieceLength: 0, Pieces: make([]byte, 20), Length: 10}
	assert.Error(t, info.Validate())
}

func TestValidateRejectsMisalignedPieces(t *testing.T) {
	info := Info{Name: "x", PieceLength: 10, Pieces: make([]byte, 19), Length: 10}
	assert.Error(t, info.Validate())
}

func TestFullPathRejectsEscape(t *testing.T) {
	fi := FileInfo{Path: []string{"..", "etc", "passwd"}}
	_, err := fi.FullPath("/tmp/downloads")
	assert.Error(t, err)
}
