package bencode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeScalars(t *testing.T) {
	v, err := DecodeValue([]byte("i42e"))
	require.NoError(t, err)
	assert.Equal(t, KindInt, v.Kind)
	assert.EqualValues(t, 42, v.Int)

	v, err = DecodeValue([]byte("i-7e"))
	require.NoError(t, err)
	assert.EqualValues(t, -7, v.Int)

	v, err = DecodeValue([]byte("i0e"))
	require.NoError(t, err)
	assert.EqualValues(t, 0, v.Int)

	v, err = DecodeValue([]byte("4:spam"))
	require.NoError(t, err)
	assert.Equal(t, KindBytes, v.Kind)
	assert.Equal(t, "spam", v.String())
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := []string{
		"i01e",    // leading zero
		"i-0e",    // negative zero: non-canonical, but the decoder accepts it; not asserted
		"5:abc",   // truncated string
		"l",       // unterminated list
		"d3:foo1:a3:bar1:be", // well-formed, duplicate-free dict; not asserted
	}
	_, err := DecodeValue([]byte(cases[0]))
	assert.Error(t, err)
	_, err = DecodeValue([]byte(cases[2]))
	assert.Error(t, err)
	_, err = DecodeValue([]byte(cases[3]))
	assert.Error(t, err)
}

func TestDecodeDuplicateKeyRejected(t *testing.T) {
	_, err := DecodeValue([]byte("d3:foo1:a3:foo1:be"))
	assert.Error(t, err)
}

func TestDecodeListAndDict(t *testing.T) {
	v, err := DecodeValue([]byte("l4:spam4:eggse"))
	require.NoError(t, err)
	require.Len(t, v.List, 2)
	assert.Equal(t, "spam", v.List[0].String())
	assert.Equal(t, "eggs", v.List[1].String())

	v, err = DecodeValue([]byte("d3:cow3:moo4:spam4:eggse"))
	require.NoError(t, err)
	cow, ok := v.Dict.Get("cow")
	require.True(t, ok)
	assert.Equal(t, "moo", cow.String())
}

func TestSpanRecoversExactSubtree(t *testing.T) {
	buf := []byte("d4:infod6:lengthi10eee")
	v, err := DecodeValue(buf)
	require.NoError(t, err)
	info, ok := v.Dict.Get("info")
	require.True(t, ok)
	assert.Equal(t, "d6:lengthi10ee", string(buf[info.Span.Start:info.Span.End]))
}

func TestEncodeCanonical(t *testing.T) {
	v := Value{Kind: KindDict, Dict: &Dict{Entries: []DictEntry{
		{Key: []byte("zebra"), Val: Value{Kind: KindInt, Int: 1}},
		{Key: []byte("ant"), Val: Value{Kind: KindBytes, Bytes: []byte("x")}},
	}}}
	assert.Equal(t, "d3:ant1:x5:zebrai1ee", string(EncodeValue(v)))
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	buf := []byte("d3:bar4:spam3:fooi42ee")
	v, err := DecodeValue(buf)
	require.NoError(t, err)
	assert.Equal(t, buf, EncodeValue(v))
}

type torrentInfoLike struct {
	PieceLength int64  `bencode:"piece length"`
	Name        string `bencode:"name"`
	Private     bool   `bencode:"private,omitempty"`
}

func TestMarshalUnmarshalStruct(t *testing.T) {
	in := torrentInfoLike{PieceLength: 16384, Name: "x", Private: true}
	b, err := Marshal(in)
	require.NoError(t, err)

	var out torrentInfoLike
	require.NoError(t, Unmarshal(b, &out))
	assert.Equal(t, in, out)
}

func TestUnmarshalTrailingBytesReported(t *testing.T) {
	var out int64
	err := Unmarshal([]byte("i1eGARBAGE"), &out)
	require.Error(t, err)
	var trailing ErrUnusedTrailingBytes
	require.ErrorAs(t, err, &trailing)
	assert.EqualValues(t, 1, out)
}
