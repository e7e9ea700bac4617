package peer_protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, numPieces int, msg Message) Message {
	t.Helper()
	b, err := msg.MarshalBinary()
	require.NoError(t, err)
	d := NewDecoder(bytes.NewReader(b), numPieces)
	var out Message
	require.NoError(t, d.Decode(&out))
	return out
}

func TestRoundTripChoke(t *testing.T) {
	out := roundTrip(t, 0, Message{Type: Choke})
	assert.Equal(t, Choke, out.Type)
}

func TestRoundTripRequest(t *testing.T) {
	out := roundTrip(t, 0, Message{Type: Request, Index: 3, Begin: 16384, Length: 3616})
	assert.Equal(t, uint32(3), out.Index)
	assert.Equal(t, uint32(16384), out.Begin)
	assert.Equal(t, uint32(3616), out.Length)
}

func TestRoundTripPiece(t *testing.T) {
	block := []byte("hello block")
	out := roundTrip(t, 0, Message{Type: Piece, Index: 1, Begin: 0, Block: block})
	assert.Equal(t, block, out.Block)
}

func TestKeepAlive(t *testing.T) {
	d := NewDecoder(bytes.NewReader([]byte{0, 0, 0, 0}), 0)
	var msg Message
	require.NoError(t, d.Decode(&msg))
	assert.True(t, msg.Keepalive)
}

func TestFrameTooLargeIsProtocolViolation(t *testing.T) {
	huge := make([]byte, 4)
	huge[0] = 0xFF // absurd length, well over DefaultMaxFrameLength
	d := NewDecoder(bytes.NewReader(huge), 0)
	var msg Message
	err := d.Decode(&msg)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestBitfieldPaddingMustBeZero(t *testing.T) {
	// 5 pieces needs 1 byte with 3 pad bits; set a pad bit to 1.
	raw := MarshalBitfield([]bool{true, false, true, false, true})
	raw[0] |= 0x01 // low bit is a pad bit for numPieces=5

	frame := Message{Type: Bitfield, Bitfield: raw}
	b, err := frame.MarshalBinary()
	require.NoError(t, err)
	d := NewDecoder(bytes.NewReader(b), 5)
	var out Message
	err = d.Decode(&out)
	assert.ErrorIs(t, err, ErrBitfieldPadding)
}

func TestBitfieldRoundTrip(t *testing.T) {
	have := []bool{true, false, true, true, false, false, true, true, true}
	raw := MarshalBitfield(have)
	got := UnmarshalBitfield(raw, len(have))
	assert.Equal(t, have, got)
}

func TestLateBitfieldIsViolation(t *testing.T) {
	var buf bytes.Buffer
	first, _ := Message{Type: Choke}.MarshalBinary()
	buf.Write(first)
	second, _ := Message{Type: Bitfield, Bitfield: MarshalBitfield([]bool{true})}.MarshalBinary()
	buf.Write(second)

	d := NewDecoder(&buf, 1)
	var msg Message
	require.NoError(t, d.Decode(&msg)) // choke, fine
	err := d.Decode(&msg)
	assert.ErrorIs(t, err, ErrLateBitfield)
}
