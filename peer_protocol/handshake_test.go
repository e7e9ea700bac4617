package peer_protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-dev/torrentcore/metainfo"
)

func TestHandshakeRoundTrip(t *testing.T) {
	var ih metainfo.Hash
	copy(ih[:], bytes.Repeat([]byte{0xAB}, 20))
	var pid [20]byte
	copy(pid[:], []byte("-KT0001-123456789012"))

	var buf bytes.Buffer
	require.NoError(t, WriteHandshake(&buf, Handshake{InfoHash: ih, PeerID: pid}))
	assert.Equal(t, HandshakeLen, buf.Len())

	got, err := ReadHandshake(&buf, ih)
	require.NoError(t, err)
	assert.Equal(t, ih, got.InfoHash)
	assert.Equal(t, pid, got.PeerID)
}

func TestHandshakeInfoHashMismatch(t *testing.T) {
	var ih, other metainfo.Hash
	copy(ih[:], bytes.Repeat([]byte{0x11}, 20))
	copy(other[:], bytes.Repeat([]byte{0x22}, 20))

	var buf bytes.Buffer
	require.NoError(t, WriteHandshake(&buf, Handshake{InfoHash: ih}))

	_, err := ReadHandshake(&buf, other)
	assert.ErrorIs(t, err, ErrInfoHashMismatch)
}

func TestHandshakeBadProtocolString(t *testing.T) {
	buf := bytes.NewBuffer(make([]byte, HandshakeLen))
	_, err := ReadHandshake(buf, metainfo.Hash{})
	assert.ErrorIs(t, err, ErrHandshakeProtocolString)
}
