package tracker

import (
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompactPeerRoundTrip(t *testing.T) {
	peers := []Peer{
		{IP: net.IPv4(192, 168, 1, 2), Port: 6881},
		{IP: net.IPv4(10, 0, 0, 1), Port: 51413},
	}
	encoded := EncodeCompactPeers(peers)
	require.Len(t, encoded, 12)

	decoded, err := DecodeCompactPeers(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.True(t, decoded[0].IP.Equal(peers[0].IP))
	assert.Equal(t, 6881, decoded[0].Port)
	assert.True(t, decoded[1].IP.Equal(peers[1].IP))
	assert.Equal(t, 51413, decoded[1].Port)
}

func TestCompactPeersRejectsMisalignedLength(t *testing.T) {
	_, err := DecodeCompactPeers([]byte{1, 2, 3, 4, 5})
	assert.Error(t, err)
}

func TestPeerListUnmarshalsCompactForm(t *testing.T) {
	raw := EncodeCompactPeers([]Peer{{IP: net.IPv4(1, 2, 3, 4), Port: 80}})
	var pl peerList
	require.NoError(t, pl.UnmarshalBencode([]byte(bencodeString(raw))))
	require.Len(t, pl, 1)
	assert.Equal(t, 80, pl[0].Port)
}

func TestPeerListUnmarshalsDictionaryForm(t *testing.T) {
	var pl peerList
	raw := "l" + "d2:ip7:1.2.3.47:peer id20:AAAAAAAAAAAAAAAAAAAA4:porti6881ee" + "e"
	require.NoError(t, pl.UnmarshalBencode([]byte(raw)))
	require.Len(t, pl, 1)
	assert.Equal(t, "1.2.3.4", pl[0].IP.String())
	assert.Equal(t, 6881, pl[0].Port)
	assert.Equal(t, "AAAAAAAAAAAAAAAAAAAA", pl[0].ID)
}

func bencodeString(b []byte) string {
	return strconv.Itoa(len(b)) + ":" + string(b)
}
