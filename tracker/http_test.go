package tracker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-dev/torrentcore/metainfo"
)

func TestAnnounceParsesCompactPeers(t *testing.T) {
	peers := EncodeCompactPeers([]Peer{{IP: []byte{1, 2, 3, 4}, Port: 6881}})
	body := "d8:intervali1800e5:peers" + bencodeString(peers) + "e"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("compact"))
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c := NewClient()
	resp, err := c.Announce(context.Background(), srv.URL, AnnounceRequest{
		InfoHash: metainfo.Hash{1},
		PeerID:   [20]byte{2},
		Port:     6881,
		Left:     1000,
		Event:    Started,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1800, resp.Interval)
	require.Len(t, resp.Peers, 1)
	assert.Equal(t, 6881, resp.Peers[0].Port)
}

func TestAnnounceSurfacesFailureReasonWithoutRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("d14:failure reason17:torrent not founde"))
	}))
	defer srv.Close()

	c := NewClient()
	_, err := c.Announce(context.Background(), srv.URL, AnnounceRequest{})
	require.Error(t, err)
	var tf *TrackerFailure
	require.ErrorAs(t, err, &tf)
	assert.Equal(t, "torrent not found", tf.Reason)
}

func TestAnnounceHookMutatesQueryAndHeaders(t *testing.T) {
	var gotHeader string
	var gotPeerID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Identity")
		gotPeerID = r.URL.Query().Get("peer_id")
		w.Write([]byte("d8:intervali900ee"))
	}))
	defer srv.Close()

	c := NewClient()
	c.Hook = func(q url.Values, h http.Header) {
		q.Set("peer_id", "overridden-peer-id-xx")
		h.Set("X-Identity", "stealth")
	}
	_, err := c.Announce(context.Background(), srv.URL, AnnounceRequest{})
	require.NoError(t, err)
	assert.Equal(t, "stealth", gotHeader)
	assert.Equal(t, "overridden-peer-id-xx", gotPeerID)
}

func TestAnnounceNonOKStatusIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := NewClient()
	_, err := c.Announce(context.Background(), srv.URL, AnnounceRequest{})
	require.Error(t, err)
}
