package torrentcore

import (
	"net/http"
	"net/url"
)

// IdentityProvider is the external collaborator that may rewrite what
// a swarm observes about this client: its advertised peer-id, listen
// port, source IP, and the outgoing tracker request. The engine only
// consumes this interface; nothing in this module implements it.
type IdentityProvider interface {
	// PeerID returns the 20-byte peer-id to present on handshakes and
	// tracker announces.
	PeerID() [20]byte
	// ListenPort returns the TCP port advertised to trackers.
	ListenPort() int
	// WrapAnnounceRequest is called immediately before a tracker
	// request is sent; it may mutate the query parameters or headers
	// but never the transport or destination.
	WrapAnnounceRequest(q url.Values, h http.Header)
}
