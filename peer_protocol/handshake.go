package peer_protocol

import (
	"io"

	"github.com/kestrel-dev/torrentcore/metainfo"
)

// protocolString is the fixed preamble: one length byte followed by the
// literal ASCII protocol name.
const protocolString = "BitTorrent protocol"

// HandshakeLen is the exact byte length of a handshake frame.
const HandshakeLen = 1 + len(protocolString) + 8 + 20 + 20

// Handshake is the outbound/inbound 68-byte preamble that precedes the
// length-prefixed message stream.
type Handshake struct {
	Reserved [8]byte
	InfoHash metainfo.Hash
	PeerID   [20]byte
}

// WriteHandshake writes h in the exact wire layout: a 19, the protocol
// string, 8 reserved bytes, 20-byte info hash, 20-byte peer id.
func WriteHandshake(w io.Writer, h Handshake) error {
	buf := make([]byte, HandshakeLen)
	buf[0] = byte(len(protocolString))
	copy(buf[1:], protocolString)
	off := 1 + len(protocolString)
	copy(buf[off:off+8], h.Reserved[:])
	off += 8
	copy(buf[off:off+20], h.InfoHash[:])
	off += 20
	copy(buf[off:off+20], h.PeerID[:])
	_, err := w.Write(buf)
	return err
}

// ReadHandshake reads and validates an inbound handshake. If expected is
// non-zero, a mismatched info hash terminates with ErrInfoHashMismatch;
// a zero expected hash means the caller doesn't know the hash yet (it is
// acting as an inbound-accept listener that learns it from the peer).
func ReadHandshake(r io.Reader, expected metainfo.Hash) (Handshake, error) {
	buf := make([]byte, HandshakeLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Handshake{}, err
	}
	if int(buf[0]) != len(protocolString) || string(buf[1:1+len(protocolString)]) != protocolString {
		return Handshake{}, ErrHandshakeProtocolString
	}
	var h Handshake
	off := 1 + len(protocolString)
	copy(h.Reserved[:], buf[off:off+8])
	off += 8
	copy(h.InfoHash[:], buf[off:off+20])
	off += 20
	copy(h.PeerID[:], buf[off:off+20])

	var zero metainfo.Hash
	if expected != zero && h.InfoHash != expected {
		return h, ErrInfoHashMismatch
	}
	return h, nil
}
