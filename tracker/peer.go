package tracker

import (
	"encoding/binary"
	"net"

	"github.com/kestrel-dev/torrentcore/bencode"
)

// Peer is a unified representation of a tracker-announced endpoint,
// regardless of whether the response used the compact or dictionary
// form.
type Peer struct {
	IP   net.IP
	Port int
	ID   string
}

// DecodeCompactPeers parses the compact peer format: consecutive 6-byte
// records of 4-byte big-endian IPv4 address followed by 2-byte
// big-endian port.
func DecodeCompactPeers(b []byte) ([]Peer, error) {
	if len(b)%6 != 0 {
		return nil, failure("", "compact peers field is not a multiple of 6 bytes")
	}
	peers := make([]Peer, 0, len(b)/6)
	for i := 0; i < len(b); i += 6 {
		ip := net.IPv4(b[i], b[i+1], b[i+2], b[i+3])
		port := int(binary.BigEndian.Uint16(b[i+4 : i+6]))
		peers = append(peers, Peer{IP: ip, Port: port})
	}
	return peers, nil
}

// EncodeCompactPeers is the inverse of DecodeCompactPeers. It is not
// required by the protocol core (the core never acts as a tracker) but
// is useful for tests and for any resume-file peer cache that wants the
// same wire-compact representation on disk.
func EncodeCompactPeers(peers []Peer) []byte {
	out := make([]byte, 0, len(peers)*6)
	for _, p := range peers {
		v4 := p.IP.To4()
		if v4 == nil {
			continue
		}
		out = append(out, v4...)
		var portBuf [2]byte
		binary.BigEndian.PutUint16(portBuf[:], uint16(p.Port))
		out = append(out, portBuf[:]...)
	}
	return out
}

// dictPeer is one entry of the dictionary-form peer list.
type dictPeer struct {
	IP   string `bencode:"ip"`
	Port int    `bencode:"port"`
	ID   string `bencode:"peer id"`
}

// peerList decodes either wire form into a unified []Peer, dispatching
// on the underlying bencode value's kind: a byte string is the compact
// form, a list is the dictionary form.
type peerList []Peer

func (pl *peerList) UnmarshalBencode(b []byte) error {
	v, err := bencode.DecodeValue(b)
	if err != nil {
		return err
	}
	switch v.Kind {
	case bencode.KindBytes:
		peers, err := DecodeCompactPeers(v.Bytes)
		if err != nil {
			return err
		}
		*pl = peers
		return nil
	case bencode.KindList:
		out := make([]Peer, 0, len(v.List))
		for _, item := range v.List {
			var dp dictPeer
			if err := bencode.Unmarshal(bencode.EncodeValue(item), &dp); err != nil {
				return err
			}
			out = append(out, Peer{IP: net.ParseIP(dp.IP), Port: dp.Port, ID: dp.ID})
		}
		*pl = out
		return nil
	default:
		return failure("", "peers field is neither a byte string nor a list")
	}
}
