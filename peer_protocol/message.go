// Package peer_protocol implements the BitTorrent peer wire protocol:
// the handshake and the length-prefixed message stream that follows it.
package peer_protocol

import "fmt"

// MessageType is the single byte that follows the length prefix of every
// non-keepalive message.
type MessageType byte

const (
	Choke         MessageType = 0
	Unchoke       MessageType = 1
	Interested    MessageType = 2
	NotInterested MessageType = 3
	Have          MessageType = 4
	Bitfield      MessageType = 5
	Request       MessageType = 6
	Piece         MessageType = 7
	Cancel        MessageType = 8
)

func (t MessageType) String() string {
	switch t {
	case Choke:
		return "choke"
	case Unchoke:
		return "unchoke"
	case Interested:
		return "interested"
	case NotInterested:
		return "not_interested"
	case Have:
		return "have"
	case Bitfield:
		return "bitfield"
	case Request:
		return "request"
	case Piece:
		return "piece"
	case Cancel:
		return "cancel"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

// Message is the decoded form of any frame in the post-handshake stream.
// Only the fields relevant to Type are meaningful.
type Message struct {
	Keepalive bool
	Type      MessageType

	Index  uint32 // have, request, piece, cancel
	Begin  uint32 // request, piece, cancel
	Length uint32 // request, cancel

	Block    []byte // piece payload
	Bitfield []byte // raw bitfield bytes, MSB-first
}

func (m Message) String() string {
	if m.Keepalive {
		return "keepalive"
	}
	switch m.Type {
	case Have:
		return fmt.Sprintf("have(%d)", m.Index)
	case Request, Cancel:
		return fmt.Sprintf("%s(piece=%d begin=%d len=%d)", m.Type, m.Index, m.Begin, m.Length)
	case Piece:
		return fmt.Sprintf("piece(piece=%d begin=%d len=%d)", m.Index, m.Begin, len(m.Block))
	default:
		return m.Type.String()
	}
}
