package peer_protocol

import "github.com/pkg/errors"

var (
	// ErrFrameTooLarge is returned when a frame's declared length exceeds
	// the decoder's configured maximum.
	ErrFrameTooLarge = errors.New("peer_protocol: frame exceeds maximum length")
	// ErrBitfieldPadding is returned when a bitfield message's trailing
	// pad bits, beyond NumPieces, are not all zero.
	ErrBitfieldPadding = errors.New("peer_protocol: bitfield padding bits are not zero")
	// ErrLateBitfield is returned when a bitfield message arrives after
	// the first post-handshake message.
	ErrLateBitfield = errors.New("peer_protocol: bitfield received after first message")
	// ErrUnknownMessageType is returned for a message type byte outside
	// the 0-8 range this protocol defines.
	ErrUnknownMessageType = errors.New("peer_protocol: unknown message type")
	// ErrHandshakeProtocolString is returned when the handshake's fixed
	// preamble byte/string does not match "\x13BitTorrent protocol".
	ErrHandshakeProtocolString = errors.New("peer_protocol: bad handshake protocol string")
	// ErrInfoHashMismatch is returned when a handshake's info hash does
	// not match the one expected for the connection.
	ErrInfoHashMismatch = errors.New("peer_protocol: info hash mismatch")
)
