package torrentcore

import "github.com/pkg/errors"

// Kind classifies every error the engine can surface, per the error
// taxonomy: MalformedBencode and InvalidMetainfo are fatal at load
// time; StorageIo is fatal to the torrent; the rest are recovered
// locally by dropping the offending session or tracker tier.
type Kind int

const (
	KindUnknown Kind = iota
	KindMalformedBencode
	KindInvalidMetainfo
	KindStorageIO
	KindPieceVerificationFailed
	KindTrackerFailure
	KindProtocolViolation
	KindInfoHashMismatch
	KindConnectTimeout
	KindRequestTimeout
	KindPeerClosed
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindMalformedBencode:
		return "MalformedBencode"
	case KindInvalidMetainfo:
		return "InvalidMetainfo"
	case KindStorageIO:
		return "StorageIo"
	case KindPieceVerificationFailed:
		return "PieceVerificationFailed"
	case KindTrackerFailure:
		return "TrackerFailure"
	case KindProtocolViolation:
		return "ProtocolViolation"
	case KindInfoHashMismatch:
		return "InfoHashMismatch"
	case KindConnectTimeout:
		return "ConnectTimeout"
	case KindRequestTimeout:
		return "RequestTimeout"
	case KindPeerClosed:
		return "PeerClosed"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with the Kind the rest of the engine
// branches on, so callers can classify failures without string
// matching.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Kind.String() + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

func wrapErr(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(&Error{Kind: kind, Err: err})
}

// Fatal reports whether kind always ends the torrent rather than being
// recovered locally.
func (k Kind) Fatal() bool {
	switch k {
	case KindMalformedBencode, KindInvalidMetainfo, KindStorageIO:
		return true
	default:
		return false
	}
}
