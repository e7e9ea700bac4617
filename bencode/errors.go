package bencode

import (
	"fmt"

	"github.com/pkg/errors"
)

// MalformedBencode is returned for any structural error encountered while
// scanning a bencoded buffer: missing terminator, non-digit length,
// negative length, length overflow, truncated input, or trailing garbage
// at the top level.
type MalformedBencode struct {
	Offset int
	Reason string
}

func (e *MalformedBencode) Error() string {
	return fmt.Sprintf("bencode: malformed input at offset %d: %s", e.Offset, e.Reason)
}

func malformed(offset int, reason string) error {
	return errors.WithStack(&MalformedBencode{Offset: offset, Reason: reason})
}

// MarshalTypeError is returned by Marshal when a Go value has no bencode
// representation (floats, channels, funcs, complex numbers).
type MarshalTypeError struct {
	Type string
}

func (e *MarshalTypeError) Error() string {
	return "bencode: unsupported type: " + e.Type
}

// UnmarshalTypeError is returned by Unmarshal when a decoded value cannot
// be assigned into the destination Go type.
type UnmarshalTypeError struct {
	Value string
	Type  string
}

func (e *UnmarshalTypeError) Error() string {
	return "bencode: value (" + e.Value + ") is not appropriate for type: " + e.Type
}

// ErrUnusedTrailingBytes is returned by Unmarshal when trailing bytes
// remain after a single well-formed value has been decoded.
type ErrUnusedTrailingBytes struct {
	NumUnusedBytes int
}

func (e ErrUnusedTrailingBytes) Error() string {
	return fmt.Sprintf("%d unused trailing bytes", e.NumUnusedBytes)
}
