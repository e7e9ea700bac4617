package storage

import (
	"crypto/sha1"

	"github.com/RoaringBitmap/roaring"
)

// BlockSize is the wire unit of a block request; all
// but the last block of the last piece are exactly this long.
const BlockSize = 16384

// FinalizeResult is the outcome of TryFinalize.
type FinalizeResult int

const (
	Incomplete FinalizeResult = iota
	Verified
	Mismatch
)

// pieceAssembly buffers the blocks of one in-flight piece. Presence is
// tracked per block index in a roaring bitmap rather than inferred from
// the buffer's bytes, because a legitimate piece may contain runs of
// zero bytes that a "non-zero" heuristic would mistake for missing data
// (see the Design Notes' "Piece completeness check").
type pieceAssembly struct {
	length      int64
	expected    [20]byte
	buf         []byte
	present     *roaring.Bitmap
	totalBlocks uint32
}

func newPieceAssembly(length int64, expected [20]byte) *pieceAssembly {
	total := uint32((length + BlockSize - 1) / BlockSize)
	return &pieceAssembly{
		length:      length,
		expected:    expected,
		buf:         make([]byte, length),
		present:     roaring.New(),
		totalBlocks: total,
	}
}

func (p *pieceAssembly) writeBlock(offset int64, data []byte) error {
	if offset < 0 || offset+int64(len(data)) > p.length {
		return wrapIO("writeBlock", errRangeOutOfBounds)
	}
	copy(p.buf[offset:], data)
	p.present.Add(uint32(offset / BlockSize))
	return nil
}

func (p *pieceAssembly) complete() bool {
	return uint32(p.present.GetCardinality()) >= p.totalBlocks
}

// finalize returns Mismatch or Verified along with the assembled bytes
// (only meaningful on Verified).
func (p *pieceAssembly) finalize() (FinalizeResult, []byte) {
	sum := sha1.Sum(p.buf)
	if sum != p.expected {
		return Mismatch, nil
	}
	return Verified, p.buf
}

// errRangeOutOfBounds is returned when a block write falls outside the
// piece's declared length — a peer sending a malformed piece message.
var errRangeOutOfBounds = simpleErr("block write out of piece bounds")

type simpleErr string

func (e simpleErr) Error() string { return string(e) }
