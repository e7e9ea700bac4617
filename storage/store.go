// Package storage maps (piece index, piece offset, length) addressing
// onto a metainfo-relative file layout, assembling, verifying, and
// persisting pieces.
package storage

import (
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring"
	async "github.com/anacrolix/sync"

	"github.com/kestrel-dev/torrentcore/metainfo"
)

// Store is the on-disk piece store for one torrent. Storage exclusively
// owns the open file handles backing it.
type Store struct {
	root     string
	info     *metainfo.Info
	infoHash metainfo.Hash
	files    *fileSet

	closed atomic.Bool

	haveMu sync.RWMutex
	have   *roaring.Bitmap

	// Assembly slots are single-writer (only the session delivering
	// blocks for a piece writes to it) and single-reader for
	// TryFinalize; assemblyMu only guards the map itself, not the slots.
	assemblyMu async.Mutex
	assembly   map[int]*pieceAssembly
}

// Open lays out (and, where missing, preallocates) every file the
// metainfo describes under root, and returns a Store ready to read and
// assemble pieces.
func Open(root string, info *metainfo.Info, infoHash metainfo.Hash) (*Store, error) {
	files, err := newFileSet(root, info.UpvertedFiles())
	if err != nil {
		return nil, err
	}
	return &Store{
		root:     root,
		info:     info,
		infoHash: infoHash,
		files:    files,
		have:     roaring.New(),
		assembly: make(map[int]*pieceAssembly),
	}, nil
}

func (s *Store) NumPieces() int { return s.info.NumPieces() }

func (s *Store) PieceLength(i int) int64 { return s.info.PieceLengthOf(i) }

// HaveBitmap returns a snapshot copy of the set of verified piece
// indices; callers may not observe future mutations through it.
func (s *Store) HaveBitmap() *roaring.Bitmap {
	s.haveMu.RLock()
	defer s.haveMu.RUnlock()
	return s.have.Clone()
}

func (s *Store) HasPiece(i int) bool {
	s.haveMu.RLock()
	defer s.haveMu.RUnlock()
	return s.have.Contains(uint32(i))
}

// MarkHave seeds the bitmap directly, used when resuming from a
// persisted resume file instead of re-verifying every
// piece from scratch. Callers are responsible for having actually
// verified the bytes on disk at some point.
func (s *Store) MarkHave(bm *roaring.Bitmap) {
	s.haveMu.Lock()
	defer s.haveMu.Unlock()
	s.have = bm.Clone()
}

// Read returns length bytes of piece pieceIndex starting at
// blockOffset, spanning file boundaries as needed. It reads whatever is
// on disk regardless of verification state, which is what the upload
// reply path wants.
func (s *Store) Read(pieceIndex int, blockOffset int64, length int64) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	globalOff := s.pieceGlobalOffset(pieceIndex) + blockOffset
	b := make([]byte, length)
	if err := s.files.readAt(b, globalOff); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Store) pieceGlobalOffset(pieceIndex int) int64 {
	return int64(pieceIndex) * s.info.PieceLength
}

// WriteBlock buffers a delivered block into the in-memory assembly slot
// for pieceIndex, creating the slot on first use.
func (s *Store) WriteBlock(pieceIndex int, blockOffset int64, data []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	asm := s.assemblySlot(pieceIndex)
	return asm.writeBlock(blockOffset, data)
}

func (s *Store) assemblySlot(pieceIndex int) *pieceAssembly {
	s.assemblyMu.Lock()
	defer s.assemblyMu.Unlock()
	asm, ok := s.assembly[pieceIndex]
	if !ok {
		asm = newPieceAssembly(s.PieceLength(pieceIndex), s.info.PieceHash(pieceIndex))
		s.assembly[pieceIndex] = asm
	}
	return asm
}

// TryFinalize checks whether pieceIndex's assembly slot has every block
// present; if so it hashes the assembled bytes, and on a match
// scatter-writes them to disk, flips the have-bitmap, and drops the
// buffer, all before returning Verified, so the write to disk always
// precedes the bitmap flip. On a mismatch the buffer is discarded and
// the piece's assembly slot is removed so selection can re-enter
// rarest-first for it.
func (s *Store) TryFinalize(pieceIndex int) (FinalizeResult, error) {
	if s.closed.Load() {
		return Incomplete, ErrClosed
	}
	s.assemblyMu.Lock()
	asm, ok := s.assembly[pieceIndex]
	s.assemblyMu.Unlock()
	if !ok || !asm.complete() {
		return Incomplete, nil
	}

	result, data := asm.finalize()
	switch result {
	case Mismatch:
		s.assemblyMu.Lock()
		delete(s.assembly, pieceIndex)
		s.assemblyMu.Unlock()
		return Mismatch, nil
	case Verified:
		if err := s.files.writeAt(data, s.pieceGlobalOffset(pieceIndex)); err != nil {
			return Incomplete, err
		}
		s.haveMu.Lock()
		s.have.Add(uint32(pieceIndex))
		s.haveMu.Unlock()
		s.assemblyMu.Lock()
		delete(s.assembly, pieceIndex)
		s.assemblyMu.Unlock()
		return Verified, nil
	default:
		return Incomplete, nil
	}
}

// DiscardAssembly drops any in-flight blocks for pieceIndex without
// touching the have-bitmap. Nothing in this module calls it:
// TryFinalize removes the slot itself on a mismatch, and a choke or
// disconnect leaves already-delivered blocks in place.
func (s *Store) DiscardAssembly(pieceIndex int) {
	s.assemblyMu.Lock()
	delete(s.assembly, pieceIndex)
	s.assemblyMu.Unlock()
}

func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}
