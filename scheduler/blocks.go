package scheduler

import "github.com/RoaringBitmap/roaring"

// BlockSize is the wire unit of a block request; only the final block of
// the final piece may be shorter.
const BlockSize = 16384

// BlocksForPiece enumerates every block of a piece of the given length,
// shortening the last one as needed.
func BlocksForPiece(pieceIndex int, pieceLength int64) []BlockRequest {
	var out []BlockRequest
	for off := int64(0); off < pieceLength; off += BlockSize {
		length := int64(BlockSize)
		if off+length > pieceLength {
			length = pieceLength - off
		}
		out = append(out, BlockRequest{PieceIndex: pieceIndex, BlockOffset: off, Length: length})
	}
	return out
}

// pieceBlocks tracks, for one needed piece, which blocks have never been
// assigned to any peer (unassigned) versus which are in flight
// (assigned, keyed by block index to the set of peers holding that
// request — more than one peer only during endgame).
type pieceBlocks struct {
	length     int64
	blocks     []BlockRequest
	unassigned *roaring.Bitmap
	holders    map[int]map[PeerID]struct{}
}

func newPieceBlocks(pieceIndex int, pieceLength int64) *pieceBlocks {
	blocks := BlocksForPiece(pieceIndex, pieceLength)
	unassigned := roaring.New()
	for i := range blocks {
		unassigned.Add(uint32(i))
	}
	return &pieceBlocks{
		length:     pieceLength,
		blocks:     blocks,
		unassigned: unassigned,
		holders:    make(map[int]map[PeerID]struct{}),
	}
}

func (p *pieceBlocks) allAssigned() bool { return p.unassigned.IsEmpty() }

// takeUnassigned returns up to n blocks that have never been assigned to
// anyone and marks them assigned to peer.
func (p *pieceBlocks) takeUnassigned(peer PeerID, n int) []BlockRequest {
	var out []BlockRequest
	it := p.unassigned.Iterator()
	for it.HasNext() && len(out) < n {
		bi := it.Next()
		p.unassigned.Remove(bi)
		p.assignTo(int(bi), peer)
		out = append(out, p.blocks[bi])
	}
	return out
}

// takeDuplicates returns up to n already-assigned blocks that peer does
// not already hold, for endgame duplication. The caller is responsible
// for checking that endgame is active.
func (p *pieceBlocks) takeDuplicates(peer PeerID, n int) []BlockRequest {
	var out []BlockRequest
	for bi, holders := range p.holders {
		if len(out) >= n {
			break
		}
		if _, already := holders[peer]; already {
			continue
		}
		p.assignTo(bi, peer)
		out = append(out, p.blocks[bi])
	}
	return out
}

func (p *pieceBlocks) assignTo(blockIndex int, peer PeerID) {
	h, ok := p.holders[blockIndex]
	if !ok {
		h = make(map[PeerID]struct{})
		p.holders[blockIndex] = h
	}
	h[peer] = struct{}{}
}

// release returns every block peer was holding back to unassigned,
// unless another peer also holds it (endgame), and returns the list of
// block requests peer no longer holds.
func (p *pieceBlocks) release(peer PeerID) []BlockRequest {
	var freed []BlockRequest
	for bi, holders := range p.holders {
		if _, ok := holders[peer]; !ok {
			continue
		}
		delete(holders, peer)
		freed = append(freed, p.blocks[bi])
		if len(holders) == 0 {
			delete(p.holders, bi)
			p.unassigned.Add(uint32(bi))
		}
	}
	return freed
}

// releaseOne returns blockIndex to unassigned if peer holds it, unless
// another peer also holds it (endgame). It reports whether peer held
// the block at all.
func (p *pieceBlocks) releaseOne(peer PeerID, blockIndex int) bool {
	holders, ok := p.holders[blockIndex]
	if !ok {
		return false
	}
	if _, ok := holders[peer]; !ok {
		return false
	}
	delete(holders, peer)
	if len(holders) == 0 {
		delete(p.holders, blockIndex)
		p.unassigned.Add(uint32(blockIndex))
	}
	return true
}

// otherHolders lists peers (other than winner) that were also assigned
// blockIndex, used to issue cancels when the block's first delivery
// wins the endgame race.
func (p *pieceBlocks) otherHolders(blockIndex int, winner PeerID) []PeerID {
	var out []PeerID
	for peer := range p.holders[blockIndex] {
		if peer != winner {
			out = append(out, peer)
		}
	}
	return out
}

func (p *pieceBlocks) clearBlock(blockIndex int) {
	delete(p.holders, blockIndex)
}

// hasDuplicateCapacityFor reports whether some already-assigned block
// exists that peer does not yet hold, i.e. whether takeDuplicates would
// return anything for peer right now.
func (p *pieceBlocks) hasDuplicateCapacityFor(peer PeerID) bool {
	for _, holders := range p.holders {
		if _, ok := holders[peer]; !ok {
			return true
		}
	}
	return false
}

func blockIndexOf(off int64) int { return int(off / BlockSize) }
