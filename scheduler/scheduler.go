package scheduler

import (
	"math/rand"

	"github.com/RoaringBitmap/roaring"
	async "github.com/anacrolix/sync"
)

// Scheduler implements PieceScheduler: it owns rarity-
// ordered piece selection, per-peer pipeline budgets, and the endgame
// duplicate-request rule, independent of wire encoding and storage.
type Scheduler struct {
	mu async.Mutex

	cfg         Config
	numPieces   int
	pieceLength func(int) int64

	have  *roaring.Bitmap // verified, no longer needed
	order *pieceOrder     // needed pieces, rarest first
	rarity map[int]int

	active map[int]*pieceBlocks // pieces with at least one block assigned

	peerHave    map[PeerID]*roaring.Bitmap
	unchoked    map[PeerID]bool
	outstanding map[PeerID]int // outstanding request count, for pipeline budget

	verifiedAny bool
	rng         *rand.Rand
}

// NewScheduler constructs a Scheduler for a torrent with numPieces
// pieces, given pieceLength(i) and the set of pieces already verified
// (e.g. from a resume file).
func NewScheduler(cfg Config, numPieces int, pieceLength func(int) int64, have *roaring.Bitmap) *Scheduler {
	s := &Scheduler{
		cfg:         cfg,
		numPieces:   numPieces,
		pieceLength: pieceLength,
		have:        have.Clone(),
		order:       newPieceOrder(),
		rarity:      make(map[int]int),
		active:      make(map[int]*pieceBlocks),
		peerHave:    make(map[PeerID]*roaring.Bitmap),
		unchoked:    make(map[PeerID]bool),
		outstanding: make(map[PeerID]int),
		verifiedAny: !have.IsEmpty(),
		rng:         rand.New(rand.NewSource(1)),
	}
	for i := 0; i < numPieces; i++ {
		if !s.have.Contains(uint32(i)) {
			s.order.add(i, 0)
		}
	}
	return s
}

// AddPeer registers a newly connected peer with no known pieces yet.
func (s *Scheduler) AddPeer(peer PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peerHave[peer] = roaring.New()
}

// RemovePeer drops a disconnected peer and returns the blocks it was
// holding so the caller can let other peers pick them up; those blocks
// go back to unassigned unless another peer also held them. Rarity
// counts contributed by peer's bitfield are backed out so the order
// reflects only currently-connected peers.
func (s *Scheduler) RemovePeer(peer PeerID) []BlockRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var freed []BlockRequest
	for _, blocks := range s.active {
		freed = append(freed, blocks.release(peer)...)
	}
	if bm, ok := s.peerHave[peer]; ok {
		it := bm.Iterator()
		for it.HasNext() {
			s.removeRarity(int(it.Next()))
		}
	}
	delete(s.peerHave, peer)
	delete(s.unchoked, peer)
	delete(s.outstanding, peer)
	return freed
}

func (s *Scheduler) removeRarity(index int) {
	if s.rarity[index] > 0 {
		s.rarity[index]--
	}
	if s.have.Contains(uint32(index)) {
		return
	}
	s.order.add(index, s.rarity[index])
}

// OnBitfield records every piece peer claims to have and updates rarity.
func (s *Scheduler) OnBitfield(peer PeerID, have []bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bm, ok := s.peerHave[peer]
	if !ok {
		bm = roaring.New()
		s.peerHave[peer] = bm
	}
	for i, v := range have {
		if v {
			s.addRarity(i)
			bm.Add(uint32(i))
		}
	}
}

// OnHave records a single piece announced via a "have" message.
func (s *Scheduler) OnHave(peer PeerID, index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bm, ok := s.peerHave[peer]
	if !ok {
		bm = roaring.New()
		s.peerHave[peer] = bm
	}
	if bm.Contains(uint32(index)) {
		return
	}
	bm.Add(uint32(index))
	s.addRarity(index)
}

func (s *Scheduler) addRarity(index int) {
	s.rarity[index]++
	if s.have.Contains(uint32(index)) {
		return
	}
	s.order.add(index, s.rarity[index])
}

// PeerHasUsefulPiece reports whether peer advertises any piece we still
// need, the trigger for sending "interested".
func (s *Scheduler) PeerHasUsefulPiece(peer PeerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	bm, ok := s.peerHave[peer]
	if !ok {
		return false
	}
	needed := roaring.AndNot(bm, s.have)
	return !needed.IsEmpty()
}

// SetUnchoked updates whether peer has us unchoked. Transitioning to
// choked releases every block outstanding to that peer back to the
// pool.
func (s *Scheduler) SetUnchoked(peer PeerID, unchoked bool) []BlockRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unchoked[peer] = unchoked
	if unchoked {
		return nil
	}
	var freed []BlockRequest
	for _, blocks := range s.active {
		freed = append(freed, blocks.release(peer)...)
	}
	s.outstanding[peer] = 0
	return freed
}

// NextRequests fills peer's pipeline up to the configured budget,
// selecting rarest-first among needed pieces, falling back to endgame
// duplication once every block of every needed piece has been assigned.
func (s *Scheduler) NextRequests(peer PeerID) []BlockRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.unchoked[peer] {
		return nil
	}
	budget := s.cfg.PipelineBudget - s.outstanding[peer]
	if budget <= 0 {
		return nil
	}
	peerHave := s.peerHave[peer]
	if peerHave == nil {
		return nil
	}

	var out []BlockRequest
	for len(out) < budget {
		index := s.pickPiece(peer, peerHave)
		if index < 0 {
			break
		}
		blocks := s.activeBlocks(index)
		got := blocks.takeUnassigned(peer, budget-len(out))
		if len(got) == 0 {
			got = blocks.takeDuplicates(peer, budget-len(out))
			if len(got) == 0 {
				break
			}
		}
		out = append(out, got...)
	}
	s.outstanding[peer] += len(out)
	return out
}

// pickPiece chooses the next piece index to request blocks from,
// preferring a small random window among the rarest candidates until
// the first piece has ever verified, then strict rarest-first with
// ties broken by lowest index thereafter. A piece with a genuinely
// unassigned block always wins over one that only has duplicate
// (endgame) capacity left, regardless of rarity, so duplication never
// fires while some needed piece hasn't been requested at least once.
func (s *Scheduler) pickPiece(peer PeerID, peerHave *roaring.Bitmap) int {
	if !s.verifiedAny && s.cfg.RandomEarlyPieceWindow > 0 {
		var window []int
		s.order.ascend(func(index int) bool {
			if peerHave.Contains(uint32(index)) && s.hasUnassignedCapacity(index) {
				window = append(window, index)
			}
			return len(window) < s.cfg.RandomEarlyPieceWindow
		})
		if len(window) > 0 {
			return window[s.rng.Intn(len(window))]
		}
		return -1
	}

	found := -1
	s.order.ascend(func(index int) bool {
		if peerHave.Contains(uint32(index)) && s.hasUnassignedCapacity(index) {
			found = index
			return false
		}
		return true
	})
	if found >= 0 {
		return found
	}

	// Endgame duplication is allowed only once every needed piece, not
	// just the ones peer holds, has had all its blocks requested.
	pending := false
	s.order.ascend(func(index int) bool {
		pending = s.hasUnassignedCapacity(index)
		return !pending
	})
	if pending {
		return -1
	}
	s.order.ascend(func(index int) bool {
		if peerHave.Contains(uint32(index)) && s.hasDuplicateCapacity(index, peer) {
			found = index
			return false
		}
		return true
	})
	return found
}

// hasUnassignedCapacity reports whether index has a block that has
// never been assigned to anyone.
func (s *Scheduler) hasUnassignedCapacity(index int) bool {
	blocks, ok := s.active[index]
	if !ok {
		return true
	}
	return !blocks.allAssigned()
}

// hasDuplicateCapacity reports whether index is fully assigned but has
// a block peer does not already hold, the endgame case.
func (s *Scheduler) hasDuplicateCapacity(index int, peer PeerID) bool {
	blocks, ok := s.active[index]
	if !ok {
		return false
	}
	return blocks.hasDuplicateCapacityFor(peer)
}

func (s *Scheduler) activeBlocks(index int) *pieceBlocks {
	b, ok := s.active[index]
	if !ok {
		b = newPieceBlocks(index, s.pieceLength(index))
		s.active[index] = b
	}
	return b
}

// OnBlockDelivered marks a block as received. During endgame a block
// may have been requested from more than one peer; the return value
// lists the other holders so the caller can send them "cancel".
func (s *Scheduler) OnBlockDelivered(peer PeerID, pieceIndex int, blockOffset int64) []PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outstanding[peer] > 0 {
		s.outstanding[peer]--
	}
	blocks, ok := s.active[pieceIndex]
	if !ok {
		return nil
	}
	bi := blockIndexOf(blockOffset)
	others := blocks.otherHolders(bi, peer)
	blocks.clearBlock(bi)
	return others
}

// OnRequestTimeout reclaims a single outstanding request that peer
// never answered in time, returning it to the pool so another peer
// (or a later call for the same peer) can pick it up.
func (s *Scheduler) OnRequestTimeout(peer PeerID, req BlockRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blocks, ok := s.active[req.PieceIndex]
	if !ok {
		return
	}
	if blocks.releaseOne(peer, blockIndexOf(req.BlockOffset)) && s.outstanding[peer] > 0 {
		s.outstanding[peer]--
	}
}

// OnPieceVerified removes a piece from rarity tracking and block
// assignment entirely; it is no longer needed.
func (s *Scheduler) OnPieceVerified(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.have.Add(uint32(index))
	s.order.remove(index)
	delete(s.active, index)
	s.verifiedAny = true
}

// OnVerificationFailed discards the piece's in-flight block state but
// keeps it in the rarity order so it re-enters rarest-first selection.
func (s *Scheduler) OnVerificationFailed(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, index)
}

// Done reports whether every piece has verified.
func (s *Scheduler) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.len() == 0
}
