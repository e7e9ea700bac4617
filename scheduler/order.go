package scheduler

import "github.com/tidwall/btree"

// orderItem is one piece's position in the rarest-first order: fewer
// connected peers holding it sorts earlier, ties broken by lowest
// index.
type orderItem struct {
	index  int
	rarity int
}

func (a orderItem) less(b orderItem) bool {
	if a.rarity != b.rarity {
		return a.rarity < b.rarity
	}
	return a.index < b.index
}

// pieceOrder keeps every needed piece ordered by rarity using a btree
// wrapping a map from key to current state, so a rarity change is a
// delete-then-reinsert rather than a full re-sort.
type pieceOrder struct {
	tree  *btree.BTreeG[orderItem]
	state map[int]int // piece index -> current rarity
}

func newPieceOrder() *pieceOrder {
	return &pieceOrder{
		tree:  btree.NewBTreeG(orderItem.less),
		state: make(map[int]int),
	}
}

func (o *pieceOrder) add(index, rarity int) {
	if old, ok := o.state[index]; ok {
		if old == rarity {
			return
		}
		o.tree.Delete(orderItem{index: index, rarity: old})
	}
	o.tree.Set(orderItem{index: index, rarity: rarity})
	o.state[index] = rarity
}

func (o *pieceOrder) remove(index int) {
	rarity, ok := o.state[index]
	if !ok {
		return
	}
	o.tree.Delete(orderItem{index: index, rarity: rarity})
	delete(o.state, index)
}

// ascend visits pieces from rarest to most common, stopping early if f
// returns false.
func (o *pieceOrder) ascend(f func(pieceIndex int) bool) {
	o.tree.Scan(func(item orderItem) bool {
		return f(item.index)
	})
}

func (o *pieceOrder) len() int { return len(o.state) }
