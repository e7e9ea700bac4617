package metainfo

import "encoding/hex"

// Hash is the 20-byte SHA-1 infohash that identifies a swarm.
type Hash [20]byte

func (h Hash) HexString() string { return hex.EncodeToString(h[:]) }

func (h Hash) String() string { return h.HexString() }

func (h Hash) Bytes() []byte { return h[:] }
