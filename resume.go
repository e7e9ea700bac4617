package torrentcore

import (
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	"github.com/kestrel-dev/torrentcore/bencode"
	"github.com/kestrel-dev/torrentcore/metainfo"
	"github.com/kestrel-dev/torrentcore/tracker"
)

// ResumeStore persists, per infohash, the have-bitmap, the
// uploaded/downloaded counters, and the last-known peer list. The
// format is implementation-defined but round-trips: one bucket per
// infohash hex string holding three keys: the roaring serialization of
// the bitmap, the bencoded counters, and the peers in compact form.
type ResumeStore struct {
	db *bbolt.DB
}

// OpenResumeStore opens (creating if absent) a bbolt database at path.
func OpenResumeStore(path string) (*ResumeStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	db.NoSync = true
	return &ResumeStore{db: db}, nil
}

func (r *ResumeStore) Close() error { return r.db.Close() }

type resumeCounters struct {
	Uploaded   int64 `bencode:"uploaded"`
	Downloaded int64 `bencode:"downloaded"`
}

// Save writes the current resume state for infoHash, overwriting
// whatever was there before.
func (r *ResumeStore) Save(infoHash metainfo.Hash, have *roaring.Bitmap, uploaded, downloaded int64, peers []tracker.Peer) error {
	bitmapBytes, err := have.ToBytes()
	if err != nil {
		return errors.WithStack(err)
	}
	counters, err := bencode.Marshal(resumeCounters{Uploaded: uploaded, Downloaded: downloaded})
	if err != nil {
		return err
	}
	peerBytes := tracker.EncodeCompactPeers(peers)

	return r.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(infoHash.HexString()))
		if err != nil {
			return errors.WithStack(err)
		}
		if err := bucket.Put([]byte("bitmap"), bitmapBytes); err != nil {
			return errors.WithStack(err)
		}
		if err := bucket.Put([]byte("counters"), counters); err != nil {
			return errors.WithStack(err)
		}
		return errors.WithStack(bucket.Put([]byte("peers"), peerBytes))
	})
}

// ResumeState is what Load returns: the prior have-bitmap, counters,
// and cached peer list for one infohash.
type ResumeState struct {
	Have       *roaring.Bitmap
	Uploaded   int64
	Downloaded int64
	Peers      []tracker.Peer
}

// Load returns (nil, nil) when no resume state exists for infoHash yet.
func (r *ResumeStore) Load(infoHash metainfo.Hash) (*ResumeState, error) {
	var state *ResumeState
	err := r.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(infoHash.HexString()))
		if bucket == nil {
			return nil
		}
		have := roaring.New()
		if b := bucket.Get([]byte("bitmap")); b != nil {
			if _, err := have.FromBuffer(append([]byte(nil), b...)); err != nil {
				return errors.WithStack(err)
			}
		}
		var counters resumeCounters
		if b := bucket.Get([]byte("counters")); b != nil {
			if err := bencode.Unmarshal(b, &counters); err != nil {
				return err
			}
		}
		var peers []tracker.Peer
		if b := bucket.Get([]byte("peers")); b != nil {
			decoded, err := tracker.DecodeCompactPeers(b)
			if err != nil {
				return err
			}
			peers = decoded
		}
		state = &ResumeState{Have: have, Uploaded: counters.Uploaded, Downloaded: counters.Downloaded, Peers: peers}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}
