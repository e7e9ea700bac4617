package metainfo

import (
	"crypto/sha1"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/kestrel-dev/torrentcore/bencode"
)

// MetaInfo is everything read.torrent describes once loaded: the
// hash-significant Info plus the tracker and presentation fields that
// sit alongside it in the top-level dictionary.
type MetaInfo struct {
	Info         Info
	InfoHash     Hash
	InfoBytes    []byte // the exact source bytes of the "info" value
	Announce     string
	AnnounceList [][]string
	Comment      string
	CreatedBy    string
}

// Load decodes a bencoded metainfo file from r. The infohash is always
// computed from the exact byte span the "info" value occupied in the
// source, never from a re-encoding of it: most torrent files in the
// wild are not canonical bencode (string case, key order, zero-padded
// peer ids embedded in comments), so re-encoding before hashing would
// silently produce the wrong swarm identity.
func Load(r io.Reader) (*MetaInfo, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "metainfo: reading source")
	}
	return Parse(buf)
}

// LoadFromFile is a convenience wrapper around Load.
func LoadFromFile(path string) (*MetaInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "metainfo: opening file")
	}
	defer f.Close()
	return Load(f)
}

// Parse decodes a complete metainfo file already held in memory.
func Parse(buf []byte) (*MetaInfo, error) {
	root, err := bencode.DecodeValue(buf)
	if err != nil {
		return nil, errors.Wrap(err, "metainfo: malformed bencode")
	}
	if root.Kind != bencode.KindDict {
		return nil, errors.New("metainfo: top level value is not a dictionary")
	}

	infoVal, ok := root.Dict.Get("info")
	if !ok {
		return nil, errors.New("metainfo: missing \"info\" dictionary")
	}
	if infoVal.Kind != bencode.KindDict {
		return nil, errors.New("metainfo: \"info\" is not a dictionary")
	}

	infoBytes := append([]byte(nil), buf[infoVal.Span.Start:infoVal.Span.End]...)
	infoHash := sha1.Sum(infoBytes)

	var info Info
	if err := bencode.Unmarshal(infoBytes, &info); err != nil {
		if _, ok := err.(bencode.ErrUnusedTrailingBytes); !ok {
			return nil, errors.Wrap(err, "metainfo: decoding info dictionary")
		}
	}
	if err := info.Validate(); err != nil {
		return nil, err
	}

	mi := &MetaInfo{
		Info:      info,
		InfoHash:  Hash(infoHash),
		InfoBytes: infoBytes,
	}

	if announceVal, ok := root.Dict.Get("announce"); ok {
		mi.Announce = announceVal.String()
	}
	if listVal, ok := root.Dict.Get("announce-list"); ok && listVal.Kind == bencode.KindList {
		for _, tierVal := range listVal.List {
			if tierVal.Kind != bencode.KindList {
				continue
			}
			var tier []string
			for _, urlVal := range tierVal.List {
				tier = append(tier, urlVal.String())
			}
			if len(tier) > 0 {
				mi.AnnounceList = append(mi.AnnounceList, tier)
			}
		}
	}
	if len(mi.AnnounceList) == 0 && mi.Announce != "" {
		mi.AnnounceList = [][]string{{mi.Announce}}
	}
	if commentVal, ok := root.Dict.Get("comment"); ok {
		mi.Comment = commentVal.String()
	}
	if createdByVal, ok := root.Dict.Get("created by"); ok {
		mi.CreatedBy = createdByVal.String()
	}

	return mi, nil
}

// AnnounceURLs flattens AnnounceList in tier order, for callers (the
// tracker client) that just want a priority-ordered list to try.
func (mi *MetaInfo) AnnounceURLs() []string {
	var out []string
	for _, tier := range mi.AnnounceList {
		out = append(out, tier...)
	}
	return out
}
