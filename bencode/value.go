package bencode

import "bytes"

// Kind tags the four bencode variants. Strings are always raw bytes: the
// grammar has no native text type, and promoting them to Go strings at
// the decode boundary is what silently corrupts binary fields like
// "pieces" and peer ids (see metainfo's consumers, which decide when a
// Bytes value is really text).
type Kind int

const (
	KindInt Kind = iota
	KindBytes
	KindList
	KindDict
)

// Span records the byte offsets of a decoded value within the source
// buffer it came from. This is the only reliable way to recover the exact
// bytes of a hash-significant subtree (the metainfo "info" dict) without
// re-encoding it, since not every torrent file is canonical bencode.
type Span struct {
	Start, End int
}

// DictEntry is one key/value pair of a decoded dictionary, in the order it
// appeared in the source.
type DictEntry struct {
	Key []byte
	Val Value
}

// Dict is an ordered, duplicate-key-free bencode dictionary.
type Dict struct {
	Entries []DictEntry
}

// Get returns the value for key and whether it was present.
func (d *Dict) Get(key string) (Value, bool) {
	if d == nil {
		return Value{}, false
	}
	for _, e := range d.Entries {
		if string(e.Key) == key {
			return e.Val, true
		}
	}
	return Value{}, false
}

// Value is a decoded bencode node: exactly one of Int, Bytes, List, or
// Dict is meaningful, selected by Kind. Span is populated by DecodeValue
// and DecodeValuePrefix for every value, including ones nested inside
// lists and dicts.
type Value struct {
	Kind  Kind
	Int   int64
	Bytes []byte
	List  []Value
	Dict  *Dict
	Span  Span
}

// String returns Bytes as text. Only call this where the grammar
// surrounding the field demands text (URLs, path components, dict keys);
// never for "pieces" or binary peer ids.
func (v Value) String() string {
	return string(v.Bytes)
}

func sortEntries(entries []DictEntry) {
	// Insertion sort: dictionaries in practice have few keys, and this
	// keeps the comparison (raw byte lexicographic order, per the
	// canonical bencode grammar) easy to read next to the rest of the
	// encoder.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && bytes.Compare(entries[j-1].Key, entries[j].Key) > 0; j-- {
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}
}
