package bencode

import (
	"bytes"
	"strconv"
)

// EncodeValue renders v as canonical bencode: integers without leading
// zeros, dict keys sorted lexicographically by raw bytes, strings
// prefixed by their decimal length. Span is ignored; encoding always
// produces fresh bytes.
func EncodeValue(v Value) []byte {
	var buf bytes.Buffer
	writeValue(&buf, v)
	return buf.Bytes()
}

func writeValue(buf *bytes.Buffer, v Value) {
	switch v.Kind {
	case KindInt:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(v.Int, 10))
		buf.WriteByte('e')
	case KindBytes:
		buf.WriteString(strconv.Itoa(len(v.Bytes)))
		buf.WriteByte(':')
		buf.Write(v.Bytes)
	case KindList:
		buf.WriteByte('l')
		for _, item := range v.List {
			writeValue(buf, item)
		}
		buf.WriteByte('e')
	case KindDict:
		buf.WriteByte('d')
		entries := append([]DictEntry(nil), v.Dict.Entries...)
		sortEntries(entries)
		for _, e := range entries {
			writeValue(buf, Value{Kind: KindBytes, Bytes: e.Key})
			writeValue(buf, e.Val)
		}
		buf.WriteByte('e')
	}
}
