package bencode

// DecodeValue parses a single bencoded value that must occupy all of
// buf; bytes left over after it are reported as MalformedBencode. It is
// a single forward pass: every Value it produces (including ones nested
// in lists and dicts) carries the byte offsets it was read from, via
// Value.Span.
//
// metainfo's infohash computation builds on DecodeValue and needs the
// Span; the reflect-based Unmarshal (marshal.go) builds on
// DecodeValuePrefix and throws the Span away.
func DecodeValue(buf []byte) (Value, error) {
	v, n, err := decodeAt(buf, 0)
	if err != nil {
		return Value{}, err
	}
	if n != len(buf) {
		return v, &MalformedBencode{Offset: n, Reason: "trailing garbage after top-level value"}
	}
	return v, nil
}

// DecodeValuePrefix decodes a single value starting at offset 0 of buf
// and returns it along with the number of bytes consumed, without
// requiring the whole buffer to be consumed. Used by Unmarshal, which
// tolerates (and reports) trailing bytes rather than failing outright.
func DecodeValuePrefix(buf []byte) (Value, int, error) {
	return decodeAt(buf, 0)
}

func decodeAt(buf []byte, pos int) (Value, int, error) {
	if pos >= len(buf) {
		return Value{}, pos, malformed(pos, "unexpected end of input")
	}
	switch c := buf[pos]; {
	case c == 'i':
		return decodeInt(buf, pos)
	case c == 'l':
		return decodeList(buf, pos)
	case c == 'd':
		return decodeDict(buf, pos)
	case c >= '0' && c <= '9':
		return decodeBytes(buf, pos)
	default:
		return Value{}, pos, malformed(pos, "unknown value tag")
	}
}

func decodeInt(buf []byte, pos int) (Value, int, error) {
	start := pos
	pos++ // skip 'i'
	neg := false
	if pos < len(buf) && buf[pos] == '-' {
		neg = true
		pos++
	}
	if pos >= len(buf) || buf[pos] < '0' || buf[pos] > '9' {
		return Value{}, pos, malformed(pos, "expected digit in integer")
	}
	if buf[pos] == '0' {
		// Only "0" itself, or "-0", is permitted with a leading zero;
		// "01" and "-01" are not canonical and are rejected outright
		// since this decoder never has to round-trip non-canonical
		// integers (unlike strings, which are a common non-canonical
		// case for case-insensitive trackers).
		if pos+1 < len(buf) && buf[pos+1] != 'e' {
			return Value{}, pos, malformed(pos, "leading zero in integer")
		}
	}
	numStart := pos
	for pos < len(buf) && buf[pos] >= '0' && buf[pos] <= '9' {
		pos++
	}
	if pos >= len(buf) || buf[pos] != 'e' {
		return Value{}, pos, malformed(pos, "unterminated integer")
	}
	digits := string(buf[numStart:pos])
	if digits == "" {
		return Value{}, pos, malformed(pos, "empty integer")
	}
	var n int64
	for _, d := range []byte(digits) {
		next := n*10 + int64(d-'0')
		if next < n {
			return Value{}, pos, malformed(pos, "integer overflow")
		}
		n = next
	}
	if neg {
		n = -n
	}
	pos++ // skip 'e'
	return Value{Kind: KindInt, Int: n, Span: Span{start, pos}}, pos, nil
}

func decodeBytes(buf []byte, pos int) (Value, int, error) {
	start := pos
	lenStart := pos
	for pos < len(buf) && buf[pos] >= '0' && buf[pos] <= '9' {
		pos++
	}
	if pos == lenStart {
		return Value{}, pos, malformed(pos, "expected length digit")
	}
	if pos >= len(buf) || buf[pos] != ':' {
		return Value{}, pos, malformed(pos, "expected ':' after string length")
	}
	var length int64
	for _, d := range buf[lenStart:pos] {
		next := length*10 + int64(d-'0')
		if next < length {
			return Value{}, pos, malformed(pos, "string length overflow")
		}
		length = next
	}
	pos++ // skip ':'
	if length < 0 || int64(pos)+length > int64(len(buf)) {
		return Value{}, pos, malformed(pos, "truncated string")
	}
	end := pos + int(length)
	b := buf[pos:end]
	return Value{Kind: KindBytes, Bytes: b, Span: Span{start, end}}, end, nil
}

func decodeList(buf []byte, pos int) (Value, int, error) {
	start := pos
	pos++ // skip 'l'
	var items []Value
	for {
		if pos >= len(buf) {
			return Value{}, pos, malformed(pos, "unterminated list")
		}
		if buf[pos] == 'e' {
			pos++
			return Value{Kind: KindList, List: items, Span: Span{start, pos}}, pos, nil
		}
		v, next, err := decodeAt(buf, pos)
		if err != nil {
			return Value{}, next, err
		}
		items = append(items, v)
		pos = next
	}
}

func decodeDict(buf []byte, pos int) (Value, int, error) {
	start := pos
	pos++ // skip 'd'
	d := &Dict{}
	for {
		if pos >= len(buf) {
			return Value{}, pos, malformed(pos, "unterminated dict")
		}
		if buf[pos] == 'e' {
			pos++
			return Value{Kind: KindDict, Dict: d, Span: Span{start, pos}}, pos, nil
		}
		keyVal, next, err := decodeAt(buf, pos)
		if err != nil {
			return Value{}, next, err
		}
		if keyVal.Kind != KindBytes {
			return Value{}, next, malformed(pos, "dict key must be a byte string")
		}
		pos = next
		val, next, err := decodeAt(buf, pos)
		if err != nil {
			return Value{}, next, err
		}
		pos = next
		for _, e := range d.Entries {
			if bytesEqual(e.Key, keyVal.Bytes) {
				return Value{}, pos, malformed(pos, "duplicate dict key")
			}
		}
		d.Entries = append(d.Entries, DictEntry{Key: append([]byte(nil), keyVal.Bytes...), Val: val})
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
