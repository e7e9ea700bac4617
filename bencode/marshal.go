package bencode

import (
	"bytes"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Marshaler lets a type control its own bencode representation; Marshal
// decodes the returned bytes and embeds the value in its output.
type Marshaler interface {
	MarshalBencode() ([]byte, error)
}

// Unmarshaler lets a type decode the value itself instead of having its
// fields populated. It receives a canonical re-encoding of the value
// (see rawBytesOf), not the original source bytes.
type Unmarshaler interface {
	UnmarshalBencode([]byte) error
}

// Marshal encodes v, a Go value, as canonical bencode using struct tags
// of the form `bencode:"name,omitempty"`.
func Marshal(v interface{}) ([]byte, error) {
	val, err := toValue(reflect.ValueOf(v))
	if err != nil {
		return nil, err
	}
	return EncodeValue(val), nil
}

// Unmarshal decodes a single bencoded value from data into v, a pointer.
// Trailing bytes after the value are reported via ErrUnusedTrailingBytes
// without being treated as fatal by callers that expect it (tracker HTTP
// responses are occasionally padded).
func Unmarshal(data []byte, v interface{}) error {
	val, n, err := DecodeValuePrefix(data)
	if err != nil {
		return err
	}
	if err := fromValue(val, reflect.ValueOf(v)); err != nil {
		return err
	}
	if n != len(data) {
		return ErrUnusedTrailingBytes{NumUnusedBytes: len(data) - n}
	}
	return nil
}

// Decoder reads successive bencoded values from a stream.
type Decoder struct{ r io.Reader }

func NewDecoder(r io.Reader) *Decoder { return &Decoder{r: r} }

func (d *Decoder) Decode(v interface{}) error {
	b, err := io.ReadAll(d.r)
	if err != nil {
		return err
	}
	val, n, err := DecodeValuePrefix(b)
	if err != nil {
		return err
	}
	if err := fromValue(val, reflect.ValueOf(v)); err != nil {
		return err
	}
	if n < len(b) {
		d.r = io.MultiReader(bytes.NewReader(b[n:]))
	}
	return nil
}

// Encoder writes successive bencoded values to a stream.
type Encoder struct{ w io.Writer }

func NewEncoder(w io.Writer) *Encoder { return &Encoder{w: w} }

func (e *Encoder) Encode(v interface{}) error {
	b, err := Marshal(v)
	if err != nil {
		return err
	}
	_, err = e.w.Write(b)
	return err
}

type tagInfo struct {
	name      string
	omitempty bool
	skip      bool
}

func parseTag(f reflect.StructField) tagInfo {
	tag := f.Tag.Get("bencode")
	if tag == "-" {
		return tagInfo{skip: true}
	}
	parts := strings.Split(tag, ",")
	ti := tagInfo{name: f.Name}
	if parts[0] != "" {
		ti.name = parts[0]
	}
	for _, p := range parts[1:] {
		if p == "omitempty" {
			ti.omitempty = true
		}
	}
	if !f.IsExported() {
		ti.skip = true
	}
	return ti
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Slice, reflect.Map, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() == 0
	case reflect.Ptr, reflect.Interface:
		return v.IsNil()
	}
	return false
}

func toValue(rv reflect.Value) (Value, error) {
	if !rv.IsValid() {
		return Value{Kind: KindBytes}, nil
	}
	if rv.CanInterface() {
		if m, ok := rv.Interface().(Marshaler); ok {
			b, err := m.MarshalBencode()
			if err != nil {
				return Value{}, errors.Wrap(err, "MarshalBencode")
			}
			return DecodeValue(b)
		}
	}
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return Value{Kind: KindBytes}, nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.String:
		return Value{Kind: KindBytes, Bytes: []byte(rv.String())}, nil
	case reflect.Bool:
		n := int64(0)
		if rv.Bool() {
			n = 1
		}
		return Value{Kind: KindInt, Int: n}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Value{Kind: KindInt, Int: rv.Int()}, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Value{Kind: KindInt, Int: int64(rv.Uint())}, nil
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return Value{Kind: KindBytes, Bytes: b}, nil
		}
		items := make([]Value, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			v, err := toValue(rv.Index(i))
			if err != nil {
				return Value{}, err
			}
			items = append(items, v)
		}
		return Value{Kind: KindList, List: items}, nil
	case reflect.Map:
		d := &Dict{}
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		for _, k := range keys {
			v, err := toValue(rv.MapIndex(k))
			if err != nil {
				return Value{}, err
			}
			d.Entries = append(d.Entries, DictEntry{Key: []byte(fmt.Sprint(k.Interface())), Val: v})
		}
		return Value{Kind: KindDict, Dict: d}, nil
	case reflect.Struct:
		d := &Dict{}
		t := rv.Type()
		for i := 0; i < t.NumField(); i++ {
			ti := parseTag(t.Field(i))
			if ti.skip {
				continue
			}
			fv := rv.Field(i)
			if ti.omitempty && isEmptyValue(fv) {
				continue
			}
			v, err := toValue(fv)
			if err != nil {
				return Value{}, err
			}
			d.Entries = append(d.Entries, DictEntry{Key: []byte(ti.name), Val: v})
		}
		return Value{Kind: KindDict, Dict: d}, nil
	default:
		return Value{}, &MarshalTypeError{Type: rv.Type().String()}
	}
}

func fromValue(v Value, rv reflect.Value) error {
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.New("bencode: Unmarshal requires a non-nil pointer")
	}
	if rv.CanInterface() {
		if u, ok := rv.Interface().(Unmarshaler); ok {
			return u.UnmarshalBencode(rawBytesOf(v))
		}
	}
	return assign(v, rv.Elem())
}

// rawBytesOf re-renders v canonically. Types implementing Unmarshaler
// that need the original source bytes (for hash spans) must decode at
// the Value/span level directly rather than through this convenience
// path; see metainfo, which does exactly that.
func rawBytesOf(v Value) []byte { return EncodeValue(v) }

func assign(v Value, rv reflect.Value) error {
	if rv.CanAddr() {
		if addr := rv.Addr(); addr.CanInterface() {
			if u, ok := addr.Interface().(Unmarshaler); ok {
				return u.UnmarshalBencode(rawBytesOf(v))
			}
		}
	}
	switch rv.Kind() {
	case reflect.Interface:
		gv, err := toGeneric(v)
		if err != nil {
			return err
		}
		rv.Set(reflect.ValueOf(gv))
		return nil
	case reflect.Ptr:
		if rv.IsNil() {
			rv.Set(reflect.New(rv.Type().Elem()))
		}
		return assign(v, rv.Elem())
	case reflect.String:
		if v.Kind != KindBytes {
			return &UnmarshalTypeError{Value: v.String(), Type: rv.Type().String()}
		}
		rv.SetString(string(v.Bytes))
		return nil
	case reflect.Bool:
		if v.Kind != KindInt {
			return &UnmarshalTypeError{Type: rv.Type().String()}
		}
		rv.SetBool(v.Int != 0)
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if v.Kind != KindInt {
			return &UnmarshalTypeError{Type: rv.Type().String()}
		}
		rv.SetInt(v.Int)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if v.Kind != KindInt {
			return &UnmarshalTypeError{Type: rv.Type().String()}
		}
		rv.SetUint(uint64(v.Int))
		return nil
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			if v.Kind != KindBytes {
				return &UnmarshalTypeError{Type: rv.Type().String()}
			}
			rv.SetBytes(append([]byte(nil), v.Bytes...))
			return nil
		}
		if v.Kind != KindList {
			return &UnmarshalTypeError{Type: rv.Type().String()}
		}
		out := reflect.MakeSlice(rv.Type(), len(v.List), len(v.List))
		for i, item := range v.List {
			if err := assign(item, out.Index(i)); err != nil {
				return err
			}
		}
		rv.Set(out)
		return nil
	case reflect.Map:
		if v.Kind != KindDict {
			return &UnmarshalTypeError{Type: rv.Type().String()}
		}
		out := reflect.MakeMapWithSize(rv.Type(), len(v.Dict.Entries))
		for _, e := range v.Dict.Entries {
			kv := reflect.New(rv.Type().Key()).Elem()
			kv.SetString(string(e.Key))
			vv := reflect.New(rv.Type().Elem()).Elem()
			if err := assign(e.Val, vv); err != nil {
				return err
			}
			out.SetMapIndex(kv, vv)
		}
		rv.Set(out)
		return nil
	case reflect.Struct:
		if v.Kind != KindDict {
			return &UnmarshalTypeError{Type: rv.Type().String()}
		}
		t := rv.Type()
		for i := 0; i < t.NumField(); i++ {
			ti := parseTag(t.Field(i))
			if ti.skip {
				continue
			}
			fval, ok := v.Dict.Get(ti.name)
			if !ok {
				continue
			}
			if err := assign(fval, rv.Field(i)); err != nil {
				return err
			}
		}
		return nil
	default:
		return &UnmarshalTypeError{Type: rv.Type().String()}
	}
}

// toGeneric decodes v into the conventional Go types used when the
// destination is interface{}: int64, []byte, []interface{}, and
// map[string]interface{}.
func toGeneric(v Value) (interface{}, error) {
	switch v.Kind {
	case KindInt:
		return v.Int, nil
	case KindBytes:
		return append([]byte(nil), v.Bytes...), nil
	case KindList:
		out := make([]interface{}, len(v.List))
		for i, item := range v.List {
			gv, err := toGeneric(item)
			if err != nil {
				return nil, err
			}
			out[i] = gv
		}
		return out, nil
	case KindDict:
		out := make(map[string]interface{}, len(v.Dict.Entries))
		for _, e := range v.Dict.Entries {
			gv, err := toGeneric(e.Val)
			if err != nil {
				return nil, err
			}
			out[string(e.Key)] = gv
		}
		return out, nil
	default:
		return nil, errors.New("bencode: unknown value kind")
	}
}
