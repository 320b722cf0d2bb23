/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package encoding implements the self-describing binary value encoding used for protocol message inputs
// and protocol state payloads.
//
// Every encoded Value is a type-length-value triple: a one byte type ID, a four byte big-endian length
// and the payload. Lists hold the concatenated encodings of their elements, so arbitrarily nested
// records (e.g. a set of (identity, details) pairs) can be represented.
// Decoding never panics on malformed input. All decoding failures are reported as a *DecodeError,
// which matches ErrMalformed when tested with errors.Is.
package encoding

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// HeaderLen is the length of the type-length header preceding every encoded value.
const HeaderLen = 5

// maxDepth bounds the nesting of lists accepted by the decoder.
const maxDepth = 32

// Type is the type ID of an encoded value.
type Type uint8

// Type IDs. The numeric values are part of the wire format.
const (
	TypeInvalid Type = 0
	TypeUint    Type = 4
	TypeBool    Type = 5
	TypeString  Type = 6
	TypeBytes   Type = 7
	TypeList    Type = 8
	TypeInt     Type = 9
)

func (t Type) String() string {
	switch t {
	case TypeUint:
		return "uint"
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	case TypeBytes:
		return "bytes"
	case TypeList:
		return "list"
	case TypeInt:
		return "int"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Value is one decoded (or to be encoded) value. The zero Value is invalid and cannot be encoded.
type Value struct {
	typ   Type
	raw   []byte
	items []Value
}

// Uint returns a Value holding an unsigned 64-bit integer.
func Uint(u uint64) Value {
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, u)
	return Value{typ: TypeUint, raw: raw}
}

// Int returns a Value holding a signed 64-bit integer.
func Int(i int64) Value {
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, uint64(i))
	return Value{typ: TypeInt, raw: raw}
}

// Bool returns a Value holding a boolean.
func Bool(b bool) Value {
	if b {
		return Value{typ: TypeBool, raw: []byte{1}}
	}
	return Value{typ: TypeBool, raw: []byte{0}}
}

// String returns a Value holding a UTF-8 string.
func String(s string) Value {
	return Value{typ: TypeString, raw: []byte(s)}
}

// Bytes returns a Value holding a byte string. The slice is copied.
func Bytes(b []byte) Value {
	raw := make([]byte, len(b))
	copy(raw, b)
	return Value{typ: TypeBytes, raw: raw}
}

// List returns a Value holding an ordered list of values.
func List(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{typ: TypeList, items: cp}
}

// Type returns the type of the value.
func (v Value) Type() Type {
	return v.typ
}

// IsValid returns false for the zero Value.
func (v Value) IsValid() bool {
	return v.typ != TypeInvalid
}

func (v Value) expect(t Type) error {
	if v.typ != t {
		return &DecodeError{Op: "as " + t.String(), Err: errors.WithMessagef(ErrTypeMismatch, "got %s", v.typ)}
	}
	return nil
}

// AsUint returns the unsigned integer held by the value.
func (v Value) AsUint() (uint64, error) {
	if err := v.expect(TypeUint); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(v.raw), nil
}

// AsInt returns the signed integer held by the value.
func (v Value) AsInt() (int64, error) {
	if err := v.expect(TypeInt); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(v.raw)), nil
}

// AsBool returns the boolean held by the value.
func (v Value) AsBool() (bool, error) {
	if err := v.expect(TypeBool); err != nil {
		return false, err
	}
	return v.raw[0] == 1, nil
}

// AsString returns the string held by the value.
func (v Value) AsString() (string, error) {
	if err := v.expect(TypeString); err != nil {
		return "", err
	}
	return string(v.raw), nil
}

// AsBytes returns a copy of the byte string held by the value. An empty byte string is returned as nil.
func (v Value) AsBytes() ([]byte, error) {
	if err := v.expect(TypeBytes); err != nil {
		return nil, err
	}
	if len(v.raw) == 0 {
		return nil, nil
	}
	cp := make([]byte, len(v.raw))
	copy(cp, v.raw)
	return cp, nil
}

// AsList returns the elements of a list value.
func (v Value) AsList() ([]Value, error) {
	if err := v.expect(TypeList); err != nil {
		return nil, err
	}
	return v.items, nil
}

// AsListOf returns the elements of a list value, failing unless there are exactly n of them.
func (v Value) AsListOf(n int) ([]Value, error) {
	items, err := v.AsList()
	if err != nil {
		return nil, err
	}
	if err := ExpectArity(items, n); err != nil {
		return nil, err
	}
	return items, nil
}

// ExpectArity fails with an ErrArity DecodeError unless items has exactly n elements.
func ExpectArity(items []Value, n int) error {
	if len(items) != n {
		return &DecodeError{Op: "arity", Err: errors.WithMessagef(ErrArity, "got %d elements, expected %d", len(items), n)}
	}
	return nil
}

// Equal reports whether two values have the same type and content.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	if v.typ != TypeList {
		return bytes.Equal(v.raw, o.raw)
	}
	if len(v.items) != len(o.items) {
		return false
	}
	for i := range v.items {
		if !v.items[i].Equal(o.items[i]) {
			return false
		}
	}
	return true
}

func (v Value) String() string {
	switch v.typ {
	case TypeUint:
		u, _ := v.AsUint()
		return fmt.Sprintf("%d", u)
	case TypeInt:
		i, _ := v.AsInt()
		return fmt.Sprintf("%d", i)
	case TypeBool:
		b, _ := v.AsBool()
		return fmt.Sprintf("%t", b)
	case TypeString:
		return fmt.Sprintf("%q", string(v.raw))
	case TypeBytes:
		return fmt.Sprintf("0x%x", v.raw)
	case TypeList:
		buf := &bytes.Buffer{}
		buf.WriteString("[")
		for i, item := range v.items {
			if i > 0 {
				buf.WriteString(" ")
			}
			buf.WriteString(item.String())
		}
		buf.WriteString("]")
		return buf.String()
	default:
		return "<invalid>"
	}
}

// ============================================================
// Marshaling
// ============================================================

// Marshal returns the binary encoding of v.
// It panics if v (or any nested value) is the zero Value, since that indicates a programming error.
func Marshal(v Value) []byte {
	return appendValue(nil, v)
}

func appendValue(out []byte, v Value) []byte {
	var payload []byte
	switch v.typ {
	case TypeInvalid:
		panic("encoding: marshaling invalid value")
	case TypeList:
		for _, item := range v.items {
			payload = appendValue(payload, item)
		}
	default:
		payload = v.raw
	}
	if uint64(len(payload)) > math.MaxUint32 {
		panic("encoding: value too large")
	}

	var header [HeaderLen]byte
	header[0] = byte(v.typ)
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	out = append(out, header[:]...)
	return append(out, payload...)
}

// Unmarshal decodes exactly one value from data. Trailing bytes are an error.
func Unmarshal(data []byte) (Value, error) {
	v, rest, err := decodeOne(data, 0)
	if err != nil {
		return Value{}, err
	}
	if len(rest) != 0 {
		return Value{}, &DecodeError{Op: "unmarshal", Err: errors.WithMessagef(ErrTrailingData, "%d bytes", len(rest))}
	}
	return v, nil
}

func decodeOne(data []byte, depth int) (Value, []byte, error) {
	if depth > maxDepth {
		return Value{}, nil, &DecodeError{Op: "decode", Err: ErrTooDeep}
	}
	if len(data) < HeaderLen {
		return Value{}, nil, &DecodeError{Op: "decode", Err: ErrShortHeader}
	}
	typ := Type(data[0])
	l := binary.BigEndian.Uint32(data[1:HeaderLen])
	data = data[HeaderLen:]
	if uint64(len(data)) < uint64(l) {
		return Value{}, nil, &DecodeError{Op: "decode", Err: ErrShortValue}
	}
	payload, rest := data[:l], data[l:]

	switch typ {
	case TypeUint, TypeInt:
		if len(payload) != 8 {
			return Value{}, nil, &DecodeError{Op: "decode " + typ.String(), Err: errors.WithMessagef(ErrInvalidLength, "length %d", len(payload))}
		}
	case TypeBool:
		if len(payload) != 1 || payload[0] > 1 {
			return Value{}, nil, &DecodeError{Op: "decode bool", Err: ErrInvalidLength}
		}
	case TypeString:
		if !utf8.Valid(payload) {
			return Value{}, nil, &DecodeError{Op: "decode string", Err: ErrInvalidUTF8}
		}
	case TypeBytes:
	case TypeList:
		items := make([]Value, 0)
		for len(payload) > 0 {
			item, remaining, err := decodeOne(payload, depth+1)
			if err != nil {
				return Value{}, nil, err
			}
			items = append(items, item)
			payload = remaining
		}
		return Value{typ: TypeList, items: items}, rest, nil
	default:
		return Value{}, nil, &DecodeError{Op: "decode", Err: errors.WithMessagef(ErrUnknownType, "%d", uint8(typ))}
	}

	raw := make([]byte, len(payload))
	copy(raw, payload)
	return Value{typ: typ, raw: raw}, rest, nil
}

// MarshalList is a shorthand for marshaling a list of values, as used for message inputs.
func MarshalList(items []Value) []byte {
	return Marshal(List(items...))
}

// UnmarshalList decodes a value that must be a list and returns its elements.
func UnmarshalList(data []byte) ([]Value, error) {
	v, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return v.AsList()
}
