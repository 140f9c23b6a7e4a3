package wire

import (
	"encoding/binary"
)

// Kind identifies the encoding of a single payload field.
type Kind uint8

const (
	KindUint32  Kind = iota + 1 // 4 bytes, big endian
	KindBuffer                  // raw bytes, no terminator
	KindString                  // bytes followed by NUL
	KindUint16                  // 2 bytes, big endian
	KindStrings                 // NUL terminated strings, concatenated
	KindByte                    // one octet
)

func (k Kind) String() string {
	switch k {
	case KindUint32:
		return "uint32"
	case KindBuffer:
		return "buffer"
	case KindString:
		return "string"
	case KindUint16:
		return "uint16"
	case KindStrings:
		return "strings"
	case KindByte:
		return "byte"
	}
	return "unknown"
}

// Field is one typed payload field. Only the member matching Kind is used.
type Field struct {
	Kind Kind

	U32  uint32
	U16  uint16
	Oct  byte
	Buf  []byte
	Str  string
	Strs []string
}

func Uint32(v uint32) Field     { return Field{Kind: KindUint32, U32: v} }
func Uint16(v uint16) Field     { return Field{Kind: KindUint16, U16: v} }
func Byte(v byte) Field         { return Field{Kind: KindByte, Oct: v} }
func Buffer(b []byte) Field     { return Field{Kind: KindBuffer, Buf: b} }
func String(s string) Field     { return Field{Kind: KindString, Str: s} }
func Strings(ss []string) Field { return Field{Kind: KindStrings, Strs: ss} }

// Size returns the number of bytes the field occupies on the wire.
func (f Field) Size() int {
	switch f.Kind {
	case KindUint32:
		return 4
	case KindUint16:
		return 2
	case KindByte:
		return 1
	case KindBuffer:
		return len(f.Buf)
	case KindString:
		return len(f.Str) + 1
	case KindStrings:
		n := 0
		for _, s := range f.Strs {
			n += len(s) + 1
		}
		return n
	}
	panic("wire: bad field kind " + f.Kind.String())
}

// AppendFields appends the wire encoding of fields to dst and returns it
// (like append does).
func AppendFields(dst []byte, fields ...Field) []byte {
	for _, f := range fields {
		switch f.Kind {
		case KindUint32:
			dst = binary.BigEndian.AppendUint32(dst, f.U32)
		case KindUint16:
			dst = binary.BigEndian.AppendUint16(dst, f.U16)
		case KindByte:
			dst = append(dst, f.Oct)
		case KindBuffer:
			dst = append(dst, f.Buf...)
		case KindString:
			dst = AppendCString(dst, f.Str)
		case KindStrings:
			for _, s := range f.Strs {
				dst = AppendCString(dst, s)
			}
		default:
			panic("wire: bad field kind " + f.Kind.String())
		}
	}
	return dst
}

// payloadSize sums the wire sizes of fields.
func payloadSize(fields []Field) int {
	n := 0
	for _, f := range fields {
		n += f.Size()
	}
	return n
}

// Encode returns a complete frame: 4 byte length, command code and the
// encoded fields. The length counts the code byte and the fields.
func Encode(code byte, fields ...Field) []byte {
	n := payloadSize(fields)
	buf := make([]byte, 0, 5+n)
	buf = binary.BigEndian.AppendUint32(buf, uint32(1+n))
	buf = append(buf, code)
	return AppendFields(buf, fields...)
}
