package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kindsOf(fields []Field) []Kind {
	kinds := make([]Kind, len(fields))
	for i, f := range fields {
		kinds[i] = f.Kind
	}
	return kinds
}

func TestEncodeRoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		code   byte
		fields []Field
	}{
		{"empty", 'c', nil},
		{"optneg", 'O', []Field{Uint32(4), Uint32(0x1f), Uint32(0x3ff)}},
		{"connect inet", 'C', []Field{String("mx.example.org"), Byte('4'), Uint16(25), String("192.0.2.1")}},
		{"connect unknown", 'C', []Field{String("unknown"), Byte('U')}},
		{"macro", 'D', []Field{Byte('C'), Strings([]string{"j", "mx.example.org", "{daemon_name}", "smtpd"})}},
		{"header", 'L', []Field{String("Subject"), String("")}},
		{"change header", 'm', []Field{Uint32(1), String("Subject"), String("Hi")}},
		{"body", 'B', []Field{Buffer([]byte("line one\r\nline two\r\n"))}},
		{"empty buffer", 'B', []Field{Buffer(nil)}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frame := Encode(tc.code, tc.fields...)

			length := binary.BigEndian.Uint32(frame[:4])
			assert.Equal(t, len(frame)-4, int(length), "declared length")
			assert.Equal(t, 1+payloadSize(tc.fields), int(length))

			r := bufio.NewReader(bytes.NewReader(frame))
			code, n, err := DecodeHeader(r)
			require.NoError(t, err)
			assert.Equal(t, tc.code, code)
			assert.Equal(t, int(length)-1, n)

			got, err := ReadFields(NewPayload(r, n), kindsOf(tc.fields)...)
			require.NoError(t, err)
			if diff := cmp.Diff(tc.fields, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("fields mismatch (-want +got):\n%s", diff)
			}

			_, err = r.ReadByte()
			assert.ErrorIs(t, err, io.EOF, "decoder must not read past the frame")
		})
	}
}

func TestDecodeHeaderLength(t *testing.T) {
	header := func(length uint32) []byte {
		b := binary.BigEndian.AppendUint32(nil, length)
		return append(b, 'c')
	}

	_, _, err := DecodeHeader(bytes.NewReader(header(0)))
	assert.ErrorIs(t, err, ErrFrameLength)

	_, _, err = DecodeHeader(bytes.NewReader(header(MaxDataSize + 1)))
	assert.ErrorIs(t, err, ErrFrameLength)

	code, n, err := DecodeHeader(bytes.NewReader(header(MaxDataSize)))
	require.NoError(t, err)
	assert.Equal(t, byte('c'), code)
	assert.Equal(t, MaxDataSize-1, n)

	_, n, err = DecodeHeader(bytes.NewReader(header(1)))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDecodeHeaderShortRead(t *testing.T) {
	_, _, err := DecodeHeader(bytes.NewReader([]byte{0, 0}))
	assert.ErrorIs(t, err, ErrShortRead)

	// Length present, command byte missing.
	_, _, err = DecodeHeader(bytes.NewReader([]byte{0, 0, 0, 1}))
	assert.ErrorIs(t, err, ErrShortRead)
	assert.True(t, errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF))
}

func TestPayloadReadCString(t *testing.T) {
	p := NewPayload(bytes.NewReader([]byte("abc")), 3)
	_, err := p.ReadCString()
	assert.ErrorIs(t, err, ErrMissingNUL)

	p = NewPayload(bytes.NewReader([]byte("ab\x00cd")), 5)
	s, err := p.ReadCString()
	require.NoError(t, err)
	assert.Equal(t, "ab", s)
	assert.Equal(t, 2, p.Len())
	assert.ErrorIs(t, p.Done(), ErrTrailingData)

	// Declared payload larger than the stream.
	p = NewPayload(bytes.NewReader([]byte("ab")), 10)
	_, err = p.ReadCString()
	assert.ErrorIs(t, err, ErrShortRead)

	p = NewPayload(bytes.NewReader(nil), 0)
	_, err = p.ReadCString()
	assert.ErrorIs(t, err, ErrShortPayload)
}

func TestPayloadFixedFields(t *testing.T) {
	p := NewPayload(bytes.NewReader([]byte{0, 1}), 2)
	_, err := p.ReadUint32()
	assert.ErrorIs(t, err, ErrShortPayload)

	p = NewPayload(bytes.NewReader([]byte{0, 0, 0}), 6)
	_, err = p.ReadUint32()
	assert.ErrorIs(t, err, ErrShortRead)

	p = NewPayload(bytes.NewReader([]byte{0x12, 0x34, 'x'}), 3)
	v, err := p.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), v)
	b, err := p.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte('x'), b)
	assert.NoError(t, p.Done())
}

func TestReadFieldsTrailingData(t *testing.T) {
	frame := Encode('O', Uint32(2), Uint32(1), Uint32(0), Uint32(99))
	r := bytes.NewReader(frame)
	_, n, err := DecodeHeader(r)
	require.NoError(t, err)
	_, err = ReadFields(NewPayload(r, n), KindUint32, KindUint32, KindUint32)
	assert.ErrorIs(t, err, ErrTrailingData)
}

func TestReadWriteFrame(t *testing.T) {
	var buf bytes.Buffer
	in := &Frame{Code: 'h', Data: AppendFields(nil, String("X-Spam"), String("yes"))}
	require.NoError(t, WriteFrame(&buf, in))

	out, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	err = WriteFrame(&buf, &Frame{Code: 'B', Data: make([]byte, MaxDataSize)})
	assert.ErrorIs(t, err, ErrFrameLength)
}

func TestCodeNames(t *testing.T) {
	assert.Equal(t, "SMFIC_BODYEOB", CodeEOB.String())
	assert.Equal(t, "SMFIR_QUARANTINE", ReplyQuarantine.String())
	assert.Equal(t, "(unknown filter reply)", Reply('z').String())
}
