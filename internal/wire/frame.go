package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	ErrShortRead    = errors.New("wire: short read")
	ErrFrameLength  = errors.New("wire: bad frame length")
	ErrShortPayload = errors.New("wire: payload too short")
	ErrMissingNUL   = errors.New("wire: missing string NUL terminator")
	ErrTrailingData = errors.New("wire: left-over payload data")
)

// Frame is one command or reply with its raw payload.
type Frame struct {
	Code byte
	Data []byte
}

// DecodeHeader reads the 4 byte length and the command byte of the next
// frame and returns the number of payload bytes that follow.
func DecodeHeader(r io.Reader) (code byte, n int, err error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, 0, fmt.Errorf("%w: packet header: %w", ErrShortRead, err)
	}
	length := binary.BigEndian.Uint32(hdr[:])
	if length < 1 || length > MaxDataSize {
		return 0, 0, fmt.Errorf("%w: %d", ErrFrameLength, length)
	}
	if _, err := io.ReadFull(r, hdr[:1]); err != nil {
		return 0, 0, fmt.Errorf("%w: command code: %w", ErrShortRead, err)
	}
	return hdr[0], int(length) - 1, nil
}

// Payload reads typed fields from the payload of a frame whose header was
// consumed by DecodeHeader. It never reads past the declared payload.
type Payload struct {
	r    io.Reader
	left int
}

func NewPayload(r io.Reader, n int) *Payload {
	return &Payload{r: r, left: n}
}

// Len returns the number of unread payload bytes.
func (p *Payload) Len() int {
	return p.left
}

func (p *Payload) fixed(n int, what string) ([]byte, error) {
	if p.left < n {
		return nil, fmt.Errorf("%w for %s", ErrShortPayload, what)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(p.r, b); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrShortRead, what, err)
	}
	p.left -= n
	return b, nil
}

func (p *Payload) ReadUint32() (uint32, error) {
	b, err := p.fixed(4, "network long")
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (p *Payload) ReadUint16() (uint16, error) {
	b, err := p.fixed(2, "network short")
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (p *Payload) ReadByte() (byte, error) {
	b, err := p.fixed(1, "octet")
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadBuffer returns all remaining payload bytes, possibly none.
func (p *Payload) ReadBuffer() ([]byte, error) {
	return p.fixed(p.left, "data")
}

// ReadCString reads one NUL terminated string. The NUL is consumed but not
// returned.
func (p *Payload) ReadCString() (string, error) {
	if p.left < 1 {
		return "", fmt.Errorf("%w for string", ErrShortPayload)
	}
	var buf []byte
	for {
		ch, err := p.nextByte()
		if err != nil {
			return "", fmt.Errorf("%w: string: %w", ErrShortRead, err)
		}
		p.left--
		if ch == 0 {
			return string(buf), nil
		}
		buf = append(buf, ch)
		if p.left <= 0 {
			return "", ErrMissingNUL
		}
	}
}

// ReadCStrings reads NUL terminated strings until the payload is exhausted.
func (p *Payload) ReadCStrings() ([]string, error) {
	var out []string
	for p.left > 0 {
		s, err := p.ReadCString()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Done reports an error when payload bytes were left unread.
func (p *Payload) Done() error {
	if p.left > 0 {
		return fmt.Errorf("%w: %d bytes", ErrTrailingData, p.left)
	}
	return nil
}

func (p *Payload) nextByte() (byte, error) {
	if br, ok := p.r.(io.ByteReader); ok {
		return br.ReadByte()
	}
	var b [1]byte
	if _, err := io.ReadFull(p.r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadFields decodes the payload as the given ordered list of field kinds
// and checks that nothing is left over. A Buffer or Strings kind consumes
// the rest of the payload.
func ReadFields(p *Payload, kinds ...Kind) ([]Field, error) {
	out := make([]Field, 0, len(kinds))
	for _, k := range kinds {
		f := Field{Kind: k}
		var err error
		switch k {
		case KindUint32:
			f.U32, err = p.ReadUint32()
		case KindUint16:
			f.U16, err = p.ReadUint16()
		case KindByte:
			f.Oct, err = p.ReadByte()
		case KindBuffer:
			f.Buf, err = p.ReadBuffer()
		case KindString:
			f.Str, err = p.ReadCString()
		case KindStrings:
			f.Strs, err = p.ReadCStrings()
		default:
			panic("wire: bad field kind " + k.String())
		}
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if err := p.Done(); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadFrame reads one whole frame.
func ReadFrame(r io.Reader) (*Frame, error) {
	code, n, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	data, err := NewPayload(r, n).ReadBuffer()
	if err != nil {
		return nil, err
	}
	return &Frame{Code: code, Data: data}, nil
}

// WriteFrame sends a frame with a single Write call.
func WriteFrame(w io.Writer, f *Frame) error {
	if len(f.Data)+1 > MaxDataSize {
		return fmt.Errorf("%w: %d", ErrFrameLength, len(f.Data)+1)
	}
	_, err := w.Write(Encode(f.Code, Buffer(f.Data)))
	return err
}
