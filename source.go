package milter

import (
	"bufio"
	"bytes"
	"io"

	"github.com/emersion/go-message/textproto"
)

// MessageSource yields the content of the message being filtered. Both
// methods return io.EOF once exhausted.
//
// The first body line is never shown to the filter: sources are expected
// to yield the blank line that separates header and body as the first
// body line.
type MessageSource interface {
	NextHeader() (name, value string, err error)
	// NextBodyLine returns one body line without its line terminator. The
	// slice is only valid until the next call.
	NextBodyLine() ([]byte, error)
}

type messageReader struct {
	r      *bufio.Reader
	fields textproto.HeaderFields
	err    error
	line   []byte
	// separator is true until the synthesized header/body separator line
	// has been returned.
	separator bool
}

// NewMessageReader parses an RFC 5322 message from r.
func NewMessageReader(r io.Reader) MessageSource {
	return &messageReader{r: bufio.NewReader(r), separator: true}
}

func (mr *messageReader) readHeader() error {
	if mr.fields != nil || mr.err != nil {
		return mr.err
	}
	hdr, err := textproto.ReadHeader(mr.r)
	if err != nil {
		mr.err = err
		return err
	}
	mr.fields = hdr.Fields()
	return nil
}

func (mr *messageReader) NextHeader() (name, value string, err error) {
	if err := mr.readHeader(); err != nil {
		return "", "", err
	}
	if !mr.fields.Next() {
		return "", "", io.EOF
	}
	return mr.fields.Key(), string(crlfToLF([]byte(mr.fields.Value()))), nil
}

func (mr *messageReader) NextBodyLine() ([]byte, error) {
	if err := mr.readHeader(); err != nil {
		return nil, err
	}
	if mr.separator {
		mr.separator = false
		return []byte{}, nil
	}
	mr.line = mr.line[:0]
	for {
		frag, err := mr.r.ReadSlice('\n')
		mr.line = append(mr.line, frag...)
		switch {
		case err == bufio.ErrBufferFull:
			continue
		case err == io.EOF && len(mr.line) > 0:
			// Last line without terminator.
			return bytes.TrimSuffix(mr.line, []byte{'\r'}), nil
		case err != nil:
			return nil, err
		}
		return bytes.TrimSuffix(mr.line[:len(mr.line)-1], []byte{'\r'}), nil
	}
}

// Filters and queue files want LF line endings inside header values.
func crlfToLF(b []byte) []byte {
	return bytes.ReplaceAll(b, []byte{'\r', '\n'}, []byte{'\n'})
}
