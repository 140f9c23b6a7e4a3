package wire

import (
	"bytes"
)

// AppendCString appends a C style string to the buffer and returns it (like append does).
func AppendCString(dest []byte, s string) []byte {
	dest = append(dest, s...)
	dest = append(dest, 0x00)
	return dest
}

// ReadCString returns the bytes of data up to the first NUL, or all of data
// when there is none.
func ReadCString(data []byte) string {
	pos := bytes.IndexByte(data, 0)
	if pos == -1 {
		return string(data)
	}
	return string(data[0:pos])
}
