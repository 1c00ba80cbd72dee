// Package codec implements the framing used for task and result payloads: a
// concatenation of segments, each a 4 byte big-endian length followed by that
// many raw bytes.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const lengthPrefixSize = 4

// ErrShortBuffer is returned when a payload ends before a segment it announces.
var ErrShortBuffer = errors.New("payload is too small to extract segment")

// WriteByteArrays frames each array with its length and concatenates them.
func WriteByteArrays(arrays ...[]byte) []byte {
	size := 0
	for _, a := range arrays {
		size += lengthPrefixSize + len(a)
	}
	out := make([]byte, 0, size)
	for _, a := range arrays {
		out = binary.BigEndian.AppendUint32(out, uint32(len(a)))
		out = append(out, a...)
	}
	return out
}

// WriteString returns the UTF-8 bytes of a string.
func WriteString(s string) []byte {
	return []byte(s)
}

// WriteLong returns an 8 byte big-endian representation of v.
func WriteLong(v int64) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, 8), uint64(v))
}

// ReadLong parses an 8 byte big-endian integer.
func ReadLong(b []byte) (int64, error) {
	if len(b) < 8 {
		return 0, fmt.Errorf("%w: need 8 bytes for a long, got %v", ErrShortBuffer, len(b))
	}
	return int64(binary.BigEndian.Uint64(b[:8])), nil
}

// ReadByteArrays splits a payload into its framed segments. The returned
// slices share memory with data.
func ReadByteArrays(data []byte) ([][]byte, error) {
	var segments [][]byte
	r := NewReader(data)
	for r.Remaining() > 0 {
		seg, err := r.ReadByteArray()
		if err != nil {
			return nil, err
		}
		segments = append(segments, seg)
	}
	return segments, nil
}

//------------------------------------------------------------------------------

// Reader consumes framed segments from a payload one at a time.
type Reader struct {
	buf []byte
}

// NewReader returns a Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{buf: data}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf)
}

// ReadByteArray reads the next length prefixed segment.
func (r *Reader) ReadByteArray() ([]byte, error) {
	if len(r.buf) < lengthPrefixSize {
		return nil, fmt.Errorf("%w: need %v bytes for a length prefix, got %v", ErrShortBuffer, lengthPrefixSize, len(r.buf))
	}
	n := binary.BigEndian.Uint32(r.buf[:lengthPrefixSize])
	rest := r.buf[lengthPrefixSize:]
	if uint64(len(rest)) < uint64(n) {
		return nil, fmt.Errorf("%w: segment announces %v bytes, %v remain", ErrShortBuffer, n, len(rest))
	}
	seg := rest[:n:n]
	r.buf = rest[n:]
	return seg, nil
}

// ReadString reads the next segment as a string.
func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadByteArray()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadLong reads a raw (not length prefixed) 8 byte big-endian integer.
func (r *Reader) ReadLong() (int64, error) {
	v, err := ReadLong(r.buf)
	if err != nil {
		return 0, err
	}
	r.buf = r.buf[8:]
	return v, nil
}

// Rest returns every unread byte and empties the reader.
func (r *Reader) Rest() []byte {
	b := r.buf
	r.buf = nil
	return b
}
