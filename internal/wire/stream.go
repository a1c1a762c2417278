// Package wire holds the byte-stream helpers and checksum routines shared by
// every protocol codec (C1's substrate). Adapted from stream/stream.go's
// per-buffer read helpers, generalized into a cursor type that every
// codec (OSPF/IS-IS/BGP) can share, plus the length/truncation checking
// stream.go left as TODOs.
package wire

import (
	"encoding/binary"
	"fmt"
)

// ErrTruncated is returned by the Reader helpers when fewer bytes remain
// than requested.
var ErrTruncated = fmt.Errorf("wire: truncated buffer")

// Reader is a forward-only cursor over a decode buffer. Unlike the
// teacher's stream.ReadBytes (which read a byte buffer one byte at a time
// and discarded errors), every read is bounds-checked and surfaces a
// truncation error the caller turns into errs.Malformed.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// Bytes returns n bytes and advances the cursor.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, ErrTruncated
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// Byte reads a single byte.
func (r *Reader) Byte() (byte, error) {
	b, err := r.Bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Uint16 reads a big-endian uint16.
func (r *Reader) Uint16() (uint16, error) {
	b, err := r.Bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// Uint32 reads a big-endian uint32.
func (r *Reader) Uint32() (uint32, error) {
	b, err := r.Bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// Uint64 reads a big-endian uint64.
func (r *Reader) Uint64() (uint64, error) {
	b, err := r.Bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// Rest returns every byte not yet consumed.
func (r *Reader) Rest() []byte {
	b := r.buf[r.pos:]
	r.pos = len(r.buf)
	return b
}

// Writer accumulates an encode buffer. Every protocol encoder appends to
// one of these rather than hand-rolling append(buf, ...) chains the way
// the bytes.Buffer-based encoders in message/message.go did.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer { return &Writer{} }

func (w *Writer) Byte(b byte) { w.buf = append(w.buf, b) }

func (w *Writer) Bytes(b []byte) { w.buf = append(w.buf, b...) }

func (w *Writer) Uint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) Uint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) Uint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// PatchUint16 overwrites two bytes already written, for length/checksum
// fields that are only known once the body has been encoded.
func (w *Writer) PatchUint16(offset int, v uint16) {
	binary.BigEndian.PutUint16(w.buf[offset:offset+2], v)
}

// Finish returns the accumulated buffer.
func (w *Writer) Finish() []byte { return w.buf }
