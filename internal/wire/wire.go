// Package wire implements the length-prefixed binary record encoding used
// by the master and per-object database files. It operates on an
// already-decrypted byte stream; encryption is handled one layer up by
// internal/dbcrypt.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrUnexpectedMagic is returned when a magic marker does not match what
// the reader expected at that point in the stream.
var ErrUnexpectedMagic = errors.New("wire: unexpected magic marker")

// Writer appends typed fields to an in-memory buffer using a fixed
// little-endian layout. Any version field is written by the caller.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) Bytes() []byte {
	return w.buf
}

func (w *Writer) Magic(v uint32) {
	w.Uint32(v)
}

func (w *Writer) Uint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) Uint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// String writes a length-prefixed string; an empty string gets length 0.
// It never writes the null marker 0xFFFFFFFF: only NullPair does, so
// Reader.NullableString can tell a null apart from an empty string.
func (w *Writer) String(s string) {
	w.Uint32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// NullPair writes the sentinel (nil, nil) string pair used to terminate a
// tag list.
func (w *Writer) NullPair() {
	w.Uint32(nullLen)
	w.Uint32(nullLen)
}

const nullLen = 0xFFFFFFFF

// Reader walks a byte slice produced by Writer, failing closed on any
// length or magic mismatch so callers can treat it as corruption.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

func (r *Reader) Len() int {
	return len(r.buf) - r.pos
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, io.ErrUnexpectedEOF
	}

	b := r.buf[r.pos : r.pos+n]
	r.pos += n

	return b, nil
}

func (r *Reader) Uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) Uint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint64(b), nil
}

// Magic reads a uint32 and checks it against want.
func (r *Reader) Magic(want uint32) error {
	got, err := r.Uint32()
	if err != nil {
		return err
	}

	if got != want {
		return fmt.Errorf("%w: got %#x want %#x", ErrUnexpectedMagic, got, want)
	}

	return nil
}

// PeekUint32 reads a uint32 without advancing, for magic lookahead.
func (r *Reader) PeekUint32() (uint32, error) {
	v, err := r.Uint32()
	if err != nil {
		return 0, err
	}

	r.pos -= 4

	return v, nil
}

func (r *Reader) String() (string, error) {
	n, isNull, err := r.NullableString()
	if err != nil {
		return "", err
	}

	if isNull {
		return "", errNullString
	}

	return n, nil
}

// NullableString reads a length-prefixed string, reporting isNull=true
// without error when it reads the (nil) sentinel instead of a real length.
// Used to detect the (nil, nil) pair that terminates a tag list.
func (r *Reader) NullableString() (s string, isNull bool, err error) {
	n, err := r.Uint32()
	if err != nil {
		return "", false, err
	}

	if n == nullLen {
		return "", true, nil
	}

	b, err := r.take(int(n))
	if err != nil {
		return "", false, err
	}

	return string(b), false, nil
}

var errNullString = errors.New("wire: string is the null sentinel")
