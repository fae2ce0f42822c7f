// Package bytebuf implements the typed little-endian reader and writer the
// database files are built from. The legacy formats embed a third-party
// runtime's binary conventions (uleb128 length prefixes, 0x0b string markers,
// hex-text hashes), so all of the on-disk schema handling lives here rather
// than as ad-hoc byte twiddling at every call site.
package bytebuf

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math"
	"os"
)

var ErrTruncated = errors.New("unexpected end of database file")
var ErrBadString = errors.New("malformed length-prefixed string")
var ErrBadHash = errors.New("malformed hash field")

// stringMarker precedes the uleb128 length of every non-empty string.
const stringMarker = 0x0b

// HashSize is the size of a raw content-hash digest.
const HashSize = 16

// Reader is a byte-oriented reader over a single database file. Every
// primitive read reports failure through a single sticky error: once a read
// fails, all further reads are no-ops returning zero values, and the first
// error stays observable through Err. This lets long decode sequences run
// unchecked and be validated once at the end.
type Reader struct {
	buf []byte
	pos int
	err error
}

// NewReader reads the file at path into memory and returns a reader over it.
// A missing or unreadable file yields a reader that is already in the error
// state with a total size of zero.
func NewReader(path string) *Reader {
	buf, err := os.ReadFile(path)
	if err != nil {
		return &Reader{err: err}
	}
	return &Reader{buf: buf}
}

// NewReaderBytes returns a reader over an in-memory buffer.
func NewReaderBytes(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Good reports whether all reads so far have succeeded.
func (r *Reader) Good() bool { return r.err == nil }

// Err returns the first read error, or nil.
func (r *Reader) Err() error { return r.err }

// TotalSize returns the size of the underlying file in bytes.
func (r *Reader) TotalSize() int64 { return int64(len(r.buf)) }

// Pos returns the current read offset.
func (r *Reader) Pos() int64 { return int64(r.pos) }

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// take returns the next n bytes, or nil after moving into the error state.
func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.buf) {
		r.fail(ErrTruncated)
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

// Skip advances the read position by n bytes.
func (r *Reader) Skip(n int) { _ = r.take(n) }

func (r *Reader) ReadU8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) ReadU16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *Reader) ReadU32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *Reader) ReadU64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *Reader) ReadI16() int16 { return int16(r.ReadU16()) }
func (r *Reader) ReadI32() int32 { return int32(r.ReadU32()) }
func (r *Reader) ReadI64() int64 { return int64(r.ReadU64()) }

func (r *Reader) ReadF32() float32 { return math.Float32frombits(r.ReadU32()) }
func (r *Reader) ReadF64() float64 { return math.Float64frombits(r.ReadU64()) }

// ReadBytes reads n raw bytes into a fresh slice.
func (r *Reader) ReadBytes(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// ReadULEB128 decodes an unsigned LEB128 value.
func (r *Reader) ReadULEB128() uint64 {
	var v uint64
	var shift uint
	for {
		b := r.take(1)
		if b == nil {
			return 0
		}
		v |= uint64(b[0]&0x7f) << shift
		if b[0]&0x80 == 0 {
			return v
		}
		shift += 7
		if shift > 63 {
			r.fail(ErrBadString)
			return 0
		}
	}
}

// ReadString reads a length-prefixed string: a marker byte (0x0b when the
// string is present, 0x00 when absent), then a uleb128 length and the UTF-8
// payload.
func (r *Reader) ReadString() string {
	b := r.take(1)
	if b == nil {
		return ""
	}
	switch b[0] {
	case 0x00:
		return ""
	case stringMarker:
		n := r.ReadULEB128()
		if r.err != nil {
			return ""
		}
		payload := r.take(int(n))
		if payload == nil {
			return ""
		}
		return string(payload)
	default:
		r.fail(ErrBadString)
		return ""
	}
}

// SkipString consumes a length-prefixed string without materializing it.
func (r *Reader) SkipString() {
	b := r.take(1)
	if b == nil {
		return
	}
	switch b[0] {
	case 0x00:
	case stringMarker:
		n := r.ReadULEB128()
		if r.err == nil {
			r.Skip(int(n))
		}
	default:
		r.fail(ErrBadString)
	}
}

// ReadHashDigest reads a hash stored as its raw digest bytes.
func (r *Reader) ReadHashDigest() [HashSize]byte {
	var h [HashSize]byte
	b := r.take(HashSize)
	if b != nil {
		copy(h[:], b)
	}
	return h
}

// ReadHashChars reads a hash stored in the older hex-text form: a
// length-prefixed 32-character ASCII string. Anything that is not valid
// 32-character hex yields the zero digest without failing the reader, so a
// single corrupt entry does not poison the rest of the file.
func (r *Reader) ReadHashChars() [HashSize]byte {
	var h [HashSize]byte
	s := r.ReadString()
	if r.err != nil || len(s) != HashSize*2 {
		return h
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h
	}
	copy(h[:], raw)
	return h
}

// Writer is the mirror of Reader: every primitive the reader consumes can be
// emitted in exactly the same encoding. It accumulates into memory; callers
// hand the finished bytes to the async write facility.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns an empty writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the accumulated output.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return w.buf.Len() }

func (w *Writer) WriteU8(v uint8) { w.buf.WriteByte(v) }

func (w *Writer) WriteU16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) WriteU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) WriteU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) WriteI16(v int16) { w.WriteU16(uint16(v)) }
func (w *Writer) WriteI32(v int32) { w.WriteU32(uint32(v)) }
func (w *Writer) WriteI64(v int64) { w.WriteU64(uint64(v)) }

func (w *Writer) WriteF32(v float32) { w.WriteU32(math.Float32bits(v)) }
func (w *Writer) WriteF64(v float64) { w.WriteU64(math.Float64bits(v)) }

// WriteBytes emits a raw byte span.
func (w *Writer) WriteBytes(b []byte) { w.buf.Write(b) }

// WriteULEB128 encodes an unsigned LEB128 value.
func (w *Writer) WriteULEB128(v uint64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.buf.WriteByte(b)
		if v == 0 {
			return
		}
	}
}

// WriteString emits a length-prefixed string in the marker+uleb128 encoding.
func (w *Writer) WriteString(s string) {
	if len(s) == 0 {
		w.WriteU8(0x00)
		return
	}
	w.WriteU8(stringMarker)
	w.WriteULEB128(uint64(len(s)))
	w.buf.WriteString(s)
}

// WriteHashDigest emits a hash as its raw digest bytes.
func (w *Writer) WriteHashDigest(h [HashSize]byte) { w.buf.Write(h[:]) }

// WriteHashChars emits a hash in the older hex-text form.
func (w *Writer) WriteHashChars(h [HashSize]byte) {
	w.WriteString(hex.EncodeToString(h[:]))
}
