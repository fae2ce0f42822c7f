package bytebuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPrimitiveRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteU8(0xab)
	w.WriteU16(0xbeef)
	w.WriteU32(0xdeadbeef)
	w.WriteU64(0x0123456789abcdef)
	w.WriteI16(-2)
	w.WriteI32(-1)
	w.WriteI64(-9000)
	w.WriteF32(4.25)
	w.WriteF64(-12.3)

	r := NewReaderBytes(w.Bytes())
	assert.Equal(t, uint8(0xab), r.ReadU8())
	assert.Equal(t, uint16(0xbeef), r.ReadU16())
	assert.Equal(t, uint32(0xdeadbeef), r.ReadU32())
	assert.Equal(t, uint64(0x0123456789abcdef), r.ReadU64())
	assert.Equal(t, int16(-2), r.ReadI16())
	assert.Equal(t, int32(-1), r.ReadI32())
	assert.Equal(t, int64(-9000), r.ReadI64())
	assert.Equal(t, float32(4.25), r.ReadF32())
	assert.Equal(t, float64(-12.3), r.ReadF64())
	assert.True(t, r.Good())
}

func TestLittleEndianLayout(t *testing.T) {
	w := NewWriter()
	w.WriteU32(0x01020304)
	require.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, w.Bytes())
}

func TestStringEncoding(t *testing.T) {
	w := NewWriter()
	w.WriteString("osu")
	w.WriteString("")
	w.WriteString("after-empty")

	b := w.Bytes()
	require.Equal(t, byte(0x0b), b[0])
	require.Equal(t, byte(3), b[1]) // uleb128 length
	require.Equal(t, byte(0x00), b[5])

	r := NewReaderBytes(b)
	assert.Equal(t, "osu", r.ReadString())
	assert.Equal(t, "", r.ReadString())
	assert.Equal(t, "after-empty", r.ReadString())
	assert.True(t, r.Good())
}

func TestSkipStringMatchesReadString(t *testing.T) {
	w := NewWriter()
	w.WriteString("to-be-skipped")
	w.WriteU32(77)

	r := NewReaderBytes(w.Bytes())
	r.SkipString()
	assert.Equal(t, uint32(77), r.ReadU32())
	assert.True(t, r.Good())
}

func TestBadStringMarkerFailsReader(t *testing.T) {
	r := NewReaderBytes([]byte{0x42, 0x01, 0x02})
	assert.Equal(t, "", r.ReadString())
	assert.False(t, r.Good())
	assert.ErrorIs(t, r.Err(), ErrBadString)
}

func TestOnceBadAlwaysBad(t *testing.T) {
	w := NewWriter()
	w.WriteU32(5)
	r := NewReaderBytes(w.Bytes())

	assert.Equal(t, uint32(5), r.ReadU32())
	assert.Equal(t, uint64(0), r.ReadU64()) // truncated
	assert.False(t, r.Good())

	// every further read is a no-op returning zero
	assert.Equal(t, uint8(0), r.ReadU8())
	assert.Equal(t, "", r.ReadString())
	assert.Equal(t, [HashSize]byte{}, r.ReadHashDigest())
	assert.ErrorIs(t, r.Err(), ErrTruncated)
}

func TestHashForms(t *testing.T) {
	var h [HashSize]byte
	for i := range h {
		h[i] = byte(i + 1)
	}

	w := NewWriter()
	w.WriteHashDigest(h)
	w.WriteHashChars(h)

	r := NewReaderBytes(w.Bytes())
	assert.Equal(t, h, r.ReadHashDigest())
	assert.Equal(t, h, r.ReadHashChars())
	assert.True(t, r.Good())
}

func TestHashCharsBadHexYieldsZero(t *testing.T) {
	w := NewWriter()
	w.WriteString("zz")
	r := NewReaderBytes(w.Bytes())
	assert.Equal(t, [HashSize]byte{}, r.ReadHashChars())
	// the reader stays good so the rest of the file can still load
	assert.True(t, r.Good())
}

func TestULEB128RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := rapid.Uint64().Draw(t, "v")
		w := NewWriter()
		w.WriteULEB128(v)
		r := NewReaderBytes(w.Bytes())
		assert.Equal(t, v, r.ReadULEB128())
		assert.True(t, r.Good())
	})
}

func TestStringRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.String().Draw(t, "s")
		w := NewWriter()
		w.WriteString(s)
		r := NewReaderBytes(w.Bytes())
		assert.Equal(t, s, r.ReadString())
	})
}

func TestMissingFileReader(t *testing.T) {
	r := NewReader("/nonexistent/path/to.db")
	assert.False(t, r.Good())
	assert.Equal(t, int64(0), r.TotalSize())
	assert.Equal(t, uint32(0), r.ReadU32())
}
