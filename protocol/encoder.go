package protocol

import (
	"math"
	"unicode/utf16"
)

// Encoder is a binary encoder that appends data to an internal buffer.
type Encoder struct {
	buf []byte
}

// NewEncoder creates a new encoder with a default initial capacity.
func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 64)}
}

// NewPacket creates an encoder whose buffer already holds packetID.
func NewPacket(packetID int32) *Encoder {
	e := NewEncoder()
	e.WriteVarInt(packetID)
	return e
}

// Reset resets the encoder to empty state, reusing the underlying buffer.
func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
}

// Bytes returns the encoded bytes. The returned slice is valid until
// the next call to Reset or any Write method.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Len returns the number of bytes currently encoded.
func (e *Encoder) Len() int {
	return len(e.buf)
}

// WriteUByte appends a single unsigned byte.
func (e *Encoder) WriteUByte(b byte) {
	e.buf = append(e.buf, b)
}

// WriteBytes appends raw bytes.
func (e *Encoder) WriteBytes(b []byte) {
	e.buf = append(e.buf, b...)
}

// WriteBool appends a boolean as a single byte (0x00 or 0x01).
func (e *Encoder) WriteBool(b bool) {
	if b {
		e.buf = append(e.buf, 0x01)
	} else {
		e.buf = append(e.buf, 0x00)
	}
}

// WriteVarInt appends a VarInt.
func (e *Encoder) WriteVarInt(v int32) {
	e.buf = AppendVarInt(e.buf, v)
}

// WriteVarLong appends a VarLong.
func (e *Encoder) WriteVarLong(v int64) {
	e.buf = AppendVarLong(e.buf, v)
}

// WriteUint16 appends a uint16 in big-endian byte order.
func (e *Encoder) WriteUint16(v uint16) {
	e.buf = append(e.buf, byte(v>>8), byte(v))
}

// WriteInt32 appends an int32 in big-endian byte order.
func (e *Encoder) WriteInt32(v int32) {
	u := uint32(v)
	e.buf = append(e.buf, byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
}

// WriteInt64 appends an int64 in big-endian byte order.
func (e *Encoder) WriteInt64(v int64) {
	u := uint64(v)
	e.buf = append(e.buf,
		byte(u>>56), byte(u>>48), byte(u>>40), byte(u>>32),
		byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
}

// WriteFloat32 appends a float32 in IEEE 754 format (big-endian).
func (e *Encoder) WriteFloat32(v float32) {
	e.WriteInt32(int32(math.Float32bits(v)))
}

// WriteFloat64 appends a float64 in IEEE 754 format (big-endian).
func (e *Encoder) WriteFloat64(v float64) {
	e.WriteInt64(int64(math.Float64bits(v)))
}

// WriteString appends a VarInt length-prefixed UTF-8 string.
func (e *Encoder) WriteString(s string) {
	e.WriteVarInt(int32(len(s)))
	e.buf = append(e.buf, s...)
}

// WriteIdentifier appends a namespaced identifier such as
// "minecraft:overworld". Identifiers share the string encoding.
func (e *Encoder) WriteIdentifier(id string) {
	e.WriteString(id)
}

// WriteTextComponent appends s as a plain text component: an unnamed network
// NBT string tag. Text longer than the tag can carry is truncated at a rune
// boundary.
func (e *Encoder) WriteTextComponent(s string) {
	e.buf = append(e.buf, nbtTagString)
	e.writeNBTString(s)
}

// writeNBTString appends a u16 length and the Java modified UTF-8 form of s:
// NUL becomes 0xC0 0x80 and supplementary runes become two 3-byte surrogates.
func (e *Encoder) writeNBTString(s string) {
	lenAt := len(e.buf)
	e.buf = append(e.buf, 0, 0)
	start := len(e.buf)
	for _, r := range s {
		var enc [6]byte
		n := 0
		switch {
		case r == 0:
			enc[0], enc[1] = 0xC0, 0x80
			n = 2
		case r < 0x80:
			enc[0] = byte(r)
			n = 1
		case r < 0x800:
			enc[0] = 0xC0 | byte(r>>6)
			enc[1] = 0x80 | byte(r&0x3F)
			n = 2
		case r < 0x10000:
			n = putModifiedUTF8Unit(enc[:], uint16(r))
		default:
			hi, lo := utf16.EncodeRune(r)
			n = putModifiedUTF8Unit(enc[:], uint16(hi))
			n += putModifiedUTF8Unit(enc[n:], uint16(lo))
		}
		if len(e.buf)-start+n > maxNBTStringLen {
			break
		}
		e.buf = append(e.buf, enc[:n]...)
	}
	size := len(e.buf) - start
	e.buf[lenAt] = byte(size >> 8)
	e.buf[lenAt+1] = byte(size)
}

func putModifiedUTF8Unit(dst []byte, u uint16) int {
	dst[0] = 0xE0 | byte(u>>12)
	dst[1] = 0x80 | byte((u>>6)&0x3F)
	dst[2] = 0x80 | byte(u&0x3F)
	return 3
}

const (
	nbtTagString    = 0x08
	maxNBTStringLen = math.MaxUint16
)
