package protocol

import (
	"errors"
	"math"
)

// Common decoding errors.
var (
	ErrShortBuffer  = errors.New("protocol: buffer too short")
	ErrVarIntTooBig = errors.New("protocol: varint too big")
	ErrBadLength    = errors.New("protocol: invalid length prefix")
)

// Decoder reads from a byte slice through its own cursor. It never writes to
// the slice, so callers may hand it a buffer they still own.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder creates a new decoder from the given byte slice.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.pos
}

// Position returns the current read position.
func (d *Decoder) Position() int {
	return d.pos
}

// ReadByte reads a single byte.
func (d *Decoder) ReadByte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, ErrShortBuffer
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

// ReadBytes reads exactly n bytes. The returned slice references the
// decoder's buffer; do not modify.
func (d *Decoder) ReadBytes(n int) ([]byte, error) {
	if n < 0 || d.pos+n > len(d.buf) {
		return nil, ErrShortBuffer
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

// ReadBool reads a single byte; any non-zero value is true.
func (d *Decoder) ReadBool() (bool, error) {
	b, err := d.ReadByte()
	return b != 0, err
}

// ReadVarInt reads a VarInt.
func (d *Decoder) ReadVarInt() (int32, error) {
	v, n := DecodeVarInt(d.buf[d.pos:])
	switch {
	case n == -1:
		return 0, ErrShortBuffer
	case n < 0:
		return 0, ErrVarIntTooBig
	}
	d.pos += n
	return v, nil
}

// ReadUint16 reads a big-endian uint16.
func (d *Decoder) ReadUint16() (uint16, error) {
	b, err := d.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

// ReadInt32 reads a big-endian int32.
func (d *Decoder) ReadInt32() (int32, error) {
	b, err := d.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return int32(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])), nil
}

// ReadInt64 reads a big-endian int64.
func (d *Decoder) ReadInt64() (int64, error) {
	b, err := d.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	var u uint64
	for _, c := range b {
		u = u<<8 | uint64(c)
	}
	return int64(u), nil
}

// ReadFloat32 reads a big-endian IEEE 754 float32.
func (d *Decoder) ReadFloat32() (float32, error) {
	v, err := d.ReadInt32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(uint32(v)), nil
}

// ReadFloat64 reads a big-endian IEEE 754 float64.
func (d *Decoder) ReadFloat64() (float64, error) {
	v, err := d.ReadInt64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(uint64(v)), nil
}

// ReadString reads a VarInt length-prefixed UTF-8 string.
func (d *Decoder) ReadString() (string, error) {
	n, err := d.ReadVarInt()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", ErrBadLength
	}
	b, err := d.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
