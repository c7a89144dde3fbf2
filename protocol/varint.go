package protocol

// MaxVarIntLen is the maximum number of bytes a 32-bit VarInt occupies.
const MaxVarIntLen = 5

// MaxVarLongLen is the maximum number of bytes a 64-bit VarLong occupies.
const MaxVarLongLen = 10

// AppendVarInt appends v in the game's VarInt form: little-endian groups of
// seven bits, high bit set on every byte but the last. Negative values always
// take five bytes.
func AppendVarInt(buf []byte, v int32) []byte {
	uv := uint32(v)
	for uv >= 0x80 {
		buf = append(buf, byte(uv)|0x80)
		uv >>= 7
	}
	return append(buf, byte(uv))
}

// AppendVarLong is the 64-bit counterpart of AppendVarInt.
func AppendVarLong(buf []byte, v int64) []byte {
	uv := uint64(v)
	for uv >= 0x80 {
		buf = append(buf, byte(uv)|0x80)
		uv >>= 7
	}
	return append(buf, byte(uv))
}

// DecodeVarInt decodes a VarInt from the front of buf.
// Returns (value, bytesRead). If bytesRead < 0, decoding failed:
//   - -1: buffer too short (incomplete VarInt)
//   - -2: more than MaxVarIntLen bytes
func DecodeVarInt(buf []byte) (int32, int) {
	var v uint32
	for i, b := range buf {
		if i >= MaxVarIntLen {
			return 0, -2
		}
		v |= uint32(b&0x7F) << (7 * uint(i))
		if b < 0x80 {
			return int32(v), i + 1
		}
	}
	if len(buf) >= MaxVarIntLen {
		return 0, -2
	}
	return 0, -1
}

// VarIntLen returns the number of bytes needed to encode v as a VarInt.
func VarIntLen(v int32) int {
	uv := uint32(v)
	n := 1
	for uv >= 0x80 {
		n++
		uv >>= 7
	}
	return n
}
