package protocol

// Frame prefixes packet with its VarInt length, producing the uncompressed
// wire framing.
func Frame(packet []byte) []byte {
	out := make([]byte, 0, VarIntLen(int32(len(packet)))+len(packet))
	out = AppendVarInt(out, int32(len(packet)))
	return append(out, packet...)
}

// Unframe splits the first length-prefixed packet off buf. The returned
// packet aliases buf.
func Unframe(buf []byte) (packet, rest []byte, err error) {
	d := NewDecoder(buf)
	n, err := d.ReadVarInt()
	if err != nil {
		return nil, buf, err
	}
	if n < 0 {
		return nil, buf, ErrBadLength
	}
	packet, err = d.ReadBytes(int(n))
	if err != nil {
		return nil, buf, err
	}
	return packet, buf[d.Position():], nil
}

// PacketID reads the leading VarInt id of a bare packet and returns it with
// the body that follows.
func PacketID(packet []byte) (id int32, body []byte, err error) {
	d := NewDecoder(packet)
	id, err = d.ReadVarInt()
	if err != nil {
		return 0, nil, err
	}
	return id, packet[d.Position():], nil
}
