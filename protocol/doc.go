// Package protocol is the small slice of the game wire format needed to run a
// virtual session: enough clientbound packets to hold a client in a void
// world, and the serverbound movement family for observing it.
//
// Packets handled by this package are "bare": a VarInt packet id followed by
// the body. Length framing, compression and encryption belong to the host
// transport; Frame is provided for transports that only need the length
// prefix.
//
// Encoding is append-based and allocation-light:
//
//	e := protocol.NewEncoder()
//	e.WriteVarInt(protocol.Play769.KeepAlive)
//	e.WriteInt64(42)
//	packet := e.Bytes()
//
// All multi-byte numbers are big-endian. Text components are sent in their
// plain-string form as unnamed network NBT string tags.
package protocol
