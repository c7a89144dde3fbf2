package protocol

import (
	"errors"
	"fmt"
)

// ErrNotMovement is returned by ParseMovement for packets outside the
// serverbound movement family.
var ErrNotMovement = errors.New("protocol: not a movement packet")

// MovementKind identifies which serverbound packet carried a Movement.
type MovementKind uint8

const (
	MovementPosition MovementKind = iota + 1
	MovementPositionRotation
	MovementRotation
)

func (k MovementKind) String() string {
	switch k {
	case MovementPosition:
		return "position"
	case MovementPositionRotation:
		return "position_rotation"
	case MovementRotation:
		return "rotation"
	default:
		return fmt.Sprintf("movement(%d)", uint8(k))
	}
}

// HasPosition reports whether packets of this kind carry coordinates.
func (k MovementKind) HasPosition() bool {
	return k == MovementPosition || k == MovementPositionRotation
}

// HasRotation reports whether packets of this kind carry yaw and pitch.
func (k MovementKind) HasRotation() bool {
	return k == MovementRotation || k == MovementPositionRotation
}

// Movement flag bits. Other bits are ignored.
const (
	FlagOnGround            byte = 0x01
	FlagHorizontalCollision byte = 0x02
)

// Movement is a decoded serverbound movement packet. Fields not carried by
// Kind are zero.
type Movement struct {
	Kind                MovementKind
	X, Y, Z             float64
	Yaw, Pitch          float32
	OnGround            bool
	HorizontalCollision bool
}

// Flags returns the wire flag byte for m.
func (m Movement) Flags() byte {
	var f byte
	if m.OnGround {
		f |= FlagOnGround
	}
	if m.HorizontalCollision {
		f |= FlagHorizontalCollision
	}
	return f
}

// ParseMovement decodes a bare serverbound packet using the ids in ids.
// packet is read through a private cursor and never modified. Trailing bytes
// after the flag byte are ignored.
func ParseMovement(ids PacketIDs, packet []byte) (Movement, error) {
	d := NewDecoder(packet)
	id, err := d.ReadVarInt()
	if err != nil {
		return Movement{}, fmt.Errorf("read packet id: %w", err)
	}

	var m Movement
	switch id {
	case ids.MovePosition:
		m.Kind = MovementPosition
	case ids.MovePositionRotation:
		m.Kind = MovementPositionRotation
	case ids.MoveRotation:
		m.Kind = MovementRotation
	default:
		return Movement{}, fmt.Errorf("%w: id 0x%02X", ErrNotMovement, id)
	}

	if m.Kind.HasPosition() {
		if m.X, err = d.ReadFloat64(); err != nil {
			return Movement{}, fmt.Errorf("read x: %w", err)
		}
		if m.Y, err = d.ReadFloat64(); err != nil {
			return Movement{}, fmt.Errorf("read y: %w", err)
		}
		if m.Z, err = d.ReadFloat64(); err != nil {
			return Movement{}, fmt.Errorf("read z: %w", err)
		}
	}
	if m.Kind.HasRotation() {
		if m.Yaw, err = d.ReadFloat32(); err != nil {
			return Movement{}, fmt.Errorf("read yaw: %w", err)
		}
		if m.Pitch, err = d.ReadFloat32(); err != nil {
			return Movement{}, fmt.Errorf("read pitch: %w", err)
		}
	}
	flags, err := d.ReadByte()
	if err != nil {
		return Movement{}, fmt.Errorf("read flags: %w", err)
	}
	m.OnGround = flags&FlagOnGround != 0
	m.HorizontalCollision = flags&FlagHorizontalCollision != 0
	return m, nil
}

// EncodeMovement is the inverse of ParseMovement. It is used by tests and
// tooling that need to replay client movement.
func EncodeMovement(ids PacketIDs, m Movement) ([]byte, error) {
	var id int32
	switch m.Kind {
	case MovementPosition:
		id = ids.MovePosition
	case MovementPositionRotation:
		id = ids.MovePositionRotation
	case MovementRotation:
		id = ids.MoveRotation
	default:
		return nil, fmt.Errorf("%w: kind %s", ErrNotMovement, m.Kind)
	}
	e := NewPacket(id)
	if m.Kind.HasPosition() {
		e.WriteFloat64(m.X)
		e.WriteFloat64(m.Y)
		e.WriteFloat64(m.Z)
	}
	if m.Kind.HasRotation() {
		e.WriteFloat32(m.Yaw)
		e.WriteFloat32(m.Pitch)
	}
	e.WriteUByte(m.Flags())
	return e.Bytes(), nil
}
