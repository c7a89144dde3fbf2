package protocol

// Dimension describes the world a Respawn packet moves the client into.
type Dimension struct {
	// TypeID is the index into the dimension_type registry sent at
	// configuration time.
	TypeID int32
	Name   string
	Flat   bool
}

// Vanilla dimensions used by the void bootstrap.
var (
	Overworld = Dimension{TypeID: 0, Name: "minecraft:overworld", Flat: true}
	TheNether = Dimension{TypeID: 1, Name: "minecraft:the_nether"}
)

// VoidSeaLevel is the sea level advertised for synthetic worlds.
const VoidSeaLevel = 63

// Respawn builds a respawn packet placing a spectator into dim with no death
// location and nothing kept.
func Respawn(packetID int32, dim Dimension) []byte {
	e := NewPacket(packetID)
	e.WriteVarInt(dim.TypeID)
	e.WriteIdentifier(dim.Name)
	e.WriteInt64(0) // hashed seed
	e.WriteUByte(GameModeSpectator)
	e.WriteUByte(0xFF) // previous game mode: none
	e.WriteBool(false) // debug
	e.WriteBool(dim.Flat)
	e.WriteBool(false) // death location
	e.WriteVarInt(0)   // portal cooldown
	e.WriteVarInt(VoidSeaLevel)
	e.WriteUByte(0) // data kept
	return e.Bytes()
}

// GameEvent builds a game event packet.
func GameEvent(packetID int32, event uint8, value float32) []byte {
	e := NewPacket(packetID)
	e.WriteUByte(event)
	e.WriteFloat32(value)
	return e.Bytes()
}

// SyncPosition builds an absolute position synchronization with zero
// velocity and rotation.
func SyncPosition(packetID, teleportID int32, x, y, z float64) []byte {
	e := NewPacket(packetID)
	e.WriteVarInt(teleportID)
	e.WriteFloat64(x)
	e.WriteFloat64(y)
	e.WriteFloat64(z)
	e.WriteFloat64(0)
	e.WriteFloat64(0)
	e.WriteFloat64(0)
	e.WriteFloat32(0)
	e.WriteFloat32(0)
	e.WriteInt32(0) // relative flags: none
	return e.Bytes()
}

// KeepAlive builds a keep-alive packet carrying id.
func KeepAlive(packetID int32, id int64) []byte {
	e := NewPacket(packetID)
	e.WriteInt64(id)
	return e.Bytes()
}

// SystemChat builds a system chat message. overlay places it above the
// hotbar instead of the chat window.
func SystemChat(packetID int32, text string, overlay bool) []byte {
	e := NewPacket(packetID)
	e.WriteTextComponent(text)
	e.WriteBool(overlay)
	return e.Bytes()
}

// ActionBar builds a set-action-bar-text packet.
func ActionBar(packetID int32, text string) []byte {
	return textPacket(packetID, text)
}

// TitleText builds a set-title-text packet.
func TitleText(packetID int32, text string) []byte {
	return textPacket(packetID, text)
}

// SubtitleText builds a set-subtitle-text packet.
func SubtitleText(packetID int32, text string) []byte {
	return textPacket(packetID, text)
}

// TitleTimes builds a set-title-animation-times packet. Durations are in
// ticks.
func TitleTimes(packetID int32, fadeIn, stay, fadeOut int32) []byte {
	e := NewPacket(packetID)
	e.WriteInt32(fadeIn)
	e.WriteInt32(stay)
	e.WriteInt32(fadeOut)
	return e.Bytes()
}

// Disconnect builds a play-state disconnect packet.
func Disconnect(packetID int32, reason string) []byte {
	return textPacket(packetID, reason)
}

func textPacket(packetID int32, text string) []byte {
	e := NewPacket(packetID)
	e.WriteTextComponent(text)
	return e.Bytes()
}
