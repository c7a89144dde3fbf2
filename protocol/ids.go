package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownLayout is returned by ValidatePacketVersion.
var ErrUnknownLayout = errors.New("protocol: unknown packet layout")

// ProtocolVersion1_21_4 is the only revision the synthetic packets in this
// package are laid out for.
const ProtocolVersion1_21_4 = 769

// Packet keys name logical packet kinds in a server's packet-version matrix.
const (
	// KeyLimboBootstrap gates the whole void bootstrap sequence. Its rule
	// value is not used as a packet id.
	KeyLimboBootstrap = "virtual.limbo_bootstrap"

	KeyRespawn      = "clientbound.respawn"
	KeyGameEvent    = "clientbound.game_event"
	KeySyncPosition = "clientbound.sync_position"
	KeyKeepAlive    = "clientbound.keep_alive"
	KeyChat         = "clientbound.chat"
	KeyActionBar    = "clientbound.action_bar"
	KeyTitle        = "clientbound.title"
	KeySubtitle     = "clientbound.subtitle"
	KeyTitleTimes   = "clientbound.title_times"
	KeyDisconnect   = "clientbound.disconnect"
)

// PacketIDs is a table of clientbound play packet ids for one protocol
// revision, plus the serverbound movement family.
type PacketIDs struct {
	Disconnect   int32
	GameEvent    int32
	KeepAlive    int32
	SyncPosition int32
	Respawn      int32
	ActionBar    int32
	Subtitle     int32
	Title        int32
	TitleTimes   int32
	SystemChat   int32

	MovePosition         int32
	MovePositionRotation int32
	MoveRotation         int32
}

// Play769 holds the play-state packet ids of protocol 769.
var Play769 = PacketIDs{
	Disconnect:   0x1D,
	GameEvent:    0x23,
	KeepAlive:    0x27,
	SyncPosition: 0x42,
	Respawn:      0x4C,
	ActionBar:    0x51,
	Subtitle:     0x6A,
	Title:        0x6C,
	TitleTimes:   0x6D,
	SystemChat:   0x73,

	MovePosition:         0x1D,
	MovePositionRotation: 0x1E,
	MoveRotation:         0x1F,
}

var defaultIDs769 = map[string]int32{
	KeyRespawn:      Play769.Respawn,
	KeyGameEvent:    Play769.GameEvent,
	KeySyncPosition: Play769.SyncPosition,
	KeyKeepAlive:    Play769.KeepAlive,
	KeyChat:         Play769.SystemChat,
	KeyActionBar:    Play769.ActionBar,
	KeyTitle:        Play769.Title,
	KeySubtitle:     Play769.Subtitle,
	KeyTitleTimes:   Play769.TitleTimes,
	KeyDisconnect:   Play769.Disconnect,
}

// LayoutVersion1 is the only packet layout this package builds: the ids and
// bodies of protocol 769. A packet-version rule names a layout; the number
// itself never reaches the wire.
const LayoutVersion1 = 1

// layouts maps a packet key and layout version to the wire id the builders
// produce for it.
var layouts = func() map[string]map[int]int32 {
	out := make(map[string]map[int]int32, len(defaultIDs769))
	for k, id := range defaultIDs769 {
		out[k] = map[int]int32{LayoutVersion1: id}
	}
	return out
}()

// DefaultPacketIDs returns a copy of the clientbound packet keys mapped to
// their protocol 769 ids. KeyLimboBootstrap is not included.
func DefaultPacketIDs() map[string]int32 {
	out := make(map[string]int32, len(defaultIDs769))
	for k, v := range defaultIDs769 {
		out[k] = v
	}
	return out
}

// DefaultPacketID returns the id for key when speaking protocolVersion, if
// this package knows the layout.
func DefaultPacketID(key string, protocolVersion int) (int32, bool) {
	if !HasDefaultLayouts(protocolVersion) {
		return 0, false
	}
	id, ok := defaultIDs769[key]
	return id, ok
}

// HasDefaultLayouts reports whether every clientbound packet this package
// builds has a built-in layout for protocolVersion.
func HasDefaultLayouts(protocolVersion int) bool {
	return protocolVersion == ProtocolVersion1_21_4
}

// LayoutPacketID returns the wire id of layout packetVersion of key. Unknown
// pairs report false and must not be emitted.
func LayoutPacketID(key string, packetVersion int) (int32, bool) {
	id, ok := layouts[key][packetVersion]
	return id, ok
}

// ValidatePacketVersion rejects a rule that would select a layout this
// package cannot build. Keys it does not build, such as KeyLimboBootstrap,
// are accepted with any version.
func ValidatePacketVersion(key string, packetVersion int) error {
	key = strings.TrimSpace(key)
	if !IsLayoutKey(key) {
		return nil
	}
	if _, ok := LayoutPacketID(key, packetVersion); !ok {
		return fmt.Errorf("%w: %s has no layout version %d", ErrUnknownLayout, key, packetVersion)
	}
	return nil
}

// IsLayoutKey reports whether key names a packet this package builds.
func IsLayoutKey(key string) bool {
	_, ok := layouts[key]
	return ok
}

// Game modes.
const (
	GameModeSurvival  uint8 = 0
	GameModeCreative  uint8 = 1
	GameModeAdventure uint8 = 2
	GameModeSpectator uint8 = 3
)

// Game events.
const (
	GameEventStartWaitingForChunks uint8 = 13
)
