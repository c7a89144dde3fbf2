// Package signals is a synchronous, typed publish/subscribe bus for events
// produced by clients in virtual sessions: chat, commands, movement and look.
//
// Delivery model
//
//	Publish runs every matching handler on the publisher's goroutine, in
//	subscription order, before returning. A slow handler stalls whoever
//	publishes; handlers that do real work should hand off to a queue.
//
//	The subscriber list is copy-on-write. Publish iterates a snapshot, so
//	subscribing or unsubscribing concurrently with Publish is safe; a
//	subscription removed mid-publish may still see that one signal.
//
//	A panicking filter or handler is recovered and logged. Remaining
//	subscribers still receive the signal and the publisher never observes
//	the panic.
package signals

import (
	"fmt"

	"github.com/ggoodman/proxy-virtualizer-go/host"
)

// Signal is anything published on the bus.
type Signal interface {
	// Source is the client the signal originated from.
	Source() host.Client
	// Payload returns the signal's data value.
	Payload() any
}

// PacketKind names the serverbound packet a movement-family signal was
// decoded from.
type PacketKind uint8

const (
	KindPosition PacketKind = iota + 1
	KindPositionAndRotation
	KindRotation
)

func (k PacketKind) String() string {
	switch k {
	case KindPosition:
		return "POSITION"
	case KindPositionAndRotation:
		return "POSITION_AND_ROTATION"
	case KindRotation:
		return "ROTATION"
	default:
		return fmt.Sprintf("PacketKind(%d)", uint8(k))
	}
}

// ChatPayload is a chat message a client submitted.
type ChatPayload struct {
	Message string `cbor:"message"`
}

// CommandPayload is a command a client submitted. Raw is the full command
// line without its leading slash; Label and Arguments are Raw split on
// whitespace.
type CommandPayload struct {
	Raw              string   `cbor:"raw"`
	Label            string   `cbor:"label"`
	Arguments        []string `cbor:"arguments,omitempty"`
	InvocationSource string   `cbor:"invocation_source,omitempty"`
	SignedState      string   `cbor:"signed_state,omitempty"`
}

// MovePayload is a decoded position update.
type MovePayload struct {
	X                   float64    `cbor:"x"`
	Y                   float64    `cbor:"y"`
	Z                   float64    `cbor:"z"`
	OnGround            bool       `cbor:"on_ground"`
	HorizontalCollision bool       `cbor:"horizontal_collision"`
	Kind                PacketKind `cbor:"kind"`
}

// LookPayload is a decoded rotation update.
type LookPayload struct {
	Yaw                 float32    `cbor:"yaw"`
	Pitch               float32    `cbor:"pitch"`
	OnGround            bool       `cbor:"on_ground"`
	HorizontalCollision bool       `cbor:"horizontal_collision"`
	Kind                PacketKind `cbor:"kind"`
}

// ChatSignal is published when a sessioned client sends a chat message.
type ChatSignal struct {
	Client host.Client
	ChatPayload
}

func (s ChatSignal) Source() host.Client { return s.Client }
func (s ChatSignal) Payload() any        { return s.ChatPayload }

// CommandSignal is published when a sessioned client runs a command.
type CommandSignal struct {
	Client host.Client
	CommandPayload
}

func (s CommandSignal) Source() host.Client { return s.Client }
func (s CommandSignal) Payload() any        { return s.CommandPayload }

// MoveSignal is published for every decoded packet that carries a position.
type MoveSignal struct {
	Client host.Client
	MovePayload
}

func (s MoveSignal) Source() host.Client { return s.Client }
func (s MoveSignal) Payload() any        { return s.MovePayload }

// LookSignal is published for every decoded packet that carries a rotation.
type LookSignal struct {
	Client host.Client
	LookPayload
}

func (s LookSignal) Source() host.Client { return s.Client }
func (s LookSignal) Payload() any        { return s.LookPayload }

var (
	_ Signal = ChatSignal{}
	_ Signal = CommandSignal{}
	_ Signal = MoveSignal{}
	_ Signal = LookSignal{}
)
