package redisrelay

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/ggoodman/proxy-virtualizer-go/signals"
)

// ErrUnsupportedSignal is returned when a signal has no record form.
var ErrUnsupportedSignal = errors.New("redisrelay: unsupported signal type")

// Record kinds.
const (
	KindChat    = "chat"
	KindCommand = "command"
	KindMove    = "move"
	KindLook    = "look"
)

// Record is the stream form of a signal. Exactly one payload field is set,
// matching Kind.
type Record struct {
	// ID is the stream entry id. It is filled in by Tail and not encoded.
	ID string `cbor:"-"`

	Kind     string    `cbor:"kind"`
	ClientID uuid.UUID `cbor:"client_id"`
	Username string    `cbor:"username"`
	UnixMs   int64     `cbor:"unix_ms"`

	Chat    *signals.ChatPayload    `cbor:"chat,omitempty"`
	Command *signals.CommandPayload `cbor:"command,omitempty"`
	Move    *signals.MovePayload    `cbor:"move,omitempty"`
	Look    *signals.LookPayload    `cbor:"look,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// uuid.UUID is written as its canonical text form.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("redisrelay: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("redisrelay: CBOR decoder initialization failed: " + err.Error())
	}
}

// NewRecord converts sig into its record form.
func NewRecord(sig signals.Signal, unixMs int64) (Record, error) {
	rec := Record{UnixMs: unixMs}
	if c := sig.Source(); c != nil {
		rec.ClientID = c.ID()
		rec.Username = c.Username()
	}
	switch s := sig.(type) {
	case signals.ChatSignal:
		rec.Kind = KindChat
		rec.Chat = &s.ChatPayload
	case signals.CommandSignal:
		rec.Kind = KindCommand
		rec.Command = &s.CommandPayload
	case signals.MoveSignal:
		rec.Kind = KindMove
		rec.Move = &s.MovePayload
	case signals.LookSignal:
		rec.Kind = KindLook
		rec.Look = &s.LookPayload
	default:
		return Record{}, fmt.Errorf("%w: %T", ErrUnsupportedSignal, sig)
	}
	return rec, nil
}

// Marshal encodes rec deterministically.
func (rec Record) Marshal() ([]byte, error) {
	return encMode.Marshal(rec)
}

// UnmarshalRecord decodes a record produced by Record.Marshal.
func UnmarshalRecord(data []byte) (Record, error) {
	var rec Record
	if err := decMode.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}
