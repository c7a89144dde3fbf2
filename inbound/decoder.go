package inbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ggoodman/proxy-virtualizer-go/connections"
	"github.com/ggoodman/proxy-virtualizer-go/host"
	"github.com/ggoodman/proxy-virtualizer-go/protocol"
	"github.com/ggoodman/proxy-virtualizer-go/signals"
)

// Signal kind labels used for metrics.
const (
	kindMove = "move"
	kindLook = "look"
)

// Decoder parses inbound movement packets of sessioned clients and publishes
// them on a bus.
type Decoder struct {
	storage connections.Storage
	bus     *signals.Bus
	opts    options
}

// NewDecoder returns a Decoder publishing to bus.
func NewDecoder(storage connections.Storage, bus *signals.Bus, opts ...Option) *Decoder {
	return &Decoder{storage: storage, bus: bus, opts: buildOptions(opts)}
}

// OnInbound implements host.InboundTap.
func (d *Decoder) OnInbound(ctx context.Context, c host.Client, packet []byte) {
	d.HandleInbound(ctx, c, packet)
}

// HandleInbound decodes packet and publishes the resulting signals. packet is
// never modified or retained. Malformed packets are logged at debug level and
// dropped.
func (d *Decoder) HandleInbound(ctx context.Context, c host.Client, packet []byte) {
	if c == nil || len(packet) == 0 {
		return
	}
	if c.ProtocolVersion() != d.opts.protocolVersion {
		return
	}
	in, err := d.storage.IsInVirtualServer(ctx, c.ID())
	if err != nil {
		d.opts.log.DebugContext(ctx, "inbound.session.lookup.fail",
			slog.String("client", c.Username()),
			slog.String("err", err.Error()))
		return
	}
	if !in {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.opts.metrics.DecodeErrors.Inc()
			d.opts.log.DebugContext(ctx, "inbound.decode.panic",
				slog.String("client", c.Username()),
				slog.String("panic", fmt.Sprint(r)))
		}
	}()

	m, err := protocol.ParseMovement(d.opts.ids, packet)
	if err != nil {
		if errors.Is(err, protocol.ErrNotMovement) {
			return
		}
		d.opts.metrics.DecodeErrors.Inc()
		d.opts.log.DebugContext(ctx, "inbound.decode.fail",
			slog.String("client", c.Username()),
			slog.Int("bytes", len(packet)),
			slog.String("err", err.Error()))
		return
	}
	d.publish(c, m)
}

func (d *Decoder) publish(c host.Client, m protocol.Movement) {
	kind := packetKind(m.Kind)
	if m.Kind.HasPosition() {
		d.opts.metrics.SignalsDecoded.WithLabelValues(kindMove).Inc()
		d.bus.Publish(signals.MoveSignal{
			Client: c,
			MovePayload: signals.MovePayload{
				X:                   m.X,
				Y:                   m.Y,
				Z:                   m.Z,
				OnGround:            m.OnGround,
				HorizontalCollision: m.HorizontalCollision,
				Kind:                kind,
			},
		})
	}
	if m.Kind.HasRotation() {
		d.opts.metrics.SignalsDecoded.WithLabelValues(kindLook).Inc()
		d.bus.Publish(signals.LookSignal{
			Client: c,
			LookPayload: signals.LookPayload{
				Yaw:                 m.Yaw,
				Pitch:               m.Pitch,
				OnGround:            m.OnGround,
				HorizontalCollision: m.HorizontalCollision,
				Kind:                kind,
			},
		})
	}
}

func packetKind(k protocol.MovementKind) signals.PacketKind {
	switch k {
	case protocol.MovementPosition:
		return signals.KindPosition
	case protocol.MovementPositionRotation:
		return signals.KindPositionAndRotation
	default:
		return signals.KindRotation
	}
}

var _ host.InboundTap = (*Decoder)(nil)
