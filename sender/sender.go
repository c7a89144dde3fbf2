// Package sender synthesizes the clientbound packets a virtual session needs
// and writes them through the host's raw packet writer.
//
// Every emission passes the same gate first: the client must be sessioned
// into exactly the given server, speak a protocol version the server
// supports, and, when the server's packet-version matrix has rules for the
// packet key, have a rule for its exact version. A rule's packet version
// selects one of the layouts the protocol package can build, and the wire id
// comes from that layout; without a rule the built-in layout for the
// client's protocol is used. A packet whose layout cannot be resolved is
// refused rather than guessed.
package sender

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/ggoodman/proxy-virtualizer-go/connections"
	"github.com/ggoodman/proxy-virtualizer-go/host"
	"github.com/ggoodman/proxy-virtualizer-go/internal/metrics"
	"github.com/ggoodman/proxy-virtualizer-go/protocol"
	"github.com/ggoodman/proxy-virtualizer-go/servers"
)

// VoidSpawn is where BootstrapVoidLimbo places the client.
var VoidSpawn = struct{ X, Y, Z float64 }{0.5, 1024, 0.5}

// TitleTimes are title animation durations in ticks.
type TitleTimes struct {
	FadeIn, Stay, FadeOut int32
}

// DefaultTitleTimes matches the vanilla client defaults.
var DefaultTitleTimes = TitleTimes{FadeIn: 10, Stay: 70, FadeOut: 20}

// Option configures a Sender.
type Option func(*Sender)

// WithLogger sets the sender's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sender) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics shares an engine-wide metrics set.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sender) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTargetProtocol sets the only protocol version BootstrapVoidLimbo will
// emit for. It defaults to protocol.ProtocolVersion1_21_4.
func WithTargetProtocol(v int) Option {
	return func(s *Sender) { s.targetProtocol = v }
}

// WithTeleportIDs shares a teleport id allocator.
func WithTeleportIDs(t *TeleportIDs) Option {
	return func(s *Sender) {
		if t != nil {
			s.teleports = t
		}
	}
}

// WithTitleTimes overrides the animation used by Title.
func WithTitleTimes(t TitleTimes) Option {
	return func(s *Sender) { s.titleTimes = t }
}

// WithClock overrides the time source for keep-alive ids.
func WithClock(now func() time.Time) Option {
	return func(s *Sender) {
		if now != nil {
			s.now = now
		}
	}
}

// Sender emits gated virtual packets.
type Sender struct {
	proxy   host.Proxy
	writer  host.PacketWriter
	storage connections.Storage

	targetProtocol int
	teleports      *TeleportIDs
	titleTimes     TitleTimes
	now            func() time.Time

	log     *slog.Logger
	metrics *metrics.Metrics
}

// New constructs a Sender. proxy supplies the client population for
// broadcasts; writer carries the packets.
func New(proxy host.Proxy, writer host.PacketWriter, storage connections.Storage, opts ...Option) *Sender {
	s := &Sender{
		proxy:          proxy,
		writer:         writer,
		storage:        storage,
		targetProtocol: protocol.ProtocolVersion1_21_4,
		teleports:      &TeleportIDs{},
		titleTimes:     DefaultTitleTimes,
		now:            time.Now,
		log:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New(nil)
	}
	return s
}

// TargetProtocol is the protocol version bootstrap packets are built for.
func (s *Sender) TargetProtocol() int { return s.targetProtocol }

// TeleportIDs returns the allocator used for position syncs.
func (s *Sender) TeleportIDs() *TeleportIDs { return s.teleports }

// CanSend reports whether packetKey may be sent to c as part of server.
func (s *Sender) CanSend(ctx context.Context, server *servers.Server, c host.Client, packetKey string) bool {
	if server == nil || c == nil {
		return false
	}
	current, ok, err := s.storage.VirtualServer(ctx, c.ID())
	if err != nil {
		s.log.WarnContext(ctx, "sender.session.lookup.fail", slog.String("client", c.Username()), slog.String("err", err.Error()))
		return false
	}
	if !ok || current != server {
		return false
	}
	pv := c.ProtocolVersion()
	if !server.IsProtocolVersionSupported(pv) {
		return false
	}
	if server.HasPacketRules(packetKey) {
		_, ok := server.PacketVersion(packetKey, pv)
		return ok
	}
	return true
}

// packetID resolves the wire id for packetKey: the layout named by the
// matrix rule for the client's version if one exists, else the built-in
// default for that version.
func (s *Sender) packetID(server *servers.Server, c host.Client, packetKey string) (int32, bool) {
	pv := c.ProtocolVersion()
	if rule, ok := server.PacketVersion(packetKey, pv); ok {
		return protocol.LayoutPacketID(packetKey, rule.PacketVersion)
	}
	return protocol.DefaultPacketID(packetKey, pv)
}

// emit gates, resolves and writes a single packet.
func (s *Sender) emit(ctx context.Context, server *servers.Server, c host.Client, packetKey string, build func(id int32) []byte) bool {
	if !s.CanSend(ctx, server, c, packetKey) {
		s.metrics.PacketsTotal.WithLabelValues(packetKey, metrics.ResultRefused).Inc()
		s.log.DebugContext(ctx, "sender.packet.refused", slog.String("packet", packetKey), slog.String("client", c.Username()))
		return false
	}
	id, ok := s.packetID(server, c, packetKey)
	if !ok {
		s.metrics.PacketsTotal.WithLabelValues(packetKey, metrics.ResultRefused).Inc()
		s.log.DebugContext(ctx, "sender.packet.unmapped",
			slog.String("packet", packetKey),
			slog.String("client", c.Username()),
			slog.Int("protocol_version", c.ProtocolVersion()))
		return false
	}
	if err := s.writer.WritePacket(ctx, c, build(id)); err != nil {
		s.metrics.PacketsTotal.WithLabelValues(packetKey, metrics.ResultFailed).Inc()
		s.log.WarnContext(ctx, "sender.packet.write.fail",
			slog.String("packet", packetKey),
			slog.String("client", c.Username()),
			slog.String("err", err.Error()))
		return false
	}
	s.metrics.PacketsTotal.WithLabelValues(packetKey, metrics.ResultOK).Inc()
	return true
}

// KeepAlive sends a keep-alive carrying the current time in milliseconds.
func (s *Sender) KeepAlive(ctx context.Context, server *servers.Server, c host.Client) bool {
	value := s.now().UnixMilli()
	return s.emit(ctx, server, c, protocol.KeyKeepAlive, func(id int32) []byte {
		return protocol.KeepAlive(id, value)
	})
}

// Chat sends message as a system chat line.
func (s *Sender) Chat(ctx context.Context, server *servers.Server, c host.Client, message string) bool {
	return s.emit(ctx, server, c, protocol.KeyChat, func(id int32) []byte {
		return protocol.SystemChat(id, message, false)
	})
}

// ActionBar shows message above the hotbar.
func (s *Sender) ActionBar(ctx context.Context, server *servers.Server, c host.Client, message string) bool {
	return s.emit(ctx, server, c, protocol.KeyActionBar, func(id int32) []byte {
		return protocol.ActionBar(id, message)
	})
}

// Title shows a title and optional subtitle using the configured animation.
// Animation times and subtitle are sent first so the title packet, which
// triggers display, arrives last.
func (s *Sender) Title(ctx context.Context, server *servers.Server, c host.Client, title, subtitle string) bool {
	if !s.CanSend(ctx, server, c, protocol.KeyTitle) {
		s.metrics.PacketsTotal.WithLabelValues(protocol.KeyTitle, metrics.ResultRefused).Inc()
		return false
	}
	times := s.titleTimes
	if !s.emit(ctx, server, c, protocol.KeyTitleTimes, func(id int32) []byte {
		return protocol.TitleTimes(id, times.FadeIn, times.Stay, times.FadeOut)
	}) {
		return false
	}
	if subtitle != "" && !s.emit(ctx, server, c, protocol.KeySubtitle, func(id int32) []byte {
		return protocol.SubtitleText(id, subtitle)
	}) {
		return false
	}
	return s.emit(ctx, server, c, protocol.KeyTitle, func(id int32) []byte {
		return protocol.TitleText(id, title)
	})
}

// Disconnect kicks the client from the proxy with reason. Session cleanup
// happens when the host reports the disconnect.
func (s *Sender) Disconnect(ctx context.Context, server *servers.Server, c host.Client, reason string) bool {
	return s.emit(ctx, server, c, protocol.KeyDisconnect, func(id int32) []byte {
		return protocol.Disconnect(id, reason)
	})
}

// BootstrapVoidLimbo moves the client's rendered world into an empty void:
// a respawn through a throwaway dimension and back so the client drops its
// chunks, the game event that lets it stop waiting for chunks, a position
// sync high above the void, and a keep-alive. Each packet is gated on its
// own; the first refusal or write error aborts the sequence.
func (s *Sender) BootstrapVoidLimbo(ctx context.Context, server *servers.Server, c host.Client) bool {
	if !s.CanSend(ctx, server, c, protocol.KeyLimboBootstrap) {
		s.log.DebugContext(ctx, "sender.bootstrap.refused", slog.String("client", c.Username()))
		return false
	}
	if c.ProtocolVersion() != s.targetProtocol {
		s.log.DebugContext(ctx, "sender.bootstrap.protocol.unsupported",
			slog.String("client", c.Username()),
			slog.Int("protocol_version", c.ProtocolVersion()),
			slog.Int("target_protocol", s.targetProtocol))
		return false
	}

	steps := []struct {
		key   string
		build func(id int32) []byte
	}{
		{protocol.KeyRespawn, func(id int32) []byte { return protocol.Respawn(id, protocol.TheNether) }},
		{protocol.KeyRespawn, func(id int32) []byte { return protocol.Respawn(id, protocol.Overworld) }},
		{protocol.KeyGameEvent, func(id int32) []byte {
			return protocol.GameEvent(id, protocol.GameEventStartWaitingForChunks, 0)
		}},
		{protocol.KeySyncPosition, func(id int32) []byte {
			return protocol.SyncPosition(id, s.teleports.Next(), VoidSpawn.X, VoidSpawn.Y, VoidSpawn.Z)
		}},
	}
	for _, step := range steps {
		if !s.emit(ctx, server, c, step.key, step.build) {
			s.log.InfoContext(ctx, "sender.bootstrap.abort", slog.String("client", c.Username()), slog.String("packet", step.key))
			return false
		}
	}
	if !s.KeepAlive(ctx, server, c) {
		s.log.InfoContext(ctx, "sender.bootstrap.abort", slog.String("client", c.Username()), slog.String("packet", protocol.KeyKeepAlive))
		return false
	}
	return true
}

// broadcast applies send to every connected client and counts successes.
// Delivery is independent per client.
func (s *Sender) broadcast(send func(c host.Client) bool) int {
	n := 0
	for _, c := range s.proxy.Clients() {
		if send(c) {
			n++
		}
	}
	return n
}

func (s *Sender) BroadcastKeepAlive(ctx context.Context, server *servers.Server) int {
	return s.broadcast(func(c host.Client) bool { return s.KeepAlive(ctx, server, c) })
}

func (s *Sender) BroadcastChat(ctx context.Context, server *servers.Server, message string) int {
	return s.broadcast(func(c host.Client) bool { return s.Chat(ctx, server, c, message) })
}

func (s *Sender) BroadcastActionBar(ctx context.Context, server *servers.Server, message string) int {
	return s.broadcast(func(c host.Client) bool { return s.ActionBar(ctx, server, c, message) })
}

func (s *Sender) BroadcastTitle(ctx context.Context, server *servers.Server, title, subtitle string) int {
	return s.broadcast(func(c host.Client) bool { return s.Title(ctx, server, c, title, subtitle) })
}

func (s *Sender) BroadcastDisconnect(ctx context.Context, server *servers.Server, reason string) int {
	return s.broadcast(func(c host.Client) bool { return s.Disconnect(ctx, server, c, reason) })
}

func (s *Sender) BroadcastVoidLimboBootstrap(ctx context.Context, server *servers.Server) int {
	return s.broadcast(func(c host.Client) bool { return s.BootstrapVoidLimbo(ctx, server, c) })
}
