// Package host defines the narrow contract between the virtual-server engine
// and the proxy that embeds it. The engine never reaches into proxy internals;
// an adapter for the concrete proxy implements these interfaces.
//
// Required capabilities
//
//	Proxy        -> client population, backend list, reconnection (confirmed and fire-and-forget)
//	PacketWriter -> inject a fully-formed packet (id + body) into a client's outbound stream
//
// Optional capabilities, discovered with a type assertion on the Proxy
//
//	BackendDetacher  -> drop the client's backend connection without moving it anywhere
//	InboundInstaller -> observe raw inbound packets alongside the proxy's own decoding
//
// An adapter that cannot offer an optional capability simply does not
// implement it. The engine then degrades: without BackendDetacher the client's
// backend stays attached while virtual packets are sent, and without
// InboundInstaller no movement signals are produced.
package host

import (
	"context"

	"github.com/google/uuid"
)

// Backend is a real game server known to the proxy.
type Backend interface {
	Name() string
}

// Client is a connected player as seen by the proxy. Implementations must be
// safe for concurrent reads.
type Client interface {
	ID() uuid.UUID
	Username() string
	// ProtocolVersion is the negotiated game protocol version.
	ProtocolVersion() int
	// CurrentBackend reports the backend the client is attached to, if any.
	CurrentBackend() (Backend, bool)
}

// Proxy is the read/reconnect surface of the host proxy.
type Proxy interface {
	Clients() []Client
	Backends() []Backend
	// Connect moves c to b and returns once the move is confirmed or failed.
	Connect(ctx context.Context, c Client, b Backend) error
	// ConnectAsync requests the move without waiting for an outcome.
	ConnectAsync(c Client, b Backend)
}

// PacketWriter injects raw packets. packet is the packet id VarInt followed by
// the packet body; framing, compression and encryption belong to the writer.
type PacketWriter interface {
	WritePacket(ctx context.Context, c Client, packet []byte) error
}

// BackendDetacher is implemented by proxies able to drop a client's backend
// connection while keeping the client connected to the proxy.
type BackendDetacher interface {
	DetachBackend(ctx context.Context, c Client) error
}

// InboundTap receives a view of every inbound packet (id + body) for a client.
// Implementations must not retain or mutate packet after returning.
type InboundTap interface {
	OnInbound(ctx context.Context, c Client, packet []byte)
}

// InboundTapFunc adapts a function to InboundTap.
type InboundTapFunc func(ctx context.Context, c Client, packet []byte)

// OnInbound implements InboundTap.
func (f InboundTapFunc) OnInbound(ctx context.Context, c Client, packet []byte) { f(ctx, c, packet) }

// InboundInstaller is implemented by proxies able to attach an InboundTap to a
// client's connection. The returned remove function detaches the tap and must
// be safe to call more than once.
type InboundInstaller interface {
	InstallInbound(c Client, tap InboundTap) (remove func(), err error)
}
