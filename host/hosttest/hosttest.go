// Package hosttest provides an in-memory fake proxy implementing every host
// capability. It records written packets and reconnections and lets tests
// inject failures.
package hosttest

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/ggoodman/proxy-virtualizer-go/host"
)

// ErrUnknownClient is returned by Proxy operations addressing a client that was
// never added.
var ErrUnknownClient = errors.New("hosttest: unknown client")

// Backend is a named fake backend.
type Backend struct {
	name string
}

// NewBackend returns a backend with the given name.
func NewBackend(name string) *Backend { return &Backend{name: name} }

func (b *Backend) Name() string { return b.name }

// Client is a fake connected player.
type Client struct {
	id       uuid.UUID
	username string

	mu       sync.RWMutex
	protocol int
	backend  host.Backend
}

// NewClient returns a client with a random id.
func NewClient(username string, protocol int, backend host.Backend) *Client {
	return &Client{id: uuid.New(), username: username, protocol: protocol, backend: backend}
}

func (c *Client) ID() uuid.UUID    { return c.id }
func (c *Client) Username() string { return c.username }

func (c *Client) ProtocolVersion() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.protocol
}

// SetProtocolVersion changes the negotiated protocol version.
func (c *Client) SetProtocolVersion(v int) {
	c.mu.Lock()
	c.protocol = v
	c.mu.Unlock()
}

func (c *Client) CurrentBackend() (host.Backend, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.backend, c.backend != nil
}

func (c *Client) setBackend(b host.Backend) {
	c.mu.Lock()
	c.backend = b
	c.mu.Unlock()
}

// Reconnect is a recorded reconnection request.
type Reconnect struct {
	Client  uuid.UUID
	Backend string
	Async   bool
}

// Packet is a recorded outbound packet.
type Packet struct {
	Client uuid.UUID
	Data   []byte
}

// Proxy is a fake host.Proxy that also implements host.PacketWriter,
// host.BackendDetacher and host.InboundInstaller.
type Proxy struct {
	mu         sync.Mutex
	clients    []*Client
	backends   []host.Backend
	packets    []Packet
	reconnects []Reconnect
	detached   []uuid.UUID
	taps       map[uuid.UUID]host.InboundTap

	// ConnectErr, when set, decides the outcome of confirmed reconnects.
	ConnectErr func(c host.Client, b host.Backend) error
	// WriteErr, when set, is consulted before each packet is recorded. The
	// index is the zero-based count of packets previously written to c.
	WriteErr func(c host.Client, index int, packet []byte) error
	// DetachErr, when set, decides the outcome of DetachBackend.
	DetachErr func(c host.Client) error
	// InstallErr, when set, decides the outcome of InstallInbound.
	InstallErr func(c host.Client) error
}

// NewProxy returns an empty fake proxy with the given backends.
func NewProxy(backends ...host.Backend) *Proxy {
	return &Proxy{backends: backends, taps: make(map[uuid.UUID]host.InboundTap)}
}

// AddClient registers c with the proxy population.
func (p *Proxy) AddClient(c *Client) *Client {
	p.mu.Lock()
	p.clients = append(p.clients, c)
	p.mu.Unlock()
	return c
}

// RemoveClient drops c from the population.
func (p *Proxy) RemoveClient(c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, existing := range p.clients {
		if existing == c {
			p.clients = append(p.clients[:i], p.clients[i+1:]...)
			return
		}
	}
}

// ClientByName finds a client by username.
func (p *Proxy) ClientByName(username string) (*Client, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.clients {
		if c.username == username {
			return c, true
		}
	}
	return nil, false
}

func (p *Proxy) Clients() []host.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]host.Client, 0, len(p.clients))
	for _, c := range p.clients {
		out = append(out, c)
	}
	return out
}

func (p *Proxy) Backends() []host.Backend {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]host.Backend(nil), p.backends...)
}

func (p *Proxy) Connect(ctx context.Context, c host.Client, b host.Backend) error {
	fc, ok := c.(*Client)
	if !ok {
		return ErrUnknownClient
	}
	if p.ConnectErr != nil {
		if err := p.ConnectErr(c, b); err != nil {
			return err
		}
	}
	fc.setBackend(b)
	p.mu.Lock()
	p.reconnects = append(p.reconnects, Reconnect{Client: c.ID(), Backend: b.Name()})
	p.mu.Unlock()
	return nil
}

func (p *Proxy) ConnectAsync(c host.Client, b host.Backend) {
	if fc, ok := c.(*Client); ok {
		fc.setBackend(b)
	}
	p.mu.Lock()
	p.reconnects = append(p.reconnects, Reconnect{Client: c.ID(), Backend: b.Name(), Async: true})
	p.mu.Unlock()
}

func (p *Proxy) WritePacket(ctx context.Context, c host.Client, packet []byte) error {
	p.mu.Lock()
	index := 0
	for _, pkt := range p.packets {
		if pkt.Client == c.ID() {
			index++
		}
	}
	p.mu.Unlock()

	if p.WriteErr != nil {
		if err := p.WriteErr(c, index, packet); err != nil {
			return err
		}
	}

	p.mu.Lock()
	p.packets = append(p.packets, Packet{Client: c.ID(), Data: append([]byte(nil), packet...)})
	p.mu.Unlock()
	return nil
}

func (p *Proxy) DetachBackend(ctx context.Context, c host.Client) error {
	if p.DetachErr != nil {
		if err := p.DetachErr(c); err != nil {
			return err
		}
	}
	if fc, ok := c.(*Client); ok {
		fc.setBackend(nil)
	}
	p.mu.Lock()
	p.detached = append(p.detached, c.ID())
	p.mu.Unlock()
	return nil
}

func (p *Proxy) InstallInbound(c host.Client, tap host.InboundTap) (func(), error) {
	if p.InstallErr != nil {
		if err := p.InstallErr(c); err != nil {
			return nil, err
		}
	}
	id := c.ID()
	p.mu.Lock()
	p.taps[id] = tap
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		if p.taps[id] == tap {
			delete(p.taps, id)
		}
		p.mu.Unlock()
	}, nil
}

// Inject delivers packet to the tap installed for c, if any, and reports
// whether a tap was present.
func (p *Proxy) Inject(ctx context.Context, c host.Client, packet []byte) bool {
	p.mu.Lock()
	tap, ok := p.taps[c.ID()]
	p.mu.Unlock()
	if !ok {
		return false
	}
	tap.OnInbound(ctx, c, packet)
	return true
}

// HasTap reports whether an inbound tap is installed for c.
func (p *Proxy) HasTap(c host.Client) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.taps[c.ID()]
	return ok
}

// Packets returns the packets written to c, in order.
func (p *Proxy) Packets(c host.Client) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out [][]byte
	for _, pkt := range p.packets {
		if pkt.Client == c.ID() {
			out = append(out, pkt.Data)
		}
	}
	return out
}

// Reconnects returns every recorded reconnection.
func (p *Proxy) Reconnects() []Reconnect {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Reconnect(nil), p.reconnects...)
}

// Detached returns the ids of clients whose backend was detached.
func (p *Proxy) Detached() []uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uuid.UUID(nil), p.detached...)
}

var (
	_ host.Proxy            = (*Proxy)(nil)
	_ host.PacketWriter     = (*Proxy)(nil)
	_ host.BackendDetacher  = (*Proxy)(nil)
	_ host.InboundInstaller = (*Proxy)(nil)
	_ host.Client           = (*Client)(nil)
)
