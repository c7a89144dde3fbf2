package inbound

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ggoodman/proxy-virtualizer-go/connections"
	"github.com/ggoodman/proxy-virtualizer-go/host"
	"github.com/ggoodman/proxy-virtualizer-go/signals"
)

// Sessions is the part of the connector the bridge needs when a client
// leaves. *connector.Connector implements it.
type Sessions interface {
	Disconnect(ctx context.Context, c host.Client) (bool, error)
	ForgetClient(c host.Client)
}

// Bridge relays host events into the engine.
type Bridge struct {
	proxy    host.Proxy
	storage  connections.Storage
	bus      *signals.Bus
	decoder  *Decoder
	sessions Sessions
	opts     options

	mu   sync.Mutex
	taps map[uuid.UUID]func()
}

// NewBridge wires a Bridge. sessions may be nil when no connector is in use.
func NewBridge(proxy host.Proxy, storage connections.Storage, bus *signals.Bus, decoder *Decoder, sessions Sessions, opts ...Option) *Bridge {
	return &Bridge{
		proxy:    proxy,
		storage:  storage,
		bus:      bus,
		decoder:  decoder,
		sessions: sessions,
		opts:     buildOptions(opts),
		taps:     make(map[uuid.UUID]func()),
	}
}

// OnLogin installs the decoder on the client's inbound stream. It reports
// whether a tap is in place afterwards; calling it again for the same client
// is a no-op.
func (b *Bridge) OnLogin(ctx context.Context, c host.Client) bool {
	installer, ok := b.proxy.(host.InboundInstaller)
	if !ok {
		b.opts.log.DebugContext(ctx, "inbound.tap.unsupported", slog.String("client", c.Username()))
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.taps[c.ID()]; ok {
		return true
	}
	remove, err := installer.InstallInbound(c, b.decoder)
	if err != nil {
		b.opts.log.WarnContext(ctx, "inbound.tap.install.fail",
			slog.String("client", c.Username()),
			slog.String("err", err.Error()))
		return false
	}
	b.taps[c.ID()] = remove
	return true
}

// OnDisconnect removes the client's tap, session and remembered backend.
func (b *Bridge) OnDisconnect(ctx context.Context, c host.Client) {
	b.mu.Lock()
	remove, ok := b.taps[c.ID()]
	delete(b.taps, c.ID())
	b.mu.Unlock()
	if ok {
		remove()
	}

	if b.sessions != nil {
		if _, err := b.sessions.Disconnect(ctx, c); err != nil {
			b.opts.log.WarnContext(ctx, "inbound.disconnect.session.fail",
				slog.String("client", c.Username()),
				slog.String("err", err.Error()))
		}
		b.sessions.ForgetClient(c)
		return
	}
	if _, err := b.storage.Remove(ctx, c.ID()); err != nil {
		b.opts.log.WarnContext(ctx, "inbound.disconnect.session.fail",
			slog.String("client", c.Username()),
			slog.String("err", err.Error()))
	}
}

// OnChat publishes a ChatSignal when c is sessioned. It reports whether a
// signal was published.
func (b *Bridge) OnChat(ctx context.Context, c host.Client, message string) bool {
	if !b.sessioned(ctx, c) {
		return false
	}
	b.opts.metrics.SignalsDecoded.WithLabelValues("chat").Inc()
	b.bus.Publish(signals.ChatSignal{Client: c, ChatPayload: signals.ChatPayload{Message: message}})
	return true
}

// OnCommand publishes a CommandSignal when c is sessioned. raw may carry a
// leading slash.
func (b *Bridge) OnCommand(ctx context.Context, c host.Client, raw, source, signedState string) bool {
	if !b.sessioned(ctx, c) {
		return false
	}
	payload, ok := ParseCommand(raw)
	if !ok {
		return false
	}
	payload.InvocationSource = source
	payload.SignedState = signedState
	b.opts.metrics.SignalsDecoded.WithLabelValues("command").Inc()
	b.bus.Publish(signals.CommandSignal{Client: c, CommandPayload: payload})
	return true
}

// Shutdown removes every tap the bridge installed.
func (b *Bridge) Shutdown() {
	b.mu.Lock()
	taps := b.taps
	b.taps = make(map[uuid.UUID]func())
	b.mu.Unlock()
	for _, remove := range taps {
		remove()
	}
}

// Taps returns how many clients currently have the decoder installed.
func (b *Bridge) Taps() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.taps)
}

func (b *Bridge) sessioned(ctx context.Context, c host.Client) bool {
	in, err := b.storage.IsInVirtualServer(ctx, c.ID())
	if err != nil {
		b.opts.log.WarnContext(ctx, "inbound.session.lookup.fail",
			slog.String("client", c.Username()),
			slog.String("err", err.Error()))
		return false
	}
	return in
}

// ParseCommand splits a command line into label and arguments. It returns
// false for a blank line.
func ParseCommand(raw string) (signals.CommandPayload, bool) {
	line := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "/"))
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return signals.CommandPayload{}, false
	}
	p := signals.CommandPayload{Raw: line, Label: fields[0]}
	if len(fields) > 1 {
		p.Arguments = fields[1:]
	}
	return p, true
}
