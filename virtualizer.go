// Package virtualizer assembles the virtual-server engine for a proxy.
//
// New wires every component against a host adapter: the server registry,
// session storage, connector, packet sender, signal bus, inbound decoder and
// bridge, launcher and operator console. The components are exported so a
// host can call them directly; nothing is global.
//
//	v, err := virtualizer.New(proxy, writer, virtualizer.WithLogger(log))
//	...
//	lobby, err := v.Launcher.Launch(ctx, "lobby")
//	ok, err := v.Connector.Connect(ctx, lobby, client)
package virtualizer

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ggoodman/proxy-virtualizer-go/connections"
	"github.com/ggoodman/proxy-virtualizer-go/connections/memorystore"
	"github.com/ggoodman/proxy-virtualizer-go/connector"
	"github.com/ggoodman/proxy-virtualizer-go/console"
	"github.com/ggoodman/proxy-virtualizer-go/host"
	"github.com/ggoodman/proxy-virtualizer-go/inbound"
	"github.com/ggoodman/proxy-virtualizer-go/internal/metrics"
	"github.com/ggoodman/proxy-virtualizer-go/launcher"
	"github.com/ggoodman/proxy-virtualizer-go/protocol"
	"github.com/ggoodman/proxy-virtualizer-go/rulesfile"
	"github.com/ggoodman/proxy-virtualizer-go/sender"
	"github.com/ggoodman/proxy-virtualizer-go/servers"
	"github.com/ggoodman/proxy-virtualizer-go/signals"
	"github.com/ggoodman/proxy-virtualizer-go/signals/redisrelay"
)

// Option configures New.
type Option func(*settings)

type settings struct {
	log                   *slog.Logger
	registry              *servers.Registry
	storage               connections.Storage
	registerer            prometheus.Registerer
	targetProtocol        int
	returnOnDisconnectAll bool
	relay                 *redisrelay.Relay
	closers               []io.Closer
}

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRegistry supplies the server registry, for storages that resolve
// servers through it.
func WithRegistry(r *servers.Registry) Option {
	return func(s *settings) {
		if r != nil {
			s.registry = r
		}
	}
}

// WithStorage replaces the in-memory session storage.
func WithStorage(st connections.Storage) Option {
	return func(s *settings) {
		if st != nil {
			s.storage = st
		}
	}
}

// WithMetricsRegisterer registers the engine's collectors with reg. Without
// it they are kept in a private registry.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(s *settings) { s.registerer = reg }
}

// WithTargetProtocol sets the protocol version launched servers accept and
// the void bootstrap is laid out for. Defaults to 769.
func WithTargetProtocol(v int) Option {
	return func(s *settings) {
		if v > 0 {
			s.targetProtocol = v
		}
	}
}

// WithReturnOnDisconnectAll makes Connector.DisconnectAll send clients back
// to their previous backends.
func WithReturnOnDisconnectAll(enabled bool) Option {
	return func(s *settings) { s.returnOnDisconnectAll = enabled }
}

// WithSignalRelay forwards every bus signal to a Redis stream. The relay is
// closed by Virtualizer.Close.
func WithSignalRelay(r *redisrelay.Relay) Option {
	return func(s *settings) { s.relay = r }
}

// Virtualizer is an assembled engine.
type Virtualizer struct {
	Registry  *servers.Registry
	Storage   connections.Storage
	Metrics   *metrics.Metrics
	Connector *connector.Connector
	Sender    *sender.Sender
	Bus       *signals.Bus
	Decoder   *inbound.Decoder
	Bridge    *inbound.Bridge
	Launcher  *launcher.Launcher
	Console   *console.Console

	log     *slog.Logger
	cancel  context.CancelFunc
	forward *signals.Subscription
	closers []io.Closer
}

// New assembles an engine on top of proxy and writer.
func New(proxy host.Proxy, writer host.PacketWriter, opts ...Option) (*Virtualizer, error) {
	if proxy == nil || writer == nil {
		return nil, errors.New("proxy and packet writer are required")
	}
	s := settings{
		log:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		targetProtocol: protocol.ProtocolVersion1_21_4,
	}
	for _, o := range opts {
		o(&s)
	}
	if !protocol.HasDefaultLayouts(s.targetProtocol) {
		s.log.Warn("virtualizer.target_protocol.no_layouts",
			slog.Int("target_protocol", s.targetProtocol),
			slog.String("hint", "map packet layouts per server before sending"))
	}
	if s.registry == nil {
		s.registry = servers.NewRegistry()
	}
	if s.storage == nil {
		s.storage = memorystore.New()
	}

	m := metrics.New(s.registerer)
	bus := signals.NewBus(signals.WithLogger(s.log))
	snd := sender.New(proxy, writer, s.storage,
		sender.WithLogger(s.log),
		sender.WithMetrics(m),
		sender.WithTargetProtocol(s.targetProtocol))
	conn := connector.New(proxy, s.registry, s.storage, snd,
		connector.WithLogger(s.log),
		connector.WithMetrics(m),
		connector.WithReturnOnDisconnectAll(s.returnOnDisconnectAll))
	dec := inbound.NewDecoder(s.storage, bus, inbound.WithLogger(s.log), inbound.WithMetrics(m))
	bridge := inbound.NewBridge(proxy, s.storage, bus, dec, conn, inbound.WithLogger(s.log), inbound.WithMetrics(m))
	ln := launcher.New(proxy, s.registry, s.storage, conn,
		launcher.WithLogger(s.log),
		launcher.WithMetrics(m),
		launcher.WithTargetProtocol(s.targetProtocol))

	v := &Virtualizer{
		Registry:  s.registry,
		Storage:   s.storage,
		Metrics:   m,
		Connector: conn,
		Sender:    snd,
		Bus:       bus,
		Decoder:   dec,
		Bridge:    bridge,
		Launcher:  ln,
		Console:   console.New(proxy, s.registry, ln, conn, snd, console.WithLogger(s.log)),
		log:       s.log,
		closers:   s.closers,
	}
	if s.relay != nil {
		ctx, cancel := context.WithCancel(context.Background())
		v.cancel = cancel
		v.forward = s.relay.Forward(ctx, bus)
		v.closers = append(v.closers, s.relay)
	}
	return v, nil
}

// ApplyRules loads the rules file at path and applies it to the registry.
func (v *Virtualizer) ApplyRules(path string) (rulesfile.Result, error) {
	f, err := rulesfile.Load(path)
	if err != nil {
		return rulesfile.Result{}, err
	}
	return f.Apply(v.Registry)
}

// WatchRules applies the rules file at path now and on every change until
// ctx is done. Failed loads are logged and leave the current rules in place.
func (v *Virtualizer) WatchRules(ctx context.Context, path string) error {
	return rulesfile.Watch(ctx, path, func(f *rulesfile.File, err error) {
		if err != nil {
			v.log.WarnContext(ctx, "virtualizer.rules.load.fail", slog.String("path", path), slog.String("err", err.Error()))
			return
		}
		res, err := f.Apply(v.Registry)
		if err != nil {
			v.log.WarnContext(ctx, "virtualizer.rules.apply.fail", slog.String("path", path), slog.String("err", err.Error()))
			return
		}
		v.log.InfoContext(ctx, "virtualizer.rules.apply.ok",
			slog.String("path", path),
			slog.Int("servers", len(res.Applied)),
			slog.Int("rules", res.Rules),
			slog.Int("removed", res.Removed),
			slog.Any("missing", res.Missing))
	})
}

// Close removes inbound taps, stops signal forwarding and closes the
// resources the engine opened.
func (v *Virtualizer) Close() error {
	v.Bridge.Shutdown()
	if v.forward != nil {
		v.forward.Unsubscribe()
	}
	if v.cancel != nil {
		v.cancel()
	}
	var errs []error
	for _, c := range v.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
