// Package launcher creates and destroys virtual servers.
//
// Launch and Stop are serialized by a single mutex so the check on the
// registry and the change to it happen together. Stop unregisters the server
// first, so no new session can be opened into it, and then returns every
// client sessioned into it to the backend it came from.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/ggoodman/proxy-virtualizer-go/connections"
	"github.com/ggoodman/proxy-virtualizer-go/host"
	"github.com/ggoodman/proxy-virtualizer-go/internal/logctx"
	"github.com/ggoodman/proxy-virtualizer-go/internal/metrics"
	"github.com/ggoodman/proxy-virtualizer-go/protocol"
	"github.com/ggoodman/proxy-virtualizer-go/servers"
)

// ErrAlreadyLaunched matches *AlreadyLaunchedError via errors.Is.
var ErrAlreadyLaunched = errors.New("virtual server already launched")

// AlreadyLaunchedError is returned by Launch when a server with the same
// name is registered.
type AlreadyLaunchedError struct {
	Name string
}

func (e *AlreadyLaunchedError) Error() string {
	return fmt.Sprintf("virtual server already launched: %s", e.Name)
}

func (e *AlreadyLaunchedError) Is(target error) bool { return target == ErrAlreadyLaunched }

// Returner moves sessioned clients out of a virtual server.
// *connector.Connector implements it.
type Returner interface {
	Disconnect(ctx context.Context, c host.Client) (bool, error)
	SendToPreviousServer(ctx context.Context, c host.Client) bool
}

// BootstrapGateValue is the rule value seeded for the bootstrap gate. Only the
// presence of the rule matters.
const BootstrapGateValue = 1

// Option configures a Launcher.
type Option func(*Launcher)

// WithLogger sets the launcher's logger.
func WithLogger(l *slog.Logger) Option {
	return func(ln *Launcher) {
		if l != nil {
			ln.log = l
		}
	}
}

// WithMetrics shares an engine-wide metrics set.
func WithMetrics(m *metrics.Metrics) Option {
	return func(ln *Launcher) {
		if m != nil {
			ln.metrics = m
		}
	}
}

// WithTargetProtocol sets the protocol version new servers accept and seed
// rules for. Defaults to 769.
func WithTargetProtocol(v int) Option {
	return func(ln *Launcher) { ln.targetProtocol = v }
}

// Launcher ties the registry, session storage and connector together.
type Launcher struct {
	proxy    host.Proxy
	registry *servers.Registry
	storage  connections.Storage
	returner Returner

	targetProtocol int

	mu sync.Mutex

	log     *slog.Logger
	metrics *metrics.Metrics
}

// New constructs a Launcher.
func New(proxy host.Proxy, registry *servers.Registry, storage connections.Storage, returner Returner, opts ...Option) *Launcher {
	ln := &Launcher{
		proxy:          proxy,
		registry:       registry,
		storage:        storage,
		returner:       returner,
		targetProtocol: protocol.ProtocolVersion1_21_4,
		log:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(ln)
	}
	if ln.metrics == nil {
		ln.metrics = metrics.New(nil)
	}
	return ln
}

// Launch creates, seeds and registers a server named name.
func (ln *Launcher) Launch(ctx context.Context, name string) (*servers.Server, error) {
	ln.mu.Lock()
	defer ln.mu.Unlock()

	if existing, ok := ln.registry.FindByName(name); ok {
		return nil, &AlreadyLaunchedError{Name: existing.Name()}
	}
	s, err := servers.New(name)
	if err != nil {
		return nil, err
	}
	if err := ln.seed(s); err != nil {
		return nil, err
	}
	if err := ln.registry.Register(s); err != nil {
		if errors.Is(err, servers.ErrAlreadyRegistered) {
			return nil, &AlreadyLaunchedError{Name: s.Name()}
		}
		return nil, err
	}
	ln.metrics.VirtualServers.Set(float64(ln.registry.Len()))
	ln.log.InfoContext(logctx.WithServerData(ctx, &logctx.ServerData{Name: s.Name()}), "launcher.launch.ok",
		slog.Int("target_protocol", ln.targetProtocol))
	return s, nil
}

// seed allows the target protocol and registers the bootstrap gate. When the
// protocol package has built-in layouts for the target, every clientbound
// packet kind is also pinned to its layout; otherwise the kinds stay unmapped
// and every emission is refused until an operator maps a layout.
func (ln *Launcher) seed(s *servers.Server) error {
	s.AllowProtocolVersion(ln.targetProtocol)
	if _, err := s.RegisterPacketVersion(protocol.KeyLimboBootstrap, ln.targetProtocol, BootstrapGateValue); err != nil {
		return err
	}
	if !protocol.HasDefaultLayouts(ln.targetProtocol) {
		ln.log.Warn("launcher.seed.no_layouts", slog.String("server", s.Name()), slog.Int("target_protocol", ln.targetProtocol))
		return nil
	}
	defaults := protocol.DefaultPacketIDs()
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := s.RegisterPacketVersion(k, ln.targetProtocol, protocol.LayoutVersion1); err != nil {
			return fmt.Errorf("seed %s: %w", k, err)
		}
	}
	return nil
}

// Stop unregisters the named server and returns every client sessioned into
// it to its previous backend. It reports whether a server was stopped.
func (ln *Launcher) Stop(ctx context.Context, name string) bool {
	ln.mu.Lock()
	defer ln.mu.Unlock()

	s, ok := ln.registry.FindByName(name)
	if !ok {
		return false
	}
	ctx = logctx.WithServerData(ctx, &logctx.ServerData{Name: s.Name()})
	ln.registry.Remove(s)
	ln.metrics.VirtualServers.Set(float64(ln.registry.Len()))

	returned, stranded := 0, 0
	for _, c := range ln.proxy.Clients() {
		current, in, err := ln.storage.VirtualServer(ctx, c.ID())
		if err != nil {
			ln.log.WarnContext(ctx, "launcher.stop.session.lookup.fail",
				slog.String("client", c.Username()),
				slog.String("err", err.Error()))
			continue
		}
		if !in || current != s {
			continue
		}
		if _, err := ln.returner.Disconnect(ctx, c); err != nil {
			ln.log.WarnContext(ctx, "launcher.stop.disconnect.fail",
				slog.String("client", c.Username()),
				slog.String("err", err.Error()))
		}
		if ln.returner.SendToPreviousServer(ctx, c) {
			returned++
		} else {
			stranded++
		}
	}

	ln.log.InfoContext(ctx, "launcher.stop.ok",
		slog.Int("returned", returned),
		slog.Int("stranded", stranded))
	return true
}
