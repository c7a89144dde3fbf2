// Package connector moves clients between real backends and virtual
// servers.
//
// A client is either not virtualized or virtualized into exactly one server.
// Connect is the only way in and is serialized per client; the way back out
// is Disconnect followed by SendToPreviousServer or SendToGameServer.
//
// Connect sequence
//
//	1. refuse a server the registry no longer holds (ErrServerNotRegistered)
//	2. refuse if the client already has a session (*AlreadyConnectedError)
//	3. refuse if the server does not support the client's protocol (false)
//	4. remember the client's current backend
//	5. record the session, then confirm the server is still registered
//	6. detach the backend, when the host can
//	7. run the bootstrap packets
//
// When step 5, 6 or 7 fails the connect is undone: the session is removed, a
// detached client is reconnected to the backend it was taken from, and the
// remembered backend reverts to whatever it was before. The client ends up
// as if Connect had not been called. If that reconnect itself fails the
// backend stays remembered, so SendToPreviousServer can still return the
// client later.
package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ggoodman/proxy-virtualizer-go/connections"
	"github.com/ggoodman/proxy-virtualizer-go/host"
	"github.com/ggoodman/proxy-virtualizer-go/internal/keylock"
	"github.com/ggoodman/proxy-virtualizer-go/internal/logctx"
	"github.com/ggoodman/proxy-virtualizer-go/internal/metrics"
	"github.com/ggoodman/proxy-virtualizer-go/servers"
)

const tracerName = "github.com/ggoodman/proxy-virtualizer-go/connector"

// Bootstrapper sends the packet sequence that presents a virtual server to a
// freshly sessioned client. *sender.Sender implements it.
type Bootstrapper interface {
	BootstrapVoidLimbo(ctx context.Context, s *servers.Server, c host.Client) bool
}

// BootstrapFunc adapts a function to Bootstrapper.
type BootstrapFunc func(ctx context.Context, s *servers.Server, c host.Client) bool

func (f BootstrapFunc) BootstrapVoidLimbo(ctx context.Context, s *servers.Server, c host.Client) bool {
	return f(ctx, s, c)
}

// Option configures a Connector.
type Option func(*Connector)

// WithLogger sets the connector's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Connector) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics shares an engine-wide metrics set.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Connector) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracer overrides the tracer. The default comes from the global
// OpenTelemetry provider.
func WithTracer(t trace.Tracer) Option {
	return func(c *Connector) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithReturnOnDisconnectAll makes DisconnectAll also send every affected
// client back to its remembered backend without waiting for the outcome.
func WithReturnOnDisconnectAll(enabled bool) Option {
	return func(c *Connector) { c.returnOnDisconnectAll = enabled }
}

// Connector is the per-client virtual session state machine.
type Connector struct {
	proxy    host.Proxy
	registry *servers.Registry
	storage  connections.Storage
	boot     Bootstrapper

	locks keylock.Map[uuid.UUID]

	mu       sync.RWMutex
	previous map[uuid.UUID]host.Backend

	returnOnDisconnectAll bool

	log     *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// New constructs a Connector. Only servers held by registry can be entered.
// boot may be nil, in which case sessions are recorded without sending any
// bootstrap packets.
func New(proxy host.Proxy, registry *servers.Registry, storage connections.Storage, boot Bootstrapper, opts ...Option) *Connector {
	c := &Connector{
		proxy:    proxy,
		registry: registry,
		storage:  storage,
		boot:     boot,
		previous: make(map[uuid.UUID]host.Backend),
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.New(nil)
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}
	return c
}

func withClient(ctx context.Context, client host.Client) context.Context {
	return logctx.WithClientData(ctx, &logctx.ClientData{
		ClientID:        client.ID().String(),
		Username:        client.Username(),
		ProtocolVersion: client.ProtocolVersion(),
	})
}

// Connect places client into server. It returns (true, nil) once the client
// is sessioned and bootstrapped; (false, nil) when the protocol is not
// supported or the bootstrap failed and was rolled back; and an
// *AlreadyConnectedError when the client already has a session;
// ErrServerNotRegistered when server has been stopped or was never
// registered. Other errors come from the session storage.
func (c *Connector) Connect(ctx context.Context, server *servers.Server, client host.Client) (ok bool, err error) {
	if server == nil || client == nil {
		return false, errors.New("server and client are required")
	}
	unlock := c.locks.Lock(client.ID())
	defer unlock()

	ctx, span := c.tracer.Start(ctx, "connector.connect",
		trace.WithAttributes(
			attribute.String("client.id", client.ID().String()),
			attribute.String("client.username", client.Username()),
			attribute.Int("client.protocol_version", client.ProtocolVersion()),
			attribute.String("vserver.name", server.Name()),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if !ok {
			span.SetStatus(codes.Error, "not connected")
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()
	ctx = withClient(ctx, client)
	ctx = logctx.WithServerData(ctx, &logctx.ServerData{Name: server.Name()})

	if !c.registry.Registered(server) {
		c.metrics.ConnectsTotal.WithLabelValues(metrics.ResultStale).Inc()
		return false, fmt.Errorf("%w: %s", ErrServerNotRegistered, server.Name())
	}

	current, in, err := c.storage.VirtualServer(ctx, client.ID())
	if err != nil {
		return false, fmt.Errorf("lookup session: %w", err)
	}
	if in {
		c.metrics.ConnectsTotal.WithLabelValues(metrics.ResultAlready).Inc()
		e := &AlreadyConnectedError{ClientID: client.ID(), Username: client.Username()}
		if current != nil {
			e.Server = current.Name()
		}
		return false, e
	}
	if !server.IsProtocolVersionSupported(client.ProtocolVersion()) {
		c.metrics.ConnectsTotal.WithLabelValues(metrics.ResultUnsupported).Inc()
		c.log.InfoContext(ctx, "connector.connect.protocol.unsupported")
		return false, nil
	}

	backend, hadBackend := client.CurrentBackend()
	restore := func() {}
	if hadBackend {
		restore = c.remember(client.ID(), backend)
	}
	if err := c.storage.Register(ctx, client.ID(), server); err != nil {
		restore()
		return false, fmt.Errorf("register session: %w", err)
	}
	// Stop unregisters before it sweeps sessions; a server removed in
	// between is caught here.
	if !c.registry.Registered(server) {
		c.rollback(ctx, client, backend, false)
		restore()
		return false, fmt.Errorf("%w: %s", ErrServerNotRegistered, server.Name())
	}

	detached := false
	if hadBackend {
		if d, ok := c.proxy.(host.BackendDetacher); ok {
			if err := d.DetachBackend(ctx, client); err != nil {
				c.log.WarnContext(ctx, "connector.detach.fail", slog.String("err", err.Error()))
				c.rollback(ctx, client, backend, false)
				restore()
				return false, nil
			}
			detached = true
		} else {
			c.log.DebugContext(ctx, "connector.detach.unsupported", slog.String("backend", backend.Name()))
		}
	}

	if c.boot != nil && !c.boot.BootstrapVoidLimbo(ctx, server, client) {
		if c.rollback(ctx, client, backend, detached) {
			restore()
		}
		return false, nil
	}

	c.metrics.ConnectsTotal.WithLabelValues(metrics.ResultOK).Inc()
	c.log.InfoContext(ctx, "connector.connect.ok")
	return true, nil
}

// rollback undoes the session and detach of a partially applied Connect. It
// reports whether the client is back where it started; false means a
// detached client could not be reconnected and its backend must stay
// remembered.
func (c *Connector) rollback(ctx context.Context, client host.Client, backend host.Backend, detached bool) bool {
	c.metrics.ConnectsTotal.WithLabelValues(metrics.ResultRolledBack).Inc()
	trace.SpanFromContext(ctx).AddEvent("rollback")

	if _, err := c.storage.Remove(ctx, client.ID()); err != nil {
		c.log.ErrorContext(ctx, "connector.rollback.session.fail", slog.String("err", err.Error()))
	}
	returned := true
	if detached && backend != nil {
		if err := c.proxy.Connect(ctx, client, backend); err != nil {
			returned = false
			c.metrics.ReconnectsTotal.WithLabelValues("confirmed", metrics.ResultFailed).Inc()
			c.log.ErrorContext(ctx, "connector.rollback.reconnect.fail",
				slog.String("backend", backend.Name()),
				slog.String("err", err.Error()))
		} else {
			c.metrics.ReconnectsTotal.WithLabelValues("confirmed", metrics.ResultOK).Inc()
		}
	}
	c.log.WarnContext(ctx, "connector.connect.rolled_back", slog.Bool("detached", detached), slog.Bool("returned", returned))
	return returned
}

// Disconnect removes the client's session and reports whether one existed.
// The client is not moved anywhere.
func (c *Connector) Disconnect(ctx context.Context, client host.Client) (bool, error) {
	unlock := c.locks.Lock(client.ID())
	defer unlock()

	removed, err := c.storage.Remove(ctx, client.ID())
	if err != nil {
		return false, fmt.Errorf("remove session: %w", err)
	}
	if removed {
		c.log.InfoContext(withClient(ctx, client), "connector.disconnect.ok")
	}
	return removed, nil
}

// DisconnectAll removes the session of every connected client that has one
// and returns how many were removed. With WithReturnOnDisconnectAll each of
// them is also sent back to its remembered backend, fire-and-forget.
func (c *Connector) DisconnectAll(ctx context.Context) (int, error) {
	n := 0
	var errs []error
	for _, client := range c.proxy.Clients() {
		removed, err := c.Disconnect(ctx, client)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !removed {
			continue
		}
		n++
		if c.returnOnDisconnectAll {
			if backend, ok := c.take(client.ID()); ok {
				c.proxy.ConnectAsync(client, backend)
				c.metrics.ReconnectsTotal.WithLabelValues("async", metrics.ResultOK).Inc()
			}
		}
	}
	return n, errors.Join(errs...)
}

// SendToPreviousServer reconnects the client to the backend it was on
// before Connect. Only a confirmed reconnect clears the remembered backend
// and the session. It returns false when no backend is remembered or the
// reconnect failed.
func (c *Connector) SendToPreviousServer(ctx context.Context, client host.Client) bool {
	unlock := c.locks.Lock(client.ID())
	defer unlock()
	return c.sendToPrevious(withClient(ctx, client), client)
}

func (c *Connector) sendToPrevious(ctx context.Context, client host.Client) bool {
	backend, ok := c.PreviousBackend(client)
	if !ok {
		return false
	}
	if !c.reconnect(ctx, client, backend) {
		return false
	}
	c.forgetIf(client.ID(), backend)
	return true
}

// SendToGameServer tries SendToPreviousServer and otherwise falls back to
// the first backend the proxy knows about.
func (c *Connector) SendToGameServer(ctx context.Context, client host.Client) bool {
	unlock := c.locks.Lock(client.ID())
	defer unlock()
	ctx = withClient(ctx, client)

	if c.sendToPrevious(ctx, client) {
		return true
	}
	backends := c.proxy.Backends()
	if len(backends) == 0 {
		c.log.WarnContext(ctx, "connector.fallback.none")
		return false
	}
	return c.reconnect(ctx, client, backends[0])
}

// reconnect performs a confirmed move and clears the session on success.
func (c *Connector) reconnect(ctx context.Context, client host.Client, backend host.Backend) bool {
	if err := c.proxy.Connect(ctx, client, backend); err != nil {
		c.metrics.ReconnectsTotal.WithLabelValues("confirmed", metrics.ResultFailed).Inc()
		c.log.WarnContext(ctx, "connector.reconnect.fail",
			slog.String("backend", backend.Name()),
			slog.String("err", err.Error()))
		return false
	}
	c.metrics.ReconnectsTotal.WithLabelValues("confirmed", metrics.ResultOK).Inc()
	if _, err := c.storage.Remove(ctx, client.ID()); err != nil {
		c.log.ErrorContext(ctx, "connector.reconnect.session.fail", slog.String("err", err.Error()))
	}
	c.log.InfoContext(ctx, "connector.reconnect.ok", slog.String("backend", backend.Name()))
	return true
}

// ForgetClient drops the remembered backend for client. Hosts call it when a
// client leaves the proxy.
func (c *Connector) ForgetClient(client host.Client) {
	if client == nil {
		return
	}
	c.mu.Lock()
	delete(c.previous, client.ID())
	c.mu.Unlock()
}

// PreviousBackend returns the backend remembered for client.
func (c *Connector) PreviousBackend(client host.Client) (host.Backend, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.previous[client.ID()]
	return b, ok
}

// remember records b for id and returns a function restoring the entry that
// was there before.
func (c *Connector) remember(id uuid.UUID, b host.Backend) (restore func()) {
	c.mu.Lock()
	old, hadOld := c.previous[id]
	c.previous[id] = b
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if cur, ok := c.previous[id]; !ok || cur != b {
			return
		}
		if hadOld {
			c.previous[id] = old
		} else {
			delete(c.previous, id)
		}
	}
}

func (c *Connector) take(id uuid.UUID) (host.Backend, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.previous[id]
	delete(c.previous, id)
	return b, ok
}

// forgetIf removes the entry for id only while it still points at b.
func (c *Connector) forgetIf(id uuid.UUID, b host.Backend) {
	c.mu.Lock()
	if cur, ok := c.previous[id]; ok && cur == b {
		delete(c.previous, id)
	}
	c.mu.Unlock()
}
