package inbound

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/ggoodman/proxy-virtualizer-go/connections/memorystore"
	"github.com/ggoodman/proxy-virtualizer-go/connector"
	"github.com/ggoodman/proxy-virtualizer-go/host"
	"github.com/ggoodman/proxy-virtualizer-go/host/hosttest"
	"github.com/ggoodman/proxy-virtualizer-go/protocol"
	"github.com/ggoodman/proxy-virtualizer-go/servers"
	"github.com/ggoodman/proxy-virtualizer-go/signals"
)

type bridgeFixture struct {
	proxy     *hosttest.Proxy
	store     *memorystore.Store
	bus       *signals.Bus
	rec       *recorder
	connector *connector.Connector
	bridge    *Bridge
	lobby     *servers.Server
	survival  *hosttest.Backend
}

func newBridgeFixture(t *testing.T) *bridgeFixture {
	t.Helper()
	survival := hosttest.NewBackend("survival")
	proxy := hosttest.NewProxy(survival)
	store := memorystore.New()
	bus := signals.NewBus()
	rec := &recorder{}
	bus.Subscribe(rec.handle)
	lobby, err := servers.New("lobby")
	if err != nil {
		t.Fatalf("servers.New: %v", err)
	}
	lobby.AllowProtocolVersion(769)
	registry := servers.NewRegistry()
	if err := registry.Register(lobby); err != nil {
		t.Fatalf("Register: %v", err)
	}
	conn := connector.New(proxy, registry, store, nil)
	dec := NewDecoder(store, bus)
	return &bridgeFixture{
		proxy:     proxy,
		store:     store,
		bus:       bus,
		rec:       rec,
		connector: conn,
		bridge:    NewBridge(proxy, store, bus, dec, conn),
		lobby:     lobby,
		survival:  survival,
	}
}

func (f *bridgeFixture) join(t *testing.T, name string) *hosttest.Client {
	t.Helper()
	c := f.proxy.AddClient(hosttest.NewClient(name, 769, f.survival))
	if !f.bridge.OnLogin(context.Background(), c) {
		t.Fatalf("OnLogin(%s) failed", name)
	}
	return c
}

func TestBridgeInstallsDecoderOnLogin(t *testing.T) {
	f := newBridgeFixture(t)
	ctx := context.Background()
	c := f.join(t, "alex")
	if !f.bridge.OnLogin(ctx, c) {
		t.Fatalf("second OnLogin failed")
	}
	if f.bridge.Taps() != 1 {
		t.Fatalf("taps = %d, want 1", f.bridge.Taps())
	}

	packet, _ := protocol.EncodeMovement(protocol.Play769, protocol.Movement{Kind: protocol.MovementPosition, Y: 70})
	if !f.proxy.Inject(ctx, c, packet) {
		t.Fatalf("no tap installed")
	}
	if n := len(f.rec.signals()); n != 0 {
		t.Fatalf("unsessioned client produced %d signals", n)
	}

	if ok, err := f.connector.Connect(ctx, f.lobby, c); !ok || err != nil {
		t.Fatalf("Connect = %v, %v", ok, err)
	}
	f.proxy.Inject(ctx, c, packet)
	got := f.rec.signals()
	if len(got) != 1 {
		t.Fatalf("got %d signals, want 1", len(got))
	}
	if _, ok := got[0].(signals.MoveSignal); !ok {
		t.Fatalf("signal is %T", got[0])
	}
}

func TestBridgeLoginFailures(t *testing.T) {
	t.Run("install error", func(t *testing.T) {
		f := newBridgeFixture(t)
		f.proxy.InstallErr = func(host.Client) error { return errors.New("pipeline closed") }
		c := f.proxy.AddClient(hosttest.NewClient("alex", 769, nil))
		if f.bridge.OnLogin(context.Background(), c) {
			t.Fatalf("OnLogin succeeded")
		}
		if f.bridge.Taps() != 0 {
			t.Fatalf("tap recorded after failure")
		}
	})

	t.Run("no installer", func(t *testing.T) {
		f := newBridgeFixture(t)
		plain := struct{ host.Proxy }{f.proxy}
		b := NewBridge(plain, f.store, f.bus, NewDecoder(f.store, f.bus), f.connector)
		c := f.proxy.AddClient(hosttest.NewClient("alex", 769, nil))
		if b.OnLogin(context.Background(), c) {
			t.Fatalf("OnLogin succeeded without an installer")
		}
	})
}

func TestBridgeDisconnectCleansUp(t *testing.T) {
	f := newBridgeFixture(t)
	ctx := context.Background()
	c := f.join(t, "alex")
	if ok, err := f.connector.Connect(ctx, f.lobby, c); !ok || err != nil {
		t.Fatalf("Connect = %v, %v", ok, err)
	}

	f.bridge.OnDisconnect(ctx, c)

	if f.proxy.HasTap(c) {
		t.Fatalf("tap still installed")
	}
	if in, _ := f.store.IsInVirtualServer(ctx, c.ID()); in {
		t.Fatalf("session survived disconnect")
	}
	if _, ok := f.connector.PreviousBackend(c); ok {
		t.Fatalf("remembered backend survived disconnect")
	}
	f.bridge.OnDisconnect(ctx, c)
}

func TestBridgeChatAndCommands(t *testing.T) {
	f := newBridgeFixture(t)
	ctx := context.Background()
	c := f.join(t, "alex")

	if f.bridge.OnChat(ctx, c, "hello") {
		t.Fatalf("chat published for unsessioned client")
	}
	if ok, err := f.connector.Connect(ctx, f.lobby, c); !ok || err != nil {
		t.Fatalf("Connect = %v, %v", ok, err)
	}
	if !f.bridge.OnChat(ctx, c, "hello") {
		t.Fatalf("chat not published")
	}
	if !f.bridge.OnCommand(ctx, c, "/warp  spawn now", "player", "signed") {
		t.Fatalf("command not published")
	}
	if f.bridge.OnCommand(ctx, c, "  /  ", "player", "") {
		t.Fatalf("blank command published")
	}

	got := f.rec.signals()
	if len(got) != 2 {
		t.Fatalf("got %d signals, want 2", len(got))
	}
	chat, ok := got[0].(signals.ChatSignal)
	if !ok || chat.Message != "hello" {
		t.Fatalf("chat = %#v", got[0])
	}
	cmd, ok := got[1].(signals.CommandSignal)
	if !ok {
		t.Fatalf("command = %#v", got[1])
	}
	want := signals.CommandPayload{
		Raw:              "warp  spawn now",
		Label:            "warp",
		Arguments:        []string{"spawn", "now"},
		InvocationSource: "player",
		SignedState:      "signed",
	}
	if !reflect.DeepEqual(cmd.CommandPayload, want) {
		t.Fatalf("command = %+v, want %+v", cmd.CommandPayload, want)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		raw   string
		label string
		args  []string
		ok    bool
	}{
		{raw: "help", label: "help", ok: true},
		{raw: "/tp a b", label: "tp", args: []string{"a", "b"}, ok: true},
		{raw: "", ok: false},
		{raw: "/", ok: false},
	}
	for _, tt := range tests {
		p, ok := ParseCommand(tt.raw)
		if ok != tt.ok {
			t.Fatalf("ParseCommand(%q) ok = %v", tt.raw, ok)
		}
		if p.Label != tt.label || !reflect.DeepEqual(p.Arguments, tt.args) {
			t.Fatalf("ParseCommand(%q) = %+v", tt.raw, p)
		}
	}
}

func TestBridgeShutdownRemovesTaps(t *testing.T) {
	f := newBridgeFixture(t)
	a := f.join(t, "a")
	b := f.join(t, "b")
	f.bridge.Shutdown()
	if f.proxy.HasTap(a) || f.proxy.HasTap(b) {
		t.Fatalf("taps remain after Shutdown")
	}
	if f.bridge.Taps() != 0 {
		t.Fatalf("Taps = %d", f.bridge.Taps())
	}
}
