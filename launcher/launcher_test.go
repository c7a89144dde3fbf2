package launcher

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ggoodman/proxy-virtualizer-go/connections/memorystore"
	"github.com/ggoodman/proxy-virtualizer-go/connector"
	"github.com/ggoodman/proxy-virtualizer-go/host"
	"github.com/ggoodman/proxy-virtualizer-go/host/hosttest"
	"github.com/ggoodman/proxy-virtualizer-go/internal/metrics"
	"github.com/ggoodman/proxy-virtualizer-go/protocol"
	"github.com/ggoodman/proxy-virtualizer-go/sender"
	"github.com/ggoodman/proxy-virtualizer-go/servers"
)

type fixture struct {
	proxy     *hosttest.Proxy
	store     *memorystore.Store
	registry  *servers.Registry
	metrics   *metrics.Metrics
	connector *connector.Connector
	launcher  *Launcher
	survival  *hosttest.Backend
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	survival := hosttest.NewBackend("survival")
	proxy := hosttest.NewProxy(survival)
	store := memorystore.New()
	registry := servers.NewRegistry()
	m := metrics.New(nil)
	snd := sender.New(proxy, proxy, store, sender.WithMetrics(m))
	conn := connector.New(proxy, registry, store, snd, connector.WithMetrics(m))
	return &fixture{
		proxy:     proxy,
		store:     store,
		registry:  registry,
		metrics:   m,
		connector: conn,
		launcher:  New(proxy, registry, store, conn, WithMetrics(m)),
		survival:  survival,
	}
}

func TestLaunchSeedsServer(t *testing.T) {
	f := newFixture(t)
	s, err := f.launcher.Launch(context.Background(), "Lobby")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if got, ok := f.registry.FindByName("lobby"); !ok || got != s {
		t.Fatalf("server not registered")
	}
	if !s.IsProtocolVersionSupported(protocol.ProtocolVersion1_21_4) {
		t.Fatalf("target protocol not allowed")
	}
	if _, ok := s.PacketVersion(protocol.KeyLimboBootstrap, 769); !ok {
		t.Fatalf("bootstrap gate not seeded")
	}
	for key := range protocol.DefaultPacketIDs() {
		rule, ok := s.PacketVersion(key, 769)
		if !ok || rule.PacketVersion != protocol.LayoutVersion1 {
			t.Fatalf("rule for %s = %+v, %v; want layout %d", key, rule, ok, protocol.LayoutVersion1)
		}
	}
	if v := testutil.ToFloat64(f.metrics.VirtualServers); v != 1 {
		t.Fatalf("virtual_servers = %v, want 1", v)
	}
}

func TestLaunchRejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.launcher.Launch(ctx, "lobby"); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	_, err := f.launcher.Launch(ctx, "  LOBBY ")
	if !errors.Is(err, ErrAlreadyLaunched) {
		t.Fatalf("err = %v, want ErrAlreadyLaunched", err)
	}
	var ale *AlreadyLaunchedError
	if !errors.As(err, &ale) || ale.Name != "lobby" {
		t.Fatalf("AlreadyLaunchedError = %+v", ale)
	}
	if _, err := f.launcher.Launch(ctx, "   "); !errors.Is(err, servers.ErrBlankName) {
		t.Fatalf("blank name err = %v", err)
	}
}

func TestConcurrentLaunchHasOneWinner(t *testing.T) {
	f := newFixture(t)
	names := []string{"arena", "Arena", "ARENA", " arena "}
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if _, err := f.launcher.Launch(context.Background(), name); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(names[i%len(names)])
	}
	wg.Wait()
	if wins != 1 || f.registry.Len() != 1 {
		t.Fatalf("wins = %d, registry = %d; want 1 and 1", wins, f.registry.Len())
	}
}

func TestStopReturnsClients(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lobby, err := f.launcher.Launch(ctx, "lobby")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	arena, err := f.launcher.Launch(ctx, "arena")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	inLobby := f.proxy.AddClient(hosttest.NewClient("a", 769, f.survival))
	inArena := f.proxy.AddClient(hosttest.NewClient("b", 769, f.survival))
	outside := f.proxy.AddClient(hosttest.NewClient("c", 769, f.survival))
	for c, s := range map[*hosttest.Client]*servers.Server{inLobby: lobby, inArena: arena} {
		if ok, err := f.connector.Connect(ctx, s, c); !ok || err != nil {
			t.Fatalf("Connect(%s) = %v, %v", c.Username(), ok, err)
		}
	}
	if b, ok := inLobby.CurrentBackend(); ok {
		t.Fatalf("client still on %v after connect", b)
	}

	if !f.launcher.Stop(ctx, "LOBBY") {
		t.Fatalf("Stop reported nothing stopped")
	}

	if _, ok := f.registry.FindByName("lobby"); ok {
		t.Fatalf("lobby still registered")
	}
	if in, _ := f.store.IsInVirtualServer(ctx, inLobby.ID()); in {
		t.Fatalf("lobby session survived Stop")
	}
	if b, _ := inLobby.CurrentBackend(); b != host.Backend(f.survival) {
		t.Fatalf("lobby client on %v, want survival", b)
	}
	if s, _, _ := f.store.VirtualServer(ctx, inArena.ID()); s != arena {
		t.Fatalf("arena session disturbed")
	}
	if b, _ := outside.CurrentBackend(); b != host.Backend(f.survival) {
		t.Fatalf("outside client moved")
	}
	if v := testutil.ToFloat64(f.metrics.VirtualServers); v != 1 {
		t.Fatalf("virtual_servers = %v, want 1", v)
	}
	if f.launcher.Stop(ctx, "lobby") {
		t.Fatalf("second Stop reported a stop")
	}
}

func TestStopClearsSessionEvenWhenReturnFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lobby, err := f.launcher.Launch(ctx, "lobby")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	c := f.proxy.AddClient(hosttest.NewClient("a", 769, f.survival))
	if ok, err := f.connector.Connect(ctx, lobby, c); !ok || err != nil {
		t.Fatalf("Connect = %v, %v", ok, err)
	}
	f.proxy.ConnectErr = func(host.Client, host.Backend) error { return errors.New("backend offline") }

	if !f.launcher.Stop(ctx, "lobby") {
		t.Fatalf("Stop failed")
	}
	if in, _ := f.store.IsInVirtualServer(ctx, c.ID()); in {
		t.Fatalf("session survived Stop")
	}
	if _, ok := f.connector.PreviousBackend(c); !ok {
		t.Fatalf("remembered backend dropped after failed return")
	}
}

func TestConnectAfterStopIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lobby, err := f.launcher.Launch(ctx, "lobby")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if !f.launcher.Stop(ctx, "lobby") {
		t.Fatalf("Stop failed")
	}
	c := f.proxy.AddClient(hosttest.NewClient("a", 769, f.survival))
	if ok, err := f.connector.Connect(ctx, lobby, c); ok || !errors.Is(err, connector.ErrServerNotRegistered) {
		t.Fatalf("Connect(stopped) = %v, %v; want ErrServerNotRegistered", ok, err)
	}
	if in, _ := f.store.IsInVirtualServer(ctx, c.ID()); in {
		t.Fatalf("client sessioned into a stopped server")
	}
}

func TestLaunchWithoutBuiltInLayoutsRefusesBootstrap(t *testing.T) {
	f := newFixture(t)
	snd := sender.New(f.proxy, f.proxy, f.store, sender.WithTargetProtocol(770))
	conn := connector.New(f.proxy, f.registry, f.store, snd)
	ln := New(f.proxy, f.registry, f.store, conn, WithTargetProtocol(770))
	ctx := context.Background()

	s, err := ln.Launch(ctx, "future")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if _, ok := s.PacketVersion(protocol.KeyLimboBootstrap, 770); !ok {
		t.Fatalf("bootstrap gate not seeded for 770")
	}
	if s.HasPacketRules(protocol.KeyRespawn) {
		t.Fatalf("seeded protocol 769 layouts under target 770")
	}

	c := f.proxy.AddClient(hosttest.NewClient("a", 770, f.survival))
	if ok, err := conn.Connect(ctx, s, c); ok || err != nil {
		t.Fatalf("Connect = %v, %v; want false, nil", ok, err)
	}
	if n := len(f.proxy.Packets(c)); n != 0 {
		t.Fatalf("wrote %d packets to a protocol 770 client", n)
	}
	if b, _ := c.CurrentBackend(); b != host.Backend(f.survival) {
		t.Fatalf("client on %v after rollback, want survival", b)
	}
}
