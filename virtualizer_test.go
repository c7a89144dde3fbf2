package virtualizer

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ggoodman/proxy-virtualizer-go/connections/memorystore"
	"github.com/ggoodman/proxy-virtualizer-go/host"
	"github.com/ggoodman/proxy-virtualizer-go/host/hosttest"
	"github.com/ggoodman/proxy-virtualizer-go/protocol"
	"github.com/ggoodman/proxy-virtualizer-go/signals"
)

func TestNewRequiresHost(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Fatalf("New accepted a nil proxy")
	}
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	survival := hosttest.NewBackend("survival")
	proxy := hosttest.NewProxy(survival)
	reg := prometheus.NewRegistry()

	v, err := New(proxy, proxy, WithMetricsRegisterer(reg), WithReturnOnDisconnectAll(true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer v.Close()

	var looks []signals.LookSignal
	signals.SubscribeTyped(v.Bus, nil, func(s signals.LookSignal) { looks = append(looks, s) })

	lobby, err := v.Launcher.Launch(ctx, "lobby")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	alex := proxy.AddClient(hosttest.NewClient("alex", 769, survival))
	if !v.Bridge.OnLogin(ctx, alex) {
		t.Fatalf("OnLogin failed")
	}
	if ok, err := v.Connector.Connect(ctx, lobby, alex); !ok || err != nil {
		t.Fatalf("Connect = %v, %v", ok, err)
	}
	if n := len(proxy.Packets(alex)); n != 5 {
		t.Fatalf("bootstrap wrote %d packets, want 5", n)
	}

	packet, err := protocol.EncodeMovement(protocol.Play769, protocol.Movement{Kind: protocol.MovementRotation, Yaw: 45})
	if err != nil {
		t.Fatalf("EncodeMovement: %v", err)
	}
	proxy.Inject(ctx, alex, packet)
	if len(looks) != 1 || looks[0].Yaw != 45 {
		t.Fatalf("looks = %+v", looks)
	}

	var out bytes.Buffer
	if err := v.Console.Execute(ctx, &out, nil, "packet chat lobby hi"); err != nil {
		t.Fatalf("console: %v (%q)", err, out.String())
	}

	n, err := v.Connector.DisconnectAll(ctx)
	if err != nil || n != 1 {
		t.Fatalf("DisconnectAll = %d, %v", n, err)
	}
	if b, _ := alex.CurrentBackend(); b != host.Backend(survival) {
		t.Fatalf("client on %v, want survival", b)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"vserver_connects_total", "vserver_packets_total", "vserver_virtual_servers", "vserver_signals_decoded_total"} {
		if !names[want] {
			t.Fatalf("metric %s not registered; have %v", want, names)
		}
	}

	if err := v.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if proxy.HasTap(alex) {
		t.Fatalf("tap survived Close")
	}
}

func TestTargetProtocolWithoutLayoutsSendsNothing(t *testing.T) {
	ctx := context.Background()
	survival := hosttest.NewBackend("survival")
	proxy := hosttest.NewProxy(survival)
	v, err := New(proxy, proxy, WithTargetProtocol(770))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer v.Close()

	lobby, err := v.Launcher.Launch(ctx, "lobby")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	c := proxy.AddClient(hosttest.NewClient("future", 770, survival))
	if ok, err := v.Connector.Connect(ctx, lobby, c); ok || err != nil {
		t.Fatalf("Connect = %v, %v; want false, nil", ok, err)
	}
	if n := len(proxy.Packets(c)); n != 0 {
		t.Fatalf("wrote %d packets laid out for another protocol", n)
	}
	if in, _ := v.Storage.IsInVirtualServer(ctx, c.ID()); in {
		t.Fatalf("session left behind")
	}
}

func TestWithStorage(t *testing.T) {
	proxy := hosttest.NewProxy()
	store := memorystore.New()
	v, err := New(proxy, proxy, WithStorage(store))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if v.Storage != store {
		t.Fatalf("storage not used")
	}
}

func TestApplyRules(t *testing.T) {
	proxy := hosttest.NewProxy()
	v, err := New(proxy, proxy)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := v.Launcher.Launch(context.Background(), "lobby"); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte("servers:\n  lobby:\n    protocols: [770]\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	res, err := v.ApplyRules(path)
	if err != nil || len(res.Applied) != 1 {
		t.Fatalf("ApplyRules = %+v, %v", res, err)
	}
	lobby, _ := v.Registry.FindByName("lobby")
	if !lobby.IsProtocolVersionSupported(770) {
		t.Fatalf("rules not applied")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("VSERVER_TARGET_PROTOCOL", "770")
	t.Setenv("VSERVER_LOG_LEVEL", "debug")
	t.Setenv("VSERVER_RETURN_ON_DISCONNECT_ALL", "true")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.TargetProtocol != 770 || !cfg.ReturnOnDisconnectAll {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.ConnectionsKeyPrefix != "vserver:connections:" {
		t.Fatalf("prefix default = %q", cfg.ConnectionsKeyPrefix)
	}
	if cfg.Level() != slog.LevelDebug {
		t.Fatalf("level = %v", cfg.Level())
	}
	if (Config{LogLevel: "loud"}).Level() != slog.LevelInfo {
		t.Fatalf("unknown level did not fall back to info")
	}
}

func TestNewFromConfigInMemory(t *testing.T) {
	proxy := hosttest.NewProxy()
	var logs bytes.Buffer
	cfg := Config{TargetProtocol: 769, LogLevel: "info"}
	v, err := NewFromConfig(proxy, proxy, cfg, WithLogger(cfg.NewLogger(&logs)))
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	defer v.Close()
	if _, ok := v.Storage.(*memorystore.Store); !ok {
		t.Fatalf("storage is %T, want memory", v.Storage)
	}
	if _, err := v.Launcher.Launch(context.Background(), "lobby"); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if !strings.Contains(logs.String(), `"msg":"launcher.launch.ok"`) || !strings.Contains(logs.String(), `"vserver":{"name":"lobby"}`) {
		t.Fatalf("log output %q", logs.String())
	}
}
