package console

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ggoodman/proxy-virtualizer-go/connections/memorystore"
	"github.com/ggoodman/proxy-virtualizer-go/connector"
	"github.com/ggoodman/proxy-virtualizer-go/host"
	"github.com/ggoodman/proxy-virtualizer-go/host/hosttest"
	"github.com/ggoodman/proxy-virtualizer-go/launcher"
	"github.com/ggoodman/proxy-virtualizer-go/sender"
	"github.com/ggoodman/proxy-virtualizer-go/servers"
)

type fixture struct {
	proxy    *hosttest.Proxy
	store    *memorystore.Store
	registry *servers.Registry
	console  *Console
	survival *hosttest.Backend
	alex     *hosttest.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	survival := hosttest.NewBackend("survival")
	proxy := hosttest.NewProxy(survival)
	store := memorystore.New()
	registry := servers.NewRegistry()
	snd := sender.New(proxy, proxy, store)
	conn := connector.New(proxy, registry, store, snd)
	ln := launcher.New(proxy, registry, store, conn)
	return &fixture{
		proxy:    proxy,
		store:    store,
		registry: registry,
		console:  New(proxy, registry, ln, conn, snd),
		survival: survival,
		alex:     proxy.AddClient(hosttest.NewClient("Alex", 769, survival)),
	}
}

// exec runs line from the operator console and returns its output.
func (f *fixture) exec(t *testing.T, line string) (string, error) {
	t.Helper()
	return f.execAs(t, nil, line)
}

func (f *fixture) execAs(t *testing.T, self host.Client, line string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := f.console.Execute(context.Background(), &out, self, line)
	return out.String(), err
}

func (f *fixture) expect(t *testing.T, line, want string, wantErr bool) {
	t.Helper()
	got, err := f.exec(t, line)
	if (err != nil) != wantErr {
		t.Fatalf("%q: err = %v, wantErr %v (output %q)", line, err, wantErr, got)
	}
	if !strings.Contains(got, want) {
		t.Fatalf("%q: output %q does not contain %q", line, got, want)
	}
}

func TestLaunchListStop(t *testing.T) {
	f := newFixture(t)
	f.expect(t, "list", "[INFO] No virtual servers launched.", false)
	f.expect(t, "launch lobby", "[OK] Launched virtual server: lobby", false)
	f.expect(t, "launch Arena", "[OK] Launched virtual server: Arena", false)
	f.expect(t, "launch LOBBY", "[ERR] virtual server already launched: lobby", true)
	f.expect(t, "launch", "[USAGE] /vserver launch <name>", true)
	f.expect(t, "list", "[INFO] Virtual servers (2): Arena, lobby", false)
	f.expect(t, "stop lobby", "[OK] Stopped virtual server: lobby", false)
	f.expect(t, "stop lobby", "[ERR] Virtual server not found: lobby", true)
	if f.registry.Len() != 1 {
		t.Fatalf("registry has %d servers, want 1", f.registry.Len())
	}
}

func TestConnectAndLeave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.expect(t, "launch lobby", "[OK]", false)

	f.expect(t, "connect lobby", "[ERR] This command requires a client argument", true)
	f.expect(t, "connect nowhere alex", "[ERR] Virtual server not found: nowhere", true)
	f.expect(t, "connect lobby nobody", "[ERR] Client not found: nobody", true)
	f.expect(t, "connect lobby alex", "[OK] Connected Alex to virtual server: lobby", false)
	f.expect(t, "connect lobby alex", "[ERR] client Alex is already connected to virtual server lobby", true)
	if in, _ := f.store.IsInVirtualServer(ctx, f.alex.ID()); !in {
		t.Fatalf("client not sessioned")
	}

	out, err := f.execAs(t, f.alex, "leave")
	if err != nil || !strings.Contains(out, "[OK] Disconnected Alex from virtual server.") {
		t.Fatalf("leave = %q, %v", out, err)
	}
	if b, _ := f.alex.CurrentBackend(); b != host.Backend(f.survival) {
		t.Fatalf("client on %v, want survival", b)
	}
	f.expect(t, "disconnect alex", "[INFO] Alex is not connected to a virtual server.", false)
}

func TestConnectRefusedProtocol(t *testing.T) {
	f := newFixture(t)
	f.expect(t, "launch lobby", "[OK]", false)
	f.alex.SetProtocolVersion(770)
	f.expect(t, "connect lobby alex", "[ERR] Failed to enter virtual server. Expected a supported protocol (target: 769)", true)
}

func TestProtocolAndPacketRules(t *testing.T) {
	f := newFixture(t)
	f.expect(t, "launch lobby", "[OK]", false)
	f.expect(t, "allow-protocol lobby 770", "[OK] Allowed protocol 770 for lobby", false)
	f.expect(t, "deny-protocol lobby 770", "[OK] Denied protocol 770 for lobby", false)
	f.expect(t, "allow-protocol lobby x", "[ERR] protocol version must be an integer", true)
	f.expect(t, "allow-protocol lobby", "[USAGE] /vserver allow-protocol <server> <protocolVersion>", true)

	f.expect(t, "packet-map lobby clientbound.chat 770 1", "[OK] Packet mapping set: clientbound.chat@770=1", false)
	f.expect(t, "packet-map lobby clientbound.chat 770 115", "[ERR] protocol: unknown packet layout: clientbound.chat has no layout version 115", true)
	f.expect(t, "packet-map lobby custom.key 770 2147483648", "[ERR] packet version out of range: 2147483648", true)
	out, err := f.exec(t, "packet-rules lobby")
	if err != nil {
		t.Fatalf("packet-rules: %v", err)
	}
	for _, want := range []string{
		"[INFO] lobby protocols: 769",
		"[INFO] clientbound.chat@769=1",
		"[INFO] clientbound.chat@770=1",
		"[INFO] virtual.limbo_bootstrap@769=1",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("packet-rules output %q missing %q", out, want)
		}
	}
	f.expect(t, "packet-unmap lobby clientbound.chat 770", "[OK] Packet mapping removed: clientbound.chat protocol=770", false)
	f.expect(t, "packet-unmap lobby clientbound.chat 770", "[INFO] No mapping for clientbound.chat at protocol 770 on lobby.", false)
}

func TestPacketBroadcasts(t *testing.T) {
	f := newFixture(t)
	f.expect(t, "launch lobby", "[OK]", false)
	f.expect(t, "connect lobby alex", "[OK]", false)
	before := len(f.proxy.Packets(f.alex))

	f.expect(t, "packet chat lobby hello  world", "[OK] Chat packet sent to 1 client(s) in lobby.", false)
	packets := f.proxy.Packets(f.alex)
	if len(packets) != before+1 || !bytes.Contains(packets[len(packets)-1], []byte("hello world")) {
		t.Fatalf("chat packet not written: %d packets", len(packets))
	}

	f.expect(t, "packet title lobby Welcome || to the void", "[OK] Title packet sent to 1 client(s)", false)
	if got := len(f.proxy.Packets(f.alex)); got != before+4 {
		t.Fatalf("title wrote %d packets, want 3", got-before-1)
	}
	f.expect(t, "packet keepalive lobby", "[OK] KeepAlive sent to 1 client(s)", false)
	f.expect(t, "packet limbo lobby", "[OK] Void limbo bootstrap sent to 1 client(s)", false)
	f.expect(t, "packet chat lobby", "[USAGE] /vserver packet chat <server> <message>", true)
	f.expect(t, "packet bogus lobby", "[ERR] Unknown packet action: bogus", true)
	f.expect(t, "packet actionbar nowhere hi", "[ERR] Virtual server not found: nowhere", true)
	f.expect(t, "packet disconnect lobby", "[OK] Disconnect packet sent to 1 client(s)", false)

	last := f.proxy.Packets(f.alex)
	if !bytes.Contains(last[len(last)-1], []byte(DefaultDisconnectReason)) {
		t.Fatalf("disconnect packet lacks the default reason")
	}
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t)
	out, err := f.exec(t, "explode now")
	if err == nil || !strings.HasPrefix(out, "[ERR] ") {
		t.Fatalf("unknown command = %q, %v", out, err)
	}
}

func TestRulesLoad(t *testing.T) {
	f := newFixture(t)
	f.expect(t, "launch lobby", "[OK]", false)
	path := filepath.Join(t.TempDir(), "rules.yaml")
	doc := "servers:\n  lobby:\n    packets:\n      clientbound.keep_alive:\n        770: 1\n  ghost:\n    protocols: [769]\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	out, err := f.exec(t, "rules-load "+path)
	if err != nil {
		t.Fatalf("rules-load: %v (%q)", err, out)
	}
	if !strings.Contains(out, "[INFO] Not launched, skipped: ghost") ||
		!strings.Contains(out, "[OK] Rules applied to 1 server(s): 1 set, 0 removed.") {
		t.Fatalf("rules-load output %q", out)
	}
	lobby, _ := f.registry.FindByName("lobby")
	if rule, ok := lobby.PacketVersion("clientbound.keep_alive", 770); !ok || rule.PacketVersion != 1 {
		t.Fatalf("rule = %+v, %v", rule, ok)
	}
	f.expect(t, "rules-load "+filepath.Join(t.TempDir(), "missing.yaml"), "[ERR] failed to read rules file", true)
}
