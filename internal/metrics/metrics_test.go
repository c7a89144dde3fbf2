package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.PacketsTotal.WithLabelValues("clientbound.keep_alive", ResultOK).Inc()
	m.VirtualServers.Set(2)

	if got := testutil.ToFloat64(m.PacketsTotal.WithLabelValues("clientbound.keep_alive", ResultOK)); got != 1 {
		t.Fatalf("packets_total = %v, want 1", got)
	}
	n, err := testutil.GatherAndCount(reg, "vserver_packets_total", "vserver_virtual_servers")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if n != 2 {
		t.Fatalf("gathered %d series, want 2", n)
	}
}

func TestNewWithNilRegistryIsPrivate(t *testing.T) {
	// Two engines built without a registerer must not collide.
	_ = New(nil)
	_ = New(nil)
}
