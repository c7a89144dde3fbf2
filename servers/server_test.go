package servers

import (
	"errors"
	"math"
	"testing"
)

func TestNewRejectsBlankName(t *testing.T) {
	for _, name := range []string{"", "   ", "\t"} {
		if _, err := New(name); !errors.Is(err, ErrBlankName) {
			t.Fatalf("New(%q) err = %v, want ErrBlankName", name, err)
		}
	}
}

func TestEqualityIsCaseInsensitive(t *testing.T) {
	a, _ := New("Lobby")
	b, _ := New("lobby")
	if !a.Equal(b) {
		t.Fatalf("expected %s and %s to be equal", a, b)
	}
	if a.Name() != "Lobby" {
		t.Fatalf("Name() = %q, want original casing", a.Name())
	}
	if a.Key() != "lobby" {
		t.Fatalf("Key() = %q, want lobby", a.Key())
	}
}

func TestProtocolPolicy(t *testing.T) {
	s, _ := New("limbo")
	if !s.IsProtocolVersionSupported(47) {
		t.Fatal("empty set should accept any protocol version")
	}

	s.AllowProtocolVersion(769)
	if !s.IsProtocolVersionSupported(769) {
		t.Fatal("769 should be supported after allow")
	}
	if s.IsProtocolVersionSupported(768) {
		t.Fatal("768 should be refused once the set is non-empty")
	}

	s.DisallowProtocolVersion(769)
	if !s.IsProtocolVersionSupported(768) {
		t.Fatal("removing the last version should reopen the policy")
	}
}

func TestSupportedProtocolVersionsSnapshotIsSorted(t *testing.T) {
	s, _ := New("limbo")
	s.AllowProtocolVersion(769)
	s.AllowProtocolVersion(47)
	s.AllowProtocolVersion(767)

	got := s.SupportedProtocolVersions()
	want := []int{47, 767, 769}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}

	got[0] = 1
	if s.SupportedProtocolVersions()[0] != 47 {
		t.Fatal("snapshot mutation leaked into server state")
	}
}

func TestPacketVersionOverrideAndRemoval(t *testing.T) {
	s, _ := New("limbo")

	rule, err := s.RegisterPacketVersion("chat", 769, 1)
	if err != nil {
		t.Fatalf("RegisterPacketVersion: %v", err)
	}
	got, ok := s.PacketVersion("chat", 769)
	if !ok || got != rule {
		t.Fatalf("PacketVersion = %v, %v; want %v", got, ok, rule)
	}
	if !s.HasPacketRules("chat") {
		t.Fatal("chat should be present in the matrix")
	}
	if _, ok := s.PacketVersion("chat", 768); ok {
		t.Fatal("no nearest-version fallback expected")
	}

	if !s.RemovePacketVersion("chat", 769) {
		t.Fatal("RemovePacketVersion should report removal")
	}
	if s.HasPacketRules("chat") {
		t.Fatal("chat kind should be pruned after its last rule is removed")
	}
	if s.RemovePacketVersion("chat", 769) {
		t.Fatal("second removal should report false")
	}
}

func TestPacketKeysAreTrimmed(t *testing.T) {
	s, _ := New("limbo")
	if _, err := s.RegisterPacketVersion("  clientbound.chat ", 769, 0x73); err != nil {
		t.Fatalf("RegisterPacketVersion: %v", err)
	}
	if _, ok := s.PacketVersion("clientbound.chat", 769); !ok {
		t.Fatal("expected trimmed key lookup to succeed")
	}
	if _, err := s.RegisterPacketVersion(" ", 769, 1); !errors.Is(err, ErrBlankPacketKey) {
		t.Fatalf("blank key err = %v", err)
	}
}

func TestPacketVersionMatrixSnapshot(t *testing.T) {
	s, _ := New("limbo")
	_, _ = s.RegisterPacketVersion("keep_alive", 769, 0x27)
	_, _ = s.RegisterPacketVersion("keep_alive", 768, 0x27)
	_, _ = s.RegisterPacketVersion("respawn", 769, 0x4C)

	m := s.PacketVersionMatrix()
	if len(m) != 2 {
		t.Fatalf("matrix has %d kinds, want 2", len(m))
	}
	rules := m["keep_alive"]
	if len(rules) != 2 || rules[0].ProtocolVersion != 768 || rules[1].ProtocolVersion != 769 {
		t.Fatalf("keep_alive rules = %v", rules)
	}

	delete(m, "respawn")
	if !s.HasPacketRules("respawn") {
		t.Fatal("snapshot mutation leaked into server state")
	}
}

func TestGenerationDiffersAcrossRelaunch(t *testing.T) {
	a, _ := New("lobby")
	b, _ := New("lobby")
	if a.Generation() == "" || a.Generation() == b.Generation() {
		t.Fatalf("generations %q and %q", a.Generation(), b.Generation())
	}
}

func TestPacketVersionRange(t *testing.T) {
	s, _ := New("lobby")
	for _, pv := range []int{-1, math.MaxInt32 + 1} {
		if _, err := s.RegisterPacketVersion("clientbound.chat", 769, pv); !errors.Is(err, ErrPacketVersionRange) {
			t.Fatalf("RegisterPacketVersion(%d) err = %v, want ErrPacketVersionRange", pv, err)
		}
	}
	if s.HasPacketRules("clientbound.chat") {
		t.Fatalf("out-of-range rule was recorded")
	}
	for _, pv := range []int{0, math.MaxInt32} {
		if _, err := s.RegisterPacketVersion("clientbound.chat", 769, pv); err != nil {
			t.Fatalf("RegisterPacketVersion(%d): %v", pv, err)
		}
	}
}
