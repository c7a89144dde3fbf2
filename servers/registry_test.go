package servers

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestRegistryRegisterAndFind(t *testing.T) {
	r := NewRegistry()
	s, _ := New("Lobby")
	if err := r.Register(s); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, ok := r.FindByName("LOBBY")
	if !ok || got != s {
		t.Fatalf("FindByName returned %v, %v", got, ok)
	}
	if _, ok := r.FindByName(""); ok {
		t.Fatal("blank name must not be found")
	}
	if _, ok := r.FindByName("  "); ok {
		t.Fatal("whitespace name must not be found")
	}
}

func TestRegistryRejectsDuplicateName(t *testing.T) {
	r := NewRegistry()
	a, _ := New("Lobby")
	b, _ := New("lobby")
	if err := r.Register(a); err != nil {
		t.Fatalf("Register a: %v", err)
	}
	err := r.Register(b)
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("Register b err = %v, want ErrAlreadyRegistered", err)
	}
	if got, _ := r.FindByName("lobby"); got != a {
		t.Fatal("duplicate registration replaced the original entry")
	}
}

func TestRegistryConcurrentCaseInsensitiveUniqueness(t *testing.T) {
	for round := 0; round < 50; round++ {
		r := NewRegistry()
		a, _ := New("Lobby")
		b, _ := New("lobby")

		var wins atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for _, s := range []*Server{a, b} {
			wg.Add(1)
			go func(s *Server) {
				defer wg.Done()
				<-start
				if err := r.Register(s); err == nil {
					wins.Add(1)
				}
			}(s)
		}
		close(start)
		wg.Wait()

		if wins.Load() != 1 {
			t.Fatalf("round %d: %d registrations succeeded, want exactly 1", round, wins.Load())
		}
		if r.Len() != 1 {
			t.Fatalf("round %d: registry holds %d servers", round, r.Len())
		}
	}
}

func TestRegistryRemoveRequiresIdentity(t *testing.T) {
	r := NewRegistry()
	original, _ := New("lobby")
	impostor, _ := New("Lobby")
	_ = r.Register(original)

	r.Remove(impostor)
	if _, ok := r.FindByName("lobby"); !ok {
		t.Fatal("Remove with a different instance must not remove the entry")
	}

	r.Remove(original)
	if _, ok := r.FindByName("lobby"); ok {
		t.Fatal("Remove with the registered instance should remove it")
	}

	r.Remove(original)
	r.Remove(nil)
}

func TestRegistryListIsSnapshot(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"b", "A", "c"} {
		s, _ := New(name)
		_ = r.Register(s)
	}
	list := r.List()
	if len(list) != 3 || list[0].Key() != "a" || list[2].Key() != "c" {
		t.Fatalf("List = %v", list)
	}

	for _, s := range list {
		r.Remove(s)
	}
	if len(list) != 3 {
		t.Fatal("snapshot changed under concurrent removal")
	}
	if r.Len() != 0 {
		t.Fatalf("registry still holds %d servers", r.Len())
	}
}
