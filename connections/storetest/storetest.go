// Package storetest is a conformance suite for connections.Storage
// implementations.
package storetest

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ggoodman/proxy-virtualizer-go/connections"
	"github.com/ggoodman/proxy-virtualizer-go/servers"
)

// StoreFactory creates a fresh, empty Storage bound to registry. Servers used
// by the suite are registered in registry before they are stored.
type StoreFactory func(t *testing.T, registry *servers.Registry) connections.Storage

// RunStorageTests runs the complete Storage test suite against the provided factory.
func RunStorageTests(t *testing.T, factory StoreFactory) {
	t.Run("Session_AbsentByDefault", func(t *testing.T) { testAbsentByDefault(t, factory) })
	t.Run("Session_RegisterThenLookup", func(t *testing.T) { testRegisterThenLookup(t, factory) })
	t.Run("Session_RegisterOverwrites", func(t *testing.T) { testRegisterOverwrites(t, factory) })
	t.Run("Session_RemoveReportsPresence", func(t *testing.T) { testRemoveReportsPresence(t, factory) })
	t.Run("Batch_RegisterAllAndRemoveAll", func(t *testing.T) { testBatch(t, factory) })
	t.Run("Batch_FailuresAreIndependent", func(t *testing.T) { testBatchFailuresIndependent(t, factory) })
	t.Run("Session_RelaunchIsDistinct", func(t *testing.T) { testRelaunchIsDistinct(t, factory) })
	t.Run("Clients_IsolatedPerServer", func(t *testing.T) { testClientsIsolated(t, factory) })
	t.Run("Concurrency_DistinctClients", func(t *testing.T) { testConcurrentDistinctClients(t, factory) })
}

func newContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func mustServer(t *testing.T, registry *servers.Registry, name string) *servers.Server {
	t.Helper()
	s, err := servers.New(name)
	if err != nil {
		t.Fatalf("servers.New(%q): %v", name, err)
	}
	if err := registry.Register(s); err != nil {
		t.Fatalf("register %q: %v", name, err)
	}
	return s
}

func sortIDs(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	sort.Strings(out)
	return out
}

func testAbsentByDefault(t *testing.T, factory StoreFactory) {
	reg := servers.NewRegistry()
	st := factory(t, reg)
	ctx := newContext(t)

	id := uuid.New()
	in, err := st.IsInVirtualServer(ctx, id)
	if err != nil {
		t.Fatalf("IsInVirtualServer: %v", err)
	}
	if in {
		t.Fatalf("expected unknown client to have no session")
	}
	if _, ok, err := st.VirtualServer(ctx, id); err != nil || ok {
		t.Fatalf("VirtualServer = ok:%v err:%v, want absent", ok, err)
	}
}

func testRegisterThenLookup(t *testing.T, factory StoreFactory) {
	reg := servers.NewRegistry()
	st := factory(t, reg)
	ctx := newContext(t)
	lobby := mustServer(t, reg, "lobby")

	id := uuid.New()
	if err := st.Register(ctx, id, lobby); err != nil {
		t.Fatalf("Register: %v", err)
	}
	got, ok, err := st.VirtualServer(ctx, id)
	if err != nil || !ok {
		t.Fatalf("VirtualServer = ok:%v err:%v, want present", ok, err)
	}
	if got != lobby {
		t.Fatalf("VirtualServer returned %v, want the registered lobby instance", got)
	}
	in, err := st.IsInVirtualServer(ctx, id)
	if err != nil || !in {
		t.Fatalf("IsInVirtualServer = %v, %v; want true", in, err)
	}
}

func testRegisterOverwrites(t *testing.T, factory StoreFactory) {
	reg := servers.NewRegistry()
	st := factory(t, reg)
	ctx := newContext(t)
	lobby := mustServer(t, reg, "lobby")
	arena := mustServer(t, reg, "arena")

	id := uuid.New()
	if err := st.Register(ctx, id, lobby); err != nil {
		t.Fatalf("Register lobby: %v", err)
	}
	if err := st.Register(ctx, id, arena); err != nil {
		t.Fatalf("Register arena: %v", err)
	}
	got, ok, err := st.VirtualServer(ctx, id)
	if err != nil || !ok || got != arena {
		t.Fatalf("VirtualServer = %v ok:%v err:%v; want arena", got, ok, err)
	}
	lobbyClients, err := st.Clients(ctx, lobby)
	if err != nil {
		t.Fatalf("Clients(lobby): %v", err)
	}
	if len(lobbyClients) != 0 {
		t.Fatalf("expected lobby to be empty after overwrite, got %v", lobbyClients)
	}
}

func testRemoveReportsPresence(t *testing.T, factory StoreFactory) {
	reg := servers.NewRegistry()
	st := factory(t, reg)
	ctx := newContext(t)
	lobby := mustServer(t, reg, "lobby")

	id := uuid.New()
	removed, err := st.Remove(ctx, id)
	if err != nil || removed {
		t.Fatalf("Remove(absent) = %v, %v; want false, nil", removed, err)
	}
	if err := st.Register(ctx, id, lobby); err != nil {
		t.Fatalf("Register: %v", err)
	}
	removed, err = st.Remove(ctx, id)
	if err != nil || !removed {
		t.Fatalf("Remove(present) = %v, %v; want true, nil", removed, err)
	}
	removed, err = st.Remove(ctx, id)
	if err != nil || removed {
		t.Fatalf("second Remove = %v, %v; want false, nil", removed, err)
	}
	clients, err := st.Clients(ctx, lobby)
	if err != nil || len(clients) != 0 {
		t.Fatalf("Clients after remove = %v, %v; want empty", clients, err)
	}
}

func testBatch(t *testing.T, factory StoreFactory) {
	reg := servers.NewRegistry()
	st := factory(t, reg)
	ctx := newContext(t)
	lobby := mustServer(t, reg, "lobby")

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	if err := st.RegisterAll(ctx, ids, lobby); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	got, err := st.Clients(ctx, lobby)
	if err != nil {
		t.Fatalf("Clients: %v", err)
	}
	want := sortIDs(ids)
	have := sortIDs(got)
	if len(have) != len(want) {
		t.Fatalf("Clients = %v, want %v", have, want)
	}
	for i := range want {
		if have[i] != want[i] {
			t.Fatalf("Clients = %v, want %v", have, want)
		}
	}

	// Removing a mix of present and absent ids is not an error.
	if err := st.RemoveAll(ctx, append(ids[:2:2], uuid.New())); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
	got, err = st.Clients(ctx, lobby)
	if err != nil {
		t.Fatalf("Clients: %v", err)
	}
	if len(got) != 1 || got[0] != ids[2] {
		t.Fatalf("Clients after RemoveAll = %v, want [%s]", got, ids[2])
	}
}

func testBatchFailuresIndependent(t *testing.T, factory StoreFactory) {
	reg := servers.NewRegistry()
	st := factory(t, reg)
	ctx := newContext(t)

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	err := st.RegisterAll(ctx, ids, nil)
	if err == nil {
		t.Fatalf("RegisterAll with a nil server succeeded")
	}
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok || len(joined.Unwrap()) != len(ids) {
		t.Fatalf("RegisterAll err = %v; want one failure per client", err)
	}
}

func testRelaunchIsDistinct(t *testing.T, factory StoreFactory) {
	reg := servers.NewRegistry()
	st := factory(t, reg)
	ctx := newContext(t)
	first := mustServer(t, reg, "lobby")

	id := uuid.New()
	if err := st.Register(ctx, id, first); err != nil {
		t.Fatalf("Register: %v", err)
	}
	reg.Remove(first)
	relaunched := mustServer(t, reg, "LOBBY")

	if s, ok, err := st.VirtualServer(ctx, id); err != nil || (ok && s == relaunched) {
		t.Fatalf("VirtualServer = %v, %v, %v; a relaunch inherited the session", s, ok, err)
	}
	got, err := st.Clients(ctx, relaunched)
	if err != nil {
		t.Fatalf("Clients: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Clients(relaunched) = %v, want none", got)
	}
}

func testClientsIsolated(t *testing.T, factory StoreFactory) {
	reg := servers.NewRegistry()
	st := factory(t, reg)
	ctx := newContext(t)
	lobby := mustServer(t, reg, "lobby")
	arena := mustServer(t, reg, "arena")

	a, b := uuid.New(), uuid.New()
	if err := st.Register(ctx, a, lobby); err != nil {
		t.Fatalf("Register a: %v", err)
	}
	if err := st.Register(ctx, b, arena); err != nil {
		t.Fatalf("Register b: %v", err)
	}
	lobbyClients, err := st.Clients(ctx, lobby)
	if err != nil || len(lobbyClients) != 1 || lobbyClients[0] != a {
		t.Fatalf("Clients(lobby) = %v, %v; want [%s]", lobbyClients, err, a)
	}
	arenaClients, err := st.Clients(ctx, arena)
	if err != nil || len(arenaClients) != 1 || arenaClients[0] != b {
		t.Fatalf("Clients(arena) = %v, %v; want [%s]", arenaClients, err, b)
	}

	// A same-named server that is not the registered instance has no sessions.
	impostor, err := servers.New("LOBBY")
	if err != nil {
		t.Fatalf("servers.New: %v", err)
	}
	if got, err := st.Clients(ctx, impostor); err != nil || len(got) != 0 {
		t.Fatalf("Clients(impostor) = %v, %v; want empty", got, err)
	}
}

func testConcurrentDistinctClients(t *testing.T, factory StoreFactory) {
	reg := servers.NewRegistry()
	st := factory(t, reg)
	ctx := newContext(t)
	lobby := mustServer(t, reg, "lobby")

	const n = 32
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.New()
	}
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			if err := st.Register(ctx, id, lobby); err != nil {
				errs <- err
			}
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Register: %v", err)
	}
	got, err := st.Clients(ctx, lobby)
	if err != nil {
		t.Fatalf("Clients: %v", err)
	}
	if len(got) != n {
		t.Fatalf("expected %d sessions, got %d", n, len(got))
	}
}
