// Package connections defines the session map: the single source of truth for
// whether a client is virtualized and into which virtual server.
//
// Implementations
//
//	memorystore : process-local map guarded by an RWMutex
//	redisstore  : Redis-backed map shared between proxy instances
//
// Register and Remove are last-write-wins. Callers that need check-then-act
// semantics (the connector) serialize per client themselves. Batch operations
// are independent per-element calls with no atomicity across the batch.
package connections

import (
	"context"

	"github.com/google/uuid"

	"github.com/ggoodman/proxy-virtualizer-go/servers"
)

// Storage maps client ids to the virtual server they are sessioned into. A
// client appears in at most one session at a time.
type Storage interface {
	// IsInVirtualServer reports whether the client currently has a session.
	IsInVirtualServer(ctx context.Context, clientID uuid.UUID) (bool, error)
	// VirtualServer returns the server the client is sessioned into.
	VirtualServer(ctx context.Context, clientID uuid.UUID) (*servers.Server, bool, error)
	// Register records (or overwrites) the client's session.
	Register(ctx context.Context, clientID uuid.UUID, server *servers.Server) error
	// RegisterAll registers each client independently.
	RegisterAll(ctx context.Context, clientIDs []uuid.UUID, server *servers.Server) error
	// Remove deletes the client's session and reports whether one existed.
	Remove(ctx context.Context, clientID uuid.UUID) (bool, error)
	// RemoveAll removes each client independently.
	RemoveAll(ctx context.Context, clientIDs []uuid.UUID) error
	// Clients lists the clients sessioned into server.
	Clients(ctx context.Context, server *servers.Server) ([]uuid.UUID, error)
}
