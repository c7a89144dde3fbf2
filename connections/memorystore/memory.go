package memorystore

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/ggoodman/proxy-virtualizer-go/connections"
	"github.com/ggoodman/proxy-virtualizer-go/servers"
)

// Store is an in-memory implementation of connections.Storage.
type Store struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*servers.Server
}

func New() *Store {
	return &Store{sessions: make(map[uuid.UUID]*servers.Server)}
}

func (s *Store) IsInVirtualServer(ctx context.Context, clientID uuid.UUID) (bool, error) {
	s.mu.RLock()
	_, ok := s.sessions[clientID]
	s.mu.RUnlock()
	return ok, nil
}

func (s *Store) VirtualServer(ctx context.Context, clientID uuid.UUID) (*servers.Server, bool, error) {
	s.mu.RLock()
	server, ok := s.sessions[clientID]
	s.mu.RUnlock()
	return server, ok, nil
}

func (s *Store) Register(ctx context.Context, clientID uuid.UUID, server *servers.Server) error {
	if server == nil {
		return errors.New("server is required")
	}
	s.mu.Lock()
	s.sessions[clientID] = server
	s.mu.Unlock()
	return nil
}

// RegisterAll registers every client independently and joins the failures.
func (s *Store) RegisterAll(ctx context.Context, clientIDs []uuid.UUID, server *servers.Server) error {
	var errs []error
	for _, id := range clientIDs {
		if err := s.Register(ctx, id, server); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) Remove(ctx context.Context, clientID uuid.UUID) (bool, error) {
	s.mu.Lock()
	_, ok := s.sessions[clientID]
	delete(s.sessions, clientID)
	s.mu.Unlock()
	return ok, nil
}

func (s *Store) RemoveAll(ctx context.Context, clientIDs []uuid.UUID) error {
	var errs []error
	for _, id := range clientIDs {
		if _, err := s.Remove(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) Clients(ctx context.Context, server *servers.Server) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []uuid.UUID
	for id, current := range s.sessions {
		if current == server {
			out = append(out, id)
		}
	}
	return out, nil
}

var _ connections.Storage = (*Store)(nil)
