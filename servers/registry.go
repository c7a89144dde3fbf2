package servers

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrAlreadyRegistered is returned by Registry.Register when a server with the
// same normalized name is already present.
var ErrAlreadyRegistered = errors.New("virtual server already registered")

// Registry is the concurrent name -> Server directory. It exclusively owns the
// lifetime of registered servers.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Server
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Server)}
}

// Register inserts s. Exactly one of several concurrent registrations sharing
// a normalized name succeeds.
func (r *Registry) Register(s *Server) error {
	if s == nil {
		return errors.New("server is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[s.key]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, s.name)
	}
	r.byName[s.key] = s
	return nil
}

// Remove deletes s if, and only if, the registered entry for its name is s
// itself. A relaunched server that reuses the name is left untouched.
func (r *Registry) Remove(s *Server) {
	if s == nil {
		return
	}
	r.mu.Lock()
	if current, ok := r.byName[s.key]; ok && current == s {
		delete(r.byName, s.key)
	}
	r.mu.Unlock()
}

// FindByName looks up a server case-insensitively. Blank names are never
// found.
func (r *Registry) FindByName(name string) (*Server, bool) {
	if strings.TrimSpace(name) == "" {
		return nil, false
	}
	key, _ := NormalizeName(name)
	r.mu.RLock()
	s, ok := r.byName[key]
	r.mu.RUnlock()
	return s, ok
}

// Registered reports whether s itself, not merely a server with its name, is
// the current entry.
func (r *Registry) Registered(s *Server) bool {
	if s == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[s.key] == s
}

// List returns a snapshot of registered servers ordered by normalized name.
func (r *Registry) List() []*Server {
	r.mu.RLock()
	out := make([]*Server, 0, len(r.byName))
	for _, s := range r.byName {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

// Len returns the number of registered servers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}
