package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/ggoodman/proxy-virtualizer-go/connections"
	"github.com/ggoodman/proxy-virtualizer-go/servers"
)

// Config for the Redis-backed store. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: VSERVER_CONNECTIONS_KEY_PREFIX
	KeyPrefix string `env:"VSERVER_CONNECTIONS_KEY_PREFIX,default=vserver:connections:"`
	// Client overrides RedisAddr with an existing client.
	Client redis.UniversalClient `env:"-"`
}

// Store is a Redis implementation of connections.Storage.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
	registry  *servers.Registry
}

// New connects (or reuses cfg.Client) and verifies the connection with PING.
func New(cfg Config, registry *servers.Registry) (*Store, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	client := cfg.Client
	if client == nil {
		addr := cfg.RedisAddr
		if addr == "" {
			addr = "localhost:6379"
		}
		client = redis.NewClient(&redis.Options{Addr: addr})
	}
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "vserver:connections:"
	}
	return &Store{client: client, keyPrefix: prefix, registry: registry}, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv(registry *servers.Registry) (*Store, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode redis store config: %w", err)
	}
	return New(cfg, registry)
}

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) clientKey(id uuid.UUID) string { return s.keyPrefix + "client:" + id.String() }
func (s *Store) serverKey(ref string) string    { return s.keyPrefix + "server:" + ref }

// serverRef names one launch of a server: its normalized key plus its
// generation, so a relaunch under the same name never inherits entries.
func serverRef(server *servers.Server) string {
	return server.Key() + "#" + server.Generation()
}

func parseServerRef(ref string) (key, generation string) {
	i := strings.LastIndexByte(ref, '#')
	if i < 0 {
		return ref, ""
	}
	return ref[:i], ref[i+1:]
}

func (s *Store) IsInVirtualServer(ctx context.Context, clientID uuid.UUID) (bool, error) {
	_, ok, err := s.VirtualServer(ctx, clientID)
	return ok, err
}

func (s *Store) VirtualServer(ctx context.Context, clientID uuid.UUID) (*servers.Server, bool, error) {
	ref, err := s.client.Get(ctx, s.clientKey(clientID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get session %s: %w", clientID, err)
	}
	key, generation := parseServerRef(ref)
	server, ok := s.registry.FindByName(key)
	if !ok || server.Generation() != generation {
		return nil, false, nil
	}
	return server, true, nil
}

func (s *Store) Register(ctx context.Context, clientID uuid.UUID, server *servers.Server) error {
	if server == nil {
		return errors.New("server is required")
	}
	member := clientID.String()
	previous, err := s.client.Get(ctx, s.clientKey(clientID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("get session %s: %w", clientID, err)
	}
	ref := serverRef(server)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.clientKey(clientID), ref, 0)
		if previous != "" && previous != ref {
			pipe.SRem(ctx, s.serverKey(previous), member)
		}
		pipe.SAdd(ctx, s.serverKey(ref), member)
		return nil
	})
	if err != nil {
		return fmt.Errorf("register session %s: %w", clientID, err)
	}
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
	previous, err := s.client.GetDel(ctx, s.clientKey(clientID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("remove session %s: %w", clientID, err)
	}
	if err := s.client.SRem(ctx, s.serverKey(previous), clientID.String()).Err(); err != nil {
		return true, fmt.Errorf("remove session %s from %s: %w", clientID, previous, err)
	}
	return true, nil
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
	if server == nil {
		return nil, nil
	}
	if current, ok := s.registry.FindByName(server.Key()); !ok || current != server {
		return nil, nil
	}
	members, err := s.client.SMembers(ctx, s.serverKey(serverRef(server))).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions for %s: %w", server.Name(), err)
	}
	out := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

var _ connections.Storage = (*Store)(nil)
