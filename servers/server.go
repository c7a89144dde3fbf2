package servers

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrBlankName is returned when a server is created with an empty or
	// whitespace-only name.
	ErrBlankName = errors.New("virtual server name cannot be blank")
	// ErrBlankPacketKey is returned when a packet rule is addressed with an
	// empty or whitespace-only packet key.
	ErrBlankPacketKey = errors.New("packet key cannot be blank")
	// ErrPacketVersionRange is returned when a packet version falls outside
	// 0..math.MaxInt32.
	ErrPacketVersionRange = errors.New("packet version out of range")
)

// PacketVersionRule binds a packet kind to the packet layout version used for
// a specific client protocol version. Rules are immutable values.
type PacketVersionRule struct {
	PacketKey       string `json:"packet_key" yaml:"packet_key"`
	ProtocolVersion int    `json:"protocol_version" yaml:"protocol_version"`
	PacketVersion   int    `json:"packet_version" yaml:"packet_version"`
}

func (r PacketVersionRule) String() string {
	return fmt.Sprintf("%s@%d=%d", r.PacketKey, r.ProtocolVersion, r.PacketVersion)
}

// Server is a named virtual server and its protocol capability record. All
// methods are safe for concurrent use.
type Server struct {
	name       string
	key        string
	generation string

	mu        sync.RWMutex
	protocols map[int]struct{}
	packets   map[string]map[int]PacketVersionRule
}

// New creates a server with an open protocol policy and an empty packet
// matrix.
func New(name string) (*Server, error) {
	key, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	return &Server{
		name:       strings.TrimSpace(name),
		key:        key,
		generation: uuid.NewString(),
		protocols:  make(map[int]struct{}),
		packets:    make(map[string]map[int]PacketVersionRule),
	}, nil
}

// NormalizeName returns the case-insensitive identity key for a server name.
func NormalizeName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", ErrBlankName
	}
	return strings.ToLower(trimmed), nil
}

// Name returns the server name as given at creation time (trimmed).
func (s *Server) Name() string { return s.name }

// Key returns the normalized identity key.
func (s *Server) Key() string { return s.key }

// Generation is unique to this Server value. A server relaunched under the
// same name gets a new generation, which lets shared stores tell the two
// apart.
func (s *Server) Generation() string { return s.generation }

// Equal reports whether both servers share the same normalized name.
func (s *Server) Equal(other *Server) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.key == other.key
}

func (s *Server) String() string { return "VirtualServer{name=" + s.name + "}" }

// AllowProtocolVersion adds a protocol version to the supported set.
func (s *Server) AllowProtocolVersion(protocolVersion int) {
	s.mu.Lock()
	s.protocols[protocolVersion] = struct{}{}
	s.mu.Unlock()
}

// DisallowProtocolVersion removes a protocol version from the supported set.
// Removing the last entry reopens the policy to every version.
func (s *Server) DisallowProtocolVersion(protocolVersion int) {
	s.mu.Lock()
	delete(s.protocols, protocolVersion)
	s.mu.Unlock()
}

// SupportedProtocolVersions returns a sorted snapshot of the supported set.
func (s *Server) SupportedProtocolVersions() []int {
	s.mu.RLock()
	out := make([]int, 0, len(s.protocols))
	for v := range s.protocols {
		out = append(out, v)
	}
	s.mu.RUnlock()
	sort.Ints(out)
	return out
}

// IsProtocolVersionSupported reports whether clients speaking protocolVersion
// may enter the server. An empty supported set accepts every version.
func (s *Server) IsProtocolVersionSupported(protocolVersion int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.protocols) == 0 {
		return true
	}
	_, ok := s.protocols[protocolVersion]
	return ok
}

// RegisterPacketVersion records (or replaces) the rule for packetKey at
// protocolVersion. packetVersion must fit in 0..math.MaxInt32.
func (s *Server) RegisterPacketVersion(packetKey string, protocolVersion, packetVersion int) (PacketVersionRule, error) {
	key, err := normalizePacketKey(packetKey)
	if err != nil {
		return PacketVersionRule{}, err
	}
	if packetVersion < 0 || packetVersion > math.MaxInt32 {
		return PacketVersionRule{}, fmt.Errorf("%w: %d", ErrPacketVersionRange, packetVersion)
	}
	rule := PacketVersionRule{PacketKey: key, ProtocolVersion: protocolVersion, PacketVersion: packetVersion}

	s.mu.Lock()
	byProtocol, ok := s.packets[key]
	if !ok {
		byProtocol = make(map[int]PacketVersionRule)
		s.packets[key] = byProtocol
	}
	byProtocol[protocolVersion] = rule
	s.mu.Unlock()
	return rule, nil
}

// PacketVersion returns the rule for packetKey at protocolVersion, if any.
// There is no nearest-version fallback.
func (s *Server) PacketVersion(packetKey string, protocolVersion int) (PacketVersionRule, bool) {
	key, err := normalizePacketKey(packetKey)
	if err != nil {
		return PacketVersionRule{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.packets[key][protocolVersion]
	return rule, ok
}

// RemovePacketVersion deletes a single rule. The packet kind is pruned from
// the matrix once its last rule is gone, making it unrestricted again.
func (s *Server) RemovePacketVersion(packetKey string, protocolVersion int) bool {
	key, err := normalizePacketKey(packetKey)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byProtocol, ok := s.packets[key]
	if !ok {
		return false
	}
	_, removed := byProtocol[protocolVersion]
	delete(byProtocol, protocolVersion)
	if len(byProtocol) == 0 {
		delete(s.packets, key)
	}
	return removed
}

// HasPacketRules reports whether packetKey is present in the matrix at all.
func (s *Server) HasPacketRules(packetKey string) bool {
	key, err := normalizePacketKey(packetKey)
	if err != nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.packets[key]
	return ok
}

// PacketVersionMatrix returns a deep snapshot of the matrix. Rules for each
// key are ordered by protocol version.
func (s *Server) PacketVersionMatrix() map[string][]PacketVersionRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]PacketVersionRule, len(s.packets))
	for key, byProtocol := range s.packets {
		rules := make([]PacketVersionRule, 0, len(byProtocol))
		for _, rule := range byProtocol {
			rules = append(rules, rule)
		}
		sort.Slice(rules, func(i, j int) bool { return rules[i].ProtocolVersion < rules[j].ProtocolVersion })
		out[key] = rules
	}
	return out
}

func normalizePacketKey(packetKey string) (string, error) {
	key := strings.TrimSpace(packetKey)
	if key == "" {
		return "", ErrBlankPacketKey
	}
	return key, nil
}
