// Package rulesfile loads per-server protocol and packet-layout rules from YAML
// and applies them to a registry, optionally re-applying whenever the file
// changes on disk.
//
//	servers:
//	  lobby:
//	    protocols: [769]
//	    deny_protocols: [768]
//	    packets:
//	      clientbound.keep_alive:
//	        769: 1
//	    unmap:
//	      clientbound.title: [770]
//
// Servers named in the file but not registered are reported and skipped; the
// file never launches servers.
package rulesfile

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ggoodman/proxy-virtualizer-go/protocol"
	"github.com/ggoodman/proxy-virtualizer-go/servers"
)

// File is the parsed rules document.
type File struct {
	Servers map[string]ServerRules `yaml:"servers"`
}

// ServerRules are the rules for one virtual server.
type ServerRules struct {
	// Protocols are allowed on the server.
	Protocols []int `yaml:"protocols"`
	// DenyProtocols are removed from the allowed set.
	DenyProtocols []int `yaml:"deny_protocols"`
	// Packets maps packet key -> protocol version -> packet layout version.
	Packets map[string]map[int]int `yaml:"packets"`
	// Unmap lists protocol versions whose rule for a packet key is removed.
	Unmap map[string][]int `yaml:"unmap"`
}

// Load reads and validates the rules file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a rules document.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks names, keys and numbers.
func (f *File) Validate() error {
	for name, rules := range f.Servers {
		if strings.TrimSpace(name) == "" {
			return errors.New("server name cannot be blank")
		}
		for _, v := range append(append([]int(nil), rules.Protocols...), rules.DenyProtocols...) {
			if v <= 0 {
				return fmt.Errorf("server %q: invalid protocol version %d", name, v)
			}
		}
		for key, byProtocol := range rules.Packets {
			if strings.TrimSpace(key) == "" {
				return fmt.Errorf("server %q: packet key cannot be blank", name)
			}
			for proto, id := range byProtocol {
				if proto <= 0 {
					return fmt.Errorf("server %q: packet %q: invalid protocol version %d", name, key, proto)
				}
				if id < 0 || id > math.MaxInt32 {
					return fmt.Errorf("server %q: packet %q: invalid packet version %d", name, key, id)
				}
				if err := protocol.ValidatePacketVersion(key, id); err != nil {
					return fmt.Errorf("server %q: %w", name, err)
				}
			}
		}
		for key := range rules.Unmap {
			if strings.TrimSpace(key) == "" {
				return fmt.Errorf("server %q: unmap key cannot be blank", name)
			}
		}
	}
	return nil
}

// Result summarizes an Apply.
type Result struct {
	// Applied lists the servers the rules were applied to.
	Applied []string
	// Missing lists servers named in the file that are not registered.
	Missing []string
	// Rules is the number of packet rules registered.
	Rules int
	// Removed is the number of packet rules removed.
	Removed int
}

// Apply applies f to the registered servers. Both result slices are sorted.
func (f *File) Apply(registry *servers.Registry) (Result, error) {
	var res Result
	names := make([]string, 0, len(f.Servers))
	for name := range f.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		s, ok := registry.FindByName(name)
		if !ok {
			res.Missing = append(res.Missing, name)
			continue
		}
		rules := f.Servers[name]
		for _, v := range rules.Protocols {
			s.AllowProtocolVersion(v)
		}
		for _, v := range rules.DenyProtocols {
			s.DisallowProtocolVersion(v)
		}
		for key, byProtocol := range rules.Packets {
			for proto, id := range byProtocol {
				if _, err := s.RegisterPacketVersion(key, proto, id); err != nil {
					return res, fmt.Errorf("server %q: packet %q: %w", name, key, err)
				}
				res.Rules++
			}
		}
		for key, protos := range rules.Unmap {
			for _, proto := range protos {
				if s.RemovePacketVersion(key, proto) {
					res.Removed++
				}
			}
		}
		res.Applied = append(res.Applied, s.Name())
	}
	return res, nil
}
