package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/model"
)

// Peer is a source endpoint accepted by relay ingress.
type Peer struct {
	Name string `yaml:"name"`
	Eid  uint32 `yaml:"eid"`
	// Sender optionally pins the base58 sender address allowed for Eid.
	Sender string `yaml:"sender"`
}

type peersFile struct {
	Peers []Peer `yaml:"peers"`
}

// LoadPeers reads the relay peer allowlist from a YAML file of the form
//
//	peers:
//	  - name: sepolia
//	    eid: 40161
//	    sender: <base58 address>
func LoadPeers(path string) ([]Peer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read relay peers file: %w", err)
	}
	return ParsePeers(data)
}

// ParsePeers decodes and validates a relay peer document.
func ParsePeers(data []byte) ([]Peer, error) {
	var parsed peersFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse relay peers: %w", err)
	}
	seen := make(map[uint32]bool, len(parsed.Peers))
	for i, p := range parsed.Peers {
		if p.Eid == 0 {
			return nil, fmt.Errorf("relay peer %d: eid is required", i)
		}
		if seen[p.Eid] {
			return nil, fmt.Errorf("relay peer %d: duplicate eid %d", i, p.Eid)
		}
		seen[p.Eid] = true
		if p.Sender != "" {
			if _, err := model.ParsePubkey(p.Sender); err != nil {
				return nil, fmt.Errorf("relay peer %d: invalid sender: %w", i, err)
			}
		}
	}
	return parsed.Peers, nil
}

// Allows reports whether a message from sender on eid passes the allowlist.
// An empty allowlist accepts everything.
func Allows(peers []Peer, eid uint32, sender model.Pubkey) bool {
	if len(peers) == 0 {
		return true
	}
	for _, p := range peers {
		if p.Eid != eid {
			continue
		}
		return p.Sender == "" || p.Sender == sender.String()
	}
	return false
}
