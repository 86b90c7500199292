package genesis

import (
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"surveyledger/core/state"
	"surveyledger/native/access"
	"surveyledger/native/bank"
)

// Spec is the YAML genesis document.
type Spec struct {
	ChainID     uint64            `yaml:"chainId"`
	GenesisTime string            `yaml:"genesisTime"`
	Owner       string            `yaml:"owner"`
	Managers    []string          `yaml:"managers"`
	Routing     *RoutingSpec      `yaml:"routing,omitempty"`
	Alloc       map[string]string `yaml:"alloc"`
}

// RoutingSpec seeds the payout routing pair.
type RoutingSpec struct {
	Address string `yaml:"address"`
	Owner   string `yaml:"owner"`
}

// Load parses the genesis file at path.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	return Parse(data)
}

// Parse decodes a genesis document and rejects unknown fields.
func Parse(data []byte) (*Spec, error) {
	var spec Spec
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Timestamp parses GenesisTime. An empty value yields the zero time.
func (s *Spec) Timestamp() (time.Time, error) {
	if strings.TrimSpace(s.GenesisTime) == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, s.GenesisTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("genesis time: %w", err)
	}
	return ts.UTC(), nil
}

// Validate checks addresses and amounts without touching state.
func (s *Spec) Validate() error {
	if s.ChainID == 0 {
		return fmt.Errorf("genesis: chainId required")
	}
	if _, err := s.Timestamp(); err != nil {
		return err
	}
	if _, err := ParseAccount(s.Owner); err != nil {
		return fmt.Errorf("genesis: owner: %w", err)
	}
	for _, manager := range s.Managers {
		if _, err := ParseAccount(manager); err != nil {
			return fmt.Errorf("genesis: manager %q: %w", manager, err)
		}
	}
	if s.Routing != nil {
		if _, err := ParseAccount(s.Routing.Address); err != nil {
			return fmt.Errorf("genesis: routing address: %w", err)
		}
		if _, err := ParseAccount(s.Routing.Owner); err != nil {
			return fmt.Errorf("genesis: routing owner: %w", err)
		}
	}
	for addr, amount := range s.Alloc {
		if _, err := ParseAccount(addr); err != nil {
			return fmt.Errorf("genesis: alloc %q: %w", addr, err)
		}
		if _, err := parseAmount(amount); err != nil {
			return fmt.Errorf("genesis: alloc %q: %w", addr, err)
		}
	}
	return nil
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

// Apply writes the genesis state: owner, managers, routing and balances.
// Allocations are applied in address order so repeated runs produce the same
// state.
func Apply(spec *Spec, st state.KV) error {
	if spec == nil {
		return fmt.Errorf("genesis spec must not be nil")
	}
	if err := spec.Validate(); err != nil {
		return err
	}
	owner, _ := ParseAccount(spec.Owner)
	roles := access.NewEngine()
	roles.SetState(st)
	if err := roles.Initialize(owner); err != nil {
		return fmt.Errorf("genesis: owner: %w", err)
	}
	for _, raw := range spec.Managers {
		manager, _ := ParseAccount(raw)
		if err := roles.SetManager(owner, manager, true); err != nil {
			return fmt.Errorf("genesis: manager: %w", err)
		}
	}
	if spec.Routing != nil {
		route, _ := ParseAccount(spec.Routing.Address)
		routeOwner, _ := ParseAccount(spec.Routing.Owner)
		if err := roles.SetRouting(owner, route, routeOwner); err != nil {
			return fmt.Errorf("genesis: routing: %w", err)
		}
	}
	addrs := make([]string, 0, len(spec.Alloc))
	for addr := range spec.Alloc {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	for _, raw := range addrs {
		addr, _ := ParseAccount(raw)
		amount, _ := parseAmount(spec.Alloc[raw])
		if err := bank.Mint(st, addr, amount); err != nil {
			return fmt.Errorf("genesis: alloc %s: %w", raw, err)
		}
	}
	return nil
}
