// Package registry resolves the external collaborators the settlement engine
// consults: asset ownership, categories, group membership, and signature
// validation for contract-like signers. The data is loaded from
// configuration and may be extended at runtime.
package registry

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tutu-network/poco/internal/domain"
	"github.com/tutu-network/poco/internal/security"
)

// Group is a named set of accounts a restriction may point at.
type Group struct {
	Address common.Address   `toml:"address" json:"address"`
	Members []common.Address `toml:"members" json:"members"`
}

// Contract is a contract-like signer. A signature is valid for it when it
// recovers to one of its delegates.
type Contract struct {
	Address   common.Address   `toml:"address" json:"address"`
	Delegates []common.Address `toml:"delegates" json:"delegates"`
}

// Config is the static registry content.
type Config struct {
	Categories  []domain.Category `toml:"categories"`
	Apps        []domain.Asset    `toml:"apps"`
	Datasets    []domain.Asset    `toml:"datasets"`
	Workerpools []domain.Asset    `toml:"workerpools"`
	Groups      []Group           `toml:"groups"`
	Contracts   []Contract        `toml:"contracts"`
}

// Static implements domain.AssetRegistry, domain.CategoryRegistry,
// domain.GroupOracle, and domain.SignatureOracle over in-memory tables.
type Static struct {
	mu          sync.RWMutex
	categories  map[uint64]domain.Category
	apps        map[common.Address]domain.Asset
	datasets    map[common.Address]domain.Asset
	workerpools map[common.Address]domain.Asset
	groups      map[common.Address]map[common.Address]bool
	contracts   map[common.Address]map[common.Address]bool
}

// New creates an empty registry.
func New() *Static {
	return &Static{
		categories:  make(map[uint64]domain.Category),
		apps:        make(map[common.Address]domain.Asset),
		datasets:    make(map[common.Address]domain.Asset),
		workerpools: make(map[common.Address]domain.Asset),
		groups:      make(map[common.Address]map[common.Address]bool),
		contracts:   make(map[common.Address]map[common.Address]bool),
	}
}

// FromConfig builds a registry from cfg, rejecting null identities and
// duplicate entries.
func FromConfig(cfg Config) (*Static, error) {
	r := New()
	for _, c := range cfg.Categories {
		if err := r.AddCategory(c); err != nil {
			return nil, err
		}
	}
	for _, a := range cfg.Apps {
		if err := r.AddApp(a); err != nil {
			return nil, err
		}
	}
	for _, a := range cfg.Datasets {
		if err := r.AddDataset(a); err != nil {
			return nil, err
		}
	}
	for _, a := range cfg.Workerpools {
		if err := r.AddWorkerpool(a); err != nil {
			return nil, err
		}
	}
	for _, g := range cfg.Groups {
		if err := r.AddGroup(g.Address, g.Members...); err != nil {
			return nil, err
		}
	}
	for _, c := range cfg.Contracts {
		if err := r.AddContract(c.Address, c.Delegates...); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ─── Registration ───────────────────────────────────────────────────────────

// AddCategory registers c. Category ids are unique.
func (r *Static) AddCategory(c domain.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.categories[c.ID]; dup {
		return fmt.Errorf("category %d already registered", c.ID)
	}
	r.categories[c.ID] = c
	return nil
}

// AddApp registers an app.
func (r *Static) AddApp(a domain.Asset) error { return r.addAsset("app", r.apps, a) }

// AddDataset registers a dataset.
func (r *Static) AddDataset(a domain.Asset) error { return r.addAsset("dataset", r.datasets, a) }

// AddWorkerpool registers a workerpool.
func (r *Static) AddWorkerpool(a domain.Asset) error {
	return r.addAsset("workerpool", r.workerpools, a)
}

func (r *Static) addAsset(kind string, table map[common.Address]domain.Asset, a domain.Asset) error {
	if a.Address == (common.Address{}) || a.Owner == (common.Address{}) {
		return fmt.Errorf("%s %s owned by %s: %w", kind, a.Address.Hex(), a.Owner.Hex(), domain.ErrZeroAddress)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := table[a.Address]; dup {
		return fmt.Errorf("%s %s already registered", kind, a.Address.Hex())
	}
	table[a.Address] = a
	return nil
}

// AddGroup adds members to group, creating it if needed.
func (r *Static) AddGroup(group common.Address, members ...common.Address) error {
	if group == (common.Address{}) {
		return fmt.Errorf("group: %w", domain.ErrZeroAddress)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.groups[group]
	if set == nil {
		set = make(map[common.Address]bool)
		r.groups[group] = set
	}
	for _, m := range members {
		set[m] = true
	}
	return nil
}

// AddContract marks addr as contract-like and authorizes delegates to sign
// for it.
func (r *Static) AddContract(addr common.Address, delegates ...common.Address) error {
	if addr == (common.Address{}) {
		return fmt.Errorf("contract: %w", domain.ErrZeroAddress)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.contracts[addr]
	if set == nil {
		set = make(map[common.Address]bool)
		r.contracts[addr] = set
	}
	for _, d := range delegates {
		set[d] = true
	}
	return nil
}

// ─── Lookups ────────────────────────────────────────────────────────────────

func (r *Static) Category(id uint64) (domain.Category, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.categories[id]
	return c, ok
}

func (r *Static) App(addr common.Address) (domain.Asset, bool) {
	return r.lookup(r.apps, addr)
}

func (r *Static) Dataset(addr common.Address) (domain.Asset, bool) {
	return r.lookup(r.datasets, addr)
}

func (r *Static) Workerpool(addr common.Address) (domain.Asset, bool) {
	return r.lookup(r.workerpools, addr)
}

func (r *Static) lookup(table map[common.Address]domain.Asset, addr common.Address) (domain.Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := table[addr]
	return a, ok
}

// IsMember reports whether account belongs to group.
func (r *Static) IsMember(group, account common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.groups[group][account]
}

// IsContract reports whether addr signs through the oracle.
func (r *Static) IsContract(addr common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.contracts[addr]
	return ok
}

// IsValidSignature accepts signature when it recovers to a delegate of
// signer.
func (r *Static) IsValidSignature(signer common.Address, hash common.Hash, signature []byte) bool {
	by, ok := security.Recover(hash, signature)
	if !ok {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.contracts[signer][by]
}
