// Package memstore is an in-memory ledger store. Each Update writes into an
// overlay that is merged into the committed state only when the operation
// succeeds, so a failed operation leaves nothing behind.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tutu-network/poco/internal/domain"
)

// Store implements domain.Store over maps.
type Store struct {
	mu    sync.RWMutex
	state *state
}

type state struct {
	accounts  map[common.Address]domain.Account
	consumed  map[common.Hash]uint64
	presigned map[common.Hash]common.Address
	deals     map[common.Hash]domain.Deal
	tasks     map[common.Hash]domain.Task
	supply    *domain.Supply
	events    []domain.Event
}

func newState() *state {
	return &state{
		accounts:  make(map[common.Address]domain.Account),
		consumed:  make(map[common.Hash]uint64),
		presigned: make(map[common.Hash]common.Address),
		deals:     make(map[common.Hash]domain.Deal),
		tasks:     make(map[common.Hash]domain.Task),
	}
}

// New returns an empty store.
func New() *Store {
	st := newState()
	st.supply = &domain.Supply{}
	return &Store{state: st}
}

// Update runs fn against an overlay and commits it if fn succeeds.
func (s *Store) Update(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{base: s.state, dirty: newState()}
	if err := fn(t); err != nil {
		return err
	}
	s.state.merge(t.dirty)
	return nil
}

// View runs fn against the committed state. Writes are rejected.
func (s *Store) View(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&tx{base: s.state, readOnly: true})
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (st *state) merge(d *state) {
	for k, v := range d.accounts {
		st.accounts[k] = v
	}
	for k, v := range d.consumed {
		st.consumed[k] = v
	}
	for k, v := range d.presigned {
		st.presigned[k] = v
	}
	for k, v := range d.deals {
		st.deals[k] = v
	}
	for k, v := range d.tasks {
		st.tasks[k] = v
	}
	if d.supply != nil {
		sup := *d.supply
		st.supply = &sup
	}
	st.events = append(st.events, d.events...)
}

// ─── Tx ─────────────────────────────────────────────────────────────────────

type tx struct {
	base     *state
	dirty    *state
	readOnly bool
}

func (t *tx) writable() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

func (t *tx) Account(addr common.Address) (domain.Account, error) {
	if t.dirty != nil {
		if a, ok := t.dirty.accounts[addr]; ok {
			return a, nil
		}
	}
	if a, ok := t.base.accounts[addr]; ok {
		return a, nil
	}
	return domain.Account{Address: addr}, nil
}

func (t *tx) PutAccount(a domain.Account) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.dirty.accounts[a.Address] = a
	return nil
}

func (t *tx) Accounts() ([]domain.Account, error) {
	merged := make(map[common.Address]domain.Account, len(t.base.accounts))
	for k, v := range t.base.accounts {
		merged[k] = v
	}
	if t.dirty != nil {
		for k, v := range t.dirty.accounts {
			merged[k] = v
		}
	}
	out := make([]domain.Account, 0, len(merged))
	for _, a := range merged {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.Cmp(out[j].Address) < 0
	})
	return out, nil
}

func (t *tx) Consumed(h common.Hash) (uint64, error) {
	if t.dirty != nil {
		if v, ok := t.dirty.consumed[h]; ok {
			return v, nil
		}
	}
	return t.base.consumed[h], nil
}

func (t *tx) SetConsumed(h common.Hash, v uint64) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.dirty.consumed[h] = v
	return nil
}

func (t *tx) Presigned(h common.Hash) (common.Address, bool, error) {
	if t.dirty != nil {
		if a, ok := t.dirty.presigned[h]; ok {
			return a, true, nil
		}
	}
	a, ok := t.base.presigned[h]
	return a, ok, nil
}

func (t *tx) SetPresigned(h common.Hash, signer common.Address) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.dirty.presigned[h] = signer
	return nil
}

func (t *tx) Deal(id common.Hash) (domain.Deal, error) {
	if t.dirty != nil {
		if d, ok := t.dirty.deals[id]; ok {
			return d, nil
		}
	}
	if d, ok := t.base.deals[id]; ok {
		return d, nil
	}
	return domain.Deal{}, domain.ErrDealNotFound
}

func (t *tx) PutDeal(d domain.Deal) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.dirty.deals[d.ID] = d
	return nil
}

func (t *tx) Deals() ([]domain.Deal, error) {
	merged := make(map[common.Hash]domain.Deal, len(t.base.deals))
	for k, v := range t.base.deals {
		merged[k] = v
	}
	if t.dirty != nil {
		for k, v := range t.dirty.deals {
			merged[k] = v
		}
	}
	out := make([]domain.Deal, 0, len(merged))
	for _, d := range merged {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.Cmp(out[j].ID) < 0
	})
	return out, nil
}

func (t *tx) Task(id common.Hash) (domain.Task, bool, error) {
	if t.dirty != nil {
		if task, ok := t.dirty.tasks[id]; ok {
			return task, true, nil
		}
	}
	task, ok := t.base.tasks[id]
	return task, ok, nil
}

func (t *tx) PutTask(task domain.Task) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.dirty.tasks[task.ID] = task
	return nil
}

func (t *tx) Supply() (domain.Supply, error) {
	if t.dirty != nil && t.dirty.supply != nil {
		return *t.dirty.supply, nil
	}
	return *t.base.supply, nil
}

func (t *tx) PutSupply(s domain.Supply) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.dirty.supply = &s
	return nil
}

func (t *tx) AppendEvents(events []domain.Event) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.dirty.events = append(t.dirty.events, events...)
	return nil
}

func (t *tx) Events(offset, limit int) ([]domain.Event, error) {
	all := t.base.events
	if t.dirty != nil && len(t.dirty.events) > 0 {
		all = append(append([]domain.Event(nil), all...), t.dirty.events...)
	}
	if offset < 0 || offset >= len(all) || limit <= 0 {
		return nil, nil
	}
	end := min(offset+limit, len(all))
	return append([]domain.Event(nil), all[offset:end]...), nil
}
