package poco

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tutu-network/poco/internal/domain"
)

// ─── Read Accessors ─────────────────────────────────────────────────────────
// Reads do not take the engine lock; the store gives them a consistent
// snapshot of committed state.

// Account returns addr's balances.
func (e *Engine) Account(ctx context.Context, addr common.Address) (domain.Account, error) {
	var a domain.Account
	err := e.store.View(ctx, func(tx domain.Tx) error {
		var err error
		a, err = tx.Account(addr)
		return err
	})
	return a, err
}

// Kitty returns the kitty account. Its frozen balance is the pool.
func (e *Engine) Kitty(ctx context.Context) (domain.Account, error) {
	return e.Account(ctx, e.policy.KittyAddress)
}

// Consumed returns the consumed volume of an order.
func (e *Engine) Consumed(ctx context.Context, orderHash common.Hash) (uint64, error) {
	var v uint64
	err := e.store.View(ctx, func(tx domain.Tx) error {
		var err error
		v, err = tx.Consumed(orderHash)
		return err
	})
	return v, err
}

// Deal returns a deal by id.
func (e *Engine) Deal(ctx context.Context, id common.Hash) (domain.Deal, error) {
	var d domain.Deal
	err := e.store.View(ctx, func(tx domain.Tx) error {
		var err error
		d, err = tx.Deal(id)
		return err
	})
	if err != nil {
		return domain.Deal{}, fmt.Errorf("deal %s: %w", id.Hex(), err)
	}
	return d, nil
}

// Task returns a finalized task by id. Tasks that are still unset are only
// addressable through TaskAt.
func (e *Engine) Task(ctx context.Context, id common.Hash) (domain.Task, error) {
	var (
		t  domain.Task
		ok bool
	)
	err := e.store.View(ctx, func(tx domain.Tx) error {
		var err error
		t, ok, err = tx.Task(id)
		return err
	})
	if err != nil {
		return domain.Task{}, err
	}
	if !ok {
		return domain.Task{}, fmt.Errorf("task %s: %w", id.Hex(), domain.ErrTaskNotFound)
	}
	return t, nil
}

// TaskAt returns the task at index of dealID, Unset if it was never
// finalized.
func (e *Engine) TaskAt(ctx context.Context, dealID common.Hash, index uint64) (domain.Task, error) {
	var t domain.Task
	err := e.store.View(ctx, func(tx domain.Tx) error {
		deal, err := tx.Deal(dealID)
		if err != nil {
			return fmt.Errorf("deal %s: %w", dealID.Hex(), err)
		}
		if !deal.Contains(index) {
			return fmt.Errorf("index %d: %w", index, domain.ErrTaskIndexOutOfRange)
		}
		stored, ok, err := tx.Task(domain.TaskID(dealID, index))
		if err != nil {
			return err
		}
		if ok {
			t = stored
		} else {
			t = domain.UnsetTask(dealID, index)
		}
		return nil
	})
	return t, err
}

// Events returns up to limit journaled events starting at offset.
func (e *Engine) Events(ctx context.Context, offset, limit int) ([]domain.Event, error) {
	var evs []domain.Event
	err := e.store.View(ctx, func(tx domain.Tx) error {
		var err error
		evs, err = tx.Events(offset, limit)
		return err
	})
	return evs, err
}

// ─── Invariants ─────────────────────────────────────────────────────────────

// CheckInvariants verifies conservation and escrow exposure against
// committed state:
//   - the sum of every account's balances equals deposits minus withdrawals;
//   - every account's frozen balance equals what its open tasks escrowed
//     (the kitty may hold more, its pool being frozen too).
//
// It returns an error wrapping domain.ErrInvariantBroken on violation.
func (e *Engine) CheckInvariants(ctx context.Context) error {
	return e.store.View(ctx, func(tx domain.Tx) error {
		accts, err := tx.Accounts()
		if err != nil {
			return err
		}
		sup, err := tx.Supply()
		if err != nil {
			return err
		}
		var total uint64
		for _, a := range accts {
			sum, ok := a.Total()
			if !ok {
				return fmt.Errorf("account %s overflows: %w", a.Address.Hex(), domain.ErrInvariantBroken)
			}
			if total, err = domain.Add(total, sum); err != nil {
				return fmt.Errorf("total custody overflows: %w", domain.ErrInvariantBroken)
			}
		}
		if total != sup.Outstanding() {
			return fmt.Errorf("custody %d != deposited %d - withdrawn %d: %w",
				total, sup.Deposited, sup.Withdrawn, domain.ErrInvariantBroken)
		}

		exposure, err := openExposure(tx)
		if err != nil {
			return err
		}
		for _, a := range accts {
			want := exposure[a.Address]
			if a.Address == e.policy.KittyAddress {
				if a.Frozen < want {
					return fmt.Errorf("kitty frozen %d < exposure %d: %w", a.Frozen, want, domain.ErrInvariantBroken)
				}
				continue
			}
			if a.Frozen != want {
				return fmt.Errorf("account %s frozen %d != exposure %d: %w",
					a.Address.Hex(), a.Frozen, want, domain.ErrInvariantBroken)
			}
		}
		return nil
	})
}

// openExposure sums, per account, the value escrowed for tasks that are
// still unset. It reads each deal once; finalized tasks are counted on the
// deal itself.
func openExposure(tx domain.Tx) (map[common.Address]uint64, error) {
	deals, err := tx.Deals()
	if err != nil {
		return nil, err
	}
	out := make(map[common.Address]uint64)
	for _, d := range deals {
		if d.Finalized > d.BotSize {
			return nil, fmt.Errorf("deal %s finalized %d of %d tasks: %w",
				d.ID.Hex(), d.Finalized, d.BotSize, domain.ErrInvariantBroken)
		}
		open := d.Open()
		price, err := domain.Mul(d.TaskPrice(), open)
		if err != nil {
			return nil, fmt.Errorf("deal %s exposure: %w", d.ID.Hex(), domain.ErrInvariantBroken)
		}
		stake, err := domain.Mul(d.SchedulerStake, open)
		if err != nil {
			return nil, fmt.Errorf("deal %s stake exposure: %w", d.ID.Hex(), domain.ErrInvariantBroken)
		}
		out[d.Sponsor] += price
		out[d.Workerpool.Owner] += stake
	}
	return out, nil
}
