// Package escrow implements the ledger primitives every settlement path is
// built from. Each primitive is all-or-nothing and records one balance
// event. Lock/Unlock move value inside an account, Seize removes frozen
// value that the caller must Reward elsewhere in the same operation, and
// Deposit/Withdraw are the only primitives that change total supply.
package escrow

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tutu-network/poco/internal/domain"
)

// Ledger applies primitives inside one store transaction.
type Ledger struct {
	tx  domain.Tx
	rec domain.Recorder
	now uint64
}

// New binds a ledger to tx. Events go to rec, stamped with now.
func New(tx domain.Tx, rec domain.Recorder, now uint64) *Ledger {
	return &Ledger{tx: tx, rec: rec, now: now}
}

// Account returns the current balances of addr.
func (l *Ledger) Account(addr common.Address) (domain.Account, error) {
	return l.tx.Account(addr)
}

// Lock moves amount from available to frozen.
func (l *Ledger) Lock(addr common.Address, amount uint64, ref common.Hash) error {
	return l.apply(domain.EventLock, addr, amount, ref, func(a *domain.Account) error {
		if a.Available < amount {
			return fmt.Errorf("lock %d from %s (available %d): %w",
				amount, addr.Hex(), a.Available, domain.ErrInsufficientBalance)
		}
		a.Available -= amount
		a.Frozen += amount
		return nil
	})
}

// Unlock moves amount from frozen back to available.
func (l *Ledger) Unlock(addr common.Address, amount uint64, ref common.Hash) error {
	return l.apply(domain.EventUnlock, addr, amount, ref, func(a *domain.Account) error {
		if a.Frozen < amount {
			return fmt.Errorf("unlock %d from %s (frozen %d): %w",
				amount, addr.Hex(), a.Frozen, domain.ErrInsufficientFrozen)
		}
		a.Frozen -= amount
		a.Available += amount
		return nil
	})
}

// Seize removes amount from frozen. The caller must reward it elsewhere.
func (l *Ledger) Seize(addr common.Address, amount uint64, ref common.Hash) error {
	return l.apply(domain.EventSeize, addr, amount, ref, func(a *domain.Account) error {
		if a.Frozen < amount {
			return fmt.Errorf("seize %d from %s (frozen %d): %w",
				amount, addr.Hex(), a.Frozen, domain.ErrInsufficientFrozen)
		}
		a.Frozen -= amount
		return nil
	})
}

// Reward credits amount to available. It pairs with an earlier Seize.
func (l *Ledger) Reward(addr common.Address, amount uint64, ref common.Hash) error {
	return l.apply(domain.EventReward, addr, amount, ref, func(a *domain.Account) error {
		if a.Available+amount < a.Available || a.Available+amount+a.Frozen < a.Frozen {
			return fmt.Errorf("reward %d to %s: %w", amount, addr.Hex(), domain.ErrOverflow)
		}
		a.Available += amount
		return nil
	})
}

// Deposit injects amount into addr's available balance.
func (l *Ledger) Deposit(addr common.Address, amount uint64) error {
	if amount == 0 {
		return domain.ErrZeroAmount
	}
	sup, err := l.tx.Supply()
	if err != nil {
		return fmt.Errorf("read supply: %w", err)
	}
	if sup.Deposited+amount < sup.Deposited {
		return fmt.Errorf("deposit %d: %w", amount, domain.ErrOverflow)
	}
	err = l.apply(domain.EventDeposit, addr, amount, common.Hash{}, func(a *domain.Account) error {
		a.Available += amount
		return nil
	})
	if err != nil {
		return err
	}
	sup.Deposited += amount
	return l.tx.PutSupply(sup)
}

// Withdraw removes amount from addr's available balance.
func (l *Ledger) Withdraw(addr common.Address, amount uint64) error {
	if amount == 0 {
		return domain.ErrZeroAmount
	}
	err := l.apply(domain.EventWithdraw, addr, amount, common.Hash{}, func(a *domain.Account) error {
		if a.Available < amount {
			return fmt.Errorf("withdraw %d from %s (available %d): %w",
				amount, addr.Hex(), a.Available, domain.ErrInsufficientBalance)
		}
		a.Available -= amount
		return nil
	})
	if err != nil {
		return err
	}
	sup, err := l.tx.Supply()
	if err != nil {
		return fmt.Errorf("read supply: %w", err)
	}
	sup.Withdrawn += amount
	return l.tx.PutSupply(sup)
}

// apply loads the account, mutates it, stores it, and records the event.
// A zero amount is a no-op and records nothing.
func (l *Ledger) apply(kind domain.EventKind, addr common.Address, amount uint64, ref common.Hash, mutate func(*domain.Account) error) error {
	if addr == (common.Address{}) {
		return fmt.Errorf("%s: %w", kind, domain.ErrZeroAddress)
	}
	if amount == 0 {
		return nil
	}
	acct, err := l.tx.Account(addr)
	if err != nil {
		return fmt.Errorf("load account %s: %w", addr.Hex(), err)
	}
	acct.Address = addr
	if err := mutate(&acct); err != nil {
		return err
	}
	if err := l.tx.PutAccount(acct); err != nil {
		return fmt.Errorf("store account %s: %w", addr.Hex(), err)
	}
	l.rec.Record(domain.Event{
		Kind:    kind,
		Time:    l.now,
		Account: addr,
		Amount:  amount,
		Ref:     ref,
	})
	return nil
}
