package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// Tx is a view of ledger state inside one atomic operation. Writes made
// through a Tx become visible to other operations only when the enclosing
// Store.Update returns nil.
type Tx interface {
	// Account returns the account, or a zero-balance account if unknown.
	Account(addr common.Address) (Account, error)
	PutAccount(a Account) error
	Accounts() ([]Account, error)

	// Consumed returns how much of an order's volume has been consumed.
	Consumed(orderHash common.Hash) (uint64, error)
	SetConsumed(orderHash common.Hash, consumed uint64) error

	// Presigned returns the signer that presigned the order hash, if any.
	Presigned(orderHash common.Hash) (common.Address, bool, error)
	SetPresigned(orderHash common.Hash, signer common.Address) error

	// Deal returns ErrDealNotFound if the deal does not exist.
	Deal(id common.Hash) (Deal, error)
	PutDeal(d Deal) error
	Deals() ([]Deal, error)

	// Task returns the stored task, or ok=false if the task is still unset.
	Task(id common.Hash) (Task, bool, error)
	PutTask(t Task) error

	Supply() (Supply, error)
	PutSupply(s Supply) error

	// AppendEvents journals committed events in order. Events returns up to
	// limit journaled events starting at offset.
	AppendEvents(events []Event) error
	Events(offset, limit int) ([]Event, error)
}

// Store owns all ledger state. Update runs fn in a single atomic
// transaction: if fn returns an error nothing it wrote is kept.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Clock supplies the logical time, in unix seconds, that deadlines are
// compared against.
type Clock interface {
	Now() uint64
}

// AssetRegistry resolves app, dataset, and workerpool identities and owners.
type AssetRegistry interface {
	App(addr common.Address) (Asset, bool)
	Dataset(addr common.Address) (Asset, bool)
	Workerpool(addr common.Address) (Asset, bool)
}

// CategoryRegistry resolves categories by id.
type CategoryRegistry interface {
	Category(id uint64) (Category, bool)
}

// GroupOracle answers whether account belongs to group.
type GroupOracle interface {
	IsMember(group, account common.Address) bool
}

// SignatureOracle validates detached signatures for contract-like signers.
type SignatureOracle interface {
	IsContract(addr common.Address) bool
	IsValidSignature(signer common.Address, hash common.Hash, signature []byte) bool
}

// ResultConsumer receives the result of a task whose deal registered a
// callback target.
type ResultConsumer interface {
	ReceiveResult(ctx context.Context, taskID, resultDigest common.Hash, payload []byte) error
}

// ConsumerResolver maps a callback address to its consumer.
type ConsumerResolver interface {
	Consumer(addr common.Address) (ResultConsumer, bool)
}

// EventPublisher fans committed events out to observers.
type EventPublisher interface {
	Publish(events []Event)
}
