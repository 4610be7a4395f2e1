package domain

import "github.com/ethereum/go-ethereum/common"

// Account is an escrow ledger account. Available is spendable; Frozen is
// locked against a future settlement or claim.
type Account struct {
	Address   common.Address `json:"address"`
	Available uint64         `json:"available"`
	Frozen    uint64         `json:"frozen"`
}

// Total returns available + frozen, reporting overflow.
func (a Account) Total() (uint64, bool) {
	sum := a.Available + a.Frozen
	return sum, sum >= a.Available
}

// Supply tracks value injected into and removed from the ledger. The sum of
// every account's Total must always equal Deposited - Withdrawn.
type Supply struct {
	Deposited uint64 `json:"deposited"`
	Withdrawn uint64 `json:"withdrawn"`
}

// Outstanding is the value currently held by the ledger.
func (s Supply) Outstanding() uint64 { return s.Deposited - s.Withdrawn }

// Asset is a registered app, dataset, or workerpool.
type Asset struct {
	Address common.Address `json:"address" toml:"address"`
	Owner   common.Address `json:"owner" toml:"owner"`
}
