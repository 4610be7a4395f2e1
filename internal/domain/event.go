package domain

import "github.com/ethereum/go-ethereum/common"

// EventKind names a ledger event for observers and indexers.
type EventKind string

const (
	EventOrdersMatched  EventKind = "orders_matched"
	EventDealSponsored  EventKind = "deal_sponsored"
	EventResultAccepted EventKind = "result_accepted"
	EventTaskFailed     EventKind = "task_failed"
	EventOrderSigned    EventKind = "order_signed"
	EventOrderClosed    EventKind = "order_closed"

	// Balance deltas
	EventLock     EventKind = "lock"
	EventUnlock   EventKind = "unlock"
	EventSeize    EventKind = "seize"
	EventReward   EventKind = "reward"
	EventDeposit  EventKind = "deposit"
	EventWithdraw EventKind = "withdraw"
)

// IsBalanceDelta reports whether the kind describes an account movement.
func (k EventKind) IsBalanceDelta() bool {
	switch k {
	case EventLock, EventUnlock, EventSeize, EventReward, EventDeposit, EventWithdraw:
		return true
	}
	return false
}

// Event is a committed ledger fact. Fields not relevant to Kind are zero.
type Event struct {
	ID      string         `json:"id"`
	Kind    EventKind      `json:"kind"`
	Time    uint64         `json:"time"`
	Account common.Address `json:"account"`
	Amount  uint64         `json:"amount"`

	// Ref is the deal or task the event belongs to.
	Ref          common.Hash   `json:"ref"`
	DealID       common.Hash   `json:"deal_id"`
	TaskID       common.Hash   `json:"task_id"`
	OrderHashes  []common.Hash `json:"order_hashes,omitempty"`
	Volume       uint64        `json:"volume"`
	ResultDigest common.Hash   `json:"result_digest"`
}

// Recorder collects events raised while an operation runs. Events reach
// observers only after the operation commits.
type Recorder interface {
	Record(e Event)
}

// Events is a Recorder that keeps events in order.
type Events []Event

// Record appends e.
func (es *Events) Record(e Event) { *es = append(*es, e) }
