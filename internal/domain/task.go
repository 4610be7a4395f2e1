package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// ─── Deal ───────────────────────────────────────────────────────────────────

// Resource is one priced leg of a deal as resolved at match time.
type Resource struct {
	Pointer common.Address `json:"pointer"`
	Owner   common.Address `json:"owner"`
	Price   uint64         `json:"price"`
}

// Deal is the record produced by one successful match. It covers the task
// indexes [BotFirst, BotFirst+BotSize) of its request order.
type Deal struct {
	ID          common.Hash    `json:"id"`
	App         Resource       `json:"app"`
	Dataset     Resource       `json:"dataset"`
	Workerpool  Resource       `json:"workerpool"`
	Trust       uint64         `json:"trust"`
	Category    uint64         `json:"category"`
	Tag         Tag            `json:"tag"`
	Requester   common.Address `json:"requester"`
	Beneficiary common.Address `json:"beneficiary"`
	Callback    common.Address `json:"callback"`
	Params      string         `json:"params"`
	StartTime   uint64         `json:"start_time"`
	Deadline    uint64         `json:"deadline"`
	BotFirst    uint64         `json:"bot_first"`
	BotSize     uint64         `json:"bot_size"`
	// Finalized counts tasks of the bot that completed or failed.
	Finalized uint64 `json:"finalized"`

	// Per-task amounts fixed at match time.
	WorkerReward   uint64 `json:"worker_reward"`
	SchedulerStake uint64 `json:"scheduler_stake"`

	// Sponsor is the account that paid; equals Requester unless sponsored.
	Sponsor common.Address `json:"sponsor"`

	AppOrderHash        common.Hash `json:"app_order_hash"`
	DatasetOrderHash    common.Hash `json:"dataset_order_hash"`
	WorkerpoolOrderHash common.Hash `json:"workerpool_order_hash"`
	RequestOrderHash    common.Hash `json:"request_order_hash"`
}

// TaskPrice is what the payer escrowed for one task.
func (d *Deal) TaskPrice() uint64 {
	return d.App.Price + d.Dataset.Price + d.Workerpool.Price
}

// Contains reports whether index falls inside the deal's bot.
func (d *Deal) Contains(index uint64) bool {
	return index >= d.BotFirst && index-d.BotFirst < d.BotSize
}

// Open is the number of tasks of the bot still unset.
func (d *Deal) Open() uint64 { return d.BotSize - d.Finalized }

// HasCallback reports whether results must be forwarded to a consumer.
func (d *Deal) HasCallback() bool { return d.Callback != (common.Address{}) }

// DealID derives a deal identifier from the request order hash and the number
// of tasks already consumed against that request order.
func DealID(requestHash common.Hash, botFirst uint64) common.Hash {
	return crypto.Keccak256Hash(requestHash.Bytes(), word(botFirst))
}

// TaskID derives a task identifier from its deal and absolute index.
func TaskID(dealID common.Hash, index uint64) common.Hash {
	return crypto.Keccak256Hash(dealID.Bytes(), word(index))
}

func word(v uint64) []byte {
	return math.U256Bytes(new(big.Int).SetUint64(v))
}

// ─── Task ───────────────────────────────────────────────────────────────────

// TaskStatus tracks task lifecycle. Unset is the implicit state of every
// task that has neither completed nor been claimed.
type TaskStatus string

const (
	TaskUnset     TaskStatus = "UNSET"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
)

// Task is one unit of work within a deal.
type Task struct {
	ID              common.Hash    `json:"id"`
	DealID          common.Hash    `json:"deal_id"`
	Index           uint64         `json:"index"`
	Status          TaskStatus     `json:"status"`
	Worker          common.Address `json:"worker"`
	ResultDigest    common.Hash    `json:"result_digest"`
	Results         hexutil.Bytes  `json:"results,omitempty"`
	ResultsCallback hexutil.Bytes  `json:"results_callback,omitempty"`
	FinalizedAt     uint64         `json:"finalized_at,omitempty"`
}

// IsTerminal returns true if the task has reached a final state.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskCompleted || t.Status == TaskFailed
}

// UnsetTask is the zero record returned for a task never touched.
func UnsetTask(dealID common.Hash, index uint64) Task {
	return Task{
		ID:     TaskID(dealID, index),
		DealID: dealID,
		Index:  index,
		Status: TaskUnset,
	}
}

// ─── Category ───────────────────────────────────────────────────────────────

// Category sizes task deadlines.
type Category struct {
	ID               uint64 `json:"id" toml:"id"`
	Name             string `json:"name" toml:"name"`
	WorkClockTimeRef uint64 `json:"work_clock_time_ref" toml:"work_clock_time_ref"`
}
