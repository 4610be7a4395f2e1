// Package settlement accepts task results and pays every party of the deal.
package settlement

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/tutu-network/poco/internal/app/escrow"
	"github.com/tutu-network/poco/internal/domain"
	"github.com/tutu-network/poco/internal/security"
)

// PushArgs is a result submission.
type PushArgs struct {
	DealID common.Hash
	Index  uint64
	// Worker is the submitting identity; the contribution authorization
	// must name it and WorkerSign must be its signature over the result.
	Worker          common.Address
	Results         []byte
	ResultsCallback []byte
	// Authorization is the workerpool owner's (or broker's) signature over
	// the contribution hash.
	Authorization []byte
	Enclave       common.Address
	EnclaveSign   []byte
	// WorkerSign is the worker's signature over
	// security.ResultHash(taskID, resultDigest).
	WorkerSign []byte
}

// Settler validates result submissions and applies the reward split.
type Settler struct {
	auth   *security.Authenticator
	policy domain.Policy
}

// New creates a settler.
func New(auth *security.Authenticator, policy domain.Policy) *Settler {
	return &Settler{auth: auth, policy: policy}
}

// Push completes one task. On success the returned task is Completed and
// every balance movement has been applied to tx. Forwarding the result to
// the deal's callback target is left to the caller, after commit.
func (s *Settler) Push(tx domain.Tx, rec domain.Recorder, now uint64, args PushArgs) (domain.Task, domain.Deal, error) {
	deal, err := tx.Deal(args.DealID)
	if err != nil {
		return domain.Task{}, domain.Deal{}, fmt.Errorf("deal %s: %w", args.DealID.Hex(), err)
	}
	task, err := Pending(tx, &deal, args.Index)
	if err != nil {
		return domain.Task{}, deal, err
	}
	if now >= deal.Deadline {
		return domain.Task{}, deal, fmt.Errorf("task %s at %d, deadline %d: %w", task.ID.Hex(), now, deal.Deadline, domain.ErrDeadlineReached)
	}
	if args.Worker == (common.Address{}) {
		return domain.Task{}, deal, fmt.Errorf("worker: %w", domain.ErrZeroAddress)
	}

	// ─── Authorization ──────────────────────────────────────────────
	digest, err := resultDigest(&deal, args)
	if err != nil {
		return domain.Task{}, deal, err
	}
	if deal.Tag.RequiresEnclave() {
		h := security.EnclaveHash(args.Worker, task.ID, digest)
		if args.Enclave == (common.Address{}) || !s.auth.CheckDetached(args.Enclave, h, args.EnclaveSign) {
			return domain.Task{}, deal, fmt.Errorf("task %s: %w", task.ID.Hex(), domain.ErrInvalidEnclave)
		}
	} else if args.Enclave != (common.Address{}) {
		return domain.Task{}, deal, fmt.Errorf("task %s: enclave given for a non-enclave deal: %w", task.ID.Hex(), domain.ErrInvalidEnclave)
	}
	if !s.authorized(&deal, security.ContributionHash(args.Worker, task.ID, args.Enclave), args.Authorization) {
		return domain.Task{}, deal, fmt.Errorf("task %s worker %s: %w", task.ID.Hex(), args.Worker.Hex(), domain.ErrUnauthorizedContribution)
	}
	if !s.auth.CheckDetached(args.Worker, security.ResultHash(task.ID, digest), args.WorkerSign) {
		return domain.Task{}, deal, fmt.Errorf("task %s worker %s: %w", task.ID.Hex(), args.Worker.Hex(), domain.ErrInvalidWorkerSignature)
	}

	// ─── Rewards ────────────────────────────────────────────────────
	ledger := escrow.New(tx, rec, now)
	if err := s.pay(ledger, &deal, task.ID, args.Worker); err != nil {
		return domain.Task{}, deal, err
	}

	task.Status = domain.TaskCompleted
	task.Worker = args.Worker
	task.ResultDigest = digest
	task.Results = args.Results
	task.ResultsCallback = args.ResultsCallback
	task.FinalizedAt = now
	if err := Finalize(tx, &deal, task); err != nil {
		return domain.Task{}, deal, err
	}

	rec.Record(domain.Event{
		Kind:         domain.EventResultAccepted,
		Time:         now,
		Account:      args.Worker,
		Ref:          task.ID,
		DealID:       deal.ID,
		TaskID:       task.ID,
		ResultDigest: digest,
	})
	return task, deal, nil
}

// pay moves the task price from the payer to the app owner, dataset owner,
// worker, and workerpool owner, and returns the workerpool owner's stake.
func (s *Settler) pay(l *escrow.Ledger, deal *domain.Deal, taskID common.Hash, worker common.Address) error {
	if err := l.Seize(deal.Sponsor, deal.TaskPrice(), taskID); err != nil {
		return fmt.Errorf("seize task price: %w", err)
	}
	if err := l.Reward(deal.App.Owner, deal.App.Price, taskID); err != nil {
		return fmt.Errorf("reward app owner: %w", err)
	}
	if deal.Dataset.Owner != (common.Address{}) {
		if err := l.Reward(deal.Dataset.Owner, deal.Dataset.Price, taskID); err != nil {
			return fmt.Errorf("reward dataset owner: %w", err)
		}
	}
	if err := l.Reward(worker, deal.WorkerReward, taskID); err != nil {
		return fmt.Errorf("reward worker: %w", err)
	}
	if err := l.Unlock(deal.Workerpool.Owner, deal.SchedulerStake, taskID); err != nil {
		return fmt.Errorf("unlock scheduler stake: %w", err)
	}

	schedulerReward := deal.Workerpool.Price - deal.WorkerReward
	bonus, err := s.kittyTopUp(l)
	if err != nil {
		return err
	}
	if bonus > 0 {
		if err := l.Seize(s.policy.KittyAddress, bonus, taskID); err != nil {
			return fmt.Errorf("seize kitty: %w", err)
		}
		if schedulerReward, err = domain.Add(schedulerReward, bonus); err != nil {
			return fmt.Errorf("scheduler reward: %w", err)
		}
	}
	if err := l.Reward(deal.Workerpool.Owner, schedulerReward, taskID); err != nil {
		return fmt.Errorf("reward scheduler: %w", err)
	}
	return nil
}

// kittyTopUp sizes the share of the kitty paid to the scheduler. Nothing is
// paid until the kitty holds more than KittyMin.
func (s *Settler) kittyTopUp(l *escrow.Ledger) (uint64, error) {
	kitty, err := l.Account(s.policy.KittyAddress)
	if err != nil {
		return 0, fmt.Errorf("read kitty: %w", err)
	}
	if kitty.Frozen <= s.policy.KittyMin {
		return 0, nil
	}
	share, err := domain.Percent(kitty.Frozen, s.policy.KittyRatio)
	if err != nil {
		return 0, fmt.Errorf("kitty share: %w", err)
	}
	return min(max(share, s.policy.KittyMin), kitty.Frozen), nil
}

// authorized accepts a contribution signed by the workerpool owner or, when
// one is configured, by the broker.
func (s *Settler) authorized(deal *domain.Deal, h common.Hash, sig []byte) bool {
	if s.auth.CheckDetached(deal.Workerpool.Owner, h, sig) {
		return true
	}
	return s.policy.Broker != (common.Address{}) && s.auth.CheckDetached(s.policy.Broker, h, sig)
}

// resultDigest hashes the callback payload when the deal has a callback
// target, the results otherwise.
func resultDigest(deal *domain.Deal, args PushArgs) (common.Hash, error) {
	if deal.HasCallback() {
		if len(args.ResultsCallback) == 0 {
			return common.Hash{}, fmt.Errorf("deal %s: %w", deal.ID.Hex(), domain.ErrEmptyCallback)
		}
		return crypto.Keccak256Hash(args.ResultsCallback), nil
	}
	return crypto.Keccak256Hash(args.Results), nil
}

// Finalize stores a task that just reached a terminal state and counts it
// against its deal.
func Finalize(tx domain.Tx, deal *domain.Deal, task domain.Task) error {
	if err := tx.PutTask(task); err != nil {
		return fmt.Errorf("store task: %w", err)
	}
	deal.Finalized++
	if err := tx.PutDeal(*deal); err != nil {
		return fmt.Errorf("store deal: %w", err)
	}
	return nil
}

// Pending returns the task at index if it is still Unset. It is shared with
// the claim path, which has the same preconditions.
func Pending(tx domain.Tx, deal *domain.Deal, index uint64) (domain.Task, error) {
	if !deal.Contains(index) {
		return domain.Task{}, fmt.Errorf("index %d not in [%d, %d): %w",
			index, deal.BotFirst, deal.BotFirst+deal.BotSize, domain.ErrTaskIndexOutOfRange)
	}
	task, ok, err := tx.Task(domain.TaskID(deal.ID, index))
	if err != nil {
		return domain.Task{}, fmt.Errorf("read task: %w", err)
	}
	if !ok {
		return domain.UnsetTask(deal.ID, index), nil
	}
	if task.Status != domain.TaskUnset {
		return domain.Task{}, fmt.Errorf("task %s is %s: %w", task.ID.Hex(), task.Status, domain.ErrTaskNotUnset)
	}
	return task, nil
}
