// Package claim fails tasks whose deadline passed without a result. The
// payer is refunded and the workerpool owner's stake is forfeited to the
// kitty. Anyone may claim.
package claim

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tutu-network/poco/internal/app/escrow"
	"github.com/tutu-network/poco/internal/app/settlement"
	"github.com/tutu-network/poco/internal/domain"
)

// Claimer applies the timeout path.
type Claimer struct {
	kitty common.Address
}

// New creates a claimer crediting forfeited stakes to kitty.
func New(kitty common.Address) *Claimer {
	return &Claimer{kitty: kitty}
}

// Claim fails the task at index of dealID.
func (c *Claimer) Claim(tx domain.Tx, rec domain.Recorder, now uint64, dealID common.Hash, index uint64) (domain.Task, error) {
	deal, err := tx.Deal(dealID)
	if err != nil {
		return domain.Task{}, fmt.Errorf("deal %s: %w", dealID.Hex(), err)
	}
	task, err := settlement.Pending(tx, &deal, index)
	if err != nil {
		return domain.Task{}, err
	}
	if now < deal.Deadline {
		return domain.Task{}, fmt.Errorf("task %s at %d, deadline %d: %w", task.ID.Hex(), now, deal.Deadline, domain.ErrDeadlineNotReached)
	}

	l := escrow.New(tx, rec, now)
	if err := l.Unlock(deal.Sponsor, deal.TaskPrice(), task.ID); err != nil {
		return domain.Task{}, fmt.Errorf("refund payer: %w", err)
	}
	if err := l.Seize(deal.Workerpool.Owner, deal.SchedulerStake, task.ID); err != nil {
		return domain.Task{}, fmt.Errorf("seize scheduler stake: %w", err)
	}
	// The kitty's pool is its frozen balance.
	if err := l.Reward(c.kitty, deal.SchedulerStake, task.ID); err != nil {
		return domain.Task{}, fmt.Errorf("credit kitty: %w", err)
	}
	if err := l.Lock(c.kitty, deal.SchedulerStake, task.ID); err != nil {
		return domain.Task{}, fmt.Errorf("lock kitty: %w", err)
	}

	task.Status = domain.TaskFailed
	task.FinalizedAt = now
	if err := settlement.Finalize(tx, &deal, task); err != nil {
		return domain.Task{}, err
	}
	rec.Record(domain.Event{
		Kind:   domain.EventTaskFailed,
		Time:   now,
		Ref:    task.ID,
		DealID: deal.ID,
		TaskID: task.ID,
	})
	return task, nil
}
