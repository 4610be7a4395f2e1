package domain

import (
	"fmt"
	"math/bits"

	"github.com/ethereum/go-ethereum/common"
)

// Policy holds the settlement constants. Ratios are percentages.
type Policy struct {
	// WorkerRewardRatio is the share of the workerpool price paid to the
	// worker; the remainder goes to the workerpool owner.
	WorkerRewardRatio uint64 `toml:"worker_reward_ratio" json:"worker_reward_ratio"`
	// WorkerpoolStakeRatio is the share of the workerpool price the
	// workerpool owner must lock per task.
	WorkerpoolStakeRatio uint64 `toml:"workerpool_stake_ratio" json:"workerpool_stake_ratio"`
	// KittyRatio and KittyMin size the kitty top-up paid on each result.
	KittyRatio uint64 `toml:"kitty_ratio" json:"kitty_ratio"`
	KittyMin   uint64 `toml:"kitty_min" json:"kitty_min"`
	// ContributionDeadlineRatio multiplies the category time reference.
	ContributionDeadlineRatio uint64 `toml:"contribution_deadline_ratio" json:"contribution_deadline_ratio"`

	KittyAddress common.Address `toml:"kitty_address" json:"kitty_address"`
	// Broker may authorize contributions on behalf of any workerpool.
	Broker common.Address `toml:"broker" json:"broker"`
}

// DefaultKittyAddress is the distinguished remainder-pool account.
var DefaultKittyAddress = common.HexToAddress("0x99c2268479b93fDe36232351229815DF80837e23")

// DefaultPolicy returns production defaults.
func DefaultPolicy() Policy {
	return Policy{
		WorkerRewardRatio:         95,
		WorkerpoolStakeRatio:      30,
		KittyRatio:                10,
		KittyMin:                  1_000_000_000,
		ContributionDeadlineRatio: 7,
		KittyAddress:              DefaultKittyAddress,
	}
}

// Validate checks that the policy can settle without creating value.
func (p Policy) Validate() error {
	if p.WorkerRewardRatio > 100 {
		return fmt.Errorf("worker_reward_ratio must be <= 100, got %d", p.WorkerRewardRatio)
	}
	if p.WorkerpoolStakeRatio > 100 {
		return fmt.Errorf("workerpool_stake_ratio must be <= 100, got %d", p.WorkerpoolStakeRatio)
	}
	if p.KittyRatio > 100 {
		return fmt.Errorf("kitty_ratio must be <= 100, got %d", p.KittyRatio)
	}
	if p.ContributionDeadlineRatio == 0 {
		return fmt.Errorf("contribution_deadline_ratio must be positive")
	}
	if p.KittyAddress == (common.Address{}) {
		return fmt.Errorf("kitty_address: %w", ErrZeroAddress)
	}
	return nil
}

// Percent returns amount * ratio / 100, failing on overflow.
func Percent(amount, ratio uint64) (uint64, error) {
	v, err := Mul(amount, ratio)
	if err != nil {
		return 0, err
	}
	return v / 100, nil
}

// Mul returns a * b, failing on overflow.
func Mul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

// Add returns a + b, failing on overflow.
func Add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}
