package matcher

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutu-network/poco/internal/domain"
	"github.com/tutu-network/poco/internal/testutil"
)

func newMatcher(w *testutil.World) *Matcher {
	return New(w.Auth, w.Registry, w.Registry, w.Registry, w.Policy)
}

// match runs one Match in its own transaction.
func match(t *testing.T, w *testutil.World, set *domain.OrderSet, payer common.Address) (domain.Deal, domain.Events, error) {
	t.Helper()
	m := newMatcher(w)
	var (
		deal domain.Deal
		evs  domain.Events
	)
	err := w.Store.Update(context.Background(), func(tx domain.Tx) error {
		var err error
		deal, err = m.Match(tx, &evs, testutil.Start, set, payer)
		return err
	})
	return deal, evs, err
}

func consumed(t *testing.T, w *testutil.World, h common.Hash) uint64 {
	t.Helper()
	var v uint64
	require.NoError(t, w.Store.View(context.Background(), func(tx domain.Tx) error {
		var err error
		v, err = tx.Consumed(h)
		return err
	}))
	return v
}

// ─── Scenarios ──────────────────────────────────────────────────────────────

func TestBalancedMatch(t *testing.T) {
	w := testutil.NewWorld(t)
	w.Fund(t, w.Requester.Address(), 10_000_000_000)
	w.Fund(t, w.WorkerpoolOwner.Address(), 1_000_000_000)
	set := w.Orders(t, testutil.DefaultTerms())

	deal, evs, err := match(t, w, set, common.Address{})
	require.NoError(t, err)

	assert.Equal(t, uint64(0), deal.BotFirst)
	assert.Equal(t, uint64(2), deal.BotSize)
	assert.Equal(t, w.Requester.Address(), deal.Sponsor)
	assert.Equal(t, uint64(1_001_001_000), deal.TaskPrice())
	assert.Equal(t, uint64(950_000_000), deal.WorkerReward)
	assert.Equal(t, uint64(300_000_000), deal.SchedulerStake)
	assert.Equal(t, testutil.Start+300*7, deal.Deadline)
	assert.Equal(t, domain.DealID(deal.RequestOrderHash, 0), deal.ID)
	assert.Equal(t, w.AppOwner.Address(), deal.App.Owner)
	assert.Equal(t, w.DatasetOwner.Address(), deal.Dataset.Owner)

	req := w.Account(t, w.Requester.Address())
	assert.Equal(t, uint64(2_002_002_000), req.Frozen)
	assert.Equal(t, uint64(10_000_000_000-2_002_002_000), req.Available)

	wp := w.Account(t, w.WorkerpoolOwner.Address())
	assert.Equal(t, uint64(600_000_000), wp.Frozen)
	assert.Equal(t, uint64(400_000_000), wp.Available)

	for _, h := range []common.Hash{deal.AppOrderHash, deal.DatasetOrderHash, deal.WorkerpoolOrderHash, deal.RequestOrderHash} {
		assert.Equal(t, uint64(2), consumed(t, w, h))
	}

	last := evs[len(evs)-1]
	assert.Equal(t, domain.EventOrdersMatched, last.Kind)
	assert.Equal(t, uint64(2), last.Volume)
	assert.Len(t, last.OrderHashes, 4)
	assert.Equal(t, uint64(11_000_000_000), w.Total(t))
}

func TestPartialFillBatches(t *testing.T) {
	w := testutil.NewWorld(t)
	w.Fund(t, w.Requester.Address(), 100_000_000_000)
	w.Fund(t, w.WorkerpoolOwner.Address(), 100_000_000_000)

	terms := testutil.DefaultTerms()
	terms.RequestVolume = 5
	set := w.Orders(t, terms)

	first, _, err := match(t, w, set, common.Address{})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), first.BotFirst)
	assert.Equal(t, uint64(2), first.BotSize)

	// The app order is exhausted; a fresh one lets the request continue.
	_, _, err = match(t, w, set, common.Address{})
	require.ErrorIs(t, err, domain.ErrOrdersFullyConsumed)

	terms.AppVolume = 10
	set.App = w.Orders(t, terms).App

	second, _, err := match(t, w, set, common.Address{})
	require.NoError(t, err)
	assert.Equal(t, first.BotFirst+first.BotSize, second.BotFirst)
	assert.Equal(t, uint64(3), second.BotSize)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, uint64(5), consumed(t, w, second.RequestOrderHash))

	_, _, err = match(t, w, set, common.Address{})
	require.ErrorIs(t, err, domain.ErrOrdersFullyConsumed)
	assert.Equal(t, uint64(5), consumed(t, w, second.RequestOrderHash), "consumption never exceeds volume")
}

func TestZeroVolume(t *testing.T) {
	w := testutil.NewWorld(t)
	w.Fund(t, w.Requester.Address(), 10_000_000_000)
	w.Fund(t, w.WorkerpoolOwner.Address(), 1_000_000_000)
	terms := testutil.DefaultTerms()
	terms.AppVolume = 0
	set := w.Orders(t, terms)

	_, _, err := match(t, w, set, common.Address{})
	require.ErrorIs(t, err, domain.ErrOrdersFullyConsumed)

	assert.Equal(t, uint64(0), w.Account(t, w.Requester.Address()).Frozen)
	assert.Equal(t, uint64(0), w.Account(t, w.WorkerpoolOwner.Address()).Frozen)
	assert.Equal(t, uint64(0), consumed(t, w, w.Hasher.RequestOrder(&set.Request)))
}

func TestSponsoredMatch(t *testing.T) {
	w := testutil.NewWorld(t)
	sponsor := common.HexToAddress("0x5905")
	w.Fund(t, sponsor, 10_000_000_000)
	w.Fund(t, w.WorkerpoolOwner.Address(), 1_000_000_000)
	set := w.Orders(t, testutil.DefaultTerms())

	deal, evs, err := match(t, w, set, sponsor)
	require.NoError(t, err)
	assert.Equal(t, sponsor, deal.Sponsor)
	assert.Equal(t, uint64(2_002_002_000), w.Account(t, sponsor).Frozen)
	assert.Equal(t, uint64(0), w.Account(t, w.Requester.Address()).Frozen)
	assert.Equal(t, domain.EventDealSponsored, evs[len(evs)-1].Kind)
}

func TestNullDataset(t *testing.T) {
	w := testutil.NewWorld(t)
	w.Fund(t, w.Requester.Address(), 10_000_000_000)
	w.Fund(t, w.WorkerpoolOwner.Address(), 1_000_000_000)
	terms := testutil.DefaultTerms()
	terms.NoDataset = true
	set := w.Orders(t, terms)

	deal, _, err := match(t, w, set, common.Address{})
	require.NoError(t, err)
	assert.Equal(t, domain.Resource{}, deal.Dataset)
	assert.Equal(t, common.Hash{}, deal.DatasetOrderHash)
	assert.Equal(t, uint64(1_000_001_000), deal.TaskPrice())
}

func TestInsufficientBalanceRollsBack(t *testing.T) {
	w := testutil.NewWorld(t)
	w.Fund(t, w.Requester.Address(), 10_000_000_000)
	// workerpool owner cannot cover the stake
	set := w.Orders(t, testutil.DefaultTerms())

	_, _, err := match(t, w, set, common.Address{})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, uint64(0), w.Account(t, w.Requester.Address()).Frozen, "payer lock rolled back")
	assert.Equal(t, uint64(0), consumed(t, w, w.Hasher.AppOrder(&set.App)))
}

// ─── Rejections ─────────────────────────────────────────────────────────────

func TestRejections(t *testing.T) {
	stranger := common.HexToAddress("0x5757")
	tests := []struct {
		name   string
		mutate func(w *testutil.World, s *domain.OrderSet)
		want   error
	}{
		{"category mismatch", func(_ *testutil.World, s *domain.OrderSet) { s.Workerpool.Category = 1 }, domain.ErrCategoryMismatch},
		{"unknown category", func(_ *testutil.World, s *domain.OrderSet) { s.Workerpool.Category = 9; s.Request.Category = 9 }, domain.ErrUnknownCategory},
		{"app price", func(_ *testutil.World, s *domain.OrderSet) { s.Request.AppMaxPrice-- }, domain.ErrPriceTooHigh},
		{"dataset price", func(_ *testutil.World, s *domain.OrderSet) { s.Request.DatasetMaxPrice-- }, domain.ErrPriceTooHigh},
		{"workerpool price", func(_ *testutil.World, s *domain.OrderSet) { s.Request.WorkerpoolMaxPrice-- }, domain.ErrPriceTooHigh},
		{"tag not offered", func(_ *testutil.World, s *domain.OrderSet) { s.Request.Tag = domain.HexToTag("0x0100") }, domain.ErrTagMismatch},
		{"enclave not supported by app", func(_ *testutil.World, s *domain.OrderSet) {
			s.Request.Tag = domain.HexToTag("0x01")
			s.Workerpool.Tag = domain.HexToTag("0x01")
		}, domain.ErrTagMismatch},
		{"app address", func(w *testutil.World, s *domain.OrderSet) { s.Request.App = w.Dataset }, domain.ErrAddressMismatch},
		{"dataset address", func(_ *testutil.World, s *domain.OrderSet) { s.Request.Dataset = common.Address{} }, domain.ErrAddressMismatch},
		{"requested workerpool", func(_ *testutil.World, s *domain.OrderSet) { s.Request.Workerpool = stranger }, domain.ErrRestricted},
		{"app requester restrict", func(_ *testutil.World, s *domain.OrderSet) { s.App.RequesterRestrict = stranger }, domain.ErrRestricted},
		{"dataset app restrict", func(_ *testutil.World, s *domain.OrderSet) { s.Dataset.AppRestrict = stranger }, domain.ErrRestricted},
		{"workerpool dataset restrict", func(_ *testutil.World, s *domain.OrderSet) { s.Workerpool.DatasetRestrict = stranger }, domain.ErrRestricted},
		{"unknown app", func(_ *testutil.World, s *domain.OrderSet) { s.App.App = stranger; s.Request.App = stranger }, domain.ErrUnknownApp},
		{"request trust", func(_ *testutil.World, s *domain.OrderSet) { s.Request.Trust = 2 }, domain.ErrTrustTooHigh},
		{"workerpool trust", func(_ *testutil.World, s *domain.OrderSet) { s.Workerpool.Trust = 5 }, domain.ErrTrustTooHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := testutil.NewWorld(t)
			w.Fund(t, w.Requester.Address(), 10_000_000_000)
			w.Fund(t, w.WorkerpoolOwner.Address(), 1_000_000_000)
			set := w.Orders(t, testutil.DefaultTerms())
			tt.mutate(w, set)
			w.Sign(t, set)

			_, _, err := match(t, w, set, common.Address{})
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, uint64(0), w.Account(t, w.Requester.Address()).Frozen)
		})
	}
}

func TestTamperedOrderRejected(t *testing.T) {
	w := testutil.NewWorld(t)
	w.Fund(t, w.Requester.Address(), 10_000_000_000)
	w.Fund(t, w.WorkerpoolOwner.Address(), 1_000_000_000)
	set := w.Orders(t, testutil.DefaultTerms())
	set.Workerpool.Volume = 100 // not re-signed

	_, _, err := match(t, w, set, common.Address{})
	require.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestGroupRestriction(t *testing.T) {
	w := testutil.NewWorld(t)
	w.Fund(t, w.Requester.Address(), 10_000_000_000)
	w.Fund(t, w.WorkerpoolOwner.Address(), 1_000_000_000)
	group := common.HexToAddress("0x6a")
	require.NoError(t, w.Registry.AddGroup(group, w.Requester.Address()))

	set := w.Orders(t, testutil.DefaultTerms())
	set.App.RequesterRestrict = group
	w.Sign(t, set)

	_, _, err := match(t, w, set, common.Address{})
	require.NoError(t, err)
}

func TestPresignedOrder(t *testing.T) {
	w := testutil.NewWorld(t)
	w.Fund(t, w.Requester.Address(), 10_000_000_000)
	w.Fund(t, w.WorkerpoolOwner.Address(), 1_000_000_000)
	set := w.Orders(t, testutil.DefaultTerms())
	set.App.Sign = nil

	_, _, err := match(t, w, set, common.Address{})
	require.ErrorIs(t, err, domain.ErrInvalidSignature)

	require.NoError(t, w.Store.Update(context.Background(), func(tx domain.Tx) error {
		return tx.SetPresigned(w.Hasher.AppOrder(&set.App), w.AppOwner.Address())
	}))
	_, _, err = match(t, w, set, common.Address{})
	require.NoError(t, err)
}
