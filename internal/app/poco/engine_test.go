package poco

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutu-network/poco/internal/app/callback"
	"github.com/tutu-network/poco/internal/domain"
	"github.com/tutu-network/poco/internal/infra/clock"
	"github.com/tutu-network/poco/internal/infra/eventbus"
	"github.com/tutu-network/poco/internal/testutil"
)

type fixture struct {
	*testutil.World
	engine    *Engine
	clock     *clock.Manual
	consumers *callback.Registry
	bus       *eventbus.Bus
}

func newFixture(t testing.TB) *fixture {
	t.Helper()
	return newFixtureWith(t, testutil.NewWorld(t))
}

func newFixtureWith(t testing.TB, w *testutil.World) *fixture {
	t.Helper()
	f := &fixture{
		World:     w,
		clock:     clock.NewManual(testutil.Start),
		consumers: callback.NewRegistry(),
		bus:       eventbus.New(nil),
	}
	e, err := New(Config{
		Store:      w.Store,
		Clock:      f.clock,
		Hasher:     w.Hasher,
		Assets:     w.Registry,
		Categories: w.Registry,
		Groups:     w.Registry,
		Signatures: w.Registry,
		Policy:     w.Policy,
		Publisher:  f.bus,
		Forwarder:  callback.NewForwarder(f.consumers, 0, nil),
	})
	require.NoError(t, err)
	f.engine = e
	return f
}

func (f *fixture) match(t testing.TB, set *domain.OrderSet) (common.Hash, error) {
	t.Helper()
	return f.engine.MatchOrders(context.Background(), &set.App, &set.Dataset, &set.Workerpool, &set.Request)
}

func (f *fixture) push(t testing.TB, dealID common.Hash, index uint64, callbackPayload []byte) error {
	t.Helper()
	return f.engine.PushResult(context.Background(), PushResultArgs{
		DealID:          dealID,
		Index:           index,
		Worker:          f.Worker.Address(),
		Results:         []byte("result"),
		ResultsCallback: callbackPayload,
		Authorization:   f.Contribution(t, domain.TaskID(dealID, index), common.Address{}),
		WorkerSign:      f.ResultSign(t, domain.TaskID(dealID, index), resultPayload(callbackPayload)),
	})
}

// resultPayload is what the digest of a push covers: the callback payload
// when there is one, the fixed results otherwise.
func resultPayload(callbackPayload []byte) []byte {
	if len(callbackPayload) > 0 {
		return callbackPayload
	}
	return []byte("result")
}

func TestCheckInvariants_LargeFreeDeal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const volume = uint64(1) << 62
	terms := testutil.Terms{
		AppVolume:        volume,
		WorkerpoolVolume: volume,
		RequestVolume:    volume,
		NoDataset:        true,
	}
	dealID, err := f.match(t, f.Orders(t, terms))
	require.NoError(t, err)
	deal, err := f.engine.Deal(ctx, dealID)
	require.NoError(t, err)
	require.Equal(t, volume, deal.BotSize)

	check := func() {
		t.Helper()
		done := make(chan error, 1)
		go func() { done <- f.engine.CheckInvariants(ctx) }()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("CheckInvariants did not return for a large deal")
		}
	}
	check()

	require.NoError(t, f.push(t, dealID, 0, nil))
	f.clock.Set(deal.Deadline)
	require.NoError(t, f.engine.Claim(ctx, dealID, volume-1))
	check()

	deal, err = f.engine.Deal(ctx, dealID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), deal.Finalized)
	assert.Equal(t, volume-2, deal.Open())
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	w := testutil.NewWorld(t)
	bad := w.Policy
	bad.KittyAddress = common.Address{}
	_, err = New(Config{Store: w.Store, Clock: clock.System{}, Hasher: w.Hasher, Assets: w.Registry, Categories: w.Registry, Policy: bad})
	assert.ErrorIs(t, err, domain.ErrZeroAddress)
}

// ─── Scenarios ──────────────────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var published []domain.Event
	require.NoError(t, f.bus.SubscribeBatch(func(es []domain.Event) { published = append(published, es...) }))

	require.NoError(t, f.engine.Deposit(ctx, f.Requester.Address(), 10_000_000_000))
	require.NoError(t, f.engine.Deposit(ctx, f.WorkerpoolOwner.Address(), 1_000_000_000))

	dealID, err := f.match(t, f.Orders(t, testutil.DefaultTerms()))
	require.NoError(t, err)
	require.NoError(t, f.engine.CheckInvariants(ctx))

	deal, err := f.engine.Deal(ctx, dealID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), deal.BotSize)
	require.NotEmpty(t, published)
	assert.Equal(t, domain.EventOrdersMatched, published[len(published)-1].Kind)
	assert.NotEmpty(t, published[0].ID)

	// task 0 completes before the deadline
	require.NoError(t, f.push(t, dealID, 0, nil))
	require.NoError(t, f.engine.CheckInvariants(ctx))
	task, err := f.engine.TaskAt(ctx, dealID, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCompleted, task.Status)
	byID, err := f.engine.Task(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task, byID)

	// task 1 cannot be claimed yet
	require.ErrorIs(t, f.engine.Claim(ctx, dealID, 1), domain.ErrDeadlineNotReached)
	open, err := f.engine.TaskAt(ctx, dealID, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskUnset, open.Status)
	_, err = f.engine.Task(ctx, open.ID)
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)

	f.clock.Set(deal.Deadline)
	require.ErrorIs(t, f.push(t, dealID, 1, nil), domain.ErrDeadlineReached)
	require.NoError(t, f.engine.Claim(ctx, dealID, 1))
	require.ErrorIs(t, f.engine.Claim(ctx, dealID, 1), domain.ErrTaskNotUnset)
	require.ErrorIs(t, f.engine.Claim(ctx, dealID, 0), domain.ErrTaskNotUnset)
	require.NoError(t, f.engine.CheckInvariants(ctx))

	kitty, err := f.engine.Kitty(ctx)
	require.NoError(t, err)
	assert.Equal(t, deal.SchedulerStake, kitty.Frozen)

	req, err := f.engine.Account(ctx, f.Requester.Address())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), req.Frozen)
	assert.Equal(t, uint64(10_000_000_000-1_001_001_000), req.Available)

	evs, err := f.engine.Events(ctx, 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, len(published), len(evs), "journal matches what was published")
}

func TestZeroVolumeLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.Deposit(ctx, f.Requester.Address(), 10_000_000_000))
	before, err := f.engine.Events(ctx, 0, 100)
	require.NoError(t, err)

	terms := testutil.DefaultTerms()
	terms.RequestVolume = 0
	set := f.Orders(t, terms)
	_, err = f.match(t, set)
	require.ErrorIs(t, err, domain.ErrOrdersFullyConsumed)
	assert.Equal(t, domain.ClassResource, domain.Classify(err))

	after, err := f.engine.Events(ctx, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	c, err := f.engine.Consumed(ctx, f.Hasher.AppOrder(&set.App))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), c)
	require.NoError(t, f.engine.CheckInvariants(ctx))
}

func TestSponsorMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sponsor := common.HexToAddress("0x5905")
	require.NoError(t, f.engine.Deposit(ctx, sponsor, 10_000_000_000))
	require.NoError(t, f.engine.Deposit(ctx, f.WorkerpoolOwner.Address(), 1_000_000_000))
	set := f.Orders(t, testutil.DefaultTerms())

	_, err := f.engine.SponsorMatchOrders(ctx, common.Address{}, &set.App, &set.Dataset, &set.Workerpool, &set.Request)
	require.ErrorIs(t, err, domain.ErrZeroAddress)

	dealID, err := f.engine.SponsorMatchOrders(ctx, sponsor, &set.App, &set.Dataset, &set.Workerpool, &set.Request)
	require.NoError(t, err)
	deal, err := f.engine.Deal(ctx, dealID)
	require.NoError(t, err)
	assert.Equal(t, sponsor, deal.Sponsor)
	assert.Equal(t, f.Requester.Address(), deal.Requester)

	f.clock.Set(deal.Deadline)
	require.NoError(t, f.engine.Claim(ctx, dealID, 0))
	acct, err := f.engine.Account(ctx, sponsor)
	require.NoError(t, err)
	assert.Equal(t, deal.TaskPrice(), acct.Frozen, "one task still escrowed")
	require.NoError(t, f.engine.CheckInvariants(ctx))
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	addr := f.Requester.Address()
	require.NoError(t, f.engine.Deposit(ctx, addr, 100))
	require.ErrorIs(t, f.engine.Withdraw(ctx, addr, 101), domain.ErrInsufficientBalance)
	require.NoError(t, f.engine.Withdraw(ctx, addr, 60))
	require.ErrorIs(t, f.engine.Deposit(ctx, addr, 0), domain.ErrZeroAmount)

	acct, err := f.engine.Account(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), acct.Available)
	require.NoError(t, f.engine.CheckInvariants(ctx))
}

// ─── Callbacks ──────────────────────────────────────────────────────────────

func TestCallbackForwardedAfterCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := common.HexToAddress("0xca11")

	var (
		mu  sync.Mutex
		got []byte
	)
	f.consumers.Register(target, callback.ConsumerFunc(func(ctx context.Context, taskID, _ common.Hash, payload []byte) error {
		// the task is already committed when the consumer runs
		task, err := f.engine.Task(ctx, taskID)
		if err != nil || task.Status != domain.TaskCompleted {
			return errors.New("task not committed")
		}
		mu.Lock()
		got = payload
		mu.Unlock()
		return nil
	}))

	require.NoError(t, f.engine.Deposit(ctx, f.Requester.Address(), 10_000_000_000))
	require.NoError(t, f.engine.Deposit(ctx, f.WorkerpoolOwner.Address(), 1_000_000_000))
	terms := testutil.DefaultTerms()
	terms.Callback = target
	dealID, err := f.match(t, f.Orders(t, terms))
	require.NoError(t, err)

	require.ErrorIs(t, f.push(t, dealID, 0, nil), domain.ErrEmptyCallback)
	require.NoError(t, f.push(t, dealID, 0, []byte("callback-data")))
	f.engine.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []byte("callback-data"), got)
}

func TestFailingCallbackDoesNotBlockSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := common.HexToAddress("0xbad")
	f.consumers.Register(target, callback.ConsumerFunc(func(context.Context, common.Hash, common.Hash, []byte) error {
		panic("hostile consumer")
	}))

	require.NoError(t, f.engine.Deposit(ctx, f.Requester.Address(), 10_000_000_000))
	require.NoError(t, f.engine.Deposit(ctx, f.WorkerpoolOwner.Address(), 1_000_000_000))
	terms := testutil.DefaultTerms()
	terms.Callback = target
	dealID, err := f.match(t, f.Orders(t, terms))
	require.NoError(t, err)

	require.NoError(t, f.push(t, dealID, 1, []byte{1}))
	f.engine.Close()
	task, err := f.engine.TaskAt(ctx, dealID, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCompleted, task.Status)
	require.NoError(t, f.engine.CheckInvariants(ctx))
}

func TestCloseStopsForwarding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := common.HexToAddress("0xca11")
	var calls sync.WaitGroup
	delivered := make(chan common.Hash, 4)
	f.consumers.Register(target, callback.ConsumerFunc(func(_ context.Context, taskID, _ common.Hash, _ []byte) error {
		defer calls.Done()
		delivered <- taskID
		return nil
	}))

	require.NoError(t, f.engine.Deposit(ctx, f.Requester.Address(), 10_000_000_000))
	require.NoError(t, f.engine.Deposit(ctx, f.WorkerpoolOwner.Address(), 1_000_000_000))
	terms := testutil.DefaultTerms()
	terms.Callback = target
	dealID, err := f.match(t, f.Orders(t, terms))
	require.NoError(t, err)

	calls.Add(1)
	require.NoError(t, f.push(t, dealID, 0, []byte("first")))
	f.engine.Close()
	assert.Len(t, delivered, 1, "Close waits for the in-flight forward")

	// settled after Close, never forwarded
	require.NoError(t, f.push(t, dealID, 1, []byte("second")))
	f.engine.Close()
	calls.Wait()
	assert.Len(t, delivered, 1)
	task, err := f.engine.TaskAt(ctx, dealID, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCompleted, task.Status)
}

// ─── Order Management ───────────────────────────────────────────────────────

func TestManageOrderPresign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.Deposit(ctx, f.Requester.Address(), 10_000_000_000))
	require.NoError(t, f.engine.Deposit(ctx, f.WorkerpoolOwner.Address(), 1_000_000_000))
	set := f.Orders(t, testutil.DefaultTerms())
	set.Request.Sign = nil

	args := domain.OrderOperationArgs{Operation: domain.OpSign, Kind: domain.KindRequest, Request: &set.Request}
	_, err := f.engine.ManageOrder(ctx, f.AppOwner.Address(), args)
	require.ErrorIs(t, err, domain.ErrNotOrderSigner)

	_, err = f.match(t, set)
	require.ErrorIs(t, err, domain.ErrInvalidSignature)

	hash, err := f.engine.ManageOrder(ctx, f.Requester.Address(), args)
	require.NoError(t, err)
	assert.Equal(t, f.Hasher.RequestOrder(&set.Request), hash)

	_, err = f.match(t, set)
	require.NoError(t, err)
}

func TestManageOrderClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.Deposit(ctx, f.Requester.Address(), 10_000_000_000))
	require.NoError(t, f.engine.Deposit(ctx, f.WorkerpoolOwner.Address(), 1_000_000_000))
	set := f.Orders(t, testutil.DefaultTerms())

	hash, err := f.engine.ManageOrder(ctx, f.WorkerpoolOwner.Address(), domain.OrderOperationArgs{
		Operation:  domain.OpClose,
		Kind:       domain.KindWorkerpool,
		Workerpool: &set.Workerpool,
	})
	require.NoError(t, err)
	c, err := f.engine.Consumed(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, set.Workerpool.Volume, c)

	_, err = f.match(t, set)
	require.ErrorIs(t, err, domain.ErrOrdersFullyConsumed)
}

func TestManageOrderRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	set := f.Orders(t, testutil.DefaultTerms())
	tests := []struct {
		name string
		args domain.OrderOperationArgs
		want error
	}{
		{"unknown operation", domain.OrderOperationArgs{Operation: "burn", Kind: domain.KindApp, App: &set.App}, domain.ErrUnknownOperation},
		{"missing order", domain.OrderOperationArgs{Operation: domain.OpSign, Kind: domain.KindDataset}, domain.ErrUnknownOperation},
		{"unknown kind", domain.OrderOperationArgs{Operation: domain.OpSign, Kind: "deal"}, domain.ErrUnknownOperation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.ManageOrder(ctx, f.AppOwner.Address(), tt.args)
			require.ErrorIs(t, err, tt.want)
		})
	}
}
