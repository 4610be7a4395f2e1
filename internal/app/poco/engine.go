// Package poco is the settlement engine facade. It applies every mutating
// operation one at a time against a single store, commits all of an
// operation's effects or none, and publishes the operation's events only
// after commit.
package poco

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tutu-network/poco/internal/app/callback"
	"github.com/tutu-network/poco/internal/app/claim"
	"github.com/tutu-network/poco/internal/app/escrow"
	"github.com/tutu-network/poco/internal/app/matcher"
	"github.com/tutu-network/poco/internal/app/settlement"
	"github.com/tutu-network/poco/internal/domain"
	"github.com/tutu-network/poco/internal/infra/metrics"
	"github.com/tutu-network/poco/internal/security"
)

// PushResultArgs is a result submission.
type PushResultArgs = settlement.PushArgs

// Config wires an engine. Store, Clock, Hasher, Assets, and Categories are
// required.
type Config struct {
	Store      domain.Store
	Clock      domain.Clock
	Hasher     *security.Hasher
	Assets     domain.AssetRegistry
	Categories domain.CategoryRegistry
	Groups     domain.GroupOracle
	Signatures domain.SignatureOracle
	Policy     domain.Policy

	// Publisher receives committed events. Optional.
	Publisher domain.EventPublisher
	// Forwarder delivers results to callback targets. Optional; without it
	// callbacks are dropped with a warning.
	Forwarder *callback.Forwarder
	Log       *zap.Logger
}

// Engine serializes ledger operations.
type Engine struct {
	mu sync.Mutex

	store     domain.Store
	clock     domain.Clock
	auth      *security.Authenticator
	assets    domain.AssetRegistry
	policy    domain.Policy
	matcher   *matcher.Matcher
	settler   *settlement.Settler
	claimer   *claim.Claimer
	publisher domain.EventPublisher
	forwarder *callback.Forwarder
	log       *zap.Logger

	// callbacks tracks in-flight forwards so Close can wait for them. No
	// forward starts once closed is set; both are guarded by mu.
	callbacks sync.WaitGroup
	closed    bool
}

// New validates cfg and builds an engine.
func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("poco: store required")
	case cfg.Clock == nil:
		return nil, errors.New("poco: clock required")
	case cfg.Hasher == nil:
		return nil, errors.New("poco: hasher required")
	case cfg.Assets == nil || cfg.Categories == nil:
		return nil, errors.New("poco: asset and category registries required")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("poco: policy: %w", err)
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	auth := security.NewAuthenticator(cfg.Hasher, cfg.Signatures)
	return &Engine{
		store:     cfg.Store,
		clock:     cfg.Clock,
		auth:      auth,
		assets:    cfg.Assets,
		policy:    cfg.Policy,
		matcher:   matcher.New(auth, cfg.Assets, cfg.Categories, cfg.Groups, cfg.Policy),
		settler:   settlement.New(auth, cfg.Policy),
		claimer:   claim.New(cfg.Policy.KittyAddress),
		publisher: cfg.Publisher,
		forwarder: cfg.Forwarder,
		log:       log.Named("engine"),
	}, nil
}

// Policy returns the settlement constants in force.
func (e *Engine) Policy() domain.Policy { return e.policy }

// Hasher returns the order hasher.
func (e *Engine) Hasher() *security.Hasher { return e.auth.Hasher() }

// Close waits for in-flight callbacks. Results pushed afterwards are still
// settled but no longer forwarded. It does not close the store.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.callbacks.Wait()
}

// ─── Operation Runner ───────────────────────────────────────────────────────

// run executes fn under the engine lock inside one store transaction. The
// recorded events are journaled in the same transaction and published once
// it commits.
func (e *Engine) run(ctx context.Context, op string, fn func(tx domain.Tx, rec domain.Recorder, now uint64) error) (domain.Events, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	now := e.clock.Now()
	var evs domain.Events
	err := e.store.Update(ctx, func(tx domain.Tx) error {
		evs = nil
		if err := fn(tx, &evs, now); err != nil {
			return err
		}
		for i := range evs {
			evs[i].ID = uuid.NewString()
		}
		return tx.AppendEvents(evs)
	})
	metrics.OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		class := domain.Classify(err)
		metrics.Operations.WithLabelValues(op, string(class)).Inc()
		if class == domain.ClassInternal {
			e.log.Error("operation failed", zap.String("op", op), zap.Error(err))
		} else {
			e.log.Debug("operation rejected", zap.String("op", op), zap.String("class", string(class)), zap.Error(err))
		}
		return nil, err
	}
	metrics.Operations.WithLabelValues(op, "ok").Inc()
	if e.publisher != nil {
		e.publisher.Publish(evs)
	}
	return evs, nil
}

// ─── Matching ───────────────────────────────────────────────────────────────

// MatchOrders matches four orders into a deal paid by the requester.
func (e *Engine) MatchOrders(ctx context.Context, app *domain.AppOrder, dataset *domain.DatasetOrder, workerpool *domain.WorkerpoolOrder, request *domain.RequestOrder) (common.Hash, error) {
	return e.match(ctx, "match", common.Address{}, app, dataset, workerpool, request)
}

// SponsorMatchOrders matches four orders into a deal paid by sponsor.
func (e *Engine) SponsorMatchOrders(ctx context.Context, sponsor common.Address, app *domain.AppOrder, dataset *domain.DatasetOrder, workerpool *domain.WorkerpoolOrder, request *domain.RequestOrder) (common.Hash, error) {
	if sponsor == (common.Address{}) {
		return common.Hash{}, fmt.Errorf("sponsor: %w", domain.ErrZeroAddress)
	}
	return e.match(ctx, "sponsor_match", sponsor, app, dataset, workerpool, request)
}

func (e *Engine) match(ctx context.Context, op string, payer common.Address, app *domain.AppOrder, dataset *domain.DatasetOrder, workerpool *domain.WorkerpoolOrder, request *domain.RequestOrder) (common.Hash, error) {
	set := &domain.OrderSet{App: *app, Workerpool: *workerpool, Request: *request}
	if dataset != nil {
		set.Dataset = *dataset
	}
	var deal domain.Deal
	_, err := e.run(ctx, op, func(tx domain.Tx, rec domain.Recorder, now uint64) error {
		var err error
		deal, err = e.matcher.Match(tx, rec, now, set, payer)
		return err
	})
	if err != nil {
		return common.Hash{}, err
	}
	e.log.Info("orders matched",
		zap.String("deal", deal.ID.Hex()),
		zap.Uint64("bot_first", deal.BotFirst),
		zap.Uint64("volume", deal.BotSize),
		zap.String("payer", deal.Sponsor.Hex()))
	return deal.ID, nil
}

// ─── Settlement ─────────────────────────────────────────────────────────────

// PushResult completes a task and pays the deal's parties. When the deal
// registered a callback target the result is forwarded after commit; the
// forward's outcome never affects the returned error.
func (e *Engine) PushResult(ctx context.Context, args PushResultArgs) error {
	var (
		task domain.Task
		deal domain.Deal
	)
	_, err := e.run(ctx, "push_result", func(tx domain.Tx, rec domain.Recorder, now uint64) error {
		var err error
		task, deal, err = e.settler.Push(tx, rec, now, args)
		return err
	})
	if err != nil {
		return err
	}
	e.log.Info("result accepted",
		zap.String("task", task.ID.Hex()),
		zap.String("worker", task.Worker.Hex()),
		zap.String("digest", task.ResultDigest.Hex()))
	e.observeKitty(ctx)

	if deal.HasCallback() {
		e.forward(callback.Delivery{
			Target:       deal.Callback,
			TaskID:       task.ID,
			ResultDigest: task.ResultDigest,
			Payload:      task.ResultsCallback,
		})
	}
	return nil
}

// forward delivers d on its own goroutine, outside the engine lock.
func (e *Engine) forward(d callback.Delivery) {
	if e.forwarder == nil {
		e.log.Warn("no callback forwarder configured, dropping result",
			zap.String("target", d.Target.Hex()), zap.String("task", d.TaskID.Hex()))
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.log.Warn("engine closed, dropping result",
			zap.String("target", d.Target.Hex()), zap.String("task", d.TaskID.Hex()))
		return
	}
	e.callbacks.Add(1)
	e.mu.Unlock()
	go func() {
		defer e.callbacks.Done()
		_ = e.forwarder.Forward(context.Background(), d)
	}()
}

// Claim fails a task whose deadline has passed. Anyone may call it.
func (e *Engine) Claim(ctx context.Context, dealID common.Hash, index uint64) error {
	var task domain.Task
	_, err := e.run(ctx, "claim", func(tx domain.Tx, rec domain.Recorder, now uint64) error {
		var err error
		task, err = e.claimer.Claim(tx, rec, now, dealID, index)
		return err
	})
	if err != nil {
		return err
	}
	e.log.Info("task claimed", zap.String("task", task.ID.Hex()), zap.String("deal", dealID.Hex()))
	e.observeKitty(ctx)
	return nil
}

func (e *Engine) observeKitty(ctx context.Context) {
	if k, err := e.Kitty(ctx); err == nil {
		metrics.KittyFrozen.Set(float64(k.Frozen))
	}
}

// ─── Funds ──────────────────────────────────────────────────────────────────

// Deposit credits amount to addr's available balance.
func (e *Engine) Deposit(ctx context.Context, addr common.Address, amount uint64) error {
	_, err := e.run(ctx, "deposit", func(tx domain.Tx, rec domain.Recorder, now uint64) error {
		return escrow.New(tx, rec, now).Deposit(addr, amount)
	})
	return err
}

// Withdraw debits amount from addr's available balance.
func (e *Engine) Withdraw(ctx context.Context, addr common.Address, amount uint64) error {
	_, err := e.run(ctx, "withdraw", func(tx domain.Tx, rec domain.Recorder, now uint64) error {
		return escrow.New(tx, rec, now).Withdraw(addr, amount)
	})
	return err
}
