// Package callback forwards accepted results to the consumer a deal
// registered. Delivery is best effort: failures are logged and counted but
// never reach the settlement that produced the result.
package callback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/tutu-network/poco/internal/domain"
	"github.com/tutu-network/poco/internal/infra/metrics"
)

// DefaultTimeout bounds one delivery.
const DefaultTimeout = 5 * time.Second

// Delivery is one result to forward.
type Delivery struct {
	Target       common.Address
	TaskID       common.Hash
	ResultDigest common.Hash
	Payload      []byte
}

// Forwarder delivers results under a time budget.
type Forwarder struct {
	resolver domain.ConsumerResolver
	timeout  time.Duration
	log      *zap.Logger
}

// NewForwarder creates a forwarder. A non-positive timeout selects
// DefaultTimeout.
func NewForwarder(resolver domain.ConsumerResolver, timeout time.Duration, log *zap.Logger) *Forwarder {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Forwarder{resolver: resolver, timeout: timeout, log: log.Named("callback")}
}

// Forward delivers d and reports the outcome. It never panics and never
// blocks past the timeout unless the consumer ignores its context.
func (f *Forwarder) Forward(ctx context.Context, d Delivery) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("consumer %s panicked: %v", d.Target.Hex(), r)
		}
		outcome := "ok"
		if err != nil {
			outcome = "error"
			f.log.Warn("result callback failed",
				zap.String("target", d.Target.Hex()),
				zap.String("task", d.TaskID.Hex()),
				zap.Error(err))
		}
		metrics.Callbacks.WithLabelValues(outcome).Inc()
		metrics.CallbackLatency.Observe(time.Since(start).Seconds())
	}()

	consumer, ok := f.resolver.Consumer(d.Target)
	if !ok {
		return fmt.Errorf("no consumer for %s", d.Target.Hex())
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return consumer.ReceiveResult(ctx, d.TaskID, d.ResultDigest, d.Payload)
}

// ─── Consumer Registry ──────────────────────────────────────────────────────

// Registry maps callback addresses to consumers.
type Registry struct {
	mu        sync.RWMutex
	consumers map[common.Address]domain.ResultConsumer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{consumers: make(map[common.Address]domain.ResultConsumer)}
}

// Register binds addr to c, replacing any previous consumer.
func (r *Registry) Register(addr common.Address, c domain.ResultConsumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumers[addr] = c
}

// Consumer implements domain.ConsumerResolver.
func (r *Registry) Consumer(addr common.Address) (domain.ResultConsumer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.consumers[addr]
	return c, ok
}

// ConsumerFunc adapts a function to domain.ResultConsumer.
type ConsumerFunc func(ctx context.Context, taskID, resultDigest common.Hash, payload []byte) error

// ReceiveResult calls f.
func (f ConsumerFunc) ReceiveResult(ctx context.Context, taskID, resultDigest common.Hash, payload []byte) error {
	return f(ctx, taskID, resultDigest, payload)
}
