// Package eventbus fans committed ledger events out to in-process observers
// on top of asaskevich/EventBus. Every batch is published on the batch topic,
// then each event on the topic named by its kind.
package eventbus

import (
	evbus "github.com/asaskevich/EventBus"
	"go.uber.org/zap"

	"github.com/tutu-network/poco/internal/domain"
)

// BatchTopic carries every committed batch as a []domain.Event.
const BatchTopic = "poco:batch"

// Bus implements domain.EventPublisher.
type Bus struct {
	bus evbus.Bus
	log *zap.Logger
}

// New creates a bus. log may be nil.
func New(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{bus: evbus.New(), log: log.Named("eventbus")}
}

// Publish delivers events to subscribers. Synchronous subscribers run before
// Publish returns.
func (b *Bus) Publish(events []domain.Event) {
	if len(events) == 0 {
		return
	}
	b.bus.Publish(BatchTopic, events)
	for _, e := range events {
		b.bus.Publish(topic(e.Kind), e)
	}
}

// SubscribeBatch registers fn for every committed batch.
func (b *Bus) SubscribeBatch(fn func([]domain.Event)) error {
	return b.bus.Subscribe(BatchTopic, b.guardBatch(fn))
}

// Subscribe registers fn for events of kind.
func (b *Bus) Subscribe(kind domain.EventKind, fn func(domain.Event)) error {
	return b.bus.Subscribe(topic(kind), b.guard(kind, fn))
}

// SubscribeAsync registers fn for events of kind on its own goroutine. With
// transactional set, deliveries to fn are serialized.
func (b *Bus) SubscribeAsync(kind domain.EventKind, fn func(domain.Event), transactional bool) error {
	return b.bus.SubscribeAsync(topic(kind), b.guard(kind, fn), transactional)
}

// WaitAsync blocks until every asynchronous delivery has finished.
func (b *Bus) WaitAsync() { b.bus.WaitAsync() }

// guard keeps a panicking subscriber from taking down the publisher.
func (b *Bus) guard(kind domain.EventKind, fn func(domain.Event)) func(domain.Event) {
	return func(e domain.Event) {
		defer func() {
			if r := recover(); r != nil {
				b.log.Error("subscriber panicked", zap.String("kind", string(kind)), zap.Any("panic", r))
			}
		}()
		fn(e)
	}
}

func (b *Bus) guardBatch(fn func([]domain.Event)) func([]domain.Event) {
	return func(es []domain.Event) {
		defer func() {
			if r := recover(); r != nil {
				b.log.Error("batch subscriber panicked", zap.Any("panic", r))
			}
		}()
		fn(es)
	}
}

func topic(kind domain.EventKind) string { return "poco:" + string(kind) }
