package ack

import (
	"context"
	"sync"

	"tcsgo-engine/internal/model"
)

// Broker is the unreliable notification substrate results travel over. A
// publish lands in a shared per-type result slot (pollable) and, when the
// backend supports it, is also pushed to subscribers: two independent
// best-effort channels, neither guaranteed.
type Broker interface {
	// Publish stores the payload in its type's result slot and notifies
	// subscribers.
	Publish(ctx context.Context, payload model.AckPayload) error

	// ReadSlot returns the most recent payload in a type's result slot, or
	// nil when the slot is empty. Slots hold one payload; later publishes
	// of the same type overwrite earlier ones.
	ReadSlot(ctx context.Context, kind model.JobKind) (*model.AckPayload, error)

	// Subscribe returns a channel receiving future publishes. Delivery is
	// best-effort: slow consumers miss payloads rather than block
	// publishers. Cancel the context to unsubscribe.
	Subscribe(ctx context.Context) (<-chan model.AckPayload, error)
}

// MemoryBroker is the in-process Broker used for tests and single-instance
// deployments.
type MemoryBroker struct {
	mu    sync.RWMutex
	slots map[model.JobKind]model.AckPayload
	subs  map[chan model.AckPayload]struct{}
}

// NewMemoryBroker creates an in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		slots: make(map[model.JobKind]model.AckPayload),
		subs:  make(map[chan model.AckPayload]struct{}),
	}
}

// Publish stores the payload in its slot and fans out to subscribers.
func (b *MemoryBroker) Publish(ctx context.Context, payload model.AckPayload) error {
	b.mu.Lock()
	b.slots[payload.Type] = payload
	subs := make([]chan model.AckPayload, 0, len(b.subs))
	for ch := range b.subs {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- payload:
		default: // slow consumer misses the push; the poll path covers it
		}
	}
	return nil
}

// ReadSlot returns the current payload for a job kind.
func (b *MemoryBroker) ReadSlot(ctx context.Context, kind model.JobKind) (*model.AckPayload, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	payload, ok := b.slots[kind]
	if !ok {
		return nil, nil
	}
	cp := payload
	return &cp, nil
}

// Subscribe registers a push channel until ctx is cancelled.
func (b *MemoryBroker) Subscribe(ctx context.Context) (<-chan model.AckPayload, error) {
	ch := make(chan model.AckPayload, 16)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}()

	return ch, nil
}

var _ Broker = (*MemoryBroker)(nil)
