package ack

import (
	"context"
	"log"
	"sync"
	"time"

	"tcsgo-engine/internal/model"
)

const (
	// DefaultDeadline bounds how long a dispatch waits for its ack.
	DefaultDeadline = 10 * time.Second
	// DefaultPollInterval paces the slot-polling fallback path.
	DefaultPollInterval = 250 * time.Millisecond
	// DefaultFreshness is the window inside which a fallback (non-exact)
	// match may be accepted.
	DefaultFreshness = 5 * time.Second
)

// Action starts the downstream work for an event. The action's result does
// not come back through this call: it arrives later as an AckPayload on the
// broker. A synchronous error here means the work never started, which is
// the only case safe to treat as a definite failure.
type Action func(ctx context.Context) error

// Dispatcher correlates dispatched actions with their acks by event id and
// resolves each dispatch to exactly one of Success, DefiniteFailure or
// Unknown.
type Dispatcher struct {
	broker       Broker
	deadline     time.Duration
	pollInterval time.Duration
	freshness    time.Duration
	now          func() time.Time

	mu      sync.Mutex
	waiters map[string]chan model.AckPayload
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDeadline overrides the ack wait deadline.
func WithDeadline(d time.Duration) DispatcherOption {
	return func(dp *Dispatcher) { dp.deadline = d }
}

// WithPollInterval overrides the slot poll interval.
func WithPollInterval(d time.Duration) DispatcherOption {
	return func(dp *Dispatcher) { dp.pollInterval = d }
}

// WithFreshness overrides the fallback-match freshness window.
func WithFreshness(d time.Duration) DispatcherOption {
	return func(dp *Dispatcher) { dp.freshness = d }
}

// WithDispatcherClock injects a clock for tests.
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(dp *Dispatcher) { dp.now = now }
}

// NewDispatcher creates a dispatcher over a broker.
func NewDispatcher(broker Broker, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		broker:       broker,
		deadline:     DefaultDeadline,
		pollInterval: DefaultPollInterval,
		freshness:    DefaultFreshness,
		now:          time.Now,
		waiters:      make(map[string]chan model.AckPayload),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deliver routes a payload to the waiter registered for its exact event id.
// Payloads for unregistered events are ignored; unrelated waiters are never
// touched. Typically wired as the consumer of a broker subscription, but
// callable directly by in-process publishers.
func (d *Dispatcher) Deliver(payload model.AckPayload) {
	d.mu.Lock()
	ch, ok := d.waiters[payload.EventID]
	d.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- payload:
	default:
	}
}

// Run consumes a broker subscription and delivers payloads until ctx is
// cancelled. Push delivery; the per-dispatch poll loop remains the fallback
// when the subscription drops payloads.
func (d *Dispatcher) Run(ctx context.Context) error {
	ch, err := d.broker.Subscribe(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			d.Deliver(payload)
		}
	}
}

// DispatchAndAwait registers a waiter for eventID, invokes the action, and
// waits for a matching ack up to the deadline.
//
// Resolution:
//   - action returns an error  -> DefiniteFailure (work never started)
//   - ack with ok=true         -> Success
//   - ack with ok=false        -> DefiniteFailure carrying the error
//   - deadline with no ack     -> Unknown; the work may still have completed
//     downstream, so callers must not compensate on this outcome.
func (d *Dispatcher) DispatchAndAwait(ctx context.Context, eventID string, kind model.JobKind, identity model.Identity, invoke Action) model.Result {
	ch := make(chan model.AckPayload, 1)
	d.mu.Lock()
	d.waiters[eventID] = ch
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.waiters, eventID)
		d.mu.Unlock()
	}()

	if err := invoke(ctx); err != nil {
		return model.DefiniteFailure(err.Error())
	}

	deadline := time.NewTimer(d.deadline)
	defer deadline.Stop()
	poll := time.NewTicker(d.pollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return model.Unknown()
		case <-deadline.C:
			return model.Unknown()
		case payload := <-ch:
			if payload.EventID == eventID {
				return payload.ToResult()
			}
		case <-poll.C:
			payload, err := d.broker.ReadSlot(ctx, kind)
			if err != nil || payload == nil {
				continue
			}
			if payload.EventID == eventID {
				return payload.ToResult()
			}
			if d.fallbackMatch(payload, kind, identity) {
				log.Printf("[AckDispatcher] Fallback match for %s: accepted %s by type+identity (exact event never seen)",
					eventID, payload.EventID)
				return payload.ToResult()
			}
		}
	}
}

// fallbackMatch is the weaker correlation rule: same action type, same
// identity, fresh, and the payload fully describes a safe-to-apply effect.
func (d *Dispatcher) fallbackMatch(payload *model.AckPayload, kind model.JobKind, identity model.Identity) bool {
	if !payload.Complete {
		return false
	}
	if payload.Type != kind {
		return false
	}
	if payload.Identity.Key() != identity.Key() {
		return false
	}
	return d.now().Sub(payload.CreatedAt) < d.freshness
}
