package ack

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"tcsgo-engine/internal/model"
)

var testIdentity = model.Identity{Platform: "twitch", Username: "viewer"}

func testDispatcher(broker Broker) *Dispatcher {
	return NewDispatcher(broker,
		WithDeadline(300*time.Millisecond),
		WithPollInterval(20*time.Millisecond),
	)
}

func okPayload(eventID string) model.AckPayload {
	return model.AckPayload{
		EventID:   eventID,
		Type:      model.KindOpenContainer,
		Identity:  testIdentity,
		OK:        true,
		Data:      json.RawMessage(`{"item":"oid_1"}`),
		Complete:  true,
		CreatedAt: time.Now(),
	}
}

func TestDispatchResolvesViaPoll(t *testing.T) {
	broker := NewMemoryBroker()
	d := testDispatcher(broker)

	invoked := make(chan struct{})
	go func() {
		<-invoked
		_ = broker.Publish(context.Background(), okPayload("evt_1"))
	}()

	result := d.DispatchAndAwait(context.Background(), "evt_1", model.KindOpenContainer, testIdentity, func(ctx context.Context) error {
		close(invoked)
		return nil
	})
	if result.Status != model.StatusSuccess {
		t.Fatalf("status = %s, want success", result.Status)
	}
	if string(result.Data) != `{"item":"oid_1"}` {
		t.Errorf("data = %s", result.Data)
	}
}

func TestDispatchResolvesViaPush(t *testing.T) {
	broker := NewMemoryBroker()
	d := testDispatcher(broker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = broker.Publish(context.Background(), okPayload("evt_push"))
	}()

	result := d.DispatchAndAwait(ctx, "evt_push", model.KindOpenContainer, testIdentity, func(ctx context.Context) error {
		return nil
	})
	if result.Status != model.StatusSuccess {
		t.Fatalf("status = %s, want success", result.Status)
	}
}

func TestDispatchNegativeAckIsDefiniteFailure(t *testing.T) {
	broker := NewMemoryBroker()
	d := testDispatcher(broker)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = broker.Publish(context.Background(), model.AckPayload{
			EventID:   "evt_2",
			Type:      model.KindSellItem,
			Identity:  testIdentity,
			OK:        false,
			Error:     "item is trade locked",
			Complete:  true,
			CreatedAt: time.Now(),
		})
	}()

	result := d.DispatchAndAwait(context.Background(), "evt_2", model.KindSellItem, testIdentity, func(ctx context.Context) error {
		return nil
	})
	if result.Status != model.StatusDefiniteFailure {
		t.Fatalf("status = %s, want definite_failure", result.Status)
	}
	if result.Err != "item is trade locked" {
		t.Errorf("err = %q", result.Err)
	}
}

func TestDispatchNoAckResolvesUnknown(t *testing.T) {
	d := testDispatcher(NewMemoryBroker())

	start := time.Now()
	result := d.DispatchAndAwait(context.Background(), "evt_3", model.KindBuyKey, testIdentity, func(ctx context.Context) error {
		return nil
	})
	if result.Status != model.StatusUnknown {
		t.Fatalf("status = %s, want unknown", result.Status)
	}
	if elapsed := time.Since(start); elapsed < 250*time.Millisecond {
		t.Errorf("resolved unknown after %v, before the deadline", elapsed)
	}
}

func TestDispatchInvokeErrorIsDefiniteFailure(t *testing.T) {
	d := testDispatcher(NewMemoryBroker())

	result := d.DispatchAndAwait(context.Background(), "evt_4", model.KindBuyContainer, testIdentity, func(ctx context.Context) error {
		return errors.New("queue write failed")
	})
	if result.Status != model.StatusDefiniteFailure {
		t.Fatalf("status = %s, want definite_failure", result.Status)
	}
	if result.Err != "queue write failed" {
		t.Errorf("err = %q", result.Err)
	}
}

func TestDispatchIgnoresForeignEvent(t *testing.T) {
	broker := NewMemoryBroker()
	d := testDispatcher(broker)

	// Same type but a different identity: neither exact nor fallback match.
	go func() {
		time.Sleep(30 * time.Millisecond)
		payload := okPayload("evt_other")
		payload.Identity = model.Identity{Platform: "twitch", Username: "someone-else"}
		_ = broker.Publish(context.Background(), payload)
	}()

	result := d.DispatchAndAwait(context.Background(), "evt_5", model.KindOpenContainer, testIdentity, func(ctx context.Context) error {
		return nil
	})
	if result.Status != model.StatusUnknown {
		t.Fatalf("status = %s, want unknown", result.Status)
	}
}

func TestDispatchFallbackMatchByTypeAndIdentity(t *testing.T) {
	broker := NewMemoryBroker()
	d := testDispatcher(broker)

	// A completed ack for the same user and action type but an event ID the
	// waiter never learned about. The freshness window accepts it.
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = broker.Publish(context.Background(), okPayload("evt_lost_correlation"))
	}()

	result := d.DispatchAndAwait(context.Background(), "evt_6", model.KindOpenContainer, testIdentity, func(ctx context.Context) error {
		return nil
	})
	if result.Status != model.StatusSuccess {
		t.Fatalf("status = %s, want success via fallback", result.Status)
	}
}

func TestFallbackRejectsStaleAndIncomplete(t *testing.T) {
	d := testDispatcher(NewMemoryBroker())

	stale := okPayload("evt_stale")
	stale.CreatedAt = time.Now().Add(-time.Minute)
	if d.fallbackMatch(&stale, model.KindOpenContainer, testIdentity) {
		t.Error("stale payload should not fallback-match")
	}

	partial := okPayload("evt_partial")
	partial.Complete = false
	if d.fallbackMatch(&partial, model.KindOpenContainer, testIdentity) {
		t.Error("incomplete payload should not fallback-match")
	}

	wrongKind := okPayload("evt_kind")
	if d.fallbackMatch(&wrongKind, model.KindSellItem, testIdentity) {
		t.Error("mismatched type should not fallback-match")
	}
}

func TestDeliverIsNonBlockingWithoutWaiter(t *testing.T) {
	d := testDispatcher(NewMemoryBroker())
	// No waiter registered; must return immediately.
	d.Deliver(okPayload("evt_nobody"))
}
