package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"tcsgo-engine/internal/kvstore"
	"tcsgo-engine/internal/model"
)

// fakeClock is a manually advanced clock shared by queues under test.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testJob(eventID string) model.Job {
	return model.Job{
		EventID:  eventID,
		Kind:     model.KindOpenContainer,
		Identity: model.Identity{Platform: "twitch", Username: "viewer"},
		Params:   model.JobParams{ContainerID: "chroma-case"},
	}
}

func TestEnqueueDequeueFIFO(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q := New(kvstore.NewMemoryStore(), "test", WithClock(clock.Now))

	for _, id := range []string{"evt_1", "evt_2", "evt_3"} {
		if err := q.Enqueue(ctx, testJob(id)); err != nil {
			t.Fatalf("Enqueue(%s): %v", id, err)
		}
	}

	depth, err := q.Depth(ctx)
	if err != nil || depth != 3 {
		t.Fatalf("Depth = (%d, %v), want (3, nil)", depth, err)
	}

	acquired, err := q.TryAcquire(ctx, "owner-a")
	if err != nil || !acquired {
		t.Fatalf("TryAcquire = (%v, %v), want (true, nil)", acquired, err)
	}

	for _, want := range []string{"evt_1", "evt_2", "evt_3"} {
		job, err := q.Dequeue(ctx, "owner-a")
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		if job == nil || job.EventID != want {
			t.Fatalf("Dequeue = %+v, want event %s", job, want)
		}
	}

	job, err := q.Dequeue(ctx, "owner-a")
	if err != nil || job != nil {
		t.Errorf("Dequeue on empty queue = (%+v, %v), want (nil, nil)", job, err)
	}
}

func TestLeaseMutualExclusion(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := kvstore.NewMemoryStore()
	qa := New(store, "test", WithClock(clock.Now))
	qb := New(store, "test", WithClock(clock.Now))

	if ok, err := qa.TryAcquire(ctx, "owner-a"); err != nil || !ok {
		t.Fatalf("first acquire = (%v, %v)", ok, err)
	}
	if ok, err := qb.TryAcquire(ctx, "owner-b"); err != nil || ok {
		t.Fatalf("second owner acquired a live lease: (%v, %v)", ok, err)
	}

	// Re-acquire by the same owner is allowed.
	if ok, err := qa.TryAcquire(ctx, "owner-a"); err != nil || !ok {
		t.Fatalf("self re-acquire = (%v, %v)", ok, err)
	}

	// Dequeue requires ownership.
	if _, err := qb.Dequeue(ctx, "owner-b"); err == nil {
		t.Error("dequeue without the lease should fail")
	}
}

func TestLeaseExpiryAllowsTakeover(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := kvstore.NewMemoryStore()
	qa := New(store, "test", WithClock(clock.Now), WithLockTTL(30*time.Second))
	qb := New(store, "test", WithClock(clock.Now), WithLockTTL(30*time.Second))

	if ok, _ := qa.TryAcquire(ctx, "owner-a"); !ok {
		t.Fatal("initial acquire failed")
	}

	clock.Advance(29 * time.Second)
	if ok, _ := qb.TryAcquire(ctx, "owner-b"); ok {
		t.Fatal("lease stolen before TTL elapsed")
	}

	clock.Advance(1 * time.Second)
	if ok, err := qb.TryAcquire(ctx, "owner-b"); err != nil || !ok {
		t.Fatalf("takeover after TTL = (%v, %v), want (true, nil)", ok, err)
	}

	lock, err := qb.LockInfo(ctx)
	if err != nil || lock == nil || lock.OwnerID != "owner-b" {
		t.Errorf("LockInfo = (%+v, %v), want owner-b", lock, err)
	}
}

func TestHeartbeatKeepsLeaseAlive(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := kvstore.NewMemoryStore()
	qa := New(store, "test", WithClock(clock.Now), WithLockTTL(30*time.Second))
	qb := New(store, "test", WithClock(clock.Now), WithLockTTL(30*time.Second))

	if ok, _ := qa.TryAcquire(ctx, "owner-a"); !ok {
		t.Fatal("initial acquire failed")
	}

	clock.Advance(20 * time.Second)
	if err := qa.Heartbeat(ctx, "owner-a"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	// 40s since acquire but only 20s since the heartbeat.
	clock.Advance(20 * time.Second)
	if ok, _ := qb.TryAcquire(ctx, "owner-b"); ok {
		t.Error("heartbeat should have refreshed the lease")
	}
}

func TestReleaseClearsOnlyOwnLease(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := kvstore.NewMemoryStore()
	q := New(store, "test", WithClock(clock.Now))

	if ok, _ := q.TryAcquire(ctx, "owner-a"); !ok {
		t.Fatal("acquire failed")
	}

	// A stranger's release is a no-op.
	if err := q.Release(ctx, "owner-b"); err != nil {
		t.Fatalf("foreign Release: %v", err)
	}
	if lock, _ := q.LockInfo(ctx); lock == nil || lock.OwnerID != "owner-a" {
		t.Fatal("foreign release cleared the lease")
	}

	if err := q.Release(ctx, "owner-a"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if lock, _ := q.LockInfo(ctx); lock != nil {
		t.Error("lease should be cleared after owner release")
	}
}

func TestDrainProcessesAllJobsInOrder(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q := New(kvstore.NewMemoryStore(), "test", WithClock(clock.Now))

	for _, id := range []string{"evt_1", "evt_2", "evt_3"} {
		if err := q.Enqueue(ctx, testJob(id)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	var seen []string
	err := q.Drain(ctx, "owner-a", func(ctx context.Context, job model.Job) {
		seen = append(seen, job.EventID)
	})
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}

	want := []string{"evt_1", "evt_2", "evt_3"}
	if len(seen) != len(want) {
		t.Fatalf("processed %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("processed %v, want %v", seen, want)
		}
	}

	// Queue empty and lease released.
	if depth, _ := q.Depth(ctx); depth != 0 {
		t.Errorf("depth after drain = %d, want 0", depth)
	}
	if lock, _ := q.LockInfo(ctx); lock != nil {
		t.Error("lease should be released after drain")
	}
}

func TestDrainWhileHeldIsNoOp(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := kvstore.NewMemoryStore()
	qa := New(store, "test", WithClock(clock.Now))
	qb := New(store, "test", WithClock(clock.Now))

	if err := qa.Enqueue(ctx, testJob("evt_1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if ok, _ := qa.TryAcquire(ctx, "owner-a"); !ok {
		t.Fatal("acquire failed")
	}

	called := false
	err := qb.Drain(ctx, "owner-b", func(ctx context.Context, job model.Job) {
		called = true
	})
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if called {
		t.Error("a held lease must make a concurrent drain a silent no-op")
	}
	if depth, _ := qb.Depth(ctx); depth != 1 {
		t.Error("the job must stay queued for the lease holder")
	}
}

func TestCrashedOwnerDoesNotLoseJobs(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := kvstore.NewMemoryStore()
	qa := New(store, "test", WithClock(clock.Now), WithLockTTL(30*time.Second))
	qb := New(store, "test", WithClock(clock.Now), WithLockTTL(30*time.Second))

	if err := qa.Enqueue(ctx, testJob("evt_1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	// owner-a acquires and "crashes" without releasing.
	if ok, _ := qa.TryAcquire(ctx, "owner-a"); !ok {
		t.Fatal("acquire failed")
	}

	clock.Advance(31 * time.Second)

	var seen []string
	if err := qb.Drain(ctx, "owner-b", func(ctx context.Context, job model.Job) {
		seen = append(seen, job.EventID)
	}); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(seen) != 1 || seen[0] != "evt_1" {
		t.Errorf("recovered jobs = %v, want [evt_1]", seen)
	}
}
