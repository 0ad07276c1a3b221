package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"tcsgo-engine/internal/kvstore"
	"tcsgo-engine/internal/model"
)

// DefaultLockTTL bounds how long a crashed drainer can wedge a queue.
const DefaultLockTTL = 30 * time.Second

// ProcessFunc handles one dequeued job. It must not return until the job's
// effects (or its compensation) are settled; the drain loop heartbeats the
// lease before each call, not during it.
type ProcessFunc func(ctx context.Context, job model.Job)

// JobQueue is a durable FIFO with a TTL-bound ownership lease, persisted as a
// single document per command family. The underlying store has no
// compare-and-swap, so acquisition is optimistic last-writer-wins: write the
// lock, then re-read to confirm ownership before draining.
type JobQueue struct {
	store   kvstore.Store
	key     string
	lockTTL time.Duration
	now     func() time.Time
}

// Option configures a JobQueue.
type Option func(*JobQueue)

// WithLockTTL overrides the lease TTL.
func WithLockTTL(ttl time.Duration) Option {
	return func(q *JobQueue) { q.lockTTL = ttl }
}

// WithClock injects a clock, used by tests to control lease expiry.
func WithClock(now func() time.Time) Option {
	return func(q *JobQueue) { q.now = now }
}

// New creates a queue for one command family. The family name becomes part
// of the document key, so every mutating command of a family shares one
// queue and therefore one active drainer.
func New(store kvstore.Store, family string, opts ...Option) *JobQueue {
	q := &JobQueue{
		store:   store,
		key:     "queue:" + family,
		lockTTL: DefaultLockTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *JobQueue) load(ctx context.Context) (*model.QueueState, error) {
	raw, err := q.store.Get(ctx, q.key)
	if err == kvstore.ErrKeyNotFound {
		return model.NewQueueState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load queue state: %w", err)
	}

	var state model.QueueState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("corrupt queue state at %s: %w", q.key, err)
	}
	if state.SchemaVersion != model.QueueSchemaVersion {
		return nil, fmt.Errorf("queue state at %s has unsupported schemaVersion %q", q.key, state.SchemaVersion)
	}
	return &state, nil
}

func (q *JobQueue) save(ctx context.Context, state *model.QueueState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode queue state: %w", err)
	}
	if err := q.store.Set(ctx, q.key, raw); err != nil {
		return fmt.Errorf("failed to save queue state: %w", err)
	}
	return nil
}

// Enqueue appends a job to the durable FIFO. Does not require the lock.
func (q *JobQueue) Enqueue(ctx context.Context, job model.Job) error {
	state, err := q.load(ctx)
	if err != nil {
		return err
	}
	state.Queue = append(state.Queue, job)
	if err := q.save(ctx, state); err != nil {
		return err
	}
	log.Printf("[JobQueue] Enqueued %s job %s (%s), depth=%d", job.Kind, job.EventID, q.key, len(state.Queue))
	return nil
}

// TryAcquire attempts to take the drain lease. It succeeds when the lock is
// absent, expired, or already held by ownerID. After writing, the lock is
// re-read to confirm ownership: two concurrent writers race last-writer-wins
// and only the confirmed winner proceeds.
func (q *JobQueue) TryAcquire(ctx context.Context, ownerID string) (bool, error) {
	state, err := q.load(ctx)
	if err != nil {
		return false, err
	}

	now := q.now()
	if lock := state.ActiveLock; lock != nil && lock.OwnerID != ownerID && !lock.Expired(now, q.lockTTL) {
		return false, nil
	}

	state.ActiveLock = &model.ActiveLock{OwnerID: ownerID, Timestamp: now}
	if err := q.save(ctx, state); err != nil {
		return false, err
	}

	// Confirm ownership by read-back; no CAS on the store.
	confirm, err := q.load(ctx)
	if err != nil {
		return false, err
	}
	if confirm.ActiveLock == nil || confirm.ActiveLock.OwnerID != ownerID {
		return false, nil
	}
	return true, nil
}

// Heartbeat refreshes the lease timestamp so a long-running job does not
// starve the TTL. Called once per dequeued job at minimum.
func (q *JobQueue) Heartbeat(ctx context.Context, ownerID string) error {
	state, err := q.load(ctx)
	if err != nil {
		return err
	}
	if state.ActiveLock == nil || state.ActiveLock.OwnerID != ownerID {
		return fmt.Errorf("heartbeat without lock ownership (%s)", q.key)
	}
	state.ActiveLock.Timestamp = q.now()
	return q.save(ctx, state)
}

// Dequeue pops the FIFO head. Only valid while ownerID holds the lease;
// returns nil when the queue is empty.
func (q *JobQueue) Dequeue(ctx context.Context, ownerID string) (*model.Job, error) {
	state, err := q.load(ctx)
	if err != nil {
		return nil, err
	}
	if state.ActiveLock == nil || state.ActiveLock.OwnerID != ownerID {
		return nil, fmt.Errorf("dequeue without lock ownership (%s)", q.key)
	}
	if len(state.Queue) == 0 {
		return nil, nil
	}

	job := state.Queue[0]
	state.Queue = state.Queue[1:]
	if err := q.save(ctx, state); err != nil {
		return nil, err
	}
	return &job, nil
}

// Release clears the lease if still owned by ownerID. Always invoked at the
// end of a drain attempt so a crash mid-job is bounded by the TTL instead of
// wedging the queue permanently.
func (q *JobQueue) Release(ctx context.Context, ownerID string) error {
	state, err := q.load(ctx)
	if err != nil {
		return err
	}
	if state.ActiveLock == nil || state.ActiveLock.OwnerID != ownerID {
		return nil
	}
	state.ActiveLock = nil
	return q.save(ctx, state)
}

// Drain runs the single-drainer loop: acquire, process jobs strictly FIFO
// with a heartbeat per job, release. If another owner holds the lease the
// call returns immediately with no side effects; concurrent drain triggers
// are the norm and collapsing them is the point of the lease.
func (q *JobQueue) Drain(ctx context.Context, ownerID string, process ProcessFunc) error {
	acquired, err := q.TryAcquire(ctx, ownerID)
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}
	defer func() {
		if err := q.Release(ctx, ownerID); err != nil {
			log.Printf("[JobQueue] Release failed (%s): %v", q.key, err)
		}
	}()

	for {
		job, err := q.Dequeue(ctx, ownerID)
		if err != nil {
			return err
		}
		if job == nil {
			return nil
		}
		if err := q.Heartbeat(ctx, ownerID); err != nil {
			return err
		}
		process(ctx, *job)
	}
}

// Depth returns the current queue length, for the admin surface.
func (q *JobQueue) Depth(ctx context.Context) (int, error) {
	state, err := q.load(ctx)
	if err != nil {
		return 0, err
	}
	return len(state.Queue), nil
}

// LockInfo returns the current lease holder, if any.
func (q *JobQueue) LockInfo(ctx context.Context) (*model.ActiveLock, error) {
	state, err := q.load(ctx)
	if err != nil {
		return nil, err
	}
	return state.ActiveLock, nil
}
