package model

import "time"

// QueueSchemaVersion versions the persisted queue document.
const QueueSchemaVersion = "1.0-queue"

// JobKind identifies the command a job carries.
type JobKind string

const (
	KindOpenContainer JobKind = "open_container"
	KindBuyContainer  JobKind = "buy_container"
	KindBuyKey        JobKind = "buy_key"
	KindSellItem      JobKind = "sell_item"
)

// JobParams carries the per-command inputs. Only the fields relevant to the
// job's kind are set.
type JobParams struct {
	ContainerID string `json:"containerId,omitempty"`
	KeyID       string `json:"keyId,omitempty"`
	Quantity    int    `json:"quantity,omitempty"`
	ItemOID     string `json:"itemOid,omitempty"`
}

// Job is one queued command. Created at enqueue time, consumed exactly once
// by the drain loop, never mutated after creation.
type Job struct {
	EventID  string    `json:"eventId"`
	Kind     JobKind   `json:"kind"`
	Identity Identity  `json:"identity"`
	Params   JobParams `json:"params"`
	// Cost is the total wallet cost in points computed at enqueue time.
	Cost int64 `json:"cost"`
	// BalanceSnapshot is the wallet balance observed before dispatch.
	BalanceSnapshot int64     `json:"balanceSnapshot"`
	EnqueuedAt      time.Time `json:"enqueuedAt"`
}

// ActiveLock is the lease record guarding a queue's drain loop. It is valid
// only while now - Timestamp < TTL.
type ActiveLock struct {
	OwnerID   string    `json:"ownerId"`
	Timestamp time.Time `json:"timestamp"`
}

// Expired reports whether the lease has lapsed.
func (l *ActiveLock) Expired(now time.Time, ttl time.Duration) bool {
	return !now.Before(l.Timestamp.Add(ttl))
}

// QueueState is the persisted FIFO plus its ownership lease. The FIFO is
// independent of the lock: a crashed owner delays jobs, it never loses them.
type QueueState struct {
	SchemaVersion string      `json:"schemaVersion"`
	Queue         []Job       `json:"queue"`
	ActiveLock    *ActiveLock `json:"activeLock,omitempty"`
}

// NewQueueState creates an empty queue document.
func NewQueueState() *QueueState {
	return &QueueState{
		SchemaVersion: QueueSchemaVersion,
		Queue:         []Job{},
	}
}
