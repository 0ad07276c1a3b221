package kvstore

import "context"

// Store is the single-key persistence substrate the ledger, queue state and
// wallet documents ride on. Implementations provide durable get/set for one
// key at a time; there is no multi-key atomicity and no compare-and-swap.
// Everything layered on top (write-then-verify, lease locks) is built with
// that limitation in mind.
type Store interface {
	// Get retrieves a document by key. Returns ErrKeyNotFound if absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a document under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes a document by key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists checks whether a key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases the backing connection.
	Close() error
}

// StoreError is a sentinel error type for store-level conditions.
type StoreError string

func (e StoreError) Error() string { return string(e) }

const (
	// ErrKeyNotFound indicates the key has no stored document.
	ErrKeyNotFound StoreError = "key not found"
)
