package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"tcsgo-engine/internal/kvstore"
	"tcsgo-engine/internal/model"
	"tcsgo-engine/pkg/uid"
)

const indexKey = "inventory:index"

var (
	// ErrSchemaVersion means a stored document carries a schema this engine
	// does not operate on. The document is left untouched.
	ErrSchemaVersion = errors.New("unsupported schema version")

	// ErrSaveVerify means a write could not be read back intact even after a
	// retry. The in-memory state and the store may disagree.
	ErrSaveVerify = errors.New("save verification failed")

	// ErrLedgerNotFound means no ledger document exists for the inventory id.
	ErrLedgerNotFound = errors.New("ledger not found")
)

// LedgerStore reads and writes inventory ledgers and the identity index over
// a key-value store. Every save is verified by reading the document back and
// comparing bytes; a mismatch gets one delete-and-rewrite retry before the
// save is reported failed.
type LedgerStore struct {
	store kvstore.Store
	now   func() time.Time
}

// LedgerStoreOption configures a LedgerStore.
type LedgerStoreOption func(*LedgerStore)

// WithLedgerClock injects a clock for tests.
func WithLedgerClock(now func() time.Time) LedgerStoreOption {
	return func(s *LedgerStore) { s.now = now }
}

// NewLedgerStore creates a ledger store over a key-value backend.
func NewLedgerStore(store kvstore.Store, opts ...LedgerStoreOption) *LedgerStore {
	s := &LedgerStore{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func ledgerKey(inventoryID string) string {
	return "inventory:" + inventoryID
}

// Load reads one ledger by inventory id. Unknown schema versions are refused.
func (s *LedgerStore) Load(ctx context.Context, inventoryID string) (*model.Ledger, error) {
	raw, err := s.store.Get(ctx, ledgerKey(inventoryID))
	if err != nil {
		if errors.Is(err, kvstore.ErrKeyNotFound) {
			return nil, ErrLedgerNotFound
		}
		return nil, fmt.Errorf("load ledger %s: %w", inventoryID, err)
	}

	var ledger model.Ledger
	if err := json.Unmarshal(raw, &ledger); err != nil {
		return nil, fmt.Errorf("decode ledger %s: %w", inventoryID, err)
	}
	if ledger.SchemaVersion != model.LedgerSchemaVersion {
		return nil, fmt.Errorf("ledger %s has schema %q: %w", inventoryID, ledger.SchemaVersion, ErrSchemaVersion)
	}
	ledger.Normalize()
	return &ledger, nil
}

// Save persists a ledger and verifies the write by reading it back. On a
// byte mismatch the key is deleted and rewritten once; a second mismatch
// returns ErrSaveVerify.
func (s *LedgerStore) Save(ctx context.Context, ledger *model.Ledger) error {
	ledger.LastModified = s.now().UTC()
	raw, err := json.Marshal(ledger)
	if err != nil {
		return fmt.Errorf("encode ledger %s: %w", ledger.InventoryID, err)
	}
	return s.writeVerified(ctx, ledgerKey(ledger.InventoryID), raw)
}

// writeVerified is the shared write-then-confirm path for ledger and index
// documents.
func (s *LedgerStore) writeVerified(ctx context.Context, key string, raw []byte) error {
	if err := s.store.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if s.confirm(ctx, key, raw) {
		return nil
	}

	log.Printf("[LedgerStore] Read-back mismatch on %s, retrying with delete+rewrite", key)
	if err := s.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("retry delete %s: %w", key, err)
	}
	if err := s.store.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("retry write %s: %w", key, err)
	}
	if s.confirm(ctx, key, raw) {
		return nil
	}
	return fmt.Errorf("%s: %w", key, ErrSaveVerify)
}

func (s *LedgerStore) confirm(ctx context.Context, key string, want []byte) bool {
	got, err := s.store.Get(ctx, key)
	if err != nil {
		return false
	}
	return bytes.Equal(got, want)
}

// LoadIndex reads the identity index, creating an empty one if none exists.
func (s *LedgerStore) LoadIndex(ctx context.Context) (*model.IdentityIndex, error) {
	raw, err := s.store.Get(ctx, indexKey)
	if err != nil {
		if errors.Is(err, kvstore.ErrKeyNotFound) {
			return model.NewIdentityIndex(s.now()), nil
		}
		return nil, fmt.Errorf("load identity index: %w", err)
	}

	var index model.IdentityIndex
	if err := json.Unmarshal(raw, &index); err != nil {
		return nil, fmt.Errorf("decode identity index: %w", err)
	}
	if index.SchemaVersion != model.IndexSchemaVersion {
		return nil, fmt.Errorf("identity index has schema %q: %w", index.SchemaVersion, ErrSchemaVersion)
	}
	if index.Inventories == nil {
		index.Inventories = map[string]string{}
	}
	return &index, nil
}

// SaveIndex persists the identity index with the same verified write as
// ledgers.
func (s *LedgerStore) SaveIndex(ctx context.Context, index *model.IdentityIndex) error {
	index.LastModified = s.now().UTC()
	raw, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("encode identity index: %w", err)
	}
	return s.writeVerified(ctx, indexKey, raw)
}

// Resolve returns the ledger for an identity, creating and indexing a new
// one when the identity has never been seen.
func (s *LedgerStore) Resolve(ctx context.Context, identity model.Identity) (*model.Ledger, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}

	index, err := s.LoadIndex(ctx)
	if err != nil {
		return nil, err
	}

	key := identity.Key()
	if inventoryID, ok := index.Inventories[key]; ok {
		ledger, err := s.Load(ctx, inventoryID)
		if err == nil {
			return s.followMerge(ctx, ledger, 0)
		}
		if !errors.Is(err, ErrLedgerNotFound) {
			return nil, err
		}
		// Dangling index entry; fall through and recreate.
		log.Printf("[LedgerStore] Index points %s at missing ledger %s, recreating", key, inventoryID)
	}

	ledger := model.NewLedger(uid.NewInventory(), identity, s.now())
	if err := s.Save(ctx, ledger); err != nil {
		return nil, err
	}
	index.Inventories[key] = ledger.InventoryID
	if err := s.SaveIndex(ctx, index); err != nil {
		return nil, err
	}
	log.Printf("[LedgerStore] Created inventory %s for %s", ledger.InventoryID, key)
	return ledger, nil
}

// followMerge chases MergedInto pointers to the surviving ledger. Chains are
// short in practice; the depth cap guards against a pointer cycle written by
// a bad merge.
func (s *LedgerStore) followMerge(ctx context.Context, ledger *model.Ledger, depth int) (*model.Ledger, error) {
	if ledger.MergedInto == "" {
		return ledger, nil
	}
	if depth >= 5 {
		return nil, fmt.Errorf("merge chain too deep starting at %s", ledger.InventoryID)
	}
	next, err := s.Load(ctx, ledger.MergedInto)
	if err != nil {
		return nil, fmt.Errorf("follow merge %s -> %s: %w", ledger.InventoryID, ledger.MergedInto, err)
	}
	return s.followMerge(ctx, next, depth+1)
}
