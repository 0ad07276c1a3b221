package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tcsgo-engine/internal/kvstore"
	"tcsgo-engine/internal/model"
)

// WalletSchemaVersion versions the persisted wallet document.
const WalletSchemaVersion = "1.0-wallet"

// ErrInsufficientFunds means a debit exceeds the current balance.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Wallet is the points balance port. Debits happen before a job is
// dispatched; credits compensate definite failures or pay out sales.
type Wallet interface {
	// Balance returns the identity's current balance in points.
	Balance(ctx context.Context, identity model.Identity) (int64, error)

	// Debit subtracts amount, failing with ErrInsufficientFunds when the
	// balance does not cover it.
	Debit(ctx context.Context, identity model.Identity, amount int64) (int64, error)

	// Credit adds amount and returns the new balance.
	Credit(ctx context.Context, identity model.Identity, amount int64) (int64, error)
}

// walletDoc is the persisted balance document.
type walletDoc struct {
	SchemaVersion string    `json:"schemaVersion"`
	Balance       int64     `json:"balance"`
	LastModified  time.Time `json:"lastModified"`
}

// KVWallet stores balances in the key-value store, one document per
// identity. Balances are seeded at StartingBalance on first touch.
type KVWallet struct {
	store           kvstore.Store
	startingBalance int64
	now             func() time.Time
}

// NewKVWallet creates a wallet over a key-value backend.
func NewKVWallet(store kvstore.Store, startingBalance int64) *KVWallet {
	return &KVWallet{store: store, startingBalance: startingBalance, now: time.Now}
}

func walletKey(identity model.Identity) string {
	return "wallet:" + identity.Key()
}

func (w *KVWallet) load(ctx context.Context, identity model.Identity) (*walletDoc, error) {
	raw, err := w.store.Get(ctx, walletKey(identity))
	if err != nil {
		if errors.Is(err, kvstore.ErrKeyNotFound) {
			return &walletDoc{SchemaVersion: WalletSchemaVersion, Balance: w.startingBalance}, nil
		}
		return nil, fmt.Errorf("load wallet %s: %w", identity.Key(), err)
	}
	var doc walletDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode wallet %s: %w", identity.Key(), err)
	}
	if doc.SchemaVersion != WalletSchemaVersion {
		return nil, fmt.Errorf("wallet %s has schema %q", identity.Key(), doc.SchemaVersion)
	}
	return &doc, nil
}

func (w *KVWallet) save(ctx context.Context, identity model.Identity, doc *walletDoc) error {
	doc.LastModified = w.now().UTC()
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode wallet %s: %w", identity.Key(), err)
	}
	return w.store.Set(ctx, walletKey(identity), raw)
}

// Balance returns the identity's current balance.
func (w *KVWallet) Balance(ctx context.Context, identity model.Identity) (int64, error) {
	doc, err := w.load(ctx, identity)
	if err != nil {
		return 0, err
	}
	return doc.Balance, nil
}

// Debit subtracts amount from the balance.
func (w *KVWallet) Debit(ctx context.Context, identity model.Identity, amount int64) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("debit amount must be non-negative, got %d", amount)
	}
	doc, err := w.load(ctx, identity)
	if err != nil {
		return 0, err
	}
	if doc.Balance < amount {
		return doc.Balance, fmt.Errorf("balance %d < cost %d: %w", doc.Balance, amount, ErrInsufficientFunds)
	}
	doc.Balance -= amount
	if err := w.save(ctx, identity, doc); err != nil {
		return 0, err
	}
	return doc.Balance, nil
}

// Credit adds amount to the balance.
func (w *KVWallet) Credit(ctx context.Context, identity model.Identity, amount int64) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("credit amount must be non-negative, got %d", amount)
	}
	doc, err := w.load(ctx, identity)
	if err != nil {
		return 0, err
	}
	doc.Balance += amount
	if err := w.save(ctx, identity, doc); err != nil {
		return 0, err
	}
	return doc.Balance, nil
}

// Ensure KVWallet implements Wallet
var _ Wallet = (*KVWallet)(nil)
