package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"tcsgo-engine/internal/catalog"
	"tcsgo-engine/internal/model"
	"tcsgo-engine/internal/roll"
	"tcsgo-engine/pkg/uid"
)

var (
	// ErrInsufficientResources means a required case or key count was zero.
	// The ledger is unchanged when this is returned.
	ErrInsufficientResources = errors.New("insufficient resources")

	// ErrUnknownContainer means the container or key id resolves to nothing.
	ErrUnknownContainer = errors.New("unknown container")

	// ErrItemNotFound means the referenced owned item is not in the ledger.
	ErrItemNotFound = errors.New("item not found")

	// ErrItemLocked means the item's trade lock has not expired yet.
	ErrItemLocked = errors.New("item is trade locked")

	// ErrPendingSell means a sale is already in flight for this inventory.
	ErrPendingSell = errors.New("a sale is already pending")

	// ErrCompensationFailed means a debit could not be undone after a later
	// step failed. The ledger was not persisted, but the failure is logged
	// for operator attention because it indicates a bug in a debit's undo.
	ErrCompensationFailed = errors.New("compensation failed")
)

// debit is one reversible ledger mutation. Apply validates its own
// precondition; Undo restores exactly what Apply took.
type debit struct {
	name  string
	apply func(*model.Ledger) error
	undo  func(*model.Ledger) error
}

// applyDebits runs debits in order. On failure it undoes the applied ones in
// reverse order and returns the original error, or ErrCompensationFailed if
// an undo also fails.
func applyDebits(ledger *model.Ledger, debits []debit) error {
	for i, d := range debits {
		if err := d.apply(ledger); err != nil {
			for j := i - 1; j >= 0; j-- {
				if undoErr := debits[j].undo(ledger); undoErr != nil {
					log.Printf("[Executor] Undo of debit %q failed after %q errored: %v", debits[j].name, d.name, undoErr)
					return fmt.Errorf("undo %s: %v: %w", debits[j].name, undoErr, ErrCompensationFailed)
				}
			}
			return err
		}
	}
	return nil
}

func countDebit(name string, counts map[string]int, id string) debit {
	return debit{
		name: name,
		apply: func(l *model.Ledger) error {
			if counts[id] <= 0 {
				return fmt.Errorf("%s %q: %w", name, id, ErrInsufficientResources)
			}
			counts[id]--
			return nil
		},
		undo: func(l *model.Ledger) error {
			counts[id]++
			return nil
		},
	}
}

// OpenResult is the outcome of one container opening.
type OpenResult struct {
	Outcome roll.Outcome    `json:"outcome"`
	Item    model.OwnedItem `json:"item"`
}

// Executor applies queued commands to ledgers. It is the only writer of
// ledger documents; the drain loop's lease guarantees one executor per
// queue family, so operations here do not need their own locking.
type Executor struct {
	ledgers *LedgerStore
	catalog *catalog.Catalog
	roller  *roll.Engine
	now     func() time.Time
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorClock injects a clock for tests.
func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// NewExecutor creates a mutation executor.
func NewExecutor(ledgers *LedgerStore, cat *catalog.Catalog, roller *roll.Engine, opts ...ExecutorOption) *Executor {
	e := &Executor{ledgers: ledgers, catalog: cat, roller: roller, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OpenContainer consumes one case (and one key when the case type requires
// it), rolls an item and appends it to the inventory with a fresh trade
// lock. Nothing is persisted unless every step succeeds.
func (e *Executor) OpenContainer(ctx context.Context, identity model.Identity, containerID string) (*OpenResult, error) {
	def, ok := e.catalog.Resolve(containerID)
	if !ok {
		return nil, fmt.Errorf("container %q: %w", containerID, ErrUnknownContainer)
	}

	ledger, err := e.ledgers.Resolve(ctx, identity)
	if err != nil {
		return nil, err
	}

	debits := []debit{countDebit("case", ledger.Cases, def.ID)}
	if def.RequiresKey() {
		debits = append(debits, countDebit("key", ledger.Keys, def.KeyID))
	}
	if err := applyDebits(ledger, debits); err != nil {
		return nil, err
	}

	outcome, err := e.roller.Roll(def)
	if err != nil {
		if undoErr := undoAll(ledger, debits); undoErr != nil {
			return nil, undoErr
		}
		return nil, fmt.Errorf("roll %q: %w", def.ID, err)
	}

	now := e.now().UTC()
	item := model.OwnedItem{
		OID:             uid.NewItem(),
		ItemID:          outcome.Item.ID,
		DisplayName:     outcome.Item.DisplayName,
		Tier:            outcome.Tier,
		Category:        outcome.Item.Category,
		Weapon:          outcome.Item.Weapon,
		Skin:            outcome.Item.Skin,
		Variant:         outcome.Item.Variant,
		StatTrak:        outcome.StatTrak,
		Wear:            outcome.Wear,
		AcquiredAt:      now,
		LockedUntil:     now.Add(model.TradeLockPeriod),
		FromContainerID: def.ID,
		PriceSnapshot:   outcome.Price,
		PriceEstimate:   outcome.PriceEstimate,
	}
	ledger.Items = append(ledger.Items, item)

	if err := e.ledgers.Save(ctx, ledger); err != nil {
		return nil, err
	}
	log.Printf("[Executor] %s opened %s -> %s (%s, statTrak=%v)", identity.Key(), def.ID, item.ItemID, item.Wear, item.StatTrak)
	return &OpenResult{Outcome: outcome, Item: item}, nil
}

func undoAll(ledger *model.Ledger, debits []debit) error {
	for j := len(debits) - 1; j >= 0; j-- {
		if err := debits[j].undo(ledger); err != nil {
			return fmt.Errorf("undo %s: %v: %w", debits[j].name, err, ErrCompensationFailed)
		}
	}
	return nil
}

// BuyContainers adds purchased cases to the inventory.
func (e *Executor) BuyContainers(ctx context.Context, identity model.Identity, containerID string, quantity int) (*model.Ledger, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %d", quantity)
	}
	def, ok := e.catalog.Resolve(containerID)
	if !ok {
		return nil, fmt.Errorf("container %q: %w", containerID, ErrUnknownContainer)
	}

	ledger, err := e.ledgers.Resolve(ctx, identity)
	if err != nil {
		return nil, err
	}
	ledger.Cases[def.ID] += quantity
	if err := e.ledgers.Save(ctx, ledger); err != nil {
		return nil, err
	}
	return ledger, nil
}

// BuyKeys adds purchased keys to the inventory.
func (e *Executor) BuyKeys(ctx context.Context, identity model.Identity, keyID string, quantity int) (*model.Ledger, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %d", quantity)
	}
	ledger, err := e.ledgers.Resolve(ctx, identity)
	if err != nil {
		return nil, err
	}
	ledger.Keys[keyID] += quantity
	if err := e.ledgers.Save(ctx, ledger); err != nil {
		return nil, err
	}
	return ledger, nil
}

// SellItem removes an item from the inventory and records a pending-sell
// ticket in its place. The wallet credit happens outside this call; the
// ticket is cleared on credit success or restored on credit failure.
func (e *Executor) SellItem(ctx context.Context, identity model.Identity, itemOID, eventID string) (*model.SellTicket, error) {
	ledger, err := e.ledgers.Resolve(ctx, identity)
	if err != nil {
		return nil, err
	}
	if ledger.PendingSell != nil {
		return nil, fmt.Errorf("event %s still unresolved: %w", ledger.PendingSell.EventID, ErrPendingSell)
	}

	idx := ledger.FindItem(itemOID)
	if idx < 0 {
		return nil, fmt.Errorf("item %q: %w", itemOID, ErrItemNotFound)
	}
	item := ledger.Items[idx]
	now := e.now().UTC()
	if item.Locked(now) {
		return nil, fmt.Errorf("item %q locked until %s: %w", itemOID, item.LockedUntil.Format(time.RFC3339), ErrItemLocked)
	}

	ledger.Items = append(ledger.Items[:idx], ledger.Items[idx+1:]...)
	ticket := &model.SellTicket{
		EventID:   eventID,
		Item:      item,
		Price:     item.PriceSnapshot,
		CreatedAt: now,
	}
	ledger.PendingSell = ticket

	if err := e.ledgers.Save(ctx, ledger); err != nil {
		return nil, err
	}
	return ticket, nil
}

// ClearPendingSell finalizes a sale after the wallet credit landed. A
// mismatched or missing ticket is idempotent success: the outcome already
// took effect.
func (e *Executor) ClearPendingSell(ctx context.Context, identity model.Identity, eventID string) error {
	ledger, err := e.ledgers.Resolve(ctx, identity)
	if err != nil {
		return err
	}
	if ledger.PendingSell == nil || ledger.PendingSell.EventID != eventID {
		return nil
	}
	ledger.PendingSell = nil
	return e.ledgers.Save(ctx, ledger)
}

// RestorePendingSell puts the ticketed item back after a definite wallet
// credit failure. Restoring a ticket that is already gone is a no-op.
func (e *Executor) RestorePendingSell(ctx context.Context, identity model.Identity, eventID string) error {
	ledger, err := e.ledgers.Resolve(ctx, identity)
	if err != nil {
		return err
	}
	if ledger.PendingSell == nil || ledger.PendingSell.EventID != eventID {
		return nil
	}
	ledger.Items = append(ledger.Items, ledger.PendingSell.Item)
	ledger.PendingSell = nil
	if err := e.ledgers.Save(ctx, ledger); err != nil {
		return err
	}
	log.Printf("[Executor] Restored item %s to %s after failed sale %s", ledger.Items[len(ledger.Items)-1].OID, identity.Key(), eventID)
	return nil
}

// IsDefiniteFailure reports whether an executor error left the ledger
// unchanged, making it safe for callers to compensate upstream debits.
func IsDefiniteFailure(err error) bool {
	return errors.Is(err, ErrInsufficientResources) ||
		errors.Is(err, ErrUnknownContainer) ||
		errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrItemLocked) ||
		errors.Is(err, ErrPendingSell)
}
