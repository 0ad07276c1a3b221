package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"tcsgo-engine/internal/engine"
	"tcsgo-engine/internal/model"
	"tcsgo-engine/internal/queue"
	"tcsgo-engine/internal/repository"
	"tcsgo-engine/pkg/uid"
)

// ErrReconcileBusy means the drain lease is currently held, so a reconcile
// would race the executor's ledger writes. Retry once the drain finishes.
var ErrReconcileBusy = errors.New("drain in progress, retry reconcile later")

// ReconcileService folds the inventories of linked identities into one
// surviving ledger. Absorbed ledgers keep a mergedInto pointer so stale
// index entries and old references still resolve.
type ReconcileService struct {
	links   repository.LinkRepository
	ledgers *engine.LedgerStore
	queue   *queue.JobQueue
	ownerID string
	now     func() time.Time
}

// NewReconcileService creates a reconcile service. The queue is the economy
// command queue whose lease serializes all ledger writers.
func NewReconcileService(links repository.LinkRepository, ledgers *engine.LedgerStore, q *queue.JobQueue) *ReconcileService {
	return &ReconcileService{
		links:   links,
		ledgers: ledgers,
		queue:   q,
		ownerID: uid.New(),
		now:     time.Now,
	}
}

// ReconcileReport summarizes one reconcile pass.
type ReconcileReport struct {
	SurvivorID string   `json:"survivorId"`
	MergedIDs  []string `json:"mergedIds"`
	Identities []string `json:"identities"`
	ItemsMoved int      `json:"itemsMoved"`
}

// Reconcile merges every ledger in the identity's link group into the
// oldest one. Identities with a single ledger return a report with no
// merges. Reconcile rewrites ledgers and must not race the executor, so it
// takes the drain lease for the duration; if the lease is held it returns
// ErrReconcileBusy instead of waiting.
func (s *ReconcileService) Reconcile(ctx context.Context, identity model.Identity) (*ReconcileReport, error) {
	acquired, err := s.queue.TryAcquire(ctx, s.ownerID)
	if err != nil {
		return nil, fmt.Errorf("acquire drain lease: %w", err)
	}
	if !acquired {
		return nil, ErrReconcileBusy
	}
	defer func() {
		if err := s.queue.Release(ctx, s.ownerID); err != nil {
			log.Printf("[ReconcileService] Release drain lease: %v", err)
		}
	}()

	linked, err := s.links.ResolveLinks(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("resolve links for %s: %w", identity.Key(), err)
	}

	// Distinct ledgers across the group, keyed by inventory id.
	byID := make(map[string]*model.Ledger)
	for _, id := range linked {
		ledger, err := s.ledgers.Resolve(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolve ledger for %s: %w", id.Key(), err)
		}
		byID[ledger.InventoryID] = ledger
	}

	ledgers := make([]*model.Ledger, 0, len(byID))
	for _, l := range byID {
		ledgers = append(ledgers, l)
	}
	sort.Slice(ledgers, func(i, j int) bool {
		if !ledgers[i].CreatedAt.Equal(ledgers[j].CreatedAt) {
			return ledgers[i].CreatedAt.Before(ledgers[j].CreatedAt)
		}
		return ledgers[i].InventoryID < ledgers[j].InventoryID
	})

	survivor := ledgers[0]
	report := &ReconcileReport{SurvivorID: survivor.InventoryID}

	if len(ledgers) == 1 {
		s.adoptIdentities(survivor, linked)
		if err := s.ledgers.Save(ctx, survivor); err != nil {
			return nil, err
		}
		report.Identities = survivor.Identities
		return report, s.reindex(ctx, linked, survivor.InventoryID)
	}

	now := s.now().UTC()
	for _, absorbed := range ledgers[1:] {
		if absorbed.PendingSell != nil {
			return nil, fmt.Errorf("ledger %s has an unresolved sale, reconcile later", absorbed.InventoryID)
		}
		for id, n := range absorbed.Cases {
			survivor.Cases[id] += n
		}
		for id, n := range absorbed.Keys {
			survivor.Keys[id] += n
		}
		survivor.Items = append(survivor.Items, absorbed.Items...)
		report.ItemsMoved += len(absorbed.Items)
		for _, key := range absorbed.Identities {
			if !survivor.HasIdentity(key) {
				survivor.Identities = append(survivor.Identities, key)
			}
		}

		absorbed.Cases = map[string]int{}
		absorbed.Keys = map[string]int{}
		absorbed.Items = []model.OwnedItem{}
		absorbed.MergedInto = survivor.InventoryID
		absorbed.MergedAt = &now
		report.MergedIDs = append(report.MergedIDs, absorbed.InventoryID)
	}
	s.adoptIdentities(survivor, linked)

	// Survivor first: if the absorbed writes fail their contents are still
	// present in the survivor and the merge can be re-run.
	if err := s.ledgers.Save(ctx, survivor); err != nil {
		return nil, err
	}
	for _, absorbed := range ledgers[1:] {
		if err := s.ledgers.Save(ctx, absorbed); err != nil {
			return nil, err
		}
	}
	if err := s.reindex(ctx, linked, survivor.InventoryID); err != nil {
		return nil, err
	}

	report.Identities = survivor.Identities
	log.Printf("[ReconcileService] Merged %d ledgers into %s (%d items moved)", len(report.MergedIDs), survivor.InventoryID, report.ItemsMoved)
	return report, nil
}

func (s *ReconcileService) adoptIdentities(survivor *model.Ledger, linked []model.Identity) {
	for _, id := range linked {
		if !survivor.HasIdentity(id.Key()) {
			survivor.Identities = append(survivor.Identities, id.Key())
		}
	}
}

func (s *ReconcileService) reindex(ctx context.Context, linked []model.Identity, survivorID string) error {
	index, err := s.ledgers.LoadIndex(ctx)
	if err != nil {
		return err
	}
	changed := false
	for _, id := range linked {
		if index.Inventories[id.Key()] != survivorID {
			index.Inventories[id.Key()] = survivorID
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.ledgers.SaveIndex(ctx, index)
}
