package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"tcsgo-engine/internal/engine"
	"tcsgo-engine/internal/kvstore"
	"tcsgo-engine/internal/model"
	"tcsgo-engine/internal/queue"
	"tcsgo-engine/internal/repository"
)

func reconcileFixture(t *testing.T) (*ReconcileService, *engine.LedgerStore, *repository.MemoryLinkRepository, *fixtureClock) {
	t.Helper()
	clk := &fixtureClock{t: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
	store := kvstore.NewMemoryStore()
	ledgers := engine.NewLedgerStore(store, engine.WithLedgerClock(clk.Now))
	links := repository.NewMemoryLinkRepository()
	q := queue.New(store, QueueFamily)
	return NewReconcileService(links, ledgers, q), ledgers, links, clk
}

func TestReconcileUnlinkedIdentityIsNoOpMerge(t *testing.T) {
	ctx := context.Background()
	svc, ledgers, _, _ := reconcileFixture(t)
	alone := model.Identity{Platform: "twitch", Username: "solo"}

	report, err := svc.Reconcile(ctx, alone)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(report.MergedIDs) != 0 {
		t.Errorf("merged = %v, want none", report.MergedIDs)
	}

	ledger, err := ledgers.Resolve(ctx, alone)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if report.SurvivorID != ledger.InventoryID {
		t.Errorf("survivor = %s, ledger = %s", report.SurvivorID, ledger.InventoryID)
	}
}

func TestReconcileMergesIntoOldestLedger(t *testing.T) {
	ctx := context.Background()
	svc, ledgers, links, clk := reconcileFixture(t)

	twitch := model.Identity{Platform: "twitch", Username: "dual"}
	discord := model.Identity{Platform: "discord", Username: "dual"}

	// The twitch ledger is created first and must survive.
	older, err := ledgers.Resolve(ctx, twitch)
	if err != nil {
		t.Fatalf("resolve twitch: %v", err)
	}
	older.Cases["chroma-case"] = 2
	if err := ledgers.Save(ctx, older); err != nil {
		t.Fatalf("save older: %v", err)
	}

	clk.Advance(time.Hour)
	newer, err := ledgers.Resolve(ctx, discord)
	if err != nil {
		t.Fatalf("resolve discord: %v", err)
	}
	newer.Cases["chroma-case"] = 3
	newer.Keys["chroma-case-key"] = 1
	newer.Items = append(newer.Items, model.OwnedItem{OID: "oid_x", ItemID: "mp9-sand-dashed"})
	if err := ledgers.Save(ctx, newer); err != nil {
		t.Fatalf("save newer: %v", err)
	}

	if err := links.CreateLink(ctx, twitch, discord); err != nil {
		t.Fatalf("CreateLink: %v", err)
	}

	report, err := svc.Reconcile(ctx, discord)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.SurvivorID != older.InventoryID {
		t.Fatalf("survivor = %s, want the older ledger %s", report.SurvivorID, older.InventoryID)
	}
	if len(report.MergedIDs) != 1 || report.MergedIDs[0] != newer.InventoryID {
		t.Errorf("merged = %v", report.MergedIDs)
	}
	if report.ItemsMoved != 1 {
		t.Errorf("items moved = %d", report.ItemsMoved)
	}

	// Both identities now resolve to the survivor with the summed contents.
	for _, id := range []model.Identity{twitch, discord} {
		ledger, err := ledgers.Resolve(ctx, id)
		if err != nil {
			t.Fatalf("resolve %s after merge: %v", id.Key(), err)
		}
		if ledger.InventoryID != older.InventoryID {
			t.Errorf("%s resolves to %s, want survivor", id.Key(), ledger.InventoryID)
		}
	}
	merged, _ := ledgers.Load(ctx, older.InventoryID)
	if merged.Cases["chroma-case"] != 5 || merged.Keys["chroma-case-key"] != 1 {
		t.Errorf("survivor counts = %v / %v", merged.Cases, merged.Keys)
	}
	if len(merged.Items) != 1 || merged.Items[0].OID != "oid_x" {
		t.Errorf("survivor items = %v", merged.Items)
	}
	if !merged.HasIdentity("discord:dual") || !merged.HasIdentity("twitch:dual") {
		t.Errorf("survivor identities = %v", merged.Identities)
	}

	// The absorbed ledger is emptied and points at the survivor.
	absorbed, err := ledgers.Load(ctx, newer.InventoryID)
	if err != nil {
		t.Fatalf("load absorbed: %v", err)
	}
	if absorbed.MergedInto != older.InventoryID || absorbed.MergedAt == nil {
		t.Errorf("absorbed pointer = %q / %v", absorbed.MergedInto, absorbed.MergedAt)
	}
	if len(absorbed.Items) != 0 || len(absorbed.Cases) != 0 {
		t.Error("absorbed ledger should be emptied")
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, ledgers, links, clk := reconcileFixture(t)

	twitch := model.Identity{Platform: "twitch", Username: "stable"}
	discord := model.Identity{Platform: "discord", Username: "stable"}

	first, _ := ledgers.Resolve(ctx, twitch)
	first.Cases["chroma-case"] = 1
	if err := ledgers.Save(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	clk.Advance(time.Minute)
	if _, err := ledgers.Resolve(ctx, discord); err != nil {
		t.Fatalf("resolve discord: %v", err)
	}
	if err := links.CreateLink(ctx, twitch, discord); err != nil {
		t.Fatalf("CreateLink: %v", err)
	}

	if _, err := svc.Reconcile(ctx, twitch); err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}
	report, err := svc.Reconcile(ctx, twitch)
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if len(report.MergedIDs) != 0 {
		t.Errorf("second pass merged %v, want nothing left to merge", report.MergedIDs)
	}

	survivor, _ := ledgers.Load(ctx, first.InventoryID)
	if survivor.Cases["chroma-case"] != 1 {
		t.Errorf("cases = %v, repeat merge must not duplicate contents", survivor.Cases)
	}
}

func TestReconcileRefusedWhileDrainLeaseHeld(t *testing.T) {
	ctx := context.Background()
	clk := &fixtureClock{t: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
	store := kvstore.NewMemoryStore()
	ledgers := engine.NewLedgerStore(store, engine.WithLedgerClock(clk.Now))
	links := repository.NewMemoryLinkRepository()
	q := queue.New(store, QueueFamily)
	svc := NewReconcileService(links, ledgers, q)

	// A drainer holds the lease; reconcile must refuse rather than rewrite
	// ledgers the executor may be mid-mutation on.
	if ok, err := q.TryAcquire(ctx, "drainer"); err != nil || !ok {
		t.Fatalf("acquire lease: (%v, %v)", ok, err)
	}

	solo := model.Identity{Platform: "twitch", Username: "solo"}
	if _, err := svc.Reconcile(ctx, solo); !errors.Is(err, ErrReconcileBusy) {
		t.Fatalf("err = %v, want ErrReconcileBusy", err)
	}

	// Once the drainer releases, reconcile proceeds and releases the lease
	// itself afterwards.
	if err := q.Release(ctx, "drainer"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := svc.Reconcile(ctx, solo); err != nil {
		t.Fatalf("Reconcile after release: %v", err)
	}
	if lock, err := q.LockInfo(ctx); err != nil || lock != nil {
		t.Errorf("lease after reconcile = (%+v, %v), want released", lock, err)
	}
}

func TestReconcileBlockedByPendingSale(t *testing.T) {
	ctx := context.Background()
	svc, ledgers, links, clk := reconcileFixture(t)

	twitch := model.Identity{Platform: "twitch", Username: "seller"}
	discord := model.Identity{Platform: "discord", Username: "seller"}

	if _, err := ledgers.Resolve(ctx, twitch); err != nil {
		t.Fatalf("resolve twitch: %v", err)
	}
	clk.Advance(time.Minute)
	pending, _ := ledgers.Resolve(ctx, discord)
	pending.PendingSell = &model.SellTicket{EventID: "evt_open_sale"}
	if err := ledgers.Save(ctx, pending); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := links.CreateLink(ctx, twitch, discord); err != nil {
		t.Fatalf("CreateLink: %v", err)
	}

	if _, err := svc.Reconcile(ctx, twitch); err == nil {
		t.Fatal("a pending sale on an absorbed ledger must block the merge")
	}
}
