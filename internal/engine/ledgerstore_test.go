package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"tcsgo-engine/internal/kvstore"
	"tcsgo-engine/internal/model"
)

// corruptingStore wraps a store and serves corrupted bytes for a key on the
// first N reads after a write, simulating a backend that acks writes it did
// not durably apply.
type corruptingStore struct {
	kvstore.Store
	corruptKey   string
	corruptReads int
}

func (s *corruptingStore) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.Store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if key == s.corruptKey && s.corruptReads > 0 {
		s.corruptReads--
		return append([]byte(nil), raw[:len(raw)/2]...), nil
	}
	return raw, nil
}

func testLedger(inventoryID string) *model.Ledger {
	return model.NewLedger(inventoryID, model.Identity{Platform: "twitch", Username: "viewer"}, time.Now())
}

func TestSaveLoadRoundtrip(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore(kvstore.NewMemoryStore())

	ledger := testLedger("inv_1")
	ledger.Cases["chroma-case"] = 3
	ledger.Keys["chroma-case"] = 1
	if err := s.Save(ctx, ledger); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load(ctx, "inv_1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Cases["chroma-case"] != 3 || got.Keys["chroma-case"] != 1 {
		t.Errorf("loaded counts = %v / %v", got.Cases, got.Keys)
	}
	if got.SchemaVersion != model.LedgerSchemaVersion {
		t.Errorf("schema = %q", got.SchemaVersion)
	}
}

func TestLoadMissingLedger(t *testing.T) {
	s := NewLedgerStore(kvstore.NewMemoryStore())
	if _, err := s.Load(context.Background(), "inv_absent"); !errors.Is(err, ErrLedgerNotFound) {
		t.Fatalf("err = %v, want ErrLedgerNotFound", err)
	}
}

func TestLoadRefusesForeignSchema(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	s := NewLedgerStore(store)

	doc := map[string]any{
		"schemaVersion": "1.0-inventories",
		"inventoryId":   "inv_old",
	}
	raw, _ := json.Marshal(doc)
	if err := store.Set(ctx, "inventory:inv_old", raw); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := s.Load(ctx, "inv_old"); !errors.Is(err, ErrSchemaVersion) {
		t.Fatalf("err = %v, want ErrSchemaVersion", err)
	}

	// The refused document is left untouched.
	got, err := store.Get(ctx, "inventory:inv_old")
	if err != nil || string(got) != string(raw) {
		t.Error("refused document was modified")
	}
}

func TestSaveVerifyRetriesOnce(t *testing.T) {
	ctx := context.Background()
	inner := kvstore.NewMemoryStore()
	wrapped := &corruptingStore{Store: inner, corruptKey: "inventory:inv_flaky", corruptReads: 1}
	s := NewLedgerStore(wrapped)

	if err := s.Save(ctx, testLedger("inv_flaky")); err != nil {
		t.Fatalf("Save with one corrupt read-back should retry and succeed: %v", err)
	}

	if _, err := s.Load(ctx, "inv_flaky"); err != nil {
		t.Errorf("Load after retried save: %v", err)
	}
}

func TestSaveVerifyFailsAfterRetry(t *testing.T) {
	ctx := context.Background()
	inner := kvstore.NewMemoryStore()
	wrapped := &corruptingStore{Store: inner, corruptKey: "inventory:inv_bad", corruptReads: 2}
	s := NewLedgerStore(wrapped)

	if err := s.Save(ctx, testLedger("inv_bad")); !errors.Is(err, ErrSaveVerify) {
		t.Fatalf("err = %v, want ErrSaveVerify", err)
	}
}

func TestResolveCreatesAndIndexes(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore(kvstore.NewMemoryStore())
	identity := model.Identity{Platform: "Twitch", Username: "Viewer"}

	first, err := s.Resolve(ctx, identity)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if first.InventoryID == "" {
		t.Fatal("new ledger has no inventory id")
	}
	if !first.HasIdentity(identity.Key()) {
		t.Error("new ledger should carry the creating identity")
	}

	// Same identity with different casing resolves to the same ledger.
	second, err := s.Resolve(ctx, model.Identity{Platform: "twitch", Username: "viewer"})
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if second.InventoryID != first.InventoryID {
		t.Errorf("Resolve returned %s then %s for one identity", first.InventoryID, second.InventoryID)
	}

	index, err := s.LoadIndex(ctx)
	if err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}
	if index.Inventories["twitch:viewer"] != first.InventoryID {
		t.Errorf("index = %v", index.Inventories)
	}
}

func TestResolveRejectsInvalidIdentity(t *testing.T) {
	s := NewLedgerStore(kvstore.NewMemoryStore())
	if _, err := s.Resolve(context.Background(), model.Identity{Platform: "twitch"}); err == nil {
		t.Fatal("identity without a username should be rejected")
	}
}

func TestResolveRecreatesDanglingIndexEntry(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	s := NewLedgerStore(store)
	identity := model.Identity{Platform: "discord", Username: "ghost"}

	index := model.NewIdentityIndex(time.Now())
	index.Inventories[identity.Key()] = "inv_deleted"
	if err := s.SaveIndex(ctx, index); err != nil {
		t.Fatalf("SaveIndex: %v", err)
	}

	ledger, err := s.Resolve(ctx, identity)
	if err != nil {
		t.Fatalf("Resolve over dangling entry: %v", err)
	}
	if ledger.InventoryID == "inv_deleted" {
		t.Error("Resolve should mint a fresh inventory id")
	}

	reloaded, err := s.LoadIndex(ctx)
	if err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}
	if reloaded.Inventories[identity.Key()] != ledger.InventoryID {
		t.Error("index was not repointed at the recreated ledger")
	}
}

func TestResolveFollowsMergePointer(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore(kvstore.NewMemoryStore())
	identity := model.Identity{Platform: "twitch", Username: "merged"}

	survivor := testLedger("inv_survivor")
	survivor.Cases["chroma-case"] = 5
	if err := s.Save(ctx, survivor); err != nil {
		t.Fatalf("save survivor: %v", err)
	}

	absorbed := model.NewLedger("inv_absorbed", identity, time.Now())
	absorbed.MergedInto = "inv_survivor"
	if err := s.Save(ctx, absorbed); err != nil {
		t.Fatalf("save absorbed: %v", err)
	}

	index, _ := s.LoadIndex(ctx)
	index.Inventories[identity.Key()] = "inv_absorbed"
	if err := s.SaveIndex(ctx, index); err != nil {
		t.Fatalf("SaveIndex: %v", err)
	}

	got, err := s.Resolve(ctx, identity)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.InventoryID != "inv_survivor" {
		t.Errorf("resolved %s, want the merge survivor", got.InventoryID)
	}
	if got.Cases["chroma-case"] != 5 {
		t.Errorf("survivor cases = %v", got.Cases)
	}
}

func TestMergeCycleIsBounded(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore(kvstore.NewMemoryStore())
	identity := model.Identity{Platform: "twitch", Username: "cyclic"}

	a := model.NewLedger("inv_a", identity, time.Now())
	a.MergedInto = "inv_b"
	b := model.NewLedger("inv_b", identity, time.Now())
	b.MergedInto = "inv_a"
	if err := s.Save(ctx, a); err != nil {
		t.Fatalf("save a: %v", err)
	}
	if err := s.Save(ctx, b); err != nil {
		t.Fatalf("save b: %v", err)
	}

	index, _ := s.LoadIndex(ctx)
	index.Inventories[identity.Key()] = "inv_a"
	if err := s.SaveIndex(ctx, index); err != nil {
		t.Fatalf("SaveIndex: %v", err)
	}

	if _, err := s.Resolve(ctx, identity); err == nil {
		t.Fatal("a merge pointer cycle must resolve to an error, not hang")
	}
}
