package pricing

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"strings"
	"sync"

	"tcsgo-engine/internal/model"
)

// Default multipliers used when the price book document omits them. Values in
// the book are CAD dollars; quotes are returned in cents.
var defaultWearMultipliers = map[model.Wear]float64{
	model.WearFactoryNew:    1.00,
	model.WearMinimalWear:   0.80,
	model.WearFieldTested:   0.60,
	model.WearWellWorn:      0.45,
	model.WearBattleScarred: 0.35,
}

const defaultStatTrakMultiplier = 2.2

var defaultTierBase = map[string]float64{
	"blue":         0.40,
	"purple":       2.50,
	"pink":         9.00,
	"red":          35.00,
	model.TierGold: 150.00,
}

// BookDocument is the persisted price book shape. Item prices are keyed
// "<itemId>|<wear>|<statTrak01>|<variant>"; variant "None" when absent.
type BookDocument struct {
	Cases              map[string]float64 `json:"cases"`
	Keys               map[string]float64 `json:"keys"`
	Items              map[string]float64 `json:"items"`
	WearMultipliers    map[string]float64 `json:"wearMultipliers,omitempty"`
	StatTrakMultiplier float64            `json:"statTrakMultiplier,omitempty"`
	TierBase           map[string]float64 `json:"tierBase,omitempty"`
}

// Book answers price quotes from a loaded price document, falling back to a
// computed estimate when no exact entry exists.
type Book struct {
	mu  sync.RWMutex
	doc BookDocument
}

// NewBook wraps a document in a quotable book.
func NewBook(doc BookDocument) *Book {
	if doc.Cases == nil {
		doc.Cases = map[string]float64{}
	}
	if doc.Keys == nil {
		doc.Keys = map[string]float64{}
	}
	if doc.Items == nil {
		doc.Items = map[string]float64{}
	}
	return &Book{doc: doc}
}

// LoadBook reads a price book JSON file.
func LoadBook(path string) (*Book, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read price book: %w", err)
	}
	var doc BookDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse price book %s: %w", path, err)
	}
	book := NewBook(doc)
	log.Printf("[PriceBook] Loaded %d item, %d case, %d key prices from %s",
		len(doc.Items), len(doc.Cases), len(doc.Keys), path)
	return book, nil
}

// ItemKey builds the exact-lookup key for an item price.
func ItemKey(itemID string, wear model.Wear, statTrak bool, variant string) string {
	st := "0"
	if statTrak {
		st = "1"
	}
	v := strings.TrimSpace(variant)
	if v == "" {
		v = "None"
	}
	return fmt.Sprintf("%s|%s|%s|%s", itemID, wear, st, v)
}

// Quote returns the item price in cents. If an exact cached price exists for
// (itemId, wear, statTrak, variant) it is used; otherwise the quote is
// computed from the tier base price and multipliers, rounded to the cent, and
// marked as estimated.
func (b *Book) Quote(itemID string, wear model.Wear, statTrak bool, variant, tier string) (int64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if price, ok := b.doc.Items[ItemKey(itemID, wear, statTrak, variant)]; ok {
		return toCents(price), false
	}

	base, ok := b.doc.TierBase[tier]
	if !ok {
		base = defaultTierBase[tier]
	}
	mult := b.wearMultiplier(wear)
	if statTrak {
		st := b.doc.StatTrakMultiplier
		if st <= 0 {
			st = defaultStatTrakMultiplier
		}
		mult *= st
	}
	return toCents(base * mult), true
}

// CasePrice returns the purchase price of a container in cents.
func (b *Book) CasePrice(caseID string) (int64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	price, ok := b.doc.Cases[caseID]
	if !ok {
		return 0, false
	}
	return toCents(price), true
}

// KeyPrice returns the purchase price of a key in cents.
func (b *Book) KeyPrice(keyID string) (int64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	price, ok := b.doc.Keys[keyID]
	if !ok {
		return 0, false
	}
	return toCents(price), true
}

// Replace swaps the book contents, used when the refresher rewrites prices.
func (b *Book) Replace(doc BookDocument) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.doc = doc
}

func (b *Book) wearMultiplier(wear model.Wear) float64 {
	if m, ok := b.doc.WearMultipliers[string(wear)]; ok && m > 0 {
		return m
	}
	return defaultWearMultipliers[wear]
}

// toCents rounds a dollar price to the economy's smallest unit.
func toCents(dollars float64) int64 {
	return int64(math.Round(dollars * 100))
}
