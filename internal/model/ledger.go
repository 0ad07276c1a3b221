package model

import (
	"fmt"
	"strings"
	"time"
)

// LedgerSchemaVersion is the only inventory document schema this engine
// operates on. Unrecognized versions are refused, never migrated in place.
const LedgerSchemaVersion = "2.0-inventories"

// IndexSchemaVersion versions the identity index document.
const IndexSchemaVersion = "2.0-identity-index"

// TradeLockPeriod is the fixed duration after acquisition during which an
// owned item cannot be sold.
const TradeLockPeriod = 7 * 24 * time.Hour

// Wear is the cosmetic wear bucket assigned at roll time.
type Wear string

const (
	WearFactoryNew    Wear = "Factory New"
	WearMinimalWear   Wear = "Minimal Wear"
	WearFieldTested   Wear = "Field-Tested"
	WearWellWorn      Wear = "Well-Worn"
	WearBattleScarred Wear = "Battle-Scarred"
)

// WearOrder lists the wear buckets best to worst. Selection weights and the
// price book both iterate in this order.
var WearOrder = []Wear{
	WearFactoryNew,
	WearMinimalWear,
	WearFieldTested,
	WearWellWorn,
	WearBattleScarred,
}

// Identity is a canonicalized platform user.
type Identity struct {
	Platform string `json:"platform"`
	Username string `json:"username"`
}

// Key returns the lowercase "platform:username" form used as the identity
// index key and in persisted identity lists.
func (id Identity) Key() string {
	return strings.ToLower(strings.TrimSpace(id.Platform)) + ":" + strings.ToLower(strings.TrimSpace(id.Username))
}

// Validate checks that both parts are present.
func (id Identity) Validate() error {
	if strings.TrimSpace(id.Platform) == "" || strings.TrimSpace(id.Username) == "" {
		return fmt.Errorf("identity requires platform and username")
	}
	return nil
}

// OwnedItem is one rolled item in an inventory. Immutable once created except
// for removal on sale.
type OwnedItem struct {
	OID             string    `json:"oid"`
	ItemID          string    `json:"itemId"`
	DisplayName     string    `json:"displayName"`
	Tier            string    `json:"tier"`
	Category        string    `json:"category"`
	Weapon          string    `json:"weapon"`
	Skin            string    `json:"skin"`
	Variant         string    `json:"variant"`
	StatTrak        bool      `json:"statTrak"`
	Wear            Wear      `json:"wear"`
	AcquiredAt      time.Time `json:"acquiredAt"`
	LockedUntil     time.Time `json:"lockedUntil"`
	FromContainerID string    `json:"fromContainerId"`
	// PriceSnapshot is the quoted price in cents at roll time.
	PriceSnapshot int64 `json:"priceSnapshot"`
	PriceEstimate bool  `json:"priceEstimate"`
}

// Locked reports whether the trade lock is still active at now.
func (i OwnedItem) Locked(now time.Time) bool {
	return now.Before(i.LockedUntil)
}

// SellTicket records an in-flight sale: the item has been removed from the
// inventory but the wallet credit has not been confirmed yet.
type SellTicket struct {
	EventID   string    `json:"eventId"`
	Item      OwnedItem `json:"item"`
	Price     int64     `json:"price"`
	CreatedAt time.Time `json:"createdAt"`
}

// Ledger is one identity group's inventory document. It is read, modified and
// written back as a whole by the mutation executor; nothing else writes it.
type Ledger struct {
	SchemaVersion string         `json:"schemaVersion"`
	InventoryID   string         `json:"inventoryId"`
	CreatedAt     time.Time      `json:"createdAt"`
	LastModified  time.Time      `json:"lastModified"`
	Cases         map[string]int `json:"cases"`
	Keys          map[string]int `json:"keys"`
	Items         []OwnedItem    `json:"items"`
	PendingSell   *SellTicket    `json:"pendingSell,omitempty"`
	Identities    []string       `json:"identities"`
	MergedInto    string         `json:"mergedInto,omitempty"`
	MergedAt      *time.Time     `json:"mergedAt,omitempty"`
}

// NewLedger creates an empty schema-2.0 ledger for one identity.
func NewLedger(inventoryID string, identity Identity, now time.Time) *Ledger {
	return &Ledger{
		SchemaVersion: LedgerSchemaVersion,
		InventoryID:   inventoryID,
		CreatedAt:     now.UTC(),
		LastModified:  now.UTC(),
		Cases:         map[string]int{},
		Keys:          map[string]int{},
		Items:         []OwnedItem{},
		Identities:    []string{identity.Key()},
	}
}

// Normalize backfills nil maps and slices so count math never nil-panics on
// documents written by older tooling.
func (l *Ledger) Normalize() {
	if l.Cases == nil {
		l.Cases = map[string]int{}
	}
	if l.Keys == nil {
		l.Keys = map[string]int{}
	}
	if l.Items == nil {
		l.Items = []OwnedItem{}
	}
	if l.Identities == nil {
		l.Identities = []string{}
	}
}

// HasIdentity reports whether the identity key is already attached.
func (l *Ledger) HasIdentity(key string) bool {
	for _, id := range l.Identities {
		if id == key {
			return true
		}
	}
	return false
}

// FindItem returns the index of the item with the given oid, or -1.
func (l *Ledger) FindItem(oid string) int {
	for i := range l.Items {
		if l.Items[i].OID == oid {
			return i
		}
	}
	return -1
}

// IdentityIndex maps identity keys to inventory ids. Stored as its own
// document so identity resolution does not load every ledger.
type IdentityIndex struct {
	SchemaVersion string            `json:"schemaVersion"`
	LastModified  time.Time         `json:"lastModified"`
	Inventories   map[string]string `json:"identityIndex"`
}

// NewIdentityIndex creates an empty index document.
func NewIdentityIndex(now time.Time) *IdentityIndex {
	return &IdentityIndex{
		SchemaVersion: IndexSchemaVersion,
		LastModified:  now.UTC(),
		Inventories:   map[string]string{},
	}
}
