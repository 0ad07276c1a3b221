package model

import (
	"fmt"
	"sort"
)

// ContainerSchemaVersion is the case export layout this engine reads.
const ContainerSchemaVersion = "3.0-case-export"

// WeightScale is the fixed total every container's tier odds and item base
// weights must sum to. Weights at this scale exceed float64's exact integer
// range when multiplied, which is why all selection math is integer-only.
const WeightScale = int64(1_000_000_000_000)

// TierGold is the special tier drawn from the gold pool instead of tiers.
const TierGold = "gold"

// tierRank orders tiers for deterministic selection; unknown tiers sort after
// the known ones by name.
var tierRank = map[string]int{
	"blue":   0,
	"purple": 1,
	"pink":   2,
	"red":    3,
	TierGold: 4,
}

// Case types that do not require a key to open.
var keylessCaseTypes = map[string]bool{
	"souvenir_package": true,
	"souvenir-package": true,
	"other":            true,
}

// ItemWeights carries the integer selection weights for one item. Base must
// equal NonStatTrak + StatTrak.
type ItemWeights struct {
	Base        int64 `json:"base"`
	NonStatTrak int64 `json:"nonStatTrak"`
	StatTrak    int64 `json:"statTrak"`
}

// Item is one rollable entry in a container tier or gold pool.
type Item struct {
	ID               string      `json:"id"`
	DisplayName      string      `json:"displayName"`
	Category         string      `json:"category"`
	Weapon           string      `json:"weapon"`
	Skin             string      `json:"skin"`
	Variant          string      `json:"variant"`
	StatTrakEligible bool        `json:"statTrakEligible"`
	Weights          ItemWeights `json:"weights"`
}

// GoldPool holds the special items drawn when the gold tier is selected.
type GoldPool struct {
	Items []Item `json:"items"`
}

// ContainerDef is a read-only container definition loaded from a case export.
type ContainerDef struct {
	SchemaVersion string            `json:"schemaVersion"`
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	CaseType      string            `json:"caseType"`
	KeyID         string            `json:"keyId,omitempty"`
	OddsWeights   map[string]int64  `json:"oddsWeights"`
	Tiers         map[string][]Item `json:"tiers"`
	GoldPool      *GoldPool         `json:"goldPool,omitempty"`
}

// RequiresKey reports whether opening this container consumes a key.
func (c *ContainerDef) RequiresKey() bool {
	return !keylessCaseTypes[c.CaseType]
}

// TierOrder returns the container's tiers in deterministic draw order.
func (c *ContainerDef) TierOrder() []string {
	tiers := make([]string, 0, len(c.OddsWeights))
	for tier := range c.OddsWeights {
		tiers = append(tiers, tier)
	}
	sort.Slice(tiers, func(i, j int) bool {
		ri, iok := tierRank[tiers[i]]
		rj, jok := tierRank[tiers[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok:
			return true
		case jok:
			return false
		default:
			return tiers[i] < tiers[j]
		}
	})
	return tiers
}

// TierItems returns the rollable items for a tier, honoring the gold pool.
func (c *ContainerDef) TierItems(tier string) []Item {
	if tier == TierGold && c.GoldPool != nil {
		return c.GoldPool.Items
	}
	return c.Tiers[tier]
}

// Validate enforces the weight invariants at load time. Inconsistent weights
// are a data error in the case export and must be fixed at the source; the
// engine refuses to roll from an invalid container.
func (c *ContainerDef) Validate() error {
	if c.SchemaVersion != ContainerSchemaVersion {
		return fmt.Errorf("container %q: unsupported schemaVersion %q", c.ID, c.SchemaVersion)
	}
	if c.ID == "" {
		return fmt.Errorf("container missing id")
	}
	if len(c.OddsWeights) == 0 {
		return fmt.Errorf("container %q: no oddsWeights", c.ID)
	}

	var tierTotal int64
	for tier, w := range c.OddsWeights {
		if w < 0 {
			return fmt.Errorf("container %q: negative weight for tier %q", c.ID, tier)
		}
		tierTotal += w
		if len(c.TierItems(tier)) == 0 {
			return fmt.Errorf("container %q: tier %q has no items", c.ID, tier)
		}
	}
	if tierTotal != WeightScale {
		return fmt.Errorf("container %q: tier weights sum to %d, want %d", c.ID, tierTotal, WeightScale)
	}

	var itemTotal int64
	check := func(tier string, items []Item) error {
		for _, item := range items {
			w := item.Weights
			if w.Base != w.NonStatTrak+w.StatTrak {
				return fmt.Errorf("container %q: item %q base weight %d != nonStatTrak %d + statTrak %d",
					c.ID, item.ID, w.Base, w.NonStatTrak, w.StatTrak)
			}
			if w.StatTrak > 0 && !item.StatTrakEligible {
				return fmt.Errorf("container %q: item %q has statTrak weight but is not eligible", c.ID, item.ID)
			}
			itemTotal += w.Base
		}
		return nil
	}
	for tier, items := range c.Tiers {
		if err := check(tier, items); err != nil {
			return err
		}
	}
	if c.GoldPool != nil {
		if err := check(TierGold, c.GoldPool.Items); err != nil {
			return err
		}
	}
	if itemTotal != WeightScale {
		return fmt.Errorf("container %q: item base weights sum to %d, want %d", c.ID, itemTotal, WeightScale)
	}
	return nil
}
