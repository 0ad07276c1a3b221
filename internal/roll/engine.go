package roll

import (
	"fmt"
	"log"
	"math/big"

	"tcsgo-engine/internal/model"
)

// wearWeights is the fixed cosmetic wear table. Wear is not subject to the
// integer weight-scale requirement, so an ordinary float draw is fine here.
var wearWeights = map[model.Wear]int{
	model.WearFactoryNew:    3,
	model.WearMinimalWear:   24,
	model.WearFieldTested:   33,
	model.WearWellWorn:      24,
	model.WearBattleScarred: 16,
}

// Pricer quotes an item price in cents. Estimated is true when no exact
// market price was available and the quote was derived from tier base price
// and multipliers.
type Pricer interface {
	Quote(itemID string, wear model.Wear, statTrak bool, variant, tier string) (cents int64, estimated bool)
}

// Outcome is the fully-resolved result of one roll. Immutable.
type Outcome struct {
	Item          model.Item `json:"item"`
	Tier          string     `json:"tier"`
	StatTrak      bool       `json:"statTrak"`
	Wear          model.Wear `json:"wear"`
	Price         int64      `json:"price"`
	PriceEstimate bool       `json:"priceEstimate"`
}

// Engine composes the weighted selector into a full case roll. It holds no
// state across calls; every roll is a pure function of the container
// definition and the random source.
type Engine struct {
	src    Source
	pricer Pricer
}

// NewEngine creates a roll engine.
func NewEngine(src Source, pricer Pricer) *Engine {
	return &Engine{src: src, pricer: pricer}
}

// Roll draws a tier, an item, a StatTrak sub-outcome and a wear bucket from
// the container, then prices the result. Containers are validated at load
// time, so a selector weight mismatch here indicates the definition changed
// underneath us and is surfaced as an error.
func (e *Engine) Roll(def *model.ContainerDef) (Outcome, error) {
	tier, err := e.drawTier(def)
	if err != nil {
		return Outcome{}, err
	}

	item, err := e.drawItem(def, tier)
	if err != nil {
		return Outcome{}, err
	}

	statTrak, err := e.drawStatTrak(item)
	if err != nil {
		return Outcome{}, err
	}

	wear := e.drawWear()

	price, estimated := e.pricer.Quote(item.ID, wear, statTrak, item.Variant, tier)

	return Outcome{
		Item:          item,
		Tier:          tier,
		StatTrak:      statTrak,
		Wear:          wear,
		Price:         price,
		PriceEstimate: estimated,
	}, nil
}

func (e *Engine) drawTier(def *model.ContainerDef) (string, error) {
	entries := make([]Entry, 0, len(def.OddsWeights))
	for _, tier := range def.TierOrder() {
		entries = append(entries, Entry{ID: tier, Weight: def.OddsWeights[tier]})
	}

	draw := e.src.DrawBig(big.NewInt(model.WeightScale))
	tier, err := Pick(entries, draw)
	if err != nil {
		return tier, fmt.Errorf("container %q: tier draw: %w", def.ID, err)
	}
	return tier, nil
}

func (e *Engine) drawItem(def *model.ContainerDef, tier string) (model.Item, error) {
	items := def.TierItems(tier)
	if len(items) == 0 {
		return model.Item{}, fmt.Errorf("container %q: tier %q has no items", def.ID, tier)
	}

	entries := make([]Entry, len(items))
	for i, item := range items {
		entries[i] = Entry{ID: item.ID, Weight: item.Weights.Base}
	}

	draw := e.src.DrawBig(Total(entries))
	id, err := Pick(entries, draw)
	if err != nil {
		return model.Item{}, fmt.Errorf("container %q: item draw: %w", def.ID, err)
	}
	for _, item := range items {
		if item.ID == id {
			return item, nil
		}
	}
	return model.Item{}, fmt.Errorf("container %q: selected item %q not found in tier %q", def.ID, id, tier)
}

// drawStatTrak runs the Bernoulli sub-outcome through the same selector
// mechanism as the main draws: a two-entry list over the item's plain integer
// weights, statTrak/base.
func (e *Engine) drawStatTrak(item model.Item) (bool, error) {
	if !item.StatTrakEligible || item.Weights.StatTrak <= 0 {
		return false, nil
	}

	entries := []Entry{
		{ID: "statTrak", Weight: item.Weights.StatTrak},
		{ID: "normal", Weight: item.Weights.NonStatTrak},
	}
	draw := e.src.DrawBig(big.NewInt(item.Weights.Base))
	id, err := Pick(entries, draw)
	if err != nil {
		// Base != statTrak + nonStatTrak should have failed validation;
		// log and take the deterministic pick.
		log.Printf("[RollEngine] statTrak weight mismatch for item %q: %v", item.ID, err)
	}
	return id == "statTrak", nil
}

func (e *Engine) drawWear() model.Wear {
	total := 0
	for _, w := range wearWeights {
		total += w
	}

	d := e.src.Float64() * float64(total)
	cumulative := 0.0
	for _, wear := range model.WearOrder {
		cumulative += float64(wearWeights[wear])
		if d < cumulative {
			return wear
		}
	}
	return model.WearOrder[len(model.WearOrder)-1]
}
