package roll

import (
	"errors"
	"fmt"
	"math/big"
)

// ErrWeightMismatch is returned when a draw lands past the actual cumulative
// weight of the entries, which can only happen when the caller's declared
// total disagrees with the entries' real sum. The selector still returns the
// first entry so the guard is deterministic, but callers must treat this as a
// data-validation failure to fix at the source, not normal control flow.
var ErrWeightMismatch = errors.New("draw exceeded cumulative weights; declared total does not match entry sum")

// Entry is one weighted candidate.
type Entry struct {
	ID     string
	Weight int64
}

// Pick returns the id of the first entry whose cumulative weight strictly
// exceeds draw, for a uniform draw in [0, total). A draw equal to a
// cumulative boundary therefore selects the next entry, never the current
// one. All arithmetic is integer-only: totals at the 10^12 weight scale must
// never pass through floating point.
func Pick(entries []Entry, draw *big.Int) (string, error) {
	if len(entries) == 0 {
		return "", fmt.Errorf("no entries to pick from")
	}
	if draw.Sign() < 0 {
		return "", fmt.Errorf("draw must be non-negative, got %s", draw.String())
	}

	cumulative := new(big.Int)
	for _, e := range entries {
		if e.Weight < 0 {
			return "", fmt.Errorf("entry %q has negative weight %d", e.ID, e.Weight)
		}
		cumulative.Add(cumulative, big.NewInt(e.Weight))
		if cumulative.Cmp(draw) > 0 {
			return e.ID, nil
		}
	}

	return entries[0].ID, fmt.Errorf("%w: draw=%s sum=%s", ErrWeightMismatch, draw.String(), cumulative.String())
}

// Total sums the entry weights as a big integer.
func Total(entries []Entry) *big.Int {
	total := new(big.Int)
	for _, e := range entries {
		total.Add(total, big.NewInt(e.Weight))
	}
	return total
}
