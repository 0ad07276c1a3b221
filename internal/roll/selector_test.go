package roll

import (
	"errors"
	"math/big"
	mathrand "math/rand"
	"testing"
)

// tierEntries mirrors the odds layout of a real case at the 10^12 scale.
func tierEntries() []Entry {
	return []Entry{
		{ID: "blue", Weight: 799_200_000_000},
		{ID: "purple", Weight: 159_800_000_000},
		{ID: "pink", Weight: 32_000_000_000},
		{ID: "red", Weight: 6_400_000_000},
		{ID: "gold", Weight: 2_600_000_000},
	}
}

func TestPickBoundaries(t *testing.T) {
	entries := tierEntries()

	tests := []struct {
		name string
		draw int64
		want string
	}{
		{"zero selects first", 0, "blue"},
		{"last draw inside first band", 799_199_999_999, "blue"},
		{"draw equal to boundary selects next entry", 799_200_000_000, "purple"},
		{"last draw inside second band", 958_999_999_999, "purple"},
		{"second boundary", 959_000_000_000, "pink"},
		{"third boundary", 991_000_000_000, "red"},
		{"fourth boundary", 997_400_000_000, "gold"},
		{"maximum draw", 999_999_999_999, "gold"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Pick(entries, big.NewInt(tt.draw))
			if err != nil {
				t.Fatalf("Pick(%d) returned error: %v", tt.draw, err)
			}
			if got != tt.want {
				t.Errorf("Pick(%d) = %q, want %q", tt.draw, got, tt.want)
			}
		})
	}
}

func TestPickExhaustiveSmallWeights(t *testing.T) {
	entries := []Entry{
		{ID: "a", Weight: 1},
		{ID: "b", Weight: 2},
		{ID: "c", Weight: 7},
	}
	want := []string{"a", "b", "b", "c", "c", "c", "c", "c", "c", "c"}

	for draw, expected := range want {
		got, err := Pick(entries, big.NewInt(int64(draw)))
		if err != nil {
			t.Fatalf("Pick(%d) returned error: %v", draw, err)
		}
		if got != expected {
			t.Errorf("Pick(%d) = %q, want %q", draw, got, expected)
		}
	}
}

func TestPickZeroWeightEntriesAreUnreachable(t *testing.T) {
	entries := []Entry{
		{ID: "empty", Weight: 0},
		{ID: "only", Weight: 5},
	}
	for draw := int64(0); draw < 5; draw++ {
		got, err := Pick(entries, big.NewInt(draw))
		if err != nil {
			t.Fatalf("Pick(%d) returned error: %v", draw, err)
		}
		if got != "only" {
			t.Errorf("Pick(%d) = %q, want %q", draw, got, "only")
		}
	}
}

func TestPickMismatchGuard(t *testing.T) {
	entries := []Entry{
		{ID: "a", Weight: 3},
		{ID: "b", Weight: 3},
	}

	got, err := Pick(entries, big.NewInt(6))
	if !errors.Is(err, ErrWeightMismatch) {
		t.Fatalf("expected ErrWeightMismatch, got %v", err)
	}
	if got != "a" {
		t.Errorf("guard pick = %q, want deterministic first entry %q", got, "a")
	}
}

func TestPickInvalidInput(t *testing.T) {
	if _, err := Pick(nil, big.NewInt(0)); err == nil {
		t.Error("expected error for empty entries")
	}
	if _, err := Pick(tierEntries(), big.NewInt(-1)); err == nil {
		t.Error("expected error for negative draw")
	}
	if _, err := Pick([]Entry{{ID: "x", Weight: -5}}, big.NewInt(0)); err == nil {
		t.Error("expected error for negative weight")
	}
}

func TestTotal(t *testing.T) {
	total := Total(tierEntries())
	if total.Cmp(big.NewInt(1_000_000_000_000)) != 0 {
		t.Errorf("Total = %s, want 1000000000000", total.String())
	}
	if Total(nil).Sign() != 0 {
		t.Error("Total of no entries should be zero")
	}
}

func TestPickFrequenciesConverge(t *testing.T) {
	entries := []Entry{
		{ID: "a", Weight: 1},
		{ID: "b", Weight: 2},
		{ID: "c", Weight: 7},
	}
	total := Total(entries)

	const n = 100_000
	rng := mathrand.New(mathrand.NewSource(1))
	counts := map[string]int{}
	for i := 0; i < n; i++ {
		draw := new(big.Int).Rand(rng, total)
		id, err := Pick(entries, draw)
		if err != nil {
			t.Fatalf("Pick: %v", err)
		}
		counts[id]++
	}

	want := map[string]float64{"a": 0.1, "b": 0.2, "c": 0.7}
	const tolerance = 0.02
	for id, expected := range want {
		got := float64(counts[id]) / n
		if got < expected-tolerance || got > expected+tolerance {
			t.Errorf("frequency of %s = %.4f, want %.2f within %.2f", id, got, expected, tolerance)
		}
	}
}

func TestSourceDrawBigStaysInRange(t *testing.T) {
	src := NewSource()
	total := big.NewInt(1_000_000_000_000)
	for i := 0; i < 1000; i++ {
		draw := src.DrawBig(total)
		if draw.Sign() < 0 || draw.Cmp(total) >= 0 {
			t.Fatalf("draw %s out of [0, %s)", draw.String(), total.String())
		}
	}
}
