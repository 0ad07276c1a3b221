package roll

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/big"
	mathrand "math/rand"
	"sync"
)

// Source produces the random draws the engine consumes. Implementations must
// be safe for concurrent use; tests substitute a scripted source.
type Source interface {
	// DrawBig returns a uniform integer in [0, total).
	DrawBig(total *big.Int) *big.Int

	// Float64 returns a uniform float in [0, 1). Only used for cosmetic
	// sub-outcomes (wear) where the integer precision requirement does not
	// apply.
	Float64() float64
}

// randSource wraps math/rand seeded from crypto/rand.
type randSource struct {
	mu  sync.Mutex
	rng *mathrand.Rand
}

// NewSource creates the production random source.
func NewSource() Source {
	var seed int64
	var buf [8]byte
	if _, err := crand.Read(buf[:]); err == nil {
		seed = int64(binary.LittleEndian.Uint64(buf[:]))
	}
	return &randSource{rng: mathrand.New(mathrand.NewSource(seed))}
}

func (s *randSource) DrawBig(total *big.Int) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if total.Sign() <= 0 {
		return new(big.Int)
	}
	return new(big.Int).Rand(s.rng, total)
}

func (s *randSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}
