package dla

import (
	"math/rand"
	"time"
)

// Source yields uniform draws in [0, 1). *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// NewSeededSource returns a math/rand generator seeded with seed.
func NewSeededSource(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

func timeSeed() int64 {
	return time.Now().UnixNano()
}
