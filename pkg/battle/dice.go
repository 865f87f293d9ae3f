package battle

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"sync"
)

// Dice is the only source of randomness in the engine. *rand.Rand satisfies it.
type Dice interface {
	Intn(n int) int
	Float64() float64
}

// NewDice returns a deterministic source for the given seed. It is not safe
// for concurrent use; wrap it with NewLockedDice when shared.
func NewDice(seed int64) Dice {
	return rand.New(rand.NewSource(seed))
}

// RandomSeed draws a seed from crypto/rand.
func RandomSeed() (int64, error) {
	var buf [8]byte
	if _, err := crand.Read(buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf[:]) & 0x7fffffffffffffff), nil
}

// LockedDice serializes access to an underlying Dice.
type LockedDice struct {
	mu sync.Mutex
	d  Dice
}

// NewLockedDice wraps d for use from many goroutines.
func NewLockedDice(d Dice) *LockedDice {
	return &LockedDice{d: d}
}

func (l *LockedDice) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.d.Intn(n)
}

func (l *LockedDice) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.d.Float64()
}

// RollD100 returns a uniform integer in [1, 100].
func RollD100(d Dice) int {
	return d.Intn(100) + 1
}
