package model

import "math/bits"

// MaxMembers is the widest roster a Bitset can index.
const MaxMembers = 64

// Bitset is a fixed-width set of member slots.
type Bitset uint64

// Has reports whether slot i is set.
func (b Bitset) Has(i int) bool {
	if i < 0 || i >= MaxMembers {
		return false
	}
	return b&(1<<uint(i)) != 0
}

// Set marks slot i.
func (b *Bitset) Set(i int) {
	if i < 0 || i >= MaxMembers {
		return
	}
	*b |= 1 << uint(i)
}

// Reset clears every slot.
func (b *Bitset) Reset() { *b = 0 }

// Count returns the number of set slots.
func (b Bitset) Count() int { return bits.OnesCount64(uint64(b)) }

// Indexes returns the set slots below n in ascending order.
func (b Bitset) Indexes(n int) []int {
	out := make([]int, 0, b.Count())
	for i := 0; i < n && i < MaxMembers; i++ {
		if b.Has(i) {
			out = append(out, i)
		}
	}
	return out
}
