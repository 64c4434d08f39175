// Package sketch implements the reversible Count-Min sketch: a bit-count
// sub-sketch that lets a dominant key be reconstructed from a cell by
// majority vote, and the destination/source cell values built on top of it.
package sketch

// bitWidth is the key width the reversible sketches operate over: one bin
// per bit of a full 32-bit IPv4 address.
const bitWidth = 32

// BitCount is a reversible sub-sketch: a running total plus one tally per
// bit position. Feeding it every key that lands in a cell lets the
// dominant key be recovered by majority vote, at the cost of bitWidth
// counters per cell.
type BitCount struct {
	Total uint32
	Bins  [bitWidth]uint32
}

// Update folds key into the sub-sketch with weight v: Total accumulates v,
// and every set bit of key accumulates v into its own bin.
func (b *BitCount) Update(key uint32, v uint16) {
	b.Total += uint32(v)
	for i := 0; i < bitWidth; i++ {
		if key&(1<<uint(i)) != 0 {
			b.Bins[i] += uint32(v)
		}
	}
}

// ReverseKey reconstructs the dominant key: bit i is set iff its bin holds
// a strict majority of Total. When no single key dominates, the result is
// meaningless noise, which callers filter out via protected-prefix checks.
func (b *BitCount) ReverseKey() uint32 {
	var key uint32
	half := b.Total / 2
	for i := 0; i < bitWidth; i++ {
		if b.Bins[i] > half {
			key |= 1 << uint(i)
		}
	}
	return key
}

// SubAssign saturating-subtracts other from b, field by field.
func (b *BitCount) SubAssign(other BitCount) {
	b.Total = satSub(b.Total, other.Total)
	for i := 0; i < bitWidth; i++ {
		b.Bins[i] = satSub(b.Bins[i], other.Bins[i])
	}
}

// AddAssign adds other into b, field by field.
func (b *BitCount) AddAssign(other BitCount) {
	b.Total += other.Total
	for i := 0; i < bitWidth; i++ {
		b.Bins[i] += other.Bins[i]
	}
}

func satSub(a, b uint32) uint32 {
	if b > a {
		return 0
	}
	return a - b
}
