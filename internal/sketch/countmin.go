package sketch

import "math/rand/v2"

// depth is fixed at 3 for both the destination and source sketches, per
// the tuning constants every deployment of this detector has shared.
const depth = 3

// Cell is one grid entry: a Count-Min magnitude counter plus the
// domain-specific value that makes the sketch reversible.
type Cell[V any] struct {
	Count uint32
	Value V
}

// valuePtr is the constraint every cell value type satisfies: in-place
// saturating add/subtract, so peeling a heavy hitter never drives a field
// negative.
type valuePtr[V any] interface {
	*V
	AddAssign(V)
	SubAssign(V)
}

// grid is the depth x width backing store shared by the destination and
// source sketches; they differ only in what update does to a row's value.
type grid[V any, PV valuePtr[V]] struct {
	width        uint32
	rows         [depth]rowSeed
	cells        [depth][]Cell[V]
	conservative bool
	learning     bool
	newValue     func() V
}

func newGrid[V any, PV valuePtr[V]](width uint32, conservative, learning bool, newValue func() V) *grid[V, PV] {
	g := &grid[V, PV]{width: width, conservative: conservative, learning: learning, newValue: newValue}
	for r := 0; r < depth; r++ {
		g.rows[r] = rowSeed{seed1: rand.Uint32(), seed2: rand.Uint32()}
		g.cells[r] = make([]Cell[V], width)
		for c := range g.cells[r] {
			g.cells[r][c].Value = newValue()
		}
	}
	return g
}

// Col returns the column a key hashes to on the given row.
func (g *grid[V, PV]) Col(key uint32, row int) uint32 {
	return g.rows[row].column(key, g.width)
}

// Estimate returns the row/column with the smallest count for key, and
// that count — the Count-Min point estimate.
func (g *grid[V, PV]) Estimate(key uint32) (row int, col uint32, count uint32) {
	row = -1
	for r := 0; r < depth; r++ {
		c := g.Col(key, r)
		cnt := g.cells[r][c].Count
		if row == -1 || cnt < count {
			row, col, count = r, c, cnt
		}
	}
	return row, col, count
}

// Update increments key's count by mag on every row and invokes apply on
// each row's value so the caller can fold in its own cell semantics.
// Under conservative update, a row's count only ever rises to the
// current minimum-plus-mag, never lower, to curb overestimation from
// collisions.
func (g *grid[V, PV]) Update(key uint32, mag uint32, apply func(row int, col uint32, v PV)) {
	if g.conservative {
		_, _, minCount := g.Estimate(key)
		target := minCount + mag
		for r := 0; r < depth; r++ {
			c := g.Col(key, r)
			cell := &g.cells[r][c]
			if cell.Count < target {
				cell.Count = target
			}
			apply(r, c, &cell.Value)
		}
		return
	}
	for r := 0; r < depth; r++ {
		c := g.Col(key, r)
		cell := &g.cells[r][c]
		cell.Count += mag
		apply(r, c, &cell.Value)
	}
}

// Cell returns a copy of the (row, col) cell.
func (g *grid[V, PV]) Cell(row int, col uint32) Cell[V] {
	return g.cells[row][col]
}

// Dec peels snapshot off of key's cell on every row, saturating. It is
// the inverse of Update's mass accumulation, used once a heavy hitter has
// been reversed out of a cell to expose the next-heaviest key merged into
// the same slot.
func (g *grid[V, PV]) Dec(key uint32, snapshot Cell[V]) {
	for r := 0; r < depth; r++ {
		c := g.Col(key, r)
		cell := &g.cells[r][c]
		cell.Count = satSub(cell.Count, snapshot.Count)
		PV(&cell.Value).SubAssign(snapshot.Value)
	}
}

// Reset zeroes every cell, ready for the next window.
func (g *grid[V, PV]) Reset() {
	for r := 0; r < depth; r++ {
		for c := range g.cells[r] {
			g.cells[r][c] = Cell[V]{Value: g.newValue()}
		}
	}
}

// Width reports the sketch's column count.
func (g *grid[V, PV]) Width() uint32 { return g.width }

// DestSketch is the destination-keyed sketch: one column per /24 prefix
// under observation, holding the traffic aggregate needed for anomaly
// detection and attacker attribution.
type DestSketch struct {
	g *grid[DestCell, *DestCell]
}

// NewDestSketch allocates a destination sketch of the given width.
// conservative enables the conservative-update discipline; learning marks
// the sketch as currently inside the detector's warm-up period.
func NewDestSketch(width uint32, conservative, learning bool) *DestSketch {
	return &DestSketch{g: newGrid[DestCell, *DestCell](width, conservative, learning, NewDestCell)}
}

// Update records one flow addressed to dstAddr (already masked to its
// /24 prefix for indexing purposes by the caller's choice of maskedKey).
func (s *DestSketch) Update(maskedKey, fullDstAddr uint32, bytes, packets uint64) {
	s.g.Update(maskedKey, 1, func(_ int, _ uint32, v *DestCell) {
		v.Update(fullDstAddr, bytes, packets)
	})
}

// Col returns the column maskedKey hashes to on the given row.
func (s *DestSketch) Col(maskedKey uint32, row int) uint32 { return s.g.Col(maskedKey, row) }

// Estimate returns the minimum-count row/column for maskedKey.
func (s *DestSketch) Estimate(maskedKey uint32) (row int, col uint32, count uint32) {
	return s.g.Estimate(maskedKey)
}

// Cell returns a copy of the (row, col) cell.
func (s *DestSketch) Cell(row int, col uint32) Cell[DestCell] { return s.g.Cell(row, col) }

// Dec peels snapshot off of maskedKey's cell on every row.
func (s *DestSketch) Dec(maskedKey uint32, snapshot Cell[DestCell]) { s.g.Dec(maskedKey, snapshot) }

// Reset zeroes every cell.
func (s *DestSketch) Reset() { s.g.Reset() }

// Width reports the sketch's column count.
func (s *DestSketch) Width() uint32 { return s.g.Width() }

// UpdateCellDirect applies fn to the cell at (row, col) without touching
// the Count-Min count, used by the ingest stage to fold sent-bytes and
// flow-counter updates into an already-located cell.
func (s *DestSketch) UpdateCellDirect(row int, col uint32, fn func(v *DestCell)) {
	fn(&s.g.cells[row][col].Value)
}

// SrcSketch is the source-keyed sketch: a reversible counter bank used to
// recover the attacker addresses behind a destination heavy hitter.
type SrcSketch struct {
	g *grid[SrcCell, *SrcCell]
}

// NewSrcSketch allocates a source sketch of the given width.
func NewSrcSketch(width uint32, conservative, learning bool) *SrcSketch {
	return &SrcSketch{g: newGrid[SrcCell, *SrcCell](width, conservative, learning, func() SrcCell { return SrcCell{} })}
}

// Update records one flow originating from srcAddr.
func (s *SrcSketch) Update(srcAddr uint32) {
	s.g.Update(srcAddr, 1, func(_ int, _ uint32, v *SrcCell) {
		v.Update(srcAddr, 1)
	})
}

// Col returns the column srcAddr hashes to on the given row.
func (s *SrcSketch) Col(srcAddr uint32, row int) uint32 { return s.g.Col(srcAddr, row) }

// Cell returns a copy of the (row, col) cell.
func (s *SrcSketch) Cell(row int, col uint32) Cell[SrcCell] { return s.g.Cell(row, col) }

// Estimate returns the minimum-count row/column for srcAddr.
func (s *SrcSketch) Estimate(srcAddr uint32) (row int, col uint32, count uint32) {
	return s.g.Estimate(srcAddr)
}

// Dec peels snapshot off of srcAddr's cell on every row.
func (s *SrcSketch) Dec(srcAddr uint32, snapshot Cell[SrcCell]) { s.g.Dec(srcAddr, snapshot) }

// Reset zeroes every cell.
func (s *SrcSketch) Reset() { s.g.Reset() }
