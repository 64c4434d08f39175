package detector

import (
	"testing"

	"ddosguard/internal/sketch"
	"ddosguard/internal/trie"
)

func TestReverseAllKeysPeelsProtectedPrefix(t *testing.T) {
	dest := sketch.NewDestSketch(8, false, false)
	dstA := uint32(0x0A000001)
	maskedA := dstA & destMask

	protected := trie.New()
	protected.Insert(trie.ToBinaryString(maskedA), 1.0)

	dest.Update(maskedA, dstA, 1000, 10)

	s := &Stage{protected: protected, dest: dest, src: sketch.NewSrcSketch(8, false, false)}
	col := dest.Col(maskedA, 0)

	maxIP, acc, _ := s.reverseAllKeys(col)
	if maxIP != maskedA {
		t.Fatalf("expected to recover prefix %#x, got %#x", maskedA, maxIP)
	}
	if acc.ByteCount != 1000 || acc.PacketCount != 10 {
		t.Fatalf("expected the peeled cell to carry the observed traffic, got %+v", acc)
	}

	// the column is fully peeled by the first pass; a second pass over
	// the same column should find nothing left to recover.
	maxIP2, _, _ := s.reverseAllKeys(col)
	if maxIP2 != 0 {
		t.Fatalf("expected a second pass over an already-peeled column to recover nothing, got %#x", maxIP2)
	}
}

func TestReverseAllKeysRejectsUnprotectedPrefix(t *testing.T) {
	dest := sketch.NewDestSketch(8, false, false)
	dst := uint32(0x0B000001)
	masked := dst & destMask
	dest.Update(masked, dst, 500, 5)

	s := &Stage{protected: trie.New(), dest: dest, src: sketch.NewSrcSketch(8, false, false)}
	col := dest.Col(masked, 0)

	maxIP, _, _ := s.reverseAllKeys(col)
	if maxIP != 0 {
		t.Fatalf("expected an unprotected destination not to be recovered, got %#x", maxIP)
	}
}

// TestReverseSrcIPsDoesNotDecrementTheSourceSketch guards against
// reintroducing a Dec call on the shared source sketch: s.src is reused
// across every destination column reversed in the same window, so
// peeling it while resolving one column would corrupt recovery for the
// next column that shares the same attacker address.
func TestReverseSrcIPsDoesNotDecrementTheSourceSketch(t *testing.T) {
	src := sketch.NewSrcSketch(8, false, false)
	srcIP := uint32(0xC0000201)
	src.Update(srcIP)
	src.Update(srcIP)

	s := &Stage{src: src}
	row, col, _ := src.Estimate(srcIP)
	communicatedWith := map[uint32]uint32{col: 7}
	rowOf := map[uint32]int{col: row}

	before := src.Cell(row, col)

	hits := s.reverseSrcIPs(communicatedWith, rowOf)
	if len(hits) != 1 || hits[0].addr != srcIP || hits[0].tally != 7 {
		t.Fatalf("expected one hit for %#x with tally 7, got %+v", srcIP, hits)
	}

	after := src.Cell(row, col)
	if after.Count != before.Count {
		t.Fatalf("expected reverseSrcIPs to leave the source sketch untouched, count changed from %d to %d", before.Count, after.Count)
	}

	// a repeat call simulates a second destination column sharing this
	// attacker address; it must recover the same address, proving the
	// first call left nothing peeled for the next one to stumble over.
	hits2 := s.reverseSrcIPs(communicatedWith, rowOf)
	if len(hits2) != 1 || hits2[0].addr != srcIP {
		t.Fatalf("expected a repeat call to recover the same address, got %+v", hits2)
	}
}

func TestReverseSrcIPsSkipsUnknownColumn(t *testing.T) {
	src := sketch.NewSrcSketch(8, false, false)
	s := &Stage{src: src}

	hits := s.reverseSrcIPs(map[uint32]uint32{42: 1}, map[uint32]int{})
	if len(hits) != 0 {
		t.Fatalf("expected no hits when rowOf has no entry for the column, got %+v", hits)
	}
}
