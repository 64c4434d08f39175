package detector

import "ddosguard/internal/sketch"

const destMask = 0xFFFFFF00

// srcHit is one recovered attacker candidate with its flow tally.
type srcHit struct {
	addr  uint32
	tally uint32
}

// reverseAllKeys peels row-0 column col of dest until its count stops
// changing, accumulating every recovered protected prefix's cell into acc
// and remembering, for each source-sketch column it communicated with,
// which row of the source sketch to recover from. maxIP is the prefix
// with the largest recovered byte count seen during peeling, zero if
// nothing was ever successfully recovered.
func (s *Stage) reverseAllKeys(col uint32) (maxIP uint32, acc sketch.DestCell, rowOf map[uint32]int) {
	acc = sketch.NewDestCell()
	rowOf = make(map[uint32]int)

	var prevCount uint32
	var maxBytes uint64

	for {
		cell := s.dest.Cell(0, col)
		if cell.Count == prevCount {
			break
		}
		prevCount = cell.Count

		candidate := cell.Value.ReversibleKey.ReverseKey()
		prefix := candidate & destMask

		row, innerCol, count := s.dest.Estimate(prefix)
		inner := s.dest.Cell(row, innerCol)
		if count == 0 || !s.isProtected(prefix) {
			break
		}

		if inner.Value.ByteCount > maxBytes {
			maxBytes = inner.Value.ByteCount
			maxIP = prefix
		}
		for srcIdx := range inner.Value.CommunicatedWith {
			rowOf[srcIdx] = row
		}
		acc.AddAssign(inner.Value)
		s.dest.Dec(prefix, inner)
	}

	return maxIP, acc, rowOf
}

// reverseSrcIPs recovers the source address behind every source-sketch
// column referenced in communicatedWith, reading each one on the row
// recorded during the matching destination recovery. Unlike
// reverseAllKeys, it never decrements the source sketch: s.src is shared
// across every destination column processed in the same window, so
// peeling it here would corrupt recovery for any other column that
// happens to share an attacker address.
func (s *Stage) reverseSrcIPs(communicatedWith map[uint32]uint32, rowOf map[uint32]int) []srcHit {
	var hits []srcHit
	for srcIdx, tally := range communicatedWith {
		row, ok := rowOf[srcIdx]
		if !ok {
			continue
		}

		cell := s.src.Cell(row, srcIdx)
		if cell.Count == 0 {
			continue
		}

		recovered := cell.Value.ReverseKey()
		_, _, count := s.src.Estimate(recovered)
		if count == 0 {
			continue
		}

		hits = append(hits, srcHit{addr: recovered, tally: tally})
	}
	return hits
}
