package detector

import (
	"math"

	"ddosguard/internal/sketch"
)

const entropyEpsilon = 1e-6

// metrics holds the five per-window, per-column traffic statistics that
// drive the CUSUM families. An alert requires all five to fire at once.
type metrics struct {
	byteCount         float64
	packetCount       float64
	entropy           float64
	recvToSentBytes   float64
	recvToSentFlows   float64
}

// normalizedEntropy computes the base-n Shannon entropy of counts,
// normalized to [0,1] by dividing by log2(n). Fewer than two non-trivial
// bins carry no distributional information, so it returns 0.
func normalizedEntropy(counts []uint32) float64 {
	if len(counts) < 2 {
		return 0
	}
	var total float64
	for _, c := range counts {
		total += float64(c)
	}
	if total == 0 {
		return 0
	}
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		h -= p * math.Log2(p)
	}
	return h / math.Log2(float64(len(counts)))
}

// computeMetrics derives the five anomaly metrics for a recovered
// destination cell, given the flow tallies recovered for its sources.
func computeMetrics(acc sketch.DestCell, srcHits []srcHit) metrics {
	srcTallies := make([]uint32, 0, len(srcHits))
	for _, h := range srcHits {
		srcTallies = append(srcTallies, h.tally)
	}
	dstSubnetCounts := make([]uint32, 0, len(acc.IPSubnets))
	for _, c := range acc.IPSubnets {
		dstSubnetCounts = append(dstSubnetCounts, c)
	}

	entropySrc := normalizedEntropy(srcTallies)
	entropyDst := normalizedEntropy(dstSubnetCounts)

	return metrics{
		byteCount:       float64(acc.ByteCount),
		packetCount:     float64(acc.PacketCount),
		entropy:         (entropySrc + entropyEpsilon) / (entropyDst + entropyEpsilon),
		recvToSentBytes: (1 + float64(acc.ByteCount)) / (1 + float64(acc.SentBytes)),
		recvToSentFlows: (1 + float64(acc.FlowCount)) / (1 + float64(acc.SentFlows)),
	}
}
