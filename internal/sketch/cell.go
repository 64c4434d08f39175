package sketch

// DestCell is the value stored in a destination-sketch cell: per-prefix
// traffic aggregates plus the bookkeeping needed to identify which sources
// talked to it and to reconstruct the dominant destination address.
type DestCell struct {
	ByteCount   uint64
	PacketCount uint64
	FlowCount   uint64
	SentBytes   uint64
	SentFlows   uint64

	ReversibleKey BitCount

	// CommunicatedWith maps a source-sketch column index to the number of
	// flows seen from that source, for top-N attacker recovery.
	CommunicatedWith map[uint32]uint32

	// IPSubnets is a histogram of the destination address's top octet,
	// the entropy denominator for the column's anomaly metrics.
	IPSubnets map[uint8]uint32
}

// NewDestCell returns a zeroed destination cell with its maps allocated.
func NewDestCell() DestCell {
	return DestCell{
		CommunicatedWith: make(map[uint32]uint32),
		IPSubnets:        make(map[uint8]uint32),
	}
}

// Update folds one observed flow into the cell: dstAddr is the full
// (unmasked) address so the top-octet histogram and the reversible key
// both see the real bits, even though the cell itself is indexed by the
// masked /24 prefix.
func (c *DestCell) Update(dstAddr uint32, bytes, packets uint64) {
	c.ByteCount += bytes
	c.PacketCount += packets
	c.FlowCount++
	c.IPSubnets[uint8(dstAddr>>24)]++
	c.ReversibleKey.Update(dstAddr, 1)
}

// UpdateSentBytes records bytes sent back toward a source, for the
// received-to-sent-bytes anomaly metric.
func (c *DestCell) UpdateSentBytes(bytes uint64) {
	c.SentBytes += bytes
	c.SentFlows++
}

// UpdateFlowCounter bumps the tally for a source-sketch column index.
func (c *DestCell) UpdateFlowCounter(srcIdx uint32) {
	c.CommunicatedWith[srcIdx]++
}

// AddAssign merges other into c: scalar fields add, maps merge additively.
func (c *DestCell) AddAssign(other DestCell) {
	c.ByteCount += other.ByteCount
	c.PacketCount += other.PacketCount
	c.FlowCount += other.FlowCount
	c.SentBytes += other.SentBytes
	c.SentFlows += other.SentFlows
	c.ReversibleKey.AddAssign(other.ReversibleKey)
	if c.CommunicatedWith == nil {
		c.CommunicatedWith = make(map[uint32]uint32)
	}
	for k, v := range other.CommunicatedWith {
		c.CommunicatedWith[k] += v
	}
	if c.IPSubnets == nil {
		c.IPSubnets = make(map[uint8]uint32)
	}
	for k, v := range other.IPSubnets {
		c.IPSubnets[k] += v
	}
}

// SubAssign saturating-subtracts other from c; a map entry is deleted once
// its tally would go non-positive rather than left at zero.
func (c *DestCell) SubAssign(other DestCell) {
	c.ByteCount = satSub64(c.ByteCount, other.ByteCount)
	c.PacketCount = satSub64(c.PacketCount, other.PacketCount)
	c.FlowCount = satSub64(c.FlowCount, other.FlowCount)
	c.SentBytes = satSub64(c.SentBytes, other.SentBytes)
	c.SentFlows = satSub64(c.SentFlows, other.SentFlows)
	c.ReversibleKey.SubAssign(other.ReversibleKey)
	for k, v := range other.CommunicatedWith {
		if cur, ok := c.CommunicatedWith[k]; ok {
			if v >= cur {
				delete(c.CommunicatedWith, k)
			} else {
				c.CommunicatedWith[k] = cur - v
			}
		}
	}
	for k, v := range other.IPSubnets {
		if cur, ok := c.IPSubnets[k]; ok {
			if v >= cur {
				delete(c.IPSubnets, k)
			} else {
				c.IPSubnets[k] = cur - v
			}
		}
	}
}

func satSub64(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// SrcCell is the value stored in a source-sketch cell: it only needs to
// carry enough information to reconstruct the dominant source address.
type SrcCell struct {
	BitCount
}

// AddAssign adds other into c, field by field.
func (c *SrcCell) AddAssign(other SrcCell) {
	c.BitCount.AddAssign(other.BitCount)
}

// SubAssign saturating-subtracts other from c, field by field.
func (c *SrcCell) SubAssign(other SrcCell) {
	c.BitCount.SubAssign(other.BitCount)
}
