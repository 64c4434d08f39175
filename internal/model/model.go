package model

import (
	"net"
	"time"

	"github.com/google/uuid"
)

// FiveTuple represents the 5-tuple of a network packet. The pcap replay
// path (pcapflow) does not use it: it parses packets straight into
// FlowRecords.
type FiveTuple struct {
	SrcIP    net.IP
	DstIP    net.IP
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// PacketInfo holds the metadata extracted from a single packet. The pcap
// replay aggregator does not use it; it aggregates FlowRecords directly.
type PacketInfo struct {
	Timestamp time.Time
	FiveTuple FiveTuple
	Length    int
}

// FlowRecord is a single NetFlow-style record, the unit the ingest stage
// consumes. Addresses are 32-bit host-order integers, matching the
// sketches' hashing domain.
type FlowRecord struct {
	SrcAddr   uint32
	DstAddr   uint32
	Bytes     uint64
	Packets   uint64
	Timestamp time.Time
}

// Alert is emitted when all five CUSUM families fire simultaneously on a
// sketch column. It carries the victim prefix, the offending sources, and
// the threshold/measured pair for each of the five metrics so a consumer
// can file it back as a FeedbackRecord.
type Alert struct {
	ID         uuid.UUID
	DetectedAt time.Time
	DstIP      uint32
	CusumID    uint32

	ThresholdBytes         float64
	ThresholdPackets       float64
	ThresholdEntropy       float64
	ThresholdRecvSentBytes float64
	ThresholdRecvSentFlows float64

	MeasuredBytes         float64
	MeasuredPackets       float64
	MeasuredEntropy       float64
	MeasuredRecvSentBytes float64
	MeasuredRecvSentFlows float64

	SrcIPs []uint32
}

// FeedbackRecord is filed by an operator to report a false positive. The
// CusumID/DstIP pair identifies the column to relax; the Measured* fields
// carry the values of the alert being disputed, so the detector can raise
// the effective threshold to exactly those values; an identical event
// then no longer exceeds it.
type FeedbackRecord struct {
	ID      uuid.UUID
	FiledAt time.Time
	DstIP   uint32
	CusumID uint32

	MeasuredBytes         float64
	MeasuredPackets       float64
	MeasuredEntropy       float64
	MeasuredRecvSentBytes float64
	MeasuredRecvSentFlows float64
}

// ColumnThresholds reports the live per-family CUSUM state for one
// destination-sketch column: the threshold an operator would need to
// clear to get an alert, and the EWMA mean/variance feeding it. Queried
// over HTTP and over the thresholds NATS subject for operator visibility
// during the learning phase, before any alert has ever fired.
type ColumnThresholds struct {
	Column uint32

	ThresholdBytes         float64
	ThresholdPackets       float64
	ThresholdEntropyHigh   float64
	ThresholdEntropyLow    float64
	ThresholdRecvSentBytes float64
	ThresholdRecvSentFlows float64

	MeanBytes         float64
	MeanPackets       float64
	MeanEntropy       float64
	MeanRecvSentBytes float64
	MeanRecvSentFlows float64

	VarianceBytes         float64
	VariancePackets       float64
	VarianceEntropy       float64
	VarianceRecvSentBytes float64
	VarianceRecvSentFlows float64
}

// NewID generates a random identifier for a newly filed alert or feedback
// record.
func NewID() uuid.UUID {
	return uuid.New()
}

// ParseID parses a stringified identifier, as stored by the ClickHouse
// history writer.
func ParseID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}