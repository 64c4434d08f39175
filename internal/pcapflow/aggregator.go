package pcapflow

import (
	"time"

	"ddosguard/internal/model"
)

// DefaultWindow is the flow-aggregation window the replay tool uses when
// none is configured explicitly.
const DefaultWindow = 5 * time.Second

// flowKey identifies one source/destination pair within a window.
type flowKey struct {
	src, dst uint32
}

// Aggregator folds per-packet observations into fixed-width flow windows
// keyed by (srcAddr,dstAddr), turning a pcap's raw packets into the same
// shape of FlowRecord a live NetFlow feed would produce. Windows are
// keyed on packet timestamps rather than wall-clock time, so replay speed
// never affects which packets land in which window.
type Aggregator struct {
	window    time.Duration
	windowEnd time.Time
	acc       map[flowKey]*model.FlowRecord
}

// NewAggregator returns an aggregator that closes a window every window
// duration of packet-timestamp time.
func NewAggregator(window time.Duration) *Aggregator {
	return &Aggregator{window: window, acc: make(map[flowKey]*model.FlowRecord)}
}

// Add folds one packet into the window covering ts, flushing the prior
// window first if ts has moved past it. The returned slice is non-nil
// only on a rollover; callers must call Flush once after the last packet
// to collect the final partial window.
func (a *Aggregator) Add(src, dst uint32, bytes uint64, ts time.Time) []model.FlowRecord {
	if a.windowEnd.IsZero() {
		a.windowEnd = ts.Add(a.window)
	}

	var flushed []model.FlowRecord
	if !ts.Before(a.windowEnd) {
		flushed = a.Flush()
		a.windowEnd = ts.Add(a.window)
	}

	key := flowKey{src: src, dst: dst}
	rec, ok := a.acc[key]
	if !ok {
		rec = &model.FlowRecord{SrcAddr: src, DstAddr: dst, Timestamp: ts}
		a.acc[key] = rec
	}
	rec.Bytes += bytes
	rec.Packets++
	return flushed
}

// Flush closes out the current window, returning one FlowRecord per
// (srcAddr,dstAddr) key observed in it, and clears the accumulator.
func (a *Aggregator) Flush() []model.FlowRecord {
	if len(a.acc) == 0 {
		return nil
	}
	out := make([]model.FlowRecord, 0, len(a.acc))
	for _, rec := range a.acc {
		out = append(out, *rec)
	}
	a.acc = make(map[flowKey]*model.FlowRecord)
	return out
}
