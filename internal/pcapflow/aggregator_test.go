package pcapflow

import (
	"testing"
	"time"
)

func TestAggregatorGroupsByWindowAndKey(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	agg := NewAggregator(5 * time.Second)

	var flushed []int
	record := func(ts time.Time) {
		flushed = append(flushed, len(agg.Add(1, 2, 100, ts)))
	}

	record(base)                       // window [0s,5s)
	record(base.Add(1 * time.Second))  // same window, same key: should merge
	record(base.Add(6 * time.Second))  // new window: flushes window 1

	if flushed[2] != 1 {
		t.Fatalf("expected the third Add to roll over and flush one flow, got %d flushed", flushed[2])
	}

	got := agg.Flush()
	if len(got) != 1 {
		t.Fatalf("expected the final window to hold one flow, got %d", len(got))
	}
	if got[0].Packets != 1 || got[0].Bytes != 100 {
		t.Fatalf("expected the final window's lone packet untouched, got %+v", got[0])
	}
}

func TestAggregatorMergesByAddressPairWithinAWindow(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	agg := NewAggregator(5 * time.Second)

	agg.Add(1, 2, 100, base)
	agg.Add(1, 2, 50, base.Add(time.Second))
	agg.Add(3, 2, 10, base.Add(2*time.Second))

	flows := agg.Flush()
	if len(flows) != 2 {
		t.Fatalf("expected two distinct (src,dst) flows, got %d", len(flows))
	}

	byPair := make(map[[2]uint32]struct{ bytes, packets uint64 })
	for _, f := range flows {
		byPair[[2]uint32{f.SrcAddr, f.DstAddr}] = struct{ bytes, packets uint64 }{f.Bytes, f.Packets}
	}

	onetwo := byPair[[2]uint32{1, 2}]
	if onetwo.bytes != 150 || onetwo.packets != 2 {
		t.Fatalf("expected (1,2) to merge to 150 bytes/2 packets, got %+v", onetwo)
	}
	threetwo := byPair[[2]uint32{3, 2}]
	if threetwo.bytes != 10 || threetwo.packets != 1 {
		t.Fatalf("expected (3,2) to stay separate at 10 bytes/1 packet, got %+v", threetwo)
	}
}

func TestAggregatorFlushOnEmptyWindowReturnsNil(t *testing.T) {
	agg := NewAggregator(5 * time.Second)
	if got := agg.Flush(); got != nil {
		t.Fatalf("expected nil from flushing an empty aggregator, got %v", got)
	}
}
