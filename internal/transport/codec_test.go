package transport

import (
	"testing"
	"time"

	"ddosguard/internal/model"
)

func TestFlowRoundTrip(t *testing.T) {
	rec := model.FlowRecord{
		SrcAddr:   0x0A000001,
		DstAddr:   0xC0A80001,
		Bytes:     123456,
		Packets:   42,
		Timestamp: time.Unix(1700000000, 0).UTC(),
	}
	buf := make([]byte, FlowByteSize)
	n := EncodeFlow(buf, rec)
	if n != FlowByteSize {
		t.Fatalf("expected to write %d bytes, wrote %d", FlowByteSize, n)
	}

	got, err := DecodeFlow(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.SrcAddr != rec.SrcAddr || got.DstAddr != rec.DstAddr || got.Bytes != rec.Bytes || got.Packets != rec.Packets {
		t.Fatalf("expected %+v, got %+v", rec, got)
	}
	if !got.Timestamp.Equal(rec.Timestamp) {
		t.Fatalf("expected timestamp %v, got %v", rec.Timestamp, got.Timestamp)
	}
}

func TestDecodeFlowTooShort(t *testing.T) {
	if _, err := DecodeFlow(make([]byte, FlowByteSize-1)); err == nil {
		t.Fatal("expected an error for a truncated flow payload")
	}
}

func TestAlertRoundTrip(t *testing.T) {
	a := model.Alert{
		ID:                     model.NewID(),
		DetectedAt:             time.Unix(1700000000, 0).UTC(),
		DstIP:                  0x0A000001,
		CusumID:                7,
		ThresholdBytes:         1.5,
		ThresholdPackets:       2.5,
		ThresholdEntropy:       0.5,
		ThresholdRecvSentBytes: 3.5,
		ThresholdRecvSentFlows: 4.5,
		MeasuredBytes:          10,
		MeasuredPackets:        20,
		MeasuredEntropy:        0.9,
		MeasuredRecvSentBytes:  30,
		MeasuredRecvSentFlows:  40,
		SrcIPs:                 []uint32{1, 2, 3},
	}

	buf := EncodeAlert(a)
	got, err := DecodeAlert(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != a.ID || got.DstIP != a.DstIP || got.CusumID != a.CusumID {
		t.Fatalf("expected %+v, got %+v", a, got)
	}
	if got.MeasuredEntropy != a.MeasuredEntropy || got.ThresholdBytes != a.ThresholdBytes {
		t.Fatalf("expected metric fields to round-trip exactly, got %+v", got)
	}
	if len(got.SrcIPs) != 3 || got.SrcIPs[0] != 1 || got.SrcIPs[2] != 3 {
		t.Fatalf("expected SrcIPs to round-trip, got %v", got.SrcIPs)
	}
}

func TestAlertRoundTripEmptySrcIPs(t *testing.T) {
	a := model.Alert{ID: model.NewID(), DetectedAt: time.Now().UTC()}
	buf := EncodeAlert(a)
	got, err := DecodeAlert(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.SrcIPs) != 0 {
		t.Fatalf("expected no source addresses, got %v", got.SrcIPs)
	}
}

func TestDecodeAlertTruncatedSourceList(t *testing.T) {
	a := model.Alert{ID: model.NewID(), DetectedAt: time.Now().UTC(), SrcIPs: []uint32{1, 2, 3}}
	buf := EncodeAlert(a)
	if _, err := DecodeAlert(buf[:len(buf)-4]); err == nil {
		t.Fatal("expected an error for a truncated source list")
	}
}

func TestThresholdsRoundTrip(t *testing.T) {
	th := model.ColumnThresholds{
		Column:                 7,
		ThresholdBytes:         1.5,
		ThresholdPackets:       2.5,
		ThresholdEntropyHigh:   0.5,
		ThresholdEntropyLow:    0.25,
		ThresholdRecvSentBytes: 3.5,
		ThresholdRecvSentFlows: 4.5,
		MeanBytes:              10,
		MeanPackets:            20,
		MeanEntropy:            0.9,
		MeanRecvSentBytes:      30,
		MeanRecvSentFlows:      40,
		VarianceBytes:          1,
		VariancePackets:        2,
		VarianceEntropy:        0.1,
		VarianceRecvSentBytes:  3,
		VarianceRecvSentFlows:  4,
	}

	buf := EncodeThresholds(th)
	got, err := DecodeThresholds(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != th {
		t.Fatalf("expected %+v, got %+v", th, got)
	}
}

func TestDecodeThresholdsTooShort(t *testing.T) {
	if _, err := DecodeThresholds(make([]byte, thresholdsSize-1)); err == nil {
		t.Fatal("expected an error for a truncated thresholds payload")
	}
}

func TestFeedbackRoundTrip(t *testing.T) {
	fb := model.FeedbackRecord{
		ID:                    model.NewID(),
		FiledAt:               time.Unix(1700000000, 0).UTC(),
		DstIP:                 0x0A000001,
		CusumID:               3,
		MeasuredBytes:         1,
		MeasuredPackets:       2,
		MeasuredEntropy:       3,
		MeasuredRecvSentBytes: 4,
		MeasuredRecvSentFlows: 5,
	}
	buf := EncodeFeedback(fb)
	got, err := DecodeFeedback(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != fb {
		t.Fatalf("expected %+v, got %+v", fb, got)
	}
}
