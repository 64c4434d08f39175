// Package transport implements the wire codec and NATS adapters for the
// flow, alert, and feedback boundaries: fixed-width binary encodings in
// the same manual field-offset style the teacher uses for its own flow
// keys, rather than a generated-protobuf format.
package transport

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"ddosguard/internal/model"
)

// FlowByteSize is the wire size of one flow record:
// dstAddr(4) + srcAddr(4) + bytes(8) + packets(8) + timestamp(8).
const FlowByteSize = 4 + 4 + 8 + 8 + 8

// EncodeFlow writes rec into buf (which must be at least FlowByteSize
// long) and returns the number of bytes written.
func EncodeFlow(buf []byte, rec model.FlowRecord) int {
	offset := 0
	binary.BigEndian.PutUint32(buf[offset:], rec.DstAddr)
	offset += 4
	binary.BigEndian.PutUint32(buf[offset:], rec.SrcAddr)
	offset += 4
	binary.BigEndian.PutUint64(buf[offset:], rec.Bytes)
	offset += 8
	binary.BigEndian.PutUint64(buf[offset:], rec.Packets)
	offset += 8
	binary.BigEndian.PutUint64(buf[offset:], uint64(rec.Timestamp.UnixNano()))
	offset += 8
	return offset
}

// DecodeFlow parses a FlowByteSize-length payload into a flow record.
func DecodeFlow(buf []byte) (model.FlowRecord, error) {
	if len(buf) < FlowByteSize {
		return model.FlowRecord{}, fmt.Errorf("flow payload too short: %d bytes", len(buf))
	}
	offset := 0
	dstAddr := binary.BigEndian.Uint32(buf[offset:])
	offset += 4
	srcAddr := binary.BigEndian.Uint32(buf[offset:])
	offset += 4
	bytes := binary.BigEndian.Uint64(buf[offset:])
	offset += 8
	packets := binary.BigEndian.Uint64(buf[offset:])
	offset += 8
	ts := binary.BigEndian.Uint64(buf[offset:])

	return model.FlowRecord{
		DstAddr:   dstAddr,
		SrcAddr:   srcAddr,
		Bytes:     bytes,
		Packets:   packets,
		Timestamp: unixNano(ts),
	}, nil
}

// alertFixedSize is the byte size of an alert/feedback payload excluding
// its variable-length source-address tail: id(16) + detectedAt(8) +
// dstIP(4) + cusumID(4) + 10 float64 metric fields(80) + srcCount(4).
const alertFixedSize = 16 + 8 + 4 + 4 + 10*8 + 4

// EncodeAlert serializes an alert to its wire form.
func EncodeAlert(a model.Alert) []byte {
	buf := make([]byte, alertFixedSize+4*len(a.SrcIPs))
	offset := 0
	idBytes, _ := a.ID.MarshalBinary()
	copy(buf[offset:], idBytes)
	offset += 16
	binary.BigEndian.PutUint64(buf[offset:], uint64(a.DetectedAt.UnixNano()))
	offset += 8
	binary.BigEndian.PutUint32(buf[offset:], a.DstIP)
	offset += 4
	binary.BigEndian.PutUint32(buf[offset:], a.CusumID)
	offset += 4
	for _, v := range []float64{
		a.ThresholdBytes, a.ThresholdPackets, a.ThresholdEntropy, a.ThresholdRecvSentBytes, a.ThresholdRecvSentFlows,
		a.MeasuredBytes, a.MeasuredPackets, a.MeasuredEntropy, a.MeasuredRecvSentBytes, a.MeasuredRecvSentFlows,
	} {
		binary.BigEndian.PutUint64(buf[offset:], float64bits(v))
		offset += 8
	}
	binary.BigEndian.PutUint32(buf[offset:], uint32(len(a.SrcIPs)))
	offset += 4
	for _, ip := range a.SrcIPs {
		binary.BigEndian.PutUint32(buf[offset:], ip)
		offset += 4
	}
	return buf
}

// DecodeAlert parses a wire-form alert.
func DecodeAlert(buf []byte) (model.Alert, error) {
	if len(buf) < alertFixedSize {
		return model.Alert{}, fmt.Errorf("alert payload too short: %d bytes", len(buf))
	}
	var a model.Alert
	offset := 0
	id, err := uuid.FromBytes(buf[offset : offset+16])
	if err != nil {
		return model.Alert{}, fmt.Errorf("alert id: %w", err)
	}
	a.ID = id
	offset += 16
	a.DetectedAt = unixNano(binary.BigEndian.Uint64(buf[offset:]))
	offset += 8
	a.DstIP = binary.BigEndian.Uint32(buf[offset:])
	offset += 4
	a.CusumID = binary.BigEndian.Uint32(buf[offset:])
	offset += 4

	fields := [10]*float64{
		&a.ThresholdBytes, &a.ThresholdPackets, &a.ThresholdEntropy, &a.ThresholdRecvSentBytes, &a.ThresholdRecvSentFlows,
		&a.MeasuredBytes, &a.MeasuredPackets, &a.MeasuredEntropy, &a.MeasuredRecvSentBytes, &a.MeasuredRecvSentFlows,
	}
	for _, f := range fields {
		*f = float64frombits(binary.BigEndian.Uint64(buf[offset:]))
		offset += 8
	}

	count := binary.BigEndian.Uint32(buf[offset:])
	offset += 4
	if len(buf) < offset+4*int(count) {
		return model.Alert{}, fmt.Errorf("alert payload truncated source list")
	}
	a.SrcIPs = make([]uint32, count)
	for i := range a.SrcIPs {
		a.SrcIPs[i] = binary.BigEndian.Uint32(buf[offset:])
		offset += 4
	}
	return a, nil
}

// thresholdsSize is the wire size of a ColumnThresholds payload:
// column(4) + 16 float64 fields(128).
const thresholdsSize = 4 + 16*8

// EncodeThresholds serializes a column's live CUSUM state for the
// thresholds query subject's reply payload.
func EncodeThresholds(t model.ColumnThresholds) []byte {
	buf := make([]byte, thresholdsSize)
	offset := 0
	binary.BigEndian.PutUint32(buf[offset:], t.Column)
	offset += 4
	for _, v := range []float64{
		t.ThresholdBytes, t.ThresholdPackets, t.ThresholdEntropyHigh, t.ThresholdEntropyLow, t.ThresholdRecvSentBytes, t.ThresholdRecvSentFlows,
		t.MeanBytes, t.MeanPackets, t.MeanEntropy, t.MeanRecvSentBytes, t.MeanRecvSentFlows,
		t.VarianceBytes, t.VariancePackets, t.VarianceEntropy, t.VarianceRecvSentBytes, t.VarianceRecvSentFlows,
	} {
		binary.BigEndian.PutUint64(buf[offset:], float64bits(v))
		offset += 8
	}
	return buf
}

// DecodeThresholds parses a wire-form ColumnThresholds reply.
func DecodeThresholds(buf []byte) (model.ColumnThresholds, error) {
	if len(buf) < thresholdsSize {
		return model.ColumnThresholds{}, fmt.Errorf("thresholds payload too short: %d bytes", len(buf))
	}
	var t model.ColumnThresholds
	offset := 0
	t.Column = binary.BigEndian.Uint32(buf[offset:])
	offset += 4

	fields := [16]*float64{
		&t.ThresholdBytes, &t.ThresholdPackets, &t.ThresholdEntropyHigh, &t.ThresholdEntropyLow, &t.ThresholdRecvSentBytes, &t.ThresholdRecvSentFlows,
		&t.MeanBytes, &t.MeanPackets, &t.MeanEntropy, &t.MeanRecvSentBytes, &t.MeanRecvSentFlows,
		&t.VarianceBytes, &t.VariancePackets, &t.VarianceEntropy, &t.VarianceRecvSentBytes, &t.VarianceRecvSentFlows,
	}
	for _, f := range fields {
		*f = float64frombits(binary.BigEndian.Uint64(buf[offset:]))
		offset += 8
	}
	return t, nil
}

// EncodeFeedback serializes a feedback record; it shares the alert's
// fixed layout minus the source-address tail and threshold fields.
func EncodeFeedback(fb model.FeedbackRecord) []byte {
	const size = 16 + 8 + 4 + 4 + 5*8
	buf := make([]byte, size)
	offset := 0
	idBytes, _ := fb.ID.MarshalBinary()
	copy(buf[offset:], idBytes)
	offset += 16
	binary.BigEndian.PutUint64(buf[offset:], uint64(fb.FiledAt.UnixNano()))
	offset += 8
	binary.BigEndian.PutUint32(buf[offset:], fb.DstIP)
	offset += 4
	binary.BigEndian.PutUint32(buf[offset:], fb.CusumID)
	offset += 4
	for _, v := range []float64{
		fb.MeasuredBytes, fb.MeasuredPackets, fb.MeasuredEntropy, fb.MeasuredRecvSentBytes, fb.MeasuredRecvSentFlows,
	} {
		binary.BigEndian.PutUint64(buf[offset:], float64bits(v))
		offset += 8
	}
	return buf
}

// DecodeFeedback parses a wire-form feedback record.
func DecodeFeedback(buf []byte) (model.FeedbackRecord, error) {
	const size = 16 + 8 + 4 + 4 + 5*8
	if len(buf) < size {
		return model.FeedbackRecord{}, fmt.Errorf("feedback payload too short: %d bytes", len(buf))
	}
	var fb model.FeedbackRecord
	offset := 0
	id, err := uuid.FromBytes(buf[offset : offset+16])
	if err != nil {
		return model.FeedbackRecord{}, fmt.Errorf("feedback id: %w", err)
	}
	fb.ID = id
	offset += 16
	fb.FiledAt = unixNano(binary.BigEndian.Uint64(buf[offset:]))
	offset += 8
	fb.DstIP = binary.BigEndian.Uint32(buf[offset:])
	offset += 4
	fb.CusumID = binary.BigEndian.Uint32(buf[offset:])
	offset += 4

	fields := [5]*float64{
		&fb.MeasuredBytes, &fb.MeasuredPackets, &fb.MeasuredEntropy, &fb.MeasuredRecvSentBytes, &fb.MeasuredRecvSentFlows,
	}
	for _, f := range fields {
		*f = float64frombits(binary.BigEndian.Uint64(buf[offset:]))
		offset += 8
	}
	return fb, nil
}
