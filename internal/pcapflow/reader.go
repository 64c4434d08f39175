package pcapflow

import (
	"log"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"

	"ddosguard/internal/model"
)

// Reader reads packets from a pcap file and turns each one into a flow
// record.
type Reader struct {
	handle *pcap.Handle
}

// NewReader opens filePath for offline reading.
func NewReader(filePath string) (*Reader, error) {
	handle, err := pcap.OpenOffline(filePath)
	if err != nil {
		return nil, err
	}
	return &Reader{handle: handle}, nil
}

// Close closes the underlying pcap handle.
func (r *Reader) Close() {
	r.handle.Close()
}

// ReadFlows parses every packet in the capture, aggregates them into
// DefaultWindow-wide flow windows keyed by (srcAddr,dstAddr), and sends
// one FlowRecord per key per window to out, closing out once the capture
// is exhausted and the final window is flushed. Packets that aren't
// IPv4 are logged and skipped, not treated as fatal.
func (r *Reader) ReadFlows(out chan<- model.FlowRecord) {
	r.ReadFlowsWindowed(out, DefaultWindow)
}

// ReadFlowsWindowed is ReadFlows with an explicit aggregation window.
func (r *Reader) ReadFlowsWindowed(out chan<- model.FlowRecord, window time.Duration) {
	defer close(out)

	agg := NewAggregator(window)
	packetSource := gopacket.NewPacketSource(r.handle, r.handle.LinkType())
	for packet := range packetSource.Packets() {
		rec, err := parsePacket(packet.Data(), packet.Metadata().Timestamp)
		if err != nil {
			log.Printf("skipping packet: %v", err)
			continue
		}
		for _, flow := range agg.Add(rec.SrcAddr, rec.DstAddr, rec.Bytes, rec.Timestamp) {
			out <- flow
		}
	}
	for _, flow := range agg.Flush() {
		out <- flow
	}
}
