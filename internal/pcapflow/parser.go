// Package pcapflow turns a packet capture into the FlowRecord stream the
// ingest stage consumes, for offline replay against pcap fixtures.
package pcapflow

import (
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"ddosguard/internal/model"
	"ddosguard/internal/trie"
)

// parsePacket extracts the fields a FlowRecord needs from one raw packet:
// source/destination address and byte length. Non-IPv4 packets are
// rejected, matching the detector's IPv4-only addressing domain.
func parsePacket(data []byte, captureTime time.Time) (model.FlowRecord, error) {
	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	ipLayer := packet.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return model.FlowRecord{}, fmt.Errorf("not an IPv4 packet")
	}
	ip := ipLayer.(*layers.IPv4)

	ts := captureTime
	if meta := packet.Metadata(); meta != nil && !meta.Timestamp.IsZero() {
		ts = meta.Timestamp
	}

	return model.FlowRecord{
		SrcAddr:   trie.IPToUint32(ip.SrcIP),
		DstAddr:   trie.IPToUint32(ip.DstIP),
		Bytes:     uint64(len(data)),
		Packets:   1,
		Timestamp: ts,
	}, nil
}
