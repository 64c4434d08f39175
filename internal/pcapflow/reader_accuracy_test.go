package pcapflow

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"ddosguard/internal/model"
	"ddosguard/internal/trie"
)

type fixturePacket struct {
	src, dst net.IP
	size     int
	ts       time.Time
}

// writePcap builds a pcap file at path from packets, in order, one frame
// each.
func writePcap(t *testing.T, path string, packets []fixturePacket) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating pcap fixture: %v", err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("writing pcap header: %v", err)
	}

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv4,
	}
	for _, p := range packets {
		ip := &layers.IPv4{Version: 4, TTL: 64, SrcIP: p.src, DstIP: p.dst, Protocol: layers.IPProtocolUDP}
		udp := &layers.UDP{SrcPort: 1234, DstPort: 53}
		udp.SetNetworkLayerForChecksum(ip)

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		payload := make([]byte, p.size)
		if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
			t.Fatalf("serializing fixture packet: %v", err)
		}

		ci := gopacket.CaptureInfo{Timestamp: p.ts, CaptureLength: len(buf.Bytes()), Length: len(buf.Bytes())}
		if err := w.WritePacket(ci, buf.Bytes()); err != nil {
			t.Fatalf("writing fixture packet: %v", err)
		}
	}
}

// TestReadFlowsWindowedMatchesGroundTruth builds a capture with two
// source/destination pairs spread across three 5-second windows and
// checks the aggregated FlowRecords match a per-(src,dst) packet tally
// computed independently from the same packet list.
func TestReadFlowsWindowedMatchesGroundTruth(t *testing.T) {
	a := net.ParseIP("203.0.113.5").To4()
	b := net.ParseIP("203.0.113.9").To4()
	victim := net.ParseIP("10.0.0.1").To4()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	packets := []fixturePacket{
		{a, victim, 100, base},
		{a, victim, 200, base.Add(time.Second)},
		{b, victim, 50, base.Add(2 * time.Second)},
		{a, victim, 300, base.Add(6 * time.Second)},
		{b, victim, 60, base.Add(11 * time.Second)},
	}

	wantPackets := make(map[[2]uint32]uint64)
	wantBytes := make(map[[2]uint32]uint64)
	distinctWindows := make(map[[3]uint32]struct{})
	for _, p := range packets {
		key := [2]uint32{trie.IPToUint32(p.src), trie.IPToUint32(p.dst)}
		wantPackets[key]++
		wantBytes[key] += uint64(frameSize(p.size))
		win := uint32(p.ts.Sub(base) / (5 * time.Second))
		distinctWindows[[3]uint32{key[0], key[1], win}] = struct{}{}
	}

	path := t.TempDir() + "/accuracy.pcap"
	writePcap(t, path, packets)

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("opening fixture pcap: %v", err)
	}
	defer reader.Close()

	out := make(chan model.FlowRecord, 16)
	go reader.ReadFlowsWindowed(out, 5*time.Second)

	gotPackets := make(map[[2]uint32]uint64)
	gotBytes := make(map[[2]uint32]uint64)
	recordCount := 0
	for f := range out {
		recordCount++
		key := [2]uint32{f.SrcAddr, f.DstAddr}
		gotPackets[key] += f.Packets
		gotBytes[key] += f.Bytes
	}

	for key, want := range wantPackets {
		if got := gotPackets[key]; got != want {
			t.Fatalf("pair %v: expected %d total packets across all windows, got %d", key, want, got)
		}
		if got := gotBytes[key]; got != wantBytes[key] {
			t.Fatalf("pair %v: expected %d total bytes across all windows, got %d", key, wantBytes[key], got)
		}
	}

	if recordCount < len(distinctWindows) {
		t.Fatalf("expected at least %d aggregated flow records (one per window/key), got %d", len(distinctWindows), recordCount)
	}
}

// frameSize mirrors the Ethernet+IPv4+UDP header overhead parsePacket
// counts as part of each packet's byte length, so the ground-truth tally
// matches what the aggregator actually sums.
func frameSize(payloadLen int) int {
	const ethHeader, ipHeader, udpHeader = 14, 20, 8
	return ethHeader + ipHeader + udpHeader + payloadLen
}
