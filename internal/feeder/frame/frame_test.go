package frame

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

func serialize(t *testing.T, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: net.IP{1, 2, 3, 4}, DstIP: net.IP{5, 6, 7, 8}}
	udp := &layers.UDP{SrcPort: 5353, DstPort: 53}
	udp.SetNetworkLayerForChecksum(ip)
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestBuild(t *testing.T) {
	data := serialize(t, []byte("query"))
	ts := time.Unix(1700000123, 0)
	rec, err := Build(data, layers.LinkTypeEthernet, gopacket.CaptureInfo{Timestamp: ts, Length: len(data), CaptureLength: len(data)})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Timestamp != 1700000123 {
		t.Errorf("ts=%d", rec.Timestamp)
	}
	if rec.Src != [4]byte{1, 2, 3, 4} || rec.Dst != [4]byte{5, 6, 7, 8} {
		t.Errorf("addrs=%v %v", rec.Src, rec.Dst)
	}
	if rec.Protocol != 17 || int(rec.DeclaredSize) != len(data) {
		t.Errorf("proto=%d size=%d", rec.Protocol, rec.DeclaredSize)
	}
	// UDP 头 8 字节 + "query"
	if !bytes.Equal(rec.Payload[8:13], []byte("query")) {
		t.Errorf("payload=%x", rec.Payload[:16])
	}
}

func TestBuild_TruncatesLargePacket(t *testing.T) {
	data := serialize(t, make([]byte, 3000))
	rec, err := Build(data, layers.LinkTypeEthernet, gopacket.CaptureInfo{Length: len(data)})
	if err != nil {
		t.Fatal(err)
	}
	if rec.DeclaredSize != 1500 {
		t.Fatalf("size=%d", rec.DeclaredSize)
	}
}

func TestBuild_NotIPv4(t *testing.T) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType: layers.LinkTypeEthernet, Protocol: layers.EthernetTypeIPv4,
		HwAddressSize: 6, ProtAddressSize: 4, Operation: layers.ARPRequest,
		SourceHwAddress: []byte{0, 1, 2, 3, 4, 5}, SourceProtAddress: []byte{10, 0, 0, 1},
		DstHwAddress: []byte{0, 0, 0, 0, 0, 0}, DstProtAddress: []byte{10, 0, 0, 2},
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, arp); err != nil {
		t.Fatal(err)
	}
	if _, err := Build(buf.Bytes(), layers.LinkTypeEthernet, gopacket.CaptureInfo{}); !errors.Is(err, ErrNotIPv4) {
		t.Fatalf("got %v", err)
	}
}
