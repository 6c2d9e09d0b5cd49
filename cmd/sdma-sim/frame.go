package main

import (
	"encoding/binary"
	"errors"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// hdrLen is the length of Ethernet, IPv4, and UDP headers.
const hdrLen = 14 + 20 + 8

// frameBuilder produces UDP frames of one flow.
type frameBuilder struct {
	eth     layers.Ethernet
	ip      layers.IPv4
	udp     layers.UDP
	payload []byte
}

func newFrameBuilder(flow int, payloadLen int) *frameBuilder {
	fb := &frameBuilder{
		eth: layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
			DstMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
			EthernetType: layers.EthernetTypeIPv4,
		},
		ip: layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IPv4(192, 168, 0, 1),
			DstIP:    net.IPv4(192, 168, 0, 2),
		},
		udp: layers.UDP{
			SrcPort: layers.UDPPort(10000 + flow),
			DstPort: 6363,
		},
		payload: make([]byte, max(payloadLen, 12)),
	}
	fb.udp.SetNetworkLayerForChecksum(&fb.ip)
	binary.BigEndian.PutUint32(fb.payload, uint32(flow))
	return fb
}

// Build serializes the frame with sequence number seq.
func (fb *frameBuilder) Build(seq uint64) ([]byte, error) {
	fb.ip.Id = uint16(seq)
	binary.BigEndian.PutUint64(fb.payload[4:], seq)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if e := gopacket.SerializeLayers(buf, opts, &fb.eth, &fb.ip, &fb.udp, gopacket.Payload(fb.payload)); e != nil {
		return nil, e
	}
	return buf.Bytes(), nil
}

// HeaderDiffs returns header words that change between frames of the flow.
func (fb *frameBuilder) HeaderDiffs() []uint32 {
	return []uint32{uint32(fb.ip.Id), uint32(fb.ip.Checksum), uint32(fb.udp.Checksum)}
}

var errNotUDP = errors.New("frame does not contain UDP")

// parseFrame decodes a captured frame and returns its flow and sequence number.
func parseFrame(frame []byte) (flow uint32, seq uint64, e error) {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	if el := pkt.ErrorLayer(); el != nil {
		return 0, 0, el.Error()
	}
	udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok || len(udp.Payload) < 12 {
		return 0, 0, errNotUDP
	}
	return binary.BigEndian.Uint32(udp.Payload), binary.BigEndian.Uint64(udp.Payload[4:]), nil
}
