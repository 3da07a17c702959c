package core

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

type Direction uint8

const (
	DirectionUnknown Direction = iota
	DirectionIn                // device to host, server to client
	DirectionOut               // host to device, client to server
)

func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "in"
	case DirectionOut:
		return "out"
	}
	return "unknown"
}

// EndpointBus identifies a bus/device/interface address, e.g. a USB endpoint.
var EndpointBus = gopacket.RegisterEndpointType(4000, gopacket.EndpointTypeMetadata{
	Name: "Bus",
	Formatter: func(b []byte) string {
		if len(b) != 4 {
			return fmt.Sprintf("bus(%x)", b)
		}
		return fmt.Sprintf("%d.%d.%d", binary.BigEndian.Uint16(b[0:2]), b[2], b[3])
	},
})

// FlowKey identifies the logical conversation a frame belongs to. Net and
// Transport are gopacket flows, Stream separates multiplexed streams inside
// one transport flow.
type FlowKey struct {
	Net       gopacket.Flow
	Transport gopacket.Flow
	Stream    uint64
}

func (k FlowKey) String() string {
	s := k.Net.String()
	if k.Transport != (gopacket.Flow{}) {
		s += "/" + k.Transport.String()
	}
	if k.Stream != 0 {
		s += fmt.Sprintf("#%d", k.Stream)
	}
	return s
}

// Canonical orders both flows so the two directions of a conversation map to
// the same key.
func (k FlowKey) Canonical() FlowKey {
	src, dst := k.Net.Endpoints()
	if dst.LessThan(src) {
		k.Net = k.Net.Reverse()
		k.Transport = k.Transport.Reverse()
	}
	return k
}

// BusFlow builds the key for a bus/device/interface conversation between the
// host and one device interface.
func BusFlow(bus uint16, device, iface uint8) FlowKey {
	host := []byte{0, 0, 0, 0}
	dev := []byte{byte(bus >> 8), byte(bus), device, iface}
	return FlowKey{Net: gopacket.NewFlow(EndpointBus, host, dev)}
}

// UDPFlow builds a 5-tuple style key for an IPv4 or IPv6 UDP conversation.
func UDPFlow(src, dst net.IP, sport, dport uint16) FlowKey {
	return FlowKey{
		Net:       ipFlow(src, dst),
		Transport: portFlow(layers.EndpointUDPPort, sport, dport),
	}
}

func TCPFlow(src, dst net.IP, sport, dport uint16, stream uint64) FlowKey {
	return FlowKey{
		Net:       ipFlow(src, dst),
		Transport: portFlow(layers.EndpointTCPPort, sport, dport),
		Stream:    stream,
	}
}

func ipFlow(src, dst net.IP) gopacket.Flow {
	if s4, d4 := src.To4(), dst.To4(); s4 != nil && d4 != nil {
		return gopacket.NewFlow(layers.EndpointIPv4, s4, d4)
	}
	return gopacket.NewFlow(layers.EndpointIPv6, src.To16(), dst.To16())
}

func portFlow(t gopacket.EndpointType, sport, dport uint16) gopacket.Flow {
	var s, d [2]byte
	binary.BigEndian.PutUint16(s[:], sport)
	binary.BigEndian.PutUint16(d[:], dport)
	return gopacket.NewFlow(t, s[:], d[:])
}

// Frame is one captured record. It is never modified after creation.
type Frame struct {
	Number        uint32
	Timestamp     time.Time
	Flow          FlowKey
	Direction     Direction
	Discriminator Discriminator
	Data          []byte
}

func (f *Frame) Cursor() *Cursor {
	return NewCursor(f.Data)
}
