// Package sniff decodes the IP headers of tunneled packets for trace
// logging. It never mutates or copies the packet.
package sniff

import (
	"fmt"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// Summary renders a one-line description of a raw IP packet, e.g.
// "IPv4 10.0.0.2 -> 8.8.8.8 UDP 40132->53 len=64".
func Summary(pkt []byte) string {
	if len(pkt) == 0 {
		return "empty packet"
	}
	var first gopacket.LayerType
	switch pkt[0] >> 4 {
	case 4:
		first = layers.LayerTypeIPv4
	case 6:
		first = layers.LayerTypeIPv6
	default:
		return fmt.Sprintf("non-IP packet len=%d", len(pkt))
	}

	p := gopacket.NewPacket(pkt, first, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	var src, dst, proto string
	switch first {
	case layers.LayerTypeIPv4:
		l, ok := p.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
		if !ok {
			return fmt.Sprintf("malformed IPv4 packet len=%d", len(pkt))
		}
		src, dst, proto = l.SrcIP.String(), l.DstIP.String(), l.Protocol.String()
	case layers.LayerTypeIPv6:
		l, ok := p.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
		if !ok {
			return fmt.Sprintf("malformed IPv6 packet len=%d", len(pkt))
		}
		src, dst, proto = l.SrcIP.String(), l.DstIP.String(), l.NextHeader.String()
	}

	ports := ""
	if t, ok := p.Layer(layers.LayerTypeTCP).(*layers.TCP); ok {
		ports = fmt.Sprintf(" %d->%d", t.SrcPort, t.DstPort)
	} else if u, ok := p.Layer(layers.LayerTypeUDP).(*layers.UDP); ok {
		ports = fmt.Sprintf(" %d->%d", u.SrcPort, u.DstPort)
	}

	version := "IPv4"
	if first == layers.LayerTypeIPv6 {
		version = "IPv6"
	}
	return fmt.Sprintf("%s %s -> %s %s%s len=%d", version, src, dst, proto, ports, len(pkt))
}
