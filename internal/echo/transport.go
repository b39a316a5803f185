package echo

import (
	"encoding/binary"
	"net"
	"net/netip"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const (
	protocolICMP   = 1
	protocolICMPv6 = 58

	payloadMagic = "pingcntr"
	payloadSize  = len(payloadMagic) + 8
)

// PacketConn is the subset of *icmp.PacketConn the client uses.
type PacketConn interface {
	ReadFrom(b []byte) (int, net.Addr, error)
	WriteTo(b []byte, dst net.Addr) (int, error)
	Close() error
}

// ListenFunc opens an ICMP endpoint. The default is icmp.ListenPacket.
type ListenFunc func(network, address string) (PacketConn, error)

func listenICMP(network, address string) (PacketConn, error) {
	return icmp.ListenPacket(network, address)
}

type family int

const (
	familyV4 family = iota + 1
	familyV6
)

func familyOf(addr netip.Addr) family {
	if addr.Is4() {
		return familyV4
	}
	return familyV6
}

func (f family) String() string {
	if f == familyV4 {
		return "ipv4"
	}
	return "ipv6"
}

// network returns the listen network and address. Unprivileged processes
// use datagram ICMP sockets; the kernel then owns the echo identifier.
func (f family) network(privileged bool) (string, string) {
	switch {
	case f == familyV4 && privileged:
		return "ip4:icmp", "0.0.0.0"
	case f == familyV4:
		return "udp4", "0.0.0.0"
	case privileged:
		return "ip6:ipv6-icmp", "::"
	default:
		return "udp6", "::"
	}
}

func (f family) protocol() int {
	if f == familyV4 {
		return protocolICMP
	}
	return protocolICMPv6
}

func destination(addr netip.Addr, privileged bool) net.Addr {
	ip := net.IP(addr.AsSlice())
	if privileged {
		return &net.IPAddr{IP: ip, Zone: addr.Zone()}
	}
	return &net.UDPAddr{IP: ip, Zone: addr.Zone()}
}

func marshalRequest(f family, id, seq uint16, h Handle) ([]byte, error) {
	payload := make([]byte, payloadSize)
	copy(payload, payloadMagic)
	binary.BigEndian.PutUint64(payload[len(payloadMagic):], uint64(h))

	var typ icmp.Type = ipv4.ICMPTypeEcho
	if f == familyV6 {
		typ = ipv6.ICMPTypeEchoRequest
	}
	msg := icmp.Message{
		Type: typ,
		Code: 0,
		Body: &icmp.Echo{ID: int(id), Seq: int(seq), Data: payload},
	}
	return msg.Marshal(nil)
}

type replyKind int

const (
	replyEcho replyKind = iota + 1
	replyUnreachable
	replyTimeExceeded
)

// reply is a decoded inbound ICMP message that may answer one of our
// requests. handle is zero when the message carries no payload we wrote.
type reply struct {
	kind   replyKind
	id     uint16
	seq    uint16
	handle Handle
}

func parseReply(f family, b []byte) (reply, bool) {
	msg, err := icmp.ParseMessage(f.protocol(), b)
	if err != nil {
		return reply{}, false
	}

	switch msg.Type {
	case ipv4.ICMPTypeEchoReply, ipv6.ICMPTypeEchoReply:
		body, ok := msg.Body.(*icmp.Echo)
		if !ok {
			return reply{}, false
		}
		r := reply{kind: replyEcho, id: uint16(body.ID), seq: uint16(body.Seq)}
		if len(body.Data) >= payloadSize && string(body.Data[:len(payloadMagic)]) == payloadMagic {
			r.handle = Handle(binary.BigEndian.Uint64(body.Data[len(payloadMagic):payloadSize]))
		}
		return r, true

	case ipv4.ICMPTypeDestinationUnreachable, ipv6.ICMPTypeDestinationUnreachable:
		body, ok := msg.Body.(*icmp.DstUnreach)
		if !ok {
			return reply{}, false
		}
		return quoted(f, replyUnreachable, body.Data)

	case ipv4.ICMPTypeTimeExceeded, ipv6.ICMPTypeTimeExceeded:
		body, ok := msg.Body.(*icmp.TimeExceeded)
		if !ok {
			return reply{}, false
		}
		return quoted(f, replyTimeExceeded, body.Data)
	}
	return reply{}, false
}

// quoted extracts the echo identifier and sequence number from the
// original datagram carried by an ICMP error message.
func quoted(f family, kind replyKind, data []byte) (reply, bool) {
	var offset int
	switch f {
	case familyV4:
		if len(data) < ipv4.HeaderLen {
			return reply{}, false
		}
		offset = int(data[0]&0x0f) << 2
		if data[9] != protocolICMP {
			return reply{}, false
		}
		if len(data) < offset+8 || data[offset] != byte(ipv4.ICMPTypeEcho) {
			return reply{}, false
		}
	default:
		if len(data) < ipv6.HeaderLen {
			return reply{}, false
		}
		offset = ipv6.HeaderLen
		if data[6] != protocolICMPv6 {
			return reply{}, false
		}
		if len(data) < offset+8 || data[offset] != byte(ipv6.ICMPTypeEchoRequest) {
			return reply{}, false
		}
	}

	return reply{
		kind: kind,
		id:   binary.BigEndian.Uint16(data[offset+4 : offset+6]),
		seq:  binary.BigEndian.Uint16(data[offset+6 : offset+8]),
	}, true
}
