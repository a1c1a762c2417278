package iface

import (
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// AllSPFRouters / AllDRouters (spec §4.2, §6).
var (
	AllSPFRoutersV4 = net.IPv4(224, 0, 0, 5)
	AllDRoutersV4   = net.IPv4(224, 0, 0, 6)
)

// AllSPFRoutersV6 / AllDRoutersV6 are the OSPFv3 link-local multicast
// groups named in spec §6 (ff02::5 / ff02::6).
var (
	AllSPFRoutersV6 = net.ParseIP("ff02::5")
	AllDRoutersV6   = net.ParseIP("ff02::6")
)

// OSPFSocket is one raw IP socket per interface using IP protocol 89
// (spec §4.2). Built on golang.org/x/net/ipv4's PacketConn, the idiomatic
// shape shown by mdlayher/ospf3 for an OSPF packet engine, rather than
// shelling out to a hand-rolled AF_INET SOCK_RAW wrapper.
type OSPFSocket struct {
	iface *Interface
	conn  *net.IPConn
	pconn *ipv4.PacketConn
	dr    bool // true once we've joined AllDRouters as elected DR
}

const ospfIPProto = 89

// NewOSPFSocket opens and binds the raw IP socket for one interface,
// joining AllSPFRouters by default (spec §4.2).
func NewOSPFSocket(ifc *Interface) (*OSPFSocket, error) {
	netIfc, err := net.InterfaceByIndex(ifc.Index)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenIP("ip4:89", &net.IPAddr{IP: net.IPv4zero})
	if err != nil {
		return nil, err
	}
	pconn := ipv4.NewPacketConn(conn)
	if err := pconn.JoinGroup(netIfc, &net.UDPAddr{IP: AllSPFRoutersV4}); err != nil {
		conn.Close()
		return nil, err
	}
	if err := pconn.SetMulticastInterface(netIfc); err != nil {
		conn.Close()
		return nil, err
	}
	_ = pconn.SetControlMessage(ipv4.FlagDst|ipv4.FlagSrc|ipv4.FlagInterface|ipv4.FlagTTL, true)

	return &OSPFSocket{iface: ifc, conn: conn, pconn: pconn}, nil
}

// JoinDR joins AllDRouters; called when this router is elected DR/BDR on
// the interface (spec §4.2).
func (s *OSPFSocket) JoinDR() error {
	if s.dr {
		return nil
	}
	netIfc, err := net.InterfaceByIndex(s.iface.Index)
	if err != nil {
		return err
	}
	if err := s.pconn.JoinGroup(netIfc, &net.UDPAddr{IP: AllDRoutersV4}); err != nil {
		return err
	}
	s.dr = true
	return nil
}

// LeaveDR leaves AllDRouters on DR/BDR departure.
func (s *OSPFSocket) LeaveDR() error {
	if !s.dr {
		return nil
	}
	netIfc, err := net.InterfaceByIndex(s.iface.Index)
	if err != nil {
		return err
	}
	s.dr = false
	return s.pconn.LeaveGroup(netIfc, &net.UDPAddr{IP: AllDRoutersV4})
}

// Packet is a received datagram delivered to the protocol engine as
// (bytes, source-ip, interface, ingress-dscp), per spec §4.2.
type Packet struct {
	Data      []byte
	Src       net.IP
	Interface *Interface
	DSCP      int
}

// Recv blocks for the next inbound OSPF packet on this socket.
func (s *OSPFSocket) Recv() (*Packet, error) {
	buf := make([]byte, 65535)
	n, cm, src, err := s.pconn.ReadFrom(buf)
	if err != nil {
		return nil, err
	}
	dscp := 0
	if cm != nil {
		dscp = int(cm.TOS) >> 2
	}
	srcIP := src.(*net.IPAddr).IP
	return &Packet{Data: buf[:n], Src: srcIP, Interface: s.iface, DSCP: dscp}, nil
}

// SendMulticast sends to AllSPFRouters (default outbound mode, spec §4.2).
func (s *OSPFSocket) SendMulticast(data []byte) error {
	return s.sendTo(data, AllSPFRoutersV4)
}

// SendUnicast sends to a specific neighbor IP — used for point-to-point
// links and unicast retransmissions (spec §4.2).
func (s *OSPFSocket) SendUnicast(data []byte, dst net.IP) error {
	return s.sendTo(data, dst)
}

func (s *OSPFSocket) sendTo(data []byte, dst net.IP) error {
	cm := &ipv4.ControlMessage{}
	src := s.iface.SourceIP
	if src == nil {
		src = s.iface.PrimaryIPv4
	}
	if src != nil {
		cm.Src = src
	}
	if netIfc, err := net.InterfaceByIndex(s.iface.Index); err == nil {
		cm.IfIndex = netIfc.Index
	}
	_, err := s.pconn.WriteTo(data, cm, &net.IPAddr{IP: dst})
	return err
}

func (s *OSPFSocket) Close() error { return s.conn.Close() }

// OSPFv3Socket mirrors OSPFSocket for IPv6 transport (spec §6). It joins
// AllSPFRoutersV6 on the interface; it binds no source address, link-local
// or otherwise, and has no send or receive method.
type OSPFv3Socket struct {
	iface *Interface
	conn  *net.IPConn
	pconn *ipv6.PacketConn
}

func NewOSPFv3Socket(ifc *Interface) (*OSPFv3Socket, error) {
	netIfc, err := net.InterfaceByIndex(ifc.Index)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenIP("ip6:89", &net.IPAddr{IP: net.IPv6unspecified})
	if err != nil {
		return nil, err
	}
	pconn := ipv6.NewPacketConn(conn)
	if err := pconn.JoinGroup(netIfc, &net.UDPAddr{IP: AllSPFRoutersV6}); err != nil {
		conn.Close()
		return nil, err
	}
	_ = pconn.SetMulticastInterface(netIfc)
	return &OSPFv3Socket{iface: ifc, conn: conn, pconn: pconn}, nil
}

func (s *OSPFv3Socket) Close() error { return s.conn.Close() }
