// Package iface holds the Interface handle (spec §3) and the per-protocol
// raw socket I/O of spec §4.2 (C2). The interface-discovery/identifier
// helpers are adapted from network/network.go's FindBGPIdentifier and
// ipToUint32/Uint32ToIP, generalized from "pick any global-unicast IPv4"
// to "enumerate every configured interface with its primary IPv4, IPv6
// set and link-local address" per spec §3.
package iface

import (
	"encoding/binary"
	"fmt"
	"net"
)

// State is the admin/oper state of an Interface.
type State int

const (
	Down State = iota
	Up
)

// GREEndpoint describes an optional GRE tunnel bound to an Interface.
type GREEndpoint struct {
	Local, Remote net.IP
	Key           uint32
}

// Interface is the named handle of spec §3: created once at start and not
// reconfigured afterward.
type Interface struct {
	Name        string
	Index       int
	PrimaryIPv4 net.IP
	Netmask     net.IPMask
	IPv6Addrs   []net.IP // includes exactly one link-local when IPv6 is used
	MTU         int
	Admin       State
	Oper        State
	GRE         *GREEndpoint
	SourceIP    net.IP // optional per-interface override (spec §4.2)
}

// LinkLocal returns the interface's link-local IPv6 address, if any.
func (i *Interface) LinkLocal() net.IP {
	for _, a := range i.IPv6Addrs {
		if a.IsLinkLocalUnicast() {
			return a
		}
	}
	return nil
}

// Discover enumerates host interfaces into the Interface handles consumed
// by the manager at startup (spec §3: "created once at start").
func Discover() ([]*Interface, error) {
	ifs, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var out []*Interface
	for _, v := range ifs {
		addrs, err := v.Addrs()
		if err != nil {
			continue
		}
		h := &Interface{Name: v.Name, Index: v.Index, MTU: v.MTU}
		if v.Flags&net.FlagUp != 0 {
			h.Oper = Up
			h.Admin = Up
		}
		for _, a := range addrs {
			ip, ipnet, err := net.ParseCIDR(a.String())
			if err != nil {
				continue
			}
			if ip4 := ip.To4(); ip4 != nil {
				if h.PrimaryIPv4 == nil {
					h.PrimaryIPv4 = ip4
					h.Netmask = ipnet.Mask
				}
			} else {
				h.IPv6Addrs = append(h.IPv6Addrs, ip)
			}
		}
		out = append(out, h)
	}
	return out, nil
}

// RouterIDFromInterfaces picks a stable router-id the way network.go's
// FindBGPIdentifier did: the first global-unicast IPv4 across all
// interfaces. Note (spec §9-style): this selection is arbitrary and should
// be overridden by explicit router-id configuration whenever present.
func RouterIDFromInterfaces(ifs []*Interface) (uint32, error) {
	for _, h := range ifs {
		if h.PrimaryIPv4 == nil {
			continue
		}
		if h.PrimaryIPv4.IsGlobalUnicast() {
			return IPToUint32(h.PrimaryIPv4), nil
		}
	}
	return 0, fmt.Errorf("iface: no valid router-id candidate found")
}

// IPToUint32 converts a 4-byte (or v4-mapped) IP to its big-endian uint32
// form, used as the OSPF/BGP router-id and LSA keys.
func IPToUint32(ip net.IP) uint32 {
	ip4 := ip.To4()
	return binary.BigEndian.Uint32(ip4)
}

// Uint32ToIP is the inverse of IPToUint32.
func Uint32ToIP(v uint32) net.IP {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, v)
	return ip
}

// PeerOnSubnet resolves the remote address of a /31 or /30 point-to-point
// link per spec §8's test vectors: (10.0.0.1/31 -> peer 10.0.0.0),
// (10.0.0.5/30 -> peer 10.0.0.6, the other usable host address).
func PeerOnSubnet(local net.IP, network *net.IPNet) (net.IP, error) {
	ones, bits := network.Mask.Size()
	if bits != 32 {
		return nil, fmt.Errorf("iface: PeerOnSubnet only supports IPv4")
	}
	switch ones {
	case 31:
		// Two usable addresses, no network/broadcast reserved (RFC 3021).
		base := ipToU32(network.IP)
		self := ipToU32(local)
		if self == base {
			return u32ToIP(base + 1), nil
		}
		return u32ToIP(base), nil
	case 30:
		base := ipToU32(network.IP)
		self := ipToU32(local)
		// usable hosts are base+1 and base+2
		if self == base+1 {
			return u32ToIP(base + 2), nil
		}
		if self == base+2 {
			return u32ToIP(base + 1), nil
		}
		return nil, fmt.Errorf("iface: %s is not a usable host on %s", local, network)
	default:
		return nil, fmt.Errorf("iface: PeerOnSubnet requires a /31 or /30")
	}
}

func ipToU32(ip net.IP) uint32 {
	ip4 := ip.To4()
	return binary.BigEndian.Uint32(ip4)
}

func u32ToIP(v uint32) net.IP {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, v)
	return ip
}
