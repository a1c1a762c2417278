package redistribute

import (
	"net"
	"net/netip"

	"github.com/routed-project/routed/internal/bgp"
)

// netipPrefixFromBGP converts a bgp.Prefix (net.IPNet-backed) to netip.Prefix
// so routes can be compared across engines by the same key type.
func netipPrefixFromBGP(p bgp.Prefix) (netip.Prefix, bool) {
	addr, ok := netip.AddrFromSlice(p.IP)
	if !ok {
		return netip.Prefix{}, false
	}
	ones, bits := p.Mask.Size()
	if bits == 0 {
		return netip.Prefix{}, false
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, ones), true
}

// bgpPrefixFromNetip is the inverse conversion, used when injecting a
// route collected from OSPF/IS-IS/static into BGP's Loc-RIB.
func bgpPrefixFromNetip(p netip.Prefix) (bgp.Prefix, bool) {
	if !p.IsValid() {
		return bgp.Prefix{}, false
	}
	addr := p.Addr()
	bits := 32
	if addr.Is6() {
		bits = 128
	}
	mask := net.CIDRMask(p.Bits(), bits)
	ip := addr.AsSlice()
	return bgp.Prefix{IPNet: net.IPNet{IP: ip, Mask: mask}}, true
}
