package install

import (
	"net/netip"

	"github.com/routed-project/routed/internal/bgp"
)

// netipPrefixFromBGP converts a bgp.Prefix (net.IPNet-backed) to
// netip.Prefix so BGP's Loc-RIB entries key into the same desired-table
// map as OSPF/IS-IS/static candidates.
func netipPrefixFromBGP(p bgp.Prefix) (netip.Prefix, bool) {
	addr, ok := netip.AddrFromSlice(p.IP)
	if !ok {
		return netip.Prefix{}, false
	}
	ones, bits := p.Mask.Size()
	if bits == 0 {
		return netip.Prefix{}, false
	}
	return netip.PrefixFrom(addr.Unmap(), ones), true
}
