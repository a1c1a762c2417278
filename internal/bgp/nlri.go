package bgp

import (
	"fmt"
	"net"

	"github.com/routed-project/routed/internal/errs"
	"github.com/routed-project/routed/internal/wire"
)

// Prefix is one NLRI: a length-prefixed IP prefix (spec §4.1: "NLRIs and
// withdrawn routes are length-prefixed prefixes"). Generalized from the
// teacher's speaker/nlri.go (an IPv4-only net.IPNet wrapper) to carry
// either family so MP_REACH/UNREACH (IPv6) shares the same type as the
// plain IPv4 NLRI field.
type Prefix struct {
	net.IPNet
}

func (p Prefix) String() string { return p.IPNet.String() }

// decodePrefixes reads the length-prefixed <prefix-length, prefix> list
// used for both the withdrawn-routes and NLRI fields (spec §4.1), for the
// given address family byte width (4 for IPv4, 16 for IPv6).
func decodePrefixes(r *wire.Reader, addrLen int) ([]Prefix, error) {
	var out []Prefix
	for r.Remaining() > 0 {
		bits, err := r.Byte()
		if err != nil {
			return nil, errs.New(errs.Malformed, "bgp", "truncated prefix length")
		}
		if int(bits) > addrLen*8 {
			return nil, errs.New(errs.ProtocolViolation, "bgp", "invalid network field")
		}
		nbytes := (int(bits) + 7) / 8
		raw, err := r.Bytes(nbytes)
		if err != nil {
			return nil, errs.New(errs.Malformed, "bgp", "truncated prefix")
		}
		ip := make([]byte, addrLen)
		copy(ip, raw)
		out = append(out, Prefix{net.IPNet{IP: net.IP(ip), Mask: net.CIDRMask(int(bits), addrLen*8)}})
	}
	return out, nil
}

func encodePrefixes(w *wire.Writer, prefixes []Prefix) {
	for _, p := range prefixes {
		ones, _ := p.Mask.Size()
		w.Byte(byte(ones))
		nbytes := (ones + 7) / 8
		addrLen := 4
		if p.IP.To4() == nil {
			addrLen = 16
		}
		w.Bytes(to4OrTo16(p.IP, addrLen)[:nbytes])
	}
}

// to4OrTo16 returns the first n significant bytes of the IP in its
// natural family width, used by the NLRI encoder's "prefix bytes may be
// fewer than the full address length" rule.
func to4OrTo16(ip net.IP, n int) []byte {
	if v4 := ip.To4(); v4 != nil && len(v4) >= n {
		return v4[:n]
	}
	v16 := ip.To16()
	if v16 == nil || len(v16) < n {
		b := make([]byte, n)
		copy(b, ip)
		return b
	}
	return v16[:n]
}

func decodeMPReach(val []byte) ([]Prefix, []byte, error) {
	r := wire.NewReader(val)
	afi, err := r.Uint16()
	if err != nil {
		return nil, nil, errs.New(errs.Malformed, "bgp", "truncated MP_REACH afi")
	}
	safi, err := r.Byte()
	if err != nil {
		return nil, nil, errs.New(errs.Malformed, "bgp", "truncated MP_REACH safi")
	}
	_ = safi
	addrLen := 4
	if afi == 2 {
		addrLen = 16
	}
	nhLen, err := r.Byte()
	if err != nil {
		return nil, nil, errs.New(errs.Malformed, "bgp", "truncated MP_REACH next-hop length")
	}
	nh, err := r.Bytes(int(nhLen))
	if err != nil {
		return nil, nil, errs.New(errs.Malformed, "bgp", "truncated MP_REACH next-hop")
	}
	// SNPA count + list (deprecated, always present as a single 0 byte).
	snpaCount, err := r.Byte()
	if err != nil {
		return nil, nil, errs.New(errs.Malformed, "bgp", "truncated MP_REACH snpa")
	}
	for i := 0; i < int(snpaCount); i++ {
		l, err := r.Byte()
		if err != nil {
			return nil, nil, errs.New(errs.Malformed, "bgp", "truncated MP_REACH snpa entry")
		}
		if _, err := r.Bytes(int(l)); err != nil {
			return nil, nil, errs.New(errs.Malformed, "bgp", "truncated MP_REACH snpa entry")
		}
	}
	prefixes, err := decodePrefixes(r, addrLen)
	if err != nil {
		return nil, nil, err
	}
	return prefixes, nh, nil
}

func encodeMPReach(prefixes []Prefix, nextHop []byte) []byte {
	w := wire.NewWriter()
	afi := uint16(1)
	addrLen := 4
	if len(nextHop) == 16 {
		afi = 2
		addrLen = 16
	}
	w.Uint16(afi)
	w.Byte(1) // SAFI unicast
	w.Byte(byte(len(nextHop)))
	w.Bytes(nextHop)
	w.Byte(0) // SNPA count
	for _, p := range prefixes {
		ones, _ := p.Mask.Size()
		w.Byte(byte(ones))
		nbytes := (ones + 7) / 8
		w.Bytes(to4OrTo16(p.IP, addrLen)[:nbytes])
	}
	return w.Finish()
}

func decodeMPUnreach(val []byte) ([]Prefix, error) {
	r := wire.NewReader(val)
	afi, err := r.Uint16()
	if err != nil {
		return nil, errs.New(errs.Malformed, "bgp", "truncated MP_UNREACH afi")
	}
	if _, err := r.Byte(); err != nil { // SAFI
		return nil, errs.New(errs.Malformed, "bgp", "truncated MP_UNREACH safi")
	}
	addrLen := 4
	if afi == 2 {
		addrLen = 16
	}
	return decodePrefixes(r, addrLen)
}

func encodeMPUnreach(prefixes []Prefix) []byte {
	w := wire.NewWriter()
	afi := uint16(1)
	addrLen := 4
	if len(prefixes) > 0 {
		if prefixes[0].IP.To4() == nil {
			afi, addrLen = 2, 16
		}
	}
	w.Uint16(afi)
	w.Byte(1)
	for _, p := range prefixes {
		ones, _ := p.Mask.Size()
		w.Byte(byte(ones))
		nbytes := (ones + 7) / 8
		w.Bytes(to4OrTo16(p.IP, addrLen)[:nbytes])
	}
	return w.Finish()
}

// ParsePrefix is a small convenience used by config loading and tests
// (spec §6: "Originate a local prefix").
func ParsePrefix(cidr string) (Prefix, error) {
	_, n, err := net.ParseCIDR(cidr)
	if err != nil {
		return Prefix{}, fmt.Errorf("bgp: bad prefix %q: %w", cidr, err)
	}
	return Prefix{*n}, nil
}
