package manager

import (
	"encoding/hex"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/routed-project/routed/internal/bgp"
	"github.com/routed-project/routed/internal/config"
	"github.com/routed-project/routed/internal/isis"
	"github.com/routed-project/routed/internal/ospf"
)

func parseRouterID(s string) (ospf.RouterID, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return 0, fmt.Errorf("invalid router-id %q", s)
	}
	v4 := ip.To4()
	if v4 == nil {
		return 0, fmt.Errorf("router-id %q is not an IPv4 address", s)
	}
	return ospf.RouterID(uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3])), nil
}

func parseIdentifier(s string) (bgp.Identifier, error) {
	id, err := parseRouterID(s)
	return bgp.Identifier(id), err
}

// parseSystemID accepts the conventional "xxxx.xxxx.xxxx" dotted-hex
// rendering of an IS-IS system id (spec §6's `system-id` config field).
func parseSystemID(s string) (isis.SystemID, error) {
	raw, err := hex.DecodeString(strings.ReplaceAll(s, ".", ""))
	if err != nil || len(raw) != isis.SystemIDLen {
		return isis.SystemID{}, fmt.Errorf("invalid system-id %q", s)
	}
	var id isis.SystemID
	copy(id[:], raw)
	return id, nil
}

func parseAreaAddress(s string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.ReplaceAll(s, ".", ""))
	if err != nil || len(raw) == 0 {
		return nil, fmt.Errorf("invalid area address %q", s)
	}
	return raw, nil
}

func parseNetworkType(s string) (ospf.NetworkType, error) {
	switch s {
	case "", "broadcast":
		return ospf.Broadcast, nil
	case "point-to-point":
		return ospf.PointToPoint, nil
	case "point-to-multipoint":
		return ospf.PointToMultipoint, nil
	case "nbma":
		return ospf.NBMA, nil
	default:
		return 0, fmt.Errorf("unknown ospf network_type %q", s)
	}
}

func parseCircuitType(s string) (isis.CircuitType, error) {
	switch s {
	case "", "broadcast":
		return isis.CircuitBroadcast, nil
	case "point-to-point":
		return isis.CircuitP2P, nil
	default:
		return 0, fmt.Errorf("unknown isis circuit_type %q", s)
	}
}

func parseLevel(s string) isis.Level {
	switch s {
	case "1":
		return isis.Level1
	case "2":
		return isis.Level2
	default:
		return 0 // both
	}
}

func parseBGPAddr(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid bgp peer address %q: %w", s, err)
	}
	return addr, nil
}

func ospfCircuitConfig(ic config.OSPFInterfaceConfig) (ospf.CircuitConfig, error) {
	nt, err := parseNetworkType(ic.NetworkType)
	if err != nil {
		return ospf.CircuitConfig{}, err
	}
	var network netip.Prefix
	if ic.Network != "" {
		network, err = netip.ParsePrefix(ic.Network)
		if err != nil {
			return ospf.CircuitConfig{}, fmt.Errorf("invalid network %q: %w", ic.Network, err)
		}
	}
	return ospf.CircuitConfig{
		Name:        ic.Name,
		Network:     network,
		Area:        ic.AreaID,
		NetworkType: nt,
		Metric:      ic.Metric,
		Priority:    ic.Priority,
		Passive:     ic.Passive,
	}, nil
}

func isisCircuitConfig(ic config.ISISInterfaceConfig, fallback isis.Level) (isis.CircuitConfig, error) {
	ct, err := parseCircuitType(ic.CircuitType)
	if err != nil {
		return isis.CircuitConfig{}, err
	}
	var network netip.Prefix
	if ic.Network != "" {
		network, err = netip.ParsePrefix(ic.Network)
		if err != nil {
			return isis.CircuitConfig{}, fmt.Errorf("invalid network %q: %w", ic.Network, err)
		}
	}
	return isis.CircuitConfig{
		Name:        ic.Name,
		Network:     network,
		Metric:      ic.Metric,
		Level:       fallback,
		CircuitType: ct,
		Priority:    ic.Priority,
		Passive:     ic.Passive,
	}, nil
}

func bgpPeerFromConfig(pc config.BGPPeerConfig) (*bgp.Peer, error) {
	addr, err := parseBGPAddr(pc.IP)
	if err != nil {
		return nil, err
	}
	p := bgp.NewPeer(addr, bgp.ASN(pc.RemoteAS))
	p.Passive = pc.Passive
	p.RouteReflectorClient = pc.RRClient
	p.MD5Key = pc.MD5Key
	if pc.HoldTime > 0 {
		p.HoldTime = pc.HoldTime
	}
	if pc.ConnectRetry > 0 {
		p.ConnectRetry = pc.ConnectRetry
	}
	return p, nil
}
