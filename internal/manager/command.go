package manager

import (
	"context"
	"net/netip"

	"github.com/google/uuid"

	"github.com/routed-project/routed/internal/bgp"
	"github.com/routed-project/routed/internal/errs"
)

// StartProtocol and StopProtocol implement spec §6's "start/stop a
// protocol" command for a protocol already built from config at New;
// they don't add a protocol that wasn't configured, matching the
// manager's "pre-validated config" requirement (the config was already
// validated once, at New).
func (m *Manager) StartProtocol(ctx context.Context, proto string) (uuid.UUID, error) {
	id := m.newTask("start:" + proto)
	switch proto {
	case "ospf":
		if m.ospf == nil {
			return id, errs.New(errs.Config, "manager", "ospf is not configured")
		}
		m.ospf.Start(ctx)
	case "isis":
		if m.isis == nil {
			return id, errs.New(errs.Config, "manager", "isis is not configured")
		}
		m.isis.Start(ctx)
	case "bgp":
		if m.bgp == nil {
			return id, errs.New(errs.Config, "manager", "bgp is not configured")
		}
		if err := m.bgp.Start(ctx); err != nil {
			return id, errs.Wrap(errs.Fatal, "manager", "starting bgp", err)
		}
	default:
		return id, errs.New(errs.Config, "manager", "unknown protocol "+proto)
	}
	return id, nil
}

func (m *Manager) StopProtocol(proto string) (uuid.UUID, error) {
	id := m.newTask("stop:" + proto)
	switch proto {
	case "ospf":
		if m.ospf != nil {
			m.ospf.Stop()
		}
	case "isis":
		if m.isis != nil {
			m.isis.Stop()
		}
	case "bgp":
		if m.bgp != nil {
			m.bgp.Stop()
		}
	default:
		return id, errs.New(errs.Config, "manager", "unknown protocol "+proto)
	}
	return id, nil
}

// AddBGPPeer adds and enables a BGP peer at runtime (spec §6: "add/remove
// a peer or interface").
func (m *Manager) AddBGPPeer(ctx context.Context, ip string, remoteAS uint32, passive bool) (uuid.UUID, error) {
	id := m.newTask("add-peer:" + ip)
	if m.bgp == nil {
		return id, errs.New(errs.Config, "manager", "bgp is not configured")
	}
	addr, err := parseBGPAddr(ip)
	if err != nil {
		return id, errs.Wrap(errs.Config, "manager", "peer address", err)
	}
	p := bgp.NewPeer(addr, bgp.ASN(remoteAS))
	p.Passive = passive
	m.bgp.AddPeer(ctx, p)
	return id, nil
}

// RemoveBGPPeer removes a runtime peer.
func (m *Manager) RemoveBGPPeer(ip string) (uuid.UUID, error) {
	id := m.newTask("remove-peer:" + ip)
	if m.bgp == nil {
		return id, errs.New(errs.Config, "manager", "bgp is not configured")
	}
	addr, err := parseBGPAddr(ip)
	if err != nil {
		return id, errs.Wrap(errs.Config, "manager", "peer address", err)
	}
	m.bgp.RemovePeer(addr)
	return id, nil
}

// OriginateBGPPrefix is spec §6's "originate a local prefix (BGP)".
func (m *Manager) OriginateBGPPrefix(cidr, nextHop string) (uuid.UUID, error) {
	id := m.newTask("originate:" + cidr)
	if m.bgp == nil {
		return id, errs.New(errs.Config, "manager", "bgp is not configured")
	}
	prefix, err := bgp.ParsePrefix(cidr)
	if err != nil {
		return id, errs.Wrap(errs.Config, "manager", "prefix", err)
	}
	var nh netip.Addr
	if nextHop != "" {
		nh, err = netip.ParseAddr(nextHop)
		if err != nil {
			return id, errs.Wrap(errs.Config, "manager", "next-hop", err)
		}
	}
	m.bgp.Originate(prefix, nh.AsSlice())
	return id, nil
}

// RedistributePrefix is spec §6's "redistribute a prefix (manual
// injection)": inject prefix directly into target as though it had
// been collected from some other engine, bypassing the fabric's normal
// collect cycle. No command in this package removes such an entry again.
func (m *Manager) RedistributePrefix(cidr, nextHop, target string, metric uint32) (uuid.UUID, error) {
	id := m.newTask("redistribute:" + cidr + "->" + target)
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return id, errs.Wrap(errs.Config, "manager", "prefix", err)
	}
	switch target {
	case "ospf":
		if m.ospf == nil {
			return id, errs.New(errs.Config, "manager", "ospf is not configured")
		}
		m.ospf.RedistributeRoute(prefix, metric, true)
	case "isis":
		if m.isis == nil {
			return id, errs.New(errs.Config, "manager", "isis is not configured")
		}
		m.isis.RedistributeRoute(prefix, metric, true)
	case "bgp":
		if m.bgp == nil {
			return id, errs.New(errs.Config, "manager", "bgp is not configured")
		}
		bgpPrefix, err := bgp.ParsePrefix(cidr)
		if err != nil {
			return id, errs.Wrap(errs.Config, "manager", "prefix", err)
		}
		nh, err := netip.ParseAddr(nextHop)
		if err != nil {
			return id, errs.Wrap(errs.Config, "manager", "next-hop", err)
		}
		m.bgp.RedistributeInto(bgpPrefix, nh.AsSlice(), bgp.SourceRedistributedStatic, metric)
	default:
		return id, errs.New(errs.Config, "manager", "unknown redistribution target "+target)
	}
	return id, nil
}

// RemoveOSPFInterface is spec §6's "add/remove a peer or interface".
func (m *Manager) RemoveOSPFInterface(name string) (uuid.UUID, error) {
	id := m.newTask("remove-ospf-iface:" + name)
	if m.ospf == nil {
		return id, errs.New(errs.Config, "manager", "ospf is not configured")
	}
	m.ospf.RemoveCircuit(name)
	return id, nil
}

// RemoveISISInterface is the IS-IS equivalent of RemoveOSPFInterface.
func (m *Manager) RemoveISISInterface(name string) (uuid.UUID, error) {
	id := m.newTask("remove-isis-iface:" + name)
	if m.isis == nil {
		return id, errs.New(errs.Config, "manager", "isis is not configured")
	}
	m.isis.RemoveCircuit(name)
	return id, nil
}
