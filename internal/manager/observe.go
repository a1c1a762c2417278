package manager

import (
	"github.com/routed-project/routed/internal/bgp"
	"github.com/routed-project/routed/internal/isis"
	"github.com/routed-project/routed/internal/metrics"
	"github.com/routed-project/routed/internal/ospf"
)

// ProtocolStatus is one engine's entry in Status()'s per-protocol flags
// (spec §6 status(): "per-protocol running flag").
type ProtocolStatus struct {
	Configured bool
	Running    bool
}

// Status is spec §6's `status()` call: per-protocol configured/running
// flags and the names of the discovered interfaces. It carries no
// router-id.
type Status struct {
	OSPF       ProtocolStatus
	ISIS       ProtocolStatus
	BGP        ProtocolStatus
	Interfaces []string
}

func (m *Manager) Status() Status {
	st := Status{}
	if m.ospf != nil {
		st.OSPF = ProtocolStatus{Configured: true, Running: m.ospf.IsRunning()}
	}
	if m.isis != nil {
		st.ISIS = ProtocolStatus{Configured: true, Running: m.isis.IsRunning()}
	}
	if m.bgp != nil {
		st.BGP = ProtocolStatus{Configured: true, Running: true}
	}
	for name := range m.ifaces {
		st.Interfaces = append(st.Interfaces, name)
	}
	return st
}

// OSPFNeighbors is spec §6's `ospf.neighbors()`.
func (m *Manager) OSPFNeighbors() []*ospf.Neighbor {
	if m.ospf == nil {
		return nil
	}
	return m.ospf.Neighbors()
}

// OSPFLSDB is spec §6's `ospf.lsdb()`.
func (m *Manager) OSPFLSDB() map[uint32][]ospf.LSAHeader {
	if m.ospf == nil {
		return nil
	}
	return m.ospf.LSDBHeaders()
}

// OSPFRoutes is spec §6's `ospf.routes()`.
func (m *Manager) OSPFRoutes() []*ospf.Route {
	if m.ospf == nil {
		return nil
	}
	return m.ospf.Routes()
}

// ISISAdjacencies is the IS-IS equivalent of `ospf.neighbors()`.
func (m *Manager) ISISAdjacencies() []*isis.Adjacency {
	if m.isis == nil {
		return nil
	}
	return m.isis.Adjacencies.Adjacencies()
}

// ISISLSDB is the IS-IS equivalent of `ospf.lsdb()`.
func (m *Manager) ISISLSDB() (l1, l2 []*isis.LSP) {
	if m.isis == nil {
		return nil, nil
	}
	return m.isis.LSDBEntries()
}

// ISISRoutes is the IS-IS equivalent of `ospf.routes()`.
func (m *Manager) ISISRoutes() []*isis.Route {
	if m.isis == nil {
		return nil
	}
	return m.isis.Routes()
}

// BGPSessions is the BGP equivalent of `ospf.neighbors()` (spec §6:
// "sessions, RIB size, best-path per prefix, RIB contents paged").
func (m *Manager) BGPSessions() []*bgp.Peer {
	if m.bgp == nil {
		return nil
	}
	return m.bgp.Peers()
}

// BGPRoutes returns the current Loc-RIB contents.
func (m *Manager) BGPRoutes() []*bgp.Route {
	if m.bgp == nil {
		return nil
	}
	return m.bgp.Routes()
}

// Stats is spec §6's `stats()`: message counters per protocol.
func (m *Manager) Stats() metrics.Snapshot {
	return m.metrics.Snapshot()
}
