package ospf

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(routerID RouterID) (*Manager, *LSDB) {
	lsdb := NewLSDB(0, zap.NewNop())
	return NewManager(routerID, 0, lsdb, zap.NewNop()), lsdb
}

func TestProcessHelloReachesTwoWayOnlyWhenWeAreListed(t *testing.T) {
	m, lsdb := newTestManager(RouterID(1))
	defer lsdb.Close()

	neighbor := RouterID(2)
	h := &Hello{RtrPriority: 1}
	m.ProcessHello("eth0", neighbor, net.ParseIP("10.0.0.2"), h, DefaultDeadInterval)

	n, ok := m.Neighbor("eth0", neighbor)
	require.True(t, ok)
	require.Equal(t, Init, n.State(), "first hello without us listed only reaches Init")

	// On a link with no registered DR state, reaching 2-Way immediately
	// qualifies for adjacency formation and begins ExStart in the same call.
	h.Neighbors = []RouterID{1}
	m.ProcessHello("eth0", neighbor, net.ParseIP("10.0.0.2"), h, DefaultDeadInterval)
	require.Equal(t, ExStart, n.State())
}

func TestTwoWayImmediatelyStartsExStartWithNoDRState(t *testing.T) {
	m, lsdb := newTestManager(RouterID(1))
	defer lsdb.Close()

	// No ConfigureInterface call: point-to-point registers no DR state,
	// so shouldAdjacency always returns true and ExStart begins at once.
	neighbor := RouterID(2)
	h := &Hello{RtrPriority: 1, Neighbors: []RouterID{1}}
	m.ProcessHello("eth0", neighbor, net.ParseIP("10.0.0.2"), h, DefaultDeadInterval)
	n, _ := m.Neighbor("eth0", neighbor)
	require.Equal(t, ExStart, n.State())
}

func TestExStartNegotiationSlaveAcceptsHigherMaster(t *testing.T) {
	m, lsdb := newTestManager(RouterID(1)) // lower router-id: we are slave
	defer lsdb.Close()

	var sentDBD *DatabaseDescription
	m.SendDBD = func(n *Neighbor, d *DatabaseDescription) { sentDBD = d }

	neighbor := RouterID(9)
	h := &Hello{RtrPriority: 1, Neighbors: []RouterID{1}}
	m.ProcessHello("eth0", neighbor, net.ParseIP("10.0.0.9"), h, DefaultDeadInterval)
	n, _ := m.Neighbor("eth0", neighbor)
	require.Equal(t, ExStart, n.State())

	m.ProcessDBD(n, &DatabaseDescription{Init: true, More: true, Master: true, SeqNumber: 100})

	require.Equal(t, Exchange, n.State())
	require.NotNil(t, sentDBD)
	require.False(t, sentDBD.Master)
	require.Equal(t, uint32(100), sentDBD.SeqNumber)
}

func TestExStartNegotiationMasterWaitsForEcho(t *testing.T) {
	m, lsdb := newTestManager(RouterID(9)) // higher router-id: we are master
	defer lsdb.Close()

	var dbds []*DatabaseDescription
	m.SendDBD = func(n *Neighbor, d *DatabaseDescription) { dbds = append(dbds, d) }

	neighbor := RouterID(1)
	h := &Hello{RtrPriority: 1, Neighbors: []RouterID{9}}
	m.ProcessHello("eth0", neighbor, net.ParseIP("10.0.0.1"), h, DefaultDeadInterval)
	n, _ := m.Neighbor("eth0", neighbor)
	require.Equal(t, ExStart, n.State())
	require.Len(t, dbds, 1, "entering ExStart immediately sends our own Init/More/Master DBD")
	ourSeq := dbds[0].SeqNumber

	// A non-Init, non-Master DBD echoing our sequence number is a valid slave echo.
	m.ProcessDBD(n, &DatabaseDescription{Init: false, More: true, Master: false, SeqNumber: ourSeq})
	require.Equal(t, Exchange, n.State())
}

func TestExchangeDrainsSummaryAndEntersFullWithNoRequests(t *testing.T) {
	m, lsdb := newTestManager(RouterID(1))
	defer lsdb.Close()

	var fullChanges []bool
	m.OnNeighborFullChange = func(n *Neighbor, full bool) { fullChanges = append(fullChanges, full) }

	neighbor := RouterID(9)
	h := &Hello{RtrPriority: 1, Neighbors: []RouterID{1}}
	m.ProcessHello("eth0", neighbor, net.ParseIP("10.0.0.9"), h, DefaultDeadInterval)
	n, _ := m.Neighbor("eth0", neighbor)

	// Slave path: accept the master's negotiation, then the master signals
	// it has nothing more and we have nothing more either.
	m.ProcessDBD(n, &DatabaseDescription{Init: true, More: true, Master: true, SeqNumber: 100})
	require.Equal(t, Exchange, n.State())

	m.ProcessDBD(n, &DatabaseDescription{Init: false, More: false, Master: true, SeqNumber: 101})
	require.Equal(t, Full, n.State())
	require.Equal(t, []bool{true}, fullChanges)
}

func TestExchangeRequestsMissingLSAsBeforeFull(t *testing.T) {
	m, lsdb := newTestManager(RouterID(1))
	defer lsdb.Close()

	var requested []LSRequest
	m.SendLSR = func(n *Neighbor, reqs []LSRequest) { requested = reqs }

	neighbor := RouterID(9)
	h := &Hello{RtrPriority: 1, Neighbors: []RouterID{1}}
	m.ProcessHello("eth0", neighbor, net.ParseIP("10.0.0.9"), h, DefaultDeadInterval)
	n, _ := m.Neighbor("eth0", neighbor)

	missing := LSAHeader{Type: LSARouter, LinkStateID: 9, AdvRouter: 9, SeqNumber: InitialSeq, Length: 24}
	m.ProcessDBD(n, &DatabaseDescription{Init: true, More: true, Master: true, SeqNumber: 100, LSAHeaders: []LSAHeader{missing}})
	require.Equal(t, Exchange, n.State())

	m.ProcessDBD(n, &DatabaseDescription{Init: false, More: false, Master: true, SeqNumber: 101})
	require.Equal(t, Loading, n.State())
	require.Len(t, requested, 1)
	require.Equal(t, missing.Key(), LSAKey{Type: requested[0].Type, LinkStateID: requested[0].LinkStateID, AdvRouter: requested[0].AdvRouter})
}

func TestLoadingAdvancesToFullOnceRequestsSatisfied(t *testing.T) {
	m, lsdb := newTestManager(RouterID(1))
	defer lsdb.Close()

	neighbor := RouterID(9)
	h := &Hello{RtrPriority: 1, Neighbors: []RouterID{1}}
	m.ProcessHello("eth0", neighbor, net.ParseIP("10.0.0.9"), h, DefaultDeadInterval)
	n, _ := m.Neighbor("eth0", neighbor)

	missing := LSAHeader{Type: LSARouter, LinkStateID: 9, AdvRouter: 9, SeqNumber: InitialSeq, Length: 24}
	m.ProcessDBD(n, &DatabaseDescription{Init: true, More: true, Master: true, SeqNumber: 100, LSAHeaders: []LSAHeader{missing}})
	m.ProcessDBD(n, &DatabaseDescription{Init: false, More: false, Master: true, SeqNumber: 101})
	require.Equal(t, Loading, n.State())

	lsa := &LSA{
		Header: LSAHeader{Type: LSARouter, LinkStateID: 9, AdvRouter: 9, SeqNumber: InitialSeq},
		Router: &RouterLSABody{Links: []RouterLink{{ID: 1, Type: 1, Metric: 10}}},
	}
	lsa.Encode()

	var acked []LSAHeader
	m.SendAck = func(n *Neighbor, headers []LSAHeader) { acked = headers }

	m.ProcessLSU(n, []*LSA{lsa})
	require.Equal(t, Full, n.State())
	require.Len(t, acked, 1)

	_, ok := lsdb.Get(LSAKey{Type: LSARouter, LinkStateID: 9, AdvRouter: 9})
	require.True(t, ok)
}

func TestProcessLSAckClearsRxmtList(t *testing.T) {
	m, lsdb := newTestManager(RouterID(1))
	defer lsdb.Close()

	n := newNeighbor(RouterID(9), net.ParseIP("10.0.0.9"), "eth0", zap.NewNop(), nil, nil)
	defer n.stop()

	lsa := routerLSA(9, InitialSeq)
	m.SetRxmt(n, lsa)
	require.Len(t, n.PendingRxmt(), 1)

	m.ProcessLSAck(n, []LSAHeader{lsa.Header})
	require.Empty(t, n.PendingRxmt())
}

func TestInactivityTimerExpiryDropsToDown(t *testing.T) {
	m, lsdb := newTestManager(RouterID(1))
	defer lsdb.Close()

	var expired bool
	neighbor := RouterID(9)
	h := &Hello{RtrPriority: 1, Neighbors: []RouterID{1}}
	m.ProcessHello("eth0", neighbor, net.ParseIP("10.0.0.9"), h, 20*time.Millisecond)
	n, _ := m.Neighbor("eth0", neighbor)

	m.OnNeighborFullChange = func(n *Neighbor, full bool) {
		if !full {
			expired = true
		}
	}

	require.Eventually(t, func() bool { return n.State() == Down }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return expired }, time.Second, time.Millisecond)
}

func TestElectDRHighestPriorityWins(t *testing.T) {
	m, lsdb := newTestManager(RouterID(1))
	defer lsdb.Close()
	m.ConfigureInterface("eth0", 1, Broadcast)

	var dr, bdr RouterID
	m.OnDRChange = func(iface string, d, b RouterID) { dr, bdr = d, b }

	low := RouterID(2)
	h := &Hello{RtrPriority: 10, Neighbors: []RouterID{1}}
	m.ProcessHello("eth0", low, net.ParseIP("10.0.0.2"), h, DefaultDeadInterval)
	require.Equal(t, low, dr, "neighbor at priority 10 beats self at the default priority 1")

	high := RouterID(3)
	h2 := &Hello{RtrPriority: 200, Neighbors: []RouterID{1}}
	m.ProcessHello("eth0", high, net.ParseIP("10.0.0.3"), h2, DefaultDeadInterval)
	require.Equal(t, high, dr)
	require.Equal(t, low, bdr)
}

func TestElectDRExcludesZeroPriority(t *testing.T) {
	m, lsdb := newTestManager(RouterID(1))
	defer lsdb.Close()
	m.ConfigureInterface("eth0", 0, Broadcast)

	var dr RouterID
	m.OnDRChange = func(iface string, d, b RouterID) { dr = d }

	neighbor := RouterID(2)
	h := &Hello{RtrPriority: 1, Neighbors: []RouterID{1}}
	m.ProcessHello("eth0", neighbor, net.ParseIP("10.0.0.2"), h, DefaultDeadInterval)

	require.Equal(t, neighbor, dr, "priority-0 self must never be elected")
}

func TestElectDRNeverRunsForPointToPoint(t *testing.T) {
	m, lsdb := newTestManager(RouterID(1))
	defer lsdb.Close()
	// no ConfigureInterface call: point-to-point registers no DR state

	var called bool
	m.OnDRChange = func(iface string, d, b RouterID) { called = true }

	h := &Hello{RtrPriority: 1, Neighbors: []RouterID{1}}
	m.ProcessHello("eth0", RouterID(2), net.ParseIP("10.0.0.2"), h, DefaultDeadInterval)

	require.False(t, called)
}
