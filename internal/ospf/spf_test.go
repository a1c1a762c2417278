package ospf

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// buildLineTopology wires r1 -- r2 -- r3 point-to-point, metric 10 each hop,
// with r2 and r3 each carrying a stub network.
func buildLineTopology(t *testing.T) (r1, r2, r3 RouterID, lsdb *LSDB) {
	t.Helper()
	r1, r2, r3 = RouterID(1), RouterID(2), RouterID(3)
	lsdb = NewLSDB(0, zap.NewNop())

	lsdb.Install(&LSA{
		Header: LSAHeader{Type: LSARouter, LinkStateID: r1, AdvRouter: r1, SeqNumber: InitialSeq},
		Router: &RouterLSABody{Links: []RouterLink{
			{ID: uint32(r2), Type: 1, Metric: 10},
		}},
	}, true, "")

	lsdb.Install(&LSA{
		Header: LSAHeader{Type: LSARouter, LinkStateID: r2, AdvRouter: r2, SeqNumber: InitialSeq},
		Router: &RouterLSABody{Links: []RouterLink{
			{ID: uint32(r1), Type: 1, Metric: 10},
			{ID: uint32(r3), Type: 1, Metric: 10},
			{ID: 0x0a000200, Data: 0xffffff00, Type: 3, Metric: 5},
		}},
	}, false, "")

	lsdb.Install(&LSA{
		Header: LSAHeader{Type: LSARouter, LinkStateID: r3, AdvRouter: r3, SeqNumber: InitialSeq},
		Router: &RouterLSABody{Links: []RouterLink{
			{ID: uint32(r2), Type: 1, Metric: 10},
			{ID: 0x0a000300, Data: 0xffffff00, Type: 3, Metric: 5},
		}},
	}, false, "")

	return r1, r2, r3, lsdb
}

func TestSPFComputesShortestPathsAndNextHops(t *testing.T) {
	r1, r2, r3, lsdb := buildLineTopology(t)
	defer lsdb.Close()

	c := NewCalculator(r1, lsdb, zap.NewNop())
	defer c.Close()
	c.NextHopIP = func(id RouterID) (netip.Addr, bool) {
		if id == r2 {
			return netip.MustParseAddr("10.0.1.2"), true
		}
		return netip.Addr{}, false
	}

	c.Run()

	r2prefix := netip.MustParsePrefix("10.0.2.0/24")
	route, ok := c.Route(r2prefix)
	require.True(t, ok)
	require.True(t, route.Resolved)
	require.Equal(t, uint32(15), route.Metric) // 10 (r1->r2) + 5 (r2's own stub)
	require.Equal(t, r2, route.Via)
	require.Equal(t, netip.MustParseAddr("10.0.1.2"), route.NextHop)

	r3prefix := netip.MustParsePrefix("10.0.3.0/24")
	route, ok = c.Route(r3prefix)
	require.True(t, ok)
	require.Equal(t, uint32(25), route.Metric) // 10+10+5
	require.Equal(t, r3, route.Via, "via names the attaching router, not the first hop")
	require.Equal(t, netip.MustParseAddr("10.0.1.2"), route.NextHop, "next hop is still the first-hop neighbor r2")
}

func TestSPFLeavesUnresolvableNextHopUnresolved(t *testing.T) {
	r1, _, _, lsdb := buildLineTopology(t)
	defer lsdb.Close()

	c := NewCalculator(r1, lsdb, zap.NewNop())
	defer c.Close()
	// No NextHopIP configured: every route is computed but its next hop
	// is left unresolved rather than guessed.
	c.Run()

	routes := c.Routes()
	require.NotEmpty(t, routes)
	for _, r := range routes {
		require.False(t, r.Resolved)
		require.False(t, r.NextHop.IsValid())
	}
}

func TestSPFTransitNetworkFirstHopUnresolved(t *testing.T) {
	r1, r2 := RouterID(1), RouterID(2)
	lsdb := NewLSDB(0, zap.NewNop())
	defer lsdb.Close()

	// r1 attaches directly to a transit network r2 also sits on; r1 has
	// no router-id to resolve a next hop from for that first hop.
	lsdb.Install(&LSA{
		Header: LSAHeader{Type: LSARouter, LinkStateID: r1, AdvRouter: r1, SeqNumber: InitialSeq},
		Router: &RouterLSABody{Links: []RouterLink{
			{ID: 0x0a000101, Type: 2, Metric: 1},
		}},
	}, true, "")
	lsdb.Install(&LSA{
		Header: LSAHeader{Type: LSARouter, LinkStateID: r2, AdvRouter: r2, SeqNumber: InitialSeq},
		Router: &RouterLSABody{Links: []RouterLink{
			{ID: 0x0a000101, Type: 2, Metric: 1},
		}},
	}, false, "")
	lsdb.Install(&LSA{
		Header: LSAHeader{Type: LSANetwork, LinkStateID: RouterID(0x0a000101), AdvRouter: r2, SeqNumber: InitialSeq},
		Network: &NetworkLSABody{NetworkMask: 0xffffff00, AttachedRouters: []RouterID{r1, r2}},
	}, false, "")

	c := NewCalculator(r1, lsdb, zap.NewNop())
	defer c.Close()
	c.NextHopIP = func(RouterID) (netip.Addr, bool) { return netip.MustParseAddr("10.0.1.2"), true }
	c.Run()

	networkPrefix := netip.MustParsePrefix("10.0.1.0/24")
	route, ok := c.Route(networkPrefix)
	require.True(t, ok)
	require.False(t, route.Resolved, "a transit network reached directly from the root has no router-id to resolve")
}

func TestSPFInstallsASExternalRoutes(t *testing.T) {
	r1, r2, _, lsdb := buildLineTopology(t)
	defer lsdb.Close()

	lsdb.Install(&LSA{
		Header: LSAHeader{Type: LSAASExternal, LinkStateID: RouterID(0xc0000000), AdvRouter: r2, SeqNumber: InitialSeq},
		ASExternal: &ASExternalLSABody{NetworkMask: 0xffffff00, Metric: 30, ExternalType2: false},
	}, false, "")

	c := NewCalculator(r1, lsdb, zap.NewNop())
	defer c.Close()
	c.NextHopIP = func(RouterID) (netip.Addr, bool) { return netip.MustParseAddr("10.0.1.2"), true }
	c.Run()

	prefix := netip.MustParsePrefix("192.0.0.0/24")
	route, ok := c.Route(prefix)
	require.True(t, ok)
	require.True(t, route.External)
	require.False(t, route.ExternalE2)
	require.Equal(t, uint32(40), route.Metric) // 10 (r1->r2, the ASBR) + 30 (E1 external metric)
}

func TestSPFStatistics(t *testing.T) {
	r1, _, _, lsdb := buildLineTopology(t)
	defer lsdb.Close()

	c := NewCalculator(r1, lsdb, zap.NewNop())
	defer c.Close()
	c.NextHopIP = func(RouterID) (netip.Addr, bool) { return netip.MustParseAddr("10.0.1.2"), true }

	runs, _, _ := c.Statistics()
	require.Equal(t, 0, runs)

	c.Run()
	runs, _, routeCount := c.Statistics()
	require.Equal(t, 1, runs)
	require.Equal(t, 2, routeCount)
}
