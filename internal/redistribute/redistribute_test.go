package redistribute

import (
	"context"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/routed-project/routed/internal/bgp"
	"github.com/routed-project/routed/internal/isis"
	"github.com/routed-project/routed/internal/ospf"
)

type fakeOSPF struct {
	routes    []*ospf.Route
	injected  []netip.Prefix
	withdrawn []netip.Prefix
}

func (f *fakeOSPF) Routes() []*ospf.Route { return f.routes }
func (f *fakeOSPF) RedistributeRoute(prefix netip.Prefix, metric uint32, e2 bool) {
	f.injected = append(f.injected, prefix)
}
func (f *fakeOSPF) WithdrawRedistributed(prefix netip.Prefix) {
	f.withdrawn = append(f.withdrawn, prefix)
}

type fakeISIS struct {
	routes    []*isis.Route
	injected  []netip.Prefix
	withdrawn []netip.Prefix
}

func (f *fakeISIS) Routes() []*isis.Route { return f.routes }
func (f *fakeISIS) RedistributeRoute(prefix netip.Prefix, metric uint32, external bool) {
	f.injected = append(f.injected, prefix)
}
func (f *fakeISIS) WithdrawRedistributed(prefix netip.Prefix) {
	f.withdrawn = append(f.withdrawn, prefix)
}

type fakeBGP struct {
	routes    []*bgp.Route
	injected  []bgp.Prefix
	withdrawn []bgp.Prefix
}

func (f *fakeBGP) Routes() []*bgp.Route { return f.routes }
func (f *fakeBGP) RedistributeInto(p bgp.Prefix, nextHop []byte, from bgp.SourceLabel, metric uint32) {
	f.injected = append(f.injected, p)
}
func (f *fakeBGP) Withdraw(p bgp.Prefix) {
	f.withdrawn = append(f.withdrawn, p)
}

func newTestRedistributor(o *fakeOSPF, i *fakeISIS, b *fakeBGP) *Redistributor {
	r := &Redistributor{
		log:     zap.NewNop(),
		metrics: DefaultMetrics,
		origin:  make(map[netip.Prefix]Protocol),
		redistributedTo: map[Protocol]map[netip.Prefix]struct{}{
			ProtoOSPF: {},
			ProtoISIS: {},
			ProtoBGP:  {},
		},
	}
	if o != nil {
		r.ospf = o
	}
	if i != nil {
		r.isis = i
	}
	if b != nil {
		r.bgp = b
	}
	return r
}

func mustBGPPrefix(t *testing.T, cidr string) bgp.Prefix {
	t.Helper()
	p, err := bgp.ParsePrefix(cidr)
	require.NoError(t, err)
	return p
}

func TestActiveCountRequiresTwoEngines(t *testing.T) {
	r := newTestRedistributor(&fakeOSPF{}, nil, nil)
	require.Equal(t, 1, r.activeCount())

	r = newTestRedistributor(&fakeOSPF{}, &fakeISIS{}, nil)
	require.Equal(t, 2, r.activeCount())
}

func TestOSPFRouteRedistributesIntoISISAndBGP(t *testing.T) {
	prefix := netip.MustParsePrefix("10.1.0.0/24")
	o := &fakeOSPF{routes: []*ospf.Route{
		{Prefix: prefix, NextHop: netip.MustParseAddr("10.0.0.2"), Resolved: true, Metric: 10},
	}}
	i := &fakeISIS{}
	b := &fakeBGP{}
	r := newTestRedistributor(o, i, b)

	r.runCycle()

	require.Equal(t, []netip.Prefix{prefix}, i.injected)
	require.Len(t, b.injected, 1)
	require.Equal(t, mustBGPPrefix(t, "10.1.0.0/24").String(), b.injected[0].String())
	require.Empty(t, o.injected, "a route never redistributes back into its own source")
}

func TestUnresolvedOSPFRouteIsNotCollected(t *testing.T) {
	prefix := netip.MustParsePrefix("10.1.0.0/24")
	o := &fakeOSPF{routes: []*ospf.Route{
		{Prefix: prefix, Resolved: false, Metric: 10},
	}}
	i := &fakeISIS{}
	r := newTestRedistributor(o, i, nil)

	r.runCycle()
	require.Empty(t, i.injected)
}

func TestExternalRoutesAreNotReCollected(t *testing.T) {
	prefix := netip.MustParsePrefix("192.0.2.0/24")
	o := &fakeOSPF{routes: []*ospf.Route{
		{Prefix: prefix, NextHop: netip.MustParseAddr("10.0.0.2"), Resolved: true, External: true},
	}}
	i := &fakeISIS{}
	r := newTestRedistributor(o, i, nil)

	r.runCycle()
	require.Empty(t, i.injected, "a route OSPF already holds as external came from elsewhere and must not re-loop")
}

func TestRouteNeverRedistributesBackIntoItsOrigin(t *testing.T) {
	prefix := netip.MustParsePrefix("10.2.0.0/24")
	i := &fakeISIS{routes: []*isis.Route{
		{Prefix: prefix, NextHop: netip.MustParseAddr("10.0.0.3"), Metric: 10},
	}}
	o := &fakeOSPF{}
	b := &fakeBGP{}
	r := newTestRedistributor(o, i, b)

	// First cycle: ISIS -> OSPF, ISIS -> BGP. origin[prefix] = isis.
	r.runCycle()
	require.Len(t, o.injected, 1)

	// Simulate the route now also appearing to have been learned via the
	// redistributed OSPF copy; a second cycle must not then push it from
	// OSPF back into ISIS, since ISIS is recorded as the true origin.
	o.routes = []*ospf.Route{
		{Prefix: prefix, NextHop: netip.MustParseAddr("10.0.0.3"), Resolved: true, External: false, Metric: 30},
	}
	i.injected = nil
	r.runCycle()
	require.Empty(t, i.injected, "prefix's recorded origin is isis, so ospf's copy must not flow back into isis")
}

func TestAlreadyRedistributedPrefixIsNotReinjected(t *testing.T) {
	prefix := netip.MustParsePrefix("10.3.0.0/24")
	o := &fakeOSPF{routes: []*ospf.Route{
		{Prefix: prefix, NextHop: netip.MustParseAddr("10.0.0.4"), Resolved: true, Metric: 10},
	}}
	i := &fakeISIS{}
	r := newTestRedistributor(o, i, nil)

	r.runCycle()
	require.Len(t, i.injected, 1)

	i.injected = nil
	r.runCycle()
	require.Empty(t, i.injected, "second cycle must not re-inject an already-redistributed prefix")
}

func TestStaticRouteRedistributesToAllEngines(t *testing.T) {
	prefix := netip.MustParsePrefix("0.0.0.0/0")
	o := &fakeOSPF{}
	i := &fakeISIS{}
	r := newTestRedistributor(o, i, nil)
	r.static = []StaticRoute{{Prefix: prefix, NextHop: netip.MustParseAddr("10.0.0.1"), Metric: 1}}

	r.runCycle()
	require.Equal(t, []netip.Prefix{prefix}, o.injected)
	require.Equal(t, []netip.Prefix{prefix}, i.injected)
}

func TestBGPOnlyLocallyOriginatedRouteIsNotCollected(t *testing.T) {
	prefix := mustBGPPrefix(t, "198.51.100.0/24")
	b := &fakeBGP{routes: []*bgp.Route{
		{Prefix: prefix, Source: bgp.SourceLocal, Attrs: &bgp.Attributes{NextHop: []byte{10, 0, 0, 5}}},
	}}
	o := &fakeOSPF{}
	r := newTestRedistributor(o, nil, b)

	r.runCycle()
	require.Empty(t, o.injected, "a locally originated or already-redistributed bgp entry must not loop back out")
}

func TestBGPEBGPRouteRedistributesIntoOSPF(t *testing.T) {
	prefix := mustBGPPrefix(t, "198.51.100.0/24")
	b := &fakeBGP{routes: []*bgp.Route{
		{Prefix: prefix, Source: bgp.SourceEBGP, Attrs: &bgp.Attributes{NextHop: []byte{10, 0, 0, 5}}},
	}}
	o := &fakeOSPF{}
	r := newTestRedistributor(o, nil, b)

	r.runCycle()
	require.Len(t, o.injected, 1)
	require.Equal(t, "198.51.100.0/24", o.injected[0].String())
}

func TestWithdrawRemovesFromEveryTargetAndClearsOrigin(t *testing.T) {
	prefix := netip.MustParsePrefix("10.4.0.0/24")
	o := &fakeOSPF{routes: []*ospf.Route{
		{Prefix: prefix, NextHop: netip.MustParseAddr("10.0.0.6"), Resolved: true, Metric: 10},
	}}
	i := &fakeISIS{}
	b := &fakeBGP{}
	r := newTestRedistributor(o, i, b)

	r.runCycle()
	require.Len(t, i.injected, 1)
	require.Len(t, b.injected, 1)

	r.Withdraw(prefix)
	require.Equal(t, []netip.Prefix{prefix}, i.withdrawn)
	require.Len(t, b.withdrawn, 1)

	_, stillKnown := r.origin[prefix]
	require.False(t, stillKnown)
}

func TestStartIsNoOpWithFewerThanTwoEngines(t *testing.T) {
	o := &fakeOSPF{}
	r := newTestRedistributor(o, nil, nil)

	r.Start(context.Background())
	require.Nil(t, r.cancel, "Start must not launch the loop goroutine with only one active engine")
}
