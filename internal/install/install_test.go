package install

import (
	"net/netip"
	"testing"

	"github.com/gaissmai/bart"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"
	"go.uber.org/zap"

	"github.com/routed-project/routed/internal/bgp"
	"github.com/routed-project/routed/internal/isis"
	"github.com/routed-project/routed/internal/ospf"
)

type fakeRIB struct {
	replaced []*netlink.Route
	deleted  []*netlink.Route
}

func (f *fakeRIB) RouteReplace(r *netlink.Route) error {
	f.replaced = append(f.replaced, r)
	return nil
}

func (f *fakeRIB) RouteDel(r *netlink.Route) error {
	f.deleted = append(f.deleted, r)
	return nil
}

type fakeOSPF struct{ routes []*ospf.Route }

func (f *fakeOSPF) Routes() []*ospf.Route { return f.routes }

type fakeISIS struct{ routes []*isis.Route }

func (f *fakeISIS) Routes() []*isis.Route { return f.routes }

type fakeBGP struct{ routes []*bgp.Route }

func (f *fakeBGP) Routes() []*bgp.Route { return f.routes }

func newTestInstaller(rib *fakeRIB, o *fakeOSPF, i *fakeISIS, b *fakeBGP) *Installer {
	ins := &Installer{
		log:       zap.NewNop(),
		rib:       rib,
		connected: make(map[netip.Prefix]struct{}),
		shadow:    new(bart.Table[installedRoute]),
	}
	if o != nil {
		ins.ospf = o
	}
	if i != nil {
		ins.isis = i
	}
	if b != nil {
		ins.bgp = b
	}
	return ins
}

func shadowCount(ins *Installer) int {
	n := 0
	ins.shadow.All()(func(netip.Prefix, installedRoute) bool { n++; return true })
	return n
}

func TestReconcileInstallsNewRoute(t *testing.T) {
	rib := &fakeRIB{}
	prefix := netip.MustParsePrefix("10.1.0.0/24")
	o := &fakeOSPF{routes: []*ospf.Route{
		{Prefix: prefix, NextHop: netip.MustParseAddr("10.0.0.1"), Resolved: true, Metric: 10},
	}}
	ins := newTestInstaller(rib, o, nil, nil)

	err := ins.Reconcile()
	require.NoError(t, err)
	require.Len(t, rib.replaced, 1)
	require.Equal(t, 10, rib.replaced[0].Priority)

	have, ok := ins.shadow.Get(prefix)
	require.True(t, ok)
	require.Equal(t, SourceOSPF, have.source)
}

func TestReconcileSkipsUnresolvedRoutes(t *testing.T) {
	rib := &fakeRIB{}
	prefix := netip.MustParsePrefix("10.2.0.0/24")
	o := &fakeOSPF{routes: []*ospf.Route{
		{Prefix: prefix, Resolved: false, Metric: 10},
	}}
	ins := newTestInstaller(rib, o, nil, nil)

	require.NoError(t, ins.Reconcile())
	require.Empty(t, rib.replaced)
	require.Equal(t, 0, shadowCount(ins))
}

func TestReconcileSkipsConnectedPrefixes(t *testing.T) {
	rib := &fakeRIB{}
	prefix := netip.MustParsePrefix("10.3.0.0/24")
	o := &fakeOSPF{routes: []*ospf.Route{
		{Prefix: prefix, NextHop: netip.MustParseAddr("10.0.0.1"), Resolved: true, Metric: 10},
	}}
	ins := newTestInstaller(rib, o, nil, nil)
	ins.connected[prefix] = struct{}{}

	require.NoError(t, ins.Reconcile())
	require.Empty(t, rib.replaced, "a directly connected prefix must never be overridden")
}

func TestReconcilePicksHigherPrecedenceOnTie(t *testing.T) {
	rib := &fakeRIB{}
	prefix := netip.MustParsePrefix("10.4.0.0/24")
	o := &fakeOSPF{routes: []*ospf.Route{
		{Prefix: prefix, NextHop: netip.MustParseAddr("10.0.0.1"), Resolved: true, Metric: 100},
	}}
	i := &fakeISIS{routes: []*isis.Route{
		{Prefix: prefix, NextHop: netip.MustParseAddr("10.0.0.2"), Metric: 1},
	}}
	ins := newTestInstaller(rib, o, i, nil)

	require.NoError(t, ins.Reconcile())
	require.Len(t, rib.replaced, 1, "only one winner is installed even though both engines offered the prefix")
	have, ok := ins.shadow.Get(prefix)
	require.True(t, ok)
	require.Equal(t, SourceOSPF, have.source, "OSPF outranks IS-IS regardless of metric")
	require.Equal(t, netip.MustParseAddr("10.0.0.1"), have.gateway)
}

func TestReconcilePicksLowerMetricWithinSameSource(t *testing.T) {
	rib := &fakeRIB{}
	prefix := netip.MustParsePrefix("10.5.0.0/24")
	i := &fakeISIS{routes: []*isis.Route{
		{Prefix: prefix, NextHop: netip.MustParseAddr("10.0.0.1"), Metric: 20},
		{Prefix: prefix, NextHop: netip.MustParseAddr("10.0.0.2"), Metric: 5},
	}}
	ins := newTestInstaller(rib, nil, i, nil)

	require.NoError(t, ins.Reconcile())
	have, ok := ins.shadow.Get(prefix)
	require.True(t, ok)
	require.Equal(t, uint32(5), have.metric)
	require.Equal(t, netip.MustParseAddr("10.0.0.2"), have.gateway)
}

func TestReconcileWithdrawsNoLongerDesiredRoute(t *testing.T) {
	rib := &fakeRIB{}
	prefix := netip.MustParsePrefix("10.6.0.0/24")
	o := &fakeOSPF{routes: []*ospf.Route{
		{Prefix: prefix, NextHop: netip.MustParseAddr("10.0.0.1"), Resolved: true, Metric: 10},
	}}
	ins := newTestInstaller(rib, o, nil, nil)
	require.NoError(t, ins.Reconcile())
	require.Len(t, rib.replaced, 1)

	o.routes = nil
	require.NoError(t, ins.Reconcile())
	require.Len(t, rib.deleted, 1)
	require.Equal(t, 0, shadowCount(ins))
}

func TestReconcileDoesNotReapplyUnchangedRoute(t *testing.T) {
	rib := &fakeRIB{}
	prefix := netip.MustParsePrefix("10.7.0.0/24")
	o := &fakeOSPF{routes: []*ospf.Route{
		{Prefix: prefix, NextHop: netip.MustParseAddr("10.0.0.1"), Resolved: true, Metric: 10},
	}}
	ins := newTestInstaller(rib, o, nil, nil)
	require.NoError(t, ins.Reconcile())
	require.Len(t, rib.replaced, 1)

	require.NoError(t, ins.Reconcile())
	require.Len(t, rib.replaced, 1, "an unchanged route must not be re-pushed to the kernel")
}

func TestReconcileReappliesChangedGateway(t *testing.T) {
	rib := &fakeRIB{}
	prefix := netip.MustParsePrefix("10.8.0.0/24")
	o := &fakeOSPF{routes: []*ospf.Route{
		{Prefix: prefix, NextHop: netip.MustParseAddr("10.0.0.1"), Resolved: true, Metric: 10},
	}}
	ins := newTestInstaller(rib, o, nil, nil)
	require.NoError(t, ins.Reconcile())

	o.routes[0].NextHop = netip.MustParseAddr("10.0.0.9")
	require.NoError(t, ins.Reconcile())
	require.Len(t, rib.replaced, 2)
}

func TestIBGPRouteLosesToISISOnPrecedence(t *testing.T) {
	rib := &fakeRIB{}
	prefix := mustBGPPrefix(t, "198.51.100.0/24")
	b := &fakeBGP{routes: []*bgp.Route{
		{Prefix: prefix, Source: bgp.SourceIBGP, Attrs: &bgp.Attributes{NextHop: []byte{10, 0, 0, 9}, MED: 0}},
	}}
	isisRoute := &isis.Route{Prefix: netip.MustParsePrefix("198.51.100.0/24"), NextHop: netip.MustParseAddr("10.0.0.2"), Metric: 5}
	isisSrc := &fakeISIS{routes: []*isis.Route{isisRoute}}
	ins := newTestInstaller(rib, nil, isisSrc, b)

	require.NoError(t, ins.Reconcile())
	have, ok := ins.shadow.Get(netip.MustParsePrefix("198.51.100.0/24"))
	require.True(t, ok)
	require.Equal(t, SourceISIS, have.source, "IS-IS outranks iBGP")
}

func mustBGPPrefix(t *testing.T, cidr string) bgp.Prefix {
	t.Helper()
	p, err := bgp.ParsePrefix(cidr)
	require.NoError(t, err)
	return p
}
