// Package install maintains a shadow table mirroring what this router
// has pushed into the host kernel's FIB and reconciles it against the
// merged next-hop table computed across every active protocol (spec
// §4.9, module C11). Shaped like network/network.go's host
// interface/address inspection, generalized from "find one BGP
// identifier" to "resolve every candidate route's outgoing reachability",
// and informed by the netlink route-manipulation patterns in
// moby/moby's netlink/route_linux.go and digitalocean/droplet-agent's
// use of jsimonetti/rtnetlink, here using the real top-level
// github.com/vishvananda/netlink package directly.
package install

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/gaissmai/bart"
	"github.com/vishvananda/netlink"
	"go.uber.org/zap"

	"github.com/routed-project/routed/internal/bgp"
	"github.com/routed-project/routed/internal/isis"
	"github.com/routed-project/routed/internal/ospf"
)

// Source ranks where a candidate route came from. Lower values win ties
// on the same prefix (spec §4.9: "connected > static > OSPF > IS-IS >
// iBGP > eBGP unless configuration overrides").
type Source int

const (
	SourceConnected Source = iota
	SourceStatic
	SourceOSPF
	SourceISIS
	SourceIBGP
	SourceEBGP
)

func (s Source) String() string {
	switch s {
	case SourceConnected:
		return "connected"
	case SourceStatic:
		return "static"
	case SourceOSPF:
		return "ospf"
	case SourceISIS:
		return "isis"
	case SourceIBGP:
		return "ibgp"
	case SourceEBGP:
		return "ebgp"
	default:
		return "unknown"
	}
}

// StaticRoute is an administrator-configured route (spec §6).
type StaticRoute struct {
	Prefix  netip.Prefix
	Gateway netip.Addr
	Metric  uint32
}

// candidate is one route proposed by some engine for a given prefix,
// before precedence/metric selection picks the desired table.
type candidate struct {
	prefix  netip.Prefix
	gateway netip.Addr
	metric  uint32
	source  Source
}

// installedRoute is what the shadow table believes the kernel currently
// holds for a prefix.
type installedRoute struct {
	gateway netip.Addr
	metric  uint32
	source  Source
}

type ospfRoutesSource interface {
	Routes() []*ospf.Route
}

type isisRoutesSource interface {
	Routes() []*isis.Route
}

type bgpRoutesSource interface {
	Routes() []*bgp.Route
}

// kernelRIB is the narrow slice of the netlink package the installer
// actually calls, accepted as an interface so Reconcile can be tested
// without a real kernel route table.
type kernelRIB interface {
	RouteReplace(route *netlink.Route) error
	RouteDel(route *netlink.Route) error
}

type linuxRIB struct{}

func (linuxRIB) RouteReplace(route *netlink.Route) error { return netlink.RouteReplace(route) }
func (linuxRIB) RouteDel(route *netlink.Route) error     { return netlink.RouteDel(route) }

// RouteProtocol tags every route this daemon installs, in the user-
// assignable range above the kernel's own reserved protocol numbers, so
// a `ip route show proto routed` filter cleanly separates our routes
// from the ones the kernel or other daemons manage.
const RouteProtocol = 186

// Installer computes and applies the merged next-hop table (spec §4.9).
type Installer struct {
	log *zap.Logger
	rib kernelRIB

	ospf ospfRoutesSource
	isis isisRoutesSource
	bgp  bgpRoutesSource

	static    []StaticRoute
	connected map[netip.Prefix]struct{}

	mu     sync.Mutex
	shadow *bart.Table[installedRoute]

	interval time.Duration
	trigger  chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
}

// New builds an Installer. Any of ospfSpeaker/isisSpeaker/bgpSpeaker may
// be nil when that protocol isn't running.
func New(ospfSpeaker *ospf.Speaker, isisSpeaker *isis.Speaker, bgpSpeaker *bgp.Speaker, static []StaticRoute, connected []netip.Prefix, log *zap.Logger) *Installer {
	i := &Installer{
		log:       log,
		rib:       linuxRIB{},
		static:    static,
		connected: make(map[netip.Prefix]struct{}, len(connected)),
		shadow:    new(bart.Table[installedRoute]),
		interval:  30 * time.Second,
		trigger:   make(chan struct{}, 1),
	}
	for _, c := range connected {
		i.connected[c] = struct{}{}
	}
	if ospfSpeaker != nil {
		i.ospf = ospfSpeaker
	}
	if isisSpeaker != nil {
		i.isis = isisSpeaker
	}
	if bgpSpeaker != nil {
		i.bgp = bgpSpeaker
	}
	return i
}

// Notify requests a reconciliation as soon as the loop next wakes,
// without waiting for the full periodic interval. Non-blocking: a
// pending notification already queued is enough.
func (i *Installer) Notify() {
	select {
	case i.trigger <- struct{}{}:
	default:
	}
}

// Start runs the reconcile loop until ctx is cancelled or Stop is
// called. An initial reconciliation happens immediately.
func (i *Installer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	i.cancel = cancel
	i.done = make(chan struct{})

	if err := i.Reconcile(); err != nil {
		i.log.Warn("initial reconcile failed", zap.Error(err))
	}

	go func() {
		defer close(i.done)
		ticker := time.NewTicker(i.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-i.trigger:
			}
			if err := i.Reconcile(); err != nil {
				i.log.Warn("reconcile failed", zap.Error(err))
			}
		}
	}()
}

func (i *Installer) Stop() {
	if i.cancel != nil {
		i.cancel()
		<-i.done
	}
}

// Reconcile computes the desired table, diffs it against the shadow
// table, and applies additions/changes/deletions to the kernel FIB.
func (i *Installer) Reconcile() error {
	desired := i.desiredTable()

	i.mu.Lock()
	defer i.mu.Unlock()

	var errs []error

	for prefix, want := range desired {
		have, ok := i.shadow.Get(prefix)
		if ok && have.gateway == want.gateway && have.metric == want.metric {
			continue
		}
		route := routeFor(prefix, want.gateway, want.metric)
		if err := i.rib.RouteReplace(route); err != nil {
			errs = append(errs, err)
			continue
		}
		i.shadow.Insert(prefix, installedRoute{gateway: want.gateway, metric: want.metric, source: want.source})
	}

	var stale []netip.Prefix
	i.shadow.All()(func(prefix netip.Prefix, have installedRoute) bool {
		if _, stillWanted := desired[prefix]; !stillWanted {
			stale = append(stale, prefix)
		}
		return true
	})
	for _, prefix := range stale {
		have, _ := i.shadow.Get(prefix)
		route := routeFor(prefix, have.gateway, have.metric)
		if err := i.rib.RouteDel(route); err != nil {
			errs = append(errs, err)
			continue
		}
		i.shadow.Delete(prefix)
	}

	return errors.Join(errs...)
}

// desiredTable gathers every engine's candidate routes and picks one
// winner per prefix by source precedence then metric, skipping any
// prefix that belongs to a directly connected subnet (spec §4.9: a
// route with a resolved gateway is installed as (prefix, gateway,
// metric); an unresolved one is left out entirely and retried on the
// next table change once its gateway resolves).
func (i *Installer) desiredTable() map[netip.Prefix]candidate {
	best := make(map[netip.Prefix]candidate)

	consider := func(c candidate) {
		if _, connected := i.connected[c.prefix]; connected {
			return
		}
		if !c.gateway.IsValid() {
			return
		}
		existing, ok := best[c.prefix]
		if !ok || c.source < existing.source || (c.source == existing.source && c.metric < existing.metric) {
			best[c.prefix] = c
		}
	}

	for _, s := range i.static {
		consider(candidate{prefix: s.Prefix, gateway: s.Gateway, metric: s.Metric, source: SourceStatic})
	}

	if i.ospf != nil {
		for _, r := range i.ospf.Routes() {
			if !r.Resolved {
				continue
			}
			consider(candidate{prefix: r.Prefix, gateway: r.NextHop, metric: r.Metric, source: SourceOSPF})
		}
	}

	if i.isis != nil {
		for _, r := range i.isis.Routes() {
			if !r.NextHop.IsValid() {
				continue
			}
			consider(candidate{prefix: r.Prefix, gateway: r.NextHop, metric: r.Metric, source: SourceISIS})
		}
	}

	if i.bgp != nil {
		for _, r := range i.bgp.Routes() {
			src := bgpSource(r.Source)
			nh, ok := netip.AddrFromSlice(r.Attrs.NextHop)
			if !ok {
				continue
			}
			pfx, ok := netipPrefixFromBGP(r.Prefix)
			if !ok {
				continue
			}
			consider(candidate{prefix: pfx, gateway: nh.Unmap(), metric: r.Attrs.MED, source: src})
		}
	}

	return best
}

// bgpSource maps a Loc-RIB entry's peer relationship to an install
// precedence tier. Locally originated and redistributed-in entries are
// treated as administratively set, the same tier as a static route,
// since they were not learned from a BGP peer.
func bgpSource(label bgp.SourceLabel) Source {
	switch label {
	case bgp.SourceIBGP:
		return SourceIBGP
	case bgp.SourceEBGP:
		return SourceEBGP
	default:
		return SourceStatic
	}
}

func routeFor(prefix netip.Prefix, gateway netip.Addr, metric uint32) *netlink.Route {
	bits := 32
	if prefix.Addr().Is6() {
		bits = 128
	}
	return &netlink.Route{
		Dst: &net.IPNet{
			IP:   net.IP(prefix.Addr().AsSlice()),
			Mask: net.CIDRMask(prefix.Bits(), bits),
		},
		Gw:       net.IP(gateway.AsSlice()),
		Priority: int(metric),
		Protocol: RouteProtocol,
	}
}
