// Package redistribute implements universal route redistribution
// between OSPF, IS-IS, BGP and static routes (spec §4.10), generalized
// from the original RouteRedistributor's collect-then-inject loop: every
// cycle it gathers each engine's current routes, then injects whatever a
// target engine is missing, never redistributing a route back into the
// engine it learned it from.
package redistribute

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/routed-project/routed/internal/bgp"
	"github.com/routed-project/routed/internal/isis"
	"github.com/routed-project/routed/internal/ospf"
)

// Protocol names one of the engines a route can originate from or be
// redistributed into.
type Protocol int

const (
	ProtoOSPF Protocol = iota
	ProtoISIS
	ProtoBGP
	ProtoStatic
)

func (p Protocol) String() string {
	switch p {
	case ProtoOSPF:
		return "ospf"
	case ProtoISIS:
		return "isis"
	case ProtoBGP:
		return "bgp"
	case ProtoStatic:
		return "static"
	default:
		return "unknown"
	}
}

// ospfEngine, isisEngine and bgpEngine are the narrow slices of
// ospf.Speaker/isis.Speaker/bgp.Speaker the redistributor needs,
// accepted as interfaces so the collect-then-inject loop can be
// exercised against fakes without standing up a real protocol engine.
type ospfEngine interface {
	Routes() []*ospf.Route
	RedistributeRoute(prefix netip.Prefix, metric uint32, e2 bool)
	WithdrawRedistributed(prefix netip.Prefix)
}

type isisEngine interface {
	Routes() []*isis.Route
	RedistributeRoute(prefix netip.Prefix, metric uint32, external bool)
	WithdrawRedistributed(prefix netip.Prefix)
}

type bgpEngine interface {
	Routes() []*bgp.Route
	RedistributeInto(p bgp.Prefix, nextHop []byte, from bgp.SourceLabel, metric uint32)
	Withdraw(p bgp.Prefix)
}

// route is one collected entry, tagged with the engine it came from.
type route struct {
	prefix  netip.Prefix
	nextHop netip.Addr
	metric  uint32
	source  Protocol
}

// StaticRoute is a route configured outside any dynamic protocol (spec
// §4.10: static routes redistribute the same as any other source).
type StaticRoute struct {
	Prefix  netip.Prefix
	NextHop netip.Addr
	Metric  uint32
}

// Metrics configures the fixed cost assigned to any route as it
// crosses into each target protocol, regardless of where it came from,
// simplified from the original's per-source-protocol metric table
// (static=50, isis=100, bgp=150 when injecting into OSPF) down to one
// fixed cost per target.
type Metrics struct {
	IntoOSPF uint32
	IntoISIS uint32
	IntoBGP  uint32
}

// DefaultMetrics is a reasonable starting point: cheap enough not to
// outcompete routes native to the target protocol, but present.
var DefaultMetrics = Metrics{IntoOSPF: 20, IntoISIS: 10, IntoBGP: 150}

// Redistributor runs the collect-then-inject cycle across whichever
// engines are configured. At least two must be present for
// redistribution to do anything, matching the original's
// "len(active_protocols) < 2" short-circuit.
type Redistributor struct {
	log *zap.Logger

	ospf ospfEngine
	isis isisEngine
	bgp  bgpEngine

	static  []StaticRoute
	metrics Metrics

	interval time.Duration

	mu sync.Mutex
	// origin records which protocol a prefix was first learned from,
	// used to refuse redistributing a route back into its own source
	// (prevents BGP -> OSPF -> BGP style loops).
	origin map[netip.Prefix]Protocol
	// redistributedTo[target] is the set of prefixes already injected
	// into that target, so a later cycle doesn't re-inject or flap it.
	redistributedTo map[Protocol]map[netip.Prefix]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Redistributor. Any of ospfSpeaker/isisSpeaker/bgpSpeaker
// may be nil when that protocol isn't running on this router; a nil
// *ospf.Speaker etc. is kept out of the corresponding interface field
// entirely so activeCount and the inject nil-checks see a true nil
// rather than a non-nil interface wrapping a nil pointer.
func New(ospfSpeaker *ospf.Speaker, isisSpeaker *isis.Speaker, bgpSpeaker *bgp.Speaker, static []StaticRoute, metrics Metrics, log *zap.Logger) *Redistributor {
	r := &Redistributor{
		log:      log,
		static:   static,
		metrics:  metrics,
		interval: 10 * time.Second,
		origin:   make(map[netip.Prefix]Protocol),
		redistributedTo: map[Protocol]map[netip.Prefix]struct{}{
			ProtoOSPF: {},
			ProtoISIS: {},
			ProtoBGP:  {},
		},
	}
	if ospfSpeaker != nil {
		r.ospf = ospfSpeaker
	}
	if isisSpeaker != nil {
		r.isis = isisSpeaker
	}
	if bgpSpeaker != nil {
		r.bgp = bgpSpeaker
	}
	return r
}

func (r *Redistributor) activeCount() int {
	n := 0
	if r.ospf != nil {
		n++
	}
	if r.isis != nil {
		n++
	}
	if r.bgp != nil {
		n++
	}
	return n
}

// Start runs the redistribution loop until ctx is cancelled or Stop is
// called. A single run happens immediately so the first cycle doesn't
// wait a full interval.
func (r *Redistributor) Start(ctx context.Context) {
	if r.activeCount() < 2 {
		r.log.Info("only one protocol active, redistribution not needed")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		r.runCycle()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.runCycle()
			}
		}
	}()
}

func (r *Redistributor) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

func (r *Redistributor) runCycle() {
	routes := r.collectAll()
	for _, target := range []Protocol{ProtoOSPF, ProtoISIS, ProtoBGP} {
		r.redistributeTo(target, routes)
	}
}

// collectAll gathers every route currently known to each active engine,
// recording first-seen origin so later cycles keep refusing to
// redistribute a prefix back into its own source.
func (r *Redistributor) collectAll() []route {
	var all []route

	if r.ospf != nil {
		for _, rt := range r.ospf.Routes() {
			if rt.External || !rt.Resolved {
				// external routes were already redistributed into OSPF by
				// someone; an unresolved next hop has nothing to advertise.
				continue
			}
			all = append(all, r.tag(route{prefix: rt.Prefix, nextHop: rt.NextHop, metric: rt.Metric, source: ProtoOSPF}))
		}
	}

	if r.isis != nil {
		for _, rt := range r.isis.Routes() {
			if rt.External || !rt.NextHop.IsValid() {
				continue
			}
			all = append(all, r.tag(route{prefix: rt.Prefix, nextHop: rt.NextHop, metric: rt.Metric, source: ProtoISIS}))
		}
	}

	if r.bgp != nil {
		for _, rt := range r.bgp.Routes() {
			if rt.Source != bgp.SourceEBGP && rt.Source != bgp.SourceIBGP {
				// SourceLocal/SourceRedistributed* originated here or was
				// itself redistributed in; don't loop it back out.
				continue
			}
			pfx, ok := netipPrefixFromBGP(rt.Prefix)
			if !ok {
				continue
			}
			nh, ok := netip.AddrFromSlice(rt.Attrs.NextHop)
			if !ok {
				continue
			}
			all = append(all, r.tag(route{prefix: pfx, nextHop: nh.Unmap(), metric: 20, source: ProtoBGP}))
		}
	}

	for _, s := range r.static {
		all = append(all, r.tag(route{prefix: s.Prefix, nextHop: s.NextHop, metric: s.Metric, source: ProtoStatic}))
	}

	return all
}

func (r *Redistributor) tag(rt route) route {
	r.mu.Lock()
	if _, ok := r.origin[rt.prefix]; !ok {
		r.origin[rt.prefix] = rt.source
	}
	r.mu.Unlock()
	return rt
}

func (r *Redistributor) redistributeTo(target Protocol, routes []route) {
	for _, rt := range routes {
		if rt.source == target {
			continue
		}

		r.mu.Lock()
		if origin, ok := r.origin[rt.prefix]; ok && origin == target {
			r.mu.Unlock()
			continue
		}
		_, already := r.redistributedTo[target][rt.prefix]
		r.mu.Unlock()
		if already {
			continue
		}

		if !r.inject(target, rt) {
			continue
		}

		r.mu.Lock()
		r.redistributedTo[target][rt.prefix] = struct{}{}
		r.mu.Unlock()
		r.log.Info("redistributed route",
			zap.String("source", rt.source.String()),
			zap.String("target", target.String()),
			zap.String("prefix", rt.prefix.String()))
	}
}

func (r *Redistributor) inject(target Protocol, rt route) bool {
	switch target {
	case ProtoOSPF:
		if r.ospf == nil {
			return false
		}
		r.ospf.RedistributeRoute(rt.prefix, r.metrics.IntoOSPF, true)
		return true
	case ProtoISIS:
		if r.isis == nil {
			return false
		}
		r.isis.RedistributeRoute(rt.prefix, r.metrics.IntoISIS, true)
		return true
	case ProtoBGP:
		if r.bgp == nil {
			return false
		}
		pfx, ok := bgpPrefixFromNetip(rt.prefix)
		if !ok {
			return false
		}
		nh := rt.nextHop.AsSlice()
		label := sourceLabelFor(rt.source)
		r.bgp.RedistributeInto(pfx, nh, label, r.metrics.IntoBGP)
		return true
	default:
		return false
	}
}

func sourceLabelFor(p Protocol) bgp.SourceLabel {
	switch p {
	case ProtoOSPF:
		return bgp.SourceRedistributedOSPF
	case ProtoISIS:
		return bgp.SourceRedistributedISIS
	default:
		return bgp.SourceRedistributedStatic
	}
}

// Withdraw removes a previously redistributed prefix from every target
// that isn't its own source, the mirror of a cycle's inject step for a
// route that has disappeared from the engine that originated it.
func (r *Redistributor) Withdraw(prefix netip.Prefix) {
	r.mu.Lock()
	origin, known := r.origin[prefix]
	delete(r.origin, prefix)
	for target, set := range r.redistributedTo {
		if _, ok := set[prefix]; !ok {
			continue
		}
		delete(set, prefix)
		r.mu.Unlock()
		r.withdrawFrom(target, prefix)
		r.mu.Lock()
	}
	r.mu.Unlock()
	if known {
		r.log.Info("withdrawn route no longer redistributed", zap.String("origin", origin.String()), zap.String("prefix", prefix.String()))
	}
}

func (r *Redistributor) withdrawFrom(target Protocol, prefix netip.Prefix) {
	switch target {
	case ProtoOSPF:
		if r.ospf != nil {
			r.ospf.WithdrawRedistributed(prefix)
		}
	case ProtoISIS:
		if r.isis != nil {
			r.isis.WithdrawRedistributed(prefix)
		}
	case ProtoBGP:
		if r.bgp != nil {
			if pfx, ok := bgpPrefixFromNetip(prefix); ok {
				r.bgp.Withdraw(pfx)
			}
		}
	}
}
