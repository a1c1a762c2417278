package ospf

import (
	"container/heap"
	"net/netip"
	"sync"
	"time"

	"github.com/gaissmai/bart"
	"go.uber.org/zap"

	"github.com/routed-project/routed/internal/timerwheel"
)

// Route is one computed shortest path (spec §4.6's SPF output), adapted
// from internal/isis/spf.go's shape since OSPF's own Dijkstra runs over
// a router/network graph instead of IS-IS's single-vertex-per-system
// graph.
type Route struct {
	Prefix     netip.Prefix
	NextHop    netip.Addr
	Resolved   bool
	Metric     uint32
	Via        RouterID
	External   bool
	ExternalE2 bool
}

type vertexKind int

const (
	vertexRouter vertexKind = iota
	vertexNetwork
)

type vertexID struct {
	kind vertexKind
	id   uint32
}

type vertex struct {
	id         vertexID
	distance   uint32
	parent     vertexID
	hasParent  bool
	nextHop    netip.Addr
	resolved   bool
	processed  bool
}

type heapItem struct {
	distance uint32
	id       vertexID
}

type spfHeap []heapItem

func (h spfHeap) Len() int           { return len(h) }
func (h spfHeap) Less(i, j int) bool { return h[i].distance < h[j].distance }
func (h spfHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *spfHeap) Push(x any)        { *h = append(*h, x.(heapItem)) }
func (h *spfHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Calculator runs Dijkstra over one area's LSDB (spec §4.6: router- and
// network-LSAs form the graph, stub links and AS-External LSAs attach
// leaf prefixes once the graph is resolved). Grounded on
// internal/isis/spf.go's Calculator shape (container/heap instead of a
// hand-rolled priority queue, bart.Table output, a timerwheel-backed
// delay/throttle pair).
type Calculator struct {
	RouterID RouterID
	lsdb     *LSDB

	mu          sync.Mutex
	table       *bart.Table[*Route]
	runs        int
	lastRun     time.Time
	scheduled   bool
	wheel       *timerwheel.Wheel
	delay       time.Duration
	minInterval time.Duration

	log *zap.Logger

	// NextHopIP resolves the interface address to use when a router is
	// reached directly from the root over a point-to-point link (spec
	// §9's decided Open Question: never guess a next hop from a
	// router-id — a transit-network first hop, or any router with no
	// resolvable interface address, is left Unresolved instead).
	NextHopIP func(RouterID) (netip.Addr, bool)
}

func NewCalculator(routerID RouterID, lsdb *LSDB, log *zap.Logger) *Calculator {
	return &Calculator{
		RouterID:    routerID,
		lsdb:        lsdb,
		table:       new(bart.Table[*Route]),
		wheel:       timerwheel.New(false),
		delay:       DefaultSPFDelay,
		minInterval: DefaultSPFInterval,
		log:         log,
	}
}

func (c *Calculator) Close() { c.wheel.Close() }

// Schedule defers a run by c.delay, throttled so two runs never happen
// closer together than c.minInterval (spec §4.6, mirroring
// internal/isis's SPF delay/throttle pair).
func (c *Calculator) Schedule() {
	c.mu.Lock()
	if c.scheduled {
		c.mu.Unlock()
		return
	}
	c.scheduled = true
	delay := c.delay
	if !c.lastRun.IsZero() {
		if elapsed := time.Since(c.lastRun); elapsed < c.minInterval {
			if wait := c.minInterval - elapsed; wait > delay {
				delay = wait
			}
		}
	}
	c.mu.Unlock()

	c.wheel.Schedule("spf", delay, false, func() {
		c.mu.Lock()
		c.scheduled = false
		c.mu.Unlock()
		c.Run()
	})
}

// Run executes one Dijkstra pass over the area's router/network graph
// and replaces the output table (RFC 2328 §16.1).
func (c *Calculator) Run() {
	start := time.Now()

	root := vertexID{kind: vertexRouter, id: uint32(c.RouterID)}
	distances := make(map[vertexID]*vertex)
	distances[root] = &vertex{id: root, resolved: true}

	pq := &spfHeap{{distance: 0, id: root}}
	heap.Init(pq)

	for pq.Len() > 0 {
		item := heap.Pop(pq).(heapItem)
		v, ok := distances[item.id]
		if !ok || v.processed {
			continue
		}
		v.processed = true
		v.distance = item.distance

		for _, e := range c.edgesFrom(item.id) {
			nv, ok := distances[e.to]
			if !ok {
				nv = &vertex{id: e.to, distance: ^uint32(0)}
				distances[e.to] = nv
			}
			newDist := v.distance + e.metric
			if newDist < nv.distance {
				nv.distance = newDist
				nv.parent = item.id
				nv.hasParent = true
				if item.id == root {
					if e.to.kind == vertexRouter {
						nv.nextHop, nv.resolved = c.resolveNextHop(RouterID(e.to.id))
					}
					// a transit network reached directly from the root has
					// no router-id to resolve a next hop from; left
					// unresolved rather than guessed.
				} else {
					nv.nextHop, nv.resolved = v.nextHop, v.resolved
				}
				heap.Push(pq, heapItem{distance: newDist, id: e.to})
			}
		}
	}

	table := new(bart.Table[*Route])
	install := func(prefix netip.Prefix, r *Route) {
		if existing, ok := table.Get(prefix); !ok || r.Metric < existing.Metric {
			table.Insert(prefix, r)
		}
	}

	for id, v := range distances {
		if id == root || !v.processed {
			continue
		}
		switch id.kind {
		case vertexRouter:
			c.installStubs(RouterID(id.id), v, install)
		case vertexNetwork:
			c.installTransitPrefix(id.id, v, install)
		}
	}
	c.installExternals(distances, install)

	c.mu.Lock()
	c.table = table
	c.runs++
	c.lastRun = start
	c.mu.Unlock()

	c.log.Info("ospf spf run complete", zap.Uint32("area", c.lsdb.AreaID),
		zap.Duration("elapsed", time.Since(start)), zap.Int("run", c.runs))
}

type edge struct {
	to     vertexID
	metric uint32
}

// edgesFrom returns the outgoing edges of one vertex: a router's
// point-to-point and transit links, or a transit network's attached
// routers (RFC 2328 §16.1 steps 2-3).
func (c *Calculator) edgesFrom(id vertexID) []edge {
	switch id.kind {
	case vertexRouter:
		return c.routerEdges(RouterID(id.id))
	case vertexNetwork:
		return c.networkEdges(id.id)
	default:
		return nil
	}
}

func (c *Calculator) routerEdges(id RouterID) []edge {
	lsa, ok := c.lsdb.Get(LSAKey{Type: LSARouter, LinkStateID: id, AdvRouter: id})
	if !ok || lsa.Router == nil {
		return nil
	}
	var out []edge
	for _, l := range lsa.Router.Links {
		switch l.Type {
		case 1: // point-to-point
			out = append(out, edge{to: vertexID{kind: vertexRouter, id: l.ID}, metric: uint32(l.Metric)})
		case 2: // transit network
			out = append(out, edge{to: vertexID{kind: vertexNetwork, id: l.ID}, metric: uint32(l.Metric)})
		}
	}
	return out
}

// networkEdges finds the Network-LSA whose LinkStateID is the DR's
// interface address on this network (the network LSA is keyed by the
// DR's own router-id, not by LinkStateID, so every network LSA in the
// area is scanned).
func (c *Calculator) networkEdges(networkID uint32) []edge {
	var out []edge
	for _, lsa := range c.lsdb.All() {
		if lsa.Header.Type != LSANetwork || uint32(lsa.Header.LinkStateID) != networkID {
			continue
		}
		if lsa.Network == nil {
			continue
		}
		for _, rid := range lsa.Network.AttachedRouters {
			out = append(out, edge{to: vertexID{kind: vertexRouter, id: uint32(rid)}, metric: 0})
		}
	}
	return out
}

func (c *Calculator) resolveNextHop(neighbor RouterID) (netip.Addr, bool) {
	if c.NextHopIP == nil {
		return netip.Addr{}, false
	}
	return c.NextHopIP(neighbor)
}

// installStubs attaches a processed router's stub-network links
// (RouterLink.Type==3) as leaf prefixes.
func (c *Calculator) installStubs(id RouterID, v *vertex, install func(netip.Prefix, *Route)) {
	lsa, ok := c.lsdb.Get(LSAKey{Type: LSARouter, LinkStateID: id, AdvRouter: id})
	if !ok || lsa.Router == nil {
		return
	}
	for _, l := range lsa.Router.Links {
		if l.Type != 3 {
			continue
		}
		prefix, ok := maskedPrefix(l.ID, l.Data)
		if !ok {
			continue
		}
		install(prefix, &Route{
			Prefix: prefix, NextHop: v.nextHop, Resolved: v.resolved,
			Metric: v.distance + uint32(l.Metric), Via: id,
		})
	}
}

// installTransitPrefix makes a processed transit network itself
// reachable, using the Network-LSA originated by its DR for the mask.
func (c *Calculator) installTransitPrefix(networkID uint32, v *vertex, install func(netip.Prefix, *Route)) {
	for _, lsa := range c.lsdb.All() {
		if lsa.Header.Type != LSANetwork || uint32(lsa.Header.LinkStateID) != networkID || lsa.Network == nil {
			continue
		}
		prefix, ok := maskedPrefix(networkID, lsa.Network.NetworkMask)
		if !ok {
			continue
		}
		install(prefix, &Route{
			Prefix: prefix, NextHop: v.nextHop, Resolved: v.resolved,
			Metric: v.distance, Via: RouterID(lsa.Header.AdvRouter),
		})
		return
	}
}

// installExternals attaches every AS-External LSA whose advertising
// router (the ASBR) is reachable, per RFC 2328 §16.4: E1 metrics add
// the ASBR's intra-area distance, E2 metrics stand alone (the ASBR
// distance only breaks ties between equal-metric E2 routes, which this
// implementation does not attempt to disambiguate further).
func (c *Calculator) installExternals(distances map[vertexID]*vertex, install func(netip.Prefix, *Route)) {
	for _, lsa := range c.lsdb.All() {
		if lsa.Header.Type != LSAASExternal || lsa.ASExternal == nil {
			continue
		}
		asbr := vertexID{kind: vertexRouter, id: uint32(lsa.Header.AdvRouter)}
		v, ok := distances[asbr]
		if !ok || !v.processed {
			continue
		}
		prefix, ok := maskedPrefix(uint32(lsa.Header.LinkStateID), lsa.ASExternal.NetworkMask)
		if !ok {
			continue
		}
		metric := lsa.ASExternal.Metric
		if !lsa.ASExternal.ExternalType2 {
			metric += v.distance
		}
		install(prefix, &Route{
			Prefix: prefix, NextHop: v.nextHop, Resolved: v.resolved,
			Metric: metric, Via: RouterID(lsa.Header.AdvRouter),
			External: true, ExternalE2: lsa.ASExternal.ExternalType2,
		})
	}
}

func maskedPrefix(addr, mask uint32) (netip.Prefix, bool) {
	bits := maskBits(mask)
	if bits < 0 {
		return netip.Prefix{}, false
	}
	return netip.PrefixFrom(netip.AddrFrom4(u32ToBytes(addr)), bits).Masked(), true
}

func maskBits(mask uint32) int {
	bits := 0
	seenZero := false
	for i := 31; i >= 0; i-- {
		if mask&(1<<uint(i)) != 0 {
			if seenZero {
				return -1
			}
			bits++
		} else {
			seenZero = true
		}
	}
	return bits
}

func u32ToBytes(v uint32) [4]byte {
	return [4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func (c *Calculator) Route(prefix netip.Prefix) (*Route, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.table.Get(prefix)
}

func (c *Calculator) Routes() []*Route {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*Route
	c.table.All()(func(_ netip.Prefix, r *Route) bool {
		out = append(out, r)
		return true
	})
	return out
}

func (c *Calculator) Statistics() (runs int, lastRun time.Time, routeCount int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	c.table.All()(func(netip.Prefix, *Route) bool { count++; return true })
	return c.runs, c.lastRun, count
}
