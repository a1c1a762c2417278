package isis

import (
	"container/heap"
	"net/netip"
	"sync"
	"time"

	"github.com/gaissmai/bart"
	"go.uber.org/zap"

	"github.com/routed-project/routed/internal/timerwheel"
)

// Route is one computed shortest path (spec §4.6's SPF output, adapted
// from spf.py's SPFRoute). Metric is the wide (24-bit) IS-IS metric
// accumulated along the path plus the originating prefix's own metric.
type Route struct {
	Prefix   netip.Prefix
	NextHop  netip.Addr
	Metric   uint32
	Via      SystemID
	Level    Level
	External bool
}

type vertex struct {
	sysID     SystemID
	distance  uint32
	parent    SystemID
	hasParent bool
	nextHop   SystemID
	processed bool
}

// heapItem/spfHeap implement container/heap for Dijkstra's priority
// queue, replacing spf.py's heapq tuples with a typed min-heap.
type heapItem struct {
	distance uint32
	sysID    SystemID
}

type spfHeap []heapItem

func (h spfHeap) Len() int            { return len(h) }
func (h spfHeap) Less(i, j int) bool  { return h[i].distance < h[j].distance }
func (h spfHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *spfHeap) Push(x any) { *h = append(*h, x.(heapItem)) }
func (h *spfHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Calculator runs Dijkstra over one level's LSDB (spec §4.6: "dual-level
// SPF using wide metrics"). Adapted from spf.py's ISISSPFCalculator,
// dropping the NetworkX code path entirely (no graph library is wired
// into this tree, and the native Dijkstra branch is the one every
// router actually runs when networkx is absent) and using a real
// container/heap instead of reimplementing heap semantics on a slice.
type Calculator struct {
	SystemID SystemID
	lsdb     *LSDB

	mu           sync.Mutex
	table        *bart.Table[*Route]
	runs         int
	lastRun      time.Time
	scheduled    bool
	wheel        *timerwheel.Wheel
	delay        time.Duration
	minInterval  time.Duration

	log *zap.Logger

	// NextHopIP resolves a neighboring system ID's reachable address,
	// looked up by the caller (Speaker.nextHopFor takes the address of the
	// first IP reachability entry in that system's own LSP) — SPF itself
	// only knows system IDs, it has no notion of interface addressing.
	NextHopIP func(SystemID) (netip.Addr, bool)
}

func NewCalculator(systemID SystemID, lsdb *LSDB, log *zap.Logger) *Calculator {
	return &Calculator{
		SystemID:    systemID,
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
// closer together than c.minInterval (spec §4.6's "SPF delay and
// throttling to prevent excessive computation during instability",
// ported from schedule_spf's elapsed-time math onto a timerwheel
// one-shot instead of a freestanding asyncio task).
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

// Run executes one Dijkstra pass over the LSDB and replaces the output
// table (spec §4.6). Safe to call directly (e.g. from tests) without
// going through Schedule.
func (c *Calculator) Run() {
	start := time.Now()

	distances := make(map[SystemID]*vertex)
	distances[c.SystemID] = &vertex{sysID: c.SystemID, nextHop: c.SystemID}

	pq := &spfHeap{{distance: 0, sysID: c.SystemID}}
	heap.Init(pq)

	for pq.Len() > 0 {
		item := heap.Pop(pq).(heapItem)
		v, ok := distances[item.sysID]
		if !ok || v.processed {
			continue
		}
		v.processed = true
		v.distance = item.distance

		for _, neighbor := range c.neighborsOf(item.sysID) {
			nv, ok := distances[neighbor.sysID]
			if !ok {
				nv = &vertex{sysID: neighbor.sysID, distance: ^uint32(0)}
				distances[neighbor.sysID] = nv
			}
			newDist := v.distance + neighbor.metric
			if newDist < nv.distance {
				nv.distance = newDist
				nv.parent = item.sysID
				nv.hasParent = true
				if item.sysID == c.SystemID {
					nv.nextHop = neighbor.sysID
				} else {
					nv.nextHop = v.nextHop
				}
				heap.Push(pq, heapItem{distance: newDist, sysID: neighbor.sysID})
			}
		}
	}

	table := new(bart.Table[*Route])
	for sysID, v := range distances {
		if sysID == c.SystemID || !v.processed {
			continue
		}
		lsp, ok := c.lsdb.Get(LSPID{System: sysID})
		if !ok {
			continue
		}
		nextHop, ok := c.nextHopFor(v.nextHop)
		if !ok {
			continue
		}
		for _, reach := range lsp.IPReach {
			prefix, ok := ipReachPrefix(reach)
			if !ok {
				continue
			}
			total := v.distance + reach.Metric
			r := &Route{Prefix: prefix, NextHop: nextHop, Metric: total, Via: v.nextHop, Level: c.lsdb.Level}
			if existing, ok := table.Get(prefix); !ok || total < existing.Metric {
				table.Insert(prefix, r)
			}
		}
	}

	c.mu.Lock()
	c.table = table
	c.runs++
	c.lastRun = start
	c.mu.Unlock()

	c.log.Info("spf run complete", zap.String("level", c.lsdb.Level.String()),
		zap.Duration("elapsed", time.Since(start)), zap.Int("run", c.runs))
}

type weightedNeighbor struct {
	sysID  SystemID
	metric uint32
}

// neighborsOf builds the adjacency list for one vertex directly from
// that system's most recent LSP, generalizing spf.py's pre-built
// adjacency map into an on-demand lookup (the LSDB is already indexed
// by LSP ID, so there is no need to precompute a separate map).
func (c *Calculator) neighborsOf(sysID SystemID) []weightedNeighbor {
	lsp, ok := c.lsdb.Get(LSPID{System: sysID})
	if !ok {
		return nil
	}
	out := make([]weightedNeighbor, 0, len(lsp.ISReach))
	for _, is := range lsp.ISReach {
		out = append(out, weightedNeighbor{sysID: is.NeighborID.System, metric: is.Metric})
	}
	return out
}

func (c *Calculator) nextHopFor(sysID SystemID) (netip.Addr, bool) {
	if c.NextHopIP == nil {
		return netip.Addr{}, false
	}
	return c.NextHopIP(sysID)
}

func ipReachPrefix(r IPReachability) (netip.Prefix, bool) {
	if r.PrefixLen > 32 {
		return netip.Prefix{}, false
	}
	addr := netip.AddrFrom4(r.Prefix)
	return netip.PrefixFrom(addr, int(r.PrefixLen)), true
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

// DualCalculator runs independent SPF for L1 and L2 and merges their
// results the way spf.py's DualSPFCalculator does: L1 routes win over
// L2 for the same prefix, since an L1 path stays inside the area while
// an L2 path may be leaving and re-entering it.
type DualCalculator struct {
	L1 *Calculator
	L2 *Calculator
}

func NewDualCalculator(systemID SystemID, lsdb *DualLSDB, log *zap.Logger) *DualCalculator {
	d := &DualCalculator{}
	if lsdb.L1 != nil {
		d.L1 = NewCalculator(systemID, lsdb.L1, log.Named("spf-l1"))
	}
	if lsdb.L2 != nil {
		d.L2 = NewCalculator(systemID, lsdb.L2, log.Named("spf-l2"))
	}
	return d
}

func (d *DualCalculator) Schedule(level Level) {
	if level == Level1 && d.L1 != nil {
		d.L1.Schedule()
	}
	if level == Level2 && d.L2 != nil {
		d.L2.Schedule()
	}
}

// CombinedRoutes merges L2 then overlays L1, matching get_combined_routing_table.
func (d *DualCalculator) CombinedRoutes() []*Route {
	byPrefix := make(map[netip.Prefix]*Route)
	if d.L2 != nil {
		for _, r := range d.L2.Routes() {
			byPrefix[r.Prefix] = r
		}
	}
	if d.L1 != nil {
		for _, r := range d.L1.Routes() {
			byPrefix[r.Prefix] = r
		}
	}
	out := make([]*Route, 0, len(byPrefix))
	for _, r := range byPrefix {
		out = append(out, r)
	}
	return out
}

func (d *DualCalculator) Close() {
	if d.L1 != nil {
		d.L1.Close()
	}
	if d.L2 != nil {
		d.L2.Close()
	}
}
