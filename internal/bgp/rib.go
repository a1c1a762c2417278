package bgp

import (
	"net/netip"
	"sync"
	"time"

	"github.com/gaissmai/bart"
)

// Route is one RIB entry (spec §3's "BGP Route (RIB entry)"). Adj-RIB-In
// and Adj-RIB-Out are keyed by (peer, NLRI); Loc-RIB is keyed by NLRI
// alone (one Route per prefix, the winner of best-path).
type Route struct {
	Prefix     Prefix
	Attrs      *Attributes
	Peer       string // empty for locally originated / redistributed
	Source     SourceLabel
	Since      time.Time // spec §4.8 decision step 8: oldest-established tiebreak
	PeerRouterID Identifier
	PeerAddr     netip.Addr
}

// peerTable is one Adj-RIB-In or Adj-RIB-Out: a prefix trie per peer.
// Built on github.com/gaissmai/bart, replacing radix/radix.go's
// edge-list trie (see DESIGN.md); BART's popcount-compressed multibit
// trie is the idiomatic choice for exactly this longest-match/exact-match
// prefix table.
type peerTable struct {
	mu     sync.RWMutex
	tables map[string]*bart.Table[*Route]
}

func newPeerTable() *peerTable {
	return &peerTable{tables: make(map[string]*bart.Table[*Route])}
}

func (t *peerTable) tableFor(peer string) *bart.Table[*Route] {
	tb, ok := t.tables[peer]
	if !ok {
		tb = new(bart.Table[*Route])
		t.tables[peer] = tb
	}
	return tb
}

func toNetipPrefix(p Prefix) netip.Prefix {
	addr, _ := netip.AddrFromSlice(p.IP)
	ones, _ := p.Mask.Size()
	return netip.PrefixFrom(addr.Unmap(), ones)
}

func (t *peerTable) add(peer string, r *Route) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tableFor(peer).Insert(toNetipPrefix(r.Prefix), r)
}

func (t *peerTable) remove(peer string, p Prefix) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tb, ok := t.tables[peer]; ok {
		tb.Delete(toNetipPrefix(p))
	}
}

func (t *peerTable) get(peer string, p Prefix) (*Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tb, ok := t.tables[peer]
	if !ok {
		return nil, false
	}
	return tb.Get(toNetipPrefix(p))
}

// removePeer drops an entire peer's table, used on session teardown
// (spec §3 lifecycle: "adjacency loss").
func (t *peerTable) removePeer(peer string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tables, peer)
}

// prefixesForPeer lists every prefix currently held for peer, taken under
// the table's own lock (unlike tableFor, safe to call from outside the
// package-internal add/remove helpers).
func (t *peerTable) prefixesForPeer(peer string) []Prefix {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tb, ok := t.tables[peer]
	if !ok {
		return nil
	}
	var out []Prefix
	tb.All()(func(_ netip.Prefix, r *Route) bool {
		out = append(out, r.Prefix)
		return true
	})
	return out
}

// allForPrefix returns every peer's Route for p, the input to best-path
// selection (spec §4.8).
func (t *peerTable) allForPrefix(p Prefix) []*Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Route
	key := toNetipPrefix(p)
	for _, tb := range t.tables {
		if r, ok := tb.Get(key); ok {
			out = append(out, r)
		}
	}
	return out
}

// AdjRIBIn is the per-peer received-route store (spec §3).
type AdjRIBIn struct{ *peerTable }

func NewAdjRIBIn() *AdjRIBIn { return &AdjRIBIn{newPeerTable()} }

// AdjRIBOut is the per-peer advertised-route store (spec §3).
type AdjRIBOut struct{ *peerTable }

func NewAdjRIBOut() *AdjRIBOut { return &AdjRIBOut{newPeerTable()} }

// LocRIB is the single best-path-per-prefix table (spec §3, GLOSSARY).
type LocRIB struct {
	mu    sync.RWMutex
	table *bart.Table[*Route]
}

func NewLocRIB() *LocRIB {
	return &LocRIB{table: new(bart.Table[*Route])}
}

func (l *LocRIB) Set(r *Route) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.table.Insert(toNetipPrefix(r.Prefix), r)
}

func (l *LocRIB) Remove(p Prefix) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.table.Delete(toNetipPrefix(p))
}

func (l *LocRIB) Get(p Prefix) (*Route, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.table.Get(toNetipPrefix(p))
}

// All returns a snapshot of every Loc-RIB entry (used by redistribution
// §4.10 and the installer §4.9; SPF-style "copy keys under lock, release,
// compute on the copy" per spec §5).
func (l *LocRIB) All() []*Route {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*Route
	l.table.All()(func(_ netip.Prefix, r *Route) bool {
		out = append(out, r)
		return true
	})
	return out
}
