package bgp

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/routed-project/routed/internal/errs"
	"github.com/routed-project/routed/internal/iface"
	"github.com/routed-project/routed/internal/metrics"
)

// allFSMStates lists every FSM state name for
// metrics.Registry.SetNeighborState's "clear every other state's gauge
// series" pass.
var allFSMStates = []string{Idle.String(), Connect.String(), Active.String(), OpenSent.String(), OpenConfirm.String(), Established.String()}

// Speaker is a router that speaks BGP (spec §4.8, module C6), managing one
// listener and one FSM per configured peer. Adapted from
// speaker/speaker.go's Speaker type: that version panicked out of New on
// a listen failure and kept peers in a slice with no lookup; here New
// returns an error, peers are keyed by address, and policy/reflection/
// damping hooks from spec §4.8's "optional features" are wired in.
type Speaker struct {
	LocalAS  ASN
	RouterID Identifier

	log *zap.Logger

	mu    sync.RWMutex
	peers map[netip.Addr]*Peer

	listener *iface.BGPListener

	AdjRIBIn  *AdjRIBIn
	LocRIB    *LocRIB
	AdjRIBOut *AdjRIBOut

	damping *DampingTable

	// ClusterID is this speaker's route-reflector cluster id, required
	// when any peer has RouteReflectorClient set (spec §4.8).
	ClusterID Identifier

	// IGPMetric supplies the decision process's step-7 tiebreak; nil
	// means "treat all IGP metrics as equal". No component in this tree
	// assigns it, so step 7 is skipped unless a caller sets it.
	IGPMetric func(*Route) uint32

	listenAddr string
	cancel     context.CancelFunc

	// Metrics is optional; when set, every message sent/received and every
	// decode/protocol error is tallied on it, and every FSM transition
	// updates its neighbor-state gauge (spec §6 stats()).
	Metrics *metrics.Registry
}

func New(localAS ASN, routerID Identifier, listenAddr string, log *zap.Logger) (*Speaker, error) {
	if listenAddr == "" {
		listenAddr = fmt.Sprintf("0.0.0.0:%d", bgpPort)
	}
	s := &Speaker{
		LocalAS:    localAS,
		RouterID:   routerID,
		log:        log,
		peers:      make(map[netip.Addr]*Peer),
		AdjRIBIn:   NewAdjRIBIn(),
		LocRIB:     NewLocRIB(),
		AdjRIBOut:  NewAdjRIBOut(),
		damping:    NewDampingTable(),
		listenAddr: listenAddr,
	}
	return s, nil
}

const bgpPort = 179

// Start opens the listener and starts every configured peer's FSM (spec
// §5: "one task per FSM"; the accept loop is a further task reassigning
// inbound connections to the matching peer's FSM).
func (s *Speaker) Start(ctx context.Context) error {
	ln, err := iface.ListenBGP(s.listenAddr)
	if err != nil {
		return errs.Wrap(errs.Fatal, "bgp", "listen failed", err)
	}
	s.listener = ln
	ctx, s.cancel = context.WithCancel(ctx)
	go s.acceptLoop(ctx)

	s.mu.RLock()
	peers := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.RUnlock()
	for _, p := range peers {
		p.fsm.Start(ctx)
	}
	return nil
}

func (s *Speaker) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.peers {
		if p.fsm != nil {
			p.fsm.Stop()
		}
	}
}

func (s *Speaker) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.log.Warn("accept failed", zap.Error(err))
				continue
			}
		}
		addrPort, err := netip.ParseAddrPort(conn.RemoteAddr().String())
		if err != nil {
			conn.Close()
			continue
		}
		p, ok := s.Peer(addrPort.Addr())
		if !ok {
			s.log.Warn("connection from unconfigured peer", zap.String("addr", addrPort.Addr().String()))
			conn.Close()
			continue
		}
		p.fsm.onConnectionEstablished(ctx, conn)
	}
}

// AddPeer registers a peer and, if the speaker is already running,
// starts its FSM immediately (spec §6: "add/remove peer" is a live
// command, not just startup config).
func (s *Speaker) AddPeer(ctx context.Context, p *Peer) {
	p.fsm = newFSM(p, s, p.newFSMLogger(s.log))
	s.mu.Lock()
	s.peers[p.Addr] = p
	s.mu.Unlock()
	if s.listener != nil {
		p.fsm.Start(ctx)
	}
}

func (s *Speaker) RemovePeer(addr netip.Addr) {
	s.mu.Lock()
	p, ok := s.peers[addr]
	delete(s.peers, addr)
	s.mu.Unlock()
	if !ok {
		return
	}
	if p.fsm != nil {
		p.fsm.Stop()
	}
	key := addr.String()
	prefixes := s.AdjRIBIn.prefixesForPeer(key)
	s.AdjRIBIn.removePeer(key)
	s.AdjRIBOut.removePeer(key)
	s.damping.clearPeer(key)
	s.rerunAffectedPrefixes(prefixes)
}

func (s *Speaker) Peer(addr netip.Addr) (*Peer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.peers[addr]
	return p, ok
}

// Peers returns every configured peer, the BGP side of spec §6's
// `bgp.*` session observation call.
func (s *Speaker) Peers() []*Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out
}

func (s *Speaker) onPeerStateChange(p *Peer, st state) {
	s.log.Info("peer state", zap.String("peer", p.Addr.String()), zap.String("state", st.String()))
	if s.Metrics != nil {
		s.Metrics.SetNeighborState("bgp", p.Addr.String(), p.Addr.String(), st.String(), allFSMStates)
	}
}

// onSessionDown implements the implicit withdrawal of every route learned
// from a peer whose session just dropped (spec §3 "Lifecycle": adjacency
// loss removes the peer's Adj-RIB-In contribution and re-runs best path).
func (s *Speaker) onSessionDown(p *Peer) {
	key := p.Addr.String()
	prefixes := s.AdjRIBIn.prefixesForPeer(key)
	s.AdjRIBIn.removePeer(key)
	s.damping.clearPeer(key)
	s.rerunAffectedPrefixes(prefixes)
}

// handleUpdate applies one received UPDATE to Adj-RIB-In, re-runs the
// decision process for every affected prefix, and propagates the result
// to Adj-RIB-Out (spec §4.8's 4-step UPDATE handling). Returns the
// NOTIFICATION to send (if any) alongside an error describing the
// rejection; err==nil means the UPDATE was fully accepted.
func (s *Speaker) handleUpdate(p *Peer, u *UpdateMessage) (*NotificationMessage, error) {
	peerKey := p.Addr.String()

	for _, w := range u.WithdrawnRoutes {
		s.AdjRIBIn.remove(peerKey, w)
	}
	for _, w := range u.Attributes.MPUnreachNLRI {
		s.AdjRIBIn.remove(peerKey, w)
	}

	var touched []Prefix
	touched = append(touched, u.WithdrawnRoutes...)
	touched = append(touched, u.Attributes.MPUnreachNLRI...)

	nlri := append(append([]Prefix{}, u.NLRI...), u.Attributes.MPReachNLRI...)
	for _, n := range nlri {
		if u.Attributes.ASPathContains(s.LocalAS) && p.RemoteAS != s.LocalAS {
			// Loop detection: our own AS already in the path from an
			// eBGP peer means the route left our network and came back.
			continue
		}
		if s.damping.suppressed(peerKey, n) {
			continue
		}
		r := &Route{
			Prefix:       n,
			Attrs:        u.Attributes,
			Peer:         peerKey,
			Source:       sourceFor(p, s.LocalAS),
			Since:        time.Now(),
			PeerRouterID: p.lastOpen.BGPIdentifier,
			PeerAddr:     p.Addr,
		}
		if !p.In(r) {
			continue
		}
		s.AdjRIBIn.add(peerKey, r)
		touched = append(touched, n)
	}

	s.rerunAffectedPrefixes(touched)
	return nil, nil
}

func sourceFor(p *Peer, localAS ASN) SourceLabel {
	if p.RemoteAS == localAS {
		return SourceIBGP
	}
	return SourceEBGP
}

// rerunAffectedPrefixes re-executes the Decision Process (spec §4.8) for
// every prefix in touched and propagates any change to Adj-RIB-Out/peers.
// A nil touched list re-derives nothing (used by RemovePeer with no
// residual routes).
func (s *Speaker) rerunAffectedPrefixes(touched []Prefix) {
	for _, pfx := range touched {
		candidates := s.AdjRIBIn.allForPrefix(pfx)
		best := SelectBest(candidates, s.LocalAS, s.RouterID, s.IGPMetric)
		prev, had := s.LocRIB.Get(pfx)
		if best == nil {
			if had {
				s.LocRIB.Remove(pfx)
				s.propagateWithdraw(pfx, prev)
			}
			continue
		}
		if had && routeEqual(prev, best) {
			continue
		}
		s.LocRIB.Set(best)
		s.propagateAdvertise(pfx, best)
	}
}

func routeEqual(a, b *Route) bool {
	return a.Peer == b.Peer && a.Since.Equal(b.Since)
}

// propagateAdvertise sends an UPDATE for best to every eligible peer,
// applying iBGP split-horizon and route-reflector rules (spec §4.8
// "optional features": route reflection).
func (s *Speaker) propagateAdvertise(pfx Prefix, best *Route) {
	s.mu.RLock()
	peers := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.RUnlock()

	for _, p := range peers {
		if p.State() != Established {
			continue
		}
		if !s.eligibleFor(p, best) {
			continue
		}
		out := s.buildOutgoing(p, best)
		if !p.Out(out) {
			continue
		}
		s.AdjRIBOut.add(p.Addr.String(), out)
		u := &UpdateMessage{NLRI: []Prefix{pfx}, Attributes: out.Attrs}
		if p.fsm != nil && p.fsm.conn != nil {
			p.fsm.conn.Write(u.Encode())
			p.fsm.countSent(msgUpdate)
		}
	}
}

func (s *Speaker) propagateWithdraw(pfx Prefix, prev *Route) {
	s.mu.RLock()
	peers := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.RUnlock()
	for _, p := range peers {
		if p.State() != Established {
			continue
		}
		s.AdjRIBOut.remove(p.Addr.String(), pfx)
		if p.fsm != nil && p.fsm.conn != nil {
			p.fsm.conn.Write(EncodeWithdrawAll([]Prefix{pfx}))
			p.fsm.countSent(msgUpdate)
		}
	}
}

// eligibleFor implements the iBGP split-horizon / route-reflector
// relaxation of spec §4.8: a route learned from a non-client iBGP peer is
// reflected only to route-reflector clients and eBGP peers, never back
// to other plain iBGP peers.
func (s *Speaker) eligibleFor(p *Peer, r *Route) bool {
	if r.Peer == p.Addr.String() {
		return false // never reflect a route back to its origin peer
	}
	if r.Source != SourceIBGP {
		return true
	}
	origin, ok := s.Peer(mustParseAddr(r.Peer))
	if !ok {
		return true
	}
	if origin.RouteReflectorClient {
		return true // learned from a client: reflect to everyone
	}
	// Learned from a non-client iBGP peer: split-horizon forbids handing
	// it to another plain iBGP peer, but eBGP peers and RR clients are
	// always fair game.
	return p.RemoteAS != s.LocalAS || p.RouteReflectorClient
}

// buildOutgoing applies route-reflector attribute rules (ORIGINATOR_ID/
// CLUSTER_LIST) and next-hop-self when advertising best to p.
func (s *Speaker) buildOutgoing(p *Peer, best *Route) *Route {
	attrs := *best.Attrs
	out := &Route{Prefix: best.Prefix, Attrs: &attrs, Peer: best.Peer, Source: best.Source}

	if best.Source == SourceIBGP || best.Source == SourceEBGP {
		if !attrs.HasOriginatorID {
			attrs.OriginatorID = best.PeerRouterID
			attrs.HasOriginatorID = true
		}
		if s.ClusterID != 0 && (best.Source == SourceIBGP) {
			attrs.ClusterList = append([]uint32{uint32(s.ClusterID)}, attrs.ClusterList...)
		}
	}
	if p.RemoteAS != s.LocalAS {
		// eBGP: prepend our AS, reset NEXT_HOP to self (classic eBGP rule).
		attrs.ASPath = append([]ASPathSegment{{ASNs: []ASN{s.LocalAS}}}, attrs.ASPath...)
		if p.fsm != nil && p.fsm.conn != nil {
			if la, ok := p.fsm.conn.LocalAddr().(*net.TCPAddr); ok && la.IP.To4() != nil {
				attrs.NextHop = append([]byte(nil), la.IP.To4()...)
			}
		}
	}
	return out
}

func mustParseAddr(s string) netip.Addr {
	a, _ := netip.ParseAddr(s)
	return a
}

// Originate injects a locally configured prefix into Loc-RIB (spec §6:
// "Originate a local prefix").
func (s *Speaker) Originate(p Prefix, nextHop []byte) {
	r := &Route{
		Prefix: p,
		Attrs: &Attributes{
			Origin:    OriginIGP,
			HasOrigin: true,
			NextHop:   nextHop,
		},
		Source: SourceLocal,
		Since:  time.Now(),
	}
	s.LocRIB.Set(r)
	s.propagateAdvertise(p, r)
}

// RedistributeInto accepts a route learned from another protocol (spec
// §4.10's collect-then-inject loop) and treats it like a local
// origination with a distinguishing SourceLabel.
func (s *Speaker) RedistributeInto(p Prefix, nextHop []byte, from SourceLabel, metric uint32) {
	r := &Route{
		Prefix: p,
		Attrs: &Attributes{
			Origin:    OriginIncomplete,
			HasOrigin: true,
			NextHop:   nextHop,
			MED:       metric,
			HasMED:    true,
		},
		Source: from,
		Since:  time.Now(),
	}
	s.LocRIB.Set(r)
	s.propagateAdvertise(p, r)
}

// Routes returns a snapshot of every Loc-RIB entry, the BGP analogue of
// ospf.Speaker.Routes/isis.Speaker.Routes for the redistribution fabric
// (spec §4.10).
func (s *Speaker) Routes() []*Route {
	return s.LocRIB.All()
}

// Withdraw removes a locally originated or redistributed Loc-RIB entry
// and propagates the withdrawal to peers, the counterpart to Originate
// and RedistributeInto.
func (s *Speaker) Withdraw(p Prefix) {
	prev, ok := s.LocRIB.Get(p)
	if !ok {
		return
	}
	s.LocRIB.Remove(p)
	s.propagateWithdraw(p, prev)
}
