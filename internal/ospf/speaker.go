package ospf

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/routed-project/routed/internal/errs"
	"github.com/routed-project/routed/internal/iface"
	"github.com/routed-project/routed/internal/metrics"
	"github.com/routed-project/routed/internal/timerwheel"
)

// allStates lists every FSM state name for metrics.Registry.SetNeighborState's
// "clear every other state's gauge series" pass.
var allStates = []string{Down.String(), Attempt.String(), Init.String(), TwoWay.String(),
	ExStart.String(), Exchange.String(), Loading.String(), Full.String()}

// CircuitConfig is the per-interface configuration OSPF runs with
// (spec §4.5, §6). Adapted from internal/isis's CircuitConfig, adding
// the area assignment and DR priority OSPF needs that IS-IS circuits
// don't.
type CircuitConfig struct {
	Name        string
	Network     netip.Prefix
	Area        uint32
	NetworkType NetworkType
	Metric      uint32
	Priority    byte
	Passive     bool
}

type circuit struct {
	cfg   CircuitConfig
	iface *iface.Interface
	sock  *iface.OSPFSocket
}

type area struct {
	ID        uint32
	LSDB      *LSDB
	SPF       *Calculator
	Neighbors *Manager
}

// Speaker is a router that speaks OSPFv2 (spec §4.4-4.6, module C8),
// coordinating per-area LSDBs, the neighbor FSM, flooding and SPF the
// way internal/isis.Speaker coordinates its dual-level equivalents —
// generalized here from "one LSDB pair" to "one LSDB per configured
// area", since OSPF's area count is unbounded where IS-IS's level
// count is fixed at two.
type Speaker struct {
	RouterID RouterID

	log *zap.Logger

	mu       sync.RWMutex
	circuits map[string]*circuit
	areas    map[uint32]*area
	seq      map[uint32]int32
	external map[netip.Prefix]externalRoute

	wheel   *timerwheel.Wheel
	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool

	// Metrics is optional; when set, every PDU sent/received and every
	// decode/protocol error is tallied on it (spec §6 stats()).
	Metrics *metrics.Registry

	OnRouteChange func(*Route)
}

type externalRoute struct {
	metric uint32
	e2     bool
}

func New(routerID RouterID, log *zap.Logger) *Speaker {
	return &Speaker{
		RouterID: routerID,
		log:      log,
		circuits: make(map[string]*circuit),
		areas:    make(map[uint32]*area),
		seq:      make(map[uint32]int32),
		external: make(map[netip.Prefix]externalRoute),
		wheel:    timerwheel.New(false),
		ctx:      context.Background(),
	}
}

func (s *Speaker) areaFor(id uint32) *area {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.areas[id]
	if ok {
		return a
	}
	a = &area{ID: id, LSDB: NewLSDB(id, s.log.Named("lsdb"))}
	a.SPF = NewCalculator(s.RouterID, a.LSDB, s.log.Named("spf"))
	a.SPF.NextHopIP = s.nextHopFor
	a.Neighbors = NewManager(s.RouterID, id, a.LSDB, s.log.Named("neighbor"))
	a.Neighbors.SendDBD = s.sendDBD
	a.Neighbors.SendLSR = s.sendLSR
	a.Neighbors.SendLSU = s.sendLSU
	a.Neighbors.SendAck = s.sendAck
	a.Neighbors.OnNeighborFullChange = s.onNeighborFullChange
	a.Neighbors.OnDRChange = s.onDRChange
	a.Neighbors.OnStateChange = s.onNeighborStateChange
	a.LSDB.OnLSAChange = func(*LSA) { a.SPF.Schedule() }
	a.LSDB.OnRefreshDue = func(key LSAKey) { s.refreshSelfOriginated(a, key) }
	s.areas[id] = a
	return a
}

// nextHopFor resolves a neighboring router's interface address from
// the circuit its adjacency lives on — the only place this speaker
// actually knows a router-id's reachable next-hop IP, matching the
// decided Open Question that SPF itself must never guess one.
func (s *Speaker) nextHopFor(id RouterID) (netip.Addr, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.areas {
		for _, n := range a.Neighbors.Neighbors() {
			if n.RouterID == id && n.IsFull() {
				addr, ok := netip.AddrFromSlice(n.Address.To4())
				if ok {
					return addr, true
				}
			}
		}
	}
	return netip.Addr{}, false
}

// AddCircuit enables OSPF on a physical interface (spec §6), opening a
// raw socket and, unless Passive, starting its hello loop.
func (s *Speaker) AddCircuit(cfg CircuitConfig, ifc *iface.Interface) error {
	sock, err := iface.NewOSPFSocket(ifc)
	if err != nil {
		return errs.Wrap(errs.Fatal, "ospf", "open circuit socket", err)
	}
	c := &circuit{cfg: cfg, iface: ifc, sock: sock}

	s.mu.Lock()
	s.circuits[cfg.Name] = c
	s.mu.Unlock()

	a := s.areaFor(cfg.Area)
	a.LSDB.RegisterNeighbor(cfg.Name)
	if cfg.NetworkType == Broadcast || cfg.NetworkType == NBMA {
		a.Neighbors.ConfigureInterface(cfg.Name, cfg.Priority, cfg.NetworkType)
	}

	go s.recvLoop(s.ctx, c)
	if !cfg.Passive {
		s.wheel.Schedule("hello-"+cfg.Name, DefaultHelloInterval, true, func() { s.sendHello(c) })
		s.wheel.Schedule("rxmt-"+cfg.Name, DefaultRxmtInterval, true, func() { s.floodPending(c) })
	}
	return nil
}

func (s *Speaker) RemoveCircuit(name string) {
	s.mu.Lock()
	c, ok := s.circuits[name]
	delete(s.circuits, name)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.wheel.CancelName("hello-" + name)
	s.wheel.CancelName("rxmt-" + name)
	c.sock.Close()
}

// Start marks the speaker running and originates this router's own
// Router-LSA in every configured area (spec §5). Hello and retransmission
// timers are scheduled per circuit by AddCircuit, not here.
func (s *Speaker) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running.Store(true)
	s.mu.RLock()
	areas := make([]*area, 0, len(s.areas))
	for _, a := range s.areas {
		areas = append(areas, a)
	}
	s.mu.RUnlock()
	for _, a := range areas {
		s.originateRouterLSA(a)
	}
}

func (s *Speaker) Stop() {
	s.running.Store(false)
	if s.cancel != nil {
		s.cancel()
	}
	s.wheel.Close()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.circuits {
		c.sock.Close()
	}
	for _, a := range s.areas {
		a.LSDB.Close()
		a.SPF.Close()
		a.Neighbors.Close()
	}
}

func (s *Speaker) recvLoop(ctx context.Context, c *circuit) {
	for {
		pkt, err := c.sock.Recv()
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn("circuit closed", zap.String("interface", c.cfg.Name), zap.Error(err))
			}
			return
		}
		pdu, err := Decode(pkt.Data)
		if err != nil {
			s.log.Debug("malformed pdu", zap.String("interface", c.cfg.Name), zap.Error(err))
			if s.Metrics != nil {
				s.Metrics.ErrorCounter("ospf", errs.Malformed.String()).Increment()
			}
			continue
		}
		if s.Metrics != nil {
			s.Metrics.MessageCounter("ospf", pdu.Header.Type.String()).Increment()
		}
		if pdu.Header.AreaID != c.cfg.Area {
			continue
		}
		s.handlePDU(c, pkt, pdu)
	}
}

func (s *Speaker) handlePDU(c *circuit, pkt *iface.Packet, pdu *PDU) {
	a := s.areaFor(c.cfg.Area)
	switch {
	case pdu.Hello != nil:
		if pdu.Hello.NetworkMask != 0 && c.cfg.Network.IsValid() {
			// network mask mismatch is a configuration error, not fatal to
			// decoding, so just log it (RFC 2328 §10.5).
			if bits := maskBitsOf(pdu.Hello.NetworkMask); bits >= 0 && bits != c.cfg.Network.Bits() {
				s.log.Warn("hello network mask mismatch", zap.String("interface", c.cfg.Name))
			}
		}
		a.Neighbors.ProcessHello(c.cfg.Name, pdu.Header.RouterID, pkt.Src, pdu.Hello, DefaultDeadInterval)
	case pdu.DBD != nil:
		n, ok := a.Neighbors.Neighbor(c.cfg.Name, pdu.Header.RouterID)
		if ok {
			a.Neighbors.ProcessDBD(n, pdu.DBD)
		}
	case pdu.LSR != nil:
		n, ok := a.Neighbors.Neighbor(c.cfg.Name, pdu.Header.RouterID)
		if ok {
			a.Neighbors.ProcessLSR(n, pdu.LSR)
		}
	case pdu.LSU != nil:
		n, ok := a.Neighbors.Neighbor(c.cfg.Name, pdu.Header.RouterID)
		if ok {
			a.Neighbors.ProcessLSU(n, pdu.LSU.LSAs)
		}
	case pdu.LSAck != nil:
		n, ok := a.Neighbors.Neighbor(c.cfg.Name, pdu.Header.RouterID)
		if ok {
			a.Neighbors.ProcessLSAck(n, pdu.LSAck)
			for _, h := range pdu.LSAck {
				a.LSDB.ClearRxmt(c.cfg.Name, h.Key())
			}
		}
	}
}

func maskBitsOf(mask uint32) int { return maskBits(mask) }

func (s *Speaker) header(c *circuit) *Header {
	return &Header{RouterID: s.RouterID, AreaID: c.cfg.Area}
}

func (s *Speaker) sendHello(c *circuit) {
	a := s.areaFor(c.cfg.Area)
	dr, bdr := a.Neighbors.DR(c.cfg.Name)
	var mask uint32
	if c.cfg.Network.IsValid() {
		mask = fullMask(c.cfg.Network.Bits())
	}
	h := &Hello{
		NetworkMask:            mask,
		HelloInterval:          uint16(DefaultHelloInterval.Seconds()),
		RtrPriority:            c.cfg.Priority,
		RouterDeadInterval:     uint32(DefaultDeadInterval.Seconds()),
		DesignatedRouter:       dr,
		BackupDesignatedRouter: bdr,
	}
	for _, n := range a.Neighbors.Neighbors() {
		if n.Interface == c.cfg.Name && n.State() >= Init {
			h.Neighbors = append(h.Neighbors, n.RouterID)
		}
	}
	frame := h.Encode(s.header(c))
	if err := c.sock.SendMulticast(frame); err != nil {
		s.log.Warn("hello send failed", zap.String("interface", c.cfg.Name), zap.Error(err))
		return
	}
	s.countSent(PacketHello)
}

// countSent tallies an outbound PDU the same way recvLoop tallies an
// inbound one, so spec §6's per-protocol message counters reflect both
// directions.
func (s *Speaker) countSent(t PacketType) {
	if s.Metrics != nil {
		s.Metrics.MessageCounter("ospf", t.String()).Increment()
	}
}

func fullMask(bits int) uint32 {
	if bits <= 0 {
		return 0
	}
	if bits >= 32 {
		return 0xffffffff
	}
	return ^uint32(0) << uint(32-bits)
}

func (s *Speaker) sendDBD(n *Neighbor, d *DatabaseDescription) {
	s.mu.RLock()
	c, ok := s.circuits[n.Interface]
	s.mu.RUnlock()
	if !ok {
		return
	}
	frame := d.Encode(s.header(c))
	if err := c.sock.SendUnicast(frame, n.Address); err != nil {
		s.log.Warn("dbd send failed", zap.String("interface", n.Interface), zap.Error(err))
		return
	}
	s.countSent(PacketDatabaseDescription)
}

func (s *Speaker) sendLSR(n *Neighbor, reqs []LSRequest) {
	s.mu.RLock()
	c, ok := s.circuits[n.Interface]
	s.mu.RUnlock()
	if !ok {
		return
	}
	frame := EncodeLSR(s.header(c), reqs)
	if err := c.sock.SendUnicast(frame, n.Address); err != nil {
		s.log.Warn("lsr send failed", zap.String("interface", n.Interface), zap.Error(err))
		return
	}
	s.countSent(PacketLSRequest)
}

func (s *Speaker) sendLSU(n *Neighbor, lsas []*LSA, unicast bool) {
	s.mu.RLock()
	c, ok := s.circuits[n.Interface]
	s.mu.RUnlock()
	if !ok {
		return
	}
	frame := (&LSUpdate{LSAs: lsas}).Encode(s.header(c))
	var err error
	if unicast {
		err = c.sock.SendUnicast(frame, n.Address)
	} else {
		err = c.sock.SendMulticast(frame)
	}
	if err != nil {
		s.log.Warn("lsu send failed", zap.String("interface", n.Interface), zap.Error(err))
		return
	}
	s.countSent(PacketLSUpdate)
}

func (s *Speaker) sendAck(n *Neighbor, headers []LSAHeader) {
	s.mu.RLock()
	c, ok := s.circuits[n.Interface]
	s.mu.RUnlock()
	if !ok {
		return
	}
	frame := EncodeLSAck(s.header(c), headers)
	if err := c.sock.SendUnicast(frame, n.Address); err != nil {
		s.log.Warn("lsack send failed", zap.String("interface", n.Interface), zap.Error(err))
		return
	}
	s.countSent(PacketLSAck)
}

// floodPending drains circuit c's per-interface flood flag set (spec
// §4.5's flooding step 6), sending every still-pending LSA as a
// multicast LS Update. Mirrors internal/isis's floodPending, but an
// OSPF LSA is only cleared from the flag set on an explicit LSAck
// (handlePDU's LSAck case) rather than immediately after send — OSPF
// flooding is always acknowledged, unlike IS-IS's DIS-driven CSNP
// reconciliation.
func (s *Speaker) floodPending(c *circuit) {
	a := s.areaFor(c.cfg.Area)
	lsas := a.LSDB.PendingRxmt(c.cfg.Name)
	if len(lsas) == 0 {
		return
	}
	frame := (&LSUpdate{LSAs: lsas}).Encode(s.header(c))
	if err := c.sock.SendMulticast(frame); err != nil {
		s.log.Warn("lsu flood failed", zap.String("interface", c.cfg.Name), zap.Error(err))
	}
}

// onNeighborStateChange records every neighbor FSM transition in the
// metrics registry, when one is set.
func (s *Speaker) onNeighborStateChange(n *Neighbor, from, to State) {
	if s.Metrics != nil {
		s.Metrics.SetNeighborState("ospf", n.Interface, n.RouterID.String(), to.String(), allStates)
	}
}

// onNeighborFullChange re-originates this router's Router-LSA and the
// circuit's Network-LSA and schedules SPF. The neighbor manager calls it
// when a neighbor enters Full and when a neighbor's inactivity timer
// expires; LSU receipt in Full does not call it. No count of Full
// neighbors is compared, so the expiry of a neighbor that never reached
// Full also re-originates.
func (s *Speaker) onNeighborFullChange(n *Neighbor, full bool) {
	s.log.Info("neighbor full state change", zap.Uint32("router_id", uint32(n.RouterID)),
		zap.String("interface", n.Interface), zap.Bool("full", full))
	s.mu.RLock()
	c, ok := s.circuits[n.Interface]
	s.mu.RUnlock()
	if !ok {
		return
	}
	a := s.areaFor(c.cfg.Area)
	s.originateRouterLSA(a)
	s.originateNetworkLSA(a, c)
	a.SPF.Schedule()
}

func (s *Speaker) onDRChange(ifaceName string, dr, bdr RouterID) {
	s.log.Info("dr elected", zap.String("interface", ifaceName), zap.Uint32("dr", uint32(dr)), zap.Uint32("bdr", uint32(bdr)))
	s.mu.RLock()
	c, ok := s.circuits[ifaceName]
	s.mu.RUnlock()
	if !ok {
		return
	}
	if dr == s.RouterID {
		if err := c.sock.JoinDR(); err != nil {
			s.log.Warn("join AllDRouters failed", zap.String("interface", ifaceName), zap.Error(err))
		}
	} else {
		_ = c.sock.LeaveDR()
	}
	a := s.areaFor(c.cfg.Area)
	s.originateRouterLSA(a)
	s.originateNetworkLSA(a, c)
}

// originateRouterLSA rebuilds and installs this router's Router-LSA for
// one area (RFC 2328 §12.4.1): a point-to-point link per Full neighbor on
// point-to-point circuits, and per attached network a transit link when
// the circuit is broadcast with a DR elected and a Full neighbor, else a
// stub link.
func (s *Speaker) originateRouterLSA(a *area) {
	s.mu.RLock()
	var links []RouterLink
	for _, c := range s.circuits {
		if c.cfg.Area != a.ID {
			continue
		}
		for _, n := range a.Neighbors.Neighbors() {
			if n.Interface == c.cfg.Name && n.IsFull() {
				if c.cfg.NetworkType == PointToPoint {
					links = append(links, RouterLink{ID: uint32(n.RouterID), Data: ipToUint32(c.iface.PrimaryIPv4), Type: 1, Metric: uint16(c.cfg.Metric)})
				}
			}
		}
		if c.cfg.Network.IsValid() {
			dr, _ := a.Neighbors.DR(c.cfg.Name)
			if c.cfg.NetworkType == Broadcast && dr != 0 && s.hasFullNeighbor(a, c.cfg.Name) {
				links = append(links, RouterLink{
					ID:     ipToUint32(drAddress(a, c, s.RouterID, dr)),
					Data:   ipToUint32(c.iface.PrimaryIPv4),
					Type:   2,
					Metric: uint16(c.cfg.Metric),
				})
			} else {
				links = append(links, RouterLink{
					ID:     ipToUint32(c.cfg.Network.Addr().AsSlice()),
					Data:   fullMask(c.cfg.Network.Bits()),
					Type:   3,
					Metric: uint16(c.cfg.Metric),
				})
			}
		}
	}
	s.mu.RUnlock()

	seq := s.nextSeq(a.ID)

	var bits byte
	if len(s.external) > 0 {
		bits |= 0x02 // E-bit: this router originates AS-External LSAs
	}

	lsa := &LSA{
		Header: LSAHeader{Type: LSARouter, LinkStateID: s.RouterID, AdvRouter: s.RouterID, SeqNumber: seq},
		Router: &RouterLSABody{Bits: bits, Links: links},
	}
	lsa.Encode()
	a.LSDB.Install(lsa, true, "")
}

func (s *Speaker) hasFullNeighbor(a *area, ifaceName string) bool {
	for _, n := range a.Neighbors.Neighbors() {
		if n.Interface == ifaceName && n.IsFull() {
			return true
		}
	}
	return false
}

// drAddress resolves the DR's interface address on c: the local
// interface address when we are the DR ourselves (no Neighbor entry
// exists for the local router), otherwise the source address recorded
// off that neighbor's hellos.
func drAddress(a *area, c *circuit, selfID, dr RouterID) net.IP {
	if dr == selfID {
		return c.iface.PrimaryIPv4
	}
	for _, n := range a.Neighbors.Neighbors() {
		if n.Interface == c.cfg.Name && n.RouterID == dr {
			return n.Address
		}
	}
	return nil
}

// originateNetworkLSA (re)builds the Network-LSA for a broadcast
// circuit this router is DR on, listing itself plus every Full
// neighbor on that network (RFC 2328 §12.4.2). Called on DR election
// and on Full-state changes on that circuit.
func (s *Speaker) originateNetworkLSA(a *area, c *circuit) {
	if c.cfg.NetworkType != Broadcast || !c.cfg.Network.IsValid() {
		return
	}
	dr, _ := a.Neighbors.DR(c.cfg.Name)
	if dr != s.RouterID {
		return
	}
	attached := []RouterID{s.RouterID}
	for _, n := range a.Neighbors.Neighbors() {
		if n.Interface == c.cfg.Name && n.IsFull() {
			attached = append(attached, n.RouterID)
		}
	}
	lsid := RouterID(ipToUint32(c.iface.PrimaryIPv4))
	seq := s.nextSeq(networkSeqKey(c.cfg.Name))

	lsa := &LSA{
		Header:  LSAHeader{Type: LSANetwork, LinkStateID: lsid, AdvRouter: s.RouterID, SeqNumber: seq},
		Network: &NetworkLSABody{NetworkMask: fullMask(c.cfg.Network.Bits()), AttachedRouters: attached},
	}
	lsa.Encode()
	a.LSDB.Install(lsa, true, "")
}

// networkSeqKey derives a pseudo area-id slot for a circuit's
// Network-LSA sequence counter so it doesn't collide with the area's
// own Router-LSA counter in s.seq (every real OSPF area-id is a
// configured 32-bit value; a circuit name hash is vanishingly unlikely
// to land on one, and a collision only costs an extra sequence bump).
func networkSeqKey(name string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(name); i++ {
		h ^= uint32(name[i])
		h *= 16777619
	}
	return h | 0x80000000
}

func ipToUint32(ip net.IP) uint32 {
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3])
}

// refreshSelfOriginated re-originates a locally-owned LSA once it
// crosses LSRefreshTime (spec §3). Currently only Router-LSAs are
// self-originated by this engine, so the refresh always rebuilds one.
func (s *Speaker) refreshSelfOriginated(a *area, key LSAKey) {
	if key.Type != LSARouter || key.AdvRouter != s.RouterID {
		return
	}
	s.originateRouterLSA(a)
}

// RedistributeRoute injects an externally learned route as an
// AS-External LSA (spec §4.10), re-originating the Router-LSA's E-bit
// alongside it.
func (s *Speaker) RedistributeRoute(prefix netip.Prefix, metric uint32, e2 bool) {
	s.mu.Lock()
	s.external[prefix] = externalRoute{metric: metric, e2: e2}
	s.mu.Unlock()

	lsa := &LSA{
		Header: LSAHeader{Type: LSAASExternal, LinkStateID: RouterID(ipToUint32(prefix.Addr().AsSlice())), AdvRouter: s.RouterID, SeqNumber: s.nextSeq(externalSeqKey)},
		ASExternal: &ASExternalLSABody{
			NetworkMask:   fullMask(prefix.Bits()),
			ExternalType2: e2,
			Metric:        metric,
		},
	}
	lsa.Encode()

	s.mu.RLock()
	areas := make([]*area, 0, len(s.areas))
	for _, a := range s.areas {
		areas = append(areas, a)
	}
	s.mu.RUnlock()
	for _, a := range areas {
		a.LSDB.Install(lsa, true, "")
		s.originateRouterLSA(a)
	}
}

// nextSeq hands out the next LS sequence number for one LSA identity,
// wrapping back to InitialSeq on overflow per RFC 2328 §12.1.6 rather
// than ever reissuing MaxSequenceNumber.
func (s *Speaker) nextSeq(key uint32) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.seq[key]
	var next int32
	switch {
	case !ok:
		next = InitialSeq
	case cur >= MaxSeq:
		next = InitialSeq
	default:
		next = cur + 1
	}
	s.seq[key] = next
	return next
}

const externalSeqKey = ^uint32(0) // reserved slot, never a real OSPF area-id

func (s *Speaker) WithdrawRedistributed(prefix netip.Prefix) {
	s.mu.Lock()
	delete(s.external, prefix)
	s.mu.Unlock()
	s.mu.RLock()
	areas := make([]*area, 0, len(s.areas))
	for _, a := range s.areas {
		areas = append(areas, a)
	}
	s.mu.RUnlock()
	key := LSAKey{Type: LSAASExternal, LinkStateID: RouterID(ipToUint32(prefix.Addr().AsSlice())), AdvRouter: s.RouterID}
	for _, a := range areas {
		a.LSDB.Remove(key)
		s.originateRouterLSA(a)
	}
}

func (s *Speaker) Routes() []*Route {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byPrefix := make(map[netip.Prefix]*Route)
	for _, a := range s.areas {
		for _, r := range a.SPF.Routes() {
			existing, ok := byPrefix[r.Prefix]
			if !ok || r.Metric < existing.Metric {
				byPrefix[r.Prefix] = r
			}
		}
	}
	out := make([]*Route, 0, len(byPrefix))
	for _, r := range byPrefix {
		out = append(out, r)
	}
	return out
}

// LSDBHeaders returns every LSA header currently installed, keyed by
// area, the OSPF side of spec §6's `ospf.lsdb()` observation call.
func (s *Speaker) LSDBHeaders() map[uint32][]LSAHeader {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uint32][]LSAHeader, len(s.areas))
	for id, a := range s.areas {
		lsas := a.LSDB.All()
		headers := make([]LSAHeader, len(lsas))
		for i, lsa := range lsas {
			headers[i] = lsa.Header
		}
		out[id] = headers
	}
	return out
}

// Neighbors returns every neighbor across every configured area, the
// OSPF side of spec §6's `ospf.neighbors()` observation call.
func (s *Speaker) Neighbors() []*Neighbor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Neighbor
	for _, a := range s.areas {
		out = append(out, a.Neighbors.Neighbors()...)
	}
	return out
}

// Statistics mirrors internal/isis's observation surface shape for
// spec §6's `ospf.neighbors()`/`ospf.lsdb()`.
type Statistics struct {
	RouterID string
	Areas    map[uint32]AreaStatistics
}

type AreaStatistics struct {
	LSDB      Stats
	Neighbors int
	FullCount int
}

func (s *Speaker) Statistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Statistics{RouterID: s.RouterID.String(), Areas: make(map[uint32]AreaStatistics, len(s.areas))}
	for id, a := range s.areas {
		full := 0
		neighbors := a.Neighbors.Neighbors()
		for _, n := range neighbors {
			if n.IsFull() {
				full++
			}
		}
		st.Areas[id] = AreaStatistics{LSDB: a.LSDB.Statistics(), Neighbors: len(neighbors), FullCount: full}
	}
	return st
}

func (s *Speaker) IsRunning() bool { return s.running.Load() }
