package isis

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

// allAdjStates lists every adjacency state name for
// metrics.Registry.SetNeighborState's "clear every other state's gauge
// series" pass.
var allAdjStates = []string{AdjDown.String(), AdjInitializing.String(), AdjUp.String()}

// CircuitConfig is the per-interface configuration IS-IS runs with
// (spec §4.5, §6). Adapted from speaker.py's ISISInterface dataclass;
// HoldTime is derived rather than stored, same as the Python property.
type CircuitConfig struct {
	Name        string
	Network     netip.Prefix
	Metric      uint32
	Level       Level // Level1, Level2, or 0 for L1/L2
	CircuitType CircuitType
	Priority    byte
	Passive     bool
}

func (c *CircuitConfig) holdTime() uint16 {
	return uint16(DefaultHelloMultiplier) * uint16(DefaultHelloInterval/1_000_000_000)
}

type circuit struct {
	cfg    CircuitConfig
	iface  *iface.Interface
	sock   *iface.ISISSocket
	mac    net.HardwareAddr
}

// Speaker is a router that speaks IS-IS (spec §4.5, module C8),
// coordinating adjacency formation, the dual-level LSDB, flooding, and
// SPF the way speaker.py's ISISSpeaker does — generalized from its
// asyncio task-per-loop model onto this codebase's timerwheel, and with
// actual wire I/O (speaker.py's _send_hello is a log line; this one
// encodes a real IIH and writes it to an ISISSocket).
type Speaker struct {
	SystemID  SystemID
	AreaAddrs [][]byte
	Hostname  string
	LevelMode Level

	log *zap.Logger

	mu         sync.RWMutex
	circuits   map[string]*circuit
	l1Seq      uint32
	l2Seq      uint32
	external   map[netip.Prefix]externalRoute

	Adjacencies *Manager
	LSDB        *DualLSDB
	SPF         *DualCalculator

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
	metric   uint32
	external bool
}

func New(systemID SystemID, areas [][]byte, hostname string, levelMode Level, log *zap.Logger) *Speaker {
	s := &Speaker{
		SystemID:  systemID,
		AreaAddrs: areas,
		Hostname:  hostname,
		LevelMode: levelMode,
		log:       log,
		circuits:  make(map[string]*circuit),
		external:  make(map[netip.Prefix]externalRoute),
		wheel:     timerwheel.New(false),
		ctx:       context.Background(),
	}
	s.Adjacencies = NewManager(systemID, areas, log.Named("adjacency"))
	s.Adjacencies.LevelMode = levelMode
	s.LSDB = NewDualLSDB(levelMode, log.Named("lsdb"))
	s.SPF = NewDualCalculator(systemID, s.LSDB, log.Named("spf"))
	s.SPF.L1 = withNextHop(s.SPF.L1, s)
	s.SPF.L2 = withNextHop(s.SPF.L2, s)

	s.Adjacencies.OnAdjacencyUp = s.onAdjacencyUp
	s.Adjacencies.OnAdjacencyDown = s.onAdjacencyDown
	s.Adjacencies.OnDISChange = s.onDISChange
	s.Adjacencies.OnStateChange = s.onAdjacencyStateChange
	if s.LSDB.L1 != nil {
		s.LSDB.L1.OnLSPChange = func(*LSP) { s.SPF.Schedule(Level1) }
	}
	if s.LSDB.L2 != nil {
		s.LSDB.L2.OnLSPChange = func(*LSP) { s.SPF.Schedule(Level2) }
	}
	return s
}

func withNextHop(c *Calculator, s *Speaker) *Calculator {
	if c == nil {
		return nil
	}
	c.NextHopIP = s.nextHopFor
	return c
}

// nextHopFor resolves a neighboring system's reachable address from its
// own LSP's IP Interface Address TLV equivalent — this build stores
// that as the first IPReach entry's address rather than a dedicated
// TLV 132 field, since SPF only needs a next hop, not a full interface
// list.
func (s *Speaker) nextHopFor(sysID SystemID) (netip.Addr, bool) {
	for _, lsdb := range []*LSDB{s.LSDB.L1, s.LSDB.L2} {
		if lsdb == nil {
			continue
		}
		lsp, ok := lsdb.Get(LSPID{System: sysID})
		if !ok || len(lsp.IPReach) == 0 {
			continue
		}
		return netip.AddrFrom4(lsp.IPReach[0].Prefix), true
	}
	return netip.Addr{}, false
}

// AddCircuit enables IS-IS on a physical interface (spec §6: "add/remove
// interface"), opening a raw socket and, unless Passive, starting its
// hello loop. Safe to call before or after Start; the receive loop uses
// whatever context is current at call time, matching how BGP's AddPeer
// only starts the peer's FSM once the speaker itself is running.
func (s *Speaker) AddCircuit(cfg CircuitConfig, ifc *iface.Interface) error {
	sock, err := iface.NewISISSocket(ifc)
	if err != nil {
		return errs.Wrap(errs.Fatal, "isis", "open circuit socket", err)
	}
	netIfc, err := net.InterfaceByIndex(ifc.Index)
	mac := net.HardwareAddr{}
	if err == nil {
		mac = netIfc.HardwareAddr
	}
	c := &circuit{cfg: cfg, iface: ifc, sock: sock, mac: mac}

	s.mu.Lock()
	s.circuits[cfg.Name] = c
	s.mu.Unlock()

	s.Adjacencies.SetLocalMAC(cfg.Name, mac)

	if circuitAppliesToLevel(cfg.Level, Level1) && s.LSDB.L1 != nil {
		s.LSDB.L1.RegisterNeighbor(cfg.Name)
	}
	if circuitAppliesToLevel(cfg.Level, Level2) && s.LSDB.L2 != nil {
		s.LSDB.L2.RegisterNeighbor(cfg.Name)
	}

	go s.recvLoop(s.ctx, c)
	if !cfg.Passive {
		interval := DefaultHelloInterval
		s.wheel.Schedule("hello-"+cfg.Name, interval, true, func() { s.sendHello(c) })
		s.wheel.Schedule("flood-"+cfg.Name, DefaultPSNPInterval, true, func() { s.floodPending(c) })
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
	s.wheel.CancelName("flood-" + name)
	s.wheel.CancelName("csnp-" + name + "-" + Level1.String())
	s.wheel.CancelName("csnp-" + name + "-" + Level2.String())
	c.sock.Close()
}

// Start begins periodic hello/LSP-refresh activity and originates this
// router's own LSPs (spec §5: lifecycle start).
func (s *Speaker) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running.Store(true)
	s.originateLocalLSPs()
	s.wheel.Schedule("lsp-refresh", DefaultLSPRefresh, true, s.originateLocalLSPs)
}

func (s *Speaker) Stop() {
	s.running.Store(false)
	if s.cancel != nil {
		s.cancel()
	}
	s.wheel.Close()
	s.Adjacencies.Close()
	s.LSDB.Close()
	s.SPF.Close()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.circuits {
		c.sock.Close()
	}
}

// recvLoop reads frames off one circuit's raw socket until it errors —
// unlike a TCP session, a closed AF_PACKET socket has no reconnect path
// of its own, so any read error here is terminal for this circuit (the
// caller re-adds it via AddCircuit if the interface comes back).
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
				s.Metrics.ErrorCounter("isis", errs.Malformed.String()).Increment()
			}
			continue
		}
		if s.Metrics != nil {
			s.Metrics.MessageCounter("isis", pdu.Header.PDUType.String()).Increment()
		}
		s.handlePDU(c, pdu, pkt.Data)
	}
}

func (s *Speaker) handlePDU(c *circuit, pdu *PDU, raw []byte) {
	switch {
	case pdu.Hello != nil:
		s.Adjacencies.ProcessHello(c.cfg.Name, pdu.Hello)
	case pdu.LSP != nil:
		if !VerifyChecksum(raw) {
			s.log.Warn("lsp checksum mismatch", zap.String("lsp_id", pdu.LSP.ID.String()))
			return
		}
		level := pdu.Header.PDUType.Level()
		lsdb := s.LSDB.For(level)
		if lsdb == nil {
			return
		}
		if lsdb.Install(pdu.LSP, SystemID{}, false) && c.cfg.CircuitType == CircuitP2P {
			s.sendPSNPAck(c, level, pdu.LSP)
		}
	case pdu.CSNP != nil:
		level := pdu.Header.PDUType.Level()
		lsdb := s.LSDB.For(level)
		if lsdb == nil {
			return
		}
		// Entries the sender lists but we lack or hold an older copy of are
		// requested via PSNP (SSN); entries we hold that are newer or that
		// the sender's CSNP omits entirely are reflooded to it (SRM) (spec
		// §4.7's CSNP comparison rules).
		missingLocally, missingRemotely, newer := lsdb.CompareCSNP(pdu.CSNP.Entries)
		for _, id := range missingLocally {
			lsdb.SetSSN(c.cfg.Name, id)
		}
		for _, e := range pdu.CSNP.Entries {
			if lsp, ok := lsdb.Get(e.ID); ok && e.SeqNumber > lsp.SeqNumber {
				lsdb.SetSSN(c.cfg.Name, e.ID)
			}
		}
		for _, id := range append(missingRemotely, newer...) {
			lsdb.SetSRM(c.cfg.Name, id)
		}
	case pdu.PSNP != nil:
		level := pdu.Header.PDUType.Level()
		lsdb := s.LSDB.For(level)
		if lsdb == nil {
			return
		}
		for _, entry := range pdu.PSNP.Entries {
			if lsp, ok := lsdb.Get(entry.ID); ok && entry.SeqNumber >= lsp.SeqNumber {
				// The neighbor already has this (or newer); treat as ack.
				lsdb.ClearSRM(c.cfg.Name, entry.ID)
			} else {
				// The neighbor is explicitly requesting it.
				lsdb.SetSRM(c.cfg.Name, entry.ID)
			}
		}
	}
}

func (s *Speaker) sendHello(c *circuit) {
	level := c.cfg.Level
	if level == 0 {
		level = Level1
	}
	pduType := PDUL1LANIIH
	if c.cfg.CircuitType == CircuitP2P {
		pduType = PDUP2PIIH
	} else if level == Level2 {
		pduType = PDUL2LANIIH
	}
	h := &Hello{
		CircuitType: c.cfg.CircuitType,
		Level:       level,
		SourceID:    s.SystemID,
		HoldTime:    c.cfg.holdTime(),
		Priority:    c.cfg.Priority,
		AreaAddrs:   s.AreaAddrs,
		Hostname:    s.Hostname,
	}
	for _, adj := range s.Adjacencies.Adjacencies() {
		if adj.Interface == c.cfg.Name && adj.IsUp() {
			h.Neighbors = append(h.Neighbors, c.mac)
		}
	}
	frame := h.Encode(pduType, c.mac)
	if err := c.sock.Send(frame, nil); err != nil {
		s.log.Warn("hello send failed", zap.String("interface", c.cfg.Name), zap.Error(err))
		return
	}
	s.countSent(pduType)
}

// countSent tallies an outbound PDU the same way recvLoop tallies an
// inbound one, so spec §6's per-protocol message counters reflect both
// directions.
func (s *Speaker) countSent(t PDUType) {
	if s.Metrics != nil {
		s.Metrics.MessageCounter("isis", t.String()).Increment()
	}
}

// floodPending drains each applicable level's SRM/SSN flags for circuit c
// (spec §4.7's flooding engine): SRM-flagged LSPs are sent as LSP PDUs,
// SSN-flagged IDs are requested via a PSNP. On a broadcast circuit SRM is
// cleared immediately after send since the DIS's periodic CSNP is what
// actually reconciles any loss; on point-to-point SRM stays set until the
// neighbor's PSNP explicitly acks it (handlePDU's PSNP case).
func (s *Speaker) floodPending(c *circuit) {
	for _, level := range []Level{Level1, Level2} {
		if !circuitAppliesToLevel(c.cfg.Level, level) {
			continue
		}
		lsdb := s.LSDB.For(level)
		if lsdb == nil {
			continue
		}
		for _, lsp := range lsdb.PendingFlood(c.cfg.Name) {
			if err := c.sock.Send(lsp.Encode(level), nil); err != nil {
				s.log.Warn("lsp flood failed", zap.String("interface", c.cfg.Name), zap.Error(err))
				continue
			}
			if level == Level1 {
				s.countSent(PDUL1LSP)
			} else {
				s.countSent(PDUL2LSP)
			}
			if c.cfg.CircuitType == CircuitBroadcast {
				lsdb.ClearSRM(c.cfg.Name, lsp.ID)
			}
		}
		if ids := lsdb.PendingAck(c.cfg.Name); len(ids) > 0 {
			s.sendPSNPRequest(c, level, ids)
		}
	}
}

func (s *Speaker) sendPSNPRequest(c *circuit, level Level, ids []LSPID) {
	entries := make([]LSPEntry, len(ids))
	for i, id := range ids {
		entries[i] = LSPEntry{ID: id}
	}
	psnp := &PSNP{Level: level, SrcID: s.SystemID, Entries: entries}
	if err := c.sock.Send(psnp.Encode(), nil); err != nil {
		s.log.Warn("psnp request failed", zap.String("interface", c.cfg.Name), zap.Error(err))
		return
	}
	if level == Level1 {
		s.countSent(PDUL1PSNP)
	} else {
		s.countSent(PDUL2PSNP)
	}
	if lsdb := s.LSDB.For(level); lsdb != nil {
		for _, id := range ids {
			lsdb.ClearSSN(c.cfg.Name, id)
		}
	}
}

// sendPSNPAck acknowledges one freshly installed point-to-point LSP (spec
// §4.7: "PSNP is used both to request... and to ack after flooding").
func (s *Speaker) sendPSNPAck(c *circuit, level Level, lsp *LSP) {
	psnp := &PSNP{Level: level, SrcID: s.SystemID, Entries: []LSPEntry{{
		RemainingLifetime: lsp.RemainingLifetime,
		ID:                lsp.ID,
		SeqNumber:         lsp.SeqNumber,
		Checksum:          lsp.Checksum,
	}}}
	if err := c.sock.Send(psnp.Encode(), nil); err != nil {
		s.log.Warn("psnp ack failed", zap.String("interface", c.cfg.Name), zap.Error(err))
		return
	}
	if level == Level1 {
		s.countSent(PDUL1PSNP)
	} else {
		s.countSent(PDUL2PSNP)
	}
}

// sendCSNP transmits a full LSDB snapshot for level on c, the DIS's
// periodic re-synchronization broadcast (spec §4.7: "the new DIS starts
// CSNP transmission at csnp-interval, the old one stops").
func (s *Speaker) sendCSNP(c *circuit, level Level) {
	lsdb := s.LSDB.For(level)
	if lsdb == nil {
		return
	}
	csnp := &CSNP{Level: level, SrcID: s.SystemID, Entries: lsdb.CSNPEntries()}
	if err := c.sock.Send(csnp.Encode(), nil); err != nil {
		s.log.Warn("csnp send failed", zap.String("interface", c.cfg.Name), zap.Error(err))
		return
	}
	if level == Level1 {
		s.countSent(PDUL1CSNP)
	} else {
		s.countSent(PDUL2CSNP)
	}
}

// originateLocalLSPs rebuilds and installs this router's own LSP for
// every active level, matching speaker.py's _originate_local_lsp — the
// rebuild is unconditional on refresh and on every topology-affecting
// adjacency change, same cadence the Python version uses.
func (s *Speaker) originateLocalLSPs() {
	if s.LSDB.L1 != nil {
		lsp := s.buildLocalLSP(Level1)
		s.LSDB.L1.Install(lsp, SystemID{}, true)
	}
	if s.LSDB.L2 != nil {
		lsp := s.buildLocalLSP(Level2)
		s.LSDB.L2.Install(lsp, SystemID{}, true)
	}
}

func (s *Speaker) buildLocalLSP(level Level) *LSP {
	var seq uint32
	if level == Level1 {
		seq = atomic.AddUint32(&s.l1Seq, 1)
	} else {
		seq = atomic.AddUint32(&s.l2Seq, 1)
	}

	lsp := &LSP{
		ID:                LSPID{System: s.SystemID},
		SeqNumber:         seq,
		RemainingLifetime: uint16(DefaultLSPLifetime / 1_000_000_000),
		AreaAddrs:         s.AreaAddrs,
		Hostname:          s.Hostname,
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.circuits {
		if !circuitAppliesToLevel(c.cfg.Level, level) {
			continue
		}
		prefix := c.cfg.Network
		lsp.IPReach = append(lsp.IPReach, IPReachability{
			Prefix:    prefix.Addr().As4(),
			PrefixLen: byte(prefix.Bits()),
			Metric:    c.cfg.Metric,
			Up:        true,
		})
	}

	for _, adj := range s.Adjacencies.Adjacencies() {
		if adj.Level != level || !adj.IsUp() {
			continue
		}
		metric := uint32(DefaultMetric)
		if c, ok := s.circuits[adj.Interface]; ok {
			metric = c.cfg.Metric
		}
		lsp.ISReach = append(lsp.ISReach, ISReachability{
			NeighborID: LSPID{System: adj.SystemID},
			Metric:     metric,
		})
	}

	for prefix, ext := range s.external {
		lsp.IPReach = append(lsp.IPReach, IPReachability{
			Prefix:    prefix.Addr().As4(),
			PrefixLen: byte(prefix.Bits()),
			Metric:    ext.metric,
			Up:        !ext.external,
		})
	}

	return lsp
}

func circuitAppliesToLevel(circuitLevel, level Level) bool {
	return circuitLevel == 0 || circuitLevel == level
}

func (s *Speaker) onAdjacencyUp(adj *Adjacency) {
	s.log.Info("adjacency up", zap.String("system_id", adj.SystemID.String()), zap.String("interface", adj.Interface))
	if lsdb := s.LSDB.For(adj.Level); lsdb != nil {
		lsdb.RegisterNeighbor(adj.Interface)
	}
	s.originateLocalLSPs()
}

func (s *Speaker) onAdjacencyDown(adj *Adjacency) {
	s.log.Info("adjacency down", zap.String("system_id", adj.SystemID.String()), zap.String("interface", adj.Interface))
	if lsdb := s.LSDB.For(adj.Level); lsdb != nil {
		lsdb.UnregisterNeighbor(adj.Interface)
	}
	s.originateLocalLSPs()
	s.SPF.Schedule(adj.Level)
}

func (s *Speaker) onAdjacencyStateChange(a *Adjacency, from, to AdjState) {
	if s.Metrics != nil {
		s.Metrics.SetNeighborState("isis", a.Interface, a.SystemID.String(), to.String(), allAdjStates)
	}
}

func (s *Speaker) onDISChange(ifaceName string, level Level, dis SystemID) {
	amDIS := dis == s.SystemID
	s.log.Info("dis elected", zap.String("interface", ifaceName), zap.String("level", level.String()), zap.Bool("am_dis", amDIS))

	timerName := "csnp-" + ifaceName + "-" + level.String()
	s.wheel.CancelName(timerName)
	if !amDIS {
		return
	}
	s.mu.RLock()
	c, ok := s.circuits[ifaceName]
	s.mu.RUnlock()
	if !ok {
		return
	}
	s.wheel.Schedule(timerName, DefaultCSNPInterval, true, func() { s.sendCSNP(c, level) })
}

// RedistributeRoute injects an externally learned route into IS-IS's
// own LSP as an IP Reachability entry, marked down/external when external
// is true (spec §4.10;
// adapted from speaker.py's redistribute_route, which stashes the route
// in a dict for inclusion in the next LSP origination — here the
// re-origination runs synchronously since it's cheap bookkeeping, not a
// network operation).
func (s *Speaker) RedistributeRoute(prefix netip.Prefix, metric uint32, external bool) {
	s.mu.Lock()
	s.external[prefix] = externalRoute{metric: metric, external: external}
	s.mu.Unlock()
	s.originateLocalLSPs()
}

func (s *Speaker) WithdrawRedistributed(prefix netip.Prefix) {
	s.mu.Lock()
	delete(s.external, prefix)
	s.mu.Unlock()
	s.originateLocalLSPs()
}

func (s *Speaker) Routes() []*Route {
	return s.SPF.CombinedRoutes()
}

// LSDBEntries returns every installed LSP per level, the IS-IS side of
// spec §6's `isis.lsdb()` observation call.
func (s *Speaker) LSDBEntries() (l1, l2 []*LSP) {
	if s.LSDB.L1 != nil {
		l1 = s.LSDB.L1.All()
	}
	if s.LSDB.L2 != nil {
		l2 = s.LSDB.L2.All()
	}
	return l1, l2
}

// Statistics mirrors speaker.py's get_statistics for the observation
// surface (spec §6).
type Statistics struct {
	SystemID    string
	Hostname    string
	Adjacencies int
	L1          *Stats
	L2          *Stats
}

func (s *Speaker) Statistics() Statistics {
	st := Statistics{
		SystemID:    s.SystemID.String(),
		Hostname:    s.Hostname,
		Adjacencies: len(s.Adjacencies.Adjacencies()),
	}
	if s.LSDB.L1 != nil {
		stats := s.LSDB.L1.Statistics()
		st.L1 = &stats
	}
	if s.LSDB.L2 != nil {
		stats := s.LSDB.L2.Statistics()
		st.L2 = &stats
	}
	return st
}

func (s *Speaker) IsRunning() bool { return s.running.Load() }
