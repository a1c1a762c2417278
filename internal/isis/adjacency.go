package isis

import (
	"net"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/routed-project/routed/internal/timerwheel"
)

// AdjState is the 3-state adjacency model of spec §4.5 (RFC 1195): Down,
// Initializing, Up. Adapted from adjacency.py's AdjacencyState enum and
// ISISAdjacencyManager's process_hello state machine, generalized from a
// dict-of-dicts manager driven by a 1-second polling loop into a per-
// adjacency object with its own timerwheel-backed hold timer, matching
// the per-component-task model used by internal/ospf and internal/bgp.
type AdjState int

const (
	AdjDown AdjState = iota
	AdjInitializing
	AdjUp
)

func (s AdjState) String() string {
	switch s {
	case AdjDown:
		return "Down"
	case AdjInitializing:
		return "Initializing"
	default:
		return "Up"
	}
}

// Adjacency is one neighbor relationship on one circuit (spec §3,
// §4.5). System ID + interface + level is the adjacency's identity,
// matching adjacency.py's (interface, system_id) keying generalized to
// also distinguish L1 from L2 on an L1/L2 circuit (two independent
// adjacency objects share the same neighbor).
type Adjacency struct {
	mu sync.Mutex

	SystemID    SystemID
	Interface   string
	Level       Level
	CircuitType CircuitType
	state       AdjState

	Priority  byte
	LANID     LSPID
	AreaAddrs [][]byte
	HoldTime  time.Duration

	since time.Time

	wheel         *timerwheel.Wheel
	onExpire      func(*Adjacency)
	onStateChange func(a *Adjacency, from, to AdjState)
	log           *zap.Logger
}

func newAdjacency(sysID SystemID, iface string, level Level, ct CircuitType, log *zap.Logger, onExpire func(*Adjacency), onStateChange func(a *Adjacency, from, to AdjState)) *Adjacency {
	return &Adjacency{
		SystemID:      sysID,
		Interface:     iface,
		Level:         level,
		CircuitType:   ct,
		state:         AdjDown,
		wheel:         timerwheel.New(false),
		onExpire:      onExpire,
		onStateChange: onStateChange,
		log:           log,
	}
}

func (a *Adjacency) State() AdjState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Adjacency) IsUp() bool { return a.State() == AdjUp }

func (a *Adjacency) transition(s AdjState) {
	old := a.state
	a.state = s
	if s == AdjUp {
		a.since = time.Now()
	}
	a.log.Info("adjacency state change", zap.String("system_id", a.SystemID.String()),
		zap.String("interface", a.Interface), zap.String("level", a.Level.String()),
		zap.String("from", old.String()), zap.String("to", s.String()))
	if a.onStateChange != nil && old != s {
		a.onStateChange(a, old, s)
	}
}

func (a *Adjacency) restartHoldTimer() {
	hold := a.HoldTime
	if hold <= 0 {
		hold = DefaultHelloInterval * DefaultHelloMultiplier
	}
	a.wheel.Schedule("hold", hold, false, func() {
		a.mu.Lock()
		wasUp := a.state == AdjUp
		a.transition(AdjDown)
		a.mu.Unlock()
		if wasUp && a.onExpire != nil {
			a.onExpire(a)
		}
	})
}

func (a *Adjacency) stop() {
	a.wheel.Close()
}

// Manager owns every adjacency for one IS-IS instance and runs DIS
// election (spec §4.5: "DIS election, preemptable unlike OSPF DR").
// Adapted from ISISAdjacencyManager: the Python version polled hold
// timers once a second from a single task; this version gives each
// adjacency its own timerwheel entry (spec §5's "one task per
// neighbor/adjacency" rule; in practice these timers all share one
// process-wide runtime, the per-adjacency unit is logical, not an OS
// thread).
type Manager struct {
	SystemID  SystemID
	AreaAddrs [][]byte
	LevelMode Level // Level1, Level2, or 0 meaning both (L1/L2)

	// localMACs maps each interface to the MAC address hellos on that
	// interface are sent from, so the LAN 3-way handshake can recognize
	// ourselves in a neighbor's reported IS-Neighbors TLV. Guarded by mu
	// alongside byKey/dis since ProcessHello reads it from whatever
	// goroutine is servicing that circuit's receive loop.
	localMACs map[string]net.HardwareAddr

	log *zap.Logger

	mu    sync.RWMutex
	byKey map[adjKey]*Adjacency

	dis map[string]map[Level]SystemID

	OnAdjacencyUp   func(*Adjacency)
	OnAdjacencyDown func(*Adjacency)
	OnDISChange     func(iface string, level Level, dis SystemID)
	OnStateChange   func(a *Adjacency, from, to AdjState)
}

type adjKey struct {
	iface string
	sys   SystemID
	level Level
}

func NewManager(systemID SystemID, areas [][]byte, log *zap.Logger) *Manager {
	return &Manager{
		SystemID:  systemID,
		AreaAddrs: areas,
		localMACs: make(map[string]net.HardwareAddr),
		log:       log,
		byKey:     make(map[adjKey]*Adjacency),
		dis:       make(map[string]map[Level]SystemID),
	}
}

// SetLocalMAC records the MAC address this instance sends hellos from on
// iface, so ProcessHello can recognize it echoed back in a neighbor's
// IS-Neighbors TLV.
func (m *Manager) SetLocalMAC(iface string, mac net.HardwareAddr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.localMACs[iface] = mac
}

func (m *Manager) localMAC(iface string) (net.HardwareAddr, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.localMACs[iface]
	return v, ok
}

func (m *Manager) both() bool { return m.LevelMode != Level1 && m.LevelMode != Level2 }

func (m *Manager) levelCompatible(neighborLevel Level) bool {
	if m.both() {
		return true
	}
	return m.LevelMode == neighborLevel
}

func (m *Manager) areaCompatible(neighborAreas [][]byte) bool {
	for _, our := range m.AreaAddrs {
		for _, their := range neighborAreas {
			if byteSliceEqual(our, their) {
				return true
			}
		}
	}
	return false
}

func macEqual(a, b net.HardwareAddr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func byteSliceEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ProcessHello implements process_hello's state machine (spec §4.5's
// 3-way handshake): a Hello moves Down->Initializing unconditionally,
// and Initializing->Up once the neighbor's hello lists our own system ID
// (or, on point-to-point circuits that carry no neighbor list, once any
// valid hello is exchanged).
func (m *Manager) ProcessHello(iface string, h *Hello) *Adjacency {
	if !m.levelCompatible(h.Level) {
		m.log.Debug("level incompatible", zap.String("neighbor", h.SourceID.String()))
		return nil
	}
	if h.Level == Level1 && !m.areaCompatible(h.AreaAddrs) {
		m.log.Debug("area mismatch for L1 adjacency", zap.String("neighbor", h.SourceID.String()))
		return nil
	}

	key := adjKey{iface: iface, sys: h.SourceID, level: h.Level}
	m.mu.Lock()
	adj, ok := m.byKey[key]
	if !ok {
		adj = newAdjacency(h.SourceID, iface, h.Level, h.CircuitType, m.log, m.onAdjacencyExpire, func(a *Adjacency, from, to AdjState) {
			if m.OnStateChange != nil {
				m.OnStateChange(a, from, to)
			}
		})
		m.byKey[key] = adj
	}
	m.mu.Unlock()

	adj.mu.Lock()
	adj.AreaAddrs = h.AreaAddrs
	adj.HoldTime = time.Duration(h.HoldTime) * time.Second
	adj.Priority = h.Priority
	adj.LANID = h.LANID
	adj.restartHoldTimer()

	// P2P hellos carry no MAC neighbor list (IIH TLV 6 is a LAN-only
	// construct), so no echo is needed: the first valid hello moves the
	// adjacency out of Down and the second brings it Up, matching
	// adjacency.py's "neighbors_in_hello is None" branch. On a
	// LAN circuit, the handshake only completes once the neighbor's
	// IS-Neighbors TLV echoes our own MAC back to us.
	sawUs := h.CircuitType == CircuitP2P
	if !sawUs {
		if local, ok := m.localMAC(iface); ok {
			for _, mac := range h.Neighbors {
				if macEqual(mac, local) {
					sawUs = true
					break
				}
			}
		}
	}

	switch adj.state {
	case AdjDown:
		adj.transition(AdjInitializing)
	case AdjInitializing:
		if sawUs {
			adj.transition(AdjUp)
			adj.mu.Unlock()
			if m.OnAdjacencyUp != nil {
				m.OnAdjacencyUp(adj)
			}
			if h.CircuitType == CircuitBroadcast {
				m.runDISElection(iface, h.Level)
			}
			return adj
		}
	case AdjUp:
		// already up, hello just refreshed the hold timer above
	}
	adj.mu.Unlock()

	if h.CircuitType == CircuitBroadcast && adj.State() == AdjUp {
		m.runDISElection(iface, h.Level)
	}
	return adj
}

func (m *Manager) onAdjacencyExpire(adj *Adjacency) {
	m.log.Warn("hold timer expired", zap.String("neighbor", adj.SystemID.String()), zap.String("interface", adj.Interface))
	m.mu.Lock()
	delete(m.byKey, adjKey{iface: adj.Interface, sys: adj.SystemID, level: adj.Level})
	m.mu.Unlock()
	if m.OnAdjacencyDown != nil {
		m.OnAdjacencyDown(adj)
	}
	if adj.CircuitType == CircuitBroadcast {
		m.runDISElection(adj.Interface, adj.Level)
	}
}

type disCandidate struct {
	priority byte
	sysID    SystemID
}

// runDISElection implements adjacency.py's _run_dis_election: highest
// priority wins, ties broken by highest system ID, and — unlike OSPF's
// DR — a newly arriving higher-priority neighbor preempts the current
// DIS immediately (spec §4.5).
func (m *Manager) runDISElection(iface string, level Level) {
	candidates := []disCandidate{{priority: DefaultPriority, sysID: m.SystemID}}

	m.mu.RLock()
	for _, adj := range m.byKey {
		if adj.Interface != iface || adj.Level != level {
			continue
		}
		if adj.IsUp() {
			candidates = append(candidates, disCandidate{priority: adj.Priority, sysID: adj.SystemID})
		}
	}
	m.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority > candidates[j].priority
		}
		return bytesGreater(candidates[i].sysID[:], candidates[j].sysID[:])
	})

	newDIS := candidates[0].sysID

	m.mu.Lock()
	if m.dis[iface] == nil {
		m.dis[iface] = make(map[Level]SystemID)
	}
	current, had := m.dis[iface][level]
	changed := !had || current != newDIS
	if changed {
		m.dis[iface][level] = newDIS
	}
	m.mu.Unlock()

	if changed {
		m.log.Info("DIS elected", zap.String("interface", iface), zap.String("level", level.String()), zap.String("dis", newDIS.String()))
		if m.OnDISChange != nil {
			m.OnDISChange(iface, level, newDIS)
		}
	}
}

func bytesGreater(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}

func (m *Manager) DIS(iface string, level Level) (SystemID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.dis[iface][level]
	return v, ok
}

func (m *Manager) IsDIS(iface string, level Level) bool {
	dis, ok := m.DIS(iface, level)
	return ok && dis == m.SystemID
}

// Adjacencies returns every adjacency on every interface, unfiltered
// (spec §6 observation surface: "isis.* adjacencies").
func (m *Manager) Adjacencies() []*Adjacency {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Adjacency, 0, len(m.byKey))
	for _, a := range m.byKey {
		out = append(out, a)
	}
	return out
}

// Close stops every adjacency's hold timer (spec §5 cancellation bound).
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byKey {
		a.stop()
	}
}
