package bgp

import (
	"net/netip"
	"time"

	"go.uber.org/zap"
)

// Peer is a remote BGP speaker (spec §3, §4.8). Adapted from
// speaker/peer.go's Peer struct: asn/ip/enabled/policy fields kept, timers
// promoted from duration-only config into the live FSM driven by
// internal/timerwheel, and policy hooks generalized to route-map-style
// functions instead of a single Policer interface.
type Peer struct {
	Addr     netip.Addr
	RemoteAS ASN
	Passive  bool
	MD5Key   string

	// RouteReflectorClient marks this peer as an RR client (spec §4.8
	// "optional features"): routes reflected to it keep ORIGINATOR_ID /
	// CLUSTER_LIST intact, and it receives routes learned from other
	// iBGP peers (normally withheld by the iBGP split-horizon rule).
	RouteReflectorClient bool

	HoldTime        time.Duration
	ConnectRetry    time.Duration
	InitialIdleHold time.Duration

	In  PolicyFunc
	Out PolicyFunc

	fsm *FSM

	// Scratch fields set by FSM.recvLoop immediately before the
	// corresponding event is raised; read only by the handler for that
	// event, never concurrently (spec §5 per-session serialization).
	lastOpen         *OpenMessage
	lastUpdate       *UpdateMessage
	lastNotification *NotificationMessage
}

// PolicyFunc applies inbound or outbound policy to one route, mirroring
// speaker/peer.go's Policer interface as a function type. Returning false
// denies the route from the RIB/advertisement it's being applied to.
type PolicyFunc func(*Route) bool

// AcceptAll is the default policy (speaker/speaker.go's DefaultPolicy,
// inverted: a stub that always denies would make a new peer useless out
// of the box).
func AcceptAll(*Route) bool { return true }

func NewPeer(addr netip.Addr, remoteAS ASN) *Peer {
	return &Peer{
		Addr:            addr,
		RemoteAS:        remoteAS,
		HoldTime:        90 * time.Second,
		ConnectRetry:    30 * time.Second,
		InitialIdleHold: 1 * time.Second,
		In:              AcceptAll,
		Out:             AcceptAll,
	}
}

func (p *Peer) connectRetryTime() time.Duration {
	if p.ConnectRetry <= 0 {
		return 30 * time.Second
	}
	return p.ConnectRetry
}

// idleHoldTime implements the exponential backoff of a flapping peer
// (spec §4.8: repeated connection failures must back off, not hot-loop).
// Capped at 2 minutes; n is the ConnectRetryCounter at the time of the
// failure.
func (p *Peer) idleHoldTime(n int) time.Duration {
	base := p.InitialIdleHold
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 0; i < n && d < 2*time.Minute; i++ {
		d *= 2
	}
	if d > 2*time.Minute {
		d = 2 * time.Minute
	}
	return d
}

func (p *Peer) State() state {
	if p.fsm == nil {
		return Idle
	}
	return p.fsm.state
}

// newFSMLogger scopes a logger to this peer for fsm.go's log lines.
func (p *Peer) newFSMLogger(base *zap.Logger) *zap.Logger {
	return base.With(zap.String("peer", p.Addr.String()), zap.Uint32("remote_as", uint32(p.RemoteAS)))
}
