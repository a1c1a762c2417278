package bgp

import (
	"context"
	"encoding/binary"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/routed-project/routed/internal/errs"
	"github.com/routed-project/routed/internal/iface"
	"github.com/routed-project/routed/internal/timerwheel"
)

// BGP Finite State Machine (spec §4.8): Idle -> Connect -> Active ->
// OpenSent -> OpenConfirm -> Established. Adapted from fsm/fsm.go's
// RFC-4271-commented state machine, generalized from one demo peer to a
// configurable one covering passive mode, graceful restart, route
// reflection and flap damping (spec §4.8 "optional features").
type state int

const (
	Idle state = iota
	Connect
	Active
	OpenSent
	OpenConfirm
	Established
)

func (s state) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Connect:
		return "Connect"
	case Active:
		return "Active"
	case OpenSent:
		return "OpenSent"
	case OpenConfirm:
		return "OpenConfirm"
	case Established:
		return "Established"
	default:
		return "Unknown"
	}
}

type event int

const (
	evManualStart event = iota
	evManualStop
	evTCPConnectionConfirmed
	evTCPConnectionFails
	evConnectRetryTimerExpires
	evHoldTimerExpires
	evKeepaliveTimerExpires
	evOpenReceived
	evKeepaliveReceived
	evUpdateReceived
	evNotificationReceived
)

// FSM drives one peer session's state. Every method that touches fsm
// fields runs on the session's own goroutine (spec §5: "BGP per-session
// processing is serialized"); nothing here is called concurrently from
// two different events for the same peer.
type FSM struct {
	peer    *Peer
	speaker *Speaker
	log     *zap.Logger

	state state

	connectRetryCounter int
	wheel               *timerwheel.Wheel

	conn net.Conn

	negotiatedHoldTime time.Duration
	established        time.Time

	cancel context.CancelFunc
}

func newFSM(p *Peer, s *Speaker, log *zap.Logger) *FSM {
	return &FSM{
		peer:    p,
		speaker: s,
		log:     log,
		state:   Idle,
		wheel:   timerwheel.New(false),
	}
}

// Start issues ManualStart (spec §4.8): dial unless the peer is passive.
func (f *FSM) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	f.sendEvent(ctx, evManualStart)
}

// Stop tears the session down and cancels its tasks (spec §5 cancellation
// bound: every long-running task honours a cancel signal promptly).
func (f *FSM) Stop() {
	f.wheel.Close()
	if f.cancel != nil {
		f.cancel()
	}
	if f.conn != nil {
		f.conn.Close()
	}
}

func (f *FSM) sendEvent(ctx context.Context, e event) {
	f.log.Debug("fsm event", zap.String("state", f.state.String()), zap.Int("event", int(e)))
	switch f.state {
	case Idle:
		f.onIdle(ctx, e)
	case Connect:
		f.onConnect(ctx, e)
	case Active:
		f.onActive(ctx, e)
	case OpenSent:
		f.onOpenSent(ctx, e)
	case OpenConfirm:
		f.onOpenConfirm(ctx, e)
	case Established:
		f.onEstablished(ctx, e)
	}
}

func (f *FSM) transition(s state) {
	f.log.Info("state change", zap.String("from", f.state.String()), zap.String("to", s.String()))
	f.state = s
	if f.speaker != nil {
		f.speaker.onPeerStateChange(f.peer, s)
	}
}

func (f *FSM) onIdle(ctx context.Context, e event) {
	if e != evManualStart {
		return
	}
	f.connectRetryCounter = 0
	f.wheel.Schedule("connect-retry", f.peer.connectRetryTime(), false, func() {
		f.sendEvent(ctx, evConnectRetryTimerExpires)
	})
	if f.peer.Passive {
		f.transition(Active)
		return
	}
	f.transition(Connect)
	go f.dial(ctx)
}

func (f *FSM) dial(ctx context.Context) {
	conn, err := iface.DialBGP(ctx, net.JoinHostPort(f.peer.Addr.String(), "179"), f.peer.MD5Key, 30*time.Second)
	if err != nil {
		f.log.Debug("dial failed", zap.Error(err))
		f.sendEvent(ctx, evTCPConnectionFails)
		return
	}
	f.onConnectionEstablished(ctx, conn)
}

// onConnectionEstablished is called from either the dialer (active open)
// or the listener's accept loop (passive open, spec §4.8: passive peers
// skip the active dial and only accept).
func (f *FSM) onConnectionEstablished(ctx context.Context, conn net.Conn) {
	f.conn = conn
	f.sendEvent(ctx, evTCPConnectionConfirmed)
}

func (f *FSM) onConnect(ctx context.Context, e event) {
	switch e {
	case evTCPConnectionConfirmed:
		f.wheel.CancelName("connect-retry")
		f.sendOpen(ctx)
		f.transition(OpenSent)
		go f.recvLoop(ctx)
	case evConnectRetryTimerExpires:
		go f.dial(ctx)
	case evTCPConnectionFails:
		f.connectRetryCounter++
		f.transition(Active)
	case evManualStop:
		f.resetToIdle(ctx)
	}
}

func (f *FSM) onActive(ctx context.Context, e event) {
	switch e {
	case evTCPConnectionConfirmed:
		f.wheel.CancelName("connect-retry")
		f.sendOpen(ctx)
		f.transition(OpenSent)
		go f.recvLoop(ctx)
	case evConnectRetryTimerExpires:
		if !f.peer.Passive {
			f.transition(Connect)
			go f.dial(ctx)
		} else {
			f.wheel.Schedule("connect-retry", f.peer.connectRetryTime(), false, func() {
				f.sendEvent(ctx, evConnectRetryTimerExpires)
			})
		}
	case evManualStop:
		f.resetToIdle(ctx)
	}
}

func (f *FSM) sendOpen(ctx context.Context) {
	hold := f.peer.HoldTime
	open := &OpenMessage{
		Version:       CurrentVersion,
		MyAS:          f.speaker.LocalAS,
		HoldTime:      uint16(hold / time.Second),
		BGPIdentifier: f.speaker.RouterID,
		FourByteASN:   true,
		MPFamilies:    []AFISAFI{AFISAFIIPv4Unicast},
	}
	if f.conn != nil {
		f.conn.Write(open.Encode())
		f.countSent(msgOpen)
	}
	f.wheel.Schedule("hold", hold, false, func() { f.sendEvent(ctx, evHoldTimerExpires) })
}

// countSent tallies an outbound message the same way recvLoop tallies an
// inbound one, so spec §6's per-protocol message counters reflect both
// directions.
func (f *FSM) countSent(t msgType) {
	if f.speaker != nil && f.speaker.Metrics != nil {
		f.speaker.Metrics.MessageCounter("bgp", t.String()).Increment()
	}
}

func (f *FSM) countReceived(t msgType) {
	if f.speaker != nil && f.speaker.Metrics != nil {
		f.speaker.Metrics.MessageCounter("bgp", t.String()).Increment()
	}
}

func (f *FSM) onOpenSent(ctx context.Context, e event) {
	switch e {
	case evOpenReceived:
		// f.peer.lastOpen is stashed by recvLoop immediately before this
		// event is raised.
		notif := Validate(f.peer.lastOpen, f.peer.RemoteAS, f.speaker.RouterID, 3*time.Second)
		if notif != nil {
			f.sendNotificationAndReset(ctx, notif)
			return
		}
		hold := NegotiatedHoldTime(uint16(f.peer.HoldTime/time.Second), f.peer.lastOpen.HoldTime)
		f.negotiatedHoldTime = time.Duration(hold) * time.Second
		if f.conn != nil {
			f.conn.Write(EncodeKeepalive())
			f.countSent(msgKeepalive)
		}
		if f.negotiatedHoldTime > 0 {
			f.wheel.Schedule("hold", f.negotiatedHoldTime, false, func() { f.sendEvent(ctx, evHoldTimerExpires) })
			f.wheel.Schedule("keepalive", f.negotiatedHoldTime/3, true, func() {
				f.sendEvent(ctx, evKeepaliveTimerExpires)
			})
		} else {
			f.wheel.CancelName("hold")
		}
		f.transition(OpenConfirm)
	case evHoldTimerExpires:
		f.sendNotificationAndReset(ctx, NewNotification(HoldTimerExpired, 0, nil))
	case evTCPConnectionFails, evManualStop:
		f.resetToIdle(ctx)
	}
}

func (f *FSM) onOpenConfirm(ctx context.Context, e event) {
	switch e {
	case evKeepaliveReceived:
		f.wheel.Reset("hold")
		f.established = time.Now()
		f.transition(Established)
	case evKeepaliveTimerExpires:
		if f.conn != nil {
			f.conn.Write(EncodeKeepalive())
			f.countSent(msgKeepalive)
		}
	case evHoldTimerExpires:
		f.sendNotificationAndReset(ctx, NewNotification(HoldTimerExpired, 0, nil))
	case evNotificationReceived, evTCPConnectionFails, evManualStop:
		f.resetToIdle(ctx)
	}
}

func (f *FSM) onEstablished(ctx context.Context, e event) {
	switch e {
	case evKeepaliveReceived:
		f.wheel.Reset("hold")
	case evKeepaliveTimerExpires:
		if f.conn != nil {
			f.conn.Write(EncodeKeepalive())
			f.countSent(msgKeepalive)
		}
	case evUpdateReceived:
		f.wheel.Reset("hold")
		// f.peer.lastUpdate is populated by recvLoop before this fires.
		if notif, err := f.speaker.handleUpdate(f.peer, f.peer.lastUpdate); err != nil {
			f.log.Warn("update rejected", zap.Error(err))
			if notif != nil {
				f.sendNotificationAndReset(ctx, notif)
			}
		}
	case evHoldTimerExpires:
		f.sendNotificationAndReset(ctx, NewNotification(HoldTimerExpired, 0, nil))
	case evNotificationReceived, evTCPConnectionFails, evManualStop:
		f.speaker.onSessionDown(f.peer)
		f.resetToIdle(ctx)
	}
}

func (f *FSM) sendNotificationAndReset(ctx context.Context, n *NotificationMessage) {
	if f.conn != nil {
		f.conn.Write(n.Encode())
		f.countSent(msgNotification)
	}
	if f.state == Established {
		f.speaker.onSessionDown(f.peer)
	}
	f.resetToIdle(ctx)
}

func (f *FSM) resetToIdle(ctx context.Context) {
	f.wheel.CancelName("hold")
	f.wheel.CancelName("keepalive")
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	f.transition(Idle)
	ivl := f.peer.idleHoldTime(f.connectRetryCounter)
	f.wheel.Schedule("idle-hold", ivl, false, func() {
		f.sendEvent(ctx, evManualStart)
	})
}

// recvLoop is the per-session receive task of spec §5 ("packet processing
// is serialized in arrival order"): it reads whole messages off the TCP
// stream and feeds events to the FSM one at a time, never concurrently.
func (f *FSM) recvLoop(ctx context.Context) {
	var buf []byte
	tmp := make([]byte, 4096)
	for {
		n, err := f.conn.Read(tmp)
		if err != nil {
			f.sendEvent(ctx, evTCPConnectionFails)
			return
		}
		buf = append(buf, tmp[:n]...)

		for {
			if len(buf) < headerLength {
				break
			}
			length := binary.BigEndian.Uint16(buf[16:18])
			if int(length) < headerLength || int(length) > maxMessageLength {
				if f.speaker != nil && f.speaker.Metrics != nil {
					f.speaker.Metrics.ErrorCounter("bgp", errs.Malformed.String()).Increment()
				}
				f.sendNotificationAndReset(ctx, NewNotification(MessageHeaderError, BadMessageLength, nil))
				return
			}
			if len(buf) < int(length) {
				break // wait for the rest of this message
			}

			msg, rest, err := Decode(buf[:length])
			if err != nil {
				if f.speaker != nil && f.speaker.Metrics != nil {
					f.speaker.Metrics.ErrorCounter("bgp", errs.Malformed.String()).Increment()
				}
				f.sendNotificationAndReset(ctx, NewNotification(MessageHeaderError, BadMessageLength, nil))
				return
			}
			_ = rest
			buf = buf[length:]
			f.countReceived(msg.Type)

			switch msg.Type {
			case msgOpen:
				f.peer.lastOpen = msg.Open
				f.sendEvent(ctx, evOpenReceived)
			case msgKeepalive:
				f.sendEvent(ctx, evKeepaliveReceived)
			case msgUpdate:
				f.peer.lastUpdate = msg.Update
				f.sendEvent(ctx, evUpdateReceived)
			case msgNotification:
				f.peer.lastNotification = msg.Notification
				f.sendEvent(ctx, evNotificationReceived)
				return
			}
		}
	}
}
