package bgp

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSpeaker(t *testing.T) *Speaker {
	t.Helper()
	s, err := New(ASN(65000), Identifier(1), "", zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestNewFSMStartsIdle(t *testing.T) {
	s := newTestSpeaker(t)
	p := NewPeer(netip.MustParseAddr("10.0.0.2"), ASN(65001))
	f := newFSM(p, s, zap.NewNop())
	require.Equal(t, Idle, f.state)
}

func TestPassivePeerGoesIdleToActiveWithoutDialing(t *testing.T) {
	s := newTestSpeaker(t)
	p := NewPeer(netip.MustParseAddr("10.0.0.2"), ASN(65001))
	p.Passive = true
	f := newFSM(p, s, zap.NewNop())
	defer f.wheel.Close()

	f.onIdle(context.Background(), evManualStart)
	require.Equal(t, Active, f.state)
}

func TestOpenSentAcceptsValidOpenAndMovesToOpenConfirm(t *testing.T) {
	s := newTestSpeaker(t)
	p := NewPeer(netip.MustParseAddr("10.0.0.2"), ASN(65001))
	f := newFSM(p, s, zap.NewNop())
	defer f.wheel.Close()
	f.state = OpenSent
	p.lastOpen = &OpenMessage{
		Version:       CurrentVersion,
		MyAS:          ASN(65001),
		HoldTime:      90,
		BGPIdentifier: Identifier(2),
	}

	f.onOpenSent(context.Background(), evOpenReceived)
	require.Equal(t, OpenConfirm, f.state)
}

func TestOpenSentRejectsMismatchedASAndResetsToIdle(t *testing.T) {
	s := newTestSpeaker(t)
	p := NewPeer(netip.MustParseAddr("10.0.0.2"), ASN(65001))
	f := newFSM(p, s, zap.NewNop())
	defer f.wheel.Close()
	f.state = OpenSent
	p.lastOpen = &OpenMessage{
		Version:       CurrentVersion,
		MyAS:          ASN(99999), // doesn't match configured RemoteAS
		HoldTime:      90,
		BGPIdentifier: Identifier(2),
	}

	f.onOpenSent(context.Background(), evOpenReceived)
	require.Equal(t, Idle, f.state)
}

func TestOpenConfirmEstablishesOnKeepalive(t *testing.T) {
	s := newTestSpeaker(t)
	p := NewPeer(netip.MustParseAddr("10.0.0.2"), ASN(65001))
	f := newFSM(p, s, zap.NewNop())
	defer f.wheel.Close()
	f.state = OpenConfirm

	f.onOpenConfirm(context.Background(), evKeepaliveReceived)
	require.Equal(t, Established, f.state)
	require.False(t, f.established.IsZero())
}

func TestEstablishedSessionDropOnNotificationClearsRIBAndResetsIdle(t *testing.T) {
	s := newTestSpeaker(t)
	p := NewPeer(netip.MustParseAddr("10.0.0.2"), ASN(65001))
	f := newFSM(p, s, zap.NewNop())
	defer f.wheel.Close()
	f.state = Established
	p.fsm = f
	s.peers[p.Addr] = p

	pfx, err := ParsePrefix("10.1.0.0/24")
	require.NoError(t, err)
	r := &Route{Prefix: pfx, Attrs: &Attributes{}, Peer: p.Addr.String(), Source: SourceIBGP}
	s.AdjRIBIn.add(p.Addr.String(), r)

	f.onEstablished(context.Background(), evNotificationReceived)
	require.Equal(t, Idle, f.state)
	require.Empty(t, s.AdjRIBIn.prefixesForPeer(p.Addr.String()))
}

func TestEstablishedHoldTimerExpirySendsNotificationAndResets(t *testing.T) {
	s := newTestSpeaker(t)
	p := NewPeer(netip.MustParseAddr("10.0.0.2"), ASN(65001))
	f := newFSM(p, s, zap.NewNop())
	defer f.wheel.Close()
	f.state = Established
	f.conn = &fakeConn{}
	p.fsm = f
	s.peers[p.Addr] = p

	f.onEstablished(context.Background(), evHoldTimerExpires)
	require.Equal(t, Idle, f.state)
}

// fakeConn is a minimal net.Conn stub for FSM tests that only need to
// observe/accept writes, not actually transport bytes.
type fakeConn struct{ written [][]byte }

func (c *fakeConn) Read(b []byte) (int, error) { return 0, nil }
func (c *fakeConn) Write(b []byte) (int, error) {
	c.written = append(c.written, append([]byte(nil), b...))
	return len(b), nil
}
func (c *fakeConn) Close() error                       { return nil }
func (c *fakeConn) LocalAddr() net.Addr                { return nil }
func (c *fakeConn) RemoteAddr() net.Addr               { return nil }
func (c *fakeConn) SetDeadline(t time.Time) error      { return nil }
func (c *fakeConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }
