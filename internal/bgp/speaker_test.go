package bgp

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func addPeer(s *Speaker, addr string, remoteAS ASN, rrClient bool) *Peer {
	p := NewPeer(netip.MustParseAddr(addr), remoteAS)
	p.RouteReflectorClient = rrClient
	p.lastOpen = &OpenMessage{Version: CurrentVersion, MyAS: remoteAS, BGPIdentifier: Identifier(1)}
	s.peers[p.Addr] = p
	return p
}

func iBGPRoute(peerAddr string) *Route {
	return &Route{
		Prefix: mustParsePrefix("10.1.0.0/24"),
		Attrs:  &Attributes{},
		Peer:   peerAddr,
		Source: SourceIBGP,
	}
}

func mustParsePrefix(cidr string) Prefix {
	p, err := ParsePrefix(cidr)
	if err != nil {
		panic(err)
	}
	return p
}

// TestEligibleForAdvertisesPlainIBGPRouteToEBGPPeer is a regression test
// for split-horizon: a route learned from a plain (non-reflector-client)
// iBGP peer must still reach genuine eBGP peers. Before the fix,
// eligibleFor never checked RemoteAS and fell through to
// RouteReflectorClient, which is false for a plain eBGP peer too.
func TestEligibleForAdvertisesPlainIBGPRouteToEBGPPeer(t *testing.T) {
	s, err := New(ASN(65000), Identifier(1), "", zap.NewNop())
	require.NoError(t, err)
	origin := addPeer(s, "10.0.0.2", ASN(65000), false) // plain iBGP, not RR client
	ebgpPeer := addPeer(s, "10.0.0.3", ASN(65001), false)

	r := iBGPRoute(origin.Addr.String())
	require.True(t, s.eligibleFor(ebgpPeer, r))
}

func TestEligibleForWithholdsPlainIBGPRouteFromOtherPlainIBGPPeer(t *testing.T) {
	s, err := New(ASN(65000), Identifier(1), "", zap.NewNop())
	require.NoError(t, err)
	origin := addPeer(s, "10.0.0.2", ASN(65000), false)
	otherIBGP := addPeer(s, "10.0.0.4", ASN(65000), false)

	r := iBGPRoute(origin.Addr.String())
	require.False(t, s.eligibleFor(otherIBGP, r))
}

func TestEligibleForReflectsClientRouteToEveryPeer(t *testing.T) {
	s, err := New(ASN(65000), Identifier(1), "", zap.NewNop())
	require.NoError(t, err)
	client := addPeer(s, "10.0.0.2", ASN(65000), true) // RR client
	otherIBGP := addPeer(s, "10.0.0.4", ASN(65000), false)

	r := iBGPRoute(client.Addr.String())
	require.True(t, s.eligibleFor(otherIBGP, r))
}

func TestEligibleForAdvertisesToRouteReflectorClientRegardless(t *testing.T) {
	s, err := New(ASN(65000), Identifier(1), "", zap.NewNop())
	require.NoError(t, err)
	origin := addPeer(s, "10.0.0.2", ASN(65000), false)
	rrClient := addPeer(s, "10.0.0.5", ASN(65000), true)

	r := iBGPRoute(origin.Addr.String())
	require.True(t, s.eligibleFor(rrClient, r))
}

func TestEligibleForNeverReflectsBackToOriginPeer(t *testing.T) {
	s, err := New(ASN(65000), Identifier(1), "", zap.NewNop())
	require.NoError(t, err)
	origin := addPeer(s, "10.0.0.2", ASN(65000), false)

	r := iBGPRoute(origin.Addr.String())
	require.False(t, s.eligibleFor(origin, r))
}

func TestEligibleForAlwaysAdvertisesEBGPLearnedRoutes(t *testing.T) {
	s, err := New(ASN(65000), Identifier(1), "", zap.NewNop())
	require.NoError(t, err)
	anyPeer := addPeer(s, "10.0.0.2", ASN(65000), false)

	r := &Route{Prefix: mustParsePrefix("10.1.0.0/24"), Attrs: &Attributes{}, Peer: "10.0.0.9", Source: SourceEBGP}
	require.True(t, s.eligibleFor(anyPeer, r))
}

func TestHandleUpdateInstallsRouteAndRunsDecision(t *testing.T) {
	s, err := New(ASN(65000), Identifier(1), "", zap.NewNop())
	require.NoError(t, err)
	p := addPeer(s, "10.0.0.2", ASN(65001), false)

	u := &UpdateMessage{
		NLRI: []Prefix{mustParsePrefix("192.168.1.0/24")},
		Attributes: &Attributes{
			HasOrigin: true,
			Origin:    OriginIGP,
			NextHop:   []byte{10, 0, 0, 2},
		},
	}
	notif, err := s.handleUpdate(p, u)
	require.Nil(t, notif)
	require.NoError(t, err)

	best, ok := s.LocRIB.Get(mustParsePrefix("192.168.1.0/24"))
	require.True(t, ok)
	require.Equal(t, p.Addr.String(), best.Peer)
}

func TestHandleUpdateDropsEBGPLoop(t *testing.T) {
	s, err := New(ASN(65000), Identifier(1), "", zap.NewNop())
	require.NoError(t, err)
	p := addPeer(s, "10.0.0.2", ASN(65001), false)

	u := &UpdateMessage{
		NLRI: []Prefix{mustParsePrefix("172.16.0.0/24")},
		Attributes: &Attributes{
			HasOrigin: true,
			Origin:    OriginIGP,
			ASPath:    []ASPathSegment{{ASNs: []ASN{65001, 65000}}}, // our own AS (65000) already present
		},
	}
	_, err = s.handleUpdate(p, u)
	require.NoError(t, err)

	_, ok := s.LocRIB.Get(mustParsePrefix("172.16.0.0/24"))
	require.False(t, ok, "route whose AS_PATH already contains our own AS must not be installed")
}

func TestHandleUpdateWithdrawRemovesFromLocRIB(t *testing.T) {
	s, err := New(ASN(65000), Identifier(1), "", zap.NewNop())
	require.NoError(t, err)
	p := addPeer(s, "10.0.0.2", ASN(65001), false)
	pfx := mustParsePrefix("192.168.2.0/24")

	_, err = s.handleUpdate(p, &UpdateMessage{
		NLRI:       []Prefix{pfx},
		Attributes: &Attributes{HasOrigin: true, Origin: OriginIGP},
	})
	require.NoError(t, err)
	_, ok := s.LocRIB.Get(pfx)
	require.True(t, ok)

	_, err = s.handleUpdate(p, &UpdateMessage{WithdrawnRoutes: []Prefix{pfx}, Attributes: &Attributes{}})
	require.NoError(t, err)
	_, ok = s.LocRIB.Get(pfx)
	require.False(t, ok)
}
