package ospf

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/routed-project/routed/internal/wire"
)

func TestRouterLSAEncodeDecodeRoundTrip(t *testing.T) {
	lsa := &LSA{
		Header: LSAHeader{
			Type: LSARouter, LinkStateID: RouterID(1), AdvRouter: RouterID(1),
			SeqNumber: InitialSeq,
		},
		Router: &RouterLSABody{
			Bits: 0x02, // E-bit
			Links: []RouterLink{
				{ID: 2, Data: 0xffffff00, Type: 1, Metric: 10},
				{ID: 0xc0a80000, Data: 0xffffff00, Type: 3, Metric: 1},
			},
		},
	}
	raw := lsa.Encode()
	require.True(t, VerifyLSAChecksum(raw))

	got, err := decodeLSA(wire.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, lsa.Header.Type, got.Header.Type)
	require.Equal(t, lsa.Header.Checksum, got.Header.Checksum)
	require.NotNil(t, got.Router)
	require.Len(t, got.Router.Links, 2)
	require.Equal(t, lsa.Router.Links[0], got.Router.Links[0])
	require.Equal(t, lsa.Router.Links[1], got.Router.Links[1])
	require.Equal(t, byte(0x02), got.Router.Bits)
}

func TestNetworkLSAEncodeDecodeRoundTrip(t *testing.T) {
	lsa := &LSA{
		Header: LSAHeader{Type: LSANetwork, LinkStateID: RouterID(0xc0a80001), AdvRouter: RouterID(1), SeqNumber: InitialSeq},
		Network: &NetworkLSABody{
			NetworkMask:     0xffffff00,
			AttachedRouters: []RouterID{RouterID(1), RouterID(2)},
		},
	}
	raw := lsa.Encode()
	got, err := decodeLSA(wire.NewReader(raw))
	require.NoError(t, err)
	require.NotNil(t, got.Network)
	require.Equal(t, lsa.Network.NetworkMask, got.Network.NetworkMask)
	require.Equal(t, lsa.Network.AttachedRouters, got.Network.AttachedRouters)
}

func TestASExternalLSAEncodeDecodeRoundTrip(t *testing.T) {
	lsa := &LSA{
		Header: LSAHeader{Type: LSAASExternal, LinkStateID: RouterID(0x0a000000), AdvRouter: RouterID(3), SeqNumber: InitialSeq},
		ASExternal: &ASExternalLSABody{
			NetworkMask:       0xffffff00,
			ExternalType2:     true,
			Metric:            20,
			ForwardingAddress: 0,
			ExternalRouteTag:  42,
		},
	}
	raw := lsa.Encode()
	got, err := decodeLSA(wire.NewReader(raw))
	require.NoError(t, err)
	require.NotNil(t, got.ASExternal)
	require.True(t, got.ASExternal.ExternalType2)
	require.Equal(t, uint32(20), got.ASExternal.Metric)
	require.Equal(t, uint32(42), got.ASExternal.ExternalRouteTag)
}

func TestFresherBySequenceThenChecksumThenAge(t *testing.T) {
	a := LSAHeader{SeqNumber: 5, Checksum: 100, Age: 10}
	b := LSAHeader{SeqNumber: 4, Checksum: 200, Age: 10}
	require.True(t, Fresher(&a, &b), "higher sequence number wins regardless of checksum")

	c := LSAHeader{SeqNumber: 5, Checksum: 200, Age: 10}
	require.True(t, Fresher(&c, &a), "equal sequence, higher checksum wins")

	d := LSAHeader{SeqNumber: 5, Checksum: 100, Age: MaxAge}
	e := LSAHeader{SeqNumber: 5, Checksum: 100, Age: 10}
	require.True(t, Fresher(&e, &d), "equal sequence and checksum, the non-MaxAge instance wins")
	require.False(t, Fresher(&d, &e))
}

func TestEqualRequiresSeqAndChecksumMatch(t *testing.T) {
	a := LSAHeader{SeqNumber: 5, Checksum: 100}
	b := LSAHeader{SeqNumber: 5, Checksum: 100}
	require.True(t, Equal(&a, &b))

	c := LSAHeader{SeqNumber: 5, Checksum: 101}
	require.False(t, Equal(&a, &c))
}

func TestVerifyLSAChecksumRejectsCorruption(t *testing.T) {
	lsa := &LSA{
		Header:  LSAHeader{Type: LSARouter, LinkStateID: RouterID(1), AdvRouter: RouterID(1), SeqNumber: InitialSeq},
		Router:  &RouterLSABody{Links: []RouterLink{{ID: 2, Type: 1, Metric: 5}}},
	}
	raw := lsa.Encode()
	require.True(t, VerifyLSAChecksum(raw))

	corrupt := append([]byte(nil), raw...)
	corrupt[len(corrupt)-1] ^= 0xff
	require.False(t, VerifyLSAChecksum(corrupt))
}
