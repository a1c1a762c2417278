package isis

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHelloRoundTripLAN(t *testing.T) {
	localMAC := net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	neighborMAC := net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	h := &Hello{
		CircuitType: CircuitBroadcast,
		Level:       Level1,
		SourceID:    SystemID{1, 2, 3, 4, 5, 6},
		HoldTime:    30,
		Priority:    64,
		LANID:       LSPID{System: SystemID{1, 2, 3, 4, 5, 6}, PseudoNode: 1},
		AreaAddrs:   [][]byte{{0x49, 0x00, 0x01}},
		Neighbors:   []net.HardwareAddr{neighborMAC},
		Hostname:    "r1",
	}

	frame := h.Encode(PDUL1LANIIH, localMAC)
	pdu, err := Decode(frame)
	require.NoError(t, err)
	require.NotNil(t, pdu.Hello)

	got := pdu.Hello
	require.Equal(t, h.SourceID, got.SourceID)
	require.Equal(t, h.HoldTime, got.HoldTime)
	require.Equal(t, h.Priority, got.Priority)
	require.Equal(t, h.LANID, got.LANID)
	require.Equal(t, h.AreaAddrs, got.AreaAddrs)
	require.Equal(t, h.Hostname, got.Hostname)
	require.Len(t, got.Neighbors, 1)
	require.True(t, macEqual(got.Neighbors[0], neighborMAC))
	require.Equal(t, CircuitBroadcast, got.CircuitType)
	require.Equal(t, Level1, got.Level)
}

func TestHelloRoundTripP2P(t *testing.T) {
	localMAC := net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	h := &Hello{
		CircuitType:    CircuitP2P,
		Level:          Level2,
		SourceID:       SystemID{6, 5, 4, 3, 2, 1},
		HoldTime:       9,
		LocalCircuitID: 7,
	}
	frame := h.Encode(PDUP2PIIH, localMAC)
	pdu, err := Decode(frame)
	require.NoError(t, err)
	require.NotNil(t, pdu.Hello)
	require.Equal(t, h.SourceID, pdu.Hello.SourceID)
	require.Equal(t, h.LocalCircuitID, pdu.Hello.LocalCircuitID)
	require.Empty(t, pdu.Hello.Neighbors)
}

func TestLSPRoundTrip(t *testing.T) {
	l := &LSP{
		ID:                LSPID{System: SystemID{1, 2, 3, 4, 5, 6}, Number: 0},
		SeqNumber:         5,
		RemainingLifetime: 1199,
		AreaAddrs:         [][]byte{{0x49, 0x00, 0x01}},
		ISReach: []ISReachability{
			{NeighborID: LSPID{System: SystemID{9, 9, 9, 9, 9, 9}}, Metric: 10},
		},
		IPReach: []IPReachability{
			{Prefix: [4]byte{10, 0, 0, 0}, PrefixLen: 24, Metric: 10, Up: true},
		},
		Hostname: "r1",
	}
	frame := l.Encode(Level1)

	pdu, err := Decode(frame)
	require.NoError(t, err)
	require.NotNil(t, pdu.LSP)
	require.Equal(t, l.ID, pdu.LSP.ID)
	require.Equal(t, l.SeqNumber, pdu.LSP.SeqNumber)
	require.Equal(t, l.RemainingLifetime, pdu.LSP.RemainingLifetime)
	require.Equal(t, l.AreaAddrs, pdu.LSP.AreaAddrs)
	require.Equal(t, l.ISReach, pdu.LSP.ISReach)
	require.Equal(t, l.IPReach, pdu.LSP.IPReach)
	require.Equal(t, l.Hostname, pdu.LSP.Hostname)

	require.True(t, VerifyChecksum(frame))
}

func TestLSPChecksumDetectsCorruption(t *testing.T) {
	l := &LSP{
		ID:                LSPID{System: SystemID{1, 2, 3, 4, 5, 6}},
		SeqNumber:         1,
		RemainingLifetime: 1199,
		Hostname:          "r1",
	}
	frame := l.Encode(Level1)
	require.True(t, VerifyChecksum(frame))

	corrupt := append([]byte(nil), frame...)
	corrupt[len(corrupt)-1] ^= 0xff
	require.False(t, VerifyChecksum(corrupt))
}

func TestCSNPRoundTrip(t *testing.T) {
	c := &CSNP{
		Level: Level1,
		SrcID: SystemID{1, 2, 3, 4, 5, 6},
		Entries: []LSPEntry{
			{RemainingLifetime: 1199, ID: LSPID{System: SystemID{1, 1, 1, 1, 1, 1}}, SeqNumber: 3, Checksum: 0x1234},
			{RemainingLifetime: 1199, ID: LSPID{System: SystemID{2, 2, 2, 2, 2, 2}}, SeqNumber: 1, Checksum: 0x5678},
		},
	}
	frame := c.Encode()
	pdu, err := Decode(frame)
	require.NoError(t, err)
	require.NotNil(t, pdu.CSNP)
	require.Equal(t, c.SrcID, pdu.CSNP.SrcID)
	require.Equal(t, Level1, pdu.CSNP.Level)
	require.Equal(t, c.Entries, pdu.CSNP.Entries)
}

func TestPSNPRoundTrip(t *testing.T) {
	p := &PSNP{
		Level: Level2,
		SrcID: SystemID{1, 2, 3, 4, 5, 6},
		Entries: []LSPEntry{
			{RemainingLifetime: 500, ID: LSPID{System: SystemID{9, 9, 9, 9, 9, 9}}, SeqNumber: 2, Checksum: 0xabcd},
		},
	}
	frame := p.Encode()
	pdu, err := Decode(frame)
	require.NoError(t, err)
	require.NotNil(t, pdu.PSNP)
	require.Equal(t, p.SrcID, pdu.PSNP.SrcID)
	require.Equal(t, Level2, pdu.PSNP.Level)
	require.Equal(t, p.Entries, pdu.PSNP.Entries)
}

func TestDecodeRejectsShortHeader(t *testing.T) {
	_, err := Decode([]byte{0x83, 0x01})
	require.Error(t, err)
}

func TestDecodeRejectsBadDiscriminator(t *testing.T) {
	buf := make([]byte, CommonHeaderLen)
	buf[0] = 0x00
	_, err := Decode(buf)
	require.Error(t, err)
}
