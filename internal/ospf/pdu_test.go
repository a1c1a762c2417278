package ospf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func baseHeader(t PacketType) *Header {
	return &Header{RouterID: RouterID(0x01010101), AreaID: 0, AuthType: 0, Type: t}
}

func TestHelloRoundTrip(t *testing.T) {
	hdr := baseHeader(PacketHello)
	h := &Hello{
		NetworkMask:            0xffffff00,
		HelloInterval:          10,
		Options:                0x02,
		RtrPriority:            1,
		RouterDeadInterval:     40,
		DesignatedRouter:       RouterID(0x02020202),
		BackupDesignatedRouter: RouterID(0x03030303),
		Neighbors:              []RouterID{RouterID(0x04040404), RouterID(0x05050505)},
	}
	frame := h.Encode(hdr)

	pdu, err := Decode(frame)
	require.NoError(t, err)
	require.NotNil(t, pdu.Hello)
	require.Equal(t, h.NetworkMask, pdu.Hello.NetworkMask)
	require.Equal(t, h.HelloInterval, pdu.Hello.HelloInterval)
	require.Equal(t, h.RtrPriority, pdu.Hello.RtrPriority)
	require.Equal(t, h.RouterDeadInterval, pdu.Hello.RouterDeadInterval)
	require.Equal(t, h.DesignatedRouter, pdu.Hello.DesignatedRouter)
	require.Equal(t, h.BackupDesignatedRouter, pdu.Hello.BackupDesignatedRouter)
	require.Equal(t, h.Neighbors, pdu.Hello.Neighbors)
	require.Equal(t, hdr.RouterID, pdu.Header.RouterID)
}

func TestDBDRoundTrip(t *testing.T) {
	hdr := baseHeader(PacketDatabaseDescription)
	d := &DatabaseDescription{
		InterfaceMTU: 1500,
		Options:      0x02,
		Init:         true,
		More:         true,
		Master:       true,
		SeqNumber:    7,
		LSAHeaders: []LSAHeader{
			{Age: 1, Type: LSARouter, LinkStateID: RouterID(1), AdvRouter: RouterID(1), SeqNumber: InitialSeq, Length: 24},
		},
	}
	frame := d.Encode(hdr)

	pdu, err := Decode(frame)
	require.NoError(t, err)
	require.NotNil(t, pdu.DBD)
	require.True(t, pdu.DBD.Init)
	require.True(t, pdu.DBD.More)
	require.True(t, pdu.DBD.Master)
	require.Equal(t, d.SeqNumber, pdu.DBD.SeqNumber)
	require.Equal(t, d.InterfaceMTU, pdu.DBD.InterfaceMTU)
	require.Len(t, pdu.DBD.LSAHeaders, 1)
	require.Equal(t, d.LSAHeaders[0].AdvRouter, pdu.DBD.LSAHeaders[0].AdvRouter)
}

func TestDBDFlagsIndependent(t *testing.T) {
	hdr := baseHeader(PacketDatabaseDescription)
	d := &DatabaseDescription{Init: false, More: true, Master: false, SeqNumber: 99}
	frame := d.Encode(hdr)
	pdu, err := Decode(frame)
	require.NoError(t, err)
	require.False(t, pdu.DBD.Init)
	require.True(t, pdu.DBD.More)
	require.False(t, pdu.DBD.Master)
}

func TestLSRequestRoundTrip(t *testing.T) {
	hdr := baseHeader(PacketLSRequest)
	reqs := []LSRequest{
		{Type: LSARouter, LinkStateID: RouterID(1), AdvRouter: RouterID(1)},
		{Type: LSAASExternal, LinkStateID: RouterID(10), AdvRouter: RouterID(2)},
	}
	frame := EncodeLSR(hdr, reqs)

	pdu, err := Decode(frame)
	require.NoError(t, err)
	require.Equal(t, reqs, pdu.LSR)
}

func TestLSAckRoundTrip(t *testing.T) {
	hdr := baseHeader(PacketLSAck)
	headers := []LSAHeader{
		{Age: 3, Type: LSARouter, LinkStateID: RouterID(1), AdvRouter: RouterID(1), SeqNumber: InitialSeq, Length: 24},
		{Age: 5, Type: LSANetwork, LinkStateID: RouterID(9), AdvRouter: RouterID(1), SeqNumber: InitialSeq, Length: 24},
	}
	frame := EncodeLSAck(hdr, headers)

	pdu, err := Decode(frame)
	require.NoError(t, err)
	require.Equal(t, headers, pdu.LSAck)
}

func TestLSUpdateRoundTrip(t *testing.T) {
	hdr := baseHeader(PacketLSUpdate)
	lsa := &LSA{
		Header: LSAHeader{Type: LSARouter, LinkStateID: RouterID(1), AdvRouter: RouterID(1), SeqNumber: InitialSeq},
		Router: &RouterLSABody{Bits: 0, Links: []RouterLink{{ID: 2, Data: 3, Type: 1, Metric: 10}}},
	}
	lsa.Encode()

	u := &LSUpdate{LSAs: []*LSA{lsa}}
	frame := u.Encode(hdr)

	pdu, err := Decode(frame)
	require.NoError(t, err)
	require.NotNil(t, pdu.LSU)
	require.Len(t, pdu.LSU.LSAs, 1)
	require.Equal(t, lsa.Header.AdvRouter, pdu.LSU.LSAs[0].Header.AdvRouter)
	require.NotNil(t, pdu.LSU.LSAs[0].Router)
	require.Len(t, pdu.LSU.LSAs[0].Router.Links, 1)
	require.Equal(t, uint16(10), pdu.LSU.LSAs[0].Router.Links[0].Metric)
}

func TestDecodeRejectsBadChecksum(t *testing.T) {
	hdr := baseHeader(PacketHello)
	h := &Hello{HelloInterval: 10}
	frame := h.Encode(hdr)
	frame[12] ^= 0xff // corrupt the checksum byte

	_, err := Decode(frame)
	require.Error(t, err)
}

func TestDecodeRejectsShortPacket(t *testing.T) {
	_, err := Decode([]byte{0, 1, 2})
	require.Error(t, err)
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	hdr := baseHeader(PacketHello)
	h := &Hello{HelloInterval: 10}
	frame := h.Encode(hdr)
	frame = append(frame, 0, 0, 0, 0) // extra bytes past the declared length
	patchPacketChecksum(frame)

	_, err := Decode(frame)
	require.Error(t, err)
}
