package ospf

import (
	"github.com/routed-project/routed/internal/errs"
	"github.com/routed-project/routed/internal/wire"
)

// Header is the 24-byte OSPF common header (RFC 2328 §A.3.1, spec §4.1).
type Header struct {
	Version  byte
	Type     PacketType
	Length   uint16
	RouterID RouterID
	AreaID   uint32
	Checksum uint16
	AuthType uint16
	AuthData uint64
}

func decodeHeader(r *wire.Reader) (*Header, error) {
	version, err := r.Byte()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated header")
	}
	if version != OSPFVersion {
		return nil, errs.New(errs.Malformed, "ospf", "unsupported version")
	}
	t, err := r.Byte()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated packet type")
	}
	length, err := r.Uint16()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated length")
	}
	rid, err := r.Uint32()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated router id")
	}
	area, err := r.Uint32()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated area id")
	}
	checksum, err := r.Uint16()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated checksum")
	}
	authType, err := r.Uint16()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated auth type")
	}
	authData, err := r.Uint64()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated auth data")
	}
	return &Header{
		Version: version, Type: PacketType(t), Length: length,
		RouterID: RouterID(rid), AreaID: area, Checksum: checksum,
		AuthType: authType, AuthData: authData,
	}, nil
}

func encodeHeader(w *wire.Writer, h *Header) {
	w.Byte(OSPFVersion)
	w.Byte(byte(h.Type))
	w.Uint16(h.Length)
	w.Uint32(uint32(h.RouterID))
	w.Uint32(h.AreaID)
	w.Uint16(0) // checksum placeholder, patched by the caller
	w.Uint16(h.AuthType)
	w.Uint64(h.AuthData)
}

// PDU is a decoded OSPF packet; exactly one of the typed fields is set.
type PDU struct {
	Header *Header
	Hello  *Hello
	DBD    *DatabaseDescription
	LSR    []LSRequest
	LSU    *LSUpdate
	LSAck  []LSAHeader
}

// Decode parses a raw OSPF packet, verifying the checksum before
// dispatching on packet type (spec §4.1's Malformed-on-bad-checksum rule).
func Decode(buf []byte) (*PDU, error) {
	if len(buf) < HeaderLen {
		return nil, errs.New(errs.Malformed, "ospf", "short packet")
	}
	if !verifyPacketChecksum(buf) {
		return nil, errs.New(errs.Malformed, "ospf", "bad packet checksum")
	}
	r := wire.NewReader(buf)
	h, err := decodeHeader(r)
	if err != nil {
		return nil, err
	}
	if int(h.Length) != len(buf) {
		return nil, errs.New(errs.Malformed, "ospf", "length field does not match packet size")
	}
	pdu := &PDU{Header: h}
	switch h.Type {
	case PacketHello:
		hello, err := decodeHello(r)
		if err != nil {
			return nil, err
		}
		pdu.Hello = hello
	case PacketDatabaseDescription:
		dbd, err := decodeDBD(r)
		if err != nil {
			return nil, err
		}
		pdu.DBD = dbd
	case PacketLSRequest:
		reqs, err := decodeLSR(r)
		if err != nil {
			return nil, err
		}
		pdu.LSR = reqs
	case PacketLSUpdate:
		lsu, err := decodeLSU(r)
		if err != nil {
			return nil, err
		}
		pdu.LSU = lsu
	case PacketLSAck:
		acks, err := decodeLSAckBody(r)
		if err != nil {
			return nil, err
		}
		pdu.LSAck = acks
	default:
		return nil, errs.New(errs.Malformed, "ospf", "unknown packet type")
	}
	return pdu, nil
}

// packetChecksumRegion builds the byte region the standard IP checksum
// covers: the 16-byte header prefix through AreaID plus AuthType (with
// the checksum field zeroed), followed by the body — the 64-bit
// authentication field is excluded entirely, per RFC 2328 §D.4.3.
func packetChecksumRegion(buf []byte) []byte {
	tmp := make([]byte, 16+(len(buf)-HeaderLen))
	copy(tmp, buf[:16])
	tmp[12], tmp[13] = 0, 0
	copy(tmp[16:], buf[HeaderLen:])
	return tmp
}

func verifyPacketChecksum(buf []byte) bool {
	if len(buf) < HeaderLen {
		return false
	}
	want := uint16(buf[12])<<8 | uint16(buf[13])
	got := wire.IPChecksum(packetChecksumRegion(buf))
	return want == got
}

func patchPacketChecksum(buf []byte) {
	cs := wire.IPChecksum(packetChecksumRegion(buf))
	buf[12] = byte(cs >> 8)
	buf[13] = byte(cs)
}

// Hello is a decoded Hello packet (RFC 2328 §A.3.2, spec §4.4's "record
// neighbor" event source).
type Hello struct {
	NetworkMask            uint32
	HelloInterval          uint16
	Options                byte
	RtrPriority            byte
	RouterDeadInterval     uint32
	DesignatedRouter       RouterID
	BackupDesignatedRouter RouterID
	Neighbors              []RouterID
}

func decodeHello(r *wire.Reader) (*Hello, error) {
	mask, err := r.Uint32()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated hello network mask")
	}
	interval, err := r.Uint16()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated hello interval")
	}
	opts, err := r.Byte()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated hello options")
	}
	prio, err := r.Byte()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated hello priority")
	}
	dead, err := r.Uint32()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated hello dead interval")
	}
	dr, err := r.Uint32()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated hello dr")
	}
	bdr, err := r.Uint32()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated hello bdr")
	}
	h := &Hello{
		NetworkMask: mask, HelloInterval: interval, Options: opts,
		RtrPriority: prio, RouterDeadInterval: dead,
		DesignatedRouter: RouterID(dr), BackupDesignatedRouter: RouterID(bdr),
	}
	for r.Remaining() >= 4 {
		nb, err := r.Uint32()
		if err != nil {
			return nil, errs.New(errs.Malformed, "ospf", "truncated hello neighbor")
		}
		h.Neighbors = append(h.Neighbors, RouterID(nb))
	}
	return h, nil
}

// Encode serializes a Hello as a full OSPF packet, patching length and
// checksum.
func (h *Hello) Encode(hdr *Header) []byte {
	body := wire.NewWriter()
	body.Uint32(h.NetworkMask)
	body.Uint16(h.HelloInterval)
	body.Byte(h.Options)
	body.Byte(h.RtrPriority)
	body.Uint32(h.RouterDeadInterval)
	body.Uint32(uint32(h.DesignatedRouter))
	body.Uint32(uint32(h.BackupDesignatedRouter))
	for _, nb := range h.Neighbors {
		body.Uint32(uint32(nb))
	}
	return assemble(hdr, PacketHello, body.Finish())
}

// DatabaseDescription carries the I/M/MS flags and DD sequence number of
// ExStart/Exchange negotiation (spec §4.4).
type DatabaseDescription struct {
	InterfaceMTU uint16
	Options      byte
	Init         bool
	More         bool
	Master       bool
	SeqNumber    uint32
	LSAHeaders   []LSAHeader
}

func decodeDBD(r *wire.Reader) (*DatabaseDescription, error) {
	mtu, err := r.Uint16()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated dbd mtu")
	}
	opts, err := r.Byte()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated dbd options")
	}
	flags, err := r.Byte()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated dbd flags")
	}
	seq, err := r.Uint32()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated dbd sequence")
	}
	d := &DatabaseDescription{
		InterfaceMTU: mtu, Options: opts, SeqNumber: seq,
		Init: flags&0x04 != 0, More: flags&0x02 != 0, Master: flags&0x01 != 0,
	}
	for r.Remaining() >= LSAHeaderLen {
		hdr, err := decodeLSAHeader(r)
		if err != nil {
			return nil, err
		}
		d.LSAHeaders = append(d.LSAHeaders, *hdr)
	}
	return d, nil
}

func (d *DatabaseDescription) Encode(hdr *Header) []byte {
	body := wire.NewWriter()
	body.Uint16(d.InterfaceMTU)
	body.Byte(d.Options)
	var flags byte
	if d.Init {
		flags |= 0x04
	}
	if d.More {
		flags |= 0x02
	}
	if d.Master {
		flags |= 0x01
	}
	body.Byte(flags)
	body.Uint32(d.SeqNumber)
	for _, h := range d.LSAHeaders {
		encodeLSAHeader(body, &h)
	}
	return assemble(hdr, PacketDatabaseDescription, body.Finish())
}

// LSRequest is one entry of an LS Request packet (RFC 2328 §A.3.4).
type LSRequest struct {
	Type      LSAType
	LinkStateID RouterID
	AdvRouter RouterID
}

func decodeLSR(r *wire.Reader) ([]LSRequest, error) {
	var out []LSRequest
	for r.Remaining() >= 12 {
		t, err := r.Uint32()
		if err != nil {
			return nil, errs.New(errs.Malformed, "ospf", "truncated ls request type")
		}
		lsid, err := r.Uint32()
		if err != nil {
			return nil, errs.New(errs.Malformed, "ospf", "truncated ls request id")
		}
		adv, err := r.Uint32()
		if err != nil {
			return nil, errs.New(errs.Malformed, "ospf", "truncated ls request adv router")
		}
		out = append(out, LSRequest{Type: LSAType(t), LinkStateID: RouterID(lsid), AdvRouter: RouterID(adv)})
	}
	return out, nil
}

func EncodeLSR(hdr *Header, reqs []LSRequest) []byte {
	body := wire.NewWriter()
	for _, req := range reqs {
		body.Uint32(uint32(req.Type))
		body.Uint32(uint32(req.LinkStateID))
		body.Uint32(uint32(req.AdvRouter))
	}
	return assemble(hdr, PacketLSRequest, body.Finish())
}

// LSUpdate carries one or more full LSAs (RFC 2328 §A.3.5).
type LSUpdate struct {
	LSAs []*LSA
}

func decodeLSU(r *wire.Reader) (*LSUpdate, error) {
	count, err := r.Uint32()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated lsu count")
	}
	u := &LSUpdate{}
	for i := uint32(0); i < count; i++ {
		lsa, err := decodeLSA(r)
		if err != nil {
			return nil, err
		}
		u.LSAs = append(u.LSAs, lsa)
	}
	return u, nil
}

func (u *LSUpdate) Encode(hdr *Header) []byte {
	body := wire.NewWriter()
	body.Uint32(uint32(len(u.LSAs)))
	for _, lsa := range u.LSAs {
		body.Bytes(lsa.raw)
	}
	return assemble(hdr, PacketLSUpdate, body.Finish())
}

func decodeLSAckBody(r *wire.Reader) ([]LSAHeader, error) {
	var out []LSAHeader
	for r.Remaining() >= LSAHeaderLen {
		h, err := decodeLSAHeader(r)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, nil
}

func EncodeLSAck(hdr *Header, headers []LSAHeader) []byte {
	body := wire.NewWriter()
	for _, h := range headers {
		encodeLSAHeader(body, &h)
	}
	return assemble(hdr, PacketLSAck, body.Finish())
}

// assemble wraps a packet body with the common header, patches length and
// checksum, and returns the full wire frame.
func assemble(hdr *Header, t PacketType, body []byte) []byte {
	h := *hdr
	h.Type = t
	h.Length = uint16(HeaderLen + len(body))
	w := wire.NewWriter()
	encodeHeader(w, &h)
	w.Bytes(body)
	out := w.Finish()
	patchPacketChecksum(out)
	return out
}
