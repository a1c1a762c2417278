package ospf

import (
	"github.com/routed-project/routed/internal/errs"
	"github.com/routed-project/routed/internal/wire"
)

// LSAHeader is the common 20-byte LSA header (RFC 2328 §A.4.1, spec §3's
// LSDB key plus age/seq/checksum).
type LSAHeader struct {
	Age         uint16
	Options     byte
	Type        LSAType
	LinkStateID RouterID
	AdvRouter   RouterID
	SeqNumber   int32
	Checksum    uint16
	Length      uint16
}

func (h LSAHeader) Key() LSAKey {
	return LSAKey{Type: h.Type, LinkStateID: h.LinkStateID, AdvRouter: h.AdvRouter}
}

func decodeLSAHeader(r *wire.Reader) (*LSAHeader, error) {
	age, err := r.Uint16()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated lsa age")
	}
	opts, err := r.Byte()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated lsa options")
	}
	t, err := r.Byte()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated lsa type")
	}
	lsid, err := r.Uint32()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated lsa link state id")
	}
	adv, err := r.Uint32()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated lsa adv router")
	}
	seq, err := r.Uint32()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated lsa sequence")
	}
	checksum, err := r.Uint16()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated lsa checksum")
	}
	length, err := r.Uint16()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated lsa length")
	}
	return &LSAHeader{
		Age: age, Options: opts, Type: LSAType(t),
		LinkStateID: RouterID(lsid), AdvRouter: RouterID(adv),
		SeqNumber: int32(seq), Checksum: checksum, Length: length,
	}, nil
}

func encodeLSAHeader(w *wire.Writer, h *LSAHeader) {
	w.Uint16(h.Age)
	w.Byte(h.Options)
	w.Byte(byte(h.Type))
	w.Uint32(uint32(h.LinkStateID))
	w.Uint32(uint32(h.AdvRouter))
	w.Uint32(uint32(h.SeqNumber))
	w.Uint16(h.Checksum)
	w.Uint16(h.Length)
}

// RouterLink is one link entry of a Router-LSA body (RFC 2328 §A.4.2).
type RouterLink struct {
	ID     uint32 // neighbor router-id, DR address, or transit network address depending on Type
	Data   uint32
	Type   byte // 1=point-to-point, 2=transit, 3=stub, 4=virtual
	Metric uint16
}

// RouterLSABody is the type-1 LSA body: the point-to-point, transit and
// stub links built by the speaker's originateRouterLSA.
type RouterLSABody struct {
	Bits  byte // V/E/B bits
	Links []RouterLink
}

// NetworkLSABody is the type-2 LSA body, originated by the DR for a
// transit broadcast network.
type NetworkLSABody struct {
	NetworkMask     uint32
	AttachedRouters []RouterID
}

// SummaryLSABody is the type-3 LSA body (inter-area route advertisement).
type SummaryLSABody struct {
	NetworkMask uint32
	Metric      uint32 // low 24 bits significant
}

// ASExternalLSABody is the type-5 LSA body.
type ASExternalLSABody struct {
	NetworkMask       uint32
	ExternalType2     bool // E-bit: true selects E2 (external-only metric)
	Metric            uint32 // low 24 bits significant
	ForwardingAddress uint32
	ExternalRouteTag  uint32
}

// LSA is a decoded LSA plus its original wire bytes (raw is reused
// verbatim by LSUpdate.Encode/flooding so an unmodified LSA is never
// accidentally re-serialized with a different checksum).
type LSA struct {
	Header LSAHeader
	Router *RouterLSABody
	Network *NetworkLSABody
	Summary *SummaryLSABody
	ASExternal *ASExternalLSABody
	raw    []byte
}

func decodeLSA(r *wire.Reader) (*LSA, error) {
	hdr, err := decodeLSAHeader(r)
	if err != nil {
		return nil, err
	}
	bodyLen := int(hdr.Length) - LSAHeaderLen
	if bodyLen < 0 {
		return nil, errs.New(errs.Malformed, "ospf", "lsa length shorter than header")
	}
	body, err := r.Bytes(bodyLen)
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated lsa body")
	}

	lsa := &LSA{Header: *hdr}
	br := wire.NewReader(body)
	switch hdr.Type {
	case LSARouter:
		lsa.Router, err = decodeRouterLSABody(br)
	case LSANetwork:
		lsa.Network, err = decodeNetworkLSABody(br)
	case LSASummary:
		lsa.Summary, err = decodeSummaryLSABody(br)
	case LSAASExternal:
		lsa.ASExternal, err = decodeASExternalLSABody(br)
	default:
		return nil, errs.New(errs.Malformed, "ospf", "unsupported lsa type")
	}
	if err != nil {
		return nil, err
	}

	w := wire.NewWriter()
	encodeLSAHeader(w, hdr)
	w.Bytes(body)
	lsa.raw = w.Finish()
	return lsa, nil
}

func decodeRouterLSABody(r *wire.Reader) (*RouterLSABody, error) {
	bits, err := r.Byte()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated router-lsa bits")
	}
	if _, err := r.Byte(); err != nil { // reserved
		return nil, errs.New(errs.Malformed, "ospf", "truncated router-lsa reserved")
	}
	count, err := r.Uint16()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated router-lsa link count")
	}
	b := &RouterLSABody{Bits: bits}
	for i := uint16(0); i < count; i++ {
		id, err := r.Uint32()
		if err != nil {
			return nil, errs.New(errs.Malformed, "ospf", "truncated router-lsa link id")
		}
		data, err := r.Uint32()
		if err != nil {
			return nil, errs.New(errs.Malformed, "ospf", "truncated router-lsa link data")
		}
		typ, err := r.Byte()
		if err != nil {
			return nil, errs.New(errs.Malformed, "ospf", "truncated router-lsa link type")
		}
		if _, err := r.Byte(); err != nil { // #TOS, always 0 — no per-TOS metrics supported
			return nil, errs.New(errs.Malformed, "ospf", "truncated router-lsa tos count")
		}
		metric, err := r.Uint16()
		if err != nil {
			return nil, errs.New(errs.Malformed, "ospf", "truncated router-lsa metric")
		}
		b.Links = append(b.Links, RouterLink{ID: id, Data: data, Type: typ, Metric: metric})
	}
	return b, nil
}

func encodeRouterLSABody(b *RouterLSABody) []byte {
	w := wire.NewWriter()
	w.Byte(b.Bits)
	w.Byte(0)
	w.Uint16(uint16(len(b.Links)))
	for _, l := range b.Links {
		w.Uint32(l.ID)
		w.Uint32(l.Data)
		w.Byte(l.Type)
		w.Byte(0)
		w.Uint16(l.Metric)
	}
	return w.Finish()
}

func decodeNetworkLSABody(r *wire.Reader) (*NetworkLSABody, error) {
	mask, err := r.Uint32()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated network-lsa mask")
	}
	b := &NetworkLSABody{NetworkMask: mask}
	for r.Remaining() >= 4 {
		rid, err := r.Uint32()
		if err != nil {
			return nil, errs.New(errs.Malformed, "ospf", "truncated network-lsa attached router")
		}
		b.AttachedRouters = append(b.AttachedRouters, RouterID(rid))
	}
	return b, nil
}

func encodeNetworkLSABody(b *NetworkLSABody) []byte {
	w := wire.NewWriter()
	w.Uint32(b.NetworkMask)
	for _, rid := range b.AttachedRouters {
		w.Uint32(uint32(rid))
	}
	return w.Finish()
}

func decodeSummaryLSABody(r *wire.Reader) (*SummaryLSABody, error) {
	mask, err := r.Uint32()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated summary-lsa mask")
	}
	metricField, err := r.Uint32()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated summary-lsa metric")
	}
	return &SummaryLSABody{NetworkMask: mask, Metric: metricField & 0x00ffffff}, nil
}

func encodeSummaryLSABody(b *SummaryLSABody) []byte {
	w := wire.NewWriter()
	w.Uint32(b.NetworkMask)
	w.Uint32(b.Metric & 0x00ffffff)
	return w.Finish()
}

func decodeASExternalLSABody(r *wire.Reader) (*ASExternalLSABody, error) {
	mask, err := r.Uint32()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated as-external-lsa mask")
	}
	metricField, err := r.Uint32()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated as-external-lsa metric")
	}
	fwd, err := r.Uint32()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated as-external-lsa forwarding address")
	}
	tag, err := r.Uint32()
	if err != nil {
		return nil, errs.New(errs.Malformed, "ospf", "truncated as-external-lsa route tag")
	}
	return &ASExternalLSABody{
		NetworkMask: mask, ExternalType2: metricField&0x80000000 != 0,
		Metric: metricField & 0x00ffffff, ForwardingAddress: fwd, ExternalRouteTag: tag,
	}, nil
}

func encodeASExternalLSABody(b *ASExternalLSABody) []byte {
	w := wire.NewWriter()
	w.Uint32(b.NetworkMask)
	metricField := b.Metric & 0x00ffffff
	if b.ExternalType2 {
		metricField |= 0x80000000
	}
	w.Uint32(metricField)
	w.Uint32(b.ForwardingAddress)
	w.Uint32(b.ExternalRouteTag)
	return w.Finish()
}

// bodyBytes re-encodes the type-specific body, used when originating or
// re-originating an LSA (decoded LSAs instead reuse raw verbatim).
func (l *LSA) bodyBytes() []byte {
	switch l.Header.Type {
	case LSARouter:
		return encodeRouterLSABody(l.Router)
	case LSANetwork:
		return encodeNetworkLSABody(l.Network)
	case LSASummary:
		return encodeSummaryLSABody(l.Summary)
	case LSAASExternal:
		return encodeASExternalLSABody(l.ASExternal)
	default:
		return nil
	}
}

// Encode serializes l, filling in length and the Fletcher checksum over
// the header (age excluded) + body, per RFC 2328 §12.1.7, and caches the
// result in raw for reuse by flooding.
func (l *LSA) Encode() []byte {
	body := l.bodyBytes()
	l.Header.Length = uint16(LSAHeaderLen + len(body))
	l.Header.Checksum = 0

	w := wire.NewWriter()
	encodeLSAHeader(w, &l.Header)
	w.Bytes(body)
	out := w.Finish()

	// Checksum covers everything after the 2-byte age field (offset 16
	// absolute, 14 relative to the post-age slice, is the zeroed
	// checksum field within that region).
	checksum := wire.LSAChecksum(out[2:], 14)
	out[16] = byte(checksum >> 8)
	out[17] = byte(checksum)
	l.Header.Checksum = checksum
	l.raw = out
	return out
}

// VerifyLSAChecksum validates a decoded LSA's checksum against its
// original wire bytes, never against a re-encode (Encode recomputes and
// overwrites the checksum field, so that would make verification a
// no-op — the same pitfall fixed in internal/isis's LSP checksum check).
func VerifyLSAChecksum(raw []byte) bool {
	if len(raw) < LSAHeaderLen {
		return false
	}
	return wire.VerifyFletcher16(raw[2:])
}

// Fresher reports whether a is a strictly fresher instance of the same
// LSA than b, per spec §3's freshness rule: higher seq wins; if equal,
// higher checksum wins; if equal, the one with age<MaxAge wins.
func Fresher(a, b *LSAHeader) bool {
	if a.SeqNumber != b.SeqNumber {
		return a.SeqNumber > b.SeqNumber
	}
	if a.Checksum != b.Checksum {
		return a.Checksum > b.Checksum
	}
	aMaxAge := a.Age >= MaxAge
	bMaxAge := b.Age >= MaxAge
	if aMaxAge != bMaxAge {
		return !aMaxAge
	}
	return false
}

// Equal reports whether two LSA instances carry the same seq and
// checksum (spec §8: "installing an LSA with an equal seq is a no-op").
func Equal(a, b *LSAHeader) bool {
	return a.SeqNumber == b.SeqNumber && a.Checksum == b.Checksum
}
