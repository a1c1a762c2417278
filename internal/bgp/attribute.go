package bgp

import (
	"github.com/routed-project/routed/internal/errs"
	"github.com/routed-project/routed/internal/wire"
)

// 4.3.  UPDATE Message Format / 5.  Path Attributes (spec §3, §4.1).
// Attribute flags bits, adapted from bgp/attribute.go's bit-helper shape
// (optional/wellKnown/transitive/nonTransitive/partial/complete/
// extendedLength) onto a generalized attributeType+flags pair used by
// every attribute kind rather than one ad-hoc struct per caller.

type attrFlags byte

const (
	flagOptional       attrFlags = 1 << 7
	flagTransitive     attrFlags = 1 << 6
	flagPartial        attrFlags = 1 << 5
	flagExtendedLength attrFlags = 1 << 4
)

func (f attrFlags) optional() bool       { return f&flagOptional != 0 }
func (f attrFlags) transitive() bool     { return f&flagTransitive != 0 }
func (f attrFlags) partial() bool        { return f&flagPartial != 0 }
func (f attrFlags) extendedLength() bool { return f&flagExtendedLength != 0 }

type attrType byte

const (
	attrOrigin          attrType = 1
	attrASPath          attrType = 2
	attrNextHop         attrType = 3
	attrMultiExitDisc   attrType = 4
	attrLocalPref       attrType = 5
	attrAtomicAggregate attrType = 6
	attrAggregator      attrType = 7
	attrCommunities     attrType = 8
	attrOriginatorID    attrType = 9
	attrClusterList     attrType = 10
	attrMPReachNLRI     attrType = 14
	attrMPUnreachNLRI   attrType = 15
	attrAS4Path         attrType = 17
	attrAS4Aggregator   attrType = 18
)

// ASPathSegment is one AS_SEQUENCE or AS_SET segment of the AS_PATH
// attribute (spec §3).
type ASPathSegment struct {
	Set bool // true = AS_SET, false = AS_SEQUENCE
	ASNs []ASN
}

// Attributes holds the decoded path attributes of spec §3's BGP Route
// entry: "ORIGIN, AS_PATH, NEXT_HOP, MULTI_EXIT_DISC, LOCAL_PREF,
// ATOMIC_AGGREGATE, AGGREGATOR, COMMUNITIES, ORIGINATOR_ID, CLUSTER_LIST,
// MP_REACH/UNREACH for IPv6".
type Attributes struct {
	Origin           OriginCode
	HasOrigin        bool
	ASPath           []ASPathSegment
	NextHop          []byte // 4 or 16 bytes
	MED              uint32
	HasMED           bool
	LocalPref        uint32
	HasLocalPref     bool
	AtomicAggregate  bool
	AggregatorAS     ASN
	AggregatorAddr   Identifier
	HasAggregator    bool
	Communities      []uint32
	OriginatorID     Identifier
	HasOriginatorID  bool
	ClusterList      []uint32
	MPReachNLRI      []Prefix
	MPNextHop        []byte
	MPUnreachNLRI    []Prefix
	unknownPartial   [][]byte // value bytes of unrecognized optional-transitive attrs; kept on decode only, encode() does not re-emit them
	FourByteASPath   bool
}

// ASPathLength is the AS_PATH length used by decision step 3 (spec §4.8):
// each AS_SEQUENCE entry counts once per ASN, each AS_SET counts once
// total regardless of member count (RFC 4271 §9.1.2.2).
func (a *Attributes) ASPathLength() int {
	n := 0
	for _, seg := range a.ASPath {
		if seg.Set {
			n++
		} else {
			n += len(seg.ASNs)
		}
	}
	return n
}

// ASPathContains reports whether asn appears anywhere in AS_PATH, used
// for eBGP loop detection (spec §4.8 step 3).
func (a *Attributes) ASPathContains(asn ASN) bool {
	for _, seg := range a.ASPath {
		for _, v := range seg.ASNs {
			if v == asn {
				return true
			}
		}
	}
	return false
}

func decodeAttributes(body []byte) (*Attributes, error) {
	r := wire.NewReader(body)
	a := &Attributes{}
	for r.Remaining() > 0 {
		flagsByte, err := r.Byte()
		if err != nil {
			return nil, errs.New(errs.Malformed, "bgp", "truncated attribute flags")
		}
		flags := attrFlags(flagsByte)
		typByte, err := r.Byte()
		if err != nil {
			return nil, errs.New(errs.Malformed, "bgp", "truncated attribute type")
		}
		typ := attrType(typByte)

		var length int
		if flags.extendedLength() {
			l, err := r.Uint16()
			if err != nil {
				return nil, errs.New(errs.Malformed, "bgp", "truncated extended attribute length")
			}
			length = int(l)
		} else {
			l, err := r.Byte()
			if err != nil {
				return nil, errs.New(errs.Malformed, "bgp", "truncated attribute length")
			}
			length = int(l)
		}
		val, err := r.Bytes(length)
		if err != nil {
			return nil, errs.New(errs.Malformed, "bgp", "truncated attribute value")
		}

		if err := decodeOneAttribute(typ, flags, val, a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func decodeOneAttribute(typ attrType, flags attrFlags, val []byte, a *Attributes) error {
	vr := wire.NewReader(val)
	switch typ {
	case attrOrigin:
		if len(val) != 1 {
			return errs.New(errs.ProtocolViolation, "bgp", "bad ORIGIN length")
		}
		a.Origin = OriginCode(val[0])
		a.HasOrigin = true
	case attrASPath:
		segs, err := decodeASPath(vr)
		if err != nil {
			return err
		}
		a.ASPath = segs
	case attrNextHop:
		if len(val) != 4 {
			return errs.New(errs.ProtocolViolation, "bgp", "bad NEXT_HOP length")
		}
		a.NextHop = append([]byte(nil), val...)
	case attrMultiExitDisc:
		v, err := vr.Uint32()
		if err != nil {
			return errs.New(errs.ProtocolViolation, "bgp", "bad MED length")
		}
		a.MED = v
		a.HasMED = true
	case attrLocalPref:
		v, err := vr.Uint32()
		if err != nil {
			return errs.New(errs.ProtocolViolation, "bgp", "bad LOCAL_PREF length")
		}
		a.LocalPref = v
		a.HasLocalPref = true
	case attrAtomicAggregate:
		a.AtomicAggregate = true
	case attrAggregator:
		if len(val) == 6 {
			as16, _ := vr.Uint16()
			id, _ := vr.Uint32()
			a.AggregatorAS = ASN(as16)
			a.AggregatorAddr = Identifier(id)
			a.HasAggregator = true
		} else if len(val) == 8 {
			as32, _ := vr.Uint32()
			id, _ := vr.Uint32()
			a.AggregatorAS = ASN(as32)
			a.AggregatorAddr = Identifier(id)
			a.HasAggregator = true
		}
	case attrCommunities:
		for vr.Remaining() >= 4 {
			c, _ := vr.Uint32()
			a.Communities = append(a.Communities, c)
		}
	case attrOriginatorID:
		v, err := vr.Uint32()
		if err != nil {
			return errs.New(errs.ProtocolViolation, "bgp", "bad ORIGINATOR_ID length")
		}
		a.OriginatorID = Identifier(v)
		a.HasOriginatorID = true
	case attrClusterList:
		for vr.Remaining() >= 4 {
			c, _ := vr.Uint32()
			a.ClusterList = append(a.ClusterList, c)
		}
	case attrMPReachNLRI:
		prefixes, nh, err := decodeMPReach(val)
		if err != nil {
			return err
		}
		a.MPReachNLRI = prefixes
		a.MPNextHop = nh
	case attrMPUnreachNLRI:
		prefixes, err := decodeMPUnreach(val)
		if err != nil {
			return err
		}
		a.MPUnreachNLRI = prefixes
	default:
		// Unrecognized attribute: dropped unless it is optional and
		// transitive, in which case its value bytes (without flags or
		// type) are kept in unknownPartial. The Partial bit is not set and
		// the attribute is not re-advertised.
		if flags.optional() && flags.transitive() {
			a.unknownPartial = append(a.unknownPartial, val)
		}
	}
	return nil
}

func decodeASPath(r *wire.Reader) ([]ASPathSegment, error) {
	var segs []ASPathSegment
	for r.Remaining() > 0 {
		typByte, err := r.Byte()
		if err != nil {
			return nil, errs.New(errs.ProtocolViolation, "bgp", "malformed AS_PATH")
		}
		count, err := r.Byte()
		if err != nil {
			return nil, errs.New(errs.ProtocolViolation, "bgp", "malformed AS_PATH")
		}
		seg := ASPathSegment{Set: typByte == 1}
		for i := 0; i < int(count); i++ {
			asn, err := r.Uint16()
			if err != nil {
				return nil, errs.New(errs.ProtocolViolation, "bgp", "malformed AS_PATH")
			}
			seg.ASNs = append(seg.ASNs, ASN(asn))
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

func encodeASPath(segs []ASPathSegment) []byte {
	w := wire.NewWriter()
	for _, seg := range segs {
		t := byte(2) // AS_SEQUENCE
		if seg.Set {
			t = 1
		}
		w.Byte(t)
		w.Byte(byte(len(seg.ASNs)))
		for _, asn := range seg.ASNs {
			w.Uint16(uint16(asn))
		}
	}
	return w.Finish()
}

// encodeAttribute writes one <flags, type, length, value> TLV.
func encodeAttribute(w *wire.Writer, flags attrFlags, typ attrType, value []byte) {
	if len(value) > 255 {
		flags |= flagExtendedLength
	}
	w.Byte(byte(flags))
	w.Byte(byte(typ))
	if flags.extendedLength() {
		w.Uint16(uint16(len(value)))
	} else {
		w.Byte(byte(len(value)))
	}
	w.Bytes(value)
}

func (a *Attributes) encode() []byte {
	w := wire.NewWriter()
	if a.HasOrigin {
		encodeAttribute(w, flagTransitive, attrOrigin, []byte{byte(a.Origin)})
	}
	encodeAttribute(w, flagTransitive, attrASPath, encodeASPath(a.ASPath))
	if len(a.NextHop) == 4 {
		encodeAttribute(w, flagTransitive, attrNextHop, a.NextHop)
	}
	if a.HasMED {
		mw := wire.NewWriter()
		mw.Uint32(a.MED)
		encodeAttribute(w, flagOptional, attrMultiExitDisc, mw.Finish())
	}
	if a.HasLocalPref {
		lw := wire.NewWriter()
		lw.Uint32(a.LocalPref)
		encodeAttribute(w, flagTransitive, attrLocalPref, lw.Finish())
	}
	if a.AtomicAggregate {
		encodeAttribute(w, flagTransitive, attrAtomicAggregate, nil)
	}
	if a.HasAggregator {
		aw := wire.NewWriter()
		aw.Uint32(uint32(a.AggregatorAS))
		aw.Uint32(uint32(a.AggregatorAddr))
		encodeAttribute(w, flagOptional|flagTransitive, attrAggregator, aw.Finish())
	}
	if len(a.Communities) > 0 {
		cw := wire.NewWriter()
		for _, c := range a.Communities {
			cw.Uint32(c)
		}
		encodeAttribute(w, flagOptional|flagTransitive, attrCommunities, cw.Finish())
	}
	if a.HasOriginatorID {
		ow := wire.NewWriter()
		ow.Uint32(uint32(a.OriginatorID))
		encodeAttribute(w, flagOptional, attrOriginatorID, ow.Finish())
	}
	if len(a.ClusterList) > 0 {
		cw := wire.NewWriter()
		for _, c := range a.ClusterList {
			cw.Uint32(c)
		}
		encodeAttribute(w, flagOptional, attrClusterList, cw.Finish())
	}
	if len(a.MPReachNLRI) > 0 {
		encodeAttribute(w, flagOptional, attrMPReachNLRI, encodeMPReach(a.MPReachNLRI, a.MPNextHop))
	}
	if len(a.MPUnreachNLRI) > 0 {
		encodeAttribute(w, flagOptional, attrMPUnreachNLRI, encodeMPUnreach(a.MPUnreachNLRI))
	}
	return w.Finish()
}
