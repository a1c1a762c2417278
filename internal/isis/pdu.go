package isis

import (
	"github.com/routed-project/routed/internal/errs"
	"github.com/routed-project/routed/internal/wire"
)

// CommonHeader is the 8-byte fixed header in front of every IS-IS PDU
// (ISO 10589 §7, spec §4.1's "every PDU begins with a fixed common
// header").
type CommonHeader struct {
	PDUType       PDUType
	HeaderLength  byte // fixed-header + PDU-specific fixed part
	Version       byte
	MaxAreaAddrs  byte
}

// decodeCommonHeader reads all 8 octets of the ISO 10589 fixed header:
// protocol discriminator, length indicator, version/protocol ID extension,
// ID length, PDU type, version, reserved, maximum area addresses.
func decodeCommonHeader(r *wire.Reader) (*CommonHeader, error) {
	discriminator, err := r.Byte()
	if err != nil {
		return nil, errs.New(errs.Malformed, "isis", "truncated common header")
	}
	if discriminator != ProtocolDiscriminator {
		return nil, errs.New(errs.Malformed, "isis", "bad protocol discriminator")
	}
	headerLen, err := r.Byte()
	if err != nil {
		return nil, errs.New(errs.Malformed, "isis", "truncated header length")
	}
	if _, err := r.Byte(); err != nil { // version/protocol ID extension
		return nil, errs.New(errs.Malformed, "isis", "truncated version/protocol id extension")
	}
	if _, err := r.Byte(); err != nil { // ID length, 0 = default 6-byte system ID
		return nil, errs.New(errs.Malformed, "isis", "truncated id length")
	}
	pduType, err := r.Byte()
	if err != nil {
		return nil, errs.New(errs.Malformed, "isis", "truncated pdu type")
	}
	version2, err := r.Byte()
	if err != nil {
		return nil, errs.New(errs.Malformed, "isis", "truncated version2")
	}
	if _, err := r.Byte(); err != nil { // reserved
		return nil, errs.New(errs.Malformed, "isis", "truncated reserved")
	}
	maxAreaAddrs, err := r.Byte()
	if err != nil {
		return nil, errs.New(errs.Malformed, "isis", "truncated max area addrs")
	}
	return &CommonHeader{
		PDUType:      PDUType(pduType & 0x1f),
		HeaderLength: headerLen,
		Version:      version2,
		MaxAreaAddrs: maxAreaAddrs,
	}, nil
}

func encodeCommonHeader(w *wire.Writer, t PDUType, headerLen byte) {
	w.Byte(ProtocolDiscriminator)
	w.Byte(headerLen)
	w.Byte(ProtoVersion) // version/protocol ID extension
	w.Byte(0)            // ID length: 0 means default 6-byte system ID
	w.Byte(byte(t))
	w.Byte(ProtoVersion)
	w.Byte(0) // reserved
	w.Byte(MaxAreaAddrs)
}

// tlv is one decoded Type-Length-Value record.
type tlv struct {
	Type  TLVType
	Value []byte
}

func decodeTLVs(r *wire.Reader) ([]tlv, error) {
	var out []tlv
	for r.Remaining() > 0 {
		t, err := r.Byte()
		if err != nil {
			return nil, errs.New(errs.Malformed, "isis", "truncated tlv type")
		}
		l, err := r.Byte()
		if err != nil {
			return nil, errs.New(errs.Malformed, "isis", "truncated tlv length")
		}
		v, err := r.Bytes(int(l))
		if err != nil {
			return nil, errs.New(errs.Malformed, "isis", "truncated tlv value")
		}
		out = append(out, tlv{Type: TLVType(t), Value: v})
	}
	return out, nil
}

func encodeTLV(w *wire.Writer, t TLVType, value []byte) {
	w.Byte(byte(t))
	w.Byte(byte(len(value)))
	w.Bytes(value)
}

// IPReachability is one prefix entry from an Extended IP Reachability
// TLV (spec §3, §4.5), the only IP reachability TLV this codec reads.
type IPReachability struct {
	Prefix     [4]byte
	PrefixLen  byte
	Metric     uint32
	Up         bool // administrative down bit, cleared in the up case
}

func decodeExtendedIPReach(v []byte) ([]IPReachability, error) {
	r := wire.NewReader(v)
	var out []IPReachability
	for r.Remaining() > 0 {
		metricRaw, err := r.Uint32()
		if err != nil {
			return nil, errs.New(errs.Malformed, "isis", "truncated extended ip reach metric")
		}
		ctrl, err := r.Byte()
		if err != nil {
			return nil, errs.New(errs.Malformed, "isis", "truncated extended ip reach control")
		}
		prefixLen := ctrl & 0x3f
		up := ctrl&0x80 == 0
		hasSubTLVs := ctrl&0x40 != 0
		nbytes := (int(prefixLen) + 7) / 8
		raw, err := r.Bytes(nbytes)
		if err != nil {
			return nil, errs.New(errs.Malformed, "isis", "truncated extended ip reach prefix")
		}
		var p [4]byte
		copy(p[:], raw)
		if hasSubTLVs {
			subLen, err := r.Byte()
			if err != nil {
				return nil, errs.New(errs.Malformed, "isis", "truncated sub-tlv length")
			}
			if _, err := r.Bytes(int(subLen)); err != nil {
				return nil, errs.New(errs.Malformed, "isis", "truncated sub-tlvs")
			}
		}
		out = append(out, IPReachability{Prefix: p, PrefixLen: prefixLen, Metric: metricRaw & MaxWideMetric, Up: up})
	}
	return out, nil
}

func encodeExtendedIPReach(entries []IPReachability) []byte {
	w := wire.NewWriter()
	for _, e := range entries {
		w.Uint32(e.Metric & MaxWideMetric)
		ctrl := e.PrefixLen & 0x3f
		if !e.Up {
			ctrl |= 0x80
		}
		w.Byte(ctrl)
		nbytes := (int(e.PrefixLen) + 7) / 8
		w.Bytes(e.Prefix[:nbytes])
	}
	return w.Finish()
}

// ISReachability is one IS-neighbor entry from the Extended IS
// Reachability TLV (spec §4.5's wide-metric adjacency advertisement).
type ISReachability struct {
	NeighborID LSPID
	Metric     uint32
}

func decodeExtendedISReach(v []byte) ([]ISReachability, error) {
	r := wire.NewReader(v)
	var out []ISReachability
	for r.Remaining() >= 11 {
		raw, err := r.Bytes(7)
		if err != nil {
			return nil, errs.New(errs.Malformed, "isis", "truncated is reach neighbor id")
		}
		var id LSPID
		copy(id.System[:], raw[:6])
		id.PseudoNode = raw[6]
		metricRaw, err := r.Bytes(3)
		if err != nil {
			return nil, errs.New(errs.Malformed, "isis", "truncated is reach metric")
		}
		metric := uint32(metricRaw[0])<<16 | uint32(metricRaw[1])<<8 | uint32(metricRaw[2])
		subLen, err := r.Byte()
		if err != nil {
			return nil, errs.New(errs.Malformed, "isis", "truncated is reach sub-tlv length")
		}
		if _, err := r.Bytes(int(subLen)); err != nil {
			return nil, errs.New(errs.Malformed, "isis", "truncated is reach sub-tlvs")
		}
		out = append(out, ISReachability{NeighborID: id, Metric: metric})
	}
	return out, nil
}

func encodeExtendedISReach(entries []ISReachability) []byte {
	w := wire.NewWriter()
	for _, e := range entries {
		w.Bytes(e.NeighborID.System[:])
		w.Byte(e.NeighborID.PseudoNode)
		m := e.Metric & MaxWideMetric
		w.Byte(byte(m >> 16))
		w.Byte(byte(m >> 8))
		w.Byte(byte(m))
		w.Byte(0) // no sub-TLVs
	}
	return w.Finish()
}
