package isis

import (
	"net"

	"github.com/routed-project/routed/internal/errs"
	"github.com/routed-project/routed/internal/wire"
)

// Hello is a decoded IIH (IS-IS Hello), covering both the LAN and
// point-to-point variants (spec §4.5's "Hello" PDU). The LAN/P2P
// distinction lives in CircuitType + whether DIS is meaningful; the
// fixed-part layout differs slightly (P2P carries a Local Circuit ID
// instead of a Priority+LAN ID pair) so both are decoded into this one
// struct with the unused field left zero.
type Hello struct {
	CircuitType CircuitType
	Level       Level
	SourceID    SystemID
	HoldTime    uint16
	Priority    byte     // LAN only
	LANID       LSPID    // LAN only: designated IS on this segment
	LocalCircuitID byte  // P2P only
	AreaAddrs   [][]byte
	Neighbors   []net.HardwareAddr // LAN only: MACs heard on this circuit
	Hostname    string
}

func decodeHello(pduType PDUType, body []byte) (*Hello, error) {
	r := wire.NewReader(body)
	h := &Hello{Level: pduType.Level()}

	if _, err := r.Byte(); err != nil { // circuit type
		return nil, errs.New(errs.Malformed, "isis", "truncated iih circuit type")
	}
	sysID, err := r.Bytes(SystemIDLen)
	if err != nil {
		return nil, errs.New(errs.Malformed, "isis", "truncated iih source id")
	}
	copy(h.SourceID[:], sysID)
	hold, err := r.Uint16()
	if err != nil {
		return nil, errs.New(errs.Malformed, "isis", "truncated iih hold time")
	}
	h.HoldTime = hold
	if _, err := r.Uint16(); err != nil { // PDU length, recomputed on encode
		return nil, errs.New(errs.Malformed, "isis", "truncated iih pdu length")
	}

	if pduType == PDUP2PIIH {
		h.CircuitType = CircuitP2P
		lcid, err := r.Byte()
		if err != nil {
			return nil, errs.New(errs.Malformed, "isis", "truncated iih local circuit id")
		}
		h.LocalCircuitID = lcid
	} else {
		h.CircuitType = CircuitBroadcast
		prio, err := r.Byte()
		if err != nil {
			return nil, errs.New(errs.Malformed, "isis", "truncated iih priority")
		}
		h.Priority = prio & 0x7f
		lanID, err := r.Bytes(7)
		if err != nil {
			return nil, errs.New(errs.Malformed, "isis", "truncated iih lan id")
		}
		copy(h.LANID.System[:], lanID[:6])
		h.LANID.PseudoNode = lanID[6]
	}

	tlvs, err := decodeTLVs(r)
	if err != nil {
		return nil, err
	}
	for _, t := range tlvs {
		switch t.Type {
		case TLVAreaAddresses:
			h.AreaAddrs = append(h.AreaAddrs, decodeAreaAddresses(t.Value)...)
		case TLVISNeighborsVar:
			for i := 0; i+6 <= len(t.Value); i += 6 {
				mac := make(net.HardwareAddr, 6)
				copy(mac, t.Value[i:i+6])
				h.Neighbors = append(h.Neighbors, mac)
			}
		case TLVHostname:
			h.Hostname = string(t.Value)
		}
	}
	return h, nil
}

func decodeAreaAddresses(v []byte) [][]byte {
	r := wire.NewReader(v)
	var out [][]byte
	for r.Remaining() > 0 {
		l, err := r.Byte()
		if err != nil {
			return out
		}
		b, err := r.Bytes(int(l))
		if err != nil {
			return out
		}
		out = append(out, append([]byte(nil), b...))
	}
	return out
}

func encodeAreaAddresses(areas [][]byte) []byte {
	w := wire.NewWriter()
	for _, a := range areas {
		w.Byte(byte(len(a)))
		w.Bytes(a)
	}
	return w.Finish()
}

// Encode serializes h back to wire format for the matching PDU type
// (LAN L1/L2 or P2P, chosen by the caller based on circuit and level).
func (h *Hello) Encode(pduType PDUType, localMAC net.HardwareAddr) []byte {
	fixed := wire.NewWriter()
	circuitType := byte(h.CircuitType)
	if h.Level == Level1 {
		circuitType = 1
	} else if h.Level == Level2 && h.CircuitType == CircuitBroadcast {
		circuitType = 2
	}
	fixed.Byte(circuitType)
	fixed.Bytes(h.SourceID[:])
	fixed.Uint16(h.HoldTime)
	lenOffset := fixed.Len()
	fixed.Uint16(0) // PDU length placeholder

	if pduType == PDUP2PIIH {
		fixed.Byte(h.LocalCircuitID)
	} else {
		fixed.Byte(h.Priority & 0x7f)
		fixed.Bytes(h.LANID.System[:])
		fixed.Byte(h.LANID.PseudoNode)
	}

	tlvs := wire.NewWriter()
	if len(h.AreaAddrs) > 0 {
		encodeTLV(tlvs, TLVAreaAddresses, encodeAreaAddresses(h.AreaAddrs))
	}
	if len(h.Neighbors) > 0 {
		nb := wire.NewWriter()
		for _, m := range h.Neighbors {
			nb.Bytes(m[:6])
		}
		encodeTLV(tlvs, TLVISNeighborsVar, nb.Finish())
	}
	if h.Hostname != "" {
		encodeTLV(tlvs, TLVHostname, []byte(h.Hostname))
	}

	headerLen := CommonHeaderLen + fixed.Len()
	w := wire.NewWriter()
	encodeCommonHeader(w, pduType, byte(headerLen))
	w.Bytes(fixed.Finish())
	w.Bytes(tlvs.Finish())
	out := w.Finish()
	pduLen := uint16(len(out))
	// lenOffset is relative to the start of the fixed part, which begins
	// right after the 8-byte common header.
	patchUint16At(out, CommonHeaderLen+lenOffset, pduLen)
	return out
}

// patchUint16At overwrites a big-endian uint16 at an absolute offset in an
// already-finished buffer (Writer.PatchUint16 only works mid-accumulation,
// before Finish; Hello's length field is patched after concatenating the
// TLV section, so it operates on the raw slice directly).
func patchUint16At(buf []byte, offset int, v uint16) {
	buf[offset] = byte(v >> 8)
	buf[offset+1] = byte(v)
}
