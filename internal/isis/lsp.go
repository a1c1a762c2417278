package isis

import (
	"github.com/routed-project/routed/internal/errs"
	"github.com/routed-project/routed/internal/wire"
)

// LSP is a decoded Link State PDU (spec §4.5's LSDB entry, ISO 10589
// §9.7). Metric/reachability are carried only in their wide (Extended)
// TLV forms — spec §4.5 requires wide metrics for the redistribution
// fabric's cost comparisons, so the narrow IP/IS Reachability TLVs
// (types 128/2) from constants.py are decoded nowhere in this build.
type LSP struct {
	ID          LSPID
	SeqNumber   uint32
	RemainingLifetime uint16
	Checksum    uint16
	AreaAddrs   [][]byte
	ISReach     []ISReachability
	IPReach     []IPReachability
	Hostname    string
	Overload    bool
	AttachedToL2 bool
}

func decodeLSP(body []byte) (*LSP, error) {
	r := wire.NewReader(body)
	if _, err := r.Uint16(); err != nil { // PDU length
		return nil, errs.New(errs.Malformed, "isis", "truncated lsp pdu length")
	}
	lifetime, err := r.Uint16()
	if err != nil {
		return nil, errs.New(errs.Malformed, "isis", "truncated lsp lifetime")
	}
	idRaw, err := r.Bytes(8)
	if err != nil {
		return nil, errs.New(errs.Malformed, "isis", "truncated lsp id")
	}
	seq, err := r.Uint32()
	if err != nil {
		return nil, errs.New(errs.Malformed, "isis", "truncated lsp sequence")
	}
	checksum, err := r.Uint16()
	if err != nil {
		return nil, errs.New(errs.Malformed, "isis", "truncated lsp checksum")
	}
	flags, err := r.Byte()
	if err != nil {
		return nil, errs.New(errs.Malformed, "isis", "truncated lsp flags")
	}

	l := &LSP{
		RemainingLifetime: lifetime,
		SeqNumber:         seq,
		Checksum:          checksum,
		Overload:          flags&0x08 != 0,
		AttachedToL2:      flags&0x04 != 0,
	}
	copy(l.ID.System[:], idRaw[:6])
	l.ID.PseudoNode = idRaw[6]
	l.ID.Number = idRaw[7]

	tlvs, err := decodeTLVs(r)
	if err != nil {
		return nil, err
	}
	for _, t := range tlvs {
		switch t.Type {
		case TLVAreaAddresses:
			l.AreaAddrs = append(l.AreaAddrs, decodeAreaAddresses(t.Value)...)
		case TLVExtendedISReach:
			entries, err := decodeExtendedISReach(t.Value)
			if err != nil {
				return nil, err
			}
			l.ISReach = append(l.ISReach, entries...)
		case TLVExtendedIPReach:
			entries, err := decodeExtendedIPReach(t.Value)
			if err != nil {
				return nil, err
			}
			l.IPReach = append(l.IPReach, entries...)
		case TLVHostname:
			l.Hostname = string(t.Value)
		}
	}
	return l, nil
}

// Encode serializes l for the given level and fills in the Fletcher-16
// checksum over the portion of the PDU covered by ISO 10589 Annex C
// (everything after the lifetime field — lifetime itself, like OSPF's LSA
// age, is excluded so routers don't have to recompute the checksum every
// time they age an LSP down).
func (l *LSP) Encode(level Level) []byte {
	fixed := wire.NewWriter()
	fixed.Uint16(0) // PDU length placeholder
	fixed.Uint16(l.RemainingLifetime)
	fixed.Bytes(l.ID.System[:])
	fixed.Byte(l.ID.PseudoNode)
	fixed.Byte(l.ID.Number)
	fixed.Uint32(l.SeqNumber)
	checksumOffset := fixed.Len()
	fixed.Uint16(0) // checksum placeholder
	var flags byte
	if l.Overload {
		flags |= 0x08
	}
	if l.AttachedToL2 {
		flags |= 0x04
	}
	flags |= 0x03 // type bits: this is an L1+L2-capable IS (area+all-towards)
	fixed.Byte(flags)

	tlvs := wire.NewWriter()
	if len(l.AreaAddrs) > 0 {
		encodeTLV(tlvs, TLVAreaAddresses, encodeAreaAddresses(l.AreaAddrs))
	}
	if len(l.ISReach) > 0 {
		encodeTLV(tlvs, TLVExtendedISReach, encodeExtendedISReach(l.ISReach))
	}
	if len(l.IPReach) > 0 {
		encodeTLV(tlvs, TLVExtendedIPReach, encodeExtendedIPReach(l.IPReach))
	}
	if l.Hostname != "" {
		encodeTLV(tlvs, TLVHostname, []byte(l.Hostname))
	}

	pduType := PDUL1LSP
	if level == Level2 {
		pduType = PDUL2LSP
	}
	headerLen := CommonHeaderLen + fixed.Len()
	w := wire.NewWriter()
	encodeCommonHeader(w, pduType, byte(headerLen))
	w.Bytes(fixed.Finish())
	w.Bytes(tlvs.Finish())
	out := w.Finish()

	patchUint16At(out, CommonHeaderLen, uint16(len(out)))

	// Checksum covers everything from the LSP ID field onward (i.e. after
	// PDU length and remaining lifetime), matching ISO 10589 Annex C's
	// exclusion of the lifetime field — the same rule OSPF applies to its
	// Age field.
	body := out[CommonHeaderLen+4:]
	localChecksumOffset := checksumOffset - 4 // relative to body, pdu-length+lifetime(4) already stripped
	checksum := wire.LSAChecksum(body, localChecksumOffset)
	patchUint16At(out, CommonHeaderLen+4+localChecksumOffset, checksum)
	l.Checksum = checksum
	return out
}

// VerifyChecksum recomputes and checks the Fletcher-16 checksum of a
// decoded LSP's original wire bytes (spec §4.5's "reject LSPs that fail
// checksum verification").
func VerifyChecksum(raw []byte) bool {
	if len(raw) < CommonHeaderLen+4 {
		return false
	}
	return wire.VerifyFletcher16(raw[CommonHeaderLen+4:])
}
