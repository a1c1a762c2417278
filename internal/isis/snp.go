package isis

import (
	"github.com/routed-project/routed/internal/errs"
	"github.com/routed-project/routed/internal/wire"
)

// LSPEntry is one summary record inside a CSNP or PSNP (spec §4.5's
// "CSNP/PSNP sync" — each entry names an LSP and its sequence/checksum/
// lifetime without carrying the full body).
type LSPEntry struct {
	RemainingLifetime uint16
	ID                LSPID
	SeqNumber         uint32
	Checksum          uint16
}

func decodeLSPEntries(v []byte) ([]LSPEntry, error) {
	r := wire.NewReader(v)
	var out []LSPEntry
	for r.Remaining() >= 16 {
		lifetime, err := r.Uint16()
		if err != nil {
			return nil, errs.New(errs.Malformed, "isis", "truncated lsp entry lifetime")
		}
		idRaw, err := r.Bytes(8)
		if err != nil {
			return nil, errs.New(errs.Malformed, "isis", "truncated lsp entry id")
		}
		seq, err := r.Uint32()
		if err != nil {
			return nil, errs.New(errs.Malformed, "isis", "truncated lsp entry sequence")
		}
		checksum, err := r.Uint16()
		if err != nil {
			return nil, errs.New(errs.Malformed, "isis", "truncated lsp entry checksum")
		}
		e := LSPEntry{RemainingLifetime: lifetime, SeqNumber: seq, Checksum: checksum}
		copy(e.ID.System[:], idRaw[:6])
		e.ID.PseudoNode = idRaw[6]
		e.ID.Number = idRaw[7]
		out = append(out, e)
	}
	return out, nil
}

func encodeLSPEntries(entries []LSPEntry) []byte {
	w := wire.NewWriter()
	for _, e := range entries {
		w.Uint16(e.RemainingLifetime)
		w.Bytes(e.ID.System[:])
		w.Byte(e.ID.PseudoNode)
		w.Byte(e.ID.Number)
		w.Uint32(e.SeqNumber)
		w.Uint16(e.Checksum)
	}
	return w.Finish()
}

// CSNP is a Complete Sequence Numbers PDU: a full snapshot of the
// sender's LSDB for one level, used for periodic/initial sync (spec
// §4.5). StartID/EndID bound the LSP-ID range this CSNP describes (ISO
// 10589 §9.10). Encode writes every entry into one PDU, spread over as
// many LSP Entries TLVs as needed; the speaker sends its whole LSDB as a
// single CSNP with StartID/EndID left zero and never splits it by range.
type CSNP struct {
	Level   Level
	SrcID   SystemID
	StartID LSPID
	EndID   LSPID
	Entries []LSPEntry
}

func decodeCSNP(level Level, body []byte) (*CSNP, error) {
	r := wire.NewReader(body)
	if _, err := r.Uint16(); err != nil { // PDU length
		return nil, errs.New(errs.Malformed, "isis", "truncated csnp pdu length")
	}
	src, err := r.Bytes(SystemIDLen)
	if err != nil {
		return nil, errs.New(errs.Malformed, "isis", "truncated csnp source id")
	}
	startRaw, err := r.Bytes(8)
	if err != nil {
		return nil, errs.New(errs.Malformed, "isis", "truncated csnp start id")
	}
	endRaw, err := r.Bytes(8)
	if err != nil {
		return nil, errs.New(errs.Malformed, "isis", "truncated csnp end id")
	}
	tlvs, err := decodeTLVs(r)
	if err != nil {
		return nil, err
	}
	c := &CSNP{Level: level}
	copy(c.SrcID[:], src)
	c.StartID = parseLSPID(startRaw)
	c.EndID = parseLSPID(endRaw)
	for _, t := range tlvs {
		if t.Type == TLVLSPEntries {
			entries, err := decodeLSPEntries(t.Value)
			if err != nil {
				return nil, err
			}
			c.Entries = append(c.Entries, entries...)
		}
	}
	return c, nil
}

func parseLSPID(raw []byte) LSPID {
	var id LSPID
	copy(id.System[:], raw[:6])
	id.PseudoNode = raw[6]
	id.Number = raw[7]
	return id
}

func (c *CSNP) Encode() []byte {
	pduType := PDUL1CSNP
	if c.Level == Level2 {
		pduType = PDUL2CSNP
	}
	fixed := wire.NewWriter()
	fixed.Uint16(0) // PDU length placeholder
	fixed.Bytes(c.SrcID[:])
	fixed.Bytes(c.StartID.System[:])
	fixed.Byte(c.StartID.PseudoNode)
	fixed.Byte(c.StartID.Number)
	fixed.Bytes(c.EndID.System[:])
	fixed.Byte(c.EndID.PseudoNode)
	fixed.Byte(c.EndID.Number)

	tlvs := wire.NewWriter()
	// LSP Entries TLVs are capped at 255 bytes of value (one byte length
	// field), i.e. up to 15 entries (16 bytes each) per TLV.
	const perTLV = 15
	all := encodeLSPEntries(c.Entries)
	for off := 0; off < len(all); off += perTLV * 16 {
		end := off + perTLV*16
		if end > len(all) {
			end = len(all)
		}
		encodeTLV(tlvs, TLVLSPEntries, all[off:end])
	}

	headerLen := CommonHeaderLen + fixed.Len()
	w := wire.NewWriter()
	encodeCommonHeader(w, pduType, byte(headerLen))
	w.Bytes(fixed.Finish())
	w.Bytes(tlvs.Finish())
	out := w.Finish()
	patchUint16At(out, CommonHeaderLen, uint16(len(out)))
	return out
}

// PSNP is a Partial Sequence Numbers PDU: an ack/request for specific
// LSPs (spec §4.5's PSNP use for both acknowledging received LSPs on
// point-to-point circuits and requesting newer copies after a CSNP
// comparison finds a gap).
type PSNP struct {
	Level   Level
	SrcID   SystemID
	Entries []LSPEntry
}

func decodePSNP(level Level, body []byte) (*PSNP, error) {
	r := wire.NewReader(body)
	if _, err := r.Uint16(); err != nil {
		return nil, errs.New(errs.Malformed, "isis", "truncated psnp pdu length")
	}
	src, err := r.Bytes(SystemIDLen)
	if err != nil {
		return nil, errs.New(errs.Malformed, "isis", "truncated psnp source id")
	}
	tlvs, err := decodeTLVs(r)
	if err != nil {
		return nil, err
	}
	p := &PSNP{Level: level}
	copy(p.SrcID[:], src)
	for _, t := range tlvs {
		if t.Type == TLVLSPEntries {
			entries, err := decodeLSPEntries(t.Value)
			if err != nil {
				return nil, err
			}
			p.Entries = append(p.Entries, entries...)
		}
	}
	return p, nil
}

func (p *PSNP) Encode() []byte {
	pduType := PDUL1PSNP
	if p.Level == Level2 {
		pduType = PDUL2PSNP
	}
	fixed := wire.NewWriter()
	fixed.Uint16(0)
	fixed.Bytes(p.SrcID[:])

	tlvs := wire.NewWriter()
	const perTLV = 15
	all := encodeLSPEntries(p.Entries)
	for off := 0; off < len(all); off += perTLV * 16 {
		end := off + perTLV*16
		if end > len(all) {
			end = len(all)
		}
		encodeTLV(tlvs, TLVLSPEntries, all[off:end])
	}

	headerLen := CommonHeaderLen + fixed.Len()
	w := wire.NewWriter()
	encodeCommonHeader(w, pduType, byte(headerLen))
	w.Bytes(fixed.Finish())
	w.Bytes(tlvs.Finish())
	out := w.Finish()
	patchUint16At(out, CommonHeaderLen, uint16(len(out)))
	return out
}
