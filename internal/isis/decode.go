package isis

import (
	"github.com/routed-project/routed/internal/errs"
	"github.com/routed-project/routed/internal/wire"
)

// PDU is the decoded envelope returned by Decode: exactly one of the
// typed fields is populated, mirroring bgp.Message's shape for the same
// "one codec entry point per protocol" convention (spec §4.1).
type PDU struct {
	Header *CommonHeader
	Hello  *Hello
	LSP    *LSP
	CSNP   *CSNP
	PSNP   *PSNP
}

// Decode parses one complete link-layer frame payload (spec §4.1's codec
// contract: decode(buf, expected_protocol) -> message | Malformed).
// Unlike BGP's TCP stream, IS-IS PDUs each arrive as one full datagram
// already delimited by the link layer, so there is no trailing-bytes
// concept here.
func Decode(buf []byte) (*PDU, error) {
	if len(buf) < CommonHeaderLen {
		return nil, errs.New(errs.Malformed, "isis", "short common header")
	}
	r := wire.NewReader(buf)
	hdr, err := decodeCommonHeader(r)
	if err != nil {
		return nil, err
	}
	body := buf[CommonHeaderLen:]

	pdu := &PDU{Header: hdr}
	switch hdr.PDUType {
	case PDUL1LANIIH, PDUL2LANIIH, PDUP2PIIH:
		h, err := decodeHello(hdr.PDUType, body)
		if err != nil {
			return nil, err
		}
		pdu.Hello = h
	case PDUL1LSP, PDUL2LSP:
		l, err := decodeLSP(body)
		if err != nil {
			return nil, err
		}
		pdu.LSP = l
	case PDUL1CSNP, PDUL2CSNP:
		c, err := decodeCSNP(hdr.PDUType.Level(), body)
		if err != nil {
			return nil, err
		}
		pdu.CSNP = c
	case PDUL1PSNP, PDUL2PSNP:
		p, err := decodePSNP(hdr.PDUType.Level(), body)
		if err != nil {
			return nil, err
		}
		pdu.PSNP = p
	default:
		return nil, errs.New(errs.Malformed, "isis", "unknown pdu type")
	}
	return pdu, nil
}
