package bgp

import (
	"github.com/routed-project/routed/internal/errs"
	"github.com/routed-project/routed/internal/wire"
)

// 4.3.  UPDATE Message Format (spec §4.1). Adapted from bgp/update.go's
// decode logic, split from FSM handling (kept in fsm.go) so the codec is
// pure per spec §4.1's "pure functions mapping bytes <-> typed
// messages".
type UpdateMessage struct {
	WithdrawnRoutes []Prefix
	Attributes      *Attributes
	NLRI            []Prefix
}

func decodeUpdate(body []byte) (*UpdateMessage, error) {
	r := wire.NewReader(body)

	wLen, err := r.Uint16()
	if err != nil {
		return nil, errs.New(errs.Malformed, "bgp", "truncated withdrawn-routes length")
	}
	wBytes, err := r.Bytes(int(wLen))
	if err != nil {
		return nil, errs.New(errs.Malformed, "bgp", "truncated withdrawn routes")
	}
	withdrawn, err := decodePrefixes(wire.NewReader(wBytes), 4)
	if err != nil {
		return nil, err
	}

	aLen, err := r.Uint16()
	if err != nil {
		return nil, errs.New(errs.Malformed, "bgp", "truncated path-attribute length")
	}
	aBytes, err := r.Bytes(int(aLen))
	if err != nil {
		return nil, errs.New(errs.Malformed, "bgp", "truncated path attributes")
	}
	var attrs *Attributes
	if aLen > 0 {
		attrs, err = decodeAttributes(aBytes)
		if err != nil {
			return nil, err
		}
	} else {
		attrs = &Attributes{}
	}

	nlri, err := decodePrefixes(r, 4)
	if err != nil {
		return nil, err
	}

	// 6.3.  UPDATE Message Error Handling: mandatory attributes must be
	// present whenever NLRI is non-empty (spec §4.8 step 2).
	if len(nlri) > 0 {
		if !attrs.HasOrigin {
			return nil, errs.New(errs.ProtocolViolation, "bgp", "missing ORIGIN")
		}
		if attrs.ASPath == nil {
			return nil, errs.New(errs.ProtocolViolation, "bgp", "missing AS_PATH")
		}
		if len(attrs.NextHop) == 0 {
			return nil, errs.New(errs.ProtocolViolation, "bgp", "missing NEXT_HOP")
		}
	}

	return &UpdateMessage{WithdrawnRoutes: withdrawn, Attributes: attrs, NLRI: nlri}, nil
}

func (u *UpdateMessage) Encode() []byte {
	wBody := wire.NewWriter()
	encodePrefixes(wBody, u.WithdrawnRoutes)

	var attrBytes []byte
	if u.Attributes != nil {
		attrBytes = u.Attributes.encode()
	}

	body := wire.NewWriter()
	body.Uint16(uint16(wBody.Len()))
	body.Bytes(wBody.Finish())
	body.Uint16(uint16(len(attrBytes)))
	body.Bytes(attrBytes)
	encodePrefixes(body, u.NLRI)

	w := wire.NewWriter()
	encodeHeader(w, msgUpdate, body.Len())
	w.Bytes(body.Finish())
	return w.Finish()
}

// EncodeWithdrawAll builds an UPDATE that withdraws every prefix in
// prefixes with no NLRI/attributes. propagateWithdraw uses it to withdraw
// a prefix that left Loc-RIB from every Established peer.
func EncodeWithdrawAll(prefixes []Prefix) []byte {
	u := &UpdateMessage{WithdrawnRoutes: prefixes, Attributes: &Attributes{}}
	return u.Encode()
}
