package bgp

import (
	"time"

	"github.com/routed-project/routed/internal/errs"
	"github.com/routed-project/routed/internal/wire"
)

// 4.2.  OPEN Message Format (spec §4.1, §4.8). Adapted from
// message/open.go, widened to carry Capabilities (4-byte ASN, MP-BGP)
// per spec §4.8's OPEN validation requirements, which message/open.go
// left as a bare optParameters blob.

const minOpenLength = 10 // version(1) + myAS(2) + holdTime(2) + id(4) + optParmLen(1)

type capabilityCode byte

const (
	capMultiprotocol capabilityCode = 1
	capRouteRefresh  capabilityCode = 2
	capAS4           capabilityCode = 65
	capGracefulRestart capabilityCode = 64
)

// AFISAFI identifies one address family the speaker negotiated via the
// multiprotocol capability (spec §4.8: "MP-BGP for AFI/SAFI we use").
type AFISAFI struct {
	AFI  uint16
	SAFI byte
}

var (
	AFISAFIIPv4Unicast = AFISAFI{AFI: 1, SAFI: 1}
	AFISAFIIPv6Unicast = AFISAFI{AFI: 2, SAFI: 1}
)

type OpenMessage struct {
	Version       Version
	MyAS          ASN // true 4-byte value if AS4 capability present
	HoldTime      uint16
	BGPIdentifier Identifier
	FourByteASN   bool
	MPFamilies    []AFISAFI
	GracefulRestart bool
}

func decodeOpen(body []byte) (*OpenMessage, error) {
	if len(body) < minOpenLength {
		return nil, errs.New(errs.Malformed, "bgp", "short OPEN")
	}
	r := wire.NewReader(body)
	ver, _ := r.Byte()
	as16, _ := r.Uint16()
	hold, _ := r.Uint16()
	id, _ := r.Uint32()
	optLen, err := r.Byte()
	if err != nil {
		return nil, errs.New(errs.Malformed, "bgp", "truncated OPEN")
	}
	opts, err := r.Bytes(int(optLen))
	if err != nil {
		return nil, errs.New(errs.Malformed, "bgp", "truncated optional parameters")
	}

	o := &OpenMessage{
		Version:       Version(ver),
		MyAS:          ASN(as16),
		HoldTime:      hold,
		BGPIdentifier: Identifier(id),
	}
	if err := decodeOptionalParameters(opts, o); err != nil {
		return nil, err
	}
	return o, nil
}

// decodeOptionalParameters walks the <type, length, value> optional
// parameter list looking for Capabilities (parameter type 2, RFC 5492);
// unrecognized parameters are skipped, matching message/open.go's
// "Unsupported Optional Parameters" handling without rejecting the
// whole OPEN for a capability we simply don't use.
func decodeOptionalParameters(opts []byte, o *OpenMessage) error {
	r := wire.NewReader(opts)
	for r.Remaining() > 0 {
		pType, err := r.Byte()
		if err != nil {
			return errs.New(errs.Malformed, "bgp", "truncated parameter")
		}
		pLen, err := r.Byte()
		if err != nil {
			return errs.New(errs.Malformed, "bgp", "truncated parameter length")
		}
		val, err := r.Bytes(int(pLen))
		if err != nil {
			return errs.New(errs.Malformed, "bgp", "truncated parameter value")
		}
		if pType == 2 { // Capabilities
			if err := decodeCapabilities(val, o); err != nil {
				return err
			}
		}
	}
	return nil
}

func decodeCapabilities(val []byte, o *OpenMessage) error {
	r := wire.NewReader(val)
	for r.Remaining() > 0 {
		code, err := r.Byte()
		if err != nil {
			return errs.New(errs.Malformed, "bgp", "truncated capability")
		}
		length, err := r.Byte()
		if err != nil {
			return errs.New(errs.Malformed, "bgp", "truncated capability length")
		}
		cv, err := r.Bytes(int(length))
		if err != nil {
			return errs.New(errs.Malformed, "bgp", "truncated capability value")
		}
		switch capabilityCode(code) {
		case capAS4:
			if len(cv) == 4 {
				cr := wire.NewReader(cv)
				as4, _ := cr.Uint32()
				o.MyAS = ASN(as4)
				o.FourByteASN = true
			}
		case capMultiprotocol:
			if len(cv) == 4 {
				cr := wire.NewReader(cv)
				afi, _ := cr.Uint16()
				_, _ = cr.Byte() // reserved
				safi, _ := cr.Byte()
				o.MPFamilies = append(o.MPFamilies, AFISAFI{AFI: afi, SAFI: safi})
			}
		case capGracefulRestart:
			o.GracefulRestart = true
		}
	}
	return nil
}

func (o *OpenMessage) Encode() []byte {
	caps := wire.NewWriter()
	if o.FourByteASN {
		capBody := wire.NewWriter()
		capBody.Uint32(uint32(o.MyAS))
		caps.Byte(byte(capAS4))
		caps.Byte(byte(capBody.Len()))
		caps.Bytes(capBody.Finish())
	}
	for _, f := range o.MPFamilies {
		capBody := wire.NewWriter()
		capBody.Uint16(f.AFI)
		capBody.Byte(0)
		capBody.Byte(f.SAFI)
		caps.Byte(byte(capMultiprotocol))
		caps.Byte(byte(capBody.Len()))
		caps.Bytes(capBody.Finish())
	}

	opts := wire.NewWriter()
	if caps.Len() > 0 {
		opts.Byte(2) // Capabilities parameter type
		opts.Byte(byte(caps.Len()))
		opts.Bytes(caps.Finish())
	}

	w := wire.NewWriter()
	encodeHeader(w, msgOpen, minOpenLength+opts.Len())
	w.Byte(byte(o.Version))
	as16 := uint16(ASTrans)
	if !o.FourByteASN || o.MyAS <= 0xffff {
		as16 = uint16(o.MyAS)
	}
	w.Uint16(as16)
	w.Uint16(o.HoldTime)
	w.Uint32(uint32(o.BGPIdentifier))
	w.Byte(byte(opts.Len()))
	w.Bytes(opts.Finish())
	return w.Finish()
}

// Validate implements spec §4.8's OPEN validation: supported version,
// matching expected AS, non-zero router-id different from ours, and a
// hold time that is zero or at least minHoldTime. Capabilities are not
// checked: an OPEN without the 4-byte-ASN or multiprotocol capability is
// accepted. Returns the NOTIFICATION to send on failure.
func Validate(o *OpenMessage, expectRemoteAS ASN, localID Identifier, minHoldTime time.Duration) *NotificationMessage {
	if o.Version != CurrentVersion {
		return NewNotification(OpenMessageError, UnsupportedVersionNumber, nil)
	}
	if expectRemoteAS != 0 && o.MyAS != expectRemoteAS {
		return NewNotification(OpenMessageError, BadPeerAS, nil)
	}
	if o.BGPIdentifier == 0 || o.BGPIdentifier == localID {
		return NewNotification(OpenMessageError, BadBGPIdentifier, nil)
	}
	if o.HoldTime > 0 && time.Duration(o.HoldTime)*time.Second < minHoldTime {
		return NewNotification(OpenMessageError, UnacceptableHoldTime, nil)
	}
	return nil
}

// NegotiatedHoldTime is "the smaller of its configured Hold Time and the
// Hold Time received" (spec §4.8).
func NegotiatedHoldTime(local, remote uint16) uint16 {
	if remote < local {
		return remote
	}
	return local
}
