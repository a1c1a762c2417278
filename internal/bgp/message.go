package bgp

import (
	"fmt"

	"github.com/routed-project/routed/internal/errs"
	"github.com/routed-project/routed/internal/wire"
)

// 4.1.  Message Header Format
//    Each message has a fixed-size header, and may or may not be followed
//    by a variable-size body.
//       0                   1                   2                   3
//       0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//       +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//       |                                                               |
//       +                                                               +
//       |                           Marker                             |
//       +                                                               +
//       |                                                               |
//       +                                                               +
//       |                                                               |
//       +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//       |          Length               |      Type     |
//       +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+

const headerLength = 19
const minMessageLength = headerLength
const maxMessageLength = 4096

type msgType byte

const (
	msgOpen msgType = iota + 1
	msgUpdate
	msgNotification
	msgKeepalive
	msgRouteRefresh
)

// String names a message type for metrics labeling.
func (t msgType) String() string {
	switch t {
	case msgOpen:
		return "open"
	case msgUpdate:
		return "update"
	case msgNotification:
		return "notification"
	case msgKeepalive:
		return "keepalive"
	case msgRouteRefresh:
		return "route-refresh"
	default:
		return "unknown"
	}
}

// Marker is all-ones for an unauthenticated session (spec §4.1).
var marker = [16]byte{
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
}

// header is the decoded common 19-byte BGP header.
type header struct {
	typ    msgType
	length uint16
}

func decodeHeader(r *wire.Reader) (*header, error) {
	m, err := r.Bytes(16)
	if err != nil {
		return nil, errs.Wrap(errs.Malformed, "bgp", "truncated marker", err)
	}
	for _, b := range m {
		if b != 0xff {
			return nil, errs.New(errs.Malformed, "bgp", "connection not synchronized")
		}
	}
	length, err := r.Uint16()
	if err != nil {
		return nil, errs.Wrap(errs.Malformed, "bgp", "truncated length", err)
	}
	if length < minMessageLength || length > maxMessageLength {
		return nil, errs.New(errs.Malformed, "bgp", "bad message length")
	}
	typ, err := r.Byte()
	if err != nil {
		return nil, errs.Wrap(errs.Malformed, "bgp", "truncated type", err)
	}
	return &header{typ: msgType(typ), length: length}, nil
}

func encodeHeader(w *wire.Writer, typ msgType, bodyLen int) {
	w.Bytes(marker[:])
	w.Uint16(uint16(headerLength + bodyLen))
	w.Byte(byte(typ))
}

// Message is the decoded payload of any of the five BGP message types
// (spec §4.1). Exactly one of the typed fields is populated.
type Message struct {
	Type         msgType
	Open         *OpenMessage
	Update       *UpdateMessage
	Notification *NotificationMessage
	Keepalive    bool
}

// Decode implements the wire codec contract of spec §4.1:
// decode(buf, expected_protocol) -> (message, trailing_bytes) | Malformed.
// buf may contain more than one message back to back (as read off a TCP
// stream); Decode consumes exactly one and returns the rest.
func Decode(buf []byte) (*Message, []byte, error) {
	if len(buf) < headerLength {
		return nil, buf, errs.New(errs.Malformed, "bgp", "short header")
	}
	r := wire.NewReader(buf)
	hdr, err := decodeHeader(r)
	if err != nil {
		return nil, buf, err
	}
	if len(buf) < int(hdr.length) {
		return nil, buf, errs.New(errs.Malformed, "bgp", "truncated body")
	}
	body := buf[headerLength:hdr.length]
	trailing := buf[hdr.length:]

	msg := &Message{Type: hdr.typ}
	switch hdr.typ {
	case msgOpen:
		o, err := decodeOpen(body)
		if err != nil {
			return nil, buf, err
		}
		msg.Open = o
	case msgUpdate:
		u, err := decodeUpdate(body)
		if err != nil {
			return nil, buf, err
		}
		msg.Update = u
	case msgNotification:
		n, err := decodeNotification(body)
		if err != nil {
			return nil, buf, err
		}
		msg.Notification = n
	case msgKeepalive:
		if len(body) != 0 {
			return nil, buf, errs.New(errs.Malformed, "bgp", "bad keepalive length")
		}
		msg.Keepalive = true
	default:
		return nil, buf, errs.New(errs.Malformed, "bgp", fmt.Sprintf("bad message type %d", hdr.typ))
	}
	return msg, trailing, nil
}

// EncodeKeepalive builds the 19-byte KEEPALIVE message (spec §4.1).
func EncodeKeepalive() []byte {
	w := wire.NewWriter()
	encodeHeader(w, msgKeepalive, 0)
	return w.Finish()
}
