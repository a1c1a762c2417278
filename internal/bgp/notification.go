package bgp

import (
	"github.com/routed-project/routed/internal/errs"
	"github.com/routed-project/routed/internal/wire"
)

// 4.5.  NOTIFICATION Message Format (spec §4.1) — kept verbatim from the
// teacher's message/notification.go, generalized from internal-only use
// into the shared codec entry point (Decode/Encode) used by the FSM.

type NotificationCode byte

const (
	MessageHeaderError      NotificationCode = 1
	OpenMessageError        NotificationCode = 2
	UpdateMessageError      NotificationCode = 3
	HoldTimerExpired        NotificationCode = 4
	FiniteStateMachineError NotificationCode = 5
	Cease                   NotificationCode = 6
)

// Message Header Error subcodes.
const (
	ConnectionNotSynchronized byte = 1
	BadMessageLength          byte = 2
	BadMessageType            byte = 3
)

// OPEN Message Error subcodes.
const (
	UnsupportedVersionNumber     byte = 1
	BadPeerAS                    byte = 2
	BadBGPIdentifier             byte = 3
	UnsupportedOptionalParameter byte = 4
	UnacceptableHoldTime         byte = 6
)

// UPDATE Message Error subcodes.
const (
	MalformedAttributeList         byte = 1
	UnrecognizedWellKnownAttribute byte = 2
	MissingWellKnownAttribute      byte = 3
	AttributeFlagsError            byte = 4
	AttributeLengthError           byte = 5
	InvalidOriginAttribute         byte = 6
	InvalidNextHopAttribute        byte = 8
	OptionalAttributeError         byte = 9
	InvalidNetworkField            byte = 10
	MalformedASPath                byte = 11
)

// Cease subcodes (RFC 4486). No code path in this package sends them;
// fsm.go's teardown paths send only HoldTimerExpired, MessageHeaderError
// and OPEN-validation notifications.
const (
	AdministrativeShutdown byte = 2
	AdministrativeReset    byte = 4
)

type NotificationMessage struct {
	Code    NotificationCode
	Subcode byte
	Data    []byte
}

func NewNotification(code NotificationCode, subcode byte, data []byte) *NotificationMessage {
	return &NotificationMessage{Code: code, Subcode: subcode, Data: data}
}

func decodeNotification(body []byte) (*NotificationMessage, error) {
	if len(body) < 2 {
		return nil, errs.New(errs.Malformed, "bgp", "short notification")
	}
	return &NotificationMessage{
		Code:    NotificationCode(body[0]),
		Subcode: body[1],
		Data:    append([]byte(nil), body[2:]...),
	}, nil
}

func (n *NotificationMessage) Encode() []byte {
	w := wire.NewWriter()
	encodeHeader(w, msgNotification, 2+len(n.Data))
	w.Byte(byte(n.Code))
	w.Byte(n.Subcode)
	w.Bytes(n.Data)
	return w.Finish()
}
