// Package ospf implements the OSPFv2 engine of spec §4.4-4.6 (module C1,
// C4, C6, C7, C8 for OSPF): PDU codec, the 8-state neighbor FSM,
// per-area LSDB with aging and self-originated refresh, reliable
// flooding, and Dijkstra SPF. Shaped like the BGP packages the way
// internal/isis is: a fixed-header codec, an explicit state machine, a
// route table, generalized from BGP's single TCP session model to
// OSPF's per-interface multicast neighbor set, since nothing in this
// codebase's grounding material has an OSPF analogue to copy directly.
package ospf

import "time"

// State is one of the 8 OSPF neighbor FSM states (spec §4.4).
type State int

const (
	Down State = iota
	Attempt
	Init
	TwoWay
	ExStart
	Exchange
	Loading
	Full
)

func (s State) String() string {
	switch s {
	case Down:
		return "Down"
	case Attempt:
		return "Attempt"
	case Init:
		return "Init"
	case TwoWay:
		return "2-Way"
	case ExStart:
		return "ExStart"
	case Exchange:
		return "Exchange"
	case Loading:
		return "Loading"
	case Full:
		return "Full"
	default:
		return "Unknown"
	}
}

// NetworkType selects the multicast/adjacency behavior of an interface
// (spec §6's OSPF config schema).
type NetworkType int

const (
	Broadcast NetworkType = iota
	PointToPoint
	PointToMultipoint
	NBMA
)

// PacketType numbers (RFC 2328 §A.3.1).
type PacketType byte

const (
	PacketHello              PacketType = 1
	PacketDatabaseDescription PacketType = 2
	PacketLSRequest          PacketType = 3
	PacketLSUpdate           PacketType = 4
	PacketLSAck              PacketType = 5
)

func (t PacketType) String() string {
	switch t {
	case PacketHello:
		return "hello"
	case PacketDatabaseDescription:
		return "dbd"
	case PacketLSRequest:
		return "lsr"
	case PacketLSUpdate:
		return "lsu"
	case PacketLSAck:
		return "lsack"
	default:
		return "unknown"
	}
}

// LSA type numbers (RFC 2328 §A.4.1). Network-Summary (4) and NSSA (7)
// are never emitted or consulted — spec §3 enumerates only Router,
// Network, Summary and AS-External as the subset in scope.
type LSAType byte

const (
	LSARouter     LSAType = 1
	LSANetwork    LSAType = 2
	LSASummary    LSAType = 3
	LSAASExternal LSAType = 5
)

const (
	OSPFVersion  byte = 2
	HeaderLen    int  = 24
	LSAHeaderLen int  = 20

	InitialSeq int32 = -0x7fffffff
	MaxSeq     int32 = 0x7fffffff
	MaxAge     uint16 = 3600

	DefaultHelloInterval = 10 * time.Second
	DefaultDeadInterval   = 40 * time.Second
	DefaultRxmtInterval   = 5 * time.Second
	DefaultLSRefreshTime  = 1800 * time.Second
	DefaultSPFDelay       = 5 * time.Second
	DefaultSPFInterval    = 10 * time.Second

	DefaultPriority = 1
)

// RouterID is a 32-bit identifier shared across protocols (spec §3);
// OSPF and BGP render it as a dotted-quad, this type just carries the
// raw big-endian value used as an LSDB/neighbor key.
type RouterID uint32

func (r RouterID) String() string {
	return dottedQuad(uint32(r))
}

func dottedQuad(v uint32) string {
	b := make([]byte, 0, 15)
	for i := 3; i >= 0; i-- {
		octet := byte(v >> (8 * uint(i)))
		b = appendDecimal(b, octet)
		if i != 0 {
			b = append(b, '.')
		}
	}
	return string(b)
}

func appendDecimal(b []byte, v byte) []byte {
	if v >= 100 {
		b = append(b, '0'+v/100)
		v %= 100
		b = append(b, '0'+v/10)
		v %= 10
	} else if v >= 10 {
		b = append(b, '0'+v/10)
		v %= 10
	}
	return append(b, '0'+v)
}

// LSAKey is the LSDB key of spec §3: (type, link-state-id, advertising-router).
type LSAKey struct {
	Type          LSAType
	LinkStateID   RouterID
	AdvRouter     RouterID
}
