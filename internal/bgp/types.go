// Package bgp implements the BGP-4 speaker of spec §4.8/§4.9 (C6/C9): FSM,
// UPDATE processing, Adj-RIB-In/Loc-RIB/Adj-RIB-Out with path attributes,
// and best-path selection. Adapted from bgp/speaker.go, bgp/update.go,
// bgp/attribute.go, message/{open,keepalive,notification}.go, fsm/fsm.go
// and rib/rib.go, kept in their RFC-4271-commented style and generalized
// from "one demo listener" to a configurable multi-peer speaker with
// redistribution sources.
package bgp

// Version is the BGP protocol version (spec §4.1: always 4).
type Version uint8

const CurrentVersion Version = 4

// ASN is an autonomous system number. bgp/speaker.go's original ASN type
// was 16-bit; spec §4.8 requires 4-byte ASN capability support, so this
// is widened to uint32 and 2-byte encodings are handled at the codec
// layer via the AS_TRANS sentinel (23456) the way real implementations
// negotiate 4-byte ASN support.
type ASN uint32

const ASTrans ASN = 23456

// Identifier is a router-id, typically an IPv4 address (spec §3).
type Identifier uint32

// OriginCode is the ORIGIN path attribute value (spec §3, §4.8 decision
// step 4: IGP < EGP < Incomplete).
type OriginCode byte

const (
	OriginIGP        OriginCode = 0
	OriginEGP        OriginCode = 1
	OriginIncomplete OriginCode = 2
)

func (o OriginCode) String() string {
	switch o {
	case OriginIGP:
		return "igp"
	case OriginEGP:
		return "egp"
	default:
		return "incomplete"
	}
}

// SourceLabel tags where a Loc-RIB/Adj-RIB entry came from (spec §3).
type SourceLabel int

const (
	SourceLocal SourceLabel = iota
	SourceEBGP
	SourceIBGP
	SourceRedistributedOSPF
	SourceRedistributedISIS
	SourceRedistributedStatic
)
