// Package isis implements the IS-IS speaker of spec §4.5 (module C8): PDU
// codec, the 3-state adjacency FSM, dual-level LSDB with CSNP/PSNP sync,
// DIS election, and per-level SPF. Shaped like the BGP packages in this
// tree (fixed-header message codec, a state-machine-driven FSM, a route
// table), generalized from BGP's TCP session model to IS-IS's
// connectionless, per-interface link-layer PDUs, and cross-checked
// against original_source/wontyoubemyneighbor/isis/*.py for RFC 1195/ISO
// 10589 wire details (PDU type numbers, TLV numbering, default timer
// values).
package isis

import "time"

// Level identifies which IS-IS level an adjacency, LSDB or SPF run
// belongs to (spec §4.5: "dual-level LSDB, L1 and L2 kept separate").
type Level int

const (
	Level1 Level = 1
	Level2 Level = 2
)

func (l Level) String() string {
	if l == Level1 {
		return "L1"
	}
	return "L2"
}

// CircuitType distinguishes broadcast (LAN, DIS election applies) from
// point-to-point interfaces (spec §4.5).
type CircuitType int

const (
	CircuitBroadcast CircuitType = 1
	CircuitP2P       CircuitType = 2
)

// PDU type numbers (ISO 10589 / RFC 1195), unchanged from the numbering
// in constants.py.
type PDUType byte

const (
	PDUL1LANIIH PDUType = 15
	PDUL2LANIIH PDUType = 16
	PDUP2PIIH   PDUType = 17
	PDUL1LSP    PDUType = 18
	PDUL2LSP    PDUType = 20
	PDUL1CSNP   PDUType = 24
	PDUL2CSNP   PDUType = 25
	PDUL1PSNP   PDUType = 26
	PDUL2PSNP   PDUType = 27
)

func (t PDUType) Level() Level {
	switch t {
	case PDUL1LANIIH, PDUL1LSP, PDUL1CSNP, PDUL1PSNP:
		return Level1
	default:
		return Level2
	}
}

// String names a PDU's family for metrics labeling, collapsing the
// level-1/level-2 variants of the same PDU kind into one label the way
// ospf.PacketType.String does for its own codec.
func (t PDUType) String() string {
	switch t {
	case PDUL1LANIIH, PDUL2LANIIH, PDUP2PIIH:
		return "iih"
	case PDUL1LSP, PDUL2LSP:
		return "lsp"
	case PDUL1CSNP, PDUL2CSNP:
		return "csnp"
	case PDUL1PSNP, PDUL2PSNP:
		return "psnp"
	default:
		return "unknown"
	}
}

// TLV type numbers used by this implementation. A handful of historical
// TLVs (ES Neighbors, Partition DR, IDRP Information) from constants.py
// are never emitted or consulted — nothing in spec §4.5 exercises ES-IS
// or inter-domain routing, so they are omitted rather than carried as
// dead constants.
type TLVType byte

const (
	TLVAreaAddresses    TLVType = 1
	TLVISNeighborsVar   TLVType = 6
	TLVPadding          TLVType = 8
	TLVLSPEntries       TLVType = 9
	TLVExtendedISReach  TLVType = 22
	TLVProtocolsSupported TLVType = 129
	TLVIPInterfaceAddr  TLVType = 132
	TLVHostname         TLVType = 137
	TLVExtendedIPReach  TLVType = 135
)

const (
	ProtocolDiscriminator byte = 0x83
	ProtoVersion          byte = 1
	CommonHeaderLen       int  = 8
	SystemIDLen           int  = 6
	NLPIDIPv4             byte = 0xCC
	NLPIDIPv6             byte = 0x8E

	MaxLSPSize    = 1492
	MaxAreaAddrs  = 3
	MaxWideMetric = 0xFFFFFF

	DefaultHelloInterval   = 10 * time.Second
	DefaultHelloMultiplier = 3
	DefaultCSNPInterval    = 10 * time.Second
	DefaultPSNPInterval    = 2 * time.Second
	DefaultLSPRefresh      = 900 * time.Second
	DefaultLSPLifetime     = 1200 * time.Second
	DefaultSPFDelay        = 5 * time.Second
	DefaultSPFInterval     = 10 * time.Second

	DefaultPriority = 64
	MaxPriority     = 127
	DefaultMetric   = 10
)

// SystemID is the 6-byte ISO system identifier that, together with a
// 1-byte pseudonode/LSP-number suffix, forms an LSP ID (spec §3).
type SystemID [SystemIDLen]byte

func (s SystemID) String() string {
	const hex = "0123456789abcdef"
	b := make([]byte, 0, 14)
	for i, o := range s {
		if i > 0 && i%2 == 0 {
			b = append(b, '.')
		}
		b = append(b, hex[o>>4], hex[o&0xf])
	}
	return string(b)
}

// LSPID identifies one LSP: system id + pseudonode number + LSP number
// (spec §3's LSDB key, "(type, LSID, advRtr)" generalized to IS-IS's own
// 8-byte key).
type LSPID struct {
	System     SystemID
	PseudoNode byte
	Number     byte
}

func (id LSPID) String() string {
	return id.System.String() + "." + hexByte(id.PseudoNode) + "-" + hexByte(id.Number)
}

func hexByte(b byte) string {
	const hex = "0123456789abcdef"
	return string([]byte{hex[b>>4], hex[b&0xf]})
}
