package main

// RecordKind classifies a trace line
type RecordKind string

const (
	KindTx           RecordKind = "TX"
	KindRx           RecordKind = "RX"
	KindFwd          RecordKind = "FWD"
	KindFwdPkt       RecordKind = "FWD_PKT"
	KindRouting      RecordKind = "ROUTING"
	KindParent       RecordKind = "PARENT"
	KindTerminal     RecordKind = "TERMINAL"
	KindUnrecognized RecordKind = "UNRECOGNIZED"
)

// NodeID is the 16-bit mote identifier taken from the link-layer address
type NodeID uint16

// PacketKey packs a node id and a sequence number into one map key.
// The node id occupies the high 32 bits, the sequence the low 32 bits.
type PacketKey uint64

// NewPacketKey builds the key for (node, seq)
func NewPacketKey(node NodeID, seq uint32) PacketKey {
	return PacketKey(uint64(node)<<32 | uint64(seq))
}

// Node returns the node id half of the key
func (k PacketKey) Node() NodeID {
	return NodeID(uint64(k) >> 32)
}

// Seq returns the sequence half of the key
func (k PacketKey) Seq() uint32 {
	return uint32(k)
}

// Event is a typed, fully parsed trace record
type Event struct {
	Kind RecordKind

	// Node is the reporting node (TX, FWD, FWD_PKT, ROUTING, PARENT)
	// or the originating source (RX).
	Node NodeID
	// Src is the packet originator observed by an FWD_PKT relay.
	Src NodeID
	Seq uint32

	UDPToRoot uint64
	Dropped   uint64

	Joined bool
	// Parent is the raw parent address as printed by the mote.
	Parent string
}

// Key returns the packet identity carried by TX, RX and FWD_PKT events
func (e Event) Key() PacketKey {
	if e.Kind == KindFwdPkt {
		return NewPacketKey(e.Src, e.Seq)
	}
	return NewPacketKey(e.Node, e.Seq)
}
