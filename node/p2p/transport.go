package p2p

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"hotstuff2.dev/replica/consensus"
)

// PayloadKind tags the sum-type carried inside a TransportMessage, giving
// the wire format forward compatibility the way a tagged
// ConsensusMessage variants do.
type PayloadKind uint8

const (
	PayloadConsensus PayloadKind = iota + 1
	PayloadHeartbeat
	PayloadAck
	PayloadPeerDiscovery
)

// TransportMessage is the envelope every frame command="frame" payload
// decodes to. Reliability (requires_ack/is_ack/ack_for) and ordering
// (sequence, per sender) live here, one layer above the raw consensus
// message types so C4 never has to understand vote/QC semantics.
type TransportMessage struct {
	ID          uuid.UUID
	From        uint32
	To          uint32
	HasTo       bool
	TimestampMs uint64
	Sequence    uint64
	RequiresAck bool
	IsAck       bool
	AckFor      uuid.UUID
	HasAckFor   bool

	Kind      PayloadKind
	Consensus *consensus.ConsensusMessage
	Heartbeat *NodeStatus
	PeerList  []PeerAddr
}

func EncodeTransportMessage(m TransportMessage) ([]byte, error) {
	out := make([]byte, 0, 64)
	out = append(out, m.ID[:]...)
	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], m.From)
	out = append(out, u32[:]...)
	binary.LittleEndian.PutUint32(u32[:], m.To)
	out = append(out, u32[:]...)
	out = appendBool(out, m.HasTo)

	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], m.TimestampMs)
	out = append(out, u64[:]...)
	binary.LittleEndian.PutUint64(u64[:], m.Sequence)
	out = append(out, u64[:]...)

	out = appendBool(out, m.RequiresAck)
	out = appendBool(out, m.IsAck)
	out = appendBool(out, m.HasAckFor)
	out = append(out, m.AckFor[:]...)

	out = append(out, byte(m.Kind))
	switch m.Kind {
	case PayloadConsensus:
		if m.Consensus == nil {
			return nil, fmt.Errorf("p2p: transport: consensus payload missing")
		}
		cb, err := consensus.EncodeMessage(*m.Consensus)
		if err != nil {
			return nil, fmt.Errorf("p2p: transport: encode consensus payload: %w", err)
		}
		out = append(out, encodeCompactSize(uint64(len(cb)))...)
		out = append(out, cb...)
	case PayloadHeartbeat:
		if m.Heartbeat == nil {
			return nil, fmt.Errorf("p2p: transport: heartbeat payload missing")
		}
		out = append(out, EncodeNodeStatus(*m.Heartbeat)...)
	case PayloadAck:
		// no body; AckFor carries the correlation id
	case PayloadPeerDiscovery:
		pb, err := EncodePeerList(m.PeerList)
		if err != nil {
			return nil, err
		}
		out = append(out, pb...)
	default:
		return nil, fmt.Errorf("p2p: transport: unknown payload kind %d", m.Kind)
	}
	return out, nil
}

func DecodeTransportMessage(b []byte) (TransportMessage, error) {
	var m TransportMessage
	if len(b) < 16+4+4+1+8+8+1+1+1+16+1 {
		return m, fmt.Errorf("p2p: transport: truncated header")
	}
	off := 0
	copy(m.ID[:], b[off:off+16])
	off += 16
	m.From = binary.LittleEndian.Uint32(b[off : off+4])
	off += 4
	m.To = binary.LittleEndian.Uint32(b[off : off+4])
	off += 4
	m.HasTo = b[off] != 0
	off++
	m.TimestampMs = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	m.Sequence = binary.LittleEndian.Uint64(b[off : off+8])
	off += 8
	m.RequiresAck = b[off] != 0
	off++
	m.IsAck = b[off] != 0
	off++
	m.HasAckFor = b[off] != 0
	off++
	copy(m.AckFor[:], b[off:off+16])
	off += 16
	m.Kind = PayloadKind(b[off])
	off++

	rest := b[off:]
	switch m.Kind {
	case PayloadConsensus:
		n, used, err := readCompactSize(rest)
		if err != nil {
			return m, fmt.Errorf("p2p: transport: consensus len: %w", err)
		}
		rest = rest[used:]
		if uint64(len(rest)) < n {
			return m, fmt.Errorf("p2p: transport: consensus payload truncated")
		}
		cm, err := consensus.DecodeMessage(rest[:n])
		if err != nil {
			return m, fmt.Errorf("p2p: transport: decode consensus payload: %w", err)
		}
		m.Consensus = &cm
	case PayloadHeartbeat:
		ns, err := DecodeNodeStatus(rest)
		if err != nil {
			return m, err
		}
		m.Heartbeat = &ns
	case PayloadAck:
		if len(rest) != 0 {
			return m, fmt.Errorf("p2p: transport: ack must have empty body")
		}
	case PayloadPeerDiscovery:
		peers, err := DecodePeerList(rest)
		if err != nil {
			return m, err
		}
		m.PeerList = peers
	default:
		return m, fmt.Errorf("p2p: transport: unknown payload kind %d", m.Kind)
	}
	return m, nil
}

func appendBool(b []byte, v bool) []byte {
	if v {
		return append(b, 1)
	}
	return append(b, 0)
}
