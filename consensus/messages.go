package consensus

import "hotstuff2.dev/replica/crypto"

// MessageKind tags the wire-level variant of a ConsensusMessage.
type MessageKind uint8

const (
	MsgProposal MessageKind = iota + 1
	MsgVote
	MsgTimeout
	MsgNewView
)

func (k MessageKind) String() string {
	switch k {
	case MsgProposal:
		return "Proposal"
	case MsgVote:
		return "Vote"
	case MsgTimeout:
		return "Timeout"
	case MsgNewView:
		return "NewView"
	default:
		return "Unknown"
	}
}

// Proposal carries a leader's proposed block for View, justified by the
// highest QC the leader knew of when it built the block.
type Proposal struct {
	View      uint64
	Block     Block
	JustifyQC QuorumCert
}

// Vote is a replica's partial signature over (View, BlockHash), sent to the
// next leader to be aggregated into a QuorumCert.
type Vote struct {
	View      uint64
	BlockHash Hash
	VoterID   uint32
	PartialSig crypto.PartialSig
}

// Timeout is broadcast by a replica whose view timer expired without a
// proposal; it carries the replica's highest known QC so the next leader
// can recover liveness without losing safety.
type Timeout struct {
	View       uint64
	ReplicaID  uint32
	HighQC     QuorumCert
	PartialSig crypto.PartialSig
}

// NewView is sent by a replica to the leader of View once it has collected
// 2f+1 Timeout messages for View-1, certifying that the view change is safe
// to proceed.
type NewView struct {
	View        uint64
	ReplicaID   uint32
	HighQC      QuorumCert
	TimeoutCert []Timeout
}

// ConsensusMessage is the tagged union of the four message kinds this
// protocol exchanges over the transport layer (node/p2p).
type ConsensusMessage struct {
	Kind     MessageKind
	Proposal *Proposal
	Vote     *Vote
	Timeout  *Timeout
	NewView  *NewView
}

func EncodeMessage(m ConsensusMessage) ([]byte, error) {
	switch m.Kind {
	case MsgProposal:
		if m.Proposal == nil {
			return nil, cerr(ErrSerialization, "proposal message missing payload")
		}
		out := []byte{byte(MsgProposal)}
		out = AppendU64le(out, m.Proposal.View)
		out = append(out, EncodeBlock(m.Proposal.Block)...)
		qcBytes := m.Proposal.JustifyQC.EncodeBytes()
		out = AppendCompactSize(out, uint64(len(qcBytes)))
		out = append(out, qcBytes...)
		return out, nil
	case MsgVote:
		if m.Vote == nil {
			return nil, cerr(ErrSerialization, "vote message missing payload")
		}
		sig := m.Vote.PartialSig.Point.Bytes()
		out := []byte{byte(MsgVote)}
		out = AppendU64le(out, m.Vote.View)
		out = append(out, m.Vote.BlockHash[:]...)
		out = AppendU32le(out, m.Vote.VoterID)
		out = append(out, sig[:]...)
		return out, nil
	case MsgTimeout:
		if m.Timeout == nil {
			return nil, cerr(ErrSerialization, "timeout message missing payload")
		}
		sig := m.Timeout.PartialSig.Point.Bytes()
		out := []byte{byte(MsgTimeout)}
		out = AppendU64le(out, m.Timeout.View)
		out = AppendU32le(out, m.Timeout.ReplicaID)
		qcBytes := m.Timeout.HighQC.EncodeBytes()
		out = AppendCompactSize(out, uint64(len(qcBytes)))
		out = append(out, qcBytes...)
		out = append(out, sig[:]...)
		return out, nil
	case MsgNewView:
		if m.NewView == nil {
			return nil, cerr(ErrSerialization, "new_view message missing payload")
		}
		out := []byte{byte(MsgNewView)}
		out = AppendU64le(out, m.NewView.View)
		out = AppendU32le(out, m.NewView.ReplicaID)
		qcBytes := m.NewView.HighQC.EncodeBytes()
		out = AppendCompactSize(out, uint64(len(qcBytes)))
		out = append(out, qcBytes...)
		out = AppendCompactSize(out, uint64(len(m.NewView.TimeoutCert)))
		for _, t := range m.NewView.TimeoutCert {
			tb, err := EncodeMessage(ConsensusMessage{Kind: MsgTimeout, Timeout: &t})
			if err != nil {
				return nil, err
			}
			out = AppendCompactSize(out, uint64(len(tb)))
			out = append(out, tb...)
		}
		return out, nil
	default:
		return nil, cerr(ErrInvalidMessage, "unknown message kind %d", m.Kind)
	}
}

func DecodeMessage(buf []byte) (ConsensusMessage, error) {
	if len(buf) == 0 {
		return ConsensusMessage{}, cerr(ErrSerialization, "empty message")
	}
	kind := MessageKind(buf[0])
	c := newCursor(buf[1:])
	switch kind {
	case MsgProposal:
		view, err := c.readU64LE()
		if err != nil {
			return ConsensusMessage{}, cerr(ErrSerialization, "proposal: view: %v", err)
		}
		rest := buf[1+8:]
		block, consumed, err := decodeBlockPrefix(rest)
		if err != nil {
			return ConsensusMessage{}, err
		}
		rest = rest[consumed:]
		c2 := newCursor(rest)
		qcLen, err := c2.readCompactSize()
		if err != nil {
			return ConsensusMessage{}, cerr(ErrSerialization, "proposal: qc_len: %v", err)
		}
		qcBytes, err := c2.readExact(int(qcLen))
		if err != nil {
			return ConsensusMessage{}, cerr(ErrSerialization, "proposal: qc: %v", err)
		}
		qc, err := DecodeQC(qcBytes)
		if err != nil {
			return ConsensusMessage{}, err
		}
		if c2.remaining() != 0 {
			return ConsensusMessage{}, cerr(ErrSerialization, "proposal: trailing bytes")
		}
		return ConsensusMessage{Kind: MsgProposal, Proposal: &Proposal{View: view, Block: block, JustifyQC: qc}}, nil

	case MsgVote:
		view, err := c.readU64LE()
		if err != nil {
			return ConsensusMessage{}, cerr(ErrSerialization, "vote: view: %v", err)
		}
		hashBytes, err := c.readExact(32)
		if err != nil {
			return ConsensusMessage{}, cerr(ErrSerialization, "vote: block_hash: %v", err)
		}
		voterID, err := c.readU32LE()
		if err != nil {
			return ConsensusMessage{}, cerr(ErrSerialization, "vote: voter_id: %v", err)
		}
		sigBytes, err := c.readExact(crypto.G1CompressedSize)
		if err != nil {
			return ConsensusMessage{}, cerr(ErrSerialization, "vote: sig: %v", err)
		}
		sig, err := crypto.DecodePartialSig(sigBytes)
		if err != nil {
			return ConsensusMessage{}, cerr(ErrInvalidSignature, "vote: sig decode: %v", err)
		}
		var v Vote
		v.View = view
		copy(v.BlockHash[:], hashBytes)
		v.VoterID = voterID
		v.PartialSig = sig
		return ConsensusMessage{Kind: MsgVote, Vote: &v}, nil

	case MsgTimeout:
		view, err := c.readU64LE()
		if err != nil {
			return ConsensusMessage{}, cerr(ErrSerialization, "timeout: view: %v", err)
		}
		replicaID, err := c.readU32LE()
		if err != nil {
			return ConsensusMessage{}, cerr(ErrSerialization, "timeout: replica_id: %v", err)
		}
		qcLen, err := c.readCompactSize()
		if err != nil {
			return ConsensusMessage{}, cerr(ErrSerialization, "timeout: qc_len: %v", err)
		}
		qcBytes, err := c.readExact(int(qcLen))
		if err != nil {
			return ConsensusMessage{}, cerr(ErrSerialization, "timeout: qc: %v", err)
		}
		qc, err := DecodeQC(qcBytes)
		if err != nil {
			return ConsensusMessage{}, err
		}
		sigBytes, err := c.readExact(crypto.G1CompressedSize)
		if err != nil {
			return ConsensusMessage{}, cerr(ErrSerialization, "timeout: sig: %v", err)
		}
		sig, err := crypto.DecodePartialSig(sigBytes)
		if err != nil {
			return ConsensusMessage{}, cerr(ErrInvalidSignature, "timeout: sig decode: %v", err)
		}
		return ConsensusMessage{Kind: MsgTimeout, Timeout: &Timeout{View: view, ReplicaID: replicaID, HighQC: qc, PartialSig: sig}}, nil

	case MsgNewView:
		view, err := c.readU64LE()
		if err != nil {
			return ConsensusMessage{}, cerr(ErrSerialization, "new_view: view: %v", err)
		}
		replicaID, err := c.readU32LE()
		if err != nil {
			return ConsensusMessage{}, cerr(ErrSerialization, "new_view: replica_id: %v", err)
		}
		qcLen, err := c.readCompactSize()
		if err != nil {
			return ConsensusMessage{}, cerr(ErrSerialization, "new_view: qc_len: %v", err)
		}
		qcBytes, err := c.readExact(int(qcLen))
		if err != nil {
			return ConsensusMessage{}, cerr(ErrSerialization, "new_view: qc: %v", err)
		}
		qc, err := DecodeQC(qcBytes)
		if err != nil {
			return ConsensusMessage{}, err
		}
		tCount, err := c.readCompactSize()
		if err != nil {
			return ConsensusMessage{}, cerr(ErrSerialization, "new_view: timeout_count: %v", err)
		}
		timeouts := make([]Timeout, 0, tCount)
		for i := uint64(0); i < tCount; i++ {
			tLen, err := c.readCompactSize()
			if err != nil {
				return ConsensusMessage{}, cerr(ErrSerialization, "new_view: timeout[%d]_len: %v", i, err)
			}
			tBytes, err := c.readExact(int(tLen))
			if err != nil {
				return ConsensusMessage{}, cerr(ErrSerialization, "new_view: timeout[%d]: %v", i, err)
			}
			tMsg, err := DecodeMessage(tBytes)
			if err != nil {
				return ConsensusMessage{}, err
			}
			if tMsg.Kind != MsgTimeout || tMsg.Timeout == nil {
				return ConsensusMessage{}, cerr(ErrSerialization, "new_view: timeout[%d]: not a timeout message", i)
			}
			timeouts = append(timeouts, *tMsg.Timeout)
		}
		return ConsensusMessage{Kind: MsgNewView, NewView: &NewView{View: view, ReplicaID: replicaID, HighQC: qc, TimeoutCert: timeouts}}, nil

	default:
		return ConsensusMessage{}, cerr(ErrInvalidMessage, "unknown message kind %d", kind)
	}
}

// decodeBlockPrefix decodes one Block from the front of buf and reports how
// many bytes it consumed, since Block has no fixed length and a Proposal
// has bytes (the justify_qc) following it in the same frame.
func decodeBlockPrefix(buf []byte) (Block, int, error) {
	c := newCursor(buf)
	if _, err := c.readExact(32); err != nil {
		return Block{}, 0, cerr(ErrSerialization, "block: parent_hash: %v", err)
	}
	if _, err := c.readU64LE(); err != nil {
		return Block{}, 0, cerr(ErrSerialization, "block: height: %v", err)
	}
	if _, err := c.readU64LE(); err != nil {
		return Block{}, 0, cerr(ErrSerialization, "block: proposer_id: %v", err)
	}
	if _, err := c.readU64LE(); err != nil {
		return Block{}, 0, cerr(ErrSerialization, "block: timestamp_ms: %v", err)
	}
	txCount, err := c.readCompactSize()
	if err != nil {
		return Block{}, 0, cerr(ErrSerialization, "block: tx_count: %v", err)
	}
	for i := uint64(0); i < txCount; i++ {
		idLen, err := c.readCompactSize()
		if err != nil {
			return Block{}, 0, cerr(ErrSerialization, "block: tx[%d] id_len: %v", i, err)
		}
		if _, err := c.readExact(int(idLen)); err != nil {
			return Block{}, 0, cerr(ErrSerialization, "block: tx[%d] id: %v", i, err)
		}
		payloadLen, err := c.readCompactSize()
		if err != nil {
			return Block{}, 0, cerr(ErrSerialization, "block: tx[%d] payload_len: %v", i, err)
		}
		if _, err := c.readExact(int(payloadLen)); err != nil {
			return Block{}, 0, cerr(ErrSerialization, "block: tx[%d] payload: %v", i, err)
		}
	}
	consumed := c.pos
	block, err := DecodeBlock(buf[:consumed])
	if err != nil {
		return Block{}, 0, err
	}
	return block, consumed, nil
}
