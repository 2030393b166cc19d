package consensus

import (
	"testing"

	"hotstuff2.dev/replica/crypto"
)

func TestEncodeDecodeVoteMessageRoundtrip(t *testing.T) {
	ks, err := crypto.GenerateKeys(2, 3)
	if err != nil {
		t.Fatalf("GenerateKeys: %v", err)
	}
	var hash Hash
	hash[0] = 5
	sig, err := crypto.SignPartial(ks.Shares[0], VoteSignMessage(9, hash))
	if err != nil {
		t.Fatalf("SignPartial: %v", err)
	}
	v := Vote{View: 9, BlockHash: hash, VoterID: 0, PartialSig: sig}

	wire, err := EncodeMessage(ConsensusMessage{Kind: MsgVote, Vote: &v})
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	got, err := DecodeMessage(wire)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if got.Kind != MsgVote || got.Vote == nil || got.Vote.View != v.View || got.Vote.BlockHash != v.BlockHash {
		t.Fatalf("roundtrip mismatch: got %+v", got)
	}
}

func TestEncodeDecodeProposalMessageRoundtrip(t *testing.T) {
	b := NewBlock(ZeroHash, 1, 0, 100, []Transaction{{ID: "t", Payload: []byte("x")}})
	p := Proposal{View: 3, Block: b, JustifyQC: GenesisQC(ZeroHash)}

	wire, err := EncodeMessage(ConsensusMessage{Kind: MsgProposal, Proposal: &p})
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	got, err := DecodeMessage(wire)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if got.Kind != MsgProposal || got.Proposal == nil || got.Proposal.Block.Hash != b.Hash {
		t.Fatalf("roundtrip mismatch: got %+v", got)
	}
}

func TestEncodeDecodeNewViewMessageRoundtrip(t *testing.T) {
	nv := NewView{View: 11, ReplicaID: 2, HighQC: GenesisQC(ZeroHash)}
	wire, err := EncodeMessage(ConsensusMessage{Kind: MsgNewView, NewView: &nv})
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	got, err := DecodeMessage(wire)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if got.Kind != MsgNewView || got.NewView == nil || got.NewView.View != nv.View || got.NewView.ReplicaID != nv.ReplicaID {
		t.Fatalf("roundtrip mismatch: got %+v", got)
	}
}

func TestDecodeMessageRejectsEmptyBuffer(t *testing.T) {
	if _, err := DecodeMessage(nil); err == nil {
		t.Fatalf("expected empty buffer to fail decoding")
	}
}

func TestDecodeMessageRejectsUnknownKind(t *testing.T) {
	if _, err := DecodeMessage([]byte{0xff}); err == nil {
		t.Fatalf("expected unknown message kind to fail decoding")
	}
}

func TestMessageKindString(t *testing.T) {
	cases := map[MessageKind]string{
		MsgProposal: "Proposal",
		MsgVote:     "Vote",
		MsgTimeout:  "Timeout",
		MsgNewView:  "NewView",
		MessageKind(99): "Unknown",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Fatalf("MessageKind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}
