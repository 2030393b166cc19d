package consensus

import "hotstuff2.dev/replica/crypto"

// PublicKeyLookup resolves a replica index to its BLS public key share,
// implemented by node/config.go's committee view.
type PublicKeyLookup interface {
	PublicKey(replicaID uint32) (crypto.PublicShare, bool)
}

// ValidateProposal checks everything about an incoming Proposal that can be
// verified without consulting the replica's mutable safety state (locked_qc,
// last_voted_view): block shape, height/parent linkage to the justifying QC,
// and the QC's own signature. The voting rule's remaining conditions
// (safety, liveness override, monotonic view/height) live in replica.go,
// since they need access to that mutable state.
func ValidateProposal(provider crypto.CryptoProvider, aggregatePK crypto.PublicShare, f int, genesisHash Hash, p Proposal) error {
	if err := ValidateBlockShape(p.Block); err != nil {
		return err
	}
	if p.Block.ParentHash != p.JustifyQC.BlockHash {
		return cerr(ErrInvalidBlock, "block parent_hash does not match justify_qc.block_hash")
	}
	if err := p.JustifyQC.Verify(provider, aggregatePK, f, genesisHash); err != nil {
		return err
	}
	if p.View < p.JustifyQC.View {
		return cerr(ErrInvalidMessage, "proposal view %d precedes justify_qc view %d", p.View, p.JustifyQC.View)
	}
	return nil
}

// ValidateVote checks a vote's signature against the sender's public key
// share. It does not check that the sender is part of the current
// committee or has not already voted this view — replica.go's equivocation
// bookkeeping owns that.
func ValidateVote(provider crypto.CryptoProvider, senderPK crypto.PublicShare, v Vote) error {
	msg := VoteSignMessage(v.View, v.BlockHash)
	if !provider.VerifyPartial(senderPK, msg, v.PartialSig) {
		return cerr(ErrInvalidSignature, "vote from replica %d: partial signature invalid", v.VoterID)
	}
	return nil
}

// ValidateTimeout checks a Timeout message's signature and that its carried
// HighQC is internally well-formed.
func ValidateTimeout(provider crypto.CryptoProvider, keys PublicKeyLookup, aggregatePK crypto.PublicShare, f int, genesisHash Hash, t Timeout) error {
	if err := t.HighQC.Verify(provider, aggregatePK, f, genesisHash); err != nil {
		return cerr(ErrInvalidMessage, "timeout view %d: high_qc: %v", t.View, err)
	}
	pk, ok := keys.PublicKey(t.ReplicaID)
	if !ok {
		return cerr(ErrInvalidMessage, "timeout from unknown replica %d", t.ReplicaID)
	}
	msg := TimeoutSignMessage(t.View, t.HighQC.View, t.HighQC.BlockHash)
	if !provider.VerifyPartial(pk, msg, t.PartialSig) {
		return cerr(ErrInvalidSignature, "timeout from replica %d: partial signature invalid", t.ReplicaID)
	}
	return nil
}
