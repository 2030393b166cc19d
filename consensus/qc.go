package consensus

import "hotstuff2.dev/replica/crypto"

// QuorumCert certifies that at least 2f+1 replicas voted for BlockHash at
// View. Signature is the BLS threshold signature over
// VoteSignMessage(View, BlockHash), verifiable against the committee
// aggregate public key without needing to know which replicas signed;
// SignerCount is carried alongside purely so InsufficientSignatures can be
// detected without re-deriving it from the signature itself.
type QuorumCert struct {
	View        uint64
	BlockHash   Hash
	Signature   crypto.ThresholdSig
	SignerCount int
}

// GenesisQC is the synthetic certificate every replica starts with: it
// certifies the genesis block at view 0 without any real signature, since
// there is no view "-1" in which replicas could have voted
// boundary behavior).
func GenesisQC(genesisHash Hash) QuorumCert {
	return QuorumCert{View: 0, BlockHash: genesisHash}
}

func (qc QuorumCert) IsGenesis(genesisHash Hash) bool {
	return qc.View == 0 && qc.BlockHash == genesisHash && qc.SignerCount == 0
}

// Verify checks qc's threshold signature against the committee's aggregate
// public key, requiring at least 2f+1 contributing signers. The genesis QC
// carries SignerCount 0 and a zero-value signature, so it is exempted from
// the quorum-size check; its signature still passes through
// provider.VerifyThreshold, which special-cases the zero signature rather
// than this method skipping verification outright.
func (qc QuorumCert) Verify(provider crypto.CryptoProvider, aggregatePK crypto.PublicShare, f int, genesisHash Hash) error {
	if !qc.IsGenesis(genesisHash) {
		quorum := 2*f + 1
		if qc.SignerCount < quorum {
			return cerr(ErrInvalidQC, "qc for view %d has %d signers, need %d", qc.View, qc.SignerCount, quorum)
		}
	}
	msg := VoteSignMessage(qc.View, qc.BlockHash)
	if !provider.VerifyThreshold(aggregatePK, msg, qc.Signature) {
		return cerr(ErrInvalidQC, "qc view %d: threshold signature does not verify", qc.View)
	}
	return nil
}

// HigherQC returns whichever of a, b certifies the later view. Ties keep a.
func HigherQC(a, b QuorumCert) QuorumCert {
	if b.View > a.View {
		return b
	}
	return a
}

func (qc QuorumCert) EncodeBytes() []byte {
	sigBytes := qc.Signature.Bytes()
	out := make([]byte, 0, 8+32+4+len(sigBytes))
	out = AppendU64le(out, qc.View)
	out = append(out, qc.BlockHash[:]...)
	out = AppendU32le(out, uint32(qc.SignerCount))
	out = append(out, sigBytes[:]...)
	return out
}

func DecodeQC(buf []byte) (QuorumCert, error) {
	c := newCursor(buf)
	var qc QuorumCert
	var err error
	if qc.View, err = c.readU64LE(); err != nil {
		return qc, cerr(ErrSerialization, "qc: view: %v", err)
	}
	hashBytes, err := c.readExact(32)
	if err != nil {
		return qc, cerr(ErrSerialization, "qc: block_hash: %v", err)
	}
	copy(qc.BlockHash[:], hashBytes)

	signerCount, err := c.readU32LE()
	if err != nil {
		return qc, cerr(ErrSerialization, "qc: signer_count: %v", err)
	}
	qc.SignerCount = int(signerCount)

	sigBytes, err := c.readExact(crypto.G1CompressedSize)
	if err != nil {
		return qc, cerr(ErrSerialization, "qc: signature: %v", err)
	}
	sig, err := crypto.DecodeThresholdSig(sigBytes)
	if err != nil {
		return qc, cerr(ErrInvalidQC, "qc: signature decode: %v", err)
	}
	qc.Signature = sig

	if c.remaining() != 0 {
		return qc, cerr(ErrSerialization, "qc: %d trailing bytes", c.remaining())
	}
	return qc, nil
}
