package consensus

import (
	"testing"

	"hotstuff2.dev/replica/crypto"
)

// quorumSignQC builds a QC for (view, hash) signed by exactly the first
// ks.Threshold members of ks, exercising the Lagrange-interpolated
// threshold property directly: any subset of that size, not just all n
// shares, must combine into a signature that verifies against AggregatePK.
func quorumSignQC(t *testing.T, ks crypto.KeySet, view uint64, hash Hash) QuorumCert {
	t.Helper()
	msg := VoteSignMessage(view, hash)
	pubKeys := make(map[uint32]crypto.PublicShare, ks.Threshold)
	signers := make([]crypto.IndexedPartialSig, 0, ks.Threshold)
	for i := 0; i < ks.Threshold; i++ {
		sig, err := crypto.SignPartial(ks.Shares[i], msg)
		if err != nil {
			t.Fatalf("SignPartial[%d]: %v", i, err)
		}
		pubKeys[uint32(i)] = ks.PublicKeys[i]
		signers = append(signers, crypto.IndexedPartialSig{Index: uint32(i), Sig: sig})
	}
	agg, err := crypto.Aggregate(msg, pubKeys, signers)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	return QuorumCert{View: view, BlockHash: hash, Signature: agg, SignerCount: len(signers)}
}

func TestQuorumCertVerifySucceedsForQuorumSubset(t *testing.T) {
	ks, err := crypto.GenerateKeys(3, 4)
	if err != nil {
		t.Fatalf("GenerateKeys: %v", err)
	}
	var hash Hash
	hash[0] = 1
	qc := quorumSignQC(t, ks, 10, hash)

	if err := qc.Verify(crypto.SoftwareProvider{}, ks.AggregatePK, 1, Hash{}); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestQuorumCertVerifySucceedsForDifferentQuorumSubset(t *testing.T) {
	ks, err := crypto.GenerateKeys(3, 4)
	if err != nil {
		t.Fatalf("GenerateKeys: %v", err)
	}
	var hash Hash
	hash[0] = 7
	msg := VoteSignMessage(11, hash)

	// Sign with replicas {1,2,3} instead of {0,1,2}: a different 2f+1
	// subset must still verify against the same committee key.
	pubKeys := make(map[uint32]crypto.PublicShare, 3)
	signers := make([]crypto.IndexedPartialSig, 0, 3)
	for _, i := range []int{1, 2, 3} {
		sig, err := crypto.SignPartial(ks.Shares[i], msg)
		if err != nil {
			t.Fatalf("SignPartial[%d]: %v", i, err)
		}
		pubKeys[uint32(i)] = ks.PublicKeys[i]
		signers = append(signers, crypto.IndexedPartialSig{Index: uint32(i), Sig: sig})
	}
	agg, err := crypto.Aggregate(msg, pubKeys, signers)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	qc := QuorumCert{View: 11, BlockHash: hash, Signature: agg, SignerCount: len(signers)}

	if err := qc.Verify(crypto.SoftwareProvider{}, ks.AggregatePK, 1, Hash{}); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestQuorumCertVerifyRejectsInsufficientSignerCount(t *testing.T) {
	ks, err := crypto.GenerateKeys(3, 4)
	if err != nil {
		t.Fatalf("GenerateKeys: %v", err)
	}
	var hash Hash
	hash[0] = 2
	qc := quorumSignQC(t, ks, 10, hash)
	qc.SignerCount = 1 // below quorum for f=1 (need 2f+1=3)

	if err := qc.Verify(crypto.SoftwareProvider{}, ks.AggregatePK, 1, Hash{}); err == nil {
		t.Fatalf("expected Verify to reject a QC with insufficient signer count")
	}
}

func TestGenesisQCVerifiesWithoutQuorum(t *testing.T) {
	genesisHash := Genesis().Hash
	qc := GenesisQC(genesisHash)
	if err := qc.Verify(crypto.SoftwareProvider{}, crypto.PublicShare{}, 1, genesisHash); err != nil {
		t.Fatalf("expected genesis QC to verify: %v", err)
	}
}

func TestHigherQCPrefersLaterView(t *testing.T) {
	a := QuorumCert{View: 3}
	b := QuorumCert{View: 5}
	if got := HigherQC(a, b); got.View != 5 {
		t.Fatalf("expected HigherQC to prefer view 5, got %d", got.View)
	}
	if got := HigherQC(b, a); got.View != 5 {
		t.Fatalf("expected HigherQC to prefer view 5 regardless of argument order, got %d", got.View)
	}
}

func TestQCEncodeDecodeRoundtrip(t *testing.T) {
	ks, err := crypto.GenerateKeys(3, 4)
	if err != nil {
		t.Fatalf("GenerateKeys: %v", err)
	}
	var hash Hash
	hash[3] = 9
	qc := quorumSignQC(t, ks, 20, hash)

	wire := qc.EncodeBytes()
	got, err := DecodeQC(wire)
	if err != nil {
		t.Fatalf("DecodeQC: %v", err)
	}
	if got.View != qc.View || got.BlockHash != qc.BlockHash || got.SignerCount != qc.SignerCount {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", got, qc)
	}
}
