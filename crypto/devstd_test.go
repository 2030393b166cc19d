package crypto

import "testing"

func TestSoftwareProviderSignVerifyRoundtrip(t *testing.T) {
	ks, err := GenerateKeys(2, 3)
	if err != nil {
		t.Fatalf("GenerateKeys: %v", err)
	}
	p := SoftwareProvider{}
	msg := VoteDigest(7, [32]byte{1, 2, 3})

	sig, err := p.SignPartial(ks.Shares[0], msg)
	if err != nil {
		t.Fatalf("SignPartial: %v", err)
	}
	if !p.VerifyPartial(ks.PublicKeys[0], msg, sig) {
		t.Fatalf("VerifyPartial: expected valid signature to verify")
	}
	if p.VerifyPartial(ks.PublicKeys[1], msg, sig) {
		t.Fatalf("VerifyPartial: signature from share 0 must not verify under share 1's key")
	}
}

func TestSoftwareProviderAggregateRejectsBadSigner(t *testing.T) {
	ks, err := GenerateKeys(2, 3)
	if err != nil {
		t.Fatalf("GenerateKeys: %v", err)
	}
	p := SoftwareProvider{}
	msg := VoteDigest(1, [32]byte{9})

	good, _ := p.SignPartial(ks.Shares[0], msg)
	bad, _ := p.SignPartial(ks.Shares[1], []byte("wrong message"))

	pubKeys := map[uint32]PublicShare{0: ks.PublicKeys[0], 1: ks.PublicKeys[1]}
	_, err = p.Aggregate(msg, pubKeys, []IndexedPartialSig{
		{Index: 0, Sig: good},
		{Index: 1, Sig: bad},
	})
	if err == nil {
		t.Fatalf("Aggregate: expected error from poisoned signer")
	}
}

func TestCachedProviderPurge(t *testing.T) {
	ks, _ := GenerateKeys(1, 1)
	p := NewCachedProvider(SoftwareProvider{}, 16)
	msg := VoteDigest(1, [32]byte{})
	sig, _ := p.SignPartial(ks.Shares[0], msg)

	if !p.VerifyPartial(ks.PublicKeys[0], msg, sig) {
		t.Fatalf("expected valid signature")
	}
	if p.Cache.Len() != 1 {
		t.Fatalf("expected 1 cached entry, got %d", p.Cache.Len())
	}
	p.PurgeOnViewChange()
	if p.Cache.Len() != 0 {
		t.Fatalf("expected cache to be empty after purge, got %d", p.Cache.Len())
	}
}
