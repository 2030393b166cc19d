package crypto

// SoftwareProvider is a software-only CryptoProvider backed entirely by the
// BLS12-381 implementation in bls.go. It holds no secret of its own — every
// call takes the relevant SecretShare/PublicShare explicitly — and exists so
// the consensus core can depend on the CryptoProvider interface rather than
// on package-level functions, which keeps tests able to substitute a fake.
type SoftwareProvider struct{}

func (SoftwareProvider) SignPartial(share SecretShare, msg []byte) (PartialSig, error) {
	return SignPartial(share, msg)
}

func (SoftwareProvider) VerifyPartial(pk PublicShare, msg []byte, sig PartialSig) bool {
	return VerifyPartial(pk, msg, sig)
}

func (SoftwareProvider) Aggregate(msg []byte, pubKeys map[uint32]PublicShare, signers []IndexedPartialSig) (ThresholdSig, error) {
	return Aggregate(msg, pubKeys, signers)
}

func (SoftwareProvider) VerifyThreshold(aggregatePK PublicShare, msg []byte, sig ThresholdSig) bool {
	return VerifyThreshold(aggregatePK, msg, sig)
}

// CachedProvider wraps a CryptoProvider with a VerifyCache on the
// verification hot path (caches verification outcomes keyed by
// (msg, sigma, pk_i) for hot paths").
type CachedProvider struct {
	Inner CryptoProvider
	Cache *VerifyCache
}

func NewCachedProvider(inner CryptoProvider, cacheSize int) *CachedProvider {
	return &CachedProvider{Inner: inner, Cache: NewVerifyCache(cacheSize)}
}

func (p *CachedProvider) SignPartial(share SecretShare, msg []byte) (PartialSig, error) {
	return p.Inner.SignPartial(share, msg)
}

func (p *CachedProvider) VerifyPartial(pk PublicShare, msg []byte, sig PartialSig) bool {
	return p.Cache.CheckedVerifyPartial(pk, msg, sig)
}

func (p *CachedProvider) Aggregate(msg []byte, pubKeys map[uint32]PublicShare, signers []IndexedPartialSig) (ThresholdSig, error) {
	return p.Inner.Aggregate(msg, pubKeys, signers)
}

func (p *CachedProvider) VerifyThreshold(aggregatePK PublicShare, msg []byte, sig ThresholdSig) bool {
	return p.Inner.VerifyThreshold(aggregatePK, msg, sig)
}

// PurgeOnViewChange discards cached verification outcomes. Wire this to the
// pacemaker's NewRound event.
func (p *CachedProvider) PurgeOnViewChange() {
	p.Cache.Purge()
}
