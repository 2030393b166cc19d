package crypto

// CryptoProvider is the narrow crypto interface the consensus core depends
// on. Implementations may back the partial-signing operation with different
// key-share custody (software keys, an HSM, a remote signer); verification
// never needs custody of a secret and so is identical across providers.
type CryptoProvider interface {
	SignPartial(share SecretShare, msg []byte) (PartialSig, error)
	VerifyPartial(pk PublicShare, msg []byte, sig PartialSig) bool
	Aggregate(msg []byte, pubKeys map[uint32]PublicShare, signers []IndexedPartialSig) (ThresholdSig, error)
	VerifyThreshold(aggregatePK PublicShare, msg []byte, sig ThresholdSig) bool
}
