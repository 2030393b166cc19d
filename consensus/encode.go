package consensus

// VoteSignMessage returns the canonical bytes a replica's partial signature
// over a vote commits to: view || block_hash. This is the message passed to
// crypto.CryptoProvider.SignPartial / VerifyPartial.
func VoteSignMessage(view uint64, blockHash Hash) []byte {
	out := make([]byte, 0, 8+32)
	out = AppendU64le(out, view)
	out = append(out, blockHash[:]...)
	return out
}

// TimeoutSignMessage returns the canonical bytes signed for a view-change
// timeout/new-view message: view || high_qc_view || high_qc_block_hash.
func TimeoutSignMessage(view, highQCView uint64, highQCBlockHash Hash) []byte {
	out := make([]byte, 0, 8+8+32)
	out = AppendU64le(out, view)
	out = AppendU64le(out, highQCView)
	out = append(out, highQCBlockHash[:]...)
	return out
}
