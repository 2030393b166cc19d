package crypto

import (
	"crypto/sha256"
	"encoding/binary"
)

// sha256VoteDigest computes SHA-256("VOTE" || view || block_hash), the
// message every vote's partial signature is computed over. The
// "VOTE" tag and view binding stop a partial signature produced for one view
// from being replayed as a vote in a different view.
func sha256VoteDigest(view uint64, blockHash [32]byte) []byte {
	h := sha256.New()
	h.Write([]byte("VOTE"))
	var viewBuf [8]byte
	binary.BigEndian.PutUint64(viewBuf[:], view)
	h.Write(viewBuf[:])
	h.Write(blockHash[:])
	return h.Sum(nil)
}
