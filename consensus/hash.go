package consensus

import "crypto/sha256"

// Hash is a content-addressed block or message digest: 32 bytes of SHA-256.
type Hash [32]byte

// ZeroHash is the genesis block's parent_hash.
var ZeroHash Hash

func (h Hash) IsZero() bool { return h == ZeroHash }

func sha256Sum(parts ...[]byte) [32]byte {
	d := sha256.New()
	for _, p := range parts {
		d.Write(p)
	}
	var out [32]byte
	copy(out[:], d.Sum(nil))
	return out
}
