package crypto

import (
	"encoding/hex"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// VerifyCache memoizes the outcome of VerifyPartial/VerifyThreshold calls on
// the hot vote-processing path, keyed by (msg, sig, pk). The cache is purged
// whenever the replica advances past a view, since a view's digests are
// never reused and retaining them forever would leak memory across a
// long-running replica's lifetime.
type VerifyCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, bool]
}

// NewVerifyCache builds a cache holding up to size entries.
func NewVerifyCache(size int) *VerifyCache {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, bool](size)
	return &VerifyCache{cache: c}
}

func cacheKey(msg []byte, sigBytes, pkBytes []byte) string {
	return hex.EncodeToString(pkBytes) + ":" + hex.EncodeToString(sigBytes) + ":" + hex.EncodeToString(msg)
}

// CheckedVerifyPartial is VerifyPartial with memoization.
func (c *VerifyCache) CheckedVerifyPartial(pk PublicShare, msg []byte, sig PartialSig) bool {
	pkBytes := pk.Point.Bytes()
	sigBytes := sig.Point.Bytes()
	key := cacheKey(msg, sigBytes[:], pkBytes[:])

	c.mu.Lock()
	if ok, found := c.cache.Get(key); found {
		c.mu.Unlock()
		return ok
	}
	c.mu.Unlock()

	ok := VerifyPartial(pk, msg, sig)

	c.mu.Lock()
	c.cache.Add(key, ok)
	c.mu.Unlock()
	return ok
}

// Purge discards all cached outcomes. Call on every view change.
func (c *VerifyCache) Purge() {
	c.mu.Lock()
	c.cache.Purge()
	c.mu.Unlock()
}

// Len reports the number of cached entries, for diagnostics/tests.
func (c *VerifyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}
