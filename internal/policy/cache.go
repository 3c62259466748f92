package policy

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// decisionCacheCapacity is the compile-time bound on the ACK decision cache,
// per spec §3 ("target 256 entries").
const decisionCacheCapacity = 256

type cacheKey struct {
	command     string
	persona     string
	spectralTag string
}

// decisionCache is a mutex-free wrapper (golang-lru/v2 is internally locked)
// around a bounded LRU of ACK decisions.
type decisionCache struct {
	inner *lru.Cache[cacheKey, Decision]
}

func newDecisionCache() *decisionCache {
	c, err := lru.New[cacheKey, Decision](decisionCacheCapacity)
	if err != nil {
		// Only returns an error for a non-positive size, which never happens
		// with the compile-time constant above.
		panic(err)
	}
	return &decisionCache{inner: c}
}

func (c *decisionCache) get(k cacheKey) (Decision, bool) {
	return c.inner.Get(k)
}

func (c *decisionCache) put(k cacheKey, d Decision) {
	c.inner.Add(k, d)
}

func (c *decisionCache) clear() {
	c.inner.Purge()
}
