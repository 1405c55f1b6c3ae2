package attribution

import (
	"time"

	"github.com/patrickmn/go-cache"

	"firestige.xyz/leakwatch/internal/core"
)

// Cached memoizes a resolver per connection for a TTL. Unknown results
// are not cached so a connection can be attributed once its socket shows
// up.
type Cached struct {
	next  Resolver
	ttl   time.Duration
	cache *cache.Cache // ConnKey.String() -> core.AppIdentity
}

// NewCached wraps next. A non-positive ttl uses the default.
func NewCached(next Resolver, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cached{
		next:  next,
		ttl:   ttl,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (c *Cached) Resolve(key core.ConnKey) core.AppIdentity {
	k := key.String()
	if v, found := c.cache.Get(k); found {
		return v.(core.AppIdentity)
	}
	app := c.next.Resolve(key)
	if !app.IsUnknown() {
		c.cache.Set(k, app, c.ttl)
	}
	return app
}

// Forget drops the cached identity for key, e.g. when the connection closes.
func (c *Cached) Forget(key core.ConnKey) {
	c.cache.Delete(key.String())
}

// Len returns the number of cached identities.
func (c *Cached) Len() int {
	return c.cache.ItemCount()
}
