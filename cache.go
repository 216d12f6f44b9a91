package ekho

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// bounceThrottle rate-limits the camouflage bounce path (component M):
// when an inbound packet fails envelope authentication it is normally
// echoed back byte-identical, mimicking an ordinary ping responder.
// Without a limit, a source could flood the responder with garbage and
// use it as an unbounded ICMP reflector. bounceThrottle caps how many
// bounces a single source Endpoint gets within a window; once a source
// exceeds the limit, further undecryptable packets from it are dropped
// silently instead of bounced, until the window's entry expires.
type bounceThrottle struct {
	inner *cache.Cache
	limit int
}

// newBounceThrottle builds a throttle allowing up to limit bounces per
// source within window, evicting idle entries every cleanupInterval.
func newBounceThrottle(limit int, window, cleanupInterval time.Duration) *bounceThrottle {
	return &bounceThrottle{
		inner: cache.New(window, cleanupInterval),
		limit: limit,
	}
}

// allow reports whether a bounce to src is still permitted, and
// records this attempt against src's count regardless of the verdict.
func (t *bounceThrottle) allow(src Endpoint) bool {
	key := src.String()
	count := 1
	if v, ok := t.inner.Get(key); ok {
		count = v.(int) + 1
	}
	t.inner.SetDefault(key, count)
	return count <= t.limit
}
