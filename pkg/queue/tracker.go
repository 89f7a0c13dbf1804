package queue

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// DeleteTracker remembers receipt handles that have already been deleted so the
// pipeline never issues a second delete for the same delivery. Entries expire after
// one visibility window, by which time a redelivery carries a new handle anyway.
type DeleteTracker struct {
	cache *ttlcache.Cache[string, struct{}]
}

// NewDeleteTracker creates a tracker whose entries live for ttl and starts its
// expiry loop. Call Close to stop it.
func NewDeleteTracker(ttl time.Duration) *DeleteTracker {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, struct{}](ttl),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	go cache.Start()
	return &DeleteTracker{cache: cache}
}

// Claim marks receiptHandle as deleted and reports whether this caller is the
// first to do so.
func (t *DeleteTracker) Claim(receiptHandle string) bool {
	_, alreadyClaimed := t.cache.GetOrSet(receiptHandle, struct{}{})
	return !alreadyClaimed
}

// Release forgets a claim, e.g. after the delete call itself failed.
func (t *DeleteTracker) Release(receiptHandle string) {
	t.cache.Delete(receiptHandle)
}

// Close stops the expiry loop.
func (t *DeleteTracker) Close() {
	t.cache.Stop()
}
