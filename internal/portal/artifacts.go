package portal

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// ArtifactStore keeps screenshot artifacts in memory with a TTL so
// abandoned previews cannot grow the heap without bound.
type ArtifactStore struct {
	cache *ttlcache.Cache[string, []byte]
}

// NewArtifactStore creates a store whose entries expire after ttl.
func NewArtifactStore(ttl time.Duration) *ArtifactStore {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, []byte](ttl),
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	)
	go cache.Start()
	return &ArtifactStore{cache: cache}
}

// Put stores artifact bytes under the given reference.
func (s *ArtifactStore) Put(ref string, data []byte) {
	s.cache.Set(ref, data, ttlcache.DefaultTTL)
}

// Get returns the artifact bytes for a reference.
func (s *ArtifactStore) Get(ref string) ([]byte, bool) {
	item := s.cache.Get(ref)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// Stop halts the expiration loop.
func (s *ArtifactStore) Stop() {
	s.cache.Stop()
}
