package chunkstore

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/owlglass/typewritermonkey/internal/logging"
)

// chunkCache is a fixed-capacity LRU of finished chunk text, keyed by
// chunk id. Adapted from the teacher's internal/bloblru.Cache, simplified
// from a byte-budget eviction policy (bloblru evicts by total cached
// bytes) to a fixed entry count, since every finished chunk here is
// exactly C bytes (spec §4.1: "LRU is bounded (~32 entries,
// insertion-order eviction with re-insertion on access for recency
// bump)") - the same shape golang-lru's Cache already implements
// directly, so it is used here rather than reimplementing simplelru.
type chunkCache struct {
	mu sync.Mutex
	c  *lru.Cache[uint64, string]
}

func newChunkCache(capacity int) *chunkCache {
	c, err := lru.New[uint64, string](capacity)
	if err != nil {
		// only returns an error for capacity <= 0, which is a programming error.
		panic(err)
	}
	return &chunkCache{c: c}
}

func (c *chunkCache) Add(id uint64, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.c.Add(id, text)
	logging.Log("chunkstore: cached chunk %d (%d bytes)", id, len(text))
}

func (c *chunkCache) Get(id uint64) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	text, ok := c.c.Get(id)
	logging.Log("chunkstore: cache get %d, hit %v", id, ok)
	return text, ok
}
