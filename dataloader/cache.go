package dataloader

import (
	"container/list"
	"fmt"
	"sync"
)

// tensorCache is an LRU cache of preprocessed sample tensors keyed by dataset
// position. It is only consulted for deterministic sources; augmented samples
// differ per access and must not be cached.
type tensorCache struct {
	mu      sync.Mutex
	items   map[int][]float32
	lru     *list.List
	lruElem map[int]*list.Element
	maxSize int

	hits   int64
	misses int64
}

func newTensorCache(maxSize int) *tensorCache {
	return &tensorCache{
		items:   make(map[int][]float32),
		lru:     list.New(),
		lruElem: make(map[int]*list.Element),
		maxSize: maxSize,
	}
}

func (tc *tensorCache) get(key int) ([]float32, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	data, ok := tc.items[key]
	if !ok {
		tc.misses++
		return nil, false
	}
	tc.lru.MoveToFront(tc.lruElem[key])
	tc.hits++
	return data, true
}

func (tc *tensorCache) put(key int, data []float32) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if _, ok := tc.items[key]; ok {
		tc.lru.MoveToFront(tc.lruElem[key])
		return
	}
	tc.lruElem[key] = tc.lru.PushFront(key)
	tc.items[key] = data

	for len(tc.items) > tc.maxSize {
		oldest := tc.lru.Back()
		if oldest == nil {
			break
		}
		k := oldest.Value.(int)
		tc.lru.Remove(oldest)
		delete(tc.lruElem, k)
		delete(tc.items, k)
	}
}

// Stats summarizes cache effectiveness for logging.
func (tc *tensorCache) stats() string {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	total := tc.hits + tc.misses
	rate := 0.0
	if total > 0 {
		rate = float64(tc.hits) / float64(total) * 100
	}
	return fmt.Sprintf("cache %d/%d items, %d hits, %d misses, %.1f%% hit rate",
		len(tc.items), tc.maxSize, tc.hits, tc.misses, rate)
}
