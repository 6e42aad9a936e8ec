package cache

import "github.com/ushironoko/rallytui/internal/diffcache"

// MaxHighlightedCacheEntries is the L2 prefetch store's capacity.
const MaxHighlightedCacheEntries = 50

// prefetchKey identifies one entry in the L2 store.
type prefetchKey struct {
	PR        PRKey
	FileIndex int
}

type prefetchEntry struct {
	cache     *diffcache.DiffCache
	insertSeq uint64
}

// PrefetchStore is the L2 tier: a map of (PR key, file index) to highlighted
// DiffCache, capped at MaxHighlightedCacheEntries. Overflow evicts the
// entry whose file index is farthest from the currently selected file
// index, since the user's next likely file is adjacent in the list; ties
// are broken by oldest insertion.
type PrefetchStore struct {
	entries map[prefetchKey]*prefetchEntry
	seq     uint64
}

// NewPrefetchStore constructs an empty L2 store.
func NewPrefetchStore() *PrefetchStore {
	return &PrefetchStore{entries: make(map[prefetchKey]*prefetchEntry)}
}

// Put inserts or replaces the cache for (pr, fileIndex), evicting the
// farthest-from-selectedIndex entry if this insertion would exceed
// MaxHighlightedCacheEntries.
func (p *PrefetchStore) Put(pr PRKey, fileIndex int, c *diffcache.DiffCache, selectedIndex int) {
	key := prefetchKey{PR: pr, FileIndex: fileIndex}
	p.seq++
	if _, exists := p.entries[key]; !exists && len(p.entries) >= MaxHighlightedCacheEntries {
		p.evictFarthest(selectedIndex)
	}
	p.entries[key] = &prefetchEntry{cache: c, insertSeq: p.seq}
}

// Get returns the cached entry for (pr, fileIndex), if present.
func (p *PrefetchStore) Get(pr PRKey, fileIndex int) (*diffcache.DiffCache, bool) {
	e, ok := p.entries[prefetchKey{PR: pr, FileIndex: fileIndex}]
	if !ok {
		return nil, false
	}
	return e.cache, true
}

// Len returns the number of entries currently held.
func (p *PrefetchStore) Len() int { return len(p.entries) }

// PurgeExcept drops every entry not belonging to pr. Used on PR switch to
// keep the store from serving stale-PR highlighted caches.
func (p *PrefetchStore) PurgeExcept(pr PRKey) {
	for k := range p.entries {
		if k.PR != pr {
			delete(p.entries, k)
		}
	}
}

func (p *PrefetchStore) evictFarthest(selectedIndex int) {
	var worstKey prefetchKey
	var worstDist = -1
	var worstSeq uint64
	first := true

	for k, e := range p.entries {
		dist := k.FileIndex - selectedIndex
		if dist < 0 {
			dist = -dist
		}
		if first || dist > worstDist || (dist == worstDist && e.insertSeq < worstSeq) {
			worstKey, worstDist, worstSeq = k, dist, e.insertSeq
			first = false
		}
	}

	if !first {
		delete(p.entries, worstKey)
	}
}
