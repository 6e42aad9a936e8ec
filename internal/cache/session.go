package cache

import (
	"container/list"
	"time"
)

// MaxSessionPRs is the L1 session cache's LRU capacity.
const MaxSessionPRs = 5

// Comment is a single review or discussion comment anchored to a PR.
type Comment struct {
	ID       int64
	Path     string // empty for discussion comments
	Line     int    // 0 for discussion comments
	Body     string
	Author   string
	IsThread bool
}

// PRFile is one changed file in a PR's ordered file list.
type PRFile struct {
	Path         string
	Patch        string
	LanguageHint string
}

// PRData is everything the core holds for one loaded PR. It owns Files;
// comments reference the PR key and live no longer than this entry.
type PRData struct {
	Key               PRKey
	Title             string
	BaseBranch        string
	HeadSHA           string
	UpdatedAt         time.Time
	Files             []PRFile
	ReviewComments    []Comment
	DiscussionComments []Comment
}

// SessionCache is the L1 tier: an LRU map of PR key to PR data, capped at
// MaxSessionPRs entries.
type SessionCache struct {
	cap     int
	order   *list.List // front = most recently used
	entries map[PRKey]*list.Element
}

type sessionEntry struct {
	key  PRKey
	data *PRData
}

// NewSessionCache constructs an empty L1 cache with the default capacity.
func NewSessionCache() *SessionCache {
	return &SessionCache{
		cap:     MaxSessionPRs,
		order:   list.New(),
		entries: make(map[PRKey]*list.Element),
	}
}

// Put inserts or refreshes a PR entry, moving it to most-recently-used. If
// inserting pushes the cache over capacity, the least-recently-used entry
// (and its comments, since they live in the same PRData) is evicted.
func (s *SessionCache) Put(data *PRData) {
	if el, ok := s.entries[data.Key]; ok {
		el.Value.(*sessionEntry).data = data
		s.order.MoveToFront(el)
		return
	}

	el := s.order.PushFront(&sessionEntry{key: data.Key, data: data})
	s.entries[data.Key] = el

	for s.order.Len() > s.cap {
		oldest := s.order.Back()
		if oldest == nil {
			break
		}
		s.order.Remove(oldest)
		delete(s.entries, oldest.Value.(*sessionEntry).key)
	}
}

// Get returns the PR data for key, promoting it to most-recently-used.
// Returns (nil, false) on a miss.
func (s *SessionCache) Get(key PRKey) (*PRData, bool) {
	el, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	s.order.MoveToFront(el)
	return el.Value.(*sessionEntry).data, true
}

// PutComment appends a comment to the PR's review or discussion collection.
// It is a no-op (comments may only be written if the PR key is present) if
// key is not currently in the cache.
func (s *SessionCache) PutComment(key PRKey, c Comment, discussion bool) bool {
	el, ok := s.entries[key]
	if !ok {
		return false
	}
	data := el.Value.(*sessionEntry).data
	if discussion {
		data.DiscussionComments = append(data.DiscussionComments, c)
	} else {
		data.ReviewComments = append(data.ReviewComments, c)
	}
	return true
}

// Len returns the number of PRs currently held.
func (s *SessionCache) Len() int {
	return s.order.Len()
}

// InvalidateAll drops every PR entry. Used on the user's refresh command.
func (s *SessionCache) InvalidateAll() {
	s.order = list.New()
	s.entries = make(map[PRKey]*list.Element)
}
