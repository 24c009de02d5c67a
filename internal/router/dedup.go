package router

import (
	"container/list"
	"sync"
	"time"
)

// seenSet is a bounded duplicate-suppression window. Keys expire after the
// window elapses; when the set is full the oldest key is evicted first.
// Check-and-insert is atomic, so of two concurrent routings of the same
// event exactly one proceeds.
type seenSet struct {
	mu      sync.Mutex
	window  time.Duration
	maxSize int
	entries map[string]*list.Element
	order   *list.List // front = oldest

	now func() time.Time // stubbed in tests
}

type seenEntry struct {
	key    string
	seenAt time.Time
}

func newSeenSet(window time.Duration, maxSize int) *seenSet {
	if maxSize <= 0 {
		maxSize = 4096
	}
	return &seenSet{
		window:  window,
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// seen records the key and reports whether it was already present within
// the window. A window of zero disables suppression entirely.
func (s *seenSet) seen(key string) bool {
	if s.window <= 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.expire(now)

	if _, ok := s.entries[key]; ok {
		return true
	}

	for len(s.entries) >= s.maxSize {
		s.evictOldest()
	}
	s.entries[key] = s.order.PushBack(&seenEntry{key: key, seenAt: now})
	return false
}

func (s *seenSet) expire(now time.Time) {
	cutoff := now.Add(-s.window)
	for {
		front := s.order.Front()
		if front == nil {
			return
		}
		entry := front.Value.(*seenEntry)
		if entry.seenAt.After(cutoff) {
			return
		}
		s.order.Remove(front)
		delete(s.entries, entry.key)
	}
}

func (s *seenSet) evictOldest() {
	front := s.order.Front()
	if front == nil {
		return
	}
	entry := front.Value.(*seenEntry)
	s.order.Remove(front)
	delete(s.entries, entry.key)
}

func (s *seenSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
