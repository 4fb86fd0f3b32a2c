package attestation

import "container/list"

// BoundedSet is an insertion-ordered set with a hard capacity. On overflow
// it evicts the oldest 10% (spec.md §3: processed-id cache, signed-set).
// Not safe for concurrent use — each daemon's event loop is single
// threaded per spec.md §5, callers own their own locking if they deviate.
type BoundedSet struct {
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

func NewBoundedSet(capacity int) *BoundedSet {
	if capacity <= 0 {
		capacity = 10_000
	}
	return &BoundedSet{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
}

// Contains reports whether id is present.
func (s *BoundedSet) Contains(id string) bool {
	_, ok := s.index[id]
	return ok
}

// Add inserts id, evicting the oldest 10% if capacity would be exceeded.
// A no-op if id is already present.
func (s *BoundedSet) Add(id string) {
	if s.Contains(id) {
		return
	}
	if s.order.Len() >= s.capacity {
		s.evict(maxInt(1, s.capacity/10))
	}
	el := s.order.PushBack(id)
	s.index[id] = el
}

// Remove deletes id if present. Used by the validator's signed-set to
// roll back an optimistic insert when the ledger submit fails with
// anything other than "already signed" (spec.md §4.2 step 7).
func (s *BoundedSet) Remove(id string) {
	if el, ok := s.index[id]; ok {
		s.order.Remove(el)
		delete(s.index, id)
	}
}

func (s *BoundedSet) Len() int {
	return s.order.Len()
}

func (s *BoundedSet) evict(n int) {
	for i := 0; i < n; i++ {
		front := s.order.Front()
		if front == nil {
			return
		}
		s.order.Remove(front)
		delete(s.index, front.Value.(string))
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
