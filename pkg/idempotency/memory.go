package idempotency

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type claim struct {
	key       string
	expiresAt time.Time
}

// MemoryStore keeps claims in an LRU list bounded by capacity. When full the
// least recently claimed key is forgotten.
type MemoryStore struct {
	capacity int
	ttl      time.Duration
	lease    time.Duration
	items    map[string]*list.Element
	order    *list.List
	mu       sync.Mutex
	now      func() time.Time
}

// NewMemoryStore creates a store remembering up to capacity keys for ttl.
// Panics if capacity is not positive.
func NewMemoryStore(capacity int, ttl time.Duration, opts ...Option) *MemoryStore {
	if capacity <= 0 {
		panic("idempotency: capacity must be positive")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		capacity: capacity,
		ttl:      ttl,
		lease:    newSettings(ttl, opts).lease,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

func (s *MemoryStore) Claim(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if elem, ok := s.items[key]; ok {
		c := elem.Value.(*claim)
		if now.Before(c.expiresAt) {
			return false, nil
		}
		s.remove(elem)
	}

	s.insert(key, now.Add(s.lease))
	return true, nil
}

func (s *MemoryStore) Complete(_ context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt := s.now().Add(s.ttl)
	if elem, ok := s.items[key]; ok {
		elem.Value.(*claim).expiresAt = expiresAt
		s.order.MoveToFront(elem)
		return nil
	}
	s.insert(key, expiresAt)
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.items[key]; ok {
		s.remove(elem)
	}
	return nil
}

// Len returns the number of remembered claims, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Must be called with lock held.
func (s *MemoryStore) insert(key string, expiresAt time.Time) {
	s.items[key] = s.order.PushFront(&claim{key: key, expiresAt: expiresAt})
	if s.order.Len() > s.capacity {
		s.remove(s.order.Back())
	}
}

// Must be called with lock held.
func (s *MemoryStore) remove(elem *list.Element) {
	s.order.Remove(elem)
	delete(s.items, elem.Value.(*claim).key)
}
