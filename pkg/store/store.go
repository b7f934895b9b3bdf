// Package store provides the generic record collections used by clubdesk.
// The in-memory Store is thread-safe, keeps insertion order for deterministic
// listing, and generates prefixed IDs. Durable backends implement the same
// Collection contract (see the sqlitestore subpackage).
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNotFound is returned by Fetch and Remove when no record has the given ID.
var ErrNotFound = errors.New("record not found")

// Collection is the persistence contract shared by every backend.
// All returns records in insertion order; Put on an existing ID keeps its position.
type Collection[T any] interface {
	NextID() string
	Put(ctx context.Context, id string, item T) error
	Fetch(ctx context.Context, id string) (T, error)
	Remove(ctx context.Context, id string) error
	All(ctx context.Context) ([]T, error)
	Match(ctx context.Context, predicate func(id string, item T) bool) ([]T, error)
	Dump(ctx context.Context) (map[string]T, error)
	Restore(ctx context.Context, items map[string]T) error
	Clear(ctx context.Context) error
}

// Store is a generic, thread-safe, in-memory store for objects of type T.
type Store[T any] struct {
	mu      sync.RWMutex
	items   map[string]T
	order   []string // insertion order for deterministic listing
	prefix  string
	counter atomic.Uint64
}

var _ Collection[struct{}] = (*Store[struct{}])(nil)

// New creates a new Store with the given ID prefix (e.g., "mem", "res", "msg").
func New[T any](prefix string) *Store[T] {
	return &Store[T]{
		items:  make(map[string]T),
		order:  make([]string, 0),
		prefix: prefix,
	}
}

// NextID generates a deterministic ID of the form "{prefix}_{counter}", e.g. "res_000001".
func (s *Store[T]) NextID() string {
	n := s.counter.Add(1)
	return fmt.Sprintf("%s_%06d", s.prefix, n)
}

// Set stores an item with the given ID. If the ID already exists, it is overwritten
// but its position in the insertion order is preserved.
func (s *Store[T]) Set(id string, item T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[id]; !exists {
		s.order = append(s.order, id)
	}
	s.items[id] = item
}

// Get retrieves an item by ID.
func (s *Store[T]) Get(id string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	return item, ok
}

// Delete removes an item by ID. Returns true if the item existed.
func (s *Store[T]) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[id]; !exists {
		return false
	}
	delete(s.items, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// List returns all items in insertion order.
func (s *Store[T]) List() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]T, 0, len(s.order))
	for _, id := range s.order {
		result = append(result, s.items[id])
	}
	return result
}

// Count returns the number of items in the store.
func (s *Store[T]) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Filter returns items that match the given predicate, in insertion order.
func (s *Store[T]) Filter(predicate func(id string, item T) bool) []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []T
	for _, id := range s.order {
		if predicate(id, s.items[id]) {
			result = append(result, s.items[id])
		}
	}
	return result
}

// Reset clears all items and resets the ID counter.
func (s *Store[T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]T)
	s.order = make([]string, 0)
	s.counter.Store(0)
}

// Snapshot returns a copy of all items keyed by ID.
func (s *Store[T]) Snapshot() map[string]T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := make(map[string]T, len(s.items))
	for k, v := range s.items {
		snapshot[k] = v
	}
	return snapshot
}

// LoadSnapshot replaces all items. IDs are sorted to keep the order deterministic,
// and the counter moves past any loaded ID carrying this store's prefix.
func (s *Store[T]) LoadSnapshot(snapshot map[string]T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]T, len(snapshot))
	s.order = make([]string, 0, len(snapshot))
	var highest uint64
	for k, v := range snapshot {
		s.items[k] = v
		s.order = append(s.order, k)
		var n uint64
		if _, err := fmt.Sscanf(k, s.prefix+"_%d", &n); err == nil && n > highest {
			highest = n
		}
	}
	sort.Strings(s.order)
	if highest > s.counter.Load() {
		s.counter.Store(highest)
	}
}

// Put implements Collection.
func (s *Store[T]) Put(ctx context.Context, id string, item T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.Set(id, item)
	return nil
}

// Fetch implements Collection.
func (s *Store[T]) Fetch(ctx context.Context, id string) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	item, ok := s.Get(id)
	if !ok {
		return zero, ErrNotFound
	}
	return item, nil
}

// Remove implements Collection.
func (s *Store[T]) Remove(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.Delete(id) {
		return ErrNotFound
	}
	return nil
}

// All implements Collection.
func (s *Store[T]) All(ctx context.Context) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.List(), nil
}

// Match implements Collection.
func (s *Store[T]) Match(ctx context.Context, predicate func(id string, item T) bool) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Filter(predicate), nil
}

// Dump implements Collection.
func (s *Store[T]) Dump(ctx context.Context) (map[string]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Snapshot(), nil
}

// Restore implements Collection.
func (s *Store[T]) Restore(ctx context.Context, items map[string]T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.LoadSnapshot(items)
	return nil
}

// Clear implements Collection.
func (s *Store[T]) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.Reset()
	return nil
}

// Page represents a paginated result set.
type Page[T any] struct {
	Data    []T    `json:"data"`
	HasMore bool   `json:"has_more"`
	Cursor  string `json:"cursor,omitempty"`
	Total   int    `json:"total"`
}

// Paginate slices items using cursor-based pagination. The cursor is the last
// ID seen; an empty cursor starts from the beginning and limit 0 returns everything.
func Paginate[T any](items []T, idOf func(T) string, cursor string, limit int) Page[T] {
	startIdx := 0
	if cursor != "" {
		for i, item := range items {
			if idOf(item) == cursor {
				startIdx = i + 1
				break
			}
		}
	}

	if limit <= 0 {
		limit = len(items)
	}

	endIdx := startIdx + limit
	hasMore := false
	if endIdx > len(items) {
		endIdx = len(items)
	} else if endIdx < len(items) {
		hasMore = true
	}
	if startIdx > endIdx {
		startIdx = endIdx
	}

	data := make([]T, 0, endIdx-startIdx)
	var lastCursor string
	for i := startIdx; i < endIdx; i++ {
		data = append(data, items[i])
		lastCursor = idOf(items[i])
	}

	return Page[T]{
		Data:    data,
		HasMore: hasMore,
		Cursor:  lastCursor,
		Total:   len(items),
	}
}

// Clock provides a simulated clock. Reminders and slot lead times read it so
// the admin plane can move time forward.
type Clock struct {
	mu     sync.RWMutex
	offset time.Duration
}

// NewClock creates a new simulated clock with no offset.
func NewClock() *Clock {
	return &Clock{}
}

// Now returns the current simulated time.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Now().Add(c.offset)
}

// Advance moves the simulated clock forward by the given duration.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
}

// Set moves the clock so that Now reports t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = time.Until(t)
}

// Reset resets the clock offset to zero.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = 0
}

// Offset returns the current clock offset.
func (c *Clock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}
