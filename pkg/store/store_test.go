package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// testItem is a simple struct used throughout store tests.
type testItem struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func itemID(it testItem) string { return it.ID }

// ---------------------------------------------------------------------------
// Store[T] – basic CRUD
// ---------------------------------------------------------------------------

func TestNextID(t *testing.T) {
	s := New[testItem]("res")
	id1 := s.NextID()
	id2 := s.NextID()

	if id1 != "res_000001" {
		t.Errorf("expected res_000001, got %s", id1)
	}
	if id2 != "res_000002" {
		t.Errorf("expected res_000002, got %s", id2)
	}
}

func TestSetOverwriteKeepsOrder(t *testing.T) {
	s := New[testItem]("item")
	s.Set("a", testItem{ID: "a", Value: 1})
	s.Set("b", testItem{ID: "b", Value: 2})
	s.Set("a", testItem{ID: "a", Value: 3})

	list := s.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 items, got %d", len(list))
	}
	if list[0].ID != "a" || list[0].Value != 3 {
		t.Errorf("expected overwritten a first, got %+v", list[0])
	}
}

func TestDelete(t *testing.T) {
	s := New[testItem]("item")
	s.Set("a", testItem{ID: "a"})
	if !s.Delete("a") {
		t.Fatal("expected delete to report existing item")
	}
	if s.Delete("a") {
		t.Error("expected second delete to report missing item")
	}
	if s.Count() != 0 {
		t.Errorf("expected empty store, got %d", s.Count())
	}
}

func TestFilter(t *testing.T) {
	s := New[testItem]("item")
	for i := 1; i <= 5; i++ {
		id := s.NextID()
		s.Set(id, testItem{ID: id, Value: i})
	}
	even := s.Filter(func(_ string, it testItem) bool { return it.Value%2 == 0 })
	if len(even) != 2 {
		t.Fatalf("expected 2 even items, got %d", len(even))
	}
	if even[0].Value != 2 || even[1].Value != 4 {
		t.Errorf("unexpected filter order: %+v", even)
	}
}

func TestLoadSnapshotAdvancesCounter(t *testing.T) {
	s := New[testItem]("mem")
	s.LoadSnapshot(map[string]testItem{
		"mem_000007": {ID: "mem_000007"},
		"mem_000002": {ID: "mem_000002"},
	})

	if got := s.NextID(); got != "mem_000008" {
		t.Errorf("expected mem_000008 after load, got %s", got)
	}
	ids := s.List()
	if ids[0].ID != "mem_000002" {
		t.Errorf("expected sorted order after load, got %+v", ids)
	}
}

func TestReset(t *testing.T) {
	s := New[testItem]("item")
	s.Set(s.NextID(), testItem{})
	s.Reset()
	if s.Count() != 0 {
		t.Errorf("expected empty store after reset")
	}
	if got := s.NextID(); got != "item_000001" {
		t.Errorf("expected counter reset, got %s", got)
	}
}

func TestConcurrentSet(t *testing.T) {
	s := New[testItem]("item")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := s.NextID()
			s.Set(id, testItem{ID: id})
		}()
	}
	wg.Wait()
	if s.Count() != 50 {
		t.Errorf("expected 50 items, got %d", s.Count())
	}
}

// ---------------------------------------------------------------------------
// Collection contract
// ---------------------------------------------------------------------------

func TestCollectionFetchMissing(t *testing.T) {
	var c Collection[testItem] = New[testItem]("item")
	_, err := c.Fetch(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := c.Remove(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on remove, got %v", err)
	}
}

func TestCollectionHonoursCancelledContext(t *testing.T) {
	c := New[testItem]("item")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Put(ctx, "a", testItem{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCollectionDumpRestore(t *testing.T) {
	ctx := context.Background()
	src := New[testItem]("item")
	_ = src.Put(ctx, "item_000001", testItem{ID: "item_000001", Name: "alpha"})
	_ = src.Put(ctx, "item_000002", testItem{ID: "item_000002", Name: "beta"})

	dump, err := src.Dump(ctx)
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	dst := New[testItem]("item")
	if err := dst.Restore(ctx, dump); err != nil {
		t.Fatalf("restore: %v", err)
	}
	all, _ := dst.All(ctx)
	if len(all) != 2 || all[1].Name != "beta" {
		t.Errorf("unexpected restored items: %+v", all)
	}
}

// ---------------------------------------------------------------------------
// Paginate
// ---------------------------------------------------------------------------

func TestPaginate(t *testing.T) {
	items := []testItem{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}, {ID: "e"}}

	first := Paginate(items, itemID, "", 2)
	if len(first.Data) != 2 || !first.HasMore || first.Cursor != "b" {
		t.Fatalf("unexpected first page: %+v", first)
	}
	second := Paginate(items, itemID, first.Cursor, 2)
	if second.Data[0].ID != "c" || second.Cursor != "d" {
		t.Fatalf("unexpected second page: %+v", second)
	}
	last := Paginate(items, itemID, second.Cursor, 2)
	if len(last.Data) != 1 || last.HasMore {
		t.Fatalf("unexpected last page: %+v", last)
	}
	if last.Total != 5 {
		t.Errorf("expected total 5, got %d", last.Total)
	}
}

func TestPaginateAll(t *testing.T) {
	page := Paginate([]testItem{{ID: "a"}, {ID: "b"}}, itemID, "", 0)
	if len(page.Data) != 2 || page.HasMore {
		t.Errorf("expected whole list, got %+v", page)
	}
}

// ---------------------------------------------------------------------------
// Clock
// ---------------------------------------------------------------------------

func TestClockAdvance(t *testing.T) {
	c := NewClock()
	c.Advance(2 * time.Hour)
	if c.Offset() != 2*time.Hour {
		t.Errorf("expected 2h offset, got %s", c.Offset())
	}
	if d := time.Until(c.Now()); d < 119*time.Minute {
		t.Errorf("expected clock ~2h ahead, got %s", d)
	}
	c.Reset()
	if c.Offset() != 0 {
		t.Errorf("expected zero offset after reset")
	}
}

func TestClockSet(t *testing.T) {
	c := NewClock()
	target := time.Date(2031, time.March, 4, 18, 0, 0, 0, time.UTC)
	c.Set(target)
	if d := c.Now().Sub(target); d < 0 || d > time.Second {
		t.Errorf("expected clock at %s, got %s", target, c.Now())
	}
}
