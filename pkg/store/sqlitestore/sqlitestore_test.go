package sqlitestore

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/supperclub/clubdesk/pkg/store"
)

type doc struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Seats int    `json:"seats"`
}

func openTempDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "clubdesk.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), " "); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestOpenTwiceAppliesMigrationsOnce(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "clubdesk.db")
	db, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	_ = db.Close()
	db, err = Open(context.Background(), path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	_ = db.Close()
}

func TestPutFetchRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tables := NewCollection[doc](openTempDB(t), "tables", "tbl")
	id := tables.NextID()
	if !strings.HasPrefix(id, "tbl_") {
		t.Fatalf("id = %q, want tbl_ prefix", id)
	}
	want := doc{ID: id, Title: "Window", Seats: 4}
	if err := tables.Put(ctx, id, want); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := tables.Fetch(ctx, id)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("fetched doc mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchMissingReturnsNotFound(t *testing.T) {
	t.Parallel()

	tables := NewCollection[doc](openTempDB(t), "tables", "tbl")
	if _, err := tables.Fetch(context.Background(), "tbl_missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("fetch error = %v, want ErrNotFound", err)
	}
	if err := tables.Remove(context.Background(), "tbl_missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("remove error = %v, want ErrNotFound", err)
	}
}

func TestUpsertKeepsInsertionOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tables := NewCollection[doc](openTempDB(t), "tables", "tbl")
	for _, d := range []doc{{ID: "b", Title: "Bar"}, {ID: "a", Title: "Booth"}, {ID: "c", Title: "Patio"}} {
		if err := tables.Put(ctx, d.ID, d); err != nil {
			t.Fatalf("put %s: %v", d.ID, err)
		}
	}
	if err := tables.Put(ctx, "b", doc{ID: "b", Title: "Bar rail"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	all, err := tables.All(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	var ids []string
	for _, d := range all {
		ids = append(ids, d.ID)
	}
	if diff := cmp.Diff([]string{"b", "a", "c"}, ids); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	if all[0].Title != "Bar rail" {
		t.Errorf("title = %q, want updated title", all[0].Title)
	}
}

func TestKindsArePartitioned(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openTempDB(t)
	tables := NewCollection[doc](db, "tables", "tbl")
	events := NewCollection[doc](db, "events", "evt")
	_ = tables.Put(ctx, "x", doc{ID: "x"})
	_ = events.Put(ctx, "x", doc{ID: "x", Title: "Closure"})

	if err := tables.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, err := events.Fetch(ctx, "x")
	if err != nil {
		t.Fatalf("events fetch after tables clear: %v", err)
	}
	if got.Title != "Closure" {
		t.Errorf("title = %q, want Closure", got.Title)
	}
}

func TestRestoreReplacesKind(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tables := NewCollection[doc](openTempDB(t), "tables", "tbl")
	_ = tables.Put(ctx, "old", doc{ID: "old"})

	if err := tables.Restore(ctx, map[string]doc{
		"t2": {ID: "t2", Seats: 2},
		"t1": {ID: "t1", Seats: 6},
	}); err != nil {
		t.Fatalf("restore: %v", err)
	}
	dump, err := tables.Dump(ctx)
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	if _, ok := dump["old"]; ok {
		t.Error("expected old record to be replaced")
	}
	matched, err := tables.Match(ctx, func(_ string, d doc) bool { return d.Seats > 4 })
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(matched) != 1 || matched[0].ID != "t1" {
		t.Errorf("matched = %+v, want t1 only", matched)
	}
}

func TestExtractUp(t *testing.T) {
	t.Parallel()

	content := "-- +migrate Up\nCREATE TABLE a (x);\n-- +migrate Down\nDROP TABLE a;"
	if got := strings.TrimSpace(ExtractUp(content)); got != "CREATE TABLE a (x);" {
		t.Fatalf("ExtractUp = %q", got)
	}
	if got := ExtractUp("SELECT 1;"); got != "SELECT 1;" {
		t.Fatalf("ExtractUp without markers = %q", got)
	}
}
