package blob

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/supperclub/clubdesk/pkg/store"
)

func TestPutOpenDelete(t *testing.T) {
	b, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	n, err := b.Put(ctx, "att_1", strings.NewReader("receipt bytes"))
	if err != nil || n != 13 {
		t.Fatalf("Put = %d, %v", n, err)
	}
	rc, err := b.Open(ctx, "att_1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if string(got) != "receipt bytes" {
		t.Errorf("read %q", got)
	}

	if err := b.Delete(ctx, "att_1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := b.Open(ctx, "att_1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Open after delete: %v", err)
	}
	if err := b.Delete(ctx, "att_1"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestRejectsPathKeys(t *testing.T) {
	b, _ := NewFS(t.TempDir())
	for _, key := range []string{"", "..", "../escape", `a\b`, "dir/file"} {
		if _, err := b.Put(context.Background(), key, strings.NewReader("x")); err == nil {
			t.Errorf("Put(%q) succeeded", key)
		}
	}
}

func TestFailedPutLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	b, _ := NewFS(dir)
	_, err := b.Put(context.Background(), "att_2", io.MultiReader(strings.NewReader("partial"), errReader{}))
	if err == nil {
		t.Fatal("expected error")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("leftover files: %v", entries)
	}
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }
