package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestMemoryObjectStorePutGetDelete(t *testing.T) {
	m := NewMemoryObjectStore()
	ctx := context.Background()

	tags := map[string]string{"year": "2nd Year", "section": "A"}
	if err := m.Put(ctx, "files/f1/grades.csv", strings.NewReader("a,b,c"), 5, "text/csv", tags); err != nil {
		t.Fatalf("put: %v", err)
	}

	r, info, err := m.Get(ctx, "files/f1/grades.csv")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "a,b,c" {
		t.Fatalf("expected stored bytes back, got %q", data)
	}
	if info.ContentType != "text/csv" || info.Size != 5 {
		t.Fatalf("unexpected object info: %+v", info)
	}
	got, ok := m.Tags("files/f1/grades.csv")
	if !ok || got["year"] != "2nd Year" || got["section"] != "A" {
		t.Fatalf("expected tags to be stored, got %v ok=%v", got, ok)
	}

	if err := m.Delete(ctx, "files/f1/grades.csv"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := m.Get(ctx, "files/f1/grades.csv"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryObjectStoreGetMissing(t *testing.T) {
	m := NewMemoryObjectStore()
	if _, _, err := m.Get(context.Background(), "files/none"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
