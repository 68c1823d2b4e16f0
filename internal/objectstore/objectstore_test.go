package objectstore_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gradi/internal/objectstore"
	"gradi/internal/services"
)

func TestKeyConventions(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{objectstore.OriginalKey("MID2024", "20231234", "p1.jpg"), "original/MID2024/20231234/p1.jpg"},
		{objectstore.OriginalKey("MID2024", "", "p1.jpg"), "original/MID2024/unknown_id/p1.jpg"},
		{objectstore.HeaderKey("MID2024", "p1.jpg"), "header/MID2024/unknown_id/p1.jpg"},
		{objectstore.AnswerResultKey("MID2024", "20231234"), "answer/MID2024/20231234/result.json"},
		{objectstore.OriginalPrefix("MID2024"), "original/MID2024/"},
		{objectstore.OriginalKey("MID2024", "20231234", "a/b.jpg"), "original/MID2024/20231234/a-b.jpg"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Fatalf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestParseOriginalKey(t *testing.T) {
	img, ok := objectstore.ParseOriginalKey("original/E1/unknown_id/p1.jpg")
	if !ok || img.ExamCode != "E1" || img.StudentID != "unknown_id" || img.Filename != "p1.jpg" {
		t.Fatalf("unexpected parse %+v ok=%v", img, ok)
	}
	for _, bad := range []string{"header/E1/unknown_id/p1.jpg", "original/E1/p1.jpg", "original/E1//p1.jpg"} {
		if _, ok := objectstore.ParseOriginalKey(bad); ok {
			t.Fatalf("expected %q rejected", bad)
		}
	}
	if !objectstore.IsImage("A.JPG") || objectstore.IsImage("result.json") {
		t.Fatal("unexpected image classification")
	}
}

func exerciseStore(t *testing.T, store objectstore.Store) {
	t.Helper()
	ctx := context.Background()

	if err := store.Put(ctx, "original/E1/20230001/a.jpg", []byte("img-a"), objectstore.ContentTypeJPEG); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(ctx, "original/E1/unknown_id/b.jpg", []byte("img-b"), objectstore.ContentTypeJPEG); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(ctx, "original/E2/20230001/c.jpg", []byte("img-c"), objectstore.ContentTypeJPEG); err != nil {
		t.Fatalf("Put: %v", err)
	}

	data, err := store.Get(ctx, "original/E1/20230001/a.jpg")
	if err != nil || string(data) != "img-a" {
		t.Fatalf("Get = %q, %v", data, err)
	}
	if _, err := store.Get(ctx, "original/E1/missing.jpg"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	keys, err := store.List(ctx, "original/E1/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 2 || keys[0] != "original/E1/20230001/a.jpg" || keys[1] != "original/E1/unknown_id/b.jpg" {
		t.Fatalf("unexpected keys %v", keys)
	}

	if err := store.Copy(ctx, "original/E1/unknown_id/b.jpg", "original/E1/20230002/b.jpg"); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if ok, err := store.Exists(ctx, "original/E1/20230002/b.jpg"); err != nil || !ok {
		t.Fatalf("expected copied object, ok=%v err=%v", ok, err)
	}
	if ok, err := store.Exists(ctx, "original/E1/20230003/b.jpg"); err != nil || ok {
		t.Fatalf("expected missing object, ok=%v err=%v", ok, err)
	}
	if err := store.Copy(ctx, "nope/x.jpg", "nope/y.jpg"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on copy of missing source, got %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	store := objectstore.NewMemory()
	exerciseStore(t, store)
	if got := store.ContentType("original/E1/20230002/b.jpg"); got != objectstore.ContentTypeJPEG {
		t.Fatalf("expected content type copied, got %q", got)
	}
}

func TestFilesystemStore(t *testing.T) {
	store, err := objectstore.NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	exerciseStore(t, store)

	if err := store.Put(context.Background(), "../escape.txt", []byte("x"), ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected traversal rejected, got %v", err)
	}
}

func TestFetcherReferences(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.jpg":
			_, _ = w.Write([]byte("remote"))
		case "/missing.jpg":
			http.NotFound(w, r)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	store := objectstore.NewMemory()
	_ = store.Put(context.Background(), "uploads/E1/a.jpg", []byte("local"), "")
	fetcher := objectstore.NewFetcher(store, time.Second)
	ctx := context.Background()

	if data, err := fetcher.Fetch(ctx, srv.URL+"/ok.jpg?X-Amz-Signature=secret"); err != nil || string(data) != "remote" {
		t.Fatalf("http fetch = %q, %v", data, err)
	}
	if _, err := fetcher.Fetch(ctx, srv.URL+"/missing.jpg"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := fetcher.Fetch(ctx, srv.URL+"/boom"); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
	if data, err := fetcher.Fetch(ctx, "uploads/E1/a.jpg"); err != nil || string(data) != "local" {
		t.Fatalf("bare key fetch = %q, %v", data, err)
	}
	if data, err := fetcher.Fetch(ctx, "s3://bucket/uploads/E1/a.jpg"); err != nil || string(data) != "local" {
		t.Fatalf("s3 fetch = %q, %v", data, err)
	}
	if _, err := fetcher.Fetch(ctx, ""); services.DispositionFor(err) != services.DispositionDrop {
		t.Fatalf("expected empty reference dropped, got %v", err)
	}
	if _, err := fetcher.Fetch(ctx, "ftp://host/file"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected unsupported scheme rejected, got %v", err)
	}
}
