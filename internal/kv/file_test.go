package kv

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	store, err := NewFile(dir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	ctx := context.Background()

	if _, err := store.Get(ctx, "notifications"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Set(ctx, "notifications", `[{"id":1}]`); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := store.Get(ctx, "notifications")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != `[{"id":1}]` {
		t.Fatalf("unexpected value: %s", got)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "notifications.json" {
		t.Fatalf("expected a single cache file, got %v", entries)
	}

	if err := store.Delete(ctx, "notifications"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "notifications"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestFileRejectsPathKeys(t *testing.T) {
	store, err := NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if err := store.Set(context.Background(), "../escape", "{}"); err == nil {
		t.Fatalf("expected invalid key error")
	}
}

func TestParseEndpoint(t *testing.T) {
	host, secure, err := parseEndpoint("http://minio:9000")
	if err != nil || host != "minio:9000" || secure {
		t.Fatalf("unexpected http parse: %s %v %v", host, secure, err)
	}
	host, secure, err = parseEndpoint("s3.eu-west-1.amazonaws.com")
	if err != nil || host != "s3.eu-west-1.amazonaws.com" || !secure {
		t.Fatalf("unexpected bare parse: %s %v %v", host, secure, err)
	}
}
