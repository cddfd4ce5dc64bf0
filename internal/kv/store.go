package kv

import (
	"context"
	"errors"
	"os"
	"strings"
)

var ErrNotFound = errors.New("kv key not found")

// Store is a best-effort string cache. Values are JSON documents.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
