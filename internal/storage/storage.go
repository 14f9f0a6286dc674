// Package storage provides a uniform interface over the places pipeline
// artifacts live: process memory, the local file tree, S3 buckets and
// read-only http(s) URLs.
package storage

import (
	"context"
	"errors"

	"github.com/sashko-guz/spacer/internal/storage/drivers"
)

// Backend stores opaque artifacts under string keys. The meaning of a key
// depends on the backend: a map key, a file path, an object key or a URL.
//
// Backends lacking a capability fail with ErrUnsupported rather than
// silently doing nothing. Exists never fails; any error reads as false.
type Backend interface {
	Store(ctx context.Context, key string, data []byte) error
	Load(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) bool
}

var (
	ErrNotFound    = drivers.ErrNotFound
	ErrUnsupported = drivers.ErrUnsupported
	ErrInput       = drivers.ErrInput
	// ErrConfiguration is returned when a required setting (bucket, S3 access,
	// local model path) is missing. It is raised before any I/O.
	ErrConfiguration = errors.New("storage not configured")
)

var (
	_ Backend = (*drivers.MemoryStorage)(nil)
	_ Backend = (*drivers.LocalStorage)(nil)
	_ Backend = (*drivers.S3Storage)(nil)
	_ Backend = (*drivers.URLStorage)(nil)
	_ Backend = (*CachedBackend)(nil)
)
