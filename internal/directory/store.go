package directory

import (
	"context"
	"time"
)

// Store is the directory API used by the dispatch pipeline and health probe.
type Store interface {
	// Resolve returns the destination chat ids of a group in insertion order.
	// An unknown or empty group yields an empty slice, not an error.
	Resolve(ctx context.Context, groupName string) ([]int64, error)

	// Authorize reports whether apiKey is granted for groupName.
	// Any store error means "not authorized" to the caller (fail closed).
	Authorize(ctx context.Context, apiKey, groupName string) (bool, error)

	// Ping verifies the store is reachable and the schema is present.
	Ping(ctx context.Context) error

	Close() error
}

// Admin extends Store with the write operations used by seeding tools
// and tests. The relay itself never mutates the directory.
type Admin interface {
	Store

	AddGroup(ctx context.Context, groupName string) (int64, error)
	AddDestination(ctx context.Context, groupName string, chatID int64) error
	AddKey(ctx context.Context, apiKey string) (int64, error)
	GrantKey(ctx context.Context, apiKey, groupName string) error
}

// Config configures the sqlite-backed store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}
