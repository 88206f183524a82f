// Package credentials holds the in-memory credential cache that fronts the
// master database for request authentication, together with its durable
// stores and the authoritative Postgres lookup.
//
// The in-memory map is authoritative for reads. Mutations are persisted by
// a background flusher, so a slow or failing store never sits on the
// request path. See [Cache].
package credentials

import (
	"context"
	"log/slog"
	"time"
)

// Profile is the capability profile attached to a credential.
type Profile struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	IsPrivileged bool   `json:"root"`
	Description  string `json:"description"`
}

// Record is an API client credential. It is a plain value: copies never
// share state with the cache.
type Record struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Token       string    `json:"token"`
	Secret      string    `json:"secret"`
	Active      bool      `json:"active"`
	Profile     Profile   `json:"profile"`
	LastUpdated time.Time `json:"last_updated"`
}

// LogValue keeps the secret out of structured logs.
func (r Record) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("id", r.ID),
		slog.String("name", r.Name),
		slog.Bool("active", r.Active),
		slog.String("profile", r.Profile.Name),
	)
}

// Entry wraps a cached value with its lifetime. A zero ExpiresAt never
// expires.
type Entry[T any] struct {
	Value     T
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Valid reports whether the entry may still be served at now.
func (e Entry[T]) Valid(now time.Time) bool {
	return e.ExpiresAt.IsZero() || !now.After(e.ExpiresAt)
}

// Lookup is the authoritative credential source, normally the master
// database. Implementations only read.
type Lookup interface {
	// FindByToken returns found=false with a nil error for unknown tokens.
	FindByToken(ctx context.Context, token string) (Record, bool, error)
	// List returns every credential.
	List(ctx context.Context) ([]Record, error)
}

// Batch is one flush worth of changes. Snapshot is always the complete
// document at the time the batch was taken; Upserts and Deletes are the
// changes since the previous successful flush. When Replace is set the
// durable copy is known to have diverged and stores must write Snapshot
// whole.
type Batch struct {
	Snapshot map[string]Record
	Upserts  map[string]Record
	Deletes  []string
	Replace  bool
}

// Store is durable storage for the cache document.
type Store interface {
	// Load returns the persisted document. An empty store is not an error.
	Load(ctx context.Context) (map[string]Record, error)
	// Apply persists a batch.
	Apply(ctx context.Context, b Batch) error
}
