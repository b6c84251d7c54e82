// Package backend defines the Backend Store Adapter contract: the
// abstraction Leo uses to talk to one cloud object store. Two conforming
// implementations live in backend/azureblob (native versioning) and
// backend/s3 (list-versions); backend/memblob is a third, in-process
// implementation used for tests and local development.
package backend

import (
	"context"
	"io"

	"github.com/Lupando/Kalix.Leo/store"
)

// WriteFunc is invoked by SaveData/TryOptimisticWrite with an opaque
// write-side stream. It must write the logical payload and return the
// count of bytes written.
type WriteFunc func(w io.Writer) (int64, error)

// AuditInfo carries caller identity for write auditing. It is opaque to
// the adapter beyond being attached to logs.
type AuditInfo struct {
	Actor  string
	Reason string
}

// Store is the Backend Store Adapter contract of spec §4.1. Implementations
// must be safe for concurrent use and must translate native backend errors
// into the sentinel/typed errors of this package at the boundary; higher
// layers never re-wrap them.
type Store interface {
	// SaveData persists the bytes written and returns the post-write
	// metadata (Snapshot, ETag, Modified, ContentLength included). Writes
	// always overwrite all user-visible metadata; they never merge.
	SaveData(ctx context.Context, loc store.Location, metadata store.Metadata, audit AuditInfo, write WriteFunc) (store.Metadata, error)

	// TryOptimisticWrite is SaveData with the commit conditioned on
	// metadata.ETag: absent means create-only, "*" means unconditional,
	// any other value means must-match.
	// On precondition failure ok is false and there are no side effects.
	TryOptimisticWrite(ctx context.Context, loc store.Location, metadata store.Metadata, audit AuditInfo, write WriteFunc) (ok bool, result store.Metadata, err error)

	// GetMetadata returns nil, nil if the target does not exist. A
	// LeoDeleted current version still returns its metadata; only
	// LoadData hides soft-deleted data.
	GetMetadata(ctx context.Context, loc store.Location, snapshot string) (store.Metadata, error)

	// LoadData returns nil, nil if missing, or if snapshot=="" and the
	// current version carries LeoDeleted.
	LoadData(ctx context.Context, loc store.Location, snapshot string) (*store.DataWithMetadata, error)

	// FindSnapshots lists only versions whose key equals loc exactly,
	// newest-first by modified time.
	FindSnapshots(ctx context.Context, loc store.Location) (SnapshotIterator, error)

	// FindFiles lists current versions under container, optionally
	// filtered by prefix. Soft-deleted items may be included.
	FindFiles(ctx context.Context, container string, prefix string) (FileIterator, error)

	// SoftDelete writes a zero-length update carrying LeoDeleted,
	// preserving prior user metadata. Missing target is not an error.
	SoftDelete(ctx context.Context, loc store.Location) error

	// PermanentDelete removes the key and every snapshot. Missing target
	// is not an error.
	PermanentDelete(ctx context.Context, loc store.Location) error

	// SaveMetadata updates only metadata, preserving content, via a
	// metadata-only update where the backend supports it.
	SaveMetadata(ctx context.Context, loc store.Location, metadata store.Metadata) (store.Metadata, error)

	// Lock attempts to acquire a lease on loc. Returns nil, nil when held
	// by another holder.
	Lock(ctx context.Context, loc store.Location) (Lease, error)

	// CreateContainerIfNotExists is idempotent.
	CreateContainerIfNotExists(ctx context.Context, container string) error

	// Name identifies the adapter implementation for metrics labeling
	// ("memblob", "azureblob", "s3").
	Name() string

	// CanCompress reports whether this adapter benefits from the Secure
	// Store applying compression before handing it bytes (some backends
	// compress internally and would rather receive raw bytes).
	CanCompress() bool

	// Close releases adapter resources. It does not stop the renewal
	// goroutines of leases still held; those stop when the lease is
	// released.
	Close() error
}

// Lease is a held lock on a Location. Release is idempotent.
type Lease interface {
	Release(ctx context.Context) error
}

// SnapshotIterator yields store.Snapshot values one at a time; Next
// returns io.EOF when exhausted.
type SnapshotIterator interface {
	Next(ctx context.Context) (store.Snapshot, error)
}

// FileEntry pairs a Location with its current metadata for FindFiles.
type FileEntry struct {
	Location store.Location
	Metadata store.Metadata
}

type FileIterator interface {
	Next(ctx context.Context) (FileEntry, error)
}
