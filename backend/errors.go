package backend

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/Lupando/Kalix.Leo/store"
)

// ErrNotFound is never returned directly to callers of the Store
// interface; GetMetadata/LoadData surface missing objects as (nil, nil)
// per spec §4.1. It exists so backend implementations have a single
// sentinel to classify around, and so LockConflict/other layers can use
// errors.Is against it where useful.
var ErrNotFound = errors.New("backend: not found")

// TransientError marks a backend error that the adapter already retried
// once (per spec §7) and that failed again. Callers see this, not the
// underlying transport error.
type TransientError struct {
	Location store.Location
	Op       string
	Cause    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("backend: transient error during %s on %s: %v", e.Op, e.Location, e.Cause)
}

func (e *TransientError) Unwrap() error { return e.Cause }

// StorageError wraps any other backend-originated failure, carrying the
// offending path.
type StorageError struct {
	Location store.Location
	Op       string
	Cause    error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("backend: storage error during %s on %s: %v", e.Op, e.Location, e.Cause)
}

func (e *StorageError) Unwrap() error { return e.Cause }

// LockConflict is returned by higher layers (securestore) that expect a
// lock and find Lock returned a nil lease.
type LockConflict struct {
	Location store.Location
}

func (e *LockConflict) Error() string {
	return fmt.Sprintf("backend: lock already held on %s", e.Location)
}
