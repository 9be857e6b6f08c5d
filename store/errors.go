// Package store implements the crash-safe key/value log engine: boot-time
// recovery scan, transactional multi-key updates, range clears, and
// cyclic compaction over a flash.Flash device. Grounded on the teacher's
// storage/store/extents package for the page-oriented state-machine
// shape, with the scan/compaction algorithm itself grounded directly on
// persistent_store/src/driver.rs's check_storage/check_model invariants
// (the Rust store.rs implementation was not retained in the reference
// material; the word-level scan below is this module's own design,
// documented inline where a choice was not dictated by spec).
package store

import "github.com/pkg/errors"

// Sentinel errors compared with errors.Is; wrapped with context via
// github.com/pkg/errors where a caller benefits from a stack trace,
// matching innodb_store/store/btree.go's error-handling convention.
var (
	// ErrInvalidArgument means the caller supplied a malformed request:
	// a key out of range, an oversized value, or too many updates.
	ErrInvalidArgument = errors.New("store: invalid argument")
	// ErrNoCapacity means no amount of compaction can free enough space.
	ErrNoCapacity = errors.New("store: no capacity")
	// ErrNoLifetime means the device's erase-cycle budget is exhausted.
	ErrNoLifetime = errors.New("store: no lifetime")
	// ErrStorageError means the underlying flash rejected an operation,
	// including a simulated power loss mid-operation.
	ErrStorageError = errors.New("store: storage error")
	// ErrInvalidStorage means the boot scan found a flash image that does
	// not decode as a consistent log (bad geometry, broken cycle ring).
	ErrInvalidStorage = errors.New("store: invalid storage")
)

// errStorageWrap attaches the underlying flash error's text to
// ErrStorageError so callers can still match it with errors.Is while
// retaining the original cause in the message.
func errStorageWrap(cause error) error {
	return errors.Wrap(ErrStorageError, cause.Error())
}
