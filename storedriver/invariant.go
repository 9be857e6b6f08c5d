package storedriver

import "fmt"

// Code is the result vocabulary shared by the real store and its model, so
// a single equality check can stand in for comparing two separately-typed
// error/result values (store.Err* sentinels on one side, storemodel.Result
// on the other).
type Code int

const (
	OK Code = iota
	InvalidArgument
	NoCapacity
	NoLifetime
	StorageError
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case InvalidArgument:
		return "InvalidArgument"
	case NoCapacity:
		return "NoCapacity"
	case NoLifetime:
		return "NoLifetime"
	case StorageError:
		return "StorageError"
	default:
		return "Unknown"
	}
}

// InvariantKind identifies which battery check in driver.go failed.
type InvariantKind int

const (
	// NoLifetimeKind means an operation was refused for exhausted
	// endurance while the interruption harness expected it to either
	// succeed or fail some other way.
	NoLifetimeKind InvariantKind = iota
	// StoreErrorKind wraps an unexpected error the store returned outside
	// the interruption-tolerant set (InvalidArgument/NoCapacity/
	// StorageError/NoLifetime), e.g. InvalidStorage on recovery.
	StoreErrorKind
	// Interrupted means a crash recovered into a state matching neither
	// the rollback nor the complete candidate model.
	Interrupted
	// DifferentResult means the store and model disagreed on whether an
	// operation succeeded.
	DifferentResult
	// NotWiped means a sensitive value's bytes were not all zero even
	// though the store claims to have deleted it.
	NotWiped
	// OnlyInStore means a key the store reports live has no model entry.
	OnlyInStore
	// OnlyInModel means a key the model reports live is absent from the
	// store.
	OnlyInModel
	// DifferentValue means the store and model both have a key but its
	// bytes disagree.
	DifferentValue
	// DifferentCapacity means Store.Capacity and Model.Capacity disagree.
	DifferentCapacity
	// DifferentErase means a page's observed erase count doesn't match
	// what the recovered (head, tail) cycle ring implies.
	DifferentErase
	// DifferentWrite means a metadata or body word's write count doesn't
	// match what the recovered log implies it should be.
	DifferentWrite
)

// Invariant is the error type every driver check returns on failure; its
// Kind selects which of the fields below are populated.
type Invariant struct {
	Kind InvariantKind

	Err error // StoreErrorKind

	Rollback *Invariant // Interrupted
	Complete *Invariant // Interrupted

	StoreCode Code // DifferentResult
	ModelCode Code // DifferentResult

	Key         int    // NotWiped, OnlyInStore, OnlyInModel, DifferentValue
	Value       []byte // NotWiped
	StoreValue  []byte // DifferentValue
	ModelValue  []byte // DifferentValue
	StoreAmount int     // DifferentCapacity, DifferentErase, DifferentWrite
	ModelAmount int     // DifferentCapacity, DifferentErase, DifferentWrite
	Page        int     // DifferentErase, DifferentWrite
	Word        int     // DifferentWrite
}

func (i *Invariant) Error() string {
	switch i.Kind {
	case NoLifetimeKind:
		return "storedriver: lifetime exhausted unexpectedly"
	case StoreErrorKind:
		return fmt.Sprintf("storedriver: unexpected store error: %v", i.Err)
	case Interrupted:
		return fmt.Sprintf("storedriver: interrupted recovery matched neither rollback (%v) nor complete (%v)", i.Rollback, i.Complete)
	case DifferentResult:
		return fmt.Sprintf("storedriver: store returned %s, model returned %s", i.StoreCode, i.ModelCode)
	case NotWiped:
		return fmt.Sprintf("storedriver: key %d not zero-wiped before delete became visible: %x", i.Key, i.Value)
	case OnlyInStore:
		return fmt.Sprintf("storedriver: key %d present in store but not model", i.Key)
	case OnlyInModel:
		return fmt.Sprintf("storedriver: key %d present in model but not store", i.Key)
	case DifferentValue:
		return fmt.Sprintf("storedriver: key %d: store=%x model=%x", i.Key, i.StoreValue, i.ModelValue)
	case DifferentCapacity:
		return fmt.Sprintf("storedriver: capacity: store=%d model=%d", i.StoreAmount, i.ModelAmount)
	case DifferentErase:
		return fmt.Sprintf("storedriver: page %d erase count: store=%d model=%d", i.Page, i.StoreAmount, i.ModelAmount)
	case DifferentWrite:
		return fmt.Sprintf("storedriver: page %d word %d write count: store=%d model=%d", i.Page, i.Word, i.StoreAmount, i.ModelAmount)
	default:
		return "storedriver: invariant violated"
	}
}
