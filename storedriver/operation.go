// Package storedriver pairs a real store.Store (running on a
// buffer.BufferStorage) with a storemodel.Model and checks a battery of
// crash-safety invariants after every operation and after every simulated
// power loss (spec.md §4.F, §8 properties 1-6).
//
// There is no teacher-repo analog for a crash-interruption differential
// harness; this package is grounded directly on
// persistent_store/src/driver.rs, translated from Rust's by-value
// ownership transfer (StoreDriver::On/Off, Result<T, (U, T)> on failure)
// to Go's pointer-receiver idiom: StoreDriverOn/StoreDriverOff are plain
// structs. An interrupted PartialApply/PartialPowerOn returns a
// StoreDriver whose Off field holds the powered-off storage; an invariant
// failure returns a nil driver together with the *Invariant error.
package storedriver

// Update is one key/value write within an Operation's Transaction, mirroring
// store.Update (and, in parallel, storemodel.Update) so a single call
// drives both the real engine and its oracle.
type Update struct {
	Key       int
	Value     []byte // nil means delete
	Sensitive bool
}

// OpKind identifies which of the three mutating store operations an
// Operation represents.
type OpKind int

const (
	OpTransaction OpKind = iota
	OpClear
	OpPrepare
)

// Operation is the sum type the fuzzer and directed tests drive the driver
// with, mirroring persistent_store's StoreOperation enum.
type Operation struct {
	Kind    OpKind
	Updates []Update // OpTransaction
	MinKey  int      // OpClear
	Length  int      // OpPrepare
}

// Transaction builds an OpTransaction operation.
func Transaction(updates ...Update) Operation {
	return Operation{Kind: OpTransaction, Updates: updates}
}

// Clear builds an OpClear operation.
func Clear(minKey int) Operation {
	return Operation{Kind: OpClear, MinKey: minKey}
}

// Prepare builds an OpPrepare operation.
func Prepare(length int) Operation {
	return Operation{Kind: OpPrepare, Length: length}
}
