// Command pstorefuzz drives the crash-interruption harness (storedriver +
// fuzzutil) against a stream of deterministic entropy, either replaying a
// single corpus file, running as a go test -fuzz target, or soaking
// through many randomly generated inputs.
//
// Grounded directly on persistent_store/fuzz/src/store.rs's Fuzzer::run:
// entropy picks geometry, then a bounded sequence of transaction/clear/
// prepare operations, each optionally applied through an armed
// interruption chosen from the operation's own delay map.
package main

import (
	"errors"

	"github.com/kvguard/pstore/buffer"
	"github.com/kvguard/pstore/format"
	"github.com/kvguard/pstore/fuzzutil"
	"github.com/kvguard/pstore/store"
	"github.com/kvguard/pstore/storedriver"
)

// pageSizeChoices bounds the geometries a fuzz input can pick to a set
// small enough that a single run stays fast even at maxOpsPerRun, while
// still spanning "barely fits the spec's 32-word minimum" to 2 KB.
var pageSizeChoices = []int{128, 256, 512, 1024, 2048}

// maxOpsPerRun caps how many operations one input drives so a
// pathological corpus entry (all zero bits, say) can't spin forever
// instead of reporting IsEmpty().
const maxOpsPerRun = 500

// maxFuzzKey bounds the key range genTransaction/genOperation pick from;
// small enough that repeated runs frequently collide on the same key
// (exercising shadowing/overwrite and clear's min-key boundary) while the
// store contract itself still accepts the full [0, format.MaxKey) range.
const maxFuzzKey = 31

// run drives data through one full fuzz iteration: pick geometry, pick a
// starting storage state (almost always fresh, occasionally dirty or
// pre-aged), then apply a bounded operation stream, optionally
// interrupting each operation at an entropy-chosen delay. A non-nil
// return means an invariant was violated (spec.md §8); reaching
// NoLifetime is one terminal condition treated as a clean, recorded
// outcome rather than a violation (spec.md §4.C: endurance exhaustion is
// expected behavior, not a crash-safety bug), and a dirty seed correctly
// failing to decode is another.
func run(data []byte, stats *fuzzutil.Stats) error {
	e := fuzzutil.NewEntropy(data)
	stats.Add(fuzzutil.StatEntropy, len(data)*8)

	pageSize := pageSizeChoices[e.ReadRange(0, len(pageSizeChoices)-1)]
	numPages := e.ReadRange(3, 6)
	maxPageErases := e.ReadRange(1, 30)
	stats.Add(fuzzutil.StatPageSize, pageSize)
	stats.Add(fuzzutil.StatNumPages, numPages)
	stats.Add(fuzzutil.StatMaxPageErases, maxPageErases)

	opts, err := format.NewOptions(4, pageSize, numPages, maxPageErases)
	if err != nil {
		// Entropy landed on a combination NewOptions itself rejects; a
		// caller-side validation error is not a crash-safety finding.
		return nil
	}

	off, dirty := initOff(e, opts, stats)
	on, err := off.PowerOn()
	if err != nil {
		if dirty && isInvalidStorage(err) {
			// A deliberately dirty seed correctly failing to decode as a
			// log is the InvalidStorage path working as intended, not a
			// crash-safety finding.
			return nil
		}
		return err
	}
	stats.Add(fuzzutil.StatPowerOnCount, 1)

	for ops := 0; ops < maxOpsPerRun && !e.IsEmpty(); ops++ {
		op := genOperation(e, on.Store().Options())
		recordOpStat(stats, op)

		if !e.ReadBit() {
			if err := on.Apply(op); err != nil {
				return err
			}
			continue
		}

		delays, err := on.DelayMap(op)
		if err != nil {
			return err
		}
		delay := e.ReadRange(0, len(delays)-1)
		nbits := delays[delay]

		driver, err := on.PartialApply(op, delay, corruptFromEntropy(e, nbits))
		if err != nil {
			if inv, ok := err.(*storedriver.Invariant); ok && inv.Kind == storedriver.NoLifetimeKind {
				stats.Add(fuzzutil.StatReachedLifetime, 1)
				return nil
			}
			return err
		}

		if driver.On != nil {
			on = driver.On
			continue
		}

		stats.Add(fuzzutil.StatInterruptionCount, 1)
		next, err := driver.Off.PowerOn()
		if err != nil {
			return err
		}
		stats.Add(fuzzutil.StatPowerOnCount, 1)
		on = next
	}

	stats.Add(fuzzutil.StatLifetime, on.Model().Lifetime())
	return nil
}

// initOff picks the fuzz run's starting storage state: a fresh blank
// device most of the time, a deliberately dirty/undecodable region to
// exercise InvalidStorage, or a device pre-aged through some number of
// erase cycles to reach NoLifetime sooner. The returned bool reports
// whether an InvalidStorage result from PowerOn is an expected outcome of
// this seed rather than a genuine invariant violation. Grounded on
// persistent_store/fuzz/src/store.rs::Fuzzer::init's dirty/used-cycle
// seeding.
func initOff(e *fuzzutil.Entropy, opts format.Options, stats *fuzzutil.Stats) (*storedriver.StoreDriverOff, bool) {
	switch e.ReadRange(0, 9) {
	case 0:
		data := e.ReadSlice(opts.PageSize * opts.NumPages)
		stats.Add(fuzzutil.StatDirtyLength, len(data))
		return storedriver.NewOffDirty(buffer.NewBufferStorageFromBytes(opts, data, false)), true
	case 1:
		cycle := uint64(e.ReadRange(0, opts.MaxPageErases-1))
		stats.Add(fuzzutil.StatInitCycles, int(cycle))
		return storedriver.NewOffDirty(buffer.NewBufferStorageAtCycle(opts, cycle)), false
	default:
		return storedriver.NewOff(opts), false
	}
}

// isInvalidStorage reports whether err is the driver wrapping
// store.ErrInvalidStorage, the one store.Open outcome a dirty seed is
// expected to produce.
func isInvalidStorage(err error) bool {
	var inv *storedriver.Invariant
	if !errors.As(err, &inv) {
		return false
	}
	return inv.Kind == storedriver.StoreErrorKind && errors.Is(inv.Err, store.ErrInvalidStorage)
}

// genOperation reads one transaction/clear/prepare out of e, weighted
// toward transactions since those carry the interesting atomicity and
// shadowing behavior.
func genOperation(e *fuzzutil.Entropy, opts format.Options) storedriver.Operation {
	switch e.ReadRange(0, 3) {
	case 0, 1, 2:
		return genTransaction(e, opts)
	default:
		if e.ReadBit() {
			return storedriver.Clear(e.ReadRange(0, maxFuzzKey))
		}
		return storedriver.Prepare(e.ReadRange(0, opts.VirtWindowWords()))
	}
}

func genTransaction(e *fuzzutil.Entropy, opts format.Options) storedriver.Operation {
	n := e.ReadRange(1, opts.MaxUpdates())
	updates := make([]storedriver.Update, n)
	maxValueWords := opts.MaxValueLengthWords()
	if maxValueWords > 8 {
		maxValueWords = 8
	}
	for i := range updates {
		key := e.ReadRange(0, maxFuzzKey)
		if e.ReadBit() {
			updates[i] = storedriver.Update{Key: key}
			continue
		}
		valueLen := e.ReadRange(0, maxValueWords) * opts.WordSize
		updates[i] = storedriver.Update{
			Key:       key,
			Value:     e.ReadSlice(valueLen),
			Sensitive: e.ReadBit(),
		}
	}
	return storedriver.Transaction(updates...)
}

func recordOpStat(stats *fuzzutil.Stats, op storedriver.Operation) {
	switch op.Kind {
	case storedriver.OpTransaction:
		stats.Add(fuzzutil.StatTransactionCount, 1)
		for _, u := range op.Updates {
			if u.Value == nil {
				stats.Add(fuzzutil.StatRemoveCount, 1)
			} else {
				stats.Add(fuzzutil.StatInsertCount, 1)
			}
		}
	case storedriver.OpClear:
		stats.Add(fuzzutil.StatClearCount, 1)
	case storedriver.OpPrepare:
		stats.Add(fuzzutil.StatPrepareCount, 1)
	}
}

// corruptFromEntropy builds a buffer.CorruptFunc that decides each
// would-be 1<->0 transition of an interrupted word/page using nbits bits
// read from e now, pushed onto a BitStack and popped one per differing
// bit. Reading the bits eagerly (rather than inside the callback) keeps
// delay-map probing and the real corruption draw from the same entropy
// position regardless of how many times a caller inspects the stack.
func corruptFromEntropy(e *fuzzutil.Entropy, nbits int) buffer.CorruptFunc {
	stack := &fuzzutil.BitStack{}
	for i := 0; i < nbits; i++ {
		stack.Push(e.ReadBit())
	}
	return func(before, after []byte) {
		for i := range before {
			for bit := 0; bit < 8; bit++ {
				mask := byte(1) << uint(bit)
				if before[i]&mask == after[i]&mask {
					continue
				}
				if commit, ok := stack.Pop(); ok && commit {
					before[i] = (before[i] &^ mask) | (after[i] & mask)
				}
			}
		}
	}
}
