package storedriver

import (
	"bytes"
	"errors"
	"fmt"
	"math/bits"

	"github.com/kvguard/pstore/buffer"
	"github.com/kvguard/pstore/format"
	"github.com/kvguard/pstore/store"
	"github.com/kvguard/pstore/storemodel"
)

// StoreDriverOff pairs a closed (power-off) buffer.BufferStorage with the
// model it should recover to: either the pre-crash model (rollback) or,
// when a prior interruption's write might have completed, also a
// candidate post-crash model (complete). power_on decides between the two
// against what the storage actually recovers to.
type StoreDriverOff struct {
	storage  *buffer.BufferStorage
	model    *storemodel.Model
	complete *completeState
}

type completeState struct {
	model   *storemodel.Model
	deleted []store.DeletedValue
}

// StoreDriverOn pairs an open store.Store with the model tracking it.
type StoreDriverOn struct {
	store   *store.Store
	storage *buffer.BufferStorage
	model   *storemodel.Model
}

// StoreDriver is exactly one of On or Off, mirroring the Rust original's
// StoreDriver::On/Off enum as a two-field struct (idiomatic Go has no sum
// types; callers branch on which field is non-nil).
type StoreDriver struct {
	On  *StoreDriverOn
	Off *StoreDriverOff
}

// Storage returns the underlying simulated device regardless of power state.
func (d *StoreDriver) Storage() *buffer.BufferStorage {
	if d.On != nil {
		return d.On.storage
	}
	return d.Off.storage
}

// NewOff creates a driver over a freshly erased, unformatted device of the
// given geometry (spec.md §3 Lifecycle: a blank device is a valid store
// once opened).
func NewOff(opts format.Options) *StoreDriverOff {
	return &StoreDriverOff{storage: buffer.NewBufferStorage(opts), model: storemodel.NewModel(opts)}
}

// NewOffDirty wraps an already-populated BufferStorage (a fuzzer-seeded
// dirty region, or one pre-advanced through some erase cycles) with a
// fresh model, for InvalidStorage / partial-lifetime test scenarios.
func NewOffDirty(storage *buffer.BufferStorage) *StoreDriverOff {
	return &StoreDriverOff{storage: storage, model: storemodel.NewModel(storage.Options())}
}

// Storage returns the underlying simulated device.
func (off *StoreDriverOff) Storage() *buffer.BufferStorage { return off.storage }

// Model returns the model this driver will recover against.
func (off *StoreDriverOff) Model() *storemodel.Model { return off.model }

// PowerOn recovers the store with no interruption armed.
func (off *StoreDriverOff) PowerOn() (*StoreDriverOn, error) {
	driver, err := off.PartialPowerOn(-1, nil)
	if err != nil {
		return nil, err
	}
	if driver.On == nil {
		return nil, &Invariant{Kind: StoreErrorKind, Err: errors.New("storedriver: power-on reported no interruption but store stayed off")}
	}
	return driver.On, nil
}

// PartialPowerOn arms delay word-writes/page-erases of interruption (-1
// disables interruption) before opening the store, resolving a tripped
// interruption with corrupt exactly like BufferStorage.CorruptOperation.
func (off *StoreDriverOff) PartialPowerOn(delay int, corrupt buffer.CorruptFunc) (*StoreDriver, error) {
	off.storage.ArmInterruption(delay)
	st, err := store.Open(off.storage, off.storage.Options())
	if err == nil {
		off.storage.DisarmInterruption()
		return off.resolveOn(st)
	}
	if errors.Is(err, store.ErrStorageError) {
		off.storage.CorruptOperation(corrupt)
		return &StoreDriver{Off: off}, nil
	}
	off.storage.ResetInterruption()
	return nil, &Invariant{Kind: StoreErrorKind, Err: err}
}

// resolveOn checks a freshly recovered store against the complete
// candidate model first (if one exists), falling back to the rollback
// model; if neither passes, the crash landed somewhere the harness can't
// explain and it reports both failures (spec.md §4.F "two futures are
// legal").
func (off *StoreDriverOff) resolveOn(st *store.Store) (*StoreDriver, error) {
	if off.complete != nil {
		on := &StoreDriverOn{store: st, storage: off.storage, model: off.complete.model}
		if inv := on.recoverCheck(off.complete.deleted); inv == nil {
			return &StoreDriver{On: on}, nil
		} else {
			completeFailure := inv
			rollback := &StoreDriverOn{store: st, storage: off.storage, model: off.model}
			if rinv := rollback.recoverCheck(nil); rinv == nil {
				return &StoreDriver{On: rollback}, nil
			} else {
				return nil, &Invariant{Kind: Interrupted, Rollback: rinv, Complete: completeFailure}
			}
		}
	}
	on := &StoreDriverOn{store: st, storage: off.storage, model: off.model}
	if inv := on.recoverCheck(nil); inv != nil {
		return nil, inv
	}
	return &StoreDriver{On: on}, nil
}

// DelayMap probes, for each possible interruption delay, how many bits the
// (delay+1)-th word-write/page-erase would flip, on a throwaway clone of
// the storage. The fuzzer uses this to pick meaningful interruption
// points instead of guessing blindly (spec.md §4.E "Delay map").
func (off *StoreDriverOff) DelayMap() ([]int, error) {
	var result []int
	for {
		delay := len(result)
		clone := off.storage.Clone()
		clone.ArmInterruption(delay)
		_, err := store.Open(clone, clone.Options())
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrStorageError) {
			clone.ResetInterruption()
			return nil, fmt.Errorf("storedriver: delay map found invalid storage at delay %d: %w", delay, err)
		}
		result = append(result, countModifiedBits(clone))
	}
	result = append(result, 0)
	return result, nil
}

// Store returns the underlying recovered store.Store.
func (on *StoreDriverOn) Store() *store.Store { return on.store }

// Model returns the model tracked alongside the store.
func (on *StoreDriverOn) Model() *storemodel.Model { return on.model }

// Insert is a convenience wrapper applying a single-update insert
// transaction, mirroring driver.rs's test-only insert() helper.
func (on *StoreDriverOn) Insert(key int, value []byte) error {
	return on.Apply(Transaction(Update{Key: key, Value: append([]byte(nil), value...)}))
}

// Remove is a convenience wrapper applying a single-update remove
// transaction.
func (on *StoreDriverOn) Remove(key int) error {
	return on.Apply(Transaction(Update{Key: key}))
}

// Apply runs op against both the store and the model with no interruption,
// failing the instant their result codes or post-state disagree.
func (on *StoreDriverOn) Apply(op Operation) error {
	deleted, err := applyRaw(on.store, op)
	storeCode := codeFromStoreErr(err)
	modelCode := codeFromModelResult(applyModel(on.model, op))
	if storeCode != modelCode {
		return invariantErr(&Invariant{Kind: DifferentResult, StoreCode: storeCode, ModelCode: modelCode})
	}
	return invariantErr(on.checkDeleted(deleted))
}

// PartialApply arms delay interruption before running op. A crash
// (StorageError) powers the driver off with a "complete" candidate model
// recorded when the model agrees the operation would have succeeded;
// NoLifetime is always a hard invariant failure (spec.md §4.C "endurance
// exhausted is terminal for the instance", never a simulated crash).
func (on *StoreDriverOn) PartialApply(op Operation, delay int, corrupt buffer.CorruptFunc) (*StoreDriver, error) {
	on.storage.ArmInterruption(delay)
	deleted, err := applyRaw(on.store, op)

	if errors.Is(err, store.ErrNoLifetime) {
		return nil, &Invariant{Kind: NoLifetimeKind}
	}

	if err == nil || errors.Is(err, store.ErrNoCapacity) || errors.Is(err, store.ErrInvalidArgument) {
		on.storage.DisarmInterruption()
		storeCode := codeFromStoreErr(err)
		modelCode := codeFromModelResult(applyModel(on.model, op))
		if storeCode != modelCode {
			return nil, &Invariant{Kind: DifferentResult, StoreCode: storeCode, ModelCode: modelCode}
		}
		if err == nil {
			if inv := on.checkDeleted(deleted); inv != nil {
				return nil, inv
			}
		}
		return &StoreDriver{On: on}, nil
	}

	if errors.Is(err, store.ErrStorageError) {
		off := &StoreDriverOff{storage: on.storage, model: on.model}
		off.storage.CorruptOperation(corrupt)
		completeModel := on.model.Clone()
		if codeFromModelResult(applyModel(completeModel, op)) == OK {
			off.complete = &completeState{model: completeModel, deleted: deleted}
		}
		return &StoreDriver{Off: off}, nil
	}

	return nil, &Invariant{Kind: StoreErrorKind, Err: err}
}

// DelayMap probes, for op against the currently open store, how many bits
// each possible interruption delay would flip.
func (on *StoreDriverOn) DelayMap(op Operation) ([]int, error) {
	var result []int
	for {
		delay := len(result)
		clone := on.storage.Clone()
		clone.ArmInterruption(delay)
		st, err := store.Open(clone, clone.Options())
		if err != nil {
			return nil, fmt.Errorf("storedriver: delay map reopen of a previously-valid store failed: %w", err)
		}
		_, applyErr := applyRaw(st, op)
		if applyErr == nil {
			return append(result, 0), nil
		}
		if errors.Is(applyErr, store.ErrStorageError) {
			result = append(result, countModifiedBits(clone))
			continue
		}
		if errors.Is(applyErr, store.ErrInvalidStorage) {
			clone.ResetInterruption()
			return nil, fmt.Errorf("storedriver: delay map found invalid storage at delay %d", delay)
		}
		// NoCapacity / InvalidArgument / NoLifetime: no interruption point
		// left to probe past this delay.
		return append(result, 0), nil
	}
}

// PowerOff hands the store's storage back as a closed driver.
func (on *StoreDriverOn) PowerOff() *StoreDriverOff {
	return &StoreDriverOff{storage: on.storage, model: on.model}
}

// Check re-runs the full invariant battery against the current state
// without applying any operation.
func (on *StoreDriverOn) Check() error {
	return invariantErr(on.recoverCheck(nil))
}

func (on *StoreDriverOn) recoverCheck(deleted []store.DeletedValue) *Invariant {
	if inv := on.checkDeleted(deleted); inv != nil {
		return inv
	}
	if inv := on.checkModel(); inv != nil {
		return inv
	}
	return on.checkStorage()
}

// checkDeleted confirms every sensitive value a wiping operation reported
// reads back as all zeros (spec.md invariant 5 / §8 property 3).
func (on *StoreDriverOn) checkDeleted(deleted []store.DeletedValue) *Invariant {
	for _, d := range deleted {
		raw, err := on.store.ReadRaw(d)
		if err != nil {
			return &Invariant{Kind: StoreErrorKind, Err: err}
		}
		for _, b := range raw {
			if b != 0 {
				return &Invariant{Kind: NotWiped, Key: d.Key, Value: raw}
			}
		}
	}
	return nil
}

// checkModel confirms the store's live key/value map and remaining
// capacity exactly match the model's (spec.md §8 property 1).
func (on *StoreDriverOn) checkModel() *Invariant {
	remaining := make(map[int][]byte)
	for _, k := range on.model.Keys() {
		v, _ := on.model.Get(k)
		remaining[k] = v
	}

	var mismatch *Invariant
	err := on.store.Iter(func(key int, value []byte) bool {
		modelValue, ok := remaining[key]
		if !ok {
			mismatch = &Invariant{Kind: OnlyInStore, Key: key}
			return false
		}
		delete(remaining, key)
		if !bytes.Equal(modelValue, value) {
			mismatch = &Invariant{Kind: DifferentValue, Key: key, StoreValue: value, ModelValue: modelValue}
			return false
		}
		return true
	})
	if err != nil {
		return &Invariant{Kind: StoreErrorKind, Err: err}
	}
	if mismatch != nil {
		return mismatch
	}
	for k := range remaining {
		return &Invariant{Kind: OnlyInModel, Key: k}
	}

	storeUsed, storeTotal := on.store.Capacity()
	modelUsed, modelTotal := on.model.Capacity()
	storeRemaining, modelRemaining := storeTotal-storeUsed, modelTotal-modelUsed
	if storeRemaining != modelRemaining {
		return &Invariant{Kind: DifferentCapacity, StoreAmount: storeRemaining, ModelAmount: modelRemaining}
	}
	return nil
}

// checkStorage confirms every page's erase count, and every metadata and
// body word's having-been-written state, match what the recovered
// (head, tail) positions imply (spec.md invariant 1 and 6, §8 property 4).
//
// Grounded directly on driver.rs's check_storage; the per-word loop keeps
// its one-directional "store_write < model_write" comparison because the
// model's write counter doesn't distinguish a genuine rewrite from a
// rewrite of the same bits, which the store's position-only view cannot
// reconstruct either.
func (on *StoreDriverOn) checkStorage() *Invariant {
	opts := on.model.Options()
	numWords := opts.WordsPerPage()
	head, tail := on.store.Head(), on.store.Tail()
	freshEmpty := tail.Cycle == 0 && tail.Page == 0 && tail.Word == 2
	tailRank := format.PageRank(tail.Cycle, tail.Page, opts)

	for page := 0; page < opts.NumPages; page++ {
		pageCycle := expectedCycle(head.Cycle, head.Page, page)
		modelErase := uint64(on.storage.GetPageErases(page))
		if pageCycle != modelErase {
			return &Invariant{Kind: DifferentErase, Page: page, StoreAmount: int(pageCycle), ModelAmount: int(modelErase)}
		}

		storeInitWrite := 0
		if format.PageRank(pageCycle, page, opts) <= tailRank {
			storeInitWrite = 1
		}
		if page == 0 && freshEmpty {
			storeInitWrite = 1
		}
		if modelInitWrite := on.storage.GetWordWrites(page * numWords); storeInitWrite != modelInitWrite {
			return &Invariant{Kind: DifferentWrite, Page: page, Word: 0, StoreAmount: storeInitWrite, ModelAmount: modelInitWrite}
		}

		if compactWrites := on.storage.GetWordWrites(page*numWords + 1); compactWrites != 0 {
			return &Invariant{Kind: DifferentWrite, Page: page, Word: 1, StoreAmount: 0, ModelAmount: compactWrites}
		}

		for word := 2; word < numWords; word++ {
			pos := format.Position{Cycle: pageCycle, Page: page, Word: word}
			storeWrite := 0
			if pos.Less(tail, opts) {
				storeWrite = 1
			}
			modelWrite := 0
			if on.storage.GetWordWrites(page*numWords+word) > 0 {
				modelWrite = 1
			}
			if storeWrite < modelWrite {
				return &Invariant{Kind: DifferentWrite, Page: page, Word: word, StoreAmount: storeWrite, ModelAmount: modelWrite}
			}
		}
	}
	return nil
}

// expectedCycle mirrors store's internal rule of the same name: pages
// before head_page, in raw index order, belong to the sweep ahead of the
// one head_page is currently in.
func expectedCycle(headCycle uint64, headPage, page int) uint64 {
	if page < headPage {
		return headCycle + 1
	}
	return headCycle
}

func applyRaw(st *store.Store, op Operation) ([]store.DeletedValue, error) {
	switch op.Kind {
	case OpTransaction:
		updates := make([]store.Update, len(op.Updates))
		for i, u := range op.Updates {
			updates[i] = store.Update{Key: u.Key, Value: u.Value, Sensitive: u.Sensitive}
		}
		return st.Transaction(updates)
	case OpClear:
		return st.Clear(op.MinKey)
	case OpPrepare:
		return nil, st.Prepare(op.Length)
	default:
		panic("storedriver: unknown operation kind")
	}
}

func applyModel(m *storemodel.Model, op Operation) storemodel.Result {
	switch op.Kind {
	case OpTransaction:
		updates := make([]storemodel.Update, len(op.Updates))
		for i, u := range op.Updates {
			updates[i] = storemodel.Update{Key: u.Key, Value: u.Value}
		}
		return m.Transaction(updates)
	case OpClear:
		return m.Clear(op.MinKey)
	case OpPrepare:
		return m.Prepare(op.Length)
	default:
		panic("storedriver: unknown operation kind")
	}
}

func codeFromStoreErr(err error) Code {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, store.ErrInvalidArgument):
		return InvalidArgument
	case errors.Is(err, store.ErrNoCapacity):
		return NoCapacity
	case errors.Is(err, store.ErrNoLifetime):
		return NoLifetime
	default:
		return StorageError
	}
}

func codeFromModelResult(r storemodel.Result) Code {
	switch r {
	case storemodel.InvalidArgument:
		return InvalidArgument
	case storemodel.NoCapacity:
		return NoCapacity
	case storemodel.NoLifetime:
		return NoLifetime
	default:
		return OK
	}
}

// countModifiedBits resolves the pending interruption on storage by
// recording how many bits flip between the pre- and post-operation bytes,
// then restores the pre-operation bytes (an uncorrupted probe). Mirrors
// driver.rs's count_modified_bits.
func countModifiedBits(storage *buffer.BufferStorage) int {
	modified := 0
	storage.CorruptOperation(func(before, after []byte) {
		for i := range before {
			modified += bits.OnesCount8(before[i] ^ after[i])
		}
	})
	if modified == 0 {
		panic("storedriver: interrupted operation modified no bits; delay map assumes every probed operation writes something new")
	}
	return modified
}

func invariantErr(inv *Invariant) error {
	if inv == nil {
		return nil
	}
	return inv
}
