// Package storemodel is a pure, in-memory oracle for the store engine's
// externally observable behavior: the same three mutating operations
// (Transaction, Clear, Prepare) and the same result vocabulary, with no
// notion of words, pages, or crash recovery. storedriver checks the real
// engine against this model after every operation.
//
// There is no teacher analog for a reference-model package; it is
// grounded directly on how persistent_store/src/driver.rs drives a
// StoreModel alongside the real Store and on fuzz/src/store.rs's
// StoreOperation/StoreUpdate generation, translated into Go's map and
// slice idioms rather than Rust's BTreeMap.
package storemodel

import (
	"sort"

	"github.com/kvguard/pstore/format"
)

// Update is one key/value write within a Transaction call.
type Update struct {
	Key   int
	Value []byte // nil means delete
}

// Model is the pure reference implementation of the store's key/value
// semantics and lifetime accounting.
type Model struct {
	opts     format.Options
	entries  map[int][]byte
	lifetime int // words remaining before NoLifetime
	used     int // words currently occupied by live entries' headers+values
}

// NewModel creates a model matching a freshly formatted store of the
// given geometry, assuming num_pages-1 pages of the window are usable
// capacity (one page is always reserved for compaction, spec.md §3).
func NewModel(opts format.Options) *Model {
	return &Model{
		opts:     opts,
		entries:  make(map[int][]byte),
		lifetime: opts.VirtWindowWords() * opts.MaxPageErases,
	}
}

// Clone returns a deep, independent copy, used by the crash-interruption
// driver to track a "transaction would complete" candidate model alongside
// the "transaction rolled back" one it forked from.
func (m *Model) Clone() *Model {
	entries := make(map[int][]byte, len(m.entries))
	for k, v := range m.entries {
		entries[k] = append([]byte(nil), v...)
	}
	return &Model{opts: m.opts, entries: entries, lifetime: m.lifetime, used: m.used}
}

func entryWords(opts format.Options, valueLen int) int {
	return 1 + (valueLen+opts.WordSize-1)/opts.WordSize
}

func (m *Model) capacityWords() int {
	return (m.opts.NumPages - 1) * m.opts.VirtPageWords()
}

// Options returns the geometry this model was constructed with.
func (m *Model) Options() format.Options { return m.opts }

// Capacity returns (used, total) words, mirroring Store.Capacity.
func (m *Model) Capacity() (used, total int) {
	return m.used, m.capacityWords()
}

// Lifetime returns the words of physical write budget remaining.
func (m *Model) Lifetime() int {
	return m.lifetime
}

// Get returns the current value of key, or (nil, false) if absent.
func (m *Model) Get(key int) ([]byte, bool) {
	v, ok := m.entries[key]
	return v, ok
}

// Keys returns every key with a live entry, in ascending order.
func (m *Model) Keys() []int {
	keys := make([]int, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// result codes mirror the store engine's StoreError taxonomy so a single
// assertion in storedriver can compare model and engine outcomes.
type Result int

const (
	OK Result = iota
	InvalidArgument
	NoCapacity
	NoLifetime
)

// dedupeUpdatesLastWins collapses updates so that, for any key touched more
// than once, only its last occurrence survives (spec.md §5: "when two
// updates in the same transaction touch the same key, the last wins"),
// keeping the survivors in their original relative order. Mirrors
// store.dedupeUpdatesLastWins exactly so the model and the real engine
// charge and apply the same deduplicated set.
func dedupeUpdatesLastWins(updates []Update) []Update {
	lastIdx := make(map[int]int, len(updates))
	for i, u := range updates {
		lastIdx[u.Key] = i
	}
	out := make([]Update, 0, len(lastIdx))
	for i, u := range updates {
		if lastIdx[u.Key] == i {
			out = append(out, u)
		}
	}
	return out
}

func (m *Model) validateUpdate(u Update) Result {
	if u.Key < 0 || u.Key >= format.MaxKey {
		return InvalidArgument
	}
	if u.Value != nil && len(u.Value) > m.opts.MaxValueLength() {
		return InvalidArgument
	}
	return OK
}

// transactionCost returns the body words a transaction of these updates
// would need to commit, and the words freed by superseding/deleting
// existing entries. Every transaction, including a single update, charges
// one shared transaction-marker word: the marker's successful programming
// is the sole linearization point a reboot scan trusts to confirm pending
// header words (spec.md §4.C), so the store writes one regardless of
// update count and the model must charge for it the same way.
func (m *Model) transactionCost(updates []Update) (need, freed int) {
	for _, u := range updates {
		if u.Value == nil {
			need++ // delete marker word
		} else {
			need += entryWords(m.opts, len(u.Value))
		}
		if old, ok := m.entries[u.Key]; ok {
			freed += entryWords(m.opts, len(old))
		}
	}
	need++ // shared transaction-marker word
	return need, freed
}

// Transaction applies every update atomically: either all values in
// updates take effect and supersede any prior entry for their key, or none
// do (spec.md §4.C transaction semantics). When two updates touch the same
// key, the last one wins and earlier ones for that key are discarded
// before anything is validated or charged (spec.md §5).
func (m *Model) Transaction(updates []Update) Result {
	if len(updates) == 0 {
		return OK
	}
	updates = dedupeUpdatesLastWins(updates)
	if len(updates) > m.opts.MaxUpdates() {
		return InvalidArgument
	}
	for _, u := range updates {
		if r := m.validateUpdate(u); r != OK {
			return r
		}
	}

	need, freed := m.transactionCost(updates)
	if m.used-freed+need > m.capacityWords() {
		return NoCapacity
	}
	if need > m.lifetime {
		return NoLifetime
	}

	m.used -= freed
	m.lifetime -= need
	for _, u := range updates {
		if u.Value == nil {
			delete(m.entries, u.Key)
		} else {
			m.entries[u.Key] = append([]byte(nil), u.Value...)
			m.used += entryWords(m.opts, len(u.Value))
		}
	}
	return OK
}

// Clear deletes every live entry whose key is >= minKey.
func (m *Model) Clear(minKey int) Result {
	if minKey < 0 || minKey >= format.MaxKey {
		return InvalidArgument
	}
	freed := 0
	for k, v := range m.entries {
		if k >= minKey {
			freed += entryWords(m.opts, len(v))
		}
	}
	need := 1 // clear-marker word
	if need > m.lifetime {
		return NoLifetime
	}
	m.lifetime -= need
	m.used -= freed
	for k := range m.entries {
		if k >= minKey {
			delete(m.entries, k)
		}
	}
	return OK
}

// Prepare checks whether length bytes could be written right now without
// actually writing anything, matching Store.Prepare's dry-run contract.
func (m *Model) Prepare(length int) Result {
	if length > m.opts.MaxValueLength() {
		return InvalidArgument
	}
	need := entryWords(m.opts, length) + 1
	if m.used+need > m.capacityWords() {
		return NoCapacity
	}
	if need > m.lifetime {
		return NoLifetime
	}
	return OK
}
