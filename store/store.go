package store

import (
	"sort"

	"github.com/kvguard/pstore/flash"
	"github.com/kvguard/pstore/format"
	"github.com/kvguard/pstore/logger"
)

// Store is an open, recovered handle onto a flash-backed key/value log.
type Store struct {
	flash flash.Flash
	opts  format.Options

	index map[int]indexEntry

	head format.Position // oldest live entry the ring still needs
	tail format.Position // next position to append at

	liveWords int // header+value words currently occupied by live keys
}

// totalLifetimeWords is the whole-of-device write budget: every body
// word slot across every erase cycle a page may ever go through. tail's
// Linear value is the cumulative count of body words ever appended,
// across every past cycle, because Position.Linear strictly increases
// with Cycle — so comparing it against this bound is exactly the
// "max_page_erases * num_pages worth of writes" lifetime spec.md §2
// describes, without needing a separate per-page erase-count ledger.
func (s *Store) totalLifetimeWords() uint64 {
	return uint64(s.opts.VirtWindowWords()) * uint64(s.opts.MaxPageErases)
}

func (s *Store) remainingLifetimeWords() uint64 {
	used := s.tail.Linear(s.opts)
	total := s.totalLifetimeWords()
	if used >= total {
		return 0
	}
	return total - used
}

// capacityWords is the usable window: one page is always held back so
// compaction always has somewhere to copy live entries into.
func (s *Store) capacityWords() int {
	return (s.opts.NumPages - 1) * s.opts.VirtPageWords()
}

// Format erases every page and writes page 0's init word (spec.md §2
// Lifecycle). Open also accepts blank storage and writes that init word
// itself.
func Format(f flash.Flash, opts format.Options) error {
	for p := 0; p < opts.NumPages; p++ {
		if err := f.ErasePage(p); err != nil {
			return errStorageWrap(err)
		}
	}
	buf := make([]byte, opts.WordSize)
	format.PutWord(buf, format.EncodeInitWord(0))
	if err := f.WriteSlice(0, buf); err != nil {
		return errStorageWrap(err)
	}
	logger.Debugf("store: formatted %d pages of %d bytes", opts.NumPages, opts.PageSize)
	return nil
}

// Open recovers a Store from flash by replaying its log from the head
// page to the tail (see scan.go). A completely blank (all-0xFF) region is
// a valid empty store (spec.md §6): Open writes page 0's init word and
// retries the scan instead of reporting InvalidStorage, the "new will
// format it" behavior the on-disk layout contract promises. A non-blank
// region that still fails to decode is a genuine InvalidStorage.
func Open(f flash.Flash, opts format.Options) (*Store, error) {
	s := &Store{flash: f, opts: opts, index: make(map[int]indexEntry)}
	if err := s.scan(); err != nil {
		if err != ErrInvalidStorage {
			return nil, err
		}
		blank, berr := s.isFullyBlank()
		if berr != nil {
			return nil, berr
		}
		if !blank {
			return nil, err
		}
		if err := s.writeWord(format.NewPosition(0, 0, 0), format.EncodeInitWord(0)); err != nil {
			return nil, err
		}
		logger.Debugf("store: blank storage, formatted page 0 on open")
		s.index = make(map[int]indexEntry)
		s.liveWords = 0
		if err := s.scan(); err != nil {
			return nil, err
		}
	}
	w, err := s.readWord(format.NewPosition(0, s.head.Page, 1))
	if err != nil {
		return nil, err
	}
	if format.IsCompactInfoPresent(w.Raw) {
		logger.Warnf("store: resuming compaction of page %d interrupted before last shutdown", s.head.Page)
		if err := s.compactOnce(); err != nil {
			return nil, err
		}
	}
	logger.Debugf("store: opened, head=%+v tail=%+v live=%d", s.head, s.tail, s.liveWords)
	return s, nil
}

// isFullyBlank reports whether every byte across every page still reads as
// erased (0xFF), the signature of storage that has never been formatted.
func (s *Store) isFullyBlank() (bool, error) {
	buf, err := s.flash.ReadSlice(0, s.opts.PageSize*s.opts.NumPages)
	if err != nil {
		return false, errStorageWrap(err)
	}
	for _, b := range buf {
		if b != 0xFF {
			return false, nil
		}
	}
	return true, nil
}

func (s *Store) readWord(pos format.Position) (format.Word, error) {
	byteOffset := pos.Page*s.opts.PageSize + pos.Word*s.opts.WordSize
	buf, err := s.flash.ReadSlice(byteOffset, s.opts.WordSize)
	if err != nil {
		return format.Word{}, errStorageWrap(err)
	}
	return format.DecodeWord(format.GetWord(buf)), nil
}

func (s *Store) writeWord(pos format.Position, raw uint32) error {
	wordIndex := pos.Page*s.opts.WordsPerPage() + pos.Word
	buf := make([]byte, s.opts.WordSize)
	format.PutWord(buf, raw)
	if err := s.flash.WriteSlice(wordIndex, buf); err != nil {
		return errStorageWrap(err)
	}
	return nil
}

// writeValue programs a value's words one word at a time: each
// flash.Flash.WriteSlice call is one atomic, independently interruptible
// physical write (spec.md §4.E "interrupted ... at every word write"), so
// a multi-word value must not be handed to the flash layer as a single
// call — that would hide every interruption point except the last word
// from the crash-safety harness.
func (s *Store) writeValue(pos format.Position, value []byte) error {
	wordIndex := pos.Page*s.opts.WordsPerPage() + pos.Word
	padded := value
	if rem := len(value) % s.opts.WordSize; rem != 0 {
		padded = make([]byte, len(value)+s.opts.WordSize-rem)
		copy(padded, value)
	}
	for off := 0; off < len(padded); off += s.opts.WordSize {
		word := padded[off : off+s.opts.WordSize]
		if err := s.flash.WriteSlice(wordIndex+off/s.opts.WordSize, word); err != nil {
			return errStorageWrap(err)
		}
	}
	return nil
}

// wipeValue overwrites a sensitive entry's value words with zeros in
// place, ahead of the delete marker that logically removes it. The
// marker is the sole linearization point (DESIGN.md), so this must
// happen before the marker is written, for both a standalone delete and
// one batched inside a larger transaction.
func (s *Store) wipeValue(e indexEntry) error {
	vs := e.valueStart()
	zero := make([]byte, e.lengthWords*s.opts.WordSize)
	return s.writeValue(vs, zero)
}

func (s *Store) readValue(e indexEntry, valueLen int) ([]byte, error) {
	vs := e.valueStart()
	byteOffset := vs.Page*s.opts.PageSize + vs.Word*s.opts.WordSize
	buf, err := s.flash.ReadSlice(byteOffset, e.lengthWords*s.opts.WordSize)
	if err != nil {
		return nil, errStorageWrap(err)
	}
	return buf[:valueLen], nil
}

// Get returns the current value of key, or nil and false if absent. The
// returned slice is trimmed to the exact byte length the caller originally
// wrote, even when that length wasn't a multiple of the word size.
func (s *Store) Get(key int) ([]byte, bool, error) {
	e, ok := s.index[key]
	if !ok {
		return nil, false, nil
	}
	v, err := s.readValue(e, e.byteLen(s.opts.WordSize))
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Find returns a stable Handle onto key's current entry, or false if key is
// absent (spec.md §6: find(key) -> Option<Handle>). The handle is only
// valid until the entry is shadowed, deleted, or compacted.
func (s *Store) Find(key int) (Handle, bool) {
	e, ok := s.index[key]
	if !ok {
		return Handle{}, false
	}
	return e.handle(key, s.opts.WordSize), true
}

// InspectValue reads the raw, word-padded bytes currently stored at
// handle's position, without consulting the index and without trusting
// that the handle is still live (spec.md §4.C: "returns the current bytes
// under the handle's position without trusting them"). Tests use this to
// confirm a sensitive value has been zero-filled even after its header has
// been deleted, shadowed, or the handle has otherwise gone stale.
func (s *Store) InspectValue(h Handle) ([]byte, error) {
	vs := format.Position{Cycle: h.Position.Cycle, Page: h.Position.Page, Word: h.Position.Word + 1}
	byteOffset := vs.Page*s.opts.PageSize + vs.Word*s.opts.WordSize
	buf, err := s.flash.ReadSlice(byteOffset, h.lengthWords*s.opts.WordSize)
	if err != nil {
		return nil, errStorageWrap(err)
	}
	return buf, nil
}

// Keys returns every live key in ascending order.
func (s *Store) Keys() []int {
	keys := make([]int, 0, len(s.index))
	for k := range s.index {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// Iter calls fn for every live key/value pair in ascending key order,
// stopping early if fn returns false.
func (s *Store) Iter(fn func(key int, value []byte) bool) error {
	for _, k := range s.Keys() {
		v, _, err := s.Get(k)
		if err != nil {
			return err
		}
		if !fn(k, v) {
			return nil
		}
	}
	return nil
}

// Capacity returns (used, total) body words, matching storemodel.Capacity.
func (s *Store) Capacity() (used, total int) {
	return s.liveWords, s.capacityWords()
}

// Lifetime returns the body words of erase-cycle budget remaining.
func (s *Store) Lifetime() int {
	return int(s.remainingLifetimeWords())
}

// MaxValueLength is the largest byte length a single value may have.
func (s *Store) MaxValueLength() int { return s.opts.MaxValueLength() }

// Head returns the oldest position the ring still needs, and Tail the next
// position to append at. Exposed for crash-consistency checks that compare
// the store's recovered state against the backing storage directly.
func (s *Store) Head() format.Position { return s.head }
func (s *Store) Tail() format.Position { return s.tail }

// Options returns the geometry this store was opened with.
func (s *Store) Options() format.Options { return s.opts }

// Flash returns the backing flash.Flash this store was opened on.
func (s *Store) Flash() flash.Flash { return s.flash }
