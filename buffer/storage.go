// Package buffer implements BufferStorage, a flash.Flash backed by an
// in-memory byte slice that can be armed to simulate power loss at any
// word-write or page-erase boundary, with a caller-chosen bit mask
// deciding which of that operation's 1→0 transitions actually committed.
// This is the storage simulator spec.md §4.E describes; it is the only
// flash.Flash implementation in this module (there is no real-hardware
// driver here — that is an external collaborator per spec.md §1).
//
// Grounded on the teacher's util/buffer_writer.go and util/buffer_reader.go
// for the byte-buffer-with-tracked-position shape, extended with the
// per-word/per-page counters and the interruption hook straight from
// persistent_store/src/driver.rs and fuzz/src/store.rs's BufferStorage.
package buffer

import (
	"fmt"
	"strings"

	"github.com/OneOfOne/xxhash"
	"github.com/kvguard/pstore/flash"
	"github.com/kvguard/pstore/format"
)

// CorruptFunc decides, given the bytes before an operation (before) and
// the bytes the operation intended to write (after), which of the bits
// that would transition 1→0 actually do. It mutates before in place; the
// result is what gets committed to storage.
type CorruptFunc func(before, after []byte)

// pendingOp is an operation that tripped the armed interruption: its
// result has been reported to the caller as flash.ErrStorageError but not
// yet resolved into actual bytes.
type pendingOp struct {
	byteOffset int
	before     []byte
	after      []byte
}

// BufferStorage is an in-memory flash.Flash simulator with write/erase
// counters and interruption support for crash-safety testing.
type BufferStorage struct {
	opts format.Options

	data       []byte
	wordWrites []int
	pageErases []int

	// strict enables the 1→0-only and write/erase-count enforcement
	// panics. Disabled only when seeding a deliberately dirty/corrupt
	// region for InvalidStorage tests.
	strict bool

	armed   bool
	delay   int
	tripped bool
	pending *pendingOp
}

// NewBufferStorage creates a fully-erased (all 0xFF) simulated device.
func NewBufferStorage(opts format.Options) *BufferStorage {
	data := make([]byte, opts.PageSize*opts.NumPages)
	for i := range data {
		data[i] = 0xFF
	}
	return newBufferStorageFromBytes(opts, data, true)
}

// NewBufferStorageFromBytes wraps an existing byte slice (e.g. a
// deliberately dirty region for InvalidStorage testing). Passing
// strict=false disables the 1→0-only panic so a dirty seed can be written
// without tripping it.
func NewBufferStorageFromBytes(opts format.Options, data []byte, strict bool) *BufferStorage {
	return newBufferStorageFromBytes(opts, data, strict)
}

// NewBufferStorageAtCycle creates a freshly erased device that has already
// been swept through `cycle` full erase cycles of every page, then formats
// page 0 at that cycle exactly as store.Format would at cycle 0 -- the
// device behaves like a brand-new, empty store except that its erase-cycle
// budget is `cycle` sweeps closer to exhaustion, for exercising
// near-end-of-life (NoLifetime) behavior without first driving thousands of
// real operations. Mirrors persistent_store/fuzz/src/store.rs::Fuzzer::init
// seeding a store "used" for some number of cycles before the fuzz
// operations begin.
func NewBufferStorageAtCycle(opts format.Options, cycle uint64) *BufferStorage {
	b := NewBufferStorage(opts)
	for c := uint64(0); c < cycle; c++ {
		for page := 0; page < opts.NumPages; page++ {
			if err := b.ErasePage(page); err != nil {
				panic(fmt.Sprintf("buffer: seeding cycle %d: %v", cycle, err))
			}
		}
	}
	word := make([]byte, opts.WordSize)
	format.PutWord(word, format.EncodeInitWord(cycle))
	if err := b.WriteSlice(0, word); err != nil {
		panic(fmt.Sprintf("buffer: seeding cycle %d: %v", cycle, err))
	}
	return b
}

func newBufferStorageFromBytes(opts format.Options, data []byte, strict bool) *BufferStorage {
	if len(data) != opts.PageSize*opts.NumPages {
		panic("buffer: data length does not match geometry")
	}
	return &BufferStorage{
		opts:       opts,
		data:       data,
		wordWrites: make([]int, opts.NumPages*opts.WordsPerPage()),
		pageErases: make([]int, opts.NumPages),
		strict:     strict,
	}
}

// Clone returns a deep, independent copy, used by delay-map probing to
// try an interruption on a throwaway replica of the current state.
func (b *BufferStorage) Clone() *BufferStorage {
	c := &BufferStorage{
		opts:       b.opts,
		data:       append([]byte(nil), b.data...),
		wordWrites: append([]int(nil), b.wordWrites...),
		pageErases: append([]int(nil), b.pageErases...),
		strict:     b.strict,
	}
	return c
}

func (b *BufferStorage) WordSize() int           { return b.opts.WordSize }
func (b *BufferStorage) PageSize() int           { return b.opts.PageSize }
func (b *BufferStorage) NumPages() int           { return b.opts.NumPages }
func (b *BufferStorage) MaxWordWrites() int      { return 2 }
func (b *BufferStorage) MaxPageErases() int      { return b.opts.MaxPageErases }
func (b *BufferStorage) Options() format.Options { return b.opts }

// GetWordWrites returns the write count of the word at the given
// absolute word index (page*WordsPerPage + wordInPage).
func (b *BufferStorage) GetWordWrites(wordIndex int) int { return b.wordWrites[wordIndex] }

// GetPageErases returns the erase count of a page.
func (b *BufferStorage) GetPageErases(page int) int { return b.pageErases[page] }

// ArmInterruption schedules the simulator to interrupt the (delay+1)-th
// word-write or page-erase operation from now. delay == -1 disables
// interruption (equivalent to StoreInterruption::none()).
func (b *BufferStorage) ArmInterruption(delay int) {
	b.armed = delay >= 0
	b.delay = delay
	b.tripped = false
	b.pending = nil
}

// DisarmInterruption stops future operations from being artificially
// limited, without touching any pending unresolved interruption.
func (b *BufferStorage) DisarmInterruption() {
	b.armed = false
}

// ResetInterruption clears armed state entirely; used when an operation
// failed for a reason other than a tripped interruption.
func (b *BufferStorage) ResetInterruption() {
	b.armed = false
	b.tripped = false
	b.pending = nil
}

// CorruptOperation resolves a pending tripped interruption by calling fn
// with the pre-operation bytes (mutable) and the bytes the operation
// intended to commit (read-only), then writes fn's decision back into
// storage. Panics if no operation is pending.
func (b *BufferStorage) CorruptOperation(fn CorruptFunc) {
	if b.pending == nil {
		panic("buffer: no pending interrupted operation to resolve")
	}
	p := b.pending
	fn(p.before, p.after)
	copy(b.data[p.byteOffset:p.byteOffset+len(p.before)], p.before)
	b.pending = nil
}

// tick accounts for one atomic operation against the armed countdown.
// Returns true if this operation should be interrupted now.
func (b *BufferStorage) tick() bool {
	if b.tripped {
		return true
	}
	if !b.armed {
		return false
	}
	if b.delay == 0 {
		b.tripped = true
		return true
	}
	b.delay--
	return false
}

func (b *BufferStorage) ReadSlice(offset, length int) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > len(b.data) {
		return nil, flash.ErrOutOfRange
	}
	out := make([]byte, length)
	copy(out, b.data[offset:offset+length])
	return out, nil
}

// WriteSlice programs exactly one word (callers always write one word at
// a time so each call corresponds to one interruption-countable atomic
// operation, per spec.md §4.E).
func (b *BufferStorage) WriteSlice(wordOffset int, bytes []byte) error {
	if len(bytes)%b.opts.WordSize != 0 {
		panic("buffer: write length not a word multiple")
	}
	byteOffset := wordOffset * b.opts.WordSize
	if byteOffset < 0 || byteOffset+len(bytes) > len(b.data) {
		return flash.ErrOutOfRange
	}

	if b.tick() {
		before := append([]byte(nil), b.data[byteOffset:byteOffset+len(bytes)]...)
		b.countWrite(wordOffset, len(bytes)/b.opts.WordSize)
		b.pending = &pendingOp{byteOffset: byteOffset, before: before, after: append([]byte(nil), bytes...)}
		return flash.ErrStorageError
	}

	b.applyWrite(byteOffset, bytes)
	b.countWrite(wordOffset, len(bytes)/b.opts.WordSize)
	return nil
}

func (b *BufferStorage) applyWrite(byteOffset int, bytes []byte) {
	for i, nb := range bytes {
		ob := b.data[byteOffset+i]
		if b.strict && nb&^ob != 0 {
			panic(fmt.Sprintf("buffer: illegal 0→1 transition at byte %d (%08b -> %08b)", byteOffset+i, ob, nb))
		}
		b.data[byteOffset+i] = nb
	}
}

func (b *BufferStorage) countWrite(wordOffset, numWords int) {
	wordsPerPage := b.opts.WordsPerPage()
	for i := 0; i < numWords; i++ {
		idx := wordOffset + i
		b.wordWrites[idx]++
		if b.strict && b.wordWrites[idx] > b.MaxWordWrites() {
			page := idx / wordsPerPage
			panic(fmt.Sprintf("buffer: word %d of page %d exceeded max word writes", idx%wordsPerPage, page))
		}
	}
}

func (b *BufferStorage) ErasePage(page int) error {
	if page < 0 || page >= b.opts.NumPages {
		return flash.ErrOutOfRange
	}
	byteOffset := page * b.opts.PageSize

	if b.tick() {
		before := append([]byte(nil), b.data[byteOffset:byteOffset+b.opts.PageSize]...)
		after := make([]byte, b.opts.PageSize)
		for i := range after {
			after[i] = 0xFF
		}
		b.countErase(page)
		b.pending = &pendingOp{byteOffset: byteOffset, before: before, after: after}
		return flash.ErrStorageError
	}

	for i := 0; i < b.opts.PageSize; i++ {
		b.data[byteOffset+i] = 0xFF
	}
	wordsPerPage := b.opts.WordsPerPage()
	for i := 0; i < wordsPerPage; i++ {
		b.wordWrites[page*wordsPerPage+i] = 0
	}
	b.countErase(page)
	return nil
}

func (b *BufferStorage) countErase(page int) {
	b.pageErases[page]++
	if b.strict && b.pageErases[page] > b.opts.MaxPageErases {
		panic(fmt.Sprintf("buffer: page %d exceeded max page erases", page))
	}
}

// String renders a hex/fingerprint dump used for crash diagnostics,
// mirroring the Rust original's Display impl for BufferStorage used by
// the fuzzer's debug trace (print!("{}", storage)).
func (b *BufferStorage) String() string {
	var sb strings.Builder
	for p := 0; p < b.opts.NumPages; p++ {
		start := p * b.opts.PageSize
		page := b.data[start : start+b.opts.PageSize]
		h := xxhash.New64()
		h.Write(page)
		fmt.Fprintf(&sb, "page %d erases=%d fingerprint=%016x init=%08x compact=%08x\n",
			p, b.pageErases[p], h.Sum64(),
			format.GetWord(page[0:4]), format.GetWord(page[4:8]))
	}
	return sb.String()
}
