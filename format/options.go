// Package format encodes and decodes the on-flash log: geometry, the
// (cycle, page, word) position arithmetic, and the word codec for every
// entry kind spec.md §3 lists (init, compact-info, padding, user header,
// transaction marker, delete marker, clear marker, erase marker).
//
// The per-field encode/decode method pairing below is grounded on the
// teacher's pages/page.go FileHeader: a fixed-size word laid out as
// explicit bit fields, one constructor plus one Write*/Read* method per
// field, rather than a generic reflection-based (de)serializer.
package format

import "github.com/pkg/errors"

// Options describes the fixed geometry a store is formatted with. It is
// supplied by the caller at construction and never changes afterward
// (spec.md Non-goals: "dynamic reconfiguration of page size after
// formatting").
type Options struct {
	// WordSize is the number of bytes per atomic write unit. The word
	// codec below packs every tagged entry into a single 32-bit word,
	// so WordSize must be 4; validated by NewOptions.
	WordSize int
	// PageSize is the number of bytes per erasable page.
	PageSize int
	// NumPages is the number of pages backing the store; must be >= 3
	// (spec.md §3).
	NumPages int
	// MaxPageErases bounds a page's endurance.
	MaxPageErases int
}

// NewOptions validates geometry and returns it unchanged on success.
func NewOptions(wordSize, pageSize, numPages, maxPageErases int) (Options, error) {
	o := Options{WordSize: wordSize, PageSize: pageSize, NumPages: numPages, MaxPageErases: maxPageErases}
	if wordSize != 4 {
		return Options{}, errors.Errorf("format: word size must be 4 bytes, got %d", wordSize)
	}
	if pageSize <= 0 || pageSize%wordSize != 0 || pageSize < 32*wordSize {
		return Options{}, errors.Errorf("format: invalid page size %d", pageSize)
	}
	if pageSize&(pageSize-1) != 0 {
		return Options{}, errors.Errorf("format: page size %d is not a power of two", pageSize)
	}
	if numPages < 3 {
		return Options{}, errors.Errorf("format: need at least 3 pages, got %d", numPages)
	}
	if maxPageErases <= 0 {
		return Options{}, errors.Errorf("format: invalid max page erases %d", maxPageErases)
	}
	return o, nil
}

// WordsPerPage is the total number of words in a page, including the two
// metadata words.
func (o Options) WordsPerPage() int { return o.PageSize / o.WordSize }

// VirtPageWords is the number of body words available for entries: the
// page minus its two metadata words (init word, compact-info word).
func (o Options) VirtPageWords() int { return o.WordsPerPage() - 2 }

// VirtWindowWords is the total number of body words addressable across
// every page: num_pages * virt_page_size in words (spec.md invariant 3).
func (o Options) VirtWindowWords() int { return o.NumPages * o.VirtPageWords() }

// TotalCapacityWords is the usable body-word capacity reported to callers
// via Store.Capacity / Model.Capacity: one page of the window is always
// held back so compaction always has somewhere to copy live entries into.
func (o Options) TotalCapacityWords() int { return (o.NumPages - 1) * o.VirtPageWords() }

// MaxUpdates is the largest number of updates a single transaction may
// contain. A transaction needs at least one word per update (a header,
// possibly with zero value words) plus one shared transaction-marker
// word, and the store only admits a write that leaves at least one word of
// the page free, so the bound is two less than the words available in a
// single page body — matching spec.md's "derived from page size".
func (o Options) MaxUpdates() int {
	n := o.VirtPageWords() - 2
	if n < 1 {
		n = 1
	}
	return n
}

// MaxValueLengthWords is the largest value length, in words, a single
// header can describe. It is bounded both by the 9-bit length field in
// the header word codec (511 words) and by the window needing room for
// the header and a transaction-marker word.
func (o Options) MaxValueLengthWords() int {
	n := o.VirtWindowWords() - 2
	if n > maxHeaderLengthWords {
		n = maxHeaderLengthWords
	}
	if n < 0 {
		n = 0
	}
	return n
}

// MaxValueLength is MaxValueLengthWords expressed in bytes.
func (o Options) MaxValueLength() int { return o.MaxValueLengthWords() * o.WordSize }

// MaxKey is one past the largest valid key (spec.md §6: keys in [0, 4096)).
const MaxKey = 1 << 12
