package store

import "github.com/kvguard/pstore/format"

// indexEntry locates a live key's header word; its value words are the
// LengthWords words immediately following the header in the log.
type indexEntry struct {
	header        format.Position
	lengthWords   int
	byteRemainder int
	sensitive     bool
}

func (e indexEntry) valueStart() format.Position {
	return format.Position{Cycle: e.header.Cycle, Page: e.header.Page, Word: e.header.Word + 1}
}

// byteLen recovers the exact byte length the caller originally wrote, given
// the word-granular on-flash representation.
func (e indexEntry) byteLen(wordSize int) int {
	return e.lengthWords*wordSize - e.byteRemainder
}

// Handle is a stable reference to a live entry's header position, the way
// spec.md §9 describes: "Handles are positions, not pointers; they encode
// (cycle, page, word) and require the store to dereference. No
// back-pointers; staleness detected by position comparison." A Handle
// returned by Find is valid only until the entry it names is shadowed,
// deleted, or compacted away; Store re-derives everything it needs (value
// start, length) from the header position each time a Handle is used.
type Handle struct {
	Position  format.Position
	Key       int
	Length    int // exact byte length the caller originally wrote
	Sensitive bool

	lengthWords   int
	byteRemainder int
}

func (e indexEntry) handle(key, wordSize int) Handle {
	return Handle{
		Position:      e.header,
		Key:           key,
		Length:        e.byteLen(wordSize),
		Sensitive:     e.sensitive,
		lengthWords:   e.lengthWords,
		byteRemainder: e.byteRemainder,
	}
}

// pendingKind distinguishes the two entry kinds a transaction can buffer
// until its marker (or its abandonment) is resolved.
type pendingKind int

const (
	pendingHeader pendingKind = iota
	pendingDelete
)

type pendingEntry struct {
	kind  pendingKind
	key   int
	entry indexEntry // valid when kind == pendingHeader
}

// entryWords is the number of body words an entry with the given value
// length occupies: one header word plus the value payload, rounded up to
// a whole number of words.
func entryWords(o format.Options, valueLen int) int {
	return 1 + (valueLen+o.WordSize-1)/o.WordSize
}
