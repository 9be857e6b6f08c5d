package format

// Position addresses a word in the virtual, infinitely-long log: a
// monotonically increasing (cycle, page, word) triple (spec.md §3). Word
// is the absolute word index within the page, including the two metadata
// words at index 0 and 1; body entries always have Word >= 2.
type Position struct {
	Cycle uint64
	Page  int
	Word  int
}

// NewPosition builds a Position, the Go analog of the Rust original's
// Position::new(format, cycle, page, word) used throughout driver.rs.
func NewPosition(cycle uint64, page, word int) Position {
	return Position{Cycle: cycle, Page: page, Word: word}
}

// bodyIndex is the 0-based offset of this position within its page's body
// (word 2 of the page is body index 0).
func (p Position) bodyIndex() uint64 {
	return uint64(p.Word - 2)
}

// Linear returns a total-ordering key for body positions (Word >= 2): the
// number of body words that have ever been addressed at or before p,
// counting only body words (metadata words 0 and 1 are never part of the
// addressable window). Used for head/tail comparison and capacity
// accounting. Only meaningful for positions with Word >= 2; use PageRank
// to compare page-metadata positions (init/compact-info words).
func (p Position) Linear(o Options) uint64 {
	virt := uint64(o.VirtPageWords())
	return PageRank(p.Cycle, p.Page, o)*virt + p.bodyIndex()
}

// PageRank totally orders pages by erase sweep: how many times the ring
// has passed through page 0 (Cycle) combined with how far into the
// current sweep this page is. Mirrors driver.rs's check_storage
// comparison `head.cycle(format) + (page < head.page(format))`.
func PageRank(cycle uint64, page int, o Options) uint64 {
	return cycle*uint64(o.NumPages) + uint64(page)
}

// Less reports whether p occurs strictly before q in the log.
func (p Position) Less(q Position, o Options) bool {
	return p.Linear(o) < q.Linear(o)
}

// Equal reports whether p and q address the same word.
func (p Position) Equal(q Position) bool {
	return p.Cycle == q.Cycle && p.Page == q.Page && p.Word == q.Word
}

// AddWords returns the position n body words after p, wrapping across
// page and cycle boundaries as needed. Skips over the two metadata words
// at the start of every page it crosses into, matching how the engine
// advances the tail across a page boundary (an erase-marker word is
// written at the old tail to record the jump; see EncodeEraseMarker).
func (p Position) AddWords(n int, o Options) Position {
	virt := o.VirtPageWords()
	body := int(p.bodyIndex()) + n
	page := p.Page
	cycle := p.Cycle
	for body >= virt {
		body -= virt
		page++
		if page == o.NumPages {
			page = 0
			cycle++
		}
	}
	return Position{Cycle: cycle, Page: page, Word: body + 2}
}

// SubWords returns the position n body words before p. It never crosses
// a page whose metadata words were skipped by something other than
// AddWords, so it is only valid for positions reached by AddWords calls
// that moved forward by the same geometry (true of every tail position
// this module computes).
func (p Position) SubWords(n int, o Options) Position {
	virt := o.VirtPageWords()
	body := int(p.bodyIndex()) - n
	page := p.Page
	cycle := p.Cycle
	for body < 0 {
		body += virt
		page--
		if page < 0 {
			page = o.NumPages - 1
			cycle--
		}
	}
	return Position{Cycle: cycle, Page: page, Word: body + 2}
}

