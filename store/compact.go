package store

import (
	"sort"

	"github.com/kvguard/pstore/format"
)

// ensureRoom advances the tail across page boundaries (and compacts the
// head page, at most once per call, when the ring has caught up to it)
// until at least need contiguous words are available at the tail.
// Transactions and clears never need more than one page's worth of body
// words (format.Options.MaxUpdates bounds that), so this never needs to
// cross more than one boundary per blocked attempt.
func (s *Store) ensureRoom(need int) error {
	for i := 0; i < s.opts.NumPages+1; i++ {
		room := s.opts.VirtPageWords() - (s.tail.Word - 2)
		// Strictly greater, not >=: a write that lands exactly on the page
		// boundary would leave the tail's word index at WordsPerPage with
		// no erase marker ever written there, and the next scan would walk
		// straight past the boundary into the following page's bytes under
		// the wrong page label. Forcing the cross one write early keeps the
		// tail strictly inside the body range and the erase marker the only
		// way scan ever crosses a page.
		if room > need {
			return nil
		}
		nextPage := (s.tail.Page + 1) % s.opts.NumPages
		if nextPage == s.head.Page {
			if err := s.compactOnce(); err != nil {
				return err
			}
			continue
		}
		if err := s.writeWord(s.tail, format.EncodeEraseMarker()); err != nil {
			return err
		}
		nextCycle := expectedCycle(s.head.Page, s.head.Cycle, nextPage)
		if err := s.healInitWord(nextPage, s.head.Page, s.head.Cycle); err != nil {
			return err
		}
		s.tail = format.NewPosition(nextCycle, nextPage, 2)
	}
	return ErrNoCapacity
}

// compactOnce copies every live entry still on the head page to the
// tail, then erases the head page and advances head to the next page in
// ring order. At most one page is compacted per call (spec.md §4);
// callers needing more room loop via ensureRoom.
func (s *Store) compactOnce() error {
	headPage := s.head.Page
	if err := s.markCompactInProgress(headPage); err != nil {
		return err
	}
	var keys []int
	for k, e := range s.index {
		if e.header.Page == headPage {
			keys = append(keys, k)
		}
	}
	sort.Ints(keys)

	if len(keys) > 0 {
		if err := s.relocateEntries(keys); err != nil {
			return err
		}
	}
	return s.eraseHeadPage()
}

// markCompactInProgress writes the head page's compact-info word so a
// crash partway through relocation is visible to the next boot scan,
// which simply redoes the whole relocation (see format.EncodeCompactInfo).
func (s *Store) markCompactInProgress(page int) error {
	w, err := s.readWord(format.NewPosition(0, page, 1))
	if err != nil {
		return err
	}
	if format.IsCompactInfoPresent(w.Raw) {
		return nil
	}
	wordIndex := page*s.opts.WordsPerPage() + 1
	buf := make([]byte, s.opts.WordSize)
	format.PutWord(buf, format.EncodeCompactInfo(0))
	if err := s.flash.WriteSlice(wordIndex, buf); err != nil {
		return errStorageWrap(err)
	}
	return nil
}

func (s *Store) relocateEntries(keys []int) error {
	need := 0
	for _, k := range keys {
		need += entryWords(s.opts, s.index[k].lengthWords*s.opts.WordSize)
	}
	need++ // marker
	// The destination for a relocation is never the page being relocated
	// off of, so ensureRoom here only ever needs to step to a fresh page,
	// never re-enter compaction recursively in practice.
	if err := s.ensureRoom(need); err != nil {
		return err
	}

	for _, k := range keys {
		old := s.index[k]
		value, err := s.readValue(old, old.byteLen(s.opts.WordSize))
		if err != nil {
			return err
		}
		newPos := s.tail
		if err := s.writeValue(format.Position{Cycle: newPos.Cycle, Page: newPos.Page, Word: newPos.Word + 1}, value); err != nil {
			return err
		}
		raw := format.EncodeHeader(format.Header{Key: k, LengthWords: old.lengthWords, ByteRemainder: old.byteRemainder, Sensitive: old.sensitive})
		if err := s.writeWord(newPos, raw); err != nil {
			return err
		}
		s.index[k] = indexEntry{header: newPos, lengthWords: old.lengthWords, byteRemainder: old.byteRemainder, sensitive: old.sensitive}
		s.tail = s.tail.AddWords(1+old.lengthWords, s.opts)
	}
	if err := s.writeWord(s.tail, format.EncodeTxnMarker(len(keys))); err != nil {
		return err
	}
	s.tail = s.tail.AddWords(1, s.opts)
	return nil
}

func (s *Store) eraseHeadPage() error {
	headPage, headCycle := s.head.Page, s.head.Cycle
	if err := s.flash.ErasePage(headPage); err != nil {
		return errStorageWrap(err)
	}
	newCycle := headCycle + 1
	if err := s.writeWord(format.NewPosition(newCycle, headPage, 0), format.EncodeInitWord(newCycle)); err != nil {
		return err
	}
	newHeadPage := (headPage + 1) % s.opts.NumPages
	newHeadCycle := expectedCycle(headPage, headCycle, newHeadPage)
	s.head = format.NewPosition(newHeadCycle, newHeadPage, 2)
	return nil
}
