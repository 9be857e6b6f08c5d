package store

import "github.com/kvguard/pstore/format"

// expectedCycle is the erase cycle page p must carry during the single
// sweep currently headed by headPage/headCycle: pages from headPage
// onward (in raw index order) belong to the sweep already under way
// (headCycle); pages before headPage were already revisited earlier in
// this same sweep and so are one cycle ahead.
func expectedCycle(headPage int, headCycle uint64, p int) uint64 {
	if p < headPage {
		return headCycle + 1
	}
	return headCycle
}

// scan rebuilds s.index, s.head and s.tail by replaying the log from the
// head page (the page with the smallest erase-cycle rank) to the tail
// (the first word that doesn't decode as a committed entry).
func (s *Store) scan() error {
	headPage, headCycle, err := s.findHeadPage()
	if err != nil {
		return err
	}
	s.head = format.NewPosition(headCycle, headPage, 2)

	page := headPage
	cycle := headCycle
	word := 2
	var pending []pendingEntry
	needsInit := map[int]bool{} // pages whose init word must be (re)written to heal a crash mid page-crossing

	resolvePending := func() {
		// Only delete markers (self-contained, no trailing payload) may
		// be trusted as a lone unconfirmed entry; a header's value
		// region is only proven intact by something decoding cleanly
		// right after it, so a dangling lone header is always dropped.
		if len(pending) == 1 && pending[0].kind == pendingDelete {
			s.applyDelete(pending[0].key)
		}
		pending = nil
	}

scanLoop:
	for {
		pos := format.NewPosition(cycle, page, word)
		w, rerr := s.readWord(pos)
		if rerr != nil {
			return rerr
		}

		switch w.Kind {
		case format.KindHeader:
			e := indexEntry{header: pos, lengthWords: w.Header.LengthWords, byteRemainder: w.Header.ByteRemainder, sensitive: w.Header.Sensitive}
			pending = append(pending, pendingEntry{kind: pendingHeader, key: w.Header.Key, entry: e})
			word += 1 + w.Header.LengthWords
			continue scanLoop

		case format.KindDeleteMarker:
			pending = append(pending, pendingEntry{kind: pendingDelete, key: w.Delete.Key})
			word++
			continue scanLoop

		case format.KindTxnMarker:
			if w.Txn.Count == len(pending) {
				s.applyPending(pending)
			}
			pending = nil
			word++
			continue scanLoop

		case format.KindClearMarker:
			resolvePending()
			s.applyClear(w.Clear.MinKey)
			word++
			continue scanLoop

		case format.KindPadding:
			resolvePending()
			word++
			continue scanLoop

		case format.KindEraseMarker:
			resolvePending()
			nextPage, nextCycle := s.nextRingPage(headPage, headCycle, page, cycle)
			if nextPage == headPage {
				// Wrapped all the way back to head without finding an
				// open end: the ring is completely full with no gap,
				// which the engine never produces since one page is
				// always held back for compaction headroom.
				return ErrInvalidStorage
			}
			page, cycle = nextPage, nextCycle
			needsInit[page] = true
			word = 2
			continue scanLoop

		default: // KindErased, KindIncomplete: this is the tail
			if len(pending) > 0 {
				first := pending[0]
				if first.kind == pendingHeader {
					s.tail = first.entry.header
				} else {
					resolvePending()
					s.tail = pos
				}
			} else {
				s.tail = pos
			}
			break scanLoop
		}
	}

	for p := range needsInit {
		if err := s.healInitWord(p, headPage, headCycle); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) nextRingPage(headPage int, headCycle uint64, page int, cycle uint64) (int, uint64) {
	next := page + 1
	if next == s.opts.NumPages {
		return 0, expectedCycle(headPage, headCycle, 0)
	}
	return next, expectedCycle(headPage, headCycle, next)
}

// healInitWord writes the expected init word for a page the scan walked
// into after an erase-marker but whose own init word was never
// confirmed present (a crash between writing the erase-marker and
// initializing the next page). Deterministic recovery per spec.md §2.
func (s *Store) healInitWord(page, headPage int, headCycle uint64) error {
	w, err := s.readWord(format.NewPosition(0, page, 0))
	if err != nil {
		return err
	}
	if format.IsInitWordPresent(w.Raw) {
		return nil
	}
	cycle := expectedCycle(headPage, headCycle, page)
	return s.writeWord(format.NewPosition(cycle, page, 0), format.EncodeInitWord(cycle))
}

func (s *Store) applyPending(pending []pendingEntry) {
	for _, p := range pending {
		if p.kind == pendingDelete {
			s.applyDelete(p.key)
		} else {
			s.applyHeader(p.key, p.entry)
		}
	}
}

func (s *Store) applyHeader(key int, e indexEntry) {
	if old, ok := s.index[key]; ok {
		s.liveWords -= entryWords(s.opts, old.lengthWords*s.opts.WordSize)
	}
	s.index[key] = e
	s.liveWords += entryWords(s.opts, e.lengthWords*s.opts.WordSize)
}

func (s *Store) applyDelete(key int) {
	if old, ok := s.index[key]; ok {
		s.liveWords -= entryWords(s.opts, old.lengthWords*s.opts.WordSize)
		delete(s.index, key)
	}
}

func (s *Store) applyClear(minKey int) {
	for k, e := range s.index {
		if k >= minKey {
			s.liveWords -= entryWords(s.opts, e.lengthWords*s.opts.WordSize)
			delete(s.index, k)
		}
	}
}

// findHeadPage locates the page with the smallest erase-cycle rank among
// pages carrying a present init word, and validates that every page from
// there up to the last consistently-initialized page forms an unbroken
// cycle sequence (spec.md §4 recovery step 5).
func (s *Store) findHeadPage() (page int, cycle uint64, err error) {
	type initState struct {
		present bool
		cycle   uint64
	}
	states := make([]initState, s.opts.NumPages)
	anyPresent := false
	for p := 0; p < s.opts.NumPages; p++ {
		w, rerr := s.readWord(format.NewPosition(0, p, 0))
		if rerr != nil {
			return 0, 0, rerr
		}
		if format.IsInitWordPresent(w.Raw) {
			states[p] = initState{present: true, cycle: format.DecodeInitWord(w.Raw)}
			anyPresent = true
		}
	}
	if !anyPresent {
		return 0, 0, ErrInvalidStorage
	}

	headPage, headCycle := -1, uint64(0)
	var bestRank uint64
	for p, st := range states {
		if !st.present {
			continue
		}
		rank := format.PageRank(st.cycle, p, s.opts)
		if headPage == -1 || rank < bestRank {
			headPage, headCycle, bestRank = p, st.cycle, rank
		}
	}

	for i := 0; i < s.opts.NumPages; i++ {
		p := (headPage + i) % s.opts.NumPages
		st := states[p]
		if !st.present {
			break // nothing initialized past here yet; not an error
		}
		if st.cycle != expectedCycle(headPage, headCycle, p) {
			return 0, 0, ErrInvalidStorage
		}
	}
	return headPage, headCycle, nil
}
