package store

import "github.com/kvguard/pstore/format"

// Update is one key/value write within a Transaction call; a nil Value
// deletes the key.
type Update struct {
	Key       int
	Value     []byte
	Sensitive bool
}

// DeletedValue identifies a sensitive value's on-flash region immediately
// after Transaction or Clear has wiped it: the region a crash-consistency
// check reads back to confirm every byte is now zero.
type DeletedValue struct {
	Key   int
	pos   format.Position
	words int
}

// ReadRaw returns the raw, word-padded bytes of a region reported via
// DeletedValue, without trimming to any value's byte length: callers use it
// only to confirm a wipe, not to recover a value.
func (s *Store) ReadRaw(d DeletedValue) ([]byte, error) {
	byteOffset := d.pos.Page*s.opts.PageSize + d.pos.Word*s.opts.WordSize
	buf, err := s.flash.ReadSlice(byteOffset, d.words*s.opts.WordSize)
	if err != nil {
		return nil, errStorageWrap(err)
	}
	return buf, nil
}

// dedupeUpdatesLastWins collapses updates so that, for any key touched more
// than once, only its last occurrence survives — spec.md §5: "when two
// updates in the same transaction touch the same key, the last wins."
// Surviving updates keep their original relative order (the order of their
// last occurrence), so everything downstream (capacity charging, the
// on-flash write order, the index) only ever sees one update per key.
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

func (s *Store) validateUpdate(u Update) error {
	if u.Key < 0 || u.Key >= format.MaxKey {
		return ErrInvalidArgument
	}
	if u.Value != nil && len(u.Value) > s.opts.MaxValueLength() {
		return ErrInvalidArgument
	}
	return nil
}

// transactionNeed returns the body words this transaction will occupy,
// including its marker, and the words its superseded/deleted entries
// currently hold. Every transaction writes a marker, even a single
// update: scan only ever trusts a pending header word once a matching
// transaction marker programs cleanly after it (spec.md §4.C "Before
// that word is fully programmed, the update words ... are ignored by
// scan"), so a lone header with nothing charged for a marker would be
// silently dropped on the next reboot.
func (s *Store) transactionNeed(updates []Update) (need, freed int) {
	for _, u := range updates {
		if u.Value == nil {
			need++
		} else {
			need += entryWords(s.opts, len(u.Value))
		}
		if old, ok := s.index[u.Key]; ok {
			freed += entryWords(s.opts, old.lengthWords*s.opts.WordSize)
		}
	}
	need++
	return need, freed
}

// Transaction commits every update atomically: either every value in
// updates takes effect, or (on any error) none do. Updates are applied in
// the order given; when two updates in the same call touch the same key,
// the last one wins and every earlier one for that key is discarded before
// anything is validated, charged, or written (spec.md §5). It returns the
// regions of any sensitive values it wiped, for crash-consistency checks.
func (s *Store) Transaction(updates []Update) ([]DeletedValue, error) {
	if len(updates) == 0 {
		return nil, nil
	}
	updates = dedupeUpdatesLastWins(updates)
	if len(updates) > s.opts.MaxUpdates() {
		return nil, ErrInvalidArgument
	}
	for _, u := range updates {
		if err := s.validateUpdate(u); err != nil {
			return nil, err
		}
	}

	need, freed := s.transactionNeed(updates)
	if s.liveWords-freed+need > s.capacityWords() {
		return nil, ErrNoCapacity
	}
	if uint64(need) > s.remainingLifetimeWords() {
		return nil, ErrNoLifetime
	}
	if err := s.ensureRoom(need); err != nil {
		return nil, err
	}

	var deleted []DeletedValue
	for _, u := range updates {
		if u.Value == nil {
			sensitive := false
			if old, ok := s.index[u.Key]; ok {
				sensitive = old.sensitive
				if sensitive {
					if err := s.wipeValue(old); err != nil {
						return deleted, err
					}
					deleted = append(deleted, DeletedValue{Key: u.Key, pos: old.valueStart(), words: old.lengthWords})
				}
			}
			if err := s.writeWord(s.tail, format.EncodeDeleteMarker(format.DeleteMarker{Key: u.Key, Sensitive: sensitive})); err != nil {
				return deleted, err
			}
			s.tail = s.tail.AddWords(1, s.opts)
			continue
		}
		lengthWords := (len(u.Value) + s.opts.WordSize - 1) / s.opts.WordSize
		byteRemainder := lengthWords*s.opts.WordSize - len(u.Value)
		valuePos := format.Position{Cycle: s.tail.Cycle, Page: s.tail.Page, Word: s.tail.Word + 1}
		if err := s.writeValue(valuePos, u.Value); err != nil {
			return deleted, err
		}
		headerPos := s.tail
		raw := format.EncodeHeader(format.Header{Key: u.Key, LengthWords: lengthWords, ByteRemainder: byteRemainder, Sensitive: u.Sensitive})
		if err := s.writeWord(headerPos, raw); err != nil {
			return deleted, err
		}
		s.tail = s.tail.AddWords(1+lengthWords, s.opts)
	}

	if err := s.writeWord(s.tail, format.EncodeTxnMarker(len(updates))); err != nil {
		return deleted, err
	}
	s.tail = s.tail.AddWords(1, s.opts)

	if err := s.reindexJustWritten(updates); err != nil {
		return deleted, err
	}
	return deleted, nil
}

// reindexJustWritten updates s.index and s.liveWords to reflect the
// updates just appended to the log, without re-reading them back from
// flash: their positions are derivable from the tail before this call.
func (s *Store) reindexJustWritten(updates []Update) error {
	pos := s.startOfLastTransaction(updates)
	for _, u := range updates {
		if u.Value == nil {
			s.applyDelete(u.Key)
			pos = pos.AddWords(1, s.opts)
			continue
		}
		lengthWords := (len(u.Value) + s.opts.WordSize - 1) / s.opts.WordSize
		byteRemainder := lengthWords*s.opts.WordSize - len(u.Value)
		s.applyHeader(u.Key, indexEntry{header: pos, lengthWords: lengthWords, byteRemainder: byteRemainder, sensitive: u.Sensitive})
		pos = pos.AddWords(1+lengthWords, s.opts)
	}
	return nil
}

// startOfLastTransaction walks s.tail back by exactly the words this
// transaction wrote (excluding its own marker) to recover where it began.
func (s *Store) startOfLastTransaction(updates []Update) format.Position {
	words := 0
	for _, u := range updates {
		if u.Value == nil {
			words++
		} else {
			words += entryWords(s.opts, len(u.Value))
		}
	}
	total := words + 1 // +1 for the transaction marker, always written
	return s.tail.SubWords(total, s.opts)
}

// Clear logically removes every live key >= minKey with a single marker
// word; it is its own atomic operation, never batched with Transaction. It
// returns the regions of any sensitive values it wiped.
func (s *Store) Clear(minKey int) ([]DeletedValue, error) {
	if minKey < 0 || minKey >= format.MaxKey {
		return nil, ErrInvalidArgument
	}
	if uint64(1) > s.remainingLifetimeWords() {
		return nil, ErrNoLifetime
	}
	if err := s.ensureRoom(1); err != nil {
		return nil, err
	}
	var deleted []DeletedValue
	for k, e := range s.index {
		if k >= minKey && e.sensitive {
			if err := s.wipeValue(e); err != nil {
				return deleted, err
			}
			deleted = append(deleted, DeletedValue{Key: k, pos: e.valueStart(), words: e.lengthWords})
		}
	}
	if err := s.writeWord(s.tail, format.EncodeClearMarker(minKey)); err != nil {
		return deleted, err
	}
	s.tail = s.tail.AddWords(1, s.opts)
	s.applyClear(minKey)
	return deleted, nil
}

// Prepare is a dry run: it reports whether length bytes could be
// committed right now, compacting as needed to make that true, without
// writing any entry (spec.md §4.C "prepare"). need accounts for the same
// words a following Transaction{Insert{key, length-byte value}} would
// actually spend, including its shared transaction-marker word, so a
// successful Prepare is a true guarantee the next matching insert won't
// hit NoCapacity or NoLifetime.
func (s *Store) Prepare(length int) error {
	if length > s.opts.MaxValueLength() {
		return ErrInvalidArgument
	}
	need := entryWords(s.opts, length) + 1
	if s.liveWords+need > s.capacityWords() {
		return ErrNoCapacity
	}
	if uint64(need) > s.remainingLifetimeWords() {
		return ErrNoLifetime
	}
	return s.ensureRoom(need)
}
