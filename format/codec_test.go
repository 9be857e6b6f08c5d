package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeDecodeHeaderRoundTrip(t *testing.T) {
	h := Header{Key: 42, LengthWords: 3, ByteRemainder: 1, Sensitive: true}
	raw := EncodeHeader(h)
	w := DecodeWord(raw)
	assert.Equal(t, KindHeader, w.Kind)
	assert.Equal(t, h, w.Header)
}

func TestEncodeDecodeTxnMarker(t *testing.T) {
	raw := EncodeTxnMarker(7)
	w := DecodeWord(raw)
	assert.Equal(t, KindTxnMarker, w.Kind)
	assert.Equal(t, 7, w.Txn.Count)
}

func TestEncodeDecodeDeleteMarker(t *testing.T) {
	raw := EncodeDeleteMarker(DeleteMarker{Key: 99, Sensitive: true})
	w := DecodeWord(raw)
	assert.Equal(t, KindDeleteMarker, w.Kind)
	assert.Equal(t, 99, w.Delete.Key)
	assert.True(t, w.Delete.Sensitive)
}

func TestEncodeDecodeClearMarker(t *testing.T) {
	raw := EncodeClearMarker(5)
	w := DecodeWord(raw)
	assert.Equal(t, KindClearMarker, w.Kind)
	assert.Equal(t, 5, w.Clear.MinKey)
}

func TestEncodeDecodeEraseAndPadding(t *testing.T) {
	assert.Equal(t, KindEraseMarker, DecodeWord(EncodeEraseMarker()).Kind)
	assert.Equal(t, KindPadding, DecodeWord(EncodePadding()).Kind)
}

func TestErasedWordDecodesAsErased(t *testing.T) {
	assert.Equal(t, KindErased, DecodeWord(erasedWord).Kind)
}

func TestPartialTagNeverAliasesAnotherValidTag(t *testing.T) {
	// A word interrupted mid-program can only fail to clear some of its
	// target tag's bits (a cleared-to-0 bit reverting to the erased
	// 1 state), never flip an already-1 bit to 0. Simulate every such
	// "bit i failed to clear" case for every valid tag and confirm the
	// resulting nibble is never itself a different valid tag's complete
	// pattern — the antichain property this encoding relies on.
	tags := []byte{tagHeader, tagTxnMarker, tagDeleteMarker, tagClearMarker, tagEraseMarker, tagPadding}
	for _, tag := range tags {
		for bit := uint(0); bit < 4; bit++ {
			if tag&(1<<bit) != 0 {
				continue // bit was already 1 in the target tag, nothing to fail
			}
			partialNibble := tag | (1 << bit)
			for _, other := range tags {
				if other != tag {
					assert.NotEqual(t, other, partialNibble,
						"tag 0x%x with failed bit %d must not equal valid tag 0x%x", tag, bit, other)
				}
			}
		}
	}
}

func TestChecksumCatchesPayloadCorruption(t *testing.T) {
	raw := EncodeHeader(Header{Key: 1, LengthWords: 1})
	corrupted := raw ^ 0x1 // flip a single payload bit without touching tag/checksum
	w := DecodeWord(corrupted)
	assert.Equal(t, KindIncomplete, w.Kind)
}

func TestPositionLinearOrdering(t *testing.T) {
	o, err := NewOptions(4, 256, 3, 100)
	assert.NoError(t, err)
	p1 := NewPosition(0, 0, 2)
	p2 := NewPosition(0, 0, 3)
	assert.True(t, p1.Less(p2, o))
	assert.False(t, p2.Less(p1, o))
}

func TestPositionAddWordsCrossesPageBoundary(t *testing.T) {
	o, err := NewOptions(4, 64, 3, 100) // 16 words/page, 14 body words
	assert.NoError(t, err)
	p := NewPosition(0, 0, 2)
	q := p.AddWords(o.VirtPageWords(), o)
	assert.Equal(t, 1, q.Page)
	assert.Equal(t, uint64(0), q.Cycle)
	assert.Equal(t, 2, q.Word)
}

func TestPositionAddWordsWrapsCycle(t *testing.T) {
	o, err := NewOptions(4, 64, 3, 100)
	assert.NoError(t, err)
	p := NewPosition(0, 2, 2)
	q := p.AddWords(o.VirtPageWords(), o)
	assert.Equal(t, 0, q.Page)
	assert.Equal(t, uint64(1), q.Cycle)
}
