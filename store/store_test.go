package store

import (
	"testing"

	"github.com/kvguard/pstore/buffer"
	"github.com/kvguard/pstore/format"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallOptions(t *testing.T) format.Options {
	o, err := format.NewOptions(4, 64, 3, 50) // 14 body words/page, 3 pages
	require.NoError(t, err)
	return o
}

func openFresh(t *testing.T, opts format.Options) (*Store, *buffer.BufferStorage) {
	bs := buffer.NewBufferStorage(opts)
	require.NoError(t, Format(bs, opts))
	st, err := Open(bs, opts)
	require.NoError(t, err)
	return st, bs
}

func TestFreshStoreInsertAndGetRoundTrips(t *testing.T) {
	st, _ := openFresh(t, smallOptions(t))

	value := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	_, err := st.Transaction([]Update{{Key: 7, Value: value}})
	require.NoError(t, err)

	got, ok, err := st.Get(7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, value, got)

	used, total := st.Capacity()
	assert.Greater(t, used, 0)
	assert.Greater(t, total, used)

	_, ok, err = st.Get(8)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReinsertSameKeyShadowsOldValue(t *testing.T) {
	st, _ := openFresh(t, smallOptions(t))

	_, err := st.Transaction([]Update{{Key: 7, Value: []byte("hello!")}})
	require.NoError(t, err)
	_, err = st.Transaction([]Update{{Key: 7, Value: []byte("world!!")}})
	require.NoError(t, err)

	assert.Equal(t, []int{7}, st.Keys())

	got, ok, err := st.Get(7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("world!!"), got)

	var seen []int
	require.NoError(t, st.Iter(func(key int, value []byte) bool {
		seen = append(seen, key)
		assert.Equal(t, []byte("world!!"), value)
		return true
	}))
	assert.Equal(t, []int{7}, seen)
}

// TestCounterWorkloadTriggersExactlyOneCompaction repeatedly overwrites a
// single key until the ring wraps all the way back to the head page. Since
// every earlier write of the key is superseded before the wrap, the head
// page holds no live entries by the time it's reclaimed, so exactly one
// page gets erased and head_page advances by one.
func TestCounterWorkloadTriggersExactlyOneCompaction(t *testing.T) {
	opts := smallOptions(t)
	st, bs := openFresh(t, opts)

	erasesPage0 := bs.GetPageErases(0)
	erasesPage1 := bs.GetPageErases(1)
	erasesPage2 := bs.GetPageErases(2)

	const maxIterations = 200
	var last []byte
	i := 0
	for ; st.Head().Page == 0 && i < maxIterations; i++ {
		last = []byte{byte(i), byte(i >> 8), byte(i >> 16), byte(i >> 24)}
		_, err := st.Transaction([]Update{{Key: 1, Value: last}})
		require.NoError(t, err)
	}
	require.Less(t, i, maxIterations, "head page never advanced; compaction never triggered")

	assert.Equal(t, 1, st.Head().Page)
	assert.Equal(t, erasesPage0+1, bs.GetPageErases(0), "exactly one compaction erase of the head page")
	assert.Equal(t, erasesPage1, bs.GetPageErases(1), "page 1 untouched by this compaction")
	assert.Equal(t, erasesPage2, bs.GetPageErases(2), "page 2 untouched by this compaction")

	got, ok, err := st.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, last, got)
}

// TestTransactionAtomicityUnderCrash interrupts exactly the word that
// programs a two-update transaction's marker. Recovery must show neither
// update applied, leaving the store at its pre-transaction state.
func TestTransactionAtomicityUnderCrash(t *testing.T) {
	opts := smallOptions(t)
	st, bs := openFresh(t, opts)

	_, err := st.Transaction([]Update{{Key: 1, Value: []byte("AAAA")}})
	require.NoError(t, err)

	// Sequence for this transaction: value0, header0, value1, header1,
	// marker -- five word writes. Arming delay 4 interrupts the fifth.
	bs.ArmInterruption(4)
	_, err = st.Transaction([]Update{
		{Key: 1, Value: []byte("BBBB")},
		{Key: 2, Value: []byte("CCCC")},
	})
	require.Error(t, err)
	bs.CorruptOperation(func(before, after []byte) {
		// Leave before untouched: nothing about the marker word commits.
	})

	st2, err := Open(bs, opts)
	require.NoError(t, err)

	v, ok, err := st2.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("AAAA"), v)

	_, ok, err = st2.Get(2)
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestTransactionDuplicateKeyLastWins exercises spec.md §5: a single
// transaction touching the same key twice commits only the last update for
// that key, rather than being rejected outright.
func TestTransactionDuplicateKeyLastWins(t *testing.T) {
	st, _ := openFresh(t, smallOptions(t))

	_, err := st.Transaction([]Update{
		{Key: 7, Value: []byte("first!")},
		{Key: 8, Value: []byte("other!")},
		{Key: 7, Value: []byte("second")},
	})
	require.NoError(t, err)

	got, ok, err := st.Get(7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("second"), got)

	got, ok, err = st.Get(8)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("other!"), got)

	assert.Equal(t, []int{7, 8}, st.Keys())
}

// TestFindHandleAndInspectValueSeeWipeBeforeDelete exercises spec.md §8
// property 3: after Remove completes, the value's old position reads all
// zeros before the delete marker makes the key disappear from Get/Find.
func TestFindHandleAndInspectValueSeeWipeBeforeDelete(t *testing.T) {
	st, _ := openFresh(t, smallOptions(t))

	value := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	_, err := st.Transaction([]Update{{Key: 7, Value: value, Sensitive: true}})
	require.NoError(t, err)

	h, ok := st.Find(7)
	require.True(t, ok)
	assert.Equal(t, 7, h.Key)
	assert.Equal(t, len(value), h.Length)
	assert.True(t, h.Sensitive)

	before, err := st.InspectValue(h)
	require.NoError(t, err)
	assert.Equal(t, value, before)

	deleted, err := st.Transaction([]Update{{Key: 7, Value: nil}})
	require.NoError(t, err)
	require.Len(t, deleted, 1)

	_, ok, err = st.Get(7)
	require.NoError(t, err)
	assert.False(t, ok)

	after, err := st.InspectValue(h)
	require.NoError(t, err)
	for _, b := range after {
		assert.Zero(t, b, "sensitive value must be zero-filled at its old position after delete")
	}

	_, ok = st.Find(7)
	assert.False(t, ok, "a deleted key has no handle")
}

func TestClearRemovesKeysAtOrAboveMinKey(t *testing.T) {
	opts, err := format.NewOptions(4, 512, 3, 50)
	require.NoError(t, err)
	st, _ := openFresh(t, opts)

	for k := 0; k < 10; k++ {
		_, err := st.Transaction([]Update{{Key: k, Value: []byte{byte(k)}}})
		require.NoError(t, err)
	}

	_, err = st.Clear(5)
	require.NoError(t, err)

	for k := 0; k < 5; k++ {
		_, ok, err := st.Get(k)
		require.NoError(t, err)
		assert.Truef(t, ok, "key %d below min_key must survive Clear", k)
	}
	for k := 5; k < 10; k++ {
		_, ok, err := st.Get(k)
		require.NoError(t, err)
		assert.Falsef(t, ok, "key %d at or above min_key must be removed by Clear", k)
	}
}

// TestLifetimeExhaustionIsTerminal drives a single key's counter workload
// until the device's write budget runs out. The store must report
// NoLifetime without corrupting its state, and stay exhausted afterward.
func TestLifetimeExhaustionIsTerminal(t *testing.T) {
	opts, err := format.NewOptions(4, 64, 3, 1) // minimal erase budget
	require.NoError(t, err)
	st, _ := openFresh(t, opts)

	const maxIterations = 10000
	var last []byte
	var failErr error
	i := 0
	for ; i < maxIterations; i++ {
		v := []byte{byte(i), byte(i >> 8), byte(i >> 16), byte(i >> 24)}
		_, err := st.Transaction([]Update{{Key: 1, Value: v}})
		if err != nil {
			failErr = err
			break
		}
		last = v
	}
	require.ErrorIs(t, failErr, ErrNoLifetime)
	require.Less(t, i, maxIterations, "lifetime never exhausted")

	got, ok, err := st.Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, last, got)

	// Exhaustion is terminal: retrying gets the same error again.
	_, err = st.Transaction([]Update{{Key: 1, Value: []byte("xxxx")}})
	assert.ErrorIs(t, err, ErrNoLifetime)
}
