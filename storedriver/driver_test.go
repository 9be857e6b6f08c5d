package storedriver

import (
	"testing"

	"github.com/kvguard/pstore/format"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions(t *testing.T) format.Options {
	o, err := format.NewOptions(4, 64, 4, 10) // 14 body words/page, 3 usable pages
	require.NoError(t, err)
	return o
}

func TestPowerOnFreshStorageSucceeds(t *testing.T) {
	off := NewOff(testOptions(t))
	on, err := off.PowerOn()
	require.NoError(t, err)
	require.NoError(t, on.Check())
}

func TestInsertAgreesWithModelAndRoundTrips(t *testing.T) {
	off := NewOff(testOptions(t))
	on, err := off.PowerOn()
	require.NoError(t, err)

	require.NoError(t, on.Insert(1, []byte("hello")))
	v, ok, err := on.Store().Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), v)
	assert.NoError(t, on.Check())
}

func TestRemoveAgreesWithModel(t *testing.T) {
	off := NewOff(testOptions(t))
	on, err := off.PowerOn()
	require.NoError(t, err)

	require.NoError(t, on.Insert(1, []byte("a")))
	require.NoError(t, on.Remove(1))
	_, ok, err := on.Store().Get(1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, on.Check())
}

func TestApplyAgreesOnInvalidArgument(t *testing.T) {
	off := NewOff(testOptions(t))
	on, err := off.PowerOn()
	require.NoError(t, err)

	// A key outside the valid range is rejected identically by both the
	// store and the model, so Apply must not false-positive here.
	err = on.Apply(Transaction(Update{Key: -1, Value: []byte("x")}))
	assert.NoError(t, err)
}

func TestPartialApplyNoInterruptionSucceeds(t *testing.T) {
	off := NewOff(testOptions(t))
	on, err := off.PowerOn()
	require.NoError(t, err)

	driver, err := on.PartialApply(Transaction(Update{Key: 1, Value: []byte("v")}), -1, nil)
	require.NoError(t, err)
	require.NotNil(t, driver.On)
	v, ok, err := driver.On.Store().Get(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)
}

// runToCrash repeatedly reopens a fresh driver, applying op with an
// increasing interruption delay, until the operation actually trips
// (delay landed inside the write sequence rather than after it).
func runToCrash(t *testing.T, op Operation) *StoreDriverOff {
	t.Helper()
	for delay := 0; delay < 64; delay++ {
		off := NewOff(testOptions(t))
		on, err := off.PowerOn()
		require.NoError(t, err)
		driver, err := on.PartialApply(op, delay, func(before, after []byte) {
			// resolve as "nothing committed": keep before bytes untouched.
			copy(after, before)
		})
		require.NoError(t, err)
		if driver.Off != nil {
			return driver.Off
		}
	}
	t.Fatal("operation never tripped an interruption within 64 delays")
	return nil
}

func TestInterruptedInsertRecoversToRollbackOrComplete(t *testing.T) {
	op := Transaction(Update{Key: 1, Value: []byte("value")})
	off := runToCrash(t, op)

	on, err := off.PowerOn()
	require.NoError(t, err)
	require.NoError(t, on.Check())

	// Whichever side of the crash recovery landed on, the key is either
	// fully absent (rollback) or fully present with the committed value
	// (complete) -- never a partial write.
	v, ok, err := on.Store().Get(1)
	require.NoError(t, err)
	if ok {
		assert.Equal(t, []byte("value"), v)
	}
}

func TestDelayMapOffReportsModifiedBitsPerDelay(t *testing.T) {
	off := NewOff(testOptions(t))
	m, err := off.DelayMap()
	require.NoError(t, err)
	require.NotEmpty(t, m)
	// the final entry is always the "ran to completion" sentinel.
	assert.Equal(t, 0, m[len(m)-1])
}

func TestDelayMapOnReportsModifiedBitsPerDelay(t *testing.T) {
	off := NewOff(testOptions(t))
	on, err := off.PowerOn()
	require.NoError(t, err)

	m, err := on.DelayMap(Transaction(Update{Key: 1, Value: []byte("abcd")}))
	require.NoError(t, err)
	require.NotEmpty(t, m)
	assert.Equal(t, 0, m[len(m)-1])
	for _, bits := range m[:len(m)-1] {
		assert.Greater(t, bits, 0)
	}
}

func TestSensitiveDeleteWipesBeforeMarker(t *testing.T) {
	off := NewOff(testOptions(t))
	on, err := off.PowerOn()
	require.NoError(t, err)

	require.NoError(t, on.Apply(Transaction(Update{Key: 1, Value: []byte("secret!!"), Sensitive: true})))
	require.NoError(t, on.Apply(Transaction(Update{Key: 1, Value: nil})))
	assert.NoError(t, on.Check())
}

func TestPowerOffThenPowerOnPreservesState(t *testing.T) {
	off := NewOff(testOptions(t))
	on, err := off.PowerOn()
	require.NoError(t, err)
	require.NoError(t, on.Insert(7, []byte("persisted")))

	off2 := on.PowerOff()
	on2, err := off2.PowerOn()
	require.NoError(t, err)
	require.NoError(t, on2.Check())

	v, ok, err := on2.Store().Get(7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("persisted"), v)
}
