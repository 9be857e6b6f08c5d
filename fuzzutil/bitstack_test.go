package fuzzutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBitStackPopEmptyReturnsFalse(t *testing.T) {
	var s BitStack
	_, ok := s.Pop()
	assert.False(t, ok)
}

func TestBitStackSingleBitRoundTrips(t *testing.T) {
	var s BitStack
	s.Push(true)
	v, ok := s.Pop()
	assert.True(t, ok)
	assert.True(t, v)
	_, ok = s.Pop()
	assert.False(t, ok)

	s.Push(false)
	v, ok = s.Pop()
	assert.True(t, ok)
	assert.False(t, v)
}

func TestBitStackPopsInReverseOfPush(t *testing.T) {
	var s BitStack
	seq := []bool{true, false, false, true, true, false, false, true, true, true}
	for _, b := range seq {
		s.Push(b)
	}
	for i := len(seq) - 1; i >= 0; i-- {
		v, ok := s.Pop()
		assert.True(t, ok)
		assert.Equal(t, seq[i], v)
	}
	_, ok := s.Pop()
	assert.False(t, ok)
}

func TestBitStackLenGrowsAcrossByteBoundary(t *testing.T) {
	var s BitStack
	for i := 0; i < 27; i++ {
		assert.Equal(t, i, s.Len())
		s.Push(true)
	}
}
