package fuzzutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetBucketBoundaryValues(t *testing.T) {
	assert.Equal(t, 0, getBucket(0))
	assert.Equal(t, 1, getBucket(1))
	assert.Equal(t, 2, getBucket(2))
	assert.Equal(t, 2, getBucket(3))
	assert.Equal(t, 4, getBucket(4))
	assert.Equal(t, 4, getBucket(7))
	assert.Equal(t, 8, getBucket(8))
	assert.Equal(t, 8, getBucket(15))
}

func TestHistogramAddAndGet(t *testing.T) {
	h := NewHistogram()
	h.Add(3)
	h.Add(2)
	h.Add(5)
	c2, ok := h.Get(2)
	assert.True(t, ok)
	assert.Equal(t, 2, c2) // 2 and 3 both bucket to 2
	c4, ok := h.Get(4)
	assert.True(t, ok)
	assert.Equal(t, 1, c4) // 5 buckets to 4
	assert.Equal(t, 3, h.Count())
}

func TestHistogramMerge(t *testing.T) {
	a := NewHistogram()
	a.Add(1)
	b := NewHistogram()
	b.Add(1)
	b.Add(8)
	a.Merge(b)
	assert.Equal(t, 3, a.Count())
	c1, ok := a.Get(1)
	assert.True(t, ok)
	assert.Equal(t, 2, c1)
}

func TestHistogramBucketLim(t *testing.T) {
	h := NewHistogram()
	assert.Equal(t, 0, h.BucketLim())
	h.Add(5)
	assert.Equal(t, 8, h.BucketLim())
}
