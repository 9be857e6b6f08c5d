package main

import (
	"testing"

	"github.com/kvguard/pstore/fuzzutil"
)

// FuzzStore is the go test -fuzz entry point for spec.md §8 property 2
// (crash safety): any interruption point, at any bit-commit outcome,
// must recover to either the rollback or the complete model.
func FuzzStore(f *testing.F) {
	f.Add([]byte{})
	f.Add(make([]byte, 32))
	f.Add([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0xff, 0xff, 0xff, 0xff})

	f.Fuzz(func(t *testing.T, data []byte) {
		if err := run(data, fuzzutil.NewStats()); err != nil {
			t.Fatalf("invariant violated: %v\ninput: %x", err, data)
		}
	})
}
