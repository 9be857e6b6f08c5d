// Package flash defines the capability contract the store engine requires
// from raw storage: read/write/erase plus the geometry that governs word
// and page sizes. It intentionally exposes no hardware transport details —
// the SPI/FTDI/command-set layer a real NOR part needs is an external
// collaborator (spec §1) and lives outside this module, the way a real
// device driver would sit below it.
//
// The interface shape (a handful of methods: geometry getters plus
// erase/write/read) mirrors the small capability set gentam-gice's Flash
// type exposes over an actual SPI-NOR chip — ReadID/Read/Write/Erase* —
// generalized here to the abstract geometry and strict-write contract the
// store engine depends on, without any of gice's transport code.
package flash

import "errors"

// ErrOutOfRange is returned by a Flash implementation whose caller asked for
// a slice, word, or page index outside the device's geometry.
var ErrOutOfRange = errors.New("flash: offset out of range")

// ErrStorageError is returned by a Flash implementation when an operation
// could not be completed, including a simulated power loss mid-operation.
// Callers must assume nothing about which bits of the target committed.
var ErrStorageError = errors.New("flash: storage error")

// Flash is the capability set the store engine needs from underlying
// storage. Implementations must uphold the strict-write rule: within a
// page, a written word's bits may only transition 1→0; the only way to
// return bits to 1 is ErasePage. Writing the same value twice is legal
// (a no-op bit-wise) but still counts as a write against MaxWordWrites.
type Flash interface {
	// WordSize is the number of bytes in one atomic write unit.
	WordSize() int
	// PageSize is the number of bytes in one erasable unit; a power of
	// two, at least 32*WordSize.
	PageSize() int
	// NumPages is the number of erasable pages backing the device.
	NumPages() int
	// MaxWordWrites bounds how many times a word may be written between
	// erases before the device's behavior is undefined; typically 2
	// (erase, then a single overwrite-to-zero pass).
	MaxWordWrites() int
	// MaxPageErases bounds the endurance of a single page.
	MaxPageErases() int

	// ReadSlice returns length bytes starting at byte offset offset.
	ReadSlice(offset, length int) ([]byte, error)
	// WriteSlice programs bytes starting at the given word index (not a
	// byte offset). len(bytes) must be a multiple of WordSize.
	WriteSlice(wordOffset int, bytes []byte) error
	// ErasePage resets every byte of the page to 0xFF.
	ErasePage(page int) error
}
