// Package storageerr defines the sentinel error kinds shared by the
// page/buffer/pager/B+tree stack. Callers compare against these with
// errors.Is; nothing in the storage stack logs on failure, and apart from
// page.FromBytes's panic on a slice that is not exactly one page long,
// every operation returns one of these (wrapped with context via
// fmt.Errorf's %w) or nil.
package storageerr

import "errors"

var (
	// ErrKeyNotFound is returned by a lookup miss in a leaf, or by a
	// range scan whose anchor key is absent.
	ErrKeyNotFound = errors.New("storageerr: key not found")

	// ErrKeyAlreadyExists is returned by Insert of a duplicate key.
	ErrKeyAlreadyExists = errors.New("storageerr: key already exists")

	// ErrNotInBuffer is returned by an explicit Flush for a page that is
	// not currently cached.
	ErrNotInBuffer = errors.New("storageerr: page not in buffer")

	// ErrFileNotFound is returned for an operation against a file name
	// the buffer manager has not opened.
	ErrFileNotFound = errors.New("storageerr: file not found")

	// ErrPageNumOutOfSize is returned when FillUpTo would exceed the
	// free-bytes table's capacity, or a read targets a page beyond the
	// file's logical page count.
	ErrPageNumOutOfSize = errors.New("storageerr: page number out of size")

	// ErrUTF8 is returned when key bytes do not decode as UTF-8.
	ErrUTF8 = errors.New("storageerr: invalid UTF-8")

	// ErrTryFromSlice is returned when an integer decode is attempted
	// against a byte slice of the wrong length.
	ErrTryFromSlice = errors.New("storageerr: slice has wrong length for conversion")

	// ErrUnexpected covers every other invariant violation: unknown node
	// kind, arithmetic overflow, an unreachable branch.
	ErrUnexpected = errors.New("storageerr: unexpected error")

	// ErrIO covers an underlying file read/write/seek failure. Callers
	// that don't distinguish I/O failures from other unexpected errors
	// may treat it the same as ErrUnexpected.
	ErrIO = errors.New("storageerr: io error")
)
