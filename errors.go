package zipbss

import (
	"fmt"

	"github.com/dropbox/godropbox/errors"
)

// NotFound is returned when a search or delete targets an absent key.
type NotFound struct {
	Key string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("key %q not found", e.Key)
}

// AlreadyExists is returned when an insert targets a key already on file.
type AlreadyExists struct {
	Key string
}

func (e *AlreadyExists) Error() string {
	return fmt.Sprintf("key %q already exists", e.Key)
}

// FormatError covers a malformed header, block header, or record that
// cannot be parsed according to this store's encoding.
type FormatError struct {
	Where string
	Err   error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("format error in %s: %v", e.Where, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// NewFormatError wraps a parse failure with the component it occurred in,
// keeping the godropbox stack trace the rest of this codebase relies on.
func NewFormatError(where string, err error) *FormatError {
	return &FormatError{Where: where, Err: errors.Wrap(err, where)}
}

// IoError covers an OS-level read/write failure.
type IoError struct {
	Where string
	Err   error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("io error in %s: %v", e.Where, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

// WrapIO wraps err as an IoError, or returns nil if err is nil.
func WrapIO(where string, err error) error {
	if err == nil {
		return nil
	}
	return &IoError{Where: where, Err: errors.Wrap(err, where)}
}

// Corruption signals a detected invariant violation: a cycle in a linked
// list, an availability-list entry whose record count isn't zero, a record
// count that disagrees with what was actually found on disk.
type Corruption struct {
	Detail string
}

func (e *Corruption) Error() string {
	return fmt.Sprintf("corruption detected: %s", e.Detail)
}

// NewCorruption builds a Corruption error with a godropbox-formatted detail.
func NewCorruption(format string, args ...interface{}) *Corruption {
	return &Corruption{Detail: errors.Newf(format, args...).Error()}
}

// CapacityError is returned when a record cannot fit in any empty block of
// the store's configured block size.
type CapacityError struct {
	Key           string
	EncodedLength int
	BlockSize     int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("record %q (%d bytes) cannot fit in a %d-byte block",
		e.Key, e.EncodedLength, e.BlockSize)
}
