package format

import "errors"

var (
	// ErrSignatureMismatch indicates a structure had an unexpected magic.
	ErrSignatureMismatch = errors.New("format: signature mismatch")
	// ErrTruncated indicates the buffer lacked the bytes required for a structure.
	ErrTruncated = errors.New("format: truncated buffer")
	// ErrFixup indicates a multi-sector structure failed update-sequence verification.
	ErrFixup = errors.New("format: fixup mismatch")
	// ErrNotFound indicates a requested attribute or entry was missing.
	ErrNotFound = errors.New("format: not found")
	// ErrUnsupported indicates the structure or feature is not yet supported.
	ErrUnsupported = errors.New("format: unsupported feature")
)
