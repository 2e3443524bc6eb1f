// Package werrors declares the error kinds produced by the volume
// scanner and the metadata resource codec. Kinds are sentinel values
// usable with errors.Is; callers that need the offending path or byte
// offset get it from the wrapped message, not from a struct field, so
// that plain errors.Is(err, werrors.NtfsError) keeps working across any
// number of fmt.Errorf("...: %w", ...) wraps added on the way up.
package werrors

import (
	"errors"
	"strconv"
)

var (
	// NtfsError covers library-level failures: mount, open, read, enumerate.
	NtfsError = errors.New("ntfs error")

	// InvalidReparseData is returned when a REPARSE_POINT attribute is
	// smaller than the 8-byte reparse header.
	InvalidReparseData = errors.New("invalid reparse point data")

	// InvalidMetadataResource is returned by the metadata resource reader
	// for any structural problem in the decoded buffer.
	InvalidMetadataResource = errors.New("invalid metadata resource")

	// UnsupportedFile is returned for files this core refuses to capture,
	// currently EFS-encrypted files only.
	UnsupportedFile = errors.New("unsupported file")

	// ReadError covers short or failed reads from a volume attribute.
	ReadError = errors.New("read error")

	// UnexpectedEndOfFile is returned when a buffer is exhausted before a
	// fixed-size structure has been fully consumed.
	UnexpectedEndOfFile = errors.New("unexpected end of file")

	// DecompressionError is surfaced from the external compressed-resource
	// layer; the core never decompresses, it only propagates this kind.
	DecompressionError = errors.New("decompression error")

	// OutOfMemory is returned when an allocation needed to build the image
	// could not be satisfied.
	OutOfMemory = errors.New("out of memory")

	// InvalidParam is returned for caller misuse: bad sizes, nil buffers,
	// out-of-range IDs.
	InvalidParam = errors.New("invalid parameter")
)

// WithPath wraps err with the offending capture-time path so the
// diagnostic message identifies which file or directory failed.
func WithPath(kind error, path string, cause error) error {
	if cause == nil {
		return &wrapped{kind: kind, msg: path}
	}
	return &wrapped{kind: kind, msg: path, cause: cause}
}

// WithOffset wraps err with the byte offset at which metadata decoding
// failed.
func WithOffset(kind error, offset int, cause error) error {
	return &wrapped{kind: kind, offset: offset, hasOffset: true, cause: cause}
}

type wrapped struct {
	kind      error
	msg       string
	offset    int
	hasOffset bool
	cause     error
}

func (w *wrapped) Error() string {
	s := w.kind.Error()
	if w.msg != "" {
		s += ": " + w.msg
	}
	if w.hasOffset {
		s += ": at offset " + strconv.Itoa(w.offset)
	}
	if w.cause != nil {
		s += ": " + w.cause.Error()
	}
	return s
}

func (w *wrapped) Unwrap() []error {
	if w.cause != nil {
		return []error{w.kind, w.cause}
	}
	return []error{w.kind}
}
