package segment

import "github.com/pkg/errors"

// LookupError kinds raised by the offset→docId index.
var (
	// ErrOutOfRange is returned when a requested source offset falls
	// outside the segment's [minOffset, minOffset+length) range.
	ErrOutOfRange = errors.New("offset out of range")
	// ErrNotFound is returned when a requested source offset is within
	// range but no row was observed at that offset.
	ErrNotFound = errors.New("offset not found")
)

// ConfigError kinds raised at segment construction time.
var (
	ErrNotUpsertEnabled      = errors.New("segment schema is not upsert-enabled")
	ErrUnrecognizedReader    = errors.New("offset column reader does not support readLong")
	ErrInvalidTotalDocs      = errors.New("segment total doc count is invalid")
	ErrDuplicateSourceOffset = errors.New("duplicate source offset across rows")
)
