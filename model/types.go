// Package model defines the wire-level value types shared by the key
// coordinator and the immutable upsert segment: primary keys, message
// contexts, and the input/output events that flow between them.
package model

import "bytes"

// PrimaryKey is an opaque byte sequence identifying a logical row.
// Equality and hashing are defined over the full byte sequence.
type PrimaryKey []byte

// String renders the key for logging; it is not used for equality.
func (k PrimaryKey) String() string {
	return string(k)
}

// Equal reports whether two keys carry the same bytes.
func (k PrimaryKey) Equal(other PrimaryKey) bool {
	return bytes.Equal(k, other)
}

// Key returns a comparable Go string suitable for use as a map key,
// since byte slices cannot be map keys directly.
func (k PrimaryKey) Key() string {
	return string(k)
}

// EventKind selects which virtual column an OutputEvent updates.
type EventKind int

const (
	// Insert marks a row as live as of the recorded value (a source
	// offset).
	Insert EventKind = iota
	// Delete marks a row as superseded as of the recorded value (the
	// source offset of the superseding occurrence).
	Delete
)

func (k EventKind) String() string {
	switch k {
	case Insert:
		return "INSERT"
	case Delete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// MessageContext describes one occurrence of a primary key: which segment
// it landed in, at what source-log offset, and when it was produced. Two
// contexts are equal iff all three fields are equal.
type MessageContext struct {
	SegmentName  string
	SourceOffset int64
	Timestamp    int64
}

// Equal implements the "same replica" comparison used by the processing
// loop and the conflict resolver's stability-under-equality property.
func (c MessageContext) Equal(other MessageContext) bool {
	return c == other
}

// InputEvent is one record read from the input log.
type InputEvent struct {
	Table   string
	Key     PrimaryKey
	Context MessageContext
}

// OutputEvent is one record produced to the output log, addressed by the
// source offset that originally produced the target row.
type OutputEvent struct {
	Table        string
	SegmentName  string
	TargetOffset int64
	Value        int64
	Kind         EventKind
}

// SegmentKey identifies a (table, segment) pair, the unit the watermark
// manager and the update log store key their state by.
type SegmentKey struct {
	Table   string
	Segment string
}
