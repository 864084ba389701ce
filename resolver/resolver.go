// Package resolver implements the pure conflict-resolution function that
// decides, for a primary key present more than once, which occurrence of
// the key wins.
package resolver

import "github.com/segmentstream/upsertengine/model"

// Resolver decides whether old should be superseded by new when both
// contexts describe the same primary key. Implementations must be
// deterministic, antisymmetric, and stable under equality:
// ShouldDeleteFirst(a, a) must always return false.
type Resolver interface {
	ShouldDeleteFirst(old, new model.MessageContext) bool
}

// Default is the newer-wins resolver: compare timestamp first, then
// source offset to break ties deterministically.
type Default struct{}

// ShouldDeleteFirst reports whether new should supersede old.
func (Default) ShouldDeleteFirst(old, new model.MessageContext) bool {
	if old.Equal(new) {
		// Stable under equality.
		return false
	}
	if old.Timestamp != new.Timestamp {
		return new.Timestamp > old.Timestamp
	}
	return new.SourceOffset > old.SourceOffset
}
