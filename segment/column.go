package segment

import "github.com/segmentstream/upsertengine/model"

// ColumnSet holds the mutable virtual columns overlaid on a sealed
// segment: one int64 value per row per event kind, plus a presence
// bitmap per kind so Update can tell a first write from a repeat.
type ColumnSet struct {
	size    int
	values  [2][]int64
	present [2][]bool
}

// NewColumnSet allocates a ColumnSet sized for size rows.
func NewColumnSet(size int) *ColumnSet {
	cs := &ColumnSet{size: size}
	for k := range cs.values {
		cs.values[k] = make([]int64, size)
		cs.present[k] = make([]bool, size)
	}
	return cs
}

// Update applies value to docID under kind, per the monotonicity
// policy: the first write for (docID, kind) always takes; later
// writes take the min-so-far for INSERT and the max-so-far for DELETE.
// It returns whether the column's state changed, making replay of the
// same log idempotent.
func (c *ColumnSet) Update(docID int, value int64, kind model.EventKind) bool {
	if !c.present[kind][docID] {
		c.values[kind][docID] = value
		c.present[kind][docID] = true
		return true
	}
	cur := c.values[kind][docID]
	var changed bool
	switch kind {
	case model.Insert:
		changed = value < cur
	case model.Delete:
		changed = value > cur
	}
	if changed {
		c.values[kind][docID] = value
	}
	return changed
}

// Get returns the value recorded for (docID, kind) and whether any value
// has been recorded at all.
func (c *ColumnSet) Get(docID int, kind model.EventKind) (int64, bool) {
	return c.values[kind][docID], c.present[kind][docID]
}
