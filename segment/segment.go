// Package segment implements the query-side receiver of the upsert
// engine: the immutable upsert segment and its two supporting pieces,
// the offset→docId index and the virtual column writers.
package segment

import (
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/segmentstream/upsertengine/model"
	"github.com/segmentstream/upsertengine/updatelog"
	"github.com/segmentstream/upsertengine/watermark"
)

// Metadata describes the sealed segment a Segment binds to: its row
// count, its offset-column reader, and the upsert-enabled flag required
// at construction time.
type Metadata struct {
	Table         string
	Name          string
	TotalDocs     int
	UpsertEnabled bool
	OffsetColumn  ColumnReader
}

// Segment is the immutable upsert segment: an already-sealed columnar
// segment plus the mutable virtual columns ("validFrom"/"validUntil")
// that record supersession decisions.
type Segment struct {
	table     string
	name      string
	totalDocs int

	index     *OffsetIndex
	columns   *ColumnSet
	updateLog *updatelog.Store
	wm        *watermark.Manager
	log       logrus.FieldLogger
}

// OpenOptions configures where a Segment's offset index is persisted.
type OpenOptions struct {
	IndexDir string
	Logger   logrus.FieldLogger
}

// Open validates meta and builds the offset index and column set. It
// does not apply historical updates — call InitVirtualColumn for that
// once Open succeeds.
func Open(meta Metadata, updateLog *updatelog.Store, wm *watermark.Manager, opts OpenOptions) (*Segment, error) {
	if !meta.UpsertEnabled {
		return nil, errors.Wrapf(ErrNotUpsertEnabled, "segment %s/%s", meta.Table, meta.Name)
	}
	if meta.TotalDocs < 0 {
		return nil, errors.Wrapf(ErrInvalidTotalDocs, "segment %s/%s", meta.Table, meta.Name)
	}
	reader, ok := meta.OffsetColumn.(LongColumnReader)
	if !ok {
		return nil, errors.Wrapf(ErrUnrecognizedReader, "segment %s/%s offset column %q", meta.Table, meta.Name, meta.OffsetColumn.Name())
	}

	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithFields(logrus.Fields{"table": meta.Table, "segment": meta.Name})

	indexPath := filepath.Join(opts.IndexDir, meta.Table, meta.Name+".offsetidx")
	idx, err := BuildOffsetIndex(indexPath, reader, meta.TotalDocs)
	if err != nil {
		return nil, errors.Wrap(err, "build offset index")
	}

	s := &Segment{
		table:     meta.Table,
		name:      meta.Name,
		totalDocs: meta.TotalDocs,
		index:     idx,
		columns:   NewColumnSet(meta.TotalDocs),
		updateLog: updateLog,
		wm:        wm,
		log:       log,
	}
	log.Debug("segment opened")
	return s, nil
}

// Table and Name identify the segment for callers that only hold a
// *Segment (e.g. the LRU registry).
func (s *Segment) Table() string { return s.table }
func (s *Segment) Name() string  { return s.name }

// InitVirtualColumn replays every durable update-log entry for this
// segment: entries are grouped by source offset, and each group is
// applied in arrival order to the column set. If any
// application in a group changed the column state, the watermark is
// advanced to that group's offset.
//
// Entries whose source offset is not present in this segment's index
// are dropped silently — the update log is shared ahead of segment
// retention/compaction and may reference offsets this segment never
// held.
func (s *Segment) InitVirtualColumn() error {
	entries, err := s.updateLog.GetAll(s.table, s.name)
	if err != nil {
		return errors.Wrap(err, "scan update log for replay")
	}

	groups := make(map[int64][]updatelog.Entry)
	var offsets []int64
	for _, e := range entries {
		if _, ok := groups[e.SourceOffset]; !ok {
			offsets = append(offsets, e.SourceOffset)
		}
		groups[e.SourceOffset] = append(groups[e.SourceOffset], e)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })

	for _, offset := range offsets {
		docID, err := s.index.DocIdOf(offset)
		if err != nil {
			s.log.WithField("offset", offset).Debug("replay: offset not present in segment, dropping")
			continue
		}
		group := groups[offset]
		changed := false
		for _, e := range group {
			if s.columns.Update(int(docID), e.Value, e.Kind) {
				changed = true
			}
		}
		if changed {
			last := group[len(group)-1]
			s.wm.ProcessMessage(s.table, s.name, last.SourceOffset)
		}
	}
	return nil
}

// UpdateEntry is one streaming update targeting this segment, addressed
// by the source offset that produced the row.
type UpdateEntry struct {
	TargetOffset int64
	Value        int64
	Kind         model.EventKind
}

// UpdateVirtualColumn applies a batch of streaming updates. Each entry
// is resolved to a docId via the offset index and
// applied to every writer; a changed writer advances the watermark.
//
// Entries are processed best-effort: a lookup failure for one entry does
// not stop the rest from being applied, but the first such error is
// returned once the whole batch has been processed, since the segment's
// contract is that any offset delivered to it must be a row it holds.
func (s *Segment) UpdateVirtualColumn(entries []UpdateEntry) error {
	var firstErr error
	for _, e := range entries {
		docID, err := s.index.DocIdOf(e.TargetOffset)
		if err != nil {
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "offset %d", e.TargetOffset)
			}
			continue
		}
		if s.columns.Update(int(docID), e.Value, e.Kind) {
			s.wm.ProcessMessage(s.table, s.name, e.TargetOffset)
		}
	}
	return firstErr
}

// Get returns the virtual column value recorded for a row, identified
// by its original source offset, under kind.
func (s *Segment) Get(offset int64, kind model.EventKind) (int64, bool, error) {
	docID, err := s.index.DocIdOf(offset)
	if err != nil {
		return 0, false, err
	}
	v, ok := s.columns.Get(int(docID), kind)
	return v, ok, nil
}

// Watermark returns the highest source offset applied to this segment.
func (s *Segment) Watermark() int64 {
	return s.wm.Get(s.table, s.name)
}

// Close releases the segment's offset index.
func (s *Segment) Close() error {
	return s.index.Close()
}
